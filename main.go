package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/sentientflow/flowengine/pkg/auth"
	"github.com/sentientflow/flowengine/pkg/cipher"
	"github.com/sentientflow/flowengine/pkg/db"
	"github.com/sentientflow/flowengine/pkg/telemetry"
	"github.com/sentientflow/flowengine/services/credentials"
	"github.com/sentientflow/flowengine/services/storage"
	"github.com/sentientflow/flowengine/services/users"
	"github.com/sentientflow/flowengine/services/workflow"
)

func main() {
	ctx := context.Background()
	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	slog.SetDefault(slog.New(logHandler))

	dbURL, ok := os.LookupEnv("DATABASE_URL")
	if !ok {
		slog.Error("DATABASE_URL is not set")
		return
	}
	encryptionKey, ok := os.LookupEnv("FLOWENGINE_ENCRYPTION_KEY")
	if !ok {
		slog.Error("FLOWENGINE_ENCRYPTION_KEY is not set")
		return
	}
	jwtSecret, ok := os.LookupEnv("FLOWENGINE_JWT_SECRET")
	if !ok {
		slog.Error("FLOWENGINE_JWT_SECRET is not set")
		return
	}

	dbCfg := db.DefaultConfig(dbURL)
	pool, err := db.Connect(ctx, dbCfg)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		return
	}
	defer pool.Close()

	pgStore, err := storage.NewInstance(pool)
	if err != nil {
		slog.Error("Failed to create store instance", "error", err)
		return
	}

	cipherSvc, err := cipher.New(encryptionKey)
	if err != nil {
		slog.Error("Failed to create cipher service", "error", err)
		return
	}

	issuer, err := auth.NewIssuer([]byte(jwtSecret), 24*time.Hour)
	if err != nil {
		slog.Error("Failed to create auth issuer", "error", err)
		return
	}

	// Telemetry is best-effort: a scrape endpoint going dark shouldn't
	// take the API down with it.
	telemetryProvider, err := telemetry.NewProvider(ctx, telemetry.DefaultConfig())
	if err != nil {
		slog.Error("Failed to initialize telemetry, continuing uninstrumented", "error", err)
		telemetryProvider = nil
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := telemetryProvider.Shutdown(shutdownCtx); err != nil {
				slog.Error("Failed to shut down telemetry provider", "error", err)
			}
		}()
	}

	workflowService, err := workflow.NewService(pgStore, cipherSvc, telemetryProvider)
	if err != nil {
		slog.Error("Failed to create workflow service", "error", err)
		return
	}
	credentialsService, err := credentials.NewService(pgStore, cipherSvc)
	if err != nil {
		slog.Error("Failed to create credentials service", "error", err)
		return
	}
	usersService, err := users.NewService(pgStore, issuer)
	if err != nil {
		slog.Error("Failed to create users service", "error", err)
		return
	}

	mainRouter := mux.NewRouter()
	apiRouter := mainRouter.PathPrefix("/api/v1").Subrouter()

	usersService.LoadRoutes(apiRouter)
	workflowService.LoadRoutes(apiRouter, issuer.Middleware)
	credentialsService.LoadRoutes(apiRouter, issuer.Middleware)

	corsHandler := handlers.CORS(
		// Frontend URL
		handlers.AllowedOrigins([]string{"http://localhost:3003"}),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		handlers.AllowCredentials(),
	)(mainRouter)

	srv := &http.Server{
		Addr:    ":8080",
		Handler: corsHandler,
	}

	serverErrors := make(chan error, 1)

	go func() {
		slog.Info("Starting server on :8080")
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		slog.Error("Server error", "error", err)

	case sig := <-shutdown:
		slog.Info("Shutdown signal received", "signal", sig)

		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Could not stop server gracefully", "error", err)
			srv.Close()
		}
	}
}
