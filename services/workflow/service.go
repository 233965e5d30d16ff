// Package workflow is the HTTP surface over internal/engine: it loads
// workflow payloads and credentials from storage, decrypts credentials
// into node parameters, runs the engine, and shapes the result as JSON.
package workflow

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/sentientflow/flowengine/pkg/cipher"
	"github.com/sentientflow/flowengine/pkg/telemetry"
	"github.com/sentientflow/flowengine/services/storage"
)

type contextKey string

const requestIDKey contextKey = "requestID"

// Service handles HTTP requests for workflow CRUD, publish, and
// execution operations. It depends only on interfaces (Storage) and
// small owned helpers (cipher.Service, telemetry.Provider), keeping the
// HTTP layer decoupled from persistence and instrumentation detail.
type Service struct {
	storage   storage.Storage
	cipher    *cipher.Service
	telemetry *telemetry.Provider
}

// NewService creates a workflow Service. telemetryProvider may be nil,
// in which case the engine runs uninstrumented.
func NewService(store storage.Storage, cipherSvc *cipher.Service, telemetryProvider *telemetry.Provider) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("service: store cannot be nil")
	}
	if cipherSvc == nil {
		return nil, fmt.Errorf("service: cipher cannot be nil")
	}
	return &Service{storage: store, cipher: cipherSvc, telemetry: telemetryProvider}, nil
}

// requestIDMiddleware assigns a unique ID to each request for log
// correlation. If the client sends X-Request-ID, it's reused;
// otherwise a new UUID is generated.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// jsonMiddleware sets the Content-Type header to application/json.
func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// LoadRoutes mounts the workflow surface under parentRouter. authMiddleware
// is applied ahead of requestID/json so every route below it is owner-scoped.
func (s *Service) LoadRoutes(parentRouter *mux.Router, authMiddleware mux.MiddlewareFunc) {
	router := parentRouter.PathPrefix("/workflows").Subrouter()
	router.StrictSlash(false)
	router.Use(authMiddleware)
	router.Use(requestIDMiddleware)
	router.Use(jsonMiddleware)

	router.HandleFunc("", s.HandleListWorkflows).Methods(http.MethodGet)
	router.HandleFunc("", s.HandleCreateWorkflow).Methods(http.MethodPost)
	router.HandleFunc("/{id}", s.HandleGetWorkflow).Methods(http.MethodGet)
	router.HandleFunc("/{id}", s.HandleUpsertWorkflow).Methods(http.MethodPut)
	router.HandleFunc("/{id}", s.HandleDeleteWorkflow).Methods(http.MethodDelete)
	router.HandleFunc("/{id}/execute", s.HandleExecuteWorkflow).Methods(http.MethodPost)
	router.HandleFunc("/{id}/publish", s.HandlePublishWorkflow).Methods(http.MethodPost)
}
