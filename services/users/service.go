// Package users handles account signup and login, issuing the bearer
// tokens every other service checks via pkg/auth.
package users

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"

	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"

	"github.com/sentientflow/flowengine/pkg/auth"
	"github.com/sentientflow/flowengine/services/storage"
)

const maxRequestBody = 1 << 16

// Service handles account creation and authentication.
type Service struct {
	storage storage.Storage
	issuer  *auth.Issuer
}

// NewService builds a users Service.
func NewService(store storage.Storage, issuer *auth.Issuer) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("users: store cannot be nil")
	}
	if issuer == nil {
		return nil, fmt.Errorf("users: issuer cannot be nil")
	}
	return &Service{storage: store, issuer: issuer}, nil
}

// LoadRoutes mounts the signup/login surface under parentRouter. These
// routes are unauthenticated by nature — they're how a caller obtains
// the bearer token every other route requires.
func (s *Service) LoadRoutes(parentRouter *mux.Router) {
	router := parentRouter.PathPrefix("/auth").Subrouter()
	router.HandleFunc("/signup", s.HandleSignup).Methods(http.MethodPost)
	router.HandleFunc("/login", s.HandleLogin).Methods(http.MethodPost)
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// HandleSignup creates a new account and returns a bearer token for it.
func (s *Service) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, "INVALID_BODY", "malformed request body", http.StatusBadRequest)
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		writeError(w, "INVALID_EMAIL", "a valid email address is required", http.StatusBadRequest)
		return
	}
	if len(req.Password) < 8 {
		writeError(w, "WEAK_PASSWORD", "password must be at least 8 characters", http.StatusBadRequest)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("failed to hash password", "error", err)
		writeError(w, "INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
		return
	}

	rec, err := s.storage.CreateUser(r.Context(), req.Email, string(hash))
	if err != nil {
		slog.Error("failed to create user", "error", err)
		writeError(w, "SIGNUP_FAILED", "could not create account", http.StatusConflict)
		return
	}

	token, err := s.issuer.IssueToken(rec.ID)
	if err != nil {
		slog.Error("failed to issue token", "error", err)
		writeError(w, "INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, tokenResponse{Token: token})
}

// HandleLogin verifies credentials and returns a bearer token.
func (s *Service) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, "INVALID_BODY", "malformed request body", http.StatusBadRequest)
		return
	}

	rec, err := s.storage.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		writeError(w, "INVALID_CREDENTIALS", "email or password is incorrect", http.StatusUnauthorized)
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(req.Password)) != nil {
		writeError(w, "INVALID_CREDENTIALS", "email or password is incorrect", http.StatusUnauthorized)
		return
	}

	token, err := s.issuer.IssueToken(rec.ID)
	if err != nil {
		slog.Error("failed to issue token", "error", err)
		writeError(w, "INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}

func writeError(w http.ResponseWriter, code, message string, status int) {
	writeJSON(w, status, map[string]string{"code": code, "message": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
