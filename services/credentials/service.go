// Package credentials exposes owner-scoped CRUD over encrypted
// secrets (API keys, tokens) that workflow nodes reference by name.
// Plaintext only ever exists in a request body and inside
// services/workflow's decryption step; storage always holds the
// pkg/cipher envelope.
package credentials

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/sentientflow/flowengine/pkg/auth"
	"github.com/sentientflow/flowengine/pkg/cipher"
	"github.com/sentientflow/flowengine/services/storage"
)

const maxRequestBody = 1 << 16

// Service handles credential CRUD requests.
type Service struct {
	storage storage.Storage
	cipher  *cipher.Service
}

// NewService builds a credentials Service.
func NewService(store storage.Storage, cipherSvc *cipher.Service) (*Service, error) {
	if store == nil {
		return nil, errors.New("credentials: store cannot be nil")
	}
	if cipherSvc == nil {
		return nil, errors.New("credentials: cipher cannot be nil")
	}
	return &Service{storage: store, cipher: cipherSvc}, nil
}

// LoadRoutes mounts the credential surface under parentRouter.
// authMiddleware scopes every route to the caller's account.
func (s *Service) LoadRoutes(parentRouter *mux.Router, authMiddleware mux.MiddlewareFunc) {
	router := parentRouter.PathPrefix("/credentials").Subrouter()
	router.Use(authMiddleware)
	router.HandleFunc("", s.HandleListCredentials).Methods(http.MethodGet)
	router.HandleFunc("", s.HandleCreateCredential).Methods(http.MethodPost)
	router.HandleFunc("/{id}", s.HandleDeleteCredential).Methods(http.MethodDelete)
}

// credentialView is what a credential looks like over the wire —
// never includes the ciphertext or decrypted secret.
type credentialView struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// HandleListCredentials returns the names of every credential the
// caller owns, never their values.
func (s *Service) HandleListCredentials(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := auth.UserID(r.Context())
	if !ok {
		writeError(w, "UNAUTHORIZED", "missing authentication", http.StatusUnauthorized)
		return
	}

	recs, err := s.storage.ListCredentials(r.Context(), ownerID)
	if err != nil {
		slog.Error("failed to list credentials", "error", err)
		writeError(w, "INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
		return
	}

	views := make([]credentialView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, credentialView{ID: rec.ID.String(), Name: rec.Name})
	}
	writeJSON(w, http.StatusOK, views)
}

type createCredentialRequest struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// HandleCreateCredential encrypts the submitted secret and stores it
// under the caller's account.
func (s *Service) HandleCreateCredential(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := auth.UserID(r.Context())
	if !ok {
		writeError(w, "UNAUTHORIZED", "missing authentication", http.StatusUnauthorized)
		return
	}

	var req createCredentialRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, "INVALID_BODY", "malformed request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.Value == "" {
		writeError(w, "INVALID_BODY", "name and value are required", http.StatusBadRequest)
		return
	}

	ciphertext, err := s.cipher.Encrypt(req.Value)
	if err != nil {
		slog.Error("failed to encrypt credential", "error", err)
		writeError(w, "INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
		return
	}

	rec, err := s.storage.CreateCredential(r.Context(), ownerID, req.Name, ciphertext)
	if err != nil {
		slog.Error("failed to store credential", "error", err)
		writeError(w, "INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, credentialView{ID: rec.ID.String(), Name: rec.Name})
}

// HandleDeleteCredential removes a credential owned by the caller.
func (s *Service) HandleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := auth.UserID(r.Context())
	if !ok {
		writeError(w, "UNAUTHORIZED", "missing authentication", http.StatusUnauthorized)
		return
	}

	id, err := parseID(r)
	if err != nil {
		writeError(w, "INVALID_ID", "malformed credential id", http.StatusBadRequest)
		return
	}

	if err := s.storage.DeleteCredential(r.Context(), ownerID, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, "NOT_FOUND", "credential not found", http.StatusNotFound)
			return
		}
		slog.Error("failed to delete credential", "error", err)
		writeError(w, "INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(mux.Vars(r)["id"])
}

func writeError(w http.ResponseWriter, code, message string, status int) {
	writeJSON(w, status, map[string]string{"code": code, "message": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
