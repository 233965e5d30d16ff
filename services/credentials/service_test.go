package credentials

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/sentientflow/flowengine/pkg/auth"
	"github.com/sentientflow/flowengine/pkg/cipher"
	"github.com/sentientflow/flowengine/services/storage"
	"github.com/sentientflow/flowengine/services/storage/storagemock"
)

func newTestRouter(t *testing.T, mock *storagemock.StorageMock) (*mux.Router, *auth.Issuer) {
	t.Helper()
	cipherSvc, err := cipher.New("test-master-key")
	if err != nil {
		t.Fatalf("cipher.New: %v", err)
	}
	svc, err := NewService(mock, cipherSvc)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	issuer, err := auth.NewIssuer([]byte("test-secret"), 0)
	if err != nil {
		t.Fatalf("auth.NewIssuer: %v", err)
	}
	router := mux.NewRouter()
	svc.LoadRoutes(router.PathPrefix("/api/v1").Subrouter(), issuer.Middleware)
	return router, issuer
}

func TestHandleCreateCredential(t *testing.T) {
	ownerID := uuid.New()
	var storedCiphertext string

	mock := &storagemock.StorageMock{
		CreateCredentialMock: func(_ context.Context, owner uuid.UUID, name, ciphertext string) (*storage.CredentialRecord, error) {
			storedCiphertext = ciphertext
			return &storage.CredentialRecord{ID: uuid.New(), OwnerID: owner, Name: name, Ciphertext: ciphertext}, nil
		},
	}
	router, issuer := newTestRouter(t, mock)
	token, _ := issuer.IssueToken(ownerID)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/credentials", bytes.NewBufferString(`{"name":"weather-api","value":"supersecret"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if storedCiphertext == "" || storedCiphertext == "supersecret" {
		t.Errorf("expected the stored value to be encrypted, got %q", storedCiphertext)
	}
	if bytes.Contains(rec.Body.Bytes(), []byte("supersecret")) {
		t.Error("response body must never contain the plaintext secret")
	}
}

func TestHandleCreateCredentialRequiresAuth(t *testing.T) {
	router, _ := newTestRouter(t, &storagemock.StorageMock{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/credentials", bytes.NewBufferString(`{"name":"x","value":"y"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleDeleteCredentialNotFound(t *testing.T) {
	ownerID := uuid.New()
	mock := &storagemock.StorageMock{
		DeleteCredentialMock: func(context.Context, uuid.UUID, uuid.UUID) error {
			return storage.ErrNotFound
		},
	}
	router, issuer := newTestRouter(t, mock)
	token, _ := issuer.IssueToken(ownerID)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/credentials/"+uuid.New().String(), nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}
