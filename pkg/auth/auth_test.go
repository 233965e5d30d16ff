package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestIssueAndVerify(t *testing.T) {
	issuer, err := NewIssuer([]byte("test-secret"), time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}

	want := uuid.New()
	token, err := issuer.IssueToken(want)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	got, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got != want {
		t.Errorf("expected user %s, got %s", want, got)
	}
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	issuer, _ := NewIssuer([]byte("test-secret"), time.Hour)
	token, _ := issuer.IssueToken(uuid.New())

	otherIssuer, _ := NewIssuer([]byte("different-secret"), time.Hour)
	if _, err := otherIssuer.Verify(token); err == nil {
		t.Error("expected verification to fail against a different secret")
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	issuer, _ := NewIssuer([]byte("test-secret"), -time.Minute)
	token, _ := issuer.IssueToken(uuid.New())

	if _, err := issuer.Verify(token); err == nil {
		t.Error("expected verification to fail for an expired token")
	}
}

func TestMiddlewareRejectsMissingHeader(t *testing.T) {
	issuer, _ := NewIssuer([]byte("test-secret"), time.Hour)

	called := false
	handler := issuer.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if called {
		t.Error("handler should not run without a bearer token")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestMiddlewarePassesAuthenticatedRequest(t *testing.T) {
	issuer, _ := NewIssuer([]byte("test-secret"), time.Hour)
	userID := uuid.New()
	token, _ := issuer.IssueToken(userID)

	var gotID uuid.UUID
	handler := issuer.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID, _ = UserID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotID != userID {
		t.Errorf("expected context user %s, got %s", userID, gotID)
	}
}
