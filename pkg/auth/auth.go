// Package auth issues and validates the bearer tokens that scope every
// workflow and credential to its owning account.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type contextKey string

const userIDKey contextKey = "userID"

// claims is the JWT payload: the subject is the owning account's ID.
type claims struct {
	jwt.RegisteredClaims
}

// Issuer signs and verifies bearer tokens with a single HMAC secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

// NewIssuer builds an Issuer. ttl is how long an issued token remains
// valid; callers typically re-issue well before expiry. A zero ttl
// selects a 24-hour default.
func NewIssuer(secret []byte, ttl time.Duration) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("auth: secret must not be empty")
	}
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{secret: secret, ttl: ttl}, nil
}

// IssueToken mints a signed bearer token scoped to userID.
func (i *Issuer) IssueToken(userID uuid.UUID) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	})
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// errInvalidToken is returned for any token that fails parsing,
// signature verification, or expiry — never distinguished further, so
// a caller can't probe for which check failed.
var errInvalidToken = errors.New("auth: invalid or expired token")

// Verify validates a bearer token string and returns the owning
// account's ID.
func (i *Issuer) Verify(tokenString string) (uuid.UUID, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errInvalidToken
		}
		return i.secret, nil
	})
	if err != nil || !parsed.Valid {
		return uuid.UUID{}, errInvalidToken
	}

	c, ok := parsed.Claims.(*claims)
	if !ok {
		return uuid.UUID{}, errInvalidToken
	}
	userID, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.UUID{}, errInvalidToken
	}
	return userID, nil
}

// Middleware rejects any request without a valid "Authorization:
// Bearer <token>" header and stashes the authenticated user ID in the
// request context for downstream handlers.
func (i *Issuer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenString == "" {
			writeUnauthorized(w)
			return
		}

		userID, err := i.Verify(tokenString)
		if err != nil {
			writeUnauthorized(w)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"code":"UNAUTHORIZED","message":"missing or invalid bearer token"}`))
}

// UserID extracts the authenticated account ID stashed by Middleware.
// Only call this from a handler mounted behind Middleware.
func UserID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userIDKey).(uuid.UUID)
	return id, ok
}
