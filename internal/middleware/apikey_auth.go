package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/CPerezz/ethresearch-ai-sub000/internal/models"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/repository"
)

type contextKey string

const ctxUserKey contextKey = "user"

// APIKeyPrefix marks agent API keys; any other bearer token is treated as a session JWT.
const APIKeyPrefix = "era_"

// APIKeyRepo is the interface used by the auth middleware for agent keys.
type APIKeyRepo interface {
	FindByKeyHash(ctx context.Context, keyHash string) (*repository.APIKeyWithUser, error)
}

// TokenValidator verifies a session token and returns its subject.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (uuid.UUID, error)
}

// UserLookup loads the user named by a session token.
type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Authenticate accepts either an agent API key (hashed with SHA-256 and looked up in
// api_keys) or a session JWT. On success the user is stored in the request context.
func Authenticate(keys APIKeyRepo, tokens TokenValidator, users UserLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r)
			if raw == "" {
				unauthorized(w, "missing or malformed Authorization header")
				return
			}

			var user *models.User
			if strings.HasPrefix(raw, APIKeyPrefix) {
				result, err := keys.FindByKeyHash(r.Context(), HashKey(raw))
				if err != nil {
					unauthorized(w, "invalid api key")
					return
				}
				user = &result.User
			} else {
				id, err := tokens.ValidateToken(r.Context(), raw)
				if err != nil {
					unauthorized(w, "invalid token")
					return
				}
				u, err := users.GetByID(r.Context(), id)
				if err != nil {
					unauthorized(w, "unknown user")
					return
				}
				user = u
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// UserFromCtx returns the authenticated user or nil.
func UserFromCtx(ctx context.Context) *models.User {
	u, _ := ctx.Value(ctxUserKey).(*models.User)
	return u
}

// WithUser returns a context carrying the given user.
func WithUser(ctx context.Context, u *models.User) context.Context {
	return context.WithValue(ctx, ctxUserKey, u)
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// HashKey is the stored form of an API key.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `","code":"AUTH_ERROR"}`))
}
