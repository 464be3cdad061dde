package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/opwisdom/wisdomd/internal/domain"
)

// TokenVerifier validates a bearer token and returns the user id it carries.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Identifier resolves a user id into a full identity with its role.
type Identifier interface {
	Identify(ctx context.Context, userID string) (domain.Identity, error)
}

type contextKey struct{}

// identityKey stores the authenticated domain.Identity on the request
// context.
var identityKey = contextKey{}

// IdentityFrom returns the authenticated identity attached to ctx, if any.
func IdentityFrom(ctx context.Context) (domain.Identity, bool) {
	id, ok := ctx.Value(identityKey).(domain.Identity)
	return id, ok
}

// Auth returns middleware that authenticates requests carrying a bearer
// token. A valid token attaches the resolved identity to the context; a
// malformed or expired token is rejected; a missing token passes through
// unauthenticated so public endpoints keep working. Use RequireAuth or
// RequireAdmin on routes that need an identity.
func Auth(tokens TokenVerifier, ident Identifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			userID, err := tokens.Verify(token)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "invalid authentication token")
				return
			}

			id, err := ident.Identify(r.Context(), userID)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "identity resolution failed")
				return
			}

			next.ServeHTTP(w, r.WithContext(
				context.WithValue(r.Context(), identityKey, id)))
		})
	}
}

// RequireAuth rejects requests that carry no authenticated identity.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := IdentityFrom(r.Context()); !ok {
			writeAuthError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin rejects requests whose identity is missing or not an admin.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFrom(r.Context())
		if !ok {
			writeAuthError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if !id.IsAdmin() {
			writeAuthError(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// extractToken looks for a token in the Authorization header (Bearer
// scheme).
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return ""
}

// writeAuthError sends an auth failure with a JSON error body.
func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
