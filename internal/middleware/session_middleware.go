package middleware

import (
	"context"
	"net/http"
	"strings"

	"llm_fanout/internal/utils"
)

// ContextKey is the type for values stored in the request context
type ContextKey string

// UserIDKey holds the authenticated user id
const UserIDKey ContextKey = "userID"

// TokenValidator verifies a session token and returns its user id
type TokenValidator interface {
	ValidateToken(tokenString string) (string, error)
}

// SessionMiddleware requires a valid "Authorization: Bearer <token>" header
// and stores the token's user id in the request context.
func SessionMiddleware(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			tokenString, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(tokenString) == "" {
				utils.RespondWithError(w, http.StatusUnauthorized, "Missing authentication token")
				return
			}

			userID, err := validator.ValidateToken(strings.TrimSpace(tokenString))
			if err != nil {
				utils.RespondWithError(w, http.StatusUnauthorized, "Invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// WithUserID returns a context carrying the user id
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// UserIDFromContext retrieves the authenticated user id
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(UserIDKey).(string)
	return id, ok && id != ""
}
