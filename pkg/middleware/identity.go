package middleware

import (
	"context"
	"net/http"
	"strings"
)

// UserIDHeader carries the caller identity, set by the authenticating proxy in front of
// the service.
const UserIDHeader = "X-User-ID"

// Identity copies the caller identity header into the request context. It does not
// reject anonymous requests; handlers that need an owner check GetUserID.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(UserIDHeader))
		if userID == "" {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

// WithUserID stores the caller identity in ctx
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserID returns the caller identity, empty for anonymous requests
func GetUserID(ctx context.Context) string {
	if id, ok := ctx.Value(UserIDKey).(string); ok {
		return id
	}
	return ""
}
