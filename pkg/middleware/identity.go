package middleware

import (
	"context"
	"net/http"
)

type contextKeyType string

const userIDKey contextKeyType = "user_id"

// Identity stores the caller identity forwarded by the platform gateway in
// the request context. Token validation happens at the gateway; services
// behind it trust the X-User-ID header on the private network.
func Identity() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if userID := r.Header.Get("X-User-ID"); userID != "" {
				ctx := context.WithValue(r.Context(), userIDKey, userID)
				r = r.WithContext(ctx)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserIDFromContext extracts the caller identity set by Identity, or "".
func UserIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey).(string); ok {
		return id
	}
	return ""
}
