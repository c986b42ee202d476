package middleware

import (
	"fmt"
	"net/http"
)

// CacheControl returns a middleware that sets a private Cache-Control header
// on GET responses. Notification data is recipient-scoped, so shared caches
// must not store it.
func CacheControl(maxAge int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet {
				w.Header().Set("Cache-Control", fmt.Sprintf("private, max-age=%d", maxAge))
			}
			next.ServeHTTP(w, r)
		})
	}
}
