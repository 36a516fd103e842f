package admin

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AuthMiddleware validates the pre-shared key on admin endpoints.
// An empty secret disables authentication.
func AuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				next.ServeHTTP(w, r)
				return
			}

			provided := r.Header.Get("X-Txfeed-Secret")
			if provided == "" {
				authHeader := r.Header.Get("Authorization")
				if authHeader == "" {
					writeErrorResponse(w, http.StatusUnauthorized, "missing authentication header")
					return
				}
				token, ok := strings.CutPrefix(authHeader, "Bearer ")
				if !ok {
					writeErrorResponse(w, http.StatusUnauthorized, "invalid authorization header format")
					return
				}
				provided = token
			}

			if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
				writeErrorResponse(w, http.StatusUnauthorized, "invalid secret")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
