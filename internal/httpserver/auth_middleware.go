package httpserver

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// BridgeAuth requires the shared secret as a bearer token. An empty
// secret disables the check.
func BridgeAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing or invalid Authorization header"})
				return
			}
			tokenStr := strings.TrimSpace(authHeader[len("Bearer "):])
			if subtle.ConstantTimeCompare([]byte(tokenStr), []byte(secret)) != 1 {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
