package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// AdminKey guards a router with a bearer key checked against a bcrypt
// hash. An empty hash leaves the routes open.
func AdminKey(hash string) func(http.Handler) http.Handler {
	if hash == "" {
		slog.Warn("ADMIN_KEY_HASH not set, admin API is unauthenticated")
	}
	return func(next http.Handler) http.Handler {
		if hash == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing authorization header"})
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid authorization format"})
				return
			}

			if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(parts[1])); err != nil {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid admin key"})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// HashAdminKey produces a value suitable for ADMIN_KEY_HASH.
func HashAdminKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
