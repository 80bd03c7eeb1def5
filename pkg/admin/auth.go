package admin

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// TokenEnvVar names the environment variable carrying the admin bearer
// token. When unset the management API is open; health and metrics are
// always open.
const TokenEnvVar = "LUMEN_ADMIN_TOKEN"

// bearerAuth guards the management API with a constant-time bearer token
// comparison. An empty configured token disables the check.
func bearerAuth(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		presented, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="lumen-admin"`)
			writeJSONError(w, http.StatusUnauthorized, "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
