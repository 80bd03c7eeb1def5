package middleware

import (
	"context"
	"net/http"
)

// Forward tags the request context with the owning forward's name so the
// logging layer can attribute requests on shared log streams.
func Forward(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), ForwardKey, name)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetForward extracts the forward name from the context. Returns an empty
// string if not found.
func GetForward(ctx context.Context) string {
	if name, ok := ctx.Value(ForwardKey).(string); ok {
		return name
	}
	return ""
}
