package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestForwardTagsContext(t *testing.T) {
	var got string
	h := Forward("llm", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetForward(r.Context())
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/models", nil))
	if got != "llm" {
		t.Errorf("GetForward = %q, want llm", got)
	}
}

func TestGetForwardMissing(t *testing.T) {
	if got := GetForward(context.Background()); got != "" {
		t.Errorf("GetForward on empty context = %q, want empty", got)
	}
}
