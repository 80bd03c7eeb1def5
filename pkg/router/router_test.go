package router

import (
	"testing"
)

func mustRouter(t *testing.T, defaultGroup string, rules []Rule) *Router {
	t.Helper()
	r, err := New(defaultGroup, rules)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func TestRouteStaticAndDefault(t *testing.T) {
	r := mustRouter(t, "default", []Rule{
		{Path: "/v1/chat/completions", TargetGroup: "chat"},
		{Path: "/v1/embeddings", TargetGroup: "embed"},
	})

	tests := []struct {
		path string
		want string
	}{
		{"/v1/chat/completions", "chat"},
		{"/v1/embeddings", "embed"},
		{"/v1/chat", "default"},
		{"/v1/chat/completions/extra", "default"},
		{"/", "default"},
		{"/unknown", "default"},
	}
	for _, tt := range tests {
		if got := r.Route(tt.path); got != tt.want {
			t.Errorf("Route(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestRouteParamAndRegex(t *testing.T) {
	r := mustRouter(t, "default", []Rule{
		{Path: "/models/:name", TargetGroup: "by-name"},
		{Path: "/models/{id:[0-9]+}", TargetGroup: "by-id"},
		{Path: "/models/featured", TargetGroup: "featured"},
	})

	tests := []struct {
		path string
		want string
	}{
		// Static beats regex beats plain param.
		{"/models/featured", "featured"},
		{"/models/42", "by-id"},
		{"/models/llama", "by-name"},
		{"/models", "default"},
		{"/models/42/detail", "default"},
	}
	for _, tt := range tests {
		if got := r.Route(tt.path); got != tt.want {
			t.Errorf("Route(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestRouteWildcards(t *testing.T) {
	r := mustRouter(t, "default", []Rule{
		{Path: "/api/*", TargetGroup: "api-all"},
		{Path: "/api/*/status", TargetGroup: "status"},
		{Path: "/api/v1/users", TargetGroup: "users"},
	})

	tests := []struct {
		path string
		want string
	}{
		{"/api/v1/users", "users"},
		// A mid-pattern wildcard consumes exactly one segment.
		{"/api/v2/status", "status"},
		// The trailing catch-all swallows any remainder.
		{"/api/anything", "api-all"},
		{"/api/a/b/c", "api-all"},
		{"/other", "default"},
	}
	for _, tt := range tests {
		if got := r.Route(tt.path); got != tt.want {
			t.Errorf("Route(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestRouteLongerStaticPrefixWins(t *testing.T) {
	r := mustRouter(t, "default", []Rule{
		{Path: "/v1/*", TargetGroup: "v1-all"},
		{Path: "/v1/chat/*", TargetGroup: "chat-all"},
	})

	if got := r.Route("/v1/chat/completions"); got != "chat-all" {
		t.Fatalf("Route = %q, want chat-all (longer static prefix)", got)
	}
	if got := r.Route("/v1/embeddings"); got != "v1-all" {
		t.Fatalf("Route = %q, want v1-all", got)
	}
}

func TestNewRejectsBadRules(t *testing.T) {
	tests := []struct {
		name  string
		rules []Rule
	}{
		{"duplicate path", []Rule{
			{Path: "/a/b", TargetGroup: "g1"},
			{Path: "/a/b", TargetGroup: "g2"},
		}},
		{"empty path", []Rule{{Path: "/", TargetGroup: "g"}}},
		{"unnamed param", []Rule{{Path: "/a/:", TargetGroup: "g"}}},
		{"invalid regex", []Rule{{Path: "/a/{id:[}", TargetGroup: "g"}}},
		{"regex without name", []Rule{{Path: "/a/{:foo}", TargetGroup: "g"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New("default", tt.rules); err == nil {
				t.Fatal("New accepted invalid rules")
			}
		})
	}
}

func TestRouteTrailingSlashInsensitive(t *testing.T) {
	r := mustRouter(t, "default", []Rule{
		{Path: "/v1/chat", TargetGroup: "chat"},
	})
	if got := r.Route("/v1/chat/"); got != "chat" {
		t.Fatalf("Route with trailing slash = %q, want chat", got)
	}
}
