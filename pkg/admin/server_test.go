package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"lumen-hq/lumen/pkg/config"
	"lumen-hq/lumen/pkg/manager"
	"lumen-hq/lumen/pkg/telemetry/metrics"
)

func testAdmin(t *testing.T, debug bool) (http.Handler, *manager.Manager) {
	t.Helper()

	cfg := &config.Config{
		HTTPServer: config.HTTPServerConfig{
			Forwards: []config.ForwardConfig{{
				Name:         "f1",
				Port:         3000,
				DefaultGroup: "g1",
				Routing: []config.RoutingRule{
					{Path: "/v1/embeddings", TargetGroup: "g1"},
				},
			}},
			Admin: config.AdminConfig{Port: 9000},
		},
		Upstreams: []config.UpstreamConfig{
			{Name: "a", URL: "http://a.local", Auth: &config.AuthConfig{Type: "bearer", Token: "sk-secret"}},
			{Name: "b", URL: "http://b.local"},
		},
		UpstreamGroups: []config.UpstreamGroupConfig{
			{
				Name:      "g1",
				Upstreams: []config.UpstreamRef{{Name: "a", Weight: 2}, {Name: "b", Weight: 1}},
				Balance:   config.BalanceConfig{Strategy: "weighted_roundrobin"},
			},
		},
	}
	config.ApplyDefaults(cfg)
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("config: %v", err)
	}

	collector := metrics.NewCollector(nil)
	mgr, err := manager.NewFromConfig(cfg, collector)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}

	forwards := func() []config.ForwardConfig { return cfg.HTTPServer.Forwards }
	srv := NewServer(cfg.HTTPServer.Admin, mgr, collector.Handler(), forwards, debug)
	return srv.routes(), mgr
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		raw := rec.Body.Bytes()
		if len(raw) > 0 && raw[0] == '{' {
			_ = json.Unmarshal(raw, &decoded)
		}
	}
	return rec, decoded
}

func TestHealthEndpoint(t *testing.T) {
	h, _ := testAdmin(t, false)

	rec, body := doJSON(t, h, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h, _ := testAdmin(t, false)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestListUpstreams(t *testing.T) {
	h, _ := testAdmin(t, false)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/upstreams", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var views []UpstreamView
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("upstreams = %d, want 2", len(views))
	}
	if views[0].Name != "a" || views[0].AuthType != "bearer" {
		t.Fatalf("first view = %+v", views[0])
	}
	// Credentials must never appear in responses.
	if strings.Contains(rec.Body.String(), "sk-secret") {
		t.Fatal("response leaked an upstream credential")
	}
	if views[0].Breaker.State != "closed" {
		t.Fatalf("breaker state = %q, want closed", views[0].Breaker.State)
	}
}

func TestUpstreamCRUD(t *testing.T) {
	h, mgr := testAdmin(t, false)

	rec, _ := doJSON(t, h, http.MethodPost, "/api/v1/upstreams",
		`{"name":"c","url":"http://c.local","auth":{"type":"bearer","token":"sk-c"}}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if _, ok := mgr.GetUpstream("c"); !ok {
		t.Fatal("created upstream missing from manager")
	}

	rec, _ = doJSON(t, h, http.MethodPost, "/api/v1/upstreams", `{"name":"c","url":"http://c.local"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate create status = %d, want 409", rec.Code)
	}

	rec, _ = doJSON(t, h, http.MethodPut, "/api/v1/upstreams/c", `{"url":"http://c2.local"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, body = %s", rec.Code, rec.Body.String())
	}
	u, _ := mgr.GetUpstream("c")
	if u.Record().URL.Host != "c2.local" {
		t.Fatalf("URL host = %q after update", u.Record().URL.Host)
	}

	rec, _ = doJSON(t, h, http.MethodDelete, "/api/v1/upstreams/c", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}

	rec, _ = doJSON(t, h, http.MethodDelete, "/api/v1/upstreams/c", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", rec.Code)
	}

	// Deleting a referenced upstream conflicts.
	rec, _ = doJSON(t, h, http.MethodDelete, "/api/v1/upstreams/a", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("delete referenced status = %d, want 409", rec.Code)
	}

	rec, _ = doJSON(t, h, http.MethodPost, "/api/v1/upstreams", `{"name":"x","url":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed JSON status = %d, want 400", rec.Code)
	}
}

func TestGroupEndpoints(t *testing.T) {
	h, mgr := testAdmin(t, false)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/upstream-groups/g1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var view GroupView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Strategy != "weighted_roundrobin" || len(view.Upstreams) != 2 {
		t.Fatalf("view = %+v", view)
	}

	rec, _ = doJSON(t, h, http.MethodPatch, "/api/v1/upstream-groups/g1/upstreams",
		`{"upstreams":[{"name":"b","weight":1}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("membership patch status = %d, body = %s", rec.Code, rec.Body.String())
	}
	g, _ := mgr.GetGroup("g1")
	if names := g.UpstreamNames(); len(names) != 1 || names[0] != "b" {
		t.Fatalf("members = %v, want [b]", names)
	}

	rec, _ = doJSON(t, h, http.MethodPatch, "/api/v1/upstream-groups/nope/upstreams",
		`{"upstreams":[{"name":"b","weight":1}]}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown group status = %d, want 404", rec.Code)
	}
}

func TestForwardsEndpoint(t *testing.T) {
	h, _ := testAdmin(t, false)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/forwards", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var views []ForwardView
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 1 || views[0].Name != "f1" || views[0].DefaultGroup != "g1" {
		t.Fatalf("views = %+v", views)
	}

	rec, routing := doJSON(t, h, http.MethodGet, "/api/v1/forwards/f1/routing", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("routing status = %d", rec.Code)
	}
	if routing["default_group"] != "g1" {
		t.Fatalf("routing body = %v", routing)
	}

	rec, _ = doJSON(t, h, http.MethodGet, "/api/v1/forwards/nope/routing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown forward routing status = %d, want 404", rec.Code)
	}
}

func TestBearerAuthGuardsAPI(t *testing.T) {
	t.Setenv(TokenEnvVar, "topsecret")
	h, _ := testAdmin(t, false)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/upstreams", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/upstreams", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/upstreams", nil)
	req.Header.Set("Authorization", "Bearer topsecret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token status = %d, want 200", rec.Code)
	}

	// Health stays open regardless of the token.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d, want 200 without auth", rec.Code)
	}
}

func TestOpenAPIOnlyInDebug(t *testing.T) {
	h, _ := testAdmin(t, false)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/openapi.json", nil))
	if rec.Code == http.StatusOK {
		t.Fatal("openapi.json served without debug")
	}

	h, _ = testAdmin(t, true)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/openapi.json", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("debug openapi status = %d", rec.Code)
	}
	var doc map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("openapi document is not valid JSON: %v", err)
	}
}
