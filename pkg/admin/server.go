// Package admin serves the management plane: health, Prometheus metrics,
// and the configuration mutation API. It binds separately from the forward
// listeners so operational traffic never contends with proxied traffic.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"lumen-hq/lumen/pkg/config"
	"lumen-hq/lumen/pkg/manager"
	"lumen-hq/lumen/pkg/proxy/middleware"
)

// readHeaderTimeout bounds client header reads on the admin listener.
const readHeaderTimeout = 10 * time.Second

// Server is the admin HTTP server.
type Server struct {
	addr    string
	mgr     *manager.Manager
	metrics http.Handler

	// forwards returns the current forward configurations; indirected so
	// hot reloads are reflected without restarting the admin server.
	forwards func() []config.ForwardConfig

	// debug additionally exposes the OpenAPI document.
	debug bool

	httpServer *http.Server
}

// NewServer builds the admin server. metricsHandler may be nil, in which
// case /metrics answers 404.
func NewServer(cfg config.AdminConfig, mgr *manager.Manager, metricsHandler http.Handler, forwards func() []config.ForwardConfig, debug bool) *Server {
	return &Server{
		addr:     fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		mgr:      mgr,
		metrics:  metricsHandler,
		forwards: forwards,
		debug:    debug,
	}
}

// Start begins serving and returns immediately. Fatal listener errors are
// reported on the returned channel.
func (s *Server) Start() <-chan error {
	handler := middleware.Recovery(middleware.RequestID(middleware.Logging(s.routes())))

	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		slog.Info("starting admin server", "address", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("admin server: %w", err)
		}
	}()
	return errChan
}

// routes builds the admin mux. The management API sits behind bearer auth
// when a token is configured; health and metrics are always open.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	api := http.NewServeMux()
	api.HandleFunc("GET /api/v1/upstreams", s.handleListUpstreams)
	api.HandleFunc("POST /api/v1/upstreams", s.handleCreateUpstream)
	api.HandleFunc("GET /api/v1/upstreams/{name}", s.handleGetUpstream)
	api.HandleFunc("PUT /api/v1/upstreams/{name}", s.handleUpdateUpstream)
	api.HandleFunc("DELETE /api/v1/upstreams/{name}", s.handleDeleteUpstream)
	api.HandleFunc("GET /api/v1/upstream-groups", s.handleListGroups)
	api.HandleFunc("GET /api/v1/upstream-groups/{name}", s.handleGetGroup)
	api.HandleFunc("PATCH /api/v1/upstream-groups/{name}/upstreams", s.handleReplaceMembership)
	api.HandleFunc("GET /api/v1/forwards", s.handleListForwards)
	api.HandleFunc("GET /api/v1/forwards/{name}/routing", s.handleGetForwardRouting)

	token := os.Getenv(TokenEnvVar)
	if token == "" {
		slog.Warn("admin API authentication disabled", "env", TokenEnvVar)
	}
	mux.Handle("/api/v1/", bearerAuth(token, api))

	if s.debug {
		// More specific than the /api/v1/ subtree, so it stays outside auth.
		mux.HandleFunc("GET /api/v1/openapi.json", s.handleOpenAPI)
	}

	return mux
}

// Shutdown drains the admin server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleListUpstreams(w http.ResponseWriter, _ *http.Request) {
	upstreams := s.mgr.Upstreams()
	views := make([]UpstreamView, 0, len(upstreams))
	for _, u := range upstreams {
		views = append(views, upstreamView(u))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetUpstream(w http.ResponseWriter, r *http.Request) {
	u, ok := s.mgr.GetUpstream(r.PathValue("name"))
	if !ok {
		writeJSONError(w, http.StatusNotFound, "upstream not found")
		return
	}
	writeJSON(w, http.StatusOK, upstreamView(u))
}

func (s *Server) handleCreateUpstream(w http.ResponseWriter, r *http.Request) {
	var payload UpstreamPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	cfg := payload.toConfig()
	applyPayloadDefaults(&cfg)
	if err := s.mgr.CreateUpstream(cfg); err != nil {
		writeManagerError(w, err)
		return
	}

	u, _ := s.mgr.GetUpstream(cfg.Name)
	writeJSON(w, http.StatusCreated, upstreamView(u))
}

func (s *Server) handleUpdateUpstream(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var payload UpstreamPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	cfg := payload.toConfig()
	applyPayloadDefaults(&cfg)
	if err := s.mgr.UpdateUpstream(name, cfg); err != nil {
		writeManagerError(w, err)
		return
	}

	u, _ := s.mgr.GetUpstream(name)
	writeJSON(w, http.StatusOK, upstreamView(u))
}

func (s *Server) handleDeleteUpstream(w http.ResponseWriter, r *http.Request) {
	if err := s.mgr.DeleteUpstream(r.PathValue("name")); err != nil {
		writeManagerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListGroups(w http.ResponseWriter, _ *http.Request) {
	groups := s.mgr.Groups()
	views := make([]GroupView, 0, len(groups))
	for _, g := range groups {
		views = append(views, groupView(g))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	g, ok := s.mgr.GetGroup(r.PathValue("name"))
	if !ok {
		writeJSONError(w, http.StatusNotFound, "upstream group not found")
		return
	}
	writeJSON(w, http.StatusOK, groupView(g))
}

func (s *Server) handleReplaceMembership(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var payload MembershipPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	refs := make([]config.UpstreamRef, len(payload.Upstreams))
	for i, m := range payload.Upstreams {
		refs[i] = config.UpstreamRef{Name: m.Name, Weight: m.Weight}
	}

	if err := s.mgr.ReplaceGroupUpstreams(name, refs); err != nil {
		writeManagerError(w, err)
		return
	}

	g, _ := s.mgr.GetGroup(name)
	writeJSON(w, http.StatusOK, groupView(g))
}

func (s *Server) handleListForwards(w http.ResponseWriter, _ *http.Request) {
	forwards := s.forwards()
	views := make([]ForwardView, 0, len(forwards))
	for _, f := range forwards {
		views = append(views, forwardView(f))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetForwardRouting(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	for _, f := range s.forwards() {
		if f.Name == name {
			view := forwardView(f)
			writeJSON(w, http.StatusOK, map[string]any{
				"default_group": view.DefaultGroup,
				"routing":       view.Routing,
			})
			return
		}
	}
	writeJSONError(w, http.StatusNotFound, "forward not found")
}

// applyPayloadDefaults fills API payload defaults the same way file loading
// does.
func applyPayloadDefaults(cfg *config.UpstreamConfig) {
	if cfg.Auth != nil && cfg.Auth.Type == "" {
		cfg.Auth.Type = "none"
	}
	if cfg.Breaker != nil {
		if cfg.Breaker.Threshold == 0 {
			cfg.Breaker.Threshold = config.DefaultBreakerThreshold
		}
		if cfg.Breaker.Cooldown == 0 {
			cfg.Breaker.Cooldown = config.DefaultBreakerCooldown
		}
	}
	if cfg.RateLimit != nil {
		if cfg.RateLimit.PerSecond == 0 {
			cfg.RateLimit.PerSecond = config.DefaultRatePerSecond
		}
		if cfg.RateLimit.Burst == 0 {
			cfg.RateLimit.Burst = config.DefaultRateBurst
		}
	}
}

// writeManagerError maps manager errors to HTTP statuses.
func writeManagerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, manager.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, manager.ErrAlreadyExists), errors.Is(err, manager.ErrDependencyViolation):
		writeJSONError(w, http.StatusConflict, err.Error())
	default:
		writeJSONError(w, http.StatusBadRequest, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{"message": message},
	})
}
