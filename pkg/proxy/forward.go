// Package proxy implements the forwarding pipeline: rate limiting, path
// routing, upstream selection with breaker gating, dispatch under the
// group's timeout regime, streamed or buffered relay, and the retry loop.
package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"lumen-hq/lumen/pkg/config"
	"lumen-hq/lumen/pkg/events"
	"lumen-hq/lumen/pkg/manager"
	"lumen-hq/lumen/pkg/proxy/middleware"
	"lumen-hq/lumen/pkg/ratelimit"
	"lumen-hq/lumen/pkg/router"
	"lumen-hq/lumen/pkg/upstream"
)

// maxBackoff caps the exponential retry backoff.
const maxBackoff = 30 * time.Second

// relayBufferSize is the chunk size for streamed response relay.
const relayBufferSize = 32 * 1024

// Handler serves one forward: it owns the forward's router and optional
// per-IP rate limiter and drives the full pipeline for each request. The
// router and limiter are swapped atomically on configuration reload; the
// upstream groups are resolved through the manager per request.
type Handler struct {
	name string
	mgr  *manager.Manager
	sink events.Sink

	router  atomic.Pointer[router.Router]
	limiter atomic.Pointer[ratelimit.IPLimiter]

	// mu guards cfg during reloads; the data plane never takes it.
	mu  sync.Mutex
	cfg config.ForwardConfig
}

// NewHandler builds the handler for one forward from its configuration.
func NewHandler(cfg config.ForwardConfig, mgr *manager.Manager, sink events.Sink) (*Handler, error) {
	if sink == nil {
		sink = events.NopSink{}
	}
	h := &Handler{name: cfg.Name, mgr: mgr, sink: sink, cfg: cfg}

	rt, err := buildRouter(cfg)
	if err != nil {
		return nil, err
	}
	h.router.Store(rt)

	if cfg.RateLimit != nil {
		lim := ratelimit.NewIPLimiter(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst)
		lim.StartReaper()
		h.limiter.Store(lim)
	}
	return h, nil
}

// Name returns the forward's configured name.
func (h *Handler) Name() string { return h.name }

// ApplyConfig swaps in a reloaded forward configuration. Routing changes
// take effect on the next request; an unchanged rate-limit block keeps its
// existing buckets.
func (h *Handler) ApplyConfig(cfg config.ForwardConfig) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !reflect.DeepEqual(h.cfg.Routing, cfg.Routing) || h.cfg.DefaultGroup != cfg.DefaultGroup {
		rt, err := buildRouter(cfg)
		if err != nil {
			return err
		}
		h.router.Store(rt)
	}

	if !reflect.DeepEqual(h.cfg.RateLimit, cfg.RateLimit) {
		old := h.limiter.Load()
		if cfg.RateLimit != nil {
			lim := ratelimit.NewIPLimiter(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst)
			lim.StartReaper()
			h.limiter.Store(lim)
		} else {
			h.limiter.Store(nil)
		}
		if old != nil {
			old.StopReaper()
		}
	}

	h.cfg = cfg
	return nil
}

// Close releases the handler's background resources.
func (h *Handler) Close() {
	if lim := h.limiter.Load(); lim != nil {
		lim.StopReaper()
	}
}

func buildRouter(cfg config.ForwardConfig) (*router.Router, error) {
	rules := make([]router.Rule, len(cfg.Routing))
	for i, r := range cfg.Routing {
		rules[i] = router.Rule{Path: r.Path, TargetGroup: r.TargetGroup}
	}
	return router.New(cfg.DefaultGroup, rules)
}

// ServeHTTP runs the pipeline: rate limit, route, then the select-and-
// dispatch loop. The ingress event is emitted exactly once per request.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := middleware.GetStartTime(r.Context())
	if start.IsZero() {
		start = time.Now()
	}

	if lim := h.limiter.Load(); lim != nil && !lim.Allow(r.RemoteAddr) {
		h.sink.RateLimited(h.name)
		h.sink.IngressError(h.name, r.Method, r.URL.Path, events.KindRateLimited)
		WriteError(w, http.StatusTooManyRequests, ErrorTypeRateLimited,
			"Rate limit exceeded. Please slow down and try again.")
		return
	}

	groupName := h.router.Load().Route(r.URL.Path)
	group, ok := h.mgr.GetGroup(groupName)
	if !ok {
		h.sink.IngressError(h.name, r.Method, r.URL.Path, events.KindNoHealthyUpstream)
		WriteError(w, http.StatusServiceUnavailable, ErrorTypeNoUpstream,
			"No upstream group is available for this path.")
		return
	}

	// The body is buffered once so retries can replay it.
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.sink.IngressError(h.name, r.Method, r.URL.Path, events.KindStreamAborted)
		WriteError(w, http.StatusBadRequest, ErrorTypeInternal,
			"Failed to read request body.")
		return
	}

	status, kind := h.forward(w, r, group, body)

	if kind != "" {
		h.sink.IngressError(h.name, r.Method, r.URL.Path, kind)
	}
	h.sink.IngressRequest(h.name, r.Method, r.URL.Path, status, time.Since(start))
}

// forward runs the bounded select-and-dispatch loop. Each retry attempt is
// one selection pass: failed and rejected upstreams are skipped while
// alternatives remain, and a pass that finds everything excluded starts over
// with the full group, so a sole upstream is retried rather than abandoned.
func (h *Handler) forward(w http.ResponseWriter, r *http.Request, group *manager.Group, body []byte) (int, string) {
	attempts := 1
	var backoff time.Duration
	if rc := group.ClientConfig.Retry; rc != nil {
		attempts += rc.Attempts
		backoff = rc.InitialBackoff
	}

	exclude := make(map[*upstream.Upstream]bool)
	lastKind := events.KindNoHealthyUpstream

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 && backoff > 0 {
			select {
			case <-r.Context().Done():
				return 0, events.KindStreamAborted
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		target, permit, kind := h.admit(group, exclude)
		if target == nil && len(exclude) > 0 {
			clear(exclude)
			target, permit, kind = h.admit(group, exclude)
		}
		if kind != "" {
			lastKind = kind
		}
		if target == nil {
			break
		}

		lastAttempt := attempt == attempts-1
		status, kind, done := h.dispatch(w, r, group, target, permit, body, lastAttempt)
		if done {
			return status, kind
		}
		exclude[target] = true
		lastKind = kind
	}

	status, errType, message := ingressFailure(lastKind)
	WriteError(w, status, errType, message)
	return status, lastKind
}

// admit runs one selection pass: an upstream whose rate limiter or breaker
// rejects is excluded and selection repeats, without consuming a retry
// attempt, until a permit is issued or the candidates run out.
func (h *Handler) admit(group *manager.Group, exclude map[*upstream.Upstream]bool) (*upstream.Upstream, *upstream.Permit, string) {
	var kind string
	for {
		target, err := group.Strategy.Select(group.Candidates(exclude))
		if err != nil {
			return nil, nil, kind
		}

		if lim := target.Limiter(); lim != nil && !lim.Allow() {
			h.sink.UpstreamError(group.Name, target.Name(), events.KindRateLimited)
			exclude[target] = true
			kind = events.KindRateLimited
			continue
		}

		permit, ok := target.Breaker().TryAcquire(group.Name)
		if !ok {
			exclude[target] = true
			continue
		}
		return target, permit, kind
	}
}

// ingressFailure maps the last upstream error kind to the client-facing
// status.
func ingressFailure(kind string) (int, string, string) {
	switch kind {
	case events.KindRateLimited:
		return http.StatusTooManyRequests, ErrorTypeRateLimited,
			"All upstreams are rate limited. Please try again later."
	case events.KindConnectFailed:
		return http.StatusBadGateway, ErrorTypeBadGateway,
			"Failed to connect to any upstream."
	case events.KindRequestTimeout:
		return http.StatusGatewayTimeout, ErrorTypeGatewayTimeout,
			"Upstream did not respond in time."
	case events.KindUpstreamError:
		return http.StatusBadGateway, ErrorTypeBadGateway,
			"All upstreams returned errors."
	default:
		return http.StatusServiceUnavailable, ErrorTypeNoUpstream,
			"No healthy upstream is available. Please try again later."
	}
}

// dispatch sends one attempt to the selected upstream and, when a response
// is accepted, relays it to the client. done=false means the attempt failed
// before anything was written and the loop may try another upstream.
func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request, group *manager.Group, target *upstream.Upstream, permit *upstream.Permit, body []byte, lastAttempt bool) (int, string, bool) {
	// Capture the record once; a concurrent update must not change this
	// request's view.
	rec := target.Record()
	cc := group.ClientConfig

	var ctx context.Context
	var cancel context.CancelFunc
	if cc.Stream {
		// Streaming: no overall deadline. The dial is bounded by the
		// transport's connect timeout and the body relay by the idle
		// watchdog.
		ctx, cancel = context.WithCancel(r.Context())
	} else {
		ctx, cancel = context.WithTimeout(r.Context(), cc.Connect+cc.Request)
	}
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, r.Method, targetURL(rec.URL, r.URL), bytes.NewReader(body))
	if err != nil {
		h.sink.UpstreamError(group.Name, target.Name(), events.KindUpstreamError)
		permit.Record(false)
		return 0, events.KindUpstreamError, false
	}
	req.ContentLength = int64(len(body))

	copyHeaders(req.Header, r.Header)
	applyHeaderOps(req.Header, rec.Headers)
	applyAuth(req.Header, rec.Auth)
	appendForwardedFor(req.Header, r.RemoteAddr)
	if cc.UserAgent != "" {
		req.Header.Set("User-Agent", cc.UserAgent)
	}

	health := target.Health()
	health.BeginRequest()
	defer health.EndRequest()

	dispatchStart := time.Now()
	resp, err := group.Client.Do(req)
	if err != nil {
		kind := classifyTransportError(err)
		health.RecordOutcome(false)
		permit.Record(false)
		h.sink.UpstreamError(group.Name, target.Name(), kind)

		if r.Context().Err() != nil {
			// The client went away; nothing to relay and no point retrying.
			return 0, events.KindStreamAborted, true
		}

		slog.Warn("upstream dispatch failed",
			"forward", h.name,
			"group", group.Name,
			"upstream", target.Name(),
			"kind", kind,
			"error", err,
		)
		return 0, kind, false
	}

	headerLatency := time.Since(dispatchStart)
	health.ObserveLatency(headerLatency)

	if retryableStatus(resp.StatusCode) && !lastAttempt {
		drain(resp)
		health.RecordOutcome(false)
		permit.Record(false)
		h.sink.UpstreamError(group.Name, target.Name(), events.KindUpstreamError)
		slog.Warn("upstream returned retryable status",
			"forward", h.name,
			"group", group.Name,
			"upstream", target.Name(),
			"status", resp.StatusCode,
		)
		return 0, events.KindUpstreamError, false
	}

	h.sink.UpstreamRequest(group.Name, target.Name(), headerLatency)

	// The outcome is recorded after the relay resolves: a 5xx counts against
	// health and the breaker even when relayed on the final attempt, and so
	// does a body that breaks off mid-stream.
	status, kind := h.relay(w, resp, cc, cancel)
	if kind == events.KindStreamAborted {
		h.sink.UpstreamError(group.Name, target.Name(), events.KindStreamAborted)
	}
	success := resp.StatusCode < 500 && kind == ""
	health.RecordOutcome(success)
	permit.Record(success)
	return status, kind, true
}

// retryableStatus reports whether a status marks the upstream temporarily
// unusable, making another upstream worth trying. A 500 passes through: it
// usually reflects the request, not the backend.
func retryableStatus(status int) bool {
	switch status {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// relay copies the upstream response to the client. In streaming mode each
// chunk is flushed as it arrives and an idle watchdog aborts the transfer
// when the gap between chunks exceeds the group's idle timeout.
func (h *Handler) relay(w http.ResponseWriter, resp *http.Response, cc upstream.ClientConfig, cancel context.CancelFunc) (int, string) {
	defer resp.Body.Close()

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	if !cc.Stream {
		if _, err := io.Copy(w, resp.Body); err != nil {
			slog.Warn("response relay aborted", "error", err)
			return resp.StatusCode, events.KindStreamAborted
		}
		return resp.StatusCode, ""
	}

	flusher, _ := w.(http.Flusher)
	watchdog := time.AfterFunc(cc.Idle, cancel)
	defer watchdog.Stop()

	buf := make([]byte, relayBufferSize)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			watchdog.Reset(cc.Idle)
			if _, werr := w.Write(buf[:n]); werr != nil {
				slog.Warn("stream relay aborted by client", "error", werr)
				return resp.StatusCode, events.KindStreamAborted
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			if err == io.EOF {
				return resp.StatusCode, ""
			}
			slog.Warn("stream relay aborted", "error", err)
			return resp.StatusCode, events.KindStreamAborted
		}
	}
}

// classifyTransportError maps a round-trip error to an event kind.
func classifyTransportError(err error) string {
	var netErr interface{ Timeout() bool }
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return events.KindRequestTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return events.KindRequestTimeout
	case errors.Is(err, context.Canceled):
		return events.KindStreamAborted
	default:
		return events.KindConnectFailed
	}
}

// targetURL joins the upstream base URL with the incoming request path and
// query.
func targetURL(base *url.URL, in *url.URL) string {
	out := *base
	out.Path = singleJoiningSlash(base.Path, in.Path)
	out.RawQuery = in.RawQuery
	return out.String()
}

func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash && b != "":
		return a + "/" + b
	}
	return a + b
}

// drain discards a response body so the connection can be reused.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, relayBufferSize))
	resp.Body.Close()
}
