// Package server runs the forward listeners. Each forward gets its own
// http.Server wrapping the proxy handler in the standard middleware chain;
// the set of listeners is fixed for the process lifetime while routing and
// group changes apply through the handlers without rebinding.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"lumen-hq/lumen/pkg/config"
	"lumen-hq/lumen/pkg/proxy"
	"lumen-hq/lumen/pkg/proxy/middleware"
)

// Forward is one running ingress listener.
type Forward struct {
	name       string
	addr       string
	handler    *proxy.Handler
	httpServer *http.Server
}

// NewForward wires a proxy handler into an HTTP server for one forward.
func NewForward(cfg config.ForwardConfig, handler *proxy.Handler) *Forward {
	chain := middleware.Recovery(middleware.RequestID(middleware.Forward(cfg.Name, middleware.Logging(handler))))

	return &Forward{
		name:    cfg.Name,
		addr:    fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		handler: handler,
		httpServer: &http.Server{
			Handler: chain,
			// Client header reads are bounded by the forward's connect
			// timeout; body reads and writes stay open for streaming.
			ReadHeaderTimeout: time.Duration(cfg.Timeout.Connect) * time.Second,
		},
	}
}

// Name returns the forward's configured name.
func (f *Forward) Name() string { return f.name }

// Addr returns the listen address.
func (f *Forward) Addr() string { return f.addr }

// Handler returns the proxy handler, for configuration reloads.
func (f *Forward) Handler() *proxy.Handler { return f.handler }

// Start binds the listener and begins serving. Fatal listener errors are
// reported on the returned channel.
func (f *Forward) Start(ctx context.Context) (<-chan error, error) {
	ln, err := listen(ctx, f.addr)
	if err != nil {
		return nil, fmt.Errorf("forward %q: listen on %s: %w", f.name, f.addr, err)
	}

	errChan := make(chan error, 1)
	go func() {
		slog.Info("starting forward listener", "forward", f.name, "address", f.addr)
		if err := f.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("forward %q: %w", f.name, err)
		}
	}()
	return errChan, nil
}

// Shutdown drains the listener and releases the handler's resources.
func (f *Forward) Shutdown(ctx context.Context) error {
	err := f.httpServer.Shutdown(ctx)
	f.handler.Close()
	return err
}
