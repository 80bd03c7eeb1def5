package main

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"lumen-hq/lumen/pkg/admin"
	"lumen-hq/lumen/pkg/cli"
	"lumen-hq/lumen/pkg/config"
	"lumen-hq/lumen/pkg/manager"
	"lumen-hq/lumen/pkg/proxy"
	"lumen-hq/lumen/pkg/server"
	"lumen-hq/lumen/pkg/telemetry/logging"
	"lumen-hq/lumen/pkg/telemetry/metrics"
)

// shutdownTimeout bounds graceful drain at exit.
const shutdownTimeout = 30 * time.Second

var runFlags struct {
	logLevel  string
	logFormat string
	watch     bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the lumen gateway",
	Long: `Start the lumen gateway with the specified configuration.

Each configured forward binds its own listener and proxies requests to its
upstream groups; the admin endpoint serves health, metrics, and the
management API on a separate port.

Examples:
  # Start with default config
  lumen run

  # Start with custom config
  lumen run --config /etc/lumen/config.yaml

  # Start without watching the config file for changes
  lumen run --watch=false`,
	RunE: runGateway,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	runCmd.Flags().StringVar(&runFlags.logFormat, "log-format", "json", "log format (json, text)")
	runCmd.Flags().BoolVar(&runFlags.watch, "watch", true, "reload the configuration file on change")
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return cli.NewConfigError(cfgFile, err.Error())
	}

	level := runFlags.logLevel
	if level == "" {
		level = "info"
	}
	if debug {
		level = "debug"
	}
	if _, err := logging.Setup(logging.Config{Level: level, Format: runFlags.logFormat}); err != nil {
		return err
	}

	slog.Info("starting lumen",
		"version", Version,
		"config", cfgFile,
		"forwards", len(cfg.HTTPServer.Forwards),
		"upstreams", len(cfg.Upstreams),
		"groups", len(cfg.UpstreamGroups),
	)

	collector := metrics.NewCollector(nil)

	mgr, err := manager.NewFromConfig(cfg, collector)
	if err != nil {
		return fmt.Errorf("failed to build upstream registry: %w", err)
	}

	gw := &gateway{
		mgr:       mgr,
		collector: collector,
		cfg:       cfg,
		forwards:  make(map[string]*server.Forward),
	}

	ctx := cli.SetupSignalHandler()
	if err := gw.run(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}
	return nil
}

// gateway owns the running listeners and the current configuration.
type gateway struct {
	mgr       *manager.Manager
	collector *metrics.Collector

	mu       sync.Mutex
	cfg      *config.Config
	forwards map[string]*server.Forward
}

func (g *gateway) run(ctx context.Context) error {
	errChan := make(chan error, len(g.cfg.HTTPServer.Forwards)+1)

	for _, fc := range g.cfg.HTTPServer.Forwards {
		handler, err := proxy.NewHandler(fc, g.mgr, g.collector)
		if err != nil {
			return fmt.Errorf("forward %q: %w", fc.Name, err)
		}

		fwd := server.NewForward(fc, handler)
		ch, err := fwd.Start(ctx)
		if err != nil {
			return err
		}
		g.forwards[fc.Name] = fwd
		go relayErr(errChan, ch)
	}

	adminServer := admin.NewServer(
		g.cfg.HTTPServer.Admin,
		g.mgr,
		g.collector.Handler(),
		g.currentForwards,
		debug,
	)
	go relayErr(errChan, adminServer.Start())

	if runFlags.watch {
		watcher := config.NewWatcher(cfgFile, g.reload)
		go func() {
			if err := watcher.Run(ctx); err != nil {
				slog.Error("config watcher stopped", "error", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining")
	case err := <-errChan:
		slog.Error("fatal server error", "error", err)
		defer g.shutdown(adminServer)
		return err
	}

	g.shutdown(adminServer)
	return nil
}

func (g *gateway) shutdown(adminServer *admin.Server) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var wg sync.WaitGroup
	g.mu.Lock()
	for _, fwd := range g.forwards {
		wg.Add(1)
		go func(f *server.Forward) {
			defer wg.Done()
			if err := f.Shutdown(shutdownCtx); err != nil {
				slog.Error("forward shutdown failed", "forward", f.Name(), "error", err)
			}
		}(fwd)
	}
	g.mu.Unlock()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("admin shutdown failed", "error", err)
		}
	}()
	wg.Wait()

	slog.Info("shutdown complete")
}

// currentForwards snapshots the forward configurations for the admin API.
func (g *gateway) currentForwards() []config.ForwardConfig {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]config.ForwardConfig, len(g.cfg.HTTPServer.Forwards))
	copy(out, g.cfg.HTTPServer.Forwards)
	return out
}

// reload applies a changed configuration file. Upstreams and groups are
// reconciled in place; forward routing and rate limits are swapped on the
// running handlers. Listener set changes (added, removed, or re-addressed
// forwards) need a restart and are logged instead.
func (g *gateway) reload(cfg *config.Config) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.mgr.ApplyConfig(cfg); err != nil {
		slog.Error("configuration reload rejected", "error", err)
		return
	}

	for _, fc := range cfg.HTTPServer.Forwards {
		fwd, ok := g.forwards[fc.Name]
		if !ok {
			slog.Warn("new forward requires restart", "forward", fc.Name)
			continue
		}
		if fwd.Addr() != fmt.Sprintf("%s:%d", fc.Address, fc.Port) {
			slog.Warn("forward address change requires restart", "forward", fc.Name)
			continue
		}
		if err := fwd.Handler().ApplyConfig(fc); err != nil {
			slog.Error("forward reload failed", "forward", fc.Name, "error", err)
		}
	}

	next := make(map[string]bool, len(cfg.HTTPServer.Forwards))
	for _, fc := range cfg.HTTPServer.Forwards {
		next[fc.Name] = true
	}
	for name := range g.forwards {
		if !next[name] {
			slog.Warn("removed forward keeps serving until restart", "forward", name)
		}
	}

	if !reflect.DeepEqual(g.cfg.HTTPServer.Admin, cfg.HTTPServer.Admin) {
		slog.Warn("admin listener change requires restart")
	}

	g.cfg = cfg
	slog.Info("configuration reloaded")
}

func relayErr(dst chan<- error, src <-chan error) {
	if err, ok := <-src; ok {
		dst <- err
	}
}
