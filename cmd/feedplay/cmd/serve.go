package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	internalhttp "github.com/jmylchreest/feedplay/internal/http"
	"github.com/jmylchreest/feedplay/internal/http/handlers"
	"github.com/jmylchreest/feedplay/internal/lifecycle"
	"github.com/jmylchreest/feedplay/internal/observability"
	"github.com/jmylchreest/feedplay/internal/reporter"
	"github.com/jmylchreest/feedplay/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the feedplay host",
	Long: `Start the headless playback host and its introspection API.

The host provides:
- An engine pool backed by probe engines
- A pre-render manager and prefetch scheduler driven over HTTP
- Lifecycle signals: memory pressure, SIGUSR1 (background), SIGUSR2 (foreground)
- Health check endpoint and OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "Host to bind to")
	serveCmd.Flags().Int("port", 0, "Port to listen on")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	overrideString(cmd.Flags(), "host", &cfg.Server.Host)
	overrideInt(cmd.Flags(), "port", &cfg.Server.Port)

	c, err := newComponents(cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	server := internalhttp.NewServer(cfg.Server, observability.WithComponent(logger, "http"), version.Version)
	server.Register(
		healthHandler(c),
		handlers.NewPoolHandler(c.pool),
		handlers.NewPreRenderHandler(c.manager),
		handlers.NewPrefetchHandler(c.scheduler),
	)

	var rep *reporter.Reporter
	if cfg.Reporter.Enabled {
		if rep, err = newReporter(cfg.Reporter.Schedule, c, logger); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return c.scheduler.Run(ctx) })
	g.Go(func() error {
		startProxy(ctx, c.resolver, observability.WithComponent(logger, "proxy"))
		return nil
	})
	g.Go(func() error {
		return lifecycle.NewSignalBridge(c.hub).
			WithLogger(observability.WithComponent(logger, "lifecycle")).
			Run(ctx)
	})

	if cfg.Memory.Enabled {
		monitor := lifecycle.NewMemoryMonitor(c.hub, cfg.Memory.Interval, cfg.Memory.Threshold).
			WithLogger(observability.WithComponent(logger, "memory"))
		g.Go(func() error { return monitor.Run(ctx) })
	}

	if rep != nil {
		g.Go(func() error { return rep.Run(ctx) })
	}

	g.Go(func() error { return server.ListenAndServe(ctx) })

	logger.Info("starting feedplay server",
		slog.String("address", cfg.Server.Address()),
		slog.String("version", version.Version),
	)

	if err := g.Wait(); err != nil {
		return fmt.Errorf("running server: %w", err)
	}
	logger.Info("feedplay server stopped")
	return nil
}

func healthHandler(c *components) *handlers.HealthHandler {
	return handlers.NewHealthHandler(version.Version).
		WithRegistry(c.registry).
		WithCheck("pool", func() string {
			return fmt.Sprintf("ok (%d/%d engines)", c.pool.Count(), c.pool.Config().MaxCapacity)
		}).
		WithCheck("prerender", func() string {
			return fmt.Sprintf("ok (%d active)", len(c.manager.ActiveEntries()))
		}).
		WithCheck("prefetch", func() string {
			snap := c.scheduler.Snapshot()
			return fmt.Sprintf("ok (%d running, %d queued)", len(snap.Running), len(snap.Queued))
		}).
		WithCheck("proxy", func() string {
			switch {
			case c.resolver == nil:
				return "disabled"
			case c.resolver.Started():
				return "ok"
			default:
				return "not_started"
			}
		})
}
