package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/feedplay/internal/engine"
	"github.com/jmylchreest/feedplay/internal/lifecycle"
	"github.com/jmylchreest/feedplay/internal/observability"
	"github.com/jmylchreest/feedplay/internal/prerender"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate [url...]",
	Short: "Scroll through a feed and report pre-render hit rates",
	Long: `Simulate a viewer scrolling through a feed.

Each item is shown for --dwell. When an item comes into view its
pre-rendered engine is used if one is ready; otherwise an engine is taken
from the pool and loaded on demand. Neighbours are pre-rendered and the
prefetch window follows the focused item.

SIGUSR1 and SIGUSR2 simulate the app moving to the background and back.`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().String("file", "", "YAML feed file (list of URLs, or items with url fields)")
	simulateCmd.Flags().Duration("dwell", 2*time.Second, "time spent on each item")
	simulateCmd.Flags().Int("steps", 0, "items to show (default: the whole feed)")
	simulateCmd.Flags().String("prefix", "feed", "pre-render identifier prefix")
}

// simulation scrolls a feed through the wired components.
type simulation struct {
	c      *components
	urls   []string
	dwell  time.Duration
	prefix string
	poolID string
	logger *slog.Logger
}

// simulationSummary is the YAML report printed by the simulate command.
type simulationSummary struct {
	Shown      int     `yaml:"shown"`
	Hits       int     `yaml:"prerender_hits"`
	Misses     int     `yaml:"prerender_misses"`
	HitRate    float64 `yaml:"prerender_hit_rate"`
	PoolHits   int     `yaml:"pool_hits"`
	PoolMisses int     `yaml:"pool_misses"`
	Prefetched int64   `yaml:"prefetched"`
	Bytes      int64   `yaml:"prefetched_bytes"`
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	file, _ := flags.GetString("file")
	dwell, _ := flags.GetDuration("dwell")
	steps, _ := flags.GetInt("steps")
	prefix, _ := flags.GetString("prefix")

	urls, err := loadFeed(file, args)
	if err != nil {
		return err
	}
	if steps <= 0 || steps > len(urls) {
		steps = len(urls)
	}

	c, err := newComponents(cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	rep, err := newReporter(cfg.Reporter.Schedule, c, logger)
	if err != nil {
		return err
	}
	defer rep.Close()

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	sim := &simulation{
		c:      c,
		urls:   urls,
		dwell:  dwell,
		prefix: prefix,
		poolID: c.manager.Config().PoolIdentifier,
		logger: observability.WithComponent(logger, "simulate"),
	}

	startProxy(ctx, c.resolver, logger)

	var summary simulationSummary
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.scheduler.Run(ctx) })
	g.Go(func() error {
		return lifecycle.NewSignalBridge(c.hub).WithLogger(sim.logger).Run(ctx)
	})
	g.Go(func() error {
		defer cancel()
		var err error
		done := observability.TimedOperationWithError(ctx, sim.logger, "simulate", &err)
		defer done()
		summary, err = sim.run(ctx, steps)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("running simulation: %w", err)
	}

	rep.Report()

	data, err := yaml.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshaling summary: %w", err)
	}
	fmt.Fprint(cmd.OutOrStdout(), string(data))
	return nil
}

// run shows steps items in order. Each shown engine goes back to the pool
// when the next item replaces it.
func (s *simulation) run(ctx context.Context, steps int) (simulationSummary, error) {
	var (
		summary simulationSummary
		current engine.Engine
	)

	release := func() {
		if current != nil {
			current.Stop()
			s.c.pool.Enqueue(current, s.poolID)
			current = nil
		}
	}
	defer release()

	for i := range steps {
		s.c.scheduler.UpdateWindow(s.urls, i)

		next, prerendered, err := s.acquire(i)
		if err != nil {
			return summary, err
		}
		if prerendered {
			summary.Hits++
		} else {
			summary.Misses++
		}
		summary.Shown++

		release()
		current = next
		current.SetHidden(false)
		current.SetVolume(1)
		current.Play()

		s.c.manager.PreRenderAdjacent(i, s.urls, s.prefix)

		s.logger.Info("item shown",
			slog.Int("index", i),
			slog.String("url", s.urls[i]),
			slog.Bool("prerendered", prerendered),
		)

		select {
		case <-ctx.Done():
			return s.finish(summary), nil
		case <-time.After(s.dwell):
		}
	}
	return s.finish(summary), nil
}

// acquire returns the engine for item i, preferring a ready pre-render.
func (s *simulation) acquire(i int) (engine.Engine, bool, error) {
	identifier := prerender.IndexedIdentifier(s.prefix, i)

	if session, ok := s.c.manager.ConsumePreRendered(identifier); ok {
		return session.Engine, true, nil
	}
	// Still preparing: the load is already in flight, so keep it.
	if session, ok := s.c.manager.TakePlayer(identifier); ok {
		return session.Engine, false, nil
	}

	e, ok := s.c.pool.Dequeue(s.poolID)
	if !ok {
		var err error
		if e, err = s.c.pool.Create(); err != nil {
			return nil, false, fmt.Errorf("creating engine for item %d: %w", i, err)
		}
	}
	e.SetURL(s.urls[i])
	return e, false, nil
}

func (s *simulation) finish(summary simulationSummary) simulationSummary {
	if summary.Shown > 0 {
		summary.HitRate = float64(summary.Hits) / float64(summary.Shown)
	}
	stats := s.c.pool.Statistics()
	summary.PoolHits = stats.Hits
	summary.PoolMisses = stats.Misses

	snap := s.c.scheduler.Snapshot()
	summary.Prefetched = snap.Stats.Completed
	summary.Bytes = snap.Stats.Bytes
	return summary
}
