package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/feedplay/internal/observability"
	"github.com/jmylchreest/feedplay/internal/prefetch"
)

var prefetchCmd = &cobra.Command{
	Use:   "prefetch [url...]",
	Short: "Prefetch feed items and report the outcome",
	Long: `Prefetch the byte prefix of feed items and print a summary.

By default the feed is treated as a scroll window around --focus: the
focused item is fetched first, then the items ahead, then those behind.
With --priority every URL is queued at that priority instead.

  feedplay prefetch --file feed.yaml --focus 3
  feedplay prefetch --priority high https://cdn.example/a.mp4`,
	RunE: runPrefetch,
}

func init() {
	rootCmd.AddCommand(prefetchCmd)

	prefetchCmd.Flags().String("file", "", "YAML feed file (list of URLs, or items with url fields)")
	prefetchCmd.Flags().Int("focus", 0, "index of the focused item")
	prefetchCmd.Flags().String("priority", "", "queue every URL at this priority (low, normal, high, urgent)")
	prefetchCmd.Flags().Duration("timeout", time.Minute, "give up after this long")
}

// prefetchSummary is the YAML report printed by the prefetch command.
type prefetchSummary struct {
	Completed []string            `yaml:"completed"`
	Failed    map[string]string   `yaml:"failed,omitempty"`
	Pending   []string            `yaml:"pending,omitempty"`
	Stats     prefetch.Statistics `yaml:"stats"`
}

func runPrefetch(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	file, _ := flags.GetString("file")
	focus, _ := flags.GetInt("focus")
	rawPriority, _ := flags.GetString("priority")
	timeout, _ := flags.GetDuration("timeout")

	urls, err := loadFeed(file, args)
	if err != nil {
		return err
	}

	logger = observability.WithOperation(logger, "prefetch")
	client := newHTTPClient(cfg.HTTPClient, observability.WithComponent(logger, "prefetch_client"))
	scheduler, resolver, err := newPrefetcher(cfg, client, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	startProxy(ctx, resolver, logger)

	// The actor outlives ctx so the final snapshot can still be taken.
	scheduler.Start(context.Background())
	defer scheduler.Close()

	if rawPriority != "" {
		priority, err := prefetch.ParsePriority(rawPriority)
		if err != nil {
			return err
		}
		for _, u := range urls {
			scheduler.Preload(u, priority)
		}
	} else {
		scheduler.UpdateWindow(urls, focus)
	}

	snap := waitIdle(ctx, scheduler)
	if ctx.Err() != nil {
		logger.Warn("prefetch interrupted", slog.String("error", ctx.Err().Error()))
	}

	summary := prefetchSummary{
		Completed: snap.Completed,
		Failed:    snap.Failed,
		Stats:     snap.Stats,
	}
	for _, q := range snap.Queued {
		summary.Pending = append(summary.Pending, q.URL)
	}
	for _, r := range snap.Running {
		summary.Pending = append(summary.Pending, r.URL)
	}

	data, err := yaml.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshaling summary: %w", err)
	}
	fmt.Fprint(cmd.OutOrStdout(), string(data))

	if len(summary.Failed) > 0 {
		return fmt.Errorf("%d prefetches failed", len(summary.Failed))
	}
	return nil
}

// waitIdle polls the scheduler until nothing is queued or running, or ctx
// is done, and returns the last snapshot.
func waitIdle(ctx context.Context, s *prefetch.Scheduler) prefetch.Snapshot {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		snap := s.Snapshot()
		if len(snap.Queued) == 0 && len(snap.Running) == 0 {
			return snap
		}
		select {
		case <-ctx.Done():
			return snap
		case <-ticker.C:
		}
	}
}
