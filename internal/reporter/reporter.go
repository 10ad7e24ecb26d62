// Package reporter periodically logs pool, pre-render and prefetch
// statistics on a cron schedule.
package reporter

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/jmylchreest/feedplay/internal/config"
	"github.com/jmylchreest/feedplay/internal/events"
	"github.com/jmylchreest/feedplay/internal/pool"
	"github.com/jmylchreest/feedplay/internal/prefetch"
	"github.com/jmylchreest/feedplay/internal/prerender"
)

// Source returns the attributes describing one component.
type Source func() []slog.Attr

type namedSource struct {
	name   string
	source Source
}

// Reporter logs a statistics line for every registered source each time
// its schedule fires.
type Reporter struct {
	schedule string
	parser   cron.Parser
	logger   *slog.Logger

	mu      sync.Mutex
	sources []namedSource
	counts  map[string]int
	sub     *events.Subscription
	wg      sync.WaitGroup
}

// New creates a reporter for a 6-field cron schedule or descriptor.
func New(schedule string) (*Reporter, error) {
	parser := cron.NewParser(config.CronFields)
	if _, err := parser.Parse(schedule); err != nil {
		return nil, fmt.Errorf("parsing report schedule %q: %w", schedule, err)
	}
	return &Reporter{
		schedule: schedule,
		parser:   parser,
		logger:   slog.Default(),
		counts:   make(map[string]int),
	}, nil
}

// WithLogger sets the logger statistics are written to.
func (r *Reporter) WithLogger(logger *slog.Logger) *Reporter {
	r.logger = logger
	return r
}

// WithEvents counts bus notifications by name between reports.
func (r *Reporter) WithEvents(bus *events.Bus) *Reporter {
	sub := bus.Subscribe()
	r.mu.Lock()
	r.sub = sub
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for event := range sub.C() {
			r.mu.Lock()
			r.counts[event.Name]++
			r.mu.Unlock()
		}
	}()
	return r
}

// Add registers a named source.
func (r *Reporter) Add(name string, source Source) *Reporter {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources = append(r.sources, namedSource{name: name, source: source})
	return r
}

// Report logs one statistics line and resets the event counts.
func (r *Reporter) Report() {
	r.mu.Lock()
	sources := slices.Clone(r.sources)
	counts := r.counts
	r.counts = make(map[string]int)
	r.mu.Unlock()

	attrs := make([]any, 0, len(sources)+1)
	for _, s := range sources {
		attrs = append(attrs, slog.Attr{Key: s.name, Value: slog.GroupValue(s.source()...)})
	}
	if len(counts) > 0 {
		eventAttrs := make([]slog.Attr, 0, len(counts))
		for _, name := range slices.Sorted(maps.Keys(counts)) {
			eventAttrs = append(eventAttrs, slog.Int(name, counts[name]))
		}
		attrs = append(attrs, slog.Attr{Key: "events", Value: slog.GroupValue(eventAttrs...)})
	}

	r.logger.Info("playback statistics", attrs...)
}

// Run reports on schedule until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) error {
	c := cron.New(
		cron.WithParser(r.parser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(r.schedule, r.Report); err != nil {
		return fmt.Errorf("scheduling report: %w", err)
	}

	c.Start()
	r.logger.Info("statistics reporter started", slog.String("schedule", r.schedule))

	<-ctx.Done()
	<-c.Stop().Done()
	r.Close()

	r.logger.Info("statistics reporter stopped")
	return nil
}

// Close releases the event subscription.
func (r *Reporter) Close() {
	r.mu.Lock()
	sub := r.sub
	r.sub = nil
	r.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	r.wg.Wait()
}

// PoolSource reports engine pool occupancy and hit rate.
func PoolSource(p *pool.Pool) Source {
	return func() []slog.Attr {
		snap := p.Snapshot()
		return []slog.Attr{
			slog.Int("count", snap.Count),
			slog.Int("capacity", snap.Config.MaxCapacity),
			slog.Int("hits", snap.Statistics.Hits),
			slog.Int("misses", snap.Statistics.Misses),
			slog.Int("evictions", snap.Statistics.Evictions),
			slog.Int("idle_cleanups", snap.Statistics.IdleCleanups),
			slog.Float64("hit_rate", snap.HitRate),
		}
	}
}

// PreRenderSource reports held pre-render entries by state.
func PreRenderSource(m *prerender.Manager) Source {
	return func() []slog.Attr {
		entries := m.ActiveEntries()
		byState := make(map[prerender.State]int)
		for _, e := range entries {
			byState[e.State]++
		}
		return []slog.Attr{
			slog.Int("active", len(entries)),
			slog.Int("preparing", byState[prerender.Preparing]),
			slog.Int("ready_to_play", byState[prerender.ReadyToPlay]),
			slog.Int("ready_to_display", byState[prerender.ReadyToDisplay]),
		}
	}
}

// PrefetchSource reports prefetch queue depth and transfer outcomes.
func PrefetchSource(s *prefetch.Scheduler) Source {
	return func() []slog.Attr {
		snap := s.Snapshot()
		return []slog.Attr{
			slog.Int("queued", len(snap.Queued)),
			slog.Int("running", len(snap.Running)),
			slog.Int("tracked", snap.Tracked),
			slog.Int64("completed", snap.Stats.Completed),
			slog.Int64("failed", snap.Stats.Failed),
			slog.Int64("cancelled", snap.Stats.Cancelled),
			slog.Int64("bytes", snap.Stats.Bytes),
		}
	}
}
