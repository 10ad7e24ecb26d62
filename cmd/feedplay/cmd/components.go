package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/feedplay/internal/config"
	"github.com/jmylchreest/feedplay/internal/engine"
	"github.com/jmylchreest/feedplay/internal/events"
	"github.com/jmylchreest/feedplay/internal/lifecycle"
	"github.com/jmylchreest/feedplay/internal/observability"
	"github.com/jmylchreest/feedplay/internal/pool"
	"github.com/jmylchreest/feedplay/internal/prefetch"
	"github.com/jmylchreest/feedplay/internal/prerender"
	"github.com/jmylchreest/feedplay/internal/reporter"
	"github.com/jmylchreest/feedplay/internal/urlutil"
	"github.com/jmylchreest/feedplay/internal/version"
	"github.com/jmylchreest/feedplay/pkg/httpclient"
)

// Client names in the httpclient registry.
const (
	clientProbe    = "probe"
	clientPrefetch = "prefetch"
)

// proxyStartTimeout bounds the cache proxy bootstrap.
const proxyStartTimeout = 5 * time.Second

// components is the wired playback core shared by serve and simulate.
type components struct {
	registry  *httpclient.Registry
	bus       *events.Bus
	hub       *lifecycle.Hub
	pool      *pool.Pool
	manager   *prerender.Manager
	scheduler *prefetch.Scheduler
	resolver  *prefetch.ProxyResolver

	detach []func()
}

func newHTTPClient(cfg config.HTTPClientConfig, logger *slog.Logger) *httpclient.Client {
	c := httpclient.DefaultConfig()
	c.Timeout = cfg.Timeout
	c.RetryAttempts = cfg.RetryAttempts
	c.CircuitThreshold = cfg.CircuitThreshold
	c.CircuitTimeout = cfg.CircuitTimeout
	c.UserAgent = version.UserAgent()
	c.Logger = logger
	return httpclient.New(c)
}

func newComponents(cfg *config.Config, logger *slog.Logger) (*components, error) {
	c := &components{registry: httpclient.NewRegistry()}

	probeClient := newHTTPClient(cfg.HTTPClient, observability.WithComponent(logger, "probe_client"))
	prefetchClient := newHTTPClient(cfg.HTTPClient, observability.WithComponent(logger, "prefetch_client"))
	c.registry.Register(clientProbe, probeClient)
	c.registry.Register(clientPrefetch, prefetchClient)

	c.bus = events.NewBus(observability.WithComponent(logger, "events"))
	c.hub = lifecycle.NewHub(observability.WithComponent(logger, "lifecycle"))

	scheduler, resolver, err := newPrefetcher(cfg, prefetchClient, logger)
	if err != nil {
		return nil, err
	}
	c.scheduler, c.resolver = scheduler, resolver

	probe := engine.ProbeConfig{
		ProbeBytes: cfg.Probe.Bytes.Bytes(),
		Logger:     observability.WithComponent(logger, "engine"),
	}
	if resolver != nil {
		probe.Rewrite = scheduler.ProxyURL
	}

	c.pool = pool.New(pool.Config{
		MaxCapacity:            cfg.Pool.MaxCapacity,
		MaxPerIdentifier:       cfg.Pool.MaxPerIdentifier,
		AutoReplenish:          cfg.Pool.AutoReplenish,
		AutoReplenishThreshold: cfg.Pool.AutoReplenishThreshold,
		IdleTimeout:            cfg.Pool.IdleTimeout,
	}).
		WithEvents(c.bus).
		WithLogger(observability.WithComponent(logger, "pool"))
	c.pool.SetFactory(engine.ProbeFactory(probeClient, probe))

	c.manager = prerender.NewManager(c.pool, prerender.Config{
		MaxPreRenderCount: cfg.PreRender.MaxCount,
		Timeout:           cfg.PreRender.Timeout,
		PoolIdentifier:    cfg.PreRender.PoolIdentifier,
	}).
		WithEvents(c.bus).
		WithLogger(observability.WithComponent(logger, "prerender"))

	// The manager returns engines to the pool when it cancels, so it has to
	// hear memory pressure first or the pool would be refilled after clearing.
	c.detach = append(c.detach, c.manager.Attach(c.hub), c.pool.Attach(c.hub))

	if cfg.Pool.Warm > 0 {
		created := c.pool.Fill(cfg.Pool.Warm, cfg.PreRender.PoolIdentifier)
		logger.Info("engine pool warmed", slog.Int("created", created))
	}

	return c, nil
}

// newPrefetcher builds the prefetch scheduler and, when the proxy is
// enabled, its resolver.
func newPrefetcher(cfg *config.Config, client *httpclient.Client, logger *slog.Logger) (*prefetch.Scheduler, *prefetch.ProxyResolver, error) {
	scheduler := prefetch.NewScheduler(prefetch.Config{
		MaxConcurrent:  cfg.Prefetch.MaxConcurrent,
		BytesPerURL:    cfg.Prefetch.BytesPerURL.Bytes(),
		WindowAhead:    cfg.Prefetch.WindowAhead,
		WindowBehind:   cfg.Prefetch.WindowBehind,
		MaxTrackedURLs: cfg.Prefetch.MaxTrackedURLs,
	}, prefetch.NewHTTPFetcher(client)).
		WithLogger(observability.WithComponent(logger, "prefetch"))

	if !cfg.Proxy.Enabled {
		return scheduler, nil, nil
	}

	var check *httpclient.Client
	if cfg.Proxy.HealthCheck {
		check = client
	}
	resolver, err := prefetch.NewProxyResolver(urlutil.NormalizeBaseURL(cfg.Proxy.BaseURL), check)
	if err != nil {
		return nil, nil, fmt.Errorf("creating proxy resolver: %w", err)
	}
	scheduler.WithResolver(resolver)
	return scheduler, resolver, nil
}

// newReporter builds a statistics reporter over c. The schedule is parsed
// before anything subscribes to the bus.
func newReporter(schedule string, c *components, logger *slog.Logger) (*reporter.Reporter, error) {
	rep, err := reporter.New(schedule)
	if err != nil {
		return nil, fmt.Errorf("creating reporter: %w", err)
	}
	rep.WithLogger(observability.WithComponent(logger, "reporter")).
		WithEvents(c.bus).
		Add("pool", reporter.PoolSource(c.pool)).
		Add("prerender", reporter.PreRenderSource(c.manager)).
		Add("prefetch", reporter.PrefetchSource(c.scheduler))
	return rep, nil
}

// startProxy bootstraps the cache proxy. Until it succeeds URLs are
// fetched directly.
func startProxy(ctx context.Context, resolver *prefetch.ProxyResolver, logger *slog.Logger) {
	if resolver == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, proxyStartTimeout)
	defer cancel()

	if err := resolver.Start(ctx); err != nil {
		observability.WithError(logger, err).Warn("cache proxy unavailable, fetching directly")
		return
	}
	logger.Info("cache proxy started")
}

// Close stops every component and releases pooled engines.
func (c *components) Close() {
	for _, detach := range c.detach {
		detach()
	}
	c.manager.Close()
	c.scheduler.Close()
	c.pool.Clear()
	c.bus.Close()
}
