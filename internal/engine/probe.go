package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jmylchreest/feedplay/pkg/httpclient"
)

// ErrNoItem is returned by operations that need a loaded item.
var ErrNoItem = errors.New("engine has no current item")

// DefaultProbeBytes is how much of an item a ProbeEngine reads before it
// reports the first frame as displayable.
const DefaultProbeBytes int64 = 64 * 1024

// ProbeConfig configures a ProbeEngine.
type ProbeConfig struct {
	// ProbeBytes is the prefix read before ReadyForDisplay fires.
	ProbeBytes int64
	// Rewrite maps an item URL to the URL actually fetched, typically a
	// local caching proxy. Nil fetches the item URL directly.
	Rewrite func(string) string
	// Logger receives probe diagnostics.
	Logger *slog.Logger
}

// ProbeEngine is a headless Engine. Loading an item issues a ranged GET:
// response headers signal ReadyToPlay, and receiving the probe prefix
// signals ReadyForDisplay. Transport state stands in for decoder state.
type ProbeEngine struct {
	client *httpclient.Client
	cfg    ProbeConfig
	logger *slog.Logger

	mu       sync.Mutex
	url      string
	load     *Load
	cancel   context.CancelFunc
	playing  bool
	looping  bool
	hidden   bool
	volume   float32
	position time.Duration
	closed   bool
}

// NewProbeEngine creates a probe engine that fetches through client.
func NewProbeEngine(client *httpclient.Client, cfg ProbeConfig) *ProbeEngine {
	if cfg.ProbeBytes <= 0 {
		cfg.ProbeBytes = DefaultProbeBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ProbeEngine{
		client: client,
		cfg:    cfg,
		logger: logger,
		load:   NewLoad(),
		volume: 1,
	}
}

// ProbeFactory returns a Factory producing probe engines that share client.
func ProbeFactory(client *httpclient.Client, cfg ProbeConfig) Factory {
	return func() Engine {
		return NewProbeEngine(client, cfg)
	}
}

// SetURL implements Engine.
func (e *ProbeEngine) SetURL(url string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cancelProbeLocked()
	e.url = url
	e.position = 0
	e.playing = false
	e.load = NewLoad()

	if url == "" {
		return
	}

	target := url
	if e.cfg.Rewrite != nil {
		target = e.cfg.Rewrite(url)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	go e.probe(ctx, e.load, target)
}

func (e *ProbeEngine) probe(ctx context.Context, load *Load, target string) {
	start := time.Now()

	resp, err := e.client.GetRange(ctx, target, e.cfg.ProbeBytes)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		load.Fail(fmt.Errorf("probing %s: %w", target, err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		load.Fail(fmt.Errorf("probing %s: unexpected status %d", target, resp.StatusCode))
		return
	}
	load.ReadyToPlay.Fire()

	n, err := io.CopyN(io.Discard, resp.Body, e.cfg.ProbeBytes)
	if err != nil && !errors.Is(err, io.EOF) {
		if ctx.Err() != nil {
			return
		}
		load.Fail(fmt.Errorf("reading %s: %w", target, err))
		return
	}
	load.ReadyForDisplay.Fire()

	e.logger.Debug("probe complete",
		slog.String("url", target),
		slog.Int64("bytes", n),
		slog.Duration("duration", time.Since(start)),
	)
}

// cancelProbeLocked aborts an in-flight probe (must hold lock).
func (e *ProbeEngine) cancelProbeLocked() {
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}

// URL implements Engine.
func (e *ProbeEngine) URL() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.url
}

// Readiness implements Engine.
func (e *ProbeEngine) Readiness() Readiness {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.load.Readiness()
}

// Play implements Engine.
func (e *ProbeEngine) Play() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.url != "" {
		e.playing = true
	}
}

// Pause implements Engine.
func (e *ProbeEngine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.playing = false
}

// Stop implements Engine.
func (e *ProbeEngine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelProbeLocked()
	e.playing = false
	e.position = 0
}

// Seek implements Engine.
func (e *ProbeEngine) Seek(position time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.url == "" {
		return ErrNoItem
	}
	e.position = position
	return nil
}

// ClearItem implements Engine.
func (e *ProbeEngine) ClearItem() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelProbeLocked()
	e.url = ""
	e.playing = false
	e.position = 0
	e.load = NewLoad()
}

// SetVolume implements Engine.
func (e *ProbeEngine) SetVolume(volume float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.volume = volume
}

// SetLooping implements Engine.
func (e *ProbeEngine) SetLooping(looping bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.looping = looping
}

// SetHidden implements Engine.
func (e *ProbeEngine) SetHidden(hidden bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hidden = hidden
}

// PrepareForReuse implements Engine.
func (e *ProbeEngine) PrepareForReuse() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelProbeLocked()
	e.playing = false
	e.looping = false
	e.volume = 1
	e.hidden = true
}

// DidDequeueForReuse implements Engine.
func (e *ProbeEngine) DidDequeueForReuse() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hidden = false
}

// CanReuse implements Engine.
func (e *ProbeEngine) CanReuse() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.closed
}

// Close releases the engine permanently; it can no longer be pooled.
func (e *ProbeEngine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelProbeLocked()
	e.closed = true
	e.playing = false
}

// Playing reports whether playback is running.
func (e *ProbeEngine) Playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

// Volume returns the configured volume.
func (e *ProbeEngine) Volume() float32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume
}

var _ Engine = (*ProbeEngine)(nil)
