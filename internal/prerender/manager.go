// Package prerender drives upcoming feed items to a playable state before
// they become visible, using engines borrowed from the engine pool.
package prerender

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/feedplay/internal/clock"
	"github.com/jmylchreest/feedplay/internal/engine"
	"github.com/jmylchreest/feedplay/internal/events"
	"github.com/jmylchreest/feedplay/internal/lifecycle"
	"github.com/jmylchreest/feedplay/internal/observability"
)

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("prerender manager closed")
	// ErrNoEngine is returned when neither the pool nor its factory can
	// supply an engine.
	ErrNoEngine = errors.New("no engine available")
)

// DefaultAdjacentOffsets are the neighbours PreRenderAdjacent prepares.
var DefaultAdjacentOffsets = []int{-1, 1, -2, 2}

// Pool is the subset of the engine pool the manager depends on.
type Pool interface {
	Dequeue(identifier string) (engine.Engine, bool)
	Enqueue(e engine.Engine, identifier string)
	Create() (engine.Engine, error)
}

// Entry is a point-in-time view of a pre-render entry.
type Entry struct {
	ID         ulid.ULID `json:"id"`
	URL        string    `json:"url"`
	Identifier string    `json:"identifier"`
	State      State     `json:"state"`
	CreatedAt  time.Time `json:"created_at"`
}

// Session is a pre-rendered engine handed to the caller for playback.
// The caller owns Engine.
type Session struct {
	Identifier string
	URL        string
	State      State
	Engine     engine.Engine
}

// Request is one item of a batch pre-render.
type Request struct {
	URL        string `json:"url"`
	Identifier string `json:"identifier"`
}

// Payload is posted with pre-render events.
type Payload struct {
	Identifier string `json:"identifier"`
	URL        string `json:"url"`
	State      State  `json:"state"`
}

// Observer is told about every state transition. It runs with the manager
// lock held and must not call back into the Manager.
type Observer func(identifier string, from, to State)

type entry struct {
	Entry
	engine engine.Engine
	timer  clock.Timer
	done   chan struct{}
}

// Manager owns in-flight pre-render entries, one per identifier.
type Manager struct {
	mu      sync.Mutex
	cfg     Config
	entries map[string]*entry
	closed  bool

	pool     Pool
	clock    clock.Clock
	events   events.Poster
	logger   *slog.Logger
	observer Observer

	wg sync.WaitGroup
}

// NewManager creates a manager borrowing engines from pool.
func NewManager(pool Pool, cfg Config) *Manager {
	return &Manager{
		cfg:     cfg.Normalize(),
		entries: make(map[string]*entry),
		pool:    pool,
		clock:   clock.Real(),
		events:  events.Nop,
		logger:  slog.Default(),
	}
}

// WithClock sets the clock used for timeouts.
func (m *Manager) WithClock(c clock.Clock) *Manager {
	m.clock = c
	return m
}

// WithEvents sets the event poster.
func (m *Manager) WithEvents(poster events.Poster) *Manager {
	m.events = poster
	return m
}

// WithLogger sets the logger.
func (m *Manager) WithLogger(logger *slog.Logger) *Manager {
	m.logger = logger
	return m
}

// WithObserver sets the state transition observer.
func (m *Manager) WithObserver(observer Observer) *Manager {
	m.observer = observer
	return m
}

// PreRender starts preparing url under identifier, replacing any existing
// entry for it. At capacity the oldest entry is evicted first.
func (m *Manager) PreRender(url, identifier string) error {
	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}

	if existing, ok := m.entries[identifier]; ok {
		m.cancelLocked(existing, Cancelled)
	}
	if len(m.entries) >= m.cfg.MaxPreRenderCount {
		m.evictOldestLocked()
		if len(m.entries) >= m.cfg.MaxPreRenderCount {
			m.mu.Unlock()
			return nil
		}
	}

	e, err := m.acquireLocked()
	if err != nil {
		m.mu.Unlock()
		observability.WithError(m.entryLogger(identifier), err).Warn("pre-render skipped")
		return err
	}

	ent := &entry{
		Entry: Entry{
			ID:         ulid.Make(),
			URL:        url,
			Identifier: identifier,
			State:      Idle,
			CreatedAt:  m.clock.Now(),
		},
		engine: e,
		done:   make(chan struct{}),
	}
	m.entries[identifier] = ent
	m.transitionLocked(ent, Preparing)

	e.SetVolume(0)
	e.SetLooping(true)
	e.SetHidden(false)
	e.SetURL(url)
	readiness := e.Readiness()

	ent.timer = m.clock.AfterFunc(m.cfg.Timeout, func() { m.onTimeout(ent) })

	m.wg.Add(1)
	go m.watch(ent, readiness)

	active := len(m.entries)
	m.mu.Unlock()

	observability.WithURL(m.entryLogger(identifier), url).Debug("pre-render started", slog.Int("active", active))
	m.events.Post(events.PreRenderStarted, Payload{Identifier: identifier, URL: url, State: Preparing})
	return nil
}

// PreRenderBatch pre-renders each request in order. It returns the first
// error encountered.
func (m *Manager) PreRenderBatch(requests []Request) error {
	var first error
	for _, r := range requests {
		if err := m.PreRender(r.URL, r.Identifier); err != nil && first == nil {
			first = fmt.Errorf("pre-rendering %s: %w", r.Identifier, err)
		}
	}
	return first
}

// CancelPreRender stops the entry for identifier and returns its engine to
// the pool.
func (m *Manager) CancelPreRender(identifier string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ent, ok := m.entries[identifier]; ok {
		m.cancelLocked(ent, Cancelled)
	}
}

// CancelAll cancels every entry.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelAllLocked()
}

func (m *Manager) cancelAllLocked() {
	for _, ent := range m.sortedEntriesLocked() {
		m.cancelLocked(ent, Cancelled)
	}
}

// ConsumePreRendered hands over the engine of a ready entry. The entry is
// removed and the engine is not returned to the pool.
func (m *Manager) ConsumePreRendered(identifier string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ent, ok := m.entries[identifier]
	if !ok {
		m.entryLogger(identifier).Debug("pre-render consume skipped",
			slog.String("reason", "no_entry"),
		)
		return nil, false
	}
	if !ent.State.Consumable() {
		m.entryLogger(identifier).Debug("pre-render consume skipped",
			slog.String("reason", ent.State.String()),
		)
		return nil, false
	}
	return m.extractLocked(ent), true
}

// TakePlayer hands over the engine of any entry regardless of its state.
func (m *Manager) TakePlayer(identifier string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ent, ok := m.entries[identifier]
	if !ok {
		return nil, false
	}
	return m.extractLocked(ent), true
}

// IsPreRendered reports whether identifier is ready to be consumed.
func (m *Manager) IsPreRendered(identifier string) bool {
	return m.State(identifier).Consumable()
}

// State returns the state of identifier, or Idle when unknown.
func (m *Manager) State(identifier string) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ent, ok := m.entries[identifier]; ok {
		return ent.State
	}
	return Idle
}

// ActiveEntries returns the held entries, oldest first.
func (m *Manager) ActiveEntries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	sorted := m.sortedEntriesLocked()
	out := make([]Entry, len(sorted))
	for i, ent := range sorted {
		out[i] = ent.Entry
	}
	return out
}

// KeepRange cancels every "<prefix>_<n>" entry whose n lies outside [lo, hi].
func (m *Manager) KeepRange(lo, hi int, prefix string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ent := range m.sortedEntriesLocked() {
		idx, ok := parseIndexed(ent.Identifier, prefix)
		if ok && (idx < lo || idx > hi) {
			m.cancelLocked(ent, Cancelled)
		}
	}
}

// PreRenderAdjacent keeps entries within two positions of current and
// pre-renders the idle neighbours at offsets (DefaultAdjacentOffsets when
// none are given). Identifiers take the form "<prefix>_<index>".
func (m *Manager) PreRenderAdjacent(current int, urls []string, prefix string, offsets ...int) {
	if len(offsets) == 0 {
		offsets = DefaultAdjacentOffsets
	}

	m.KeepRange(current-2, current+2, prefix)

	for _, offset := range offsets {
		idx := current + offset
		if idx < 0 || idx >= len(urls) {
			continue
		}
		identifier := IndexedIdentifier(prefix, idx)
		if m.State(identifier) == Idle {
			_ = m.PreRender(urls[idx], identifier)
		}
	}
}

// IndexedIdentifier builds the identifier used for feed position idx.
func IndexedIdentifier(prefix string, idx int) string {
	return prefix + "_" + strconv.Itoa(idx)
}

func parseIndexed(identifier, prefix string) (int, bool) {
	suffix, ok := strings.CutPrefix(identifier, prefix+"_")
	if !ok {
		return 0, false
	}
	idx, err := strconv.Atoi(suffix)
	if err != nil {
		return 0, false
	}
	return idx, true
}

// Attach cancels all entries on memory pressure and backgrounding.
func (m *Manager) Attach(source lifecycle.Source) (detach func()) {
	return source.Subscribe(func(sig lifecycle.Signal) {
		switch sig {
		case lifecycle.MemoryPressure, lifecycle.Background:
			m.CancelAll()
		}
	})
}

// Config returns the current configuration.
func (m *Manager) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// SetMaxPreRenderCount sets the entry limit (minimum 1). Existing entries
// are kept until the next PreRender.
func (m *Manager) SetMaxPreRenderCount(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.MaxPreRenderCount = max(1, n)
}

// SetTimeout sets the readiness timeout (minimum 1s) for new entries.
func (m *Manager) SetTimeout(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.Timeout = max(MinTimeout, d)
}

// Close cancels every entry and waits for readiness watchers to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.cancelAllLocked()
	m.mu.Unlock()

	m.wg.Wait()
}

// acquireLocked borrows an engine from the pool, creating one on a miss.
func (m *Manager) acquireLocked() (engine.Engine, error) {
	if m.pool == nil {
		return nil, ErrNoEngine
	}
	if e, ok := m.pool.Dequeue(m.cfg.PoolIdentifier); ok {
		return e, nil
	}
	e, err := m.pool.Create()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoEngine, err)
	}
	return e, nil
}

// watch relays readiness signals for ent until it is satisfied or removed.
func (m *Manager) watch(ent *entry, r engine.Readiness) {
	defer m.wg.Done()

	play, display, failed := r.ReadyToPlay, r.ReadyForDisplay, r.Failed
	for display != nil {
		select {
		case <-ent.done:
			return
		case <-play:
			play = nil
			m.onReadyToPlay(ent)
		case <-display:
			// Both may be closed at once; handle ready-to-play first.
			if play != nil {
				select {
				case <-play:
					m.onReadyToPlay(ent)
				default:
				}
			}
			display = nil
			m.onReadyForDisplay(ent)
		case err := <-failed:
			m.onFailed(ent, err)
			return
		}
	}
}

func (m *Manager) onReadyToPlay(ent *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.currentLocked(ent) || ent.State != Preparing {
		return
	}
	m.stopTimerLocked(ent)
	m.transitionLocked(ent, ReadyToPlay)
	ent.engine.Play()

	m.entryLogger(ent.Identifier).Debug("pre-render ready to play",
		slog.Duration("elapsed", m.clock.Now().Sub(ent.CreatedAt)),
	)
}

func (m *Manager) onReadyForDisplay(ent *entry) {
	m.mu.Lock()
	if !m.currentLocked(ent) || (ent.State != Preparing && ent.State != ReadyToPlay) {
		m.mu.Unlock()
		return
	}
	m.stopTimerLocked(ent)
	ent.engine.Pause()
	if err := ent.engine.Seek(0); err != nil {
		observability.WithError(m.entryLogger(ent.Identifier), err).Debug("pre-render seek failed")
	}
	m.transitionLocked(ent, ReadyToDisplay)
	payload := Payload{Identifier: ent.Identifier, URL: ent.URL, State: ReadyToDisplay}
	elapsed := m.clock.Now().Sub(ent.CreatedAt)
	m.mu.Unlock()

	m.entryLogger(payload.Identifier).Debug("pre-render ready for display",
		slog.Duration("elapsed", elapsed),
	)
	m.events.Post(events.PreRenderReady, payload)
}

func (m *Manager) onFailed(ent *entry, err error) {
	m.mu.Lock()
	if !m.currentLocked(ent) || ent.State != Preparing {
		m.mu.Unlock()
		return
	}
	m.cancelLocked(ent, Failed)
	payload := Payload{Identifier: ent.Identifier, URL: ent.URL, State: Failed}
	m.mu.Unlock()

	logger := observability.WithURL(m.entryLogger(payload.Identifier), payload.URL)
	observability.WithError(logger, err).Warn("pre-render failed")
	m.events.Post(events.PreRenderFailed, payload)
}

func (m *Manager) onTimeout(ent *entry) {
	m.mu.Lock()
	if !m.currentLocked(ent) || ent.State != Preparing {
		m.mu.Unlock()
		return
	}
	ent.timer = nil
	m.cancelLocked(ent, Expired)
	payload := Payload{Identifier: ent.Identifier, URL: ent.URL, State: Expired}
	m.mu.Unlock()

	observability.WithURL(m.entryLogger(payload.Identifier), payload.URL).Info("pre-render timed out")
	m.events.Post(events.PreRenderTimeout, payload)
}

func (m *Manager) entryLogger(identifier string) *slog.Logger {
	return observability.WithIdentifier(m.logger, identifier)
}

// currentLocked reports whether ent is still the live entry for its identifier.
func (m *Manager) currentLocked(ent *entry) bool {
	return m.entries[ent.Identifier] == ent
}

// cancelLocked removes ent, moves it to the terminal state final, stops
// its engine and returns the engine to the pool.
func (m *Manager) cancelLocked(ent *entry, final State) {
	m.detachLocked(ent)
	m.transitionLocked(ent, final)

	ent.engine.Stop()
	if m.pool != nil {
		m.pool.Enqueue(ent.engine, m.cfg.PoolIdentifier)
	}

	m.entryLogger(ent.Identifier).Debug("pre-render removed",
		slog.String("state", final.String()),
	)
}

// extractLocked removes ent and hands its engine to the caller.
func (m *Manager) extractLocked(ent *entry) *Session {
	state := ent.State
	m.detachLocked(ent)
	ent.engine.Pause()
	_ = ent.engine.Seek(0)

	m.entryLogger(ent.Identifier).Debug("pre-render handed over",
		slog.String("state", state.String()),
	)
	return &Session{
		Identifier: ent.Identifier,
		URL:        ent.URL,
		State:      state,
		Engine:     ent.engine,
	}
}

// detachLocked unlinks ent and invalidates its timer and watcher.
func (m *Manager) detachLocked(ent *entry) {
	delete(m.entries, ent.Identifier)
	m.stopTimerLocked(ent)
	close(ent.done)
}

func (m *Manager) stopTimerLocked(ent *entry) {
	if ent.timer != nil {
		ent.timer.Stop()
		ent.timer = nil
	}
}

func (m *Manager) transitionLocked(ent *entry, to State) {
	from := ent.State
	ent.State = to
	if m.observer != nil {
		m.observer(ent.Identifier, from, to)
	}
}

// evictOldestLocked cancels the entry created first.
func (m *Manager) evictOldestLocked() {
	sorted := m.sortedEntriesLocked()
	if len(sorted) == 0 {
		return
	}
	m.cancelLocked(sorted[0], Cancelled)
}

// sortedEntriesLocked returns entries ordered by creation.
func (m *Manager) sortedEntriesLocked() []*entry {
	out := make([]*entry, 0, len(m.entries))
	for _, ent := range m.entries {
		out = append(out, ent)
	}
	slices.SortFunc(out, func(a, b *entry) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return a.ID.Compare(b.ID)
	})
	return out
}
