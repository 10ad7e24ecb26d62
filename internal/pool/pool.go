// Package pool provides a capacity-bounded, per-identifier pool of idle
// playback engines with FIFO eviction, auto-replenishment and idle-timeout
// reclamation.
package pool

import (
	"errors"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/feedplay/internal/clock"
	"github.com/jmylchreest/feedplay/internal/engine"
	"github.com/jmylchreest/feedplay/internal/events"
	"github.com/jmylchreest/feedplay/internal/lifecycle"
	"github.com/jmylchreest/feedplay/internal/observability"
)

// ErrNoFactory is returned by Create when no engine factory is set.
var ErrNoFactory = errors.New("engine pool has no factory")

// Payload is posted with pool events. Count is the pool size after the
// change.
type Payload struct {
	Identifier string `json:"identifier,omitempty"`
	Count      int    `json:"count"`
}

type entry struct {
	id         ulid.ULID
	engine     engine.Engine
	enqueuedAt time.Time
	timer      clock.Timer
}

// Pool holds idle engines keyed by identifier. Pooled engines are owned by
// the pool; Dequeue transfers ownership to the caller.
type Pool struct {
	mu      sync.Mutex
	cfg     Config
	entries map[string][]*entry
	count   int
	stats   Statistics
	factory engine.Factory

	clock  clock.Clock
	events events.Poster
	logger *slog.Logger
}

// New creates a pool. cfg is normalized.
func New(cfg Config) *Pool {
	return &Pool{
		cfg:     cfg.Normalize(),
		entries: make(map[string][]*entry),
		clock:   clock.Real(),
		events:  events.Nop,
		logger:  slog.Default(),
	}
}

// WithClock sets the clock used for idle timers.
func (p *Pool) WithClock(c clock.Clock) *Pool {
	p.clock = c
	return p
}

// WithEvents sets the event poster.
func (p *Pool) WithEvents(poster events.Poster) *Pool {
	p.events = poster
	return p
}

// WithLogger sets the logger.
func (p *Pool) WithLogger(logger *slog.Logger) *Pool {
	p.logger = logger
	return p
}

// SetFactory sets the factory used by Fill, Create and auto-replenish.
func (p *Pool) SetFactory(factory engine.Factory) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.factory = factory
}

// Create builds a fresh, unpooled engine with the factory.
func (p *Pool) Create() (engine.Engine, error) {
	p.mu.Lock()
	factory := p.factory
	p.mu.Unlock()

	if factory == nil {
		return nil, ErrNoFactory
	}
	e := factory()
	if e == nil {
		return nil, ErrNoFactory
	}
	return e, nil
}

// Enqueue stores e under identifier. Engines that cannot be reused are
// ignored. Room is made by evicting the identifier's oldest entry, then the
// globally oldest entry.
func (p *Pool) Enqueue(e engine.Engine, identifier string) {
	if e == nil || !e.CanReuse() {
		return
	}

	p.mu.Lock()
	for len(p.entries[identifier]) >= p.cfg.MaxPerIdentifier {
		p.evictOldestLocked(identifier)
	}
	for p.count >= p.cfg.MaxCapacity {
		if !p.evictOldestGlobalLocked() {
			break
		}
	}
	p.storeLocked(e, identifier)
	count := p.count
	p.mu.Unlock()

	observability.WithIdentifier(p.logger, identifier).Debug("engine enqueued", slog.Int("count", count))
	p.events.Post(events.PoolEnqueued, Payload{Identifier: identifier, Count: count})
}

// Dequeue removes and returns the oldest engine pooled under identifier.
func (p *Pool) Dequeue(identifier string) (engine.Engine, bool) {
	p.mu.Lock()

	p.stats.TotalDequeued++
	list := p.entries[identifier]
	if len(list) == 0 {
		p.stats.Misses++
		p.replenishLocked(identifier)
		count := p.count
		p.mu.Unlock()

		observability.WithIdentifier(p.logger, identifier).Debug("engine pool miss", slog.Int("count", count))
		p.events.Post(events.PoolMissed, Payload{Identifier: identifier, Count: count})
		return nil, false
	}

	ent := list[0]
	p.removeAtLocked(identifier, 0)
	p.stats.Hits++
	ent.engine.DidDequeueForReuse()
	p.replenishLocked(identifier)
	count := p.count
	p.mu.Unlock()

	observability.WithIdentifier(p.logger, identifier).Debug("engine pool hit", slog.Int("count", count))
	p.events.Post(events.PoolDequeued, Payload{Identifier: identifier, Count: count})
	return ent.engine, true
}

// Fill creates up to n engines under identifier, bounded by both capacity
// limits. It returns the number created.
func (p *Pool) Fill(n int, identifier string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.createLocked(n, identifier)
}

// Clear releases every pooled engine.
func (p *Pool) Clear() {
	p.mu.Lock()
	released := p.count
	for identifier, list := range p.entries {
		for _, ent := range list {
			p.discardLocked(ent)
		}
		delete(p.entries, identifier)
	}
	p.count = 0
	p.mu.Unlock()

	p.logger.Info("engine pool cleared", slog.Int("released", released))
	p.events.Post(events.PoolCleared, Payload{Count: 0})
}

// ClearIdentifier releases the engines pooled under identifier.
func (p *Pool) ClearIdentifier(identifier string) {
	p.mu.Lock()
	list := p.entries[identifier]
	for _, ent := range list {
		p.discardLocked(ent)
	}
	delete(p.entries, identifier)
	p.count -= len(list)
	count := p.count
	p.mu.Unlock()

	observability.WithIdentifier(p.logger, identifier).Debug("engine pool identifier cleared",
		slog.Int("released", len(list)),
	)
	p.events.Post(events.PoolCleared, Payload{Identifier: identifier, Count: count})
}

// Attach clears the pool on memory pressure and backgrounding. The returned
// function detaches it.
func (p *Pool) Attach(source lifecycle.Source) (detach func()) {
	return source.Subscribe(func(sig lifecycle.Signal) {
		switch sig {
		case lifecycle.MemoryPressure, lifecycle.Background:
			p.Clear()
		}
	})
}

// Count returns the total number of pooled engines.
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// CountFor returns the number of engines pooled under identifier.
func (p *Pool) CountFor(identifier string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries[identifier])
}

// Statistics returns a copy of the pool counters.
func (p *Pool) Statistics() Statistics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Config returns the current configuration.
func (p *Pool) Config() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// Snapshot is a point-in-time view of the pool.
type Snapshot struct {
	Count         int            `json:"count"`
	PerIdentifier map[string]int `json:"per_identifier"`
	Statistics    Statistics     `json:"statistics"`
	HitRate       float64        `json:"hit_rate"`
	Config        Config         `json:"config"`
}

// Snapshot returns the pool state for introspection.
func (p *Pool) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	per := make(map[string]int, len(p.entries))
	for identifier, list := range p.entries {
		per[identifier] = len(list)
	}
	return Snapshot{
		Count:         p.count,
		PerIdentifier: per,
		Statistics:    p.stats,
		HitRate:       p.stats.HitRate(),
		Config:        p.cfg,
	}
}

// SetMaxCapacity sets the global limit (minimum 1), evicting the oldest
// entries if the pool is now over it.
func (p *Pool) SetMaxCapacity(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.MaxCapacity = max(1, n)
	for p.count > p.cfg.MaxCapacity {
		if !p.evictOldestGlobalLocked() {
			break
		}
	}
}

// SetMaxPerIdentifier sets the per-identifier limit (minimum 1), evicting
// the oldest entries of any identifier now over it.
func (p *Pool) SetMaxPerIdentifier(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.MaxPerIdentifier = max(1, n)
	for _, identifier := range p.sortedIdentifiersLocked() {
		for len(p.entries[identifier]) > p.cfg.MaxPerIdentifier {
			p.evictOldestLocked(identifier)
		}
	}
}

// SetAutoReplenish toggles auto-replenishment.
func (p *Pool) SetAutoReplenish(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.AutoReplenish = enabled
}

// SetAutoReplenishThreshold sets the replenish threshold, clamped to [0,1].
func (p *Pool) SetAutoReplenishThreshold(threshold float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.AutoReplenishThreshold = min(1, max(0, threshold))
}

// SetIdleTimeout sets the idle timeout for entries enqueued from now on.
// Negative values are treated as zero.
func (p *Pool) SetIdleTimeout(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.IdleTimeout = max(0, d)
}

// storeLocked prepares e for storage and appends it under identifier.
func (p *Pool) storeLocked(e engine.Engine, identifier string) {
	e.PrepareForReuse()
	e.Pause()
	e.SetHidden(true)

	ent := &entry{
		id:         ulid.Make(),
		engine:     e,
		enqueuedAt: p.clock.Now(),
	}
	if p.cfg.IdleTimeout > 0 {
		id := ent.id
		ent.timer = p.clock.AfterFunc(p.cfg.IdleTimeout, func() {
			p.expire(identifier, id)
		})
	}

	p.entries[identifier] = append(p.entries[identifier], ent)
	p.count++
	p.stats.TotalEnqueued++
}

// createLocked builds up to n engines for identifier with the factory.
func (p *Pool) createLocked(n int, identifier string) int {
	if p.factory == nil {
		return 0
	}
	toCreate := min(n, p.cfg.MaxPerIdentifier-len(p.entries[identifier]), p.cfg.MaxCapacity-p.count)
	created := 0
	for range toCreate {
		e := p.factory()
		if e == nil {
			continue
		}
		p.storeLocked(e, identifier)
		created++
	}
	return created
}

// replenishLocked tops identifier up to MaxPerIdentifier once it falls
// below the replenish threshold.
func (p *Pool) replenishLocked(identifier string) {
	if !p.cfg.AutoReplenish || p.factory == nil {
		return
	}
	threshold := int(math.Round(float64(p.cfg.MaxPerIdentifier) * p.cfg.AutoReplenishThreshold))
	current := len(p.entries[identifier])
	if current >= threshold {
		return
	}
	if created := p.createLocked(p.cfg.MaxPerIdentifier-current, identifier); created > 0 {
		observability.WithIdentifier(p.logger, identifier).Debug("engine pool replenished",
			slog.Int("created", created),
		)
	}
}

// expire removes the entry with id if it is still pooled.
func (p *Pool) expire(identifier string, id ulid.ULID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	i := slices.IndexFunc(p.entries[identifier], func(ent *entry) bool { return ent.id == id })
	if i < 0 {
		return
	}
	ent := p.entries[identifier][i]
	p.removeAtLocked(identifier, i)
	p.releaseLocked(ent)
	p.stats.IdleCleanups++

	observability.WithIdentifier(p.logger, identifier).Debug("idle engine reclaimed")
}

// evictOldestLocked evicts the first entry pooled under identifier.
func (p *Pool) evictOldestLocked(identifier string) bool {
	list := p.entries[identifier]
	if len(list) == 0 {
		return false
	}
	ent := list[0]
	p.removeAtLocked(identifier, 0)
	p.releaseLocked(ent)
	p.stats.Evictions++
	return true
}

// evictOldestGlobalLocked evicts the entry with the earliest enqueue time.
// Identifiers are scanned in sorted order; the first strictly oldest wins.
func (p *Pool) evictOldestGlobalLocked() bool {
	oldest := ""
	var oldestAt time.Time
	found := false
	for _, identifier := range p.sortedIdentifiersLocked() {
		list := p.entries[identifier]
		if len(list) == 0 {
			continue
		}
		if !found || list[0].enqueuedAt.Before(oldestAt) {
			oldest = identifier
			oldestAt = list[0].enqueuedAt
			found = true
		}
	}
	if !found {
		return false
	}
	return p.evictOldestLocked(oldest)
}

func (p *Pool) sortedIdentifiersLocked() []string {
	ids := make([]string, 0, len(p.entries))
	for identifier := range p.entries {
		ids = append(ids, identifier)
	}
	slices.Sort(ids)
	return ids
}

// removeAtLocked unlinks entry i of identifier and stops its timer.
func (p *Pool) removeAtLocked(identifier string, i int) {
	list := p.entries[identifier]
	ent := list[i]
	if ent.timer != nil {
		ent.timer.Stop()
	}
	list = slices.Delete(list, i, i+1)
	if len(list) == 0 {
		delete(p.entries, identifier)
	} else {
		p.entries[identifier] = list
	}
	p.count--
}

// discardLocked stops the timer of an entry being dropped wholesale.
func (p *Pool) discardLocked(ent *entry) {
	if ent.timer != nil {
		ent.timer.Stop()
	}
	p.releaseLocked(ent)
}

// releaseLocked detaches an engine that leaves the pool without an owner.
func (p *Pool) releaseLocked(ent *entry) {
	ent.engine.Pause()
	ent.engine.ClearItem()
	ent.engine.SetHidden(true)
}
