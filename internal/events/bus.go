// Package events provides a fire-and-forget notification bus used by the
// pool and pre-render manager to announce lifecycle transitions.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event names posted by feedplay components.
const (
	PoolEnqueued = "engine_pool.enqueued"
	PoolDequeued = "engine_pool.dequeued"
	PoolMissed   = "engine_pool.missed"
	PoolCleared  = "engine_pool.cleared"

	PreRenderStarted = "prerender.started"
	PreRenderReady   = "prerender.ready"
	PreRenderTimeout = "prerender.timeout"
	PreRenderFailed  = "prerender.failed"
)

// DefaultBufferSize is the per-subscription event buffer.
const DefaultBufferSize = 100

// Event is a single notification.
type Event struct {
	Name    string    `json:"name"`
	Payload any       `json:"payload,omitempty"`
	Time    time.Time `json:"time"`
}

// Poster posts notifications. Posting never blocks.
type Poster interface {
	Post(name string, payload any)
}

// Nop discards every notification.
var Nop Poster = nopPoster{}

type nopPoster struct{}

func (nopPoster) Post(string, any) {}

// Subscription receives events matching its names.
type Subscription struct {
	ID     string
	names  map[string]struct{}
	events chan Event
	bus    *Bus
}

// C returns the event channel. It is closed on Unsubscribe or bus Close.
func (s *Subscription) C() <-chan Event {
	return s.events
}

// Unsubscribe removes the subscription and closes its channel.
func (s *Subscription) Unsubscribe() {
	s.bus.unsubscribe(s.ID)
}

func (s *Subscription) matches(name string) bool {
	if len(s.names) == 0 {
		return true
	}
	_, ok := s.names[name]
	return ok
}

// Bus fans notifications out to subscriptions.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscription
	bufferSize  int
	closed      bool
	logger      *slog.Logger
}

// NewBus creates an event bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subscribers: make(map[string]*Subscription),
		bufferSize:  DefaultBufferSize,
		logger:      logger,
	}
}

// WithBufferSize sets the buffer used by subsequent subscriptions.
func (b *Bus) WithBufferSize(n int) *Bus {
	if n > 0 {
		b.bufferSize = n
	}
	return b
}

// Post delivers an event to every matching subscription. Subscribers whose
// buffers are full miss the event.
func (b *Bus) Post(name string, payload any) {
	event := Event{Name: name, Payload: payload, Time: time.Now()}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, sub := range b.subscribers {
		if !sub.matches(name) {
			continue
		}
		select {
		case sub.events <- event:
		default:
			b.logger.Warn("subscriber event channel full, dropping event",
				slog.String("subscriber_id", sub.ID),
				slog.String("event", name),
			)
		}
	}
}

// Subscribe registers interest in the named events, or all events when no
// names are given.
func (b *Bus) Subscribe(names ...string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		ID:     uuid.NewString(),
		names:  make(map[string]struct{}, len(names)),
		events: make(chan Event, b.bufferSize),
		bus:    b,
	}
	for _, name := range names {
		sub.names[name] = struct{}{}
	}

	if b.closed {
		close(sub.events)
		return sub
	}

	b.subscribers[sub.ID] = sub
	b.logger.Debug("subscriber added", slog.String("subscriber_id", sub.ID))
	return sub
}

func (b *Bus) unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[id]; ok {
		close(sub.events)
		delete(b.subscribers, id)
		b.logger.Debug("subscriber removed", slog.String("subscriber_id", id))
	}
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes every subscription. Later posts are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subscribers {
		close(sub.events)
		delete(b.subscribers, id)
	}
}
