// Package lifecycle distributes host lifecycle signals (memory pressure,
// background, foreground) to the components that release resources on them.
package lifecycle

import (
	"log/slog"
	"slices"
	"sync"
)

// Signal is a host lifecycle notification.
type Signal int

const (
	MemoryPressure Signal = iota + 1
	Background
	Foreground
)

// String returns the signal name.
func (s Signal) String() string {
	switch s {
	case MemoryPressure:
		return "memory_pressure"
	case Background:
		return "background"
	case Foreground:
		return "foreground"
	default:
		return "unknown"
	}
}

// Source is anything handlers can subscribe to for lifecycle signals.
type Source interface {
	Subscribe(fn func(Signal)) (unsubscribe func())
}

// Hub fans lifecycle signals out to subscribed handlers.
type Hub struct {
	mu       sync.Mutex
	handlers map[uint64]func(Signal)
	nextID   uint64
	logger   *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		handlers: make(map[uint64]func(Signal)),
		logger:   logger,
	}
}

// Subscribe registers fn and returns a function that removes it.
func (h *Hub) Subscribe(fn func(Signal)) (unsubscribe func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	h.handlers[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.handlers, id)
			h.mu.Unlock()
		})
	}
}

// Emit calls every handler with sig, in subscription order. Handlers run
// on the caller's goroutine without the hub lock held.
func (h *Hub) Emit(sig Signal) {
	h.mu.Lock()
	ids := make([]uint64, 0, len(h.handlers))
	for id := range h.handlers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	handlers := make([]func(Signal), 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, h.handlers[id])
	}
	h.mu.Unlock()

	h.logger.Info("lifecycle signal",
		slog.String("signal", sig.String()),
		slog.Int("handlers", len(handlers)),
	)

	for _, fn := range handlers {
		fn(sig)
	}
}
