// Package engine defines the playback engine contract managed by the pool
// and pre-render manager, plus a headless implementation that probes media
// over HTTP.
package engine

import (
	"time"
)

// Readiness carries the one-shot signals for the item most recently loaded
// with SetURL. Each channel is closed at most once; Failed delivers at most
// one error.
type Readiness struct {
	// ReadyToPlay is closed once the item can start playback.
	ReadyToPlay <-chan struct{}
	// ReadyForDisplay is closed once the first frame is available.
	ReadyForDisplay <-chan struct{}
	// Failed receives the load error, if any.
	Failed <-chan error
}

// Engine is a reusable unit of playback capability: a media player plus
// its render surface. An Engine has exactly one owner at a time.
type Engine interface {
	// SetURL loads url as the current item and resets Readiness.
	SetURL(url string)
	// URL returns the current item, or "" when none is loaded.
	URL() string
	// Readiness returns the signals for the current item.
	Readiness() Readiness

	Play()
	Pause()
	Stop()
	Seek(position time.Duration) error

	// ClearItem drops the current item.
	ClearItem()

	SetVolume(volume float32)
	SetLooping(looping bool)
	// SetHidden toggles the render surface.
	SetHidden(hidden bool)

	// PrepareForReuse is called before the engine is stored in a pool.
	PrepareForReuse()
	// DidDequeueForReuse is called when the engine leaves a pool.
	DidDequeueForReuse()
	// CanReuse reports whether the engine may be pooled.
	CanReuse() bool
}

// Factory creates a fresh engine.
type Factory func() Engine
