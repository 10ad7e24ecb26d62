package testutil

import (
	"sync"
	"time"

	"github.com/jmylchreest/feedplay/internal/engine"
)

// FakeEngine is an engine.Engine whose readiness is driven by the test.
// Every method call is recorded by name.
type FakeEngine struct {
	ID int

	mu       sync.Mutex
	url      string
	load     *engine.Load
	calls    []string
	playing  bool
	hidden   bool
	looping  bool
	volume   float32
	position time.Duration
	reusable bool
}

// NewFakeEngine creates a reusable fake engine.
func NewFakeEngine(id int) *FakeEngine {
	return &FakeEngine{
		ID:       id,
		load:     engine.NewLoad(),
		volume:   1,
		reusable: true,
	}
}

// FakeFactory hands out sequentially numbered fake engines.
type FakeFactory struct {
	mu      sync.Mutex
	created []*FakeEngine
}

// New implements engine.Factory.
func (f *FakeFactory) New() engine.Engine {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := NewFakeEngine(len(f.created) + 1)
	f.created = append(f.created, e)
	return e
}

// Created returns every engine handed out so far.
func (f *FakeFactory) Created() []*FakeEngine {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*FakeEngine, len(f.created))
	copy(out, f.created)
	return out
}

func (e *FakeEngine) record(call string) {
	e.calls = append(e.calls, call)
}

// SetURL implements engine.Engine.
func (e *FakeEngine) SetURL(url string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("SetURL")
	e.url = url
	e.load = engine.NewLoad()
}

// URL implements engine.Engine.
func (e *FakeEngine) URL() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.url
}

// Readiness implements engine.Engine.
func (e *FakeEngine) Readiness() engine.Readiness {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.load.Readiness()
}

// Play implements engine.Engine.
func (e *FakeEngine) Play() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("Play")
	e.playing = true
}

// Pause implements engine.Engine.
func (e *FakeEngine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("Pause")
	e.playing = false
}

// Stop implements engine.Engine.
func (e *FakeEngine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("Stop")
	e.playing = false
	e.position = 0
}

// Seek implements engine.Engine.
func (e *FakeEngine) Seek(position time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("Seek")
	e.position = position
	return nil
}

// ClearItem implements engine.Engine.
func (e *FakeEngine) ClearItem() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("ClearItem")
	e.url = ""
	e.load = engine.NewLoad()
}

// SetVolume implements engine.Engine.
func (e *FakeEngine) SetVolume(volume float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("SetVolume")
	e.volume = volume
}

// SetLooping implements engine.Engine.
func (e *FakeEngine) SetLooping(looping bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("SetLooping")
	e.looping = looping
}

// SetHidden implements engine.Engine.
func (e *FakeEngine) SetHidden(hidden bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("SetHidden")
	e.hidden = hidden
}

// PrepareForReuse implements engine.Engine.
func (e *FakeEngine) PrepareForReuse() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("PrepareForReuse")
}

// DidDequeueForReuse implements engine.Engine.
func (e *FakeEngine) DidDequeueForReuse() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("DidDequeueForReuse")
}

// CanReuse implements engine.Engine.
func (e *FakeEngine) CanReuse() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reusable
}

// SetReusable controls the CanReuse answer.
func (e *FakeEngine) SetReusable(reusable bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reusable = reusable
}

// ReadyToPlay fires the ready-to-play signal of the current item.
func (e *FakeEngine) ReadyToPlay() {
	e.mu.Lock()
	load := e.load
	e.mu.Unlock()
	load.ReadyToPlay.Fire()
}

// ReadyForDisplay fires the ready-for-display signal of the current item.
func (e *FakeEngine) ReadyForDisplay() {
	e.mu.Lock()
	load := e.load
	e.mu.Unlock()
	load.ReadyForDisplay.Fire()
}

// Ready fires both readiness signals.
func (e *FakeEngine) Ready() {
	e.ReadyToPlay()
	e.ReadyForDisplay()
}

// FailLoad delivers err as the current item's load failure.
func (e *FakeEngine) FailLoad(err error) {
	e.mu.Lock()
	load := e.load
	e.mu.Unlock()
	load.Fail(err)
}

// Calls returns the recorded method names, in order.
func (e *FakeEngine) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.calls))
	copy(out, e.calls)
	return out
}

// Called reports whether method was invoked at least once.
func (e *FakeEngine) Called(method string) bool {
	for _, c := range e.Calls() {
		if c == method {
			return true
		}
	}
	return false
}

// ResetCalls clears the call log.
func (e *FakeEngine) ResetCalls() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = nil
}

// Playing reports whether Play was the last transport call.
func (e *FakeEngine) Playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

// Hidden reports the surface visibility.
func (e *FakeEngine) Hidden() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hidden
}

// Volume returns the last volume set.
func (e *FakeEngine) Volume() float32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume
}

// Looping returns the last looping flag set.
func (e *FakeEngine) Looping() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.looping
}

var _ engine.Engine = (*FakeEngine)(nil)
