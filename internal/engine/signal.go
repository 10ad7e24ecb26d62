package engine

import "sync"

// Signal is a one-shot broadcast backed by a closed channel.
type Signal struct {
	once sync.Once
	ch   chan struct{}
}

// NewSignal creates an unfired signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// Fire closes the signal channel. Calls after the first are no-ops.
func (s *Signal) Fire() {
	s.once.Do(func() { close(s.ch) })
}

// C returns the channel closed by Fire.
func (s *Signal) C() <-chan struct{} {
	return s.ch
}

// Fired reports whether Fire has been called.
func (s *Signal) Fired() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// Load holds the readiness signals of a single item load.
type Load struct {
	ReadyToPlay     *Signal
	ReadyForDisplay *Signal

	failOnce sync.Once
	failed   chan error
}

// NewLoad creates the signals for a new item load.
func NewLoad() *Load {
	return &Load{
		ReadyToPlay:     NewSignal(),
		ReadyForDisplay: NewSignal(),
		failed:          make(chan error, 1),
	}
}

// Fail delivers err once. Later calls are ignored.
func (l *Load) Fail(err error) {
	l.failOnce.Do(func() { l.failed <- err })
}

// Readiness exposes the load as receive-only channels.
func (l *Load) Readiness() Readiness {
	return Readiness{
		ReadyToPlay:     l.ReadyToPlay.C(),
		ReadyForDisplay: l.ReadyForDisplay.C(),
		Failed:          l.failed,
	}
}
