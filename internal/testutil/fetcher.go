package testutil

import (
	"context"
	"sync"
	"time"
)

// FakeFetcher is a prefetch fetcher whose fetches block until the test
// completes them with Complete, or until their context is cancelled.
type FakeFetcher struct {
	mu        sync.Mutex
	gates     map[string]chan error
	calls     []string
	active    int
	maxActive int
	started   chan string
}

// NewFakeFetcher creates an empty fake fetcher.
func NewFakeFetcher() *FakeFetcher {
	return &FakeFetcher{
		gates:   make(map[string]chan error),
		started: make(chan string, 256),
	}
}

func (f *FakeFetcher) gateLocked(url string) chan error {
	gate, ok := f.gates[url]
	if !ok {
		gate = make(chan error, 1)
		f.gates[url] = gate
	}
	return gate
}

// Fetch blocks until Complete(url, ...) or ctx is cancelled. A nil
// completion reports limit bytes of progress before returning.
func (f *FakeFetcher) Fetch(ctx context.Context, url string, limit int64, progress func(int64)) error {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	gate := f.gateLocked(url)
	f.active++
	f.maxActive = max(f.maxActive, f.active)
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	f.started <- url

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-gate:
		if err == nil && progress != nil {
			progress(limit)
		}
		return err
	}
}

// Complete finishes the next (or current) fetch of url with err.
func (f *FakeFetcher) Complete(url string, err error) {
	f.mu.Lock()
	gate := f.gateLocked(url)
	f.mu.Unlock()
	gate <- err
}

// NextStarted waits for the next fetch to start and returns its URL.
func (f *FakeFetcher) NextStarted(timeout time.Duration) (string, bool) {
	select {
	case url := <-f.started:
		return url, true
	case <-time.After(timeout):
		return "", false
	}
}

// Calls returns every URL passed to Fetch, in order.
func (f *FakeFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// MaxActive returns the highest number of concurrent fetches observed.
func (f *FakeFetcher) MaxActive() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxActive
}

// Active returns the number of fetches currently blocked.
func (f *FakeFetcher) Active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}
