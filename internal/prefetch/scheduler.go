// Package prefetch fetches byte prefixes of upcoming feed items ahead of
// the scroll position, under a priority and window policy.
package prefetch

import (
	"cmp"
	"container/list"
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jmylchreest/feedplay/internal/observability"
)

// inboxSize bounds commands waiting for the actor.
const inboxSize = 256

// Scheduler owns all prefetch state on a single goroutine. Public methods
// post commands to it; only Status and Snapshot wait for a reply.
type Scheduler struct {
	cfg      Config
	fetcher  Fetcher
	resolver Resolver
	logger   *slog.Logger

	inbox    chan func(*state)
	quit     chan struct{}
	stopping chan struct{}
	done     chan struct{}
	workers  sync.WaitGroup

	startOnce sync.Once
	closeOnce sync.Once
}

// NewScheduler creates a scheduler that transfers with fetcher. It does
// nothing until Start is called or the first command arrives.
func NewScheduler(cfg Config, fetcher Fetcher) *Scheduler {
	return &Scheduler{
		cfg:      cfg.Normalize(),
		fetcher:  fetcher,
		logger:   slog.Default(),
		inbox:    make(chan func(*state), inboxSize),
		quit:     make(chan struct{}),
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// WithResolver sets the resolver used to route transfers through a proxy.
func (s *Scheduler) WithResolver(r Resolver) *Scheduler {
	s.resolver = r
	return s
}

// WithLogger sets the logger.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger
	return s
}

// Config returns the normalised configuration.
func (s *Scheduler) Config() Config {
	return s.cfg
}

// Start launches the actor. Cancelling ctx stops it like Close.
// Calls after the first are no-ops.
func (s *Scheduler) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		go s.loop(ctx)
	})
}

// Run starts the scheduler and blocks until ctx is cancelled or Close is
// called.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start(ctx)
	select {
	case <-ctx.Done():
		s.Close()
	case <-s.done:
	}
	return nil
}

// Close cancels every transfer and stops the actor.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() {
		close(s.quit)
	})
	s.Start(context.Background())
	<-s.done
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	st := newState(s)
	for {
		select {
		case <-ctx.Done():
			st.shutdown()
			return
		case <-s.quit:
			st.shutdown()
			return
		case cmd := <-s.inbox:
			cmd(st)
		}
	}
}

// send posts cmd to the actor, reporting false once it has stopped.
func (s *Scheduler) send(cmd func(*state)) bool {
	s.Start(context.Background())
	select {
	case <-s.stopping:
		return false
	default:
	}
	select {
	case s.inbox <- cmd:
		return true
	case <-s.stopping:
		return false
	}
}

// UpdateWindow reports the ordered feed and the focused index. Items in
// [focus-WindowBehind, focus+WindowAhead] are queued; everything else is
// dropped or cancelled.
func (s *Scheduler) UpdateWindow(urls []string, focus int) {
	urls = slices.Clone(urls)
	s.send(func(st *state) { st.updateWindow(urls, focus) })
}

// Preload queues url at priority, raising the priority of a queued entry.
func (s *Scheduler) Preload(url string, priority Priority) {
	s.send(func(st *state) {
		st.enqueue(url, priority)
		st.schedule()
	})
}

// Prioritize makes url urgent, preempting the lowest-priority transfer
// when all slots are busy.
func (s *Scheduler) Prioritize(url string) {
	s.send(func(st *state) { st.prioritize(url) })
}

// Cancel drops url from the queue and aborts its transfer.
func (s *Scheduler) Cancel(url string) {
	s.send(func(st *state) {
		st.cancel(url)
		st.schedule()
	})
}

// CancelAll aborts every transfer and forgets all state.
func (s *Scheduler) CancelAll() {
	s.send(func(st *state) { st.reset() })
}

// Status returns the state of url. A stopped scheduler reports idle.
func (s *Scheduler) Status(url string) Status {
	reply := make(chan Status, 1)
	if !s.send(func(st *state) { reply <- st.status(url) }) {
		return Status{}
	}
	select {
	case status := <-reply:
		return status
	case <-s.done:
		return Status{}
	}
}

// Snapshot returns a copy of the scheduler state.
func (s *Scheduler) Snapshot() Snapshot {
	reply := make(chan Snapshot, 1)
	if !s.send(func(st *state) { reply <- st.snapshot() }) {
		return Snapshot{Config: s.cfg}
	}
	select {
	case snap := <-reply:
		return snap
	case <-s.done:
		return Snapshot{Config: s.cfg}
	}
}

// ProxyURL rewrites url through the resolver, if one is configured.
func (s *Scheduler) ProxyURL(url string) string {
	if s.resolver == nil {
		return url
	}
	return s.resolver.ProxyURL(url)
}

// Snapshot describes the scheduler at a point in time.
type Snapshot struct {
	Config    Config            `json:"config"`
	Queued    []QueuedItem      `json:"queued"`
	Running   []RunningItem     `json:"running"`
	Completed []string          `json:"completed"`
	Failed    map[string]string `json:"failed"`
	Tracked   int               `json:"tracked"`
	Stats     Statistics        `json:"stats"`
}

// QueuedItem is a waiting transfer, listed in run order.
type QueuedItem struct {
	URL      string   `json:"url"`
	Priority Priority `json:"priority"`
}

// RunningItem is an in-flight transfer.
type RunningItem struct {
	URL      string   `json:"url"`
	Priority Priority `json:"priority"`
	Bytes    int64    `json:"bytes"`
}

// Statistics counts transfer outcomes since the scheduler started.
type Statistics struct {
	Started   int64 `json:"started"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
	Preempted int64 `json:"preempted"`
	Bytes     int64 `json:"bytes"`
}

type queueEntry struct {
	priority Priority
	seq      uint64
}

type handle struct {
	priority Priority
	seq      uint64
	bytes    atomic.Int64
	cancel   context.CancelFunc
}

// state is owned by the actor goroutine.
type state struct {
	s    *Scheduler
	ctx  context.Context
	stop context.CancelFunc

	seq       uint64
	queued    map[string]queueEntry
	running   map[string]*handle
	completed map[string]struct{}
	failed    map[string]string
	order     *list.List
	tracked   map[string]*list.Element
	stats     Statistics
}

func newState(s *Scheduler) *state {
	ctx, cancel := context.WithCancel(context.Background())
	st := &state{s: s, ctx: ctx, stop: cancel}
	st.clear()
	return st
}

func (st *state) clear() {
	st.queued = make(map[string]queueEntry)
	st.running = make(map[string]*handle)
	st.completed = make(map[string]struct{})
	st.failed = make(map[string]string)
	st.order = list.New()
	st.tracked = make(map[string]*list.Element)
}

func (st *state) nextSeq() uint64 {
	st.seq++
	return st.seq
}

func (st *state) updateWindow(urls []string, focus int) {
	if len(urls) == 0 {
		return
	}
	cfg := st.s.cfg
	lower := max(0, focus-cfg.WindowBehind)
	upper := min(len(urls)-1, focus+cfg.WindowAhead)
	if lower > upper {
		return
	}

	window := urls[lower : upper+1]
	inWindow := make(map[string]struct{}, len(window))
	for _, u := range window {
		inWindow[u] = struct{}{}
	}

	for u := range st.queued {
		if _, ok := inWindow[u]; !ok {
			st.purge(u)
		}
	}
	for u, h := range st.running {
		if _, ok := inWindow[u]; !ok {
			h.cancel()
			st.stats.Cancelled++
			st.purge(u)
		}
	}

	for i, u := range window {
		index := lower + i
		priority := Normal
		switch {
		case index == focus:
			priority = Urgent
		case index < focus:
			priority = Low
		}
		st.enqueue(u, priority)
	}

	st.schedule()
}

// enqueue queues url unless it is running or completed. Queued entries
// only ever have their priority raised.
func (st *state) enqueue(url string, priority Priority) {
	if url == "" {
		return
	}
	if _, ok := st.completed[url]; ok {
		st.touch(url)
		return
	}
	if _, ok := st.running[url]; ok {
		st.touch(url)
		return
	}

	delete(st.failed, url)
	if entry, ok := st.queued[url]; ok {
		if priority > entry.priority {
			entry.priority = priority
			st.queued[url] = entry
		}
	} else {
		st.queued[url] = queueEntry{priority: priority, seq: st.nextSeq()}
	}
	st.touch(url)
}

func (st *state) prioritize(url string) {
	if h, ok := st.running[url]; ok {
		h.priority = Urgent
		st.touch(url)
		return
	}
	if _, ok := st.completed[url]; ok {
		st.touch(url)
		return
	}

	st.enqueue(url, Urgent)

	if len(st.running) >= st.s.cfg.MaxConcurrent {
		if victim, h := st.lowestRunning(); h != nil && h.priority < Urgent {
			h.cancel()
			delete(st.running, victim)
			st.queued[victim] = queueEntry{priority: Low, seq: st.nextSeq()}
			st.stats.Preempted++
			observability.WithURL(st.s.logger, victim).Debug("prefetch preempted", slog.String("for", url))
		}
	}

	st.schedule()
}

// lowestRunning returns the running transfer with the lowest priority,
// preferring the most recently queued among equals.
func (st *state) lowestRunning() (string, *handle) {
	var (
		victim string
		lowest *handle
	)
	for u, h := range st.running {
		if lowest == nil || h.priority < lowest.priority ||
			(h.priority == lowest.priority && h.seq > lowest.seq) {
			victim, lowest = u, h
		}
	}
	return victim, lowest
}

func (st *state) cancel(url string) {
	if h, ok := st.running[url]; ok {
		h.cancel()
		st.stats.Cancelled++
	}
	st.purge(url)
}

func (st *state) reset() {
	for _, h := range st.running {
		h.cancel()
		st.stats.Cancelled++
	}
	st.clear()
}

func (st *state) shutdown() {
	st.reset()
	st.stop()
	close(st.s.stopping)
	st.s.workers.Wait()
}

// schedule starts queued transfers, highest priority first and FIFO within
// a priority, until every slot is busy.
func (st *state) schedule() {
	for len(st.running) < st.s.cfg.MaxConcurrent && len(st.queued) > 0 {
		var (
			next  string
			entry queueEntry
			found bool
		)
		for u, e := range st.queued {
			if !found || e.priority > entry.priority ||
				(e.priority == entry.priority && e.seq < entry.seq) {
				next, entry, found = u, e, true
			}
		}
		delete(st.queued, next)
		st.start(next, entry)
	}
}

func (st *state) start(url string, entry queueEntry) {
	ctx, cancel := context.WithCancel(st.ctx)
	h := &handle{priority: entry.priority, seq: entry.seq, cancel: cancel}
	st.running[url] = h
	st.stats.Started++
	st.touch(url)

	target := url
	if st.s.resolver != nil {
		target = st.s.resolver.ProxyURL(url)
	}

	s := st.s
	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		err := s.fetcher.Fetch(ctx, target, s.cfg.BytesPerURL, func(n int64) {
			h.bytes.Store(n)
		})
		select {
		case s.inbox <- func(st *state) { st.finish(url, h, err) }:
		case <-s.stopping:
		}
	}()
}

// finish records the outcome of a transfer started by h. Outcomes for
// handles that are no longer current are ignored.
func (st *state) finish(url string, h *handle, err error) {
	if current, ok := st.running[url]; !ok || current != h {
		return
	}
	h.cancel()
	delete(st.running, url)
	st.stats.Bytes += h.bytes.Load()

	logger := observability.WithURL(st.s.logger, url).With(slog.Int64("bytes", h.bytes.Load()))
	switch {
	case err == nil:
		st.completed[url] = struct{}{}
		st.stats.Completed++
		st.touch(url)
		logger.Debug("prefetch completed")
	case errors.Is(err, context.Canceled):
		st.stats.Cancelled++
		st.purge(url)
	default:
		st.failed[url] = err.Error()
		st.stats.Failed++
		st.touch(url)
		observability.WithError(logger, err).Warn("prefetch failed")
	}

	st.schedule()
}

func (st *state) status(url string) Status {
	if h, ok := st.running[url]; ok {
		return Status{Kind: StatusRunning, Bytes: h.bytes.Load()}
	}
	if _, ok := st.queued[url]; ok {
		return Status{Kind: StatusQueued}
	}
	if _, ok := st.completed[url]; ok {
		return Status{Kind: StatusCompleted}
	}
	if reason, ok := st.failed[url]; ok {
		return Status{Kind: StatusFailed, Reason: reason}
	}
	return Status{Kind: StatusIdle}
}

// touch moves url to the most recent end of the ledger and trims it.
func (st *state) touch(url string) {
	if el, ok := st.tracked[url]; ok {
		st.order.MoveToBack(el)
	} else {
		st.tracked[url] = st.order.PushBack(url)
	}
	st.trim()
}

// trim forgets the oldest non-running URLs until the ledger fits.
func (st *state) trim() {
	for st.order.Len() > st.s.cfg.MaxTrackedURLs {
		evicted := false
		for el := st.order.Front(); el != nil; el = el.Next() {
			u := el.Value.(string)
			if _, running := st.running[u]; running {
				continue
			}
			st.purge(u)
			evicted = true
			break
		}
		if !evicted {
			return
		}
	}
}

func (st *state) purge(url string) {
	delete(st.queued, url)
	delete(st.running, url)
	delete(st.completed, url)
	delete(st.failed, url)
	if el, ok := st.tracked[url]; ok {
		st.order.Remove(el)
		delete(st.tracked, url)
	}
}

func (st *state) snapshot() Snapshot {
	snap := Snapshot{
		Config:    st.s.cfg,
		Queued:    make([]QueuedItem, 0, len(st.queued)),
		Running:   make([]RunningItem, 0, len(st.running)),
		Completed: make([]string, 0, len(st.completed)),
		Failed:    make(map[string]string, len(st.failed)),
		Tracked:   st.order.Len(),
		Stats:     st.stats,
	}

	type ordered struct {
		QueuedItem
		seq uint64
	}
	queue := make([]ordered, 0, len(st.queued))
	for u, e := range st.queued {
		queue = append(queue, ordered{QueuedItem{URL: u, Priority: e.priority}, e.seq})
	}
	slices.SortFunc(queue, func(a, b ordered) int {
		if a.Priority != b.Priority {
			return int(b.Priority) - int(a.Priority)
		}
		return cmp.Compare(a.seq, b.seq)
	})
	for _, q := range queue {
		snap.Queued = append(snap.Queued, q.QueuedItem)
	}

	for u, h := range st.running {
		snap.Running = append(snap.Running, RunningItem{URL: u, Priority: h.priority, Bytes: h.bytes.Load()})
	}
	slices.SortFunc(snap.Running, func(a, b RunningItem) int {
		return strings.Compare(a.URL, b.URL)
	})

	for u := range st.completed {
		snap.Completed = append(snap.Completed, u)
	}
	slices.Sort(snap.Completed)

	for u, reason := range st.failed {
		snap.Failed[u] = reason
	}
	return snap
}
