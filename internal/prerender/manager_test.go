package prerender

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/feedplay/internal/clock"
	"github.com/jmylchreest/feedplay/internal/events"
	"github.com/jmylchreest/feedplay/internal/lifecycle"
	"github.com/jmylchreest/feedplay/internal/pool"
	"github.com/jmylchreest/feedplay/internal/testutil"
)

type transition struct {
	identifier string
	from, to   State
}

type recorder struct {
	mu          sync.Mutex
	transitions []transition
}

func (r *recorder) observe(identifier string, from, to State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, transition{identifier, from, to})
}

func (r *recorder) path(identifier string) []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []State
	for _, tr := range r.transitions {
		if tr.identifier != identifier {
			continue
		}
		if len(out) == 0 || out[len(out)-1] != tr.from {
			out = append(out, tr.from)
		}
		out = append(out, tr.to)
	}
	return out
}

type harness struct {
	manager *Manager
	pool    *pool.Pool
	factory *testutil.FakeFactory
	clock   *clock.Manual
	bus     *events.Bus
	rec     *recorder
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		factory: &testutil.FakeFactory{},
		clock:   clock.NewManual(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)),
		bus:     events.NewBus(nil),
		rec:     &recorder{},
	}
	h.pool = pool.New(pool.Config{MaxCapacity: 8, MaxPerIdentifier: 8}).WithClock(h.clock)
	h.pool.SetFactory(h.factory.New)
	h.manager = NewManager(h.pool, cfg).
		WithClock(h.clock).
		WithEvents(h.bus).
		WithObserver(h.rec.observe)
	t.Cleanup(h.manager.Close)
	return h
}

func (h *harness) engine(t *testing.T, i int) *testutil.FakeEngine {
	t.Helper()
	created := h.factory.Created()
	require.Greater(t, len(created), i)
	return created[i]
}

func (h *harness) waitState(t *testing.T, identifier string, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.manager.State(identifier) == want
	}, time.Second, time.Millisecond, "waiting for %s to reach %s", identifier, want)
}

func drain(sub *events.Subscription) []string {
	var names []string
	for len(sub.C()) > 0 {
		names = append(names, (<-sub.C()).Name)
	}
	return names
}

func TestManager_ConsumeScenario(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	require.NoError(t, h.manager.PreRender("http://cdn.test/a.mp4", "a"))
	assert.Equal(t, Preparing, h.manager.State("a"))

	e := h.engine(t, 0)
	assert.Equal(t, float32(0), e.Volume())
	assert.True(t, e.Looping())
	assert.Equal(t, "http://cdn.test/a.mp4", e.URL())

	e.ReadyToPlay()
	h.waitState(t, "a", ReadyToPlay)
	assert.True(t, e.Playing(), "playback starts muted once ready")
	assert.True(t, h.manager.IsPreRendered("a"))

	session, ok := h.manager.ConsumePreRendered("a")
	require.True(t, ok)
	require.NotNil(t, session)
	assert.Same(t, e, session.Engine.(*testutil.FakeEngine))
	assert.Equal(t, ReadyToPlay, session.State)
	assert.False(t, e.Playing())

	assert.Equal(t, Idle, h.manager.State("a"))
	assert.Zero(t, h.pool.Count(), "consumed engines are not pooled")
	assert.Zero(t, h.clock.Pending())
}

func TestManager_ReadyForDisplay(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	sub := h.bus.Subscribe(events.PreRenderStarted, events.PreRenderReady)

	require.NoError(t, h.manager.PreRender("u", "a"))
	e := h.engine(t, 0)
	e.Ready()

	h.waitState(t, "a", ReadyToDisplay)
	assert.False(t, e.Playing())
	assert.True(t, e.Called("Seek"))
	assert.Equal(t, []State{Idle, Preparing, ReadyToPlay, ReadyToDisplay}, h.rec.path("a"))

	require.Eventually(t, func() bool { return len(sub.C()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{events.PreRenderStarted, events.PreRenderReady}, drain(sub))
}

func TestManager_DisplayWithoutPlay(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	require.NoError(t, h.manager.PreRender("u", "a"))
	h.engine(t, 0).ReadyForDisplay()

	h.waitState(t, "a", ReadyToDisplay)
	assert.Equal(t, []State{Idle, Preparing, ReadyToDisplay}, h.rec.path("a"))
}

func TestManager_Timeout(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	sub := h.bus.Subscribe(events.PreRenderTimeout)

	require.NoError(t, h.manager.PreRender("u", "a"))
	e := h.engine(t, 0)

	h.clock.Advance(DefaultTimeout - time.Millisecond)
	assert.Equal(t, Preparing, h.manager.State("a"))

	h.clock.Advance(time.Millisecond)
	assert.Equal(t, Idle, h.manager.State("a"))
	assert.Equal(t, []State{Idle, Preparing, Expired}, h.rec.path("a"))
	assert.True(t, e.Called("Stop"))
	assert.Equal(t, 1, h.pool.CountFor(DefaultPoolIdentifier), "expired engine goes back to the pool")
	assert.Equal(t, []string{events.PreRenderTimeout}, drain(sub))
}

func TestManager_TimeoutDoesNotFireAfterReadiness(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	require.NoError(t, h.manager.PreRender("u", "a"))
	h.engine(t, 0).ReadyToPlay()
	h.waitState(t, "a", ReadyToPlay)

	h.clock.Advance(2 * DefaultTimeout)

	assert.Equal(t, ReadyToPlay, h.manager.State("a"))
	assert.NotContains(t, h.rec.path("a"), Expired)
}

func TestManager_StaleTimeoutIgnored(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	require.NoError(t, h.manager.PreRender("u1", "a"))
	h.clock.Advance(DefaultTimeout / 2)
	require.NoError(t, h.manager.PreRender("u2", "a"))

	h.clock.Advance(DefaultTimeout / 2)
	assert.Equal(t, Preparing, h.manager.State("a"), "the replaced entry's deadline must not expire the new one")

	h.clock.Advance(DefaultTimeout / 2)
	assert.Equal(t, Idle, h.manager.State("a"))
}

func TestManager_Replace(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	require.NoError(t, h.manager.PreRender("u1", "a"))
	require.NoError(t, h.manager.PreRender("u2", "a"))

	entries := h.manager.ActiveEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, "u2", entries[0].URL)

	e := h.engine(t, 0)
	assert.True(t, e.Called("Stop"))
	assert.Len(t, h.factory.Created(), 1, "replaced engine is recycled through the pool")
	assert.Equal(t, []State{Idle, Preparing, Cancelled, Idle, Preparing}, h.rec.path("a"))
}

func TestManager_CapacityEviction(t *testing.T) {
	h := newHarness(t, Config{MaxPreRenderCount: 2})

	require.NoError(t, h.manager.PreRender("ua", "a"))
	h.clock.Advance(time.Millisecond)
	require.NoError(t, h.manager.PreRender("ub", "b"))
	h.clock.Advance(time.Millisecond)
	require.NoError(t, h.manager.PreRender("uc", "c"))

	var ids []string
	for _, entry := range h.manager.ActiveEntries() {
		ids = append(ids, entry.Identifier)
	}
	assert.Equal(t, []string{"b", "c"}, ids)
	assert.Equal(t, Idle, h.manager.State("a"))
}

func TestManager_Failure(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	sub := h.bus.Subscribe(events.PreRenderFailed)

	require.NoError(t, h.manager.PreRender("u", "a"))
	h.engine(t, 0).FailLoad(errors.New("404"))

	h.waitState(t, "a", Idle)
	assert.Equal(t, []State{Idle, Preparing, Failed}, h.rec.path("a"))
	require.Eventually(t, func() bool { return len(sub.C()) == 1 }, time.Second, time.Millisecond)
	assert.Zero(t, h.clock.Pending())
}

func TestManager_Cancel(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	require.NoError(t, h.manager.PreRender("ua", "a"))
	require.NoError(t, h.manager.PreRender("ub", "b"))

	h.manager.CancelPreRender("a")
	h.manager.CancelPreRender("missing")
	assert.Equal(t, Idle, h.manager.State("a"))
	assert.Equal(t, Preparing, h.manager.State("b"))

	h.manager.CancelAll()
	assert.Empty(t, h.manager.ActiveEntries())
	assert.Equal(t, 2, h.pool.CountFor(DefaultPoolIdentifier))
	assert.Zero(t, h.clock.Pending())
}

func TestManager_LateSignalIgnored(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	require.NoError(t, h.manager.PreRender("u", "a"))
	e := h.engine(t, 0)
	h.manager.CancelPreRender("a")
	e.ResetCalls()

	e.Ready()

	assert.Never(t, func() bool { return h.manager.State("a") != Idle }, 50*time.Millisecond, 5*time.Millisecond)
	assert.False(t, e.Called("Play"))
}

func TestManager_ConsumeRequiresReadiness(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	require.NoError(t, h.manager.PreRender("u", "a"))

	_, ok := h.manager.ConsumePreRendered("a")
	assert.False(t, ok)
	_, ok = h.manager.ConsumePreRendered("missing")
	assert.False(t, ok)
	assert.Equal(t, Preparing, h.manager.State("a"))

	session, ok := h.manager.TakePlayer("a")
	require.True(t, ok)
	assert.Equal(t, Preparing, session.State)
	assert.Equal(t, Idle, h.manager.State("a"))

	_, ok = h.manager.TakePlayer("a")
	assert.False(t, ok)
}

func TestManager_BatchAndAdjacent(t *testing.T) {
	t.Run("batch", func(t *testing.T) {
		h := newHarness(t, DefaultConfig())
		require.NoError(t, h.manager.PreRenderBatch([]Request{
			{URL: "u1", Identifier: "one"},
			{URL: "u2", Identifier: "two"},
		}))
		assert.Len(t, h.manager.ActiveEntries(), 2)
	})

	t.Run("adjacent", func(t *testing.T) {
		h := newHarness(t, Config{MaxPreRenderCount: 5})
		urls := make([]string, 10)
		for i := range urls {
			urls[i] = fmt.Sprintf("http://cdn.test/%d.mp4", i)
		}

		h.manager.PreRenderAdjacent(5, urls, "feed")
		assert.ElementsMatch(t, []string{"feed_3", "feed_4", "feed_6", "feed_7"}, identifiers(h.manager))

		h.manager.PreRenderAdjacent(6, urls, "feed")
		assert.ElementsMatch(t, []string{"feed_4", "feed_5", "feed_6", "feed_7", "feed_8"}, identifiers(h.manager))
	})

	t.Run("adjacent at feed edge", func(t *testing.T) {
		h := newHarness(t, DefaultConfig())
		h.manager.PreRenderAdjacent(0, []string{"u0", "u1"}, "feed", 1, -1)
		assert.Equal(t, []string{"feed_1"}, identifiers(h.manager))
	})

	t.Run("keep range ignores other prefixes", func(t *testing.T) {
		h := newHarness(t, DefaultConfig())
		require.NoError(t, h.manager.PreRender("u", "feed_1"))
		require.NoError(t, h.manager.PreRender("u", "story_1"))
		require.NoError(t, h.manager.PreRender("u", "feed_x"))

		h.manager.KeepRange(5, 9, "feed")
		assert.ElementsMatch(t, []string{"story_1", "feed_x"}, identifiers(h.manager))
	})
}

func identifiers(m *Manager) []string {
	var out []string
	for _, entry := range m.ActiveEntries() {
		out = append(out, entry.Identifier)
	}
	return out
}

func TestManager_Attach(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	hub := lifecycle.NewHub(nil)
	h.manager.Attach(hub)

	require.NoError(t, h.manager.PreRender("u", "a"))
	hub.Emit(lifecycle.Foreground)
	assert.Equal(t, Preparing, h.manager.State("a"))

	hub.Emit(lifecycle.Background)
	assert.Empty(t, h.manager.ActiveEntries())
}

func TestManager_NoEngine(t *testing.T) {
	m := NewManager(pool.New(pool.DefaultConfig()), DefaultConfig())

	err := m.PreRender("u", "a")
	assert.ErrorIs(t, err, ErrNoEngine)
	assert.ErrorIs(t, err, pool.ErrNoFactory)
	assert.Empty(t, m.ActiveEntries())
}

func TestManager_Close(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	require.NoError(t, h.manager.PreRender("u", "a"))

	h.manager.Close()

	assert.Empty(t, h.manager.ActiveEntries())
	assert.ErrorIs(t, h.manager.PreRender("u", "b"), ErrClosed)
}

func TestConfig(t *testing.T) {
	cfg := Config{MaxPreRenderCount: 0, Timeout: time.Millisecond}.Normalize()
	assert.Equal(t, Config{MaxPreRenderCount: 1, Timeout: time.Second, PoolIdentifier: "default"}, cfg)

	h := newHarness(t, DefaultConfig())
	h.manager.SetMaxPreRenderCount(-1)
	h.manager.SetTimeout(0)
	assert.Equal(t, 1, h.manager.Config().MaxPreRenderCount)
	assert.Equal(t, time.Second, h.manager.Config().Timeout)
}

func TestState(t *testing.T) {
	assert.Equal(t, "ready_to_display", ReadyToDisplay.String())
	assert.Equal(t, "state(42)", State(42).String())
	assert.True(t, ReadyToPlay.Consumable())
	assert.False(t, Preparing.Consumable())
	assert.True(t, Expired.Terminal())

	text, err := Failed.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "failed", string(text))
}
