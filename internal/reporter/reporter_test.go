package reporter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/feedplay/internal/events"
	"github.com/jmylchreest/feedplay/internal/pool"
	"github.com/jmylchreest/feedplay/internal/prefetch"
	"github.com/jmylchreest/feedplay/internal/prerender"
	"github.com/jmylchreest/feedplay/internal/testutil"
)

// logBuffer is a goroutine-safe log sink.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// records returns every JSON log line with the given message.
func (b *logBuffer) records(t *testing.T, msg string) []map[string]any {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []map[string]any
	scanner := bufio.NewScanner(bytes.NewReader(b.buf.Bytes()))
	for scanner.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		if rec["msg"] == msg {
			out = append(out, rec)
		}
	}
	return out
}

func newLogger(buf *logBuffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, nil))
}

func TestNew_InvalidSchedule(t *testing.T) {
	_, err := New("every minute")
	assert.Error(t, err)

	_, err = New("*/5 * * * *")
	assert.Error(t, err, "five-field expressions need a seconds field")

	_, err = New("@every 30s")
	assert.NoError(t, err)
}

func TestReporter_Report(t *testing.T) {
	factory := &testutil.FakeFactory{}
	p := pool.New(pool.DefaultConfig())
	p.SetFactory(factory.New)
	p.Fill(2, "feed")
	_, ok := p.Dequeue("feed")
	require.True(t, ok)

	m := prerender.NewManager(p, prerender.DefaultConfig())
	t.Cleanup(m.Close)
	require.NoError(t, m.PreRender("http://cdn.example/a.mp4", "a"))

	s := prefetch.NewScheduler(prefetch.DefaultConfig(), testutil.NewFakeFetcher())
	t.Cleanup(s.Close)

	buf := &logBuffer{}
	r, err := New("@every 1m")
	require.NoError(t, err)
	r.WithLogger(newLogger(buf)).
		Add("pool", PoolSource(p)).
		Add("prerender", PreRenderSource(m)).
		Add("prefetch", PrefetchSource(s))

	r.Report()

	recs := buf.records(t, "playback statistics")
	require.Len(t, recs, 1)

	poolAttrs := recs[0]["pool"].(map[string]any)
	assert.EqualValues(t, 1, poolAttrs["count"])
	assert.EqualValues(t, 1, poolAttrs["hits"])
	assert.EqualValues(t, 4, poolAttrs["capacity"])

	preAttrs := recs[0]["prerender"].(map[string]any)
	assert.EqualValues(t, 1, preAttrs["active"])
	assert.EqualValues(t, 1, preAttrs["preparing"])

	fetchAttrs := recs[0]["prefetch"].(map[string]any)
	assert.EqualValues(t, 0, fetchAttrs["running"])
	assert.NotContains(t, recs[0], "events")
}

func TestReporter_CountsEvents(t *testing.T) {
	bus := events.NewBus(nil)
	defer bus.Close()

	buf := &logBuffer{}
	r, err := New("@every 1m")
	require.NoError(t, err)
	r.WithLogger(newLogger(buf)).WithEvents(bus)
	defer r.Close()

	bus.Post(events.PreRenderTimeout, nil)
	bus.Post(events.PreRenderTimeout, nil)
	bus.Post(events.PoolCleared, nil)

	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.counts[events.PreRenderTimeout] == 2 && r.counts[events.PoolCleared] == 1
	}, time.Second, time.Millisecond)

	r.Report()
	r.Report()

	recs := buf.records(t, "playback statistics")
	require.Len(t, recs, 2)
	counts := recs[0]["events"].(map[string]any)
	assert.EqualValues(t, 2, counts[events.PreRenderTimeout])
	assert.EqualValues(t, 1, counts[events.PoolCleared])
	assert.NotContains(t, recs[1], "events", "counts reset after each report")
}

func TestReporter_Run(t *testing.T) {
	buf := &logBuffer{}
	r, err := New("@every 1s")
	require.NoError(t, err)
	r.WithLogger(newLogger(buf)).Add("static", func() []slog.Attr {
		return []slog.Attr{slog.String("ok", "yes")}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(buf.records(t, "playback statistics")) > 0
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Len(t, buf.records(t, "statistics reporter stopped"), 1)
}
