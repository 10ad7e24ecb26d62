package prefetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/feedplay/pkg/httpclient"
)

func testClient() *httpclient.Client {
	cfg := httpclient.DefaultConfig()
	cfg.RetryAttempts = 0
	return httpclient.New(cfg)
}

func TestHTTPFetcher_RangeRequest(t *testing.T) {
	headers := make(chan http.Header, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers <- r.Header.Clone()
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer server.Close()

	var progress []int64
	err := NewHTTPFetcher(testClient()).Fetch(context.Background(), server.URL, 100, func(n int64) {
		progress = append(progress, n)
	})
	require.NoError(t, err)

	h := <-headers
	assert.Equal(t, "bytes=0-99", h.Get(httpclient.HeaderRange))
	assert.Equal(t, "identity", h.Get(httpclient.HeaderAcceptEncoding))
	require.NotEmpty(t, progress)
	assert.Equal(t, int64(100), progress[len(progress)-1])
}

func TestHTTPFetcher_StopsAtLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// ignores Range, as some origins do
		w.Write([]byte(strings.Repeat("x", 4096)))
	}))
	defer server.Close()

	var total int64
	err := NewHTTPFetcher(testClient()).Fetch(context.Background(), server.URL, 10, func(n int64) { total = n })
	require.NoError(t, err)
	assert.Equal(t, int64(10), total)
}

func TestHTTPFetcher_FullGetWithoutLimit(t *testing.T) {
	rangeHeader := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rangeHeader <- r.Header.Get(httpclient.HeaderRange)
		w.Write([]byte("whole body"))
	}))
	defer server.Close()

	var total int64
	err := NewHTTPFetcher(testClient()).Fetch(context.Background(), server.URL, 0, func(n int64) { total = n })
	require.NoError(t, err)
	assert.Empty(t, <-rangeHeader)
	assert.Equal(t, int64(len("whole body")), total)
}

func TestHTTPFetcher_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	err := NewHTTPFetcher(testClient()).Fetch(context.Background(), server.URL, 10, nil)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.Code)
}

// A cancelled transfer is purged while a server error is recorded.
func TestScheduler_FailureVersusCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/broken.mp4":
			w.WriteHeader(http.StatusInternalServerError)
		case "/slow.mp4":
			w.WriteHeader(http.StatusPartialContent)
			w.(http.Flusher).Flush()
			<-r.Context().Done()
		}
	}))
	defer server.Close()

	s := newTestScheduler(t, Config{MaxConcurrent: 2, BytesPerURL: 1024}, NewHTTPFetcher(testClient()))
	slow := server.URL + "/slow.mp4"
	broken := server.URL + "/broken.mp4"

	s.Preload(slow, Normal)
	s.Preload(broken, Normal)

	status := waitStatus(t, s, broken, StatusFailed)
	assert.Contains(t, status.Reason, "500")

	waitStatus(t, s, slow, StatusRunning)
	s.Cancel(slow)
	assert.Equal(t, StatusIdle, s.Status(slow).Kind)

	// a late completion for the cancelled transfer changes nothing
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StatusIdle, s.Status(slow).Kind)
}

func TestScheduler_RoutesThroughResolver(t *testing.T) {
	paths := make(chan string, 1)
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("url") != "" {
			paths <- r.URL.Query().Get("url")
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer proxy.Close()

	resolver, err := NewProxyResolver(proxy.URL+"/proxy", nil)
	require.NoError(t, err)
	require.NoError(t, resolver.Start(context.Background()))

	s := NewScheduler(Config{MaxConcurrent: 1, BytesPerURL: 16}, NewHTTPFetcher(testClient())).WithResolver(resolver)
	s.Start(context.Background())
	t.Cleanup(s.Close)
	origin := "http://origin.example/clip.mp4"
	s.Preload(origin, Urgent)

	waitStatus(t, s, origin, StatusCompleted)
	assert.Equal(t, origin, <-paths)
	assert.Equal(t, resolver.ProxyURL(origin), s.ProxyURL(origin))
}
