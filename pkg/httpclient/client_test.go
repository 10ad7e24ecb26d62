package httpclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noRetryConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryAttempts = 0
	cfg.RetryDelay = time.Millisecond
	return cfg
}

func TestNew(t *testing.T) {
	t.Run("with default config", func(t *testing.T) {
		client := NewWithDefaults()
		assert.NotNil(t, client)
		assert.NotNil(t, client.client)
		assert.NotNil(t, client.breaker)
		assert.NotNil(t, client.logger)
	})

	t.Run("with custom base client", func(t *testing.T) {
		baseClient := &http.Client{Timeout: 5 * time.Second}
		cfg := DefaultConfig()
		cfg.BaseClient = baseClient
		client := New(cfg)
		assert.Equal(t, baseClient, client.client)
	})

	t.Run("with shared breaker", func(t *testing.T) {
		breaker := NewCircuitBreaker(1, time.Minute, 1)
		a := NewWithBreaker(DefaultConfig(), breaker)
		b := NewWithBreaker(DefaultConfig(), breaker)
		a.Breaker().RecordFailure()
		assert.Equal(t, CircuitOpen, b.CircuitState())
	})
}

func TestRangeHeader(t *testing.T) {
	tests := []struct {
		name string
		n    int64
		want string
	}{
		{"zero means full body", 0, ""},
		{"negative means full body", -1, ""},
		{"single byte", 1, "bytes=0-0"},
		{"512KB", 512 * 1024, "bytes=0-524287"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RangeHeader(tt.n))
		})
	}
}

func TestClient_GetRange(t *testing.T) {
	t.Run("sends inclusive range and identity encoding", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "bytes=0-1023", r.Header.Get(HeaderRange))
			assert.Equal(t, EncodingIdentity, r.Header.Get(HeaderAcceptEncoding))
			assert.Contains(t, r.Header.Get(HeaderUserAgent), "feedplay")
			w.WriteHeader(http.StatusPartialContent)
			w.Write([]byte("partial"))
		}))
		defer server.Close()

		client := New(noRetryConfig())
		resp, err := client.GetRange(context.Background(), server.URL, 1024)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, "partial", string(body))
	})

	t.Run("full GET omits range", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Empty(t, r.Header.Get(HeaderRange))
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := New(noRetryConfig())
		resp, err := client.Get(context.Background(), server.URL)
		require.NoError(t, err)
		resp.Body.Close()
	})
}

func TestClient_Retries(t *testing.T) {
	t.Run("retries retryable status codes", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		cfg := DefaultConfig()
		cfg.RetryDelay = time.Millisecond
		client := New(cfg)

		resp, err := client.Get(context.Background(), server.URL)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("does not retry when disabled", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		client := New(noRetryConfig())
		_, err := client.Get(context.Background(), server.URL)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMaxRetries)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("server errors are returned without retry", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		client := NewWithDefaults()
		resp, err := client.Get(context.Background(), server.URL)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assert.Equal(t, int32(1), calls.Load())
		assert.Equal(t, 1, client.Breaker().Failures())
	})
}

func TestClient_Cancellation(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := New(noRetryConfig())
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := client.Get(ctx, server.URL)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, client.Breaker().Failures(), "cancellation is not an origin failure")
}

func TestClient_CircuitOpen(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := noRetryConfig()
	cfg.CircuitThreshold = 1
	cfg.CircuitTimeout = time.Hour
	client := New(cfg)
	client.Breaker().RecordFailure()

	_, err := client.Get(context.Background(), server.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMaxRetries)
	assert.Contains(t, err.Error(), ErrCircuitOpen.Error())

	client.ResetCircuit()
	resp, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)
	resp.Body.Close()
}
