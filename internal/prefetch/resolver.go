package prefetch

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/jmylchreest/feedplay/internal/urlutil"
	"github.com/jmylchreest/feedplay/pkg/httpclient"
)

// Resolver maps media URLs onto a local byte-cache proxy.
type Resolver interface {
	// Start bootstraps the proxy. Only the first call has any effect.
	Start(ctx context.Context) error
	// ProxyURL returns the proxied form of raw, or raw itself when it
	// cannot be proxied or the proxy has not started. It never blocks.
	ProxyURL(raw string) string
}

// ProxyResolver rewrites http and https URLs to
// "<base>?url=<escaped original>". Until Start succeeds, URLs pass through
// unchanged.
type ProxyResolver struct {
	base   *url.URL
	client *httpclient.Client

	once     sync.Once
	startErr error
	ready    atomic.Bool
}

// NewProxyResolver creates a resolver for the proxy at base. When client
// is non-nil, Start confirms the proxy is listening before enabling it.
func NewProxyResolver(base string, client *httpclient.Client) (*ProxyResolver, error) {
	if err := urlutil.ValidateRemote(base); err != nil {
		return nil, fmt.Errorf("invalid proxy base url: %w", err)
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parsing proxy base url: %w", err)
	}
	return &ProxyResolver{base: u, client: client}, nil
}

// Start implements Resolver.
func (r *ProxyResolver) Start(ctx context.Context) error {
	r.once.Do(func() {
		if r.client != nil {
			resp, err := r.client.Get(ctx, r.base.String())
			if err != nil {
				r.startErr = fmt.Errorf("starting proxy: %w", err)
				return
			}
			resp.Body.Close()
		}
		r.ready.Store(true)
	})
	return r.startErr
}

// Started reports whether the proxy is in use.
func (r *ProxyResolver) Started() bool {
	return r.ready.Load()
}

// ProxyURL implements Resolver.
func (r *ProxyResolver) ProxyURL(raw string) string {
	if !r.ready.Load() || !urlutil.IsRemote(raw) {
		return raw
	}

	proxied := *r.base
	q := proxied.Query()
	q.Set("url", raw)
	proxied.RawQuery = q.Encode()
	return proxied.String()
}
