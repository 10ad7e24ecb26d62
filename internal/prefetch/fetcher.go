package prefetch

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jmylchreest/feedplay/pkg/httpclient"
)

// Fetcher transfers up to limit bytes of url (the whole body when limit is
// zero), calling progress with the running byte total. Cancellation must
// surface as an error matching context.Canceled.
type Fetcher interface {
	Fetch(ctx context.Context, url string, limit int64, progress func(int64)) error
}

// StatusError reports a non-2xx response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

const readBufferSize = 32 * 1024

// HTTPFetcher fetches byte prefixes with ranged GET requests.
type HTTPFetcher struct {
	client *httpclient.Client
}

// NewHTTPFetcher creates a fetcher using client. Prefetch failures are
// final, so client should be configured without retries.
func NewHTTPFetcher(client *httpclient.Client) *HTTPFetcher {
	return &HTTPFetcher{client: client}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string, limit int64, progress func(int64)) error {
	resp, err := f.client.GetRange(ctx, url, limit)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode}
	}

	var body io.Reader = resp.Body
	if limit > 0 {
		body = io.LimitReader(resp.Body, limit)
	}

	buf := make([]byte, readBufferSize)
	var total int64
	for {
		n, err := body.Read(buf)
		if n > 0 {
			total += int64(n)
			if progress != nil {
				progress(total)
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("reading %s: %w", url, err)
		}
	}
}
