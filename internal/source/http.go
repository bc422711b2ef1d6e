package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	userAgent = "skillgate/1.0"

	// maxResponseBytes caps any single remote body. Scan limits are far
	// smaller; this only bounds memory.
	maxResponseBytes = 4 << 20
)

type httpOptions struct {
	client        *http.Client
	retries       int
	retryInterval time.Duration
}

// HTTPOption configures the fetcher and the HTTP registry.
type HTTPOption func(*httpOptions)

func WithHTTPClient(c *http.Client) HTTPOption {
	return func(o *httpOptions) {
		if c != nil {
			o.client = c
		}
	}
}

// WithRetries sets how many times a transient failure (network error, 429
// or 5xx) is retried.
func WithRetries(n int) HTTPOption {
	return func(o *httpOptions) {
		if n >= 0 {
			o.retries = n
		}
	}
}

func WithRetryInterval(d time.Duration) HTTPOption {
	return func(o *httpOptions) {
		if d > 0 {
			o.retryInterval = d
		}
	}
}

func newHTTPOptions(opts []HTTPOption) httpOptions {
	o := httpOptions{
		client:        &http.Client{Timeout: 30 * time.Second},
		retries:       2,
		retryInterval: 250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

var errTransientStatus = errors.New("transient status")

// get performs a GET with retry on transient failures. After retries are
// exhausted on a 429/5xx the last status and body are returned without error.
func (o httpOptions) get(ctx context.Context, fullURL string) (int, []byte, error) {
	var status int
	var body []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", userAgent)
		resp, err := o.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
		if err != nil {
			return err
		}
		if len(b) > maxResponseBytes {
			return backoff.Permanent(fmt.Errorf("SRC_HTTP: response exceeds %d bytes", maxResponseBytes))
		}
		status, body = resp.StatusCode, b
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return errTransientStatus
		}
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = o.retryInterval
	eb.MaxInterval = 8 * o.retryInterval
	bo := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(o.retries)), ctx)
	err := backoff.Retry(op, bo)
	if ctx.Err() != nil {
		return 0, nil, ctx.Err()
	}
	if err != nil {
		if errors.Is(err, errTransientStatus) {
			return status, body, nil
		}
		return 0, nil, fmt.Errorf("SRC_HTTP: %w", err)
	}
	return status, body, nil
}
