package judge

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// The SDK clients drop response headers from their error values, so the
// Retry-After hint is lifted off the wire by the transport and handed back
// through the request context.

type retryAfterKey struct{}

type retryAfterHint struct {
	mu    sync.Mutex
	delay time.Duration
}

func (h *retryAfterHint) set(delay time.Duration) {
	h.mu.Lock()
	h.delay = delay
	h.mu.Unlock()
}

func (h *retryAfterHint) get() time.Duration {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.delay
}

func captureRetryAfter(ctx context.Context) (context.Context, *retryAfterHint) {
	hint := &retryAfterHint{}
	return context.WithValue(ctx, retryAfterKey{}, hint), hint
}

type retryAfterTransport struct {
	base http.RoundTripper
}

func (t retryAfterTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil || resp == nil || resp.StatusCode < http.StatusBadRequest {
		return resp, err
	}
	if hint, ok := req.Context().Value(retryAfterKey{}).(*retryAfterHint); ok {
		if delay, ok := parseRetryAfter(resp.Header.Get("Retry-After")); ok {
			hint.set(delay)
		}
	}
	return resp, err
}

// withRetryAfterCapture returns a copy of client whose transport records
// Retry-After on failed responses.
func withRetryAfterCapture(client *http.Client) *http.Client {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	wrapped := *client
	wrapped.Transport = retryAfterTransport{base: base}
	return &wrapped
}

// attachRetryAfter copies the captured hint onto a retryable status error.
func attachRetryAfter(err error, hint *retryAfterHint) error {
	if statusErr, ok := err.(*StatusError); ok && statusErr.RetryAfter <= 0 {
		statusErr.RetryAfter = hint.get()
	}
	return err
}
