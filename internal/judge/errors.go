package judge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"curator/internal/retry"
	"curator/internal/services"
)

// StatusError is a non-2xx response from the judgment service.
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("judge request: http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= http.StatusInternalServerError
}

type emptyContentError struct {
	Op           string
	FinishReason string
	Refusal      string
	Snippet      string
}

func (e *emptyContentError) Error() string {
	return fmt.Sprintf(
		"%s: empty content (finish_reason=%q, refusal=%q, response_snippet=%s)",
		e.Op,
		e.FinishReason,
		e.Refusal,
		e.Snippet,
	)
}

// payloadError marks content that arrived but could not be decoded into the
// task's response shape.
type payloadError struct {
	Op  string
	Err error
}

func (e *payloadError) Error() string { return fmt.Sprintf("%s: decode payload: %v", e.Op, e.Err) }

func (e *payloadError) Unwrap() error { return e.Err }

// classify decides whether a failed attempt should be retried.
func classify(err error) retry.Decision {
	if err == nil {
		return retry.Decision{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, services.ErrConfiguration) {
		return retry.Decision{}
	}

	var empty *emptyContentError
	if errors.As(err, &empty) {
		return retry.Decision{Retry: true}
	}
	var payload *payloadError
	if errors.As(err, &payload) {
		return retry.Decision{Retry: true}
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if !statusErr.Retryable() {
			return retry.Decision{}
		}
		return retry.Decision{Retry: true, Delay: statusErr.RetryAfter}
	}

	// Transport failures (timeouts, resets, refused dials, DNS, a peer that
	// hangs up mid-response) are worth another attempt.
	if errors.Is(err, context.DeadlineExceeded) {
		return retry.Decision{Retry: true}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return retry.Decision{Retry: true}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return retry.Decision{Retry: true}
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return retry.Decision{Retry: true}
	}
	return retry.Decision{}
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}
