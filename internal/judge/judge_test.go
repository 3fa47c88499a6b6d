package judge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"io"
	"net"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"curator/internal/retry"
	"curator/internal/services"
)

func noSleepPolicy(attempts int, delays *[]time.Duration) retry.Policy {
	return retry.Policy{
		MaxAttempts: attempts,
		BaseDelay:   time.Second,
		MaxDelay:    8 * time.Second,
		Sleep: func(_ context.Context, d time.Duration) error {
			if delays != nil {
				*delays = append(*delays, d)
			}
			return nil
		},
	}
}

func completionServer(t *testing.T, handler func(call int, w http.ResponseWriter)) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test" && r.Header.Get("X-Api-Key") != "test" {
			t.Errorf("unexpected authorization header %q", got)
		}
		handler(int(atomic.AddInt32(&calls, 1)), w)
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func writeContent(t *testing.T, w http.ResponseWriter, content string) {
	t.Helper()
	payload := map[string]any{
		"choices": []any{
			map[string]any{"message": map[string]any{"content": content}},
		},
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

func newTestClient(url string, policy retry.Policy) *Client {
	backend := NewHTTPBackend(HTTPConfig{APIKey: "test", BaseURL: url, Model: "demo-model"})
	return New(backend, Options{Policy: policy})
}

func TestEvaluateRetriesTransientFailures(t *testing.T) {
	server, calls := completionServer(t, func(call int, w http.ResponseWriter) {
		if call <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"busy"}`))
			return
		}
		writeContent(t, w, `{"result":"Buy when the fast EMA crosses above the slow EMA."}`)
	})
	var delays []time.Duration
	client := newTestClient(server.URL, noSleepPolicy(3, &delays))

	resp, err := client.Evaluate(context.Background(), Request{
		Task:    TaskTranslate,
		Payload: "当快速均线上穿慢速均线时买入。",
		Params:  map[string]string{"target_language": "en"},
	})
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if !strings.Contains(resp.Result, "fast EMA") {
		t.Fatalf("unexpected result %q", resp.Result)
	}
	if *calls != 3 {
		t.Fatalf("expected 3 calls, got %d", *calls)
	}
	if diff := cmp.Diff([]time.Duration{time.Second, 2 * time.Second}, delays); diff != "" {
		t.Fatalf("backoff mismatch (-want +got):\n%s", diff)
	}
}

func TestEvaluateExhaustionIsTransient(t *testing.T) {
	server, calls := completionServer(t, func(_ int, w http.ResponseWriter) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	client := newTestClient(server.URL, noSleepPolicy(3, nil))

	_, err := client.Evaluate(context.Background(), Request{Task: TaskClassifyLanguage, Payload: "hola"})
	if !services.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if !strings.Contains(err.Error(), "failed after 3 attempts") {
		t.Fatalf("expected attempt count in error, got %v", err)
	}
	if *calls != 3 {
		t.Fatalf("expected 3 calls, got %d", *calls)
	}
}

func TestEvaluateDoesNotRetryClientErrors(t *testing.T) {
	server, calls := completionServer(t, func(_ int, w http.ResponseWriter) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
	})
	client := newTestClient(server.URL, noSleepPolicy(5, nil))

	_, err := client.Evaluate(context.Background(), Request{Task: TaskClassifyLanguage, Payload: "hola"})
	if !errors.Is(err, services.ErrExternalService) || services.IsTransient(err) {
		t.Fatalf("expected non-transient external error, got %v", err)
	}
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected status error in chain, got %v", err)
	}
	if *calls != 1 {
		t.Fatalf("expected a single call, got %d", *calls)
	}
}

func TestEvaluateRetriesUndecodablePayload(t *testing.T) {
	server, calls := completionServer(t, func(call int, w http.ResponseWriter) {
		if call == 1 {
			writeContent(t, w, "I think the score is high")
			return
		}
		writeContent(t, w, "```json\n{\"score\": \"7.5/10\", \"reasoning\": \"close match\"}\n```")
	})
	client := newTestClient(server.URL, noSleepPolicy(3, nil))

	resp, err := client.Evaluate(context.Background(), Request{
		Task:      TaskCompareSimilarity,
		Payload:   "EMA crossover",
		Reference: "strategy.entry(\"L\", strategy.long)",
	})
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if resp.Score != 7.5 || resp.Reasoning != "close match" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if *calls != 2 {
		t.Fatalf("expected 2 calls, got %d", *calls)
	}
}

func TestEvaluateHonoursRetryAfter(t *testing.T) {
	server, _ := completionServer(t, func(call int, w http.ResponseWriter) {
		if call == 1 {
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeContent(t, w, `{"result":"en","score":0.9}`)
	})
	var delays []time.Duration
	client := newTestClient(server.URL, noSleepPolicy(2, &delays))
	if _, err := client.Evaluate(context.Background(), Request{Task: TaskClassifyLanguage, Payload: "hello"}); err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if diff := cmp.Diff([]time.Duration{3 * time.Second}, delays); diff != "" {
		t.Fatalf("delay mismatch (-want +got):\n%s", diff)
	}
}

func TestEvaluateStopsOnCancellation(t *testing.T) {
	server, calls := completionServer(t, func(_ int, w http.ResponseWriter) {
		w.WriteHeader(http.StatusBadGateway)
	})
	ctx, cancel := context.WithCancel(context.Background())
	policy := noSleepPolicy(5, nil)
	policy.Sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}
	client := newTestClient(server.URL, policy)
	_, err := client.Evaluate(ctx, Request{Task: TaskClassifyLanguage, Payload: "hello"})
	if err == nil || services.IsTransient(err) {
		t.Fatalf("expected non-transient cancellation error, got %v", err)
	}
	if *calls != 1 {
		t.Fatalf("expected a single call, got %d", *calls)
	}
}

func TestEvaluateMissingKeyIsConfigurationError(t *testing.T) {
	client := New(NewHTTPBackend(HTTPConfig{BaseURL: "http://127.0.0.1:0"}), Options{Policy: noSleepPolicy(3, nil)})
	_, err := client.Evaluate(context.Background(), Request{Task: TaskClassifyLanguage, Payload: "x"})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	server, _ := completionServer(t, func(_ int, w http.ResponseWriter) {
		writeContent(t, w, "```json\n{\"ok\":true}\n```")
	})
	client := newTestClient(server.URL, noSleepPolicy(1, nil))
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}
}

type recordingObserver struct {
	outcomes []string
	retries  int
}

func (r *recordingObserver) JudgeRequest(_ string, outcome string, _ time.Duration) {
	r.outcomes = append(r.outcomes, outcome)
}

func (r *recordingObserver) JudgeRetry(string) { r.retries++ }

func TestEvaluateReportsToObserver(t *testing.T) {
	server, _ := completionServer(t, func(call int, w http.ResponseWriter) {
		if call == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeContent(t, w, `{"result":"en"}`)
	})
	obs := &recordingObserver{}
	backend := NewHTTPBackend(HTTPConfig{APIKey: "test", BaseURL: server.URL})
	client := New(backend, Options{Policy: noSleepPolicy(3, nil), Observer: obs, RequestsPerSecond: 1000})
	if _, err := client.Evaluate(context.Background(), Request{Task: TaskClassifyLanguage, Payload: "hi"}); err != nil {
		t.Fatal(err)
	}
	if obs.retries != 1 || len(obs.outcomes) != 1 || obs.outcomes[0] != "ok" {
		t.Fatalf("unexpected observations %+v", obs)
	}
}

func hangUp(t *testing.T, w http.ResponseWriter) {
	t.Helper()
	hj, ok := w.(http.Hijacker)
	if !ok {
		t.Fatalf("response writer does not support hijacking")
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		t.Fatalf("hijack: %v", err)
	}
	_ = conn.Close()
}

func TestEvaluateRetriesDroppedConnections(t *testing.T) {
	server, calls := completionServer(t, func(call int, w http.ResponseWriter) {
		if call <= 2 {
			hangUp(t, w)
			return
		}
		writeContent(t, w, `{"result":"en","score":0.9}`)
	})
	client := newTestClient(server.URL, noSleepPolicy(3, nil))
	resp, err := client.Evaluate(context.Background(), Request{Task: TaskClassifyLanguage, Payload: "hello"})
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if resp.Result != "en" {
		t.Fatalf("unexpected result %q", resp.Result)
	}
	if *calls != 3 {
		t.Fatalf("expected 3 calls, got %d", *calls)
	}
}

func TestEvaluateDroppedConnectionExhaustionIsTransient(t *testing.T) {
	server, calls := completionServer(t, func(_ int, w http.ResponseWriter) {
		hangUp(t, w)
	})
	client := newTestClient(server.URL, noSleepPolicy(3, nil))
	_, err := client.Evaluate(context.Background(), Request{Task: TaskClassifyLanguage, Payload: "hello"})
	if !services.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if *calls != 3 {
		t.Fatalf("expected 3 calls, got %d", *calls)
	}
}

func TestEvaluateRetriesRefusedConnection(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	target := server.URL
	server.Close()

	client := newTestClient(target, noSleepPolicy(2, nil))
	_, err := client.Evaluate(context.Background(), Request{Task: TaskClassifyLanguage, Payload: "hello"})
	if !services.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if !strings.Contains(err.Error(), "failed after 2 attempts") {
		t.Fatalf("expected attempt count in error, got %v", err)
	}
}

func TestClassifyTransportFailures(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		retry bool
	}{
		{name: "eof", err: fmt.Errorf("read body: %w", io.EOF), retry: true},
		{name: "unexpected eof", err: io.ErrUnexpectedEOF, retry: true},
		{name: "reset", err: &net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET}, retry: true},
		{name: "refused", err: &url.Error{Op: "Post", URL: "http://judge", Err: syscall.ECONNREFUSED}, retry: true},
		{name: "dns", err: &net.DNSError{Err: "no such host", Name: "judge.invalid"}, retry: true},
		{name: "canceled", err: &url.Error{Op: "Post", URL: "http://judge", Err: context.Canceled}, retry: false},
		{name: "plain", err: errors.New("boom"), retry: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := classify(tc.err).Retry; got != tc.retry {
				t.Fatalf("classify(%v).Retry = %v, want %v", tc.err, got, tc.retry)
			}
		})
	}
}

func TestMapGeminiError(t *testing.T) {
	grpcErr := func(code codes.Code) error {
		apiErr, ok := apierror.FromError(status.Error(code, "upstream says no"))
		if !ok {
			t.Fatalf("apierror.FromError(%v) not ok", code)
		}
		return apiErr
	}
	tests := []struct {
		name  string
		err   error
		want  int
		retry bool
	}{
		{name: "unavailable", err: grpcErr(codes.Unavailable), want: http.StatusServiceUnavailable, retry: true},
		{name: "exhausted", err: grpcErr(codes.ResourceExhausted), want: http.StatusTooManyRequests, retry: true},
		{name: "deadline", err: status.Error(codes.DeadlineExceeded, "slow"), want: http.StatusGatewayTimeout, retry: true},
		{name: "invalid", err: grpcErr(codes.InvalidArgument), want: http.StatusBadRequest, retry: false},
		{name: "unauthenticated", err: status.Error(codes.Unauthenticated, "key"), want: http.StatusUnauthorized, retry: false},
		{name: "rest", err: &googleapi.Error{Code: http.StatusBadGateway, Message: "bad gateway"}, want: http.StatusBadGateway, retry: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mapped := mapGeminiError(tc.err)
			var statusErr *StatusError
			if !errors.As(mapped, &statusErr) {
				t.Fatalf("expected StatusError, got %T %v", mapped, mapped)
			}
			if statusErr.StatusCode != tc.want {
				t.Fatalf("status = %d, want %d", statusErr.StatusCode, tc.want)
			}
			if got := classify(mapped).Retry; got != tc.retry {
				t.Fatalf("retry = %v, want %v", got, tc.retry)
			}
		})
	}
}

func TestMapGeminiErrorPassesThroughOtherErrors(t *testing.T) {
	err := errors.New("boom")
	if got := mapGeminiError(err); got != err {
		t.Fatalf("expected passthrough, got %v", got)
	}
}

func writeAnthropicContent(t *testing.T, w http.ResponseWriter, content string) {
	t.Helper()
	payload := map[string]any{
		"id":          "msg_1",
		"type":        "message",
		"role":        "assistant",
		"stop_reason": "end_turn",
		"content":     []any{map[string]any{"type": "text", "text": content}},
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

func writeJSONError(t *testing.T, w http.ResponseWriter, statusCode int, payload map[string]any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		t.Errorf("encode error response: %v", err)
	}
}

type sdkBackendCase struct {
	name        string
	backend     func(url string) Backend
	content     func(t *testing.T, w http.ResponseWriter, content string)
	empty       func(t *testing.T, w http.ResponseWriter)
	rateLimited map[string]any
	badRequest  map[string]any
}

func sdkBackendCases() []sdkBackendCase {
	return []sdkBackendCase{
		{
			name:    "openai",
			backend: func(url string) Backend { return NewOpenAIBackend("test", "demo-model", url, nil) },
			content: writeContent,
			empty: func(t *testing.T, w http.ResponseWriter) {
				t.Helper()
				_, _ = w.Write([]byte(`{"choices":[]}`))
			},
			rateLimited: map[string]any{"error": map[string]any{"message": "slow down", "type": "rate_limit_exceeded"}},
			badRequest:  map[string]any{"error": map[string]any{"message": "bad model", "type": "invalid_request_error"}},
		},
		{
			name:    "anthropic",
			backend: func(url string) Backend { return NewAnthropicBackend("test", "demo-model", url, nil) },
			content: writeAnthropicContent,
			empty: func(t *testing.T, w http.ResponseWriter) {
				t.Helper()
				_, _ = w.Write([]byte(`{"type":"message","role":"assistant","stop_reason":"max_tokens","content":[]}`))
			},
			rateLimited: map[string]any{"type": "error", "error": map[string]any{"type": "rate_limit_error", "message": "slow down"}},
			badRequest:  map[string]any{"type": "error", "error": map[string]any{"type": "invalid_request_error", "message": "bad model"}},
		},
	}
}

func TestSDKBackendsReturnContent(t *testing.T) {
	for _, tc := range sdkBackendCases() {
		t.Run(tc.name, func(t *testing.T) {
			server, calls := completionServer(t, func(_ int, w http.ResponseWriter) {
				tc.content(t, w, `{"result":"en","score":0.9}`)
			})
			client := New(tc.backend(server.URL), Options{Policy: noSleepPolicy(3, nil)})
			resp, err := client.Evaluate(context.Background(), Request{Task: TaskClassifyLanguage, Payload: "hello"})
			if err != nil {
				t.Fatalf("Evaluate returned error: %v", err)
			}
			if resp.Result != "en" || resp.Score != 0.9 {
				t.Fatalf("unexpected response %+v", resp)
			}
			if *calls != 1 {
				t.Fatalf("expected a single call, got %d", *calls)
			}
		})
	}
}

func TestSDKBackendsHonourRetryAfter(t *testing.T) {
	for _, tc := range sdkBackendCases() {
		t.Run(tc.name, func(t *testing.T) {
			server, calls := completionServer(t, func(call int, w http.ResponseWriter) {
				if call == 1 {
					w.Header().Set("Retry-After", "4")
					writeJSONError(t, w, http.StatusTooManyRequests, tc.rateLimited)
					return
				}
				tc.content(t, w, `{"result":"en","score":0.9}`)
			})
			var delays []time.Duration
			client := New(tc.backend(server.URL), Options{Policy: noSleepPolicy(3, &delays)})
			if _, err := client.Evaluate(context.Background(), Request{Task: TaskClassifyLanguage, Payload: "hello"}); err != nil {
				t.Fatalf("Evaluate returned error: %v", err)
			}
			if *calls != 2 {
				t.Fatalf("expected 2 calls, got %d", *calls)
			}
			if diff := cmp.Diff([]time.Duration{4 * time.Second}, delays); diff != "" {
				t.Fatalf("delay mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSDKBackendsDoNotRetryBadRequest(t *testing.T) {
	for _, tc := range sdkBackendCases() {
		t.Run(tc.name, func(t *testing.T) {
			server, calls := completionServer(t, func(_ int, w http.ResponseWriter) {
				writeJSONError(t, w, http.StatusBadRequest, tc.badRequest)
			})
			client := New(tc.backend(server.URL), Options{Policy: noSleepPolicy(3, nil)})
			_, err := client.Evaluate(context.Background(), Request{Task: TaskClassifyLanguage, Payload: "hello"})
			if !errors.Is(err, services.ErrExternalService) || services.IsTransient(err) {
				t.Fatalf("expected non-transient external error, got %v", err)
			}
			var statusErr *StatusError
			if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadRequest {
				t.Fatalf("expected 400 status error in chain, got %v", err)
			}
			if *calls != 1 {
				t.Fatalf("expected a single call, got %d", *calls)
			}
		})
	}
}

func TestSDKBackendsRetryEmptyChoices(t *testing.T) {
	for _, tc := range sdkBackendCases() {
		t.Run(tc.name, func(t *testing.T) {
			server, calls := completionServer(t, func(call int, w http.ResponseWriter) {
				if call == 1 {
					tc.empty(t, w)
					return
				}
				tc.content(t, w, `{"result":"en","score":0.9}`)
			})
			client := New(tc.backend(server.URL), Options{Policy: noSleepPolicy(3, nil)})
			if _, err := client.Evaluate(context.Background(), Request{Task: TaskClassifyLanguage, Payload: "hello"}); err != nil {
				t.Fatalf("Evaluate returned error: %v", err)
			}
			if *calls != 2 {
				t.Fatalf("expected 2 calls, got %d", *calls)
			}
		})
	}
}

func TestSDKBackendsEmptyChoicesExhaustToTransient(t *testing.T) {
	for _, tc := range sdkBackendCases() {
		t.Run(tc.name, func(t *testing.T) {
			server, calls := completionServer(t, func(_ int, w http.ResponseWriter) {
				tc.empty(t, w)
			})
			client := New(tc.backend(server.URL), Options{Policy: noSleepPolicy(2, nil)})
			_, err := client.Evaluate(context.Background(), Request{Task: TaskClassifyLanguage, Payload: "hello"})
			if !services.IsTransient(err) || !strings.Contains(err.Error(), "empty content") {
				t.Fatalf("expected transient empty-content error, got %v", err)
			}
			if *calls != 2 {
				t.Fatalf("expected 2 calls, got %d", *calls)
			}
		})
	}
}

func TestEvaluateInferSymbols(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(body.Messages) != 2 || !strings.Contains(body.Messages[1].Content, "Name: VWAP Crypto") {
			t.Errorf("expected the name in the user prompt, got %+v", body.Messages)
		}
		writeContent(t, w, `{"result":"BTC/USDT, ETH/USDT","score":1.7,"reasoning":"named explicitly"}`)
	}))
	t.Cleanup(server.Close)

	client := newTestClient(server.URL, noSleepPolicy(1, nil))
	resp, err := client.Evaluate(context.Background(), Request{
		Task:    TaskInferSymbols,
		Payload: "VWAP entries on BTC/USDT and ETH/USDT.",
		Params:  map[string]string{"name": "VWAP Crypto"},
	})
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if resp.Result != "BTC/USDT, ETH/USDT" || resp.Score != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}
}
