package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"curator/internal/checkpoint"
	"curator/internal/metrics"
	"curator/internal/runner"
	"curator/internal/stage"
)

type countingHealth struct {
	calls  atomic.Int32
	health []stage.Health
}

func (h *countingHealth) Health(context.Context) []stage.Health {
	h.calls.Add(1)
	return h.health
}

func get(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthzReportsUnavailableStage(t *testing.T) {
	health := &countingHealth{health: []stage.Health{
		stage.Healthy("required-fields"),
		stage.Unhealthy("quality", "judge: connection refused"),
	}}
	srv := New(Options{Health: health})

	rec := get(t, srv.Handler(), "/healthz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []StageHealth{
		{Name: "quality", Ready: false, Detail: "judge: connection refused"},
		{Name: "required-fields", Ready: true},
	}
	if diff := cmp.Diff(want, resp.Stages); diff != "" {
		t.Fatalf("stages mismatch (-want +got):\n%s", diff)
	}
}

func TestHealthzCachesResults(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	health := &countingHealth{health: []stage.Health{stage.Healthy("quality")}}
	srv := New(Options{Health: health, HealthTTL: time.Minute, Now: func() time.Time { return now }})

	for i := 0; i < 3; i++ {
		if rec := get(t, srv.Handler(), "/healthz"); rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	}
	if got := health.calls.Load(); got != 1 {
		t.Fatalf("expected one health check within ttl, got %d", got)
	}
	now = now.Add(2 * time.Minute)
	get(t, srv.Handler(), "/healthz")
	if got := health.calls.Load(); got != 2 {
		t.Fatalf("expected a fresh check after ttl, got %d", got)
	}
}

func TestStatusCombinesCheckpointAndReport(t *testing.T) {
	flushed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	cp := checkpoint.Checkpoint{
		RunID:            "01RUN",
		ProcessedIDs:     []string{"a", "b", "c"},
		AcceptedCount:    2,
		RejectedCount:    1,
		RejectionReasons: map[string]int{"duplicate-of": 1},
		LastFlush:        flushed,
		Runs:             []checkpoint.Run{{ID: "01RUN"}, {ID: "02RUN", Resumed: true}},
	}
	report := runner.Report{Skipped: 4, Abandoned: 1, Duration: 1500 * time.Millisecond}
	srv := New(Options{Status: func() RunStatus {
		status := FromCheckpoint(cp, report)
		status.Running = true
		return status
	}})

	rec := get(t, srv.Handler(), "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got RunStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := RunStatus{
		RunID:            "01RUN",
		CurrentRunID:     "02RUN",
		Running:          true,
		Resumed:          true,
		Processed:        3,
		Accepted:         2,
		Rejected:         1,
		Skipped:          4,
		Abandoned:        1,
		RejectionReasons: map[string]int{"duplicate-of": 1},
		LastFlush:        "2026-01-02T03:04:05.000Z",
		Elapsed:          "1.5s",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("status mismatch (-want +got):\n%s", diff)
	}
}

func TestStatusWithoutRun(t *testing.T) {
	srv := New(Options{})
	if rec := get(t, srv.Handler(), "/status"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if rec := get(t, srv.Handler(), "/nope"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	recorder := metrics.New()
	recorder.RecordOutcome("accepted", "")
	srv := New(Options{Metrics: recorder.Handler()})

	rec := get(t, srv.Handler(), "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `curator_records_total{outcome="accepted"} 1`) {
		t.Fatalf("expected records counter in exposition, got:\n%s", rec.Body.String())
	}
}

func TestStartServesOnListener(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := New(Options{Bind: "127.0.0.1:0", Health: &countingHealth{}})
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer srv.Stop()

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"ready":true`) {
		t.Fatalf("unexpected response %d %s", resp.StatusCode, body)
	}
}
