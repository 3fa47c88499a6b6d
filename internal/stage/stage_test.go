package stage

import (
	"context"
	"errors"
	"testing"

	"curator/internal/record"
)

func TestResultConstructors(t *testing.T) {
	if got := Continue().String(); got != "continue" {
		t.Fatalf("unexpected continue string %q", got)
	}
	rej := Reject(record.RejectQuality, "content-too-short")
	if rej.Outcome != OutcomeReject || rej.String() != "reject(quality: content-too-short)" {
		t.Fatalf("unexpected reject %+v", rej)
	}
	cause := errors.New("timeout")
	if r := Retryable(cause); r.Outcome != OutcomeRetry || !errors.Is(r.Err, cause) {
		t.Fatalf("unexpected retryable %+v", r)
	}
}

func TestFuncAdapter(t *testing.T) {
	s := Func{StageName: "upper", StageKind: KindTransform, Fn: func(_ context.Context, rec *record.Record) Result {
		rec.SetDerived("x", "X")
		return Continue()
	}}
	rec := record.New("a", 0, nil)
	if res := s.Apply(context.Background(), rec); res.Outcome != OutcomeContinue {
		t.Fatalf("unexpected result %v", res)
	}
	if s.Name() != "upper" || s.Kind() != KindTransform || rec.Field("x") != "X" {
		t.Fatalf("adapter did not apply: %+v", rec.Derived)
	}
	if h := Unhealthy("quality", "judge down"); h.Ready || h.Detail != "judge down" {
		t.Fatalf("unexpected health %+v", h)
	}
}

type pinger struct{ err error }

func (p pinger) HealthCheck(context.Context) error { return p.err }

func TestCheckDependency(t *testing.T) {
	ctx := context.Background()
	if h := CheckDependency(ctx, "markup", nil); !h.Ready {
		t.Fatalf("stage without dependency must be ready: %+v", h)
	}
	if h := CheckDependency(ctx, "quality", pinger{}); !h.Ready || h.Name != "quality" {
		t.Fatalf("unexpected health %+v", h)
	}
	if h := CheckDependency(ctx, "quality", pinger{err: errors.New("401")}); h.Ready || h.Detail != "401" {
		t.Fatalf("unexpected health %+v", h)
	}
}
