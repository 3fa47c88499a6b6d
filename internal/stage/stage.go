// Package stage defines the contract every pipeline step implements and the
// tagged result a step returns for one record.
package stage

import (
	"context"
	"fmt"

	"curator/internal/record"
)

// Kind classifies a stage.
type Kind string

const (
	KindFilter    Kind = "filter"
	KindTransform Kind = "transform"
	KindScore     Kind = "score"
)

// Outcome is the tag of a Result.
type Outcome int

const (
	OutcomeContinue Outcome = iota
	OutcomeReject
	OutcomeRetry
)

func (o Outcome) String() string {
	switch o {
	case OutcomeContinue:
		return "continue"
	case OutcomeReject:
		return "reject"
	case OutcomeRetry:
		return "retry"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is what a stage decided for one record.
type Result struct {
	Outcome Outcome
	Class   record.RejectClass
	Reason  string
	Err     error
}

// Continue passes the (possibly updated) record to the next stage.
func Continue() Result { return Result{Outcome: OutcomeContinue} }

// Reject ends the record's journey with reason.
func Reject(class record.RejectClass, reason string) Result {
	return Result{Outcome: OutcomeReject, Class: class, Reason: reason}
}

// Retryable reports a failure the engine may retry.
func Retryable(err error) Result { return Result{Outcome: OutcomeRetry, Err: err} }

func (r Result) String() string {
	switch r.Outcome {
	case OutcomeReject:
		return fmt.Sprintf("reject(%s: %s)", r.Class, r.Reason)
	case OutcomeRetry:
		return fmt.Sprintf("retry(%v)", r.Err)
	default:
		return r.Outcome.String()
	}
}

// Stage is one ordered processing step. Derived fields may only change when
// Apply returns Continue; a rejecting stage may still annotate rec with
// metadata or scores explaining the rejection. A record is owned by one
// worker at a time.
type Stage interface {
	Name() string
	Kind() Kind
	Apply(ctx context.Context, rec *record.Record) Result
}

// Fallbacker is implemented by stages that can complete without their
// external dependency, typically by keeping the original value.
type Fallbacker interface {
	Fallback(ctx context.Context, rec *record.Record, cause error) Result
}

// HealthChecker is implemented by stages that depend on an external service.
type HealthChecker interface {
	HealthCheck(ctx context.Context) Health
}

// Func adapts a function into a Stage.
type Func struct {
	StageName string
	StageKind Kind
	Fn        func(ctx context.Context, rec *record.Record) Result
}

// Name returns the stage name.
func (f Func) Name() string { return f.StageName }

// Kind returns the stage kind.
func (f Func) Kind() Kind { return f.StageKind }

// Apply invokes the wrapped function.
func (f Func) Apply(ctx context.Context, rec *record.Record) Result { return f.Fn(ctx, rec) }
