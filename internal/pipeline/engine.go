// Package pipeline runs a record through the configured stage list, applies
// the stage retry and escalation policy, and makes the final dedup decision.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"curator/internal/logging"
	"curator/internal/record"
	"curator/internal/retry"
	"curator/internal/services"
	"curator/internal/similarity"
	"curator/internal/stage"
)

// ErrAbandoned is returned when cancellation stops a record between stages.
// The record is not final and must not be checkpointed.
var ErrAbandoned = errors.New("record abandoned")

// Rejection reason prefixes produced by the engine itself.
const (
	ReasonDuplicateOf      = "duplicate-of"
	ReasonStageUnavailable = "stage-unavailable"
	ReasonInvalidInput     = "invalid-input"
)

// StageObserver receives per-stage durations.
type StageObserver interface {
	ObserveStage(stage string, elapsed time.Duration)
}

// Options configures an Engine.
type Options struct {
	Stages    []stage.Stage
	Mandatory []string
	Policy    retry.Policy
	Index     *similarity.Index
	Logger    *slog.Logger
	Observer  StageObserver
}

// Engine applies an ordered stage list to records. It is safe for concurrent
// use provided each record is owned by one goroutine.
type Engine struct {
	stages    []stage.Stage
	mandatory map[string]bool
	policy    retry.Policy
	index     *similarity.Index
	logger    *slog.Logger
	observer  StageObserver
}

// New validates opts and constructs an engine.
func New(opts Options) (*Engine, error) {
	if opts.Index == nil {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "init", "similarity index required", nil)
	}
	seen := make(map[string]struct{}, len(opts.Stages))
	for _, st := range opts.Stages {
		if st == nil {
			return nil, services.Wrap(services.ErrConfiguration, "pipeline", "init", "nil stage", nil)
		}
		if _, dup := seen[st.Name()]; dup {
			return nil, services.Wrap(services.ErrConfiguration, "pipeline", "init", fmt.Sprintf("stage %q listed twice", st.Name()), nil)
		}
		seen[st.Name()] = struct{}{}
	}
	mandatory := make(map[string]bool, len(opts.Mandatory))
	for _, name := range opts.Mandatory {
		if _, ok := seen[name]; !ok {
			return nil, services.Wrap(services.ErrConfiguration, "pipeline", "init", fmt.Sprintf("mandatory stage %q is not configured", name), nil)
		}
		mandatory[name] = true
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{
		stages:    append([]stage.Stage(nil), opts.Stages...),
		mandatory: mandatory,
		policy:    opts.Policy,
		index:     opts.Index,
		logger:    logging.NewComponentLogger(logger, "pipeline"),
		observer:  opts.Observer,
	}, nil
}

// Stages returns the stage names in execution order.
func (e *Engine) Stages() []string {
	names := make([]string, 0, len(e.stages))
	for _, st := range e.stages {
		names = append(names, st.Name())
	}
	return names
}

// Index returns the similarity index the engine finalizes against.
func (e *Engine) Index() *similarity.Index { return e.index }

// Run drives rec through every stage. On nil error the record is final
// (accepted or rejected). ErrAbandoned means cancellation interrupted the
// record; any other error is run-fatal.
func (e *Engine) Run(ctx context.Context, rec *record.Record) error {
	if rec == nil {
		return errors.New("pipeline run: nil record")
	}
	ctx = services.WithRecordID(ctx, rec.ID)

	for _, st := range e.stages {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrAbandoned, err)
		}
		name := st.Name()
		stageCtx := services.WithStage(ctx, name)
		logger := logging.WithContext(stageCtx, e.logger)
		logger.Debug("stage started",
			logging.String(logging.FieldEventType, "stage_start"),
			logging.String("kind", string(st.Kind())),
		)

		started := time.Now()
		res, err := e.apply(stageCtx, st, rec, logger)
		elapsed := time.Since(started)
		if e.observer != nil {
			e.observer.ObserveStage(name, elapsed)
		}
		if err != nil {
			return err
		}

		if res.Outcome == stage.OutcomeReject {
			rec.Reject(res.Class, res.Reason)
			logger.Info("stage rejected",
				logging.String(logging.FieldEventType, "stage_reject"),
				logging.String(logging.FieldReason, rec.Reason),
				logging.String("class", string(rec.RejectClass)),
				logging.Duration("elapsed", elapsed),
			)
			return nil
		}
		logger.Debug("stage completed",
			logging.String(logging.FieldEventType, "stage_complete"),
			logging.Duration("elapsed", elapsed),
		)
	}

	return e.finalize(ctx, rec)
}

func (e *Engine) finalize(ctx context.Context, rec *record.Record) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrAbandoned, err)
	}
	fp := e.index.Fingerprint(rec.Field(record.FieldContent))
	if dup, ok := e.index.CheckAndInsert(rec.ID, fp); ok {
		rec.Reject(record.RejectQuality, ReasonDuplicateOf+":"+dup)
		logging.WithContext(ctx, e.logger).Info("duplicate rejected",
			logging.String(logging.FieldEventType, "duplicate_reject"),
			logging.String("duplicate_of", dup),
		)
		return nil
	}
	rec.Accept()
	return nil
}

// apply runs st with the stage retry policy and resolves exhausted failures.
func (e *Engine) apply(ctx context.Context, st stage.Stage, rec *record.Record, logger *slog.Logger) (stage.Result, error) {
	var res stage.Result
	attempts, _ := e.policy.Do(ctx, func(attempt int) (retry.Decision, error) {
		res = st.Apply(ctx, rec)
		if res.Outcome != stage.OutcomeRetry {
			return retry.Decision{}, nil
		}
		cause := res.Err
		if cause == nil {
			cause = errors.New("stage requested retry")
		}
		transient := services.IsTransient(cause)
		if transient && attempt < e.policy.Attempts() {
			logger.Debug("stage attempt failed; retrying",
				logging.String(logging.FieldEventType, "stage_retry"),
				logging.Int("attempt", attempt),
				logging.Error(cause),
			)
		}
		return retry.Decision{Retry: transient}, cause
	})
	if res.Outcome != stage.OutcomeRetry {
		return res, nil
	}
	if err := ctx.Err(); err != nil {
		return stage.Result{}, fmt.Errorf("%w: %w", ErrAbandoned, err)
	}
	return e.escalate(ctx, st, rec, res.Err, attempts, logger)
}

func (e *Engine) escalate(ctx context.Context, st stage.Stage, rec *record.Record, cause error, attempts int, logger *slog.Logger) (stage.Result, error) {
	name := st.Name()
	if cause == nil {
		cause = errors.New("stage requested retry")
	}
	if errors.Is(cause, services.ErrValidation) {
		logging.WarnWithContext(logger, "stage input invalid; record rejected", "stage_invalid_input",
			logging.Int("attempts", attempts),
			logging.String(logging.FieldImpact, "record rejected without a quality decision"),
			logging.Error(cause),
		)
		return stage.Reject(record.RejectValidation, ReasonInvalidInput+":"+name), nil
	}
	if e.mandatory[name] {
		logger.Error("stage failed",
			logging.String(logging.FieldEventType, "stage_failure"),
			logging.Int("attempts", attempts),
			logging.String(logging.FieldErrorHint, "check judge connectivity and credentials, then rerun with --resume"),
			logging.Error(cause),
		)
		return stage.Result{}, services.Wrap(services.ErrFatalInfra, "pipeline", name,
			fmt.Sprintf("mandatory stage failed after %d attempts", attempts), cause)
	}

	if fb, ok := st.(stage.Fallbacker); ok {
		res := fb.Fallback(ctx, rec, cause)
		if res.Outcome != stage.OutcomeRetry {
			logging.WarnWithContext(logger, "stage unavailable; fallback applied", "stage_fallback",
				logging.Int("attempts", attempts),
				logging.String(logging.FieldImpact, "record keeps its original value for this stage"),
				logging.String(logging.FieldErrorHint, "check judge connectivity"),
				logging.Error(cause),
			)
			return res, nil
		}
	}

	logging.WarnWithContext(logger, "stage unavailable; record rejected", "stage_unavailable",
		logging.Int("attempts", attempts),
		logging.String(logging.FieldImpact, "record rejected without a quality decision"),
		logging.String(logging.FieldErrorHint, "check judge connectivity"),
		logging.Error(cause),
	)
	return stage.Reject(record.RejectValidation, ReasonStageUnavailable+":"+name), nil
}

// Health reports readiness for every stage. Stages without an external
// dependency are always ready.
func (e *Engine) Health(ctx context.Context) []stage.Health {
	out := make([]stage.Health, 0, len(e.stages))
	for _, st := range e.stages {
		if checker, ok := st.(stage.HealthChecker); ok {
			out = append(out, checker.HealthCheck(ctx))
			continue
		}
		out = append(out, stage.Healthy(st.Name()))
	}
	return out
}
