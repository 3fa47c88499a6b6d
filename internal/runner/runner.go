package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"curator/internal/config"
	"curator/internal/logging"
	"curator/internal/pipeline"
	"curator/internal/record"
	"curator/internal/services"
)

// Source yields records in input order and io.EOF when exhausted.
type Source interface {
	Next() (*record.Record, error)
}

// Processor drives one record to a final state.
type Processor interface {
	Run(ctx context.Context, rec *record.Record) error
}

// Writer appends finished entries to an artifact.
type Writer interface {
	Write(entry record.Entry) error
}

// Progress is the checkpoint view the controller needs.
type Progress interface {
	IsProcessed(id string) bool
	RecordComplete(id string, accepted bool, reason string) error
	Flush() error
}

// Recorder receives outcome and occupancy metrics.
type Recorder interface {
	RecordOutcome(outcome, reason string)
	InFlight(delta int)
}

// Options configures a Controller.
type Options struct {
	Workers      int
	BufferFactor int
	GracePeriod  time.Duration
	Engine       Processor
	Checkpoint   Progress
	Accepted     Writer
	Rejected     Writer
	Metrics      Recorder
	Logger       *slog.Logger
}

// OptionsFromConfig fills the pool settings from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Workers:      cfg.Pipeline.Workers,
		BufferFactor: cfg.Pipeline.BufferFactor,
		GracePeriod:  cfg.GracePeriod(),
	}
}

// Report summarizes a finished run.
type Report struct {
	Accepted    int            `json:"accepted"`
	Rejected    int            `json:"rejected"`
	Skipped     int            `json:"skipped"`
	Abandoned   int            `json:"abandoned"`
	Reasons     map[string]int `json:"reasons"`
	Duration    time.Duration  `json:"duration"`
	Interrupted bool           `json:"interrupted"`
}

// Completed returns the number of records that reached a final state.
func (r Report) Completed() int {
	return r.Accepted + r.Rejected
}

// Controller runs the worker pool.
type Controller struct {
	opts   Options
	logger *slog.Logger
}

// New validates opts and returns a Controller.
func New(opts Options) (*Controller, error) {
	if opts.Engine == nil {
		return nil, services.Wrap(services.ErrConfiguration, "runner", "new", "engine required", nil)
	}
	if opts.Checkpoint == nil {
		return nil, services.Wrap(services.ErrConfiguration, "runner", "new", "checkpoint required", nil)
	}
	if opts.Accepted == nil {
		return nil, services.Wrap(services.ErrConfiguration, "runner", "new", "accepted sink required", nil)
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.BufferFactor <= 0 {
		opts.BufferFactor = 1
	}
	if opts.GracePeriod < 0 {
		opts.GracePeriod = 0
	}
	return &Controller{
		opts:   opts,
		logger: logging.NewComponentLogger(opts.Logger, "runner"),
	}, nil
}

// Capacity returns the maximum number of records in flight.
func (c *Controller) Capacity() int {
	return c.opts.Workers * c.opts.BufferFactor
}

// Process runs src to completion and returns the report.
func (c *Controller) Process(ctx context.Context, src Source) (Report, error) {
	return c.Start(ctx, src).Wait()
}

// Start begins processing src in the background.
func (c *Controller) Start(ctx context.Context, src Source) *Run {
	capacity := c.Capacity()
	work, cancelWork := context.WithCancelCause(context.WithoutCancel(ctx))
	group, groupCtx := errgroup.WithContext(work)
	r := &Run{
		c:        c,
		parent:   ctx,
		workCtx:  groupCtx,
		jobs:     make(chan *record.Record, capacity),
		slots:    semaphore.NewWeighted(int64(capacity)),
		outcomes: make(chan record.Entry, capacity),
		done:     make(chan struct{}),
		started:  time.Now(),
		report:   Report{Reasons: map[string]int{}},
	}

	c.logger.Info("run started",
		logging.String(logging.FieldEventType, "run_start"),
		logging.Int("workers", c.opts.Workers),
		logging.Int("capacity", capacity),
		logging.Duration("grace_period", c.opts.GracePeriod),
	)

	finished := make(chan struct{})
	go r.watchShutdown(cancelWork, finished)

	group.Go(func() error {
		defer close(r.jobs)
		return r.dispatch(src)
	})
	for worker := 1; worker <= c.opts.Workers; worker++ {
		group.Go(func() error {
			return r.work(worker)
		})
	}

	go func() {
		err := group.Wait()
		close(finished)
		cancelWork(nil)
		r.finish(err)
		close(r.outcomes)
		close(r.done)
	}()
	return r
}

var errGraceElapsed = errors.New("shutdown grace period elapsed")

// Run is one in-progress execution of the controller.
type Run struct {
	c        *Controller
	parent   context.Context
	workCtx  context.Context
	jobs     chan *record.Record
	slots    *semaphore.Weighted
	outcomes chan record.Entry
	done     chan struct{}
	started  time.Time

	mu     sync.Mutex
	report Report
	err    error
}

// Outcomes streams every record that reached a final state, exactly once.
// The channel closes when the run ends. Entries not read by the caller are
// drained by Wait.
func (r *Run) Outcomes() <-chan record.Entry {
	return r.outcomes
}

// Wait blocks until the run ends and returns its report. A non-nil error is
// a fatal abort; interruption is reported through Report.Interrupted.
func (r *Run) Wait() (Report, error) {
	for range r.outcomes {
	}
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	report := r.report
	report.Reasons = make(map[string]int, len(r.report.Reasons))
	for k, v := range r.report.Reasons {
		report.Reasons[k] = v
	}
	return report, r.err
}

// Report returns the counters so far.
func (r *Run) Report() Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	report := r.report
	report.Reasons = make(map[string]int, len(r.report.Reasons))
	for k, v := range r.report.Reasons {
		report.Reasons[k] = v
	}
	report.Duration = time.Since(r.started)
	return report
}

func (r *Run) watchShutdown(cancelWork context.CancelCauseFunc, finished <-chan struct{}) {
	select {
	case <-finished:
		return
	case <-r.parent.Done():
	}
	logging.WarnWithContext(r.c.logger, "shutdown requested; finishing in-flight records", "run_shutdown",
		logging.Duration("grace_period", r.c.opts.GracePeriod),
		logging.String(logging.FieldImpact, "queued records are left for the next run"),
		logging.String(logging.FieldErrorHint, "rerun with --resume to continue"),
	)
	timer := time.NewTimer(r.c.opts.GracePeriod)
	defer timer.Stop()
	select {
	case <-finished:
	case <-timer.C:
		cancelWork(errGraceElapsed)
	}
}

func (r *Run) dispatch(src Source) error {
	ctx, cancel := context.WithCancel(r.workCtx)
	defer cancel()
	stop := context.AfterFunc(r.parent, cancel)
	defer stop()
	for {
		if r.parent.Err() != nil || r.workCtx.Err() != nil {
			return nil
		}
		rec, err := src.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read source: %w", err)
		}
		if rec == nil {
			continue
		}
		if r.c.opts.Checkpoint.IsProcessed(rec.ID) {
			r.mu.Lock()
			r.report.Skipped++
			r.mu.Unlock()
			r.c.logger.Debug("record already processed",
				logging.String(logging.FieldEventType, "record_skip"),
				logging.String(logging.FieldRecordID, rec.ID),
			)
			continue
		}
		if err := r.slots.Acquire(ctx, 1); err != nil {
			r.abandon(rec, "dispatch")
			return nil
		}
		r.inFlight(1)
		r.jobs <- rec
	}
}

func (r *Run) work(worker int) error {
	ctx := services.WithWorker(r.workCtx, worker)
	for rec := range r.jobs {
		if r.parent.Err() != nil || r.workCtx.Err() != nil {
			r.abandon(rec, "queued")
			r.release()
			continue
		}
		err := r.process(ctx, rec)
		r.release()
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Run) process(ctx context.Context, rec *record.Record) error {
	opts := r.c.opts
	err := opts.Engine.Run(ctx, rec)
	if errors.Is(err, pipeline.ErrAbandoned) {
		r.abandon(rec, "in_flight")
		return nil
	}
	if err != nil {
		return err
	}
	if !rec.Final() {
		return services.Wrap(services.ErrFatalInfra, "runner", "process", "engine returned a non-final record "+rec.ID, nil)
	}

	entry := rec.Entry()
	accepted := rec.Status == record.StatusAccepted
	if accepted {
		if err := opts.Accepted.Write(entry); err != nil {
			return err
		}
	} else if opts.Rejected != nil {
		if err := opts.Rejected.Write(entry); err != nil {
			return err
		}
	}
	if err := opts.Checkpoint.RecordComplete(rec.ID, accepted, rec.Reason); err != nil {
		return services.Wrap(services.ErrFatalInfra, "runner", "checkpoint", rec.ID, err)
	}

	outcome := string(rec.Status)
	reason := record.ReasonGroup(rec.Reason)
	r.mu.Lock()
	if accepted {
		r.report.Accepted++
	} else {
		r.report.Rejected++
		r.report.Reasons[reason]++
	}
	r.mu.Unlock()
	if opts.Metrics != nil {
		opts.Metrics.RecordOutcome(outcome, reason)
	}
	logging.WithContext(services.WithRecordID(ctx, rec.ID), r.c.logger).Debug("record completed",
		logging.String(logging.FieldEventType, "record_complete"),
		logging.String("status", outcome),
		logging.String(logging.FieldReason, rec.Reason),
	)

	r.outcomes <- entry
	return nil
}

func (r *Run) abandon(rec *record.Record, where string) {
	r.mu.Lock()
	r.report.Abandoned++
	r.mu.Unlock()
	r.c.logger.Debug("record abandoned",
		logging.String(logging.FieldEventType, "record_abandon"),
		logging.String(logging.FieldRecordID, rec.ID),
		logging.String("at", where),
	)
}

func (r *Run) release() {
	r.inFlight(-1)
	r.slots.Release(1)
}

func (r *Run) inFlight(delta int) {
	if r.c.opts.Metrics != nil {
		r.c.opts.Metrics.InFlight(delta)
	}
}

func (r *Run) finish(err error) {
	for rec := range r.jobs {
		r.abandon(rec, "queued")
		r.release()
	}
	flushErr := r.c.opts.Checkpoint.Flush()

	r.mu.Lock()
	r.report.Duration = time.Since(r.started)
	r.report.Interrupted = r.parent.Err() != nil
	if err == nil && flushErr != nil {
		err = flushErr
	}
	r.err = err
	report := r.report
	r.mu.Unlock()

	if err != nil {
		logging.ErrorWithContext(r.c.logger, "run aborted", "run_abort",
			logging.Error(err),
			logging.String(logging.FieldImpact, "remaining records were not processed"),
			logging.String(logging.FieldErrorHint, "fix the cause, then rerun with --resume"),
			logging.Int("accepted", report.Accepted),
			logging.Int("rejected", report.Rejected),
			logging.Int("abandoned", report.Abandoned),
		)
		return
	}
	r.c.logger.Info("run finished",
		logging.String(logging.FieldEventType, "run_complete"),
		logging.Int("accepted", report.Accepted),
		logging.Int("rejected", report.Rejected),
		logging.Int("skipped", report.Skipped),
		logging.Int("abandoned", report.Abandoned),
		logging.Bool("interrupted", report.Interrupted),
		logging.Duration("duration", report.Duration),
	)
}
