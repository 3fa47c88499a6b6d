package curation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"curator/internal/api"
	"curator/internal/checkpoint"
	"curator/internal/config"
	"curator/internal/fileutil"
	"curator/internal/judge"
	"curator/internal/logging"
	"curator/internal/metrics"
	"curator/internal/pipeline"
	"curator/internal/record"
	"curator/internal/runner"
	"curator/internal/services"
	"curator/internal/similarity"
	"curator/internal/sink"
	"curator/internal/source"
)

// Options supplies collaborators that would otherwise be built from config.
type Options struct {
	Logger  *slog.Logger
	Judge   judge.Evaluator
	Metrics *metrics.Recorder
	// OnOutcome observes every record that reached a final state.
	OnOutcome func(record.Entry)
}

// Result describes a finished run.
type Result struct {
	RunID        string
	Report       runner.Report
	Checkpoint   checkpoint.Checkpoint
	Reconciled   int
	Seeded       int
	Truncated    int64
	AcceptedPath string
	RejectedPath string
}

// Recovery is what a resumed run found on disk before processing.
type Recovery struct {
	Reconciled int
	Seeded     int
	Truncated  int64
}

// Run executes one curation run over cfg.Paths.Input. Record-level failures
// never surface here; a non-nil error is a configuration problem or a fatal
// abort, and the last flushed checkpoint stays usable for --resume.
func Run(ctx context.Context, cfg *config.Config, opts Options) (Result, error) {
	if cfg == nil {
		return Result{}, services.Wrap(services.ErrConfiguration, "curation", "run", "config required", nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "curation")
	recorder := opts.Metrics
	if recorder == nil {
		recorder = metrics.New()
	}
	result := Result{AcceptedPath: cfg.AcceptedPath()}
	if cfg.Sink.WriteRejects {
		result.RejectedPath = cfg.RejectedPath()
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return result, services.Wrap(services.ErrConfiguration, "curation", "prepare", "create directories", err)
	}
	lock, err := checkpoint.AcquireLock(cfg.CheckpointPath())
	if err != nil {
		return result, err
	}
	defer lock.Release()

	if !cfg.Pipeline.Resume {
		if err := archiveArtifacts(logger, result.AcceptedPath, cfg.RejectedPath()); err != nil {
			return result, err
		}
	}

	store, err := checkpoint.Open(checkpoint.OptionsFromConfig(cfg, logger))
	if err != nil {
		return result, err
	}
	defer store.Close()
	result.RunID = store.RunID()
	ctx = services.WithRunID(ctx, result.RunID)
	logger = logging.WithContext(ctx, logger)

	index := similarity.New(similarity.Options{
		Threshold:   cfg.Similarity.Threshold,
		ShingleSize: cfg.Similarity.ShingleSize,
	})
	recovery, err := Recover(cfg, store, index, logger)
	if err != nil {
		return result, err
	}
	result.Reconciled = recovery.Reconciled
	result.Seeded = recovery.Seeded
	result.Truncated = recovery.Truncated

	deps := pipeline.Deps{Index: index, Logger: logger, Observer: recorder}
	if opts.Judge != nil {
		deps.Judge = opts.Judge
	} else if cfg.UsesJudge() {
		client, err := judge.NewFromConfig(ctx, cfg.Judge, logger, recorder)
		if err != nil {
			return result, err
		}
		defer client.Close()
		deps.Judge = client
	}
	engine, err := pipeline.Build(cfg, deps)
	if err != nil {
		return result, err
	}

	src, err := source.Open(cfg.Paths.Input, source.OptionsFromConfig(cfg, logger))
	if err != nil {
		return result, err
	}
	defer src.Close()

	accepted, err := sink.Open(result.AcceptedPath, cfg.Sink.Format)
	if err != nil {
		return result, err
	}
	defer accepted.Close()
	runOpts := runner.OptionsFromConfig(cfg)
	runOpts.Engine = engine
	runOpts.Checkpoint = store
	runOpts.Accepted = accepted
	runOpts.Metrics = recorder
	runOpts.Logger = logger
	if cfg.Sink.WriteRejects {
		rejected, err := sink.Open(result.RejectedPath, cfg.Sink.Format)
		if err != nil {
			return result, err
		}
		defer rejected.Close()
		runOpts.Rejected = rejected
	}
	controller, err := runner.New(runOpts)
	if err != nil {
		return result, err
	}

	logger.Info("curation run starting",
		logging.String(logging.FieldEventType, "curation_start"),
		logging.String("input", cfg.Paths.Input),
		logging.String("output", result.AcceptedPath),
		logging.Any("stages", engine.Stages()),
		logging.Bool("resume", cfg.Pipeline.Resume),
		logging.Int("already_processed", store.Processed()),
	)

	var live atomic.Pointer[runner.Run]
	var running atomic.Bool
	if cfg.API.Enabled {
		server := api.New(api.Options{
			Bind:    cfg.API.Bind,
			Health:  engine,
			Metrics: recorder.Handler(),
			Logger:  logger,
			Status: func() api.RunStatus {
				var report runner.Report
				if run := live.Load(); run != nil {
					report = run.Report()
				}
				status := api.FromCheckpoint(store.Snapshot(), report)
				status.Running = running.Load()
				return status
			},
		})
		if err := server.Start(ctx); err != nil {
			logging.WarnWithContext(logger, "status server unavailable", "api_start_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "run continues without /status and /metrics"),
				logging.String(logging.FieldErrorHint, "check api.bind for conflicts"),
			)
		} else {
			defer server.Stop()
		}
	}

	running.Store(true)
	run := controller.Start(ctx, src)
	live.Store(run)
	for entry := range run.Outcomes() {
		if opts.OnOutcome != nil {
			opts.OnOutcome(entry)
		}
	}
	report, runErr := run.Wait()
	running.Store(false)
	result.Report = report

	if err := store.Close(); err != nil && runErr == nil {
		runErr = err
	}
	result.Checkpoint = store.Snapshot()
	if runErr != nil {
		return result, runErr
	}
	return result, nil
}

// Recover truncates a partial trailing record in the output artifacts,
// reconciles entries the checkpoint missed, and seeds index with every
// accepted entry. A fresh run finds nothing to recover.
func Recover(cfg *config.Config, store *checkpoint.Store, index *similarity.Index, logger *slog.Logger) (Recovery, error) {
	var out Recovery
	if logger == nil {
		logger = logging.NewNop()
	}
	paths := []string{cfg.AcceptedPath()}
	if cfg.Sink.WriteRejects {
		paths = append(paths, cfg.RejectedPath())
	}
	for _, path := range paths {
		entries, truncated, err := sink.Recover(path, cfg.Sink.Format)
		if err != nil {
			return out, err
		}
		out.Truncated += truncated
		if truncated > 0 {
			logging.WarnWithContext(logger, "partial output record truncated", "sink_truncated",
				logging.String("path", path),
				logging.Int64("bytes", truncated),
				logging.String(logging.FieldImpact, "the interrupted record is processed again"),
			)
		}
		for _, entry := range entries {
			accepted := entry.Status == record.StatusAccepted
			if accepted && index != nil {
				index.Insert(entry.ID, index.Fingerprint(entry.Field(record.FieldContent)))
				out.Seeded++
			}
			if store.IsProcessed(entry.ID) {
				continue
			}
			err := store.RecordComplete(entry.ID, accepted, entry.Reason)
			if err != nil && !errors.Is(err, checkpoint.ErrAlreadyProcessed) {
				return out, fmt.Errorf("reconcile %s: %w", entry.ID, err)
			}
			out.Reconciled++
		}
	}
	if out.Reconciled > 0 {
		logging.WarnWithContext(logger, "checkpoint reconciled from output", "checkpoint_reconciled",
			logging.Int("records", out.Reconciled),
			logging.String(logging.FieldImpact, "records written before the last flush are not reprocessed"),
		)
	}
	if out.Seeded > 0 {
		logger.Info("similarity index seeded",
			logging.String(logging.FieldEventType, "index_seeded"),
			logging.Int("records", out.Seeded),
		)
	}
	return out, nil
}

func archiveArtifacts(logger *slog.Logger, paths ...string) error {
	for _, path := range paths {
		backup, err := fileutil.ArchiveToBackup(path)
		if err != nil {
			return services.Wrap(services.ErrFatalInfra, "curation", "archive", path, err)
		}
		if backup != "" {
			logger.Info("previous output archived",
				logging.String(logging.FieldEventType, "output_archived"),
				logging.String("backup", backup),
			)
		}
	}
	return nil
}
