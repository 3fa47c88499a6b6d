package checkpoint

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"curator/internal/config"
	"curator/internal/fileutil"
	"curator/internal/logging"
	"curator/internal/record"
	"curator/internal/services"
)

// ErrAlreadyProcessed is returned when a record id is completed twice.
var ErrAlreadyProcessed = errors.New("record already processed")

// Run is one entry of the run history.
type Run struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	Resumed   bool      `json:"resumed"`
}

// Checkpoint is the persisted progress of a curation run.
type Checkpoint struct {
	Version          int            `json:"version"`
	RunID            string         `json:"run_id"`
	ProcessedIDs     []string       `json:"processed_ids"`
	AcceptedCount    int            `json:"accepted_count"`
	RejectedCount    int            `json:"rejected_count"`
	RejectionReasons map[string]int `json:"rejection_reasons"`
	LastFlush        time.Time      `json:"last_flush"`
	Runs             []Run          `json:"runs"`
}

// Completion is one finished record.
type Completion struct {
	ID          string
	Accepted    bool
	Reason      string
	CompletedAt time.Time
}

// Options configures Open.
type Options struct {
	Backend       string
	Path          string
	FlushEvery    int
	FlushInterval time.Duration
	// Resume loads an existing checkpoint; otherwise it is archived to .bak.
	Resume bool
	Logger *slog.Logger
	Now    func() time.Time
}

// OptionsFromConfig maps the checkpoint section of cfg onto Options.
func OptionsFromConfig(cfg *config.Config, logger *slog.Logger) Options {
	return Options{
		Backend:       cfg.Checkpoint.Backend,
		Path:          cfg.CheckpointPath(),
		FlushEvery:    cfg.Checkpoint.FlushEvery,
		FlushInterval: cfg.FlushInterval(),
		Resume:        cfg.Pipeline.Resume,
		Logger:        logger,
	}
}

// flush carries what a backend needs to persist one flush. Snapshot is only
// evaluated by backends that rewrite the whole checkpoint.
type flush struct {
	snapshot  func() Checkpoint
	runID     string
	lastFlush time.Time
	added     []Completion
	runs      []Run
}

type backend interface {
	load() (Checkpoint, bool, error)
	save(f flush) error
	close() error
}

// Store tracks completed records. It is safe for concurrent use.
type Store struct {
	mu         sync.Mutex
	backend    backend
	logger     *slog.Logger
	now        func() time.Time
	flushEvery int
	interval   time.Duration

	runID     string
	currentID string
	processed map[string]struct{}
	accepted  int
	rejected  int
	reasons   map[string]int
	lastFlush time.Time
	runs      []Run

	pending []Completion
	newRuns []Run
	resumed bool
	closed  bool
}

// Open prepares the checkpoint at opts.Path. A fresh run archives any
// existing checkpoint; a resumed run loads it.
func Open(opts Options) (*Store, error) {
	if strings.TrimSpace(opts.Path) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "checkpoint", "open", "path required", nil)
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "checkpoint")

	if !opts.Resume {
		archived, err := archive(opts.Backend, opts.Path)
		if err != nil {
			return nil, services.Wrap(services.ErrFatalInfra, "checkpoint", "archive", opts.Path, err)
		}
		if archived != "" {
			logger.Info("previous checkpoint archived",
				logging.String(logging.FieldEventType, "checkpoint_archived"),
				logging.String("backup", archived),
			)
		}
	}

	var (
		be  backend
		err error
	)
	switch opts.Backend {
	case config.CheckpointBackendFile, "":
		be = newFileBackend(opts.Path)
	case config.CheckpointBackendSQLite:
		be, err = openSQLite(opts.Path)
	default:
		return nil, services.Wrap(services.ErrConfiguration, "checkpoint", "open", fmt.Sprintf("unsupported backend %q", opts.Backend), nil)
	}
	if err != nil {
		return nil, services.Wrap(services.ErrFatalInfra, "checkpoint", "open", opts.Path, err)
	}

	loaded, exists, err := be.load()
	if err != nil {
		_ = be.close()
		return nil, services.Wrap(services.ErrFatalInfra, "checkpoint", "load", opts.Path, err)
	}

	s := &Store{
		backend:    be,
		logger:     logger,
		now:        now,
		flushEvery: opts.FlushEvery,
		interval:   opts.FlushInterval,
		processed:  make(map[string]struct{}, len(loaded.ProcessedIDs)),
		reasons:    make(map[string]int),
		resumed:    opts.Resume && exists,
	}
	for _, id := range loaded.ProcessedIDs {
		s.processed[id] = struct{}{}
	}
	for reason, count := range loaded.RejectionReasons {
		s.reasons[reason] = count
	}
	s.accepted = loaded.AcceptedCount
	s.rejected = loaded.RejectedCount
	s.lastFlush = loaded.LastFlush
	s.runs = append(s.runs, loaded.Runs...)
	s.runID = loaded.RunID

	current := Run{ID: ulid.Make().String(), StartedAt: now(), Resumed: s.resumed}
	if s.runID == "" {
		s.runID = current.ID
	}
	s.currentID = current.ID
	s.runs = append(s.runs, current)
	s.newRuns = append(s.newRuns, current)

	if err := s.Flush(); err != nil {
		_ = be.close()
		return nil, err
	}
	logger.Info("checkpoint opened",
		logging.String(logging.FieldEventType, "checkpoint_open"),
		logging.String("path", opts.Path),
		logging.String("backend", opts.Backend),
		logging.Bool("resumed", s.resumed),
		logging.Int("processed", len(s.processed)),
	)
	return s, nil
}

// archive moves an existing checkpoint aside. SQLite write-ahead files follow
// the database so the backup stays consistent.
func archive(backendName, path string) (string, error) {
	archived, err := fileutil.ArchiveToBackup(path)
	if err != nil || archived == "" {
		return archived, err
	}
	if backendName == config.CheckpointBackendSQLite {
		for _, suffix := range []string{"-wal", "-shm"} {
			if err := os.Rename(path+suffix, archived+suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
				return archived, err
			}
		}
	}
	return archived, nil
}

// Resumed reports whether a prior checkpoint was loaded.
func (s *Store) Resumed() bool {
	return s.resumed
}

// RunID returns the id of the current run.
func (s *Store) RunID() string {
	return s.currentID
}

// IsProcessed reports whether id already reached a final state.
func (s *Store) IsProcessed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.processed[id]
	return ok
}

// Processed returns the number of completed ids.
func (s *Store) Processed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.processed)
}

// RecordComplete marks id final. Each id completes exactly once. A flush
// failure is returned as a fatal error.
func (s *Store) RecordComplete(id string, accepted bool, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.processed[id]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyProcessed, id)
	}
	s.processed[id] = struct{}{}
	if accepted {
		s.accepted++
		reason = ""
	} else {
		s.rejected++
		s.reasons[record.ReasonGroup(reason)]++
	}
	s.pending = append(s.pending, Completion{ID: id, Accepted: accepted, Reason: reason, CompletedAt: s.now()})

	if s.dueLocked() {
		return s.flushLocked()
	}
	return nil
}

func (s *Store) dueLocked() bool {
	if s.flushEvery > 0 && len(s.pending) >= s.flushEvery {
		return true
	}
	if s.interval > 0 && s.now().Sub(s.lastFlush) >= s.interval {
		return true
	}
	return s.flushEvery <= 0 && s.interval <= 0
}

// Flush persists pending progress.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *Store) flushLocked() error {
	if s.closed {
		return nil
	}
	flushAt := s.now()
	previous := s.lastFlush
	s.lastFlush = flushAt
	err := s.backend.save(flush{
		snapshot:  s.snapshotLocked,
		runID:     s.runID,
		lastFlush: flushAt,
		added:     s.pending,
		runs:      s.newRuns,
	})
	if err != nil {
		s.lastFlush = previous
		return services.Wrap(services.ErrFatalInfra, "checkpoint", "flush", "persist progress", err)
	}
	s.pending = s.pending[:0]
	s.newRuns = nil
	return nil
}

// Snapshot returns a copy of the current progress.
func (s *Store) Snapshot() Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Checkpoint {
	ids := make([]string, 0, len(s.processed))
	for id := range s.processed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	reasons := make(map[string]int, len(s.reasons))
	for k, v := range s.reasons {
		reasons[k] = v
	}
	return Checkpoint{
		Version:          fileFormatVersion,
		RunID:            s.runID,
		ProcessedIDs:     ids,
		AcceptedCount:    s.accepted,
		RejectedCount:    s.rejected,
		RejectionReasons: reasons,
		LastFlush:        s.lastFlush,
		Runs:             append([]Run(nil), s.runs...),
	}
}

// Close flushes and releases the backend.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	flushErr := s.flushLocked()
	s.closed = true
	closeErr := s.backend.close()
	if flushErr != nil {
		return flushErr
	}
	if closeErr != nil {
		return services.Wrap(services.ErrFatalInfra, "checkpoint", "close", "release backend", closeErr)
	}
	return nil
}

// Read loads a checkpoint without taking ownership of it.
func Read(backendName, path string) (Checkpoint, bool, error) {
	var (
		be  backend
		err error
	)
	switch backendName {
	case config.CheckpointBackendSQLite:
		if !fileutil.Exists(path) {
			return Checkpoint{}, false, nil
		}
		be, err = openSQLite(path)
		if err != nil {
			return Checkpoint{}, false, err
		}
	default:
		be = newFileBackend(path)
	}
	defer be.close()
	return be.load()
}

// Reset archives the checkpoint at path to .bak.
func Reset(backendName, path string) (string, error) {
	return archive(backendName, path)
}
