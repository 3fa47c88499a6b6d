package checkpoint

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"curator/internal/record"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema changes.
const schemaVersion = 1

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

type sqliteBackend struct {
	db   *sql.DB
	path string
}

func openSQLite(path string) (*sqliteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	b := &sqliteBackend{db: db, path: path}
	if err := b.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

func (b *sqliteBackend) initSchema(ctx context.Context) error {
	var tableExists int
	err := b.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return b.createSchema(ctx)
	}

	var version int
	if err := b.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (start a fresh run or delete %s)",
			ErrSchemaMismatch, version, schemaVersion, b.path)
	}
	return nil
}

func (b *sqliteBackend) createSchema(ctx context.Context) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

func (b *sqliteBackend) load() (Checkpoint, bool, error) {
	ctx := context.Background()
	cp := Checkpoint{Version: schemaVersion, RejectionReasons: map[string]int{}}

	meta, err := b.readMeta(ctx)
	if err != nil {
		return Checkpoint{}, false, err
	}
	cp.RunID = meta["run_id"]
	if raw := meta["last_flush"]; raw != "" {
		if ts, err := time.Parse(timeLayout, raw); err == nil {
			cp.LastFlush = ts
		}
	}

	rows, err := b.db.QueryContext(ctx, "SELECT id, accepted, reason FROM processed ORDER BY id")
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("query processed: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id       string
			accepted bool
			reason   string
		)
		if err := rows.Scan(&id, &accepted, &reason); err != nil {
			return Checkpoint{}, false, fmt.Errorf("scan processed: %w", err)
		}
		cp.ProcessedIDs = append(cp.ProcessedIDs, id)
		if accepted {
			cp.AcceptedCount++
		} else {
			cp.RejectedCount++
			cp.RejectionReasons[record.ReasonGroup(reason)]++
		}
	}
	if err := rows.Err(); err != nil {
		return Checkpoint{}, false, fmt.Errorf("iterate processed: %w", err)
	}

	runRows, err := b.db.QueryContext(ctx, "SELECT id, started_at, resumed FROM runs ORDER BY started_at, id")
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("query runs: %w", err)
	}
	defer runRows.Close()
	for runRows.Next() {
		var (
			run     Run
			started string
		)
		if err := runRows.Scan(&run.ID, &started, &run.Resumed); err != nil {
			return Checkpoint{}, false, fmt.Errorf("scan run: %w", err)
		}
		run.StartedAt, _ = time.Parse(timeLayout, started)
		cp.Runs = append(cp.Runs, run)
	}
	if err := runRows.Err(); err != nil {
		return Checkpoint{}, false, fmt.Errorf("iterate runs: %w", err)
	}

	exists := cp.RunID != "" || len(cp.ProcessedIDs) > 0
	return cp, exists, nil
}

func (b *sqliteBackend) readMeta(ctx context.Context) (map[string]string, error) {
	rows, err := b.db.QueryContext(ctx, "SELECT key, value FROM meta")
	if err != nil {
		return nil, fmt.Errorf("query meta: %w", err)
	}
	defer rows.Close()
	meta := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan meta: %w", err)
		}
		meta[key] = value
	}
	return meta, rows.Err()
}

func (b *sqliteBackend) save(f flush) error {
	ctx := context.Background()
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin flush tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, c := range f.added {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO processed (id, accepted, reason, completed_at) VALUES (?, ?, ?, ?)",
			c.ID, c.Accepted, c.Reason, c.CompletedAt.UTC().Format(timeLayout),
		); err != nil {
			return fmt.Errorf("insert processed %s: %w", c.ID, err)
		}
	}
	for _, run := range f.runs {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO runs (id, started_at, resumed) VALUES (?, ?, ?)",
			run.ID, run.StartedAt.UTC().Format(timeLayout), run.Resumed,
		); err != nil {
			return fmt.Errorf("insert run %s: %w", run.ID, err)
		}
	}
	upsert := "INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value"
	if _, err := tx.ExecContext(ctx, upsert, "run_id", f.runID); err != nil {
		return fmt.Errorf("write run id: %w", err)
	}
	if _, err := tx.ExecContext(ctx, upsert, "last_flush", f.lastFlush.UTC().Format(timeLayout)); err != nil {
		return fmt.Errorf("write last flush: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit flush: %w", err)
	}
	return nil
}

func (b *sqliteBackend) close() error {
	return b.db.Close()
}
