// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

// Package history persists completed pipeline runs to a local SQLite
// database and serves the `gantry history` listing.
//
// The store is a best-effort side channel: the CLI records runs after
// the fact and degrades to a logged warning when the database is
// unavailable. Nothing in the run path depends on it.
//
// Each matrix entry's run is one row in the runs table. Scalar outcome
// fields (status, failed stage, timing) are columns so listings can
// filter and sort without decoding; the per-stage detail travels as a
// CBOR blob alongside them.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/gantry-ci/gantry/lib/clock"
	"github.com/gantry-ci/gantry/lib/codec"
	"github.com/gantry-ci/gantry/lib/schema"
	"github.com/gantry-ci/gantry/lib/sqlitepool"
)

// Config holds the parameters for opening a history store.
type Config struct {
	// Path is the filesystem path to the SQLite database file. The
	// parent directory must exist. Required.
	Path string

	// PoolSize is the number of connections in the pool. Defaults to
	// 2: the CLI writes from one goroutine and reads from at most one
	// other.
	PoolSize int

	// Clock provides record timestamps. Defaults to the wall clock.
	Clock clock.Clock

	// Logger receives operational messages. Defaults to discarding
	// them.
	Logger *slog.Logger
}

// Store is a SQLite-backed archive of completed runs.
type Store struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

const runsSchema = `
	CREATE TABLE IF NOT EXISTS runs (
		id           INTEGER PRIMARY KEY,
		recorded_at  INTEGER NOT NULL,
		pipeline     TEXT NOT NULL,
		entry        TEXT NOT NULL,
		runtime      TEXT NOT NULL DEFAULT '',
		status       TEXT NOT NULL,
		failed_stage TEXT NOT NULL DEFAULT '',
		failed_index INTEGER NOT NULL DEFAULT -1,
		error        TEXT NOT NULL DEFAULT '',
		started_at   TEXT NOT NULL,
		completed_at TEXT NOT NULL,
		duration_ms  INTEGER NOT NULL,
		detail       BLOB
	);
	CREATE INDEX IF NOT EXISTS idx_runs_recorded ON runs(recorded_at DESC);
	CREATE INDEX IF NOT EXISTS idx_runs_pipeline ON runs(pipeline, recorded_at DESC);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status, recorded_at DESC);
`

// Open creates or opens the history database at cfg.Path and ensures
// the schema exists.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("history store: Path is required")
	}

	timeSource := cfg.Clock
	if timeSource == nil {
		timeSource = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 2
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: poolSize,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("history store: %w", err)
	}

	store := &Store{
		pool:   pool,
		clock:  timeSource,
		logger: logger,
	}
	if err := store.initSchema(); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying connection pool. Blocks until all
// borrowed connections are returned.
func (s *Store) Close() error {
	return s.pool.Close()
}

func (s *Store) initSchema() error {
	conn, err := s.pool.Take(context.Background())
	if err != nil {
		return fmt.Errorf("history store: init schema: %w", err)
	}
	defer s.pool.Put(conn)

	if err := sqlitex.ExecuteScript(conn, runsSchema, nil); err != nil {
		return fmt.Errorf("history store: init schema: %w", err)
	}
	return nil
}

// runDetail is the CBOR-encoded portion of a run record: everything
// the listing columns do not carry.
type runDetail struct {
	Stages []schema.StageResult   `json:"stages,omitempty"`
	Deploy *schema.DeployDecision `json:"deploy,omitempty"`
}

// RecordPipeline inserts one row per run in the pipeline result. All
// rows are written in a single IMMEDIATE transaction, so a concurrent
// listing never sees a partially recorded pipeline.
func (s *Store) RecordPipeline(ctx context.Context, result *schema.PipelineResult) (err error) {
	if len(result.Runs) == 0 {
		return nil
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("history store: record: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("history store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	recordedAt := s.clock.Now().UnixNano()
	for i := range result.Runs {
		if err = s.insertRun(conn, recordedAt, result.Pipeline, &result.Runs[i]); err != nil {
			return err
		}
	}

	s.logger.Debug("pipeline recorded",
		"pipeline", result.Pipeline,
		"runs", len(result.Runs),
	)
	return nil
}

func (s *Store) insertRun(conn *sqlite.Conn, recordedAt int64, pipeline string, run *schema.RunResult) error {
	var detailBlob any
	if len(run.Stages) > 0 || run.Deploy != nil {
		data, err := codec.Marshal(runDetail{Stages: run.Stages, Deploy: run.Deploy})
		if err != nil {
			return fmt.Errorf("history store: marshal run detail: %w", err)
		}
		detailBlob = data
	}

	err := sqlitex.Execute(conn, `INSERT INTO runs
		(recorded_at, pipeline, entry, runtime, status, failed_stage,
		 failed_index, error, started_at, completed_at, duration_ms,
		 detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				recordedAt,
				pipeline,
				run.Entry,
				run.Runtime,
				string(run.Status),
				string(run.FailedStage),
				run.FailedIndex,
				run.Error,
				run.StartedAt,
				run.CompletedAt,
				run.DurationMS,
				detailBlob,
			},
		})
	if err != nil {
		return fmt.Errorf("history store: insert run %q: %w", run.Entry, err)
	}
	return nil
}

// Record is one stored run: the pipeline it belongs to, when it was
// recorded, and the reconstructed run result.
type Record struct {
	// ID is the store-assigned row identifier, increasing with
	// insertion order.
	ID int64

	// Pipeline is the name of the pipeline the run belongs to.
	Pipeline string

	// RecordedAt is when the run was written, in Unix nanoseconds.
	RecordedAt int64

	// Result is the run outcome as originally recorded.
	Result schema.RunResult
}

// Filter narrows a listing. Zero-valued fields are not applied.
type Filter struct {
	// Pipeline restricts results to a single pipeline name.
	Pipeline string

	// Status restricts results to runs with this terminal status.
	Status schema.RunStatus

	// Limit caps the number of records returned. Defaults to 20.
	Limit int
}

// ListRuns returns the most recently recorded runs, newest first.
func (s *Store) ListRuns(ctx context.Context, filter Filter) ([]Record, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("history store: list: %w", err)
	}
	defer s.pool.Put(conn)

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}

	var conditions []string
	var args []any
	if filter.Pipeline != "" {
		conditions = append(conditions, "pipeline = ?")
		args = append(args, filter.Pipeline)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := "SELECT id, recorded_at, pipeline, entry, runtime, status, " +
		"failed_stage, failed_index, error, started_at, completed_at, " +
		"duration_ms, detail FROM runs"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY recorded_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	var records []Record
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			record, err := scanRecord(stmt)
			if err != nil {
				return err
			}
			records = append(records, record)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("history store: list: %w", err)
	}
	return records, nil
}

func scanRecord(stmt *sqlite.Stmt) (Record, error) {
	// Columns: id(0), recorded_at(1), pipeline(2), entry(3),
	// runtime(4), status(5), failed_stage(6), failed_index(7),
	// error(8), started_at(9), completed_at(10), duration_ms(11),
	// detail(12)
	record := Record{
		ID:         stmt.ColumnInt64(0),
		RecordedAt: stmt.ColumnInt64(1),
		Pipeline:   stmt.ColumnText(2),
		Result: schema.RunResult{
			Entry:       stmt.ColumnText(3),
			Runtime:     stmt.ColumnText(4),
			Status:      schema.RunStatus(stmt.ColumnText(5)),
			FailedStage: schema.StageName(stmt.ColumnText(6)),
			FailedIndex: stmt.ColumnInt(7),
			Error:       stmt.ColumnText(8),
			StartedAt:   stmt.ColumnText(9),
			CompletedAt: stmt.ColumnText(10),
			DurationMS:  stmt.ColumnInt64(11),
		},
	}

	if !stmt.ColumnIsNull(12) {
		blob := make([]byte, stmt.ColumnLen(12))
		stmt.ColumnBytes(12, blob)
		var detail runDetail
		if err := codec.Unmarshal(blob, &detail); err != nil {
			return record, fmt.Errorf("unmarshal run detail for id %d: %w", record.ID, err)
		}
		record.Result.Stages = detail.Stages
		record.Result.Deploy = detail.Deploy
	}

	return record, nil
}

// Prune deletes all but the newest keep runs. Returns the number of
// rows deleted.
func (s *Store) Prune(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("history store: prune: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `DELETE FROM runs WHERE id NOT IN
		(SELECT id FROM runs ORDER BY recorded_at DESC, id DESC LIMIT ?)`,
		&sqlitex.ExecOptions{
			Args: []any{keep},
		})
	if err != nil {
		return 0, fmt.Errorf("history store: prune: %w", err)
	}

	deleted := conn.Changes()
	if deleted > 0 {
		s.logger.Debug("history pruned", "deleted", deleted, "kept", keep)
	}
	return deleted, nil
}
