// Package db stores training runs, per-episode results and checkpoint
// records in SQLite.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/onboard/internal/monitoring"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

type DB struct {
	*sql.DB
	path string
}

// Open opens (creating if needed) the database at path and applies any
// pending migrations.
func Open(path string) (*DB, error) {
	// Pragmas in the DSN are applied by the driver on every new connection.
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	db := &DB{DB: sqlDB, path: path}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	monitoring.Logf("db: opened %s", path)
	return db, nil
}

// Run is one training session.
type Run struct {
	ID         uuid.UUID  `json:"run_id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Seed       int64      `json:"seed"`
	Episodes   int        `json:"episodes"`
	Steps      int        `json:"steps_per_episode"`
	ConfigJSON string     `json:"config"`
	Notes      string     `json:"notes,omitempty"`
}

// Episode is the summary of one training episode.
type Episode struct {
	RunID       uuid.UUID
	Episode     int
	TotalReward float64
	MeanAbsTD   float64
	Epsilon     float64
	BufferLen   int
}

// CheckpointRecord points at a saved checkpoint file.
type CheckpointRecord struct {
	ID         int64
	RunID      uuid.UUID
	Path       string
	Format     string
	Episode    int
	EvalReward *float64
	CreatedAt  time.Time
}

func unixNanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromUnixNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

// StartRun inserts a new run.
func (db *DB) StartRun(ctx context.Context, r Run) error {
	if r.ConfigJSON == "" {
		r.ConfigJSON = "{}"
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO training_runs (run_id, started_at, seed, episodes, steps, config_json, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(), unixNanos(r.StartedAt), r.Seed, r.Episodes, r.Steps, r.ConfigJSON, r.Notes,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", r.ID, err)
	}
	return nil
}

// FinishRun stamps the run's finish time.
func (db *DB) FinishRun(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := db.ExecContext(ctx, `UPDATE training_runs SET finished_at = ? WHERE run_id = ?`, unixNanos(at), id.String())
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetRun loads a single run.
func (db *DB) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	row := db.QueryRowContext(ctx, `
		SELECT run_id, started_at, finished_at, seed, episodes, steps, config_json, notes
		FROM training_runs WHERE run_id = ?`, id.String())
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return r, err
}

// Runs returns the most recent runs, newest first.
func (db *DB) Runs(ctx context.Context, limit int) ([]Run, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT run_id, started_at, finished_at, seed, episodes, steps, config_json, notes
		FROM training_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var (
		r        Run
		id       string
		started  int64
		finished sql.NullInt64
	)
	if err := s.Scan(&id, &started, &finished, &r.Seed, &r.Episodes, &r.Steps, &r.ConfigJSON, &r.Notes); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("run id %q: %w", id, err)
	}
	r.ID = parsed
	r.StartedAt = fromUnixNanos(started)
	if finished.Valid {
		t := fromUnixNanos(finished.Int64)
		r.FinishedAt = &t
	}
	return &r, nil
}

// RecordEpisode stores one episode summary. Recording the same episode twice
// replaces the earlier row.
func (db *DB) RecordEpisode(ctx context.Context, e Episode) error {
	_, err := db.ExecContext(ctx, `
		INSERT OR REPLACE INTO episodes (run_id, episode, total_reward, mean_abs_td, epsilon, buffer_len)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.RunID.String(), e.Episode, e.TotalReward, e.MeanAbsTD, e.Epsilon, e.BufferLen,
	)
	if err != nil {
		return fmt.Errorf("insert episode %d of run %s: %w", e.Episode, e.RunID, err)
	}
	return nil
}

// Episodes returns the run's episodes in order.
func (db *DB) Episodes(ctx context.Context, runID uuid.UUID) ([]Episode, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT episode, total_reward, mean_abs_td, epsilon, buffer_len
		FROM episodes WHERE run_id = ? ORDER BY episode`, runID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var eps []Episode
	for rows.Next() {
		e := Episode{RunID: runID}
		if err := rows.Scan(&e.Episode, &e.TotalReward, &e.MeanAbsTD, &e.Epsilon, &e.BufferLen); err != nil {
			return nil, err
		}
		eps = append(eps, e)
	}
	return eps, rows.Err()
}

// RecordCheckpoint stores c and sets c.ID.
func (db *DB) RecordCheckpoint(ctx context.Context, c *CheckpointRecord) error {
	var eval sql.NullFloat64
	if c.EvalReward != nil {
		eval = sql.NullFloat64{Float64: *c.EvalReward, Valid: true}
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO checkpoints (run_id, path, format, episode, eval_reward, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.RunID.String(), c.Path, c.Format, c.Episode, eval, unixNanos(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert checkpoint for run %s: %w", c.RunID, err)
	}
	c.ID, err = res.LastInsertId()
	return err
}

// LatestCheckpoint returns the newest checkpoint of a run.
func (db *DB) LatestCheckpoint(ctx context.Context, runID uuid.UUID) (*CheckpointRecord, error) {
	c := CheckpointRecord{RunID: runID}
	var (
		eval    sql.NullFloat64
		created int64
	)
	err := db.QueryRowContext(ctx, `
		SELECT checkpoint_id, path, format, episode, eval_reward, created_at
		FROM checkpoints WHERE run_id = ?
		ORDER BY created_at DESC, checkpoint_id DESC LIMIT 1`, runID.String()).
		Scan(&c.ID, &c.Path, &c.Format, &c.Episode, &eval, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("checkpoint for run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if eval.Valid {
		c.EvalReward = &eval.Float64
	}
	c.CreatedAt = fromUnixNanos(created)
	return &c, nil
}
