package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/haasonsaas/arena/internal/engine"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id   TEXT NOT NULL,
	year     INTEGER NOT NULL,
	phase    TEXT NOT NULL,
	snapshot BLOB NOT NULL,
	saved_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_job ON checkpoints(job_id, id);
`

// SQLiteStore persists checkpoints in a single-file database so an aborted
// run survives process death.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) a checkpoint database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint db %s: %w", path, err)
	}
	// The driver serializes access; a single connection avoids SQLITE_BUSY
	// under concurrent job workers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init checkpoint schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Save(ctx context.Context, state engine.CriticalState) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (job_id, year, phase, snapshot, saved_at) VALUES (?, ?, ?, ?, ?)`,
		state.JobID, state.Clock.Year, state.Clock.Phase, state.Snapshot,
		state.SavedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save checkpoint for job %s: %w", state.JobID, err)
	}
	return nil
}

func (s *SQLiteStore) Latest(ctx context.Context, jobID string) (engine.CriticalState, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT job_id, year, phase, snapshot, saved_at FROM checkpoints
		 WHERE job_id = ? ORDER BY id DESC LIMIT 1`, jobID)
	state, err := scanCheckpoint(row)
	if err == sql.ErrNoRows {
		return engine.CriticalState{}, false, nil
	}
	if err != nil {
		return engine.CriticalState{}, false, fmt.Errorf("load checkpoint for job %s: %w", jobID, err)
	}
	return state, true, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]engine.CriticalState, error) {
	// Latest row per job, ordered by each job's first appearance.
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, year, phase, snapshot, saved_at FROM checkpoints
		 WHERE id IN (SELECT MAX(id) FROM checkpoints GROUP BY job_id)
		 ORDER BY (SELECT MIN(id) FROM checkpoints c2 WHERE c2.job_id = checkpoints.job_id)`)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []engine.CriticalState
	for rows.Next() {
		state, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("list checkpoints: %w", err)
		}
		out = append(out, state)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, jobID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE job_id = ?`, jobID); err != nil {
		return fmt.Errorf("delete checkpoints for job %s: %w", jobID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row rowScanner) (engine.CriticalState, error) {
	var state engine.CriticalState
	var savedAt string
	if err := row.Scan(&state.JobID, &state.Clock.Year, &state.Clock.Phase, &state.Snapshot, &savedAt); err != nil {
		return engine.CriticalState{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, savedAt)
	if err != nil {
		return engine.CriticalState{}, fmt.Errorf("parse saved_at %q: %w", savedAt, err)
	}
	state.SavedAt = ts
	return state, nil
}
