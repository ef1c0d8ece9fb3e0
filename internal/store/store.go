// Package store archives pipeline runs and their task transitions in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/maxkimambo/bqflow/internal/executor"
	"github.com/maxkimambo/bqflow/internal/logger"
)

// ErrRunNotFound is returned when a run id is unknown
var ErrRunNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	pipeline TEXT NOT NULL,
	spec TEXT,
	status TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS task_transitions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL REFERENCES runs(id),
	task TEXT NOT NULL,
	from_status TEXT NOT NULL,
	to_status TEXT NOT NULL,
	attempt INTEGER NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_task_transitions_run ON task_transitions(run_id);
`

// Store is a SQLite-backed run archive
type Store struct {
	db *sql.DB
}

// RunRecord is one row of the runs table
type RunRecord struct {
	ID        string    `json:"id"`
	Pipeline  string    `json:"pipeline"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Spec      string    `json:"spec,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TransitionRecord is one archived task status change
type TransitionRecord struct {
	Task      string    `json:"task"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Attempt   int       `json:"attempt"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TaskSummary is the latest known state of a task in a run
type TaskSummary struct {
	Task      string    `json:"task"`
	Status    string    `json:"status"`
	Attempts  int       `json:"attempts"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RunDetail is a run with its task history
type RunDetail struct {
	Run         RunRecord          `json:"run"`
	Tasks       []TaskSummary      `json:"tasks"`
	Transitions []TransitionRecord `json:"transitions"`
}

// Open opens or creates the archive at path. ":memory:" gives a private
// in-memory archive.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open run archive %s: %w", path, err)
	}
	// sqlite allows one writer; a single connection also keeps :memory: shared
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize run archive schema: %w", err)
	}

	logger.Op.WithFields(map[string]interface{}{
		"path": path,
	}).Debug("Run archive opened")
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun stores a new run in the running state. spec is archived as JSON.
func (s *Store) SaveRun(ctx context.Context, runID, pipelineName string, spec any) error {
	specJSON, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("failed to encode run spec: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, pipeline, spec, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		runID, pipelineName, string(specJSON), string(executor.RunRunning), now, now)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", runID, err)
	}
	return nil
}

// UpdateRunStatus sets the run status and, if runErr is non-nil, its error
func (s *Store) UpdateRunStatus(ctx context.Context, runID string, status executor.RunStatus, runErr error) error {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		string(status), msg, time.Now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", runID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// RecordTransition appends one task transition
func (s *Store) RecordTransition(ctx context.Context, t executor.Transition) error {
	msg := ""
	if t.Err != nil {
		msg = t.Err.Error()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_transitions (run_id, task, from_status, to_status, attempt, error_message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.RunID, t.Task, t.From.String(), t.To.String(), t.Attempt, msg, t.At.UTC())
	if err != nil {
		return fmt.Errorf("failed to record transition of %s in run %s: %w", t.Task, t.RunID, err)
	}
	return nil
}

// Listener returns a StatusListener that archives every transition. Write
// failures are logged, never propagated into the run.
func (s *Store) Listener(ctx context.Context) executor.StatusListener {
	return func(t executor.Transition) {
		if err := s.RecordTransition(ctx, t); err != nil {
			logger.Op.WithFields(map[string]interface{}{
				"runID": t.RunID,
				"task":  t.Task,
			}).WithError(err).Warn("Failed to archive task transition")
		}
	}
}

// ListRuns returns the most recent runs first. A non-positive limit returns all.
func (s *Store) ListRuns(ctx context.Context, pipelineName string, limit int) ([]RunRecord, error) {
	query := `SELECT id, pipeline, status, error_message, created_at, updated_at FROM runs`
	var args []any
	if pipelineName != "" {
		query += ` WHERE pipeline = ?`
		args = append(args, pipelineName)
	}
	query += ` ORDER BY created_at DESC, rowid DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.ID, &r.Pipeline, &r.Status, &r.Error, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns the run with its transitions and per-task summary
func (s *Store) GetRun(ctx context.Context, runID string) (*RunDetail, error) {
	detail := &RunDetail{}
	r := &detail.Run
	err := s.db.QueryRowContext(ctx,
		`SELECT id, pipeline, spec, status, error_message, created_at, updated_at FROM runs WHERE id = ?`, runID).
		Scan(&r.ID, &r.Pipeline, &r.Spec, &r.Status, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT task, from_status, to_status, attempt, error_message, created_at
		 FROM task_transitions WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transitions of run %s: %w", runID, err)
	}
	defer rows.Close()

	summaries := make(map[string]*TaskSummary)
	for rows.Next() {
		var t TransitionRecord
		if err := rows.Scan(&t.Task, &t.From, &t.To, &t.Attempt, &t.Error, &t.CreatedAt); err != nil {
			return nil, err
		}
		detail.Transitions = append(detail.Transitions, t)

		sum, ok := summaries[t.Task]
		if !ok {
			sum = &TaskSummary{Task: t.Task}
			summaries[t.Task] = sum
		}
		sum.Status = t.To
		sum.UpdatedAt = t.CreatedAt
		if t.Attempt > sum.Attempts {
			sum.Attempts = t.Attempt
		}
		if t.Error != "" {
			sum.Error = t.Error
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, sum := range summaries {
		detail.Tasks = append(detail.Tasks, *sum)
	}
	sort.Slice(detail.Tasks, func(i, j int) bool { return detail.Tasks[i].Task < detail.Tasks[j].Task })
	return detail, nil
}
