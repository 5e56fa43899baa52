// Package store implements the durable Task Store: a SQLite database in
// WAL mode holding tasks, their steps, the rate-limiter's sliding-window
// log, and plugin crash-count bookkeeping. Schema application follows
// BaSui01-agentflow/internal/migration/migrator.go's embed+iofs+driver
// wiring; connection and query style follow the teacher's preference for
// parameterized, single-purpose methods over a generic query builder.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/ovrishq/rove/pkg/rove/model"
)

// Store wraps a WAL-mode SQLite connection and the Task/TaskStep/rate
// limit queries spec.md §6 names as the daemon's durable state.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates (if absent) and migrates the SQLite database at path,
// enabling WAL mode and foreign-key enforcement, the two pragmas the
// Task Store's cascade-delete and crash-safety invariants depend on.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	if err := applyMigrations(path); err != nil {
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	db.SetMaxOpenConns(1)

	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Checkpoint forces a WAL checkpoint, used by the Daemon Lifecycle's
// graceful-shutdown sequence before the PID file is removed.
func (s *Store) Checkpoint(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE);")
	if err != nil {
		return fmt.Errorf("checkpointing WAL: %w", err)
	}
	return nil
}

// InsertTask persists a newly created task in TaskPending status.
func (s *Store) InsertTask(ctx context.Context, task *model.Task) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, input, status, created_at) VALUES (?, ?, ?, ?)`,
		task.ID, task.Input, task.Status, task.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("inserting task %s: %w", task.ID, err)
	}
	return nil
}

// UpdateTaskStatus transitions a task's status and, when it reaches a
// terminal state, records provider, duration, and completion time.
// completed_at stays NULL for the non-terminal pending->running
// transition, matching model.Task.CompletedAt's nullability (spec.md
// §3 defines completed_at as set only on reaching a terminal state).
func (s *Store) UpdateTaskStatus(ctx context.Context, taskID string, status model.TaskStatus, providerUsed string, durationMs int64) error {
	var completedAt, durationMsArg any
	if status == model.TaskCompleted || status == model.TaskFailed {
		completedAt = time.Now().Unix()
		durationMsArg = durationMs
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, provider_used = ?, duration_ms = ?, completed_at = ? WHERE id = ?`,
		status, nullIfEmpty(providerUsed), durationMsArg, completedAt, taskID,
	)
	if err != nil {
		return fmt.Errorf("updating task %s status: %w", taskID, err)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// GetTask loads a task by ID.
func (s *Store) GetTask(ctx context.Context, taskID string) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, input, status, provider_used, duration_ms, created_at, completed_at FROM tasks WHERE id = ?`,
		taskID,
	)

	var (
		t            model.Task
		providerUsed sql.NullString
		durationMs   sql.NullInt64
		createdAt    int64
		completedAt  sql.NullInt64
	)
	if err := row.Scan(&t.ID, &t.Input, &t.Status, &providerUsed, &durationMs, &createdAt, &completedAt); err != nil {
		return nil, fmt.Errorf("loading task %s: %w", taskID, err)
	}

	t.ProviderUsed = providerUsed.String
	t.CreatedAt = time.Unix(createdAt, 0)
	if durationMs.Valid {
		t.DurationMs = &durationMs.Int64
	}
	if completedAt.Valid {
		ts := time.Unix(completedAt.Int64, 0)
		t.CompletedAt = &ts
	}
	return &t, nil
}

// ListTasksByStatus returns tasks in the given status, most recent first.
func (s *Store) ListTasksByStatus(ctx context.Context, status model.TaskStatus, limit int) ([]*model.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, input, status, provider_used, duration_ms, created_at, completed_at
		 FROM tasks WHERE status = ? ORDER BY created_at DESC LIMIT ?`,
		status, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing tasks by status %s: %w", status, err)
	}
	defer rows.Close()

	var out []*model.Task
	for rows.Next() {
		var (
			t            model.Task
			providerUsed sql.NullString
			durationMs   sql.NullInt64
			createdAt    int64
			completedAt  sql.NullInt64
		)
		if err := rows.Scan(&t.ID, &t.Input, &t.Status, &providerUsed, &durationMs, &createdAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scanning task row: %w", err)
		}
		t.ProviderUsed = providerUsed.String
		t.CreatedAt = time.Unix(createdAt, 0)
		if durationMs.Valid {
			t.DurationMs = &durationMs.Int64
		}
		if completedAt.Valid {
			ts := time.Unix(completedAt.Int64, 0)
			t.CompletedAt = &ts
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// NextStepOrder returns the step_order a new step for taskID must use to
// preserve the strictly-increasing ordering invariant (spec.md §4.1).
func (s *Store) NextStepOrder(ctx context.Context, taskID string) (int, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(step_order) FROM task_steps WHERE task_id = ?`, taskID,
	).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("computing next step order for %s: %w", taskID, err)
	}
	if !max.Valid {
		return 0, nil
	}
	return int(max.Int64) + 1, nil
}

// AppendStep inserts a step at the given order. The schema has no unique
// constraint on (task_id, step_order), so a reused order is not rejected —
// callers must read NextStepOrder and append within the same task-owning
// goroutine.
func (s *Store) AppendStep(ctx context.Context, step *model.TaskStep) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO task_steps (task_id, step_order, step_type, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		step.TaskID, step.StepOrder, step.Kind, step.Content, step.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("appending step for task %s: %w", step.TaskID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading inserted step id: %w", err)
	}
	step.ID = id
	return nil
}

// ListSteps returns every step for a task in step_order.
func (s *Store) ListSteps(ctx context.Context, taskID string) ([]*model.TaskStep, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, step_order, step_type, content, created_at FROM task_steps WHERE task_id = ? ORDER BY step_order ASC`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing steps for task %s: %w", taskID, err)
	}
	defer rows.Close()

	var out []*model.TaskStep
	for rows.Next() {
		var (
			st        model.TaskStep
			createdAt int64
		)
		if err := rows.Scan(&st.ID, &st.TaskID, &st.StepOrder, &st.Kind, &st.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning step row: %w", err)
		}
		st.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, &st)
	}
	return out, rows.Err()
}

// RecordRateLimitEntry appends one sliding-window log entry. tier -1
// denotes the circuit-breaker sentinel, per the rate limiter's design.
func (s *Store) RecordRateLimitEntry(ctx context.Context, source string, tier int, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rate_limits (source, tier, timestamp) VALUES (?, ?, ?)`,
		source, tier, at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("recording rate limit entry for %s: %w", source, err)
	}
	return nil
}

// CountRateLimitEntries returns the number of entries for source/tier
// with timestamp >= sinceMs (the sliding window's left edge).
func (s *Store) CountRateLimitEntries(ctx context.Context, source string, tier int, sinceMs int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM rate_limits WHERE source = ? AND tier = ? AND timestamp >= ?`,
		source, tier, sinceMs,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting rate limit entries for %s: %w", source, err)
	}
	return n, nil
}

// GCRateLimitEntries deletes entries older than retention, piggy-backed
// on every record call per spec.md §4.4.
func (s *Store) GCRateLimitEntries(ctx context.Context, olderThanMs int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM rate_limits WHERE timestamp < ?`, olderThanMs)
	if err != nil {
		return fmt.Errorf("garbage collecting rate limit entries: %w", err)
	}
	return nil
}

// ClearBreakerEntries deletes the circuit-breaker sentinel rows
// (tier = -1) recorded for source, leaving its tier-1/tier-2 window
// history untouched. This is the operator-facing reset-breaker
// command's write path: spec.md §4.3 specifies manual reset as clearing
// breaker entries for the source, not the source's whole rate-limit
// history.
func (s *Store) ClearBreakerEntries(ctx context.Context, source string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM rate_limits WHERE source = ? AND tier = -1`, source)
	if err != nil {
		return fmt.Errorf("clearing circuit breaker entries for %s: %w", source, err)
	}
	return nil
}

// UpsertPluginCrash records a crash for name, storing the caller-supplied
// crash count and failed flag as given.
func (s *Store) UpsertPluginCrash(ctx context.Context, name, version string, crashCount int, failed bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO plugins (name, version, crash_count, failed, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET version = excluded.version, crash_count = excluded.crash_count,
		 failed = excluded.failed, updated_at = excluded.updated_at`,
		name, version, crashCount, failed, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("recording plugin crash for %s: %w", name, err)
	}
	return nil
}

// ResetPluginCrash clears crash_count and failed, used by the manual
// restart operation.
func (s *Store) ResetPluginCrash(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE plugins SET crash_count = 0, failed = 0, updated_at = ? WHERE name = ?`,
		time.Now().Unix(), name,
	)
	if err != nil {
		return fmt.Errorf("resetting plugin crash state for %s: %w", name, err)
	}
	return nil
}
