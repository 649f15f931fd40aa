// Package audit implements the optional task-history sink: a best-effort,
// supplementary record of terminal tasks written just before the cleanup
// loop purges them from the in-memory queue. The queue remains the sole
// source of truth while a task is live; this sink only ever sees tasks
// already done.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"

	"github.com/srprobotics/homeagent/internal/task"
)

// Sink persists terminal tasks to a SQLite database for later inspection.
// Every write is best-effort: failures are logged by the caller (the task
// loop's AuditSink hook), never propagated into the task runtime.
type Sink struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates (or reuses) a SQLite database at path and ensures its
// schema exists.
func Open(path string, logger *slog.Logger) (*Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS task_history (
	task_id TEXT PRIMARY KEY,
	task_type TEXT NOT NULL,
	status TEXT NOT NULL,
	priority INTEGER NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	retry_count INTEGER NOT NULL,
	result_json TEXT,
	history_json TEXT
);
CREATE INDEX IF NOT EXISTS idx_task_history_type ON task_history(task_type);
CREATE INDEX IF NOT EXISTS idx_task_history_status ON task_history(status);
`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create audit schema: %w", err)
	}

	return &Sink{db: db, logger: logger.With("component", "audit_sink")}, nil
}

// Close releases the underlying database handle.
func (s *Sink) Close() error {
	return s.db.Close()
}

// Record implements the task.Loop.AuditSink signature: it writes a single
// terminal task as one row, replacing any prior row for the same id (a task
// id is never reused, but a re-run under a retried composition root could
// otherwise collide).
func (s *Sink) Record(ctx context.Context, t *task.Task) {
	resultJSON, err := json.Marshal(t.Result)
	if err != nil {
		s.logger.Warn("failed to marshal task result for audit", "task_id", t.ID, "error", err)
		resultJSON = []byte("null")
	}
	historyJSON, err := json.Marshal(t.History)
	if err != nil {
		s.logger.Warn("failed to marshal task history for audit", "task_id", t.ID, "error", err)
		historyJSON = []byte("null")
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO task_history (task_id, task_type, status, priority, created_at, updated_at, retry_count, result_json, history_json)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(task_id) DO UPDATE SET
	status = excluded.status,
	updated_at = excluded.updated_at,
	retry_count = excluded.retry_count,
	result_json = excluded.result_json,
	history_json = excluded.history_json`,
		t.ID, string(t.Type), string(t.Status), t.Priority,
		t.CreatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
		t.UpdatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
		t.RetryCount, string(resultJSON), string(historyJSON))
	if err != nil {
		s.logger.Warn("failed to write audit record", "task_id", t.ID, "error", err)
	}
}

// Recent returns up to limit most recently updated audit rows, newest
// first, for a simple diagnostics surface.
func (s *Sink) Recent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id, task_type, status, priority, created_at, updated_at, retry_count, result_json
		 FROM task_history ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit history: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var resultJSON string
		if err := rows.Scan(&r.TaskID, &r.TaskType, &r.Status, &r.Priority, &r.CreatedAt, &r.UpdatedAt, &r.RetryCount, &resultJSON); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		_ = json.Unmarshal([]byte(resultJSON), &r.Result)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Record is a single row read back from the audit sink.
type Record struct {
	TaskID     string
	TaskType   string
	Status     string
	Priority   int
	CreatedAt  string
	UpdatedAt  string
	RetryCount int
	Result     map[string]any
}
