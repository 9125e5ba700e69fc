package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/chhz0/webauto/types"
	_ "modernc.org/sqlite" // 纯Go SQLite驱动
)

type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}

	// 创建表结构
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			task_type TEXT NOT NULL,
			url TEXT NOT NULL,
			description TEXT,
			priority INTEGER NOT NULL DEFAULT 2,
			status TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			scheduled_at TEXT,
			executed_at TEXT,
			completed_at TEXT,
			next_retry_at TEXT,
			result TEXT,
			error_message TEXT,
			retry_count INTEGER DEFAULT 0,
			max_retries INTEGER DEFAULT 3,
			task_data TEXT,
			tags TEXT,
			webhook_url TEXT,
			repeat TEXT,
			timeout INTEGER DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
		CREATE INDEX IF NOT EXISTS idx_tasks_priority ON tasks(priority, created_at);
		CREATE TABLE IF NOT EXISTS task_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			FOREIGN KEY (task_id) REFERENCES tasks (id)
		);
		CREATE INDEX IF NOT EXISTS idx_task_logs_task ON task_logs(task_id);
	`)
	if err != nil {
		return nil, err
	}

	return &SQLiteStorage{db: db}, nil
}

const taskColumns = `id, task_type, url, description, priority, status,
	created_at, updated_at, scheduled_at, executed_at, completed_at, next_retry_at,
	result, error_message, retry_count, max_retries, task_data, tags, webhook_url, repeat, timeout`

func (s *SQLiteStorage) SaveTask(ctx context.Context, task *types.Task) error {
	tags, err := json.Marshal(task.Tags)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO tasks
		(`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, string(task.Type), task.URL, task.Description, int(task.Priority), string(task.Status),
		fmtTime(task.CreatedAt), fmtTime(task.UpdatedAt),
		fmtNullTime(task.ScheduledAt), fmtNullTime(task.ExecutedAt),
		fmtNullTime(task.CompletedAt), fmtNullTime(task.NextRetryAt),
		nullBytes(task.Result), task.ErrorMessage, task.Retries, task.MaxRetries,
		nullBytes(task.Payload), string(tags), task.WebhookURL, task.Repeat, int64(task.Timeout),
	)
	return err
}

func (s *SQLiteStorage) GetTask(ctx context.Context, taskID string) (*types.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, taskID)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, ErrTaskNotFound
	}
	return task, err
}

func (s *SQLiteStorage) ListTasks(ctx context.Context, f Filter) ([]*types.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var conds []string
	var args []any
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Type != "" {
		conds = append(conds, "task_type = ?")
		args = append(args, string(f.Type))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, err
	}
	// tags 过滤在 SQL 里做不划算，回到内存里筛
	if f.Tag != "" {
		filtered := tasks[:0]
		for _, t := range tasks {
			if matchFilter(t, Filter{Tag: f.Tag}) {
				filtered = append(filtered, t)
			}
		}
		tasks = filtered
	}
	return tasks, nil
}

func (s *SQLiteStorage) GetPendingTasks(ctx context.Context, limit int) ([]*types.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks
		WHERE status = ?
		ORDER BY priority DESC, created_at ASC
		LIMIT ?`,
		string(types.StatusPending), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (s *SQLiteStorage) UpdateTaskStatus(ctx context.Context, taskID string, status types.TaskStatus, errMsg string) error {
	now := fmtTime(time.Now())
	set := "status = ?, error_message = ?, updated_at = ?"
	args := []any{string(status), errMsg, now}
	switch status {
	case types.StatusRunning:
		set += ", executed_at = ?"
		args = append(args, now)
	case types.StatusCompleted, types.StatusFailed:
		set += ", completed_at = ?"
		args = append(args, now)
	}
	args = append(args, taskID)

	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET `+set+` WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (s *SQLiteStorage) CountByStatus(ctx context.Context) (map[types.TaskStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[types.TaskStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[types.TaskStatus(status)] = n
	}
	return counts, rows.Err()
}

func (s *SQLiteStorage) AppendLog(ctx context.Context, taskID, level, message string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_logs (task_id, timestamp, level, message) VALUES (?, ?, ?, ?)`,
		taskID, fmtTime(time.Now()), level, message,
	)
	return err
}

func (s *SQLiteStorage) TaskLogs(ctx context.Context, taskID string, limit int) ([]*types.TaskLog, error) {
	query := `SELECT id, task_id, timestamp, level, message FROM task_logs
		WHERE task_id = ? ORDER BY id ASC`
	args := []any{taskID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*types.TaskLog
	for rows.Next() {
		var l types.TaskLog
		var ts string
		if err := rows.Scan(&l.ID, &l.TaskID, &ts, &l.Level, &l.Message); err != nil {
			return nil, err
		}
		l.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}

func (s *SQLiteStorage) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM task_logs`); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks`)
	return err
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*types.Task, error) {
	var t types.Task
	var taskType, status string
	var priority int
	var createdAt, updatedAt string
	var scheduledAt, executedAt, completedAt, nextRetryAt sql.NullString
	var result, taskData, description, errMsg, tags, webhook, repeat sql.NullString
	var timeout int64

	err := row.Scan(
		&t.ID, &taskType, &t.URL, &description, &priority, &status,
		&createdAt, &updatedAt, &scheduledAt, &executedAt, &completedAt, &nextRetryAt,
		&result, &errMsg, &t.Retries, &t.MaxRetries, &taskData, &tags, &webhook, &repeat, &timeout,
	)
	if err != nil {
		return nil, err
	}

	t.Type = types.TaskType(taskType)
	t.Status = types.TaskStatus(status)
	t.Priority = types.Priority(priority)
	t.Description = description.String
	t.ErrorMessage = errMsg.String
	t.WebhookURL = webhook.String
	t.Repeat = repeat.String
	t.Timeout = time.Duration(timeout)
	if result.Valid && result.String != "" {
		t.Result = json.RawMessage(result.String)
	}
	if taskData.Valid && taskData.String != "" {
		t.Payload = json.RawMessage(taskData.String)
	}
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &t.Tags); err != nil {
			return nil, fmt.Errorf("decode tags for %s: %w", t.ID, err)
		}
	}

	if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at for %s: %w", t.ID, err)
	}
	if t.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at for %s: %w", t.ID, err)
	}
	if t.ScheduledAt, err = parseNullTime(scheduledAt); err != nil {
		return nil, err
	}
	if t.ExecutedAt, err = parseNullTime(executedAt); err != nil {
		return nil, err
	}
	if t.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, err
	}
	if t.NextRetryAt, err = parseNullTime(nextRetryAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func scanTasks(rows *sql.Rows) ([]*types.Task, error) {
	var tasks []*types.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func fmtNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
