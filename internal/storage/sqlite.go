package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"taskd/internal/task"
	logx "taskd/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) PutTask(ctx context.Context, t *task.Task) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if t == nil {
		return nil
	}
	rec, err := json.Marshal(t.Recurrence)
	if err != nil {
		return fmt.Errorf("marshal recurrence: %w", err)
	}
	deps, err := json.Marshal(emptyIfNil(t.Dependencies))
	if err != nil {
		return fmt.Errorf("marshal dependencies: %w", err)
	}
	act, err := json.Marshal(t.Action)
	if err != nil {
		return fmt.Errorf("marshal action: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks(id, name, scheduled_time, priority, recurrence, dependencies,
		                   max_duration_ms, action, status, result, error_message,
		                   wait_attempts, first_wait_at, retry_max, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   name=excluded.name, scheduled_time=excluded.scheduled_time,
		   priority=excluded.priority, recurrence=excluded.recurrence,
		   dependencies=excluded.dependencies, max_duration_ms=excluded.max_duration_ms,
		   action=excluded.action, status=excluded.status, result=excluded.result,
		   error_message=excluded.error_message, wait_attempts=excluded.wait_attempts,
		   first_wait_at=excluded.first_wait_at, retry_max=excluded.retry_max,
		   updated_at=excluded.updated_at`,
		t.ID, t.Name, t.ScheduledTime.Format(time.RFC3339Nano), int(t.Priority),
		string(rec), string(deps), t.MaxDuration.Milliseconds(), string(act),
		string(t.Status), nullStr(t.Result), nullStr(t.ErrorMessage),
		t.WaitAttempts, nullTime(t.FirstWaitAt), t.RetryMax,
		t.CreatedAt.Format(time.RFC3339Nano), t.UpdatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) GetTask(ctx context.Context, id string) (*task.Task, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	row := s.db.QueryRowContext(ctx, selectTasks+` WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

func (s *sqliteStore) TasksByStatus(ctx context.Context, status task.Status) ([]*task.Task, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, selectTasks+` WHERE status = ? ORDER BY scheduled_time, id`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (s *sqliteStore) AllTasks(ctx context.Context) ([]*task.Task, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, selectTasks+` ORDER BY scheduled_time, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

const selectTasks = `SELECT id, name, scheduled_time, priority, recurrence, dependencies,
       max_duration_ms, action, status, result, error_message,
       wait_attempts, first_wait_at, retry_max, created_at, updated_at
  FROM tasks`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*task.Task, error) {
	var (
		t          task.Task
		sched      string
		prio       int
		rec        string
		deps       string
		maxDurMS   int64
		act        string
		status     string
		result     sql.NullString
		errMsg     sql.NullString
		firstWait  sql.NullString
		createdAt  string
		updatedAt  string
	)
	if err := row.Scan(&t.ID, &t.Name, &sched, &prio, &rec, &deps, &maxDurMS, &act,
		&status, &result, &errMsg, &t.WaitAttempts, &firstWait, &t.RetryMax,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if t.ScheduledTime, err = time.Parse(time.RFC3339Nano, sched); err != nil {
		return nil, fmt.Errorf("task %s: bad scheduled_time: %w", t.ID, err)
	}
	if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("task %s: bad created_at: %w", t.ID, err)
	}
	if t.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("task %s: bad updated_at: %w", t.ID, err)
	}
	if firstWait.Valid && firstWait.String != "" {
		if t.FirstWaitAt, err = time.Parse(time.RFC3339Nano, firstWait.String); err != nil {
			return nil, fmt.Errorf("task %s: bad first_wait_at: %w", t.ID, err)
		}
	}
	if err := json.Unmarshal([]byte(rec), &t.Recurrence); err != nil {
		return nil, fmt.Errorf("task %s: bad recurrence: %w", t.ID, err)
	}
	if err := json.Unmarshal([]byte(deps), &t.Dependencies); err != nil {
		return nil, fmt.Errorf("task %s: bad dependencies: %w", t.ID, err)
	}
	if err := json.Unmarshal([]byte(act), &t.Action); err != nil {
		return nil, fmt.Errorf("task %s: bad action: %w", t.ID, err)
	}
	t.Priority = task.Priority(prio)
	t.MaxDuration = time.Duration(maxDurMS) * time.Millisecond
	t.Status = task.Status(status)
	t.Result = result.String
	t.ErrorMessage = errMsg.String
	return &t, nil
}

func scanTasks(rows *sql.Rows) ([]*task.Task, error) {
	var out []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}
