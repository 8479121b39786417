package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"taskd/internal/task"
	logx "taskd/pkg/logx"
)

var (
	ErrNotFound = errors.New("task not found")
	ErrClosed   = errors.New("store closed")
)

// Config configures storage.
//
// Driver values:
//   - "memory": in-process map (default when empty)
//   - "sqlite": SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API consumed by the scheduler.
//
// PutTask is an idempotent upsert keyed by id. GetTask returns ErrNotFound
// for unknown ids. Implementations must be safe for concurrent use: the
// scheduler loop and detached dispatches both write.
type Store interface {
	PutTask(ctx context.Context, t *task.Task) error
	GetTask(ctx context.Context, id string) (*task.Task, error)
	TasksByStatus(ctx context.Context, status task.Status) ([]*task.Task, error)
	AllTasks(ctx context.Context) ([]*task.Task, error)
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
