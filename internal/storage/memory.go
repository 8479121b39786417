package storage

import (
	"context"
	"sort"
	"sync"

	"taskd/internal/task"
)

// Memory is a process-local Store. It clones on the way in and out so
// callers can't mutate stored state behind the scheduler's back.
type Memory struct {
	mu     sync.RWMutex
	tasks  map[string]*task.Task
	closed bool
}

func NewMemory() *Memory {
	return &Memory{tasks: map[string]*task.Task{}}
}

func (m *Memory) PutTask(_ context.Context, t *task.Task) error {
	if t == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.tasks[t.ID] = t.Clone()
	return nil
}

func (m *Memory) GetTask(_ context.Context, id string) (*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	t, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

func (m *Memory) TasksByStatus(_ context.Context, status task.Status) ([]*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	var out []*task.Task
	for _, t := range m.tasks {
		if t.Status == status {
			out = append(out, t.Clone())
		}
	}
	sortTasks(out)
	return out, nil
}

func (m *Memory) AllTasks(_ context.Context) ([]*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]*task.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t.Clone())
	}
	sortTasks(out)
	return out, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// sortTasks keeps query results deterministic (map iteration is not).
func sortTasks(ts []*task.Task) {
	sort.Slice(ts, func(i, j int) bool {
		if !ts[i].ScheduledTime.Equal(ts[j].ScheduledTime) {
			return ts[i].ScheduledTime.Before(ts[j].ScheduledTime)
		}
		return ts[i].ID < ts[j].ID
	})
}
