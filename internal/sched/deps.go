package sched

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gammazero/toposort"

	"taskd/internal/storage"
	"taskd/internal/task"
)

// Resolver gates a task's eligibility on its dependencies.
//
// A dependency counts as satisfied only when COMPLETED. FAILED and CANCELLED
// dependencies do NOT fail the dependent automatically: they read as "not
// yet ready" and the task is requeued with backoff until the wait cap trips.
// The cap is what keeps a dead dependency from blocking forever unobserved.
type Resolver struct {
	store storage.Store
}

func NewResolver(store storage.Store) *Resolver {
	return &Resolver{store: store}
}

// Ready reports whether every dependency of t is COMPLETED.
//
// A dependency id the store has never seen is a configuration error, not a
// wait condition; it is returned as an error wrapping ErrDanglingDependency.
func (r *Resolver) Ready(ctx context.Context, t *task.Task) (bool, error) {
	for _, dep := range t.Dependencies {
		dt, err := r.store.GetTask(ctx, dep)
		if errors.Is(err, storage.ErrNotFound) {
			return false, fmt.Errorf("task %s: %w: %s", t.ID, ErrDanglingDependency, dep)
		}
		if err != nil {
			return false, persistErr("get dependency", err)
		}
		if dt.Status != task.StatusCompleted {
			return false, nil
		}
	}
	return true, nil
}

// Backoff returns the requeue delay for the given wait attempt (1-based):
// base doubling per attempt, capped at max.
func Backoff(cfg Config, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := cfg.DepBaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.DepMaxDelay {
			return cfg.DepMaxDelay
		}
	}
	if d > cfg.DepMaxDelay {
		d = cfg.DepMaxDelay
	}
	return d
}

// WaitExhausted reports whether t has waited too long for its dependencies,
// by attempt count or by wall clock, whichever trips first.
func WaitExhausted(cfg Config, t *task.Task, now time.Time) bool {
	if t.WaitAttempts >= cfg.DepMaxAttempts {
		return true
	}
	if !t.FirstWaitAt.IsZero() && now.Sub(t.FirstWaitAt) >= cfg.DepMaxWait {
		return true
	}
	return false
}

// validateGraph checks that admitting candidate keeps the dependency graph
// acyclic and free of dangling ids. candidate may replace a stored task with
// the same id (AddTask is an upsert).
func validateGraph(ctx context.Context, store storage.Store, candidate *task.Task) error {
	all, err := store.AllTasks(ctx)
	if err != nil {
		return persistErr("list tasks", err)
	}

	deps := make(map[string][]string, len(all)+1)
	for _, t := range all {
		deps[t.ID] = t.Dependencies
	}
	deps[candidate.ID] = candidate.Dependencies

	// Dangling check first: every referenced id must be known.
	for id, ds := range deps {
		for _, d := range ds {
			if _, ok := deps[d]; !ok {
				return fmt.Errorf("task %s: %w: %s", id, ErrDanglingDependency, d)
			}
		}
	}

	// Edge (dep, id) means dep must come before id.
	var edges []toposort.Edge
	for id, ds := range deps {
		if len(ds) == 0 {
			edges = append(edges, toposort.Edge{nil, id})
			continue
		}
		for _, d := range ds {
			edges = append(edges, toposort.Edge{d, id})
		}
	}

	if _, err := toposort.Toposort(edges); err != nil {
		return fmt.Errorf("task %s: %w: %s", candidate.ID, ErrCycle, cycleDetail(err))
	}
	return nil
}

func cycleDetail(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimSpace(err.Error())
}
