package sched

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"taskd/internal/actions"
	"taskd/internal/eventbus"
	"taskd/internal/storage"
	"taskd/internal/task"
	logx "taskd/pkg/logx"
)

// Dispatcher is the sole admission-control point over the worker pool.
//
// Begin() reserves a slot and flips the task to RUNNING synchronously (both
// bounded, fast), so the tick loop can dispatch entries in queue order and
// detect capacity exhaustion without blocking. Run() then executes the
// action detached; the slot release sits in a defer so a panicking action
// can never leak capacity.
type Dispatcher struct {
	mu         sync.Mutex
	maxWorkers int
	inUse      int

	store    storage.Store
	registry actions.Registry
	log      logx.Logger
	bus      eventbus.Bus

	dispatched atomic.Uint64

	// rearm is called after every terminal transition so the recurrence
	// path (new occurrence, fresh id) runs before the slot is reported
	// free to callers observing statistics.
	rearm func(ctx context.Context, t *task.Task)
}

func NewDispatcher(maxWorkers int, store storage.Store, registry actions.Registry, log logx.Logger, bus eventbus.Bus) *Dispatcher {
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		maxWorkers: maxWorkers,
		store:      store,
		registry:   registry,
		log:        log,
		bus:        bus,
	}
}

func (d *Dispatcher) setRearm(fn func(ctx context.Context, t *task.Task)) { d.rearm = fn }

// Resize adjusts capacity live. Shrinking never preempts running tasks;
// the in-use count simply drains below the new ceiling over time.
func (d *Dispatcher) Resize(maxWorkers int) {
	if maxWorkers <= 0 {
		return
	}
	d.mu.Lock()
	d.maxWorkers = maxWorkers
	d.mu.Unlock()
}

func (d *Dispatcher) InUse() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inUse
}

func (d *Dispatcher) Available() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := d.maxWorkers - d.inUse
	if n < 0 {
		n = 0
	}
	return n
}

func (d *Dispatcher) Dispatched() uint64 { return d.dispatched.Load() }

func (d *Dispatcher) tryAcquire() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inUse >= d.maxWorkers {
		return false
	}
	d.inUse++
	return true
}

func (d *Dispatcher) release() {
	d.mu.Lock()
	if d.inUse > 0 {
		d.inUse--
	}
	d.mu.Unlock()
}

// Begin reserves a worker slot and transitions t to RUNNING.
//
// Returns ErrWorkerUnavailable (task untouched) when the pool is full, or a
// PersistenceError if the RUNNING transition could not be stored (the slot
// is released and the task stays SCHEDULED).
func (d *Dispatcher) Begin(ctx context.Context, t *task.Task) error {
	if !d.tryAcquire() {
		return ErrWorkerUnavailable
	}

	now := time.Now()
	t.Status = task.StatusRunning
	t.UpdatedAt = now
	if err := d.store.PutTask(ctx, t); err != nil {
		d.release()
		return persistErr("mark running", err)
	}

	d.dispatched.Add(1)
	d.log.Debug("task.started", logx.String("id", t.ID), logx.String("action", t.Action.Name))
	if d.bus != nil {
		d.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskStarted, Time: now, Data: TaskEvent{ID: t.ID, Name: t.Name, Status: t.Status}})
	}
	return nil
}

// Run executes t's action to completion and records the outcome. It must
// only be called after a successful Begin, from a detached goroutine.
func (d *Dispatcher) Run(ctx context.Context, t *task.Task, cfg Config) {
	defer d.release()

	start := time.Now()
	rng := rand.New(rand.NewSource(start.UnixNano()))

	var (
		err      error
		result   string
		timedOut bool
	)
	attempts := 0
	maxAttempts := 1 + t.RetryMax

attemptLoop:
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt

		runCtx := ctx
		var cancel func()
		if t.MaxDuration > 0 {
			runCtx, cancel = context.WithTimeout(ctx, t.MaxDuration)
		}
		// Guard against action panics: convert to error so one bad action
		// can't crash the scheduler loop or leak the worker slot.
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic: %v", r)
					d.log.Error("task.panic", logx.String("id", t.ID), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
				}
			}()
			result, err = d.registry.Invoke(runCtx, t.Action)
		}()
		timedOut = runCtx.Err() != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			break
		}
		if timedOut || attempt >= maxAttempts || ctx.Err() != nil {
			break
		}

		delay := retryDelay(cfg, attempt, rng)
		if delay > 0 {
			d.log.Debug("task retry scheduled", logx.String("id", t.ID), logx.Int("attempt", attempt+1), logx.Duration("delay", delay), logx.Err(err))
			tmr := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				if !tmr.Stop() {
					<-tmr.C
				}
				err = ctx.Err()
				break attemptLoop
			case <-tmr.C:
			}
		}
	}

	dur := time.Since(start)
	now := time.Now()
	t.UpdatedAt = now

	if err != nil {
		t.Status = task.StatusFailed
		if timedOut {
			t.ErrorMessage = fmt.Sprintf("execution timeout after %s: %v", t.MaxDuration, err)
		} else {
			t.ErrorMessage = err.Error()
		}
		d.log.Warn("task.failed", logx.String("id", t.ID), logx.Err(err), logx.Duration("dur", dur), logx.Int("attempts", attempts))
	} else {
		t.Status = task.StatusCompleted
		t.Result = result
		d.log.Debug("task.completed", logx.String("id", t.ID), logx.Duration("dur", dur), logx.Int("attempts", attempts))
	}

	if perr := d.store.PutTask(ctx, t); perr != nil {
		// The outcome is lost from the store but not from the log.
		d.log.Error("task outcome not persisted", logx.String("id", t.ID), logx.Err(perr))
	}

	if d.bus != nil {
		evType := eventbus.TypeTaskCompleted
		if t.Status == task.StatusFailed {
			evType = eventbus.TypeTaskFailed
		}
		d.bus.Publish(eventbus.Event{Type: evType, Time: now, Data: TaskEvent{
			ID: t.ID, Name: t.Name, Status: t.Status, Duration: dur, Attempts: attempts, Error: t.ErrorMessage,
		}})
	}

	// Recurrence re-arms on COMPLETED and FAILED both: a recurring job like
	// a daily backup must keep attempting even after one bad run.
	if d.rearm != nil {
		d.rearm(ctx, t)
	}
}

func retryDelay(cfg Config, retry int, rng *rand.Rand) time.Duration {
	base := cfg.RetryBase
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	maxD := cfg.RetryMaxDelay
	if maxD <= 0 {
		maxD = 15 * time.Second
	}
	j := cfg.RetryJitter
	if j <= 0 {
		j = 0.2
	}

	d := base
	for i := 1; i < retry; i++ {
		d *= 2
		if d > maxD {
			d = maxD
			break
		}
	}
	if j > 0 && rng != nil {
		r := (rng.Float64()*2 - 1) * j
		d = time.Duration(float64(d) * (1 + r))
		if d < 0 {
			d = 0
		}
	}
	if d > maxD {
		d = maxD
	}
	return d
}
