package sched

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"taskd/internal/actions"
	"taskd/internal/eventbus"
	rtsup "taskd/internal/runtime/supervisor"
	"taskd/internal/storage"
	"taskd/internal/task"
	logx "taskd/pkg/logx"
)

// Scheduler owns the tick loop and the public scheduling API.
//
// The loop itself is a single goroutine and never blocks on a task's
// completion: per tick it pops due entries, gates each on dependencies, and
// hands ready ones to the dispatcher, detaching execution through the
// supervisor. Ordering guarantees cover dispatch order only; completion
// order across concurrently running tasks is unspecified.
type Scheduler struct {
	mu  sync.Mutex
	cfg Config

	log      logx.Logger
	bus      eventbus.Bus
	store    storage.Store
	queue    *Queue
	resolver *Resolver
	disp     *Dispatcher

	sup      *rtsup.Supervisor
	stopCh   chan struct{}
	stopDone chan struct{}

	// routing serializes dispatch per task id so an immediate AddTask
	// dispatch can never race the tick loop into a double Begin.
	routingMu sync.Mutex
	routing   map[string]struct{}

	requeues atomic.Uint64

	// warn throttles requeue/capacity log noise.
	warn *rate.Limiter
}

func New(cfg Config, store storage.Store, registry actions.Registry, log logx.Logger, bus eventbus.Bus) *Scheduler {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Scheduler{
		cfg:      cfg,
		log:      log,
		bus:      bus,
		store:    store,
		queue:    NewQueue(),
		resolver: NewResolver(store),
		disp:     NewDispatcher(cfg.MaxWorkers, store, registry, log, bus),
		routing:  map[string]struct{}{},
		warn:     rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
	s.disp.setRearm(s.rearm)
	return s
}

// Dispatcher exposes the dispatcher for diagnostics.
func (s *Scheduler) Dispatcher() *Dispatcher { return s.disp }

// Start rebuilds the queue from the store and starts the tick loop.
// It is idempotent while running.
func (s *Scheduler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return nil
	}
	cfg := s.cfg
	s.stopCh = make(chan struct{})
	s.stopDone = nil
	stopCh := s.stopCh
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "sched"))),
		// A failing dispatch must never take down the loop.
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	s.mu.Unlock()

	// The heap is a projection; the store is the truth. Re-inserting every
	// SCHEDULED task makes the queue rebuildable across restarts.
	pending, err := s.store.TasksByStatus(ctx, task.StatusScheduled)
	if err != nil {
		return persistErr("rebuild queue", err)
	}
	for _, t := range pending {
		s.queue.Insert(t.ID, t.ScheduledTime, t.Priority)
	}

	sup.GoRestart("loop", func(c context.Context) error {
		s.loop(c, stopCh)
		// Clean exits happen only on shutdown.
		select {
		case <-stopCh:
			return context.Canceled
		default:
		}
		if c.Err() != nil {
			return c.Err()
		}
		return errors.New("loop exited unexpectedly")
	})

	s.log.Info("scheduler started",
		logx.Duration("tick", cfg.TickInterval),
		logx.Int("max_workers", cfg.MaxWorkers),
		logx.Int("pending", len(pending)))
	return nil
}

// Stop stops the tick loop and waits for in-flight dispatches. Dispatches
// still running at the caller's deadline are cancelled via their context.
func (s *Scheduler) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	// If already stopping, wait.
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	close(s.stopCh)
	sup := s.sup
	s.mu.Unlock()

	go func() {
		if sup != nil {
			// Drain gracefully first; cancel stragglers at the deadline.
			if err := sup.Wait(ctx); err != nil && ctx.Err() != nil {
				sup.Cancel()
				_ = sup.Wait(context.Background())
			}
		}
		s.mu.Lock()
		s.stopCh = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out", logx.Err(ctx.Err()))
	}
}

// Apply updates loop/dispatcher knobs live. The next tick picks up a new
// interval; worker resizing never preempts running tasks.
func (s *Scheduler) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.disp.Resize(cfg.MaxWorkers)
}

func (s *Scheduler) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Scheduler) running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopCh != nil && s.stopDone == nil
}

func (s *Scheduler) loop(ctx context.Context, stopCh <-chan struct{}) {
	for {
		// Re-read the interval every iteration so Apply() takes effect
		// without a restart.
		tmr := time.NewTimer(s.config().TickInterval)
		select {
		case <-ctx.Done():
			tmr.Stop()
			return
		case <-stopCh:
			tmr.Stop()
			return
		case now := <-tmr.C:
			s.tick(ctx, now)
		}
	}
}

// tick drains every due entry and routes each one. Entries are routed in
// queue order (time asc, priority desc); execution is detached so a slow
// task never stalls the entries behind it.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	for _, e := range s.queue.PopReady(now) {
		s.route(ctx, e, now)
	}
}

// route takes one popped entry through the gate sequence: reload, status
// check, dependency check, dispatch.
func (s *Scheduler) route(ctx context.Context, e Entry, now time.Time) {
	if !s.markRouting(e.TaskID) {
		return
	}
	defer s.unmarkRouting(e.TaskID)

	cfg := s.config()

	// Reload the authoritative task: status may have changed since the
	// entry was queued (cancellation, upsert, a raced reschedule).
	t, err := s.store.GetTask(ctx, e.TaskID)
	if errors.Is(err, storage.ErrNotFound) {
		s.log.Warn("queued task missing from store", logx.String("id", e.TaskID))
		return
	}
	if err != nil {
		if s.warn.Allow() {
			s.log.Warn("task reload failed; requeueing", logx.String("id", e.TaskID), logx.Err(err))
		}
		s.requeue(e.TaskID, now.Add(cfg.TickInterval), e.Priority)
		return
	}
	if t.Status != task.StatusScheduled {
		s.log.Debug("dropping stale entry", logx.String("id", t.ID), logx.String("status", string(t.Status)))
		return
	}

	ready, err := s.resolver.Ready(ctx, t)
	if err != nil {
		if errors.Is(err, ErrDanglingDependency) {
			// Admission validates the graph, so this means a collaborator
			// fed the store out of band. Fail loudly instead of waiting on
			// an id that will never complete.
			s.failTask(ctx, t, err.Error())
			return
		}
		if s.warn.Allow() {
			s.log.Warn("dependency check failed; requeueing", logx.String("id", t.ID), logx.Err(err))
		}
		s.requeue(t.ID, now.Add(cfg.TickInterval), t.Priority)
		return
	}
	if !ready {
		s.waitForDeps(ctx, t, cfg, now)
		return
	}

	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	if sup == nil {
		// Raced a shutdown; the entry stays in the store and the next
		// Start() rebuilds it.
		return
	}

	err = s.disp.Begin(ctx, t)
	switch {
	case err == nil:
		run := t // detached copy; route's t must not be shared further
		sup.Go("dispatch."+t.ID, func(c context.Context) error {
			s.disp.Run(c, run, cfg)
			return nil
		})
	case errors.Is(err, ErrWorkerUnavailable):
		if s.warn.Allow() {
			s.log.Debug("workers busy; requeueing", logx.String("id", t.ID), logx.Duration("delay", cfg.WorkerRetryDelay))
		}
		s.requeue(t.ID, now.Add(cfg.WorkerRetryDelay), t.Priority)
	default:
		if s.warn.Allow() {
			s.log.Warn("dispatch failed; requeueing", logx.String("id", t.ID), logx.Err(err))
		}
		s.requeue(t.ID, now.Add(cfg.TickInterval), t.Priority)
	}
}

// waitForDeps records one more wait attempt and either requeues with
// backoff or fails the task once the cap trips.
func (s *Scheduler) waitForDeps(ctx context.Context, t *task.Task, cfg Config, now time.Time) {
	t.WaitAttempts++
	if t.FirstWaitAt.IsZero() {
		t.FirstWaitAt = now
	}
	if WaitExhausted(cfg, t, now) {
		s.failTask(ctx, t, fmt.Sprintf("%v after %d attempts over %s",
			ErrDependencyUnmet, t.WaitAttempts, now.Sub(t.FirstWaitAt).Round(time.Second)))
		return
	}

	t.UpdatedAt = now
	if err := s.store.PutTask(ctx, t); err != nil {
		if s.warn.Allow() {
			s.log.Warn("wait attempt not persisted", logx.String("id", t.ID), logx.Err(err))
		}
	}
	delay := Backoff(cfg, t.WaitAttempts)
	s.requeue(t.ID, now.Add(delay), t.Priority)
	s.log.Debug("dependencies unmet; backing off",
		logx.String("id", t.ID), logx.Int("attempts", t.WaitAttempts), logx.Duration("delay", delay))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskRequeued, Time: now, Data: TaskEvent{
			ID: t.ID, Name: t.Name, Status: t.Status, Attempts: t.WaitAttempts,
		}})
	}
}

// failTask transitions a SCHEDULED task to FAILED outside the dispatcher
// (dependency cap, dangling dep). Terminal, with recurrence re-arm.
func (s *Scheduler) failTask(ctx context.Context, t *task.Task, msg string) {
	now := time.Now()
	t.Status = task.StatusFailed
	t.ErrorMessage = msg
	t.UpdatedAt = now
	if err := s.store.PutTask(ctx, t); err != nil {
		s.log.Error("failure not persisted", logx.String("id", t.ID), logx.Err(err))
	}
	s.log.Warn("task.failed", logx.String("id", t.ID), logx.String("reason", msg))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskFailed, Time: now, Data: TaskEvent{
			ID: t.ID, Name: t.Name, Status: t.Status, Error: msg,
		}})
	}
	s.rearm(ctx, t)
}

func (s *Scheduler) requeue(id string, at time.Time, prio task.Priority) {
	s.requeues.Add(1)
	s.queue.Insert(id, at, prio)
}

func (s *Scheduler) markRouting(id string) bool {
	s.routingMu.Lock()
	defer s.routingMu.Unlock()
	if _, busy := s.routing[id]; busy {
		return false
	}
	s.routing[id] = struct{}{}
	return true
}

func (s *Scheduler) unmarkRouting(id string) {
	s.routingMu.Lock()
	delete(s.routing, id)
	s.routingMu.Unlock()
}

// rearm creates the next occurrence of a recurring task that just reached a
// terminal state. The new task gets a fresh id and the drift-free next
// instant; everything else is copied from the template.
func (s *Scheduler) rearm(ctx context.Context, t *task.Task) {
	next, ok, err := NextOccurrence(t)
	if err != nil {
		s.log.Error("recurrence computation failed", logx.String("id", t.ID), logx.Err(err))
		return
	}
	if !ok {
		return
	}

	now := time.Now()
	nt := t.Clone()
	nt.ID = uuid.NewString()
	nt.ScheduledTime = next
	nt.Status = task.StatusScheduled
	nt.Result = ""
	nt.ErrorMessage = ""
	nt.WaitAttempts = 0
	nt.FirstWaitAt = time.Time{}
	nt.CreatedAt = now
	nt.UpdatedAt = now

	if err := s.store.PutTask(ctx, nt); err != nil {
		s.log.Error("next occurrence not persisted",
			logx.String("id", t.ID), logx.String("next_id", nt.ID), logx.Err(err))
		return
	}
	s.queue.Insert(nt.ID, nt.ScheduledTime, nt.Priority)
	s.log.Debug("task.recurred",
		logx.String("id", t.ID), logx.String("next_id", nt.ID), logx.Time("next_at", next))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskRecurred, Time: now, Data: TaskEvent{
			ID: nt.ID, Name: nt.Name, Status: nt.Status,
		}})
	}
}

// ---- Public operations ----

// AddTask validates and admits a task definition. Reusing an id upserts.
// The dependency graph is checked synchronously: cycles and dangling ids
// are rejected here, never discovered as a deadlock later.
func (s *Scheduler) AddTask(ctx context.Context, def Definition) (string, error) {
	now := time.Now()

	t := &task.Task{
		ID:            strings.TrimSpace(def.ID),
		Name:          strings.TrimSpace(def.Name),
		ScheduledTime: def.ScheduledTime,
		Priority:      def.Priority,
		Recurrence:    def.Recurrence,
		Dependencies:  def.Dependencies,
		MaxDuration:   def.MaxDuration,
		Action:        def.Action,
		RetryMax:      def.RetryMax,
		Status:        task.StatusScheduled,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.ScheduledTime.IsZero() {
		t.ScheduledTime = now
	}
	if t.Priority == 0 {
		t.Priority = task.PriorityMedium
	}

	if err := t.Validate(); err != nil {
		return "", err
	}
	if err := ValidateRecurrence(t.Recurrence); err != nil {
		return "", fmt.Errorf("task %s: %w", t.ID, err)
	}
	if err := validateGraph(ctx, s.store, t); err != nil {
		return "", err
	}

	// Upsert keeps the original creation stamp.
	if prev, err := s.store.GetTask(ctx, t.ID); err == nil {
		t.CreatedAt = prev.CreatedAt
	} else if !errors.Is(err, storage.ErrNotFound) {
		return "", persistErr("get task", err)
	}

	if err := s.store.PutTask(ctx, t); err != nil {
		return "", persistErr("put task", err)
	}

	s.log.Debug("task.scheduled",
		logx.String("id", t.ID), logx.Time("at", t.ScheduledTime),
		logx.String("priority", t.Priority.String()), logx.String("recurrence", t.Recurrence.Spec()))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskScheduled, Time: now, Data: TaskEvent{
			ID: t.ID, Name: t.Name, Status: t.Status,
		}})
	}

	// Already due and the loop is live: dispatch now instead of waiting a
	// tick. Otherwise queue it; Start() rebuilds from the store anyway.
	if s.running() && !t.ScheduledTime.After(now) {
		s.queue.Remove(t.ID)
		s.route(ctx, Entry{At: t.ScheduledTime, Priority: t.Priority, TaskID: t.ID}, now)
		return t.ID, nil
	}
	s.queue.Insert(t.ID, t.ScheduledTime, t.Priority)
	return t.ID, nil
}

// CancelTask cancels a SCHEDULED task. It reports false (without error) for
// unknown ids and for tasks already RUNNING or terminal: running work has
// no preemption beyond its MaxDuration.
func (s *Scheduler) CancelTask(ctx context.Context, id string) (bool, error) {
	t, err := s.store.GetTask(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, persistErr("get task", err)
	}
	if t.Status != task.StatusScheduled {
		return false, nil
	}

	now := time.Now()
	t.Status = task.StatusCancelled
	t.UpdatedAt = now
	if err := s.store.PutTask(ctx, t); err != nil {
		return false, persistErr("cancel task", err)
	}
	s.queue.Remove(id)

	s.log.Debug("task.cancelled", logx.String("id", id))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskCancelled, Time: now, Data: TaskEvent{
			ID: t.ID, Name: t.Name, Status: t.Status,
		}})
	}
	return true, nil
}

// GetTaskStatus returns the task's status; ok is false for unknown ids.
func (s *Scheduler) GetTaskStatus(ctx context.Context, id string) (task.Status, bool, error) {
	t, err := s.store.GetTask(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, persistErr("get task", err)
	}
	return t.Status, true, nil
}

// GetTask returns a copy of the full task record; ok is false for unknown ids.
func (s *Scheduler) GetTask(ctx context.Context, id string) (*task.Task, bool, error) {
	t, err := s.store.GetTask(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, persistErr("get task", err)
	}
	return t, true, nil
}

// GetUpcomingTasks lists SCHEDULED tasks due within the window, soonest
// first.
func (s *Scheduler) GetUpcomingTasks(ctx context.Context, within time.Duration) ([]*task.Task, error) {
	pending, err := s.store.TasksByStatus(ctx, task.StatusScheduled)
	if err != nil {
		return nil, persistErr("list scheduled", err)
	}
	cutoff := time.Now().Add(within)
	out := pending[:0]
	for _, t := range pending {
		if !t.ScheduledTime.After(cutoff) {
			out = append(out, t)
		}
	}
	return out, nil
}

// GetStatistics returns the public counters.
func (s *Scheduler) GetStatistics(ctx context.Context) (Stats, error) {
	completed, err := s.store.TasksByStatus(ctx, task.StatusCompleted)
	if err != nil {
		return Stats{}, persistErr("list completed", err)
	}
	failed, err := s.store.TasksByStatus(ctx, task.StatusFailed)
	if err != nil {
		return Stats{}, persistErr("list failed", err)
	}
	return Stats{
		Queued:           s.queue.Len(),
		Active:           s.disp.InUse(),
		Completed:        len(completed),
		Failed:           len(failed),
		WorkersAvailable: s.disp.Available(),
		Dispatched:       s.disp.Dispatched(),
		Requeues:         s.requeues.Load(),
	}, nil
}
