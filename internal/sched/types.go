package sched

import (
	"time"

	"taskd/internal/task"
)

// Config controls the tick loop, the dispatcher, and the dependency-wait
// policy. The zero value is usable; withDefaults fills the gaps.
type Config struct {
	// TickInterval is the loop's polling period.
	TickInterval time.Duration

	// MaxWorkers bounds concurrently running tasks.
	MaxWorkers int

	// WorkerRetryDelay is the fixed requeue delay after ErrWorkerUnavailable.
	WorkerRetryDelay time.Duration

	// Dependency-wait backoff: base doubling per attempt, capped at
	// DepMaxDelay. The task fails once DepMaxAttempts or DepMaxWait is
	// exceeded, whichever trips first.
	DepBaseDelay   time.Duration
	DepMaxDelay    time.Duration
	DepMaxAttempts int
	DepMaxWait     time.Duration

	// Retry policy applied within one occurrence when a task opts in
	// (Task.RetryMax > 0).
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64 // 0.2 = 20%
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 4
	}
	if c.WorkerRetryDelay <= 0 {
		c.WorkerRetryDelay = 30 * time.Second
	}
	if c.DepBaseDelay <= 0 {
		c.DepBaseDelay = 5 * time.Second
	}
	if c.DepMaxDelay <= 0 {
		c.DepMaxDelay = 5 * time.Minute
	}
	if c.DepMaxAttempts <= 0 {
		c.DepMaxAttempts = 20
	}
	if c.DepMaxWait <= 0 {
		c.DepMaxWait = 24 * time.Hour
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 15 * time.Second
	}
	if c.RetryJitter <= 0 {
		c.RetryJitter = 0.2
	}
	return c
}

// Definition is the caller-facing input to AddTask.
type Definition struct {
	// ID is optional; empty means a fresh uuid. Reusing an id upserts.
	ID   string
	Name string

	// ScheduledTime zero means "now".
	ScheduledTime time.Time

	// Priority zero means medium.
	Priority Priority

	Recurrence   task.Recurrence
	Dependencies []string
	MaxDuration  time.Duration
	Action       task.ActionRef

	// RetryMax opts this task into within-occurrence retries.
	RetryMax int
}

// Re-export the domain enums so embedders only import sched.
type (
	Priority = task.Priority
	Status   = task.Status
)

// Stats is the public statistics view.
type Stats struct {
	Queued           int    `json:"queued"`
	Active           int    `json:"active"`
	Completed        int    `json:"completed"`
	Failed           int    `json:"failed"`
	WorkersAvailable int    `json:"workers_available"`
	Dispatched       uint64 `json:"dispatched"`
	Requeues         uint64 `json:"requeues"`
}

// TaskEvent is the payload published on the event bus for task lifecycle
// events.
type TaskEvent struct {
	ID       string        `json:"id"`
	Name     string        `json:"name,omitempty"`
	Status   task.Status   `json:"status"`
	Duration time.Duration `json:"duration,omitempty"`
	Attempts int           `json:"attempts,omitempty"`
	Error    string        `json:"error,omitempty"`
}
