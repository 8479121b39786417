package task

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Priority orders tasks that become due at the same instant.
// Higher values dispatch first.
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityMedium   Priority = 2
	PriorityHigh     Priority = 3
	PriorityCritical Priority = 4
)

func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low", "1":
		return PriorityLow, nil
	case "medium", "2", "":
		return PriorityMedium, nil
	case "high", "3":
		return PriorityHigh, nil
	case "critical", "4":
		return PriorityCritical, nil
	default:
		return 0, fmt.Errorf("unknown priority %q", s)
	}
}

// Status is the task lifecycle state.
//
// Transitions are monotonic:
//
//	scheduled -> running -> {completed, failed}
//	scheduled -> cancelled
//	scheduled -> failed        (dependency-wait cap exhausted)
//
// A recurring task never re-enters scheduled; its next occurrence is a new
// task with a fresh id.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is legal.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusScheduled:
		return next == StatusRunning || next == StatusCancelled || next == StatusFailed
	case StatusRunning:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// RecurrenceKind is the tagged variant for recurrence rules.
type RecurrenceKind int

const (
	RecurNone RecurrenceKind = iota
	RecurDaily
	RecurWeekly
	RecurMonthly
	RecurYearly
	RecurCustom // every IntervalDays days
	RecurCron   // robfig/cron spec in CronSpec
)

func (k RecurrenceKind) String() string {
	switch k {
	case RecurNone:
		return "none"
	case RecurDaily:
		return "daily"
	case RecurWeekly:
		return "weekly"
	case RecurMonthly:
		return "monthly"
	case RecurYearly:
		return "yearly"
	case RecurCustom:
		return "custom"
	case RecurCron:
		return "cron"
	default:
		return fmt.Sprintf("recurrence(%d)", int(k))
	}
}

// Recurrence describes how a terminal task re-arms its next occurrence.
type Recurrence struct {
	Kind         RecurrenceKind `json:"kind"`
	IntervalDays int            `json:"interval_days,omitempty"` // custom only
	CronSpec     string         `json:"cron_spec,omitempty"`     // cron only
}

func (r Recurrence) IsZero() bool { return r.Kind == RecurNone }

// Spec renders the recurrence in the compact form accepted by ParseRecurrence.
func (r Recurrence) Spec() string {
	switch r.Kind {
	case RecurCustom:
		return "custom:" + strconv.Itoa(r.IntervalDays)
	case RecurCron:
		return "cron:" + r.CronSpec
	default:
		return r.Kind.String()
	}
}

// ParseRecurrence parses the compact recurrence form:
//
//	none | daily | weekly | monthly | yearly | custom:<days> | cron:<spec>
func ParseRecurrence(raw string) (Recurrence, error) {
	s := strings.TrimSpace(raw)
	switch strings.ToLower(s) {
	case "", "none":
		return Recurrence{Kind: RecurNone}, nil
	case "daily":
		return Recurrence{Kind: RecurDaily}, nil
	case "weekly":
		return Recurrence{Kind: RecurWeekly}, nil
	case "monthly":
		return Recurrence{Kind: RecurMonthly}, nil
	case "yearly":
		return Recurrence{Kind: RecurYearly}, nil
	}
	if rest, ok := strings.CutPrefix(s, "custom:"); ok {
		days, err := strconv.Atoi(strings.TrimSpace(rest))
		if err != nil || days <= 0 {
			return Recurrence{}, fmt.Errorf("custom recurrence needs a positive day count, got %q", rest)
		}
		return Recurrence{Kind: RecurCustom, IntervalDays: days}, nil
	}
	if rest, ok := strings.CutPrefix(s, "cron:"); ok {
		spec := strings.TrimSpace(rest)
		if spec == "" {
			return Recurrence{}, errors.New("cron recurrence needs a spec")
		}
		return Recurrence{Kind: RecurCron, CronSpec: spec}, nil
	}
	return Recurrence{}, fmt.Errorf("unknown recurrence %q", raw)
}

func (r Recurrence) Validate() error {
	switch r.Kind {
	case RecurNone, RecurDaily, RecurWeekly, RecurMonthly, RecurYearly:
		return nil
	case RecurCustom:
		if r.IntervalDays <= 0 {
			return errors.New("custom recurrence: interval_days must be > 0")
		}
		return nil
	case RecurCron:
		if strings.TrimSpace(r.CronSpec) == "" {
			return errors.New("cron recurrence: cron_spec is required")
		}
		return nil
	default:
		return fmt.Errorf("unknown recurrence kind %d", int(r.Kind))
	}
}

// ActionRef names the external action a task runs, plus its arguments.
// The scheduler never interprets it; the action registry does.
type ActionRef struct {
	Name string            `json:"name"`
	Args map[string]string `json:"args,omitempty"`
}

// Task is a unit of schedulable, possibly recurring work.
type Task struct {
	ID            string        `json:"id"`
	Name          string        `json:"name,omitempty"`
	ScheduledTime time.Time     `json:"scheduled_time"`
	Priority      Priority      `json:"priority"`
	Recurrence    Recurrence    `json:"recurrence"`
	Dependencies  []string      `json:"dependencies,omitempty"`
	MaxDuration   time.Duration `json:"max_duration,omitempty"`
	Action        ActionRef     `json:"action"`

	Status       Status `json:"status"`
	Result       string `json:"result,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	// Dependency-wait bookkeeping (see sched.Resolver).
	WaitAttempts int       `json:"wait_attempts,omitempty"`
	FirstWaitAt  time.Time `json:"first_wait_at,omitempty"`

	// Retry policy for a single occurrence. Zero means no retries,
	// matching the engine default.
	RetryMax int `json:"retry_max,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the definition fields. It does not look at other tasks;
// graph-level checks (cycles, dangling deps) belong to the scheduler.
func (t *Task) Validate() error {
	if t == nil {
		return errors.New("task is nil")
	}
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("task id is required")
	}
	if !t.Priority.Valid() {
		return fmt.Errorf("task %s: invalid priority %d", t.ID, int(t.Priority))
	}
	if !t.Status.Valid() {
		return fmt.Errorf("task %s: invalid status %q", t.ID, t.Status)
	}
	if t.ScheduledTime.IsZero() {
		return fmt.Errorf("task %s: scheduled_time is required", t.ID)
	}
	if strings.TrimSpace(t.Action.Name) == "" {
		return fmt.Errorf("task %s: action name is required", t.ID)
	}
	if t.MaxDuration < 0 {
		return fmt.Errorf("task %s: max_duration must be >= 0", t.ID)
	}
	if t.RetryMax < 0 {
		return fmt.Errorf("task %s: retry_max must be >= 0", t.ID)
	}
	if err := t.Recurrence.Validate(); err != nil {
		return fmt.Errorf("task %s: %w", t.ID, err)
	}
	seen := make(map[string]struct{}, len(t.Dependencies))
	for _, dep := range t.Dependencies {
		dep = strings.TrimSpace(dep)
		if dep == "" {
			return fmt.Errorf("task %s: empty dependency id", t.ID)
		}
		if dep == t.ID {
			return fmt.Errorf("task %s: depends on itself", t.ID)
		}
		if _, dup := seen[dep]; dup {
			return fmt.Errorf("task %s: duplicate dependency %s", t.ID, dep)
		}
		seen[dep] = struct{}{}
	}
	return nil
}

// Clone returns a deep copy. Used when handing tasks across goroutines and
// when a recurring task spawns its next occurrence.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	if len(t.Dependencies) > 0 {
		cp.Dependencies = append([]string(nil), t.Dependencies...)
	}
	if len(t.Action.Args) > 0 {
		args := make(map[string]string, len(t.Action.Args))
		for k, v := range t.Action.Args {
			args[k] = v
		}
		cp.Action.Args = args
	}
	return &cp
}
