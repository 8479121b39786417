package task

import (
	"testing"
	"time"
)

func TestParseRecurrenceVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		raw  string
		kind RecurrenceKind
		days int
		spec string
	}{
		{name: "empty means none", raw: "", kind: RecurNone},
		{name: "none", raw: "none", kind: RecurNone},
		{name: "daily", raw: "daily", kind: RecurDaily},
		{name: "weekly", raw: "weekly", kind: RecurWeekly},
		{name: "monthly", raw: "monthly", kind: RecurMonthly},
		{name: "yearly", raw: "YEARLY", kind: RecurYearly},
		{name: "custom", raw: "custom:14", kind: RecurCustom, days: 14},
		{name: "cron", raw: "cron:0 3 * * *", kind: RecurCron, spec: "0 3 * * *"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRecurrence(tt.raw)
			if err != nil {
				t.Fatalf("ParseRecurrence(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.IntervalDays != tt.days {
				t.Fatalf("IntervalDays = %d, want %d", got.IntervalDays, tt.days)
			}
			if got.CronSpec != tt.spec {
				t.Fatalf("CronSpec = %q, want %q", got.CronSpec, tt.spec)
			}
		})
	}
}

func TestParseRecurrenceInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"hourly", "custom:", "custom:0", "custom:-2", "cron:"} {
		if _, err := ParseRecurrence(raw); err == nil {
			t.Fatalf("ParseRecurrence(%q): expected error", raw)
		}
	}
}

func TestStatusTransitions(t *testing.T) {
	t.Parallel()
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusScheduled, StatusRunning, true},
		{StatusScheduled, StatusCancelled, true},
		{StatusScheduled, StatusFailed, true},
		{StatusScheduled, StatusCompleted, false},
		{StatusRunning, StatusCompleted, true},
		{StatusRunning, StatusFailed, true},
		{StatusRunning, StatusCancelled, false},
		{StatusRunning, StatusScheduled, false},
		{StatusCompleted, StatusRunning, false},
		{StatusFailed, StatusScheduled, false},
		{StatusCancelled, StatusRunning, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.ok {
			t.Fatalf("CanTransition(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	t.Parallel()
	for _, s := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusScheduled, StatusRunning} {
		if s.Terminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
}

func validTask() *Task {
	now := time.Now()
	return &Task{
		ID:            "t1",
		ScheduledTime: now,
		Priority:      PriorityMedium,
		Action:        ActionRef{Name: "exec"},
		Status:        StatusScheduled,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestTaskValidate(t *testing.T) {
	t.Parallel()
	if err := validTask().Validate(); err != nil {
		t.Fatalf("valid task rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Task)
	}{
		{"missing id", func(tk *Task) { tk.ID = " " }},
		{"bad priority", func(tk *Task) { tk.Priority = 9 }},
		{"bad status", func(tk *Task) { tk.Status = "paused" }},
		{"zero scheduled time", func(tk *Task) { tk.ScheduledTime = time.Time{} }},
		{"missing action", func(tk *Task) { tk.Action.Name = "" }},
		{"negative max duration", func(tk *Task) { tk.MaxDuration = -time.Second }},
		{"negative retry max", func(tk *Task) { tk.RetryMax = -1 }},
		{"self dependency", func(tk *Task) { tk.Dependencies = []string{"t1"} }},
		{"empty dependency", func(tk *Task) { tk.Dependencies = []string{" "} }},
		{"duplicate dependency", func(tk *Task) { tk.Dependencies = []string{"a", "a"} }},
		{"custom recurrence without days", func(tk *Task) { tk.Recurrence = Recurrence{Kind: RecurCustom} }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			tk := validTask()
			tt.mutate(tk)
			if err := tk.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()
	orig := validTask()
	orig.Dependencies = []string{"a", "b"}
	orig.Action.Args = map[string]string{"command": "echo"}

	cp := orig.Clone()
	cp.Dependencies[0] = "x"
	cp.Action.Args["command"] = "rm"

	if orig.Dependencies[0] != "a" {
		t.Fatal("Clone shares Dependencies backing array")
	}
	if orig.Action.Args["command"] != "echo" {
		t.Fatal("Clone shares Action.Args map")
	}
}
