package storage

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"taskd/internal/task"
	"taskd/pkg/logx"
)

func openTestSQLite(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "tasks.db"),
		BusyTimeout: time.Second,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSQLiteRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTestSQLite(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	tk := &task.Task{
		ID:            "a",
		Name:          "nightly backup",
		ScheduledTime: now.Add(time.Hour),
		Priority:      task.PriorityHigh,
		Recurrence:    task.Recurrence{Kind: task.RecurCustom, IntervalDays: 3},
		Dependencies:  []string{"b", "c"},
		MaxDuration:   90 * time.Second,
		Action:        task.ActionRef{Name: "exec", Args: map[string]string{"cmd": "backup.sh"}},
		Status:        task.StatusScheduled,
		WaitAttempts:  2,
		FirstWaitAt:   now,
		RetryMax:      3,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := st.PutTask(ctx, tk); err != nil {
		t.Fatalf("PutTask: %v", err)
	}

	got, err := st.GetTask(ctx, "a")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if !got.ScheduledTime.Equal(tk.ScheduledTime) || !got.FirstWaitAt.Equal(tk.FirstWaitAt) {
		t.Fatalf("times did not survive: %+v", got)
	}
	// Normalize time zones for the struct comparison; Equal already proved
	// the instants match.
	got.ScheduledTime = tk.ScheduledTime
	got.FirstWaitAt = tk.FirstWaitAt
	got.CreatedAt = tk.CreatedAt
	got.UpdatedAt = tk.UpdatedAt
	if !reflect.DeepEqual(got, tk) {
		t.Fatalf("round trip mismatch:\n got  %+v\n want %+v", got, tk)
	}
}

func TestSQLiteUpsert(t *testing.T) {
	t.Parallel()
	st := openTestSQLite(t)
	ctx := context.Background()
	now := time.Now().UTC()

	tk := memTask("a", task.StatusScheduled, now)
	if err := st.PutTask(ctx, tk); err != nil {
		t.Fatal(err)
	}

	tk.Status = task.StatusCompleted
	tk.Result = "ok"
	if err := st.PutTask(ctx, tk); err != nil {
		t.Fatal(err)
	}

	got, err := st.GetTask(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != task.StatusCompleted || got.Result != "ok" {
		t.Fatalf("upsert did not replace: %+v", got)
	}

	all, err := st.AllTasks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("upsert created %d rows, want 1", len(all))
	}
}

func TestSQLiteQueries(t *testing.T) {
	t.Parallel()
	st := openTestSQLite(t)
	ctx := context.Background()
	base := time.Now().UTC()

	if err := st.PutTask(ctx, memTask("late", task.StatusScheduled, base.Add(time.Hour))); err != nil {
		t.Fatal(err)
	}
	if err := st.PutTask(ctx, memTask("early", task.StatusScheduled, base)); err != nil {
		t.Fatal(err)
	}
	if err := st.PutTask(ctx, memTask("done", task.StatusCompleted, base)); err != nil {
		t.Fatal(err)
	}

	scheduled, err := st.TasksByStatus(ctx, task.StatusScheduled)
	if err != nil {
		t.Fatal(err)
	}
	if len(scheduled) != 2 || scheduled[0].ID != "early" || scheduled[1].ID != "late" {
		t.Fatalf("TasksByStatus = %v", ids(scheduled))
	}

	if _, err := st.GetTask(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg := Config{Driver: "sqlite", Path: filepath.Join(dir, "tasks.db")}
	ctx := context.Background()

	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := st.PutTask(ctx, memTask("a", task.StatusScheduled, time.Now().UTC())); err != nil {
		t.Fatal(err)
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	st2, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st2.Close()
	got, err := st2.GetTask(ctx, "a")
	if err != nil {
		t.Fatalf("GetTask after reopen: %v", err)
	}
	if got.Status != task.StatusScheduled {
		t.Fatalf("got = %+v", got)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver accepted")
	}
}
