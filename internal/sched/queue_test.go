package sched

import (
	"testing"
	"time"

	"taskd/internal/task"
)

func TestQueueOrdering(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	q := NewQueue()

	// Same instant: priority breaks the tie, high first.
	q.Insert("low", base, task.PriorityLow)
	q.Insert("critical", base, task.PriorityCritical)
	q.Insert("high", base, task.PriorityHigh)
	// Earlier instant beats any priority.
	q.Insert("earlier", base.Add(-time.Minute), task.PriorityLow)
	// Not yet due.
	q.Insert("future", base.Add(time.Hour), task.PriorityCritical)

	got := q.PopReady(base)
	want := []string{"earlier", "critical", "high", "low"}
	if len(got) != len(want) {
		t.Fatalf("PopReady returned %d entries, want %d", len(got), len(want))
	}
	for i, e := range got {
		if e.TaskID != want[i] {
			t.Fatalf("entry[%d] = %s, want %s", i, e.TaskID, want[i])
		}
	}
	if q.Len() != 1 {
		t.Fatalf("queue len = %d, want 1 (future entry)", q.Len())
	}
}

func TestQueueInsertReplaces(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	q := NewQueue()

	q.Insert("a", base, task.PriorityLow)
	q.Insert("a", base.Add(time.Hour), task.PriorityHigh)

	if got := q.PopReady(base); len(got) != 0 {
		t.Fatalf("expected no ready entries after reschedule, got %d", len(got))
	}
	got := q.PopReady(base.Add(time.Hour))
	if len(got) != 1 || got[0].TaskID != "a" || got[0].Priority != task.PriorityHigh {
		t.Fatalf("unexpected entries after reschedule: %+v", got)
	}
}

func TestQueueRemove(t *testing.T) {
	t.Parallel()
	base := time.Now()
	q := NewQueue()

	q.Insert("a", base, task.PriorityMedium)
	q.Insert("b", base, task.PriorityMedium)

	if !q.Remove("a") {
		t.Fatal("Remove(a) = false, want true")
	}
	if q.Remove("a") {
		t.Fatal("second Remove(a) = true, want false")
	}
	if q.Contains("a") {
		t.Fatal("queue still contains removed entry")
	}

	got := q.PopReady(base)
	if len(got) != 1 || got[0].TaskID != "b" {
		t.Fatalf("unexpected survivors: %+v", got)
	}
}

func TestQueuePopReadyEmpty(t *testing.T) {
	t.Parallel()
	q := NewQueue()
	if got := q.PopReady(time.Now()); len(got) != 0 {
		t.Fatalf("empty queue popped %d entries", len(got))
	}
}
