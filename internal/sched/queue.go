package sched

import (
	"container/heap"
	"sync"
	"time"

	"taskd/internal/task"
)

// Entry is the lightweight ordering projection of a task: when it is due,
// how it ties against same-instant entries, and which task it refers to.
//
// At is the entry's due instant, not necessarily the task's ScheduledTime:
// dependency-wait and worker-unavailable requeues move the entry without
// touching the task (recurrence math needs the original ScheduledTime).
type Entry struct {
	At       time.Time
	Priority task.Priority
	TaskID   string

	index int // heap bookkeeping
}

// Queue is the in-memory priority structure ordering pending entries by
// (due time ascending, priority descending). One entry per task id: Insert
// replaces, so a rescheduled task cannot be popped twice.
//
// A heap keeps per-tick cost proportional to the entries actually due, not
// the total backlog.
type Queue struct {
	mu   sync.Mutex
	h    entryHeap
	byID map[string]*Entry
}

func NewQueue() *Queue {
	return &Queue{byID: map[string]*Entry{}}
}

// Insert adds or replaces the entry for taskID.
func (q *Queue) Insert(taskID string, at time.Time, prio task.Priority) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if old := q.byID[taskID]; old != nil {
		old.At = at
		old.Priority = prio
		heap.Fix(&q.h, old.index)
		return
	}
	e := &Entry{At: at, Priority: prio, TaskID: taskID}
	q.byID[taskID] = e
	heap.Push(&q.h, e)
}

// Remove drops the entry for taskID (cancellation). Reports whether an
// entry was present.
func (q *Queue) Remove(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	e := q.byID[taskID]
	if e == nil {
		return false
	}
	delete(q.byID, taskID)
	heap.Remove(&q.h, e.index)
	return true
}

// PopReady removes and returns every entry due at or before now, in
// dispatch order (time asc, priority desc).
func (q *Queue) PopReady(now time.Time) []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []Entry
	for q.h.Len() > 0 && !q.h[0].At.After(now) {
		e := heap.Pop(&q.h).(*Entry)
		delete(q.byID, e.TaskID)
		out = append(out, *e)
	}
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.Len()
}

// Contains reports whether taskID has a pending entry.
func (q *Queue) Contains(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.byID[taskID]
	return ok
}

// entryHeap implements container/heap ordered by (At asc, Priority desc,
// TaskID asc for determinism).
type entryHeap []*Entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if !h[i].At.Equal(h[j].At) {
		return h[i].At.Before(h[j].At)
	}
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].TaskID < h[j].TaskID
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*Entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
