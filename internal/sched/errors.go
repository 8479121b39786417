package sched

import (
	"errors"
	"fmt"
)

var (
	ErrStopped = errors.New("scheduler stopped")

	// ErrWorkerUnavailable is returned by the dispatcher when every worker
	// slot is in use. It is transient: the loop requeues the entry with a
	// short fixed delay. Capacity being finite is not an error condition.
	ErrWorkerUnavailable = errors.New("no worker slot available")

	// ErrDependencyUnmet marks the terminal failure of a task whose
	// dependency-wait cap was exhausted.
	ErrDependencyUnmet = errors.New("dependency unmet")

	// ErrCycle rejects a task whose dependency set would create a cycle.
	ErrCycle = errors.New("dependency cycle")

	// ErrDanglingDependency rejects a dependency id the store has never seen.
	ErrDanglingDependency = errors.New("dangling dependency")
)

// PersistenceError wraps store failures so callers of AddTask/CancelTask can
// distinguish "the definition was not saved" from validation errors. Losing
// a task definition is a correctness failure, never swallowed.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }

func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}
