// Package actions is the registry of external actions a task can reference.
//
// The scheduler treats an ActionRef as opaque; this package maps its Name to
// a registered Func and invokes it. Any error (or timeout, enforced by the
// dispatcher's context) is treated identically by the engine.
package actions

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"taskd/internal/task"
)

// Func executes one action invocation. The returned string is stored as the
// task's result; a non-nil error fails the occurrence.
type Func func(ctx context.Context, args map[string]string) (string, error)

// Registry resolves action references at dispatch time.
type Registry interface {
	Invoke(ctx context.Context, ref task.ActionRef) (string, error)
}

// Map is the default Registry: a mutable name -> Func table.
type Map struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

func NewMap() *Map {
	return &Map{funcs: map[string]Func{}}
}

func (m *Map) Register(name string, fn Func) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("action name is required")
	}
	if fn == nil {
		return fmt.Errorf("action %s: nil func", name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.funcs[name]; dup {
		return fmt.Errorf("action %s: already registered", name)
	}
	m.funcs[name] = fn
	return nil
}

func (m *Map) Invoke(ctx context.Context, ref task.ActionRef) (string, error) {
	m.mu.RLock()
	fn := m.funcs[ref.Name]
	m.mu.RUnlock()
	if fn == nil {
		return "", fmt.Errorf("unknown action %q", ref.Name)
	}
	return fn(ctx, ref.Args)
}

// Names returns the registered action names (for diagnostics).
func (m *Map) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.funcs))
	for n := range m.funcs {
		out = append(out, n)
	}
	return out
}
