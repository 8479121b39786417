package actions

import (
	"context"
	"sort"
	"strings"
	"testing"

	"taskd/internal/task"
)

func TestMapRegisterInvoke(t *testing.T) {
	t.Parallel()
	m := NewMap()
	if err := m.Register("echo", func(ctx context.Context, args map[string]string) (string, error) {
		return args["msg"], nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, err := m.Invoke(context.Background(), task.ActionRef{Name: "echo", Args: map[string]string{"msg": "hi"}})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got != "hi" {
		t.Fatalf("result = %q, want %q", got, "hi")
	}
}

func TestMapUnknownAction(t *testing.T) {
	t.Parallel()
	m := NewMap()
	_, err := m.Invoke(context.Background(), task.ActionRef{Name: "ghost"})
	if err == nil || !strings.Contains(err.Error(), "unknown action") {
		t.Fatalf("err = %v, want unknown action", err)
	}
}

func TestMapRegisterValidation(t *testing.T) {
	t.Parallel()
	m := NewMap()
	if err := m.Register("", func(ctx context.Context, args map[string]string) (string, error) { return "", nil }); err == nil {
		t.Fatal("empty name accepted")
	}
	if err := m.Register("x", nil); err == nil {
		t.Fatal("nil func accepted")
	}
	if err := m.Register("x", func(ctx context.Context, args map[string]string) (string, error) { return "", nil }); err != nil {
		t.Fatal(err)
	}
	if err := m.Register("x", func(ctx context.Context, args map[string]string) (string, error) { return "", nil }); err == nil {
		t.Fatal("duplicate name accepted")
	}
}

func TestMapNames(t *testing.T) {
	t.Parallel()
	m := NewMap()
	for _, n := range []string{"b", "a"} {
		if err := m.Register(n, func(ctx context.Context, args map[string]string) (string, error) { return "", nil }); err != nil {
			t.Fatal(err)
		}
	}
	names := m.Names()
	sort.Strings(names)
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("Names = %v", names)
	}
}

func TestExecMissingCommand(t *testing.T) {
	t.Parallel()
	if _, err := Exec(context.Background(), map[string]string{}); err == nil {
		t.Fatal("missing command accepted")
	}
}

func TestExecCapturesOutput(t *testing.T) {
	t.Parallel()
	out, err := Exec(context.Background(), map[string]string{"command": "echo", "args": "hello world"})
	if err != nil {
		// echo may be unavailable in minimal environments.
		t.Skipf("echo not runnable: %v", err)
	}
	if out != "hello world" {
		t.Fatalf("out = %q, want %q", out, "hello world")
	}
}
