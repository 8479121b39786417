package actions

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Exec is a builtin action that runs a subprocess.
//
// Args:
//   - "command": program to run (required)
//   - "args": space-separated arguments (optional)
//
// The dispatcher's deadline cancels the context, which kills the child.
func Exec(ctx context.Context, args map[string]string) (string, error) {
	command := strings.TrimSpace(args["command"])
	if command == "" {
		return "", fmt.Errorf("exec action: command is required")
	}
	var argv []string
	if raw := strings.TrimSpace(args["args"]); raw != "" {
		argv = strings.Fields(raw)
	}

	cmd := exec.CommandContext(ctx, command, argv...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		// Surface the captured output; it usually explains the failure.
		msg := strings.TrimSpace(out.String())
		if msg != "" {
			return "", fmt.Errorf("exec %s: %w: %s", command, err, msg)
		}
		return "", fmt.Errorf("exec %s: %w", command, err)
	}
	return strings.TrimSpace(out.String()), nil
}
