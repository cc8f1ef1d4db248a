package media

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"path/filepath"

	"subtrans/internal/services"
)

// CommandRunner executes an external binary and returns its stdout. Failures
// must be reported as *services.ToolError so callers can classify them.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// execRunner is the production runner backed by os/exec.
func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout.Bytes(), services.NewToolError(filepath.Base(name), exitErr.ExitCode(), stderr.String())
		}
		return nil, services.Wrap(services.ErrTool, "media", "run", "start "+filepath.Base(name), err)
	}
	return stdout.Bytes(), nil
}
