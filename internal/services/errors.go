package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUser        = errors.New("invalid request")
	ErrNotFound    = errors.New("not found")
	ErrTransient   = errors.New("transient failure")
	ErrTool        = errors.New("external tool error")
	ErrCodec       = errors.New("subtitle codec error")
	ErrAuth        = errors.New("authentication error")
	ErrConsistency = errors.New("consistency error")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Terminal reports whether err must not be retried: anything that is not a
// transient failure ends the task.
func Terminal(err error) bool {
	return err != nil && !errors.Is(err, ErrTransient)
}

// stderrTailLimit caps how much captured tool output is carried into task
// error messages.
const stderrTailLimit = 1024

// ToolError reports a non-zero exit from an external binary along with the
// tail of its stderr.
type ToolError struct {
	Command  string
	ExitCode int
	Stderr   string
}

// NewToolError trims stderr to its final kilobyte and builds a ToolError.
func NewToolError(command string, exitCode int, stderr string) *ToolError {
	stderr = strings.TrimSpace(stderr)
	if len(stderr) > stderrTailLimit {
		stderr = stderr[len(stderr)-stderrTailLimit:]
	}
	return &ToolError{Command: command, ExitCode: exitCode, Stderr: stderr}
}

func (e *ToolError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s exited with code %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("%s exited with code %d: %s", e.Command, e.ExitCode, e.Stderr)
}

func (e *ToolError) Unwrap() error { return ErrTool }

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
