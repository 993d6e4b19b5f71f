// Package procexec wraps external command invocation with a structured
// error type, adapted from internal/attractor/gitutil's CommandError idiom.
// It is the single subprocess path used by the stage executor, the agent
// gateway invocation, and the cloud bridge's aws CLI calls.
package procexec

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CommandError reports a failed or unexecutable subprocess, carrying the
// argv, captured output, and the underlying error — spec.md §7 requires
// stage errors to carry the command name.
type CommandError struct {
	Label  string
	Args   []string
	Stdout string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	detail := strings.TrimSpace(e.Stderr)
	if detail == "" {
		detail = strings.TrimSpace(e.Stdout)
	}
	if e.Err != nil && detail == "" {
		return fmt.Sprintf("%s failed (%s): %v", e.Label, strings.Join(e.Args, " "), e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s failed (%s): %v: %s", e.Label, strings.Join(e.Args, " "), e.Err, detail)
	}
	return fmt.Sprintf("%s failed (%s): %s", e.Label, strings.Join(e.Args, " "), detail)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Result is the captured output of a successful subprocess invocation.
type Result struct {
	Stdout string
	Stderr string
}

// Run invokes argv[0] with argv[1:], in dir, with env appended to the
// inherited environment (as KEY=VALUE pairs), and returns captured
// stdout/stderr. A non-zero exit or failure to start the process is
// reported as a *CommandError.
func Run(ctx context.Context, label, dir string, env []string, argv []string) (Result, error) {
	if len(argv) == 0 {
		return Result{}, &CommandError{Label: label, Err: fmt.Errorf("empty argv")}
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	if len(env) > 0 {
		cmd.Env = append(cmd.Environ(), env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return Result{}, &CommandError{
			Label:  label,
			Args:   argv,
			Stdout: stdout.String(),
			Stderr: stderr.String(),
			Err:    err,
		}
	}
	return Result{Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

// EnsureWorks runs a preflight invocation (e.g. "aws --version") and
// reports failure as a *CommandError without otherwise using its output.
func EnsureWorks(ctx context.Context, label, dir string, argv []string) error {
	_, err := Run(ctx, label, dir, nil, argv)
	return err
}
