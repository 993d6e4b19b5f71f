package procexec

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestRun_Success(t *testing.T) {
	res, err := Run(context.Background(), "echo", ".", nil, []string{"/bin/echo", "hi"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "hi" {
		t.Fatalf("stdout = %q want hi", res.Stdout)
	}
}

func TestRun_NonZeroExit_ReturnsCommandError(t *testing.T) {
	_, err := Run(context.Background(), "false", ".", nil, []string{"/bin/false"})
	if err == nil {
		t.Fatalf("expected error")
	}
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected *CommandError, got %T: %v", err, err)
	}
	if cmdErr.Label != "false" {
		t.Fatalf("label = %q", cmdErr.Label)
	}
}

func TestRun_MissingExecutable(t *testing.T) {
	err := EnsureWorks(context.Background(), "missing", ".", []string{"/no/such/binary", "--version"})
	if err == nil {
		t.Fatalf("expected error for missing executable")
	}
}
