package nlm

import (
	"bytes"
	"context"
	"os"
	"os/exec"
)

// Runner executes one CLI invocation and returns its captured output
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecRunner runs commands with os/exec
type ExecRunner struct{}

// Run starts name with args and waits for it; ctx cancellation kills the process
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = append(os.Environ(), "PYTHONIOENCODING=utf-8")

	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}
