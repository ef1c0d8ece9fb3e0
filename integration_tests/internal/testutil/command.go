package testutil

import (
	"bytes"
	"context"
	"os/exec"
	"testing"
	"time"
)

// Result is the captured outcome of one CLI invocation
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Run executes the bqflow binary with args and a timeout
func Run(t *testing.T, timeout time.Duration, args ...string) Result {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, GetBinaryPath(), args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if exitErr, ok := err.(*exec.ExitError); ok {
		res.ExitCode = exitErr.ExitCode()
	} else if err != nil {
		t.Fatalf("failed to run bqflow %v: %v", args, err)
	}
	t.Logf("bqflow %v exited %d\nstdout:\n%s\nstderr:\n%s", args, res.ExitCode, res.Stdout, res.Stderr)
	return res
}
