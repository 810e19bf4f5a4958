package snapshot

import (
	"bytes"
	"context"
	"os/exec"
	"time"
)

// Runner executes one runtime command and returns its output.
// A non-zero exit is reported as an error alongside the captured stderr.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecRunner runs commands as subprocesses. The process is killed when ctx
// is done.
type ExecRunner struct {
	// WaitDelay bounds how long to wait for output pipes after the kill.
	WaitDelay time.Duration
}

// Run implements Runner.
func (r ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = 2 * time.Second
	}
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}
