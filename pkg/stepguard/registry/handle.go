package registry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"
)

// State is the lifecycle state of a Handle.
type State int32

// Handle states.
const (
	StateStarting State = iota
	StateRunning
	StateStopping
	StateExited
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateExited:
		return "exited"
	default:
		return "unknown"
	}
}

// Handle tracks one supervisor process. It is created in StateStarting to
// reserve the agent identity and filled in once the process is healthy.
type Handle struct {
	AgentID string
	Host    string

	// Set before the handle moves to StateRunning.
	Port      int
	StartedAt time.Time
	proc      Process

	state   atomic.Int32
	done    chan struct{}
	exitErr error
}

func newHandle(agentID, host string) *Handle {
	return &Handle{
		AgentID: agentID,
		Host:    host,
		done:    make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	return State(h.state.Load())
}

// URL returns the supervisor's base URL.
func (h *Handle) URL() string {
	return "http://" + net.JoinHostPort(h.Host, strconv.Itoa(h.Port))
}

// PID returns the supervisor's process ID, or 0 before it is running.
func (h *Handle) PID() int {
	if h.proc == nil {
		return 0
	}
	return h.proc.PID()
}

// Done is closed once the process has exited and been reaped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// ExitErr returns the process exit error. Valid after Done is closed.
func (h *Handle) ExitErr() error {
	<-h.done
	return h.exitErr
}

func (h *Handle) running(proc Process, port int) {
	h.proc = proc
	h.Port = port
	h.StartedAt = time.Now()
	h.state.Store(int32(StateRunning))
}

func (h *Handle) exited(err error) {
	h.exitErr = err
	h.state.Store(int32(StateExited))
	close(h.done)
}

// stop sends SIGTERM, waits up to grace, then kills. It returns once the
// watcher has reaped the process.
func (h *Handle) stop(ctx context.Context, grace time.Duration) error {
	if !h.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		if h.State() == StateStopping {
			<-h.done
			return nil
		}
		return ErrNotRunning
	}

	if err := h.proc.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("signal supervisor %s: %w", h.AgentID, err)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-h.done:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	if err := h.proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill supervisor %s: %w", h.AgentID, err)
	}
	<-h.done
	return nil
}
