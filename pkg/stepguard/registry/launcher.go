package registry

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strconv"
	"time"
)

// LaunchSpec describes one supervisor process to start.
type LaunchSpec struct {
	AgentID    string
	Host       string
	Port       int
	ConfigPath string
}

// Process is a started supervisor process.
type Process interface {
	PID() int
	// Wait blocks until the process exits. It is called exactly once.
	Wait() error
	Signal(sig os.Signal) error
	Kill() error
}

// Launcher starts supervisor processes.
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (Process, error)
}

// ExecLauncher runs "<Binary> supervisor --agent-id A --host H --port P".
type ExecLauncher struct {
	Binary string
	Stdout io.Writer
	Stderr io.Writer
}

// Args returns the command line arguments for spec.
func (l ExecLauncher) Args(spec LaunchSpec) []string {
	args := []string{
		"supervisor",
		"--agent-id", spec.AgentID,
		"--host", spec.Host,
		"--port", strconv.Itoa(spec.Port),
	}
	if spec.ConfigPath != "" {
		args = append(args, "--config", spec.ConfigPath)
	}
	return args
}

// Launch implements Launcher. The process is not bound to ctx; it lives
// until stopped.
func (l ExecLauncher) Launch(_ context.Context, spec LaunchSpec) (Process, error) {
	binary := l.Binary
	if binary == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve supervisor binary: %w", err)
		}
		binary = exe
	}

	cmd := exec.Command(binary, l.Args(spec)...)
	cmd.Stdout = l.Stdout
	cmd.Stderr = l.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("launch %s: %w", binary, err)
	}
	return &execProcess{cmd: cmd}, nil
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) PID() int                   { return p.cmd.Process.Pid }
func (p *execProcess) Wait() error                { return p.cmd.Wait() }
func (p *execProcess) Signal(sig os.Signal) error { return p.cmd.Process.Signal(sig) }
func (p *execProcess) Kill() error                { return p.cmd.Process.Kill() }

// FreePort asks the OS for an unused TCP port on host.
// The port is released before returning, so another process may claim it
// before the supervisor binds.
func FreePort(host string) (int, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, fmt.Errorf("allocate port on %s: %w", host, err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}

// pollInterval is how often readiness is probed during startup.
const pollInterval = 50 * time.Millisecond
