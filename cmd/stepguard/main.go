// Command stepguard runs the checkpoint registry, per-agent supervisors, and
// a small client for the registry API.
//
// Usage:
//
//	stepguard serve      [--config path] [--addr host:port]
//	stepguard supervisor --agent-id A --port P [--host H] [--config path]
//	stepguard start      --agent-id A [--registry URL]
//	stepguard stop       --agent-id A [--registry URL]
//	stepguard tasks      [--registry URL]
//	stepguard health     [--registry URL]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
)

const usage = `usage: stepguard <command> [flags]

commands:
  serve        run the registry HTTP server
  supervisor   run the supervisor service for one agent
  start        ask the registry to start an agent's supervisor
  stop         ask the registry to stop an agent's supervisor
  tasks        list running supervisors
  health       check the registry
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		color.New(color.FgRed).Fprintf(os.Stderr, "stepguard: %v\n", err)
		os.Exit(1)
	}
}

// errUsage is returned for a missing or unknown command.
var errUsage = errors.New("unknown command")

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return errUsage
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "serve":
		return runServe(ctx, rest, stderr)
	case "supervisor":
		return runSupervisor(ctx, rest, stderr)
	case "start":
		return runStart(ctx, rest, stdout, stderr)
	case "stop":
		return runStop(ctx, rest, stdout, stderr)
	case "tasks":
		return runTasks(ctx, rest, stdout, stderr)
	case "health":
		return runHealth(ctx, rest, stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		fmt.Fprint(stderr, usage)
		return fmt.Errorf("%w %q", errUsage, cmd)
	}
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}
