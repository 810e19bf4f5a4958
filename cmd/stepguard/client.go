package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/randalmurphal/stepguard/pkg/stepguard/api"
	"github.com/randalmurphal/stepguard/pkg/stepguard/config"
)

var (
	okColor  = color.New(color.FgGreen)
	dimColor = color.New(color.Faint)
)

// registryFlag adds --registry and returns a resolver that falls back to the
// configured registry address.
func registryFlag(fs *flag.FlagSet) func() (*api.RegistryClient, error) {
	url := fs.String("registry", "", "registry base URL (default from config registry.addr)")
	return func() (*api.RegistryClient, error) {
		if *url != "" {
			return api.NewRegistryClient(*url), nil
		}
		settings, err := config.Load("")
		if err != nil {
			return nil, err
		}
		return api.NewRegistryClient("http://" + settings.Registry.Addr), nil
	}
}

func agentFlags(name string, args []string, stderr io.Writer) (string, *api.RegistryClient, error) {
	fs := newFlagSet(name, stderr)
	agentID := fs.String("agent-id", "", "agent identity (required)")
	client := registryFlag(fs)
	if err := fs.Parse(args); err != nil {
		return "", nil, err
	}
	if *agentID == "" {
		return "", nil, errors.New("--agent-id is required")
	}
	c, err := client()
	return *agentID, c, err
}

func runStart(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	agentID, c, err := agentFlags("start", args, stderr)
	if err != nil {
		return err
	}
	resp, err := c.StartTask(ctx, agentID)
	if err != nil {
		return err
	}
	okColor.Fprintln(stdout, resp.Message)
	fmt.Fprintln(stdout, resp.LocalOrchestratorURL)
	return nil
}

func runStop(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	agentID, c, err := agentFlags("stop", args, stderr)
	if err != nil {
		return err
	}
	resp, err := c.StopTask(ctx, agentID)
	if err != nil {
		return err
	}
	okColor.Fprintln(stdout, resp.Message)
	return nil
}

func runTasks(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("tasks", stderr)
	client := registryFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	c, err := client()
	if err != nil {
		return err
	}
	resp, err := c.Tasks(ctx)
	if err != nil {
		return err
	}
	if len(resp.Tasks) == 0 {
		dimColor.Fprintln(stdout, "no running supervisors")
		return nil
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AGENT\tURL\tPID\tUPTIME\tCPU%\tRSS")
	for _, t := range resp.Tasks {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%.1f\t%s\n",
			t.AgentID, t.URL, t.PID,
			time.Since(t.StartedAt).Truncate(time.Second),
			t.CPUPercent, formatBytes(t.RSSBytes))
	}
	return tw.Flush()
}

func runHealth(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("health", stderr)
	client := registryFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	c, err := client()
	if err != nil {
		return err
	}
	resp, err := c.Health(ctx)
	if err != nil {
		return err
	}
	okColor.Fprintln(stdout, resp.Status)
	return nil
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
