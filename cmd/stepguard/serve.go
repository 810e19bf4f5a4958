package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/stepguard/pkg/stepguard/checkpoint"
	"github.com/randalmurphal/stepguard/pkg/stepguard/config"
	"github.com/randalmurphal/stepguard/pkg/stepguard/observability"
	"github.com/randalmurphal/stepguard/pkg/stepguard/oracle"
	"github.com/randalmurphal/stepguard/pkg/stepguard/policy"
	"github.com/randalmurphal/stepguard/pkg/stepguard/registry"
	"github.com/randalmurphal/stepguard/pkg/stepguard/service"
	"github.com/randalmurphal/stepguard/pkg/stepguard/snapshot"
	"github.com/randalmurphal/stepguard/pkg/stepguard/supervisor"
)

const shutdownTimeout = 30 * time.Second

// runServe runs the registry until ctx is cancelled, then stops every
// supervisor it launched.
func runServe(ctx context.Context, args []string, stderr io.Writer) error {
	fs := newFlagSet("serve", stderr)
	configPath := fs.String("config", "", "config file (default $STEPGUARD_CONFIG or $XDG_CONFIG_HOME/stepguard/config.yaml)")
	addr := fs.String("addr", "", "listen address (overrides registry.addr)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	settings, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *addr != "" {
		settings.Registry.Addr = *addr
	}
	logger := observability.NewLogger(settings.Logging.Level, settings.Logging.Format, stderr)

	provider, reader := observability.NewMeterProvider()
	otel.SetMeterProvider(provider)
	defer func() { _ = provider.Shutdown(context.Background()) }()
	metrics, err := observability.NewMetricsRecorderWithProvider(provider)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	reg := registry.New(
		registry.ExecLauncher{Binary: settings.Registry.SupervisorBinary},
		registry.WithHost(settings.Registry.Host),
		registry.WithConfigPath(settings.Path),
		registry.WithStartupTimeout(settings.Registry.StartupTimeout),
		registry.WithSpawnAttempts(settings.Registry.SpawnAttempts),
		registry.WithStopGrace(settings.Registry.StopGrace),
		registry.WithLogger(logger),
		registry.WithMetrics(metrics),
		registry.WithSpanManager(observability.NewSpanManager()),
	)

	srv := &http.Server{
		Addr:              settings.Registry.Addr,
		Handler:           registry.NewServer(reg, reader).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return serveHTTP(ctx, srv, logger, reg.Shutdown)
}

// runSupervisor runs one agent's supervisor service.
func runSupervisor(ctx context.Context, args []string, stderr io.Writer) error {
	fs := newFlagSet("supervisor", stderr)
	agentID := fs.String("agent-id", "", "agent identity (required)")
	host := fs.String("host", "127.0.0.1", "listen host")
	port := fs.Int("port", 0, "listen port (required)")
	configPath := fs.String("config", "", "config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *agentID == "" {
		return errors.New("--agent-id is required")
	}
	if *port <= 0 {
		return errors.New("--port is required")
	}

	settings, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger := observability.EnrichLogger(
		observability.NewLogger(settings.Logging.Level, settings.Logging.Format, stderr), *agentID)

	store, err := checkpoint.Open(ctx, settings.StoreOptions())
	if err != nil {
		return fmt.Errorf("open checkpoint store: %w", err)
	}
	defer store.Close()

	pol, err := policy.FromName(settings.Supervisor.Policy, settings.Supervisor.PolicyEvery, settings.Supervisor.PolicyExpr)
	if err != nil {
		return err
	}
	sel, err := supervisor.SelectorFromName(settings.Supervisor.Rollback)
	if err != nil {
		return err
	}

	rt := snapshot.NewDockerCLI(
		snapshot.WithBinary(settings.Runtime.DockerBinary),
		snapshot.WithRepository(settings.Runtime.ImageRepository),
		snapshot.WithCaptureTimeout(settings.Supervisor.CaptureTimeout),
		snapshot.WithCommandTimeout(settings.Supervisor.CommandTimeout),
		snapshot.WithLogger(logger),
	)
	provider, reader := observability.NewMeterProvider()
	otel.SetMeterProvider(provider)
	defer func() { _ = provider.Shutdown(context.Background()) }()
	metrics, err := observability.NewMetricsRecorderWithProvider(provider)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	sup, err := supervisor.New(ctx, *agentID, store, rt,
		supervisor.WithPolicy(pol),
		supervisor.WithSelector(sel),
		supervisor.WithCaptureTimeout(settings.Supervisor.CaptureTimeout),
		supervisor.WithLogger(logger),
		supervisor.WithMetrics(metrics),
		supervisor.WithSpanManager(observability.NewSpanManager()),
	)
	if err != nil {
		return err
	}

	var verifier oracle.Verifier = oracle.Static{Verdict: true}
	if settings.Oracle.URL != "" {
		verifier = oracle.NewHTTPClient(settings.Oracle.URL, settings.Oracle.Timeout, oracle.WithLogger(logger))
	}

	logger.Info("supervisor configured",
		slog.String("policy", pol.Name()),
		slog.String("rollback", sel.Name()),
		slog.String("store", settings.Store.Backend),
		slog.Int("checkpoints", sup.Len()),
	)

	srv := &http.Server{
		Addr:              net.JoinHostPort(*host, strconv.Itoa(*port)),
		Handler:           service.New(sup, verifier,
			service.WithLogger(logger),
			service.WithMetrics(metrics),
			service.WithMetricsReader(reader),
		).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return serveHTTP(ctx, srv, logger, nil)
}

// serveHTTP serves until ctx is cancelled or the listener fails, then shuts
// the server down and runs onShutdown.
func serveHTTP(ctx context.Context, srv *http.Server, logger *slog.Logger, onShutdown func(context.Context) error) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", srv.Addr, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", slog.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		if onShutdown != nil {
			err = errors.Join(err, onShutdown(shutdownCtx))
		}
		return err
	})
	return g.Wait()
}
