package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shirou/gopsutil/process"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/stepguard/pkg/stepguard/api"
	sgerrors "github.com/randalmurphal/stepguard/pkg/stepguard/errors"
	"github.com/randalmurphal/stepguard/pkg/stepguard/observability"
)

// Sentinel errors for registry operations.
var (
	// ErrAlreadyRunning is returned when the agent already has a supervisor.
	ErrAlreadyRunning = errors.New("supervisor already running")

	// ErrNotRunning is returned when the agent has no running supervisor.
	ErrNotRunning = errors.New("supervisor not running")

	// ErrInvalidAgentID is returned for an empty agent identity.
	ErrInvalidAgentID = errors.New("agent id must not be empty")

	// ErrExitedEarly is returned when a supervisor exits before it is healthy.
	ErrExitedEarly = errors.New("supervisor exited before becoming healthy")
)

// Registry spawns and tracks one supervisor process per agent.
type Registry struct {
	handles  *Map[string, *Handle]
	launcher Launcher

	host           string
	configPath     string
	startupTimeout time.Duration
	spawnAttempts  int
	stopGrace      time.Duration
	retry          sgerrors.RetryConfig

	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager
}

// Option configures a Registry.
type Option func(*Registry)

// WithHost sets the interface supervisors listen on.
func WithHost(host string) Option {
	return func(r *Registry) {
		if host != "" {
			r.host = host
		}
	}
}

// WithConfigPath is passed to every supervisor as --config.
func WithConfigPath(path string) Option {
	return func(r *Registry) {
		r.configPath = path
	}
}

// WithStartupTimeout bounds how long one launch may take to become healthy.
func WithStartupTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.startupTimeout = d
		}
	}
}

// WithSpawnAttempts sets how many launches Start makes before giving up.
func WithSpawnAttempts(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.spawnAttempts = n
		}
	}
}

// WithStopGrace sets how long Stop waits after SIGTERM before killing.
func WithStopGrace(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.stopGrace = d
		}
	}
}

// WithRetryConfig overrides the spawn backoff.
func WithRetryConfig(cfg sgerrors.RetryConfig) Option {
	return func(r *Registry) {
		r.retry = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics enables spawn and exit metrics.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(r *Registry) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithSpanManager enables spawn spans.
func WithSpanManager(s observability.SpanManager) Option {
	return func(r *Registry) {
		if s != nil {
			r.spans = s
		}
	}
}

// New creates a Registry that starts supervisors with launcher.
func New(launcher Launcher, opts ...Option) *Registry {
	r := &Registry{
		handles:        NewMap[string, *Handle](),
		launcher:       launcher,
		host:           "127.0.0.1",
		startupTimeout: 10 * time.Second,
		spawnAttempts:  3,
		stopGrace:      5 * time.Second,
		retry:          sgerrors.SpawnRetry,
		logger:         slog.Default(),
		metrics:        observability.NoopMetrics{},
		spans:          observability.NoopSpanManager{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches a supervisor for agentID and waits until it is healthy.
// Concurrent starts for the same agent have exactly one winner; the others
// get ErrAlreadyRunning.
func (r *Registry) Start(ctx context.Context, agentID string) (*Handle, error) {
	if agentID == "" {
		return nil, ErrInvalidAgentID
	}

	h := newHandle(agentID, r.host)
	if !r.handles.Insert(agentID, h) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, agentID)
	}

	ctx, span := r.spans.StartSpawnSpan(ctx, agentID)
	cfg := sgerrors.NewRetryConfig(r.retry,
		sgerrors.WithMaxAttempts(r.spawnAttempts),
		sgerrors.WithOnRetry(func(attempt int, err error, wait time.Duration) {
			r.logger.Warn("supervisor launch failed, retrying",
				slog.String("agent_id", agentID),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", wait),
				slog.String("error", err.Error()),
			)
			r.spans.AddSpanEvent(ctx, "spawn_retry", attribute.Int("attempt", attempt))
		}),
	)

	result := sgerrors.WithRetryContext(ctx, cfg, func(ctx context.Context) (*launch, error) {
		return r.launchOnce(ctx, h)
	})
	r.metrics.RecordSpawn(ctx, result.Err == nil, result.Attempts, result.Duration)
	r.spans.EndSpanWithError(span, result.Err)

	if result.Err != nil {
		r.handles.CompareAndDelete(agentID, h)
		return nil, fmt.Errorf("start supervisor for %s: %w", agentID, result.Err)
	}

	l := result.Value
	h.running(l.proc, l.port)
	go r.watch(h, l.exited)

	observability.LogSupervisorStarted(r.logger, agentID, h.URL(), h.PID(), result.Attempts)
	return h, nil
}

// launch is one successful attempt.
type launch struct {
	proc   Process
	port   int
	exited <-chan error
}

// launchOnce allocates a port, starts the process, and waits for readiness.
// Exiting early and timing out are transient; everything else is permanent.
func (r *Registry) launchOnce(ctx context.Context, h *Handle) (*launch, error) {
	port, err := FreePort(r.host)
	if err != nil {
		return nil, sgerrors.Permanent(err, "allocate port")
	}

	proc, err := r.launcher.Launch(ctx, LaunchSpec{
		AgentID:    h.AgentID,
		Host:       r.host,
		Port:       port,
		ConfigPath: r.configPath,
	})
	if err != nil {
		return nil, sgerrors.Permanent(err, "launch supervisor")
	}

	exited := make(chan error, 1)
	go func() {
		exited <- proc.Wait()
	}()

	url := (&Handle{Host: r.host, Port: port}).URL()
	if err := r.waitReady(ctx, url, exited); err != nil {
		if !errors.Is(err, ErrExitedEarly) {
			_ = proc.Kill()
			<-exited
		}
		return nil, err
	}
	return &launch{proc: proc, port: port, exited: exited}, nil
}

// waitReady polls GET /health until it succeeds, the process exits, or the
// startup timeout elapses.
func (r *Registry) waitReady(ctx context.Context, url string, exited <-chan error) error {
	readyCtx, cancel := context.WithTimeout(ctx, r.startupTimeout)
	defer cancel()

	client := api.NewSupervisorClient(url, api.WithTimeout(time.Second))
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if _, err := client.Health(readyCtx); err == nil {
			return nil
		}
		select {
		case err := <-exited:
			return sgerrors.Transient(fmt.Errorf("%w: %v", ErrExitedEarly, err), "spawn")
		case <-readyCtx.Done():
			if ctx.Err() != nil {
				return sgerrors.Permanent(ctx.Err(), "spawn")
			}
			return &sgerrors.TimeoutError{Operation: "supervisor startup", Duration: r.startupTimeout}
		case <-ticker.C:
		}
	}
}

// watch reaps the process and removes its handle.
func (r *Registry) watch(h *Handle, exited <-chan error) {
	err := <-exited
	stopping := h.State() == StateStopping

	r.handles.CompareAndDelete(h.AgentID, h)
	h.exited(err)

	observability.LogSupervisorExited(r.logger, h.AgentID, h.PID(), err)
	r.metrics.RecordExit(context.Background(), h.AgentID, err == nil || stopping)
}

// Stop terminates the agent's supervisor: SIGTERM, then kill after the
// stop grace period. It returns once the process has been reaped.
func (r *Registry) Stop(ctx context.Context, agentID string) error {
	h, ok := r.Get(agentID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRunning, agentID)
	}
	if err := h.stop(ctx, r.stopGrace); err != nil {
		if errors.Is(err, ErrNotRunning) {
			return fmt.Errorf("%w: %s", ErrNotRunning, agentID)
		}
		return err
	}
	return nil
}

// Get returns the running supervisor for agentID.
func (r *Registry) Get(agentID string) (*Handle, bool) {
	h, ok := r.handles.Get(agentID)
	if !ok || h.State() != StateRunning {
		return nil, false
	}
	return h, true
}

// List returns running supervisors ordered by agent ID.
func (r *Registry) List() []*Handle {
	var out []*Handle
	r.handles.Range(func(_ string, h *Handle) bool {
		if h.State() == StateRunning {
			out = append(out, h)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// Stats is resource usage of a supervisor process.
type Stats struct {
	CPUPercent float64
	RSSBytes   uint64
}

// Stats reads CPU and memory usage of h's process.
func (r *Registry) Stats(h *Handle) (Stats, error) {
	pid := h.PID()
	if pid <= 0 {
		return Stats{}, fmt.Errorf("%w: %s", ErrNotRunning, h.AgentID)
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return Stats{}, fmt.Errorf("inspect pid %d: %w", pid, err)
	}
	cpu, err := p.CPUPercent()
	if err != nil {
		return Stats{}, fmt.Errorf("cpu of pid %d: %w", pid, err)
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		return Stats{}, fmt.Errorf("memory of pid %d: %w", pid, err)
	}
	return Stats{CPUPercent: cpu, RSSBytes: mem.RSS}, nil
}

// Shutdown stops every running supervisor and returns the first error.
func (r *Registry) Shutdown(ctx context.Context) error {
	var g errgroup.Group
	for _, h := range r.List() {
		g.Go(func() error {
			if err := r.Stop(ctx, h.AgentID); err != nil && !errors.Is(err, ErrNotRunning) {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}
