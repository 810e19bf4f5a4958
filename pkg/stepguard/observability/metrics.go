package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/randalmurphal/stepguard"

// MetricsRecorder records checkpoint, rollback, and supervisor metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordCheckpoint records a persisted checkpoint with its encoded size
	// and the time spent resolving, capturing, and appending it.
	RecordCheckpoint(ctx context.Context, agentID string, sizeBytes int64, duration time.Duration)

	// RecordCheckpointFailure records a discarded checkpoint and the phase that failed.
	RecordCheckpointFailure(ctx context.Context, agentID, phase string)

	// RecordRollback records a rollback selection request.
	RecordRollback(ctx context.Context, agentID string, found bool)

	// RecordVerification records an oracle verdict.
	RecordVerification(ctx context.Context, agentID string, passed bool)

	// RecordSpawn records a supervisor launch.
	RecordSpawn(ctx context.Context, success bool, attempts int, duration time.Duration)

	// RecordExit records a reaped supervisor process.
	RecordExit(ctx context.Context, agentID string, clean bool)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	checkpoints       metric.Int64Counter
	checkpointFails   metric.Int64Counter
	checkpointSize    metric.Int64Histogram
	checkpointLatency metric.Float64Histogram
	rollbacks         metric.Int64Counter
	verifications     metric.Int64Counter
	spawns            metric.Int64Counter
	spawnLatency      metric.Float64Histogram
	exits             metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics(otel.GetMeterProvider())
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates the instruments on the given provider.
func newOtelMetrics(provider metric.MeterProvider) (*otelMetrics, error) {
	meter := provider.Meter(instrumentationName)
	m := &otelMetrics{}
	var err error

	if m.checkpoints, err = meter.Int64Counter("stepguard.checkpoint.created",
		metric.WithDescription("Number of persisted checkpoints"),
	); err != nil {
		return nil, err
	}
	if m.checkpointFails, err = meter.Int64Counter("stepguard.checkpoint.failed",
		metric.WithDescription("Number of discarded checkpoints"),
	); err != nil {
		return nil, err
	}
	if m.checkpointSize, err = meter.Int64Histogram("stepguard.checkpoint.size_bytes",
		metric.WithDescription("Encoded checkpoint size in bytes"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if m.checkpointLatency, err = meter.Float64Histogram("stepguard.checkpoint.latency_ms",
		metric.WithDescription("Time to resolve, capture, and persist a checkpoint"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.rollbacks, err = meter.Int64Counter("stepguard.rollback.requests",
		metric.WithDescription("Number of rollback selections"),
	); err != nil {
		return nil, err
	}
	if m.verifications, err = meter.Int64Counter("stepguard.verification.results",
		metric.WithDescription("Number of oracle verdicts"),
	); err != nil {
		return nil, err
	}
	if m.spawns, err = meter.Int64Counter("stepguard.supervisor.spawns",
		metric.WithDescription("Number of supervisor launches"),
	); err != nil {
		return nil, err
	}
	if m.spawnLatency, err = meter.Float64Histogram("stepguard.supervisor.spawn_latency_ms",
		metric.WithDescription("Time from launch request to a healthy supervisor"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.exits, err = meter.Int64Counter("stepguard.supervisor.exits",
		metric.WithDescription("Number of reaped supervisor processes"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses the global
// OpenTelemetry meter provider. If initialization fails, returns a no-op
// recorder.
//
// Configure the provider before calling this function:
//
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// NewMetricsRecorderWithProvider creates a recorder bound to provider.
func NewMetricsRecorderWithProvider(provider metric.MeterProvider) (MetricsRecorder, error) {
	m, err := newOtelMetrics(provider)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

// RecordCheckpoint records a persisted checkpoint.
func (m *otelMetrics) RecordCheckpoint(ctx context.Context, agentID string, sizeBytes int64, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("agent_id", agentID))
	m.checkpoints.Add(ctx, 1, attrs)
	m.checkpointSize.Record(ctx, sizeBytes, attrs)
	m.checkpointLatency.Record(ctx, ms(duration), attrs)
}

// RecordCheckpointFailure records a discarded checkpoint.
func (m *otelMetrics) RecordCheckpointFailure(ctx context.Context, agentID, phase string) {
	m.checkpointFails.Add(ctx, 1, metric.WithAttributes(
		attribute.String("agent_id", agentID),
		attribute.String("phase", phase),
	))
}

// RecordRollback records a rollback selection.
func (m *otelMetrics) RecordRollback(ctx context.Context, agentID string, found bool) {
	m.rollbacks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("agent_id", agentID),
		attribute.Bool("found", found),
	))
}

// RecordVerification records an oracle verdict.
func (m *otelMetrics) RecordVerification(ctx context.Context, agentID string, passed bool) {
	m.verifications.Add(ctx, 1, metric.WithAttributes(
		attribute.String("agent_id", agentID),
		attribute.Bool("passed", passed),
	))
}

// RecordSpawn records a supervisor launch.
func (m *otelMetrics) RecordSpawn(ctx context.Context, success bool, attempts int, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	m.spawns.Add(ctx, 1, attrs)
	m.spawnLatency.Record(ctx, ms(duration), attrs, metric.WithAttributes(attribute.Int("attempts", attempts)))
}

// RecordExit records a reaped supervisor.
func (m *otelMetrics) RecordExit(ctx context.Context, agentID string, clean bool) {
	m.exits.Add(ctx, 1, metric.WithAttributes(
		attribute.String("agent_id", agentID),
		attribute.Bool("clean", clean),
	))
}
