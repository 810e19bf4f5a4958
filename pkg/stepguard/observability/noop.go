package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopMetrics is a MetricsRecorder that does nothing.
type NoopMetrics struct{}

// Compile-time interface check.
var _ MetricsRecorder = NoopMetrics{}

func (NoopMetrics) RecordCheckpoint(context.Context, string, int64, time.Duration) {}
func (NoopMetrics) RecordCheckpointFailure(context.Context, string, string) {}
func (NoopMetrics) RecordRollback(context.Context, string, bool) {}
func (NoopMetrics) RecordVerification(context.Context, string, bool) {}
func (NoopMetrics) RecordSpawn(context.Context, bool, int, time.Duration) {}
func (NoopMetrics) RecordExit(context.Context, string, bool) {}

// NoopSpanManager is a SpanManager that does nothing.
type NoopSpanManager struct{}

// Compile-time interface check.
var _ SpanManager = NoopSpanManager{}

var noopSpan = noop.Span{}

// StartCheckpointSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartCheckpointSpan(ctx context.Context, _, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// StartRollbackSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartRollbackSpan(ctx context.Context, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// StartSpawnSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartSpawnSpan(ctx context.Context, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// EndSpanWithError does nothing.
func (NoopSpanManager) EndSpanWithError(trace.Span, error) {}

// AddSpanEvent does nothing.
func (NoopSpanManager) AddSpanEvent(context.Context, string, ...attribute.KeyValue) {}
