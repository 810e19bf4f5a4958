package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// setupMetricsTest creates a recorder bound to a fresh provider and a manual reader.
func setupMetricsTest(t *testing.T) (MetricsRecorder, *sdkmetric.ManualReader) {
	provider, reader := NewMeterProvider()
	t.Cleanup(func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down meter provider: %v", err)
		}
	})

	recorder, err := NewMetricsRecorderWithProvider(provider)
	require.NoError(t, err)
	return recorder, reader
}

func findSummary(summaries []MetricSummary, name string) *MetricSummary {
	for i := range summaries {
		if summaries[i].Name == name {
			return &summaries[i]
		}
	}
	return nil
}

func TestNewMetricsRecorder(t *testing.T) {
	provider, _ := NewMeterProvider()
	original := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	defer otel.SetMeterProvider(original)

	recorder := NewMetricsRecorder()
	require.NotNil(t, recorder)
	_, isNoop := recorder.(NoopMetrics)
	assert.False(t, isNoop, "Expected real metrics recorder, got noop")
}

func TestRecordCheckpoint(t *testing.T) {
	recorder, reader := setupMetricsTest(t)
	ctx := context.Background()

	recorder.RecordCheckpoint(ctx, "agent-1", 512, 20*time.Millisecond)
	recorder.RecordCheckpoint(ctx, "agent-1", 1024, 40*time.Millisecond)
	recorder.RecordCheckpointFailure(ctx, "agent-1", "capture")

	summaries, err := Collect(ctx, reader)
	require.NoError(t, err)

	created := findSummary(summaries, "stepguard.checkpoint.created")
	require.NotNil(t, created)
	require.Len(t, created.Points, 1)
	assert.Equal(t, float64(2), created.Points[0].Value)
	assert.Equal(t, "agent-1", created.Points[0].Attributes["agent_id"])

	size := findSummary(summaries, "stepguard.checkpoint.size_bytes")
	require.NotNil(t, size)
	require.Len(t, size.Points, 1)
	assert.Equal(t, uint64(2), size.Points[0].Count)
	assert.Equal(t, float64(1536), size.Points[0].Sum)
	assert.Equal(t, "By", size.Unit)

	latency := findSummary(summaries, "stepguard.checkpoint.latency_ms")
	require.NotNil(t, latency)
	assert.InDelta(t, 60.0, latency.Points[0].Sum, 0.001)

	failed := findSummary(summaries, "stepguard.checkpoint.failed")
	require.NotNil(t, failed)
	assert.Equal(t, "capture", failed.Points[0].Attributes["phase"])
}

func TestRecordRollbackAndVerification(t *testing.T) {
	recorder, reader := setupMetricsTest(t)
	ctx := context.Background()

	recorder.RecordRollback(ctx, "agent-1", true)
	recorder.RecordRollback(ctx, "agent-1", false)
	recorder.RecordVerification(ctx, "agent-1", false)

	summaries, err := Collect(ctx, reader)
	require.NoError(t, err)

	rollbacks := findSummary(summaries, "stepguard.rollback.requests")
	require.NotNil(t, rollbacks)
	assert.Len(t, rollbacks.Points, 2)

	verifications := findSummary(summaries, "stepguard.verification.results")
	require.NotNil(t, verifications)
	require.Len(t, verifications.Points, 1)
	assert.Equal(t, "false", verifications.Points[0].Attributes["passed"])
}

func TestRecordSpawnAndExit(t *testing.T) {
	recorder, reader := setupMetricsTest(t)
	ctx := context.Background()

	recorder.RecordSpawn(ctx, true, 1, 150*time.Millisecond)
	recorder.RecordExit(ctx, "agent-1", true)

	summaries, err := Collect(ctx, reader)
	require.NoError(t, err)

	spawns := findSummary(summaries, "stepguard.supervisor.spawns")
	require.NotNil(t, spawns)
	assert.Equal(t, "true", spawns.Points[0].Attributes["success"])

	exits := findSummary(summaries, "stepguard.supervisor.exits")
	require.NotNil(t, exits)
	assert.Equal(t, float64(1), exits.Points[0].Value)

	// Summaries are sorted by name.
	for i := 1; i < len(summaries); i++ {
		assert.LessOrEqual(t, summaries[i-1].Name, summaries[i].Name)
	}
}

func TestNoopMetrics(t *testing.T) {
	var m MetricsRecorder = NoopMetrics{}
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordCheckpoint(ctx, "a", 1, time.Second)
		m.RecordCheckpointFailure(ctx, "a", "append")
		m.RecordRollback(ctx, "a", true)
		m.RecordVerification(ctx, "a", true)
		m.RecordSpawn(ctx, false, 3, time.Second)
		m.RecordExit(ctx, "a", false)
	})
}
