// Package observability provides structured logging, metrics, and tracing
// for the registry and supervisors.
//
// Features:
//   - Structured logging via slog, with a colorized text handler
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds the agent identity to a logger.
//
// Example:
//
//	enriched := EnrichLogger(logger, "agent-7")
//	enriched.Info("checkpoint requested") // includes agent_id
func EnrichLogger(logger *slog.Logger, agentID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(slog.String("agent_id", agentID))
}

// LogCheckpointPersisted logs a successfully appended checkpoint.
func LogCheckpointPersisted(logger *slog.Logger, step, checkpointID, imageName string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("checkpoint persisted",
		slog.String("step", step),
		slog.String("checkpoint_id", checkpointID),
		slog.String("image", imageName),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogCheckpointFailed logs a checkpoint that was discarded.
func LogCheckpointFailed(logger *slog.Logger, step, phase string, err error) {
	if logger == nil {
		return
	}
	logger.Error("checkpoint failed",
		slog.String("step", step),
		slog.String("phase", phase),
		slog.String("error", err.Error()),
	)
}

// LogRollbackSelected logs the checkpoint chosen for rollback.
func LogRollbackSelected(logger *slog.Logger, step, checkpointID string, candidates int) {
	if logger == nil {
		return
	}
	logger.Info("rollback target selected",
		slog.String("step", step),
		slog.String("checkpoint_id", checkpointID),
		slog.Int("candidates", candidates),
	)
}

// LogVerification logs an oracle verdict.
func LogVerification(logger *slog.Logger, step string, passed bool) {
	if logger == nil {
		return
	}
	if passed {
		logger.Debug("step verified", slog.String("step", step))
		return
	}
	logger.Warn("step verification failed", slog.String("step", step))
}

// LogSupervisorStarted logs a supervisor that became healthy.
func LogSupervisorStarted(logger *slog.Logger, agentID, url string, pid, attempts int) {
	if logger == nil {
		return
	}
	logger.Info("supervisor started",
		slog.String("agent_id", agentID),
		slog.String("url", url),
		slog.Int("pid", pid),
		slog.Int("attempts", attempts),
	)
}

// LogSupervisorExited logs a supervisor process that was reaped.
func LogSupervisorExited(logger *slog.Logger, agentID string, pid int, err error) {
	if logger == nil {
		return
	}
	if err != nil {
		logger.Warn("supervisor exited",
			slog.String("agent_id", agentID),
			slog.Int("pid", pid),
			slog.String("error", err.Error()),
		)
		return
	}
	logger.Info("supervisor exited",
		slog.String("agent_id", agentID),
		slog.Int("pid", pid),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
