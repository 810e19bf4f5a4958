// Package api defines the HTTP wire types shared by the registry, the
// supervisor service, and their clients.
package api

import (
	"encoding/json"
	"time"

	"github.com/randalmurphal/stepguard/pkg/stepguard/checkpoint"
	"github.com/randalmurphal/stepguard/pkg/stepguard/observability"
)

// Status values in registry task responses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusOK      = "ok"
)

// Error codes carried in ErrorResponse.Error.
const (
	CodeInvalidRequest        = "invalid_request"
	CodeMissingContainerName  = "missing_container_name"
	CodeContainerNotFound     = "container_not_found"
	CodeCheckpointExists      = "checkpoint_exists"
	CodeCheckpointNotFound    = "checkpoint_not_found"
	CodeSnapshotFailed        = "snapshot_failed"
	CodeNoCheckpointAvailable = "no_checkpoint_available"
	CodeOracleUnavailable     = "oracle_unavailable"
	CodeAlreadyRunning        = "already_running"
	CodeNotRunning            = "not_running"
	CodeInternal              = "internal_error"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HealthResponse answers GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	AgentID string `json:"agent_id,omitempty"`
}

// Registry wire types.

// StartTaskRequest is the body of POST /start_task.
type StartTaskRequest struct {
	AgentID string `json:"agent_id"`
}

// StopTaskRequest is the body of POST /stop_task.
type StopTaskRequest struct {
	AgentID string `json:"agent_id"`
}

// TaskResponse answers /start_task and /stop_task. Failures also set Error.
type TaskResponse struct {
	Status               string `json:"status"`
	Message              string `json:"message"`
	LocalOrchestratorURL string `json:"local_orchestrator_url,omitempty"`
	Error                string `json:"error,omitempty"`
}

// TaskInfo describes one running supervisor.
type TaskInfo struct {
	AgentID    string    `json:"agent_id"`
	URL        string    `json:"url"`
	PID        int       `json:"pid"`
	StartedAt  time.Time `json:"started_at"`
	CPUPercent float64   `json:"cpu_percent"`
	RSSBytes   uint64    `json:"rss_bytes"`
}

// TasksResponse answers GET /tasks.
type TasksResponse struct {
	Tasks []TaskInfo `json:"tasks"`
}

// MetricsResponse answers GET /metrics.
type MetricsResponse struct {
	Metrics []observability.MetricSummary `json:"metrics"`
}

// Supervisor wire types.

// InitiateSnapshotRequest is the body of POST /initiate_snapshot.
// Step is required.
type InitiateSnapshotRequest struct {
	Step       *checkpoint.Step `json:"step"`
	StepOutput json.RawMessage  `json:"step_output"`
}

// InitiateSnapshotResponse tells the agent whether to checkpoint or roll back.
type InitiateSnapshotResponse struct {
	Initiate bool   `json:"initiate"`
	Rollback bool   `json:"rollback"`
	Message  string `json:"message"`
}

// Messages returned by /initiate_snapshot.
const (
	MessageVerificationFailed = "Step Verification Failed. Rollback!!"
	MessageInitiateSnapshot   = "Initiate Snapshot"
	MessageSnapshotNotNeeded  = "Snapshot not required"
)

// SnapshotState is the state the agent hands over for checkpointing.
type SnapshotState struct {
	AgentState  json.RawMessage `json:"agent_state"`
	SystemState map[string]any  `json:"system_state"`
}

// NotifySnapshotRequest is the body of POST /notify_snapshot. A missing
// step means the terminal step.
type NotifySnapshotRequest struct {
	State SnapshotState    `json:"state"`
	Step  *checkpoint.Step `json:"step,omitempty"`
}

// NotifySnapshotResponse confirms a persisted checkpoint.
type NotifySnapshotResponse struct {
	Message      string `json:"message"`
	CheckpointID string `json:"checkpoint_id"`
}

// MessageSnapshotSaved is returned by a successful /notify_snapshot.
const MessageSnapshotSaved = "Snapshot received and saved"

// RollbackRequest is the optional body of POST /choose_rollback_snapshot.
type RollbackRequest struct {
	BeforeStep *checkpoint.Step `json:"before_step,omitempty"`
}

// RollbackResponse carries the checkpoint to restore.
type RollbackResponse struct {
	AgentState   json.RawMessage `json:"agent_state"`
	SystemState  json.RawMessage `json:"system_state"`
	Step         checkpoint.Step `json:"step"`
	CheckpointID string          `json:"checkpoint_id"`
	Message      string          `json:"message"`
}

// SetSystemStateRequest selects a checkpoint by ID or by step.
type SetSystemStateRequest struct {
	CheckpointID string           `json:"checkpoint_id,omitempty"`
	Step         *checkpoint.Step `json:"step,omitempty"`
}

// SetSystemStateResponse reports the recreated container.
type SetSystemStateResponse struct {
	ContainerID string `json:"container_id"`
	Message     string `json:"message"`
}

// CheckpointsResponse answers GET /checkpoints.
type CheckpointsResponse struct {
	AgentID     string            `json:"agent_id"`
	Checkpoints []checkpoint.Info `json:"checkpoints"`
}
