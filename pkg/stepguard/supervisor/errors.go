package supervisor

import (
	"errors"
	"fmt"
)

// Sentinel errors for supervisor operations.
var (
	// ErrNoCheckpointAvailable is returned when rollback finds no candidate.
	ErrNoCheckpointAvailable = errors.New("no checkpoint available")

	// ErrMissingContainerName is returned when system state has no container_name.
	ErrMissingContainerName = errors.New("system state is missing container_name")

	// ErrInvalidAgentID is returned for an empty agent identity.
	ErrInvalidAgentID = errors.New("agent id must not be empty")
)

// Checkpoint phases reported in CheckpointError and metrics.
const (
	PhaseCopy     = "copy"
	PhaseValidate = "validate"
	PhaseResolve  = "resolve"
	PhaseCapture  = "capture"
	PhaseAppend   = "append"
)

// CheckpointError records which phase of CreateCheckpoint failed.
type CheckpointError struct {
	AgentID string
	Step    string
	Phase   string
	Err     error
}

// Error implements the error interface.
func (e *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint %s step %s: %s: %v", e.AgentID, e.Step, e.Phase, e.Err)
}

// Unwrap returns the underlying error.
func (e *CheckpointError) Unwrap() error {
	return e.Err
}
