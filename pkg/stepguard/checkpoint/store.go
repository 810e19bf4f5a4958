// Package checkpoint provides durable, append-only checkpoint storage scoped
// by agent identity.
package checkpoint

import (
	"context"
	"errors"
	"sort"
	"time"
)

// Store persists checkpoints for one or more agents.
// Implementations must be safe for concurrent use.
type Store interface {
	// Append persists a checkpoint under (cp.AgentID, cp.Step).
	// Returns ErrCheckpointExists if that step is already stored; a
	// persisted checkpoint is never overwritten.
	Append(ctx context.Context, cp *Checkpoint) error

	// Load returns the exact bytes stored for a step.
	// Returns ErrNotFound if the checkpoint doesn't exist.
	Load(ctx context.Context, agentID string, step Step) ([]byte, error)

	// List returns metadata for an agent's checkpoints, ordered by step.
	// Returns empty slice (not error) if the agent has no checkpoints.
	List(ctx context.Context, agentID string) ([]Info, error)

	// Close releases any resources (connections, files).
	Close() error
}

// Info provides metadata without loading the payloads.
type Info struct {
	AgentID   string    `json:"agent_id"`
	ID        string    `json:"id"`
	Step      Step      `json:"step"`
	Timestamp time.Time `json:"timestamp"`
	Size      int64     `json:"size"`
}

// Sentinel errors for checkpoint operations.
var (
	// ErrNotFound indicates a checkpoint doesn't exist.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrCheckpointExists indicates a checkpoint for the step is already persisted.
	ErrCheckpointExists = errors.New("checkpoint already exists for step")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("checkpoint store closed")

	// ErrInvalidCheckpoint indicates a checkpoint without agent or id, or
	// with a step outside the valid range.
	ErrInvalidCheckpoint = errors.New("invalid checkpoint")
)

// LoadCheckpoint loads and decodes a checkpoint.
func LoadCheckpoint(ctx context.Context, s Store, agentID string, step Step) (*Checkpoint, error) {
	data, err := s.Load(ctx, agentID, step)
	if err != nil {
		return nil, err
	}
	return Unmarshal(data)
}

func validate(cp *Checkpoint) error {
	if cp == nil || cp.AgentID == "" || cp.ID == "" || !cp.Step.Valid() {
		return ErrInvalidCheckpoint
	}
	return nil
}

func sortInfos(infos []Info) {
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Step.Before(infos[j].Step)
	})
}
