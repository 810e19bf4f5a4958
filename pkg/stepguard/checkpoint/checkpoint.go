package checkpoint

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Version is the current checkpoint format version.
// Increment when making breaking changes to checkpoint structure.
const Version = 1

// Checkpoint is the persisted pairing of an agent's logical state with a
// captured image of its container at one step.
// A checkpoint is never modified after it has been appended to a Store.
type Checkpoint struct {
	// Metadata
	Version   int       `json:"version"`
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	Step      Step      `json:"step"`
	Timestamp time.Time `json:"timestamp"`

	// Payloads. AgentSnapshot is opaque to the supervisor; SystemSnapshot
	// carries the caller's system state plus the resolved container and image.
	AgentSnapshot  json.RawMessage `json:"agent_snapshot"`
	SystemSnapshot json.RawMessage `json:"system_snapshot"`
}

// Marshal serializes a checkpoint to JSON.
func (c *Checkpoint) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

// Unmarshal deserializes a checkpoint from JSON.
func Unmarshal(data []byte) (*Checkpoint, error) {
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// New creates a checkpoint with a fresh ID.
// Both payloads must already be JSON-serialized.
func New(agentID string, step Step, agentSnapshot, systemSnapshot []byte) *Checkpoint {
	return &Checkpoint{
		Version:        Version,
		ID:             uuid.NewString(),
		AgentID:        agentID,
		Step:           step,
		Timestamp:      time.Now().UTC(),
		AgentSnapshot:  agentSnapshot,
		SystemSnapshot: systemSnapshot,
	}
}

// Info returns the listing metadata for c with the given encoded size.
func (c *Checkpoint) Info(size int64) Info {
	return Info{
		AgentID:   c.AgentID,
		ID:        c.ID,
		Step:      c.Step,
		Timestamp: c.Timestamp,
		Size:      size,
	}
}
