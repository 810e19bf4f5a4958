package supervisor

import (
	"fmt"

	"github.com/randalmurphal/stepguard/pkg/stepguard/checkpoint"
)

// Selector picks the rollback target among persisted checkpoints.
// candidates is ordered by step and never empty.
type Selector interface {
	Select(candidates []*checkpoint.Checkpoint) *checkpoint.Checkpoint
	Name() string
}

// Latest selects the checkpoint with the highest step.
type Latest struct{}

// Select implements Selector.
func (Latest) Select(c []*checkpoint.Checkpoint) *checkpoint.Checkpoint { return c[len(c)-1] }

// Name implements Selector.
func (Latest) Name() string { return "latest" }

// Earliest selects the checkpoint with the lowest step.
type Earliest struct{}

// Select implements Selector.
func (Earliest) Select(c []*checkpoint.Checkpoint) *checkpoint.Checkpoint { return c[0] }

// Name implements Selector.
func (Earliest) Name() string { return "earliest" }

// SelectorFromName returns the named selector. Empty means latest.
func SelectorFromName(name string) (Selector, error) {
	switch name {
	case "latest", "":
		return Latest{}, nil
	case "earliest":
		return Earliest{}, nil
	default:
		return nil, fmt.Errorf("unknown rollback selector %q", name)
	}
}
