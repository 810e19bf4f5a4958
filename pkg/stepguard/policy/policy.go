package policy

import (
	"fmt"

	"github.com/randalmurphal/stepguard/pkg/stepguard/checkpoint"
)

// Policy names accepted by FromName.
const (
	NameAlways = "always"
	NameNever  = "never"
	NameEveryN = "every_n"
	NameExpr   = "expr"
)

// Input is what a policy sees when the agent asks whether to checkpoint.
type Input struct {
	// Step is the step the agent just completed.
	Step checkpoint.Step

	// StepsSinceCheckpoint counts initiate requests answered since the
	// last persisted checkpoint, including this one.
	StepsSinceCheckpoint int

	// Checkpoints is the number of persisted checkpoints.
	Checkpoints int

	// Verified is the oracle verdict for Step.
	Verified bool
}

// Policy decides whether the agent should checkpoint after a step.
// Implementations must not block on I/O.
type Policy interface {
	ShouldCheckpoint(in Input) bool
	Name() string
}

// Always checkpoints after every step.
type Always struct{}

func (Always) ShouldCheckpoint(Input) bool { return true }
func (Always) Name() string                { return NameAlways }

// Never disables checkpointing.
type Never struct{}

func (Never) ShouldCheckpoint(Input) bool { return false }
func (Never) Name() string                { return NameNever }

// EveryN checkpoints once N steps have passed since the last checkpoint,
// and always at the terminal step.
type EveryN struct {
	N int
}

// ShouldCheckpoint implements Policy.
func (p EveryN) ShouldCheckpoint(in Input) bool {
	if in.Step.IsFinal() {
		return true
	}
	n := p.N
	if n < 1 {
		n = 1
	}
	return in.StepsSinceCheckpoint >= n
}

// Name implements Policy.
func (p EveryN) Name() string { return fmt.Sprintf("%s(%d)", NameEveryN, p.N) }

// FromName builds the named policy. every is used by every_n and
// condition by expr.
func FromName(name string, every int, condition string) (Policy, error) {
	switch name {
	case NameAlways, "":
		return Always{}, nil
	case NameNever:
		return Never{}, nil
	case NameEveryN:
		if every < 1 {
			return nil, fmt.Errorf("every_n policy requires n >= 1, got %d", every)
		}
		return EveryN{N: every}, nil
	case NameExpr:
		p, err := NewExpr(condition)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown checkpoint policy %q", name)
	}
}
