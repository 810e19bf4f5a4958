package policy_test

import (
	"testing"

	"github.com/randalmurphal/stepguard/pkg/stepguard/checkpoint"
	"github.com/randalmurphal/stepguard/pkg/stepguard/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlwaysNever(t *testing.T) {
	in := policy.Input{Step: checkpoint.StepN(1), Verified: true}

	assert.True(t, policy.Always{}.ShouldCheckpoint(in))
	assert.False(t, policy.Never{}.ShouldCheckpoint(in))
	assert.Equal(t, "always", policy.Always{}.Name())
	assert.Equal(t, "never", policy.Never{}.Name())
}

func TestEveryN(t *testing.T) {
	p := policy.EveryN{N: 3}

	tests := []struct {
		name  string
		step  checkpoint.Step
		since int
		want  bool
	}{
		{"first step", checkpoint.StepN(1), 1, false},
		{"second step", checkpoint.StepN(2), 2, false},
		{"third step", checkpoint.StepN(3), 3, true},
		{"overdue", checkpoint.StepN(9), 5, true},
		{"final always", checkpoint.Final(), 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.ShouldCheckpoint(policy.Input{Step: tt.step, StepsSinceCheckpoint: tt.since})
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, "every_n(3)", p.Name())
	assert.True(t, policy.EveryN{}.ShouldCheckpoint(policy.Input{StepsSinceCheckpoint: 1}), "n < 1 acts as 1")
}

func TestExpr(t *testing.T) {
	p, err := policy.NewExpr("  steps_since_checkpoint >= 2 or final  ")
	require.NoError(t, err)
	assert.Equal(t, "expr(steps_since_checkpoint >= 2 or final)", p.Name())

	assert.False(t, p.ShouldCheckpoint(policy.Input{Step: checkpoint.StepN(1), StepsSinceCheckpoint: 1}))
	assert.True(t, p.ShouldCheckpoint(policy.Input{Step: checkpoint.StepN(2), StepsSinceCheckpoint: 2}))
	assert.True(t, p.ShouldCheckpoint(policy.Input{Step: checkpoint.Final(), StepsSinceCheckpoint: 1}))
}

func TestNewExpr_Invalid(t *testing.T) {
	for _, cond := range []string{"", "   ", "step == 'unterminated", "stpes > 2"} {
		t.Run(cond, func(t *testing.T) {
			_, err := policy.NewExpr(cond)
			assert.Error(t, err)
		})
	}
}

func TestFromName(t *testing.T) {
	tests := []struct {
		name     string
		policy   string
		every    int
		expr     string
		wantName string
		wantErr  bool
	}{
		{"empty defaults to always", "", 0, "", "always", false},
		{"always", "always", 0, "", "always", false},
		{"never", "never", 0, "", "never", false},
		{"every_n", "every_n", 4, "", "every_n(4)", false},
		{"every_n zero", "every_n", 0, "", "", true},
		{"expr", "expr", 0, "final", "expr(final)", false},
		{"expr invalid", "expr", 0, "", "", true},
		{"unknown", "sometimes", 0, "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := policy.FromName(tt.policy, tt.every, tt.expr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, p.Name())
		})
	}
}
