package checkpoint

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FinalMarker is the literal used for the terminal step.
const FinalMarker = "FINAL"

// MaxStep is the largest integer step. The next value is the sort key of
// the terminal marker.
const MaxStep = math.MaxInt64 - 1

// Step identifies the point in an agent's trajectory a checkpoint belongs to.
// It is either a non-negative integer or the terminal marker. The zero value
// is step 0.
type Step struct {
	n     int64
	final bool
}

// StepN returns the integer step n. Values above MaxStep are rejected by
// Valid and by every Store.
func StepN(n int64) Step {
	return Step{n: n}
}

// Final returns the terminal step marker.
func Final() Step {
	return Step{final: true}
}

// ParseStep parses "FINAL" (case-insensitive) or a non-negative integer.
func ParseStep(s string) (Step, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, FinalMarker) {
		return Final(), nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return Step{}, fmt.Errorf("invalid step %q: %w", s, err)
	}
	if n < 0 {
		return Step{}, fmt.Errorf("invalid step %q: must not be negative", s)
	}
	if n > MaxStep {
		return Step{}, fmt.Errorf("invalid step %q: exceeds %d", s, int64(MaxStep))
	}
	return StepN(n), nil
}

// Valid reports whether s is the terminal marker or an integer in [0, MaxStep].
func (s Step) Valid() bool {
	return s.final || (s.n >= 0 && s.n <= MaxStep)
}

// IsFinal reports whether s is the terminal marker.
func (s Step) IsFinal() bool { return s.final }

// Number returns the integer value. It is meaningless for the terminal marker.
func (s Step) Number() int64 { return s.n }

// SortKey maps the step onto int64 so that ordering is preserved.
// The terminal marker sorts after every integer step.
func (s Step) SortKey() int64 {
	if s.final {
		return math.MaxInt64
	}
	return s.n
}

// Compare returns -1, 0 or +1.
func (s Step) Compare(other Step) int {
	a, b := s.SortKey(), other.SortKey()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Before reports whether s sorts strictly before other.
func (s Step) Before(other Step) bool {
	return s.Compare(other) < 0
}

// String returns "FINAL" or the decimal integer.
func (s Step) String() string {
	if s.final {
		return FinalMarker
	}
	return strconv.FormatInt(s.n, 10)
}

// StepFromSortKey is the inverse of SortKey.
func StepFromSortKey(key int64) Step {
	if key == math.MaxInt64 {
		return Final()
	}
	return StepN(key)
}

// MarshalJSON encodes integer steps as numbers and the terminal marker as "FINAL".
func (s Step) MarshalJSON() ([]byte, error) {
	if s.final {
		return json.Marshal(FinalMarker)
	}
	return []byte(strconv.FormatInt(s.n, 10)), nil
}

// UnmarshalJSON accepts a number, a numeric string, or "FINAL".
func (s *Step) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		parsed, err := ParseStep(str)
		if err != nil {
			return err
		}
		*s = parsed
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid step: %w", err)
	}
	parsed, err := ParseStep(n.String())
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
