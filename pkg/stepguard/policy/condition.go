package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Variables visible to an Expr condition.
const (
	VarStep                 = "step"
	VarFinal                = "final"
	VarStepsSinceCheckpoint = "steps_since_checkpoint"
	VarCheckpoints          = "checkpoints"
	VarVerified             = "verified"
)

var errEmptyCondition = errors.New("empty condition")

// Expr checkpoints when a boolean condition over the Input holds.
type Expr struct {
	condition string
}

// NewExpr parses condition. Unknown identifiers are rejected so a typo
// does not silently disable checkpointing.
func NewExpr(condition string) (*Expr, error) {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return nil, errEmptyCondition
	}
	if strings.Count(condition, "'")%2 != 0 || strings.Count(condition, `"`)%2 != 0 {
		return nil, fmt.Errorf("condition %q: unbalanced quotes", condition)
	}
	if err := checkIdentifiers(condition); err != nil {
		return nil, fmt.Errorf("condition %q: %w", condition, err)
	}
	return &Expr{condition: condition}, nil
}

// ShouldCheckpoint implements Policy.
func (p *Expr) ShouldCheckpoint(in Input) bool {
	return evaluate(p.condition, vars(in))
}

// Name implements Policy.
func (p *Expr) Name() string { return NameExpr + "(" + p.condition + ")" }

func vars(in Input) map[string]any {
	return map[string]any{
		VarStep:                 in.Step.SortKey(),
		VarFinal:                in.Step.IsFinal(),
		VarStepsSinceCheckpoint: int64(in.StepsSinceCheckpoint),
		VarCheckpoints:          int64(in.Checkpoints),
		VarVerified:             in.Verified,
	}
}

// Comparison operators, longer first so ">=" is not split as ">".
var comparisons = []struct {
	op      string
	compare func(l, r any) bool
}{
	{"==", func(l, r any) bool { return fmt.Sprint(l) == fmt.Sprint(r) }},
	{"!=", func(l, r any) bool { return fmt.Sprint(l) != fmt.Sprint(r) }},
	{">=", func(l, r any) bool { return toFloat(l) >= toFloat(r) }},
	{"<=", func(l, r any) bool { return toFloat(l) <= toFloat(r) }},
	{">", func(l, r any) bool { return toFloat(l) > toFloat(r) }},
	{"<", func(l, r any) bool { return toFloat(l) < toFloat(r) }},
	{" % ", func(l, r any) bool {
		d := toInt(r)
		return d != 0 && toInt(l)%d == 0
	}},
}

// evaluate reduces expr to a boolean. "or" binds loosest, then "and",
// then the "not"/"!" prefix, then comparisons. "a % n" is true when a is
// a multiple of n.
func evaluate(expr string, vars map[string]any) bool {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return false
	}

	if parts := strings.SplitN(expr, " or ", 2); len(parts) == 2 {
		return evaluate(parts[0], vars) || evaluate(parts[1], vars)
	}
	if parts := strings.SplitN(expr, " and ", 2); len(parts) == 2 {
		return evaluate(parts[0], vars) && evaluate(parts[1], vars)
	}
	if rest, ok := strings.CutPrefix(expr, "not "); ok {
		return !evaluate(rest, vars)
	}
	if rest, ok := strings.CutPrefix(expr, "!"); ok && !strings.HasPrefix(rest, "=") {
		return !evaluate(rest, vars)
	}

	for _, c := range comparisons {
		if left, right, ok := strings.Cut(expr, c.op); ok {
			return c.compare(resolve(left, vars), resolve(right, vars))
		}
	}
	return truthy(resolve(expr, vars))
}

// resolve turns a token into a literal or a variable's value.
func resolve(s string, vars map[string]any) any {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	case "null", "nil":
		return nil
	}

	var num json.Number
	if err := json.Unmarshal([]byte(s), &num); err == nil {
		if i, err := num.Int64(); err == nil {
			return i
		}
		if f, err := num.Float64(); err == nil {
			return f
		}
	}
	if v, ok := vars[s]; ok {
		return v
	}
	return s
}

var quoted = regexp.MustCompile(`'[^']*'|"[^"]*"`)

// checkIdentifiers rejects bare words that are neither literals,
// operators, nor known variables.
func checkIdentifiers(condition string) error {
	known := vars(Input{})
	fields := strings.FieldsFunc(quoted.ReplaceAllString(condition, " "), func(r rune) bool {
		return strings.ContainsRune(" !=<>%", r)
	})
	for _, f := range fields {
		switch strings.ToLower(f) {
		case "and", "or", "not", "true", "false", "null", "nil":
			continue
		}
		if _, ok := known[f]; ok {
			continue
		}
		var num json.Number
		if json.Unmarshal([]byte(f), &num) == nil {
			continue
		}
		return fmt.Errorf("unknown identifier %q", f)
	}
	return nil
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case int64:
		return val != 0
	case float64:
		return val != 0
	default:
		return true
	}
}

func toFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int64:
		return float64(val)
	case bool:
		if val {
			return 1
		}
	}
	return 0
}

func toInt(v any) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case float64:
		return int64(val)
	}
	return 0
}
