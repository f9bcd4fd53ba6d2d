package runtime

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/aretw0/tendril/pkg/domain"
)

// ConditionEvaluator decides the branch of a condition node.
type ConditionEvaluator func(cond domain.ConditionData, vars map[string]string) bool

// Supported operators.
const (
	OpEquals         = "equals"
	OpNotEquals      = "not_equals"
	OpContains       = "contains"
	OpStartsWith     = "starts_with"
	OpEndsWith       = "ends_with"
	OpGreaterThan    = "greater_than"
	OpLessThan       = "less_than"
	OpGreaterOrEqual = "greater_or_equal"
	OpLessOrEqual    = "less_or_equal"
	OpIsEmpty        = "is_empty"
	OpIsNotEmpty     = "is_not_empty"
)

// DefaultConditionEvaluator combines the rules of cond with "all" (default)
// or "any" semantics.
func DefaultConditionEvaluator(cond domain.ConditionData, vars map[string]string) bool {
	rules := cond.AllRules()
	if strings.EqualFold(cond.Match, "any") {
		for _, r := range rules {
			if EvaluateRule(r, vars) {
				return true
			}
		}
		return false
	}
	for _, r := range rules {
		if !EvaluateRule(r, vars) {
			return false
		}
	}
	return len(rules) > 0
}

// EvaluateRule tests one rule against the latest variable values.
// String comparisons ignore case. Numeric comparisons are false when either
// side is not a number. An unknown operator, an empty field or, except for
// the emptiness checks, an undefined variable all evaluate to false.
func EvaluateRule(rule domain.ConditionRule, vars map[string]string) bool {
	field := fieldName(rule.Field)
	if field == "" {
		return false
	}
	actual, defined := vars[field]
	op := strings.ToLower(strings.TrimSpace(rule.Operator))

	switch op {
	case OpIsEmpty:
		return strings.TrimSpace(actual) == ""
	case OpIsNotEmpty:
		return strings.TrimSpace(actual) != ""
	}
	if !defined {
		return false
	}

	expected := DefaultInterpolator(rule.Value, vars)
	a := strings.ToLower(strings.TrimSpace(actual))
	b := strings.ToLower(strings.TrimSpace(expected))

	switch op {
	case OpEquals:
		return a == b
	case OpNotEquals:
		return a != b
	case OpContains:
		return strings.Contains(a, b)
	case OpStartsWith:
		return strings.HasPrefix(a, b)
	case OpEndsWith:
		return strings.HasSuffix(a, b)
	case OpGreaterThan, OpLessThan, OpGreaterOrEqual, OpLessOrEqual:
		x, okX := parseDecimal(a)
		y, okY := parseDecimal(b)
		if !okX || !okY {
			return false
		}
		switch op {
		case OpGreaterThan:
			return x > y
		case OpLessThan:
			return x < y
		case OpGreaterOrEqual:
			return x >= y
		default:
			return x <= y
		}
	}
	return false
}

// decimal matches plain decimal numerals such as "42", "-3.5" or "1e3".
// It keeps out what strconv also accepts: inf, nan, hex floats and
// underscore separators.
var decimal = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)

func parseDecimal(s string) (float64, bool) {
	if !decimal.MatchString(s) {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}

// fieldName accepts both "name" and "{{name}}".
func fieldName(raw string) string {
	f := strings.TrimSpace(raw)
	if m := placeholder.FindStringSubmatch(f); m != nil && m[0] == f {
		return m[1]
	}
	return f
}
