package evaluator

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"mercator-hq/bastion/pkg/policy"
)

// evaluateOperator applies op to the resolved field value. present reports
// whether the field exists in the context.
func (e *Evaluator) evaluateOperator(c policy.Condition, actual string, present bool) (bool, error) {
	switch c.Operator {
	case policy.OpExists:
		return present, nil

	case policy.OpNotExists:
		return !present, nil

	case policy.OpEquals:
		return evaluateEqual(actual, c.Value, c.CaseSensitive)

	case policy.OpNotEquals:
		equal, err := evaluateEqual(actual, c.Value, c.CaseSensitive)
		return !equal, err

	case policy.OpGreater:
		a, b, err := toNumeric(actual, c.Value)
		if err != nil {
			return false, err
		}
		return a > b, nil

	case policy.OpLess:
		a, b, err := toNumeric(actual, c.Value)
		if err != nil {
			return false, err
		}
		return a < b, nil

	case policy.OpContains:
		return evaluateString(actual, c.Value, c.CaseSensitive, strings.Contains)

	case policy.OpStartsWith:
		return evaluateString(actual, c.Value, c.CaseSensitive, strings.HasPrefix)

	case policy.OpEndsWith:
		return evaluateString(actual, c.Value, c.CaseSensitive, strings.HasSuffix)

	case policy.OpRegex:
		return e.evaluateMatches(actual, c.Value, c.CaseSensitive)

	case policy.OpInSet:
		return evaluateIn(actual, c.Value, c.CaseSensitive)

	case policy.OpNotInSet:
		in, err := evaluateIn(actual, c.Value, c.CaseSensitive)
		return !in, err

	default:
		return false, fmt.Errorf("unknown operator: %q", c.Operator)
	}
}

// evaluateEqual compares according to the kind of the expected value.
func evaluateEqual(actual string, expected policy.Value, caseSensitive bool) (bool, error) {
	switch expected.Kind {
	case policy.ValueString:
		return equalFold(actual, expected.Text, caseSensitive), nil

	case policy.ValueInt, policy.ValueUint, policy.ValueFloat:
		a, b, err := toNumeric(actual, expected)
		if err != nil {
			// A non-numeric field is simply not equal to a number.
			return false, nil
		}
		return a == b, nil

	case policy.ValueBool:
		b, err := strconv.ParseBool(strings.TrimSpace(actual))
		if err != nil {
			return false, nil
		}
		return b == expected.Bool, nil

	case policy.ValueSet, policy.ValueIntRange, policy.ValueTimeRange:
		return evaluateIn(actual, expected, caseSensitive)
	}
	return false, fmt.Errorf("equals: unsupported value kind %q", expected.Kind)
}

// evaluateString applies a string predicate honoring case sensitivity.
func evaluateString(actual string, expected policy.Value, caseSensitive bool, fn func(s, sub string) bool) (bool, error) {
	if expected.Kind == policy.ValueSet {
		for _, item := range expected.Set {
			if ok, _ := evaluateString(actual, policy.StringValue(item), caseSensitive, fn); ok {
				return true, nil
			}
		}
		return false, nil
	}
	if expected.Kind == policy.ValueIntRange || expected.Kind == policy.ValueTimeRange {
		return false, fmt.Errorf("string operator requires a scalar value, got %s", expected.Kind)
	}
	want := expected.String()
	if !caseSensitive {
		actual, want = strings.ToLower(actual), strings.ToLower(want)
	}
	return fn(actual, want), nil
}

// evaluateIn tests set membership, or interval membership for range values.
func evaluateIn(actual string, expected policy.Value, caseSensitive bool) (bool, error) {
	switch expected.Kind {
	case policy.ValueSet:
		for _, item := range expected.Set {
			if equalFold(actual, item, caseSensitive) {
				return true, nil
			}
		}
		return false, nil

	case policy.ValueIntRange:
		if expected.IntRange == nil {
			return false, fmt.Errorf("int_range value without bounds")
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(actual), 64)
		if err != nil {
			return false, fmt.Errorf("range operator requires a numeric field, got %q", actual)
		}
		return expected.IntRange.Contains(f), nil

	case policy.ValueTimeRange:
		if expected.TimeRange == nil {
			return false, fmt.Errorf("time_range value without bounds")
		}
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(actual))
		if err != nil {
			return false, fmt.Errorf("time range operator requires an RFC3339 field, got %q", actual)
		}
		return expected.TimeRange.Contains(t), nil
	}
	// A scalar behaves as a singleton set.
	return evaluateEqual(actual, expected, caseSensitive)
}

// evaluateMatches matches actual against a regular expression. Patterns are
// compiled once and cached.
func (e *Evaluator) evaluateMatches(actual string, expected policy.Value, caseSensitive bool) (bool, error) {
	if expected.Kind != policy.ValueString {
		return false, fmt.Errorf("regex operator requires a string pattern, got %s", expected.Kind)
	}
	pattern := expected.Text
	if !caseSensitive {
		pattern = "(?i)" + pattern
	}
	re, err := e.regexes.compile(pattern)
	if err != nil {
		return false, fmt.Errorf("invalid regex pattern %q: %w", expected.Text, err)
	}
	return re.MatchString(actual), nil
}

func toNumeric(actual string, expected policy.Value) (float64, float64, error) {
	a, err := strconv.ParseFloat(strings.TrimSpace(actual), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("numeric operator requires a numeric field, got %q", actual)
	}
	b, ok := expected.Number()
	if !ok {
		return 0, 0, fmt.Errorf("numeric operator requires a numeric value, got %s", expected.Kind)
	}
	return a, b, nil
}

func equalFold(a, b string, caseSensitive bool) bool {
	if caseSensitive {
		return a == b
	}
	return strings.EqualFold(a, b)
}

// maxCachedRegexes bounds the pattern cache. The cache is reset when full.
const maxCachedRegexes = 1024

type regexCache struct {
	mu       sync.RWMutex
	compiled map[string]*regexp.Regexp
}

func newRegexCache() *regexCache {
	return &regexCache{compiled: make(map[string]*regexp.Regexp)}
}

func (c *regexCache) compile(pattern string) (*regexp.Regexp, error) {
	c.mu.RLock()
	re, ok := c.compiled[pattern]
	c.mu.RUnlock()
	if ok {
		return re, nil
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if len(c.compiled) >= maxCachedRegexes {
		c.compiled = make(map[string]*regexp.Regexp)
	}
	c.compiled[pattern] = re
	c.mu.Unlock()
	return re, nil
}
