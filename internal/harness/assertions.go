package harness

import (
	"fmt"
	"slices"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
	Query    string // Compiled query for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if e.Query != "" {
		fmt.Fprintf(&buf, "\nQuery:\n  %s\n", e.Query)
	}

	return buf.String()
}

// EvaluateAssertions checks every assertion against result and returns the
// failure messages, in assertion order.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluateAssertion(result, a); err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

func evaluateAssertion(result *Result, a Assertion) error {
	switch a.Type {
	case AssertSplits:
		return assertList(a.Type, a.Values, result.Splits, result.Query)
	case AssertSeriesKeys:
		return assertList(a.Type, a.Values, result.SeriesKeys, result.Query)
	case AssertVisualization:
		if result.Visualization != a.Value {
			return &AssertionError{Type: a.Type, Expected: a.Value, Actual: result.Visualization}
		}
	case AssertExpressionContains:
		if !strings.Contains(result.Query, a.Value) {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("expression containing %q", a.Value),
				Actual:   "not found",
				Query:    result.Query,
			}
		}
	case AssertSQLContains:
		return assertSQLContains(result, a)
	case AssertRows:
		if result.Rows != a.Count {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%d row(s)", a.Count),
				Actual:   fmt.Sprintf("%d row(s)", result.Rows),
				Query:    result.Query,
			}
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

func assertList(typ string, expected, actual []string, query string) error {
	if slices.Equal(expected, actual) {
		return nil
	}
	return &AssertionError{
		Type:     typ,
		Expected: fmt.Sprintf("%v", expected),
		Actual:   fmt.Sprintf("%v", actual),
		Query:    query,
	}
}

func assertSQLContains(result *Result, a Assertion) error {
	if len(result.SQL) == 0 {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("statement containing %q", a.Value),
			Actual:   "no statements ran (scenario has no data)",
		}
	}
	for _, stmt := range result.SQL {
		if strings.Contains(stmt, a.Value) {
			return nil
		}
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("statement containing %q", a.Value),
		Actual:   strings.Join(result.SQL, "\n  "),
		Query:    result.Query,
	}
}
