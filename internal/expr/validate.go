package expr

import (
	"fmt"
	"regexp"
)

// ValidationResult reports which parts of an expression the SQL backend
// cannot run natively.
//
// Unsupported constructs still evaluate correctly: the engine falls back to
// in-process evaluation for them. Warnings let callers see where that
// happens.
type ValidationResult struct {
	// Pushdown is true when every aggregate and predicate compiles to SQL.
	Pushdown bool

	// Warnings lists the constructs that will be evaluated in process or
	// that the backend ignores. Empty when Pushdown is true.
	Warnings []string

	// Errors lists problems that make the expression unrunnable.
	Errors []string
}

// Valid reports whether the expression can be executed at all.
func (r ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// Validate checks e against the capabilities of the SQL backend.
//
// Rules:
//  1. Quantiles are computed in process; tuning strings are ignored.
//  2. A split nested inside an aggregate cannot be expressed in SQL.
//  3. A limit with no sort before it returns groups in key order.
//  4. Regular expressions must compile; they run through a registered
//     SQLite function.
//  5. Number buckets need a positive size; sorts need a ref.
//
// Validate is a pure function with no side effects.
func Validate(e Expression) ValidationResult {
	v := &validator{warnings: []string{}}
	v.validate(e, false)
	return ValidationResult{
		Pushdown: len(v.warnings) == 0,
		Warnings: v.warnings,
		Errors:   v.errors,
	}
}

type validator struct {
	warnings []string
	errors   []string
}

func (v *validator) addWarning(format string, args ...any) {
	v.warnings = append(v.warnings, fmt.Sprintf(format, args...))
}

func (v *validator) addError(format string, args ...any) {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
}

func (v *validator) validate(e Expression, inAggregate bool) {
	if e == nil {
		v.addError("nil expression")
		return
	}

	switch n := e.(type) {
	case Quantile:
		v.addWarning("quantile(%s) is evaluated in process", formatNumber(n.Value))
		if n.Tuning != "" {
			v.addWarning("quantile tuning %q is ignored by the SQL backend", n.Tuning)
		}
		if n.Value < 0 || n.Value > 1 {
			v.addError("quantile %s outside [0, 1]", formatNumber(n.Value))
		}
	case Split:
		if inAggregate {
			v.addWarning("split %q inside an aggregate cannot be pushed down", n.Name)
		}
		if n.Name == "" {
			v.addError("split without a name")
		}
	case Limit:
		if !hasSortBelow(n.Operand) {
			v.addWarning("limit(%d) without sort returns groups in key order", n.Value)
		}
		if n.Value < 0 {
			v.addError("negative limit %d", n.Value)
		}
	case Sort:
		if _, ok := n.Expression.(Ref); !ok {
			v.addError("sort expression must be a ref, got %s", String(n.Expression))
		}
	case Match:
		if _, err := regexp.Compile(n.Regexp); err != nil {
			v.addError("invalid regular expression %q: %v", n.Regexp, err)
		}
	case NumberBucket:
		if n.Size <= 0 {
			v.addError("number bucket size must be positive, got %s", formatNumber(n.Size))
		}
	case Ref:
		if n.Nest < 0 {
			v.addError("ref %s has negative nesting", n.Name)
		}
	}

	children := Children(e)
	aggregate := inAggregate || isAggregate(e)
	for _, c := range children {
		v.validate(c, aggregate)
	}
}

func hasSortBelow(e Expression) bool {
	for e != nil {
		switch n := e.(type) {
		case Sort:
			return true
		case Apply:
			e = n.Operand
		case Limit:
			e = n.Operand
		case Filter:
			e = n.Operand
		default:
			return false
		}
	}
	return false
}

func isAggregate(e Expression) bool {
	switch e.(type) {
	case Count, Sum, Min, Max, Average, CountDistinct, Quantile:
		return true
	}
	return false
}

// IsAggregate reports whether e reduces a dataset to a single value.
func IsAggregate(e Expression) bool {
	return isAggregate(e)
}
