// Package filter models the filter bar of a view: an ordered list of
// clauses, one per dimension, combined conjunctively.
package filter

import (
	"fmt"
	"slices"
	"time"

	"github.com/roach88/pivot/internal/duration"
	"github.com/roach88/pivot/internal/expr"
)

// Clause is one restriction on a dimension.
//
// Clause is a sealed interface. Only the types in this package implement it.
type Clause interface {
	// Reference is the name of the filtered dimension.
	Reference() string

	// ToExpression builds the predicate over the dimension expression.
	ToExpression(dimension expr.Expression) (expr.Expression, error)

	// Equal compares clauses by value.
	Equal(other Clause) bool

	clause()
}

// Clause type names used in JSON.
const (
	TypeBoolean      = "boolean"
	TypeNumber       = "number"
	TypeString       = "string"
	TypeFixedTime    = "fixedTime"
	TypeRelativeTime = "relativeTime"
)

// BooleanClause keeps rows whose value is one of Values (true, false or nil).
type BooleanClause struct {
	Ref    string
	Values []any
	Not    bool
}

func (c BooleanClause) Reference() string { return c.Ref }
func (BooleanClause) clause()             {}

func (c BooleanClause) ToExpression(dim expr.Expression) (expr.Expression, error) {
	for _, v := range c.Values {
		if _, ok := v.(bool); !ok && v != nil {
			return nil, fmt.Errorf("boolean clause on %q: value %v is not a boolean", c.Ref, v)
		}
	}
	return negate(expr.OverlapWith(dim, expr.NewSet(c.Values...)), c.Not), nil
}

func (c BooleanClause) Equal(other Clause) bool {
	o, ok := other.(BooleanClause)
	return ok && c.Ref == o.Ref && c.Not == o.Not && valuesEqual(c.Values, o.Values)
}

// NumberClause keeps rows whose value falls in any of Ranges.
type NumberClause struct {
	Ref    string
	Ranges []expr.NumberRange
	Not    bool
}

func (c NumberClause) Reference() string { return c.Ref }
func (NumberClause) clause()             {}

func (c NumberClause) ToExpression(dim expr.Expression) (expr.Expression, error) {
	if len(c.Ranges) == 0 {
		return nil, fmt.Errorf("number clause on %q has no ranges", c.Ref)
	}
	parts := make([]expr.Expression, len(c.Ranges))
	for i, r := range c.Ranges {
		parts[i] = expr.OverlapWith(dim, r)
	}
	return negate(expr.OrAll(parts...), c.Not), nil
}

func (c NumberClause) Equal(other Clause) bool {
	o, ok := other.(NumberClause)
	return ok && c.Ref == o.Ref && c.Not == o.Not &&
		slices.EqualFunc(c.Ranges, o.Ranges, expr.NumberRange.Equal)
}

// String clause actions.
const (
	StringIn       = "in"
	StringContains = "contains"
	StringMatch    = "match"
)

// StringClause keeps rows by set membership, substring or regular
// expression. For contains and match only the first value is used.
type StringClause struct {
	Ref        string
	Action     string
	Values     []any
	Not        bool
	IgnoreCase bool
}

func (c StringClause) Reference() string { return c.Ref }
func (StringClause) clause()             {}

func (c StringClause) ToExpression(dim expr.Expression) (expr.Expression, error) {
	var e expr.Expression
	switch c.Action {
	case StringIn, "":
		e = expr.OverlapWith(dim, expr.NewSet(c.Values...))
	case StringContains:
		s, err := c.first()
		if err != nil {
			return nil, err
		}
		compare := expr.CompareNormal
		if c.IgnoreCase {
			compare = expr.CompareIgnoreCase
		}
		e = expr.Contains{Operand: dim, Expression: expr.Lit(s), Compare: compare}
	case StringMatch:
		s, err := c.first()
		if err != nil {
			return nil, err
		}
		e = expr.Match{Operand: dim, Regexp: s}
	default:
		return nil, fmt.Errorf("string clause on %q: unknown action %q", c.Ref, c.Action)
	}
	return negate(e, c.Not), nil
}

func (c StringClause) first() (string, error) {
	if len(c.Values) == 0 {
		return "", fmt.Errorf("string clause on %q: %s needs a value", c.Ref, c.Action)
	}
	s, ok := c.Values[0].(string)
	if !ok {
		return "", fmt.Errorf("string clause on %q: %s needs a string, got %T", c.Ref, c.Action, c.Values[0])
	}
	return s, nil
}

func (c StringClause) Equal(other Clause) bool {
	o, ok := other.(StringClause)
	return ok && c.Ref == o.Ref && c.Action == o.Action && c.Not == o.Not &&
		c.IgnoreCase == o.IgnoreCase && valuesEqual(c.Values, o.Values)
}

// FixedTimeClause keeps rows whose time falls in any of Ranges.
type FixedTimeClause struct {
	Ref    string
	Ranges []expr.TimeRange
}

func (c FixedTimeClause) Reference() string { return c.Ref }
func (FixedTimeClause) clause()             {}

func (c FixedTimeClause) ToExpression(dim expr.Expression) (expr.Expression, error) {
	if len(c.Ranges) == 0 {
		return nil, fmt.Errorf("time clause on %q has no ranges", c.Ref)
	}
	parts := make([]expr.Expression, len(c.Ranges))
	for i, r := range c.Ranges {
		parts[i] = expr.OverlapWith(dim, r)
	}
	return expr.OrAll(parts...), nil
}

func (c FixedTimeClause) Equal(other Clause) bool {
	o, ok := other.(FixedTimeClause)
	return ok && c.Ref == o.Ref && slices.EqualFunc(c.Ranges, o.Ranges, expr.TimeRange.Equal)
}

// Extent is the smallest range covering every range of the clause.
func (c FixedTimeClause) Extent() (expr.TimeRange, bool) {
	if len(c.Ranges) == 0 {
		return expr.TimeRange{}, false
	}
	out := c.Ranges[0]
	for _, r := range c.Ranges[1:] {
		if r.Start.Before(out.Start) {
			out.Start = r.Start
		}
		if r.End.After(out.End) {
			out.End = r.End
		}
	}
	return out, true
}

// Relative time periods.
const (
	PeriodLatest   = "latest"
	PeriodCurrent  = "current"
	PeriodPrevious = "previous"
)

// RelativeTimeClause is a time window anchored at the present or at the
// latest data. It has to be evaluated into a FixedTimeClause before a query
// can be built.
type RelativeTimeClause struct {
	Ref      string
	Period   string
	Duration duration.Duration
}

func (c RelativeTimeClause) Reference() string { return c.Ref }
func (RelativeTimeClause) clause()             {}

func (c RelativeTimeClause) ToExpression(expr.Expression) (expr.Expression, error) {
	return nil, fmt.Errorf("relative time clause on %q must be evaluated before building a query", c.Ref)
}

func (c RelativeTimeClause) Equal(other Clause) bool {
	o, ok := other.(RelativeTimeClause)
	return ok && c.Ref == o.Ref && c.Period == o.Period && c.Duration.Equal(o.Duration)
}

// Evaluate resolves the clause against the clock.
//
//   - latest: the Duration ending at maxTime ceiled to the minute (now when
//     maxTime is zero)
//   - current: the Duration-aligned period containing now
//   - previous: the period before current
func (c RelativeTimeClause) Evaluate(now, maxTime time.Time, loc *time.Location) (FixedTimeClause, error) {
	if c.Duration.IsZero() {
		return FixedTimeClause{}, fmt.Errorf("relative time clause on %q has no duration", c.Ref)
	}
	if loc == nil {
		loc = time.UTC
	}
	var r expr.TimeRange
	switch c.Period {
	case PeriodLatest:
		anchor := maxTime
		if anchor.IsZero() {
			anchor = now
		}
		end := ceilMinute(anchor)
		r = expr.NewTimeRange(c.Duration.Shift(end, loc, -1).UTC(), end.UTC())
	case PeriodCurrent, PeriodPrevious:
		if !c.Duration.IsFloorable() {
			return FixedTimeClause{}, fmt.Errorf("relative time clause on %q: %s cannot be aligned", c.Ref, c.Duration)
		}
		start := c.Duration.Floor(now, loc)
		if c.Period == PeriodPrevious {
			start = c.Duration.Shift(start, loc, -1)
		}
		r = expr.NewTimeRange(start.UTC(), c.Duration.Shift(start, loc, 1).UTC())
	default:
		return FixedTimeClause{}, fmt.Errorf("relative time clause on %q: unknown period %q", c.Ref, c.Period)
	}
	return FixedTimeClause{Ref: c.Ref, Ranges: []expr.TimeRange{r}}, nil
}

func ceilMinute(t time.Time) time.Time {
	floored := t.Truncate(time.Minute)
	if floored.Equal(t) {
		return t
	}
	return floored.Add(time.Minute)
}

func negate(e expr.Expression, not bool) expr.Expression {
	if not {
		return expr.Not{Operand: e}
	}
	return e
}

func valuesEqual(a, b []any) bool {
	return slices.EqualFunc(a, b, expr.ValuesEqual)
}
