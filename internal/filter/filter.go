package filter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/roach88/pivot/internal/cube"
	"github.com/roach88/pivot/internal/duration"
	"github.com/roach88/pivot/internal/expr"
)

// Filter is an ordered list of clauses combined with AND. It is immutable:
// every method returns a new Filter.
type Filter struct {
	clauses []Clause
}

// New builds a filter from clauses.
func New(clauses ...Clause) Filter {
	return Filter{clauses: slices.Clone(clauses)}
}

// Clauses returns a copy of the clause list.
func (f Filter) Clauses() []Clause {
	return slices.Clone(f.clauses)
}

func (f Filter) Len() int      { return len(f.clauses) }
func (f Filter) IsEmpty() bool { return len(f.clauses) == 0 }

// Add appends c.
func (f Filter) Add(c Clause) Filter {
	return Filter{clauses: append(slices.Clone(f.clauses), c)}
}

// Remove drops the clause on ref.
func (f Filter) Remove(ref string) Filter {
	return Filter{clauses: slices.DeleteFunc(slices.Clone(f.clauses), func(c Clause) bool {
		return c.Reference() == ref
	})}
}

// Set replaces the clause on the same dimension as c, or appends c.
func (f Filter) Set(c Clause) Filter {
	out := slices.Clone(f.clauses)
	for i, existing := range out {
		if existing.Reference() == c.Reference() {
			out[i] = c
			return Filter{clauses: out}
		}
	}
	return Filter{clauses: append(out, c)}
}

// ClauseFor returns the clause on ref.
func (f Filter) ClauseFor(ref string) (Clause, bool) {
	for _, c := range f.clauses {
		if c.Reference() == ref {
			return c, true
		}
	}
	return nil, false
}

// FilteredOn reports whether ref has a clause.
func (f Filter) FilteredOn(ref string) bool {
	_, ok := f.ClauseFor(ref)
	return ok
}

// Constrain drops clauses on dimensions c does not define.
func (f Filter) Constrain(c *cube.DataCube) Filter {
	return Filter{clauses: slices.DeleteFunc(slices.Clone(f.clauses), func(cl Clause) bool {
		_, ok := c.GetDimension(cl.Reference())
		return !ok
	})}
}

// IsRelative reports whether any clause is a RelativeTimeClause.
func (f Filter) IsRelative() bool {
	return slices.ContainsFunc(f.clauses, func(c Clause) bool {
		_, ok := c.(RelativeTimeClause)
		return ok
	})
}

// Specific evaluates every relative clause. maxTime is the latest data time
// of the cube; it may be zero.
func (f Filter) Specific(now, maxTime time.Time, loc *time.Location) (Filter, error) {
	out := slices.Clone(f.clauses)
	for i, c := range out {
		rel, ok := c.(RelativeTimeClause)
		if !ok {
			continue
		}
		fixed, err := rel.Evaluate(now, maxTime, loc)
		if err != nil {
			return Filter{}, err
		}
		out[i] = fixed
	}
	return Filter{clauses: out}, nil
}

// SetExclusion flips the clause on ref between include and exclude. Time
// clauses cannot be excluded.
func (f Filter) SetExclusion(ref string, exclude bool) (Filter, error) {
	c, ok := f.ClauseFor(ref)
	if !ok {
		return Filter{}, fmt.Errorf("no clause on %q", ref)
	}
	switch v := c.(type) {
	case BooleanClause:
		v.Not = exclude
		c = v
	case NumberClause:
		v.Not = exclude
		c = v
	case StringClause:
		v.Not = exclude
		c = v
	default:
		return Filter{}, fmt.Errorf("clause on %q cannot be excluded", ref)
	}
	return f.Set(c), nil
}

// TimeRange returns the extent of the fixed time clause on ref.
func (f Filter) TimeRange(ref string) (expr.TimeRange, bool) {
	c, ok := f.ClauseFor(ref)
	if !ok {
		return expr.TimeRange{}, false
	}
	fixed, ok := c.(FixedTimeClause)
	if !ok {
		return expr.TimeRange{}, false
	}
	return fixed.Extent()
}

// ToExpression builds the conjunction of all clauses over the dimensions of
// c. An empty filter is true. Relative clauses must be evaluated first.
func (f Filter) ToExpression(c *cube.DataCube) (expr.Expression, error) {
	parts := make([]expr.Expression, 0, len(f.clauses))
	for _, cl := range f.clauses {
		dim, ok := c.GetDimension(cl.Reference())
		if !ok {
			return nil, fmt.Errorf("filter references unknown dimension %q", cl.Reference())
		}
		de, err := dim.Expression()
		if err != nil {
			return nil, err
		}
		e, err := cl.ToExpression(de)
		if err != nil {
			return nil, err
		}
		parts = append(parts, e)
	}
	return expr.AndAll(parts...), nil
}

// Equal compares clause lists in order.
func (f Filter) Equal(o Filter) bool {
	return slices.EqualFunc(f.clauses, o.clauses, func(a, b Clause) bool { return a.Equal(b) })
}

type clauseJSON struct {
	Type       string             `json:"type"`
	Reference  string             `json:"reference"`
	Values     []any              `json:"values,omitempty"`
	Ranges     []json.RawMessage  `json:"ranges,omitempty"`
	Not        bool               `json:"not,omitempty"`
	Action     string             `json:"action,omitempty"`
	IgnoreCase bool               `json:"ignoreCase,omitempty"`
	Period     string             `json:"period,omitempty"`
	Duration   *duration.Duration `json:"duration,omitempty"`
}

type rangeJSON struct {
	Start  any    `json:"start"`
	End    any    `json:"end"`
	Bounds string `json:"bounds,omitempty"`
}

// MarshalJSON encodes the clause list.
func (f Filter) MarshalJSON() ([]byte, error) {
	out := make([]clauseJSON, 0, len(f.clauses))
	for _, c := range f.clauses {
		j, err := encodeClause(c)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a clause list. Unknown fields are rejected.
func (f *Filter) UnmarshalJSON(data []byte) error {
	var raw []clauseJSON
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	clauses := make([]Clause, 0, len(raw))
	for i, j := range raw {
		c, err := decodeClause(j)
		if err != nil {
			return fmt.Errorf("filter clause %d: %w", i, err)
		}
		clauses = append(clauses, c)
	}
	f.clauses = clauses
	return nil
}

func encodeClause(c Clause) (clauseJSON, error) {
	j := clauseJSON{Reference: c.Reference()}
	switch v := c.(type) {
	case BooleanClause:
		j.Type, j.Values, j.Not = TypeBoolean, v.Values, v.Not
	case NumberClause:
		j.Type, j.Not = TypeNumber, v.Not
		for _, r := range v.Ranges {
			raw, err := json.Marshal(rangeJSON{Start: floatOrNil(r.Start), End: floatOrNil(r.End), Bounds: r.Bounds})
			if err != nil {
				return j, err
			}
			j.Ranges = append(j.Ranges, raw)
		}
	case StringClause:
		j.Type, j.Values, j.Not, j.Action, j.IgnoreCase = TypeString, v.Values, v.Not, v.Action, v.IgnoreCase
	case FixedTimeClause:
		j.Type = TypeFixedTime
		for _, r := range v.Ranges {
			raw, err := json.Marshal(rangeJSON{Start: r.Start.UTC(), End: r.End.UTC(), Bounds: r.Bounds})
			if err != nil {
				return j, err
			}
			j.Ranges = append(j.Ranges, raw)
		}
	case RelativeTimeClause:
		d := v.Duration
		j.Type, j.Period, j.Duration = TypeRelativeTime, v.Period, &d
	default:
		return j, fmt.Errorf("unknown clause %T", c)
	}
	return j, nil
}

func decodeClause(j clauseJSON) (Clause, error) {
	if j.Reference == "" {
		return nil, fmt.Errorf("reference is required")
	}
	switch j.Type {
	case TypeBoolean:
		return BooleanClause{Ref: j.Reference, Values: j.Values, Not: j.Not}, nil
	case TypeNumber:
		c := NumberClause{Ref: j.Reference, Not: j.Not}
		for _, raw := range j.Ranges {
			var r struct {
				Start  *float64 `json:"start"`
				End    *float64 `json:"end"`
				Bounds string   `json:"bounds"`
			}
			if err := json.Unmarshal(raw, &r); err != nil {
				return nil, fmt.Errorf("number range: %w", err)
			}
			c.Ranges = append(c.Ranges, expr.NumberRange{Start: r.Start, End: r.End, Bounds: boundsOrDefault(r.Bounds)})
		}
		return c, nil
	case TypeString:
		action := j.Action
		if action == "" {
			action = StringIn
		}
		return StringClause{Ref: j.Reference, Action: action, Values: j.Values, Not: j.Not, IgnoreCase: j.IgnoreCase}, nil
	case TypeFixedTime:
		c := FixedTimeClause{Ref: j.Reference}
		for _, raw := range j.Ranges {
			var r struct {
				Start  time.Time `json:"start"`
				End    time.Time `json:"end"`
				Bounds string    `json:"bounds"`
			}
			if err := json.Unmarshal(raw, &r); err != nil {
				return nil, fmt.Errorf("time range: %w", err)
			}
			tr := expr.NewTimeRange(r.Start.UTC(), r.End.UTC())
			tr.Bounds = boundsOrDefault(r.Bounds)
			c.Ranges = append(c.Ranges, tr)
		}
		return c, nil
	case TypeRelativeTime:
		if j.Duration == nil {
			return nil, fmt.Errorf("relative time clause needs a duration")
		}
		switch j.Period {
		case PeriodLatest, PeriodCurrent, PeriodPrevious:
		default:
			return nil, fmt.Errorf("unknown period %q", j.Period)
		}
		return RelativeTimeClause{Ref: j.Reference, Period: j.Period, Duration: *j.Duration}, nil
	}
	return nil, fmt.Errorf("unknown clause type %q", j.Type)
}

func floatOrNil(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func boundsOrDefault(b string) string {
	if b == "" {
		return expr.DefaultBounds
	}
	return b
}
