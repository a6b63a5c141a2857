package essence

import (
	"errors"
	"fmt"
	"time"

	"github.com/roach88/pivot/internal/expr"
	"github.com/roach88/pivot/internal/filter"
	"github.com/roach88/pivot/internal/granularity"
	"github.com/roach88/pivot/internal/series"
)

// Names used in query expressions.
const (
	SplitName    = "SPLIT"
	IntervalName = "MillisecondsInInterval"
)

// Query construction errors.
var (
	ErrTooManySplits = errors.New("too many splits")
	ErrMissingSort   = errors.New("sort is missing")
)

// EffectiveFilter is the filter a query runs with: relative clauses are
// evaluated at tk, unfilterDimension (when set) is dropped, and with
// combineWithPrevious the time clause also covers the comparison period.
func (e Essence) EffectiveFilter(tk Timekeeper, combineWithPrevious bool, unfilterDimension string) (filter.Filter, error) {
	loc, err := e.Location()
	if err != nil {
		return filter.Filter{}, err
	}
	f := e.Filter
	if unfilterDimension != "" {
		f = f.Remove(unfilterDimension)
	}
	f, err = f.Specific(tk.NowFor(e.DataCube), tk.MaxTimeFor(e.DataCube), loc)
	if err != nil {
		return filter.Filter{}, err
	}
	if !combineWithPrevious || !e.HasComparison() {
		return f, nil
	}

	current, ok := e.timeClause(f)
	if !ok {
		return f, nil
	}
	combined := filter.FixedTimeClause{Ref: current.Ref}
	for _, r := range current.Ranges {
		combined.Ranges = append(combined.Ranges, r, e.shiftBack(r, loc))
	}
	return f.Set(combined), nil
}

func (e Essence) timeClause(f filter.Filter) (filter.FixedTimeClause, bool) {
	t, ok := e.TimeDimension()
	if !ok {
		return filter.FixedTimeClause{}, false
	}
	c, ok := f.ClauseFor(t.Name)
	if !ok {
		return filter.FixedTimeClause{}, false
	}
	fixed, ok := c.(filter.FixedTimeClause)
	return fixed, ok
}

func (e Essence) shiftBack(r expr.TimeRange, loc *time.Location) expr.TimeRange {
	return expr.NewTimeRange(e.TimeShift.Shift(r.Start, loc, -1).UTC(), e.TimeShift.Shift(r.End, loc, -1).UTC())
}

// TimeShiftEnv describes the comparison at tk: predicates on the time
// dimension selecting the current and the previous period.
func (e Essence) TimeShiftEnv(tk Timekeeper) (series.TimeShiftEnv, error) {
	if !e.HasComparison() {
		return series.CurrentEnv(), nil
	}
	f, err := e.EffectiveFilter(tk, false, "")
	if err != nil {
		return series.TimeShiftEnv{}, err
	}
	current, ok := e.timeClause(f)
	if !ok {
		return series.TimeShiftEnv{}, fmt.Errorf("comparison needs a filter on the time dimension")
	}
	loc, err := e.Location()
	if err != nil {
		return series.TimeShiftEnv{}, err
	}
	previous := filter.FixedTimeClause{Ref: current.Ref}
	for _, r := range current.Ranges {
		previous.Ranges = append(previous.Ranges, e.shiftBack(r, loc))
	}

	t, _ := e.TimeDimension()
	dim, err := t.Expression()
	if err != nil {
		return series.TimeShiftEnv{}, err
	}
	currentFilter, err := current.ToExpression(dim)
	if err != nil {
		return series.TimeShiftEnv{}, err
	}
	previousFilter, err := previous.ToExpression(dim)
	if err != nil {
		return series.TimeShiftEnv{}, err
	}
	return series.TimeShiftEnv{
		Type:           series.ShiftWithPrevious,
		Shift:          e.TimeShift,
		CurrentFilter:  currentFilter,
		PreviousFilter: previousFilter,
	}, nil
}

// MakeQuery builds the query of the view at tk:
//
//	ply()
//	  .apply('main', $main.filter(<effective filter>))
//	  .apply(<series at level 0>)
//	  .apply('SPLIT', $main.split(<key>, '<dim>', 'main')
//	    .apply(<series at level 1>)
//	    .sort(...).limit(...)
//	    .apply('SPLIT', ...))
func MakeQuery(e Essence, tk Timekeeper) (expr.Expression, error) {
	c := e.DataCube
	if c == nil {
		return nil, ErrNoDataCube
	}
	if n := c.MaxSplits; n > 0 && e.Splits.Len() > n {
		return nil, fmt.Errorf("%w: data cube %q supports only %d splits, got %d", ErrTooManySplits, c.Name, n, e.Splits.Len())
	}

	mainFilter, err := e.EffectiveFilter(tk, e.HasComparison(), "")
	if err != nil {
		return nil, err
	}
	env, err := e.TimeShiftEnv(tk)
	if err != nil {
		return nil, err
	}
	pred, err := mainFilter.ToExpression(c)
	if err != nil {
		return nil, err
	}
	concrete, err := e.ConcreteSeries()
	if err != nil {
		return nil, err
	}

	var q expr.Expression = expr.ApplyTo(expr.PlyLiteral(), expr.MainName, expr.FilterBy(expr.Main(), pred))
	q, err = applySeries(q, concrete, 0, env)
	if err != nil {
		return nil, err
	}
	if e.Splits.IsEmpty() {
		return q, nil
	}
	sub, err := e.splitQuery(0, concrete, env)
	if err != nil {
		return nil, err
	}
	return expr.ApplyTo(q, SplitName, sub), nil
}

func applySeries(q expr.Expression, concrete []series.ConcreteSeries, nestingLevel int, env series.TimeShiftEnv) (expr.Expression, error) {
	for _, cs := range concrete {
		apps, err := cs.Applications(nestingLevel, env)
		if err != nil {
			return nil, err
		}
		for _, a := range apps {
			q = expr.ApplyTo(q, a.Name, a.Expression)
		}
	}
	return q, nil
}

// splitQuery builds the sub-query of split i, nesting the splits after it.
func (e Essence) splitQuery(i int, concrete []series.ConcreteSeries, env series.TimeShiftEnv) (expr.Expression, error) {
	sp, _ := e.Splits.Get(i)
	dim, ok := e.DataCube.GetDimension(sp.Reference)
	if !ok {
		return nil, fmt.Errorf("split on unknown dimension %q", sp.Reference)
	}
	if sp.Sort.IsEmpty() {
		return nil, fmt.Errorf("%w for split on %q", ErrMissingSort, sp.Reference)
	}
	key, err := sp.ToExpression(dim, e.Timezone, env)
	if err != nil {
		return nil, err
	}

	var q expr.Expression = expr.Split{Operand: expr.Main(), Expression: key, Name: dim.Name, DataName: expr.MainName}
	if sp.Bucket.Kind == granularity.KindTime {
		q = expr.ApplyTo(q, IntervalName, expr.Lit(float64(sp.Bucket.Duration.CanonicalLength())))
	}
	q, err = applySeries(q, concrete, i+1, env)
	if err != nil {
		return nil, err
	}
	if q, err = sp.Sort.ToExpression(q); err != nil {
		return nil, err
	}

	limit := sp.Limit
	if col := e.Colors; col != nil && col.Dimension == dim.Name {
		if having := col.ToHavingFilter(dim.Name); having != nil {
			q = expr.FilterBy(q, having)
		} else if col.Limit > 0 {
			limit = col.Limit
		}
	}
	if limit > 0 {
		q = expr.Limit{Operand: q, Value: limit}
	}

	if i+1 < e.Splits.Len() {
		sub, err := e.splitQuery(i+1, concrete, env)
		if err != nil {
			return nil, err
		}
		q = expr.ApplyTo(q, SplitName, sub)
	}
	return q, nil
}
