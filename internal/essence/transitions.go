package essence

import (
	"fmt"
	"slices"

	"github.com/roach88/pivot/internal/colors"
	"github.com/roach88/pivot/internal/cube"
	"github.com/roach88/pivot/internal/duration"
	"github.com/roach88/pivot/internal/filter"
	"github.com/roach88/pivot/internal/series"
	"github.com/roach88/pivot/internal/split"
	"github.com/roach88/pivot/internal/viz"
)

// ChangeFilter replaces the filter. Splits on dimensions whose clause
// changed lose their bucket and get a new one for the new range.
func (e Essence) ChangeFilter(f filter.Filter) (Essence, error) {
	f = f.Constrain(e.DataCube)
	var changed []string
	for _, c := range f.Clauses() {
		old, ok := e.Filter.ClauseFor(c.Reference())
		if !ok || !old.Equal(c) {
			changed = append(changed, c.Reference())
		}
	}
	for _, c := range e.Filter.Clauses() {
		if !f.FilteredOn(c.Reference()) {
			changed = append(changed, c.Reference())
		}
	}

	out := e
	out.Filter = f
	splits := e.Splits
	if len(changed) > 0 {
		splits = splits.RemoveBucketing(changed...)
	}
	splits, err := splits.UpdateWithFilter(f, e.DataCube)
	if err != nil {
		return Essence{}, err
	}
	out.Splits = splits
	return out.resolveVisualization(viz.KeepAlways)
}

// ChangeTimeSelection replaces the clause on the time dimension.
func (e Essence) ChangeTimeSelection(c filter.Clause) (Essence, error) {
	t, ok := e.TimeDimension()
	if !ok {
		return Essence{}, fmt.Errorf("data cube %q has no time dimension", e.DataCube.Name)
	}
	if c.Reference() != t.Name {
		return Essence{}, fmt.Errorf("time selection must be on %q, got %q", t.Name, c.Reference())
	}
	switch c.(type) {
	case filter.FixedTimeClause, filter.RelativeTimeClause:
	default:
		return Essence{}, fmt.Errorf("time selection must be a time clause, got %T", c)
	}
	return e.ChangeFilter(e.Filter.Set(c))
}

// ConvertToSpecificFilter evaluates relative time clauses at tk.
func (e Essence) ConvertToSpecificFilter(tk Timekeeper) (Essence, error) {
	if !e.IsRelative() {
		return e, nil
	}
	loc, err := e.Location()
	if err != nil {
		return Essence{}, err
	}
	f, err := e.Filter.Specific(tk.NowFor(e.DataCube), tk.MaxTimeFor(e.DataCube), loc)
	if err != nil {
		return Essence{}, err
	}
	return e.ChangeFilter(f)
}

// ChangeTimezone switches the timezone used for buckets and relative time.
func (e Essence) ChangeTimezone(tz string) (Essence, error) {
	if _, err := duration.LoadLocation(tz); err != nil {
		return Essence{}, err
	}
	out := e
	out.Timezone = tz
	return out, nil
}

// ChangeSplits replaces the splits and picks a visualization with
// strategy. A view in manual resolution keeps its visualization, and
// changing a non-empty split list to another non-empty one keeps it while
// it stays ready.
func (e Essence) ChangeSplits(s split.Splits, strategy viz.Strategy) (Essence, error) {
	s = s.Constrain(e.DataCube, e.Series)
	s, err := s.UpdateWithFilter(e.Filter, e.DataCube)
	if err != nil {
		return Essence{}, err
	}
	if e.VisResolve.IsManual() {
		strategy = viz.KeepAlways
	}
	if e.Splits.Len() > 0 && s.Len() > 0 && strategy == viz.FairGame {
		strategy = viz.UnfairGame
	}

	out := e
	out.Splits = s
	out.Colors = out.constrainColors()
	return out.resolveVisualization(strategy)
}

// ChangeSplit replaces all splits with s.
func (e Essence) ChangeSplit(s split.Split, strategy viz.Strategy) (Essence, error) {
	return e.ChangeSplits(split.New(s), strategy)
}

// AddSplit appends s, or replaces the split on the same dimension.
func (e Essence) AddSplit(s split.Split, strategy viz.Strategy) (Essence, error) {
	return e.ChangeSplits(e.Splits.Add(s), strategy)
}

// RemoveSplit drops the split on ref.
func (e Essence) RemoveSplit(ref string, strategy viz.Strategy) (Essence, error) {
	return e.ChangeSplits(e.Splits.Remove(ref), strategy)
}

// ChangeSeriesList replaces the series. Split sorts on removed series move
// to the first remaining one.
func (e Essence) ChangeSeriesList(list series.List) (Essence, error) {
	list = list.Constrain(e.DataCube)
	out := e
	out.Series = list
	out.Splits = e.Splits.Constrain(e.DataCube, list)
	return out.resolveVisualization(viz.KeepAlways)
}

// AddSeries appends s unless its key is already shown.
func (e Essence) AddSeries(s series.Series) (Essence, error) {
	if _, err := series.Concrete(s, e.DataCube); err != nil {
		return Essence{}, err
	}
	return e.ChangeSeriesList(e.Series.Add(s))
}

// RemoveSeries drops the series with key.
func (e Essence) RemoveSeries(key string) (Essence, error) {
	return e.ChangeSeriesList(e.Series.Remove(key))
}

// ChangeSeries replaces old with s. Sorts on old follow it to s.
func (e Essence) ChangeSeries(old, s series.Series) (Essence, error) {
	if _, err := series.Concrete(s, e.DataCube); err != nil {
		return Essence{}, err
	}
	moved := e
	moved.Splits = e.Splits.ChangeSortIfOnMeasure(old.Key(), s.Key())
	return moved.ChangeSeriesList(e.Series.Replace(old, s))
}

// ChangeVisualization shows name, adjusting the splits automatically when
// the visualization asks for it.
func (e Essence) ChangeVisualization(name string) (Essence, error) {
	if _, ok := viz.Lookup(name); !ok {
		return Essence{}, fmt.Errorf("unknown visualization %q", name)
	}
	out := e
	out.Visualization = name
	return out.resolveVisualization(viz.KeepAlways)
}

// ChangeComparisonShift sets the comparison period. Zero turns comparison
// off.
func (e Essence) ChangeComparisonShift(shift duration.Duration) (Essence, error) {
	if !shift.IsZero() {
		if _, ok := e.TimeDimension(); !ok {
			return Essence{}, fmt.Errorf("data cube %q has no time dimension to compare on", e.DataCube.Name)
		}
	}
	out := e
	out.TimeShift = shift
	return out, nil
}

// ChangeColors sets the legend colours. nil clears them.
func (e Essence) ChangeColors(c *colors.Colors) (Essence, error) {
	if c != nil && !e.Splits.HasSplitOn(c.Dimension) {
		return Essence{}, fmt.Errorf("colors on %q need a split on it", c.Dimension)
	}
	out := e
	out.Colors = c
	return out, nil
}

// Pin adds a dimension to the pinned list.
func (e Essence) Pin(dimension string) (Essence, error) {
	if _, ok := e.DataCube.GetDimension(dimension); !ok {
		return Essence{}, fmt.Errorf("unknown dimension %q", dimension)
	}
	if slices.Contains(e.PinnedDimensions, dimension) {
		return e, nil
	}
	out := e
	out.PinnedDimensions = append(slices.Clone(e.PinnedDimensions), dimension)
	return out, nil
}

// Unpin removes a dimension from the pinned list.
func (e Essence) Unpin(dimension string) Essence {
	out := e
	out.PinnedDimensions = slices.DeleteFunc(slices.Clone(e.PinnedDimensions), func(d string) bool { return d == dimension })
	return out
}

// ChangePinnedSort sets the measure pinned dimensions are sorted by.
func (e Essence) ChangePinnedSort(measure string) (Essence, error) {
	if _, ok := e.DataCube.GetMeasure(measure); !ok {
		return Essence{}, fmt.Errorf("unknown measure %q", measure)
	}
	out := e
	out.PinnedSort = measure
	return out, nil
}

// UpdateDataCube moves the view to a new definition of its cube, dropping
// whatever no longer exists.
func (e Essence) UpdateDataCube(c *cube.DataCube) (Essence, error) {
	if c == nil {
		return Essence{}, ErrNoDataCube
	}
	if c.Name != e.DataCube.Name {
		return Essence{}, fmt.Errorf("cannot move a view of %q to %q", e.DataCube.Name, c.Name)
	}
	out := e
	out.DataCube = c
	out, err := out.constrain()
	if err != nil {
		return Essence{}, err
	}
	return out.resolveVisualization(viz.UnfairGame)
}
