// Package essence holds the view state of a data cube exploration and
// turns it into query expressions.
//
// An Essence is an immutable value. Transitions return a new Essence and
// keep the state consistent: splits, series, pins and colours are
// constrained to the data cube, splits get buckets from the filter, and
// the visualization is re-resolved.
package essence

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/roach88/pivot/internal/colors"
	"github.com/roach88/pivot/internal/cube"
	"github.com/roach88/pivot/internal/duration"
	"github.com/roach88/pivot/internal/filter"
	"github.com/roach88/pivot/internal/series"
	"github.com/roach88/pivot/internal/split"
	"github.com/roach88/pivot/internal/viz"
)

// Essence is the state of one view.
type Essence struct {
	DataCube      *cube.DataCube
	Visualization string
	Timezone      string
	Filter        filter.Filter
	// TimeShift is the comparison period; zero means no comparison.
	TimeShift        duration.Duration
	Splits           split.Splits
	Series           series.List
	PinnedDimensions []string
	PinnedSort       string
	Colors           *colors.Colors
	VisResolve       viz.Resolve
}

// ErrNoDataCube is returned when an essence is built without a cube.
var ErrNoDataCube = errors.New("essence: data cube is required")

// New completes e: it constrains every part to e.DataCube, fills the
// timezone, buckets the splits and resolves the visualization. An empty
// Visualization picks the best one.
func New(e Essence) (Essence, error) {
	if e.DataCube == nil {
		return Essence{}, ErrNoDataCube
	}
	e, err := e.constrain()
	if err != nil {
		return Essence{}, err
	}
	strategy := viz.KeepAlways
	if e.Visualization == "" {
		strategy = viz.FairGame
	}
	return e.resolveVisualization(strategy)
}

// Default is the initial view of c: the latest default duration, the
// default splits and the default selected measures.
func Default(c *cube.DataCube) (Essence, error) {
	if c == nil {
		return Essence{}, ErrNoDataCube
	}
	f := filter.New()
	if t, ok := c.TimeDimension(); ok {
		f = f.Add(filter.RelativeTimeClause{Ref: t.Name, Period: filter.PeriodLatest, Duration: c.DefaultDuration})
	}
	list := series.FromMeasures(c.DefaultSelectedMeasures...)

	sortSeries := c.DefaultSortMeasure
	if !list.HasKey(sortSeries) && !list.IsEmpty() {
		sortSeries = list.Keys()[0]
	}
	var splits []split.Split
	for _, name := range c.DefaultSplitDimensions {
		if d, ok := c.GetDimension(name); ok {
			splits = append(splits, split.FromDimension(d, sortSeries))
		}
	}

	return New(Essence{
		DataCube:         c,
		Timezone:         c.DefaultTimezone,
		Filter:           f,
		Splits:           split.New(splits...),
		Series:           list,
		PinnedDimensions: slices.Clone(c.DefaultPinnedDimensions),
		PinnedSort:       c.DefaultSortMeasure,
	})
}

func (e Essence) constrain() (Essence, error) {
	c := e.DataCube
	if e.Timezone == "" {
		e.Timezone = c.DefaultTimezone
	}
	if _, err := duration.LoadLocation(e.Timezone); err != nil {
		return Essence{}, err
	}

	e.Filter = e.Filter.Constrain(c)
	e.Series = e.Series.Constrain(c)
	e.Splits = e.Splits.Constrain(c, e.Series)
	splits, err := e.Splits.UpdateWithFilter(e.Filter, c)
	if err != nil {
		return Essence{}, err
	}
	e.Splits = splits

	if _, ok := c.TimeDimension(); !ok {
		e.TimeShift = duration.Duration{}
	}

	e.PinnedDimensions = slices.DeleteFunc(slices.Clone(e.PinnedDimensions), func(name string) bool {
		_, ok := c.GetDimension(name)
		return !ok
	})
	if _, ok := c.GetMeasure(e.PinnedSort); !ok {
		e.PinnedSort = c.DefaultSortMeasure
	}
	e.Colors = e.constrainColors()
	return e, nil
}

func (e Essence) constrainColors() *colors.Colors {
	if e.Colors == nil || !e.Splits.HasSplitOn(e.Colors.Dimension) {
		return nil
	}
	return e.Colors
}

// resolveVisualization picks the visualization with strategy and applies
// an automatic adjustment. The adjusted view must be ready.
func (e Essence) resolveVisualization(strategy viz.Strategy) (Essence, error) {
	ctx := viz.Context{Cube: e.DataCube, Splits: e.Splits, Series: e.Series}
	m, r, err := viz.Best(ctx, e.Visualization, strategy)
	if err != nil {
		return Essence{}, err
	}
	if r.IsAutomatic() {
		if r.Adjustment.Splits != nil {
			e.Splits = *r.Adjustment.Splits
		}
		if r.Adjustment.Series != nil {
			e.Series = *r.Adjustment.Series
		}
		ctx = viz.Context{Cube: e.DataCube, Splits: e.Splits, Series: e.Series, Selected: true}
		r = m.Evaluate(ctx)
		if !r.IsReady() {
			return Essence{}, fmt.Errorf("essence: %s must be ready after automatic adjustment, got %s", m.Title, r)
		}
		e.Colors = e.constrainColors()
	}
	e.Visualization = m.Name
	e.VisResolve = r
	return e, nil
}

// Location resolves the view timezone.
func (e Essence) Location() (*time.Location, error) {
	return duration.LoadLocation(e.Timezone)
}

// TimeDimension is the primary time dimension of the cube.
func (e Essence) TimeDimension() (cube.Dimension, bool) {
	return e.DataCube.TimeDimension()
}

// HasComparison reports whether a previous period is shown next to the
// current one.
func (e Essence) HasComparison() bool {
	if e.TimeShift.IsZero() {
		return false
	}
	_, ok := e.TimeDimension()
	return ok
}

// IsRelative reports whether the filter depends on the clock.
func (e Essence) IsRelative() bool {
	return e.Filter.IsRelative()
}

// ConcreteSeries binds the series to the cube.
func (e Essence) ConcreteSeries() ([]series.ConcreteSeries, error) {
	return e.Series.Concrete(e.DataCube)
}

// FindConcreteSeries binds the series with key.
func (e Essence) FindConcreteSeries(key string) (series.ConcreteSeries, bool) {
	s, ok := e.Series.Get(key)
	if !ok {
		return series.ConcreteSeries{}, false
	}
	cs, err := series.Concrete(s, e.DataCube)
	if err != nil {
		return series.ConcreteSeries{}, false
	}
	return cs, true
}

// CommonSort is the sort shared by every split, if any.
func (e Essence) CommonSort() (split.Sort, bool) {
	all := e.Splits.Splits()
	if len(all) == 0 {
		return split.Sort{}, false
	}
	for _, s := range all[1:] {
		if s.Sort != all[0].Sort {
			return split.Sort{}, false
		}
	}
	return all[0].Sort, true
}

// DifferentDataCube reports whether o looks at another cube.
func (e Essence) DifferentDataCube(o Essence) bool {
	return e.DataCube.Name != o.DataCube.Name
}

// DifferentTimezone reports whether o uses another timezone.
func (e Essence) DifferentTimezone(o Essence) bool {
	return e.Timezone != o.Timezone
}

// DifferentFilter reports whether o has other filter clauses.
func (e Essence) DifferentFilter(o Essence) bool {
	return !e.Filter.Equal(o.Filter)
}

// DifferentSplits reports whether o has other splits.
func (e Essence) DifferentSplits(o Essence) bool {
	return !e.Splits.Equal(o.Splits)
}

// DifferentSeries reports whether o shows other series.
func (e Essence) DifferentSeries(o Essence) bool {
	return !e.Series.Equal(o.Series)
}

// DifferentTimeShift reports whether o compares with another period.
func (e Essence) DifferentTimeShift(o Essence) bool {
	return !e.TimeShift.Equal(o.TimeShift)
}

// DifferentColors reports whether o assigns legend colours differently.
func (e Essence) DifferentColors(o Essence) bool {
	switch {
	case e.Colors == nil && o.Colors == nil:
		return false
	case e.Colors == nil || o.Colors == nil:
		return true
	}
	return !e.Colors.Equal(*o.Colors)
}

// DifferentPinnedDimensions reports whether o pins other dimensions.
func (e Essence) DifferentPinnedDimensions(o Essence) bool {
	return !slices.Equal(e.PinnedDimensions, o.PinnedDimensions)
}

// DifferentEffectiveFilter reports whether the filters the two views query
// with differ at tk. Errors count as different.
func (e Essence) DifferentEffectiveFilter(o Essence, tk Timekeeper, unfilterDimension string) bool {
	if e.DifferentDataCube(o) || e.DifferentTimezone(o) || e.DifferentTimeShift(o) {
		return true
	}
	a, err := e.EffectiveFilter(tk, e.HasComparison(), unfilterDimension)
	if err != nil {
		return true
	}
	b, err := o.EffectiveFilter(tk, o.HasComparison(), unfilterDimension)
	if err != nil {
		return true
	}
	return !a.Equal(b)
}

// NeedsRefetch reports whether o queries different data than e, which is
// when a tile has to fetch again.
func (e Essence) NeedsRefetch(o Essence, tk Timekeeper) bool {
	return e.DifferentEffectiveFilter(o, tk, "") || e.DifferentSplits(o) ||
		e.DifferentSeries(o) || e.DifferentColors(o)
}
