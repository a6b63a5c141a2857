package split

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/roach88/pivot/internal/cube"
	"github.com/roach88/pivot/internal/expr"
	"github.com/roach88/pivot/internal/filter"
	"github.com/roach88/pivot/internal/granularity"
	"github.com/roach88/pivot/internal/series"
)

// Splits is the ordered list of splits of a view, at most one per
// dimension. It is immutable: every method returns a new Splits.
type Splits struct {
	splits []Split
}

// New builds a list of splits, dropping later splits on a dimension that
// is already split.
func New(splits ...Split) Splits {
	out := make([]Split, 0, len(splits))
	for _, s := range splits {
		if slices.ContainsFunc(out, func(x Split) bool { return x.Reference == s.Reference }) {
			continue
		}
		out = append(out, s)
	}
	return Splits{splits: out}
}

// Splits returns a copy of the list.
func (s Splits) Splits() []Split {
	return slices.Clone(s.splits)
}

// Len is the number of splits, which is also the deepest nesting level.
func (s Splits) Len() int { return len(s.splits) }

// IsEmpty reports whether there are no splits.
func (s Splits) IsEmpty() bool { return len(s.splits) == 0 }

// Get returns the split at index i.
func (s Splits) Get(i int) (Split, bool) {
	if i < 0 || i >= len(s.splits) {
		return Split{}, false
	}
	return s.splits[i], true
}

// FindFor returns the split on ref.
func (s Splits) FindFor(ref string) (Split, bool) {
	for _, sp := range s.splits {
		if sp.Reference == ref {
			return sp, true
		}
	}
	return Split{}, false
}

// HasSplitOn reports whether ref is split.
func (s Splits) HasSplitOn(ref string) bool {
	_, ok := s.FindFor(ref)
	return ok
}

// Add appends sp, replacing any split on the same dimension in place.
func (s Splits) Add(sp Split) Splits {
	out := slices.Clone(s.splits)
	for i, x := range out {
		if x.Reference == sp.Reference {
			out[i] = sp
			return Splits{splits: out}
		}
	}
	return Splits{splits: append(out, sp)}
}

// Remove drops the split on ref.
func (s Splits) Remove(ref string) Splits {
	return Splits{splits: slices.DeleteFunc(slices.Clone(s.splits), func(x Split) bool { return x.Reference == ref })}
}

// Replace swaps old for sp in place.
func (s Splits) Replace(old, sp Split) Splits {
	out := slices.Clone(s.splits)
	for i, x := range out {
		if x.Equal(old) {
			out[i] = sp
			return New(out...)
		}
	}
	return s
}

// ReplaceByIndex puts sp at position i. A split on the same dimension
// elsewhere in the list is removed.
func (s Splits) ReplaceByIndex(i int, sp Split) (Splits, error) {
	if i < 0 || i >= len(s.splits) {
		return s, fmt.Errorf("split index %d out of range", i)
	}
	out := slices.Clone(s.splits)
	out[i] = sp
	for j := len(out) - 1; j >= 0; j-- {
		if j != i && out[j].Reference == sp.Reference {
			out = slices.Delete(out, j, j+1)
		}
	}
	return Splits{splits: out}, nil
}

// InsertByIndex inserts sp at position i, moving an existing split on the
// same dimension.
func (s Splits) InsertByIndex(i int, sp Split) Splits {
	out := slices.DeleteFunc(slices.Clone(s.splits), func(x Split) bool { return x.Reference == sp.Reference })
	i = max(0, min(i, len(out)))
	return Splits{splits: slices.Insert(out, i, sp)}
}

// ChangeSort sets the sort of every split.
func (s Splits) ChangeSort(sort Sort) Splits {
	out := slices.Clone(s.splits)
	for i := range out {
		out[i].Sort = sort
	}
	return Splits{splits: out}
}

// ChangeSortIfOnMeasure moves every series sort on measure key from to
// key to.
func (s Splits) ChangeSortIfOnMeasure(from, to string) Splits {
	out := slices.Clone(s.splits)
	for i := range out {
		if out[i].Sort.Type == SortSeries && out[i].Sort.Reference == from {
			out[i].Sort.Reference = to
		}
	}
	return Splits{splits: out}
}

// ChangeLimits sets limits by position; extra limits are ignored.
func (s Splits) ChangeLimits(limits []int) Splits {
	out := slices.Clone(s.splits)
	for i := range out {
		if i < len(limits) {
			out[i].Limit = limits[i]
		}
	}
	return Splits{splits: out}
}

// RemoveBucketing clears the buckets of the splits on refs, or of every
// split when no refs are given.
func (s Splits) RemoveBucketing(refs ...string) Splits {
	out := slices.Clone(s.splits)
	for i := range out {
		if len(refs) == 0 || slices.Contains(refs, out[i].Reference) {
			out[i].Bucket = granularity.Bucket{}
		}
	}
	return Splits{splits: out}
}

// relativeAnchor stands in for the unknown end of a relative time window
// when only its length matters.
var relativeAnchor = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// UpdateWithFilter gives unbucketed splits on continuous dimensions a
// bucket: the best one for the range the filter selects on that dimension,
// else the dimension default. A relative time clause counts as a range of
// its duration. Dimensions with the defaultNoBucket strategy are left alone.
func (s Splits) UpdateWithFilter(f filter.Filter, c *cube.DataCube) (Splits, error) {
	out := slices.Clone(s.splits)
	for i, sp := range out {
		if !sp.Bucket.IsZero() {
			continue
		}
		dim, ok := c.GetDimension(sp.Reference)
		if !ok || !dim.CanBucketByDefault() {
			continue
		}
		kind := dim.GranularityKind()

		var r any
		if kind == granularity.KindTime {
			if tr, ok := f.TimeRange(dim.Name); ok {
				r = tr
			} else if cl, ok := f.ClauseFor(dim.Name); ok {
				if rel, ok := cl.(filter.RelativeTimeClause); ok && !rel.Duration.IsZero() {
					r = expr.NewTimeRange(relativeAnchor, rel.Duration.Shift(relativeAnchor, time.UTC, 1))
				}
			}
		} else if cl, ok := f.ClauseFor(dim.Name); ok {
			if nc, ok := cl.(filter.NumberClause); ok && len(nc.Ranges) > 0 &&
				nc.Ranges[0].Start != nil && nc.Ranges[0].End != nil {
				r = nc.Ranges[0]
			}
		}

		var (
			b   granularity.Bucket
			err error
		)
		if r != nil {
			b, err = granularity.BestForRange(r, false, dim.BucketedBy, dim.Granularities)
		} else {
			b, err = granularity.DefaultForKind(kind, dim.BucketedBy, dim.Granularities)
		}
		if err != nil {
			return Splits{}, fmt.Errorf("split on %q: %w", sp.Reference, err)
		}
		out[i].Bucket = b
	}
	return Splits{splits: out}, nil
}

// Constrain drops splits on dimensions c does not define and repairs sorts
// on series that are no longer shown: they move to the first series, or to
// the split key when there are no series. A split without a sort gets the
// default one: continuous keys sort ascending, others by the first series.
func (s Splits) Constrain(c *cube.DataCube, list series.List) Splits {
	var out []Split
	keys := list.Keys()
	for _, sp := range s.splits {
		dim, ok := c.GetDimension(sp.Reference)
		if !ok {
			continue
		}
		sp.Type = dim.Kind
		if !dim.IsContinuous() {
			sp.Bucket = granularity.Bucket{}
		}
		switch {
		case sp.Sort.IsEmpty():
			if len(keys) > 0 && !dim.IsContinuous() {
				sp.Sort = SeriesSort(keys[0], Descending)
			} else {
				sp.Sort = DimensionSort(sp.Reference, Ascending)
			}
		case sp.Sort.Type == SortSeries && !list.HasKey(sp.Sort.Reference):
			if len(keys) > 0 {
				sp.Sort = SeriesSort(keys[0], directionOr(sp.Sort.Direction, Descending))
			} else {
				sp.Sort = DimensionSort(sp.Reference, Ascending)
			}
		case sp.Sort.Type == SortDimension && sp.Sort.Reference != sp.Reference:
			sp.Sort = DimensionSort(sp.Reference, directionOr(sp.Sort.Direction, Ascending))
		}
		out = append(out, sp)
	}
	return Splits{splits: out}
}

func directionOr(d, fallback string) string {
	if d == Ascending || d == Descending {
		return d
	}
	return fallback
}

// Equal compares lists in order.
func (s Splits) Equal(o Splits) bool {
	return slices.EqualFunc(s.splits, o.splits, Split.Equal)
}

// MarshalJSON encodes the list as an array.
func (s Splits) MarshalJSON() ([]byte, error) {
	if s.splits == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.splits)
}

// UnmarshalJSON decodes an array of splits. Unknown fields are rejected.
func (s *Splits) UnmarshalJSON(data []byte) error {
	var raw []Split
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	for i, sp := range raw {
		if sp.Reference == "" {
			return fmt.Errorf("split %d: reference is required", i)
		}
	}
	*s = New(raw...)
	return nil
}
