package series

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/roach88/pivot/internal/cube"
)

// List is the ordered, duplicate-free list of series of a view. It is
// immutable: every method returns a new List.
type List struct {
	series []Series
}

// NewList builds a list, dropping later duplicates by key.
func NewList(series ...Series) List {
	out := make([]Series, 0, len(series))
	seen := map[string]bool{}
	for _, s := range series {
		if s == nil || seen[s.Key()] {
			continue
		}
		seen[s.Key()] = true
		out = append(out, s)
	}
	return List{series: out}
}

// FromMeasures builds a list of plain measure series.
func FromMeasures(names ...string) List {
	out := make([]Series, len(names))
	for i, n := range names {
		out[i] = MeasureSeries{Ref: n}
	}
	return NewList(out...)
}

// Series returns a copy of the series.
func (l List) Series() []Series {
	return slices.Clone(l.series)
}

// Count is the number of series.
func (l List) Count() int {
	return len(l.series)
}

// IsEmpty reports whether the list has no series.
func (l List) IsEmpty() bool {
	return len(l.series) == 0
}

// Keys returns the series keys in order.
func (l List) Keys() []string {
	out := make([]string, len(l.series))
	for i, s := range l.series {
		out[i] = s.Key()
	}
	return out
}

// Get returns the series with key.
func (l List) Get(key string) (Series, bool) {
	for _, s := range l.series {
		if s.Key() == key {
			return s, true
		}
	}
	return nil, false
}

// HasKey reports whether a series with key is present.
func (l List) HasKey(key string) bool {
	_, ok := l.Get(key)
	return ok
}

// HasMeasure reports whether any series is computed from the measure.
func (l List) HasMeasure(name string) bool {
	return slices.ContainsFunc(l.series, func(s Series) bool {
		if s.Reference() == name {
			return true
		}
		if es, ok := s.(ExpressionSeries); ok {
			if a, ok := es.Expression.(ArithmeticExpression); ok && a.Ref == name {
				return true
			}
		}
		return false
	})
}

// Add appends s unless a series with the same key exists.
func (l List) Add(s Series) List {
	return NewList(append(slices.Clone(l.series), s)...)
}

// InsertByIndex inserts s at i, moving an existing series with the same key.
func (l List) InsertByIndex(i int, s Series) List {
	out := slices.DeleteFunc(slices.Clone(l.series), func(x Series) bool { return x.Key() == s.Key() })
	i = max(0, min(i, len(out)))
	return List{series: slices.Insert(out, i, s)}
}

// Remove drops the series with key.
func (l List) Remove(key string) List {
	return List{series: slices.DeleteFunc(slices.Clone(l.series), func(s Series) bool { return s.Key() == key })}
}

// RemoveMeasure drops every series computed from the measure.
func (l List) RemoveMeasure(name string) List {
	return List{series: slices.DeleteFunc(slices.Clone(l.series), func(s Series) bool {
		return NewList(s).HasMeasure(name)
	})}
}

// Replace swaps the series with old's key for s. Replacing with a key that
// is already used elsewhere drops the duplicate.
func (l List) Replace(old, s Series) List {
	out := slices.Clone(l.series)
	for i, x := range out {
		if x.Key() == old.Key() {
			out[i] = s
			return NewList(out...)
		}
	}
	return l
}

// ReplaceByIndex sets position i to s.
func (l List) ReplaceByIndex(i int, s Series) (List, error) {
	if i < 0 || i >= len(l.series) {
		return l, fmt.Errorf("series index %d out of range", i)
	}
	out := slices.Clone(l.series)
	out[i] = s
	return NewList(out...), nil
}

// Constrain drops series whose measures c does not define.
func (l List) Constrain(c *cube.DataCube) List {
	return List{series: slices.DeleteFunc(slices.Clone(l.series), func(s Series) bool {
		_, err := Concrete(s, c)
		return err != nil
	})}
}

// Concrete binds every series to c.
func (l List) Concrete(c *cube.DataCube) ([]ConcreteSeries, error) {
	out := make([]ConcreteSeries, 0, len(l.series))
	for _, s := range l.series {
		cs, err := Concrete(s, c)
		if err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	return out, nil
}

// Equal compares lists in order.
func (l List) Equal(o List) bool {
	return slices.EqualFunc(l.series, o.series, Equal)
}

// MarshalJSON encodes the list as an array of series.
func (l List) MarshalJSON() ([]byte, error) {
	out := make([]seriesJSON, 0, len(l.series))
	for _, s := range l.series {
		j, err := encode(s)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes an array of series. Unknown fields are rejected.
func (l *List) UnmarshalJSON(data []byte) error {
	var raw []seriesJSON
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	out := make([]Series, 0, len(raw))
	for i, j := range raw {
		s, err := decode(j)
		if err != nil {
			return fmt.Errorf("series %d: %w", i, err)
		}
		out = append(out, s)
	}
	*l = NewList(out...)
	return nil
}
