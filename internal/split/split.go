// Package split models the group-by dimensions of a view. The order of the
// splits is the nesting order of the query: the first split is nesting
// level 1, the second level 2, and so on.
package split

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/roach88/pivot/internal/cube"
	"github.com/roach88/pivot/internal/expr"
	"github.com/roach88/pivot/internal/granularity"
	"github.com/roach88/pivot/internal/series"
)

// Sort directions.
const (
	Ascending  = expr.Ascending
	Descending = expr.Descending
)

// Sort kinds.
const (
	SortSeries    = "series"
	SortDimension = "dimension"
)

// Sort orders the groups of a split by a series value or by the split key.
type Sort struct {
	Type      string            `json:"type"`
	Reference string            `json:"reference"`
	Period    series.Derivation `json:"period,omitempty"`
	Direction string            `json:"direction"`
}

// SeriesSort sorts by a series key.
func SeriesSort(key string, direction string) Sort {
	return Sort{Type: SortSeries, Reference: key, Period: series.Current, Direction: direction}
}

// DimensionSort sorts by the split key itself.
func DimensionSort(ref string, direction string) Sort {
	return Sort{Type: SortDimension, Reference: ref, Direction: direction}
}

// IsEmpty reports whether no sort is set.
func (s Sort) IsEmpty() bool {
	return s.Reference == ""
}

// RefName is the name the sort refers to in the query: the series apply
// name for the sort period, or the split name.
func (s Sort) RefName() string {
	if s.Type == SortSeries {
		period := s.Period
		if period == "" {
			period = series.Current
		}
		return series.PlywoodKey(s.Reference, period)
	}
	return s.Reference
}

// ToExpression chains the sort onto operand.
func (s Sort) ToExpression(operand expr.Expression) (expr.Expression, error) {
	if s.IsEmpty() {
		return nil, fmt.Errorf("sort has no reference")
	}
	if s.Direction != Ascending && s.Direction != Descending {
		return nil, fmt.Errorf("sort on %q: unknown direction %q", s.Reference, s.Direction)
	}
	return expr.Sort{Operand: operand, Expression: expr.R(s.RefName()), Direction: s.Direction}, nil
}

// Split is one group-by dimension with its bucketing, sort and limit.
// A zero Limit means no limit.
type Split struct {
	Type      cube.Kind          `json:"type"`
	Reference string             `json:"reference"`
	Bucket    granularity.Bucket `json:"bucket,omitzero"`
	Sort      Sort               `json:"sort,omitzero"`
	Limit     int                `json:"limit,omitempty"`
}

// DefaultLimit is the group limit of new splits on non-time dimensions.
const DefaultLimit = 50

// FromDimension builds the split a user gets when dragging dim into the
// split bar. Time splits sort by time ascending without a limit; others
// sort by sortSeries descending (or by key when empty) with DefaultLimit.
func FromDimension(dim cube.Dimension, sortSeries string) Split {
	s := Split{Type: dim.Kind, Reference: dim.Name}
	if dim.Kind == cube.KindTime {
		s.Sort = DimensionSort(dim.Name, Ascending)
		return s
	}
	s.Limit = DefaultLimit
	if sortSeries != "" {
		s.Sort = SeriesSort(sortSeries, Descending)
	} else {
		s.Sort = DimensionSort(dim.Name, Ascending)
	}
	return s
}

// String renders the split for logs, e.g. "time(P1D)".
func (s Split) String() string {
	if s.Bucket.IsZero() {
		return s.Reference
	}
	return fmt.Sprintf("%s(%s)", s.Reference, s.Bucket)
}

// ChangeBucket returns s with bucket b.
func (s Split) ChangeBucket(b granularity.Bucket) Split {
	s.Bucket = b
	return s
}

// ChangeSort returns s with sort.
func (s Split) ChangeSort(sort Sort) Split {
	s.Sort = sort
	return s
}

// ChangeLimit returns s with limit.
func (s Split) ChangeLimit(limit int) Split {
	s.Limit = limit
	return s
}

// Equal compares splits by value.
func (s Split) Equal(o Split) bool {
	return s.Type == o.Type && s.Reference == o.Reference && s.Bucket.Equal(o.Bucket) &&
		s.Bucket.Offset == o.Bucket.Offset && s.Sort == o.Sort && s.Limit == o.Limit
}

// ToExpression builds the group key expression over dim.
//
// Time keys are bucketed in timezone. When env compares with a previous
// period, rows of the previous period are shifted forward first so both
// periods fall into the same buckets.
func (s Split) ToExpression(dim cube.Dimension, timezone string, env series.TimeShiftEnv) (expr.Expression, error) {
	e, err := dim.Expression()
	if err != nil {
		return nil, err
	}
	if s.Bucket.IsZero() {
		return e, nil
	}
	switch s.Bucket.Kind {
	case granularity.KindTime:
		if dim.Kind != cube.KindTime {
			return nil, fmt.Errorf("split on %q: time bucket on a %s dimension", s.Reference, dim.Kind)
		}
		if env.HasPrevious() && env.CurrentFilter != nil {
			shifted := expr.TimeShift{Operand: e, Duration: env.Shift, Step: 1, Timezone: timezone}
			e = expr.Fallback{
				Operand:    expr.Then{Operand: env.CurrentFilter, Expression: e},
				Expression: shifted,
			}
		}
		return expr.Bucket(e, s.Bucket.Duration, timezone), nil
	case granularity.KindNumber:
		if dim.Kind != cube.KindNumber {
			return nil, fmt.Errorf("split on %q: number bucket on a %s dimension", s.Reference, dim.Kind)
		}
		return expr.NumberBucket{Operand: e, Size: s.Bucket.Size, Offset: s.Bucket.Offset}, nil
	}
	return nil, fmt.Errorf("split on %q: unknown bucket %v", s.Reference, s.Bucket)
}

// MarshalSplit encodes one split.
func MarshalSplit(s Split) ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalSplit decodes one split. Unknown fields are rejected.
func UnmarshalSplit(data []byte) (Split, error) {
	var s Split
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return Split{}, err
	}
	if s.Reference == "" {
		return Split{}, fmt.Errorf("split reference is required")
	}
	return s, nil
}
