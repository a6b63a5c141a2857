// Package granularity picks bucket sizes for continuous dimensions.
//
// A bucket is either an ISO-8601 duration (time dimensions) or a positive
// number (number dimensions). The heuristics are pure table lookups: the
// length of a range is compared against a list of checkpoints and the first
// one exceeded names the bucket.
package granularity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/roach88/pivot/internal/duration"
)

// Kind is the kind of continuous dimension a bucket applies to.
type Kind string

const (
	KindTime   Kind = "time"
	KindNumber Kind = "number"
)

// Bucket is a granularity: a duration for time, a size for numbers.
// The zero value means "no bucket".
type Bucket struct {
	Kind     Kind
	Duration duration.Duration
	Size     float64
	// Offset shifts the number grid; kept across size changes.
	Offset float64
}

// Time returns a time bucket.
func Time(d duration.Duration) Bucket {
	return Bucket{Kind: KindTime, Duration: d}
}

// Number returns a number bucket of the given size.
func Number(size float64) Bucket {
	return Bucket{Kind: KindNumber, Size: size}
}

// IsZero reports whether b is unset.
func (b Bucket) IsZero() bool {
	return b.Kind == ""
}

// Length is the comparable size of b: milliseconds for time buckets, the
// bucket size for number buckets.
func (b Bucket) Length() float64 {
	switch b.Kind {
	case KindTime:
		return float64(b.Duration.CanonicalLength())
	case KindNumber:
		return b.Size
	}
	return 0
}

// String renders "PT1H" or "10".
func (b Bucket) String() string {
	switch b.Kind {
	case KindTime:
		return b.Duration.String()
	case KindNumber:
		return strconv.FormatFloat(b.Size, 'f', -1, 64)
	}
	return ""
}

// Equal compares kind and size; the number offset is not part of identity.
func (b Bucket) Equal(o Bucket) bool {
	if b.Kind != o.Kind {
		return false
	}
	switch b.Kind {
	case KindTime:
		return b.Duration.Equal(o.Duration)
	case KindNumber:
		return b.Size == o.Size
	}
	return true
}

// ToJS returns the JSON-ready form: the duration string or the number.
func (b Bucket) ToJS() any {
	switch b.Kind {
	case KindTime:
		return b.Duration.String()
	case KindNumber:
		return b.Size
	}
	return nil
}

// FromJS reads a bucket from its JSON-decoded form. Besides strings and
// numbers it accepts the legacy object form
// {"action": "timeBucket", "duration": "P1D"} / {"action": "numberBucket", "size": 5}.
func FromJS(v any) (Bucket, error) {
	switch val := v.(type) {
	case float64:
		if val <= 0 || math.IsInf(val, 0) || math.IsNaN(val) {
			return Bucket{}, fmt.Errorf("number granularity must be positive, got %v", val)
		}
		return Number(val), nil
	case int:
		return FromJS(float64(val))
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return Bucket{}, err
		}
		return FromJS(f)
	case string:
		d, err := duration.Parse(val)
		if err != nil {
			return Bucket{}, err
		}
		return Time(d), nil
	case map[string]any:
		switch val["action"] {
		case "timeBucket":
			return FromJS(val["duration"])
		case "numberBucket":
			b, err := FromJS(val["size"])
			if err != nil {
				return Bucket{}, err
			}
			if off, ok := val["offset"].(float64); ok {
				b.Offset = off
			}
			return b, nil
		}
		return Bucket{}, fmt.Errorf("unknown granularity action %v", val["action"])
	}
	return Bucket{}, fmt.Errorf("granularity must be a number, string or object, got %T", v)
}

// MustFromJS is like FromJS but panics on error.
func MustFromJS(v any) Bucket {
	b, err := FromJS(v)
	if err != nil {
		panic(err)
	}
	return b
}

// MarshalJSON encodes b with ToJS.
func (b Bucket) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.ToJS())
}

// UnmarshalJSON decodes with FromJS; null leaves b zero.
func (b *Bucket) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*b = Bucket{}
		return nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	parsed, err := FromJS(v)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// UnmarshalYAML lets config files write granularities as plain scalars.
func (b *Bucket) UnmarshalYAML(unmarshal func(any) error) error {
	var v any
	if err := unmarshal(&v); err != nil {
		return err
	}
	if i, ok := v.(int); ok {
		v = float64(i)
	}
	parsed, err := FromJS(v)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// UpdateBucketSize returns newSize carrying over the grid offset of
// existing when both are number buckets.
func UpdateBucketSize(existing, newSize Bucket) Bucket {
	if existing.Kind == KindNumber && newSize.Kind == KindNumber {
		newSize.Offset = existing.Offset
	}
	return newSize
}
