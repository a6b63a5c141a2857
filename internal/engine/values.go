package engine

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/roach88/pivot/internal/duration"
	"github.com/roach88/pivot/internal/expr"
)

// toNumber reads a number out of a value as scanned or computed.
func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

// arithmetic applies op to two numbers. Null operands, division by zero
// and non-finite results are null.
func arithmetic(op string, a, b any) (any, error) {
	if a == nil || b == nil {
		return nil, nil
	}
	x, ok := toNumber(a)
	if !ok {
		return nil, invalidf("%s of non-number %T", op, a)
	}
	y, ok := toNumber(b)
	if !ok {
		return nil, invalidf("%s of non-number %T", op, b)
	}

	var r float64
	switch op {
	case "add":
		r = x + y
	case "subtract":
		r = x - y
	case "multiply":
		r = x * y
	case "divide":
		if y == 0 {
			return nil, nil
		}
		r = x / y
	default:
		return nil, fmt.Errorf("unknown arithmetic %q", op)
	}
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return nil, nil
	}
	return r, nil
}

func truthy(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

// compareValues orders values for sorting: null first, then by value.
// Ranges order by start, then end.
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	if x, ok := toNumber(a); ok {
		if y, ok := toNumber(b); ok {
			return cmpFloat(x, y)
		}
	}
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y)
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			}
			return 1
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	case expr.TimeRange:
		if y, ok := b.(expr.TimeRange); ok {
			if c := x.Start.Compare(y.Start); c != 0 {
				return c
			}
			return x.End.Compare(y.End)
		}
	case expr.NumberRange:
		if y, ok := b.(expr.NumberRange); ok {
			if c := cmpBound(x.Start, y.Start, math.Inf(-1)); c != 0 {
				return c
			}
			return cmpBound(x.End, y.End, math.Inf(1))
		}
	}
	// mixed types order by type name so the sort stays total
	return strings.Compare(expr.TypeOf(a), expr.TypeOf(b))
}

func cmpFloat(x, y float64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

func cmpBound(x, y *float64, unbounded float64) int {
	a, b := unbounded, unbounded
	if x != nil {
		a = *x
	}
	if y != nil {
		b = *y
	}
	return cmpFloat(a, b)
}

// overlaps reports whether v falls in or intersects target: a set, a range
// or a single value.
func overlaps(v, target any) bool {
	switch t := target.(type) {
	case expr.Set:
		for _, el := range t.Elements {
			if overlaps(v, el) {
				return true
			}
		}
		return false
	case expr.TimeRange:
		switch x := v.(type) {
		case time.Time:
			return t.Contains(x)
		case expr.TimeRange:
			return x.Start.Before(t.End) && t.Start.Before(x.End)
		}
		return false
	case expr.NumberRange:
		switch x := v.(type) {
		case expr.NumberRange:
			lo := x.Start == nil || t.End == nil || *x.Start < *t.End
			hi := t.Start == nil || x.End == nil || *t.Start < *x.End
			return lo && hi
		default:
			if n, ok := toNumber(v); ok {
				return t.Contains(n)
			}
		}
		return false
	}
	if r, ok := v.(expr.TimeRange); ok {
		if at, ok := target.(time.Time); ok {
			return r.Contains(at)
		}
	}
	if r, ok := v.(expr.NumberRange); ok {
		if n, ok := toNumber(target); ok {
			return r.Contains(n)
		}
	}
	return expr.ValuesEqual(v, target)
}

func contains(s, sub any, compare string) bool {
	x, ok := s.(string)
	if !ok {
		return false
	}
	y, ok := sub.(string)
	if !ok {
		return false
	}
	if compare == expr.CompareIgnoreCase {
		return strings.Contains(strings.ToLower(x), strings.ToLower(y))
	}
	return strings.Contains(x, y)
}

func match(pattern string, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	s, ok := v.(string)
	if !ok {
		return false, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, invalidf("bad regular expression %q: %v", pattern, err)
	}
	return re.MatchString(s), nil
}

// timeBucket is the bucket of d holding t, as a range.
func timeBucket(v any, d duration.Duration, timezone string) (any, error) {
	t, ok := v.(time.Time)
	if !ok {
		return nil, nil
	}
	loc, err := duration.LoadLocation(timezone)
	if err != nil {
		return nil, invalidf("%v", err)
	}
	start := d.Floor(t, loc)
	return expr.NewTimeRange(start.UTC(), d.Shift(start, loc, 1).UTC()), nil
}

func numberBucket(v any, size, offset float64) (any, error) {
	n, ok := toNumber(v)
	if !ok {
		return nil, nil
	}
	if size <= 0 {
		return nil, invalidf("number bucket size must be positive, got %v", size)
	}
	start := math.Floor((n-offset)/size)*size + offset
	return expr.NewNumberRange(start, start+size), nil
}

func timeShift(v any, d duration.Duration, step int, timezone string) (any, error) {
	t, ok := v.(time.Time)
	if !ok {
		return nil, nil
	}
	loc, err := duration.LoadLocation(timezone)
	if err != nil {
		return nil, invalidf("%v", err)
	}
	return d.Shift(t, loc, step).UTC(), nil
}

// normalizeScanned turns a driver value without a known column kind into
// a dataset value.
func normalizeScanned(v any) any {
	switch x := v.(type) {
	case int64:
		return float64(x)
	case []byte:
		return string(x)
	}
	return v
}
