package querysql

import (
	"fmt"
	"math"
	"regexp"
	"sync"
	"time"

	"github.com/roach88/pivot/internal/duration"
)

// Function is an SQL function the compiler emits. The store registers
// every one of them on each new connection.
type Function struct {
	Name string
	Impl any
	Pure bool
}

// Functions lists the SQL functions compiled queries may call.
func Functions() []Function {
	return []Function{
		{Name: "pivot_time_bucket", Impl: timeBucket, Pure: true},
		{Name: "pivot_time_shift", Impl: timeShift, Pure: true},
		{Name: "pivot_number_bucket", Impl: numberBucket, Pure: true},
		{Name: "regexp", Impl: matchRegexp, Pure: true},
	}
}

var (
	durations sync.Map // string -> duration.Duration
	patterns  sync.Map // string -> *regexp.Regexp
)

func parseDuration(s string) (duration.Duration, error) {
	if d, ok := durations.Load(s); ok {
		return d.(duration.Duration), nil
	}
	d, err := duration.Parse(s)
	if err != nil {
		return duration.Duration{}, err
	}
	durations.Store(s, d)
	return d, nil
}

// millis reads a stored time. NULL arrives as a nil byte slice.
func millis(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case float64:
		return int64(x), true
	}
	return 0, false
}

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

// timeBucket floors a time in unix milliseconds to the start of its
// bucket.
func timeBucket(v any, period, tz string) (any, error) {
	ms, ok := millis(v)
	if !ok {
		return nil, nil
	}
	d, err := parseDuration(period)
	if err != nil {
		return nil, err
	}
	loc, err := duration.LoadLocation(tz)
	if err != nil {
		return nil, err
	}
	return d.Floor(time.UnixMilli(ms), loc).UnixMilli(), nil
}

func timeShift(v any, period string, step int64, tz string) (any, error) {
	ms, ok := millis(v)
	if !ok {
		return nil, nil
	}
	d, err := parseDuration(period)
	if err != nil {
		return nil, err
	}
	loc, err := duration.LoadLocation(tz)
	if err != nil {
		return nil, err
	}
	return d.Shift(time.UnixMilli(ms), loc, int(step)).UnixMilli(), nil
}

// numberBucket returns the start of the bucket of size holding v.
func numberBucket(v any, size, offset float64) (any, error) {
	f, ok := number(v)
	if !ok {
		return nil, nil
	}
	if size <= 0 {
		return nil, fmt.Errorf("bucket size must be positive, got %g", size)
	}
	return math.Floor((f-offset)/size)*size + offset, nil
}

// matchRegexp backs the REGEXP operator: regexp(pattern, value).
func matchRegexp(pattern string, v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, nil
	}
	re, ok := patterns.Load(pattern)
	if !ok {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return nil, err
		}
		re, _ = patterns.LoadOrStore(pattern, compiled)
	}
	return re.(*regexp.Regexp).MatchString(s), nil
}
