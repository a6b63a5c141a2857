package granularity

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/aclements/go-moremath/stats"

	"github.com/roach88/pivot/internal/duration"
	"github.com/roach88/pivot/internal/expr"
)

// MenuLength is the number of granularities offered for a dimension.
const MenuLength = 5

const (
	minuteMs = 60 * 1000
	hourMs   = 60 * minuteMs
	dayMs    = 24 * hourMs
)

type checkpoint struct {
	threshold float64
	bucket    Bucket
}

type helper struct {
	min       Bucket
	def       Bucket
	checkers  []checkpoint
	coarse    []checkpoint
	defaults  []Bucket
	coarseSet []Bucket
	supported func(bucketedBy Bucket) []Bucket
}

func timeCheckpoint(thresholdMs float64, d string) checkpoint {
	return checkpoint{thresholdMs, Time(duration.MustParse(d))}
}

func numberCheckpoint(threshold, size float64) checkpoint {
	return checkpoint{threshold, Number(size)}
}

var timeHelper = helper{
	min: Time(duration.MustParse("PT1M")),
	def: Time(duration.MustParse("P1D")),
	checkers: []checkpoint{
		timeCheckpoint(95*dayMs, "P1W"),
		timeCheckpoint(8*dayMs, "P1D"),
		timeCheckpoint(8*hourMs, "PT1H"),
		timeCheckpoint(3*hourMs, "PT5M"),
	},
	coarse: []checkpoint{
		timeCheckpoint(95*dayMs, "P1M"),
		timeCheckpoint(20*dayMs, "P1W"),
		timeCheckpoint(6*dayMs, "P1D"),
		timeCheckpoint(2*dayMs, "PT12H"),
		timeCheckpoint(23*hourMs, "PT6H"),
		timeCheckpoint(3*hourMs, "PT1H"),
		timeCheckpoint(30*minuteMs, "PT5M"),
	},
	supported: func(Bucket) []Bucket {
		var out []Bucket
		for _, s := range []string{
			"PT1S", "PT1M", "PT5M", "PT15M",
			"PT1H", "PT6H", "PT8H", "PT12H",
			"P1D", "P1W", "P1M", "P3M", "P6M",
			"P1Y", "P2Y",
		} {
			out = append(out, Time(duration.MustParse(s)))
		}
		return out
	},
}

var numberHelper = helper{
	min: Number(1),
	def: Number(10),
	checkers: []checkpoint{
		numberCheckpoint(5000, 1000),
		numberCheckpoint(500, 100),
		numberCheckpoint(100, 10),
		numberCheckpoint(1, 1),
		numberCheckpoint(0.1, 0.1),
	},
	coarse: []checkpoint{
		numberCheckpoint(500000, 50000),
		numberCheckpoint(50000, 10000),
		numberCheckpoint(5000, 5000),
		numberCheckpoint(1000, 1000),
		numberCheckpoint(100, 100),
		numberCheckpoint(10, 10),
		numberCheckpoint(1, 1),
		numberCheckpoint(0.1, 0.1),
	},
	coarseSet: []Bucket{Number(5), Number(10), Number(50), Number(100), Number(1000)},
	supported: func(bucketedBy Bucket) []Bucket {
		return makeNumberBuckets(bucketedBy.Length(), 10)
	},
}

func init() {
	// The default menu is every checkpoint result plus the minimum, finest
	// first.
	for _, h := range []*helper{&timeHelper, &numberHelper} {
		var defaults []Bucket
		for _, c := range h.checkers {
			defaults = append(defaults, c.bucket)
		}
		if !containsBucket(defaults, h.min) {
			defaults = append(defaults, h.min)
		}
		slices.SortStableFunc(defaults, func(a, b Bucket) int {
			return cmpFloat(a.Length(), b.Length())
		})
		h.defaults = defaults
	}
}

func helperFor(kind Kind) (*helper, error) {
	switch kind {
	case KindTime:
		return &timeHelper, nil
	case KindNumber:
		return &numberHelper, nil
	}
	return nil, fmt.Errorf("granularity: unsupported dimension kind %q", kind)
}

// Granularities returns the menu of buckets offered for a dimension. With no
// bucketedBy it is the default (or coarse) menu. For pre-bucketed data it
// is bucketedBy followed by the smallest supported granularities that are
// whole multiples of it, at most MenuLength entries.
func Granularities(kind Kind, bucketedBy Bucket, coarse bool) ([]Bucket, error) {
	h, err := helperFor(kind)
	if err != nil {
		return nil, err
	}
	if bucketedBy.IsZero() {
		if coarse && h.coarseSet != nil {
			return slices.Clone(h.coarseSet), nil
		}
		return slices.Clone(h.defaults), nil
	}
	return generateGranularitySet(h.supported(bucketedBy), bucketedBy), nil
}

func generateGranularitySet(all []Bucket, bucketedBy Bucket) []Bucket {
	out := []Bucket{bucketedBy}
	base := bucketedBy.Length()
	for _, g := range all {
		if len(out) == MenuLength {
			break
		}
		l := g.Length()
		if l <= base || !isWholeMultiple(l, base) {
			continue
		}
		out = append(out, UpdateBucketSize(bucketedBy, g))
	}
	return out
}

func isWholeMultiple(l, base float64) bool {
	if base <= 0 {
		return false
	}
	ratio := l / base
	return math.Abs(ratio-math.Round(ratio)) < 1e-9
}

// DefaultForKind picks the initial bucket of a dimension: its pre-bucketed
// size, else the third custom granularity, else the kind default.
func DefaultForKind(kind Kind, bucketedBy Bucket, custom []Bucket) (Bucket, error) {
	if !bucketedBy.IsZero() {
		return bucketedBy, nil
	}
	if len(custom) > 2 {
		return custom[2], nil
	}
	if len(custom) > 0 {
		return custom[0], nil
	}
	h, err := helperFor(kind)
	if err != nil {
		return Bucket{}, err
	}
	return h.def, nil
}

// BestForRange picks the bucket for a TimeRange or NumberRange.
//
// The first checkpoint exceeded by the range length names the bucket. A
// pre-bucketed size larger than that wins; with custom granularities the
// closest custom one is chosen. When no checkpoint is exceeded the minimum
// granularity (or first custom one) is used, again never finer than
// bucketedBy. A chosen number bucket keeps the grid offset of bucketedBy.
func BestForRange(r any, coarse bool, bucketedBy Bucket, custom []Bucket) (Bucket, error) {
	length, kind, err := rangeLength(r)
	if err != nil {
		return Bucket{}, err
	}
	h, err := helperFor(kind)
	if err != nil {
		return Bucket{}, err
	}

	bucketLength := bucketedBy.Length()
	checkers := h.checkers
	if coarse && h.coarse != nil {
		checkers = h.coarse
	}

	for _, c := range checkers {
		if length <= c.threshold {
			continue
		}
		if bucketLength > c.bucket.Length() {
			return bucketedBy, nil
		}
		if len(custom) > 0 {
			return UpdateBucketSize(bucketedBy, FindBestMatch(custom, c.bucket)), nil
		}
		return UpdateBucketSize(bucketedBy, c.bucket), nil
	}

	minBucket := h.min
	if len(custom) > 0 {
		minBucket = custom[0]
	}
	if bucketLength > minBucket.Length() {
		return bucketedBy, nil
	}
	return UpdateBucketSize(bucketedBy, minBucket), nil
}

func rangeLength(r any) (float64, Kind, error) {
	switch v := r.(type) {
	case expr.TimeRange:
		return math.Abs(float64(v.End.Sub(v.Start).Milliseconds())), KindTime, nil
	case expr.NumberRange:
		if v.Start == nil || v.End == nil {
			return 0, KindNumber, fmt.Errorf("granularity: number range must be bounded")
		}
		return math.Abs(*v.End - *v.Start), KindNumber, nil
	}
	return 0, "", fmt.Errorf("granularity: unsupported range %T", r)
}

// FindBestMatch returns the bucket of the same length as target, else the
// smallest longer one, else the longest.
func FindBestMatch(buckets []Bucket, target Bucket) Bucket {
	if len(buckets) == 0 {
		return target
	}
	t := target.Length()
	for _, b := range buckets {
		if b.Length() == t {
			return b
		}
	}
	for _, b := range buckets {
		if b.Length() > t {
			return b
		}
	}
	best := buckets[0]
	for _, b := range buckets[1:] {
		if b.Length() > best.Length() {
			best = b
		}
	}
	return best
}

// SnapRange floors the start and ceils the end of r to the grid of bucket.
// Time ranges snap in loc. The result is never empty: an already aligned
// zero-length range is extended by one bucket.
func SnapRange(r any, bucket Bucket, loc *time.Location) (any, error) {
	switch v := r.(type) {
	case expr.TimeRange:
		if bucket.Kind != KindTime {
			return nil, fmt.Errorf("granularity: cannot snap a time range to %q", bucket)
		}
		d := bucket.Duration
		start := d.Floor(v.Start, loc)
		end := d.Floor(v.End, loc)
		if end.Before(v.End) || !end.After(start) {
			end = d.Shift(end, loc, 1)
		}
		return expr.NewTimeRange(start.UTC(), end.UTC()), nil
	case expr.NumberRange:
		if bucket.Kind != KindNumber || bucket.Size <= 0 {
			return nil, fmt.Errorf("granularity: cannot snap a number range to %q", bucket)
		}
		if v.Start == nil || v.End == nil {
			return nil, fmt.Errorf("granularity: number range must be bounded")
		}
		size, off := bucket.Size, bucket.Offset
		start := math.Floor((*v.Start-off)/size)*size + off
		end := math.Ceil((*v.End-off)/size)*size + off
		if end <= start {
			end = start + size
		}
		return expr.NewNumberRange(start, end), nil
	}
	return nil, fmt.Errorf("granularity: unsupported range %T", r)
}

// NumberRangeOf returns the closed range spanning xs, for choosing a bucket
// from observed values.
func NumberRangeOf(xs []float64) (expr.NumberRange, error) {
	if len(xs) == 0 {
		return expr.NumberRange{}, fmt.Errorf("granularity: no values")
	}
	lo, hi := stats.Bounds(xs)
	r := expr.NewNumberRange(lo, hi)
	r.Bounds = "[]"
	return r, nil
}

// makeNumberBuckets lists candidate number buckets around center: the half
// and whole steps of each power of ten from center upwards.
func makeNumberBuckets(center float64, count int) []Bucket {
	if center <= 0 {
		center = 1
	}
	logTen := math.Log10(center)
	digits := wholeDigits(center)
	var out []Bucket
	for len(out) <= count {
		out = append(out, Number(significantDigits(5*math.Pow(10, logTen-1), digits)))
		out = append(out, Number(significantDigits(math.Pow(10, logTen), digits)))
		logTen++
	}
	return out
}

func wholeDigits(n float64) int {
	return int(math.Max(math.Floor(math.Log10(math.Abs(n))), 0)) + 1
}

func significantDigits(n float64, digits int) float64 {
	multiplier := math.Pow(10, float64(digits)-math.Floor(math.Log10(n))-1)
	return math.Round(n*multiplier) / multiplier
}

func containsBucket(list []Bucket, b Bucket) bool {
	for _, x := range list {
		if x.Equal(b) {
			return true
		}
	}
	return false
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
