// Package duration implements ISO-8601 durations with timezone-aware calendar
// arithmetic, the unit of time bucketing throughout pivot.
package duration

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Unit is a calendar or clock span.
type Unit int

const (
	Second Unit = iota
	Minute
	Hour
	Day
	Week
	Month
	Year
)

var unitNames = [...]string{"second", "minute", "hour", "day", "week", "month", "year"}

func (u Unit) String() string {
	if u < Second || u > Year {
		return fmt.Sprintf("unit(%d)", int(u))
	}
	return unitNames[u]
}

// Canonical lengths in milliseconds. Months and years use fixed 30 and 365
// day approximations; they are only used to compare durations.
var canonicalMillis = [...]int64{
	Second: 1000,
	Minute: 60 * 1000,
	Hour:   60 * 60 * 1000,
	Day:    24 * 60 * 60 * 1000,
	Week:   7 * 24 * 60 * 60 * 1000,
	Month:  30 * 24 * 60 * 60 * 1000,
	Year:   365 * 24 * 60 * 60 * 1000,
}

// Duration is an ISO-8601 duration such as P1D, PT5M or P1Y2M.
// The zero value is invalid; construct with Parse or New.
type Duration struct {
	spans [7]int
}

var pattern = regexp.MustCompile(`^P(?:(\d+)Y)?(?:(\d+)M)?(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// Parse parses an ISO-8601 duration. Weeks cannot be combined with other
// units and at least one span must be non-zero.
func Parse(s string) (Duration, error) {
	m := pattern.FindStringSubmatch(s)
	if m == nil || strings.HasSuffix(s, "T") {
		return Duration{}, fmt.Errorf("invalid duration %q", s)
	}

	var d Duration
	order := []Unit{Year, Month, Week, Day, Hour, Minute, Second}
	for i, unit := range order {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return Duration{}, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		d.spans[unit] = n
	}

	if d.IsZero() {
		return Duration{}, fmt.Errorf("invalid duration %q: must not be empty", s)
	}
	if d.spans[Week] > 0 {
		for u, n := range d.spans {
			if Unit(u) != Week && n > 0 {
				return Duration{}, fmt.Errorf("invalid duration %q: weeks cannot be combined with other units", s)
			}
		}
	}
	return d, nil
}

// MustParse is like Parse but panics on error.
// Use only for constants and tests.
func MustParse(s string) Duration {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// New returns a duration of n units.
func New(n int, unit Unit) Duration {
	var d Duration
	d.spans[unit] = n
	return d
}

// IsZero reports whether no span is set.
func (d Duration) IsZero() bool {
	for _, n := range d.spans {
		if n != 0 {
			return false
		}
	}
	return true
}

// Get returns the number of the given unit in d.
func (d Duration) Get(u Unit) int {
	return d.spans[u]
}

// String renders the ISO-8601 form.
func (d Duration) String() string {
	if d.IsZero() {
		return ""
	}
	var b strings.Builder
	b.WriteByte('P')
	for _, s := range []struct {
		unit   Unit
		suffix byte
	}{{Year, 'Y'}, {Month, 'M'}, {Week, 'W'}, {Day, 'D'}} {
		if n := d.spans[s.unit]; n > 0 {
			b.WriteString(strconv.Itoa(n))
			b.WriteByte(s.suffix)
		}
	}
	if d.spans[Hour]+d.spans[Minute]+d.spans[Second] > 0 {
		b.WriteByte('T')
		for _, s := range []struct {
			unit   Unit
			suffix byte
		}{{Hour, 'H'}, {Minute, 'M'}, {Second, 'S'}} {
			if n := d.spans[s.unit]; n > 0 {
				b.WriteString(strconv.Itoa(n))
				b.WriteByte(s.suffix)
			}
		}
	}
	return b.String()
}

// Equal reports whether two durations have identical spans.
func (d Duration) Equal(o Duration) bool {
	return d.spans == o.spans
}

// CanonicalLength returns the approximate length of d in milliseconds.
func (d Duration) CanonicalLength() int64 {
	var total int64
	for u, n := range d.spans {
		total += int64(n) * canonicalMillis[u]
	}
	return total
}

// SingleSpan returns the only set unit and its count, if d has exactly one.
func (d Duration) SingleSpan() (Unit, int, bool) {
	found := -1
	for u, n := range d.spans {
		if n == 0 {
			continue
		}
		if found >= 0 {
			return 0, 0, false
		}
		found = u
	}
	if found < 0 {
		return 0, 0, false
	}
	return Unit(found), d.spans[found], true
}

// SmallestUnit returns the finest unit with a non-zero count.
func (d Duration) SmallestUnit() Unit {
	for u, n := range d.spans {
		if n > 0 {
			return Unit(u)
		}
	}
	return Second
}

// IsFloorable reports whether d tiles its parent unit evenly (PT5M tiles an
// hour, PT7M does not) so that Floor lands on a stable grid.
func (d Duration) IsFloorable() bool {
	unit, n, ok := d.SingleSpan()
	if !ok {
		return false
	}
	if n == 1 {
		return true
	}
	switch unit {
	case Second, Minute:
		return 60%n == 0
	case Hour:
		return 24%n == 0
	case Month:
		return 12%n == 0
	case Year:
		return true
	}
	return false
}

// Floor returns the start of the bucket of d containing t, computed on the
// wall clock of loc. Weeks start on Monday.
func (d Duration) Floor(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	unit, n, single := d.SingleSpan()
	if !single {
		unit, n = d.SmallestUnit(), 1
	}

	y, mo, day := t.Date()
	h, mi, s := t.Clock()
	switch unit {
	case Second:
		return time.Date(y, mo, day, h, mi, s-s%n, 0, loc)
	case Minute:
		return time.Date(y, mo, day, h, mi-mi%n, 0, 0, loc)
	case Hour:
		return time.Date(y, mo, day, h-h%n, 0, 0, 0, loc)
	case Day:
		return time.Date(y, mo, day, 0, 0, 0, 0, loc)
	case Week:
		offset := (int(t.Weekday()) + 6) % 7
		return time.Date(y, mo, day-offset, 0, 0, 0, 0, loc)
	case Month:
		m0 := int(mo) - 1
		return time.Date(y, time.Month(m0-m0%n+1), 1, 0, 0, 0, 0, loc)
	default:
		return time.Date(y-y%n, time.January, 1, 0, 0, 0, 0, loc)
	}
}

// Shift moves t by step copies of d. Calendar units move on the wall clock
// of loc; clock units move in absolute time.
func (d Duration) Shift(t time.Time, loc *time.Location, step int) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	t = t.AddDate(d.spans[Year]*step, d.spans[Month]*step, (d.spans[Week]*7+d.spans[Day])*step)
	clock := time.Duration(d.spans[Hour])*time.Hour +
		time.Duration(d.spans[Minute])*time.Minute +
		time.Duration(d.spans[Second])*time.Second
	return t.Add(clock * time.Duration(step))
}

// MarshalJSON renders d as its ISO-8601 string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON parses an ISO-8601 string.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalYAML renders d as its ISO-8601 string.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// UnmarshalText parses an ISO-8601 string; used by yaml.v3 and flag parsing.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
