package filter

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pivot/internal/duration"
	"github.com/roach88/pivot/internal/expr"
	"github.com/roach88/pivot/internal/testutil"
)

func day(d int) time.Time {
	return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC)
}

func TestClauseExpressions(t *testing.T) {
	dim := expr.R("channel")
	tests := []struct {
		name     string
		clause   Clause
		expected string
	}{
		{"string in", StringClause{Ref: "channel", Action: StringIn, Values: []any{"en", "de"}}, "$channel.overlap(['en','de'])"},
		{"string not in", StringClause{Ref: "channel", Values: []any{"en"}, Not: true}, "$channel.overlap(['en']).not()"},
		{"contains", StringClause{Ref: "channel", Action: StringContains, Values: []any{"e"}}, "$channel.contains('e')"},
		{"contains ignore case", StringClause{Ref: "channel", Action: StringContains, Values: []any{"E"}, IgnoreCase: true}, "$channel.contains('E','ignoreCase')"},
		{"match", StringClause{Ref: "channel", Action: StringMatch, Values: []any{"^e"}}, "$channel.match('^e')"},
		{"boolean", BooleanClause{Ref: "channel", Values: []any{true}}, "$channel.overlap([true])"},
		{"number", NumberClause{Ref: "channel", Ranges: []expr.NumberRange{expr.NewNumberRange(0, 10)}}, "$channel.overlap([0,10))"},
		{"number two ranges", NumberClause{Ref: "channel", Ranges: []expr.NumberRange{expr.NewNumberRange(0, 10), expr.NewNumberRange(20, 30)}},
			"$channel.overlap([0,10)).or($channel.overlap([20,30)))"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := tt.clause.ToExpression(dim)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, expr.String(e))
		})
	}
}

func TestClauseExpressionErrors(t *testing.T) {
	dim := expr.R("x")
	bad := []Clause{
		StringClause{Ref: "x", Action: StringContains},
		StringClause{Ref: "x", Action: "startsWith", Values: []any{"a"}},
		BooleanClause{Ref: "x", Values: []any{"yes"}},
		NumberClause{Ref: "x"},
		FixedTimeClause{Ref: "x"},
		RelativeTimeClause{Ref: "x", Period: PeriodLatest, Duration: duration.MustParse("P1D")},
	}
	for _, c := range bad {
		_, err := c.ToExpression(dim)
		assert.Error(t, err, "%#v", c)
	}
}

func TestRelativeTimeEvaluate(t *testing.T) {
	now := testutil.Now // Wednesday 2024-03-06 15:42:10 UTC
	tests := []struct {
		name       string
		period     string
		d          string
		maxTime    time.Time
		start, end time.Time
	}{
		{"latest day from max time", PeriodLatest, "P1D", time.Date(2024, 3, 6, 12, 30, 20, 0, time.UTC),
			time.Date(2024, 3, 5, 12, 31, 0, 0, time.UTC), time.Date(2024, 3, 6, 12, 31, 0, 0, time.UTC)},
		{"latest hour from now", PeriodLatest, "PT1H", time.Time{},
			time.Date(2024, 3, 6, 14, 43, 0, 0, time.UTC), time.Date(2024, 3, 6, 15, 43, 0, 0, time.UTC)},
		{"current day", PeriodCurrent, "P1D", time.Time{}, day(6), day(7)},
		{"previous day", PeriodPrevious, "P1D", time.Time{}, day(5), day(6)},
		{"current week", PeriodCurrent, "P1W", time.Time{}, day(4), day(11)},
		{"previous week", PeriodPrevious, "P1W", time.Time{}, time.Date(2024, 2, 26, 0, 0, 0, 0, time.UTC), day(4)},
		{"current month", PeriodCurrent, "P1M", time.Time{}, day(1), time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := RelativeTimeClause{Ref: "time", Period: tt.period, Duration: duration.MustParse(tt.d)}
			fixed, err := c.Evaluate(now, tt.maxTime, time.UTC)
			require.NoError(t, err)
			require.Len(t, fixed.Ranges, 1)
			assert.Equal(t, tt.start, fixed.Ranges[0].Start)
			assert.Equal(t, tt.end, fixed.Ranges[0].End)
		})
	}
}

func TestRelativeTimeEvaluateInTimezone(t *testing.T) {
	loc, err := duration.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	c := RelativeTimeClause{Ref: "time", Period: PeriodCurrent, Duration: duration.MustParse("P1D")}
	fixed, err := c.Evaluate(testutil.Now, time.Time{}, loc)
	require.NoError(t, err)
	// 15:42 UTC is 21:12 in Kolkata; the local day starts at 18:30 UTC the day before.
	assert.Equal(t, time.Date(2024, 3, 5, 18, 30, 0, 0, time.UTC), fixed.Ranges[0].Start)
	assert.Equal(t, time.Date(2024, 3, 6, 18, 30, 0, 0, time.UTC), fixed.Ranges[0].End)
}

func TestRelativeTimeEvaluateErrors(t *testing.T) {
	_, err := RelativeTimeClause{Ref: "time", Period: "someday", Duration: duration.MustParse("P1D")}.Evaluate(testutil.Now, time.Time{}, nil)
	assert.Error(t, err)

	_, err = RelativeTimeClause{Ref: "time", Period: PeriodLatest}.Evaluate(testutil.Now, time.Time{}, nil)
	assert.Error(t, err)
}

func TestFilterOperations(t *testing.T) {
	en := StringClause{Ref: "channel", Action: StringIn, Values: []any{"en"}}
	de := StringClause{Ref: "channel", Action: StringIn, Values: []any{"de"}}
	robot := BooleanClause{Ref: "isRobot", Values: []any{true}}

	f := New(en)
	g := f.Add(robot)
	assert.Equal(t, 1, f.Len(), "Add must not mutate the receiver")
	assert.Equal(t, 2, g.Len())

	h := g.Set(de)
	assert.Equal(t, 2, h.Len())
	c, ok := h.ClauseFor("channel")
	require.True(t, ok)
	assert.True(t, c.Equal(de))
	c, _ = g.ClauseFor("channel")
	assert.True(t, c.Equal(en))

	assert.True(t, h.FilteredOn("isRobot"))
	assert.False(t, h.Remove("isRobot").FilteredOn("isRobot"))
	assert.True(t, h.FilteredOn("isRobot"))

	ex, err := h.SetExclusion("channel", true)
	require.NoError(t, err)
	c, _ = ex.ClauseFor("channel")
	assert.True(t, c.(StringClause).Not)
	assert.False(t, ex.Equal(h))

	_, err = h.SetExclusion("cityName", true)
	assert.Error(t, err)

	assert.True(t, New().IsEmpty())
	assert.True(t, New(en, robot).Equal(g))
}

func TestFilterConstrain(t *testing.T) {
	f := New(
		StringClause{Ref: "channel", Values: []any{"en"}},
		StringClause{Ref: "page", Values: []any{"Home"}},
	)
	constrained := f.Constrain(testutil.WikiCube())
	assert.Equal(t, 1, constrained.Len())
	assert.True(t, constrained.FilteredOn("channel"))
}

func TestFilterToExpression(t *testing.T) {
	c := testutil.WikiCube()

	e, err := New().ToExpression(c)
	require.NoError(t, err)
	assert.True(t, expr.IsTrue(e))

	f := New(
		FixedTimeClause{Ref: "time", Ranges: []expr.TimeRange{expr.NewTimeRange(day(5), day(6))}},
		StringClause{Ref: "channel", Values: []any{"en"}},
	)
	e, err = f.ToExpression(c)
	require.NoError(t, err)
	assert.Equal(t, "$time.overlap([2024-03-05T00:00:00Z,2024-03-06T00:00:00Z)).and($channel.overlap(['en']))", expr.String(e))

	_, err = New(StringClause{Ref: "nope", Values: []any{"x"}}).ToExpression(c)
	assert.Error(t, err)
}

func TestFilterSpecific(t *testing.T) {
	f := New(
		RelativeTimeClause{Ref: "time", Period: PeriodLatest, Duration: duration.MustParse("P1D")},
		StringClause{Ref: "channel", Values: []any{"en"}},
	)
	assert.True(t, f.IsRelative())

	_, err := f.ToExpression(testutil.WikiCube())
	assert.Error(t, err)

	specific, err := f.Specific(testutil.Now, testutil.MaxTime, time.UTC)
	require.NoError(t, err)
	assert.False(t, specific.IsRelative())
	assert.True(t, f.IsRelative())

	r, ok := specific.TimeRange("time")
	require.True(t, ok)
	assert.Equal(t, testutil.MaxTime, r.End)
	assert.Equal(t, testutil.MaxTime.Add(-24*time.Hour), r.Start)
}

func TestFixedTimeExtent(t *testing.T) {
	c := FixedTimeClause{Ref: "time", Ranges: []expr.TimeRange{
		expr.NewTimeRange(day(3), day(4)),
		expr.NewTimeRange(day(1), day(2)),
		expr.NewTimeRange(day(7), day(9)),
	}}
	r, ok := c.Extent()
	require.True(t, ok)
	assert.Equal(t, day(1), r.Start)
	assert.Equal(t, day(9), r.End)
}

func TestFilterJSONRoundTrip(t *testing.T) {
	f := New(
		FixedTimeClause{Ref: "time", Ranges: []expr.TimeRange{expr.NewTimeRange(day(5), day(6))}},
		RelativeTimeClause{Ref: "time", Period: PeriodPrevious, Duration: duration.MustParse("P1W")},
		StringClause{Ref: "channel", Action: StringContains, Values: []any{"en"}, IgnoreCase: true, Not: true},
		BooleanClause{Ref: "isRobot", Values: []any{false, nil}},
		NumberClause{Ref: "delta", Ranges: []expr.NumberRange{expr.NewNumberRange(-10, 10), {End: ptr(0), Bounds: "[]"}}},
	)
	data, err := json.Marshal(f)
	require.NoError(t, err)

	var back Filter
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, f.Equal(back), "%s", data)
}

func TestFilterJSONRejects(t *testing.T) {
	for _, in := range []string{
		`[{"type":"string","reference":"x","extra":1}]`,
		`[{"type":"geo","reference":"x"}]`,
		`[{"type":"string"}]`,
		`[{"type":"relativeTime","reference":"time","period":"latest"}]`,
		`[{"type":"relativeTime","reference":"time","period":"soon","duration":"P1D"}]`,
	} {
		var f Filter
		assert.Error(t, json.Unmarshal([]byte(in), &f), in)
	}
}

func ptr(f float64) *float64 { return &f }
