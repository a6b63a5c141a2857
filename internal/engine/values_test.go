package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pivot/internal/duration"
	"github.com/roach88/pivot/internal/expr"
)

func TestArithmetic(t *testing.T) {
	tests := []struct {
		op   string
		a, b any
		want any
	}{
		{"add", 1.0, 2.0, 3.0},
		{"subtract", 1.0, 2.0, -1.0},
		{"multiply", 3.0, int64(2), 6.0},
		{"divide", 1.0, 4.0, 0.25},
		{"divide", 1.0, 0.0, nil},
		{"add", nil, 2.0, nil},
	}
	for _, tt := range tests {
		got, err := arithmetic(tt.op, tt.a, tt.b)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s(%v, %v)", tt.op, tt.a, tt.b)
	}

	_, err := arithmetic("add", "x", 1.0)
	assert.Error(t, err)
}

func TestCompareValues(t *testing.T) {
	t1 := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	assert.Equal(t, -1, compareValues(nil, 1.0))
	assert.Equal(t, 1, compareValues(1.0, nil))
	assert.Equal(t, 0, compareValues(nil, nil))
	assert.Equal(t, -1, compareValues(1.0, int64(2)))
	assert.Equal(t, 1, compareValues("b", "a"))
	assert.Equal(t, -1, compareValues(false, true))
	assert.Equal(t, -1, compareValues(t1, t2))
	assert.Equal(t, -1, compareValues(expr.NewTimeRange(t1, t2), expr.NewTimeRange(t2, t2.Add(time.Hour))))
	assert.Equal(t, 1, compareValues(expr.NewNumberRange(10, 20), expr.NewNumberRange(0, 10)))
	assert.NotEqual(t, 0, compareValues("a", 1.0))
}

func TestOverlaps(t *testing.T) {
	t1 := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	day := expr.NewTimeRange(t1, t1.Add(24*time.Hour))

	assert.True(t, overlaps(t1.Add(time.Hour), day))
	assert.False(t, overlaps(t1.Add(24*time.Hour), day))
	assert.True(t, overlaps(expr.NewTimeRange(t1.Add(-time.Hour), t1.Add(time.Hour)), day))
	assert.True(t, overlaps(15.0, expr.NewNumberRange(10, 20)))
	assert.False(t, overlaps(20.0, expr.NewNumberRange(10, 20)))
	assert.True(t, overlaps("en", expr.NewSet("de", "en")))
	assert.False(t, overlaps("fr", expr.NewSet("de", "en")))
	assert.True(t, overlaps("en", "en"))
}

func TestContainsAndMatch(t *testing.T) {
	assert.True(t, contains("London", "ond", ""))
	assert.False(t, contains("London", "OND", ""))
	assert.True(t, contains("London", "OND", expr.CompareIgnoreCase))
	assert.False(t, contains(nil, "x", ""))

	m, err := match("^Lon", "London")
	require.NoError(t, err)
	assert.Equal(t, true, m)

	m, err = match("^Lon", nil)
	require.NoError(t, err)
	assert.Nil(t, m)

	_, err = match("(", "x")
	assert.Error(t, err)
}

func TestBuckets(t *testing.T) {
	at := time.Date(2024, 3, 5, 13, 20, 0, 0, time.UTC)

	v, err := timeBucket(at, duration.MustParse("PT1H"), "")
	require.NoError(t, err)
	start := time.Date(2024, 3, 5, 13, 0, 0, 0, time.UTC)
	assert.Equal(t, expr.NewTimeRange(start, start.Add(time.Hour)), v)

	v, err = numberBucket(-5.0, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, expr.NewNumberRange(-10, 0), v)

	v, err = numberBucket(7.0, 10, 5)
	require.NoError(t, err)
	assert.Equal(t, expr.NewNumberRange(5, 15), v)

	_, err = numberBucket(7.0, 0, 0)
	assert.Error(t, err)

	v, err = timeShift(at, duration.MustParse("P1D"), -1, "")
	require.NoError(t, err)
	assert.Equal(t, at.Add(-24*time.Hour), v)
}

func TestScopeLookup(t *testing.T) {
	root := rootScope(relation{source: "wiki_edits"})
	outer := root.child(expr.Datum{"total": 10.0})
	inner := outer.child(expr.Datum{"total": 4.0, "channel": "en"})

	v, ok := inner.lookup("total", 0)
	require.True(t, ok)
	assert.Equal(t, 4.0, v)

	v, ok = inner.lookup("total", 1)
	require.True(t, ok)
	assert.Equal(t, 10.0, v)

	v, ok = inner.lookup("main", 0)
	require.True(t, ok)
	assert.Equal(t, relation{source: "wiki_edits"}, v)

	_, ok = inner.lookup("channel", 1)
	assert.False(t, ok)
}
