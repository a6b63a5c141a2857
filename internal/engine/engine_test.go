package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pivot/internal/cache"
	"github.com/roach88/pivot/internal/cube"
	"github.com/roach88/pivot/internal/duration"
	"github.com/roach88/pivot/internal/essence"
	"github.com/roach88/pivot/internal/expr"
	"github.com/roach88/pivot/internal/filter"
	"github.com/roach88/pivot/internal/granularity"
	"github.com/roach88/pivot/internal/series"
	"github.com/roach88/pivot/internal/split"
	"github.com/roach88/pivot/internal/store"
	"github.com/roach88/pivot/internal/testutil"
)

func openWiki(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	cols := make([]store.Column, len(testutil.WikiColumns))
	for i, c := range testutil.WikiColumns {
		cols[i] = store.Column{Name: c.Name, Kind: c.Kind}
	}
	ctx := context.Background()
	require.NoError(t, s.CreateSource(ctx, "wiki_edits", cols))
	_, err = s.InsertRows(ctx, "wiki_edits", testutil.WikiRows())
	require.NoError(t, err)
	return s
}

func newEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithIDGenerator(NewFixedGenerator("q-1", "q-2", "q-3", "q-4"))}, opts...)
	return New(openWiki(t), testutil.WikiSettings(), opts...)
}

func run(t *testing.T, e *Engine, q string) *expr.Dataset {
	t.Helper()
	ds, err := e.Execute(context.Background(), "wiki", expr.MustParse(q), "")
	require.NoError(t, err)
	return ds
}

func day(d int) time.Time {
	return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC)
}

func fixedDays(from, to int) filter.Filter {
	return filter.New(filter.FixedTimeClause{Ref: "time", Ranges: []expr.TimeRange{expr.NewTimeRange(day(from), day(to))}})
}

func channelSplit(limit int) split.Split {
	return split.Split{Type: cube.KindString, Reference: "channel", Sort: split.SeriesSort("count", split.Descending), Limit: limit}
}

func TestExecute_Totals(t *testing.T) {
	e := newEngine(t)
	ds := run(t, e, "ply().apply('count',$main.count()).apply('added',$main.sum($added)).apply('maxDelta',$main.max($delta))")

	require.Equal(t, 1, ds.Len())
	assert.Equal(t, 10.0, ds.Data[0]["count"])
	assert.Equal(t, 506.0, ds.Data[0]["added"])
	assert.Equal(t, 200.0, ds.Data[0]["maxDelta"])
	assert.NotContains(t, ds.Data[0], "main")
}

func TestExecute_SplitSortLimit(t *testing.T) {
	e := newEngine(t)
	ds := run(t, e, "$main.split($channel,'channel').apply('count',$main.count()).apply('added',$main.sum($added)).sort($count,'descending').limit(2)")

	require.Equal(t, 2, ds.Len())
	assert.Equal(t, expr.Datum{"channel": "en", "count": 5.0, "added": 286.0}, ds.Data[0])
	assert.Equal(t, expr.Datum{"channel": "de", "count": 3.0, "added": 175.0}, ds.Data[1])
}

func TestExecute_SplitKeyOrderAndNulls(t *testing.T) {
	e := newEngine(t)
	ds := run(t, e, "$main.split($cityName,'city').apply('count',$main.count())")

	require.Equal(t, 6, ds.Len())
	// null groups sort first
	assert.Nil(t, ds.Data[0]["city"])
	assert.Equal(t, 1.0, ds.Data[0]["count"])
	assert.Equal(t, "Berlin", ds.Data[1]["city"])
	assert.Equal(t, 2.0, ds.Data[1]["count"])
	assert.Equal(t, "Paris", ds.Data[5]["city"])
}

func TestExecute_BooleanSplit(t *testing.T) {
	e := newEngine(t)
	ds := run(t, e, "$main.split($isRobot,'isRobot').apply('count',$main.count())")

	require.Equal(t, 2, ds.Len())
	assert.Equal(t, expr.Datum{"isRobot": false, "count": 7.0}, ds.Data[0])
	assert.Equal(t, expr.Datum{"isRobot": true, "count": 3.0}, ds.Data[1])
}

func TestExecute_NumberBucketSplit(t *testing.T) {
	e := newEngine(t)
	ds := run(t, e, "$main.split($commentLength.numberBucket(10),'commentLength').apply('count',$main.count())")

	require.Equal(t, 6, ds.Len())
	assert.Equal(t, expr.NewNumberRange(0, 10), ds.Data[0]["commentLength"])
	assert.Equal(t, 3.0, ds.Data[0]["count"])
	assert.Equal(t, expr.NewNumberRange(50, 60), ds.Data[5]["commentLength"])
	assert.Equal(t, 1.0, ds.Data[5]["count"])
}

func TestExecute_TimeBucketSplit(t *testing.T) {
	e := newEngine(t)
	ds := run(t, e, "$main.split($time.timeBucket('P1D'),'time').apply('count',$main.count()).sort($time,'descending')")

	require.Equal(t, 2, ds.Len())
	assert.Equal(t, expr.NewTimeRange(day(6), day(7)), ds.Data[0]["time"])
	assert.Equal(t, 5.0, ds.Data[0]["count"])
	assert.Equal(t, expr.NewTimeRange(day(5), day(6)), ds.Data[1]["time"])
}

func TestExecute_FilteredAggregates(t *testing.T) {
	e := newEngine(t)
	ds := run(t, e, "ply().apply('en',$main.filter($channel.is('en')).count()).apply('robots',$main.filter($isRobot).count()).apply('london',$main.filter($cityName.match('^Lon')).sum($added))")

	require.Equal(t, 1, ds.Len())
	assert.Equal(t, 5.0, ds.Data[0]["en"])
	assert.Equal(t, 3.0, ds.Data[0]["robots"])
	assert.Equal(t, 285.0, ds.Data[0]["london"])
}

func TestExecute_Quantile(t *testing.T) {
	e := newEngine(t)
	ds := run(t, e, "ply().apply('median',$main.quantile($delta,0.5))")
	assert.InDelta(t, 22.5, ds.Data[0]["median"], 1e-9)

	// per group, after the GROUP BY
	ds = run(t, e, "$main.split($channel,'channel').apply('median',$main.quantile($delta,0.5))")
	require.Equal(t, 3, ds.Len())
	assert.Equal(t, "de", ds.Data[0]["channel"])
	assert.InDelta(t, 45.0, ds.Data[0]["median"], 1e-9)
}

func TestExecute_DivisionByZeroIsNull(t *testing.T) {
	e := newEngine(t)
	ds := run(t, e, "ply().apply('count',$main.count()).apply('ratio',$count / 0).apply('share',$main.sum($added) / $main.count())")

	assert.Nil(t, ds.Data[0]["ratio"])
	assert.InDelta(t, 50.6, ds.Data[0]["share"], 1e-9)
}

func TestExecute_InProcessFilterAndSort(t *testing.T) {
	e := newEngine(t)
	ds := run(t, e, "$main.split($channel,'channel').apply('count',$main.count()).apply('half',$count / 2).filter($channel.in(['en','fr'])).sort($half,'ascending')")

	require.Equal(t, 2, ds.Len())
	assert.Equal(t, "fr", ds.Data[0]["channel"])
	assert.Equal(t, 1.0, ds.Data[0]["half"])
	assert.Equal(t, "en", ds.Data[1]["channel"])
}

func TestExecute_NestedSplitSeesParent(t *testing.T) {
	e := newEngine(t)
	ds := run(t, e, "ply().apply('total',$main.count()).apply('SPLIT',$main.split($channel,'channel').apply('count',$main.count()).apply('share',$count / $^total).sort($count,'descending').limit(1))")

	require.Equal(t, 1, ds.Len())
	inner, ok := ds.Data[0]["SPLIT"].(*expr.Dataset)
	require.True(t, ok)
	require.Equal(t, 1, inner.Len())
	assert.Equal(t, "en", inner.Data[0]["channel"])
	assert.InDelta(t, 0.5, inner.Data[0]["share"], 1e-9)
	assert.NotContains(t, inner.Data[0], "main")
}

func TestExecuteEssence_NestedPercent(t *testing.T) {
	e := newEngine(t)
	es, err := essence.New(essence.Essence{
		DataCube:      testutil.WikiCube(),
		Visualization: "table",
		Filter:        fixedDays(5, 7),
		Splits: split.New(channelSplit(5), split.Split{
			Type:      cube.KindTime,
			Reference: "time",
			Bucket:    granularity.Time(duration.MustParse("PT1H")),
			Sort:      split.DimensionSort("time", split.Ascending),
		}),
		Series: series.NewList(
			series.MeasureSeries{Ref: "count"},
			series.ExpressionSeries{Ref: "added", Expression: series.PercentExpression{Operation: series.PercentOfParent}},
		),
	})
	require.NoError(t, err)

	tk := essence.NewTimekeeper(testutil.Now).WithMaxTime("wiki", testutil.MaxTime)
	q, ds, err := e.ExecuteEssence(context.Background(), es, tk)
	require.NoError(t, err)
	require.NotNil(t, q)

	root := ds.Data[0]
	assert.Equal(t, 10.0, root["count"])
	assert.EqualValues(t, 1, root["added__percent_of_parent"])

	channels := root["SPLIT"].(*expr.Dataset)
	require.Equal(t, 3, channels.Len())
	en := channels.Data[0]
	assert.Equal(t, "en", en["channel"])
	assert.InDelta(t, 286.0/506.0, en["added__percent_of_parent"], 1e-9)

	hours := en["SPLIT"].(*expr.Dataset)
	require.Equal(t, 5, hours.Len())
	first := time.Date(2024, 3, 5, 1, 0, 0, 0, time.UTC)
	assert.Equal(t, expr.NewTimeRange(first, first.Add(time.Hour)), hours.Data[0]["time"])
	assert.InDelta(t, 10.0/286.0, hours.Data[0]["added__percent_of_parent"], 1e-9)
	assert.EqualValues(t, 3600000, hours.Data[0]["MillisecondsInInterval"])
}

func TestExecuteEssence_PercentOfTotalAndArithmetic(t *testing.T) {
	e := newEngine(t)
	es, err := essence.New(essence.Essence{
		DataCube:      testutil.WikiCube(),
		Visualization: "table",
		Filter:        fixedDays(5, 7),
		Splits: split.New(channelSplit(5), split.Split{
			Type:      cube.KindTime,
			Reference: "time",
			Bucket:    granularity.Time(duration.MustParse("PT1H")),
			Sort:      split.DimensionSort("time", split.Ascending),
		}),
		Series: series.NewList(
			series.MeasureSeries{Ref: "count"},
			series.ExpressionSeries{Ref: "added", Expression: series.PercentExpression{Operation: series.PercentOfTotal}},
			series.ExpressionSeries{Ref: "added", Expression: series.ArithmeticExpression{Operation: series.OpSubtract, Ref: "deleted"}},
		),
	})
	require.NoError(t, err)

	_, ds, err := e.ExecuteEssence(context.Background(), es, essence.NewTimekeeper(testutil.Now))
	require.NoError(t, err)

	root := ds.Data[0]
	assert.EqualValues(t, 1, root["added__percent_of_total"])
	assert.InDelta(t, 506.0-50.0, root["added__subtract__deleted"], 1e-9)

	channels := root["SPLIT"].(*expr.Dataset)
	require.Equal(t, 3, channels.Len())
	en, de := channels.Data[0], channels.Data[1]
	assert.Equal(t, "en", en["channel"])
	assert.InDelta(t, 286.0/506.0, en["added__percent_of_total"], 1e-9)
	assert.InDelta(t, 286.0-20.0, en["added__subtract__deleted"], 1e-9)
	assert.Equal(t, "de", de["channel"])
	assert.InDelta(t, 175.0/506.0, de["added__percent_of_total"], 1e-9)
	assert.InDelta(t, 175.0-30.0, de["added__subtract__deleted"], 1e-9)

	// two levels down, still a share of the grand total
	hours := en["SPLIT"].(*expr.Dataset)
	require.Equal(t, 5, hours.Len())
	assert.InDelta(t, 10.0/506.0, hours.Data[0]["added__percent_of_total"], 1e-9)
	assert.InDelta(t, 210.0/506.0, hours.Data[3]["added__percent_of_total"], 1e-9)
	assert.InDelta(t, 200.0, hours.Data[3]["added__subtract__deleted"], 1e-9)
}

func TestExecuteEssence_Comparison(t *testing.T) {
	e := newEngine(t)
	es, err := essence.New(essence.Essence{
		DataCube:      testutil.WikiCube(),
		Visualization: "table",
		Filter:        fixedDays(6, 7),
		TimeShift:     duration.MustParse("P1D"),
		Splits:        split.New(channelSplit(3)),
		Series:        series.FromMeasures("count"),
	})
	require.NoError(t, err)

	_, ds, err := e.ExecuteEssence(context.Background(), es, essence.NewTimekeeper(testutil.Now))
	require.NoError(t, err)

	root := ds.Data[0]
	assert.Equal(t, 5.0, root["count"])
	assert.Equal(t, 5.0, root["_previous__count"])
	assert.Equal(t, 0.0, root["_delta__count"])

	channels := root["SPLIT"].(*expr.Dataset)
	require.Equal(t, 3, channels.Len())
	// ties on count break by key
	assert.Equal(t, "de", channels.Data[0]["channel"])
	assert.Equal(t, 1.0, channels.Data[0]["_previous__count"])
	assert.Equal(t, "en", channels.Data[1]["channel"])
	assert.Equal(t, -1.0, channels.Data[1]["_delta__count"])
}

func TestExecuteEssence_TooManySplits(t *testing.T) {
	e := newEngine(t)
	c := testutil.WikiCube()
	c.MaxSplits = 1
	es, err := essence.New(essence.Essence{
		DataCube:      c,
		Visualization: "table",
		Filter:        fixedDays(5, 7),
		Splits: split.New(channelSplit(5), split.Split{
			Type:      cube.KindString,
			Reference: "cityName",
			Sort:      split.SeriesSort("count", split.Descending),
			Limit:     5,
		}),
		Series:        series.FromMeasures("count"),
	})
	require.NoError(t, err)

	_, _, err = e.ExecuteEssence(context.Background(), es, essence.NewTimekeeper(testutil.Now))
	var qe *QueryError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, ErrCodeTooManySplits, qe.Code)
	assert.True(t, IsInvalidQuery(err))
}

func TestExecute_Errors(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		dataCube string
		query    string
		code     QueryErrorCode
	}{
		{"unknown cube", "nope", "ply().apply('count',$main.count())", ErrCodeInvalidQuery},
		{"unknown reference", "wiki", "ply().apply('x',$nope.count())", ErrCodeInvalidQuery},
		{"not a dataset", "wiki", "$main.count()", ErrCodeInvalidQuery},
		{"unknown column", "wiki", "$main.split($nope,'x')", ErrCodeInvalidQuery},
		{"unknown aggregate column", "wiki", "ply().apply('x',$main.sum($nope))", ErrCodeInvalidQuery},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t)
			_, err := e.Execute(ctx, tt.dataCube, expr.MustParse(tt.query), "")
			var qe *QueryError
			require.True(t, errors.As(err, &qe), "got %v", err)
			assert.Equal(t, tt.code, qe.Code, qe.Message)
			assert.Equal(t, tt.dataCube, qe.DataCube)
		})
	}
}

func TestExecute_SourceNotLoaded(t *testing.T) {
	s, err := store.OpenMemory()
	require.NoError(t, err)
	defer s.Close()

	e := New(s, testutil.WikiSettings())
	_, err = e.Execute(context.Background(), "wiki", expr.MustParse("ply().apply('count',$main.count())"), "")
	require.Error(t, err)
	assert.True(t, IsInvalidQuery(err))
	assert.Contains(t, err.Error(), "not loaded")
}

func TestExecute_Quota(t *testing.T) {
	e := newEngine(t, WithMaxStatements(2))

	// one GROUP BY, then one statement per group for the quantile
	_, err := e.Execute(context.Background(), "wiki",
		expr.MustParse("$main.split($channel,'channel').apply('median',$main.quantile($delta,0.5))"), "")
	var qe *QueryError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, ErrCodeQuotaExceeded, qe.Code)
	assert.Equal(t, "2", qe.Details["max_statements"])
	assert.True(t, IsStatementsExceededError(err))

	// the GROUP BY alone fits
	_, err = e.Execute(context.Background(), "wiki",
		expr.MustParse("$main.split($channel,'channel').apply('count',$main.count())"), "")
	assert.NoError(t, err)
}

func TestExecute_Cancelled(t *testing.T) {
	e := newEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Execute(ctx, "wiki", expr.MustParse("ply().apply('count',$main.count())"), "")
	require.Error(t, err)
	assert.True(t, IsCancelled(err))
	assert.False(t, IsInvalidQuery(err))
}

func TestExecute_Cache(t *testing.T) {
	c, err := cache.OpenInMemory(0)
	require.NoError(t, err)
	defer c.Close()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	e := newEngine(t, WithCache(c), WithMetrics(m))

	q := "$main.split($channel,'channel').apply('count',$main.count())"
	first := run(t, e, q)
	n, err := c.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	second := run(t, e, q)
	assert.Equal(t, first, second)

	assert.Equal(t, 1.0, promtest.ToFloat64(m.cache.WithLabelValues("miss")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.cache.WithLabelValues("hit")))
	assert.Equal(t, 2.0, promtest.ToFloat64(m.queries.WithLabelValues("wiki", "ok")))

	// another timezone is another entry
	_, err = e.Execute(context.Background(), "wiki", expr.MustParse(q), "Europe/Berlin")
	require.NoError(t, err)
	n, err = c.Len()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestExecute_MetricsRecordFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	e := newEngine(t, WithMetrics(m))

	_, err := e.Execute(context.Background(), "wiki", expr.MustParse("$main.count()"), "")
	require.Error(t, err)
	assert.Equal(t, 1.0, promtest.ToFloat64(m.queries.WithLabelValues("wiki", "invalid_query")))

	count, err := promtest.GatherAndCount(reg, "pivot_query_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestTimekeeper(t *testing.T) {
	e := newEngine(t)
	tk := e.Timekeeper(context.Background(), testutil.Now)

	c, ok := e.Settings().GetDataCube("wiki")
	require.True(t, ok)
	assert.Equal(t, testutil.MaxTime, tk.MaxTimeFor(c))
	assert.Equal(t, testutil.Now, tk.Now)
}

func TestTimekeeper_SkipsUnloadedSources(t *testing.T) {
	s, err := store.OpenMemory()
	require.NoError(t, err)
	defer s.Close()

	e := New(s, testutil.WikiSettings())
	tk := e.Timekeeper(context.Background(), testutil.Now)
	assert.Empty(t, tk.MaxTimes)
}

func TestMaxTime_NoTimeAttribute(t *testing.T) {
	e := newEngine(t)
	c := testutil.WikiCube()
	c.TimeAttribute = ""
	_, ok, err := e.MaxTime(context.Background(), c)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExecute_StatementHook(t *testing.T) {
	var seen []string
	e := newEngine(t, WithStatementHook(func(queryID, sql string) {
		assert.Equal(t, "q-1", queryID)
		seen = append(seen, sql)
	}))
	run(t, e, "$main.split($channel,'channel').apply('count',$main.count())")

	require.Len(t, seen, 1)
	assert.Contains(t, seen[0], "GROUP BY 1")
	assert.Contains(t, seen[0], `FROM "wiki_edits"`)
}
