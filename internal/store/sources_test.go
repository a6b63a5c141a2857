package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pivot/internal/cube"
	"github.com/roach88/pivot/internal/expr"
	"github.com/roach88/pivot/internal/querysql"
	"github.com/roach88/pivot/internal/testutil"
)

func openWiki(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	cols := make([]Column, len(testutil.WikiColumns))
	for i, c := range testutil.WikiColumns {
		cols[i] = Column{Name: c.Name, Kind: c.Kind}
	}
	ctx := context.Background()
	require.NoError(t, s.CreateSource(ctx, "wiki_edits", cols))
	n, err := s.InsertRows(ctx, "wiki_edits", testutil.WikiRows())
	require.NoError(t, err)
	require.Equal(t, 10, n)
	return s
}

func TestCreateSource(t *testing.T) {
	ctx := context.Background()
	s := openWiki(t)

	sources, err := s.Sources(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"wiki_edits"}, sources)

	cols, err := s.Columns(ctx, "wiki_edits")
	require.NoError(t, err)
	require.Len(t, cols, len(testutil.WikiColumns))
	assert.Equal(t, Column{Name: "time", Kind: cube.KindTime}, cols[0])
	assert.Equal(t, Column{Name: "deleted", Kind: cube.KindNumber}, cols[7])

	err = s.CreateSource(ctx, "wiki_edits", cols)
	assert.Error(t, err, "duplicate source")
}

func TestCreateSource_Rejects(t *testing.T) {
	ctx := context.Background()
	s, err := OpenMemory()
	require.NoError(t, err)
	defer s.Close()

	assert.Error(t, s.CreateSource(ctx, "", []Column{{Name: "a", Kind: cube.KindString}}))
	assert.Error(t, s.CreateSource(ctx, "t", nil))
	assert.Error(t, s.CreateSource(ctx, "t", []Column{{Name: "a", Kind: "blob"}}))
	assert.Error(t, s.CreateSource(ctx, "t", []Column{
		{Name: "a", Kind: cube.KindString},
		{Name: "a", Kind: cube.KindNumber},
	}))

	sources, err := s.Sources(ctx)
	require.NoError(t, err)
	assert.Empty(t, sources, "failed creates leave no catalog rows")
}

func TestColumns_NotFound(t *testing.T) {
	s, err := OpenMemory()
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Columns(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestInsertRows_StoredForms(t *testing.T) {
	ctx := context.Background()
	s := openWiki(t)

	rows, err := s.Query(ctx, `SELECT "time", "cityName", "isRobot", "delta" FROM "wiki_edits" ORDER BY "time" LIMIT 1`)
	require.NoError(t, err)
	defer rows.Close()
	require.True(t, rows.Next())

	var at, robot, delta, city any
	require.NoError(t, rows.Scan(&at, &city, &robot, &delta))
	assert.Equal(t, time.Date(2024, 3, 5, 1, 0, 0, 0, time.UTC).UnixMilli(), at)
	assert.Equal(t, int64(0), robot)

	assert.Equal(t, time.Date(2024, 3, 5, 1, 0, 0, 0, time.UTC), FromStored(at, cube.KindTime))
	assert.Equal(t, false, FromStored(robot, cube.KindBoolean))
	assert.Equal(t, 10.0, FromStored(delta, cube.KindNumber))
	assert.Equal(t, "London", FromStored(city, cube.KindString))
}

func TestInsertRows_Rejects(t *testing.T) {
	ctx := context.Background()
	s := openWiki(t)

	_, err := s.InsertRows(ctx, "wiki_edits", [][]any{{"too", "short"}})
	assert.Error(t, err)

	row := testutil.WikiRows()[0]
	row[0] = "yesterday"
	_, err = s.InsertRows(ctx, "wiki_edits", [][]any{row})
	assert.Error(t, err)

	_, err = s.InsertRows(ctx, "nope", nil)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFromStored(t *testing.T) {
	assert.Nil(t, FromStored(nil, cube.KindString))
	assert.Equal(t, "x", FromStored([]byte("x"), cube.KindString))
	assert.Equal(t, 3.0, FromStored(int64(3), cube.KindNumber))
	assert.Equal(t, true, FromStored(int64(1), cube.KindBoolean))
	assert.Equal(t, time.UnixMilli(0).UTC(), FromStored(0.0, cube.KindTime))
}

func TestLoadCSV_CreatesSource(t *testing.T) {
	ctx := context.Background()
	s, err := OpenMemory()
	require.NoError(t, err)
	defer s.Close()

	data := "time:time,channel:string,added:number,isRobot:boolean\n" +
		"2024-03-05T01:00:00Z,en,10,false\n" +
		"2024-03-05T02:00:00Z,,3.5,true\n"
	n, err := s.LoadCSV(ctx, "edits", strings.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	cols, err := s.Columns(ctx, "edits")
	require.NoError(t, err)
	assert.Equal(t, []Column{
		{Name: "time", Kind: cube.KindTime},
		{Name: "channel", Kind: cube.KindString},
		{Name: "added", Kind: cube.KindNumber},
		{Name: "isRobot", Kind: cube.KindBoolean},
	}, cols)

	rows, err := s.Query(ctx, `SELECT COUNT(*), COUNT("channel"), TOTAL("added") FROM "edits"`)
	require.NoError(t, err)
	defer rows.Close()
	require.True(t, rows.Next())
	var count, channels int64
	var added float64
	require.NoError(t, rows.Scan(&count, &channels, &added))
	assert.Equal(t, int64(2), count)
	assert.Equal(t, int64(1), channels, "empty cells are null")
	assert.Equal(t, 13.5, added)
}

func TestLoadCSV_AppendsByName(t *testing.T) {
	ctx := context.Background()
	s := openWiki(t)

	data := "channel,time,isRobot\nit,2024-03-06T13:00:00Z,true\n"
	n, err := s.LoadCSV(ctx, "wiki_edits", strings.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	max, ok, err := s.MaxTime(ctx, "wiki_edits", "time")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 6, 13, 0, 0, 0, time.UTC), max)
}

func TestLoadCSV_Rejects(t *testing.T) {
	ctx := context.Background()
	s := openWiki(t)

	_, err := s.LoadCSV(ctx, "wiki_edits", strings.NewReader("bogus\nx\n"))
	assert.Error(t, err, "unknown column")

	_, err = s.LoadCSV(ctx, "wiki_edits", strings.NewReader("channel:number\n1\n"))
	assert.Error(t, err, "kind mismatch")

	_, err = s.LoadCSV(ctx, "fresh", strings.NewReader("a,b:string\nx,y\n"))
	assert.True(t, errors.Is(err, ErrNotFound), "undeclared kinds cannot create a source")

	_, err = s.LoadCSV(ctx, "fresh", strings.NewReader(""))
	assert.Error(t, err)
}

func TestMaxTime(t *testing.T) {
	ctx := context.Background()
	s := openWiki(t)

	max, ok, err := s.MaxTime(ctx, "wiki_edits", "time")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, testutil.MaxTime, max)

	require.NoError(t, s.CreateSource(ctx, "empty", []Column{{Name: "time", Kind: cube.KindTime}}))
	_, ok, err = s.MaxTime(ctx, "empty", "time")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSources_CreationOrder(t *testing.T) {
	ctx := context.Background()
	s, err := OpenMemory()
	require.NoError(t, err)
	defer s.Close()

	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, s.CreateSource(ctx, name, []Column{{Name: "b", Kind: cube.KindString}, {Name: "a", Kind: cube.KindNumber}}))
	}
	sources, err := s.Sources(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, sources)

	cols, err := s.Columns(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, []Column{{Name: "b", Kind: cube.KindString}, {Name: "a", Kind: cube.KindNumber}}, cols)
}

func TestQuery_CompiledGroupOrder(t *testing.T) {
	ctx := context.Background()
	s := openWiki(t)

	sql, params, err := querysql.NewSQLCompiler().Compile(querysql.AggregateQuery{
		Source:     "wiki_edits",
		Key:        expr.R("channel"),
		Aggregates: []querysql.Aggregate{{Name: "count", Expression: expr.Count{Operand: expr.Main()}}},
		OrderBy:    "count",
		Direction:  expr.Descending,
		Limit:      10,
	})
	require.NoError(t, err)

	rows, err := s.Query(ctx, sql, params...)
	require.NoError(t, err)
	defer rows.Close()

	var got []string
	var counts []int
	for rows.Next() {
		var channel string
		var n int
		require.NoError(t, rows.Scan(&channel, &n))
		got = append(got, channel)
		counts = append(counts, n)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"en", "de", "fr"}, got)
	assert.Equal(t, []int{5, 3, 2}, counts)
}
