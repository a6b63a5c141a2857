// Package testutil holds fixtures shared by package tests: a wiki edits data
// cube, its rows and a settable clock.
package testutil

import (
	"time"

	"github.com/roach88/pivot/internal/cube"
	"github.com/roach88/pivot/internal/duration"
	"github.com/roach88/pivot/internal/granularity"
)

// Now is the reference time of all fixtures: a Wednesday.
var Now = time.Date(2024, 3, 6, 15, 42, 10, 0, time.UTC)

// MaxTime is the latest row time in WikiRows.
var MaxTime = time.Date(2024, 3, 6, 12, 30, 0, 0, time.UTC)

// WikiCube returns a fresh copy of the wiki edits cube with defaults
// applied. Tests may modify it.
//
// Dimensions: time, channel, cityName, isRobot (boolean), delta (number),
// commentLength (number, pre-bucketed by 10). Measures: count, added,
// deleted, avgDelta, p95 (quantile of delta).
func WikiCube() *cube.DataCube {
	c := &cube.DataCube{
		Name:          "wiki",
		ClusterName:   "local",
		Source:        "wiki_edits",
		TimeAttribute: "time",
		Dimensions: []cube.Dimension{
			{Name: "time", Kind: cube.KindTime},
			{Name: "channel"},
			{Name: "cityName"},
			{Name: "isRobot", Kind: cube.KindBoolean},
			{Name: "delta", Kind: cube.KindNumber},
			{Name: "commentLength", Kind: cube.KindNumber, BucketedBy: granularity.Number(10)},
		},
		Measures: []cube.Measure{
			{Name: "count", Formula: "$main.count()"},
			{Name: "added", Format: "0,0"},
			{Name: "deleted", LowerIsBetter: true},
			{Name: "avgDelta", Formula: "$main.average($delta)"},
			{Name: "p95", Formula: "$main.quantile($delta,0.95)"},
		},
		DefaultDuration: duration.MustParse("P1D"),
	}
	c.ApplyDefaults()
	return c
}

// WikiSettings wraps WikiCube with a sqlite cluster.
func WikiSettings() *cube.AppSettings {
	s := &cube.AppSettings{
		Clusters:  []cube.Cluster{{Name: "local", Type: cube.ClusterTypeSQLite}},
		DataCubes: []cube.DataCube{*WikiCube()},
	}
	s.ApplyDefaults()
	return s
}

// WikiColumns lists the source columns of WikiRows with their kinds.
var WikiColumns = []struct {
	Name string
	Kind cube.Kind
}{
	{"time", cube.KindTime},
	{"channel", cube.KindString},
	{"cityName", cube.KindString},
	{"isRobot", cube.KindBoolean},
	{"delta", cube.KindNumber},
	{"commentLength", cube.KindNumber},
	{"added", cube.KindNumber},
	{"deleted", cube.KindNumber},
}

// WikiRows returns the fixture rows, ordered by time. Values line up with
// WikiColumns.
func WikiRows() [][]any {
	at := func(day, hour, minute int) time.Time {
		return time.Date(2024, 3, day, hour, minute, 0, 0, time.UTC)
	}
	return [][]any{
		{at(5, 1, 0), "en", "London", false, 10.0, 12.0, 10.0, 0.0},
		{at(5, 2, 30), "en", "Paris", true, -5.0, 40.0, 0.0, 5.0},
		{at(5, 9, 15), "de", "Berlin", false, 120.0, 7.0, 130.0, 10.0},
		{at(5, 13, 0), "fr", "Paris", false, 30.0, 22.0, 30.0, 0.0},
		{at(5, 23, 59), "en", nil, true, 1.0, 3.0, 1.0, 0.0},
		{at(6, 0, 5), "de", "Munich", false, -20.0, 55.0, 0.0, 20.0},
		{at(6, 4, 45), "en", "London", false, 200.0, 18.0, 210.0, 10.0},
		{at(6, 8, 0), "fr", "Lyon", true, 15.0, 31.0, 15.0, 0.0},
		{at(6, 11, 20), "en", "London", false, 60.0, 9.0, 65.0, 5.0},
		{at(6, 12, 30), "de", "Berlin", false, 45.0, 14.0, 45.0, 0.0},
	}
}
