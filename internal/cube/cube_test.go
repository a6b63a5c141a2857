package cube

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeTitle(t *testing.T) {
	tests := map[string]string{
		"cityName":   "City Name",
		"is_robot":   "Is Robot",
		"page-views": "Page Views",
		"count":      "Count",
		"p95":        "P95",
		"":           "",
	}
	for in, want := range tests {
		assert.Equal(t, want, MakeTitle(in), "MakeTitle(%q)", in)
	}
}

func TestLoadYAML(t *testing.T) {
	settings, err := LoadFile("testdata/wiki.yaml")
	require.NoError(t, err)

	assert.Equal(t, "Wiki Explorer", settings.Customization.Title)
	require.Len(t, settings.Clusters, 1)
	assert.Equal(t, "PT30S", settings.Clusters[0].Timeout.String())

	c, ok := settings.GetDataCube("wiki")
	require.True(t, ok)
	assert.Equal(t, "Wiki", c.Title)
	assert.Equal(t, "wiki_edits", c.Source)
	assert.Equal(t, "P3D", c.DefaultDuration.String())
	assert.Equal(t, "Etc/UTC", c.DefaultTimezone)
	assert.Equal(t, DefaultMaxSplits, c.MaxSplits)
	assert.Equal(t, "count", c.DefaultSortMeasure)
	assert.Equal(t, []string{"count", "added", "deleted", "p95"}, c.DefaultSelectedMeasures)

	tm, ok := c.TimeDimension()
	require.True(t, ok)
	assert.Equal(t, KindTime, tm.Kind)
	assert.Len(t, tm.Granularities, 5)
	assert.True(t, tm.CanBucketByDefault())

	city, ok := c.GetDimension("cityName")
	require.True(t, ok)
	assert.Equal(t, "City Name", city.Title)
	assert.Equal(t, "$cityName", city.Formula)
	assert.Equal(t, KindString, city.Kind)

	delta, _ := c.GetDimension("delta")
	assert.True(t, delta.IsContinuous())
	assert.False(t, delta.CanBucketByDefault())

	added, ok := c.GetMeasure("added")
	require.True(t, ok)
	assert.Equal(t, "$main.sum($added)", added.Formula)
	assert.False(t, added.IsQuantile())

	p95, _ := c.GetMeasure("p95")
	assert.Equal(t, "Delta P95", p95.Title)
	assert.True(t, p95.IsQuantile())

	assert.Len(t, c.ContinuousDimensions(), 2)
	assert.True(t, c.IsTimeAttribute("time"))
	assert.False(t, c.IsTimeAttribute("channel"))
}

func TestLoadCUEDirectory(t *testing.T) {
	settings, err := LoadFile("testdata/cuedir")
	require.NoError(t, err)

	c, ok := settings.GetDataCube("wiki")
	require.True(t, ok)
	assert.Equal(t, "wiki_edits", c.Source)
	assert.Len(t, c.Dimensions, 3)
	assert.Equal(t, KindTime, c.Dimensions[0].Kind)
	assert.Equal(t, KindBoolean, c.Dimensions[2].Kind)
	assert.Equal(t, "P1D", c.DefaultDuration.String())
}

func TestLoadCUEFileUnknownField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.cue")
	src := `dataCubes: [{name: "x", dimensions: [], measures: [], colour: "red"}]`
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))

	_, err := LoadFile(path)
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ErrCodeDecode, le.Code)
	assert.Contains(t, le.Message, "colour")
}

func TestLoadCUESyntaxError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.cue")
	require.NoError(t, os.WriteFile(path, []byte("dataCubes: [{\n"), 0o644))

	_, err := LoadFile(path)
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ErrCodeBuildFailed, le.Code)
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile("testdata/missing.yaml")
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ErrCodeNotFound, le.Code)

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	_, err = LoadFile(path)
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ErrCodeLoadFailed, le.Code)

	_, err = LoadFile(t.TempDir())
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ErrCodeNoFiles, le.Code)
}

func TestParseYAMLUnknownField(t *testing.T) {
	_, err := ParseYAML([]byte("dataCubes: []\nextra: 1\n"))
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ErrCodeDecode, le.Code)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	_, err := LoadFile("testdata/invalid.yaml")
	var invalid *InvalidError
	require.ErrorAs(t, err, &invalid)

	codes := map[string]int{}
	for _, e := range invalid.Errors {
		codes[e.Code]++
	}
	assert.Equal(t, 1, codes[ErrInvalidSource])
	assert.Equal(t, 1, codes[ErrDuplicateName])
	assert.Equal(t, 1, codes[ErrInvalidFormula])
	assert.Equal(t, 1, codes[ErrInvalidLimit])
	assert.Equal(t, 1, codes[ErrUnknownReference], "defaultSortMeasure")
	// geo kind plus a non-time timeAttribute
	assert.Equal(t, 2, codes[ErrInvalidKind])
	// granularity on a string dimension plus a short menu
	assert.Equal(t, 2, codes[ErrInvalidGranularity])
}

func TestValidateSettings(t *testing.T) {
	s := AppSettings{
		Clusters: []Cluster{{Name: "a", Type: "druid"}, {Name: "a", Type: ClusterTypeSQLite}},
		DataCubes: []DataCube{
			{Name: "x", ClusterName: "nope", DefaultTimezone: "Mars/Olympus"},
			{Name: "x"},
		},
		Customization: Customization{Timezones: []string{"Not/AZone"}},
	}
	s.ApplyDefaults()
	s.DataCubes[0].DefaultTimezone = "Mars/Olympus"

	codes := map[string]int{}
	for _, e := range s.Validate() {
		codes[e.Code]++
	}
	assert.Equal(t, 2, codes[ErrInvalidCluster])
	assert.Equal(t, 2, codes[ErrDuplicateName])
	assert.Equal(t, 2, codes[ErrInvalidTimezone])
}

func TestValidationErrorString(t *testing.T) {
	e := ValidationError{Field: "wiki.source", Message: "bad", Code: ErrInvalidSource}
	assert.Equal(t, "[E210] wiki.source: bad", e.Error())
	e.Line = 4
	assert.Equal(t, "[E210] line 4: wiki.source: bad", e.Error())
}
