package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wikiConfig = "../../../cube/testdata/wiki.yaml"

// writeScenario writes body to a scenario file in a temp dir.
func writeScenario(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// absConfig returns the absolute path of the wiki config, for scenarios
// written outside testdata.
func absConfig(t *testing.T) string {
	t.Helper()
	path, err := filepath.Abs("../cube/testdata/wiki.yaml")
	require.NoError(t, err)
	return path
}

func TestLoadScenario_Valid(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/add_time_split.yaml")
	require.NoError(t, err)

	assert.Equal(t, "add_time_split", s.Name)
	assert.Equal(t, filepath.Join("testdata", "scenarios", wikiConfig), s.Config)
	assert.Equal(t, "wiki", s.View["dataCube"])
	require.Len(t, s.Steps, 1)
	assert.Equal(t, ActionAddSplit, s.Steps[0].Action)
	assert.Equal(t, "time", s.Steps[0].Split["reference"])
	assert.Len(t, s.Assertions, 4)
}

func TestLoadScenario_ResolvesData(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/latest_day.yaml")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("testdata", "wiki.csv"), s.Data)
}

func TestLoadScenario_NotFound(t *testing.T) {
	_, err := LoadScenario("testdata/scenarios/nonexistent.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_UnknownField(t *testing.T) {
	cfg := absConfig(t)
	path := writeScenario(t, `
name: typo
description: "misspelled assertions"
config: `+cfg+`
view: {dataCube: wiki}
assertion:
  - {type: visualization, value: totals}
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenario_Invalid(t *testing.T) {
	cfg := absConfig(t)
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "missing name",
			body: "description: d\nconfig: " + cfg + "\nview: {dataCube: wiki}\nassertions: [{type: visualization, value: totals}]\n",
			want: "name is required",
		},
		{
			name: "missing description",
			body: "name: n\nconfig: " + cfg + "\nview: {dataCube: wiki}\nassertions: [{type: visualization, value: totals}]\n",
			want: "description is required",
		},
		{
			name: "missing config",
			body: "name: n\ndescription: d\nview: {dataCube: wiki}\nassertions: [{type: visualization, value: totals}]\n",
			want: "config is required",
		},
		{
			name: "missing view",
			body: "name: n\ndescription: d\nconfig: " + cfg + "\nassertions: [{type: visualization, value: totals}]\n",
			want: "view is required",
		},
		{
			name: "missing assertions",
			body: "name: n\ndescription: d\nconfig: " + cfg + "\nview: {dataCube: wiki}\n",
			want: "assertions list is required",
		},
		{
			name: "config not found",
			body: "name: n\ndescription: d\nconfig: nowhere.yaml\nview: {dataCube: wiki}\nassertions: [{type: visualization, value: totals}]\n",
			want: "config file not found",
		},
		{
			name: "data not found",
			body: "name: n\ndescription: d\nconfig: " + cfg + "\ndata: nowhere.csv\nview: {dataCube: wiki}\nassertions: [{type: visualization, value: totals}]\n",
			want: "data file not found",
		},
		{
			name: "bad now",
			body: "name: n\ndescription: d\nconfig: " + cfg + "\nnow: yesterday\nview: {dataCube: wiki}\nassertions: [{type: visualization, value: totals}]\n",
			want: "now:",
		},
		{
			name: "unknown action",
			body: "name: n\ndescription: d\nconfig: " + cfg + "\nview: {dataCube: wiki}\nsteps: [{action: explode}]\nassertions: [{type: visualization, value: totals}]\n",
			want: `steps[0]: unknown action "explode"`,
		},
		{
			name: "split step without split",
			body: "name: n\ndescription: d\nconfig: " + cfg + "\nview: {dataCube: wiki}\nsteps: [{action: add_split}]\nassertions: [{type: visualization, value: totals}]\n",
			want: "steps[0]: split is required for add_split",
		},
		{
			name: "unknown strategy",
			body: "name: n\ndescription: d\nconfig: " + cfg + "\nview: {dataCube: wiki}\nsteps: [{action: remove_split, reference: channel, strategy: sneaky}]\nassertions: [{type: visualization, value: totals}]\n",
			want: `steps[0]: unknown strategy "sneaky"`,
		},
		{
			name: "pin without reference",
			body: "name: n\ndescription: d\nconfig: " + cfg + "\nview: {dataCube: wiki}\nsteps: [{action: pin}]\nassertions: [{type: visualization, value: totals}]\n",
			want: "steps[0]: reference is required for pin",
		},
		{
			name: "unknown assertion type",
			body: "name: n\ndescription: d\nconfig: " + cfg + "\nview: {dataCube: wiki}\nassertions: [{type: trace_contains}]\n",
			want: `assertions[0]: unknown assertion type "trace_contains"`,
		},
		{
			name: "splits assertion without values",
			body: "name: n\ndescription: d\nconfig: " + cfg + "\nview: {dataCube: wiki}\nassertions: [{type: splits}]\n",
			want: "assertions[0]: values is required for splits",
		},
		{
			name: "negative rows",
			body: "name: n\ndescription: d\nconfig: " + cfg + "\nview: {dataCube: wiki}\nassertions: [{type: rows, count: -1}]\n",
			want: "count must be non-negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid scenario")
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenarioWithBasePath(t *testing.T) {
	s, err := LoadScenarioWithBasePath("testdata/scenarios/add_time_split.yaml", "testdata/scenarios")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("testdata", "scenarios", wikiConfig), s.Config)
}

func TestScenarioClock(t *testing.T) {
	s := &Scenario{}
	now, maxTime, err := s.clock()
	require.NoError(t, err)
	assert.Equal(t, DefaultNow, now)
	assert.True(t, maxTime.IsZero())

	s = &Scenario{Now: "2024-03-10T00:00:00Z", MaxTime: "2024-03-09T23:00:00Z"}
	now, maxTime, err = s.clock()
	require.NoError(t, err)
	assert.Equal(t, 10, now.Day())
	assert.Equal(t, 23, maxTime.Hour())

	_, _, err = (&Scenario{MaxTime: "soon"}).clock()
	assert.ErrorContains(t, err, "max_time")
}
