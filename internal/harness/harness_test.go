package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario("testdata/scenarios/" + name + ".yaml")
	require.NoError(t, err)
	return s
}

func TestRun_AddTimeSplit(t *testing.T) {
	result, err := Run(load(t, "add_time_split"))
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, []string{"channel", "time"}, result.Splits)
	assert.Equal(t, "table", result.Visualization)
	assert.Empty(t, result.SQL, "no data, nothing runs")
	require.Len(t, result.Steps, 1)
	assert.Equal(t, []string{"channel", "time"}, result.Steps[0].Splits)
	assert.Empty(t, result.Steps[0].Error)
}

func TestRun_ExpectedErrorsLeaveViewUnchanged(t *testing.T) {
	result, err := Run(load(t, "rejected_transitions"))
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Steps, 3)
	for _, st := range result.Steps {
		assert.NotEmpty(t, st.Error, st.Action)
		assert.Equal(t, "table", st.Visualization)
	}
}

func TestRun_WithData(t *testing.T) {
	result, err := Run(load(t, "latest_day"))
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, 1, result.Rows)
	// totals, then the grouped split
	require.Len(t, result.SQL, 2)
	assert.NotContains(t, result.SQL[0], "GROUP BY")
	assert.Contains(t, result.SQL[1], "GROUP BY 1")
}

func TestRun_MaxTimeOverride(t *testing.T) {
	s := load(t, "latest_day")
	s.MaxTime = "2024-03-06T00:00:00Z"
	s.Assertions = []Assertion{{Type: AssertExpressionContains, Value: "[2024-03-05T00:00:00Z,2024-03-06T00:00:00Z)"}}

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_StepFailure(t *testing.T) {
	s := load(t, "add_time_split")
	s.Steps = append(s.Steps, Step{Action: ActionAddSeries, Series: map[string]any{"type": "measure", "reference": "bogus"}}, Step{Action: ActionPin, Reference: "channel", ExpectError: "boom"})

	result, err := Run(s)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Steps, 3)
	assert.Contains(t, result.Errors[0], "steps[1] add_series")
	assert.Contains(t, result.Errors[1], `steps[2] pin: expected error containing "boom", got none`)
}

func TestRun_AssertionFailure(t *testing.T) {
	s, err := LoadScenario("testdata/broken/wrong_split.yaml")
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "Assertion failed: splits")
	assert.Contains(t, result.Errors[0], "[cityName]")
}

func TestRun_UnknownDataCube(t *testing.T) {
	s := load(t, "add_time_split")
	s.View = map[string]any{"dataCube": "nope"}

	_, err := Run(s)
	assert.ErrorContains(t, err, `unknown data cube "nope"`)
}

func TestRun_Strategies(t *testing.T) {
	tests := []struct {
		strategy string
		want     string
	}{
		{"", "line-chart"},
		{"fair", "line-chart"},
		{"unfair", "line-chart"},
		{"keep", "totals"},
	}
	for _, tt := range tests {
		t.Run("strategy "+tt.strategy, func(t *testing.T) {
			s := load(t, "add_time_split")
			s.View = map[string]any{
				"dataCube":      "wiki",
				"visualization": "totals",
				"filter": []any{map[string]any{
					"type": "fixedTime", "reference": "time",
					"ranges": []any{map[string]any{"start": "2024-03-05T00:00:00Z", "end": "2024-03-07T00:00:00Z"}},
				}},
				"series":        []any{map[string]any{"type": "measure", "reference": "count"}},
			}
			s.Steps = []Step{{
				Action:   ActionChangeSplits,
				Strategy: tt.strategy,
				Splits: []map[string]any{{
					"type": "time", "reference": "time", "bucket": "PT1H",
					"sort": map[string]any{"type": "dimension", "reference": "time", "direction": "ascending"},
				}},
			}}
			s.Assertions = []Assertion{{Type: AssertVisualization, Value: tt.want}}

			result, err := Run(s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRunWithGolden_SeriesTransitions(t *testing.T) {
	result, err := RunWithGolden(t, load(t, "series_transitions"))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}
