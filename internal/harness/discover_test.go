package harness

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoverScenarios(t *testing.T) {
	paths, err := DiscoverScenarios("testdata/scenarios")
	require.NoError(t, err)

	var names []string
	for _, p := range paths {
		names = append(names, filepath.Base(p))
	}
	assert.Equal(t, []string{"add_time_split.yaml", "latest_day.yaml", "rejected_transitions.yaml", "series_transitions.yaml"}, names)
}

func TestDiscoverScenarios_Empty(t *testing.T) {
	_, err := DiscoverScenarios(t.TempDir())

	var notFound *ScenarioNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Contains(t, err.Error(), "no scenario files")
}

func TestDiscoverScenarios_Missing(t *testing.T) {
	_, err := DiscoverScenarios("testdata/nowhere")
	assert.ErrorContains(t, err, "scenario dir")

	_, err = DiscoverScenarios("testdata/wiki.csv")
	assert.ErrorContains(t, err, "is not a directory")
}

func TestRunDir_AllPass(t *testing.T) {
	sum, err := RunDir("testdata/scenarios")
	require.NoError(t, err)

	assert.Equal(t, 4, sum.Total)
	assert.Equal(t, 4, sum.Passed, "failures: %+v", sum.Failures)
	assert.Zero(t, sum.Failed)
}

func TestRunDir_ReportsFailures(t *testing.T) {
	sum, err := RunDir("testdata/broken")
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Total)
	assert.Equal(t, 1, sum.Failed)
	require.Len(t, sum.Failures, 1)
	assert.Equal(t, filepath.Join("testdata", "broken", "wrong_split.yaml"), sum.Failures[0].ScenarioPath)
	assert.Contains(t, sum.Failures[0].Errors[0], "Assertion failed: splits")
}
