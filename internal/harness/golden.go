package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/pivot/internal/ir"
)

// Snapshot captures the outcome of a scenario execution.
// All fields use canonical JSON serialization for deterministic comparison.
type Snapshot struct {
	ScenarioName  string
	Steps         []string
	Visualization string
	Splits        []string
	SeriesKeys    []string
	Query         string
	SQL           []string
}

// NewSnapshot captures result under name.
func NewSnapshot(name string, result *Result) Snapshot {
	steps := make([]string, len(result.Steps))
	for i, st := range result.Steps {
		steps[i] = st.Action
	}
	return Snapshot{
		ScenarioName:  name,
		Steps:         steps,
		Visualization: result.Visualization,
		Splits:        result.Splits,
		SeriesKeys:    result.SeriesKeys,
		Query:         result.Query,
		SQL:           result.SQL,
	}
}

// toCanonicalMap converts a Snapshot to a map[string]any for canonical JSON serialization.
// This is required because ir.MarshalCanonical only handles IR types and primitives.
func (s *Snapshot) toCanonicalMap() map[string]any {
	m := map[string]any{
		"scenario_name": s.ScenarioName,
		"steps":         stringList(s.Steps),
		"visualization": s.Visualization,
		"splits":        stringList(s.Splits),
		"series_keys":   stringList(s.SeriesKeys),
		"query":         s.Query,
	}
	if len(s.SQL) > 0 {
		m["sql"] = stringList(s.SQL)
	}
	return m
}

func stringList(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

// MarshalSnapshot returns the canonical JSON snapshot of result, the
// content of its golden file.
func MarshalSnapshot(name string, result *Result) ([]byte, error) {
	snapshot := NewSnapshot(name, result)
	return ir.MarshalCanonical(snapshot.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares its snapshot against a
// golden file in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the snapshot doesn't match.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the given result against a golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := MarshalSnapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)

	return nil
}
