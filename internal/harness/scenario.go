package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario.
// A scenario starts from a view, applies a sequence of transitions and
// asserts on the resulting view and the query it compiles to.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Config is the path of the settings file holding the data cubes.
	// Relative to the scenario file location.
	Config string `yaml:"config"`

	// Data is an optional CSV file loaded into the data cube's source.
	// Without it the query is compiled but not executed.
	Data string `yaml:"data,omitempty"`

	// Now is the clock time, RFC 3339. Defaults to 2024-03-06T15:42:10Z.
	Now string `yaml:"now,omitempty"`

	// MaxTime overrides the data cube's latest data time, RFC 3339.
	MaxTime string `yaml:"max_time,omitempty"`

	// View is the starting view definition.
	View map[string]any `yaml:"view"`

	// Steps are the transitions applied to the view, in order.
	Steps []Step `yaml:"steps,omitempty"`

	// Assertions validate the final view and query.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one view transition.
type Step struct {
	// Action names the transition (e.g., "add_split").
	Action string `yaml:"action"`

	// Strategy picks how the visualization follows split changes:
	// fair (default), unfair or keep.
	Strategy string `yaml:"strategy,omitempty"`

	// Reference names a dimension, measure or series key.
	Reference string `yaml:"reference,omitempty"`

	// Value is a visualization name, timezone or duration.
	Value string `yaml:"value,omitempty"`

	Split  map[string]any   `yaml:"split,omitempty"`
	Splits []map[string]any `yaml:"splits,omitempty"`
	Series map[string]any   `yaml:"series,omitempty"`
	Filter []map[string]any `yaml:"filter,omitempty"`
	Clause map[string]any   `yaml:"clause,omitempty"`

	// ExpectError makes the step pass only when it fails with an error
	// containing this text.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Assertion validates the final view or query.
type Assertion struct {
	// Type specifies the assertion type:
	// - "splits": split references, in order
	// - "series_keys": series keys, in order
	// - "visualization": the resolved visualization
	// - "expression_contains": substring of the query expression
	// - "sql_contains": substring of an executed statement
	// - "rows": number of datums at the root of the result
	Type string `yaml:"type"`

	// Values is the expected list (used by splits, series_keys).
	Values []string `yaml:"values,omitempty"`

	// Value is the expected value (used by the other types).
	Value string `yaml:"value,omitempty"`

	// Count is the expected row count (used by rows).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertSplits             = "splits"
	AssertSeriesKeys         = "series_keys"
	AssertVisualization      = "visualization"
	AssertExpressionContains = "expression_contains"
	AssertSQLContains        = "sql_contains"
	AssertRows               = "rows"
)

// Step action constants.
const (
	ActionAddSplit                = "add_split"
	ActionChangeSplit             = "change_split"
	ActionRemoveSplit             = "remove_split"
	ActionChangeSplits            = "change_splits"
	ActionAddSeries               = "add_series"
	ActionRemoveSeries            = "remove_series"
	ActionChangeFilter            = "change_filter"
	ActionChangeTimeSelection     = "change_time_selection"
	ActionConvertToSpecificFilter = "convert_to_specific_filter"
	ActionChangeVisualization     = "change_visualization"
	ActionChangeTimezone          = "change_timezone"
	ActionChangeComparisonShift   = "change_comparison_shift"
	ActionPin                     = "pin"
	ActionUnpin                   = "unpin"
	ActionChangePinnedSort        = "change_pinned_sort"
)

// DefaultNow is the clock of scenarios that set none.
var DefaultNow = time.Date(2024, 3, 6, 15, 42, 10, 0, time.UTC)

// LoadScenario reads and parses a scenario YAML file. Config and data
// paths are resolved relative to the file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving config and data paths relative to basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	scenario.Config = resolve(basePath, scenario.Config)
	scenario.Data = resolve(basePath, scenario.Data)

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

func resolve(base, path string) string {
	if path == "" || filepath.IsAbs(path) || base == "" {
		return path
	}
	return filepath.Join(base, path)
}

// clock returns the scenario's now and max time. maxTime is zero when unset.
func (s *Scenario) clock() (now, maxTime time.Time, err error) {
	now = DefaultNow
	if s.Now != "" {
		if now, err = time.Parse(time.RFC3339, s.Now); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("now: %w", err)
		}
	}
	if s.MaxTime != "" {
		if maxTime, err = time.Parse(time.RFC3339, s.MaxTime); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("max_time: %w", err)
		}
	}
	return now, maxTime, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Config == "" {
		return fmt.Errorf("config is required")
	}

	if len(s.View) == 0 {
		return fmt.Errorf("view is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if _, err := os.Stat(s.Config); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", s.Config)
	}
	if s.Data != "" {
		if _, err := os.Stat(s.Data); os.IsNotExist(err) {
			return fmt.Errorf("data file not found: %s", s.Data)
		}
	}

	if _, _, err := s.clock(); err != nil {
		return err
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateStep checks the arguments a step's action needs.
func validateStep(index int, st *Step) error {
	switch st.Strategy {
	case "", "fair", "unfair", "keep":
	default:
		return fmt.Errorf("steps[%d]: unknown strategy %q", index, st.Strategy)
	}

	switch st.Action {
	case "":
		return fmt.Errorf("steps[%d]: action is required", index)
	case ActionAddSplit, ActionChangeSplit:
		if st.Split == nil {
			return fmt.Errorf("steps[%d]: split is required for %s", index, st.Action)
		}
	case ActionChangeSplits:
		if st.Splits == nil {
			return fmt.Errorf("steps[%d]: splits is required for %s (use [] to clear)", index, st.Action)
		}
	case ActionAddSeries:
		if st.Series == nil {
			return fmt.Errorf("steps[%d]: series is required for %s", index, st.Action)
		}
	case ActionChangeFilter:
		if st.Filter == nil {
			return fmt.Errorf("steps[%d]: filter is required for %s (use [] to clear)", index, st.Action)
		}
	case ActionChangeTimeSelection:
		if st.Clause == nil {
			return fmt.Errorf("steps[%d]: clause is required for %s", index, st.Action)
		}
	case ActionRemoveSplit, ActionRemoveSeries, ActionPin, ActionUnpin, ActionChangePinnedSort:
		if st.Reference == "" {
			return fmt.Errorf("steps[%d]: reference is required for %s", index, st.Action)
		}
	case ActionChangeVisualization, ActionChangeTimezone, ActionChangeComparisonShift:
		if st.Value == "" {
			return fmt.Errorf("steps[%d]: value is required for %s", index, st.Action)
		}
	case ActionConvertToSpecificFilter:
	default:
		return fmt.Errorf("steps[%d]: unknown action %q", index, st.Action)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertSplits, AssertSeriesKeys:
		if a.Values == nil {
			return fmt.Errorf("assertions[%d]: values is required for %s (use [] for none)", index, a.Type)
		}
	case AssertVisualization, AssertExpressionContains, AssertSQLContains:
		if a.Value == "" {
			return fmt.Errorf("assertions[%d]: value is required for %s", index, a.Type)
		}
	case AssertRows:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for rows", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
