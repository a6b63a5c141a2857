// Package harness runs conformance scenarios for view transitions and the
// queries they compile to.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	config: ../../../cube/testdata/wiki.yaml
//	data: ../wiki.csv
//	now: 2024-03-06T15:42:10Z
//	max_time: 2024-03-06T12:30:00Z
//	view:
//	  dataCube: wiki
//	  splits: [{type: string, reference: channel}]
//	  series: [{type: measure, reference: count}]
//	steps:
//	  - action: add_split
//	    split: {type: time, reference: time}
//	  - action: change_visualization
//	    value: line-chart
//	assertions:
//	  - type: splits
//	    values: [channel, time]
//	  - type: expression_contains
//	    value: "$main.split($channel,'channel','main')"
//
// Paths are relative to the scenario file. The view is a view definition
// in YAML form. When data is given, the CSV is loaded into the data cube's
// source and the compiled query runs against it.
//
// # Step Actions
//
//   - add_split, change_split (split), remove_split (reference), change_splits (splits)
//   - add_series (series), remove_series (reference)
//   - change_filter (filter), change_time_selection (clause), convert_to_specific_filter
//   - change_visualization, change_timezone, change_comparison_shift (value)
//   - pin, unpin, change_pinned_sort (reference)
//
// Split steps take a strategy: fair (default), unfair or keep. A step with
// expect_error must fail with an error containing that text; the view is
// left unchanged.
//
// # Assertion Types
//
//   - splits: the split references, in order
//   - series_keys: the series keys, in order
//   - visualization: the resolved visualization
//   - expression_contains: text the compiled query expression contains
//   - sql_contains: text one of the executed SQL statements contains
//
// # Deterministic Testing
//
// Scenarios run with a fixed clock (now, max_time), fixed query ids and an
// in-memory SQLite database, so the compiled expression is stable and can
// be compared against golden files.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/add_time_split.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if !result.Pass {
//	    for _, err := range result.Errors {
//	        log.Println(err)
//	    }
//	}
package harness
