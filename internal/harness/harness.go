package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/roach88/pivot/internal/cube"
	"github.com/roach88/pivot/internal/duration"
	"github.com/roach88/pivot/internal/engine"
	"github.com/roach88/pivot/internal/essence"
	"github.com/roach88/pivot/internal/expr"
	"github.com/roach88/pivot/internal/filter"
	"github.com/roach88/pivot/internal/series"
	"github.com/roach88/pivot/internal/split"
	"github.com/roach88/pivot/internal/store"
	"github.com/roach88/pivot/internal/viz"
)

// Harness holds the state of one scenario run.
type Harness struct {
	settings *cube.AppSettings
	tk       essence.Timekeeper
	engine   *engine.Engine // nil without data
	sql      []string
}

// Run executes a test scenario and returns the result.
//
// Each scenario with data runs in a fresh in-memory database for
// isolation. The clock and query ids are fixed.
//
// Execution flow:
// 1. Load the settings and, when given, the data
// 2. Build the starting view
// 3. Apply the steps, tracing the view after each
// 4. Compile the query and run it when there is data
// 5. Evaluate assertions
//
// An error is returned when the scenario cannot run at all; step and
// assertion failures are reported in the result.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	settings, err := cube.LoadFile(scenario.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	now, maxTime, err := scenario.clock()
	if err != nil {
		return nil, err
	}

	h := &Harness{settings: settings, tk: essence.NewTimekeeper(now)}

	if scenario.Data != "" {
		st, err := store.OpenMemory()
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory store: %w", err)
		}
		defer st.Close()

		if err := h.loadData(ctx, st, scenario); err != nil {
			return nil, err
		}
		h.engine = engine.New(st, settings,
			engine.WithIDGenerator(engine.NewFixedGenerator(scenario.Name)),
			engine.WithStatementHook(func(_, sql string) {
				h.sql = append(h.sql, sql)
			}),
		)
		h.tk = h.engine.Timekeeper(ctx, now)
	}

	es, err := h.startingView(scenario.View)
	if err != nil {
		return nil, err
	}
	if !maxTime.IsZero() {
		h.tk = h.tk.WithMaxTime(es.DataCube.Name, maxTime)
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		es = h.executeStep(i, step, es, result)
	}

	result.Visualization = es.Visualization
	result.Splits = splitRefs(es.Splits)
	result.SeriesKeys = es.Series.Keys()

	var q expr.Expression
	var ds *expr.Dataset
	if h.engine != nil {
		q, ds, err = h.engine.ExecuteEssence(ctx, es, h.tk)
	} else {
		q, err = essence.MakeQuery(es, h.tk)
	}
	if q != nil {
		result.Query = expr.String(q)
	}
	if err != nil {
		result.AddError(fmt.Sprintf("query failed: %v", err))
	}
	if ds != nil {
		result.Rows = len(ds.Data)
	}
	result.SQL = h.sql

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}

	slog.Debug("scenario finished", "scenario", scenario.Name, "pass", result.Pass, "errors", len(result.Errors))
	return result, nil
}

// loadData loads the scenario's CSV into the source of the view's data cube.
func (h *Harness) loadData(ctx context.Context, st *store.Store, scenario *Scenario) error {
	name, _ := scenario.View["dataCube"].(string)
	c, ok := h.settings.GetDataCube(name)
	if !ok {
		return fmt.Errorf("unknown data cube %q", name)
	}
	f, err := os.Open(scenario.Data)
	if err != nil {
		return fmt.Errorf("failed to open data: %w", err)
	}
	defer f.Close()

	if _, err := st.LoadCSV(ctx, c.Source, f); err != nil {
		return fmt.Errorf("failed to load data: %w", err)
	}
	return nil
}

func (h *Harness) startingView(view map[string]any) (essence.Essence, error) {
	data, err := json.Marshal(view)
	if err != nil {
		return essence.Essence{}, fmt.Errorf("view: %w", err)
	}
	def, err := essence.ParseViewDefinition(data)
	if err != nil {
		return essence.Essence{}, err
	}
	es, err := essence.FromViewDefinition(def, h.settings)
	if err != nil {
		return essence.Essence{}, fmt.Errorf("view: %w", err)
	}
	return es, nil
}

// executeStep applies one step. A failed step leaves the view unchanged.
func (h *Harness) executeStep(index int, step Step, es essence.Essence, result *Result) essence.Essence {
	next, err := h.apply(step, es)

	trace := StepTrace{Action: step.Action}
	switch {
	case err != nil && step.ExpectError != "":
		if !strings.Contains(err.Error(), step.ExpectError) {
			result.AddError(fmt.Sprintf("steps[%d] %s: expected error containing %q, got %q",
				index, step.Action, step.ExpectError, err.Error()))
		}
		trace.Error = err.Error()
		next = es
	case err != nil:
		result.AddError(fmt.Sprintf("steps[%d] %s: %v", index, step.Action, err))
		trace.Error = err.Error()
		next = es
	case step.ExpectError != "":
		result.AddError(fmt.Sprintf("steps[%d] %s: expected error containing %q, got none",
			index, step.Action, step.ExpectError))
	}

	trace.Visualization = next.Visualization
	trace.Splits = splitRefs(next.Splits)
	result.AddStep(trace)
	return next
}

func (h *Harness) apply(step Step, es essence.Essence) (essence.Essence, error) {
	strategy := strategyFor(step.Strategy)

	switch step.Action {
	case ActionAddSplit, ActionChangeSplit:
		s, err := decodeSplit(step.Split)
		if err != nil {
			return es, err
		}
		if step.Action == ActionAddSplit {
			return es.AddSplit(s, strategy)
		}
		return es.ChangeSplit(s, strategy)

	case ActionRemoveSplit:
		return es.RemoveSplit(step.Reference, strategy)

	case ActionChangeSplits:
		var splits split.Splits
		if err := remarshal(step.Splits, &splits); err != nil {
			return es, fmt.Errorf("splits: %w", err)
		}
		return es.ChangeSplits(splits, strategy)

	case ActionAddSeries:
		data, err := json.Marshal(step.Series)
		if err != nil {
			return es, fmt.Errorf("series: %w", err)
		}
		s, err := series.UnmarshalSeries(data)
		if err != nil {
			return es, err
		}
		return es.AddSeries(s)

	case ActionRemoveSeries:
		return es.RemoveSeries(step.Reference)

	case ActionChangeFilter:
		var f filter.Filter
		if err := remarshal(step.Filter, &f); err != nil {
			return es, fmt.Errorf("filter: %w", err)
		}
		return es.ChangeFilter(f)

	case ActionChangeTimeSelection:
		var f filter.Filter
		if err := remarshal([]map[string]any{step.Clause}, &f); err != nil {
			return es, fmt.Errorf("clause: %w", err)
		}
		return es.ChangeTimeSelection(f.Clauses()[0])

	case ActionConvertToSpecificFilter:
		return es.ConvertToSpecificFilter(h.tk)

	case ActionChangeVisualization:
		return es.ChangeVisualization(step.Value)

	case ActionChangeTimezone:
		return es.ChangeTimezone(step.Value)

	case ActionChangeComparisonShift:
		d, err := duration.Parse(step.Value)
		if err != nil {
			return es, err
		}
		return es.ChangeComparisonShift(d)

	case ActionPin:
		return es.Pin(step.Reference)

	case ActionUnpin:
		return es.Unpin(step.Reference), nil

	case ActionChangePinnedSort:
		return es.ChangePinnedSort(step.Reference)
	}
	return es, fmt.Errorf("unknown action %q", step.Action)
}

func strategyFor(name string) viz.Strategy {
	switch name {
	case "unfair":
		return viz.UnfairGame
	case "keep":
		return viz.KeepAlways
	}
	return viz.FairGame
}

func decodeSplit(m map[string]any) (split.Split, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return split.Split{}, fmt.Errorf("split: %w", err)
	}
	return split.UnmarshalSplit(data)
}

// remarshal converts YAML-decoded values to v through their JSON form.
func remarshal(in, v any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func splitRefs(s split.Splits) []string {
	refs := []string{}
	for _, sp := range s.Splits() {
		refs = append(refs, sp.Reference)
	}
	return refs
}
