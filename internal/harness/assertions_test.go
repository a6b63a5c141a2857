package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResult() *Result {
	r := NewResult()
	r.Visualization = "table"
	r.Splits = []string{"channel", "time"}
	r.SeriesKeys = []string{"count"}
	r.Query = "ply().apply('count',$main.count())"
	r.SQL = []string{`SELECT "channel" AS "channel", COUNT(*) AS "count" FROM "wiki_edits" GROUP BY 1`}
	r.Rows = 1
	return r
}

func TestEvaluateAssertions_Pass(t *testing.T) {
	failures := EvaluateAssertions(sampleResult(), []Assertion{
		{Type: AssertSplits, Values: []string{"channel", "time"}},
		{Type: AssertSeriesKeys, Values: []string{"count"}},
		{Type: AssertVisualization, Value: "table"},
		{Type: AssertExpressionContains, Value: "$main.count()"},
		{Type: AssertSQLContains, Value: "GROUP BY 1"},
		{Type: AssertRows, Count: 1},
	})
	assert.Empty(t, failures)
}

func TestEvaluateAssertions_Failures(t *testing.T) {
	tests := []struct {
		name      string
		assertion Assertion
		want      []string
	}{
		{
			name:      "split order",
			assertion: Assertion{Type: AssertSplits, Values: []string{"time", "channel"}},
			want:      []string{"Assertion failed: splits", "Expected: [time channel]", "Actual: [channel time]"},
		},
		{
			name:      "series keys",
			assertion: Assertion{Type: AssertSeriesKeys, Values: []string{}},
			want:      []string{"Assertion failed: series_keys", "Actual: [count]"},
		},
		{
			name:      "visualization",
			assertion: Assertion{Type: AssertVisualization, Value: "bar-chart"},
			want:      []string{"Expected: bar-chart", "Actual: table"},
		},
		{
			name:      "expression",
			assertion: Assertion{Type: AssertExpressionContains, Value: "$main.sum($added)"},
			want:      []string{"not found", "Query:\n  ply()"},
		},
		{
			name:      "sql",
			assertion: Assertion{Type: AssertSQLContains, Value: "ORDER BY"},
			want:      []string{`statement containing "ORDER BY"`, `FROM "wiki_edits"`},
		},
		{
			name:      "rows",
			assertion: Assertion{Type: AssertRows, Count: 3},
			want:      []string{"Expected: 3 row(s)", "Actual: 1 row(s)"},
		},
		{
			name:      "unknown type",
			assertion: Assertion{Type: "final_state"},
			want:      []string{`unknown assertion type "final_state"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			failures := EvaluateAssertions(sampleResult(), []Assertion{tt.assertion})
			require.Len(t, failures, 1)
			assert.Contains(t, failures[0], "assertions[0]: ")
			for _, w := range tt.want {
				assert.Contains(t, failures[0], w)
			}
		})
	}
}

func TestEvaluateAssertions_SQLWithoutData(t *testing.T) {
	r := sampleResult()
	r.SQL = nil
	failures := EvaluateAssertions(r, []Assertion{{Type: AssertSQLContains, Value: "SELECT"}})
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0], "no statements ran")
}

func TestEvaluateAssertions_KeepsOrder(t *testing.T) {
	failures := EvaluateAssertions(sampleResult(), []Assertion{
		{Type: AssertVisualization, Value: "table"},
		{Type: AssertVisualization, Value: "geo"},
		{Type: AssertRows, Count: 0},
	})
	require.Len(t, failures, 2)
	assert.Contains(t, failures[0], "assertions[1]")
	assert.Contains(t, failures[1], "assertions[2]")
}

func TestResult_AddError(t *testing.T) {
	r := NewResult()
	assert.True(t, r.Pass)
	r.AddError("boom")
	assert.False(t, r.Pass)
	assert.Equal(t, []string{"boom"}, r.Errors)
}
