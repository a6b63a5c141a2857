package expr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pivot/internal/duration"
)

func TestString(t *testing.T) {
	tests := []struct {
		name     string
		expr     Expression
		expected string
	}{
		{"ref", R("added"), "$added"},
		{"nested ref", NestedRef("__formula_added", 2), "$^^__formula_added"},
		{"odd ref", R("page views"), "${page views}"},
		{"count", Count{Operand: Main()}, "$main.count()"},
		{"sum", Sum{Operand: Main(), Expression: R("added")}, "$main.sum($added)"},
		{"infix", Divide{Operand: R("a"), Expression: Lit(2)}, "($a / 2)"},
		{"set", OverlapWith(R("channel"), NewSet("en", "de")), "$channel.overlap(['en','de'])"},
		{"ply", PlyLiteral(), "ply()"},
		{
			"time bucket",
			Bucket(R("time"), duration.MustParse("PT1H"), "Etc/UTC"),
			"$time.timeBucket('PT1H','Etc/UTC')",
		},
		{
			"number range",
			OverlapWith(R("delta"), NewNumberRange(0, 10)),
			"$delta.overlap([0,10))",
		},
		{
			"quantile",
			Quantile{Operand: Main(), Expression: R("delta"), Value: 0.95},
			"$main.quantile($delta,0.95)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, String(tt.expr))
		})
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		input    string
		expected Expression
	}{
		{"$main.count()", Count{Operand: Main()}},
		{"$main.sum($added)", Sum{Operand: Main(), Expression: R("added")}},
		{
			"$main.sum($added) / $main.count()",
			Divide{Operand: Sum{Operand: Main(), Expression: R("added")}, Expression: Count{Operand: Main()}},
		},
		{
			"1 + 2 * $x",
			Add{Operand: Lit(1), Expression: Multiply{Operand: Lit(2), Expression: R("x")}},
		},
		{"-5", Lit(-5)},
		{"$^^count", NestedRef("count", 2)},
		{"${page views}", R("page views")},
		{
			"$main.filter($channel.is('en')).count()",
			Count{Operand: Filter{Operand: Main(), Expression: Is{Operand: R("channel"), Expression: Lit("en")}}},
		},
		{
			`$channel.in(["a", "b"])`,
			Overlap{Operand: R("channel"), Expression: Lit(NewSet("a", "b"))},
		},
		{
			"$main.quantile($delta, 0.99, 'k=128')",
			Quantile{Operand: Main(), Expression: R("delta"), Value: 0.99, Tuning: "k=128"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, String(tt.expected), String(got))
		})
	}
}

func TestParseRoundTripsString(t *testing.T) {
	inputs := []string{
		"ply().apply('main',$main.filter($channel.overlap(['en']))).apply('count',$main.count())",
		"$main.split($time.timeBucket('P1D','Europe/Berlin'),'time','main').sort($count,'descending').limit(10)",
		"$main.split($delta.numberBucket(10,5),'delta','main')",
		"$time.timeShift('P1W',-1,'Etc/UTC')",
		"(($__formula_added / $^__formula_added) * 100)",
		"$page.contains('wiki','ignoreCase').not()",
		"$page.match('^Main')",
		"$a.then($b).fallback(0)",
	}

	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			e, err := Parse(input)
			require.NoError(t, err)
			assert.Equal(t, input, String(e))
		})
	}
}

func TestParseErrors(t *testing.T) {
	inputs := []string{
		"",
		"$",
		"$main.count(",
		"$main.unknown()",
		"$main.sum()",
		"'unterminated",
		"$a +",
		"foo",
		"$main.sort($x,'sideways')",
	}

	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			_, err := Parse(input)
			require.Error(t, err)
			var perr *ParseError
			assert.ErrorAs(t, err, &perr)
		})
	}
}

func TestJSONRoundTrip(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	e := ApplyTo(
		ApplyTo(PlyLiteral(), MainName, Filter{
			Operand: Main(),
			Expression: And{
				Operand:    OverlapWith(R("time"), NewTimeRange(start, start.Add(24*time.Hour))),
				Expression: Not{Operand: OverlapWith(R("channel"), NewSet("en", nil))},
			},
		}),
		"SPLIT",
		Limit{
			Operand: Sort{
				Operand: Apply{
					Operand: Split{
						Operand:    Main(),
						Expression: NumberBucket{Operand: R("delta"), Size: 10},
						Name:       "delta",
						DataName:   MainName,
					},
					Name:       "p95",
					Expression: Quantile{Operand: Main(), Expression: R("delta"), Value: 0.95},
				},
				Expression: R("p95"),
				Direction:  Descending,
			},
			Value: 5,
		},
	)

	data, err := Marshal(e)
	require.NoError(t, err)

	back, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, String(e), String(back))
}

func TestUnmarshalRejects(t *testing.T) {
	tests := []string{
		`{"op":"sum","operand":{"op":"ref","name":"main"}}`,
		`{"op":"bogus","operand":{"op":"ref","name":"main"},"expression":{"op":"ref","name":"x"}}`,
		`{"op":"ref"}`,
		`{"op":"timeBucket","operand":{"op":"ref","name":"time"},"duration":"P"}`,
		`{"op":"ref","name":"x","extra":1}`,
	}
	for _, input := range tests {
		_, err := Unmarshal([]byte(input))
		assert.Error(t, err, input)
	}
}

func TestSubstituteReplaceMain(t *testing.T) {
	e := MustParse("$main.sum($added) / $main.count()")
	period := OverlapWith(R("time"), NewTimeRange(time.Unix(0, 0), time.Unix(3600, 0)))

	got := ReplaceMain(e, Filter{Operand: Main(), Expression: period})

	assert.Equal(t,
		"($main.filter($time.overlap([1970-01-01T00:00:00Z,1970-01-01T01:00:00Z))).sum($added) / "+
			"$main.filter($time.overlap([1970-01-01T00:00:00Z,1970-01-01T01:00:00Z))).count())",
		String(got))
	// input untouched
	assert.Equal(t, "($main.sum($added) / $main.count())", String(e))
}

func TestFreeRefs(t *testing.T) {
	e := MustParse("$main.sum($added) / $^count")
	assert.Equal(t, []string{"^count", "added", "main"}, FreeRefs(e))
}

func TestAndAll(t *testing.T) {
	assert.True(t, IsTrue(AndAll()))
	assert.Equal(t, "$a", String(AndAll(True(), R("a"))))
	assert.Equal(t, "$a.and($b)", String(AndAll(R("a"), True(), R("b"))))
}

func TestValidate(t *testing.T) {
	t.Run("pushdown", func(t *testing.T) {
		res := Validate(MustParse("$main.split($channel,'channel').apply('c',$main.count()).sort($c,'descending').limit(5)"))
		assert.True(t, res.Pushdown)
		assert.True(t, res.Valid())
	})

	t.Run("quantile with tuning", func(t *testing.T) {
		res := Validate(MustParse("$main.quantile($x,0.5,'k=64')"))
		assert.False(t, res.Pushdown)
		assert.Len(t, res.Warnings, 2)
	})

	t.Run("limit without sort", func(t *testing.T) {
		res := Validate(MustParse("$main.split($channel,'channel').limit(5)"))
		assert.Contains(t, res.Warnings[0], "without sort")
	})

	t.Run("bad regexp", func(t *testing.T) {
		res := Validate(Match{Operand: R("page"), Regexp: "("})
		assert.False(t, res.Valid())
	})

	t.Run("sort on expression", func(t *testing.T) {
		res := Validate(Sort{Operand: Main(), Expression: Count{Operand: Main()}, Direction: Ascending})
		assert.False(t, res.Valid())
	})
}

func TestSetContains(t *testing.T) {
	s := NewSet("a", nil)
	assert.True(t, s.Contains("a"))
	assert.True(t, s.Contains(nil))
	assert.False(t, s.Contains("b"))

	ranges := NewSet(NewNumberRange(0, 10), NewNumberRange(20, 30))
	assert.True(t, ranges.Contains(5))
	assert.False(t, ranges.Contains(10))
	assert.True(t, ranges.Contains(20))
}

func TestDatasetJSONRoundTrip(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	ds := &Dataset{Data: []Datum{{
		"count": 12.0,
		"time":  NewTimeRange(start, start.Add(time.Hour)),
		"at":    start,
		"SPLIT": &Dataset{Data: []Datum{{"channel": "en", "delta": NewNumberRange(0, 5)}}},
	}}}

	data, err := ds.MarshalJSON()
	require.NoError(t, err)

	var back Dataset
	require.NoError(t, back.UnmarshalJSON(data))

	require.Len(t, back.Data, 1)
	d := back.Data[0]
	assert.Equal(t, 12.0, d["count"])
	assert.True(t, NewTimeRange(start, start.Add(time.Hour)).Equal(d["time"].(TimeRange)))
	assert.True(t, start.Equal(d["at"].(time.Time)))
	nested := d["SPLIT"].(*Dataset)
	assert.Equal(t, "en", nested.Data[0]["channel"])
	assert.True(t, NewNumberRange(0, 5).Equal(nested.Data[0]["delta"].(NumberRange)))
}
