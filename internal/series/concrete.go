package series

import (
	"fmt"
	"strconv"

	"github.com/roach88/pivot/internal/cube"
	"github.com/roach88/pivot/internal/duration"
	"github.com/roach88/pivot/internal/expr"
)

// Time shift modes.
const (
	ShiftCurrent      = "current"
	ShiftWithPrevious = "with_previous"
)

// TimeShiftEnv tells series whether to compute a previous period next to
// the current one. CurrentFilter and PreviousFilter are predicates on the
// time dimension.
type TimeShiftEnv struct {
	Type           string
	Shift          duration.Duration
	CurrentFilter  expr.Expression
	PreviousFilter expr.Expression
}

// CurrentEnv is the environment of a view without comparison.
func CurrentEnv() TimeShiftEnv {
	return TimeShiftEnv{Type: ShiftCurrent}
}

// HasPrevious reports whether previous values are computed.
func (env TimeShiftEnv) HasPrevious() bool {
	return env.Type == ShiftWithPrevious
}

// Derivations lists the derivations computed in env.
func (env TimeShiftEnv) Derivations() []Derivation {
	if env.HasPrevious() {
		return []Derivation{Current, Previous, Delta}
	}
	return []Derivation{Current}
}

// mainFor returns the dataset a measure is computed over for derivation d.
func (env TimeShiftEnv) mainFor(d Derivation) (expr.Expression, error) {
	if !env.HasPrevious() {
		return expr.Main(), nil
	}
	switch d {
	case Current:
		return expr.FilterBy(expr.Main(), env.CurrentFilter), nil
	case Previous:
		return expr.FilterBy(expr.Main(), env.PreviousFilter), nil
	}
	return nil, fmt.Errorf("no dataset for derivation %q", d)
}

// Application is one apply of a series in the query.
type Application struct {
	Name       string
	Expression expr.Expression
}

// ConcreteSeries is a series bound to the measures it refers to.
type ConcreteSeries struct {
	Definition Series
	Measure    cube.Measure
	// Operand is the second measure of an arithmetic series.
	Operand *cube.Measure
}

// Concrete binds s to the measures of c.
func Concrete(s Series, c *cube.DataCube) (ConcreteSeries, error) {
	if err := Validate(s); err != nil {
		return ConcreteSeries{}, err
	}
	m, ok := c.GetMeasure(s.Reference())
	if !ok {
		return ConcreteSeries{}, fmt.Errorf("series %q: unknown measure %q", s.Key(), s.Reference())
	}
	cs := ConcreteSeries{Definition: s, Measure: m}
	switch v := s.(type) {
	case QuantileSeries:
		if !m.IsQuantile() {
			return ConcreteSeries{}, fmt.Errorf("series %q: measure %q is not a quantile", s.Key(), m.Name)
		}
	case ExpressionSeries:
		if a, ok := v.Expression.(ArithmeticExpression); ok {
			other, ok := c.GetMeasure(a.Ref)
			if !ok {
				return ConcreteSeries{}, fmt.Errorf("series %q: unknown measure %q", s.Key(), a.Ref)
			}
			cs.Operand = &other
		}
	}
	return cs, nil
}

// Key is the key of the definition.
func (c ConcreteSeries) Key() string {
	return c.Definition.Key()
}

// PlywoodKey is the apply name of the series for derivation d.
func (c ConcreteSeries) PlywoodKey(d Derivation) string {
	return PlywoodKey(c.Key(), d)
}

// Applications compiles the series for a datum at nestingLevel (0 for the
// totals row, 1 for the first split, ...). With a previous period it also
// applies the previous value and the delta.
//
// Percent-of-parent divides by the value one level up, percent-of-total by
// the value at level 0. At level 0 both are 1. Helper values are applied
// as "__formula_<key>" before the percentage.
func (c ConcreteSeries) Applications(nestingLevel int, env TimeShiftEnv) ([]Application, error) {
	if nestingLevel < 0 {
		return nil, fmt.Errorf("series %q: nesting level cannot be negative, got %d", c.Key(), nestingLevel)
	}
	var out []Application
	for _, d := range env.Derivations() {
		name := c.PlywoodKey(d)
		if d == Delta {
			out = append(out, Application{
				Name:       name,
				Expression: expr.Subtract{Operand: expr.R(c.PlywoodKey(Current)), Expression: expr.R(c.PlywoodKey(Previous))},
			})
			continue
		}
		apps, err := c.applicationsFor(name, d, nestingLevel, env)
		if err != nil {
			return nil, err
		}
		out = append(out, apps...)
	}
	return out, nil
}

func (c ConcreteSeries) applicationsFor(name string, d Derivation, nestingLevel int, env TimeShiftEnv) ([]Application, error) {
	main, err := env.mainFor(d)
	if err != nil {
		return nil, err
	}
	measure, err := measureExpression(c.Measure, main)
	if err != nil {
		return nil, err
	}

	switch v := c.Definition.(type) {
	case MeasureSeries:
		return []Application{{Name: name, Expression: measure}}, nil

	case QuantileSeries:
		q, ok := measure.(expr.Quantile)
		if !ok {
			return nil, fmt.Errorf("series %q: measure %q is not a quantile", c.Key(), c.Measure.Name)
		}
		q.Value = float64(v.Percentile) / 100
		return []Application{{Name: name, Expression: q}}, nil

	case ExpressionSeries:
		switch e := v.Expression.(type) {
		case PercentExpression:
			return percentApplications(name, measure, e, nestingLevel)
		case ArithmeticExpression:
			if c.Operand == nil {
				return nil, fmt.Errorf("series %q: second measure is not bound", c.Key())
			}
			other, err := measureExpression(*c.Operand, main)
			if err != nil {
				return nil, err
			}
			return []Application{{Name: name, Expression: arithmetic(e.Operation, measure, other)}}, nil
		}
	}
	return nil, fmt.Errorf("series %q: cannot compile %T", c.Key(), c.Definition)
}

func measureExpression(m cube.Measure, main expr.Expression) (expr.Expression, error) {
	e, err := m.Expression()
	if err != nil {
		return nil, err
	}
	return expr.ReplaceMain(e, main), nil
}

func percentApplications(name string, measure expr.Expression, e PercentExpression, nestingLevel int) ([]Application, error) {
	relative := nestingLevel
	if e.Operation == PercentOfParent {
		relative = min(nestingLevel, 1)
	}
	formula := "__formula_" + name
	apps := []Application{{Name: formula, Expression: measure}}
	switch {
	case relative < 0:
		return nil, fmt.Errorf("relative nesting cannot be negative, got %d", relative)
	case relative == 0:
		return append(apps, Application{Name: name, Expression: expr.Lit(1)}), nil
	}
	return append(apps, Application{
		Name:       name,
		Expression: expr.Divide{Operand: expr.R(formula), Expression: expr.NestedRef(formula, relative)},
	}), nil
}

func arithmetic(op string, a, b expr.Expression) expr.Expression {
	switch op {
	case OpSubtract:
		return expr.Subtract{Operand: a, Expression: b}
	case OpMultiply:
		return expr.Multiply{Operand: a, Expression: b}
	case OpDivide:
		return expr.Divide{Operand: a, Expression: b}
	}
	return expr.Add{Operand: a, Expression: b}
}

var arithmeticSigns = map[string]string{
	OpAdd:      "+",
	OpSubtract: "-",
	OpMultiply: "*",
	OpDivide:   "/",
}

// Title is the column header for derivation d.
func (c ConcreteSeries) Title(d Derivation) string {
	title := c.Measure.Title
	switch v := c.Definition.(type) {
	case QuantileSeries:
		title += " p" + strconv.Itoa(v.Percentile)
	case ExpressionSeries:
		switch e := v.Expression.(type) {
		case PercentExpression:
			if e.Operation == PercentOfParent {
				title += " (% of Parent)"
			} else {
				title += " (% of Total)"
			}
		case ArithmeticExpression:
			other := e.Ref
			if c.Operand != nil {
				other = c.Operand.Title
			}
			title += " " + arithmeticSigns[e.Operation] + " " + other
		}
	}
	switch d {
	case Previous:
		return "Previous " + title
	case Delta:
		return "Difference " + title
	}
	return title
}

// FormatValue prints v with the series format, falling back to the measure
// format.
func (c ConcreteSeries) FormatValue(v any) string {
	f := c.Definition.Formatting()
	if f.IsDefault() && isPercent(c.Definition) {
		return FormatNumber(v, PercentPattern)
	}
	return FormatNumber(v, f.Pattern(c.Measure.Format))
}

func isPercent(s Series) bool {
	es, ok := s.(ExpressionSeries)
	if !ok {
		return false
	}
	_, ok = es.Expression.(PercentExpression)
	return ok
}

// SelectValue reads the value of the series for derivation d from a
// result datum. Missing and non-numeric values yield ok false.
func (c ConcreteSeries) SelectValue(datum expr.Datum, d Derivation) (float64, bool) {
	return toFloat(datum[c.PlywoodKey(d)])
}

// LowerIsBetter reports whether decreases are improvements, for colouring
// deltas.
func (c ConcreteSeries) LowerIsBetter() bool {
	return c.Measure.LowerIsBetter
}
