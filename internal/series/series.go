// Package series defines the columns a view shows: measures, quantiles and
// expressions derived from measures, and how each compiles into an apply of
// the query at a given nesting level.
package series

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Derivation selects which period a series value belongs to when a view
// compares against a previous period.
type Derivation string

const (
	Current  Derivation = "current"
	Previous Derivation = "previous"
	Delta    Derivation = "delta"
)

// PlywoodKey is the name a series value is applied under in the query.
func PlywoodKey(key string, d Derivation) string {
	switch d {
	case Previous:
		return "_previous__" + key
	case Delta:
		return "_delta__" + key
	}
	return key
}

// Series is one column of a view.
//
// Series is a sealed interface. Only the types in this package implement it.
type Series interface {
	// Key identifies the series within a list. Two series with the same
	// key are duplicates.
	Key() string

	// Reference is the measure the series is computed from.
	Reference() string

	// Formatting is how values of the series are printed.
	Formatting() Format

	series()
}

// MeasureSeries shows a measure as is.
type MeasureSeries struct {
	Ref    string
	Format Format
}

func (s MeasureSeries) Key() string        { return s.Ref }
func (s MeasureSeries) Reference() string  { return s.Ref }
func (s MeasureSeries) Formatting() Format { return s.Format }
func (MeasureSeries) series()              {}

// QuantileSeries shows a quantile measure at Percentile (1..99).
type QuantileSeries struct {
	Ref        string
	Percentile int
	Format     Format
}

func (s QuantileSeries) Key() string        { return s.Ref + "__p" + strconv.Itoa(s.Percentile) }
func (s QuantileSeries) Reference() string  { return s.Ref }
func (s QuantileSeries) Formatting() Format { return s.Format }
func (QuantileSeries) series()              {}

// ExpressionSeries shows a value derived from a measure: its share of the
// parent or total, or its combination with another measure.
type ExpressionSeries struct {
	Ref        string
	Format     Format
	Expression Expression
}

func (s ExpressionSeries) Key() string {
	if s.Expression == nil {
		return s.Ref
	}
	return s.Ref + "__" + s.Expression.key()
}
func (s ExpressionSeries) Reference() string  { return s.Ref }
func (s ExpressionSeries) Formatting() Format { return s.Format }
func (ExpressionSeries) series()              {}

// Expression is the derivation of an ExpressionSeries.
//
// Expression is a sealed interface. Only the types in this package implement it.
type Expression interface {
	key() string
	expression()
}

// Percent operations.
const (
	PercentOfParent = "percent_of_parent"
	PercentOfTotal  = "percent_of_total"
)

// PercentExpression divides a measure by its value in the enclosing split
// (of parent) or at the root (of total).
type PercentExpression struct {
	Operation string
}

func (e PercentExpression) key() string { return e.Operation }
func (PercentExpression) expression()   {}

// Arithmetic operations.
const (
	OpAdd      = "add"
	OpSubtract = "subtract"
	OpMultiply = "multiply"
	OpDivide   = "divide"
)

// ArithmeticExpression combines the series measure with the measure named
// by Ref.
type ArithmeticExpression struct {
	Operation string
	Ref       string
}

func (e ArithmeticExpression) key() string { return e.Operation + "__" + e.Ref }
func (ArithmeticExpression) expression()   {}

// Equal compares two series by value.
func Equal(a, b Series) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Key() == b.Key() && a.Formatting() == b.Formatting() && sameType(a, b)
}

func sameType(a, b Series) bool {
	return fmt.Sprintf("%T", a) == fmt.Sprintf("%T", b)
}

// Validate checks the fields that the type system cannot.
func Validate(s Series) error {
	if s.Reference() == "" {
		return fmt.Errorf("series reference is required")
	}
	switch v := s.(type) {
	case QuantileSeries:
		if v.Percentile < 1 || v.Percentile > 99 {
			return fmt.Errorf("series %q: percentile must be between 1 and 99, got %d", v.Ref, v.Percentile)
		}
	case ExpressionSeries:
		switch e := v.Expression.(type) {
		case PercentExpression:
			if e.Operation != PercentOfParent && e.Operation != PercentOfTotal {
				return fmt.Errorf("series %q: unknown percent operation %q", v.Ref, e.Operation)
			}
		case ArithmeticExpression:
			switch e.Operation {
			case OpAdd, OpSubtract, OpMultiply, OpDivide:
			default:
				return fmt.Errorf("series %q: unknown arithmetic operation %q", v.Ref, e.Operation)
			}
			if e.Ref == "" {
				return fmt.Errorf("series %q: arithmetic needs a second measure", v.Ref)
			}
		default:
			return fmt.Errorf("series %q: expression is required", v.Ref)
		}
	}
	return validateFormat(s.Formatting())
}

// Series types used in JSON.
const (
	TypeMeasure    = "measure"
	TypeQuantile   = "quantile"
	TypeExpression = "expression"
)

type seriesJSON struct {
	Type       string          `json:"type"`
	Reference  string          `json:"reference"`
	Format     *Format         `json:"format,omitempty"`
	Percentile int             `json:"percentile,omitempty"`
	Expression *expressionJSON `json:"expression,omitempty"`
}

type expressionJSON struct {
	Operation string `json:"operation"`
	Reference string `json:"reference,omitempty"`
}

func encode(s Series) (seriesJSON, error) {
	j := seriesJSON{Reference: s.Reference()}
	if f := s.Formatting(); !f.IsDefault() {
		j.Format = &f
	}
	switch v := s.(type) {
	case MeasureSeries:
		j.Type = TypeMeasure
	case QuantileSeries:
		j.Type, j.Percentile = TypeQuantile, v.Percentile
	case ExpressionSeries:
		j.Type = TypeExpression
		switch e := v.Expression.(type) {
		case PercentExpression:
			j.Expression = &expressionJSON{Operation: e.Operation}
		case ArithmeticExpression:
			j.Expression = &expressionJSON{Operation: e.Operation, Reference: e.Ref}
		default:
			return j, fmt.Errorf("series %q: expression is required", v.Ref)
		}
	default:
		return j, fmt.Errorf("unknown series %T", s)
	}
	return j, nil
}

func decode(j seriesJSON) (Series, error) {
	var f Format
	if j.Format != nil {
		f = *j.Format
	}
	var s Series
	switch j.Type {
	case TypeMeasure, "":
		s = MeasureSeries{Ref: j.Reference, Format: f}
	case TypeQuantile:
		s = QuantileSeries{Ref: j.Reference, Percentile: j.Percentile, Format: f}
	case TypeExpression:
		if j.Expression == nil {
			return nil, fmt.Errorf("series %q: expression is required", j.Reference)
		}
		var e Expression
		switch j.Expression.Operation {
		case PercentOfParent, PercentOfTotal:
			e = PercentExpression{Operation: j.Expression.Operation}
		default:
			e = ArithmeticExpression{Operation: j.Expression.Operation, Ref: j.Expression.Reference}
		}
		s = ExpressionSeries{Ref: j.Reference, Format: f, Expression: e}
	default:
		return nil, fmt.Errorf("unknown series type %q", j.Type)
	}
	if err := Validate(s); err != nil {
		return nil, err
	}
	return s, nil
}

// MarshalSeries encodes a single series.
func MarshalSeries(s Series) ([]byte, error) {
	j, err := encode(s)
	if err != nil {
		return nil, err
	}
	return json.Marshal(j)
}

// UnmarshalSeries decodes a single series. Unknown fields are rejected.
func UnmarshalSeries(data []byte) (Series, error) {
	var j seriesJSON
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&j); err != nil {
		return nil, err
	}
	return decode(j)
}
