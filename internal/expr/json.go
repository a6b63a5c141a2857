package expr

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/roach88/pivot/internal/duration"
)

// node is the JSON wire form of an expression. Only the fields relevant to
// the op are set.
type node struct {
	Op         string          `json:"op"`
	Operand    *node           `json:"operand,omitempty"`
	Expression *node           `json:"expression,omitempty"`
	Name       string          `json:"name,omitempty"`
	Nest       int             `json:"nest,omitempty"`
	Value      json.RawMessage `json:"value,omitempty"`
	DataName   string          `json:"dataName,omitempty"`
	Direction  string          `json:"direction,omitempty"`
	Compare    string          `json:"compare,omitempty"`
	Regexp     string          `json:"regexp,omitempty"`
	Tuning     string          `json:"tuning,omitempty"`
	Duration   string          `json:"duration,omitempty"`
	Timezone   string          `json:"timezone,omitempty"`
	Step       int             `json:"step,omitempty"`
	Size       float64         `json:"size,omitempty"`
	Offset     float64         `json:"offset,omitempty"`
}

// Marshal encodes e in the JSON wire form.
func Marshal(e Expression) ([]byte, error) {
	n, err := toNode(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(n)
}

// Unmarshal decodes the JSON wire form.
func Unmarshal(data []byte) (Expression, error) {
	var n node
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&n); err != nil {
		return nil, fmt.Errorf("decode expression: %w", err)
	}
	return fromNode(&n)
}

func toNode(e Expression) (*node, error) {
	if e == nil {
		return nil, nil
	}
	n := &node{Op: e.Op()}
	var err error
	pair := func(operand, expression Expression) {
		if err != nil {
			return
		}
		if n.Operand, err = toNode(operand); err != nil {
			return
		}
		n.Expression, err = toNode(expression)
	}

	switch x := e.(type) {
	case Ref:
		n.Name, n.Nest = x.Name, x.Nest
	case Literal:
		n.Value, err = json.Marshal(jsonValue(x.Value))
	case Filter:
		pair(x.Operand, x.Expression)
	case Split:
		pair(x.Operand, x.Expression)
		n.Name, n.DataName = x.Name, x.DataName
	case Apply:
		pair(x.Operand, x.Expression)
		n.Name = x.Name
	case Sort:
		pair(x.Operand, x.Expression)
		n.Direction = x.Direction
	case Limit:
		pair(x.Operand, nil)
		n.Value, _ = json.Marshal(x.Value)
	case Count:
		pair(x.Operand, nil)
	case Sum:
		pair(x.Operand, x.Expression)
	case Min:
		pair(x.Operand, x.Expression)
	case Max:
		pair(x.Operand, x.Expression)
	case Average:
		pair(x.Operand, x.Expression)
	case CountDistinct:
		pair(x.Operand, x.Expression)
	case Quantile:
		pair(x.Operand, x.Expression)
		n.Value, _ = json.Marshal(x.Value)
		n.Tuning = x.Tuning
	case Add:
		pair(x.Operand, x.Expression)
	case Subtract:
		pair(x.Operand, x.Expression)
	case Multiply:
		pair(x.Operand, x.Expression)
	case Divide:
		pair(x.Operand, x.Expression)
	case Overlap:
		pair(x.Operand, x.Expression)
	case Is:
		pair(x.Operand, x.Expression)
	case Not:
		pair(x.Operand, nil)
	case And:
		pair(x.Operand, x.Expression)
	case Or:
		pair(x.Operand, x.Expression)
	case Contains:
		pair(x.Operand, x.Expression)
		n.Compare = x.Compare
	case Match:
		pair(x.Operand, nil)
		n.Regexp = x.Regexp
	case TimeBucket:
		pair(x.Operand, nil)
		n.Duration, n.Timezone = x.Duration.String(), x.Timezone
	case NumberBucket:
		pair(x.Operand, nil)
		n.Size, n.Offset = x.Size, x.Offset
	case TimeShift:
		pair(x.Operand, nil)
		n.Duration, n.Step, n.Timezone = x.Duration.String(), x.Step, x.Timezone
	case Then:
		pair(x.Operand, x.Expression)
	case Fallback:
		pair(x.Operand, x.Expression)
	default:
		return nil, fmt.Errorf("unknown expression type %T", e)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", n.Op, err)
	}
	return n, nil
}

func fromNode(n *node) (Expression, error) {
	if n == nil {
		return nil, fmt.Errorf("missing expression")
	}

	operand := func() (Expression, error) {
		if n.Operand == nil {
			return nil, fmt.Errorf("%s: missing operand", n.Op)
		}
		return fromNode(n.Operand)
	}
	both := func() (Expression, Expression, error) {
		op, err := operand()
		if err != nil {
			return nil, nil, err
		}
		if n.Expression == nil {
			return nil, nil, fmt.Errorf("%s: missing expression", n.Op)
		}
		ex, err := fromNode(n.Expression)
		if err != nil {
			return nil, nil, err
		}
		return op, ex, nil
	}

	switch n.Op {
	case "ref":
		if n.Name == "" {
			return nil, fmt.Errorf("ref: missing name")
		}
		return Ref{Name: n.Name, Nest: n.Nest}, nil
	case "literal":
		if len(n.Value) == 0 {
			return Lit(nil), nil
		}
		var raw any
		if err := json.Unmarshal(n.Value, &raw); err != nil {
			return nil, fmt.Errorf("literal: %w", err)
		}
		v, err := DecodeValue(raw)
		if err != nil {
			return nil, fmt.Errorf("literal: %w", err)
		}
		return Literal{Value: v}, nil
	case "limit":
		op, err := operand()
		if err != nil {
			return nil, err
		}
		var v int
		if err := json.Unmarshal(n.Value, &v); err != nil {
			return nil, fmt.Errorf("limit: invalid value: %w", err)
		}
		return Limit{Operand: op, Value: v}, nil
	case "count", "not", "match", "timeBucket", "numberBucket", "timeShift":
		op, err := operand()
		if err != nil {
			return nil, err
		}
		return unaryFromNode(n, op)
	}

	op, ex, err := both()
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case "split":
		dataName := n.DataName
		if dataName == "" {
			dataName = MainName
		}
		return Split{Operand: op, Expression: ex, Name: n.Name, DataName: dataName}, nil
	case "apply":
		if n.Name == "" {
			return nil, fmt.Errorf("apply: missing name")
		}
		return Apply{Operand: op, Name: n.Name, Expression: ex}, nil
	case "sort":
		direction := n.Direction
		if direction == "" {
			direction = Ascending
		}
		return Sort{Operand: op, Expression: ex, Direction: direction}, nil
	case "quantile":
		var q float64
		if err := json.Unmarshal(n.Value, &q); err != nil {
			return nil, fmt.Errorf("quantile: invalid value: %w", err)
		}
		return Quantile{Operand: op, Expression: ex, Value: q, Tuning: n.Tuning}, nil
	case "contains":
		return Contains{Operand: op, Expression: ex, Compare: n.Compare}, nil
	}
	if b := binary(n.Op, op, ex); b.Op() == n.Op {
		return b, nil
	}
	return nil, fmt.Errorf("unknown op %q", n.Op)
}

func unaryFromNode(n *node, op Expression) (Expression, error) {
	switch n.Op {
	case "count":
		return Count{Operand: op}, nil
	case "not":
		return Not{Operand: op}, nil
	case "match":
		return Match{Operand: op, Regexp: n.Regexp}, nil
	case "numberBucket":
		if n.Size <= 0 {
			return nil, fmt.Errorf("numberBucket: size must be positive")
		}
		return NumberBucket{Operand: op, Size: n.Size, Offset: n.Offset}, nil
	}
	d, err := duration.Parse(n.Duration)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", n.Op, err)
	}
	if n.Op == "timeBucket" {
		return TimeBucket{Operand: op, Duration: d, Timezone: n.Timezone}, nil
	}
	return TimeShift{Operand: op, Duration: d, Step: n.Step, Timezone: n.Timezone}, nil
}
