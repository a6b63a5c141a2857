package expr

import (
	"fmt"
	"slices"
)

// Children returns the direct sub-expressions of e, operand first.
func Children(e Expression) []Expression {
	var out []Expression
	_, _ = mapChildren(e, func(c Expression) (Expression, error) {
		out = append(out, c)
		return c, nil
	})
	return out
}

// mapChildren rebuilds e with every child replaced by fn(child).
func mapChildren(e Expression, fn func(Expression) (Expression, error)) (Expression, error) {
	var err error
	f := func(c Expression) Expression {
		if err != nil || c == nil {
			return c
		}
		var out Expression
		out, err = fn(c)
		return out
	}

	var out Expression
	switch n := e.(type) {
	case Ref, Literal, nil:
		return e, nil
	case Filter:
		n.Operand, n.Expression = f(n.Operand), f(n.Expression)
		out = n
	case Split:
		n.Operand, n.Expression = f(n.Operand), f(n.Expression)
		out = n
	case Apply:
		n.Operand, n.Expression = f(n.Operand), f(n.Expression)
		out = n
	case Sort:
		n.Operand, n.Expression = f(n.Operand), f(n.Expression)
		out = n
	case Limit:
		n.Operand = f(n.Operand)
		out = n
	case Count:
		n.Operand = f(n.Operand)
		out = n
	case Sum:
		n.Operand, n.Expression = f(n.Operand), f(n.Expression)
		out = n
	case Min:
		n.Operand, n.Expression = f(n.Operand), f(n.Expression)
		out = n
	case Max:
		n.Operand, n.Expression = f(n.Operand), f(n.Expression)
		out = n
	case Average:
		n.Operand, n.Expression = f(n.Operand), f(n.Expression)
		out = n
	case CountDistinct:
		n.Operand, n.Expression = f(n.Operand), f(n.Expression)
		out = n
	case Quantile:
		n.Operand, n.Expression = f(n.Operand), f(n.Expression)
		out = n
	case Add:
		n.Operand, n.Expression = f(n.Operand), f(n.Expression)
		out = n
	case Subtract:
		n.Operand, n.Expression = f(n.Operand), f(n.Expression)
		out = n
	case Multiply:
		n.Operand, n.Expression = f(n.Operand), f(n.Expression)
		out = n
	case Divide:
		n.Operand, n.Expression = f(n.Operand), f(n.Expression)
		out = n
	case Overlap:
		n.Operand, n.Expression = f(n.Operand), f(n.Expression)
		out = n
	case Is:
		n.Operand, n.Expression = f(n.Operand), f(n.Expression)
		out = n
	case Not:
		n.Operand = f(n.Operand)
		out = n
	case And:
		n.Operand, n.Expression = f(n.Operand), f(n.Expression)
		out = n
	case Or:
		n.Operand, n.Expression = f(n.Operand), f(n.Expression)
		out = n
	case Contains:
		n.Operand, n.Expression = f(n.Operand), f(n.Expression)
		out = n
	case Match:
		n.Operand = f(n.Operand)
		out = n
	case TimeBucket:
		n.Operand = f(n.Operand)
		out = n
	case NumberBucket:
		n.Operand = f(n.Operand)
		out = n
	case TimeShift:
		n.Operand = f(n.Operand)
		out = n
	case Then:
		n.Operand, n.Expression = f(n.Operand), f(n.Expression)
		out = n
	case Fallback:
		n.Operand, n.Expression = f(n.Operand), f(n.Expression)
		out = n
	default:
		return nil, fmt.Errorf("unknown expression type %T", e)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Substitute rewrites e top-down. When fn returns a replacement (ok true)
// the replacement is used as is and not descended into; otherwise the
// children of the node are substituted.
func Substitute(e Expression, fn func(Expression) (Expression, bool)) Expression {
	if e == nil {
		return nil
	}
	if r, ok := fn(e); ok {
		return r
	}
	out, _ := mapChildren(e, func(c Expression) (Expression, error) {
		return Substitute(c, fn), nil
	})
	return out
}

// Walk visits e and its descendants depth first. Returning false from fn
// skips the children of that node.
func Walk(e Expression, fn func(Expression) bool) {
	if e == nil || !fn(e) {
		return
	}
	for _, c := range Children(e) {
		Walk(c, fn)
	}
}

// FreeRefs returns the sorted names of all refs in e, with a caret per
// nesting level for nested refs ("^count").
func FreeRefs(e Expression) []string {
	seen := map[string]bool{}
	Walk(e, func(n Expression) bool {
		if r, ok := n.(Ref); ok {
			key := r.Name
			for range r.Nest {
				key = "^" + key
			}
			seen[key] = true
		}
		return true
	})
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// Equal reports whether two expressions render identically.
func Equal(a, b Expression) bool {
	return String(a) == String(b)
}

// ReplaceMain returns e with every unnested $main replaced by with.
func ReplaceMain(e, with Expression) Expression {
	return Substitute(e, func(n Expression) (Expression, bool) {
		if r, ok := n.(Ref); ok && r.Name == MainName && r.Nest == 0 {
			return with, true
		}
		return nil, false
	})
}
