package expr

import "github.com/roach88/pivot/internal/duration"

// MainName is the name the filtered dataset is applied under, and the data
// name of every split.
const MainName = "main"

// R returns a reference to name in the current datum.
func R(name string) Ref {
	return Ref{Name: name}
}

// NestedRef returns a reference to name nest datums up.
func NestedRef(name string, nest int) Ref {
	return Ref{Name: name, Nest: nest}
}

// Main is $main.
func Main() Ref {
	return R(MainName)
}

// Lit wraps a value as a Literal, folding Go integer types into float64.
func Lit(v any) Literal {
	return Literal{Value: normalizeValue(v)}
}

// True is the literal true, the identity of conjunction.
func True() Literal {
	return Literal{Value: true}
}

// PlyLiteral is the literal dataset with one empty datum.
func PlyLiteral() Literal {
	return Literal{Value: Ply()}
}

// IsTrue reports whether e is the literal true.
func IsTrue(e Expression) bool {
	l, ok := e.(Literal)
	if !ok {
		return false
	}
	b, ok := l.Value.(bool)
	return ok && b
}

// AndAll conjoins expressions left to right, skipping literal trues.
// An empty list yields true.
func AndAll(exprs ...Expression) Expression {
	var out Expression
	for _, e := range exprs {
		if e == nil || IsTrue(e) {
			continue
		}
		if out == nil {
			out = e
			continue
		}
		out = And{Operand: out, Expression: e}
	}
	if out == nil {
		return True()
	}
	return out
}

// OrAll disjoins expressions left to right. An empty list yields false.
func OrAll(exprs ...Expression) Expression {
	var out Expression
	for _, e := range exprs {
		if e == nil {
			continue
		}
		if out == nil {
			out = e
			continue
		}
		out = Or{Operand: out, Expression: e}
	}
	if out == nil {
		return Lit(false)
	}
	return out
}

// ApplyTo chains operand.apply(name, e).
func ApplyTo(operand Expression, name string, e Expression) Apply {
	return Apply{Operand: operand, Name: name, Expression: e}
}

// FilterBy chains operand.filter(pred), dropping a literal true filter.
func FilterBy(operand, pred Expression) Expression {
	if pred == nil || IsTrue(pred) {
		return operand
	}
	return Filter{Operand: operand, Expression: pred}
}

// OverlapWith chains operand.overlap(Lit(v)).
func OverlapWith(operand Expression, v any) Overlap {
	return Overlap{Operand: operand, Expression: Lit(v)}
}

// Bucket chains a time bucket onto operand.
func Bucket(operand Expression, d duration.Duration, timezone string) TimeBucket {
	return TimeBucket{Operand: operand, Duration: d, Timezone: timezone}
}
