package expr

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// String renders e in the text form read by Parse. The output is stable:
// the same tree always renders to the same string.
func String(e Expression) string {
	var b strings.Builder
	write(&b, e)
	return b.String()
}

func write(b *strings.Builder, e Expression) {
	switch n := e.(type) {
	case nil:
		b.WriteString("null")
	case Ref:
		writeRef(b, n)
	case Literal:
		if ds, ok := n.Value.(*Dataset); ok && ds.Len() == 1 && len(ds.Data[0]) == 0 {
			b.WriteString("ply()")
			return
		}
		b.WriteString(literalString(n.Value))
	case Add:
		writeInfix(b, n.Operand, "+", n.Expression)
	case Subtract:
		writeInfix(b, n.Operand, "-", n.Expression)
	case Multiply:
		writeInfix(b, n.Operand, "*", n.Expression)
	case Divide:
		writeInfix(b, n.Operand, "/", n.Expression)
	case Filter:
		writeCall(b, n.Operand, "filter", n.Expression)
	case Split:
		writeCall(b, n.Operand, "split", n.Expression, quote(n.Name), quote(n.DataName))
	case Apply:
		writeCall(b, n.Operand, "apply", quote(n.Name), n.Expression)
	case Sort:
		writeCall(b, n.Operand, "sort", n.Expression, quote(n.Direction))
	case Limit:
		writeCall(b, n.Operand, "limit", strconv.Itoa(n.Value))
	case Count:
		writeCall(b, n.Operand, "count")
	case Sum:
		writeCall(b, n.Operand, "sum", n.Expression)
	case Min:
		writeCall(b, n.Operand, "min", n.Expression)
	case Max:
		writeCall(b, n.Operand, "max", n.Expression)
	case Average:
		writeCall(b, n.Operand, "average", n.Expression)
	case CountDistinct:
		writeCall(b, n.Operand, "countDistinct", n.Expression)
	case Quantile:
		args := []any{n.Expression, formatNumber(n.Value)}
		if n.Tuning != "" {
			args = append(args, quote(n.Tuning))
		}
		writeCall(b, n.Operand, "quantile", args...)
	case Overlap:
		writeCall(b, n.Operand, "overlap", n.Expression)
	case Is:
		writeCall(b, n.Operand, "is", n.Expression)
	case Not:
		writeCall(b, n.Operand, "not")
	case And:
		writeCall(b, n.Operand, "and", n.Expression)
	case Or:
		writeCall(b, n.Operand, "or", n.Expression)
	case Contains:
		args := []any{n.Expression}
		if n.Compare != "" && n.Compare != CompareNormal {
			args = append(args, quote(n.Compare))
		}
		writeCall(b, n.Operand, "contains", args...)
	case Match:
		writeCall(b, n.Operand, "match", quote(n.Regexp))
	case TimeBucket:
		writeCall(b, n.Operand, "timeBucket", quote(n.Duration.String()), quote(n.Timezone))
	case NumberBucket:
		writeCall(b, n.Operand, "numberBucket", formatNumber(n.Size), formatNumber(n.Offset))
	case TimeShift:
		writeCall(b, n.Operand, "timeShift", quote(n.Duration.String()), strconv.Itoa(n.Step), quote(n.Timezone))
	case Then:
		writeCall(b, n.Operand, "then", n.Expression)
	case Fallback:
		writeCall(b, n.Operand, "fallback", n.Expression)
	default:
		fmt.Fprintf(b, "<%T>", e)
	}
}

func writeRef(b *strings.Builder, r Ref) {
	b.WriteByte('$')
	b.WriteString(strings.Repeat("^", r.Nest))
	if isPlainName(r.Name) {
		b.WriteString(r.Name)
		return
	}
	b.WriteByte('{')
	b.WriteString(strings.ReplaceAll(r.Name, "}", `\}`))
	b.WriteByte('}')
}

func isPlainName(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		if c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || i > 0 && c >= '0' && c <= '9' {
			continue
		}
		return false
	}
	return true
}

func writeInfix(b *strings.Builder, left Expression, op string, right Expression) {
	b.WriteByte('(')
	write(b, left)
	b.WriteString(" " + op + " ")
	write(b, right)
	b.WriteByte(')')
}

// writeCall renders operand.name(args...). Arguments are either
// Expressions or pre-rendered strings.
func writeCall(b *strings.Builder, operand Expression, name string, args ...any) {
	write(b, operand)
	b.WriteByte('.')
	b.WriteString(name)
	b.WriteByte('(')
	for i, a := range args {
		if i > 0 {
			b.WriteByte(',')
		}
		switch arg := a.(type) {
		case Expression:
			write(b, arg)
		case string:
			b.WriteString(arg)
		}
	}
	b.WriteByte(')')
}

func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(s) + "'"
}

func literalString(v any) string {
	switch val := normalizeValue(v).(type) {
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return formatNumber(val)
	case string:
		return quote(val)
	case time.Time:
		return formatTime(val)
	case fmt.Stringer:
		return val.String()
	case *Dataset:
		return fmt.Sprintf("Dataset(%d)", val.Len())
	default:
		return fmt.Sprintf("%v", val)
	}
}

func formatNumber(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case math.IsNaN(f):
		return "NaN"
	}
	abs := math.Abs(f)
	if abs == 0 || abs >= 1e-6 && abs < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
