package querysql

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/roach88/pivot/internal/expr"
)

// ErrUnsupported marks expressions without an SQL form. The engine
// evaluates those in process.
var ErrUnsupported = errors.New("not supported by the SQL backend")

func unsupported(e expr.Expression, why string) error {
	return fmt.Errorf("%w: %s (%s)", ErrUnsupported, e.Op(), why)
}

// Fragment is a compiled piece of SQL with its parameters in order.
type Fragment struct {
	SQL    string
	Params []any
}

// KeyEquals is the condition selecting the rows of one group: the key
// expression IS the raw value the group query returned for it.
func KeyEquals(key Fragment, raw any) Fragment {
	return Fragment{
		SQL:    "(" + key.SQL + ") IS ?",
		Params: append(append([]any{}, key.Params...), raw),
	}
}

// Aggregate is one named column of an AggregateQuery.
type Aggregate struct {
	Name       string
	Expression expr.Expression
}

// AggregateQuery reduces the rows of Source that match every Where
// condition. With a Key the rows are grouped and each group yields one row
// (key first, then the aggregates); without one the result is a single row
// of totals.
type AggregateQuery struct {
	Source     string
	Where      []Fragment
	Key        expr.Expression
	Aggregates []Aggregate

	// OrderBy names an aggregate; empty orders by key. Ties are always
	// broken by key.
	OrderBy   string
	Direction string
	Limit     int
}

// SQLCompiler compiles expressions over the columns of a source table to
// parameterized SQL for SQLite.
//
// All values are parameterized, never interpolated. Grouped queries always
// carry an ORDER BY ending in the group key, so results are deterministic.
type SQLCompiler struct{}

// NewSQLCompiler creates a new SQLCompiler.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{}
}

// Compile converts an AggregateQuery to SQL.
// Returns (sql, params, error) tuple.
func (c *SQLCompiler) Compile(q AggregateQuery) (string, []any, error) {
	if q.Source == "" {
		return "", nil, fmt.Errorf("aggregate query without a source")
	}
	if q.Key == nil && len(q.Aggregates) == 0 {
		return "", nil, fmt.Errorf("aggregate query selects nothing")
	}

	var (
		cols   []string
		params []any
		order  int
	)
	if q.Key != nil {
		key, err := c.Scalar(q.Key)
		if err != nil {
			return "", nil, fmt.Errorf("compile key: %w", err)
		}
		cols = append(cols, key.SQL)
		params = append(params, key.Params...)
	}
	for _, a := range q.Aggregates {
		agg, err := c.Aggregate(a.Expression)
		if err != nil {
			return "", nil, fmt.Errorf("compile %q: %w", a.Name, err)
		}
		cols = append(cols, agg.SQL+" AS "+QuoteIdent(a.Name))
		params = append(params, agg.Params...)
		if a.Name == q.OrderBy {
			order = len(cols)
		}
	}
	if q.OrderBy != "" && order == 0 {
		return "", nil, fmt.Errorf("order by unknown aggregate %q", q.OrderBy)
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(" FROM ")
	b.WriteString(QuoteIdent(q.Source))
	where, whereParams := joinWhere(q.Where)
	b.WriteString(where)
	params = append(params, whereParams...)

	if q.Key == nil {
		// a single row of totals needs no ORDER BY
		return b.String(), params, nil
	}

	b.WriteString(" GROUP BY 1 ORDER BY ")
	dir := "ASC"
	if q.Direction == expr.Descending {
		dir = "DESC"
	}
	if order > 1 {
		fmt.Fprintf(&b, "%d %s, ", order, dir)
		dir = "ASC"
	}
	fmt.Fprintf(&b, "1 COLLATE BINARY %s", dir)
	if q.Limit > 0 {
		b.WriteString(" LIMIT ?")
		params = append(params, q.Limit)
	}
	return b.String(), params, nil
}

// CompileValues selects the non-null values of e over the matching rows of
// source, in ascending order. Quantiles are computed from them.
func (c *SQLCompiler) CompileValues(source string, where []Fragment, e expr.Expression) (string, []any, error) {
	v, err := c.Scalar(e)
	if err != nil {
		return "", nil, err
	}
	conds := append(append([]Fragment{}, where...), Fragment{SQL: "(" + v.SQL + ") IS NOT NULL", Params: v.Params})
	w, wp := joinWhere(conds)
	sql := "SELECT " + v.SQL + " FROM " + QuoteIdent(source) + w + " ORDER BY 1 COLLATE BINARY ASC"
	return sql, append(append([]any{}, v.Params...), wp...), nil
}

func joinWhere(conds []Fragment) (string, []any) {
	if len(conds) == 0 {
		return "", nil
	}
	parts := make([]string, len(conds))
	var params []any
	for i, f := range conds {
		parts[i] = f.SQL
		params = append(params, f.Params...)
	}
	return " WHERE " + strings.Join(parts, " AND "), params
}

// Aggregate compiles an aggregate over $main or a filtered $main, e.g.
// $main.filter($channel == 'en').sum($added). Filters become a FILTER
// (WHERE ...) clause. Quantiles are unsupported.
func (c *SQLCompiler) Aggregate(e expr.Expression) (Fragment, error) {
	var (
		operand  expr.Expression
		fn       string
		argument expr.Expression
		distinct bool
	)
	switch a := e.(type) {
	case expr.Count:
		operand, fn = a.Operand, "COUNT"
	case expr.Sum:
		// TOTAL is 0.0 on no rows where SUM is NULL
		operand, fn, argument = a.Operand, "TOTAL", a.Expression
	case expr.Min:
		operand, fn, argument = a.Operand, "MIN", a.Expression
	case expr.Max:
		operand, fn, argument = a.Operand, "MAX", a.Expression
	case expr.Average:
		operand, fn, argument = a.Operand, "AVG", a.Expression
	case expr.CountDistinct:
		operand, fn, argument, distinct = a.Operand, "COUNT", a.Expression, true
	case expr.Quantile:
		return Fragment{}, unsupported(e, "quantiles are computed in process")
	default:
		return Fragment{}, unsupported(e, "not an aggregate")
	}

	var out Fragment
	if argument == nil {
		out.SQL = fn + "(*)"
	} else {
		arg, err := c.Scalar(argument)
		if err != nil {
			return Fragment{}, err
		}
		if distinct {
			out.SQL = fn + "(DISTINCT " + arg.SQL + ")"
		} else {
			out.SQL = fn + "(" + arg.SQL + ")"
		}
		out.Params = arg.Params
	}

	rows, err := c.rowFilter(operand)
	if err != nil {
		return Fragment{}, err
	}
	if rows.SQL != "" {
		out.SQL += " FILTER (WHERE " + rows.SQL + ")"
		out.Params = append(out.Params, rows.Params...)
	}
	return out, nil
}

// rowFilter compiles the chain of filters between an aggregate and $main.
func (c *SQLCompiler) rowFilter(operand expr.Expression) (Fragment, error) {
	switch o := operand.(type) {
	case expr.Ref:
		if o.Name == expr.MainName && o.Nest == 0 {
			return Fragment{}, nil
		}
		return Fragment{}, unsupported(o, "aggregate operand must be $main")
	case expr.Filter:
		inner, err := c.rowFilter(o.Operand)
		if err != nil {
			return Fragment{}, err
		}
		pred, err := c.Scalar(o.Expression)
		if err != nil {
			return Fragment{}, err
		}
		if inner.SQL == "" {
			return pred, nil
		}
		return Fragment{
			SQL:    inner.SQL + " AND " + pred.SQL,
			Params: append(inner.Params, pred.Params...),
		}, nil
	case nil:
		return Fragment{}, fmt.Errorf("aggregate without operand")
	default:
		return Fragment{}, unsupported(o, "aggregate operand must be $main")
	}
}

// Scalar compiles a row-level expression: a column, a literal, arithmetic,
// buckets or a predicate.
func (c *SQLCompiler) Scalar(e expr.Expression) (Fragment, error) {
	switch n := e.(type) {
	case nil:
		return Fragment{}, fmt.Errorf("nil expression")
	case expr.Ref:
		if n.Nest != 0 {
			return Fragment{}, unsupported(n, "nested refs are resolved in process")
		}
		if n.Name == expr.MainName {
			return Fragment{}, unsupported(n, "$main is a dataset")
		}
		return Fragment{SQL: QuoteIdent(n.Name)}, nil
	case expr.Literal:
		return c.literal(n)
	case expr.Add:
		return c.infix(n.Operand, "+", n.Expression)
	case expr.Subtract:
		return c.infix(n.Operand, "-", n.Expression)
	case expr.Multiply:
		return c.infix(n.Operand, "*", n.Expression)
	case expr.Divide:
		a, err := c.Scalar(n.Operand)
		if err != nil {
			return Fragment{}, err
		}
		b, err := c.Scalar(n.Expression)
		if err != nil {
			return Fragment{}, err
		}
		return Fragment{
			SQL:    "(CAST(" + a.SQL + " AS REAL) / NULLIF(" + b.SQL + ", 0))",
			Params: append(a.Params, b.Params...),
		}, nil
	case expr.And:
		return c.infix(n.Operand, "AND", n.Expression)
	case expr.Or:
		return c.infix(n.Operand, "OR", n.Expression)
	case expr.Not:
		inner, err := c.Scalar(n.Operand)
		if err != nil {
			return Fragment{}, err
		}
		return Fragment{SQL: "NOT (" + inner.SQL + ")", Params: inner.Params}, nil
	case expr.Is:
		return c.infix(n.Operand, "IS", n.Expression)
	case expr.Overlap:
		return c.overlap(n)
	case expr.Contains:
		x, err := c.Scalar(n.Operand)
		if err != nil {
			return Fragment{}, err
		}
		y, err := c.Scalar(n.Expression)
		if err != nil {
			return Fragment{}, err
		}
		sql := "instr(" + x.SQL + ", " + y.SQL + ") > 0"
		if n.Compare == expr.CompareIgnoreCase {
			sql = "instr(lower(" + x.SQL + "), lower(" + y.SQL + ")) > 0"
		}
		return Fragment{SQL: sql, Params: append(x.Params, y.Params...)}, nil
	case expr.Match:
		if _, err := regexp.Compile(n.Regexp); err != nil {
			return Fragment{}, fmt.Errorf("invalid regular expression %q: %w", n.Regexp, err)
		}
		x, err := c.Scalar(n.Operand)
		if err != nil {
			return Fragment{}, err
		}
		return Fragment{SQL: "regexp(?, " + x.SQL + ")", Params: append([]any{n.Regexp}, x.Params...)}, nil
	case expr.TimeBucket:
		x, err := c.Scalar(n.Operand)
		if err != nil {
			return Fragment{}, err
		}
		return Fragment{
			SQL:    "pivot_time_bucket(" + x.SQL + ", ?, ?)",
			Params: append(x.Params, n.Duration.String(), n.Timezone),
		}, nil
	case expr.NumberBucket:
		if n.Size <= 0 {
			return Fragment{}, fmt.Errorf("number bucket size must be positive")
		}
		x, err := c.Scalar(n.Operand)
		if err != nil {
			return Fragment{}, err
		}
		return Fragment{
			SQL:    "pivot_number_bucket(" + x.SQL + ", ?, ?)",
			Params: append(x.Params, n.Size, n.Offset),
		}, nil
	case expr.TimeShift:
		x, err := c.Scalar(n.Operand)
		if err != nil {
			return Fragment{}, err
		}
		return Fragment{
			SQL:    "pivot_time_shift(" + x.SQL + ", ?, ?, ?)",
			Params: append(x.Params, n.Duration.String(), n.Step, n.Timezone),
		}, nil
	case expr.Then:
		cond, err := c.Scalar(n.Operand)
		if err != nil {
			return Fragment{}, err
		}
		v, err := c.Scalar(n.Expression)
		if err != nil {
			return Fragment{}, err
		}
		return Fragment{SQL: "CASE WHEN " + cond.SQL + " THEN " + v.SQL + " END", Params: append(cond.Params, v.Params...)}, nil
	case expr.Fallback:
		return c.call("COALESCE", n.Operand, n.Expression)
	default:
		return Fragment{}, unsupported(e, "not a row-level expression")
	}
}

func (c *SQLCompiler) infix(left expr.Expression, op string, right expr.Expression) (Fragment, error) {
	a, err := c.Scalar(left)
	if err != nil {
		return Fragment{}, err
	}
	b, err := c.Scalar(right)
	if err != nil {
		return Fragment{}, err
	}
	return Fragment{SQL: "(" + a.SQL + " " + op + " " + b.SQL + ")", Params: append(a.Params, b.Params...)}, nil
}

func (c *SQLCompiler) call(fn string, args ...expr.Expression) (Fragment, error) {
	var (
		parts  []string
		params []any
	)
	for _, a := range args {
		f, err := c.Scalar(a)
		if err != nil {
			return Fragment{}, err
		}
		parts = append(parts, f.SQL)
		params = append(params, f.Params...)
	}
	return Fragment{SQL: fn + "(" + strings.Join(parts, ", ") + ")", Params: params}, nil
}

func (c *SQLCompiler) literal(l expr.Literal) (Fragment, error) {
	if l.Value == nil {
		return Fragment{SQL: "NULL"}, nil
	}
	p, err := Param(l.Value)
	if err != nil {
		return Fragment{}, err
	}
	return Fragment{SQL: "?", Params: []any{p}}, nil
}

// overlap compiles membership in a set or range literal. Null elements of
// a set match null values.
func (c *SQLCompiler) overlap(o expr.Overlap) (Fragment, error) {
	lit, ok := o.Expression.(expr.Literal)
	if !ok {
		return Fragment{}, unsupported(o, "overlap needs a literal set or range")
	}
	x, err := c.Scalar(o.Operand)
	if err != nil {
		return Fragment{}, err
	}

	var elements []any
	switch v := lit.Value.(type) {
	case expr.Set:
		elements = v.Elements
	case expr.NumberRange, expr.TimeRange:
		elements = []any{v}
	default:
		return Fragment{}, unsupported(o, fmt.Sprintf("cannot overlap with %T", lit.Value))
	}

	var (
		parts   []string
		params  []any
		in      []string
		inVals  []any
		hasNull bool
	)
	for _, el := range elements {
		switch r := el.(type) {
		case nil:
			hasNull = true
		case expr.NumberRange:
			sql, p := rangeSQL(x, r.Start, r.End, r.Bounds)
			parts, params = append(parts, sql), append(params, p...)
		case expr.TimeRange:
			start, end := float64(r.Start.UnixMilli()), float64(r.End.UnixMilli())
			sql, p := rangeSQL(x, &start, &end, r.Bounds)
			parts, params = append(parts, sql), append(params, p...)
		default:
			p, err := Param(el)
			if err != nil {
				return Fragment{}, err
			}
			in, inVals = append(in, "?"), append(inVals, p)
		}
	}
	if len(in) > 0 {
		parts = append([]string{x.SQL + " IN (" + strings.Join(in, ", ") + ")"}, parts...)
		params = append(append(append([]any{}, x.Params...), inVals...), params...)
	}
	if hasNull {
		parts = append(parts, x.SQL+" IS NULL")
		params = append(params, x.Params...)
	}
	switch len(parts) {
	case 0:
		return Fragment{SQL: "0"}, nil
	case 1:
		return Fragment{SQL: parts[0], Params: params}, nil
	}
	return Fragment{SQL: "(" + strings.Join(parts, " OR ") + ")", Params: params}, nil
}

func rangeSQL(x Fragment, start, end *float64, bounds string) (string, []any) {
	if bounds == "" {
		bounds = expr.DefaultBounds
	}
	var (
		conds  []string
		params []any
	)
	if start != nil {
		op := ">="
		if bounds[0] == '(' {
			op = ">"
		}
		conds = append(conds, x.SQL+" "+op+" ?")
		params = append(append(params, x.Params...), *start)
	}
	if end != nil {
		op := "<"
		if bounds[1] == ']' {
			op = "<="
		}
		conds = append(conds, x.SQL+" "+op+" ?")
		params = append(append(params, x.Params...), *end)
	}
	if len(conds) == 0 {
		return x.SQL + " IS NOT NULL", x.Params
	}
	return "(" + strings.Join(conds, " AND ") + ")", params
}

// Param converts a literal value to an SQL parameter. Times are stored as
// unix milliseconds and booleans as 0/1.
func Param(v any) (any, error) {
	switch val := v.(type) {
	case nil, string, float64, int64:
		return val, nil
	case int:
		return int64(val), nil
	case bool:
		if val {
			return int64(1), nil
		}
		return int64(0), nil
	case time.Time:
		return val.UnixMilli(), nil
	default:
		return nil, fmt.Errorf("unsupported value type for SQL parameter: %T", v)
	}
}

// QuoteIdent quotes an SQLite identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
