package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/aclements/go-moremath/stats"

	"github.com/roach88/pivot/internal/cube"
	"github.com/roach88/pivot/internal/duration"
	"github.com/roach88/pivot/internal/expr"
	"github.com/roach88/pivot/internal/querysql"
	"github.com/roach88/pivot/internal/store"
)

// relation is the rows of a source table matching every condition.
type relation struct {
	source string
	where  []querysql.Fragment
}

func (r relation) filtered(f querysql.Fragment) relation {
	where := make([]querysql.Fragment, len(r.where), len(r.where)+1)
	copy(where, r.where)
	return relation{source: r.source, where: append(where, f)}
}

// executor evaluates one query. Not safe for concurrent use.
type executor struct {
	store    *store.Store
	compiler *querysql.SQLCompiler
	kinds    map[string]cube.Kind
	quota    *QuotaEnforcer
	metrics  *Metrics
	queryID  string
	onSQL    func(queryID, sql string)
}

// run evaluates e with $main bound to every row of source.
func (x *executor) run(ctx context.Context, source string, e expr.Expression) (*expr.Dataset, error) {
	v, err := x.eval(ctx, e, rootScope(relation{source: source}))
	if err != nil {
		return nil, err
	}
	ds, ok := v.(*expr.Dataset)
	if !ok {
		return nil, invalidf("query evaluates to %s, not a dataset", expr.TypeOf(v))
	}
	stripRelations(ds)
	return ds, nil
}

// stripRelations drops the row sets bound in datums; they are not values.
func stripRelations(ds *expr.Dataset) {
	for _, d := range ds.Data {
		for k, v := range d {
			switch val := v.(type) {
			case relation:
				delete(d, k)
			case *expr.Dataset:
				stripRelations(val)
			}
		}
	}
}

func (x *executor) eval(ctx context.Context, e expr.Expression, sc *scope) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch n := e.(type) {
	case nil:
		return nil, invalidf("missing expression")
	case expr.Literal:
		return n.Value, nil
	case expr.Ref:
		v, ok := sc.lookup(n.Name, n.Nest)
		if !ok {
			return nil, invalidf("unknown reference %s", expr.String(n))
		}
		return v, nil

	case expr.Filter:
		operand, err := x.eval(ctx, n.Operand, sc)
		if err != nil {
			return nil, err
		}
		switch o := operand.(type) {
		case relation:
			if err := x.checkColumns(n.Expression); err != nil {
				return nil, err
			}
			pred, err := x.compiler.Scalar(n.Expression)
			if err != nil {
				return nil, fmt.Errorf("filter: %w", err)
			}
			return o.filtered(pred), nil
		case *expr.Dataset:
			return x.filterDataset(ctx, o.Clone(), n.Expression, sc)
		}
		return nil, invalidf("cannot filter %s", expr.TypeOf(operand))

	case expr.Split, expr.Apply, expr.Sort, expr.Limit:
		return x.dataset(ctx, e, sc)

	case expr.Count, expr.Sum, expr.Min, expr.Max, expr.Average, expr.CountDistinct, expr.Quantile:
		return x.aggregate(ctx, e, sc)

	case expr.Add:
		return x.arithmetic(ctx, "add", n.Operand, n.Expression, sc)
	case expr.Subtract:
		return x.arithmetic(ctx, "subtract", n.Operand, n.Expression, sc)
	case expr.Multiply:
		return x.arithmetic(ctx, "multiply", n.Operand, n.Expression, sc)
	case expr.Divide:
		return x.arithmetic(ctx, "divide", n.Operand, n.Expression, sc)

	case expr.And:
		a, b, err := x.pair(ctx, n.Operand, n.Expression, sc)
		if err != nil {
			return nil, err
		}
		return truthy(a) && truthy(b), nil
	case expr.Or:
		a, b, err := x.pair(ctx, n.Operand, n.Expression, sc)
		if err != nil {
			return nil, err
		}
		return truthy(a) || truthy(b), nil
	case expr.Not:
		v, err := x.eval(ctx, n.Operand, sc)
		if err != nil || v == nil {
			return nil, err
		}
		return !truthy(v), nil
	case expr.Is:
		a, b, err := x.pair(ctx, n.Operand, n.Expression, sc)
		if err != nil {
			return nil, err
		}
		return expr.ValuesEqual(a, b), nil
	case expr.Overlap:
		a, b, err := x.pair(ctx, n.Operand, n.Expression, sc)
		if err != nil {
			return nil, err
		}
		return overlaps(a, b), nil
	case expr.Contains:
		a, b, err := x.pair(ctx, n.Operand, n.Expression, sc)
		if err != nil {
			return nil, err
		}
		return contains(a, b, n.Compare), nil
	case expr.Match:
		v, err := x.eval(ctx, n.Operand, sc)
		if err != nil {
			return nil, err
		}
		return match(n.Regexp, v)

	case expr.TimeBucket:
		v, err := x.eval(ctx, n.Operand, sc)
		if err != nil {
			return nil, err
		}
		return timeBucket(v, n.Duration, n.Timezone)
	case expr.NumberBucket:
		v, err := x.eval(ctx, n.Operand, sc)
		if err != nil {
			return nil, err
		}
		return numberBucket(v, n.Size, n.Offset)
	case expr.TimeShift:
		v, err := x.eval(ctx, n.Operand, sc)
		if err != nil {
			return nil, err
		}
		return timeShift(v, n.Duration, n.Step, n.Timezone)

	case expr.Then:
		cond, err := x.eval(ctx, n.Operand, sc)
		if err != nil || !truthy(cond) {
			return nil, err
		}
		return x.eval(ctx, n.Expression, sc)
	case expr.Fallback:
		v, err := x.eval(ctx, n.Operand, sc)
		if err != nil || v != nil {
			return v, err
		}
		return x.eval(ctx, n.Expression, sc)
	}
	return nil, fmt.Errorf("%w: %s", querysql.ErrUnsupported, e.Op())
}

func (x *executor) pair(ctx context.Context, a, b expr.Expression, sc *scope) (any, any, error) {
	left, err := x.eval(ctx, a, sc)
	if err != nil {
		return nil, nil, err
	}
	right, err := x.eval(ctx, b, sc)
	if err != nil {
		return nil, nil, err
	}
	return left, right, nil
}

func (x *executor) arithmetic(ctx context.Context, op string, a, b expr.Expression, sc *scope) (any, error) {
	left, right, err := x.pair(ctx, a, b, sc)
	if err != nil {
		return nil, err
	}
	return arithmetic(op, left, right)
}

// dataset evaluates a chain of applies, sorts, filters and limits.
func (x *executor) dataset(ctx context.Context, e expr.Expression, sc *scope) (*expr.Dataset, error) {
	base, ops := unchain(e)

	var ds *expr.Dataset
	if sp, ok := base.(expr.Split); ok {
		var err error
		if ds, ops, err = x.split(ctx, sp, ops, sc); err != nil {
			return nil, err
		}
	} else {
		v, err := x.eval(ctx, base, sc)
		if err != nil {
			return nil, err
		}
		d, ok := v.(*expr.Dataset)
		if !ok {
			return nil, invalidf("%s is %s, not a dataset", expr.String(base), expr.TypeOf(v))
		}
		ds = d.Clone()
	}
	return x.applyOps(ctx, ds, ops, sc)
}

// unchain splits e into its innermost operand and the dataset operations
// over it, innermost first.
func unchain(e expr.Expression) (expr.Expression, []expr.Expression) {
	var ops []expr.Expression
	for {
		switch n := e.(type) {
		case expr.Apply:
			ops, e = append(ops, n), n.Operand
		case expr.Sort:
			ops, e = append(ops, n), n.Operand
		case expr.Limit:
			ops, e = append(ops, n), n.Operand
		case expr.Filter:
			ops, e = append(ops, n), n.Operand
		default:
			slices.Reverse(ops)
			return e, ops
		}
	}
}

func (x *executor) applyOps(ctx context.Context, ds *expr.Dataset, ops []expr.Expression, sc *scope) (*expr.Dataset, error) {
	for i := 0; i < len(ops); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		switch op := ops[i].(type) {
		case expr.Apply:
			// consecutive SQL aggregates share one statement per datum
			var batch []querysql.Aggregate
			for j := i; j < len(ops); j++ {
				a, ok := ops[j].(expr.Apply)
				if !ok || !x.pushable(a.Expression) {
					break
				}
				batch = append(batch, querysql.Aggregate{Name: a.Name, Expression: a.Expression})
			}
			if len(batch) > 0 {
				if err := x.totals(ctx, ds, batch, sc); err != nil {
					return nil, err
				}
				i += len(batch) - 1
				continue
			}
			for _, d := range ds.Data {
				v, err := x.eval(ctx, op.Expression, sc.child(d))
				if err != nil {
					return nil, fmt.Errorf("apply %q: %w", op.Name, err)
				}
				d[op.Name] = v
			}

		case expr.Sort:
			ref, ok := op.Expression.(expr.Ref)
			if !ok {
				return nil, invalidf("sort by %s: not a reference", expr.String(op.Expression))
			}
			sortDataset(ds, ref.Name, op.Direction)

		case expr.Limit:
			if op.Value < 0 {
				return nil, invalidf("negative limit %d", op.Value)
			}
			if op.Value < len(ds.Data) {
				ds.Data = ds.Data[:op.Value]
			}

		case expr.Filter:
			kept, err := x.filterDataset(ctx, ds, op.Expression, sc)
			if err != nil {
				return nil, err
			}
			ds = kept
		}
	}
	return ds, nil
}

func sortDataset(ds *expr.Dataset, name, direction string) {
	slices.SortStableFunc(ds.Data, func(a, b expr.Datum) int {
		c := compareValues(a[name], b[name])
		if direction == expr.Descending {
			return -c
		}
		return c
	})
}

func (x *executor) filterDataset(ctx context.Context, ds *expr.Dataset, pred expr.Expression, sc *scope) (*expr.Dataset, error) {
	out := &expr.Dataset{Data: make([]expr.Datum, 0, len(ds.Data))}
	for _, d := range ds.Data {
		v, err := x.eval(ctx, pred, sc.child(d))
		if err != nil {
			return nil, fmt.Errorf("filter: %w", err)
		}
		if truthy(v) {
			out.Data = append(out.Data, d)
		}
	}
	return out, nil
}

// pushable reports whether e is an aggregate over $main that compiles to SQL.
func (x *executor) pushable(e expr.Expression) bool {
	if !expr.IsAggregate(e) {
		return false
	}
	if _, ok := e.(expr.Quantile); ok {
		return false
	}
	if x.checkColumns(e) != nil {
		return false
	}
	_, err := x.compiler.Aggregate(e)
	return err == nil
}

// checkColumns rejects references to columns the source does not have.
// SQLite would read an unknown quoted identifier as a string.
func (x *executor) checkColumns(e expr.Expression) error {
	var err error
	expr.Walk(e, func(n expr.Expression) bool {
		r, ok := n.(expr.Ref)
		if !ok || err != nil {
			return err == nil
		}
		if r.Name == expr.MainName && r.Nest == 0 {
			return true
		}
		if _, known := x.kinds[r.Name]; !known || r.Nest != 0 {
			err = invalidf("unknown column %s", expr.String(r))
		}
		return true
	})
	return err
}

// totals computes a batch of aggregates for every datum, one statement
// each, against the datum's $main.
func (x *executor) totals(ctx context.Context, ds *expr.Dataset, batch []querysql.Aggregate, sc *scope) error {
	for _, d := range ds.Data {
		v, ok := sc.child(d).lookup(expr.MainName, 0)
		rel, isRel := v.(relation)
		if !ok || !isRel {
			return invalidf("$main is not bound to rows")
		}
		sqlText, params, err := x.compiler.Compile(querysql.AggregateQuery{
			Source:     rel.source,
			Where:      rel.where,
			Aggregates: batch,
		})
		if err != nil {
			return err
		}
		rows, err := x.query(ctx, sqlText, params)
		if err != nil {
			return err
		}
		if len(rows) != 1 {
			return fmt.Errorf("totals returned %d rows", len(rows))
		}
		for i, a := range batch {
			d[a.Name] = x.decodeAggregate(a.Expression, rows[0][i])
		}
	}
	return nil
}

// split runs the GROUP BY statement of sp. Aggregates among the applies
// right after it are computed by the same statement, and a sort on the key
// or on one of them (plus a following limit) is pushed down too. It
// returns the grouped dataset and the operations still to apply.
func (x *executor) split(ctx context.Context, sp expr.Split, ops []expr.Expression, sc *scope) (*expr.Dataset, []expr.Expression, error) {
	v, err := x.eval(ctx, sp.Operand, sc)
	if err != nil {
		return nil, nil, err
	}
	rel, ok := v.(relation)
	if !ok {
		return nil, nil, fmt.Errorf("%w: split of %s", querysql.ErrUnsupported, expr.TypeOf(v))
	}
	if err := x.checkColumns(sp.Expression); err != nil {
		return nil, nil, err
	}
	key, err := x.compiler.Scalar(sp.Expression)
	if err != nil {
		return nil, nil, fmt.Errorf("split %q: %w", sp.Name, err)
	}

	q := querysql.AggregateQuery{Source: rel.source, Where: rel.where, Key: sp.Expression}

	run := 0
	seen := map[string]int{}
	for ; run < len(ops); run++ {
		a, ok := ops[run].(expr.Apply)
		if !ok {
			break
		}
		seen[a.Name]++
	}
	hoisted := map[string]bool{}
	var rest []expr.Expression
	for _, op := range ops[:run] {
		a := op.(expr.Apply)
		if seen[a.Name] == 1 && a.Name != sp.Name && a.Name != sp.DataName && x.pushable(a.Expression) {
			q.Aggregates = append(q.Aggregates, querysql.Aggregate{Name: a.Name, Expression: a.Expression})
			hoisted[a.Name] = true
			continue
		}
		rest = append(rest, op)
	}

	next := run
	if next < len(ops) {
		switch op := ops[next].(type) {
		case expr.Sort:
			ref, ok := op.Expression.(expr.Ref)
			if ok && ref.Nest == 0 && (ref.Name == sp.Name || hoisted[ref.Name]) {
				if ref.Name != sp.Name {
					q.OrderBy = ref.Name
				}
				q.Direction = op.Direction
				next++
				if next < len(ops) {
					if l, ok := ops[next].(expr.Limit); ok && l.Value > 0 {
						q.Limit = l.Value
						next++
					}
				}
			}
		case expr.Limit:
			// groups already come in key order
			if op.Value > 0 {
				q.Limit = op.Value
				next++
			}
		}
	}

	sqlText, params, err := x.compiler.Compile(q)
	if err != nil {
		return nil, nil, fmt.Errorf("split %q: %w", sp.Name, err)
	}
	rows, err := x.query(ctx, sqlText, params)
	if err != nil {
		return nil, nil, err
	}

	ds := &expr.Dataset{Data: make([]expr.Datum, 0, len(rows))}
	for _, row := range rows {
		k, err := x.decodeKey(sp.Expression, row[0])
		if err != nil {
			return nil, nil, fmt.Errorf("split %q: %w", sp.Name, err)
		}
		d := expr.Datum{sp.Name: k}
		for i, a := range q.Aggregates {
			d[a.Name] = x.decodeAggregate(a.Expression, row[i+1])
		}
		if sp.DataName != "" {
			d[sp.DataName] = rel.filtered(querysql.KeyEquals(key, row[0]))
		}
		ds.Data = append(ds.Data, d)
	}
	return ds, append(rest, ops[next:]...), nil
}

func (x *executor) aggregate(ctx context.Context, e expr.Expression, sc *scope) (any, error) {
	operand, err := x.eval(ctx, aggregateOperand(e), sc)
	if err != nil {
		return nil, err
	}
	switch o := operand.(type) {
	case relation:
		if err := x.checkColumns(aggregateArgument(e)); err != nil {
			return nil, err
		}
		if q, ok := e.(expr.Quantile); ok {
			return x.quantile(ctx, o, q)
		}
		agg := withOperand(e, expr.Main())
		sqlText, params, err := x.compiler.Compile(querysql.AggregateQuery{
			Source:     o.source,
			Where:      o.where,
			Aggregates: []querysql.Aggregate{{Name: "value", Expression: agg}},
		})
		if err != nil {
			return nil, err
		}
		rows, err := x.query(ctx, sqlText, params)
		if err != nil {
			return nil, err
		}
		if len(rows) != 1 {
			return nil, fmt.Errorf("%s returned %d rows", e.Op(), len(rows))
		}
		return x.decodeAggregate(agg, rows[0][0]), nil
	case *expr.Dataset:
		return x.aggregateDataset(ctx, e, o, sc)
	}
	return nil, invalidf("cannot %s %s", e.Op(), expr.TypeOf(operand))
}

// quantile reads the values of q over rel in order and interpolates.
func (x *executor) quantile(ctx context.Context, rel relation, q expr.Quantile) (any, error) {
	sqlText, params, err := x.compiler.CompileValues(rel.source, rel.where, q.Expression)
	if err != nil {
		return nil, err
	}
	rows, err := x.query(ctx, sqlText, params)
	if err != nil {
		return nil, err
	}
	xs := make([]float64, 0, len(rows))
	for _, r := range rows {
		if n, ok := toNumber(r[0]); ok {
			xs = append(xs, n)
		}
	}
	return sampleQuantile(xs, q.Value, true), nil
}

func sampleQuantile(xs []float64, q float64, sorted bool) any {
	if len(xs) == 0 {
		return nil
	}
	return stats.Sample{Xs: xs, Sorted: sorted}.Quantile(q)
}

// aggregateDataset reduces the datums of an evaluated dataset.
func (x *executor) aggregateDataset(ctx context.Context, e expr.Expression, ds *expr.Dataset, sc *scope) (any, error) {
	if _, ok := e.(expr.Count); ok {
		return float64(len(ds.Data)), nil
	}
	arg := aggregateArgument(e)
	var vals []any
	for _, d := range ds.Data {
		v, err := x.eval(ctx, arg, sc.child(d))
		if err != nil {
			return nil, err
		}
		if v != nil {
			vals = append(vals, v)
		}
	}

	switch a := e.(type) {
	case expr.Sum:
		total := 0.0
		for _, v := range vals {
			n, _ := toNumber(v)
			total += n
		}
		return total, nil
	case expr.Average:
		if len(vals) == 0 {
			return nil, nil
		}
		total := 0.0
		for _, v := range vals {
			n, _ := toNumber(v)
			total += n
		}
		return total / float64(len(vals)), nil
	case expr.Min, expr.Max:
		if len(vals) == 0 {
			return nil, nil
		}
		_, isMax := a.(expr.Max)
		best := vals[0]
		for _, v := range vals[1:] {
			c := compareValues(v, best)
			if isMax && c > 0 || !isMax && c < 0 {
				best = v
			}
		}
		return best, nil
	case expr.CountDistinct:
		distinct := map[string]bool{}
		for _, v := range vals {
			distinct[expr.TypeOf(v)+":"+fmt.Sprint(v)] = true
		}
		return float64(len(distinct)), nil
	case expr.Quantile:
		xs := make([]float64, 0, len(vals))
		for _, v := range vals {
			if n, ok := toNumber(v); ok {
				xs = append(xs, n)
			}
		}
		return sampleQuantile(xs, a.Value, false), nil
	}
	return nil, fmt.Errorf("%w: %s", querysql.ErrUnsupported, e.Op())
}

func aggregateOperand(e expr.Expression) expr.Expression {
	switch a := e.(type) {
	case expr.Count:
		return a.Operand
	case expr.Sum:
		return a.Operand
	case expr.Min:
		return a.Operand
	case expr.Max:
		return a.Operand
	case expr.Average:
		return a.Operand
	case expr.CountDistinct:
		return a.Operand
	case expr.Quantile:
		return a.Operand
	}
	return nil
}

func aggregateArgument(e expr.Expression) expr.Expression {
	switch a := e.(type) {
	case expr.Sum:
		return a.Expression
	case expr.Min:
		return a.Expression
	case expr.Max:
		return a.Expression
	case expr.Average:
		return a.Expression
	case expr.CountDistinct:
		return a.Expression
	case expr.Quantile:
		return a.Expression
	}
	return nil
}

func withOperand(e, operand expr.Expression) expr.Expression {
	switch a := e.(type) {
	case expr.Count:
		a.Operand = operand
		return a
	case expr.Sum:
		a.Operand = operand
		return a
	case expr.Min:
		a.Operand = operand
		return a
	case expr.Max:
		a.Operand = operand
		return a
	case expr.Average:
		a.Operand = operand
		return a
	case expr.CountDistinct:
		a.Operand = operand
		return a
	case expr.Quantile:
		a.Operand = operand
		return a
	}
	return e
}

// decodeKey turns the raw group key into its dataset value: buckets
// become ranges, columns take their kind.
func (x *executor) decodeKey(key expr.Expression, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	switch k := key.(type) {
	case expr.TimeBucket:
		ms, ok := toNumber(raw)
		if !ok {
			return nil, fmt.Errorf("time bucket returned %T", raw)
		}
		loc, err := duration.LoadLocation(k.Timezone)
		if err != nil {
			return nil, err
		}
		start := time.UnixMilli(int64(ms)).UTC()
		return expr.NewTimeRange(start, k.Duration.Shift(start, loc, 1).UTC()), nil
	case expr.NumberBucket:
		n, ok := toNumber(raw)
		if !ok {
			return nil, fmt.Errorf("number bucket returned %T", raw)
		}
		return expr.NewNumberRange(n, n+k.Size), nil
	case expr.TimeShift:
		ms, ok := toNumber(raw)
		if !ok {
			return nil, fmt.Errorf("time shift returned %T", raw)
		}
		return time.UnixMilli(int64(ms)).UTC(), nil
	}
	return x.decodeColumn(key, raw), nil
}

func (x *executor) decodeAggregate(e expr.Expression, raw any) any {
	switch a := e.(type) {
	case expr.Min:
		return x.decodeColumn(a.Expression, raw)
	case expr.Max:
		return x.decodeColumn(a.Expression, raw)
	}
	return normalizeScanned(raw)
}

func (x *executor) decodeColumn(e expr.Expression, raw any) any {
	if r, ok := e.(expr.Ref); ok {
		if k, ok := x.kinds[r.Name]; ok {
			return store.FromStored(raw, k)
		}
	}
	return normalizeScanned(raw)
}

// query runs one statement and returns its rows.
func (x *executor) query(ctx context.Context, sqlText string, params []any) ([][]any, error) {
	if err := x.quota.Check(x.queryID); err != nil {
		return nil, err
	}
	slog.Debug("running statement", "query_id", x.queryID, "sql", sqlText, "params", len(params))
	if x.onSQL != nil {
		x.onSQL(x.queryID, sqlText)
	}
	start := time.Now()
	defer func() { x.metrics.statementDone(time.Since(start)) }()

	rows, err := x.store.Query(ctx, sqlText, params...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("run %s: %w", sqlText, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out [][]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, vals)
	}
	if err := rows.Err(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return out, nil
}
