package executor

import (
	"sort"

	"github.com/nervusdb/nervusdb/cypher/ast"
	"github.com/nervusdb/nervusdb/errkind"
	"github.com/nervusdb/nervusdb/value"
)

// AggFunc names one aggregate kind.
type AggFunc int

const (
	AggCount AggFunc = iota
	AggSum
	AggAvg
	AggMin
	AggMax
	AggCollect
)

// AggregateItem is one `fn(expr) AS alias` aggregate term, Distinct marking
// `fn(DISTINCT expr)`. Expr is nil for the argument-less `count(*)`.
type AggregateItem struct {
	Alias    string
	Fn       AggFunc
	Expr     ast.Expr
	Distinct bool
}

// Aggregate groups rows by GroupBy (evaluated per row), folding each
// AggregateItem over every group's member rows. A query with
// no GroupBy over an empty input still yields exactly one row (Cypher's
// zero-row aggregate semantics).
type Aggregate struct {
	Input   Node
	GroupBy []ProjectItem
	Aggs    []AggregateItem

	results []Row
	pos     int
	started bool
}

type aggGroup struct {
	key  string
	row  Row // group-by bindings, for output
	rows []Row
}

func (n *Aggregate) Next(ctx *Context) (Row, bool, error) {
	if !n.started {
		n.started = true
		if err := n.run(ctx); err != nil {
			return nil, false, err
		}
	}
	if n.pos >= len(n.results) {
		return nil, false, nil
	}
	row := n.results[n.pos]
	n.pos++
	return row, true, nil
}

func (n *Aggregate) run(ctx *Context) error {
	var order []string
	groups := make(map[string]*aggGroup)
	any := false
	for {
		row, ok, err := n.Input.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		any = true
		groupRow := make(Row, len(n.GroupBy))
		for _, g := range n.GroupBy {
			v, err := evalExpr(ctx, row, g.Expr)
			if err != nil {
				return err
			}
			groupRow[g.Alias] = v
		}
		key := rowKey(groupRow)
		g, ok := groups[key]
		if !ok {
			g = &aggGroup{key: key, row: groupRow}
			groups[key] = g
			order = append(order, key)
		}
		g.rows = append(g.rows, row)
		if err := ctx.countItems("Aggregate", len(g.rows)); err != nil {
			return err
		}
	}

	if !any && len(n.GroupBy) == 0 {
		order = []string{""}
		groups[""] = &aggGroup{row: Row{}}
	}

	sort.Strings(order)
	for _, key := range order {
		g := groups[key]
		out := g.row.Clone()
		for _, a := range n.Aggs {
			v, err := foldAggregate(ctx, a, g.rows)
			if err != nil {
				return err
			}
			out[a.Alias] = v
		}
		if err := ctx.countRow("Aggregate"); err != nil {
			return err
		}
		n.results = append(n.results, out)
	}
	return nil
}

func foldAggregate(ctx *Context, a AggregateItem, rows []Row) (value.Value, error) {
	var vals []value.Value
	if a.Fn == AggCount && a.Expr == nil {
		return value.Int(int64(len(rows))), nil
	}
	for _, r := range rows {
		v, err := evalExpr(ctx, r, a.Expr)
		if err != nil {
			return value.Null, err
		}
		vals = append(vals, v)
	}
	if a.Distinct {
		vals = dedupValues(vals)
	}

	switch a.Fn {
	case AggCount:
		n := 0
		for _, v := range vals {
			if !v.IsNull() {
				n++
			}
		}
		return value.Int(int64(n)), nil
	case AggCollect:
		out := make([]value.Value, 0, len(vals))
		for _, v := range vals {
			if !v.IsNull() {
				out = append(out, v)
			}
		}
		return value.List(out), nil
	case AggSum:
		var sumInt int64
		var sumFloat float64
		isFloat := false
		for _, v := range vals {
			if v.IsNull() {
				continue
			}
			if !v.IsNumber() {
				return value.Null, errkind.New(errkind.KindTypeMismatch, "sum() requires numbers")
			}
			if v.Kind == value.KindFloat {
				isFloat = true
			}
			sumFloat += v.AsFloat64()
			if v.Kind == value.KindInt {
				sumInt += v.Int
			}
		}
		if isFloat {
			return value.Float(sumFloat), nil
		}
		return value.Int(sumInt), nil
	case AggAvg:
		var sum float64
		count := 0
		for _, v := range vals {
			if v.IsNull() {
				continue
			}
			if !v.IsNumber() {
				return value.Null, errkind.New(errkind.KindTypeMismatch, "avg() requires numbers")
			}
			sum += v.AsFloat64()
			count++
		}
		if count == 0 {
			return value.Null, nil
		}
		return value.Float(sum / float64(count)), nil
	case AggMin, AggMax:
		var best value.Value
		have := false
		for _, v := range vals {
			if v.IsNull() {
				continue
			}
			if !have {
				best = v
				have = true
				continue
			}
			c := value.Compare(v, best)
			if (a.Fn == AggMin && c < 0) || (a.Fn == AggMax && c > 0) {
				best = v
			}
		}
		if !have {
			return value.Null, nil
		}
		return best, nil
	default:
		return value.Null, errkind.New(errkind.KindInvalidArgumentType, "unknown aggregate function")
	}
}

func dedupValues(vals []value.Value) []value.Value {
	seen := make(map[string]struct{}, len(vals))
	var out []value.Value
	for _, v := range vals {
		k := v.String() + "|" + v.Kind.String()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, v)
	}
	return out
}
