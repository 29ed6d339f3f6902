package planner

import (
	"fmt"
	"strings"

	"github.com/nervusdb/nervusdb/cypher/ast"
	"github.com/nervusdb/nervusdb/errkind"
	"github.com/nervusdb/nervusdb/eval"
	"github.com/nervusdb/nervusdb/executor"
	"github.com/nervusdb/nervusdb/value"
)

// projSpec is the shared shape of WITH and RETURN.
type projSpec struct {
	items    []ast.ProjectionItem
	star     bool
	distinct bool
	where    ast.Expr // WITH-only post-projection filter
	orderBy  []ast.SortItem
	skip     ast.Expr
	limit    ast.Expr
}

func (p *Planner) compileWith(cur executor.Node, sc scope, c *ast.WithClause) (executor.Node, scope, error) {
	out, newScope, _, err := p.compileProjection(cur, sc, projSpec{
		items: c.Items, star: c.Star, distinct: c.Distinct,
		where: c.Where, orderBy: c.OrderBy, skip: c.Skip, limit: c.Limit,
	})
	return out, newScope, err
}

func (p *Planner) compileReturn(cur executor.Node, sc scope, c *ast.ReturnClause) (executor.Node, []string, error) {
	out, _, cols, err := p.compileProjection(cur, sc, projSpec{
		items: c.Items, star: c.Star, distinct: c.Distinct,
		orderBy: c.OrderBy, skip: c.Skip, limit: c.Limit,
	})
	if err != nil {
		return nil, nil, err
	}
	if len(cols) == 0 {
		return nil, nil, errkind.New(errkind.KindInvalidClauseComposition, "RETURN requires at least one item")
	}
	return out, cols, nil
}

// compileProjection lowers one WITH/RETURN boundary: projections and
// aggregates, then WHERE, ORDER BY, SKIP, LIMIT, DISTINCT, in the plan
// canonical shape.
func (p *Planner) compileProjection(cur executor.Node, sc scope, spec projSpec) (executor.Node, scope, []string, error) {
	items := spec.items
	if spec.star {
		passthrough := make([]ast.ProjectionItem, 0, len(sc))
		for _, name := range sc.names() {
			passthrough = append(passthrough, ast.ProjectionItem{Expr: &ast.Variable{Name: name}, Alias: name})
		}
		items = append(passthrough, items...)
	}

	aliases := make([]string, len(items))
	for i, item := range items {
		alias := item.Alias
		if alias == "" {
			alias = renderExpr(item.Expr)
		}
		aliases[i] = alias
		if err := p.checkExpr(sc, item.Expr); err != nil {
			return nil, nil, nil, err
		}
	}

	newScope := make(scope, len(items))
	for i, item := range items {
		newScope[aliases[i]] = bindKindOf(sc, item.Expr)
	}

	hasAgg := false
	for _, item := range items {
		if exprHasAggregate(item.Expr) {
			hasAgg = true
			break
		}
	}

	if !hasAgg {
		cur = p.tryVectorPushdown(cur, &spec)
	}

	finalItems := make([]executor.ProjectItem, len(items))

	switch {
	case hasAgg:
		var groupBy []executor.ProjectItem
		var aggItems []executor.AggregateItem
		for i, item := range items {
			if exprHasAggregate(item.Expr) {
				rewritten := p.extractAggregates(item.Expr, &aggItems)
				finalItems[i] = executor.ProjectItem{Alias: aliases[i], Expr: rewritten}
			} else {
				groupBy = append(groupBy, executor.ProjectItem{Alias: aliases[i], Expr: item.Expr})
				finalItems[i] = executor.ProjectItem{Alias: aliases[i], Expr: &ast.Variable{Name: aliases[i]}}
			}
		}
		cur = &executor.Aggregate{Input: cur, GroupBy: groupBy, Aggs: aggItems}
		cur = &executor.Project{Input: cur, Items: finalItems}
		var err error
		cur, err = p.appendFilterSort(cur, newScope, spec)
		if err != nil {
			return nil, nil, nil, err
		}

	case len(spec.orderBy) > 0:
		// Sort keys may reference pre-projection bindings (ORDER BY n.age
		// after RETURN n.name), so sort over an extended row carrying both
		// and project the final columns afterwards.
		ext := make([]executor.ProjectItem, 0, len(sc)+len(items))
		aliasSet := map[string]bool{}
		for i := range items {
			aliasSet[aliases[i]] = true
		}
		for _, name := range sc.names() {
			if !aliasSet[name] {
				ext = append(ext, executor.ProjectItem{Alias: name, Expr: &ast.Variable{Name: name}})
			}
		}
		for i, item := range items {
			ext = append(ext, executor.ProjectItem{Alias: aliases[i], Expr: item.Expr})
		}
		cur = &executor.Project{Input: cur, Items: ext}
		merged := sc.clone()
		for k, v := range newScope {
			merged[k] = v
		}
		var err error
		cur, err = p.appendFilterSort(cur, merged, spec)
		if err != nil {
			return nil, nil, nil, err
		}
		for i := range items {
			finalItems[i] = executor.ProjectItem{Alias: aliases[i], Expr: &ast.Variable{Name: aliases[i]}}
		}
		cur = &executor.Project{Input: cur, Items: finalItems}

	default:
		for i, item := range items {
			finalItems[i] = executor.ProjectItem{Alias: aliases[i], Expr: item.Expr}
		}
		cur = &executor.Project{Input: cur, Items: finalItems}
		var err error
		cur, err = p.appendFilterSort(cur, newScope, spec)
		if err != nil {
			return nil, nil, nil, err
		}
	}

	if spec.distinct {
		cur = &executor.Distinct{Input: cur}
	}
	return cur, newScope, aliases, nil
}

// appendFilterSort attaches WHERE, ORDER BY, SKIP, and LIMIT (in that
// order) against checkScope.
func (p *Planner) appendFilterSort(cur executor.Node, checkScope scope, spec projSpec) (executor.Node, error) {
	if spec.where != nil {
		if err := p.checkExpr(checkScope, spec.where); err != nil {
			return nil, err
		}
		cur = &executor.Filter{Input: cur, Predicate: spec.where}
	}
	if len(spec.orderBy) > 0 {
		keys := make([]executor.SortKey, len(spec.orderBy))
		for i, s := range spec.orderBy {
			if err := p.checkExpr(checkScope, s.Expr); err != nil {
				return nil, err
			}
			keys[i] = executor.SortKey{Expr: s.Expr, Descending: s.Descending}
		}
		cur = &executor.OrderBy{Input: cur, Keys: keys}
	}
	if spec.skip != nil {
		cur = &executor.Skip{Input: cur, Count: spec.skip}
	}
	if spec.limit != nil {
		cur = &executor.Limit{Input: cur, Count: spec.limit}
	}
	return cur, nil
}

// tryVectorPushdown rewrites `MATCH (n) RETURN ... ORDER BY
// vec.similarity(n, q) DESC LIMIT k` into a VectorTopKScan:
// only over an unlabeled, non-optional global scan, only with DESC and a
// constant LIMIT. On a hit the ORDER BY is dropped — the scan already
// emits rank order.
func (p *Planner) tryVectorPushdown(cur executor.Node, spec *projSpec) executor.Node {
	if len(spec.orderBy) != 1 || !spec.orderBy[0].Descending || spec.limit == nil {
		return cur
	}
	scan, ok := cur.(*executor.NodeScan)
	if !ok || scan.Label != nil || scan.Optional {
		return cur
	}
	call, ok := spec.orderBy[0].Expr.(*ast.FunctionCall)
	if !ok || strings.ToLower(call.Name) != "vec.similarity" || len(call.Args) != 2 {
		return cur
	}
	nodeArg, ok := call.Args[0].(*ast.Variable)
	if !ok || nodeArg.Name != scan.Alias || !exprIsConstant(call.Args[1]) {
		return cur
	}
	queryVal, err := p.constEval(call.Args[1])
	if err != nil || queryVal.Kind != value.KindList {
		return cur
	}
	query := make([]float32, len(queryVal.List))
	for i, item := range queryVal.List {
		if !item.IsNumber() {
			return cur
		}
		query[i] = float32(item.AsFloat64())
	}
	k := int64(0)
	if limitVal, err := p.constEval(spec.limit); err == nil && limitVal.Kind == value.KindInt {
		k = limitVal.Int
	} else {
		return cur
	}
	if spec.skip != nil {
		if skipVal, err := p.constEval(spec.skip); err == nil && skipVal.Kind == value.KindInt {
			k += skipVal.Int
		} else {
			return cur
		}
	}
	spec.orderBy = nil
	return &executor.VectorTopKScan{Alias: scan.Alias, Query: query, K: int(k)}
}

// --- aggregates ----------------------------------------------------------

var aggFuncByName = map[string]executor.AggFunc{
	"count":   executor.AggCount,
	"sum":     executor.AggSum,
	"avg":     executor.AggAvg,
	"min":     executor.AggMin,
	"max":     executor.AggMax,
	"collect": executor.AggCollect,
}

func exprHasAggregate(e ast.Expr) bool {
	found := false
	walkExpr(e, func(x ast.Expr) {
		if call, ok := x.(*ast.FunctionCall); ok && eval.AggregateNames[strings.ToLower(call.Name)] {
			found = true
		}
	})
	return found
}

// extractAggregates rewrites e, replacing every aggregate call with a
// hidden variable bound by executor.Aggregate, and appends the
// corresponding AggregateItems. Expressions over aggregates (count(n)/60)
// thus evaluate in a post-aggregation projection.
func (p *Planner) extractAggregates(e ast.Expr, aggs *[]executor.AggregateItem) ast.Expr {
	switch n := e.(type) {
	case *ast.FunctionCall:
		if fn, isAgg := aggFuncByName[strings.ToLower(n.Name)]; isAgg {
			hidden := p.hidden("agg")
			var arg ast.Expr
			if len(n.Args) > 0 {
				arg = n.Args[0]
			}
			*aggs = append(*aggs, executor.AggregateItem{Alias: hidden, Fn: fn, Expr: arg, Distinct: n.Distinct})
			return &ast.Variable{Name: hidden}
		}
		args := make([]ast.Expr, len(n.Args))
		for i, a := range n.Args {
			args[i] = p.extractAggregates(a, aggs)
		}
		return &ast.FunctionCall{Name: n.Name, Args: args, Distinct: n.Distinct}
	case *ast.Binary:
		return &ast.Binary{Op: n.Op, Left: p.extractAggregates(n.Left, aggs), Right: p.extractAggregates(n.Right, aggs)}
	case *ast.Unary:
		return &ast.Unary{Op: n.Op, Operand: p.extractAggregates(n.Operand, aggs)}
	case *ast.Case:
		out := &ast.Case{}
		if n.Subject != nil {
			out.Subject = p.extractAggregates(n.Subject, aggs)
		}
		for _, w := range n.Whens {
			out.Whens = append(out.Whens, ast.CaseWhen{
				When: p.extractAggregates(w.When, aggs),
				Then: p.extractAggregates(w.Then, aggs),
			})
		}
		if n.Else != nil {
			out.Else = p.extractAggregates(n.Else, aggs)
		}
		return out
	case *ast.ListLiteral:
		items := make([]ast.Expr, len(n.Items))
		for i, it := range n.Items {
			items[i] = p.extractAggregates(it, aggs)
		}
		return &ast.ListLiteral{Items: items}
	case *ast.Index:
		return &ast.Index{Target: p.extractAggregates(n.Target, aggs), Idx: n.Idx}
	case *ast.PropertyAccess:
		return &ast.PropertyAccess{Target: p.extractAggregates(n.Target, aggs), Key: n.Key}
	default:
		return e
	}
}

// --- expression utilities ------------------------------------------------

// walkExpr visits e and every sub-expression, pre-order.
func walkExpr(e ast.Expr, visit func(ast.Expr)) {
	if e == nil {
		return
	}
	visit(e)
	switch n := e.(type) {
	case *ast.PropertyAccess:
		walkExpr(n.Target, visit)
	case *ast.Binary:
		walkExpr(n.Left, visit)
		walkExpr(n.Right, visit)
	case *ast.Unary:
		walkExpr(n.Operand, visit)
	case *ast.FunctionCall:
		for _, a := range n.Args {
			walkExpr(a, visit)
		}
	case *ast.Case:
		walkExpr(n.Subject, visit)
		for _, w := range n.Whens {
			walkExpr(w.When, visit)
			walkExpr(w.Then, visit)
		}
		walkExpr(n.Else, visit)
	case *ast.ListLiteral:
		for _, it := range n.Items {
			walkExpr(it, visit)
		}
	case *ast.ListComprehension:
		walkExpr(n.List, visit)
		walkExpr(n.Where, visit)
		walkExpr(n.Project, visit)
	case *ast.MapLiteral:
		for _, v := range n.Values {
			walkExpr(v, visit)
		}
	case *ast.Index:
		walkExpr(n.Target, visit)
		walkExpr(n.Idx, visit)
	case *ast.Slice:
		walkExpr(n.Target, visit)
		walkExpr(n.Lo, visit)
		walkExpr(n.Hi, visit)
	}
}

// checkExpr validates that every variable reference resolves in sc,
// extending the scope through list-comprehension binders and skipping
// EXISTS bodies (those compile at evaluation time with the runtime row as
// seed). Correlated mode suppresses the error entirely, since outer
// bindings are unknowable at compile time.
func (p *Planner) checkExpr(sc scope, e ast.Expr) error {
	if p.correlated {
		return nil
	}
	return p.checkExprIn(sc, e, map[string]bool{})
}

func (p *Planner) checkExprIn(sc scope, e ast.Expr, extra map[string]bool) error {
	if e == nil {
		return nil
	}
	switch n := e.(type) {
	case *ast.Variable:
		if _, ok := sc[n.Name]; ok {
			return nil
		}
		if extra[n.Name] {
			return nil
		}
		return errkind.New(errkind.KindUndefinedVariable, "undefined variable "+n.Name)
	case *ast.PropertyAccess:
		return p.checkExprIn(sc, n.Target, extra)
	case *ast.Binary:
		if err := p.checkExprIn(sc, n.Left, extra); err != nil {
			return err
		}
		return p.checkExprIn(sc, n.Right, extra)
	case *ast.Unary:
		return p.checkExprIn(sc, n.Operand, extra)
	case *ast.FunctionCall:
		for _, a := range n.Args {
			if err := p.checkExprIn(sc, a, extra); err != nil {
				return err
			}
		}
		return nil
	case *ast.Case:
		if err := p.checkExprIn(sc, n.Subject, extra); err != nil {
			return err
		}
		for _, w := range n.Whens {
			if err := p.checkExprIn(sc, w.When, extra); err != nil {
				return err
			}
			if err := p.checkExprIn(sc, w.Then, extra); err != nil {
				return err
			}
		}
		return p.checkExprIn(sc, n.Else, extra)
	case *ast.ListLiteral:
		for _, it := range n.Items {
			if err := p.checkExprIn(sc, it, extra); err != nil {
				return err
			}
		}
		return nil
	case *ast.ListComprehension:
		if err := p.checkExprIn(sc, n.List, extra); err != nil {
			return err
		}
		inner := map[string]bool{n.Variable: true}
		for k := range extra {
			inner[k] = true
		}
		if err := p.checkExprIn(sc, n.Where, inner); err != nil {
			return err
		}
		return p.checkExprIn(sc, n.Project, inner)
	case *ast.MapLiteral:
		for _, v := range n.Values {
			if err := p.checkExprIn(sc, v, extra); err != nil {
				return err
			}
		}
		return nil
	case *ast.Index:
		if err := p.checkExprIn(sc, n.Target, extra); err != nil {
			return err
		}
		return p.checkExprIn(sc, n.Idx, extra)
	case *ast.Slice:
		if err := p.checkExprIn(sc, n.Target, extra); err != nil {
			return err
		}
		if err := p.checkExprIn(sc, n.Lo, extra); err != nil {
			return err
		}
		return p.checkExprIn(sc, n.Hi, extra)
	default:
		// Literals, parameters, EXISTS bodies.
		return nil
	}
}

// bindKindOf infers the kind a projection alias carries forward: a plain
// variable reference keeps its kind, everything else is a scalar.
func bindKindOf(sc scope, e ast.Expr) BindKind {
	if v, ok := e.(*ast.Variable); ok {
		if kind, bound := sc[v.Name]; bound {
			return kind
		}
	}
	return BindScalar
}

// renderExpr names an un-aliased projection item the way the source text
// reads, approximately.
func renderExpr(e ast.Expr) string {
	switch n := e.(type) {
	case *ast.Variable:
		return n.Name
	case *ast.PropertyAccess:
		return renderExpr(n.Target) + "." + n.Key
	case *ast.Parameter:
		return "$" + n.Name
	case *ast.FunctionCall:
		args := make([]string, len(n.Args))
		for i, a := range n.Args {
			args[i] = renderExpr(a)
		}
		return n.Name + "(" + strings.Join(args, ", ") + ")"
	case *ast.Literal:
		switch n.Kind {
		case ast.LitNull:
			return "null"
		case ast.LitBool:
			return fmt.Sprintf("%v", n.Bool)
		case ast.LitInt:
			return fmt.Sprintf("%d", n.Int)
		case ast.LitFloat:
			return fmt.Sprintf("%g", n.Float)
		default:
			return "'" + n.Str + "'"
		}
	default:
		return "expr"
	}
}

// constEval folds an expression that must be known at compile time
// (SKIP/LIMIT pushdown bounds, procedure arguments, vector queries).
func (p *Planner) constEval(e ast.Expr) (value.Value, error) {
	return eval.Eval(e, &eval.Context{Row: eval.Row{}, Params: p.params, Snap: p.snap})
}
