package executor

import (
	"github.com/nervusdb/nervusdb/cypher/ast"
	"github.com/nervusdb/nervusdb/eval"
	"github.com/nervusdb/nervusdb/value"
)

// ReturnOne yields exactly one empty row, the identity input every plan
// with no leading MATCH/UNWIND starts from (e.g. `RETURN 1`).
type ReturnOne struct {
	done bool
}

func (n *ReturnOne) Next(ctx *Context) (Row, bool, error) {
	if n.done {
		return nil, false, nil
	}
	n.done = true
	return Row{}, true, nil
}

// NodeScan iterates every live node, binding Alias, optionally filtered to
// a single label id. When Optional is set and the scan is empty, it yields
// one row with Alias bound to Null instead of nothing.
type NodeScan struct {
	Alias    string
	Label    *uint32
	Optional bool

	ids      []uint32
	pos      int
	started  bool
	produced bool
}

func (n *NodeScan) Next(ctx *Context) (Row, bool, error) {
	if !n.started {
		n.started = true
		n.ids = ctx.Snap.Nodes()
	}
	for n.pos < len(n.ids) {
		id := n.ids[n.pos]
		n.pos++
		if n.Label != nil {
			has, err := ctx.Snap.HasLabel(id, *n.Label)
			if err != nil {
				return nil, false, err
			}
			if !has {
				continue
			}
		}
		n.produced = true
		if err := ctx.countRow("NodeScan"); err != nil {
			return nil, false, err
		}
		return Row{n.Alias: value.NodeVal(id)}, true, nil
	}
	if n.Optional && !n.produced {
		n.produced = true
		return Row{n.Alias: value.Null}, true, nil
	}
	return nil, false, nil
}

// IndexSeek evaluates Eval against the outer row/params, resolves
// LabelName.Field in the index catalog, and cursor-scans on a hit; on a
// miss (no such index, or no matching value) it runs Fallback instead
//.
type IndexSeek struct {
	Alias     string
	LabelName string
	Field     string
	ValueExpr ast.Expr
	Fallback  Node

	// Outer carries the enclosing row's bindings when the seek runs
	// correlated under Apply; nil for a query-root seek.
	Outer Row

	resolved bool
	useIndex bool
	ids      []uint32
	pos      int
}

func (n *IndexSeek) Next(ctx *Context) (Row, bool, error) {
	if !n.resolved {
		n.resolved = true
		outer := n.Outer
		if outer == nil {
			outer = Row{}
		}
		v, err := evalExpr(ctx, outer, n.ValueExpr)
		if err != nil {
			return nil, false, err
		}
		ids, err := ctx.Snap.LookupIndex(n.LabelName+"."+n.Field, v)
		if err != nil {
			return nil, false, err
		}
		if ids != nil {
			n.useIndex = true
			n.ids = ids
		}
	}
	if !n.useIndex {
		if n.Fallback == nil {
			return nil, false, nil
		}
		return n.Fallback.Next(ctx)
	}
	if n.pos >= len(n.ids) {
		return nil, false, nil
	}
	id := n.ids[n.pos]
	n.pos++
	if err := ctx.countRow("IndexSeek"); err != nil {
		return nil, false, err
	}
	return Row{n.Alias: value.NodeVal(id)}, true, nil
}

// VectorTopKScan emits node-id bindings in rank order from the global
// vector index, used when the planner pushes an unlabeled,
// DESC-ordered, LIMIT-bounded vector-similarity ORDER BY down into a scan.
type VectorTopKScan struct {
	Alias string
	Query []float32
	K     int

	started bool
	ids     []uint32
	pos     int
}

func (n *VectorTopKScan) Next(ctx *Context) (Row, bool, error) {
	if !n.started {
		n.started = true
		results, err := ctx.Snap.LookupVectorTopK(n.Query, n.K)
		if err != nil {
			return nil, false, err
		}
		for _, r := range results {
			n.ids = append(n.ids, r.ID)
		}
	}
	if n.pos >= len(n.ids) {
		return nil, false, nil
	}
	id := n.ids[n.pos]
	n.pos++
	if err := ctx.countRow("VectorTopKScan"); err != nil {
		return nil, false, err
	}
	return Row{n.Alias: value.NodeVal(id)}, true, nil
}

// evalExpr evaluates e against row, the one seam every operator below goes
// through rather than calling eval.Eval directly.
func evalExpr(ctx *Context, row Row, e ast.Expr) (value.Value, error) {
	return eval.Eval(e, evalCtx(ctx, row))
}
