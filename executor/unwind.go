package executor

import (
	"github.com/nervusdb/nervusdb/cypher/ast"
	"github.com/nervusdb/nervusdb/errkind"
	"github.com/nervusdb/nervusdb/value"
)

// Unwind expands Expr's list value into one row per element, merged into
// the input row under Alias. A Null input yields zero rows
// (matching Cypher's UNWIND null semantics); any other non-list value is a
// runtime error.
type Unwind struct {
	Input Node
	Expr  ast.Expr
	Alias string

	items   []value.Value
	idx     int
	baseRow Row
	have    bool
}

func (n *Unwind) Next(ctx *Context) (Row, bool, error) {
	for {
		if !n.have {
			row, ok, err := n.Input.Next(ctx)
			if err != nil {
				return nil, false, err
			}
			if !ok {
				return nil, false, nil
			}
			v, err := evalExpr(ctx, row, n.Expr)
			if err != nil {
				return nil, false, err
			}
			if v.IsNull() {
				continue
			}
			if v.Kind != value.KindList {
				return nil, false, errkind.New(errkind.KindTypeMismatch, "UNWIND requires a list")
			}
			if err := ctx.countItems("Unwind", len(v.List)); err != nil {
				return nil, false, err
			}
			n.items = v.List
			n.idx = 0
			n.baseRow = row
			n.have = true
		}
		if n.idx >= len(n.items) {
			n.have = false
			continue
		}
		item := n.items[n.idx]
		n.idx++
		out := n.baseRow.Clone()
		out[n.Alias] = item
		if err := ctx.countRow("Unwind"); err != nil {
			return nil, false, err
		}
		return out, true, nil
	}
}
