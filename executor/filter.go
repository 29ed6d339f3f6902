package executor

import (
	"github.com/nervusdb/nervusdb/cypher/ast"
	"github.com/nervusdb/nervusdb/value"
)

// Filter evaluates Predicate per row, keeping only rows where it evaluates
// to Bool(true) — Null and false both drop the row.
type Filter struct {
	Input     Node
	Predicate ast.Expr
}

func (n *Filter) Next(ctx *Context) (Row, bool, error) {
	for {
		row, ok, err := n.Input.Next(ctx)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}
		v, err := evalExpr(ctx, row, n.Predicate)
		if err != nil {
			return nil, false, err
		}
		if v.Kind == value.KindBool && v.Bool {
			return row, true, nil
		}
	}
}

// OptionalWhereFixup implements OPTIONAL MATCH followed by WHERE: Filtered streams Outer through the WHERE predicate; for every
// outer row with no surviving filtered match, it re-emits Outer with
// NullAliases (the pattern's freshly-introduced variables) re-nulled,
// preserving outer-row cardinality instead of just filtering it away.
type OptionalWhereFixup struct {
	Outer       Node
	Filtered    Node
	NullAliases []string

	matchedOuterKeys map[string]bool
	filteredBuffered []Row
	filteredDone     bool
	outerRows        []Row
	outerPos         int
	started          bool
}

// outerKey fingerprints a row by its outer-only bindings (every binding
// except NullAliases), used to test whether a filtered row still traces
// back to a given outer row.
func (n *OptionalWhereFixup) outerKey(row Row) string {
	s := ""
	for k, v := range row {
		skip := false
		for _, na := range n.NullAliases {
			if k == na {
				skip = true
				break
			}
		}
		if skip {
			continue
		}
		s += k + "=" + v.String() + ";"
	}
	return s
}

func (n *OptionalWhereFixup) Next(ctx *Context) (Row, bool, error) {
	if !n.started {
		n.started = true
		outerRows, err := Collect(ctx, n.Outer, -1)
		if err != nil {
			return nil, false, err
		}
		n.outerRows = outerRows

		filteredRows, err := Collect(ctx, n.Filtered, -1)
		if err != nil {
			return nil, false, err
		}
		n.filteredBuffered = filteredRows
		n.matchedOuterKeys = make(map[string]bool, len(filteredRows))
		for _, r := range filteredRows {
			n.matchedOuterKeys[n.outerKey(r)] = true
		}
	}

	for len(n.filteredBuffered) > 0 {
		row := n.filteredBuffered[0]
		n.filteredBuffered = n.filteredBuffered[1:]
		if err := ctx.countRow("OptionalWhereFixup"); err != nil {
			return nil, false, err
		}
		return row, true, nil
	}

	for n.outerPos < len(n.outerRows) {
		row := n.outerRows[n.outerPos]
		n.outerPos++
		if n.matchedOuterKeys[n.outerKey(row)] {
			continue
		}
		out := row.Clone()
		for _, na := range n.NullAliases {
			out[na] = value.Null
		}
		if err := ctx.countRow("OptionalWhereFixup"); err != nil {
			return nil, false, err
		}
		return out, true, nil
	}
	return nil, false, nil
}
