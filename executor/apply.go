package executor

import "github.com/nervusdb/nervusdb/errkind"

// Apply implements correlated execution: for each outer
// row, Build compiles and returns a fresh subquery plan parametrized by
// that row's bindings; every row the subquery yields is merged on top of
// the outer row and emitted. Zero subquery rows for a given outer row
// yields nothing for it (no outer-preserving join; callers wanting that
// compose Apply with their own fixup, mirroring OptionalWhereFixup).
type Apply struct {
	Input Node
	Build func(outer Row) (Node, error)

	sub      Node
	outerRow Row
	haveSub  bool
	subCount int64
}

func (n *Apply) Next(ctx *Context) (Row, bool, error) {
	for {
		if !n.haveSub {
			row, ok, err := n.Input.Next(ctx)
			if err != nil {
				return nil, false, err
			}
			if !ok {
				return nil, false, nil
			}
			sub, err := n.Build(row)
			if err != nil {
				return nil, false, err
			}
			n.sub = sub
			n.outerRow = row
			n.haveSub = true
			n.subCount = 0
		}
		inner, ok, err := n.sub.Next(ctx)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			n.haveSub = false
			continue
		}
		n.subCount++
		if ctx.Limits.MaxApplyRowsPerOuter > 0 && n.subCount > ctx.Limits.MaxApplyRowsPerOuter {
			return nil, false, &errkind.ResourceLimitError{
				ResourceKind: errkind.ResourceApplyRowsPerOuter,
				Limit:        ctx.Limits.MaxApplyRowsPerOuter,
				Observed:     n.subCount,
				Stage:        "Apply",
			}
		}
		out := n.outerRow.Clone()
		for k, v := range inner {
			out[k] = v
		}
		if err := ctx.countRow("Apply"); err != nil {
			return nil, false, err
		}
		return out, true, nil
	}
}
