package executor

// Union concatenates Left then Right; when All is false it additionally
// suppresses rows whose full binding set duplicates an already-emitted one
//, matching Cypher's UNION (non-ALL) row-set distinct.
type Union struct {
	Left, Right Node
	All         bool

	onLeft bool
	first  bool
	seen   map[string]struct{}
}

func (n *Union) Next(ctx *Context) (Row, bool, error) {
	if !n.first {
		n.first = true
		n.onLeft = true
		if !n.All {
			n.seen = make(map[string]struct{})
		}
	}
	for {
		var row Row
		var ok bool
		var err error
		if n.onLeft {
			row, ok, err = n.Left.Next(ctx)
			if err != nil {
				return nil, false, err
			}
			if !ok {
				n.onLeft = false
				continue
			}
		} else {
			row, ok, err = n.Right.Next(ctx)
			if err != nil {
				return nil, false, err
			}
			if !ok {
				return nil, false, nil
			}
		}
		if !n.All {
			key := rowKey(row)
			if _, dup := n.seen[key]; dup {
				continue
			}
			n.seen[key] = struct{}{}
		}
		if err := ctx.countRow("Union"); err != nil {
			return nil, false, err
		}
		return row, true, nil
	}
}
