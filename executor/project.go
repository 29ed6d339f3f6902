package executor

import (
	"sort"

	"github.com/nervusdb/nervusdb/cypher/ast"
	"github.com/nervusdb/nervusdb/value"
)

// ProjectItem is one `expr AS alias` projection term.
type ProjectItem struct {
	Alias string
	Expr  ast.Expr
}

// Project evaluates each projection expression per row, replacing the
// input row with exactly the projected bindings.
type Project struct {
	Input Node
	Items []ProjectItem
}

func (n *Project) Next(ctx *Context) (Row, bool, error) {
	row, ok, err := n.Input.Next(ctx)
	if err != nil || !ok {
		return nil, ok, err
	}
	out := make(Row, len(n.Items))
	for _, item := range n.Items {
		v, err := evalExpr(ctx, row, item.Expr)
		if err != nil {
			return nil, false, err
		}
		out[item.Alias] = v
	}
	if err := ctx.countRow("Project"); err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// SortKey is one ORDER BY term.
type SortKey struct {
	Expr       ast.Expr
	Descending bool
}

// OrderBy sorts its entire input before yielding.
type OrderBy struct {
	Input Node
	Keys  []SortKey

	rows    []Row
	pos     int
	sorted  bool
}

func (n *OrderBy) Next(ctx *Context) (Row, bool, error) {
	if !n.sorted {
		n.sorted = true
		rows, err := Collect(ctx, n.Input, -1)
		if err != nil {
			return nil, false, err
		}
		keyed := make([][]value.Value, len(rows))
		for i, r := range rows {
			ks := make([]value.Value, len(n.Keys))
			for j, k := range n.Keys {
				v, err := evalExpr(ctx, r, k.Expr)
				if err != nil {
					return nil, false, err
				}
				ks[j] = v
			}
			keyed[i] = ks
		}
		idx := make([]int, len(rows))
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(a, b int) bool {
			for j, k := range n.Keys {
				c := value.Compare(keyed[idx[a]][j], keyed[idx[b]][j])
				if c == 0 {
					continue
				}
				if k.Descending {
					return c > 0
				}
				return c < 0
			}
			return false
		})
		sortedRows := make([]Row, len(rows))
		for i, ix := range idx {
			sortedRows[i] = rows[ix]
		}
		n.rows = sortedRows
	}
	if n.pos >= len(n.rows) {
		return nil, false, nil
	}
	row := n.rows[n.pos]
	n.pos++
	return row, true, nil
}

// Skip discards the first Count rows of its input.
type Skip struct {
	Input Node
	Count ast.Expr

	resolved bool
	n        int64
	skipped  int64
}

func (n *Skip) Next(ctx *Context) (Row, bool, error) {
	if !n.resolved {
		n.resolved = true
		v, err := evalExpr(ctx, Row{}, n.Count)
		if err != nil {
			return nil, false, err
		}
		if v.Kind == value.KindInt {
			n.n = v.Int
		}
	}
	for n.skipped < n.n {
		_, ok, err := n.Input.Next(ctx)
		if err != nil || !ok {
			return nil, ok, err
		}
		n.skipped++
	}
	return n.Input.Next(ctx)
}

// Limit yields at most Count rows from its input.
type Limit struct {
	Input Node
	Count ast.Expr

	resolved bool
	n        int64
	emitted  int64
}

func (n *Limit) Next(ctx *Context) (Row, bool, error) {
	if !n.resolved {
		n.resolved = true
		v, err := evalExpr(ctx, Row{}, n.Count)
		if err != nil {
			return nil, false, err
		}
		if v.Kind == value.KindInt {
			n.n = v.Int
		}
	}
	if n.emitted >= n.n {
		return nil, false, nil
	}
	row, ok, err := n.Input.Next(ctx)
	if err != nil || !ok {
		return nil, ok, err
	}
	n.emitted++
	return row, true, nil
}

// Distinct suppresses rows whose full binding set duplicates one already
// seen, keyed on a string fingerprint of every column's value (rowKey).
type Distinct struct {
	Input Node

	seen map[string]struct{}
}

func (n *Distinct) Next(ctx *Context) (Row, bool, error) {
	if n.seen == nil {
		n.seen = make(map[string]struct{})
	}
	for {
		row, ok, err := n.Input.Next(ctx)
		if err != nil || !ok {
			return nil, ok, err
		}
		key := rowKey(row)
		if _, dup := n.seen[key]; dup {
			continue
		}
		n.seen[key] = struct{}{}
		return row, true, nil
	}
}

// rowKey produces a stable string fingerprint of a row's bindings, used by
// Distinct and Union's post-concatenation dedup.
func rowKey(row Row) string {
	names := make([]string, 0, len(row))
	for k := range row {
		names = append(names, k)
	}
	sort.Strings(names)
	s := ""
	for _, k := range names {
		s += k + "=" + row[k].String() + ";"
	}
	return s
}
