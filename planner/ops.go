package planner

import (
	"github.com/nervusdb/nervusdb/executor"
	"github.com/nervusdb/nervusdb/value"
)

// seedAnchor is the anchor operator for correlated sub-patterns: whether
// the pattern variable is outer-bound is only known at runtime, so for
// each input row it either passes the seeded node through untouched or
// falls back to a full node scan binding Alias.
type seedAnchor struct {
	Input executor.Node
	Alias string

	scanning bool
	ids      []uint32
	pos      int
	baseRow  executor.Row
}

func (n *seedAnchor) Next(ctx *executor.Context) (executor.Row, bool, error) {
	for {
		if n.scanning {
			if n.pos < len(n.ids) {
				id := n.ids[n.pos]
				n.pos++
				out := n.baseRow.Clone()
				out[n.Alias] = value.NodeVal(id)
				return out, true, nil
			}
			n.scanning = false
		}
		row, ok, err := n.Input.Next(ctx)
		if err != nil || !ok {
			return nil, ok, err
		}
		if v, bound := row[n.Alias]; bound && v.Kind == value.KindNode {
			return row, true, nil
		}
		n.scanning = true
		n.ids = ctx.Snap.Nodes()
		n.pos = 0
		n.baseRow = row
	}
}

// unify reconciles a freshly-expanded Hidden binding against an already
// bound Alias: rows survive only when both name the same node. A Null
// Hidden (an optional expansion that found nothing) passes through with
// the original binding intact.
type unify struct {
	Input  executor.Node
	Alias  string
	Hidden string
}

func (n *unify) Next(ctx *executor.Context) (executor.Row, bool, error) {
	for {
		row, ok, err := n.Input.Next(ctx)
		if err != nil || !ok {
			return nil, ok, err
		}
		h, hasHidden := row[n.Hidden]
		if !hasHidden || h.IsNull() {
			return row, true, nil
		}
		orig, bound := row[n.Alias]
		if !bound || orig.Kind != value.KindNode {
			out := row.Clone()
			out[n.Alias] = h
			delete(out, n.Hidden)
			return out, true, nil
		}
		if h.Kind == value.KindNode && h.Node == orig.Node {
			out := row.Clone()
			delete(out, n.Hidden)
			return out, true, nil
		}
	}
}

// bindPath reifies a fully-expanded fixed-length path pattern into a Path
// value bound under Alias: node ids and edge keys are collected from the
// pattern's (possibly hidden) element aliases.
type bindPath struct {
	Input       executor.Node
	Alias       string
	NodeAliases []string
	EdgeAliases []string
}

func (n *bindPath) Next(ctx *executor.Context) (executor.Row, bool, error) {
	for {
		row, ok, err := n.Input.Next(ctx)
		if err != nil || !ok {
			return nil, ok, err
		}
		p := value.PathRef{
			Nodes: make([]uint32, 0, len(n.NodeAliases)),
			Edges: make([]value.EdgeRef, 0, len(n.EdgeAliases)),
		}
		valid := true
		for _, alias := range n.NodeAliases {
			v, bound := row[alias]
			if !bound || v.Kind != value.KindNode {
				valid = false
				break
			}
			p.Nodes = append(p.Nodes, v.Node)
		}
		for _, alias := range n.EdgeAliases {
			if !valid {
				break
			}
			v, bound := row[alias]
			if !bound || v.Kind != value.KindEdge {
				valid = false
				break
			}
			p.Edges = append(p.Edges, v.Edge)
		}
		out := row.Clone()
		if valid {
			out[n.Alias] = value.PathVal(p)
		} else {
			// An optional pattern that found nothing leaves the path null.
			out[n.Alias] = value.Null
		}
		return out, true, nil
	}
}

// spool materializes a shared input exactly once so two downstream
// readers (OptionalWhereFixup's outer and filtered sides) observe the
// same rows without re-executing the producing plan.
type spool struct {
	src  executor.Node
	rows []executor.Row
	done bool
}

func (s *spool) fill(ctx *executor.Context) error {
	if s.done {
		return nil
	}
	rows, err := executor.Collect(ctx, s.src, -1)
	if err != nil {
		return err
	}
	s.rows = rows
	s.done = true
	return nil
}

// spoolReader is one independent cursor over a spool's materialized rows.
type spoolReader struct {
	s   *spool
	pos int
}

func (r *spoolReader) Next(ctx *executor.Context) (executor.Row, bool, error) {
	if err := r.s.fill(ctx); err != nil {
		return nil, false, err
	}
	if r.pos >= len(r.s.rows) {
		return nil, false, nil
	}
	row := r.s.rows[r.pos]
	r.pos++
	return row.Clone(), true, nil
}
