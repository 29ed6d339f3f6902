package executor

import (
	"github.com/nervusdb/nervusdb/snapshot"
	"github.com/nervusdb/nervusdb/value"
)

// Direction mirrors ast.Direction locally so executor does not need to
// import cypher/ast just for this one enum (kept deliberately tiny).
type Direction int

const (
	DirOutgoing Direction = iota
	DirIncoming
	DirEither
)

// neighborsOf resolves the candidate (rel, other) pairs for src in dir,
// merging both adjacency directions when dir is DirEither.
func neighborsOf(snap *snapshot.Snapshot, src uint32, rel *uint32, dir Direction) []snapshot.OutEdge {
	switch dir {
	case DirOutgoing:
		return snap.Neighbors(src, rel)
	case DirIncoming:
		return snap.IncomingNeighbors(src, rel)
	default:
		out := append([]snapshot.OutEdge(nil), snap.Neighbors(src, rel)...)
		out = append(out, snap.IncomingNeighbors(src, rel)...)
		return out
	}
}

// edgeKeyFor builds the canonical (src,rel,dst) key for an expansion step,
// respecting which side of the adjacency the step actually traversed so
// path_alias_contains_edge uniqueness checks are direction-correct.
func edgeKeyFor(src uint32, e snapshot.OutEdge, dir Direction) snapshot.EdgeKey {
	if dir == DirIncoming {
		return snapshot.EdgeKey{Src: e.Other, Rel: e.Rel, Dst: src}
	}
	return snapshot.EdgeKey{Src: src, Rel: e.Rel, Dst: e.Other}
}

// MatchOneHop expands one relationship hop, in its Dir direction, from an
// already-bound source alias: for every input row, scan
// neighbors filtered by an optional single relationship type and destination
// label, binding RelAlias (if named) and DstAlias. OPTIONAL variants emit a
// null-bound row when no expansion matches that input row.
type MatchOneHop struct {
	Input     Node
	SrcAlias  string
	RelAlias  string // "" if unbound
	DstAlias  string
	DstLabel  *uint32
	RelFilter *uint32 // nil means "any relationship type"
	Dir       Direction
	Optional  bool

	// PathEdgeAliases names every relationship-variable alias already bound
	// earlier in the same path pattern, so edges already used within this
	// path are never reused.
	PathEdgeAliases []string

	cur        []snapshot.OutEdge
	curSrc     uint32
	curRow     Row
	curIdx     int
	rowMatched bool
	exhausted  bool
}

func (n *MatchOneHop) Next(ctx *Context) (Row, bool, error) {
	for {
		if n.cur == nil {
			row, ok, err := n.Input.Next(ctx)
			if err != nil {
				return nil, false, err
			}
			if !ok {
				return nil, false, nil
			}
			srcVal, ok := row[n.SrcAlias]
			if !ok || srcVal.Kind != value.KindNode {
				if n.Optional {
					out := row.Clone()
					out[n.DstAlias] = value.Null
					if n.RelAlias != "" {
						out[n.RelAlias] = value.Null
					}
					if err := ctx.countRow("MatchOneHop"); err != nil {
						return nil, false, err
					}
					return out, true, nil
				}
				continue
			}
			n.curSrc = srcVal.Node
			n.curRow = row
			n.cur = neighborsOf(ctx.Snap, n.curSrc, n.RelFilter, n.Dir)
			n.curIdx = 0
			n.rowMatched = false
		}

		for n.curIdx < len(n.cur) {
			e := n.cur[n.curIdx]
			n.curIdx++
			if n.DstLabel != nil {
				has, err := ctx.Snap.HasLabel(e.Other, *n.DstLabel)
				if err != nil {
					return nil, false, err
				}
				if !has {
					continue
				}
			}
			ek := edgeKeyFor(n.curSrc, e, n.Dir)
			if n.pathEdgeReused(n.curRow, ek) {
				continue
			}
			out := n.curRow.Clone()
			out[n.DstAlias] = value.NodeVal(e.Other)
			if n.RelAlias != "" {
				out[n.RelAlias] = value.EdgeVal(value.EdgeRef{Src: ek.Src, Rel: ek.Rel, Dst: ek.Dst})
			}
			n.rowMatched = true
			if err := ctx.countRow("MatchOneHop"); err != nil {
				return nil, false, err
			}
			return out, true, nil
		}

		exhaustedRow := n.curRow
		matched := n.rowMatched
		n.cur = nil
		if n.Optional && !matched {
			out := exhaustedRow.Clone()
			out[n.DstAlias] = value.Null
			if n.RelAlias != "" {
				out[n.RelAlias] = value.Null
			}
			if err := ctx.countRow("MatchOneHop"); err != nil {
				return nil, false, err
			}
			return out, true, nil
		}
	}
}

// pathEdgeReused reports whether ek matches any already-bound relationship
// alias named in PathEdgeAliases, enforcing Cypher's no-repeated-edge rule
// within a single path pattern.
func (n *MatchOneHop) pathEdgeReused(row Row, ek snapshot.EdgeKey) bool {
	for _, alias := range n.PathEdgeAliases {
		v, ok := row[alias]
		if !ok || v.Kind != value.KindEdge {
			continue
		}
		if v.Edge == (value.EdgeRef{Src: ek.Src, Rel: ek.Rel, Dst: ek.Dst}) {
			return true
		}
	}
	return false
}

// MatchOutVarLen performs an iterative DFS up to Max hops from SrcAlias,
// emitting a row at every step where the hop count lies in [Min, Max] and
// the destination satisfies DstLabel, enforcing edge uniqueness within the
// traversed path.
type MatchOutVarLen struct {
	Input    Node
	SrcAlias string
	DstAlias string
	DstLabel *uint32
	RelFilter *uint32
	Dir      Direction
	Min, Max int

	frames []varLenFrame
	input  bool
}

type varLenFrame struct {
	row    Row
	node   uint32
	depth  int
	used   map[snapshot.EdgeKey]struct{}
	queue  []snapshot.OutEdge
	qIdx   int
}

func (n *MatchOutVarLen) Next(ctx *Context) (Row, bool, error) {
	for {
		if len(n.frames) == 0 {
			row, ok, err := n.Input.Next(ctx)
			if err != nil {
				return nil, false, err
			}
			if !ok {
				return nil, false, nil
			}
			srcVal, ok := row[n.SrcAlias]
			if !ok || srcVal.Kind != value.KindNode {
				continue
			}
			n.frames = []varLenFrame{{row: row, node: srcVal.Node, depth: 0, used: map[snapshot.EdgeKey]struct{}{}}}
		}

		top := &n.frames[len(n.frames)-1]
		if top.queue == nil {
			top.queue = neighborsOf(ctx.Snap, top.node, n.RelFilter, n.Dir)
			top.qIdx = 0
		}

		advanced := false
		for top.qIdx < len(top.queue) {
			e := top.queue[top.qIdx]
			top.qIdx++
			ek := edgeKeyFor(top.node, e, n.Dir)
			if _, used := top.used[ek]; used {
				continue
			}
			if top.depth+1 > n.Max {
				continue
			}
			nextUsed := make(map[snapshot.EdgeKey]struct{}, len(top.used)+1)
			for k := range top.used {
				nextUsed[k] = struct{}{}
			}
			nextUsed[ek] = struct{}{}
			n.frames = append(n.frames, varLenFrame{row: top.row, node: e.Other, depth: top.depth + 1, used: nextUsed})
			advanced = true

			depth := top.depth + 1
			if depth >= n.Min {
				if n.DstLabel != nil {
					has, err := ctx.Snap.HasLabel(e.Other, *n.DstLabel)
					if err != nil {
						return nil, false, err
					}
					if !has {
						break
					}
				}
				out := top.row.Clone()
				out[n.DstAlias] = value.NodeVal(e.Other)
				if err := ctx.countRow("MatchOutVarLen"); err != nil {
					return nil, false, err
				}
				return out, true, nil
			}
			break
		}
		if !advanced {
			n.frames = n.frames[:len(n.frames)-1]
		}
	}
}

// MatchBoundRel joins an already-bound edge variable (RelAlias) against
// fresh src/dst node-pattern bindings, checking direction and label
// constraints — used when a relationship variable reappears
// later in the same pattern instead of being freshly expanded.
type MatchBoundRel struct {
	Input     Node
	RelAlias  string
	SrcAlias  string
	DstAlias  string
	SrcLabel  *uint32
	DstLabel  *uint32
}

func (n *MatchBoundRel) Next(ctx *Context) (Row, bool, error) {
	for {
		row, ok, err := n.Input.Next(ctx)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}
		relVal, ok := row[n.RelAlias]
		if !ok || relVal.Kind != value.KindEdge {
			continue
		}
		src, dst := relVal.Edge.Src, relVal.Edge.Dst
		if n.SrcLabel != nil {
			has, err := ctx.Snap.HasLabel(src, *n.SrcLabel)
			if err != nil {
				return nil, false, err
			}
			if !has {
				continue
			}
		}
		if n.DstLabel != nil {
			has, err := ctx.Snap.HasLabel(dst, *n.DstLabel)
			if err != nil {
				return nil, false, err
			}
			if !has {
				continue
			}
		}
		out := row.Clone()
		out[n.SrcAlias] = value.NodeVal(src)
		out[n.DstAlias] = value.NodeVal(dst)
		if err := ctx.countRow("MatchBoundRel"); err != nil {
			return nil, false, err
		}
		return out, true, nil
	}
}
