package executor

import (
	"github.com/nervusdb/nervusdb/cypher/ast"
	"github.com/nervusdb/nervusdb/errkind"
	"github.com/nervusdb/nervusdb/value"
)

// writeTx is the subset of engine.WriteTx every write operator below needs;
// declared locally so this file documents exactly what it depends on
// without importing engine (Context.Write already carries the concrete
// type, satisfying this trivially).
type writeTx interface {
	CreateNode(externalID uint64, labelID uint32) (uint32, error)
	CreateEdge(src, rel, dst uint32) error
	TombstoneNode(id uint32) error
	TombstoneEdge(src, rel, dst uint32) error
	SetNodeProperty(id uint32, key string, v value.Value) error
	RemoveNodeProperty(id uint32, key string) error
	SetEdgeProperty(src, rel, dst uint32, key string, v value.Value) error
	RemoveEdgeProperty(src, rel, dst uint32, key string) error
	SetLabels(id uint32, labelIDs []uint32) error
	InternLabel(name string) (uint32, error)
	InternRelType(name string) (uint32, error)
	AllocateExternalID() uint64
}

// requireWrite fails fast when a write operator is pulled outside
// execute_write.
func requireWrite(ctx *Context) (writeTx, error) {
	if ctx.Write == nil {
		return nil, errkind.New(errkind.KindInvalidClauseComposition, "write clause executed outside a write transaction")
	}
	return ctx.Write, nil
}

// CreateNodeStep is one node slot of a CREATE/MERGE pattern. Bound is true when Alias already holds a node from an earlier
// clause (e.g. `CREATE (a)-[:KNOWS]->(b)` reusing a matched `a`) — in that
// case the step only supplies properties/labels context for validation and
// performs no creation.
type CreateNodeStep struct {
	Alias      string
	Bound      bool
	Labels     []string
	Properties map[string]ast.Expr
}

// CreateEdgeStep is one relationship slot of a CREATE/MERGE pattern.
type CreateEdgeStep struct {
	SrcAlias   string
	DstAlias   string
	RelAlias   string
	RelType    string
	Dir        ast.Direction
	Properties map[string]ast.Expr
}

// Create executes CreateNodeStep/CreateEdgeStep in order for every input
// row, binding freshly-created aliases alongside whatever the input
// already bound.
type Create struct {
	Input Node
	Nodes []CreateNodeStep
	Edges []CreateEdgeStep
}

func (n *Create) Next(ctx *Context) (Row, bool, error) {
	row, ok, err := n.Input.Next(ctx)
	if err != nil || !ok {
		return nil, ok, err
	}
	w, err := requireWrite(ctx)
	if err != nil {
		return nil, false, err
	}
	out := row.Clone()
	if err := createPattern(ctx, w, out, n.Nodes, n.Edges); err != nil {
		return nil, false, err
	}
	ctx.refreshAfterWrite()
	if err := ctx.countRow("Create"); err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// createPattern materializes every unbound node step then every edge step
// of a compiled pattern into row, mutating row in place with the fresh
// bindings. Shared by Create and Merge's no-match branch.
func createPattern(ctx *Context, w writeTx, row Row, nodes []CreateNodeStep, edges []CreateEdgeStep) error {
	for _, step := range nodes {
		if step.Bound {
			continue
		}
		labelIDs := make([]uint32, 0, len(step.Labels))
		for _, lbl := range step.Labels {
			id, err := w.InternLabel(lbl)
			if err != nil {
				return err
			}
			labelIDs = append(labelIDs, id)
		}
		// The idmap creation label; all-ones means "no label" so an
		// unlabeled node can never collide with a real label id.
		primary := ^uint32(0)
		if len(labelIDs) > 0 {
			primary = labelIDs[0]
		}
		internalID, err := w.CreateNode(w.AllocateExternalID(), primary)
		if err != nil {
			return err
		}
		if len(labelIDs) > 1 {
			if err := w.SetLabels(internalID, labelIDs); err != nil {
				return err
			}
		}
		for key, expr := range step.Properties {
			v, err := evalExpr(ctx, row, expr)
			if err != nil {
				return err
			}
			if err := w.SetNodeProperty(internalID, key, v); err != nil {
				return err
			}
		}
		if step.Alias != "" {
			row[step.Alias] = value.NodeVal(internalID)
		}
	}

	for _, step := range edges {
		srcVal, ok := row[step.SrcAlias]
		if !ok || srcVal.Kind != value.KindNode {
			return errkind.New(errkind.KindTypeMismatch, "CREATE relationship requires a bound node endpoint")
		}
		dstVal, ok := row[step.DstAlias]
		if !ok || dstVal.Kind != value.KindNode {
			return errkind.New(errkind.KindTypeMismatch, "CREATE relationship requires a bound node endpoint")
		}
		relID, err := w.InternRelType(step.RelType)
		if err != nil {
			return err
		}
		src, dst := srcVal.Node, dstVal.Node
		if step.Dir == ast.DirIncoming {
			src, dst = dst, src
		}
		if err := w.CreateEdge(src, relID, dst); err != nil {
			return err
		}
		for key, expr := range step.Properties {
			v, err := evalExpr(ctx, row, expr)
			if err != nil {
				return err
			}
			if err := w.SetEdgeProperty(src, relID, dst, key, v); err != nil {
				return err
			}
		}
		if step.RelAlias != "" {
			row[step.RelAlias] = value.EdgeVal(value.EdgeRef{Src: src, Rel: relID, Dst: dst})
		}
	}
	return nil
}

// Delete tombstones every node/relationship Exprs evaluates to, detaching
// (tombstoning incident edges first) when Detach is set, and erroring on a
// bare DELETE of a node that still has relationships.
type Delete struct {
	Input  Node
	Exprs  []ast.Expr
	Detach bool
}

func (n *Delete) Next(ctx *Context) (Row, bool, error) {
	row, ok, err := n.Input.Next(ctx)
	if err != nil || !ok {
		return nil, ok, err
	}
	w, err := requireWrite(ctx)
	if err != nil {
		return nil, false, err
	}
	for _, e := range n.Exprs {
		v, err := evalExpr(ctx, row, e)
		if err != nil {
			return nil, false, err
		}
		switch v.Kind {
		case value.KindNull:
			// DELETE of null is a no-op.
		case value.KindNode:
			if err := n.deleteNode(ctx, w, v.Node); err != nil {
				return nil, false, err
			}
		case value.KindEdge:
			if err := w.TombstoneEdge(v.Edge.Src, v.Edge.Rel, v.Edge.Dst); err != nil {
				return nil, false, err
			}
		default:
			return nil, false, errkind.New(errkind.KindTypeMismatch, "DELETE requires a node or relationship")
		}
	}
	ctx.refreshAfterWrite()
	if err := ctx.countRow("Delete"); err != nil {
		return nil, false, err
	}
	return row, true, nil
}

func (n *Delete) deleteNode(ctx *Context, w writeTx, id uint32) error {
	out := ctx.Snap.Neighbors(id, nil)
	in := ctx.Snap.IncomingNeighbors(id, nil)
	if !n.Detach && (len(out) > 0 || len(in) > 0) {
		return errkind.New(errkind.KindConstraintViolation, "node still has relationships; use DETACH DELETE")
	}
	for _, e := range out {
		if err := w.TombstoneEdge(id, e.Rel, e.Other); err != nil {
			return err
		}
	}
	for _, e := range in {
		if err := w.TombstoneEdge(e.Other, e.Rel, id); err != nil {
			return err
		}
	}
	return w.TombstoneNode(id)
}

// Set applies every ast.SetItem of a SET clause to its bound alias, per
// row: a plain
// `n.k = v` item is SetProperty, a whole-entity `n = {...}` / `n += {...}`
// item is SetPropertiesFromMap, and a `n:L1:L2` item is SetLabels.
type Set struct {
	Input Node
	Items []ast.SetItem
}

func (n *Set) Next(ctx *Context) (Row, bool, error) {
	row, ok, err := n.Input.Next(ctx)
	if err != nil || !ok {
		return nil, ok, err
	}
	w, err := requireWrite(ctx)
	if err != nil {
		return nil, false, err
	}
	for _, item := range n.Items {
		if err := applySetItem(ctx, w, row, item); err != nil {
			return nil, false, err
		}
	}
	ctx.refreshAfterWrite()
	if err := ctx.countRow("Set"); err != nil {
		return nil, false, err
	}
	return row, true, nil
}

// applySetItem dispatches one SetItem to the right write primitive,
// shared by the Set operator and Merge's ON CREATE/ON MATCH actions.
func applySetItem(ctx *Context, w writeTx, row Row, item ast.SetItem) error {
	target, ok := row[item.Variable]
	if !ok {
		return errkind.New(errkind.KindUndefinedVariable, "undefined variable "+item.Variable)
	}

	if item.Labels != nil {
		if target.Kind != value.KindNode {
			return errkind.New(errkind.KindTypeMismatch, "SET labels requires a node")
		}
		current, err := ctx.Snap.NodeLabels(target.Node)
		if err != nil {
			return err
		}
		seen := make(map[uint32]bool, len(current))
		next := append([]uint32(nil), current...)
		for _, id := range current {
			seen[id] = true
		}
		for _, name := range item.Labels {
			id, err := w.InternLabel(name)
			if err != nil {
				return err
			}
			if !seen[id] {
				seen[id] = true
				next = append(next, id)
			}
		}
		return w.SetLabels(target.Node, next)
	}

	if item.Property != "" {
		v, err := evalExpr(ctx, row, item.Value)
		if err != nil {
			return err
		}
		return setScalarProperty(w, target, item.Property, v)
	}

	// Whole-entity form: `n = {...}` (replace) or `n += {...}` (merge).
	v, err := evalExpr(ctx, row, item.Value)
	if err != nil {
		return err
	}
	if v.Kind != value.KindMap {
		return errkind.New(errkind.KindTypeMismatch, "SET n = ... requires a map")
	}
	if target.Kind != value.KindNode && target.Kind != value.KindEdge {
		return errkind.New(errkind.KindTypeMismatch, "SET requires a node or relationship")
	}
	if !item.Merge {
		var existing map[string]value.Value
		var err error
		if target.Kind == value.KindNode {
			existing, err = ctx.Snap.NodeProperties(target.Node)
		} else {
			existing, err = ctx.Snap.EdgeProperties(target.Edge.Src, target.Edge.Rel, target.Edge.Dst)
		}
		if err != nil {
			return err
		}
		for key := range existing {
			if _, keep := v.Map[key]; keep {
				continue
			}
			if err := removeScalarProperty(w, target, key); err != nil {
				return err
			}
		}
	}
	for key, val := range v.Map {
		if err := setScalarProperty(w, target, key, val); err != nil {
			return err
		}
	}
	return nil
}

// setScalarProperty sets key on target to v, removing it instead when v is
// Null (Cypher's `SET n.k = null` is a REMOVE).
func setScalarProperty(w writeTx, target value.Value, key string, v value.Value) error {
	if v.IsNull() {
		return removeScalarProperty(w, target, key)
	}
	if target.Kind == value.KindNode {
		return w.SetNodeProperty(target.Node, key, v)
	}
	return w.SetEdgeProperty(target.Edge.Src, target.Edge.Rel, target.Edge.Dst, key, v)
}

func removeScalarProperty(w writeTx, target value.Value, key string) error {
	if target.Kind == value.KindNode {
		return w.RemoveNodeProperty(target.Node, key)
	}
	return w.RemoveEdgeProperty(target.Edge.Src, target.Edge.Rel, target.Edge.Dst, key)
}

// Remove applies every ast.RemoveItem of a REMOVE clause.
type Remove struct {
	Input Node
	Items []ast.RemoveItem
}

func (n *Remove) Next(ctx *Context) (Row, bool, error) {
	row, ok, err := n.Input.Next(ctx)
	if err != nil || !ok {
		return nil, ok, err
	}
	w, err := requireWrite(ctx)
	if err != nil {
		return nil, false, err
	}
	for _, item := range n.Items {
		target, ok := row[item.Variable]
		if !ok {
			return nil, false, errkind.New(errkind.KindUndefinedVariable, "undefined variable "+item.Variable)
		}
		if item.Labels != nil {
			if target.Kind != value.KindNode {
				return nil, false, errkind.New(errkind.KindTypeMismatch, "REMOVE labels requires a node")
			}
			current, err := ctx.Snap.NodeLabels(target.Node)
			if err != nil {
				return nil, false, err
			}
			drop := make(map[uint32]bool, len(item.Labels))
			for _, name := range item.Labels {
				id, err := w.InternLabel(name)
				if err != nil {
					return nil, false, err
				}
				drop[id] = true
			}
			next := make([]uint32, 0, len(current))
			for _, id := range current {
				if !drop[id] {
					next = append(next, id)
				}
			}
			if err := w.SetLabels(target.Node, next); err != nil {
				return nil, false, err
			}
			continue
		}
		if err := removeScalarProperty(w, target, item.Property); err != nil {
			return nil, false, err
		}
	}
	ctx.refreshAfterWrite()
	if err := ctx.countRow("Remove"); err != nil {
		return nil, false, err
	}
	return row, true, nil
}

// Merge implements MERGE ... ON CREATE SET ... ON MATCH SET: for every input row, MatchPattern compiles and runs a fresh
// pattern-match subplan parametrized by that row; every resulting inner
// row is merged with ON MATCH actions applied, and if the subplan yields
// nothing at all, the pattern is created once with ON CREATE actions
// applied.
type Merge struct {
	Input        Node
	MatchPattern func(outer Row) (Node, error)
	Nodes        []CreateNodeStep
	Edges        []CreateEdgeStep
	OnCreate     []ast.SetItem
	OnMatch      []ast.SetItem

	sub      Node
	outerRow Row
	haveSub  bool
	anyMatch bool
}

func (n *Merge) Next(ctx *Context) (Row, bool, error) {
	w, err := requireWrite(ctx)
	if err != nil {
		return nil, false, err
	}
	for {
		if !n.haveSub {
			row, ok, err := n.Input.Next(ctx)
			if err != nil {
				return nil, false, err
			}
			if !ok {
				return nil, false, nil
			}
			sub, err := n.MatchPattern(row)
			if err != nil {
				return nil, false, err
			}
			n.sub = sub
			n.outerRow = row
			n.haveSub = true
			n.anyMatch = false
		}

		inner, ok, err := n.sub.Next(ctx)
		if err != nil {
			return nil, false, err
		}
		if ok {
			n.anyMatch = true
			merged := n.outerRow.Clone()
			for k, v := range inner {
				merged[k] = v
			}
			for _, item := range n.OnMatch {
				if err := applySetItem(ctx, w, merged, item); err != nil {
					return nil, false, err
				}
			}
			ctx.refreshAfterWrite()
			if err := ctx.countRow("Merge"); err != nil {
				return nil, false, err
			}
			return merged, true, nil
		}

		outer := n.outerRow
		matched := n.anyMatch
		n.haveSub = false
		if matched {
			continue
		}
		merged := outer.Clone()
		if err := createPattern(ctx, w, merged, n.Nodes, n.Edges); err != nil {
			return nil, false, err
		}
		for _, item := range n.OnCreate {
			if err := applySetItem(ctx, w, merged, item); err != nil {
				return nil, false, err
			}
		}
		ctx.refreshAfterWrite()
		if err := ctx.countRow("Merge"); err != nil {
			return nil, false, err
		}
		return merged, true, nil
	}
}
