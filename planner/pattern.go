package planner

import (
	"math"

	"github.com/nervusdb/nervusdb/cypher/ast"
	"github.com/nervusdb/nervusdb/errkind"
	"github.com/nervusdb/nervusdb/executor"
)

// neverID is used when a pattern names a label or relationship type the
// snapshot's interner has never seen: nothing can match it, and the
// sentinel keeps the operator shape uniform instead of special-casing an
// empty plan.
const neverID = ^uint32(0)

func (p *Planner) labelID(name string) uint32 {
	if id, ok := p.snap.Labels.ID(name); ok {
		return id
	}
	return neverID
}

func (p *Planner) relTypeID(name string) uint32 {
	if id, ok := p.snap.RelTypes.ID(name); ok {
		return id
	}
	return neverID
}

// --- synthesized predicate helpers --------------------------------------

func labelPredicate(variable, label string) ast.Expr {
	return &ast.Binary{
		Op:    ast.OpIn,
		Left:  &ast.Literal{Kind: ast.LitString, Str: label},
		Right: &ast.FunctionCall{Name: "labels", Args: []ast.Expr{&ast.Variable{Name: variable}}},
	}
}

func propPredicate(variable, key string, val ast.Expr) ast.Expr {
	return &ast.Binary{
		Op:    ast.OpEq,
		Left:  &ast.PropertyAccess{Target: &ast.Variable{Name: variable}, Key: key},
		Right: val,
	}
}

func typePredicate(relVariable string, types []string) ast.Expr {
	items := make([]ast.Expr, len(types))
	for i, t := range types {
		items[i] = &ast.Literal{Kind: ast.LitString, Str: t}
	}
	return &ast.Binary{
		Op:    ast.OpIn,
		Left:  &ast.FunctionCall{Name: "type", Args: []ast.Expr{&ast.Variable{Name: relVariable}}},
		Right: &ast.ListLiteral{Items: items},
	}
}

// orNull wraps pred so a null binding (an optional expansion that found
// nothing) passes instead of being dropped by the constraint.
func orNull(alias string, pred ast.Expr) ast.Expr {
	return &ast.Binary{
		Op:    ast.OpOr,
		Left:  &ast.Unary{Op: ast.OpIsNull, Operand: &ast.Variable{Name: alias}},
		Right: pred,
	}
}

func idEqPredicate(a, b string) ast.Expr {
	return &ast.Binary{
		Op:    ast.OpEq,
		Left:  &ast.FunctionCall{Name: "id", Args: []ast.Expr{&ast.Variable{Name: a}}},
		Right: &ast.FunctionCall{Name: "id", Args: []ast.Expr{&ast.Variable{Name: b}}},
	}
}

// andAll folds predicates into one conjunction, nil for an empty list.
func andAll(preds []ast.Expr) ast.Expr {
	var out ast.Expr
	for _, pr := range preds {
		if out == nil {
			out = pr
			continue
		}
		out = &ast.Binary{Op: ast.OpAnd, Left: out, Right: pr}
	}
	return out
}

// nodeConstraints synthesizes the residual label and property equalities a
// node pattern imposes beyond what its operator already checked:
// labels[skipLabels:] plus every property key except consumedProp.
func nodeConstraints(np *ast.NodePattern, alias string, skipLabels int, consumedProp string) []ast.Expr {
	var preds []ast.Expr
	for _, lbl := range np.Labels[skipLabels:] {
		preds = append(preds, labelPredicate(alias, lbl))
	}
	for key, expr := range np.Properties {
		if key == consumedProp {
			continue
		}
		preds = append(preds, propPredicate(alias, key, expr))
	}
	return preds
}

// exprIsConstant reports whether e references no row bindings, making it
// evaluatable at seek-resolution time against an empty row.
func exprIsConstant(e ast.Expr) bool {
	constant := true
	walkExpr(e, func(x ast.Expr) {
		if _, isVar := x.(*ast.Variable); isVar {
			constant = false
		}
	})
	return constant
}

// --- path compilation ----------------------------------------------------

// expansionResult carries what one `-[r]->(dst)` step introduced.
type expansionResult struct {
	node      executor.Node
	contAlias string // alias traversal continues from
	edgeAlias string // "" when the step bound no relationship variable
	fresh     []string
}

// compilePath compiles one `(a)-[r]->(b)-...` path element chain onto cur,
// updating sc with the bindings it introduces and returning their names
// (used by OPTIONAL MATCH's fixup to know what to re-null).
func (p *Planner) compilePath(cur executor.Node, sc scope, path *ast.Path, optional bool) (executor.Node, []string, error) {
	if len(path.Elements) == 0 || path.Elements[0].Node == nil {
		return nil, nil, errkind.New(errkind.KindSyntaxError, "pattern must start with a node")
	}
	hasPathVar := path.Variable != ""
	if hasPathVar {
		for i := 1; i < len(path.Elements); i += 2 {
			if path.Elements[i].Rel != nil && path.Elements[i].Rel.VarLength {
				return nil, nil, errkind.New(errkind.KindInvalidClauseComposition,
					"path variables over variable-length patterns are not supported")
			}
		}
	}

	var fresh, pathNodes, pathEdges, pathEdgeAliases []string

	first := path.Elements[0].Node
	anchorAlias := first.Variable
	if anchorAlias == "" {
		anchorAlias = p.hidden("n")
	}
	cur, introduced, err := p.compileAnchor(cur, sc, first, anchorAlias, optional)
	if err != nil {
		return nil, nil, err
	}
	if introduced {
		fresh = append(fresh, anchorAlias)
	}
	pathNodes = append(pathNodes, anchorAlias)

	srcAlias := anchorAlias
	for i := 1; i < len(path.Elements); i += 2 {
		if path.Elements[i].Rel == nil || i+1 >= len(path.Elements) || path.Elements[i+1].Node == nil {
			return nil, nil, errkind.New(errkind.KindSyntaxError, "malformed path pattern")
		}
		res, err := p.compileExpansion(cur, sc, srcAlias, path.Elements[i].Rel, path.Elements[i+1].Node, optional, pathEdgeAliases, hasPathVar)
		if err != nil {
			return nil, nil, err
		}
		cur = res.node
		srcAlias = res.contAlias
		fresh = append(fresh, res.fresh...)
		pathNodes = append(pathNodes, res.contAlias)
		pathEdges = append(pathEdges, res.edgeAlias)
		if res.edgeAlias != "" {
			pathEdgeAliases = append(pathEdgeAliases, res.edgeAlias)
		}
	}

	if hasPathVar {
		sc[path.Variable] = BindPath
		fresh = append(fresh, path.Variable)
		cur = &bindPath{Input: cur, Alias: path.Variable, NodeAliases: pathNodes, EdgeAliases: pathEdges}
	}
	return cur, fresh, nil
}

// compileAnchor resolves the path's leftmost node pattern: an already
// bound variable turns into residual filters; a fresh variable becomes an
// IndexSeek (when a label plus a constant property equality make one
// eligible), a labeled scan, or a global scan.
func (p *Planner) compileAnchor(cur executor.Node, sc scope, np *ast.NodePattern, alias string, optional bool) (executor.Node, bool, error) {
	if kind, bound := sc[alias]; bound {
		if kind != BindNode {
			return nil, false, errkind.New(errkind.KindInvalidArgumentType,
				"variable "+alias+" is not a node")
		}
		if pred := andAll(nodeConstraints(np, alias, 0, "")); pred != nil {
			cur = &executor.Filter{Input: cur, Predicate: pred}
		}
		return cur, false, nil
	}

	sc[alias] = BindNode

	if p.correlated {
		// Outer bindings are only known at runtime: the anchor either
		// passes a seeded node through or scans.
		out := executor.Node(&seedAnchor{Input: cur, Alias: alias})
		if pred := andAll(nodeConstraints(np, alias, 0, "")); pred != nil {
			out = &executor.Filter{Input: out, Predicate: pred}
		}
		return out, true, nil
	}

	_, isRoot := cur.(*executor.ReturnOne)
	build, _ := p.anchorLeafBuilder(np, alias, optional, isRoot)
	var out executor.Node
	if isRoot {
		out = build(nil)
	} else {
		out = &executor.Apply{Input: cur, Build: func(outer executor.Row) (executor.Node, error) { return build(outer), nil }}
	}
	// Property equalities are re-checked even when a seek consumed one:
	// the seek's fallback is a bare label scan, and re-filtering an
	// index hit is merely redundant, never wrong.
	skip := 0
	if len(np.Labels) > 0 {
		skip = 1
	}
	if pred := andAll(nodeConstraints(np, alias, skip, "")); pred != nil {
		if optional {
			pred = orNull(alias, pred)
		}
		out = &executor.Filter{Input: out, Predicate: pred}
	}
	return out, true, nil
}

// seekField picks a property of np eligible to drive an IndexSeek: at
// the query root the value must be constant (there is no outer row to
// evaluate against); under Apply any in-scope expression works because
// the seek sees the outer row.
func (p *Planner) seekField(np *ast.NodePattern, isRoot bool) (string, bool) {
	for key, expr := range np.Properties {
		if !isRoot || exprIsConstant(expr) {
			return key, true
		}
	}
	return "", false
}

// anchorLeafBuilder returns a constructor for a fresh anchor leaf (so the
// same pattern can be re-instantiated per outer row under Apply) plus the
// name of the property the seek consumed, if any.
func (p *Planner) anchorLeafBuilder(np *ast.NodePattern, alias string, optional, isRoot bool) (func(executor.Row) executor.Node, string) {
	if len(np.Labels) > 0 {
		labelID := p.labelID(np.Labels[0])
		// Optional anchors stay on NodeScan: its empty-scan null row has
		// no IndexSeek equivalent.
		if field, ok := p.seekField(np, isRoot); ok && !optional {
			label := np.Labels[0]
			valueExpr := np.Properties[field]
			return func(outer executor.Row) executor.Node {
				return &executor.IndexSeek{
					Alias:     alias,
					LabelName: label,
					Field:     field,
					ValueExpr: valueExpr,
					Outer:     outer,
					Fallback:  &executor.NodeScan{Alias: alias, Label: &labelID, Optional: optional},
				}
			}, field
		}
		return func(executor.Row) executor.Node {
			return &executor.NodeScan{Alias: alias, Label: &labelID, Optional: optional}
		}, ""
	}
	return func(executor.Row) executor.Node {
		return &executor.NodeScan{Alias: alias, Optional: optional}
	}, ""
}

// compileExpansion compiles one `-[r]->(dst)` step from srcAlias.
// Expansion operators always bind a fresh destination slot; a prebound
// destination variable is reconciled afterwards through unify so the
// operator never clobbers an outer binding (cyclic patterns, EXISTS).
func (p *Planner) compileExpansion(cur executor.Node, sc scope, srcAlias string, rel *ast.RelPattern, dst *ast.NodePattern, optional bool, pathEdgeAliases []string, hasPathVar bool) (expansionResult, error) {
	var res expansionResult

	dstAlias := dst.Variable
	dstBound := false
	if dstAlias != "" {
		if kind, ok := sc[dstAlias]; ok {
			if kind != BindNode {
				return res, errkind.New(errkind.KindInvalidArgumentType,
					"variable "+dstAlias+" is not a node")
			}
			dstBound = true
		} else if p.correlated {
			// The destination may be outer-bound at runtime even though
			// this compile can't see it; reconcile through unify.
			dstBound = true
			sc[dstAlias] = BindNode
		}
	}
	bindAlias := dstAlias
	if dstAlias == "" || dstBound {
		bindAlias = p.hidden("n")
	}

	relAlias := rel.Variable
	relBound := false
	if relAlias != "" {
		kind, ok := sc[relAlias]
		switch {
		case ok && kind == BindRelationship && !rel.VarLength:
			relBound = true
		case ok:
			return res, errkind.New(errkind.KindInvalidArgumentType,
				"variable "+relAlias+" is not a relationship")
		}
	}
	needRelAlias := len(rel.Types) > 1 || len(rel.Properties) > 0 || hasPathVar
	if relAlias == "" && needRelAlias && !rel.VarLength {
		relAlias = p.hidden("r")
	}

	dir := executor.Direction(rel.Direction)

	var relFilter *uint32
	var typeResidual ast.Expr
	switch len(rel.Types) {
	case 0:
	case 1:
		id := p.relTypeID(rel.Types[0])
		relFilter = &id
	default:
		typeResidual = typePredicate(relAlias, rel.Types)
	}

	var dstLabel *uint32
	if len(dst.Labels) > 0 {
		id := p.labelID(dst.Labels[0])
		dstLabel = &id
	}

	var out executor.Node
	switch {
	case relBound:
		srcHidden := p.hidden("n")
		if rel.Direction == ast.DirIncoming {
			// (src)<-[r]-(dst): the bound edge's source is the pattern's
			// destination node.
			out = &executor.MatchBoundRel{Input: cur, RelAlias: relAlias,
				SrcAlias: bindAlias, DstAlias: srcHidden, SrcLabel: dstLabel}
		} else {
			out = &executor.MatchBoundRel{Input: cur, RelAlias: relAlias,
				SrcAlias: srcHidden, DstAlias: bindAlias, DstLabel: dstLabel}
		}
		out = &executor.Filter{Input: out, Predicate: idEqPredicate(srcHidden, srcAlias)}
		res.edgeAlias = relAlias
	case rel.VarLength:
		if len(rel.Types) > 1 {
			return res, errkind.New(errkind.KindInvalidClauseComposition,
				"variable-length patterns support at most one relationship type")
		}
		min := 1
		if rel.MinHops != nil {
			min = *rel.MinHops
		}
		max := math.MaxInt32
		if rel.MaxHops != nil {
			max = *rel.MaxHops
		}
		out = &executor.MatchOutVarLen{
			Input:     cur,
			SrcAlias:  srcAlias,
			DstAlias:  bindAlias,
			DstLabel:  dstLabel,
			RelFilter: relFilter,
			Dir:       dir,
			Min:       min,
			Max:       max,
		}
		if relAlias != "" {
			sc[relAlias] = BindRelationshipList
		}
	default:
		out = &executor.MatchOneHop{
			Input:           cur,
			SrcAlias:        srcAlias,
			RelAlias:        relAlias,
			DstAlias:        bindAlias,
			DstLabel:        dstLabel,
			RelFilter:       relFilter,
			Dir:             dir,
			Optional:        optional,
			PathEdgeAliases: pathEdgeAliases,
		}
		if relAlias != "" {
			sc[relAlias] = BindRelationship
			if !isHidden(relAlias) {
				res.fresh = append(res.fresh, relAlias)
			}
			res.edgeAlias = relAlias
		}
	}

	if typeResidual != nil {
		out = &executor.Filter{Input: out, Predicate: typeResidual}
	}

	skip := 0
	if dstLabel != nil {
		skip = 1
	}
	if pred := andAll(nodeConstraints(dst, bindAlias, skip, "")); pred != nil {
		// An optional expansion's null row must survive the residual
		// constraints, not be filtered by them.
		if optional {
			pred = orNull(bindAlias, pred)
		}
		out = &executor.Filter{Input: out, Predicate: pred}
	}
	if len(rel.Properties) > 0 {
		if rel.VarLength {
			return res, errkind.New(errkind.KindInvalidClauseComposition,
				"variable-length patterns do not support relationship properties")
		}
		var preds []ast.Expr
		for key, expr := range rel.Properties {
			preds = append(preds, propPredicate(relAlias, key, expr))
		}
		pred := andAll(preds)
		if optional {
			pred = orNull(relAlias, pred)
		}
		out = &executor.Filter{Input: out, Predicate: pred}
	}

	switch {
	case dstBound:
		out = &unify{Input: out, Alias: dstAlias, Hidden: bindAlias}
		res.contAlias = dstAlias
	case dstAlias != "":
		sc[dstAlias] = BindNode
		res.fresh = append(res.fresh, dstAlias)
		res.contAlias = dstAlias
	default:
		res.contAlias = bindAlias
	}
	res.node = out
	return res, nil
}
