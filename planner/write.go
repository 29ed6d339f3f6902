package planner

import (
	"github.com/nervusdb/nervusdb/cypher/ast"
	"github.com/nervusdb/nervusdb/errkind"
	"github.com/nervusdb/nervusdb/executor"
	"github.com/nervusdb/nervusdb/value"
)

// compileCreatePath lowers one CREATE/MERGE path into node and edge steps
//, updating sc with the fresh bindings. Anonymous
// nodes get hidden aliases so edge steps can reference their endpoints.
func (p *Planner) compileCreatePath(sc scope, path *ast.Path) ([]executor.CreateNodeStep, []executor.CreateEdgeStep, error) {
	var nodes []executor.CreateNodeStep
	var edges []executor.CreateEdgeStep

	aliasAt := make([]string, 0, len(path.Elements))
	for i := 0; i < len(path.Elements); i += 2 {
		np := path.Elements[i].Node
		if np == nil {
			return nil, nil, errkind.New(errkind.KindSyntaxError, "malformed pattern in CREATE")
		}
		alias := np.Variable
		if alias == "" {
			alias = p.hidden("n")
		}
		aliasAt = append(aliasAt, alias)

		if kind, bound := sc[alias]; bound {
			if kind != BindNode {
				return nil, nil, errkind.New(errkind.KindInvalidArgumentType,
					"variable "+alias+" is not a node")
			}
			if len(np.Labels) > 0 || len(np.Properties) > 0 {
				return nil, nil, errkind.New(errkind.KindInvalidClauseComposition,
					"cannot redeclare bound variable "+alias+" with labels or properties")
			}
			nodes = append(nodes, executor.CreateNodeStep{Alias: alias, Bound: true})
			continue
		}
		for _, expr := range np.Properties {
			if err := p.checkExpr(sc, expr); err != nil {
				return nil, nil, err
			}
		}
		sc[alias] = BindNode
		nodes = append(nodes, executor.CreateNodeStep{
			Alias:      alias,
			Labels:     np.Labels,
			Properties: np.Properties,
		})
	}

	for i := 1; i < len(path.Elements); i += 2 {
		rel := path.Elements[i].Rel
		if rel == nil {
			return nil, nil, errkind.New(errkind.KindSyntaxError, "malformed pattern in CREATE")
		}
		if rel.VarLength {
			return nil, nil, errkind.New(errkind.KindInvalidClauseComposition,
				"variable-length relationships cannot be created")
		}
		if len(rel.Types) != 1 {
			return nil, nil, errkind.New(errkind.KindInvalidClauseComposition,
				"created relationships require exactly one type")
		}
		if rel.Direction == ast.DirEither {
			return nil, nil, errkind.New(errkind.KindInvalidClauseComposition,
				"created relationships require a direction")
		}
		for _, expr := range rel.Properties {
			if err := p.checkExpr(sc, expr); err != nil {
				return nil, nil, err
			}
		}
		if rel.Variable != "" {
			if _, bound := sc[rel.Variable]; bound {
				return nil, nil, errkind.New(errkind.KindInvalidClauseComposition,
					"cannot recreate bound relationship "+rel.Variable)
			}
			sc[rel.Variable] = BindRelationship
		}
		edges = append(edges, executor.CreateEdgeStep{
			SrcAlias:   aliasAt[(i-1)/2],
			DstAlias:   aliasAt[(i+1)/2],
			RelAlias:   rel.Variable,
			RelType:    rel.Types[0],
			Dir:        rel.Direction,
			Properties: rel.Properties,
		})
	}
	return nodes, edges, nil
}

func (p *Planner) compileCreate(cur executor.Node, sc scope, c *ast.CreateClause) (executor.Node, error) {
	p.hasWrites = true
	for i := range c.Pattern.Paths {
		nodes, edges, err := p.compileCreatePath(sc, &c.Pattern.Paths[i])
		if err != nil {
			return nil, err
		}
		cur = &executor.Create{Input: cur, Nodes: nodes, Edges: edges}
	}
	return cur, nil
}

// compileMerge lowers MERGE ... ON CREATE SET / ON MATCH SET: the match side recompiles the path per outer row in correlated
// mode (the same seed-or-scan machinery EXISTS uses), the create side
// reuses the CREATE step lowering.
func (p *Planner) compileMerge(cur executor.Node, sc scope, c *ast.MergeClause) (executor.Node, error) {
	p.hasWrites = true
	path := c.Path

	createScope := sc.clone()
	nodes, edges, err := p.compileCreatePath(createScope, &path)
	if err != nil {
		return nil, err
	}

	var onCreate, onMatch []ast.SetItem
	for _, action := range c.Actions {
		for _, item := range action.Items {
			if err := p.checkSetItem(createScope, item); err != nil {
				return nil, err
			}
			if action.OnCreate {
				onCreate = append(onCreate, item)
			} else {
				onMatch = append(onMatch, item)
			}
		}
	}

	matchPattern := func(outer executor.Row) (executor.Node, error) {
		sub := &Planner{snap: p.snap, params: p.params, correlated: true}
		seed := &executor.SeedRow{Row: outer}
		matchScope := scopeFromRow(outer)
		node, _, err := sub.compilePath(seed, matchScope, &path, false)
		return node, err
	}

	// The merge pattern's bindings are visible downstream.
	for k, v := range createScope {
		if _, ok := sc[k]; !ok {
			sc[k] = v
		}
	}

	return &executor.Merge{
		Input:        cur,
		MatchPattern: matchPattern,
		Nodes:        nodes,
		Edges:        edges,
		OnCreate:     onCreate,
		OnMatch:      onMatch,
	}, nil
}

// scopeFromRow derives binding kinds from a runtime row, for per-row
// pattern recompilation (MERGE's match side).
func scopeFromRow(row executor.Row) scope {
	sc := make(scope, len(row))
	for name, v := range row {
		switch v.Kind {
		case value.KindNode:
			sc[name] = BindNode
		case value.KindEdge:
			sc[name] = BindRelationship
		case value.KindPath:
			sc[name] = BindPath
		default:
			sc[name] = BindScalar
		}
	}
	return sc
}

func (p *Planner) checkSetItem(sc scope, item ast.SetItem) error {
	kind, bound := sc[item.Variable]
	if !bound {
		return errkind.New(errkind.KindUndefinedVariable, "undefined variable "+item.Variable)
	}
	if item.Labels != nil && kind != BindNode {
		return errkind.New(errkind.KindInvalidArgumentType, "SET labels requires a node")
	}
	if item.Labels == nil && kind != BindNode && kind != BindRelationship {
		return errkind.New(errkind.KindInvalidArgumentType, "SET requires a node or relationship")
	}
	if item.Value != nil {
		return p.checkExpr(sc, item.Value)
	}
	return nil
}

func (p *Planner) compileSet(cur executor.Node, sc scope, c *ast.SetClause) (executor.Node, error) {
	p.hasWrites = true
	for _, item := range c.Items {
		if err := p.checkSetItem(sc, item); err != nil {
			return nil, err
		}
	}
	return &executor.Set{Input: cur, Items: c.Items}, nil
}

func (p *Planner) compileRemove(cur executor.Node, sc scope, c *ast.RemoveClause) (executor.Node, error) {
	p.hasWrites = true
	for _, item := range c.Items {
		kind, bound := sc[item.Variable]
		if !bound {
			return nil, errkind.New(errkind.KindUndefinedVariable, "undefined variable "+item.Variable)
		}
		if item.Labels != nil && kind != BindNode {
			return nil, errkind.New(errkind.KindInvalidArgumentType, "REMOVE labels requires a node")
		}
		if item.Labels == nil && kind != BindNode && kind != BindRelationship {
			return nil, errkind.New(errkind.KindInvalidArgumentType, "REMOVE requires a node or relationship")
		}
	}
	return &executor.Remove{Input: cur, Items: c.Items}, nil
}

func (p *Planner) compileDelete(cur executor.Node, sc scope, c *ast.DeleteClause) (executor.Node, error) {
	p.hasWrites = true
	for _, e := range c.Expressions {
		if err := p.checkExpr(sc, e); err != nil {
			return nil, err
		}
	}
	return &executor.Delete{Input: cur, Exprs: c.Expressions, Detach: c.Detach}, nil
}
