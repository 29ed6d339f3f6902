package planner

import (
	"github.com/nervusdb/nervusdb/cypher/ast"
	"github.com/nervusdb/nervusdb/errkind"
	"github.com/nervusdb/nervusdb/executor"
)

// Planner satisfies executor.Compiler, so EXISTS{} expressions evaluated
// mid-query re-enter compilation for their sub-pattern with the runtime
// row as seed.

// CompilePatternExists compiles `EXISTS { (a)-[...]->(b) [WHERE ...] }`.
func (p *Planner) CompilePatternExists(pat *ast.Pattern, where ast.Expr) (*executor.SeedRow, executor.Node, error) {
	sub := &Planner{snap: p.snap, params: p.params, correlated: true}
	seed := &executor.SeedRow{}
	cur := executor.Node(seed)
	sc := scope{}
	var err error
	for i := range pat.Paths {
		cur, _, err = sub.compilePath(cur, sc, &pat.Paths[i], false)
		if err != nil {
			return nil, nil, err
		}
	}
	if where != nil {
		cur = &executor.Filter{Input: cur, Predicate: where}
	}
	return seed, cur, nil
}

// CompileSubqueryExists compiles `EXISTS { MATCH ... RETURN ... }`. The
// subquery must contain no writes.
func (p *Planner) CompileSubqueryExists(q *ast.Query) (*executor.SeedRow, executor.Node, error) {
	for _, c := range q.Clauses {
		switch c.(type) {
		case *ast.CreateClause, *ast.MergeClause, *ast.SetClause, *ast.RemoveClause, *ast.DeleteClause:
			return nil, nil, errkind.New(errkind.KindInvalidClauseComposition,
				"EXISTS subqueries cannot contain write clauses")
		}
	}
	sub := &Planner{snap: p.snap, params: p.params, correlated: true}
	seed := &executor.SeedRow{}
	cur, _, err := sub.compileBranch(q.Clauses, seed, scope{})
	if err != nil {
		return nil, nil, err
	}
	return seed, cur, nil
}
