package executor

import (
	"github.com/nervusdb/nervusdb/cypher/ast"
	"github.com/nervusdb/nervusdb/eval"
)

// Compiler is the one seam executor needs back into planner, broken out as
// an interface so this package never imports planner (which imports
// executor for Node/Context) — planner.Planner satisfies it.
//
// Both methods return a plan whose leftmost leaf is a *SeedRow with no Row
// set yet; the caller fills in Row with the outer binding set immediately
// before pulling, so one compiled plan can be re-seeded per outer row
// without recompiling.
type Compiler interface {
	// CompilePatternExists compiles a bare pattern (the EXISTS { (a)-->(b) }
	// form) plus an optional inline WHERE.
	CompilePatternExists(pat *ast.Pattern, where ast.Expr) (*SeedRow, Node, error)
	// CompileSubqueryExists compiles a full correlated subquery (the
	// EXISTS { MATCH ... RETURN ... } form).
	CompileSubqueryExists(q *ast.Query) (*SeedRow, Node, error)
}

// existsRunner adapts a *Context into eval.SubqueryRunner, delegating
// compilation to ctx.Compiler and execution to this package's own Next
// machinery, so eval never has to know a plan tree exists.
type existsRunner struct {
	ctx *Context
}

func (r existsRunner) ExistsPattern(evalCtx *eval.Context, pat *ast.Pattern, where ast.Expr) (bool, error) {
	if r.ctx.Compiler == nil {
		return false, nil
	}
	seed, plan, err := r.ctx.Compiler.CompilePatternExists(pat, where)
	if err != nil {
		return false, err
	}
	return runExistsPlan(r.ctx, seed, plan, evalCtx.Row)
}

func (r existsRunner) ExistsSubquery(evalCtx *eval.Context, q *ast.Query) (bool, error) {
	if r.ctx.Compiler == nil {
		return false, nil
	}
	seed, plan, err := r.ctx.Compiler.CompileSubqueryExists(q)
	if err != nil {
		return false, err
	}
	return runExistsPlan(r.ctx, seed, plan, evalCtx.Row)
}

// runExistsPlan seeds plan with outer's bindings and pulls at most one row:
// EXISTS only needs to know whether any row exists, never how many.
func runExistsPlan(ctx *Context, seed *SeedRow, plan Node, outer Row) (bool, error) {
	seed.Row = outer
	seed.pulled = false
	_, ok, err := plan.Next(ctx)
	if err != nil {
		return false, err
	}
	return ok, nil
}

// SeedRow is a plan leaf that yields exactly one caller-supplied row (the
// outer query's current bindings) then reports exhaustion, letting a
// correlated subquery's compiled pattern start from those bindings instead
// of a fresh NodeScan.
type SeedRow struct {
	Row Row

	pulled bool
}

func (n *SeedRow) Next(ctx *Context) (Row, bool, error) {
	if n.pulled {
		return nil, false, nil
	}
	n.pulled = true
	return n.Row.Clone(), true, nil
}
