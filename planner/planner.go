// Package planner compiles a parsed Cypher query into a tree of executor
// plan operators. Compilation walks clauses in order,
// maintaining a per-stage scope of binding kinds for validation, choosing
// pattern anchors (index seek, labeled scan, prebound node, global scan),
// and mirroring clause order in the emitted plan shape: input → pattern
// operators → filters → projections/aggregates → order-by → skip → limit
// → distinct → union.
package planner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/nervusdb/nervusdb/cypher/ast"
	"github.com/nervusdb/nervusdb/errkind"
	"github.com/nervusdb/nervusdb/executor"
	"github.com/nervusdb/nervusdb/snapshot"
	"github.com/nervusdb/nervusdb/value"
)

// BindKind classifies what a variable is bound to at a given stage.
type BindKind int

const (
	BindNode BindKind = iota
	BindRelationship
	BindRelationshipList
	BindPath
	BindScalar
)

func (k BindKind) String() string {
	switch k {
	case BindNode:
		return "Node"
	case BindRelationship:
		return "Relationship"
	case BindRelationshipList:
		return "RelationshipList"
	case BindPath:
		return "Path"
	default:
		return "Scalar"
	}
}

// scope tracks the binding kinds visible at the current compile stage.
type scope map[string]BindKind

func (s scope) clone() scope {
	out := make(scope, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// names returns the scope's variable names sorted, for deterministic
// WITH * expansion and error messages. Hidden aliases never leak through
// a projection boundary.
func (s scope) names() []string {
	out := lo.Filter(lo.Keys(s), func(name string, _ int) bool { return !isHidden(name) })
	sort.Strings(out)
	return out
}

// hiddenPrefix marks planner-generated aliases; they are invisible to
// WITH * and never count as result columns.
const hiddenPrefix = "$"

func isHidden(name string) bool { return strings.HasPrefix(name, hiddenPrefix) }

// Plan is the compiled output: a runnable operator tree plus the metadata
// the driver needs (result column names, whether execute_write is
// required).
type Plan struct {
	Root      executor.Node
	Columns   []string
	HasWrites bool
}

// Planner compiles queries against one snapshot's interners and catalog.
// It doubles as executor.Compiler so EXISTS{} predicates evaluated at
// runtime re-enter compilation for their sub-patterns.
type Planner struct {
	snap   *snapshot.Snapshot
	params map[string]value.Value

	hiddenSeq int
	hasWrites bool

	// correlated relaxes undefined-variable validation and switches
	// pattern anchors to seed-or-scan form, for EXISTS{} subqueries whose
	// outer bindings are only known at runtime.
	correlated bool
}

// New returns a Planner bound to snap for name/id resolution. params are
// needed at compile time only for expressions that must be constant-folded
// (SKIP/LIMIT guards, procedure arguments, vector pushdown queries).
func New(snap *snapshot.Snapshot, params map[string]value.Value) *Planner {
	return &Planner{snap: snap, params: params}
}

func (p *Planner) hidden(stem string) string {
	p.hiddenSeq++
	return fmt.Sprintf("%s%s%d", hiddenPrefix, stem, p.hiddenSeq)
}

// Compile translates q into a Plan, splitting at UNION boundaries and
// validating that every branch projects the same column list.
func (p *Planner) Compile(q *ast.Query) (*Plan, error) {
	branches, alls, err := splitUnions(q.Clauses)
	if err != nil {
		return nil, err
	}

	root, cols, err := p.compileBranch(branches[0], &executor.ReturnOne{}, scope{})
	if err != nil {
		return nil, err
	}
	for i := 1; i < len(branches); i++ {
		right, rightCols, err := p.compileBranch(branches[i], &executor.ReturnOne{}, scope{})
		if err != nil {
			return nil, err
		}
		if !sameColumns(cols, rightCols) {
			return nil, errkind.New(errkind.KindInvalidClauseComposition,
				"UNION branches must project the same columns")
		}
		root = &executor.Union{Left: root, Right: right, All: alls[i-1]}
	}
	return &Plan{Root: root, Columns: cols, HasWrites: p.hasWrites}, nil
}

// splitUnions partitions the clause list at each UnionClause, returning
// the branch slices and the ALL flag between each adjacent pair.
func splitUnions(clauses []ast.Clause) ([][]ast.Clause, []bool, error) {
	var branches [][]ast.Clause
	var alls []bool
	start := 0
	for i, c := range clauses {
		if u, ok := c.(*ast.UnionClause); ok {
			if i == start {
				return nil, nil, errkind.New(errkind.KindInvalidClauseComposition, "empty UNION branch")
			}
			branches = append(branches, clauses[start:i])
			alls = append(alls, u.All)
			start = i + 1
		}
	}
	if start >= len(clauses) {
		return nil, nil, errkind.New(errkind.KindInvalidClauseComposition, "query has no clauses")
	}
	branches = append(branches, clauses[start:])
	return branches, alls, nil
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// compileBranch compiles one UNION-free clause sequence on top of input,
// threading the scope clause by clause. Returns the plan root and the
// result columns (empty for a write-only query with no RETURN).
func (p *Planner) compileBranch(clauses []ast.Clause, input executor.Node, sc scope) (executor.Node, []string, error) {
	cur := input
	var cols []string
	for _, clause := range clauses {
		if cols != nil {
			return nil, nil, errkind.New(errkind.KindInvalidClauseComposition,
				"RETURN must be the final clause")
		}
		var err error
		switch c := clause.(type) {
		case *ast.MatchClause:
			cur, err = p.compileMatch(cur, sc, c)
		case *ast.CreateClause:
			cur, err = p.compileCreate(cur, sc, c)
		case *ast.MergeClause:
			cur, err = p.compileMerge(cur, sc, c)
		case *ast.SetClause:
			cur, err = p.compileSet(cur, sc, c)
		case *ast.RemoveClause:
			cur, err = p.compileRemove(cur, sc, c)
		case *ast.DeleteClause:
			cur, err = p.compileDelete(cur, sc, c)
		case *ast.UnwindClause:
			cur, err = p.compileUnwind(cur, sc, c)
		case *ast.CallClause:
			cur, err = p.compileCall(cur, sc, c)
		case *ast.WithClause:
			cur, sc, err = p.compileWith(cur, sc, c)
		case *ast.ReturnClause:
			cur, cols, err = p.compileReturn(cur, sc, c)
		default:
			err = errkind.New(errkind.KindInvalidClauseComposition,
				fmt.Sprintf("unsupported clause %T", clause))
		}
		if err != nil {
			return nil, nil, err
		}
	}
	return cur, cols, nil
}

// compileMatch handles MATCH and OPTIONAL MATCH. The OPTIONAL
// MATCH + WHERE combination compiles to the fixup-union form: the input
// plan is spooled so both the outer and the filtered side read the same
// materialized rows, and outer rows with no surviving filtered match are
// re-emitted with the pattern's fresh aliases nulled.
func (p *Planner) compileMatch(cur executor.Node, sc scope, c *ast.MatchClause) (executor.Node, error) {
	if !c.Optional {
		out := cur
		var err error
		for i := range c.Pattern.Paths {
			out, _, err = p.compilePath(out, sc, &c.Pattern.Paths[i], false)
			if err != nil {
				return nil, err
			}
		}
		if c.Where != nil {
			if err := p.checkExpr(sc, c.Where); err != nil {
				return nil, err
			}
			out = &executor.Filter{Input: out, Predicate: c.Where}
		}
		return out, nil
	}

	if c.Where == nil && !optionalNeedsFixup(sc, &c.Pattern) {
		out := cur
		var err error
		for i := range c.Pattern.Paths {
			out, _, err = p.compilePath(out, sc, &c.Pattern.Paths[i], true)
			if err != nil {
				return nil, err
			}
		}
		return out, nil
	}

	// OPTIONAL MATCH with a WHERE, or with constraints the optional
	// expansion operators cannot check natively: spool the input so the
	// filtered side (strict match + predicate) and the outer side read
	// the same rows exactly once; the fixup restores dropped outer rows
	// with null pattern aliases instead of losing them to a post-filter.
	sp := &spool{src: cur}
	filtered := executor.Node(&spoolReader{s: sp})
	filteredScope := sc.clone()
	var fresh []string
	var err error
	for i := range c.Pattern.Paths {
		var f []string
		filtered, f, err = p.compilePath(filtered, filteredScope, &c.Pattern.Paths[i], false)
		if err != nil {
			return nil, err
		}
		fresh = append(fresh, f...)
	}
	if c.Where != nil {
		if err := p.checkExpr(filteredScope, c.Where); err != nil {
			return nil, err
		}
		filtered = &executor.Filter{Input: filtered, Predicate: c.Where}
	}

	// The outer scope still gains the pattern's bindings (possibly null).
	for k, v := range filteredScope {
		if _, ok := sc[k]; !ok {
			sc[k] = v
		}
	}
	// Hidden pattern aliases are nulled too: the fixup fingerprints rows by
	// their non-null-alias bindings, so every fresh binding (visible or
	// hidden) must be excluded from the outer-row identity.
	return &executor.OptionalWhereFixup{
		Outer:       &spoolReader{s: sp},
		Filtered:    filtered,
		NullAliases: lo.Uniq(fresh),
	}, nil
}

// optionalNeedsFixup reports whether OPTIONAL MATCH must compile through
// the spool/fixup form: constraints the expansion operators cannot check
// natively (extra labels, property maps, multi-types, bound or repeated
// variables, variable length, path binding) would otherwise land in a
// post-filter that drops outer rows instead of nulling the pattern's
// aliases.
func optionalNeedsFixup(sc scope, pat *ast.Pattern) bool {
	for _, path := range pat.Paths {
		if path.Variable != "" {
			return true
		}
		for i, el := range path.Elements {
			if el.Node != nil {
				np := el.Node
				if len(np.Labels) > 1 || len(np.Properties) > 0 {
					return true
				}
				if np.Variable != "" {
					if _, bound := sc[np.Variable]; bound {
						if i != 0 {
							return true // non-anchor rebind needs unify
						}
						if len(np.Labels) > 0 {
							return true // anchor constraint would filter cur
						}
					}
				}
			}
			if el.Rel != nil {
				r := el.Rel
				if r.VarLength || len(r.Types) > 1 || len(r.Properties) > 0 {
					return true
				}
				if r.Variable != "" {
					if _, bound := sc[r.Variable]; bound {
						return true
					}
				}
			}
		}
	}
	return false
}

// compileUnwind validates and wraps UNWIND.
func (p *Planner) compileUnwind(cur executor.Node, sc scope, c *ast.UnwindClause) (executor.Node, error) {
	if err := p.checkExpr(sc, c.Expr); err != nil {
		return nil, err
	}
	if c.Variable == "" {
		return nil, errkind.New(errkind.KindInvalidClauseComposition, "UNWIND requires an alias")
	}
	sc[c.Variable] = BindScalar
	return &executor.Unwind{Input: cur, Expr: c.Expr, Alias: c.Variable}, nil
}

// compileCall constant-folds the argument expressions (procedure calls are
// not correlated with pattern rows) and binds the
// YIELD aliases as scalars.
func (p *Planner) compileCall(cur executor.Node, sc scope, c *ast.CallClause) (executor.Node, error) {
	args := make([]value.Value, len(c.Args))
	for i, a := range c.Args {
		v, err := p.constEval(a)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	yield := make([]string, 0, len(c.Yield))
	for _, item := range c.Yield {
		alias := item.Alias
		if alias == "" {
			v, ok := item.Expr.(*ast.Variable)
			if !ok {
				return nil, errkind.New(errkind.KindInvalidClauseComposition,
					"YIELD items must be column names")
			}
			alias = v.Name
		}
		yield = append(yield, alias)
		sc[alias] = BindScalar
	}
	return &executor.ProcedureCall{Input: cur, Name: c.Name, Args: args, Yield: yield}, nil
}
