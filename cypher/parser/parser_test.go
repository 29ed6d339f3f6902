package parser

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nervusdb/nervusdb/cypher/ast"
)

func parse(t *testing.T, src string) *ast.Query {
	t.Helper()
	q, err := Parse(src)
	require.NoError(t, err, "parse %q", src)
	return q
}

func TestParseMatchReturn(t *testing.T) {
	q := parse(t, `MATCH (n:Person {name: 'Alice'}) RETURN n.name AS name`)
	require.Len(t, q.Clauses, 2)

	m, ok := q.Clauses[0].(*ast.MatchClause)
	require.True(t, ok)
	require.False(t, m.Optional)
	require.Len(t, m.Pattern.Paths, 1)
	np := m.Pattern.Paths[0].Elements[0].Node
	require.Equal(t, "n", np.Variable)
	require.Equal(t, []string{"Person"}, np.Labels)
	require.Contains(t, np.Properties, "name")

	r, ok := q.Clauses[1].(*ast.ReturnClause)
	require.True(t, ok)
	require.Len(t, r.Items, 1)
	require.Equal(t, "name", r.Items[0].Alias)
}

func TestParseRelationshipPattern(t *testing.T) {
	q := parse(t, `MATCH (a)-[r:KNOWS|LIKES*1..3]->(b) RETURN a`)
	m := q.Clauses[0].(*ast.MatchClause)
	rel := m.Pattern.Paths[0].Elements[1].Rel
	require.Equal(t, "r", rel.Variable)
	require.Equal(t, []string{"KNOWS", "LIKES"}, rel.Types)
	require.Equal(t, ast.DirOutgoing, rel.Direction)
	require.True(t, rel.VarLength)
	require.NotNil(t, rel.MinHops)
	require.Equal(t, 1, *rel.MinHops)
	require.NotNil(t, rel.MaxHops)
	require.Equal(t, 3, *rel.MaxHops)
}

func TestParseUnboundedVarLength(t *testing.T) {
	q := parse(t, `MATCH (a)-[*2..]->(b) RETURN a`)
	rel := q.Clauses[0].(*ast.MatchClause).Pattern.Paths[0].Elements[1].Rel
	require.True(t, rel.VarLength)
	require.Equal(t, 2, *rel.MinHops)
	require.Nil(t, rel.MaxHops)
}

func TestParseIncomingAndUndirected(t *testing.T) {
	q := parse(t, `MATCH (a)<-[:R]-(b), (c)-[:S]-(d) RETURN a`)
	paths := q.Clauses[0].(*ast.MatchClause).Pattern.Paths
	require.Equal(t, ast.DirIncoming, paths[0].Elements[1].Rel.Direction)
	require.Equal(t, ast.DirEither, paths[1].Elements[1].Rel.Direction)
}

func TestParseOptionalMatchWhere(t *testing.T) {
	q := parse(t, `MATCH (n) OPTIONAL MATCH (n)-[:R]->(m) WHERE m.x > 1 RETURN n`)
	om := q.Clauses[1].(*ast.MatchClause)
	require.True(t, om.Optional)
	require.NotNil(t, om.Where)
}

func TestParseMergeWithActions(t *testing.T) {
	q := parse(t, `MERGE (n:Person {name: 'X'}) ON CREATE SET n.created = 1 ON MATCH SET n.seen = 2`)
	mg := q.Clauses[0].(*ast.MergeClause)
	require.Len(t, mg.Actions, 2)
	require.True(t, mg.Actions[0].OnCreate)
	require.False(t, mg.Actions[1].OnCreate)
}

func TestParseSetForms(t *testing.T) {
	q := parse(t, `MATCH (n) SET n.k = 1, n = {a: 1}, n += {b: 2}, n:Admin:Staff`)
	s := q.Clauses[1].(*ast.SetClause)
	require.Len(t, s.Items, 4)
	require.Equal(t, "k", s.Items[0].Property)
	require.Empty(t, s.Items[1].Property)
	require.False(t, s.Items[1].Merge)
	require.True(t, s.Items[2].Merge)
	require.Equal(t, []string{"Admin", "Staff"}, s.Items[3].Labels)
}

func TestParseRemoveAndDelete(t *testing.T) {
	q := parse(t, `MATCH (n) REMOVE n.k, n:Old DETACH DELETE n`)
	rm := q.Clauses[1].(*ast.RemoveClause)
	require.Len(t, rm.Items, 2)
	require.Equal(t, "k", rm.Items[0].Property)
	require.Equal(t, []string{"Old"}, rm.Items[1].Labels)

	del := q.Clauses[2].(*ast.DeleteClause)
	require.True(t, del.Detach)
	require.Len(t, del.Expressions, 1)
}

func TestParseWithOrderSkipLimit(t *testing.T) {
	q := parse(t, `MATCH (n) WITH n.age AS age WHERE age > 21 ORDER BY age DESC SKIP 2 LIMIT 5 RETURN age`)
	w := q.Clauses[1].(*ast.WithClause)
	require.NotNil(t, w.Where)
	require.Len(t, w.OrderBy, 1)
	require.True(t, w.OrderBy[0].Descending)
	require.NotNil(t, w.Skip)
	require.NotNil(t, w.Limit)
}

func TestParseUnwindCallUnion(t *testing.T) {
	q := parse(t, `UNWIND [1, 2] AS x RETURN x UNION ALL UNWIND [3] AS x RETURN x`)
	_, ok := q.Clauses[0].(*ast.UnwindClause)
	require.True(t, ok)
	u, ok := q.Clauses[2].(*ast.UnionClause)
	require.True(t, ok)
	require.True(t, u.All)

	q = parse(t, `CALL db.labels() YIELD label AS l RETURN l`)
	call := q.Clauses[0].(*ast.CallClause)
	require.Equal(t, "db.labels", call.Name)
	require.Len(t, call.Yield, 1)
	require.Equal(t, "l", call.Yield[0].Alias)
}

func TestParseExistsForms(t *testing.T) {
	q := parse(t, `MATCH (n) WHERE EXISTS { (n)-[:KNOWS]->(:Person) } RETURN n`)
	m := q.Clauses[0].(*ast.MatchClause)
	_, ok := m.Where.(*ast.ExistsPattern)
	require.True(t, ok)

	q = parse(t, `MATCH (n) WHERE EXISTS { MATCH (n)-[:R]->(m) RETURN m } RETURN n`)
	m = q.Clauses[0].(*ast.MatchClause)
	_, ok = m.Where.(*ast.ExistsSubquery)
	require.True(t, ok)
}

func TestParseExpressionPrecedence(t *testing.T) {
	q := parse(t, `RETURN 1 + 2 * 3 AS x`)
	r := q.Clauses[0].(*ast.ReturnClause)
	add, ok := r.Items[0].Expr.(*ast.Binary)
	require.True(t, ok)
	require.Equal(t, ast.OpAdd, add.Op)
	mul, ok := add.Right.(*ast.Binary)
	require.True(t, ok)
	require.Equal(t, ast.OpMul, mul.Op)
}

func TestParseCaseListComprehensionSlice(t *testing.T) {
	q := parse(t, `RETURN CASE WHEN true THEN 1 ELSE 2 END AS a, [x IN [1,2] WHERE x > 1 | x * 2] AS b, 'abc'[1..] AS c`)
	r := q.Clauses[0].(*ast.ReturnClause)
	_, ok := r.Items[0].Expr.(*ast.Case)
	require.True(t, ok)
	lc, ok := r.Items[1].Expr.(*ast.ListComprehension)
	require.True(t, ok)
	require.Equal(t, "x", lc.Variable)
	require.NotNil(t, lc.Where)
	require.NotNil(t, lc.Project)
	sl, ok := r.Items[2].Expr.(*ast.Slice)
	require.True(t, ok)
	require.NotNil(t, sl.Lo)
	require.Nil(t, sl.Hi)
	require.False(t, sl.HiExplicitNull)
}

func TestParseSliceExplicitNull(t *testing.T) {
	q := parse(t, `RETURN 'abc'[1..null] AS c`)
	sl := q.Clauses[0].(*ast.ReturnClause).Items[0].Expr.(*ast.Slice)
	require.Nil(t, sl.Hi)
	require.True(t, sl.HiExplicitNull)
}

func TestParseNamespacedFunction(t *testing.T) {
	q := parse(t, `RETURN datetime.truncate('day', timestamp()) AS d`)
	call := q.Clauses[0].(*ast.ReturnClause).Items[0].Expr.(*ast.FunctionCall)
	require.Equal(t, "datetime.truncate", call.Name)
	require.Len(t, call.Args, 2)
}

func TestParseCountStarAndDistinct(t *testing.T) {
	q := parse(t, `MATCH (n) RETURN count(*) AS c, count(DISTINCT n) AS d`)
	r := q.Clauses[1].(*ast.ReturnClause)
	c := r.Items[0].Expr.(*ast.FunctionCall)
	require.Equal(t, "count", c.Name)
	d := r.Items[1].Expr.(*ast.FunctionCall)
	require.True(t, d.Distinct)
}

func TestParseErrors(t *testing.T) {
	for _, src := range []string{
		`MATCH (n RETURN n`,
		`RETURN`,
		`MATCH (n) RETURN n ORDER`,
		`CREATE (a)-[:]->(b)`,
	} {
		if _, err := Parse(src); err == nil {
			t.Fatalf("expected parse error for %q", src)
		}
	}
}

func TestParsePathVariable(t *testing.T) {
	q := parse(t, `MATCH p = (a)-[:R]->(b) RETURN p`)
	path := q.Clauses[0].(*ast.MatchClause).Pattern.Paths[0]
	require.Equal(t, "p", path.Variable)
	require.Len(t, path.Elements, 3)
}
