package nervusdb

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nervusdb/nervusdb/common/testutil"
	"github.com/nervusdb/nervusdb/errkind"
	"github.com/nervusdb/nervusdb/value"
)

func openDB(t *testing.T) (*DB, string) {
	t.Helper()
	dir := testutil.TempDir(t)
	db, err := Open(dir + "/db")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, dir
}

func mustQuery(t *testing.T, db *DB, cypher string, params map[string]value.Value) *Result {
	t.Helper()
	res, err := db.Query(cypher, params)
	require.NoError(t, err, "query %q", cypher)
	return res
}

func intAt(t *testing.T, res *Result, row, col int) int64 {
	t.Helper()
	require.Greater(t, len(res.Rows), row)
	v := res.Rows[row][col]
	require.Equal(t, value.KindInt, v.Kind, "row %d col %d = %v", row, col, v)
	return v.Int
}

// A fresh database counts exactly what was created.
func TestCreateThenCount(t *testing.T) {
	db, _ := openDB(t)
	mustQuery(t, db, `CREATE (n)`, nil)
	res := mustQuery(t, db, `MATCH (n) RETURN count(n)`, nil)
	require.Len(t, res.Rows, 1)
	require.EqualValues(t, 1, intAt(t, res, 0, 0))
}

// Variable-length expansion emits one row per reachable hop count.
func TestVarLengthTraversal(t *testing.T) {
	db, _ := openDB(t)
	mustQuery(t, db, `CREATE (a:N {id: 0})-[:R]->(b:N {id: 1})-[:R]->(c:N {id: 2})`, nil)
	res := mustQuery(t, db, `MATCH (a:N {id: 0})-[:R*1..2]->(x) RETURN count(*)`, nil)
	require.EqualValues(t, 2, intAt(t, res, 0, 0)) // a->b and a->b->c
}

// Committed data survives reopen.
func TestDurabilityAcrossReopen(t *testing.T) {
	dir := testutil.TempDir(t)
	db, err := Open(dir + "/db")
	require.NoError(t, err)
	mustQuery(t, db, `CREATE (n:Person {name: 'Alice'})`, nil)
	require.NoError(t, db.Close())

	db2, err := Open(dir + "/db")
	require.NoError(t, err)
	defer db2.Close()
	res := mustQuery(t, db2, `MATCH (n:Person) RETURN n.name`, nil)
	require.Len(t, res.Rows, 1)
	require.Equal(t, "Alice", res.Rows[0][0].Str)
}

// Indexes follow SET.
func TestIndexFollowsSet(t *testing.T) {
	db, _ := openDB(t)
	mustQuery(t, db, `CREATE (n:Person {name: 'Alice'})`, nil)
	require.NoError(t, db.CreateIndex("Person", "name"))

	mustQuery(t, db, `MATCH (n:Person) SET n.name = 'Bob'`, nil)

	snap := db.Engine().Snapshot()
	ids, err := snap.LookupIndex("Person.name", value.String("Alice"))
	require.NoError(t, err)
	require.Empty(t, ids)
	ids, err = snap.LookupIndex("Person.name", value.String("Bob"))
	require.NoError(t, err)
	require.Len(t, ids, 1)

	// And the seek path sees it too.
	res := mustQuery(t, db, `MATCH (n:Person {name: 'Bob'}) RETURN n.name`, nil)
	require.Len(t, res.Rows, 1)
}

// OPTIONAL MATCH preserves outer cardinality with
// nulls for rows lacking a multi-label neighbor.
func TestOptionalMatchMultiLabel(t *testing.T) {
	db, _ := openDB(t)
	mustQuery(t, db, `CREATE (a1:A {id: 1}), (a2:A {id: 2})`, nil)
	mustQuery(t, db, `CREATE (m:Y:Z {id: 10})`, nil)
	mustQuery(t, db, `CREATE (onlyY:Y {id: 11})`, nil)
	mustQuery(t, db, `MATCH (a:A {id: 1}), (m:Y {id: 10}) CREATE (a)-[:KNOWS]->(m)`, nil)
	mustQuery(t, db, `MATCH (a:A {id: 2}), (m:Y {id: 11}) CREATE (a)-[:KNOWS]->(m)`, nil)

	res := mustQuery(t, db, `MATCH (n:A) OPTIONAL MATCH (n)-[:KNOWS]->(m:Y:Z) RETURN n.id, m ORDER BY n.id`, nil)
	require.Len(t, res.Rows, 2)
	require.EqualValues(t, 1, res.Rows[0][0].Int)
	require.Equal(t, value.KindNode, res.Rows[0][1].Kind)
	require.EqualValues(t, 2, res.Rows[1][0].Int)
	require.True(t, res.Rows[1][1].IsNull(), "A 2 has no Y:Z neighbor")
}

// Aggregate arithmetic over a bulk UNWIND ... CREATE.
func TestUnwindRangeCreateAndAggregateArithmetic(t *testing.T) {
	db, _ := openDB(t)
	mustQuery(t, db, `UNWIND range(0, 7250) AS i CREATE ()`, nil)
	res := mustQuery(t, db, `MATCH (n) RETURN count(n)/60/60 AS c`, nil)
	require.EqualValues(t, 2, intAt(t, res, 0, 0))
}

func TestMergeOnCreateOnMatch(t *testing.T) {
	db, _ := openDB(t)
	res := mustQuery(t, db, `MERGE (n:P {k: 1}) ON CREATE SET n.created = true ON MATCH SET n.matched = true RETURN n.created, n.matched`, nil)
	require.Len(t, res.Rows, 1)
	require.Equal(t, value.Bool(true), res.Rows[0][0])
	require.True(t, res.Rows[0][1].IsNull())

	res = mustQuery(t, db, `MERGE (n:P {k: 1}) ON CREATE SET n.created = true ON MATCH SET n.matched = true RETURN n.matched`, nil)
	require.Len(t, res.Rows, 1)
	require.Equal(t, value.Bool(true), res.Rows[0][0])

	res = mustQuery(t, db, `MATCH (n:P) RETURN count(n)`, nil)
	require.EqualValues(t, 1, intAt(t, res, 0, 0))
}

func TestMergeSeesEarlierIterationsWrites(t *testing.T) {
	db, _ := openDB(t)
	mustQuery(t, db, `UNWIND [1, 1, 1] AS x MERGE (n:Tag {k: 1})`, nil)
	res := mustQuery(t, db, `MATCH (n:Tag) RETURN count(n)`, nil)
	require.EqualValues(t, 1, intAt(t, res, 0, 0))
}

func TestSetForms(t *testing.T) {
	db, _ := openDB(t)
	mustQuery(t, db, `CREATE (n:P {a: 1, b: 2})`, nil)

	mustQuery(t, db, `MATCH (n:P) SET n += {b: 20, c: 30}`, nil)
	res := mustQuery(t, db, `MATCH (n:P) RETURN n.a, n.b, n.c`, nil)
	require.EqualValues(t, 1, res.Rows[0][0].Int)
	require.EqualValues(t, 20, res.Rows[0][1].Int)
	require.EqualValues(t, 30, res.Rows[0][2].Int)

	mustQuery(t, db, `MATCH (n:P) SET n = {only: 1}`, nil)
	res = mustQuery(t, db, `MATCH (n:P) RETURN n.a, n.only`, nil)
	require.True(t, res.Rows[0][0].IsNull(), "replaced map drops old keys")
	require.EqualValues(t, 1, res.Rows[0][1].Int)
}

func TestSetAndRemoveLabels(t *testing.T) {
	db, _ := openDB(t)
	mustQuery(t, db, `CREATE (n:P {id: 1})`, nil)
	mustQuery(t, db, `MATCH (n:P) SET n:Extra`, nil)
	res := mustQuery(t, db, `MATCH (n:Extra) RETURN count(n)`, nil)
	require.EqualValues(t, 1, intAt(t, res, 0, 0))

	mustQuery(t, db, `MATCH (n:P) REMOVE n:Extra`, nil)
	res = mustQuery(t, db, `MATCH (n:Extra) RETURN count(n)`, nil)
	require.EqualValues(t, 0, intAt(t, res, 0, 0))
}

func TestRemoveProperty(t *testing.T) {
	db, _ := openDB(t)
	mustQuery(t, db, `CREATE (n:P {k: 1})`, nil)
	mustQuery(t, db, `MATCH (n:P) REMOVE n.k`, nil)
	res := mustQuery(t, db, `MATCH (n:P) RETURN n.k`, nil)
	require.True(t, res.Rows[0][0].IsNull())
}

func TestDeleteSemantics(t *testing.T) {
	db, _ := openDB(t)
	mustQuery(t, db, `CREATE (a:P {id: 1})-[:R]->(b:P {id: 2})`, nil)

	// Bare DELETE of a connected node errors.
	_, err := db.Query(`MATCH (n:P {id: 1}) DELETE n`, nil)
	require.Error(t, err)
	require.True(t, errkind.As(err, errkind.KindConstraintViolation), "got %v", err)

	mustQuery(t, db, `MATCH (n:P {id: 1}) DETACH DELETE n`, nil)
	res := mustQuery(t, db, `MATCH (n:P) RETURN count(n)`, nil)
	require.EqualValues(t, 1, intAt(t, res, 0, 0))
	res = mustQuery(t, db, `MATCH (:P)-[:R]->(:P) RETURN count(*)`, nil)
	require.EqualValues(t, 0, intAt(t, res, 0, 0))
}

func TestWhereFiltering(t *testing.T) {
	db, _ := openDB(t)
	mustQuery(t, db, `CREATE (:P {age: 20}), (:P {age: 30}), (:P {age: 40})`, nil)
	res := mustQuery(t, db, `MATCH (n:P) WHERE n.age > 25 RETURN count(n)`, nil)
	require.EqualValues(t, 2, intAt(t, res, 0, 0))
}

func TestOrderSkipLimitDistinct(t *testing.T) {
	db, _ := openDB(t)
	mustQuery(t, db, `UNWIND [3, 1, 2, 2, 1] AS x CREATE (:V {x: x})`, nil)

	res := mustQuery(t, db, `MATCH (n:V) RETURN DISTINCT n.x ORDER BY n.x`, nil)
	require.Len(t, res.Rows, 3)
	require.EqualValues(t, 1, res.Rows[0][0].Int)
	require.EqualValues(t, 3, res.Rows[2][0].Int)

	res = mustQuery(t, db, `MATCH (n:V) RETURN n.x ORDER BY n.x DESC SKIP 1 LIMIT 2`, nil)
	require.Len(t, res.Rows, 2)
	require.EqualValues(t, 2, res.Rows[0][0].Int)
	require.EqualValues(t, 2, res.Rows[1][0].Int)
}

func TestWithPipeline(t *testing.T) {
	db, _ := openDB(t)
	mustQuery(t, db, `UNWIND [1, 2, 3, 4] AS x CREATE (:V {x: x})`, nil)
	res := mustQuery(t, db, `MATCH (n:V) WITH n.x AS x WHERE x > 1 WITH sum(x) AS s RETURN s`, nil)
	require.EqualValues(t, 9, intAt(t, res, 0, 0))
}

func TestUnionAndUnionAll(t *testing.T) {
	db, _ := openDB(t)
	res := mustQuery(t, db, `RETURN 1 AS x UNION RETURN 1 AS x`, nil)
	require.Len(t, res.Rows, 1)
	res = mustQuery(t, db, `RETURN 1 AS x UNION ALL RETURN 1 AS x`, nil)
	require.Len(t, res.Rows, 2)
}

func TestExistsPatternPredicate(t *testing.T) {
	db, _ := openDB(t)
	mustQuery(t, db, `CREATE (a:P {id: 1})-[:R]->(:Q)`, nil)
	mustQuery(t, db, `CREATE (:P {id: 2})`, nil)
	res := mustQuery(t, db, `MATCH (n:P) WHERE EXISTS { (n)-[:R]->(:Q) } RETURN n.id`, nil)
	require.Len(t, res.Rows, 1)
	require.EqualValues(t, 1, res.Rows[0][0].Int)
}

func TestExistsSubqueryPredicate(t *testing.T) {
	db, _ := openDB(t)
	mustQuery(t, db, `CREATE (a:P {id: 1})-[:R]->(:Q)`, nil)
	mustQuery(t, db, `CREATE (:P {id: 2})`, nil)
	res := mustQuery(t, db, `MATCH (n:P) WHERE EXISTS { MATCH (n)-[:R]->(m:Q) RETURN m } RETURN n.id`, nil)
	require.Len(t, res.Rows, 1)
	require.EqualValues(t, 1, res.Rows[0][0].Int)
}

func TestCallProcedure(t *testing.T) {
	db, _ := openDB(t)
	mustQuery(t, db, `CREATE (:Person), (:Animal)`, nil)
	res := mustQuery(t, db, `CALL db.labels() YIELD label RETURN label ORDER BY label`, nil)
	require.Len(t, res.Rows, 2)
	require.Equal(t, "Animal", res.Rows[0][0].Str)
	require.Equal(t, "Person", res.Rows[1][0].Str)

	_, err := db.Query(`CALL no.such.proc() YIELD x RETURN x`, nil)
	require.Error(t, err)
	require.True(t, errkind.As(err, errkind.KindProcedureNotFound))
}

func TestParameters(t *testing.T) {
	db, _ := openDB(t)
	params := map[string]value.Value{"name": value.String("Ada")}
	mustQuery(t, db, `CREATE (:P {name: $name})`, params)
	res := mustQuery(t, db, `MATCH (n:P {name: $name}) RETURN count(n)`, params)
	require.EqualValues(t, 1, intAt(t, res, 0, 0))

	_, err := db.Query(`RETURN $missing`, nil)
	require.Error(t, err)
	require.True(t, errkind.As(err, errkind.KindMissingParameter))
}

func TestAggregates(t *testing.T) {
	db, _ := openDB(t)
	mustQuery(t, db, `UNWIND [1, 2, 2, 3] AS x CREATE (:V {x: x})`, nil)
	res := mustQuery(t, db, `MATCH (n:V) RETURN count(n), sum(n.x), min(n.x), max(n.x), avg(n.x), count(DISTINCT n.x)`, nil)
	require.EqualValues(t, 4, res.Rows[0][0].Int)
	require.EqualValues(t, 8, res.Rows[0][1].Int)
	require.EqualValues(t, 1, res.Rows[0][2].Int)
	require.EqualValues(t, 3, res.Rows[0][3].Int)
	require.EqualValues(t, 2.0, res.Rows[0][4].Float)
	require.EqualValues(t, 3, res.Rows[0][5].Int)
}

func TestZeroRowAggregate(t *testing.T) {
	db, _ := openDB(t)
	res := mustQuery(t, db, `MATCH (n) RETURN count(n)`, nil)
	require.Len(t, res.Rows, 1)
	require.EqualValues(t, 0, intAt(t, res, 0, 0))
}

func TestGroupedAggregate(t *testing.T) {
	db, _ := openDB(t)
	mustQuery(t, db, `UNWIND [['a', 1], ['a', 2], ['b', 5]] AS row CREATE (:V {g: row[0], x: row[1]})`, nil)
	res := mustQuery(t, db, `MATCH (n:V) RETURN n.g AS g, sum(n.x) AS s ORDER BY g`, nil)
	require.Len(t, res.Rows, 2)
	require.Equal(t, "a", res.Rows[0][0].Str)
	require.EqualValues(t, 3, res.Rows[0][1].Int)
	require.Equal(t, "b", res.Rows[1][0].Str)
	require.EqualValues(t, 5, res.Rows[1][1].Int)
}

func TestCollect(t *testing.T) {
	db, _ := openDB(t)
	mustQuery(t, db, `UNWIND [1, 2, 3] AS x CREATE (:V {x: x})`, nil)
	res := mustQuery(t, db, `MATCH (n:V) WITH n.x AS x ORDER BY x RETURN collect(x) AS xs`, nil)
	require.Equal(t, value.KindList, res.Rows[0][0].Kind)
	require.Len(t, res.Rows[0][0].List, 3)
}

func TestUndirectedAndIncomingMatch(t *testing.T) {
	db, _ := openDB(t)
	mustQuery(t, db, `CREATE (a:P {id: 1})-[:R]->(b:P {id: 2})`, nil)
	res := mustQuery(t, db, `MATCH (b:P {id: 2})<-[:R]-(a) RETURN a.id`, nil)
	require.Len(t, res.Rows, 1)
	require.EqualValues(t, 1, res.Rows[0][0].Int)

	res = mustQuery(t, db, `MATCH (x:P {id: 1})-[:R]-(y) RETURN count(*)`, nil)
	require.EqualValues(t, 1, intAt(t, res, 0, 0))
}

func TestRelationshipProperties(t *testing.T) {
	db, _ := openDB(t)
	mustQuery(t, db, `CREATE (:P {id: 1})-[:R {w: 5}]->(:P {id: 2})`, nil)
	res := mustQuery(t, db, `MATCH (:P {id: 1})-[r:R]->(:P) RETURN r.w`, nil)
	require.EqualValues(t, 5, res.Rows[0][0].Int)

	mustQuery(t, db, `MATCH (:P {id: 1})-[r:R]->(:P) SET r.w = 9`, nil)
	res = mustQuery(t, db, `MATCH (:P {id: 1})-[r:R]->(:P) RETURN r.w`, nil)
	require.EqualValues(t, 9, res.Rows[0][0].Int)
}

func TestTypeFunctionAndMultiTypePattern(t *testing.T) {
	db, _ := openDB(t)
	mustQuery(t, db, `CREATE (a:P {id: 1})`, nil)
	mustQuery(t, db, `MATCH (a:P {id: 1}) CREATE (a)-[:X]->(:Q {id: 2}), (a)-[:Y]->(:Q {id: 3})`, nil)
	res := mustQuery(t, db, `MATCH (:P)-[r:X|Y]->(:Q) RETURN type(r) ORDER BY type(r)`, nil)
	require.Len(t, res.Rows, 2)
	require.Equal(t, "X", res.Rows[0][0].Str)
	require.Equal(t, "Y", res.Rows[1][0].Str)
}

func TestQueryAfterCompactAndVacuum(t *testing.T) {
	db, _ := openDB(t)
	mustQuery(t, db, `CREATE (a:P {id: 1})-[:R]->(b:P {id: 2})`, nil)
	require.NoError(t, db.Compact())
	res := mustQuery(t, db, `MATCH (:P {id: 1})-[:R]->(m) RETURN m.id`, nil)
	require.EqualValues(t, 2, res.Rows[0][0].Int)

	require.NoError(t, db.Vacuum())
	res = mustQuery(t, db, `MATCH (:P {id: 1})-[:R]->(m) RETURN m.id`, nil)
	require.EqualValues(t, 2, res.Rows[0][0].Int)
}

func TestResourceLimitIntermediateRows(t *testing.T) {
	dir := testutil.TempDir(t)
	cfg := DefaultConfig(dir + "/db")
	cfg.Limits.MaxIntermediateRows = 10
	db, err := OpenConfig(cfg)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Query(`UNWIND range(0, 100) AS i RETURN i`, nil)
	require.Error(t, err)
	var rle *errkind.ResourceLimitError
	require.ErrorAs(t, err, &rle)
	require.Equal(t, errkind.ResourceIntermediateRows, rle.ResourceKind)
}

func TestCursorInterface(t *testing.T) {
	db, _ := openDB(t)
	mustQuery(t, db, `CREATE (:P {name: 'Ada', age: 36})`, nil)
	res := mustQuery(t, db, `MATCH (n:P) RETURN n.name, n.age, n.missing`, nil)
	cur := res.Cursor()
	require.True(t, cur.Step())
	name, ok := cur.String(0)
	require.True(t, ok)
	require.Equal(t, "Ada", name)
	age, ok := cur.Int(1)
	require.True(t, ok)
	require.EqualValues(t, 36, age)
	require.True(t, cur.IsNull(2))
	require.False(t, cur.Step())
}

func TestListComprehensionEndToEnd(t *testing.T) {
	db, _ := openDB(t)
	res := mustQuery(t, db, `RETURN [x IN range(1, 5) WHERE x % 2 = 1 | x * x] AS squares`, nil)
	v := res.Rows[0][0]
	require.Equal(t, value.KindList, v.Kind)
	require.Len(t, v.List, 3) // 1, 9, 25
	require.EqualValues(t, 25, v.List[2].Int)
}

func TestPathVariable(t *testing.T) {
	db, _ := openDB(t)
	mustQuery(t, db, `CREATE (:P {id: 1})-[:R]->(:P {id: 2})`, nil)
	res := mustQuery(t, db, `MATCH p = (:P {id: 1})-[:R]->(:P) RETURN size(p)`, nil)
	require.EqualValues(t, 1, res.Rows[0][0].Int)
}

func TestSyntaxErrorSurfaced(t *testing.T) {
	db, _ := openDB(t)
	_, err := db.Query(`MATCH (n RETURN n`, nil)
	require.Error(t, err)
}
