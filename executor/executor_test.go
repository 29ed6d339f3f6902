package executor

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nervusdb/nervusdb/common/testutil"
	"github.com/nervusdb/nervusdb/cypher/ast"
	"github.com/nervusdb/nervusdb/engine"
	"github.com/nervusdb/nervusdb/errkind"
	"github.com/nervusdb/nervusdb/snapshot"
	"github.com/nervusdb/nervusdb/value"
)

func testSnap(t *testing.T) *snapshot.Snapshot {
	t.Helper()
	dir := testutil.TempDir(t)
	e, err := engine.Open(engine.DefaultConfig(dir + "/db"))
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e.Snapshot()
}

// rows is a fixed-row plan leaf for operator tests.
type rows struct {
	data []Row
	pos  int
}

func (n *rows) Next(ctx *Context) (Row, bool, error) {
	if n.pos >= len(n.data) {
		return nil, false, nil
	}
	r := n.data[n.pos]
	n.pos++
	return r, true, nil
}

func intRow(alias string, v int64) Row { return Row{alias: value.Int(v)} }

func TestReturnOneYieldsExactlyOneRow(t *testing.T) {
	ctx := NewContext(testSnap(t), nil, DefaultLimits(), nil)
	out, err := Collect(ctx, &ReturnOne{}, -1)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Empty(t, out[0])
}

func TestDistinctSuppressesDuplicates(t *testing.T) {
	ctx := NewContext(testSnap(t), nil, DefaultLimits(), nil)
	in := &rows{data: []Row{intRow("x", 1), intRow("x", 1), intRow("x", 2)}}
	out, err := Collect(ctx, &Distinct{Input: in}, -1)
	require.NoError(t, err)
	require.Len(t, out, 2)
}

func TestUnionDistinctAcrossBranches(t *testing.T) {
	ctx := NewContext(testSnap(t), nil, DefaultLimits(), nil)
	u := &Union{
		Left:  &rows{data: []Row{intRow("x", 1), intRow("x", 2)}},
		Right: &rows{data: []Row{intRow("x", 2), intRow("x", 3)}},
	}
	out, err := Collect(ctx, u, -1)
	require.NoError(t, err)
	require.Len(t, out, 3)
}

func TestUnwindTypeError(t *testing.T) {
	ctx := NewContext(testSnap(t), nil, DefaultLimits(), nil)
	u := &Unwind{
		Input: &ReturnOne{},
		Expr:  &ast.Literal{Kind: ast.LitInt, Int: 5},
		Alias: "x",
	}
	_, err := Collect(ctx, u, -1)
	require.Error(t, err)
	require.True(t, errkind.As(err, errkind.KindTypeMismatch))
}

func TestUnwindNullYieldsNothing(t *testing.T) {
	ctx := NewContext(testSnap(t), nil, DefaultLimits(), nil)
	u := &Unwind{Input: &ReturnOne{}, Expr: &ast.Literal{Kind: ast.LitNull}, Alias: "x"}
	out, err := Collect(ctx, u, -1)
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestIntermediateRowLimit(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxIntermediateRows = 2
	ctx := NewContext(testSnap(t), nil, limits, nil)
	in := &rows{data: []Row{intRow("x", 1), intRow("x", 2), intRow("x", 3)}}
	p := &Project{Input: in, Items: []ProjectItem{{Alias: "x", Expr: &ast.Variable{Name: "x"}}}}
	_, err := Collect(ctx, p, -1)
	var rle *errkind.ResourceLimitError
	require.ErrorAs(t, err, &rle)
	require.Equal(t, errkind.ResourceIntermediateRows, rle.ResourceKind)
	require.Equal(t, "Project", rle.Stage)
}

func TestCollectionItemsLimit(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxCollectionItems = 3
	ctx := NewContext(testSnap(t), nil, limits, nil)
	u := &Unwind{
		Input: &ReturnOne{},
		Expr: &ast.FunctionCall{Name: "range", Args: []ast.Expr{
			&ast.Literal{Kind: ast.LitInt, Int: 0},
			&ast.Literal{Kind: ast.LitInt, Int: 100},
		}},
		Alias: "x",
	}
	_, err := Collect(ctx, u, -1)
	var rle *errkind.ResourceLimitError
	require.ErrorAs(t, err, &rle)
	require.Equal(t, errkind.ResourceCollectionItems, rle.ResourceKind)
}

func TestWritePlanOutsideWriteTxErrors(t *testing.T) {
	ctx := NewContext(testSnap(t), nil, DefaultLimits(), nil)
	c := &Create{Input: &ReturnOne{}, Nodes: []CreateNodeStep{{Alias: "n"}}}
	_, err := Collect(ctx, c, -1)
	require.Error(t, err)
	require.True(t, errkind.As(err, errkind.KindInvalidClauseComposition))
}

func TestProcedureRegistryLookup(t *testing.T) {
	reg := NewProcedureRegistry()
	for _, name := range []string{"db.labels", "db.relationshipTypes", "db.propertyKeys"} {
		if _, _, ok := reg.Lookup(name); !ok {
			t.Fatalf("builtin %s missing", name)
		}
	}
	if _, _, ok := reg.Lookup("nope"); ok {
		t.Fatal("unknown procedure resolved")
	}

	reg.Register("my.proc", []string{"a"}, func(ctx *Context, args []value.Value) ([][]value.Value, error) {
		return [][]value.Value{{value.Int(1)}}, nil
	})
	fn, cols, ok := reg.Lookup("my.proc")
	require.True(t, ok)
	require.Equal(t, []string{"a"}, cols)
	out, err := fn(nil, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
}

func TestSeedRowYieldsOnce(t *testing.T) {
	ctx := NewContext(testSnap(t), nil, DefaultLimits(), nil)
	s := &SeedRow{Row: intRow("x", 7)}
	out, err := Collect(ctx, s, -1)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, value.Int(7), out[0]["x"])
}

func TestSkipAndLimit(t *testing.T) {
	ctx := NewContext(testSnap(t), nil, DefaultLimits(), nil)
	in := &rows{data: []Row{intRow("x", 1), intRow("x", 2), intRow("x", 3), intRow("x", 4)}}
	plan := &Limit{
		Input: &Skip{Input: in, Count: &ast.Literal{Kind: ast.LitInt, Int: 1}},
		Count: &ast.Literal{Kind: ast.LitInt, Int: 2},
	}
	out, err := Collect(ctx, plan, -1)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, value.Int(2), out[0]["x"])
	require.Equal(t, value.Int(3), out[1]["x"])
}
