package eval

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nervusdb/nervusdb/cypher/ast"
	"github.com/nervusdb/nervusdb/cypher/parser"
	"github.com/nervusdb/nervusdb/value"
)

// evalStr parses `RETURN <src> AS x` and evaluates the projected
// expression against row/params, keeping the tests readable.
func evalStr(t *testing.T, src string, row Row, params map[string]value.Value) (value.Value, error) {
	t.Helper()
	q, err := parser.Parse("RETURN " + src + " AS x")
	require.NoError(t, err)
	ret := q.Clauses[0].(*ast.ReturnClause)
	ctx := &Context{Row: row, Params: params}
	return Eval(ret.Items[0].Expr, ctx)
}

func mustEval(t *testing.T, src string, row Row, params map[string]value.Value) value.Value {
	t.Helper()
	v, err := evalStr(t, src, row, params)
	require.NoError(t, err, "eval %q", src)
	return v
}

func TestArithmeticCoercion(t *testing.T) {
	require.Equal(t, value.Int(7), mustEval(t, `1 + 2 * 3`, nil, nil))
	require.Equal(t, value.Float(3.5), mustEval(t, `3 + 0.5`, nil, nil))
	require.Equal(t, value.Int(2), mustEval(t, `7 / 3`, nil, nil))
	require.Equal(t, value.Int(1), mustEval(t, `7 % 3`, nil, nil))
}

func TestDivisionByZero(t *testing.T) {
	v, err := evalStr(t, `1 / 0`, nil, nil)
	require.NoError(t, err)
	require.True(t, v.IsNull())

	_, err = evalStr(t, `1 % 0`, nil, nil)
	require.Error(t, err)
}

func TestNullPropagation(t *testing.T) {
	require.True(t, mustEval(t, `1 + null`, nil, nil).IsNull())
	require.True(t, mustEval(t, `null < 5`, nil, nil).IsNull())
	require.True(t, mustEval(t, `null = 1`, nil, nil).IsNull())
	require.Equal(t, value.Bool(true), mustEval(t, `null IS NULL`, nil, nil))
	require.Equal(t, value.Bool(false), mustEval(t, `1 IS NULL`, nil, nil))
}

func TestThreeValuedLogic(t *testing.T) {
	require.Equal(t, value.Bool(false), mustEval(t, `false AND null`, nil, nil))
	require.True(t, mustEval(t, `true AND null`, nil, nil).IsNull())
	require.Equal(t, value.Bool(true), mustEval(t, `true OR null`, nil, nil))
	require.True(t, mustEval(t, `false OR null`, nil, nil).IsNull())
	require.True(t, mustEval(t, `NOT null`, nil, nil).IsNull())
}

func TestStringOperators(t *testing.T) {
	require.Equal(t, value.String("ab"), mustEval(t, `'a' + 'b'`, nil, nil))
	require.Equal(t, value.Bool(true), mustEval(t, `'hello' STARTS WITH 'he'`, nil, nil))
	require.Equal(t, value.Bool(true), mustEval(t, `'hello' ENDS WITH 'lo'`, nil, nil))
	require.Equal(t, value.Bool(false), mustEval(t, `'hello' CONTAINS 'z'`, nil, nil))
}

func TestInOperator(t *testing.T) {
	require.Equal(t, value.Bool(true), mustEval(t, `2 IN [1, 2, 3]`, nil, nil))
	require.Equal(t, value.Bool(false), mustEval(t, `9 IN [1, 2, 3]`, nil, nil))
	require.True(t, mustEval(t, `null IN [1]`, nil, nil).IsNull())
}

func TestListIndexingAndSlices(t *testing.T) {
	require.Equal(t, value.Int(2), mustEval(t, `[1, 2, 3][1]`, nil, nil))
	require.Equal(t, value.Int(3), mustEval(t, `[1, 2, 3][-1]`, nil, nil))

	v := mustEval(t, `[1, 2, 3, 4][1..3]`, nil, nil)
	require.Equal(t, value.KindList, v.Kind)
	require.Len(t, v.List, 2)
	require.Equal(t, value.Int(2), v.List[0])

	// Omitted bound slices to the end; explicit null yields null.
	v = mustEval(t, `[1, 2, 3][1..]`, nil, nil)
	require.Len(t, v.List, 2)
	require.True(t, mustEval(t, `[1, 2, 3][1..null]`, nil, nil).IsNull())
}

func TestRangeFunction(t *testing.T) {
	v := mustEval(t, `range(0, 3)`, nil, nil)
	require.Len(t, v.List, 4)
	require.Equal(t, value.Int(0), v.List[0])
	require.Equal(t, value.Int(3), v.List[3])

	v = mustEval(t, `range(0, 10, 3)`, nil, nil)
	require.Len(t, v.List, 4) // 0 3 6 9

	// Unreachable end yields empty.
	v = mustEval(t, `range(5, 1)`, nil, nil)
	require.Len(t, v.List, 0)
}

func TestScalarFunctions(t *testing.T) {
	require.Equal(t, value.Int(3), mustEval(t, `size([1, 2, 3])`, nil, nil))
	require.Equal(t, value.Int(1), mustEval(t, `head([1, 2])`, nil, nil))
	require.Equal(t, value.Int(2), mustEval(t, `last([1, 2])`, nil, nil))
	require.Equal(t, value.Int(-3), mustEval(t, `-abs(-3)`, nil, nil))
	require.Equal(t, value.Int(1), mustEval(t, `coalesce(null, 1, 2)`, nil, nil))
	require.Equal(t, value.String("ell"), mustEval(t, `substring('hello', 1, 3)`, nil, nil))
	require.Equal(t, value.String("HELLO"), mustEval(t, `toUpper('hello')`, nil, nil))
	require.Equal(t, value.Int(42), mustEval(t, `toInteger('42')`, nil, nil))
}

func TestCaseExpression(t *testing.T) {
	require.Equal(t, value.Int(1), mustEval(t, `CASE WHEN true THEN 1 ELSE 2 END`, nil, nil))
	require.Equal(t, value.Int(2), mustEval(t, `CASE WHEN false THEN 1 ELSE 2 END`, nil, nil))
	require.Equal(t, value.String("two"), mustEval(t, `CASE 2 WHEN 1 THEN 'one' WHEN 2 THEN 'two' END`, nil, nil))
	require.True(t, mustEval(t, `CASE WHEN false THEN 1 END`, nil, nil).IsNull())
}

func TestListComprehension(t *testing.T) {
	v := mustEval(t, `[x IN [1, 2, 3, 4] WHERE x % 2 = 0 | x * 10]`, nil, nil)
	require.Len(t, v.List, 2)
	require.Equal(t, value.Int(20), v.List[0])
	require.Equal(t, value.Int(40), v.List[1])
}

func TestParametersAndVariables(t *testing.T) {
	params := map[string]value.Value{"p": value.Int(9)}
	row := Row{"n": value.Int(5)}
	require.Equal(t, value.Int(14), mustEval(t, `n + $p`, row, params))

	_, err := evalStr(t, `missing`, row, params)
	require.Error(t, err)
	_, err = evalStr(t, `$absent`, row, params)
	require.Error(t, err)
}

func TestAggregateOutsideAggregationErrors(t *testing.T) {
	_, err := evalStr(t, `count(1)`, nil, nil)
	require.Error(t, err)
}

func TestMapLiteralAndAccess(t *testing.T) {
	require.Equal(t, value.Int(7), mustEval(t, `{a: 7}.a`, nil, nil))
	require.True(t, mustEval(t, `{a: 7}.b`, nil, nil).IsNull())
}
