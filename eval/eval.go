// Package eval implements NervusDB's expression evaluator: a
// pure function over (Expression, Row, Snapshot, Params) -> Value. It
// knows nothing about plans or iterators; EXISTS { ... } is evaluated
// through a small injected interface so this package never imports
// planner/executor (which in turn import eval for scalar evaluation).
package eval

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/nervusdb/nervusdb/cypher/ast"
	"github.com/nervusdb/nervusdb/errkind"
	"github.com/nervusdb/nervusdb/snapshot"
	"github.com/nervusdb/nervusdb/value"
)

// Row is one binding set: variable name -> runtime Value.
type Row map[string]value.Value

// Clone returns a shallow copy of r, used whenever a plan stage must hand
// out a row without letting a downstream mutation leak upstream.
func (r Row) Clone() Row {
	out := make(Row, len(r)+2)
	for k, v := range r {
		out[k] = v
	}
	return out
}

// SubqueryRunner evaluates EXISTS pattern/subquery expressions, injected by
// the executor (which alone knows how to compile and run a sub-plan)
// so this package has no upward dependency.
type SubqueryRunner interface {
	ExistsPattern(ctx *Context, pat *ast.Pattern, where ast.Expr) (bool, error)
	ExistsSubquery(ctx *Context, q *ast.Query) (bool, error)
}

// Context bundles everything an expression evaluation needs.
type Context struct {
	Row    Row
	Params map[string]value.Value
	Snap   *snapshot.Snapshot
	Exists SubqueryRunner
}

// WithRow returns a shallow copy of ctx bound to a different row, used by
// list comprehensions to introduce an inner loop variable.
func (c *Context) WithRow(r Row) *Context {
	return &Context{Row: r, Params: c.Params, Snap: c.Snap, Exists: c.Exists}
}

// Eval evaluates e against ctx, following Cypher's three-valued-logic and
// Null-propagation rules.
func Eval(e ast.Expr, ctx *Context) (value.Value, error) {
	switch n := e.(type) {
	case *ast.Literal:
		return evalLiteral(n), nil
	case *ast.Variable:
		if v, ok := ctx.Row[n.Name]; ok {
			return v, nil
		}
		return value.Null, errkind.New(errkind.KindUndefinedVariable, "undefined variable "+n.Name)
	case *ast.Parameter:
		if v, ok := ctx.Params[n.Name]; ok {
			return v, nil
		}
		return value.Null, errkind.New(errkind.KindMissingParameter, "missing parameter $"+n.Name)
	case *ast.PropertyAccess:
		return evalPropertyAccess(n, ctx)
	case *ast.Binary:
		return evalBinary(n, ctx)
	case *ast.Unary:
		return evalUnary(n, ctx)
	case *ast.FunctionCall:
		return callFunction(n, ctx)
	case *ast.Case:
		return evalCase(n, ctx)
	case *ast.ListLiteral:
		items := make([]value.Value, len(n.Items))
		for i, it := range n.Items {
			v, err := Eval(it, ctx)
			if err != nil {
				return value.Null, err
			}
			items[i] = v
		}
		return value.List(items), nil
	case *ast.ListComprehension:
		return evalListComprehension(n, ctx)
	case *ast.MapLiteral:
		m := make(map[string]value.Value, len(n.Keys))
		for i, k := range n.Keys {
			v, err := Eval(n.Values[i], ctx)
			if err != nil {
				return value.Null, err
			}
			m[k] = v
		}
		return value.Map(m), nil
	case *ast.Index:
		return evalIndex(n, ctx)
	case *ast.Slice:
		return evalSlice(n, ctx)
	case *ast.ExistsPattern:
		if ctx.Exists == nil {
			return value.Null, errkind.New(errkind.KindInvalidClauseComposition, "EXISTS{} not supported in this context")
		}
		ok, err := ctx.Exists.ExistsPattern(ctx, &n.Pattern, n.Where)
		if err != nil {
			return value.Null, err
		}
		return value.Bool(ok), nil
	case *ast.ExistsSubquery:
		if ctx.Exists == nil {
			return value.Null, errkind.New(errkind.KindInvalidClauseComposition, "EXISTS{} not supported in this context")
		}
		ok, err := ctx.Exists.ExistsSubquery(ctx, n.Query)
		if err != nil {
			return value.Null, err
		}
		return value.Bool(ok), nil
	default:
		return value.Null, errkind.New(errkind.KindInvalidArgumentType, fmt.Sprintf("cannot evaluate expression node %T", e))
	}
}

func evalLiteral(n *ast.Literal) value.Value {
	switch n.Kind {
	case ast.LitNull:
		return value.Null
	case ast.LitBool:
		return value.Bool(n.Bool)
	case ast.LitInt:
		return value.Int(n.Int)
	case ast.LitFloat:
		return value.Float(n.Float)
	case ast.LitString:
		return value.String(n.Str)
	default:
		return value.Null
	}
}

func evalPropertyAccess(n *ast.PropertyAccess, ctx *Context) (value.Value, error) {
	target, err := Eval(n.Target, ctx)
	if err != nil {
		return value.Null, err
	}
	switch target.Kind {
	case value.KindNull:
		return value.Null, nil
	case value.KindNode:
		v, ok, err := ctx.Snap.NodeProperty(target.Node, n.Key)
		if err != nil {
			return value.Null, err
		}
		if !ok {
			return value.Null, nil
		}
		return v, nil
	case value.KindEdge:
		v, ok, err := ctx.Snap.EdgeProperty(target.Edge.Src, target.Edge.Rel, target.Edge.Dst, n.Key)
		if err != nil {
			return value.Null, err
		}
		if !ok {
			return value.Null, nil
		}
		return v, nil
	case value.KindMap:
		if v, ok := target.Map[n.Key]; ok {
			return v, nil
		}
		return value.Null, nil
	default:
		return value.Null, errkind.New(errkind.KindTypeMismatch, "property access on non-entity value")
	}
}

func isTruthy(v value.Value) (b bool, isNull bool) {
	if v.Kind == value.KindNull {
		return false, true
	}
	return v.Kind == value.KindBool && v.Bool, false
}

func evalUnary(n *ast.Unary, ctx *Context) (value.Value, error) {
	switch n.Op {
	case ast.OpIsNull:
		v, err := Eval(n.Operand, ctx)
		if err != nil {
			return value.Null, err
		}
		return value.Bool(v.IsNull()), nil
	case ast.OpIsNotNull:
		v, err := Eval(n.Operand, ctx)
		if err != nil {
			return value.Null, err
		}
		return value.Bool(!v.IsNull()), nil
	case ast.OpNot:
		v, err := Eval(n.Operand, ctx)
		if err != nil {
			return value.Null, err
		}
		if v.IsNull() {
			return value.Null, nil
		}
		if v.Kind != value.KindBool {
			return value.Null, errkind.New(errkind.KindTypeMismatch, "NOT requires a boolean operand")
		}
		return value.Bool(!v.Bool), nil
	case ast.OpNeg:
		v, err := Eval(n.Operand, ctx)
		if err != nil {
			return value.Null, err
		}
		if v.IsNull() {
			return value.Null, nil
		}
		switch v.Kind {
		case value.KindInt:
			return value.Int(-v.Int), nil
		case value.KindFloat:
			return value.Float(-v.Float), nil
		default:
			return value.Null, errkind.New(errkind.KindTypeMismatch, "unary minus requires a number")
		}
	default:
		return value.Null, errkind.New(errkind.KindInvalidArgumentType, "unknown unary operator")
	}
}

func evalBinary(n *ast.Binary, ctx *Context) (value.Value, error) {
	switch n.Op {
	case ast.OpAnd:
		return evalAnd(n, ctx)
	case ast.OpOr:
		return evalOr(n, ctx)
	case ast.OpXor:
		l, err := Eval(n.Left, ctx)
		if err != nil {
			return value.Null, err
		}
		r, err := Eval(n.Right, ctx)
		if err != nil {
			return value.Null, err
		}
		lb, lNull := isTruthy(l)
		rb, rNull := isTruthy(r)
		if lNull || rNull {
			return value.Null, nil
		}
		return value.Bool(lb != rb), nil
	}

	l, err := Eval(n.Left, ctx)
	if err != nil {
		return value.Null, err
	}
	r, err := Eval(n.Right, ctx)
	if err != nil {
		return value.Null, err
	}

	switch n.Op {
	case ast.OpEq:
		if l.IsNull() || r.IsNull() {
			return value.Null, nil
		}
		return value.Bool(value.Equal(l, r)), nil
	case ast.OpNeq:
		if l.IsNull() || r.IsNull() {
			return value.Null, nil
		}
		return value.Bool(!value.Equal(l, r)), nil
	case ast.OpLt, ast.OpLte, ast.OpGt, ast.OpGte:
		if l.IsNull() || r.IsNull() {
			return value.Null, nil
		}
		c := value.Compare(l, r)
		switch n.Op {
		case ast.OpLt:
			return value.Bool(c < 0), nil
		case ast.OpLte:
			return value.Bool(c <= 0), nil
		case ast.OpGt:
			return value.Bool(c > 0), nil
		default:
			return value.Bool(c >= 0), nil
		}
	case ast.OpIn:
		if r.IsNull() {
			return value.Null, nil
		}
		if r.Kind != value.KindList {
			return value.Null, errkind.New(errkind.KindTypeMismatch, "IN requires a list on the right")
		}
		if l.IsNull() {
			for _, item := range r.List {
				if item.IsNull() {
					return value.Bool(true), nil
				}
			}
			return value.Null, nil
		}
		for _, item := range r.List {
			if !item.IsNull() && value.Equal(l, item) {
				return value.Bool(true), nil
			}
		}
		return value.Bool(false), nil
	case ast.OpStartsWith, ast.OpEndsWith, ast.OpContains:
		if l.IsNull() || r.IsNull() {
			return value.Null, nil
		}
		if l.Kind != value.KindString || r.Kind != value.KindString {
			return value.Null, errkind.New(errkind.KindTypeMismatch, "string predicate requires strings")
		}
		switch n.Op {
		case ast.OpStartsWith:
			return value.Bool(strings.HasPrefix(l.Str, r.Str)), nil
		case ast.OpEndsWith:
			return value.Bool(strings.HasSuffix(l.Str, r.Str)), nil
		default:
			return value.Bool(strings.Contains(l.Str, r.Str)), nil
		}
	case ast.OpAdd, ast.OpSub, ast.OpMul, ast.OpDiv, ast.OpMod, ast.OpPow:
		return evalArith(n.Op, l, r)
	default:
		return value.Null, errkind.New(errkind.KindInvalidArgumentType, "unknown binary operator")
	}
}

func evalAnd(n *ast.Binary, ctx *Context) (value.Value, error) {
	l, err := Eval(n.Left, ctx)
	if err != nil {
		return value.Null, err
	}
	lb, lNull := isTruthy(l)
	if !lNull && !lb {
		return value.Bool(false), nil // short-circuit: false AND x = false
	}
	r, err := Eval(n.Right, ctx)
	if err != nil {
		return value.Null, err
	}
	rb, rNull := isTruthy(r)
	if !rNull && !rb {
		return value.Bool(false), nil
	}
	if lNull || rNull {
		return value.Null, nil
	}
	return value.Bool(lb && rb), nil
}

func evalOr(n *ast.Binary, ctx *Context) (value.Value, error) {
	l, err := Eval(n.Left, ctx)
	if err != nil {
		return value.Null, err
	}
	lb, lNull := isTruthy(l)
	if !lNull && lb {
		return value.Bool(true), nil
	}
	r, err := Eval(n.Right, ctx)
	if err != nil {
		return value.Null, err
	}
	rb, rNull := isTruthy(r)
	if !rNull && rb {
		return value.Bool(true), nil
	}
	if lNull || rNull {
		return value.Null, nil
	}
	return value.Bool(lb || rb), nil
}

// evalArith coerces Int<->Float. String '+' concatenation
// and list '+' concatenation are also accepted, matching Cypher's
// overloaded `+`.
func evalArith(op ast.BinaryOp, l, r value.Value) (value.Value, error) {
	if l.IsNull() || r.IsNull() {
		if op == ast.OpDiv && l.IsNull() {
			return value.Null, nil
		}
		return value.Null, nil
	}
	if op == ast.OpAdd {
		if l.Kind == value.KindString || r.Kind == value.KindString {
			return value.String(toDisplayString(l) + toDisplayString(r)), nil
		}
		if l.Kind == value.KindList || r.Kind == value.KindList {
			var items []value.Value
			if l.Kind == value.KindList {
				items = append(items, l.List...)
			} else {
				items = append(items, l)
			}
			if r.Kind == value.KindList {
				items = append(items, r.List...)
			} else {
				items = append(items, r)
			}
			return value.List(items), nil
		}
	}
	if !l.IsNumber() || !r.IsNumber() {
		return value.Null, errkind.New(errkind.KindTypeMismatch, "arithmetic requires numbers")
	}
	bothInt := l.Kind == value.KindInt && r.Kind == value.KindInt
	switch op {
	case ast.OpAdd:
		if bothInt {
			return value.Int(l.Int + r.Int), nil
		}
		return value.Float(l.AsFloat64() + r.AsFloat64()), nil
	case ast.OpSub:
		if bothInt {
			return value.Int(l.Int - r.Int), nil
		}
		return value.Float(l.AsFloat64() - r.AsFloat64()), nil
	case ast.OpMul:
		if bothInt {
			return value.Int(l.Int * r.Int), nil
		}
		return value.Float(l.AsFloat64() * r.AsFloat64()), nil
	case ast.OpDiv:
		if bothInt {
			// Division by zero yields Null; only integer modulo by zero
			// is a hard error.
			if r.Int == 0 {
				return value.Null, nil
			}
			return value.Int(l.Int / r.Int), nil
		}
		return value.Float(l.AsFloat64() / r.AsFloat64()), nil
	case ast.OpMod:
		if bothInt {
			if r.Int == 0 {
				return value.Null, errkind.New(errkind.KindDivisionByZero, "integer modulo by zero")
			}
			return value.Int(l.Int % r.Int), nil
		}
		return value.Float(math.Mod(l.AsFloat64(), r.AsFloat64())), nil
	case ast.OpPow:
		return value.Float(math.Pow(l.AsFloat64(), r.AsFloat64())), nil
	default:
		return value.Null, errkind.New(errkind.KindInvalidArgumentType, "unknown arithmetic operator")
	}
}

func evalCase(n *ast.Case, ctx *Context) (value.Value, error) {
	var subj value.Value
	hasSubject := n.Subject != nil
	if hasSubject {
		v, err := Eval(n.Subject, ctx)
		if err != nil {
			return value.Null, err
		}
		subj = v
	}
	for _, w := range n.Whens {
		if hasSubject {
			cmp, err := Eval(w.When, ctx)
			if err != nil {
				return value.Null, err
			}
			if !subj.IsNull() && !cmp.IsNull() && value.Equal(subj, cmp) {
				return Eval(w.Then, ctx)
			}
			continue
		}
		cond, err := Eval(w.When, ctx)
		if err != nil {
			return value.Null, err
		}
		if b, isNull := isTruthy(cond); !isNull && b {
			return Eval(w.Then, ctx)
		}
	}
	if n.Else != nil {
		return Eval(n.Else, ctx)
	}
	return value.Null, nil
}

func evalListComprehension(n *ast.ListComprehension, ctx *Context) (value.Value, error) {
	listVal, err := Eval(n.List, ctx)
	if err != nil {
		return value.Null, err
	}
	if listVal.IsNull() {
		return value.Null, nil
	}
	if listVal.Kind != value.KindList {
		return value.Null, errkind.New(errkind.KindTypeMismatch, "list comprehension requires a list")
	}
	var out []value.Value
	for _, item := range listVal.List {
		inner := ctx.Row.Clone()
		inner[n.Variable] = item
		innerCtx := ctx.WithRow(inner)
		if n.Where != nil {
			cond, err := Eval(n.Where, innerCtx)
			if err != nil {
				return value.Null, err
			}
			if b, isNull := isTruthy(cond); isNull || !b {
				continue
			}
		}
		if n.Project != nil {
			v, err := Eval(n.Project, innerCtx)
			if err != nil {
				return value.Null, err
			}
			out = append(out, v)
		} else {
			out = append(out, item)
		}
	}
	return value.List(out), nil
}

func evalIndex(n *ast.Index, ctx *Context) (value.Value, error) {
	target, err := Eval(n.Target, ctx)
	if err != nil {
		return value.Null, err
	}
	idx, err := Eval(n.Idx, ctx)
	if err != nil {
		return value.Null, err
	}
	if target.IsNull() || idx.IsNull() {
		return value.Null, nil
	}
	switch target.Kind {
	case value.KindList:
		if idx.Kind != value.KindInt {
			return value.Null, errkind.New(errkind.KindTypeMismatch, "list index must be an integer")
		}
		i := normalizeIndex(idx.Int, len(target.List))
		if i < 0 || i >= len(target.List) {
			return value.Null, nil
		}
		return target.List[i], nil
	case value.KindMap:
		if idx.Kind != value.KindString {
			return value.Null, errkind.New(errkind.KindTypeMismatch, "map index must be a string")
		}
		if v, ok := target.Map[idx.Str]; ok {
			return v, nil
		}
		return value.Null, nil
	case value.KindString:
		if idx.Kind != value.KindInt {
			return value.Null, errkind.New(errkind.KindTypeMismatch, "string index must be an integer")
		}
		runes := []rune(target.Str)
		i := normalizeIndex(idx.Int, len(runes))
		if i < 0 || i >= len(runes) {
			return value.Null, nil
		}
		return value.String(string(runes[i])), nil
	default:
		return value.Null, errkind.New(errkind.KindTypeMismatch, "indexing requires a list, map, or string")
	}
}

func normalizeIndex(i int64, n int) int {
	if i < 0 {
		return n + int(i)
	}
	return int(i)
}

func evalSlice(n *ast.Slice, ctx *Context) (value.Value, error) {
	target, err := Eval(n.Target, ctx)
	if err != nil {
		return value.Null, err
	}
	if target.IsNull() {
		return value.Null, nil
	}
	var items []value.Value
	var runes []rune
	isString := target.Kind == value.KindString
	switch target.Kind {
	case value.KindList:
		items = target.List
	case value.KindString:
		runes = []rune(target.Str)
	default:
		return value.Null, errkind.New(errkind.KindTypeMismatch, "slicing requires a list or string")
	}
	n0 := len(items)
	if isString {
		n0 = len(runes)
	}

	lo, loNull, err := resolveBound(n.Lo, n.LoExplicitNull, ctx)
	if err != nil {
		return value.Null, err
	}
	hi, hiNull, err := resolveBound(n.Hi, n.HiExplicitNull, ctx)
	if err != nil {
		return value.Null, err
	}
	if loNull || hiNull {
		return value.Null, nil
	}
	loIdx := 0
	if lo != nil {
		loIdx = clampIndex(normalizeIndex(*lo, n0), n0)
	}
	hiIdx := n0
	if hi != nil {
		hiIdx = clampIndex(normalizeIndex(*hi, n0), n0)
	}
	if hiIdx < loIdx {
		hiIdx = loIdx
	}
	if isString {
		return value.String(string(runes[loIdx:hiIdx])), nil
	}
	out := make([]value.Value, hiIdx-loIdx)
	copy(out, items[loIdx:hiIdx])
	return value.List(out), nil
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i > n {
		return n
	}
	return i
}

// resolveBound distinguishes an omitted bound (expr == nil) from an
// explicit `null` bound (explicitNull == true).
func resolveBound(expr ast.Expr, explicitNull bool, ctx *Context) (*int64, bool, error) {
	if explicitNull {
		return nil, true, nil
	}
	if expr == nil {
		return nil, false, nil
	}
	v, err := Eval(expr, ctx)
	if err != nil {
		return nil, false, err
	}
	if v.IsNull() {
		return nil, true, nil
	}
	if v.Kind != value.KindInt {
		return nil, false, errkind.New(errkind.KindTypeMismatch, "slice bound must be an integer")
	}
	n := v.Int
	return &n, false, nil
}

func toDisplayString(v value.Value) string {
	if v.Kind == value.KindString {
		return v.Str
	}
	return v.String()
}

// sortValues sorts vs in place using value.Compare.
func sortValues(vs []value.Value) {
	sort.Slice(vs, func(i, j int) bool { return value.Compare(vs[i], vs[j]) < 0 })
}
