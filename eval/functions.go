package eval

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nervusdb/nervusdb/cypher/ast"
	"github.com/nervusdb/nervusdb/errkind"
	"github.com/nervusdb/nervusdb/value"
	"github.com/samber/lo"
)

// AggregateNames lists the functions the planner recognizes as
// aggregates, handled by executor.Aggregate rather than by callFunction
//. Exported so planner can classify a FunctionCall
// without duplicating this list.
var AggregateNames = map[string]bool{
	"count": true, "sum": true, "avg": true, "min": true, "max": true, "collect": true,
}

// callFunction dispatches a scalar FunctionCall. Aggregate names never
// reach here in a well-formed plan (the planner routes them to
// Aggregate); if one does, it is a compile error the planner should have
// caught, so callFunction rejects it defensively.
func callFunction(n *ast.FunctionCall, ctx *Context) (value.Value, error) {
	name := strings.ToLower(n.Name)
	if AggregateNames[name] {
		return value.Null, errkind.New(errkind.KindInvalidClauseComposition, "aggregate function "+name+" used outside an aggregating context")
	}
	args := make([]value.Value, len(n.Args))
	for i, a := range n.Args {
		v, err := Eval(a, ctx)
		if err != nil {
			return value.Null, err
		}
		args[i] = v
	}
	fn, ok := scalarFunctions[name]
	if !ok {
		return value.Null, errkind.New(errkind.KindProcedureNotFound, "unknown function "+n.Name)
	}
	return fn(ctx, args)
}

type scalarFn func(ctx *Context, args []value.Value) (value.Value, error)

func arity(name string, args []value.Value, n int) error {
	if len(args) != n {
		return errkind.New(errkind.KindInvalidNumberOfArguments, fmt.Sprintf("%s expects %d argument(s), got %d", name, n, len(args)))
	}
	return nil
}

var scalarFunctions map[string]scalarFn

func init() {
	scalarFunctions = map[string]scalarFn{
		"size":         fnSize,
		"length":       fnSize,
		"head":         fnHead,
		"tail":         fnTail,
		"last":         fnLast,
		"range":        fnRange,
		"keys":         fnKeys,
		"properties":   fnProperties,
		"exists":       fnExists,
		"coalesce":     fnCoalesce,
		"substring":    fnSubstring,
		"replace":      fnReplace,
		"split":        fnSplit,
		"tostring":     fnToString,
		"toupper":      fnToUpper,
		"tolower":      fnToLower,
		"trim":         fnTrim,
		"abs":          fnAbs,
		"sign":         fnSign,
		"ceil":         fnCeil,
		"floor":        fnFloor,
		"round":        fnRound,
		"sqrt":         fnSqrt,
		"tointeger":    fnToInteger,
		"tofloat":      fnToFloat,
		"toboolean":    fnToBoolean,
		"type":         fnType,
		"id":           fnID,
		"labels":       fnLabels,
		"reverse":      fnReverse,
		"nodes":        fnNodes,
		"relationships": fnRelationships,
		"datetime.truncate": fnDatetimeTruncate,
		"timestamp":    fnTimestamp,
		"vec.similarity": fnVecSimilarity,
	}
}

// fnVecSimilarity scores a node's stored vector against a query vector
// through the snapshot's global HNSW index; higher is better under every
// metric. Null when no vector index is configured or the node has no
// vector.
func fnVecSimilarity(ctx *Context, args []value.Value) (value.Value, error) {
	if err := arity("vec.similarity", args, 2); err != nil {
		return value.Null, err
	}
	node, query := args[0], args[1]
	if node.IsNull() || query.IsNull() {
		return value.Null, nil
	}
	if node.Kind != value.KindNode {
		return value.Null, errkind.New(errkind.KindTypeMismatch, "vec.similarity() requires a node")
	}
	if query.Kind != value.KindList {
		return value.Null, errkind.New(errkind.KindTypeMismatch, "vec.similarity() requires a list of numbers")
	}
	if ctx.Snap == nil || ctx.Snap.Vector == nil {
		return value.Null, nil
	}
	vec := make([]float32, len(query.List))
	for i, item := range query.List {
		if !item.IsNumber() {
			return value.Null, errkind.New(errkind.KindTypeMismatch, "vec.similarity() requires a list of numbers")
		}
		vec[i] = float32(item.AsFloat64())
	}
	sim, err := ctx.Snap.Vector.Similarity(vec, node.Node)
	if err != nil {
		return value.Null, nil
	}
	return value.Float(sim), nil
}

func fnSize(ctx *Context, args []value.Value) (value.Value, error) {
	if err := arity("size", args, 1); err != nil {
		return value.Null, err
	}
	v := args[0]
	if v.IsNull() {
		return value.Null, nil
	}
	switch v.Kind {
	case value.KindList:
		return value.Int(int64(len(v.List))), nil
	case value.KindString:
		return value.Int(int64(len([]rune(v.Str)))), nil
	case value.KindPath:
		return value.Int(int64(len(v.Path.Edges))), nil
	case value.KindMap:
		return value.Int(int64(len(v.Map))), nil
	default:
		return value.Null, errkind.New(errkind.KindTypeMismatch, "size() requires a list, string, map, or path")
	}
}

func fnHead(ctx *Context, args []value.Value) (value.Value, error) {
	if err := arity("head", args, 1); err != nil {
		return value.Null, err
	}
	v := args[0]
	if v.IsNull() {
		return value.Null, nil
	}
	if v.Kind != value.KindList || len(v.List) == 0 {
		if v.Kind == value.KindList {
			return value.Null, nil
		}
		return value.Null, errkind.New(errkind.KindTypeMismatch, "head() requires a list")
	}
	return v.List[0], nil
}

func fnLast(ctx *Context, args []value.Value) (value.Value, error) {
	if err := arity("last", args, 1); err != nil {
		return value.Null, err
	}
	v := args[0]
	if v.IsNull() {
		return value.Null, nil
	}
	if v.Kind != value.KindList {
		return value.Null, errkind.New(errkind.KindTypeMismatch, "last() requires a list")
	}
	if len(v.List) == 0 {
		return value.Null, nil
	}
	return v.List[len(v.List)-1], nil
}

func fnTail(ctx *Context, args []value.Value) (value.Value, error) {
	if err := arity("tail", args, 1); err != nil {
		return value.Null, err
	}
	v := args[0]
	if v.IsNull() {
		return value.Null, nil
	}
	if v.Kind != value.KindList {
		return value.Null, errkind.New(errkind.KindTypeMismatch, "tail() requires a list")
	}
	if len(v.List) == 0 {
		return value.List(nil), nil
	}
	out := append([]value.Value(nil), v.List[1:]...)
	return value.List(out), nil
}

// fnRange implements range(start, end[, step]) defaulting step to 1 and
// yielding an empty list when unreachable.
func fnRange(ctx *Context, args []value.Value) (value.Value, error) {
	if len(args) < 2 || len(args) > 3 {
		return value.Null, errkind.New(errkind.KindInvalidNumberOfArguments, "range() expects 2 or 3 arguments")
	}
	for _, a := range args {
		if a.Kind != value.KindInt {
			return value.Null, errkind.New(errkind.KindTypeMismatch, "range() requires integers")
		}
	}
	start, end := args[0].Int, args[1].Int
	step := int64(1)
	if len(args) == 3 {
		step = args[2].Int
	}
	if step == 0 {
		return value.Null, errkind.New(errkind.KindInvalidArgumentType, "range() step must not be zero")
	}
	var out []value.Value
	if step > 0 {
		for i := start; i <= end; i += step {
			out = append(out, value.Int(i))
		}
	} else {
		for i := start; i >= end; i += step {
			out = append(out, value.Int(i))
		}
	}
	return value.List(out), nil
}

func fnKeys(ctx *Context, args []value.Value) (value.Value, error) {
	if err := arity("keys", args, 1); err != nil {
		return value.Null, err
	}
	m, err := propertiesOf(ctx, args[0])
	if err != nil {
		return value.Null, err
	}
	keys := lo.Keys(m)
	sort.Strings(keys)
	out := make([]value.Value, len(keys))
	for i, k := range keys {
		out[i] = value.String(k)
	}
	return value.List(out), nil
}

func fnProperties(ctx *Context, args []value.Value) (value.Value, error) {
	if err := arity("properties", args, 1); err != nil {
		return value.Null, err
	}
	m, err := propertiesOf(ctx, args[0])
	if err != nil {
		return value.Null, err
	}
	return value.Map(m), nil
}

func propertiesOf(ctx *Context, v value.Value) (map[string]value.Value, error) {
	switch v.Kind {
	case value.KindMap:
		return v.Map, nil
	case value.KindNode:
		return ctx.Snap.NodeProperties(v.Node)
	case value.KindEdge:
		return ctx.Snap.EdgeProperties(v.Edge.Src, v.Edge.Rel, v.Edge.Dst)
	default:
		return nil, errkind.New(errkind.KindTypeMismatch, "requires a node, relationship, or map")
	}
}

// fnExists is the single-argument property-existence form (distinct from
// the EXISTS { pattern } syntax, which the evaluator handles directly).
func fnExists(ctx *Context, args []value.Value) (value.Value, error) {
	if err := arity("exists", args, 1); err != nil {
		return value.Null, err
	}
	return value.Bool(!args[0].IsNull()), nil
}

func fnCoalesce(ctx *Context, args []value.Value) (value.Value, error) {
	for _, a := range args {
		if !a.IsNull() {
			return a, nil
		}
	}
	return value.Null, nil
}

func fnSubstring(ctx *Context, args []value.Value) (value.Value, error) {
	if len(args) < 2 || len(args) > 3 {
		return value.Null, errkind.New(errkind.KindInvalidNumberOfArguments, "substring() expects 2 or 3 arguments")
	}
	if args[0].IsNull() {
		return value.Null, nil
	}
	if args[0].Kind != value.KindString || args[1].Kind != value.KindInt {
		return value.Null, errkind.New(errkind.KindTypeMismatch, "substring() requires (string, int[, int])")
	}
	runes := []rune(args[0].Str)
	start := clampIndex(int(args[1].Int), len(runes))
	end := len(runes)
	if len(args) == 3 {
		if args[2].Kind != value.KindInt {
			return value.Null, errkind.New(errkind.KindTypeMismatch, "substring() length must be an integer")
		}
		end = clampIndex(start+int(args[2].Int), len(runes))
	}
	if end < start {
		end = start
	}
	return value.String(string(runes[start:end])), nil
}

func fnReplace(ctx *Context, args []value.Value) (value.Value, error) {
	if err := arity("replace", args, 3); err != nil {
		return value.Null, err
	}
	for _, a := range args {
		if a.IsNull() {
			return value.Null, nil
		}
		if a.Kind != value.KindString {
			return value.Null, errkind.New(errkind.KindTypeMismatch, "replace() requires strings")
		}
	}
	return value.String(strings.ReplaceAll(args[0].Str, args[1].Str, args[2].Str)), nil
}

func fnSplit(ctx *Context, args []value.Value) (value.Value, error) {
	if err := arity("split", args, 2); err != nil {
		return value.Null, err
	}
	if args[0].IsNull() {
		return value.Null, nil
	}
	if args[0].Kind != value.KindString || args[1].Kind != value.KindString {
		return value.Null, errkind.New(errkind.KindTypeMismatch, "split() requires strings")
	}
	parts := strings.Split(args[0].Str, args[1].Str)
	out := make([]value.Value, len(parts))
	for i, p := range parts {
		out[i] = value.String(p)
	}
	return value.List(out), nil
}

func fnToString(ctx *Context, args []value.Value) (value.Value, error) {
	if err := arity("toString", args, 1); err != nil {
		return value.Null, err
	}
	v := args[0]
	if v.IsNull() {
		return value.Null, nil
	}
	switch v.Kind {
	case value.KindString:
		return v, nil
	case value.KindInt, value.KindFloat, value.KindBool:
		return value.String(v.String()), nil
	default:
		return value.Null, errkind.New(errkind.KindTypeMismatch, "toString() does not support "+v.Kind.String())
	}
}

func fnToUpper(ctx *Context, args []value.Value) (value.Value, error) {
	if err := arity("toUpper", args, 1); err != nil {
		return value.Null, err
	}
	if args[0].IsNull() {
		return value.Null, nil
	}
	return value.String(strings.ToUpper(args[0].Str)), nil
}

func fnToLower(ctx *Context, args []value.Value) (value.Value, error) {
	if err := arity("toLower", args, 1); err != nil {
		return value.Null, err
	}
	if args[0].IsNull() {
		return value.Null, nil
	}
	return value.String(strings.ToLower(args[0].Str)), nil
}

func fnTrim(ctx *Context, args []value.Value) (value.Value, error) {
	if err := arity("trim", args, 1); err != nil {
		return value.Null, err
	}
	if args[0].IsNull() {
		return value.Null, nil
	}
	return value.String(strings.TrimSpace(args[0].Str)), nil
}

func fnAbs(ctx *Context, args []value.Value) (value.Value, error) {
	if err := arity("abs", args, 1); err != nil {
		return value.Null, err
	}
	v := args[0]
	if v.IsNull() {
		return value.Null, nil
	}
	switch v.Kind {
	case value.KindInt:
		if v.Int < 0 {
			return value.Int(-v.Int), nil
		}
		return v, nil
	case value.KindFloat:
		return value.Float(math.Abs(v.Float)), nil
	default:
		return value.Null, errkind.New(errkind.KindTypeMismatch, "abs() requires a number")
	}
}

func fnSign(ctx *Context, args []value.Value) (value.Value, error) {
	if err := arity("sign", args, 1); err != nil {
		return value.Null, err
	}
	v := args[0]
	if v.IsNull() {
		return value.Null, nil
	}
	if !v.IsNumber() {
		return value.Null, errkind.New(errkind.KindTypeMismatch, "sign() requires a number")
	}
	f := v.AsFloat64()
	switch {
	case f > 0:
		return value.Int(1), nil
	case f < 0:
		return value.Int(-1), nil
	default:
		return value.Int(0), nil
	}
}

func fnCeil(ctx *Context, args []value.Value) (value.Value, error) {
	if err := arity("ceil", args, 1); err != nil {
		return value.Null, err
	}
	if args[0].IsNull() {
		return value.Null, nil
	}
	if !args[0].IsNumber() {
		return value.Null, errkind.New(errkind.KindTypeMismatch, "ceil() requires a number")
	}
	return value.Float(math.Ceil(args[0].AsFloat64())), nil
}

func fnFloor(ctx *Context, args []value.Value) (value.Value, error) {
	if err := arity("floor", args, 1); err != nil {
		return value.Null, err
	}
	if args[0].IsNull() {
		return value.Null, nil
	}
	if !args[0].IsNumber() {
		return value.Null, errkind.New(errkind.KindTypeMismatch, "floor() requires a number")
	}
	return value.Float(math.Floor(args[0].AsFloat64())), nil
}

func fnRound(ctx *Context, args []value.Value) (value.Value, error) {
	if err := arity("round", args, 1); err != nil {
		return value.Null, err
	}
	if args[0].IsNull() {
		return value.Null, nil
	}
	if !args[0].IsNumber() {
		return value.Null, errkind.New(errkind.KindTypeMismatch, "round() requires a number")
	}
	return value.Float(math.Round(args[0].AsFloat64())), nil
}

func fnSqrt(ctx *Context, args []value.Value) (value.Value, error) {
	if err := arity("sqrt", args, 1); err != nil {
		return value.Null, err
	}
	if args[0].IsNull() {
		return value.Null, nil
	}
	if !args[0].IsNumber() {
		return value.Null, errkind.New(errkind.KindTypeMismatch, "sqrt() requires a number")
	}
	return value.Float(math.Sqrt(args[0].AsFloat64())), nil
}

func fnToInteger(ctx *Context, args []value.Value) (value.Value, error) {
	if err := arity("toInteger", args, 1); err != nil {
		return value.Null, err
	}
	v := args[0]
	if v.IsNull() {
		return value.Null, nil
	}
	switch v.Kind {
	case value.KindInt:
		return v, nil
	case value.KindFloat:
		return value.Int(int64(v.Float)), nil
	case value.KindString:
		n, err := strconv.ParseInt(strings.TrimSpace(v.Str), 10, 64)
		if err != nil {
			return value.Null, nil
		}
		return value.Int(n), nil
	default:
		return value.Null, errkind.New(errkind.KindTypeMismatch, "toInteger() does not support "+v.Kind.String())
	}
}

func fnToFloat(ctx *Context, args []value.Value) (value.Value, error) {
	if err := arity("toFloat", args, 1); err != nil {
		return value.Null, err
	}
	v := args[0]
	if v.IsNull() {
		return value.Null, nil
	}
	switch v.Kind {
	case value.KindFloat:
		return v, nil
	case value.KindInt:
		return value.Float(float64(v.Int)), nil
	case value.KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil {
			return value.Null, nil
		}
		return value.Float(f), nil
	default:
		return value.Null, errkind.New(errkind.KindTypeMismatch, "toFloat() does not support "+v.Kind.String())
	}
}

func fnToBoolean(ctx *Context, args []value.Value) (value.Value, error) {
	if err := arity("toBoolean", args, 1); err != nil {
		return value.Null, err
	}
	v := args[0]
	if v.IsNull() {
		return value.Null, nil
	}
	switch v.Kind {
	case value.KindBool:
		return v, nil
	case value.KindString:
		switch strings.ToLower(v.Str) {
		case "true":
			return value.Bool(true), nil
		case "false":
			return value.Bool(false), nil
		default:
			return value.Null, nil
		}
	default:
		return value.Null, errkind.New(errkind.KindTypeMismatch, "toBoolean() does not support "+v.Kind.String())
	}
}

func fnType(ctx *Context, args []value.Value) (value.Value, error) {
	if err := arity("type", args, 1); err != nil {
		return value.Null, err
	}
	v := args[0]
	if v.IsNull() {
		return value.Null, nil
	}
	if v.Kind != value.KindEdge {
		return value.Null, errkind.New(errkind.KindTypeMismatch, "type() requires a relationship")
	}
	name, _ := ctx.Snap.RelTypes.Name(v.Edge.Rel)
	return value.String(name), nil
}

func fnID(ctx *Context, args []value.Value) (value.Value, error) {
	if err := arity("id", args, 1); err != nil {
		return value.Null, err
	}
	switch args[0].Kind {
	case value.KindNull:
		return value.Null, nil
	case value.KindNode:
		ext, err := ctx.Snap.IDs.External(args[0].Node)
		if err != nil {
			return value.Null, err
		}
		return value.Int(int64(ext)), nil
	default:
		return value.Null, errkind.New(errkind.KindTypeMismatch, "id() requires a node")
	}
}

func fnLabels(ctx *Context, args []value.Value) (value.Value, error) {
	if err := arity("labels", args, 1); err != nil {
		return value.Null, err
	}
	if args[0].IsNull() {
		return value.Null, nil
	}
	if args[0].Kind != value.KindNode {
		return value.Null, errkind.New(errkind.KindTypeMismatch, "labels() requires a node")
	}
	ids, err := ctx.Snap.NodeLabels(args[0].Node)
	if err != nil {
		return value.Null, err
	}
	out := make([]value.Value, 0, len(ids))
	for _, id := range ids {
		if name, ok := ctx.Snap.Labels.Name(id); ok {
			out = append(out, value.String(name))
		}
	}
	return value.List(out), nil
}

func fnReverse(ctx *Context, args []value.Value) (value.Value, error) {
	if err := arity("reverse", args, 1); err != nil {
		return value.Null, err
	}
	v := args[0]
	if v.IsNull() {
		return value.Null, nil
	}
	switch v.Kind {
	case value.KindString:
		r := []rune(v.Str)
		for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
			r[i], r[j] = r[j], r[i]
		}
		return value.String(string(r)), nil
	case value.KindList:
		out := lo.Reverse(append([]value.Value(nil), v.List...))
		return value.List(out), nil
	default:
		return value.Null, errkind.New(errkind.KindTypeMismatch, "reverse() requires a string or list")
	}
}

func fnNodes(ctx *Context, args []value.Value) (value.Value, error) {
	if err := arity("nodes", args, 1); err != nil {
		return value.Null, err
	}
	if args[0].Kind != value.KindPath {
		return value.Null, errkind.New(errkind.KindTypeMismatch, "nodes() requires a path")
	}
	out := make([]value.Value, len(args[0].Path.Nodes))
	for i, id := range args[0].Path.Nodes {
		out[i] = value.NodeVal(id)
	}
	return value.List(out), nil
}

func fnRelationships(ctx *Context, args []value.Value) (value.Value, error) {
	if err := arity("relationships", args, 1); err != nil {
		return value.Null, err
	}
	if args[0].Kind != value.KindPath {
		return value.Null, errkind.New(errkind.KindTypeMismatch, "relationships() requires a path")
	}
	out := make([]value.Value, len(args[0].Path.Edges))
	for i, e := range args[0].Path.Edges {
		out[i] = value.EdgeVal(e)
	}
	return value.List(out), nil
}

// fnDatetimeTruncate implements the minimal `datetime.truncate(unit,
// datetime)` form, supporting the common calendar units.
func fnDatetimeTruncate(ctx *Context, args []value.Value) (value.Value, error) {
	if err := arity("datetime.truncate", args, 2); err != nil {
		return value.Null, err
	}
	if args[0].Kind != value.KindString || args[1].Kind != value.KindDateTime {
		return value.Null, errkind.New(errkind.KindTypeMismatch, "datetime.truncate() requires (unit, datetime)")
	}
	t := time.Unix(0, args[1].DateTime).UTC()
	var truncated time.Time
	switch strings.ToLower(args[0].Str) {
	case "day":
		truncated = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case "hour":
		truncated = t.Truncate(time.Hour)
	case "minute":
		truncated = t.Truncate(time.Minute)
	case "second":
		truncated = t.Truncate(time.Second)
	case "month":
		truncated = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	case "year":
		truncated = time.Date(t.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	default:
		return value.Null, errkind.New(errkind.KindInvalidArgumentType, "unsupported datetime.truncate unit "+args[0].Str)
	}
	return value.DateTime(truncated.UnixNano()), nil
}

func fnTimestamp(ctx *Context, args []value.Value) (value.Value, error) {
	if len(args) != 0 {
		return value.Null, errkind.New(errkind.KindInvalidNumberOfArguments, "timestamp() expects no arguments")
	}
	return value.Int(time.Now().UnixNano() / int64(time.Millisecond)), nil
}
