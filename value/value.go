// Package value implements NervusDB's runtime value model: the tagged sum
// persisted as PropertyValue extended with the graph-shaped
// values (Node, Edge/Rel, List, Path, Map) that a Cypher RETURN can
// project, with a fixed inter-type ordering. Only the PropertyValue
// subset is ever persisted to disk (encode.go); Node/Edge/Path values are
// flat identifier references reified against a snapshot only at the
// result boundary.
package value

import "fmt"

// Kind tags which alternative of the sum a Value holds.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindDateTime
	KindBlob
	KindList
	KindMap
	KindNode
	KindEdge
	KindPath
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "Null"
	case KindBool:
		return "Bool"
	case KindInt:
		return "Int"
	case KindFloat:
		return "Float"
	case KindString:
		return "String"
	case KindDateTime:
		return "DateTime"
	case KindBlob:
		return "Blob"
	case KindList:
		return "List"
	case KindMap:
		return "Map"
	case KindNode:
		return "Node"
	case KindEdge:
		return "Edge"
	case KindPath:
		return "Path"
	default:
		return "Unknown"
	}
}

// EdgeRef identifies an edge by its (src, rel, dst) internal-id key.
type EdgeRef struct {
	Src uint32
	Rel uint32
	Dst uint32
}

// PathRef is a flat list of node ids interleaved with the edges connecting
// them: len(Edges) == len(Nodes)-1 for a non-empty path.
type PathRef struct {
	Nodes []uint32
	Edges []EdgeRef
}

// Value is NervusDB's single runtime value type, covering both on-disk
// PropertyValue and in-flight Cypher result shapes.
type Value struct {
	Kind Kind

	Bool     bool
	Int      int64
	Float    float64
	Str      string
	DateTime int64 // epoch nanoseconds
	Blob     []byte
	List     []Value
	Map      map[string]Value
	Node     uint32 // internal node id
	Edge     EdgeRef
	Path     PathRef
}

// Null is the canonical absent value.
var Null = Value{Kind: KindNull}

func Bool(b bool) Value        { return Value{Kind: KindBool, Bool: b} }
func Int(i int64) Value        { return Value{Kind: KindInt, Int: i} }
func Float(f float64) Value    { return Value{Kind: KindFloat, Float: f} }
func String(s string) Value    { return Value{Kind: KindString, Str: s} }
func DateTime(ns int64) Value  { return Value{Kind: KindDateTime, DateTime: ns} }
func Blob(b []byte) Value      { return Value{Kind: KindBlob, Blob: b} }
func List(vs []Value) Value    { return Value{Kind: KindList, List: vs} }
func Map(m map[string]Value) Value { return Value{Kind: KindMap, Map: m} }
func NodeVal(id uint32) Value  { return Value{Kind: KindNode, Node: id} }
func EdgeVal(e EdgeRef) Value  { return Value{Kind: KindEdge, Edge: e} }
func PathVal(p PathRef) Value  { return Value{Kind: KindPath, Path: p} }

// IsNull reports whether v is the Null value.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// IsNumber reports whether v is Int or Float.
func (v Value) IsNumber() bool { return v.Kind == KindInt || v.Kind == KindFloat }

// AsFloat64 coerces a numeric Value to float64; callers must check
// IsNumber first.
func (v Value) AsFloat64() float64 {
	if v.Kind == KindInt {
		return float64(v.Int)
	}
	return v.Float
}

func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%v", v.Bool)
	case KindInt:
		return fmt.Sprintf("%d", v.Int)
	case KindFloat:
		return fmt.Sprintf("%g", v.Float)
	case KindString:
		return v.Str
	case KindDateTime:
		return fmt.Sprintf("datetime(%d)", v.DateTime)
	case KindBlob:
		return fmt.Sprintf("blob(%d bytes)", len(v.Blob))
	case KindList:
		return fmt.Sprintf("%v", v.List)
	case KindMap:
		return fmt.Sprintf("%v", v.Map)
	case KindNode:
		return fmt.Sprintf("node(%d)", v.Node)
	case KindEdge:
		return fmt.Sprintf("edge(%d-%d->%d)", v.Edge.Src, v.Edge.Rel, v.Edge.Dst)
	case KindPath:
		return fmt.Sprintf("path(%d nodes)", len(v.Path.Nodes))
	default:
		return "?"
	}
}
