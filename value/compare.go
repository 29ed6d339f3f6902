package value

import (
	"bytes"
	"encoding/binary"
	"math"
)

// typeOrder implements the fixed inter-type order: Map < Node <
// Edge/Rel < List < Path < String < Bool < Number < DateTime < Blob < Null.
func typeOrder(k Kind) int {
	switch k {
	case KindMap:
		return 0
	case KindNode:
		return 1
	case KindEdge:
		return 2
	case KindList:
		return 3
	case KindPath:
		return 4
	case KindString:
		return 5
	case KindBool:
		return 6
	case KindInt, KindFloat:
		return 7
	case KindDateTime:
		return 8
	case KindBlob:
		return 9
	case KindNull:
		return 10
	default:
		return 11
	}
}

// Compare orders a and b for ORDER BY and range predicates.
// Null sorts after every other value; Compare has no three-valued null
// logic, so callers doing WHERE comparisons handle a Null side before
// relying on its sign (Equal treats two Nulls as equal). NaN sorts as the largest float,
// strictly less than Null, matching "null sorts as the largest element
// after Float-NaN".
func Compare(a, b Value) int {
	ta, tb := typeOrder(a.Kind), typeOrder(b.Kind)
	if ta != tb {
		if ta < tb {
			return -1
		}
		return 1
	}
	switch a.Kind {
	case KindNull:
		return 0
	case KindBool:
		if a.Bool == b.Bool {
			return 0
		}
		if !a.Bool {
			return -1
		}
		return 1
	case KindInt, KindFloat:
		return compareNumber(a, b)
	case KindDateTime:
		switch {
		case a.DateTime < b.DateTime:
			return -1
		case a.DateTime > b.DateTime:
			return 1
		default:
			return 0
		}
	case KindString:
		return bytes.Compare([]byte(a.Str), []byte(b.Str))
	case KindBlob:
		return bytes.Compare(a.Blob, b.Blob)
	case KindList, KindPath:
		return compareSequence(a, b)
	case KindMap:
		return compareMaps(a, b)
	case KindNode:
		return intCompare(int64(a.Node), int64(b.Node))
	case KindEdge:
		if c := intCompare(int64(a.Edge.Src), int64(b.Edge.Src)); c != 0 {
			return c
		}
		if c := intCompare(int64(a.Edge.Rel), int64(b.Edge.Rel)); c != 0 {
			return c
		}
		return intCompare(int64(a.Edge.Dst), int64(b.Edge.Dst))
	default:
		return 0
	}
}

func intCompare(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// compareNumber implements NaN-as-largest ordering; NaN != NaN is handled
// separately by Equal.
func compareNumber(a, b Value) int {
	fa, fb := a.AsFloat64(), b.AsFloat64()
	aNaN, bNaN := math.IsNaN(fa), math.IsNaN(fb)
	switch {
	case aNaN && bNaN:
		return 0
	case aNaN:
		return 1
	case bNaN:
		return -1
	case fa < fb:
		return -1
	case fa > fb:
		return 1
	default:
		return 0
	}
}

func compareSequence(a, b Value) int {
	var as, bs []Value
	if a.Kind == KindList {
		as, bs = a.List, b.List
	} else {
		as = nodesAndEdgesToValues(a.Path)
		bs = nodesAndEdgesToValues(b.Path)
	}
	n := len(as)
	if len(bs) < n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		if c := Compare(as[i], bs[i]); c != 0 {
			return c
		}
	}
	return intCompare(int64(len(as)), int64(len(bs)))
}

func nodesAndEdgesToValues(p PathRef) []Value {
	vs := make([]Value, 0, len(p.Nodes))
	for _, n := range p.Nodes {
		vs = append(vs, NodeVal(n))
	}
	return vs
}

func compareMaps(a, b Value) int {
	if c := intCompare(int64(len(a.Map)), int64(len(b.Map))); c != 0 {
		return c
	}
	return 0
}

// Equal implements Cypher's equality, which is the one operator in which
// Null participates: Null = Null is true, any other comparison involving
// Null is Null (callers handle the three-valued result before calling
// Equal; Equal itself is a plain boolean helper for index/dedup use where
// Null == Null is the desired identity semantics). NaN never equals NaN,
// even to itself.
func Equal(a, b Value) bool {
	if a.Kind == KindNull || b.Kind == KindNull {
		return a.Kind == KindNull && b.Kind == KindNull
	}
	if a.IsNumber() && b.IsNumber() {
		fa, fb := a.AsFloat64(), b.AsFloat64()
		if math.IsNaN(fa) || math.IsNaN(fb) {
			return false
		}
		return fa == fb
	}
	return Compare(a, b) == 0 && a.Kind == b.Kind
}

// OrderedKey encodes v into a byte string whose lexicographic order
// matches Compare's order for same-typed values, used for secondary index
// keys. A one-byte type-order prefix keeps
// differently typed values from colliding when an index mixes types.
func OrderedKey(v Value) []byte {
	prefix := byte(typeOrder(v.Kind))
	switch v.Kind {
	case KindNull:
		return []byte{prefix}
	case KindBool:
		b := byte(0)
		if v.Bool {
			b = 1
		}
		return []byte{prefix, b}
	case KindInt, KindFloat:
		return append([]byte{prefix}, encodeOrderedFloat(v.AsFloat64())...)
	case KindDateTime:
		buf := make([]byte, 9)
		buf[0] = prefix
		binary.BigEndian.PutUint64(buf[1:], uint64(v.DateTime)^(1<<63))
		return buf
	case KindString:
		return append([]byte{prefix}, []byte(v.Str)...)
	case KindBlob:
		return append([]byte{prefix}, v.Blob...)
	default:
		// Composite types are not index-eligible; fall back to a tag-only
		// key so lookups degrade to "no match" rather than panicking.
		return []byte{prefix}
	}
}

// encodeOrderedFloat produces a big-endian byte sequence whose unsigned
// lexicographic order matches IEEE-754 float order: flip the sign bit for
// positive numbers, invert all bits for negative numbers.
func encodeOrderedFloat(f float64) []byte {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, bits)
	return buf
}
