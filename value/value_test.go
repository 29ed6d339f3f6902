package value

import (
	"math"
	"testing"
)

func TestPropertyRoundtrip(t *testing.T) {
	cases := []Value{
		Null,
		Bool(true),
		Bool(false),
		Int(0),
		Int(-42),
		Int(math.MaxInt64),
		Float(3.25),
		Float(-0.5),
		String(""),
		String("hello, 世界"),
		DateTime(1_700_000_000_000_000_000),
		Blob([]byte{0x00, 0xff, 0x10}),
		List([]Value{Int(1), String("two"), List([]Value{Bool(true)})}),
		Map(map[string]Value{"a": Int(1), "nested": Map(map[string]Value{"b": Null})}),
	}
	for _, v := range cases {
		enc, err := EncodeProperty(v)
		if err != nil {
			t.Fatalf("encode %v: %v", v, err)
		}
		dec, err := DecodeProperty(enc)
		if err != nil {
			t.Fatalf("decode %v: %v", v, err)
		}
		if !Equal(v, dec) && !(v.IsNull() && dec.IsNull()) {
			t.Fatalf("roundtrip mismatch: %v != %v", v, dec)
		}
	}
}

func TestPropertyRoundtripNaN(t *testing.T) {
	enc, err := EncodeProperty(Float(math.NaN()))
	if err != nil {
		t.Fatal(err)
	}
	dec, err := DecodeProperty(enc)
	if err != nil {
		t.Fatal(err)
	}
	if dec.Kind != KindFloat || !math.IsNaN(dec.Float) {
		t.Fatalf("NaN did not roundtrip as NaN: %v", dec)
	}
}

func TestDecodeEmptyIsError(t *testing.T) {
	if _, err := DecodeProperty(nil); err == nil {
		t.Fatal("expected error decoding empty bytes")
	}
}

func TestCompareNumbers(t *testing.T) {
	if Compare(Int(1), Float(1.5)) >= 0 {
		t.Fatal("1 should sort before 1.5")
	}
	if Compare(Float(2.0), Int(2)) != 0 {
		t.Fatal("2.0 should equal 2")
	}
}

func TestNaNSortsGreaterThanFinite(t *testing.T) {
	if Compare(Float(math.NaN()), Float(math.MaxFloat64)) <= 0 {
		t.Fatal("NaN must sort after every finite float")
	}
	if Equal(Float(math.NaN()), Float(math.NaN())) {
		t.Fatal("NaN != NaN")
	}
}

func TestNullSortsLast(t *testing.T) {
	for _, v := range []Value{Int(1), String("z"), Float(math.NaN()), Bool(true)} {
		if Compare(v, Null) >= 0 {
			t.Fatalf("%v should sort before null", v)
		}
		if Compare(Null, v) <= 0 {
			t.Fatalf("null should sort after %v", v)
		}
	}
}

func TestInterTypeOrder(t *testing.T) {
	// Map < Node < Edge < List < Path < String < Bool < Number < DateTime < Blob < Null
	ordered := []Value{
		Map(map[string]Value{}),
		NodeVal(1),
		EdgeVal(EdgeRef{Src: 1, Rel: 0, Dst: 2}),
		List(nil),
		PathVal(PathRef{}),
		String("a"),
		Bool(false),
		Int(7),
		DateTime(0),
		Blob([]byte{1}),
		Null,
	}
	for i := 0; i < len(ordered)-1; i++ {
		if Compare(ordered[i], ordered[i+1]) >= 0 {
			t.Fatalf("expected %v < %v", ordered[i], ordered[i+1])
		}
	}
}

func TestOrderedKeyPreservesOrder(t *testing.T) {
	pairs := [][2]Value{
		{Int(-5), Int(3)},
		{Int(3), Int(100)},
		{Float(-1.5), Float(2.25)},
		{Int(2), Float(2.5)},
		{String("abc"), String("abd")},
		{String("ab"), String("abc")},
	}
	for _, pr := range pairs {
		a, b := OrderedKey(pr[0]), OrderedKey(pr[1])
		if string(a) >= string(b) {
			t.Fatalf("ordered key for %v should sort before %v", pr[0], pr[1])
		}
	}
}
