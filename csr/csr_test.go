package csr

import (
	"testing"
)

func sampleTriples() []Triple {
	// Already sorted by (Src, Rel, Dst), as compaction emits them.
	return []Triple{
		{Src: 1, Rel: 0, Dst: 2},
		{Src: 1, Rel: 0, Dst: 3},
		{Src: 1, Rel: 1, Dst: 2},
		{Src: 3, Rel: 0, Dst: 1},
		{Src: 5, Rel: 2, Dst: 1},
	}
}

func TestNeighbors(t *testing.T) {
	seg := Build(1, sampleTriples())
	got := seg.Neighbors(1)
	if len(got) != 3 {
		t.Fatalf("node 1 has %d out-edges, want 3", len(got))
	}
	if got[0].Rel != 0 || got[0].Dst != 2 {
		t.Fatalf("first edge = %+v", got[0])
	}
	if len(seg.Neighbors(2)) != 0 {
		t.Fatal("node 2 should have no out-edges")
	}
	// Outside [min_src, max_src].
	if len(seg.Neighbors(100)) != 0 {
		t.Fatal("out-of-range src should yield nothing")
	}
	if len(seg.Neighbors(0)) != 0 {
		t.Fatal("below-range src should yield nothing")
	}
}

func TestIncomingNeighbors(t *testing.T) {
	seg := Build(1, sampleTriples())
	in := seg.IncomingNeighbors(1)
	if len(in) != 2 {
		t.Fatalf("node 1 has %d in-edges, want 2", len(in))
	}
	for _, tr := range in {
		if tr.Dst != 1 {
			t.Fatalf("incoming triple not targeting 1: %+v", tr)
		}
	}
	if len(seg.IncomingNeighbors(9)) != 0 {
		t.Fatal("node 9 should have no in-edges")
	}
}

func TestEncodeDecodeRoundtrip(t *testing.T) {
	seg := Build(42, sampleTriples())
	dec, err := Decode(seg.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if dec.ID != seg.ID {
		t.Fatalf("segment id %d != %d", dec.ID, seg.ID)
	}
	for _, src := range []uint32{1, 2, 3, 5} {
		a, b := seg.Neighbors(src), dec.Neighbors(src)
		if len(a) != len(b) {
			t.Fatalf("src %d: %d != %d edges after decode", src, len(a), len(b))
		}
		for i := range a {
			if a[i] != b[i] {
				t.Fatalf("src %d edge %d mismatch: %+v != %+v", src, i, a[i], b[i])
			}
		}
	}
}

func TestEmptySegment(t *testing.T) {
	seg := Build(1, nil)
	if len(seg.Neighbors(0)) != 0 {
		t.Fatal("empty segment yielded edges")
	}
	dec, err := Decode(seg.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if len(dec.Neighbors(1)) != 0 {
		t.Fatal("decoded empty segment yielded edges")
	}
}

func TestDecodeGarbageFails(t *testing.T) {
	if _, err := Decode([]byte{1, 2, 3}); err == nil {
		t.Fatal("decoding garbage should fail")
	}
}
