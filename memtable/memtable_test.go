package memtable

import (
	"testing"

	"github.com/nervusdb/nervusdb/value"
)

func TestFreezeOrdersEdges(t *testing.T) {
	m := New(1)
	m.AddEdge(5, 1, 9)
	m.AddEdge(5, 0, 3)
	m.AddEdge(5, 1, 2)
	m.AddEdge(2, 0, 5)

	run := m.FreezeIntoRun()
	if run.TxID != 1 {
		t.Fatalf("txid = %d", run.TxID)
	}
	bySrc := run.EdgesBySrc[5]
	if len(bySrc) != 3 {
		t.Fatalf("src 5 has %d edges", len(bySrc))
	}
	for i := 1; i < len(bySrc); i++ {
		prev, cur := bySrc[i-1], bySrc[i]
		if prev.Rel > cur.Rel || (prev.Rel == cur.Rel && prev.Dst >= cur.Dst) {
			t.Fatalf("edges-by-src unordered: %+v", bySrc)
		}
	}
	// By-dst index carries the source in the Dst field.
	byDst := run.EdgesByDst[5]
	if len(byDst) != 1 || byDst[0].Dst != 2 {
		t.Fatalf("edges-by-dst for 5 = %+v", byDst)
	}
}

func TestTombstones(t *testing.T) {
	m := New(2)
	m.TombstoneNode(4)
	m.TombstoneEdge(1, 0, 2)
	run := m.FreezeIntoRun()
	if _, ok := run.TombstonedNodes[4]; !ok {
		t.Fatal("node tombstone lost")
	}
	if _, ok := run.TombstonedEdges[EdgeKey{Src: 1, Rel: 0, Dst: 2}]; !ok {
		t.Fatal("edge tombstone lost")
	}
}

func TestPropertyOverlayAndTombstone(t *testing.T) {
	m := New(3)
	m.SetNodeProperty(1, "name", value.String("Alice"))
	m.RemoveNodeProperty(1, "age")
	m.SetEdgeProperty(1, 0, 2, "w", value.Float(0.5))
	m.RemoveEdgeProperty(1, 0, 2, "old")

	run := m.FreezeIntoRun()
	if run.NodePropertyOverlay[1]["name"].Str != "Alice" {
		t.Fatal("node overlay lost")
	}
	if _, ok := run.NodePropertyTombstones[1]["age"]; !ok {
		t.Fatal("node property tombstone lost")
	}
	ek := EdgeKey{Src: 1, Rel: 0, Dst: 2}
	if run.EdgePropertyOverlay[ek]["w"].Float != 0.5 {
		t.Fatal("edge overlay lost")
	}
	if _, ok := run.EdgePropertyTombstones[ek]["old"]; !ok {
		t.Fatal("edge property tombstone lost")
	}
}

func TestSetPropertyClearsTombstone(t *testing.T) {
	m := New(4)
	m.RemoveNodeProperty(1, "k")
	m.SetNodeProperty(1, "k", value.Int(9))
	run := m.FreezeIntoRun()
	if _, ok := run.NodePropertyTombstones[1]["k"]; ok {
		t.Fatal("set after remove left the tombstone in place")
	}
	if run.NodePropertyOverlay[1]["k"].Int != 9 {
		t.Fatal("overlay value missing")
	}
}

func TestLabelOverlay(t *testing.T) {
	m := New(5)
	m.SetLabels(7, []uint32{1, 3})
	run := m.FreezeIntoRun()
	got := run.LabelOverlay[7]
	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Fatalf("label overlay = %v", got)
	}
}
