package idmap

import (
	"testing"

	"github.com/nervusdb/nervusdb/common/testutil"
	"github.com/nervusdb/nervusdb/pager"
)

func TestReserveAndApplyCreate(t *testing.T) {
	dir := testutil.TempDir(t)
	p, err := pager.Open(dir + "/ids.ndb")
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	m, err := Open(p)
	if err != nil {
		t.Fatal(err)
	}
	first := m.Reserve(3)
	if first != 0 {
		t.Fatalf("first reservation should start at 0, got %d", first)
	}
	for i := uint32(0); i < 3; i++ {
		if err := m.ApplyCreate(uint64(100+i), 7, i); err != nil {
			t.Fatalf("apply create %d: %v", i, err)
		}
	}
	if m.Len() != 3 {
		t.Fatalf("Len = %d, want 3", m.Len())
	}
	if internal, ok := m.Lookup(101); !ok || internal != 1 {
		t.Fatalf("Lookup(101) = %d, %v", internal, ok)
	}
	ext, err := m.External(2)
	if err != nil || ext != 102 {
		t.Fatalf("External(2) = %d, %v", ext, err)
	}
	lbl, err := m.Label(0)
	if err != nil || lbl != 7 {
		t.Fatalf("Label(0) = %d, %v", lbl, err)
	}
}

func TestReopenRebuildsHash(t *testing.T) {
	dir := testutil.TempDir(t)
	p, err := pager.Open(dir + "/ids.ndb")
	if err != nil {
		t.Fatal(err)
	}
	m, err := Open(p)
	if err != nil {
		t.Fatal(err)
	}
	const n = 1000 // spans several pages
	m.Reserve(n)
	for i := uint32(0); i < n; i++ {
		if err := m.ApplyCreate(uint64(i)*2+1, i%5, i); err != nil {
			t.Fatal(err)
		}
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}

	p2, err := pager.Open(dir + "/ids.ndb")
	if err != nil {
		t.Fatal(err)
	}
	defer p2.Close()
	m2, err := Open(p2)
	if err != nil {
		t.Fatal(err)
	}
	if m2.Len() != n {
		t.Fatalf("reopened Len = %d, want %d", m2.Len(), n)
	}
	if internal, ok := m2.Lookup(999*2 + 1); !ok || internal != 999 {
		t.Fatalf("reopened Lookup = %d, %v", internal, ok)
	}
}

func TestMarkReachable(t *testing.T) {
	dir := testutil.TempDir(t)
	p, err := pager.Open(dir + "/ids.ndb")
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()
	m, err := Open(p)
	if err != nil {
		t.Fatal(err)
	}
	m.Reserve(1000)
	for i := uint32(0); i < 1000; i++ {
		if err := m.ApplyCreate(uint64(i)+1, 0, i); err != nil {
			t.Fatal(err)
		}
	}
	marked := map[uint32]bool{}
	m.MarkReachable(func(id uint32) { marked[id] = true })
	if len(marked) == 0 {
		t.Fatal("no idmap pages marked")
	}
}
