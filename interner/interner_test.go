package interner

import (
	"testing"

	"github.com/nervusdb/nervusdb/common/testutil"
	"github.com/nervusdb/nervusdb/pager"
)

func TestInternAssignsMonotonicIDs(t *testing.T) {
	in := New()
	a := in.Intern("Person")
	b := in.Intern("Company")
	if a != 0 || b != 1 {
		t.Fatalf("expected ids 0,1 got %d,%d", a, b)
	}
	if got := in.Intern("Person"); got != a {
		t.Fatalf("re-intern changed id: %d != %d", got, a)
	}
	if name, ok := in.Name(b); !ok || name != "Company" {
		t.Fatalf("Name(1) = %q, %v", name, ok)
	}
	if _, ok := in.Lookup("Nope"); ok {
		t.Fatal("Lookup of unknown name succeeded")
	}
}

func TestSnapshotIsolation(t *testing.T) {
	in := New()
	in.Intern("A")
	snap := in.Snapshot()
	in.Intern("B")

	if snap.Len() != 1 {
		t.Fatalf("snapshot grew after later intern: len=%d", snap.Len())
	}
	if _, ok := snap.ID("B"); ok {
		t.Fatal("snapshot sees name interned after capture")
	}
	if id, ok := snap.ID("A"); !ok || id != 0 {
		t.Fatalf("snapshot lost existing name: %d, %v", id, ok)
	}
}

func TestPersistRoundtrip(t *testing.T) {
	dir := testutil.TempDir(t)
	p, err := pager.Open(dir + "/interner.ndb")
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	in := New()
	in.Intern("Person")
	in.Intern("KNOWS")
	pageID, err := SavePersistent(p, in, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Sync(); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadPersistent(p, pageID)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Len() != 2 {
		t.Fatalf("expected 2 names, got %d", loaded.Len())
	}
	if id, ok := loaded.Lookup("KNOWS"); !ok || id != 1 {
		t.Fatalf("Lookup(KNOWS) = %d, %v", id, ok)
	}
}
