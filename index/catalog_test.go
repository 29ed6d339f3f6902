package index

import (
	"bytes"
	"testing"

	"github.com/nervusdb/nervusdb/common/testutil"
	"github.com/nervusdb/nervusdb/kbtree"
	"github.com/nervusdb/nervusdb/pager"
	"github.com/nervusdb/nervusdb/value"
)

func openCatalog(t *testing.T) (*Catalog, *pager.Pager, string) {
	t.Helper()
	dir := testutil.TempDir(t)
	p, err := pager.Open(dir + "/catalog.ndb")
	if err != nil {
		t.Fatal(err)
	}
	c, err := Open(p)
	if err != nil {
		t.Fatal(err)
	}
	return c, p, dir
}

func newTreeRoot(p *pager.Pager) func() (uint64, error) {
	return func() (uint64, error) {
		tr, err := kbtree.Create(p)
		if err != nil {
			return 0, err
		}
		return uint64(tr.Root()), nil
	}
}

func TestGetOrCreateAssignsIDs(t *testing.T) {
	c, p, _ := openCatalog(t)
	defer p.Close()

	a, err := c.GetOrCreate("Person.name", newTreeRoot(p))
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.GetOrCreate("Person.age", newTreeRoot(p))
	if err != nil {
		t.Fatal(err)
	}
	if a.ID == b.ID {
		t.Fatal("distinct indexes share an id")
	}
	again, err := c.GetOrCreate("Person.name", newTreeRoot(p))
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != a.ID || again.Root != a.Root {
		t.Fatal("GetOrCreate of existing entry changed it")
	}
}

func TestCatalogSurvivesReopen(t *testing.T) {
	c, p, dir := openCatalog(t)
	entry, err := c.GetOrCreate("Person.name", newTreeRoot(p))
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Sync(); err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}

	p2, err := pager.Open(dir + "/catalog.ndb")
	if err != nil {
		t.Fatal(err)
	}
	defer p2.Close()
	c2, err := Open(p2)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := c2.Lookup("Person.name")
	if !ok || got.ID != entry.ID || got.Root != entry.Root {
		t.Fatalf("reopened lookup = %+v, %v (want %+v)", got, ok, entry)
	}
}

func TestUpdateRoot(t *testing.T) {
	c, p, _ := openCatalog(t)
	defer p.Close()
	if _, err := c.GetOrCreate("X.y", newTreeRoot(p)); err != nil {
		t.Fatal(err)
	}
	if err := c.UpdateRoot("X.y", 4242); err != nil {
		t.Fatal(err)
	}
	got, _ := c.Lookup("X.y")
	if got.Root != 4242 {
		t.Fatalf("root not updated: %d", got.Root)
	}
}

func TestSnapshotIsImmutable(t *testing.T) {
	c, p, _ := openCatalog(t)
	defer p.Close()
	if _, err := c.GetOrCreate("A.b", newTreeRoot(p)); err != nil {
		t.Fatal(err)
	}
	snap := c.Snapshot()
	if _, err := c.GetOrCreate("C.d", newTreeRoot(p)); err != nil {
		t.Fatal(err)
	}
	if _, ok := snap.Lookup("C.d"); ok {
		t.Fatal("snapshot sees entry created after capture")
	}
	if _, ok := snap.Lookup("A.b"); !ok {
		t.Fatal("snapshot lost existing entry")
	}
}

func TestEncodeKeyPrefixes(t *testing.T) {
	k1 := EncodeKey(3, value.String("Alice"), 10)
	p1 := EncodePrefix(3, value.String("Alice"))
	if !bytes.HasPrefix(k1, p1) {
		t.Fatal("key does not start with its prefix")
	}
	p2 := EncodePrefix(3, value.String("Bob"))
	if bytes.HasPrefix(k1, p2) {
		t.Fatal("key matches a different value's prefix")
	}
	p3 := EncodePrefix(4, value.String("Alice"))
	if bytes.HasPrefix(k1, p3) {
		t.Fatal("key matches a different index's prefix")
	}
}
