package engine

import (
	"os"
	"testing"

	"github.com/nervusdb/nervusdb/common/testutil"
	"github.com/nervusdb/nervusdb/value"
)

func openEngine(t *testing.T, dataDir string) *Engine {
	t.Helper()
	e, err := Open(DefaultConfig(dataDir))
	if err != nil {
		t.Fatalf("open engine: %v", err)
	}
	return e
}

func TestCommitVisibleAfterReopen(t *testing.T) {
	dir := testutil.TempDir(t)
	e := openEngine(t, dir+"/db")

	label, err := e.InternLabel("Person")
	if err != nil {
		t.Fatal(err)
	}
	rel, err := e.InternRelType("KNOWS")
	if err != nil {
		t.Fatal(err)
	}

	tx := e.Begin()
	a, err := tx.CreateNode(100, label)
	if err != nil {
		t.Fatal(err)
	}
	b, err := tx.CreateNode(101, label)
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.CreateEdge(a, rel, b); err != nil {
		t.Fatal(err)
	}
	if err := tx.SetNodeProperty(a, "name", value.String("Alice")); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}

	e2 := openEngine(t, dir+"/db")
	defer e2.Close()
	snap := e2.Snapshot()
	if got := snap.Neighbors(a, nil); len(got) != 1 || got[0].Other != b {
		t.Fatalf("neighbors after reopen = %+v", got)
	}
	v, ok, err := snap.NodeProperty(a, "name")
	if err != nil || !ok || v.Str != "Alice" {
		t.Fatalf("property after reopen = %v, %v, %v", v, ok, err)
	}
	if id, ok := e2.ids.Lookup(100); !ok || id != a {
		t.Fatalf("idmap after reopen = %d, %v", id, ok)
	}
}

func TestUncommittedLeavesNoTrace(t *testing.T) {
	dir := testutil.TempDir(t)
	e := openEngine(t, dir+"/db")

	tx := e.Begin()
	if _, err := tx.CreateNode(1, 0); err != nil {
		t.Fatal(err)
	}
	tx.Abort()
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}

	e2 := openEngine(t, dir+"/db")
	defer e2.Close()
	if n := len(e2.Snapshot().Nodes()); n != 0 {
		t.Fatalf("aborted create visible after reopen: %d nodes", n)
	}
}

func TestDuplicateExternalIDRejected(t *testing.T) {
	dir := testutil.TempDir(t)
	e := openEngine(t, dir+"/db")
	defer e.Close()

	tx := e.Begin()
	if _, err := tx.CreateNode(7, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := tx.CreateNode(7, 0); err == nil {
		t.Fatal("duplicate external id within tx accepted")
	}
	tx.Abort()

	tx2 := e.Begin()
	if _, err := tx2.CreateNode(8, 0); err != nil {
		t.Fatal(err)
	}
	if err := tx2.Commit(); err != nil {
		t.Fatal(err)
	}
	tx3 := e.Begin()
	defer tx3.Abort()
	if _, err := tx3.CreateNode(8, 0); err == nil {
		t.Fatal("reuse of committed external id accepted")
	}
}

func TestTombstoneHidesOlderData(t *testing.T) {
	dir := testutil.TempDir(t)
	e := openEngine(t, dir+"/db")
	defer e.Close()

	tx := e.Begin()
	a, _ := tx.CreateNode(1, 0)
	b, _ := tx.CreateNode(2, 0)
	if err := tx.CreateEdge(a, 0, b); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	tx2 := e.Begin()
	if err := tx2.TombstoneEdge(a, 0, b); err != nil {
		t.Fatal(err)
	}
	if err := tx2.Commit(); err != nil {
		t.Fatal(err)
	}

	snap := e.Snapshot()
	if got := snap.Neighbors(a, nil); len(got) != 0 {
		t.Fatalf("tombstoned edge still visible: %+v", got)
	}

	tx3 := e.Begin()
	if err := tx3.TombstoneNode(b); err != nil {
		t.Fatal(err)
	}
	if err := tx3.Commit(); err != nil {
		t.Fatal(err)
	}
	snap = e.Snapshot()
	if !snap.IsTombstonedNode(b) {
		t.Fatal("node tombstone not observed")
	}
	for _, id := range snap.Nodes() {
		if id == b {
			t.Fatal("tombstoned node still enumerated")
		}
	}
}

func TestSnapshotIsolationAcrossCommit(t *testing.T) {
	dir := testutil.TempDir(t)
	e := openEngine(t, dir+"/db")
	defer e.Close()

	tx := e.Begin()
	a, _ := tx.CreateNode(1, 0)
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	before := e.Snapshot()

	tx2 := e.Begin()
	b, _ := tx2.CreateNode(2, 0)
	if err := tx2.CreateEdge(a, 0, b); err != nil {
		t.Fatal(err)
	}
	if err := tx2.Commit(); err != nil {
		t.Fatal(err)
	}

	if got := before.Neighbors(a, nil); len(got) != 0 {
		t.Fatalf("pre-commit snapshot sees new edge: %+v", got)
	}
	if got := e.Snapshot().Neighbors(a, nil); len(got) != 1 {
		t.Fatalf("post-commit snapshot misses new edge: %+v", got)
	}
}

func TestCompactionInvisibleToExistingSnapshots(t *testing.T) {
	dir := testutil.TempDir(t)
	e := openEngine(t, dir+"/db")
	defer e.Close()

	tx := e.Begin()
	a, _ := tx.CreateNode(1, 0)
	b, _ := tx.CreateNode(2, 0)
	c, _ := tx.CreateNode(3, 0)
	tx.CreateEdge(a, 0, b)
	tx.CreateEdge(a, 0, c)
	tx.SetNodeProperty(a, "k", value.Int(5))
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	before := e.Snapshot()
	beforeEdges := before.Neighbors(a, nil)

	if err := e.Compact(); err != nil {
		t.Fatal(err)
	}

	// The old snapshot still reads from its captured runs.
	after := before.Neighbors(a, nil)
	if len(after) != len(beforeEdges) {
		t.Fatalf("snapshot changed under compaction: %d != %d", len(after), len(beforeEdges))
	}

	// A fresh snapshot reads the same logical state from the segment.
	fresh := e.Snapshot()
	if len(fresh.Runs) != 0 {
		t.Fatalf("runs not cleared after compaction: %d", len(fresh.Runs))
	}
	got := fresh.Neighbors(a, nil)
	if len(got) != 2 {
		t.Fatalf("compacted neighbors = %+v", got)
	}
	v, ok, err := fresh.NodeProperty(a, "k")
	if err != nil || !ok || v.Int != 5 {
		t.Fatalf("compacted property = %v, %v, %v", v, ok, err)
	}
}

func TestCompactionSurvivesReopen(t *testing.T) {
	dir := testutil.TempDir(t)
	e := openEngine(t, dir+"/db")

	tx := e.Begin()
	a, _ := tx.CreateNode(1, 0)
	b, _ := tx.CreateNode(2, 0)
	tx.CreateEdge(a, 0, b)
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	if err := e.Compact(); err != nil {
		t.Fatal(err)
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}

	e2 := openEngine(t, dir+"/db")
	defer e2.Close()
	snap := e2.Snapshot()
	if got := snap.Neighbors(a, nil); len(got) != 1 || got[0].Other != b {
		t.Fatalf("segment lost on reopen: %+v", got)
	}
}

// A trailing partial WAL record represents a crash between records and
// must be silently ignored on replay.
func TestReplayIgnoresTrailingPartialRecord(t *testing.T) {
	dir := testutil.TempDir(t)
	e := openEngine(t, dir+"/db")
	tx := e.Begin()
	a, _ := tx.CreateNode(1, 0)
	_ = a
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.OpenFile(dir+"/db.wal", os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	// Length header promising more bytes than exist.
	if _, err := f.Write([]byte{0xff, 0x00, 0x00, 0x00, 0x01, 0x02}); err != nil {
		t.Fatal(err)
	}
	f.Close()

	e2 := openEngine(t, dir+"/db")
	defer e2.Close()
	if n := len(e2.Snapshot().Nodes()); n != 1 {
		t.Fatalf("committed state lost under torn tail: %d nodes", n)
	}
}

func TestIndexFollowsPropertyUpdates(t *testing.T) {
	dir := testutil.TempDir(t)
	e := openEngine(t, dir+"/db")
	defer e.Close()

	label, _ := e.InternLabel("Person")
	if err := e.CreateIndex("Person", "name"); err != nil {
		t.Fatal(err)
	}

	tx := e.Begin()
	a, _ := tx.CreateNode(1, label)
	if err := tx.SetNodeProperty(a, "name", value.String("Alice")); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	snap := e.Snapshot()
	ids, err := snap.LookupIndex("Person.name", value.String("Alice"))
	if err != nil || len(ids) != 1 || ids[0] != a {
		t.Fatalf("lookup Alice = %v, %v", ids, err)
	}

	tx2 := e.Begin()
	if err := tx2.SetNodeProperty(a, "name", value.String("Bob")); err != nil {
		t.Fatal(err)
	}
	if err := tx2.Commit(); err != nil {
		t.Fatal(err)
	}

	snap = e.Snapshot()
	ids, err = snap.LookupIndex("Person.name", value.String("Alice"))
	if err != nil || len(ids) != 0 {
		t.Fatalf("stale index entry for Alice: %v, %v", ids, err)
	}
	ids, err = snap.LookupIndex("Person.name", value.String("Bob"))
	if err != nil || len(ids) != 1 || ids[0] != a {
		t.Fatalf("lookup Bob = %v, %v", ids, err)
	}
}

func TestVacuumPreservesState(t *testing.T) {
	dir := testutil.TempDir(t)
	e := openEngine(t, dir+"/db")

	label, _ := e.InternLabel("Person")
	tx := e.Begin()
	a, _ := tx.CreateNode(1, label)
	b, _ := tx.CreateNode(2, label)
	tx.CreateEdge(a, 0, b)
	tx.SetNodeProperty(a, "name", value.String("Alice"))
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	if err := e.Compact(); err != nil {
		t.Fatal(err)
	}
	if err := e.Vacuum(); err != nil {
		t.Fatal(err)
	}

	// Reads keep working in-process after the file swap.
	snap := e.Snapshot()
	v, ok, err := snap.NodeProperty(a, "name")
	if err != nil || !ok || v.Str != "Alice" {
		t.Fatalf("post-vacuum property = %v, %v, %v", v, ok, err)
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}

	e2 := openEngine(t, dir+"/db")
	defer e2.Close()
	snap = e2.Snapshot()
	if got := snap.Neighbors(a, nil); len(got) != 1 {
		t.Fatalf("post-vacuum reopen neighbors = %+v", got)
	}
	v, ok, err = snap.NodeProperty(a, "name")
	if err != nil || !ok || v.Str != "Alice" {
		t.Fatalf("post-vacuum reopen property = %v, %v, %v", v, ok, err)
	}
}

func TestLabelOverlayResolution(t *testing.T) {
	dir := testutil.TempDir(t)
	e := openEngine(t, dir+"/db")
	defer e.Close()

	person, _ := e.InternLabel("Person")
	admin, _ := e.InternLabel("Admin")

	tx := e.Begin()
	a, _ := tx.CreateNode(1, person)
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	snap := e.Snapshot()
	has, err := snap.HasLabel(a, person)
	if err != nil || !has {
		t.Fatalf("creation label missing: %v %v", has, err)
	}

	tx2 := e.Begin()
	if err := tx2.SetLabels(a, []uint32{person, admin}); err != nil {
		t.Fatal(err)
	}
	if err := tx2.Commit(); err != nil {
		t.Fatal(err)
	}

	snap = e.Snapshot()
	if has, _ := snap.HasLabel(a, admin); !has {
		t.Fatal("added label not visible")
	}

	tx3 := e.Begin()
	if err := tx3.SetLabels(a, []uint32{admin}); err != nil {
		t.Fatal(err)
	}
	if err := tx3.Commit(); err != nil {
		t.Fatal(err)
	}
	snap = e.Snapshot()
	if has, _ := snap.HasLabel(a, person); has {
		t.Fatal("removed label still visible")
	}
}
