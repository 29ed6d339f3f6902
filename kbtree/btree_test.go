package kbtree

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/nervusdb/nervusdb/common/testutil"
	"github.com/nervusdb/nervusdb/pager"
)

func openTree(t *testing.T) (*Tree, *pager.Pager) {
	t.Helper()
	dir := testutil.TempDir(t)
	p, err := pager.Open(dir + "/tree.ndb")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { p.Close() })
	tr, err := Create(p)
	if err != nil {
		t.Fatal(err)
	}
	return tr, p
}

func key(i int) []byte {
	return []byte(fmt.Sprintf("key-%06d", i))
}

func TestInsertGet(t *testing.T) {
	tr, _ := openTree(t)
	for i := 0; i < 500; i++ {
		if err := tr.Insert(key(i), uint64(i)); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	for i := 0; i < 500; i++ {
		v, ok, err := tr.Get(key(i))
		if err != nil {
			t.Fatal(err)
		}
		if !ok || v != uint64(i) {
			t.Fatalf("Get(%d) = %d, %v", i, v, ok)
		}
	}
	if _, ok, _ := tr.Get([]byte("missing")); ok {
		t.Fatal("Get of missing key succeeded")
	}
}

func TestInsertOverwrites(t *testing.T) {
	tr, _ := openTree(t)
	if err := tr.Insert(key(1), 10); err != nil {
		t.Fatal(err)
	}
	if err := tr.Insert(key(1), 20); err != nil {
		t.Fatal(err)
	}
	v, ok, err := tr.Get(key(1))
	if err != nil || !ok {
		t.Fatalf("Get: %v %v", ok, err)
	}
	if v != 20 {
		t.Fatalf("expected overwrite to 20, got %d", v)
	}
}

func TestCursorScansInOrder(t *testing.T) {
	tr, _ := openTree(t)
	// Insert out of order; cursor must return lexicographic order.
	for _, i := range []int{42, 7, 199, 3, 88, 101} {
		if err := tr.Insert(key(i), uint64(i)); err != nil {
			t.Fatal(err)
		}
	}
	c, err := tr.CursorLowerBound(nil)
	if err != nil {
		t.Fatal(err)
	}
	var prev []byte
	n := 0
	for c.Advance() {
		if prev != nil && bytes.Compare(prev, c.Key()) >= 0 {
			t.Fatalf("cursor out of order: %q after %q", c.Key(), prev)
		}
		prev = append([]byte(nil), c.Key()...)
		n++
	}
	if err := c.Err(); err != nil {
		t.Fatal(err)
	}
	if n != 6 {
		t.Fatalf("expected 6 keys, scanned %d", n)
	}
}

func TestCursorLowerBoundPrefix(t *testing.T) {
	tr, _ := openTree(t)
	for i := 0; i < 50; i++ {
		if err := tr.Insert(key(i), uint64(i)); err != nil {
			t.Fatal(err)
		}
	}
	c, err := tr.CursorLowerBound([]byte("key-000025"))
	if err != nil {
		t.Fatal(err)
	}
	if !c.Advance() {
		t.Fatal("cursor empty at lower bound")
	}
	if string(c.Key()) != "key-000025" {
		t.Fatalf("lower bound landed on %q", c.Key())
	}
}

func TestScanPrefix(t *testing.T) {
	tr, _ := openTree(t)
	for i := 0; i < 30; i++ {
		if err := tr.Insert([]byte(fmt.Sprintf("a-%02d", i)), uint64(i)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tr.Insert([]byte("b-00"), 99); err != nil {
		t.Fatal(err)
	}
	var seen []uint64
	err := tr.ScanPrefix([]byte("a-1"), func(k []byte, payload uint64) bool {
		seen = append(seen, payload)
		return true
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(seen) != 10 {
		t.Fatalf("prefix a-1 matched %d keys, want 10", len(seen))
	}
}

func TestDeleteExactRebuild(t *testing.T) {
	tr, _ := openTree(t)
	for i := 0; i < 100; i++ {
		if err := tr.Insert(key(i), uint64(i)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tr.DeleteExactRebuild(key(50), 50); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := tr.Get(key(50)); ok {
		t.Fatal("deleted key still present")
	}
	for _, i := range []int{0, 49, 51, 99} {
		if _, ok, _ := tr.Get(key(i)); !ok {
			t.Fatalf("rebuild lost key %d", i)
		}
	}
}

func TestReopenByRoot(t *testing.T) {
	dir := testutil.TempDir(t)
	p, err := pager.Open(dir + "/tree.ndb")
	if err != nil {
		t.Fatal(err)
	}
	tr, err := Create(p)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 200; i++ {
		if err := tr.Insert(key(i), uint64(i)); err != nil {
			t.Fatal(err)
		}
	}
	root := tr.Root()
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}

	p2, err := pager.Open(dir + "/tree.ndb")
	if err != nil {
		t.Fatal(err)
	}
	defer p2.Close()
	tr2 := Open(p2, root)
	v, ok, err := tr2.Get(key(123))
	if err != nil || !ok || v != 123 {
		t.Fatalf("reopened tree Get = %d, %v, %v", v, ok, err)
	}
}

func TestMarkReachableCollectsPayloads(t *testing.T) {
	tr, _ := openTree(t)
	for i := 0; i < 20; i++ {
		if err := tr.Insert(key(i), uint64(1000+i)); err != nil {
			t.Fatal(err)
		}
	}
	marked := map[uint32]bool{}
	var payloads []uint64
	err := tr.MarkReachablePages(
		func(id uint32) { marked[id] = true },
		func(p uint64) { payloads = append(payloads, p) },
	)
	if err != nil {
		t.Fatal(err)
	}
	if !marked[tr.Root()] {
		t.Fatal("root page not marked")
	}
	if len(payloads) != 20 {
		t.Fatalf("expected 20 payloads, got %d", len(payloads))
	}
}

func TestBinaryKeysSortUnsigned(t *testing.T) {
	tr, _ := openTree(t)
	mk := func(n uint32) []byte {
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, n)
		return b
	}
	for _, n := range []uint32{0x80000000, 1, 0xffffffff, 0x7fffffff} {
		if err := tr.Insert(mk(n), uint64(n)); err != nil {
			t.Fatal(err)
		}
	}
	c, err := tr.CursorLowerBound(nil)
	if err != nil {
		t.Fatal(err)
	}
	var got []uint64
	for c.Advance() {
		got = append(got, c.Payload())
	}
	want := []uint64{1, 0x7fffffff, 0x80000000, 0xffffffff}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unsigned order broken: %v", got)
		}
	}
}
