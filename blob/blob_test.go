package blob

import (
	"bytes"
	"testing"

	"github.com/nervusdb/nervusdb/common/testutil"
	"github.com/nervusdb/nervusdb/pager"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	dir := testutil.TempDir(t)
	p, err := pager.Open(dir + "/blob.ndb")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { p.Close() })
	return Open(p)
}

func TestWriteReadSmall(t *testing.T) {
	s := openStore(t)
	data := []byte("hello blob")
	id, err := s.WriteDirect(data)
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.ReadDirect(id)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("roundtrip mismatch: %q != %q", got, data)
	}
}

func TestWriteReadMultiPage(t *testing.T) {
	s := openStore(t)
	data := make([]byte, pager.PageSize*3+123)
	for i := range data {
		data[i] = byte(i % 251)
	}
	id, err := s.WriteDirect(data)
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.ReadDirect(id)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("multi-page roundtrip mismatch")
	}
}

func TestMarkReachableCoversChain(t *testing.T) {
	s := openStore(t)
	data := make([]byte, pager.PageSize*2)
	id, err := s.WriteDirect(data)
	if err != nil {
		t.Fatal(err)
	}
	marked := map[uint32]bool{}
	if err := s.MarkReachable(id, func(pageID uint32) { marked[pageID] = true }); err != nil {
		t.Fatal(err)
	}
	if !marked[id] {
		t.Fatal("chain head not marked")
	}
	if len(marked) < 2 {
		t.Fatalf("expected at least 2 chain pages marked, got %d", len(marked))
	}
}

func TestFreeReleasesPages(t *testing.T) {
	s := openStore(t)
	id, err := s.WriteDirect(make([]byte, pager.PageSize*2))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Free(id); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ReadDirect(id); err == nil {
		t.Fatal("read of freed blob chain should fail")
	}
}
