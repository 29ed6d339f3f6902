package pager

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocateFreeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	p, err := Open(filepath.Join(dir, "t.ndb"))
	require.NoError(t, err)
	defer p.Close()

	id, err := p.AllocatePage()
	require.NoError(t, err)
	require.GreaterOrEqual(t, id, FirstDataPageID)
	require.True(t, p.IsAllocated(id))

	var page [PageSize]byte
	copy(page[:], "hello page")
	require.NoError(t, p.WritePage(id, page[:]))

	got, err := p.ReadPage(id)
	require.NoError(t, err)
	require.Equal(t, page[:], got)

	require.NoError(t, p.FreePage(id))
	require.False(t, p.IsAllocated(id))

	err = p.WritePage(id, page[:])
	require.Error(t, err)
}

func TestReopenPreservesMeta(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "t.ndb")
	p, err := Open(path)
	require.NoError(t, err)

	p.UpdateMeta(func(m *Meta) {
		m.NextInternalID = 42
		m.IndexCatalogRoot = 7
	})
	require.NoError(t, p.Sync())
	require.NoError(t, p.Close())

	p2, err := Open(path)
	require.NoError(t, err)
	defer p2.Close()

	meta := p2.Meta()
	require.Equal(t, uint32(42), meta.NextInternalID)
	require.Equal(t, uint64(7), meta.IndexCatalogRoot)
}

func TestInvalidMagicRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.ndb")
	p, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, p.Close())

	// Corrupt the magic bytes directly.
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte("XXXXXXXXXXXXXXXX"), 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = Open(path)
	require.Error(t, err)
}

func TestVacuumDropsUnreferencedPages(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "t.ndb")
	p, err := Open(path)
	require.NoError(t, err)
	defer p.Close()

	keepID, err := p.AllocatePage()
	require.NoError(t, err)
	dropID, err := p.AllocatePage()
	require.NoError(t, err)

	var keep [PageSize]byte
	copy(keep[:], "live data")
	require.NoError(t, p.WritePage(keepID, keep[:]))
	var drop [PageSize]byte
	copy(drop[:], "orphan data")
	require.NoError(t, p.WritePage(dropID, drop[:]))

	require.NoError(t, p.Vacuum(map[uint32]struct{}{keepID: {}}))

	got, err := p.ReadPage(keepID)
	require.NoError(t, err)
	require.Equal(t, keep[:], got)

	require.False(t, p.IsAllocated(dropID))
	_, err = p.ReadPage(dropID)
	require.Error(t, err)

	// The dropped page id is allocatable again.
	again, err := p.AllocatePage()
	require.NoError(t, err)
	require.Equal(t, dropID, again)
}
