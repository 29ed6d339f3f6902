// Package pager implements NervusDB's fixed-size page file: page 0 is a
// metadata page, page 1 is a single-page allocation bitmap, and pages at or
// above 2 hold caller data. It is the bottom-most storage primitive that every other on-disk structure (WAL replay targets, the B-tree,
// the blob store, the IdMap) is built from.
package pager

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/nervusdb/nervusdb/errkind"
)

const (
	// PageSize is the fixed page size in bytes.
	PageSize = 4096

	// MetaPageID is the reserved metadata page.
	MetaPageID uint32 = 0
	// BitmapPageID is the reserved allocation bitmap page.
	BitmapPageID uint32 = 1
	// FirstDataPageID is the first page id available for allocation.
	FirstDataPageID uint32 = 2

	// BitmapCapacityBits is how many pages a single 4KiB bitmap page can
	// track: 4096 bytes * 8 bits/byte = 32768 pages, about 128MiB of
	// addressable data at a 4KiB page size.
	BitmapCapacityBits = PageSize * 8

	metaMagic   = "NERVUSDB_META01!"
	metaVersion = 1
)

// meta page layout, all fields little-endian.
const (
	offMagic        = 0  // 16 bytes
	offVersion      = 16 // u32
	offPageSize     = 20 // u32
	offBitmapPageID = 24 // u32
	offNextFreeHint = 28 // u32
	offIdMapStart   = 32 // u32
	offIdMapLen     = 36 // u32
	offNextNodeID   = 40 // u32
	offIdxRoot      = 48 // u64
	offNextIdxID    = 56 // u32
	offStatsRoot    = 64 // u64
	offPropRoot     = 72 // u64
	offManifestEpoch = 80 // u64
	offLabelCatalog  = 88 // u32, page id of the label-name catalog page (0 = none)
	offRelCatalog    = 92 // u32, page id of the rel-type-name catalog page (0 = none)
)

// Meta mirrors the meta page (page 0) fields.
type Meta struct {
	Version        uint32
	PageSize       uint32
	BitmapPageID   uint32
	NextFreeHint   uint32
	IdMapStartPage uint32
	IdMapLength    uint32
	NextInternalID uint32
	IndexCatalogRoot uint64
	NextIndexID    uint32
	StatsRoot      uint64
	PropertiesRoot uint64
	ManifestEpoch  uint64
	LabelCatalogPage uint32
	RelCatalogPage   uint32
}

func (m *Meta) encode() [PageSize]byte {
	var buf [PageSize]byte
	copy(buf[offMagic:], metaMagic)
	binary.LittleEndian.PutUint32(buf[offVersion:], m.Version)
	binary.LittleEndian.PutUint32(buf[offPageSize:], m.PageSize)
	binary.LittleEndian.PutUint32(buf[offBitmapPageID:], m.BitmapPageID)
	binary.LittleEndian.PutUint32(buf[offNextFreeHint:], m.NextFreeHint)
	binary.LittleEndian.PutUint32(buf[offIdMapStart:], m.IdMapStartPage)
	binary.LittleEndian.PutUint32(buf[offIdMapLen:], m.IdMapLength)
	binary.LittleEndian.PutUint32(buf[offNextNodeID:], m.NextInternalID)
	binary.LittleEndian.PutUint64(buf[offIdxRoot:], m.IndexCatalogRoot)
	binary.LittleEndian.PutUint32(buf[offNextIdxID:], m.NextIndexID)
	binary.LittleEndian.PutUint64(buf[offStatsRoot:], m.StatsRoot)
	binary.LittleEndian.PutUint64(buf[offPropRoot:], m.PropertiesRoot)
	binary.LittleEndian.PutUint64(buf[offManifestEpoch:], m.ManifestEpoch)
	binary.LittleEndian.PutUint32(buf[offLabelCatalog:], m.LabelCatalogPage)
	binary.LittleEndian.PutUint32(buf[offRelCatalog:], m.RelCatalogPage)
	return buf
}

func decodeMeta(buf []byte) (*Meta, error) {
	if len(buf) != PageSize {
		return nil, errkind.New(errkind.KindStorageCorrupted, "meta page has wrong size")
	}
	if string(buf[offMagic:offMagic+16]) != metaMagic {
		return nil, errkind.New(errkind.KindInvalidMagic, "meta page magic mismatch")
	}
	m := &Meta{
		Version:          binary.LittleEndian.Uint32(buf[offVersion:]),
		PageSize:         binary.LittleEndian.Uint32(buf[offPageSize:]),
		BitmapPageID:     binary.LittleEndian.Uint32(buf[offBitmapPageID:]),
		NextFreeHint:     binary.LittleEndian.Uint32(buf[offNextFreeHint:]),
		IdMapStartPage:   binary.LittleEndian.Uint32(buf[offIdMapStart:]),
		IdMapLength:      binary.LittleEndian.Uint32(buf[offIdMapLen:]),
		NextInternalID:   binary.LittleEndian.Uint32(buf[offNextNodeID:]),
		IndexCatalogRoot: binary.LittleEndian.Uint64(buf[offIdxRoot:]),
		NextIndexID:      binary.LittleEndian.Uint32(buf[offNextIdxID:]),
		StatsRoot:        binary.LittleEndian.Uint64(buf[offStatsRoot:]),
		PropertiesRoot:   binary.LittleEndian.Uint64(buf[offPropRoot:]),
		ManifestEpoch:    binary.LittleEndian.Uint64(buf[offManifestEpoch:]),
		LabelCatalogPage: binary.LittleEndian.Uint32(buf[offLabelCatalog:]),
		RelCatalogPage:   binary.LittleEndian.Uint32(buf[offRelCatalog:]),
	}
	if m.PageSize != PageSize {
		return nil, errkind.New(errkind.KindUnsupportedPageSize, fmt.Sprintf("page size %d unsupported", m.PageSize))
	}
	return m, nil
}

// Pager manages the page file: bitmap-backed allocation, page reads/writes,
// and the meta page. It has no notion of B-trees or graphs; those are built
// on top of AllocatePage/ReadPage/WritePage.
type Pager struct {
	mu       sync.RWMutex
	file     *os.File
	meta     Meta
	bitmap   [PageSize]byte
	dirtyMeta   bool
	dirtyBitmap bool

	stats Stats
}

// Stats exposes pager-level I/O counters.
type Stats struct {
	PageReads  int64
	PageWrites int64
	BytesWritten int64
}

// Open creates a new page file at path, or opens an existing one.
func Open(path string) (*Pager, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, errkind.Wrap(errkind.KindIoError, "open page file", err)
		}
		return create(path)
	}
	return load(file)
}

func create(path string) (*Pager, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindIoError, "create page file", err)
	}
	p := &Pager{
		file: file,
		meta: Meta{
			Version:        metaVersion,
			PageSize:       PageSize,
			BitmapPageID:   BitmapPageID,
			IdMapStartPage: 0,
			NextInternalID: 0,
			NextIndexID:    1,
		},
	}
	// Reserve pages 0 (meta) and 1 (bitmap) in the bitmap itself.
	p.setBit(0, true)
	p.setBit(1, true)
	p.dirtyMeta = true
	p.dirtyBitmap = true
	if err := p.Sync(); err != nil {
		file.Close()
		os.Remove(path)
		return nil, err
	}
	return p, nil
}

func load(file *os.File) (*Pager, error) {
	p := &Pager{file: file}
	buf := make([]byte, PageSize)
	if _, err := file.ReadAt(buf, int64(MetaPageID)*PageSize); err != nil {
		file.Close()
		return nil, errkind.Wrap(errkind.KindIoError, "read meta page", err)
	}
	meta, err := decodeMeta(buf)
	if err != nil {
		file.Close()
		return nil, err
	}
	p.meta = *meta

	bbuf := make([]byte, PageSize)
	if _, err := file.ReadAt(bbuf, int64(BitmapPageID)*PageSize); err != nil {
		file.Close()
		return nil, errkind.Wrap(errkind.KindIoError, "read bitmap page", err)
	}
	copy(p.bitmap[:], bbuf)
	return p, nil
}

// Meta returns a copy of the current meta page contents.
func (p *Pager) Meta() Meta {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.meta
}

// UpdateMeta mutates the meta page under lock and marks it dirty; callers
// should follow with Sync to make the change durable.
func (p *Pager) UpdateMeta(fn func(*Meta)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.meta)
	p.dirtyMeta = true
}

func (p *Pager) bitIndex(pageID uint32) (byteIdx, bitIdx int) {
	return int(pageID / 8), int(pageID % 8)
}

func (p *Pager) testBit(pageID uint32) bool {
	b, i := p.bitIndex(pageID)
	return p.bitmap[b]&(1<<uint(i)) != 0
}

func (p *Pager) setBit(pageID uint32, v bool) {
	b, i := p.bitIndex(pageID)
	if v {
		p.bitmap[b] |= 1 << uint(i)
	} else {
		p.bitmap[b] &^= 1 << uint(i)
	}
}

// AllocatePage scans the bitmap for the first free page id at or above
// FirstDataPageID, marks it allocated, and returns it. Exhausting the
// bitmap's addressable range fails the allocation.
func (p *Pager) AllocatePage() (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id := FirstDataPageID; id < BitmapCapacityBits; id++ {
		if !p.testBit(id) {
			p.setBit(id, true)
			p.dirtyBitmap = true
			if id >= p.meta.NextFreeHint {
				p.meta.NextFreeHint = id + 1
				p.dirtyMeta = true
			}
			return id, nil
		}
	}
	return 0, errkind.New(errkind.KindIoError, "page allocator exhausted: bitmap capacity reached")
}

// FreePage clears the allocation bit for pageID.
func (p *Pager) FreePage(pageID uint32) error {
	if pageID < FirstDataPageID || pageID >= BitmapCapacityBits {
		return errkind.New(errkind.KindPageIDOutOfRange, fmt.Sprintf("page %d out of range", pageID))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.testBit(pageID) {
		return errkind.New(errkind.KindPageNotAllocated, fmt.Sprintf("page %d not allocated", pageID))
	}
	p.setBit(pageID, false)
	p.dirtyBitmap = true
	return nil
}

// IsAllocated reports whether pageID is currently marked allocated.
func (p *Pager) IsAllocated(pageID uint32) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.testBit(pageID)
}

// ReadPage reads the raw bytes of pageID.
func (p *Pager) ReadPage(pageID uint32) ([]byte, error) {
	if pageID >= BitmapCapacityBits {
		return nil, errkind.New(errkind.KindPageIDOutOfRange, fmt.Sprintf("page %d out of range", pageID))
	}
	p.mu.Lock()
	if pageID >= FirstDataPageID && !p.testBit(pageID) {
		p.mu.Unlock()
		return nil, errkind.New(errkind.KindPageNotAllocated, fmt.Sprintf("page %d not allocated", pageID))
	}
	p.mu.Unlock()

	buf := make([]byte, PageSize)
	n, err := p.file.ReadAt(buf, int64(pageID)*PageSize)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindIoError, "read page", err)
	}
	if n != PageSize {
		return nil, errkind.New(errkind.KindStorageCorrupted, "short page read")
	}
	p.mu.Lock()
	p.stats.PageReads++
	p.mu.Unlock()
	return buf, nil
}

// WritePage writes data (must be exactly PageSize bytes) to pageID. The
// target page must already be allocated (or be the meta/bitmap page).
func (p *Pager) WritePage(pageID uint32, data []byte) error {
	if len(data) != PageSize {
		return errkind.New(errkind.KindStorageCorrupted, "page write size mismatch")
	}
	if pageID >= FirstDataPageID {
		p.mu.RLock()
		allocated := p.testBit(pageID)
		p.mu.RUnlock()
		if !allocated {
			return errkind.New(errkind.KindPageNotAllocated, fmt.Sprintf("page %d not allocated", pageID))
		}
	}
	if _, err := p.file.WriteAt(data, int64(pageID)*PageSize); err != nil {
		return errkind.Wrap(errkind.KindIoError, "write page", err)
	}
	p.mu.Lock()
	p.stats.PageWrites++
	p.stats.BytesWritten += PageSize
	p.mu.Unlock()
	return nil
}

// Sync flushes the meta and bitmap pages (if dirty) and fsyncs the file.
// Structural changes (allocate/free, meta mutation) must be followed by
// Sync before being considered durable.
func (p *Pager) Sync() error {
	p.mu.Lock()
	if p.dirtyMeta {
		buf := p.meta.encode()
		if _, err := p.file.WriteAt(buf[:], int64(MetaPageID)*PageSize); err != nil {
			p.mu.Unlock()
			return errkind.Wrap(errkind.KindIoError, "write meta page", err)
		}
		p.dirtyMeta = false
		p.stats.PageWrites++
		p.stats.BytesWritten += PageSize
	}
	if p.dirtyBitmap {
		if _, err := p.file.WriteAt(p.bitmap[:], int64(BitmapPageID)*PageSize); err != nil {
			p.mu.Unlock()
			return errkind.Wrap(errkind.KindIoError, "write bitmap page", err)
		}
		p.dirtyBitmap = false
		p.stats.PageWrites++
		p.stats.BytesWritten += PageSize
	}
	p.mu.Unlock()
	return p.file.Sync()
}

// Vacuum rewrites the page file into a temp sibling carrying only the
// pages in keep (meta and bitmap are always carried), then swaps the temp
// into place: original → .bak, temp → original, with the backup restored
// if a rename fails. Page ids are preserved, so every
// root recorded in meta stays valid, and the receiver keeps serving reads
// and writes from the rewritten file afterwards.
func (p *Pager) Vacuum(keep map[uint32]struct{}) error {
	if err := p.Sync(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	path := p.file.Name()
	tmpPath := path + ".vacuum"
	backupPath := path + ".bak"

	tmp, err := os.Create(tmpPath)
	if err != nil {
		return errkind.Wrap(errkind.KindIoError, "create vacuum temp file", err)
	}
	fail := func(cause error, msg string) error {
		tmp.Close()
		os.Remove(tmpPath)
		return errkind.Wrap(errkind.KindIoError, msg, cause)
	}

	var newBitmap [PageSize]byte
	setKeep := func(id uint32) { newBitmap[id/8] |= 1 << (id % 8) }
	setKeep(MetaPageID)
	setKeep(BitmapPageID)

	metaBuf := p.meta.encode()
	if _, err := tmp.WriteAt(metaBuf[:], int64(MetaPageID)*PageSize); err != nil {
		return fail(err, "write vacuum meta page")
	}
	buf := make([]byte, PageSize)
	for id := range keep {
		if id < FirstDataPageID || id >= BitmapCapacityBits || !p.testBit(id) {
			continue
		}
		if _, err := p.file.ReadAt(buf, int64(id)*PageSize); err != nil {
			return fail(err, "read live page")
		}
		if _, err := tmp.WriteAt(buf, int64(id)*PageSize); err != nil {
			return fail(err, "write live page")
		}
		setKeep(id)
	}
	if _, err := tmp.WriteAt(newBitmap[:], int64(BitmapPageID)*PageSize); err != nil {
		return fail(err, "write vacuum bitmap page")
	}
	if err := tmp.Sync(); err != nil {
		return fail(err, "sync vacuum temp file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errkind.Wrap(errkind.KindIoError, "close vacuum temp file", err)
	}

	if err := p.file.Close(); err != nil {
		os.Remove(tmpPath)
		return errkind.Wrap(errkind.KindIoError, "close page file", err)
	}
	reopen := func() error {
		f, err := os.OpenFile(path, os.O_RDWR, 0644)
		if err != nil {
			return errkind.Wrap(errkind.KindIoError, "reopen page file", err)
		}
		p.file = f
		return nil
	}
	if err := os.Rename(path, backupPath); err != nil {
		os.Remove(tmpPath)
		if rerr := reopen(); rerr != nil {
			return rerr
		}
		return errkind.Wrap(errkind.KindIoError, "rename to backup", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Rename(backupPath, path)
		os.Remove(tmpPath)
		if rerr := reopen(); rerr != nil {
			return rerr
		}
		return errkind.Wrap(errkind.KindIoError, "rename vacuum file into place", err)
	}
	if err := reopen(); err != nil {
		os.Rename(backupPath, path)
		if rerr := reopen(); rerr != nil {
			return rerr
		}
		return err
	}
	os.Remove(backupPath)

	p.bitmap = newBitmap
	p.dirtyBitmap = false
	p.dirtyMeta = false
	// The hint may point into a freed hole; the allocator rescans anyway.
	p.meta.NextFreeHint = FirstDataPageID
	p.dirtyMeta = true
	return nil
}

// Stats returns a copy of the pager's I/O counters.
func (p *Pager) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stats
}

// Close flushes and closes the underlying file.
func (p *Pager) Close() error {
	if err := p.Sync(); err != nil {
		return err
	}
	return p.file.Close()
}
