package interner

import (
	"encoding/binary"

	"github.com/nervusdb/nervusdb/errkind"
	"github.com/nervusdb/nervusdb/pager"
)

const persistMagic = "NDBINTRN"

// LoadPersistent reconstructs an Interner from its catalog page (0 means no
// page has been allocated yet, i.e. a brand-new database). Engine calls
// this once per interner (labels, relationship types) at Open time so
// names assigned before a crash survive reopen, the same durability the
// index catalog gives named indexes.
func LoadPersistent(p *pager.Pager, pageID uint32) (*Interner, error) {
	in := New()
	if pageID == 0 {
		return in, nil
	}
	buf, err := p.ReadPage(pageID)
	if err != nil {
		return nil, err
	}
	if string(buf[:len(persistMagic)]) != persistMagic {
		return nil, errkind.New(errkind.KindInvalidMagic, "interner catalog magic mismatch")
	}
	off := len(persistMagic)
	count := binary.LittleEndian.Uint32(buf[off:])
	off += 4
	for i := uint32(0); i < count; i++ {
		nameLen := int(binary.LittleEndian.Uint16(buf[off:]))
		off += 2
		name := string(buf[off : off+nameLen])
		off += nameLen
		in.Intern(name)
	}
	return in, nil
}

// SavePersistent rewrites in's full name vector into a single page,
// allocating one on first use. It returns the page id so the caller can
// record it in the pager meta (LabelCatalogPage / RelCatalogPage).
func SavePersistent(p *pager.Pager, in *Interner, pageID uint32) (uint32, error) {
	in.mu.RLock()
	names := append([]string(nil), in.names...)
	in.mu.RUnlock()

	buf := make([]byte, pager.PageSize)
	copy(buf, persistMagic)
	off := len(persistMagic)
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(names)))
	off += 4
	for _, name := range names {
		nb := []byte(name)
		if off+2+len(nb) > pager.PageSize {
			return 0, errkind.New(errkind.KindStorageCorrupted, "interner catalog page overflow")
		}
		binary.LittleEndian.PutUint16(buf[off:], uint16(len(nb)))
		off += 2
		copy(buf[off:], nb)
		off += len(nb)
	}

	if pageID == 0 {
		id, err := p.AllocatePage()
		if err != nil {
			return 0, err
		}
		pageID = id
	}
	if err := p.WritePage(pageID, buf); err != nil {
		return 0, err
	}
	return pageID, nil
}
