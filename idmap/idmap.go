// Package idmap implements the external id <-> internal id mapping: a file-backed dense array of (external_id, label_id) records
// indexed by internal id, with an in-memory external->internal hash for
// O(1) lookups, an in-memory cache in front of file-backed pages.
package idmap

import (
	"encoding/binary"
	"sync"

	"github.com/nervusdb/nervusdb/errkind"
	"github.com/nervusdb/nervusdb/pager"
)

const recordSize = 8 + 4 // external_id u64 + label_id u32

// recordsPerPage is how many fixed-size records fit in one pager.PageSize page.
const recordsPerPage = pager.PageSize / recordSize

// IdMap maps external (caller-assigned) ids to dense internal ids.
type IdMap struct {
	mu        sync.RWMutex
	p         *pager.Pager
	startPage uint32  // 0 means "not yet allocated"
	pages     []uint32 // page ids, in order, one per recordsPerPage internal ids
	count     uint32   // next internal id to assign == number of records
	extToInt  map[uint64]uint32
}

// Open reconstructs the IdMap from the pager's meta fields and the backing
// pages, rebuilding the in-memory external->internal hash by scanning every
// record once.
func Open(p *pager.Pager) (*IdMap, error) {
	meta := p.Meta()
	m := &IdMap{
		p:         p,
		startPage: meta.IdMapStartPage,
		count:     meta.NextInternalID,
		extToInt:  make(map[uint64]uint32, meta.NextInternalID),
	}
	numPages := int(meta.IdMapLength)
	m.pages = make([]uint32, numPages)
	if numPages > 0 {
		// Pages are allocated in internal-id order but the pager does
		// not guarantee contiguous page ids, so the list of page ids is
		// recovered by walking a chain from IdMapStartPage: the final 4
		// bytes of every page except the last hold the next page's id
		// (records end at recordsPerPage*recordSize, before those bytes).
		id := meta.IdMapStartPage
		for i := 0; i < numPages; i++ {
			m.pages[i] = id
			if i == numPages-1 {
				break
			}
			buf, err := p.ReadPage(id)
			if err != nil {
				return nil, err
			}
			id = binary.LittleEndian.Uint32(buf[pager.PageSize-4:])
		}
	}
	for internalID := uint32(0); internalID < m.count; internalID++ {
		ext, _, err := m.readRecord(internalID)
		if err != nil {
			return nil, err
		}
		m.extToInt[ext] = internalID
	}
	return m, nil
}

func (m *IdMap) readRecord(internalID uint32) (externalID uint64, labelID uint32, err error) {
	pageIdx := int(internalID) / recordsPerPage
	if pageIdx >= len(m.pages) {
		return 0, 0, errkind.New(errkind.KindStorageCorrupted, "idmap record out of range")
	}
	buf, err := m.p.ReadPage(m.pages[pageIdx])
	if err != nil {
		return 0, 0, err
	}
	off := (int(internalID) % recordsPerPage) * recordSize
	return binary.LittleEndian.Uint64(buf[off:]), binary.LittleEndian.Uint32(buf[off+8:]), nil
}

// Lookup resolves externalID to its internal id, if it has been created.
func (m *IdMap) Lookup(externalID uint64) (uint32, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.extToInt[externalID]
	return id, ok
}

// External resolves an internal id back to its external id.
func (m *IdMap) External(internalID uint32) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ext, _, err := m.readRecord(internalID)
	return ext, err
}

// Label returns the creation-time label id recorded for internalID (the
// first label assigned at CREATE time; subsequent SET/REMOVE LABELS
// mutations are tracked as memtable overlays layered on top of this, per
// DESIGN.md).
func (m *IdMap) Label(internalID uint32) (uint32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, lbl, err := m.readRecord(internalID)
	return lbl, err
}

// MarkReachable marks every backing page live, for vacuum's mark phase.
func (m *IdMap) MarkReachable(mark func(pageID uint32)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.pages {
		mark(id)
	}
}

func (m *IdMap) Len() uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.count
}

// Reserve allocates n contiguous internal ids for a pending write
// transaction, without yet persisting their records (that happens at
// commit via ApplyCreate). Internal ids are monotonic and never reused
//, so a reservation is never rolled back even if the
// caller later aborts — it simply leaves a gap filled by ApplyCreate never
// being called for those ids. To keep the invariant "every record up to
// count exists", engines must call ApplyCreate for every reserved id
// before advancing past it; the graph engine enforces this by reserving
// and applying within the same commit step.
func (m *IdMap) Reserve(n int) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	start := m.count
	m.count += uint32(n)
	return start
}

// ApplyCreate persists the (externalID, labelID) record for internalID,
// growing the backing page chain if needed, and updates the in-memory
// hash. Called during commit, after the WAL record has been fsynced.
func (m *IdMap) ApplyCreate(externalID uint64, labelID uint32, internalID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pageIdx := int(internalID) / recordsPerPage
	for pageIdx >= len(m.pages) {
		id, err := m.p.AllocatePage()
		if err != nil {
			return err
		}
		blank := make([]byte, pager.PageSize)
		if err := m.p.WritePage(id, blank); err != nil {
			return err
		}
		if len(m.pages) > 0 {
			prev := m.pages[len(m.pages)-1]
			buf, err := m.p.ReadPage(prev)
			if err != nil {
				return err
			}
			binary.LittleEndian.PutUint32(buf[pager.PageSize-4:], id)
			if err := m.p.WritePage(prev, buf); err != nil {
				return err
			}
		} else {
			m.startPage = id
		}
		m.pages = append(m.pages, id)
	}

	buf, err := m.p.ReadPage(m.pages[pageIdx])
	if err != nil {
		return err
	}
	off := (int(internalID) % recordsPerPage) * recordSize
	binary.LittleEndian.PutUint64(buf[off:], externalID)
	binary.LittleEndian.PutUint32(buf[off+8:], labelID)
	if err := m.p.WritePage(m.pages[pageIdx], buf); err != nil {
		return err
	}

	m.extToInt[externalID] = internalID
	m.p.UpdateMeta(func(mm *pager.Meta) {
		mm.IdMapStartPage = m.startPage
		mm.IdMapLength = uint32(len(m.pages))
		if internalID+1 > mm.NextInternalID {
			mm.NextInternalID = internalID + 1
		}
	})
	return nil
}
