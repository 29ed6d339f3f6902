// Package blob implements NervusDB's linked-page blob store:
// variable-length byte payloads (property values larger than a key, HNSW
// vectors, EXPLAIN text) chained across pages, each page carrying a
// next-page pointer and a length, the leaf-chaining idea applied to raw
// byte runs instead of cells.
package blob

import (
	"encoding/binary"

	"github.com/nervusdb/nervusdb/errkind"
	"github.com/nervusdb/nervusdb/pager"
)

// header: next_page_id u64 ‖ data_len u16
const headerSize = 8 + 2

// payloadSize is how many content bytes a single blob page holds.
const payloadSize = pager.PageSize - headerSize

// Store writes and reads blob chains against a shared Pager.
type Store struct {
	p *pager.Pager
}

// Open wraps p as a blob store.
func Open(p *pager.Pager) *Store { return &Store{p: p} }

// WriteDirect writes data into a freshly allocated page chain and returns
// the id of its first page (the blob id).
func (s *Store) WriteDirect(data []byte) (uint32, error) {
	var firstID uint32
	var prevID uint32
	offset := 0
	for {
		id, err := s.p.AllocatePage()
		if err != nil {
			return 0, err
		}
		if firstID == 0 {
			firstID = id
		}
		if prevID != 0 {
			if err := s.linkNext(prevID, id); err != nil {
				return 0, err
			}
		}

		n := len(data) - offset
		if n > payloadSize {
			n = payloadSize
		}
		buf := make([]byte, pager.PageSize)
		binary.LittleEndian.PutUint16(buf[8:], uint16(n))
		copy(buf[headerSize:], data[offset:offset+n])
		if err := s.p.WritePage(id, buf); err != nil {
			return 0, err
		}
		offset += n
		prevID = id
		if offset >= len(data) {
			break
		}
	}
	if firstID == 0 {
		// Zero-length blob still needs a page so ReadDirect has something
		// to follow.
		id, err := s.p.AllocatePage()
		if err != nil {
			return 0, err
		}
		buf := make([]byte, pager.PageSize)
		if err := s.p.WritePage(id, buf); err != nil {
			return 0, err
		}
		firstID = id
	}
	return firstID, nil
}

func (s *Store) linkNext(pageID, nextID uint32) error {
	buf, err := s.p.ReadPage(pageID)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(buf[0:8], uint64(nextID))
	return s.p.WritePage(pageID, buf)
}

// nextOf reads the u64-width next-page-id header field back
// down to the uint32 page id space the pager actually addresses.
func nextOf(buf []byte) uint32 {
	return uint32(binary.LittleEndian.Uint64(buf[0:8]))
}

// ReadDirect follows the chain starting at blobID and reassembles the
// original bytes.
func (s *Store) ReadDirect(blobID uint32) ([]byte, error) {
	var out []byte
	id := blobID
	seen := map[uint32]bool{}
	for id != 0 {
		if seen[id] {
			return nil, errkind.New(errkind.KindStorageCorrupted, "blob chain cycle detected")
		}
		seen[id] = true
		buf, err := s.p.ReadPage(id)
		if err != nil {
			return nil, err
		}
		next := nextOf(buf)
		n := binary.LittleEndian.Uint16(buf[8:])
		out = append(out, buf[headerSize:headerSize+int(n)]...)
		if next == 0 {
			break
		}
		id = next
	}
	return out, nil
}

// Free walks blobID's chain and frees every page, with the same cycle
// detection ReadDirect uses.
func (s *Store) Free(blobID uint32) error {
	id := blobID
	seen := map[uint32]bool{}
	for id != 0 {
		if seen[id] {
			return errkind.New(errkind.KindStorageCorrupted, "blob chain cycle detected")
		}
		seen[id] = true
		buf, err := s.p.ReadPage(id)
		if err != nil {
			return err
		}
		next := nextOf(buf)
		if err := s.p.FreePage(id); err != nil {
			return err
		}
		id = next
	}
	return nil
}

// MarkReachable walks blobID's chain invoking mark for every page,
// detecting cycles the same way Free/ReadDirect do. Used by vacuum to
// union blob-chain pages into the live set.
func (s *Store) MarkReachable(blobID uint32, mark func(pageID uint32)) error {
	id := blobID
	seen := map[uint32]bool{}
	for id != 0 {
		if seen[id] {
			return errkind.New(errkind.KindStorageCorrupted, "blob chain cycle detected")
		}
		seen[id] = true
		mark(id)
		buf, err := s.p.ReadPage(id)
		if err != nil {
			return err
		}
		id = nextOf(buf)
	}
	return nil
}
