// Package index implements NervusDB's index catalog: a single
// page-resident table mapping an index name to {id, B-tree root}, read
// entirely into memory and rewritten atomically on every mutation, the way
// the pager flushes its meta page wholesale after a structural
// change rather than patching it in place.
package index

import (
	"encoding/binary"
	"sync"

	"github.com/nervusdb/nervusdb/errkind"
	"github.com/nervusdb/nervusdb/pager"
)

const catalogMagic = "NDBIDXCAT"

// Entry is one catalog row: a named secondary index's id and B-tree root.
type Entry struct {
	Name string
	ID   uint32
	Root uint64
}

// Catalog is the mutable, write-locked view of the index table.
type Catalog struct {
	mu      sync.RWMutex
	p       *pager.Pager
	pageID  uint32
	entries []Entry
	nextID  uint32
}

// Open loads the catalog page recorded in the pager's meta (allocating a
// fresh, empty one if this is a new database).
func Open(p *pager.Pager) (*Catalog, error) {
	meta := p.Meta()
	c := &Catalog{p: p, nextID: meta.NextIndexID}
	if c.nextID == 0 {
		c.nextID = 1
	}
	if meta.IndexCatalogRoot == 0 {
		id, err := p.AllocatePage()
		if err != nil {
			return nil, err
		}
		c.pageID = id
		if err := c.flush(); err != nil {
			return nil, err
		}
		p.UpdateMeta(func(m *pager.Meta) { m.IndexCatalogRoot = uint64(id) })
		return c, nil
	}
	c.pageID = uint32(meta.IndexCatalogRoot)
	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) load() error {
	buf, err := c.p.ReadPage(c.pageID)
	if err != nil {
		return err
	}
	if string(buf[:len(catalogMagic)]) != catalogMagic {
		return errkind.New(errkind.KindInvalidMagic, "index catalog magic mismatch")
	}
	off := len(catalogMagic)
	count := binary.LittleEndian.Uint32(buf[off:])
	off += 4
	entries := make([]Entry, 0, count)
	for i := uint32(0); i < count; i++ {
		nameLen := int(binary.LittleEndian.Uint16(buf[off:]))
		off += 2
		name := string(buf[off : off+nameLen])
		off += nameLen
		id := binary.LittleEndian.Uint32(buf[off:])
		off += 4
		root := binary.LittleEndian.Uint64(buf[off:])
		off += 8
		entries = append(entries, Entry{Name: name, ID: id, Root: root})
	}
	c.entries = entries
	return nil
}

func (c *Catalog) flush() error {
	buf := make([]byte, pager.PageSize)
	copy(buf, catalogMagic)
	off := len(catalogMagic)
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(c.entries)))
	off += 4
	for _, e := range c.entries {
		nb := []byte(e.Name)
		if off+2+len(nb)+4+8 > pager.PageSize {
			return errkind.New(errkind.KindStorageCorrupted, "index catalog page overflow")
		}
		binary.LittleEndian.PutUint16(buf[off:], uint16(len(nb)))
		off += 2
		copy(buf[off:], nb)
		off += len(nb)
		binary.LittleEndian.PutUint32(buf[off:], e.ID)
		off += 4
		binary.LittleEndian.PutUint64(buf[off:], e.Root)
		off += 8
	}
	if err := c.p.WritePage(c.pageID, buf); err != nil {
		return err
	}
	c.p.UpdateMeta(func(m *pager.Meta) { m.NextIndexID = c.nextID })
	return nil
}

// Lookup finds name's entry, if it has been created.
func (c *Catalog) Lookup(name string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// GetOrCreate returns name's entry, allocating a fresh index id and an
// empty B-tree root (via newTree, typically kbtree.Create) if name is new.
func (c *Catalog) GetOrCreate(name string, newTree func() (uint64, error)) (Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.Name == name {
			return e, nil
		}
	}
	root, err := newTree()
	if err != nil {
		return Entry{}, err
	}
	e := Entry{Name: name, ID: c.nextID, Root: root}
	c.nextID++
	c.entries = append(c.entries, e)
	if err := c.flush(); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// UpdateRoot rewrites name's B-tree root (called after an insert/delete on
// that index's tree changed its root) and persists the catalog page.
func (c *Catalog) UpdateRoot(name string, newRoot uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, e := range c.entries {
		if e.Name == name {
			c.entries[i].Root = newRoot
			return c.flush()
		}
	}
	return errkind.New(errkind.KindStorageCorrupted, "update_root: unknown index "+name)
}

// Snapshot is an immutable point-in-time copy of the catalog's entries,
// captured by MVCC snapshots via a plain slice clone.
type Snapshot struct {
	entries []Entry
}

// Snapshot captures the catalog's current entries.
func (c *Catalog) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entries := make([]Entry, len(c.entries))
	copy(entries, c.entries)
	return &Snapshot{entries: entries}
}

// Lookup finds name's entry within the snapshot.
func (s *Snapshot) Lookup(name string) (Entry, bool) {
	for _, e := range s.entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// All returns every entry in the snapshot.
func (s *Snapshot) All() []Entry { return s.entries }

// MarkReachable marks the catalog page itself plus, for each entry, every
// page in its B-tree (via markTree, typically kbtree.Tree.MarkReachablePages).
func (c *Catalog) MarkReachable(mark func(pageID uint32), markTree func(root uint64) error) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	mark(c.pageID)
	for _, e := range c.entries {
		if err := markTree(e.Root); err != nil {
			return err
		}
	}
	return nil
}
