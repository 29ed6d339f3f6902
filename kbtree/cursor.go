package kbtree

import (
	"bytes"
	"sort"
)

// Cursor streams (key, payload) pairs in ascending key order starting at a
// lower bound, following leaf next-pointers so a scan never has to
// re-descend from the root.
type Cursor struct {
	tree *Tree
	leaf *node
	idx  int
	cur  cell
	err  error
}

// CursorLowerBound positions a cursor at the first key >= prefix (nil
// prefix starts at the smallest key in the tree).
func (t *Tree) CursorLowerBound(prefix []byte) (*Cursor, error) {
	id := t.root
	for {
		n, err := loadNode(t.pager, id)
		if err != nil {
			return nil, err
		}
		if n.leaf {
			i := sort.Search(len(n.cells), func(j int) bool {
				return bytes.Compare(n.cells[j].Key, prefix) >= 0
			})
			return &Cursor{tree: t, leaf: n, idx: i - 1}, nil
		}
		id = childFor(n, prefix)
	}
}

// Advance moves the cursor to the next pair, returning false once
// exhausted (or on error; check Err()).
func (c *Cursor) Advance() bool {
	if c.leaf == nil {
		return false
	}
	c.idx++
	for c.idx >= len(c.leaf.cells) {
		if c.leaf.rightPtr == 0 {
			c.leaf = nil
			return false
		}
		n, err := loadNode(c.tree.pager, c.leaf.rightPtr)
		if err != nil {
			c.err = err
			c.leaf = nil
			return false
		}
		c.leaf = n
		c.idx = 0
		if len(c.leaf.cells) > 0 {
			break
		}
	}
	c.cur = c.leaf.cells[c.idx]
	return true
}

// Key returns the current pair's key. Valid only after Advance returns true.
func (c *Cursor) Key() []byte { return c.cur.Key }

// Payload returns the current pair's payload. Valid only after Advance
// returns true.
func (c *Cursor) Payload() uint64 { return c.cur.Payload }

// Err reports any I/O error encountered during iteration.
func (c *Cursor) Err() error { return c.err }

// ScanPrefix collects every (key, payload) pair whose key begins with
// prefix, stopping as soon as the prefix no longer matches. A thin
// convenience over CursorLowerBound/Advance for the many call sites
// (property store, index lookups) that just want a bounded prefix scan.
func (t *Tree) ScanPrefix(prefix []byte, fn func(key []byte, payload uint64) (keepGoing bool)) error {
	cur, err := t.CursorLowerBound(prefix)
	if err != nil {
		return err
	}
	for cur.Advance() {
		if !bytes.HasPrefix(cur.Key(), prefix) {
			break
		}
		if !fn(cur.Key(), cur.Payload()) {
			break
		}
	}
	return cur.Err()
}
