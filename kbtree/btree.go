package kbtree

import (
	"bytes"
	"sort"

	"github.com/nervusdb/nervusdb/errkind"
	"github.com/nervusdb/nervusdb/pager"
)

// Tree is a persistent ordered map {byte-key -> u64 payload} backed by a
// shared Pager. Many trees (index catalog entries, the property store, each
// HNSW graph/vector store) live in the same page file, distinguished only
// by their root page id; the owner of a Tree value is responsible for
// persisting Root() wherever it keeps that root (a meta field, a catalog
// row, ...) after any mutating call that may have split or rebuilt the
// tree.
type Tree struct {
	pager *pager.Pager
	root  uint32
}

// Create allocates a fresh, empty tree (a single empty leaf page) and
// returns a Tree positioned at it.
func Create(p *pager.Pager) (*Tree, error) {
	id, err := p.AllocatePage()
	if err != nil {
		return nil, err
	}
	leaf := newLeaf(id)
	if err := saveNode(p, leaf); err != nil {
		return nil, err
	}
	return &Tree{pager: p, root: id}, nil
}

// Open wraps an existing tree rooted at root.
func Open(p *pager.Pager, root uint32) *Tree {
	return &Tree{pager: p, root: root}
}

// Root returns the tree's current root page id.
func (t *Tree) Root() uint32 { return t.root }

func loadNode(p *pager.Pager, id uint32) (*node, error) {
	buf, err := p.ReadPage(id)
	if err != nil {
		return nil, err
	}
	return decodeNode(id, buf)
}

func saveNode(p *pager.Pager, n *node) error {
	buf, err := n.encode()
	if err != nil {
		return err
	}
	return p.WritePage(n.id, buf)
}

// findChildIndex returns the index of the last cell whose Key <= key, or
// -1 if key is less than every cell's key (in which case the leftmost
// child, rightPtr, covers it).
func findChildIndex(n *node, key []byte) int {
	idx := sort.Search(len(n.cells), func(i int) bool {
		return bytes.Compare(n.cells[i].Key, key) > 0
	}) - 1
	return idx
}

func childFor(n *node, key []byte) uint32 {
	idx := findChildIndex(n, key)
	if idx < 0 {
		return n.rightPtr
	}
	return n.cells[idx].Child
}

// Get looks up key and reports whether it was found.
func (t *Tree) Get(key []byte) (uint64, bool, error) {
	id := t.root
	for {
		n, err := loadNode(t.pager, id)
		if err != nil {
			return 0, false, err
		}
		if n.leaf {
			i := sort.Search(len(n.cells), func(j int) bool {
				return bytes.Compare(n.cells[j].Key, key) >= 0
			})
			if i < len(n.cells) && bytes.Equal(n.cells[i].Key, key) {
				return n.cells[i].Payload, true, nil
			}
			return 0, false, nil
		}
		id = childFor(n, key)
	}
}

// Insert upserts key -> payload, splitting pages bottom-up as needed. On
// return, Root() may have changed if the root split.
func (t *Tree) Insert(key []byte, payload uint64) error {
	path, leaf, err := t.descend(key)
	if err != nil {
		return err
	}

	i := sort.Search(len(leaf.cells), func(j int) bool {
		return bytes.Compare(leaf.cells[j].Key, key) >= 0
	})
	if i < len(leaf.cells) && bytes.Equal(leaf.cells[i].Key, key) {
		leaf.cells[i].Payload = payload
	} else {
		leaf.cells = append(leaf.cells, cell{})
		copy(leaf.cells[i+1:], leaf.cells[i:])
		leaf.cells[i] = cell{Key: append([]byte(nil), key...), Payload: payload}
	}

	if leaf.size() <= pager.PageSize {
		return saveNode(t.pager, leaf)
	}
	return t.splitUp(path, leaf)
}

// descend walks from the root to the leaf that would contain key,
// returning the stack of internal ancestors visited (root first).
func (t *Tree) descend(key []byte) ([]*node, *node, error) {
	var path []*node
	id := t.root
	for {
		n, err := loadNode(t.pager, id)
		if err != nil {
			return nil, nil, err
		}
		if n.leaf {
			return path, n, nil
		}
		path = append(path, n)
		id = childFor(n, key)
	}
}

// splitUp splits leaf (already overflowed) and propagates the split up
// through path, allocating a new root if the root itself splits.
func (t *Tree) splitUp(path []*node, leaf *node) error {
	mid := len(leaf.cells) / 2
	rightID, err := t.pager.AllocatePage()
	if err != nil {
		return err
	}
	right := newLeaf(rightID)
	right.cells = append(right.cells, leaf.cells[mid:]...)
	right.rightPtr = leaf.rightPtr
	leaf.cells = leaf.cells[:mid]
	leaf.rightPtr = rightID

	if err := saveNode(t.pager, leaf); err != nil {
		return err
	}
	if err := saveNode(t.pager, right); err != nil {
		return err
	}

	splitKey := append([]byte(nil), right.cells[0].Key...)
	newChild := rightID

	for i := len(path) - 1; i >= 0; i-- {
		parent := path[i]
		j := sort.Search(len(parent.cells), func(k int) bool {
			return bytes.Compare(parent.cells[k].Key, splitKey) >= 0
		})
		parent.cells = append(parent.cells, cell{})
		copy(parent.cells[j+1:], parent.cells[j:])
		parent.cells[j] = cell{Key: splitKey, Child: newChild}

		if parent.size() <= pager.PageSize {
			return saveNode(t.pager, parent)
		}

		mid := len(parent.cells) / 2
		rid, err := t.pager.AllocatePage()
		if err != nil {
			return err
		}
		rnode := newInternal(rid)
		splitUpKey := append([]byte(nil), parent.cells[mid].Key...)
		rnode.cells = append(rnode.cells, parent.cells[mid+1:]...)
		rnode.rightPtr = parent.cells[mid].Child
		parent.cells = parent.cells[:mid]

		if err := saveNode(t.pager, parent); err != nil {
			return err
		}
		if err := saveNode(t.pager, rnode); err != nil {
			return err
		}
		splitKey = splitUpKey
		newChild = rid
	}

	// Root split: allocate a fresh root over the old root and the new
	// sibling produced by the top-most split.
	newRootID, err := t.pager.AllocatePage()
	if err != nil {
		return err
	}
	newRoot := newInternal(newRootID)
	newRoot.rightPtr = t.root
	newRoot.cells = []cell{{Key: splitKey, Child: newChild}}
	if err := saveNode(t.pager, newRoot); err != nil {
		return err
	}
	t.root = newRootID
	return nil
}

// DeleteExactRebuild removes the (key, payload) pair by rebuilding the
// tree from scratch, omitting it. This is the correctness-first
// implementation: O(N) in the tree's key count, never changing observable
// semantics versus a proper balanced delete. The old tree's pages are
// freed in favor of the freshly built one.
func (t *Tree) DeleteExactRebuild(key []byte, payload uint64) error {
	oldPages := make(map[uint32]bool)
	t.collectPages(t.root, oldPages)

	cur, err := t.CursorLowerBound(nil)
	if err != nil {
		return err
	}
	type kv struct {
		key []byte
		val uint64
	}
	var kept []kv
	found := false
	for cur.Advance() {
		k, v := cur.Key(), cur.Payload()
		if !found && bytes.Equal(k, key) && v == payload {
			found = true
			continue
		}
		kept = append(kept, kv{append([]byte(nil), k...), v})
	}
	if !found {
		return errkind.New(errkind.KindStorageCorrupted, "delete_exact_rebuild: key/payload not present")
	}

	fresh, err := Create(t.pager)
	if err != nil {
		return err
	}
	for _, e := range kept {
		if err := fresh.Insert(e.key, e.val); err != nil {
			return err
		}
	}
	t.collectPages(fresh.root, nil) // no-op; keeps symmetry if extended later

	for id := range oldPages {
		_ = t.pager.FreePage(id)
	}
	t.root = fresh.root
	return nil
}

func (t *Tree) collectPages(id uint32, out map[uint32]bool) {
	n, err := loadNode(t.pager, id)
	if err != nil {
		return
	}
	if out != nil {
		out[id] = true
	}
	if n.leaf {
		return
	}
	t.collectPages(n.rightPtr, out)
	for _, c := range n.cells {
		t.collectPages(c.Child, out)
	}
}

// MarkReachablePages walks every page reachable from the tree's root,
// invoking mark for each. If collectBlob is non-nil it is additionally
// invoked with every leaf payload, letting callers that store blob ids as
// payloads (property store, HNSW vector storage) fold blob-chain marking
// into the same walk, as vacuum requires.
func (t *Tree) MarkReachablePages(mark func(pageID uint32), collectBlob func(payload uint64)) error {
	return t.walk(t.root, mark, collectBlob)
}

func (t *Tree) walk(id uint32, mark func(uint32), collectBlob func(uint64)) error {
	n, err := loadNode(t.pager, id)
	if err != nil {
		return err
	}
	mark(id)
	if n.leaf {
		if collectBlob != nil {
			for _, c := range n.cells {
				collectBlob(c.Payload)
			}
		}
		return nil
	}
	if err := t.walk(n.rightPtr, mark, collectBlob); err != nil {
		return err
	}
	for _, c := range n.cells {
		if err := t.walk(c.Child, mark, collectBlob); err != nil {
			return err
		}
	}
	return nil
}
