// Package kbtree implements NervusDB's persistent ordered map:
// a slotted-page B-tree over byte keys with a u64 payload, built on the
// pager primitives, laying out
// its own slotted pages, generalized to a fixed u64 payload instead of an
// arbitrary value and to a pager-external root (many trees share one page
// file: the index catalog, the property store, each HNSW graph).
package kbtree

import (
	"encoding/binary"

	"github.com/nervusdb/nervusdb/errkind"
	"github.com/nervusdb/nervusdb/pager"
)

const (
	pageTypeLeaf     = 1
	pageTypeInternal = 2

	// header: type(1) ‖ numCells(2) ‖ rightPtr(4) ‖ freePtr(2) ‖ pad(1)
	headerSize  = 10
	offType     = 0
	offNumCells = 1
	offRightPtr = 3
	offFreePtr  = 7

	cellDirEntrySize = 2
)

// cell is a decoded slot: a leaf cell carries Payload, an internal cell
// carries Child (the page holding keys >= Key, up to the next cell's key).
type cell struct {
	Key     []byte
	Payload uint64
	Child   uint32
}

type node struct {
	id       uint32
	leaf     bool
	rightPtr uint32 // leaf: next-leaf page id (0 = none); internal: leftmost child (keys below the first cell)
	cells    []cell
}

func newLeaf(id uint32) *node  { return &node{id: id, leaf: true} }
func newInternal(id uint32) *node { return &node{id: id, leaf: false} }

func decodeNode(id uint32, buf []byte) (*node, error) {
	if len(buf) < headerSize {
		return nil, errkind.New(errkind.KindStorageCorrupted, "kbtree page too short")
	}
	n := &node{id: id, leaf: buf[offType] == pageTypeLeaf}
	numCells := binary.LittleEndian.Uint16(buf[offNumCells:])
	n.rightPtr = binary.LittleEndian.Uint32(buf[offRightPtr:])

	dirBase := headerSize
	for i := uint16(0); i < numCells; i++ {
		off := binary.LittleEndian.Uint16(buf[dirBase+int(i)*cellDirEntrySize:])
		c, err := decodeCell(buf, int(off), n.leaf)
		if err != nil {
			return nil, err
		}
		n.cells = append(n.cells, c)
	}
	return n, nil
}

func decodeCell(buf []byte, off int, leaf bool) (cell, error) {
	if off+2 > len(buf) {
		return cell{}, errkind.New(errkind.KindStorageCorrupted, "kbtree cell offset out of range")
	}
	keyLen := int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	if off+keyLen > len(buf) {
		return cell{}, errkind.New(errkind.KindStorageCorrupted, "kbtree cell key out of range")
	}
	key := append([]byte(nil), buf[off:off+keyLen]...)
	off += keyLen
	if leaf {
		if off+8 > len(buf) {
			return cell{}, errkind.New(errkind.KindStorageCorrupted, "kbtree leaf payload out of range")
		}
		return cell{Key: key, Payload: binary.LittleEndian.Uint64(buf[off:])}, nil
	}
	if off+4 > len(buf) {
		return cell{}, errkind.New(errkind.KindStorageCorrupted, "kbtree internal child out of range")
	}
	return cell{Key: key, Child: binary.LittleEndian.Uint32(buf[off:])}, nil
}

func cellSize(c cell, leaf bool) int {
	if leaf {
		return 2 + len(c.Key) + 8
	}
	return 2 + len(c.Key) + 4
}

// encode serializes the node back into a fixed pager.PageSize buffer,
// packing the cell directory after the header and cell bodies backward
// from the end of the page, the classic slotted-page layout.
func (n *node) encode() ([]byte, error) {
	buf := make([]byte, pager.PageSize)
	if n.leaf {
		buf[offType] = pageTypeLeaf
	} else {
		buf[offType] = pageTypeInternal
	}
	binary.LittleEndian.PutUint16(buf[offNumCells:], uint16(len(n.cells)))
	binary.LittleEndian.PutUint32(buf[offRightPtr:], n.rightPtr)

	dirBase := headerSize
	tail := pager.PageSize
	for i, c := range n.cells {
		sz := cellSize(c, n.leaf)
		tail -= sz
		if dirBase+(i+1)*cellDirEntrySize > tail {
			return nil, errkind.New(errkind.KindStorageCorrupted, "kbtree page overflow during encode")
		}
		off := tail
		binary.LittleEndian.PutUint16(buf[off:], uint16(len(c.Key)))
		off += 2
		copy(buf[off:], c.Key)
		off += len(c.Key)
		if n.leaf {
			binary.LittleEndian.PutUint64(buf[off:], c.Payload)
		} else {
			binary.LittleEndian.PutUint32(buf[off:], c.Child)
		}
		binary.LittleEndian.PutUint16(buf[dirBase+i*cellDirEntrySize:], uint16(tail))
	}
	binary.LittleEndian.PutUint16(buf[offFreePtr:], uint16(dirBase+len(n.cells)*cellDirEntrySize))
	return buf, nil
}

// size reports the encoded byte footprint of the node if it were flushed
// now, used to decide whether an insert would overflow the page.
func (n *node) size() int {
	total := headerSize + len(n.cells)*cellDirEntrySize
	for _, c := range n.cells {
		total += cellSize(c, n.leaf)
	}
	return total
}
