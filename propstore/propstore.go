// Package propstore implements NervusDB's B-tree-backed node/edge property
// layer: a single kbtree.Tree keyed so that node properties and
// edge properties interleave without collision, with values stored as
// blobs and the tree leaf carrying the blob id as its u64 payload. Reads
// here are the storage fallback consulted once no newer L0Run overlay
// resolves a key.
package propstore

import (
	"encoding/binary"

	"github.com/nervusdb/nervusdb/blob"
	"github.com/nervusdb/nervusdb/kbtree"
	"github.com/nervusdb/nervusdb/pager"
	"github.com/nervusdb/nervusdb/value"
)

const (
	tagNode byte = 0
	tagEdge byte = 1
)

// Store is the persistent node/edge property key-value layer.
type Store struct {
	tree  *kbtree.Tree
	blobs *blob.Store
}

// Create allocates a fresh, empty property store.
func Create(p *pager.Pager) (*Store, error) {
	t, err := kbtree.Create(p)
	if err != nil {
		return nil, err
	}
	return &Store{tree: t, blobs: blob.Open(p)}, nil
}

// Open wraps the property tree rooted at root.
func Open(p *pager.Pager, root uint32) *Store {
	return &Store{tree: kbtree.Open(p, root), blobs: blob.Open(p)}
}

// Root returns the property tree's current root page id, to be persisted
// wherever the caller keeps store roots (engine manifest / meta page).
func (s *Store) Root() uint32 { return s.tree.Root() }

func nodeKey(nodeID uint32, key string) []byte {
	kb := []byte(key)
	buf := make([]byte, 1+4+4+len(kb))
	buf[0] = tagNode
	binary.BigEndian.PutUint32(buf[1:], nodeID)
	binary.BigEndian.PutUint32(buf[5:], uint32(len(kb)))
	copy(buf[9:], kb)
	return buf
}

func nodePrefix(nodeID uint32) []byte {
	buf := make([]byte, 1+4)
	buf[0] = tagNode
	binary.BigEndian.PutUint32(buf[1:], nodeID)
	return buf
}

func edgeKey(src, rel, dst uint32, key string) []byte {
	kb := []byte(key)
	buf := make([]byte, 1+4+4+4+4+len(kb))
	buf[0] = tagEdge
	binary.BigEndian.PutUint32(buf[1:], src)
	binary.BigEndian.PutUint32(buf[5:], rel)
	binary.BigEndian.PutUint32(buf[9:], dst)
	binary.BigEndian.PutUint32(buf[13:], uint32(len(kb)))
	copy(buf[17:], kb)
	return buf
}

func edgePrefix(src, rel, dst uint32) []byte {
	buf := make([]byte, 1+4+4+4)
	buf[0] = tagEdge
	binary.BigEndian.PutUint32(buf[1:], src)
	binary.BigEndian.PutUint32(buf[5:], rel)
	binary.BigEndian.PutUint32(buf[9:], dst)
	return buf
}

func keySuffix(fullKey, prefix []byte) string {
	if len(fullKey) <= len(prefix)+4 {
		return ""
	}
	// prefix is followed by a 4-byte length we already validated via
	// HasPrefix in ScanPrefix; the key text itself starts right after it.
	return string(fullKey[len(prefix)+4:])
}

// SetNodeProperty writes key's value as a blob and indexes it.
func (s *Store) SetNodeProperty(nodeID uint32, key string, v value.Value) error {
	enc, err := value.EncodeProperty(v)
	if err != nil {
		return err
	}
	blobID, err := s.blobs.WriteDirect(enc)
	if err != nil {
		return err
	}
	return s.tree.Insert(nodeKey(nodeID, key), uint64(blobID))
}

// GetNodeProperty reads key's current stored value, if present.
func (s *Store) GetNodeProperty(nodeID uint32, key string) (value.Value, bool, error) {
	payload, ok, err := s.tree.Get(nodeKey(nodeID, key))
	if err != nil || !ok {
		return value.Value{}, ok, err
	}
	raw, err := s.blobs.ReadDirect(uint32(payload))
	if err != nil {
		return value.Value{}, false, err
	}
	v, err := value.DecodeProperty(raw)
	return v, err == nil, err
}

// RemoveNodeProperty deletes key's stored value, if present, rebuilding
// the tree to omit it.
func (s *Store) RemoveNodeProperty(nodeID uint32, key string) error {
	k := nodeKey(nodeID, key)
	payload, ok, err := s.tree.Get(k)
	if err != nil || !ok {
		return err
	}
	if err := s.blobs.Free(uint32(payload)); err != nil {
		return err
	}
	return s.tree.DeleteExactRebuild(k, payload)
}

// NodeProperties returns every property currently stored for nodeID, keyed
// by property name.
func (s *Store) NodeProperties(nodeID uint32) (map[string]value.Value, error) {
	out := make(map[string]value.Value)
	prefix := nodePrefix(nodeID)
	var scanErr error
	err := s.tree.ScanPrefix(prefix, func(k []byte, payload uint64) bool {
		name := keySuffix(k, prefix)
		raw, err := s.blobs.ReadDirect(uint32(payload))
		if err != nil {
			scanErr = err
			return false
		}
		v, err := value.DecodeProperty(raw)
		if err != nil {
			scanErr = err
			return false
		}
		out[name] = v
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, scanErr
}

// SetEdgeProperty writes key's value for the (src, rel, dst) edge.
func (s *Store) SetEdgeProperty(src, rel, dst uint32, key string, v value.Value) error {
	enc, err := value.EncodeProperty(v)
	if err != nil {
		return err
	}
	blobID, err := s.blobs.WriteDirect(enc)
	if err != nil {
		return err
	}
	return s.tree.Insert(edgeKey(src, rel, dst, key), uint64(blobID))
}

// GetEdgeProperty reads key's current stored value for an edge, if present.
func (s *Store) GetEdgeProperty(src, rel, dst uint32, key string) (value.Value, bool, error) {
	payload, ok, err := s.tree.Get(edgeKey(src, rel, dst, key))
	if err != nil || !ok {
		return value.Value{}, ok, err
	}
	raw, err := s.blobs.ReadDirect(uint32(payload))
	if err != nil {
		return value.Value{}, false, err
	}
	v, err := value.DecodeProperty(raw)
	return v, err == nil, err
}

// RemoveEdgeProperty deletes key's stored value for an edge, if present.
func (s *Store) RemoveEdgeProperty(src, rel, dst uint32, key string) error {
	k := edgeKey(src, rel, dst, key)
	payload, ok, err := s.tree.Get(k)
	if err != nil || !ok {
		return err
	}
	if err := s.blobs.Free(uint32(payload)); err != nil {
		return err
	}
	return s.tree.DeleteExactRebuild(k, payload)
}

// EdgeProperties returns every property key currently stored for the
// (src, rel, dst) edge.
func (s *Store) EdgeProperties(src, rel, dst uint32) (map[string]value.Value, error) {
	out := make(map[string]value.Value)
	prefix := edgePrefix(src, rel, dst)
	var scanErr error
	err := s.tree.ScanPrefix(prefix, func(k []byte, payload uint64) bool {
		name := keySuffix(k, prefix)
		raw, err := s.blobs.ReadDirect(uint32(payload))
		if err != nil {
			scanErr = err
			return false
		}
		v, err := value.DecodeProperty(raw)
		if err != nil {
			scanErr = err
			return false
		}
		out[name] = v
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, scanErr
}

// MarkReachable walks the property tree and every blob chain it points at,
// feeding every reachable page id to mark.
func (s *Store) MarkReachable(mark func(pageID uint32)) error {
	return s.tree.MarkReachablePages(mark, func(payload uint64) {
		_ = s.blobs.MarkReachable(uint32(payload), mark)
	})
}
