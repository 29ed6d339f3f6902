// Package hnsw implements NervusDB's hierarchical navigable small-world
// index for approximate top-k vector search over caller-
// supplied float vectors. Two storage traits abstract the backend so the
// same search/insert algorithm runs over either an in-memory index (tests,
// small graphs) or the persistent kbtree+blob-backed variant used by the
// engine.
package hnsw

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/nervusdb/nervusdb/blob"
	"github.com/nervusdb/nervusdb/errkind"
	"github.com/nervusdb/nervusdb/kbtree"
	"github.com/nervusdb/nervusdb/pager"
)

// VectorStorage persists the raw vector for each inserted item.
type VectorStorage interface {
	InsertVector(id uint32, vec []float32) error
	GetVector(id uint32) ([]float32, error)
}

// GraphStorage persists the per-layer adjacency lists and the index's
// global entry point / max layer.
type GraphStorage interface {
	SetNeighbors(layer int, node uint32, neighbors []uint32) error
	GetNeighbors(layer int, node uint32) ([]uint32, error)
	SetMeta(entryPoint uint32, maxLayer int) error
	GetMeta() (entryPoint uint32, maxLayer int, ok bool, err error)
}

// --- persistent implementation: blob-serialized vectors, keyed 0x02‖id_be
// and 0x03‖layer‖id_be, with 0x01 as the fixed meta key.

const (
	tagVector byte = 0x02
	tagGraph  byte = 0x03
	tagMeta   byte = 0x01
)

// PersistentVectorStorage serializes vectors as little-endian f32 blobs.
type PersistentVectorStorage struct {
	tree  *kbtree.Tree
	blobs *blob.Store
}

// NewPersistentVectorStorage wraps a tree shared with the rest of the
// index (vectors and graph adjacency can live in the same kbtree.Tree
// since their keys are disjoint by tag byte).
func NewPersistentVectorStorage(p *pager.Pager, tree *kbtree.Tree) *PersistentVectorStorage {
	return &PersistentVectorStorage{tree: tree, blobs: blob.Open(p)}
}

func vectorKey(id uint32) []byte {
	buf := make([]byte, 5)
	buf[0] = tagVector
	binary.BigEndian.PutUint32(buf[1:], id)
	return buf
}

func (s *PersistentVectorStorage) InsertVector(id uint32, vec []float32) error {
	buf := make([]byte, len(vec)*4)
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	blobID, err := s.blobs.WriteDirect(buf)
	if err != nil {
		return err
	}
	return s.tree.Insert(vectorKey(id), uint64(blobID))
}

func (s *PersistentVectorStorage) GetVector(id uint32) ([]float32, error) {
	payload, ok, err := s.tree.Get(vectorKey(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errkind.New(errkind.KindStorageCorrupted, "hnsw: vector not found")
	}
	raw, err := s.blobs.ReadDirect(uint32(payload))
	if err != nil {
		return nil, err
	}
	vec := make([]float32, len(raw)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return vec, nil
}

// PersistentGraphStorage serializes each layer's adjacency list as a blob
// keyed by (layer, node); the global meta record packs entry_point and
// max_layer into one u64 payload under a fixed key.
type PersistentGraphStorage struct {
	tree  *kbtree.Tree
	blobs *blob.Store
}

func NewPersistentGraphStorage(p *pager.Pager, tree *kbtree.Tree) *PersistentGraphStorage {
	return &PersistentGraphStorage{tree: tree, blobs: blob.Open(p)}
}

func graphKey(layer int, node uint32) []byte {
	buf := make([]byte, 1+1+4)
	buf[0] = tagGraph
	buf[1] = byte(layer)
	binary.BigEndian.PutUint32(buf[2:], node)
	return buf
}

func metaKey() []byte { return []byte{tagMeta} }

func (s *PersistentGraphStorage) SetNeighbors(layer int, node uint32, neighbors []uint32) error {
	buf := make([]byte, len(neighbors)*4)
	for i, n := range neighbors {
		binary.LittleEndian.PutUint32(buf[i*4:], n)
	}
	blobID, err := s.blobs.WriteDirect(buf)
	if err != nil {
		return err
	}
	return s.tree.Insert(graphKey(layer, node), uint64(blobID))
}

func (s *PersistentGraphStorage) GetNeighbors(layer int, node uint32) ([]uint32, error) {
	payload, ok, err := s.tree.Get(graphKey(layer, node))
	if err != nil || !ok {
		return nil, err
	}
	raw, err := s.blobs.ReadDirect(uint32(payload))
	if err != nil {
		return nil, err
	}
	out := make([]uint32, len(raw)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	return out, nil
}

func (s *PersistentGraphStorage) SetMeta(entryPoint uint32, maxLayer int) error {
	payload := uint64(entryPoint)<<32 | uint64(uint32(maxLayer))
	return s.tree.Insert(metaKey(), payload)
}

func (s *PersistentGraphStorage) GetMeta() (uint32, int, bool, error) {
	payload, ok, err := s.tree.Get(metaKey())
	if err != nil || !ok {
		return 0, 0, false, err
	}
	return uint32(payload >> 32), int(uint32(payload)), true, nil
}

// --- in-memory implementation, used directly by tests and as the
// reference behavior the persistent variant must match.

type MemoryVectorStorage struct {
	mu      sync.RWMutex
	vectors map[uint32][]float32
}

func NewMemoryVectorStorage() *MemoryVectorStorage {
	return &MemoryVectorStorage{vectors: make(map[uint32][]float32)}
}

func (s *MemoryVectorStorage) InsertVector(id uint32, vec []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := append([]float32(nil), vec...)
	s.vectors[id] = cp
	return nil
}

func (s *MemoryVectorStorage) GetVector(id uint32) ([]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vectors[id]
	if !ok {
		return nil, errkind.New(errkind.KindStorageCorrupted, "hnsw: vector not found")
	}
	return v, nil
}

type MemoryGraphStorage struct {
	mu         sync.RWMutex
	neighbors  map[int]map[uint32][]uint32
	entryPoint uint32
	maxLayer   int
	hasMeta    bool
}

func NewMemoryGraphStorage() *MemoryGraphStorage {
	return &MemoryGraphStorage{neighbors: make(map[int]map[uint32][]uint32)}
}

func (s *MemoryGraphStorage) SetNeighbors(layer int, node uint32, neighbors []uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.neighbors[layer] == nil {
		s.neighbors[layer] = make(map[uint32][]uint32)
	}
	s.neighbors[layer][node] = append([]uint32(nil), neighbors...)
	return nil
}

func (s *MemoryGraphStorage) GetNeighbors(layer int, node uint32) ([]uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.neighbors[layer][node], nil
}

func (s *MemoryGraphStorage) SetMeta(entryPoint uint32, maxLayer int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entryPoint, s.maxLayer, s.hasMeta = entryPoint, maxLayer, true
	return nil
}

func (s *MemoryGraphStorage) GetMeta() (uint32, int, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entryPoint, s.maxLayer, s.hasMeta, nil
}
