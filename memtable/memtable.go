// Package memtable implements NervusDB's in-memory write staging: a
// MemTable accumulates one write transaction's edges, tombstones,
// and property deltas, and FreezeIntoRun produces the immutable L0Run
// that gets published into the snapshot read path. The shape mirrors the
// classic LSM memtable (buffer-then-freeze into an immutable run) even
// though the payload here is graph-shaped rather than a sorted key range.
package memtable

import (
	"sort"

	"github.com/nervusdb/nervusdb/value"
)

// EdgeKey identifies an edge by its full (src, rel, dst) key.
type EdgeKey struct {
	Src uint32
	Rel uint32
	Dst uint32
}

// Edge is one adjacency entry as stored in a run's by-src/by-dst lists.
type Edge struct {
	Rel uint32
	Dst uint32 // when stored in an EdgesByDst list, this field holds Src instead
}

// L0Run is the immutable, per-transaction overlay published to future
// snapshots. Runs are published newest-first; a
// tombstone in a newer run hides data in any older run or the on-disk
// store.
type L0Run struct {
	TxID uint64

	EdgesBySrc map[uint32][]Edge // ordered by (Rel, Dst)
	EdgesByDst map[uint32][]Edge // ordered by (Rel, Src); Edge.Dst field holds Src here

	TombstonedNodes map[uint32]struct{}
	TombstonedEdges map[EdgeKey]struct{}

	NodePropertyOverlay map[uint32]map[string]value.Value
	EdgePropertyOverlay map[EdgeKey]map[string]value.Value

	NodePropertyTombstones map[uint32]map[string]struct{}
	EdgePropertyTombstones map[EdgeKey]map[string]struct{}

	// LabelOverlay carries label-set mutations (see DESIGN.md):
	// a full-replacement label set for nodes touched by SET n:L / REMOVE
	// labels within this transaction, consulted newest-first exactly like
	// the property overlays above. A node absent from this map keeps
	// whatever label set resolves from older runs or the IdMap creation
	// label.
	LabelOverlay map[uint32][]uint32
}

// MemTable is the mutable builder a single write transaction appends to
// before FreezeIntoRun seals it.
type MemTable struct {
	txID uint64

	edgesBySrc map[uint32][]Edge
	edgesByDst map[uint32][]Edge

	tombstonedNodes map[uint32]struct{}
	tombstonedEdges map[EdgeKey]struct{}

	nodeProps     map[uint32]map[string]value.Value
	edgeProps     map[EdgeKey]map[string]value.Value
	nodePropTombs map[uint32]map[string]struct{}
	edgePropTombs map[EdgeKey]map[string]struct{}

	labelOverlay map[uint32][]uint32
}

// New returns an empty MemTable for transaction txID.
func New(txID uint64) *MemTable {
	return &MemTable{
		txID:            txID,
		edgesBySrc:      make(map[uint32][]Edge),
		edgesByDst:      make(map[uint32][]Edge),
		tombstonedNodes: make(map[uint32]struct{}),
		tombstonedEdges: make(map[EdgeKey]struct{}),
		nodeProps:       make(map[uint32]map[string]value.Value),
		edgeProps:       make(map[EdgeKey]map[string]value.Value),
		nodePropTombs:   make(map[uint32]map[string]struct{}),
		edgePropTombs:   make(map[EdgeKey]map[string]struct{}),
		labelOverlay:    make(map[uint32][]uint32),
	}
}

// AddEdge stages a new edge.
func (m *MemTable) AddEdge(src, rel, dst uint32) {
	m.edgesBySrc[src] = append(m.edgesBySrc[src], Edge{Rel: rel, Dst: dst})
	m.edgesByDst[dst] = append(m.edgesByDst[dst], Edge{Rel: rel, Dst: src})
}

// TombstoneNode stages a node deletion.
func (m *MemTable) TombstoneNode(id uint32) { m.tombstonedNodes[id] = struct{}{} }

// TombstoneEdge stages an edge deletion.
func (m *MemTable) TombstoneEdge(src, rel, dst uint32) {
	m.tombstonedEdges[EdgeKey{src, rel, dst}] = struct{}{}
}

// SetNodeProperty stages a node property overlay value.
func (m *MemTable) SetNodeProperty(id uint32, key string, v value.Value) {
	if m.nodeProps[id] == nil {
		m.nodeProps[id] = make(map[string]value.Value)
	}
	m.nodeProps[id][key] = v
	if m.nodePropTombs[id] != nil {
		delete(m.nodePropTombs[id], key)
	}
}

// RemoveNodeProperty stages a node property tombstone.
func (m *MemTable) RemoveNodeProperty(id uint32, key string) {
	if m.nodePropTombs[id] == nil {
		m.nodePropTombs[id] = make(map[string]struct{})
	}
	m.nodePropTombs[id][key] = struct{}{}
	if m.nodeProps[id] != nil {
		delete(m.nodeProps[id], key)
	}
}

// SetEdgeProperty stages an edge property overlay value.
func (m *MemTable) SetEdgeProperty(src, rel, dst uint32, key string, v value.Value) {
	k := EdgeKey{src, rel, dst}
	if m.edgeProps[k] == nil {
		m.edgeProps[k] = make(map[string]value.Value)
	}
	m.edgeProps[k][key] = v
	if m.edgePropTombs[k] != nil {
		delete(m.edgePropTombs[k], key)
	}
}

// RemoveEdgeProperty stages an edge property tombstone.
func (m *MemTable) RemoveEdgeProperty(src, rel, dst uint32, key string) {
	k := EdgeKey{src, rel, dst}
	if m.edgePropTombs[k] == nil {
		m.edgePropTombs[k] = make(map[string]struct{})
	}
	m.edgePropTombs[k][key] = struct{}{}
	if m.edgeProps[k] != nil {
		delete(m.edgeProps[k], key)
	}
}

// SetLabels stages a full-replacement label set for id (SET n:L / REMOVE
// labels both resolve to a new full set computed by the caller).
func (m *MemTable) SetLabels(id uint32, labels []uint32) {
	m.labelOverlay[id] = append([]uint32(nil), labels...)
}

// FreezeIntoRun seals the MemTable into an immutable L0Run, sorting each
// node's adjacency lists by (Rel, Dst).
func (m *MemTable) FreezeIntoRun() *L0Run {
	run := &L0Run{
		TxID:                   m.txID,
		EdgesBySrc:             m.edgesBySrc,
		EdgesByDst:             m.edgesByDst,
		TombstonedNodes:        m.tombstonedNodes,
		TombstonedEdges:        m.tombstonedEdges,
		NodePropertyOverlay:    m.nodeProps,
		EdgePropertyOverlay:    m.edgeProps,
		NodePropertyTombstones: m.nodePropTombs,
		EdgePropertyTombstones: m.edgePropTombs,
		LabelOverlay:           m.labelOverlay,
	}
	for _, edges := range run.EdgesBySrc {
		sortEdges(edges)
	}
	for _, edges := range run.EdgesByDst {
		sortEdges(edges)
	}
	return run
}

func sortEdges(edges []Edge) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Rel != edges[j].Rel {
			return edges[i].Rel < edges[j].Rel
		}
		return edges[i].Dst < edges[j].Dst
	})
}
