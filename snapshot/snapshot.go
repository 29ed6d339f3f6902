// Package snapshot implements NervusDB's MVCC read path: an
// immutable bundle of (runs, segments, interners, store roots) captured by
// reference at read-begin time (a plain struct copy of already-immutable
// pieces, shared by pointer with no further synchronization once
// published), giving every reader a consistent
// view that a concurrent writer or compaction can never mutate under it.
package snapshot

import (
	"github.com/nervusdb/nervusdb/csr"
	"github.com/nervusdb/nervusdb/hnsw"
	"github.com/nervusdb/nervusdb/idmap"
	"github.com/nervusdb/nervusdb/index"
	"github.com/nervusdb/nervusdb/interner"
	"github.com/nervusdb/nervusdb/memtable"
	"github.com/nervusdb/nervusdb/propstore"
	"github.com/nervusdb/nervusdb/value"
)

// OutEdge is one resolved adjacency entry returned by Neighbors /
// IncomingNeighbors.
type OutEdge struct {
	Rel   uint32
	Other uint32 // dst for Neighbors, src for IncomingNeighbors
}

// Snapshot is the read-only view every query plan executes against.
// Construct via engine.Engine.Snapshot(); never mutated in place.
type Snapshot struct {
	Runs     []*memtable.L0Run // newest-first
	Segments []*csr.Segment

	Labels   *interner.Snapshot
	RelTypes *interner.Snapshot
	PropKeys *interner.Snapshot

	IDs *idmap.IdMap // read-only accessors only (External, Label, Len)

	Props   *propstore.Store
	Catalog *index.Snapshot

	IndexTrees map[string]indexTreeOpener // index name -> lazy tree opener
	Vector     *hnsw.Index                // optional global vector index, may be nil
}

// indexTreeOpener lets the engine hand the snapshot a way to scan an
// index's B-tree without the snapshot package depending on kbtree+pager
// directly; engine wires this closure at snapshot-construction time.
type indexTreeOpener func(prefix []byte, fn func(key []byte, payload uint64) bool) error

// NewIndexTrees adapts a plain map of prefix-scan functions (the shape of
// kbtree.Tree.ScanPrefix) into the unexported opener map Snapshot.IndexTrees
// holds, so engine.Engine can build one without this package needing to
// import kbtree.
func NewIndexTrees(scanners map[string]func(prefix []byte, fn func(key []byte, payload uint64) bool) error) map[string]indexTreeOpener {
	out := make(map[string]indexTreeOpener, len(scanners))
	for name, fn := range scanners {
		out[name] = fn
	}
	return out
}

// EdgeKey mirrors memtable.EdgeKey for local tombstone-set lookups.
type EdgeKey = memtable.EdgeKey

// Neighbors yields every live outgoing edge from src, optionally filtered
// by relationship type, applying newest-first overlay/tombstone semantics
// across runs and then the CSR segments. Edges are resolved
// eagerly into a slice; callers needing true streaming can wrap this in
// their own buffered iterator (see executor.MatchOneHop); the eager merge
// is simpler than a lazy heap-merge and equivalent per adjacency list.
func (s *Snapshot) Neighbors(src uint32, rel *uint32) []OutEdge {
	var out []OutEdge
	tombstonedEdges := make(map[EdgeKey]struct{})
	resultSeen := make(map[EdgeKey]struct{})
	tombstonedNodes := make(map[uint32]struct{})

	nodeGone := false
	for _, run := range s.Runs {
		for n := range run.TombstonedNodes {
			tombstonedNodes[n] = struct{}{}
		}
		if _, gone := tombstonedNodes[src]; gone {
			nodeGone = true
			break
		}
		for _, e := range run.EdgesBySrc[src] {
			key := EdgeKey{Src: src, Rel: e.Rel, Dst: e.Dst}
			if _, seen := resultSeen[key]; seen {
				continue
			}
			if _, tomb := tombstonedEdges[key]; tomb {
				continue
			}
			if _, tomb := run.TombstonedEdges[key]; tomb {
				tombstonedEdges[key] = struct{}{}
				continue
			}
			if _, gone := tombstonedNodes[e.Dst]; gone {
				tombstonedEdges[key] = struct{}{}
				continue
			}
			resultSeen[key] = struct{}{}
			if rel == nil || *rel == e.Rel {
				out = append(out, OutEdge{Rel: e.Rel, Other: e.Dst})
			}
		}
		// This run's edge tombstones also hide the edge in every older run
		// and in the segments.
		for k := range run.TombstonedEdges {
			if k.Src == src {
				tombstonedEdges[k] = struct{}{}
			}
		}
	}
	if nodeGone {
		return out
	}
	for _, seg := range s.Segments {
		for _, e := range seg.Neighbors(src) {
			key := EdgeKey{Src: src, Rel: e.Rel, Dst: e.Dst}
			if _, seen := resultSeen[key]; seen {
				continue
			}
			if _, tomb := tombstonedEdges[key]; tomb {
				continue
			}
			if _, gone := tombstonedNodes[e.Dst]; gone {
				continue
			}
			resultSeen[key] = struct{}{}
			if rel == nil || *rel == e.Rel {
				out = append(out, OutEdge{Rel: e.Rel, Other: e.Dst})
			}
		}
	}
	return out
}

// IncomingNeighbors is Neighbors' symmetric counterpart over by-dst
// adjacency.
func (s *Snapshot) IncomingNeighbors(dst uint32, rel *uint32) []OutEdge {
	var out []OutEdge
	tombstonedEdges := make(map[EdgeKey]struct{})
	resultSeen := make(map[EdgeKey]struct{})
	tombstonedNodes := make(map[uint32]struct{})

	nodeGone := false
	for _, run := range s.Runs {
		for n := range run.TombstonedNodes {
			tombstonedNodes[n] = struct{}{}
		}
		if _, gone := tombstonedNodes[dst]; gone {
			nodeGone = true
			break
		}
		for _, e := range run.EdgesByDst[dst] {
			// Edge.Dst field holds the source id for by-dst entries.
			key := EdgeKey{Src: e.Dst, Rel: e.Rel, Dst: dst}
			if _, seen := resultSeen[key]; seen {
				continue
			}
			if _, tomb := tombstonedEdges[key]; tomb {
				continue
			}
			if _, tomb := run.TombstonedEdges[key]; tomb {
				tombstonedEdges[key] = struct{}{}
				continue
			}
			if _, gone := tombstonedNodes[e.Dst]; gone {
				tombstonedEdges[key] = struct{}{}
				continue
			}
			resultSeen[key] = struct{}{}
			if rel == nil || *rel == e.Rel {
				out = append(out, OutEdge{Rel: e.Rel, Other: e.Dst})
			}
		}
		// This run's edge tombstones also hide the edge in every older run
		// and in the segments.
		for k := range run.TombstonedEdges {
			if k.Dst == dst {
				tombstonedEdges[k] = struct{}{}
			}
		}
	}
	if nodeGone {
		return out
	}
	for _, seg := range s.Segments {
		for _, t := range seg.IncomingNeighbors(dst) {
			key := EdgeKey{Src: t.Src, Rel: t.Rel, Dst: dst}
			if _, seen := resultSeen[key]; seen {
				continue
			}
			if _, tomb := tombstonedEdges[key]; tomb {
				continue
			}
			if _, gone := tombstonedNodes[t.Src]; gone {
				continue
			}
			resultSeen[key] = struct{}{}
			if rel == nil || *rel == t.Rel {
				out = append(out, OutEdge{Rel: t.Rel, Other: t.Src})
			}
		}
	}
	return out
}

// IsTombstonedNode reports whether any run's tombstone set contains id.
func (s *Snapshot) IsTombstonedNode(id uint32) bool {
	for _, run := range s.Runs {
		if _, ok := run.TombstonedNodes[id]; ok {
			return true
		}
	}
	return false
}

// Nodes yields every live internal node id in [0, idmap.Len()), skipping
// any tombstoned by a run.
func (s *Snapshot) Nodes() []uint32 {
	n := s.IDs.Len()
	tombstoned := make(map[uint32]struct{})
	for _, run := range s.Runs {
		for id := range run.TombstonedNodes {
			tombstoned[id] = struct{}{}
		}
	}
	out := make([]uint32, 0, n)
	for id := uint32(0); id < n; id++ {
		if _, dead := tombstoned[id]; dead {
			continue
		}
		out = append(out, id)
	}
	return out
}

// reservedLabelKey must match engine.reservedLabelKey: compaction folds a
// node's final label set into the property store under this key (there is
// no dedicated on-disk label-set structure), so a node whose labels were
// ever touched by SET/REMOVE resolves here once no newer run overlay hits.
const reservedLabelKey = "\x00labels"

// NodeLabels resolves id's current label set: the newest run's
// LabelOverlay entry if any touched it, else the persisted label-set
// property folded in by the last compaction, else the IdMap creation
// label for a node that has never been relabeled or compacted.
func (s *Snapshot) NodeLabels(id uint32) ([]uint32, error) {
	for _, run := range s.Runs {
		if labels, ok := run.LabelOverlay[id]; ok {
			return labels, nil
		}
	}
	if v, ok, err := s.Props.GetNodeProperty(id, reservedLabelKey); err != nil {
		return nil, err
	} else if ok {
		labels := make([]uint32, len(v.List))
		for i, item := range v.List {
			labels[i] = uint32(item.Int)
		}
		return labels, nil
	}
	lbl, err := s.IDs.Label(id)
	if err != nil {
		return nil, err
	}
	if lbl == ^uint32(0) {
		// Created without a label.
		return nil, nil
	}
	return []uint32{lbl}, nil
}

// HasLabel reports whether id currently carries labelID.
func (s *Snapshot) HasLabel(id uint32, labelID uint32) (bool, error) {
	labels, err := s.NodeLabels(id)
	if err != nil {
		return false, err
	}
	for _, l := range labels {
		if l == labelID {
			return true, nil
		}
	}
	return false, nil
}

// NodeProperty resolves key for id: the overlay walk answers first
// (read_path_overlay.go), the property store is the fallback
// (read_path_property_store.go).
func (s *Snapshot) NodeProperty(id uint32, key string) (value.Value, bool, error) {
	switch v, res := overlayNodeProperty(s.Runs, id, key); res {
	case overlayHit:
		return v, true, nil
	case overlayTombstone:
		return value.Null, false, nil
	}
	return s.storeNodeProperty(id, key)
}

// NodeProperties merges every overlay/tombstone newest-first, then extends
// with store keys not already resolved.
func (s *Snapshot) NodeProperties(id uint32) (map[string]value.Value, error) {
	out, resolved, gone := overlayNodeProperties(s.Runs, id)
	if gone {
		return map[string]value.Value{}, nil
	}
	if err := s.extendFromNodeStore(id, out, resolved); err != nil {
		return nil, err
	}
	return out, nil
}

// EdgeProperty is NodeProperty's edge-keyed counterpart.
func (s *Snapshot) EdgeProperty(src, rel, dst uint32, key string) (value.Value, bool, error) {
	ek := EdgeKey{Src: src, Rel: rel, Dst: dst}
	switch v, res := overlayEdgeProperty(s.Runs, ek, key); res {
	case overlayHit:
		return v, true, nil
	case overlayTombstone:
		return value.Null, false, nil
	}
	return s.storeEdgeProperty(src, rel, dst, key)
}

// EdgeProperties is NodeProperties' edge-keyed counterpart.
func (s *Snapshot) EdgeProperties(src, rel, dst uint32) (map[string]value.Value, error) {
	out, resolved, gone := overlayEdgeProperties(s.Runs, EdgeKey{Src: src, Rel: rel, Dst: dst})
	if gone {
		return map[string]value.Value{}, nil
	}
	if err := s.extendFromEdgeStore(src, rel, dst, out, resolved); err != nil {
		return nil, err
	}
	return out, nil
}

// LookupIndex resolves every node id holding v for label.field, via the
// index catalog entry named "label.field".
func (s *Snapshot) LookupIndex(labelField string, v value.Value) ([]uint32, error) {
	entry, ok := s.Catalog.Lookup(labelField)
	if !ok {
		return nil, nil
	}
	opener, ok := s.IndexTrees[labelField]
	if !ok {
		return nil, nil
	}
	prefix := index.EncodePrefix(entry.ID, v)
	var out []uint32
	err := opener(prefix, func(key []byte, payload uint64) bool {
		out = append(out, uint32(payload))
		return true
	})
	return out, err
}

// LookupVectorTopK delegates to the configured global vector index, if
// any.
func (s *Snapshot) LookupVectorTopK(query []float32, k int) ([]hnsw.Result, error) {
	if s.Vector == nil {
		return nil, nil
	}
	return s.Vector.Search(query, k)
}
