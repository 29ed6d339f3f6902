package engine

import (
	"encoding/binary"

	"github.com/nervusdb/nervusdb/blob"
	"github.com/nervusdb/nervusdb/csr"
	"github.com/nervusdb/nervusdb/index"
	"github.com/nervusdb/nervusdb/kbtree"
	"github.com/nervusdb/nervusdb/memtable"
	"github.com/nervusdb/nervusdb/pager"
	"github.com/nervusdb/nervusdb/value"
	"github.com/nervusdb/nervusdb/wal"
)

// Compact fuses every published L0Run and the current CSR segment (if any)
// into one new CSR segment, folding node/edge property and label overlays
// into the durable property store and rebuilding every named index, then
// publishes the result via a fsynced ManifestSwitch record. It acquires the write lock: concurrent writers are blocked,
// concurrent readers (already holding a Snapshot) are not.
func (e *Engine) Compact() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.runsMu.RLock()
	runs := append([]*memtable.L0Run(nil), e.runs...)
	segments := append([]*csr.Segment(nil), e.segments...)
	e.runsMu.RUnlock()

	if len(runs) == 0 {
		return nil
	}

	blockedNodes := make(map[uint32]struct{})
	blockedEdges := make(map[memtable.EdgeKey]struct{})
	touchedNodes := make(map[uint32]struct{})
	touchedEdges := make(map[memtable.EdgeKey]struct{})
	for _, run := range runs {
		for n := range run.TombstonedNodes {
			blockedNodes[n] = struct{}{}
		}
		for k := range run.TombstonedEdges {
			blockedEdges[k] = struct{}{}
		}
		for n := range run.NodePropertyOverlay {
			touchedNodes[n] = struct{}{}
		}
		for n := range run.NodePropertyTombstones {
			touchedNodes[n] = struct{}{}
		}
		for n := range run.LabelOverlay {
			touchedNodes[n] = struct{}{}
		}
		for k := range run.EdgePropertyOverlay {
			touchedEdges[k] = struct{}{}
		}
		for k := range run.EdgePropertyTombstones {
			touchedEdges[k] = struct{}{}
		}
	}

	if err := e.foldNodeProperties(runs, touchedNodes, blockedNodes); err != nil {
		return err
	}
	if err := e.foldEdgeProperties(runs, touchedEdges, blockedEdges); err != nil {
		return err
	}
	if err := e.foldLabels(runs, touchedNodes, blockedNodes); err != nil {
		return err
	}

	triples := collectLiveTriples(runs, segments, blockedNodes, blockedEdges)
	newSegmentID := e.nextSegmentID.Add(1) - 1
	newSegment := csr.Build(newSegmentID, triples)

	if err := e.reindexAll(blockedNodes); err != nil {
		return err
	}

	if err := e.pager.Sync(); err != nil {
		return err
	}

	statsBlobID, err := e.persistSegments([]*csr.Segment{newSegment})
	if err != nil {
		return err
	}
	if err := e.pager.Sync(); err != nil {
		return err
	}

	txID := e.nextTxID.Add(1) - 1
	epoch := e.pager.Meta().ManifestEpoch + 1
	manifest := wal.ManifestSwitch(epoch, []uint64{newSegmentID}, uint64(e.props.Root()), uint64(statsBlobID))
	if err := e.wal.AppendTx(txID, []wal.Record{manifest}); err != nil {
		return err
	}

	e.runsMu.Lock()
	e.runs = nil
	e.segments = []*csr.Segment{newSegment}
	e.runsMu.Unlock()

	e.pager.UpdateMeta(func(m *pager.Meta) {
		m.PropertiesRoot = uint64(e.props.Root())
		m.StatsRoot = uint64(statsBlobID)
		m.ManifestEpoch = epoch
	})
	e.stats.compacts.Add(1)
	return e.pager.Sync()
}

// foldNodeProperties resolves, for every touched node, each property key's
// newest-first value across runs and persists it (or
// removes it, if the final resolution is a tombstone) to the property
// store, the same resolution snapshot.NodeProperty performs at read time.
func (e *Engine) foldNodeProperties(runs []*memtable.L0Run, touched map[uint32]struct{}, blocked map[uint32]struct{}) error {
	for id := range touched {
		if _, dead := blocked[id]; dead {
			continue
		}
		keys := make(map[string]struct{})
		for _, run := range runs {
			for k := range run.NodePropertyOverlay[id] {
				keys[k] = struct{}{}
			}
			for k := range run.NodePropertyTombstones[id] {
				keys[k] = struct{}{}
			}
		}
		for key := range keys {
			resolved, present := resolveNodeProperty(runs, id, key)
			if present {
				if err := e.props.SetNodeProperty(id, key, resolved); err != nil {
					return err
				}
			} else {
				if err := e.props.RemoveNodeProperty(id, key); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func resolveNodeProperty(runs []*memtable.L0Run, id uint32, key string) (value.Value, bool) {
	for _, run := range runs {
		if tombs, ok := run.NodePropertyTombstones[id]; ok {
			if _, t := tombs[key]; t {
				return value.Null, false
			}
		}
		if props, ok := run.NodePropertyOverlay[id]; ok {
			if v, ok2 := props[key]; ok2 {
				return v, true
			}
		}
	}
	return value.Null, false
}

func (e *Engine) foldEdgeProperties(runs []*memtable.L0Run, touched map[memtable.EdgeKey]struct{}, blocked map[memtable.EdgeKey]struct{}) error {
	for ek := range touched {
		if _, dead := blocked[ek]; dead {
			continue
		}
		keys := make(map[string]struct{})
		for _, run := range runs {
			for k := range run.EdgePropertyOverlay[ek] {
				keys[k] = struct{}{}
			}
			for k := range run.EdgePropertyTombstones[ek] {
				keys[k] = struct{}{}
			}
		}
		for key := range keys {
			resolved, present := resolveEdgeProperty(runs, ek, key)
			if present {
				if err := e.props.SetEdgeProperty(ek.Src, ek.Rel, ek.Dst, key, resolved); err != nil {
					return err
				}
			} else {
				if err := e.props.RemoveEdgeProperty(ek.Src, ek.Rel, ek.Dst, key); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func resolveEdgeProperty(runs []*memtable.L0Run, ek memtable.EdgeKey, key string) (value.Value, bool) {
	for _, run := range runs {
		if tombs, ok := run.EdgePropertyTombstones[ek]; ok {
			if _, t := tombs[key]; t {
				return value.Null, false
			}
		}
		if props, ok := run.EdgePropertyOverlay[ek]; ok {
			if v, ok2 := props[key]; ok2 {
				return v, true
			}
		}
	}
	return value.Null, false
}

// foldLabels persists the newest-first-resolved label set for every node
// whose labels were touched, under reservedLabelKey.
func (e *Engine) foldLabels(runs []*memtable.L0Run, touched map[uint32]struct{}, blocked map[uint32]struct{}) error {
	for id := range touched {
		if _, dead := blocked[id]; dead {
			continue
		}
		var labels []uint32
		found := false
		for _, run := range runs {
			if l, ok := run.LabelOverlay[id]; ok {
				labels = l
				found = true
				break
			}
		}
		if !found {
			continue
		}
		items := make([]value.Value, len(labels))
		for i, l := range labels {
			items[i] = value.Int(int64(l))
		}
		if err := e.props.SetNodeProperty(id, reservedLabelKey, value.List(items)); err != nil {
			return err
		}
	}
	return nil
}

// collectLiveTriples merges every run's edges with every existing segment's
// edges, producing the input to csr.Build. Runs are walked newest-first: an
// edge tombstone hides the edge in its own run, in every older run and in
// the segments, while an edge re-created in a newer run survives it. Edges
// touching a blocked node are always dropped.
func collectLiveTriples(runs []*memtable.L0Run, segments []*csr.Segment, blockedNodes map[uint32]struct{}, blockedEdges map[memtable.EdgeKey]struct{}) []csr.Triple {
	seen := make(map[memtable.EdgeKey]struct{})
	var triples []csr.Triple
	add := func(src, rel, dst uint32) {
		k := memtable.EdgeKey{Src: src, Rel: rel, Dst: dst}
		if _, dup := seen[k]; dup {
			return
		}
		if _, dead := blockedNodes[src]; dead {
			return
		}
		if _, dead := blockedNodes[dst]; dead {
			return
		}
		seen[k] = struct{}{}
		triples = append(triples, csr.Triple{Src: src, Rel: rel, Dst: dst})
	}
	hidden := make(map[memtable.EdgeKey]struct{})
	for _, run := range runs {
		for k := range run.TombstonedEdges {
			hidden[k] = struct{}{}
		}
		for src, edges := range run.EdgesBySrc {
			for _, e := range edges {
				if _, dead := hidden[memtable.EdgeKey{Src: src, Rel: e.Rel, Dst: e.Dst}]; !dead {
					add(src, e.Rel, e.Dst)
				}
			}
		}
	}
	for _, seg := range segments {
		for srcOff := 0; srcOff+1 < len(seg.Offsets); srcOff++ {
			src := seg.MinSrc + uint32(srcOff)
			start, end := seg.Offsets[srcOff], seg.Offsets[srcOff+1]
			for _, e := range seg.Edges[start:end] {
				if _, dead := blockedEdges[memtable.EdgeKey{Src: src, Rel: e.Rel, Dst: e.Dst}]; !dead {
					add(src, e.Rel, e.Dst)
				}
			}
		}
	}
	return triples
}

// persistSegments encodes segs as a length-prefixed concatenation of
// csr.Segment.Encode() blobs and writes it as one blob chain, returning
// its id for the next ManifestSwitch's StatsRoot.
func (e *Engine) persistSegments(segs []*csr.Segment) (uint32, error) {
	var buf []byte
	for _, seg := range segs {
		enc := seg.Encode()
		lenBuf := make([]byte, 4)
		binary.LittleEndian.PutUint32(lenBuf, uint32(len(enc)))
		buf = append(buf, lenBuf...)
		buf = append(buf, enc...)
	}
	return blob.Open(e.pager).WriteDirect(buf)
}

// reindexAll rebuilds every named secondary index from scratch against the
// current (post-fold) live node set. This is a correctness-first sweep in
// the same spirit as kbtree.DeleteExactRebuild: simple, O(nodes * indexes),
// and never wrong, at the cost of redoing work an incremental diff would
// avoid (DESIGN.md).
func (e *Engine) reindexAll(blockedNodes map[uint32]struct{}) error {
	for name, tree := range e.indexTrees {
		if name == vectorTreeName {
			continue
		}
		labelName, field, ok := splitLabelField(name)
		if !ok {
			continue
		}
		labelID, ok := e.labels.Lookup(labelName)
		if !ok {
			continue
		}
		fresh, err := kbtree.Create(e.pager)
		if err != nil {
			return err
		}
		n := e.ids.Len()
		for id := uint32(0); id < n; id++ {
			if _, dead := blockedNodes[id]; dead {
				continue
			}
			has, err := e.hasLabel(id, labelID)
			if err != nil {
				return err
			}
			if !has {
				continue
			}
			v, ok, err := e.props.GetNodeProperty(id, field)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			entry, _ := e.catalog.Lookup(name)
			if err := fresh.Insert(index.EncodeKey(entry.ID, v, id), uint64(id)); err != nil {
				return err
			}
		}
		e.indexTrees[name] = fresh
		if err := e.catalog.UpdateRoot(name, uint64(fresh.Root())); err != nil {
			return err
		}
		_ = tree // old tree's pages are simply abandoned; vacuum reclaims them
	}
	return nil
}

// hasLabel resolves the same way snapshot.NodeLabels does: a persisted
// label set (folded by a prior SET/REMOVE LABELS) overrides the creation
// label entirely; only a never-relabeled node falls back to the idmap.
func (e *Engine) hasLabel(id, labelID uint32) (bool, error) {
	v, ok, err := e.props.GetNodeProperty(id, reservedLabelKey)
	if err != nil {
		return false, err
	}
	if ok {
		for _, item := range v.List {
			if uint32(item.Int) == labelID {
				return true, nil
			}
		}
		return false, nil
	}
	lbl, err := e.ids.Label(id)
	if err != nil {
		return false, err
	}
	return lbl == labelID, nil
}
