// Package engine implements NervusDB's graph engine: the write
// transaction lifecycle, compaction, manifest publication, vacuum, and
// reopen-via-WAL-replay that ties every storage primitive (pager, WAL,
// idmap, interners, blob store, property store, index catalog, HNSW index)
// into one coherent, crash-safe unit: a single write mutex guarding a
// mutable core, atomics for
// monotonic counters, and a published, newest-first overlay list swapped in
// wholesale rather than mutated in place.
package engine

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/nervusdb/nervusdb/blob"
	"github.com/nervusdb/nervusdb/csr"
	"github.com/nervusdb/nervusdb/hnsw"
	"github.com/nervusdb/nervusdb/idmap"
	"github.com/nervusdb/nervusdb/index"
	"github.com/nervusdb/nervusdb/interner"
	"github.com/nervusdb/nervusdb/kbtree"
	"github.com/nervusdb/nervusdb/memtable"
	"github.com/nervusdb/nervusdb/pager"
	"github.com/nervusdb/nervusdb/propstore"
	"github.com/nervusdb/nervusdb/value"
	"github.com/nervusdb/nervusdb/wal"
)

// Config configures a new or reopened Engine. Vector carries the global
// HNSW configuration; VectorEnabled toggles whether one is wired at all,
// since most databases never touch vector search.
type Config struct {
	DataDir       string
	VectorEnabled bool
	VectorDim     int
	Vector        hnsw.Config
}

// DefaultConfig returns a Config with sensible defaults rooted at dataDir.
func DefaultConfig(dataDir string) Config {
	return Config{DataDir: dataDir, Vector: hnsw.DefaultConfig()}
}

// Engine is NervusDB's single-writer, multi-reader storage core.
type Engine struct {
	mu sync.Mutex // write lock: serializes writers; never taken by readers

	// internMu serializes interner saves; internPersisted takes it whether
	// or not the caller already holds mu.
	internMu sync.Mutex

	pager *pager.Pager
	wal   *wal.WAL

	ids      *idmap.IdMap
	labels   *interner.Interner
	relTypes *interner.Interner
	propKeys *interner.Interner
	props    *propstore.Store
	catalog  *index.Catalog
	indexTrees map[string]*kbtree.Tree

	vector *hnsw.Index

	runsMu   sync.RWMutex
	runs     []*memtable.L0Run // newest-first
	segments []*csr.Segment

	nextTxID      atomic.Uint64
	nextSegmentID atomic.Uint64

	stats struct {
		commits   atomic.Int64
		compacts  atomic.Int64
		vacuums   atomic.Int64
	}
}

// Open opens (creating if necessary) an engine rooted at cfg.DataDir,
// replaying the WAL to reconstruct the IdMap and the L0Run list.
func Open(cfg Config) (*Engine, error) {
	p, err := pager.Open(cfg.DataDir + ".ndb")
	if err != nil {
		return nil, fmt.Errorf("open pager: %w", err)
	}
	w, err := wal.Open(cfg.DataDir + ".wal")
	if err != nil {
		return nil, fmt.Errorf("open wal: %w", err)
	}

	ids, err := idmap.Open(p)
	if err != nil {
		return nil, fmt.Errorf("open idmap: %w", err)
	}
	meta := p.Meta()
	labels, err := interner.LoadPersistent(p, meta.LabelCatalogPage)
	if err != nil {
		return nil, fmt.Errorf("load label catalog: %w", err)
	}
	relTypes, err := interner.LoadPersistent(p, meta.RelCatalogPage)
	if err != nil {
		return nil, fmt.Errorf("load reltype catalog: %w", err)
	}

	var props *propstore.Store
	if meta.PropertiesRoot == 0 {
		props, err = propstore.Create(p)
	} else {
		props = propstore.Open(p, uint32(meta.PropertiesRoot))
	}
	if err != nil {
		return nil, fmt.Errorf("open property store: %w", err)
	}
	p.UpdateMeta(func(m *pager.Meta) { m.PropertiesRoot = uint64(props.Root()) })

	catalog, err := index.Open(p)
	if err != nil {
		return nil, fmt.Errorf("open index catalog: %w", err)
	}

	e := &Engine{
		pager:      p,
		wal:        w,
		ids:        ids,
		labels:     labels,
		relTypes:   relTypes,
		propKeys:   interner.New(),
		props:      props,
		catalog:    catalog,
		indexTrees: make(map[string]*kbtree.Tree),
	}
	for _, entry := range catalog.Snapshot().All() {
		e.indexTrees[entry.Name] = kbtree.Open(p, uint32(entry.Root))
	}

	if cfg.VectorEnabled {
		vecTree, err := e.openOrCreateNamedTree(vectorTreeName)
		if err != nil {
			return nil, fmt.Errorf("open vector tree: %w", err)
		}
		vs := hnsw.NewPersistentVectorStorage(p, vecTree)
		gs := hnsw.NewPersistentGraphStorage(p, vecTree)
		e.vector = hnsw.New(cfg.Vector, cfg.VectorDim, vs, gs)
	}

	if err := e.replay(); err != nil {
		return nil, fmt.Errorf("replay wal: %w", err)
	}

	log.Printf("nervusdb engine opened at %s (nodes=%d, runs=%d, segments=%d)",
		cfg.DataDir, e.ids.Len(), len(e.runs), len(e.segments))
	return e, nil
}

// openOrCreateNamedTree wires a private kbtree into the index catalog under
// a reserved internal name, giving engine-owned structures (the vector
// index) the same crash-durable root bookkeeping named user indexes get.
func (e *Engine) openOrCreateNamedTree(name string) (*kbtree.Tree, error) {
	entry, err := e.catalog.GetOrCreate(name, func() (uint64, error) {
		t, err := kbtree.Create(e.pager)
		if err != nil {
			return 0, err
		}
		return uint64(t.Root()), nil
	})
	if err != nil {
		return nil, err
	}
	return kbtree.Open(e.pager, uint32(entry.Root)), nil
}

// replay reconstructs the in-memory L0Run list from every WAL transaction
// committed since the last ManifestSwitch (transactions before that are
// already folded into the CSR segments recorded by that switch), and
// re-applies every CreateNode's IdMap record (ApplyCreate is idempotent,
// so re-running it for an already-persisted create is harmless — this is
// what makes WAL replay safe against a crash between WAL fsync and the
// IdMap page flush; replay is idempotent).
func (e *Engine) replay() error {
	txs, err := e.wal.ReadAll()
	if err != nil {
		return err
	}

	var liveRuns []*memtable.L0Run
	var lastManifest *wal.Record
	lastManifestAt := -1
	for i, tx := range txs {
		for j := range tx.Ops {
			if tx.Ops[j].Type == wal.RecManifestSwitch {
				lastManifest = &tx.Ops[j]
				lastManifestAt = i
			}
		}
	}

	var segments []*csr.Segment
	if lastManifest != nil {
		segments = e.loadSegments(lastManifest.StatsRoot)
		e.props = propstore.Open(e.pager, uint32(lastManifest.PropertiesRoot))
		e.pager.UpdateMeta(func(m *pager.Meta) {
			m.PropertiesRoot = lastManifest.PropertiesRoot
			m.StatsRoot = lastManifest.StatsRoot
			m.ManifestEpoch = lastManifest.ManifestEpoch
		})
	}

	for i, tx := range txs {
		mt := memtable.New(tx.TxID)
		touched := false
		for _, op := range tx.Ops {
			touched = true
			switch op.Type {
			case wal.RecCreateNode:
				if err := e.ids.ApplyCreate(op.ExternalID, op.LabelID, op.InternalID); err != nil {
					return err
				}
			case wal.RecCreateEdge:
				mt.AddEdge(op.Src, op.Rel, op.Dst)
			case wal.RecTombstoneNode:
				mt.TombstoneNode(op.InternalID)
			case wal.RecTombstoneEdge:
				mt.TombstoneEdge(op.Src, op.Rel, op.Dst)
			case wal.RecSetNodeProperty:
				v, err := value.DecodeProperty(op.Value)
				if err != nil {
					return err
				}
				if op.Key == reservedLabelKey {
					labelIDs := make([]uint32, len(v.List))
					for i, item := range v.List {
						labelIDs[i] = uint32(item.Int)
					}
					mt.SetLabels(op.InternalID, labelIDs)
					break
				}
				e.propKeys.Intern(op.Key)
				mt.SetNodeProperty(op.InternalID, op.Key, v)
			case wal.RecSetEdgeProperty:
				v, err := value.DecodeProperty(op.Value)
				if err != nil {
					return err
				}
				e.propKeys.Intern(op.Key)
				mt.SetEdgeProperty(op.Src, op.Rel, op.Dst, op.Key, v)
			case wal.RecRemoveNodeProperty:
				mt.RemoveNodeProperty(op.InternalID, op.Key)
			case wal.RecRemoveEdgeProperty:
				mt.RemoveEdgeProperty(op.Src, op.Rel, op.Dst, op.Key)
			case wal.RecManifestSwitch:
				// Already folded into segments; nothing to replay into a run.
			}
		}
		if i > lastManifestAt && touched {
			liveRuns = append([]*memtable.L0Run{mt.FreezeIntoRun()}, liveRuns...)
		}
		if tx.TxID >= e.nextTxID.Load() {
			e.nextTxID.Store(tx.TxID + 1)
		}
	}

	e.runs = liveRuns
	e.segments = segments
	for _, seg := range segments {
		if seg.ID >= e.nextSegmentID.Load() {
			e.nextSegmentID.Store(seg.ID + 1)
		}
	}
	return nil
}

// loadSegments reads the CSR segments recorded by a ManifestSwitch's
// StatsRoot blob (a length-prefixed concatenation of csr.Segment.Encode()
// blobs, reusing the blob store rather than inventing a new page type for
// what is, underneath, just a variable-length byte payload).
func (e *Engine) loadSegments(statsRoot uint64) []*csr.Segment {
	if statsRoot == 0 {
		return nil
	}
	bs := blob.Open(e.pager)
	raw, err := bs.ReadDirect(uint32(statsRoot))
	if err != nil || len(raw) == 0 {
		return nil
	}
	var segs []*csr.Segment
	off := 0
	for off+4 <= len(raw) {
		segLen := int(u32le(raw[off:]))
		off += 4
		if off+segLen > len(raw) {
			break
		}
		seg, err := csr.Decode(raw[off : off+segLen])
		if err == nil {
			segs = append(segs, seg)
		}
		off += segLen
	}
	return segs
}

func u32le(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// Close syncs and releases every underlying file handle.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.wal.Close(); err != nil {
		return err
	}
	return e.pager.Close()
}

// InternLabel resolves (assigning if new) name's label id, flushing the
// durable label catalog page whenever a new name is added so it survives
// reopen.
func (e *Engine) InternLabel(name string) (uint32, error) {
	return e.internPersisted(e.labels, name, func(pageID uint32) (uint32, error) {
		newPage, err := interner.SavePersistent(e.pager, e.labels, pageID)
		if err != nil {
			return 0, err
		}
		e.pager.UpdateMeta(func(m *pager.Meta) { m.LabelCatalogPage = newPage })
		return newPage, nil
	})
}

// InternRelType is InternLabel's relationship-type counterpart.
func (e *Engine) InternRelType(name string) (uint32, error) {
	return e.internPersisted(e.relTypes, name, func(pageID uint32) (uint32, error) {
		newPage, err := interner.SavePersistent(e.pager, e.relTypes, pageID)
		if err != nil {
			return 0, err
		}
		e.pager.UpdateMeta(func(m *pager.Meta) { m.RelCatalogPage = newPage })
		return newPage, nil
	})
}

func (e *Engine) internPersisted(in *interner.Interner, name string, save func(pageID uint32) (uint32, error)) (uint32, error) {
	if id, ok := in.Lookup(name); ok {
		return id, nil
	}
	e.internMu.Lock()
	defer e.internMu.Unlock()
	if id, ok := in.Lookup(name); ok {
		return id, nil
	}
	id := in.Intern(name)
	if _, err := save(0); err != nil {
		return 0, err
	}
	return id, nil
}

// LabelName/RelTypeName resolve id back to its interned string.
func (e *Engine) LabelName(id uint32) (string, bool)   { return e.labels.Name(id) }
func (e *Engine) RelTypeName(id uint32) (string, bool) { return e.relTypes.Name(id) }

// internPropKey records key in the engine's in-memory property-key
// registry, rebuilt from the WAL at replay the same way e.runs is, so
// db.propertyKeys() never needs a dedicated durable catalog page.
func (e *Engine) internPropKey(key string) {
	e.propKeys.Intern(key)
}

// Pager exposes the underlying pager for components (index maintenance,
// vacuum) that must allocate pages directly.
func (e *Engine) Pager() *pager.Pager { return e.pager }

// Stats reports informational counters.
type Stats struct {
	Commits    int64
	Compacts   int64
	Vacuums    int64
	Nodes      uint32
	Runs       int
	Segments   int
}

func (e *Engine) Stats() Stats {
	e.runsMu.RLock()
	defer e.runsMu.RUnlock()
	return Stats{
		Commits:  e.stats.commits.Load(),
		Compacts: e.stats.compacts.Load(),
		Vacuums:  e.stats.vacuums.Load(),
		Nodes:    e.ids.Len(),
		Runs:     len(e.runs),
		Segments: len(e.segments),
	}
}
