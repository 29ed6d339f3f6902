package engine

import (
	"github.com/nervusdb/nervusdb/errkind"
	"github.com/nervusdb/nervusdb/index"
	"github.com/nervusdb/nervusdb/memtable"
	"github.com/nervusdb/nervusdb/snapshot"
	"github.com/nervusdb/nervusdb/value"
	"github.com/nervusdb/nervusdb/wal"
)

// reservedLabelKey piggybacks SET/REMOVE LABELS mutations onto the
// existing SetNodeProperty/RemoveNodeProperty WAL records, so
// a node's full label set round-trips through ordinary WAL replay as a
// List<Int> property under a key no Cypher property name can spell.
const reservedLabelKey = "\x00labels"

// pendingCreate is a reserved-but-not-yet-WAL-durable (external, label,
// internal) triple staged within one write transaction.
type pendingCreate struct {
	externalID uint64
	labelID    uint32
	internalID uint32
}

// WriteTx stages one write transaction's operations. Obtain one via
// Engine.Begin; it holds the engine's write lock until Commit or Abort
// releases it.
type WriteTx struct {
	e   *Engine
	txID uint64
	mt  *memtable.MemTable
	ops []wal.Record

	pendingCreates []pendingCreate
	seenExternal   map[uint64]bool

	// indexTouches records every node property write staged this tx, so
	// Commit can maintain any live secondary index eagerly instead of
	// waiting for the next Compact.
	indexTouches []indexTouch
	preSnap      *snapshot.Snapshot

	done bool
}

// indexTouch captures one node-property write's pre-transaction value so
// Commit can evict the now-stale index entry alongside inserting the new
// one (kbtree has no update-in-place; DeleteExactRebuild is the
// correctness-first answer to updates).
type indexTouch struct {
	nodeID uint32
	key    string
	oldVal value.Value
	hadOld bool
}

// Begin acquires the write lock and starts a new write transaction.
func (e *Engine) Begin() *WriteTx {
	e.mu.Lock()
	txID := e.nextTxID.Add(1) - 1
	return &WriteTx{
		e:            e,
		txID:         txID,
		mt:           memtable.New(txID),
		seenExternal: make(map[uint64]bool),
	}
}

func (t *WriteTx) checkOpen() error {
	if t.done {
		return errkind.New(errkind.KindTransactionClosed, "write transaction already committed or aborted")
	}
	return nil
}

// CreateNode reserves a fresh internal id for externalID/labelID, failing
// if externalID already exists on disk or was already created earlier in
// this same transaction.
func (t *WriteTx) CreateNode(externalID uint64, labelID uint32) (uint32, error) {
	if err := t.checkOpen(); err != nil {
		return 0, err
	}
	if _, exists := t.e.ids.Lookup(externalID); exists {
		return 0, errkind.New(errkind.KindConstraintViolation, "external id already exists")
	}
	if t.seenExternal[externalID] {
		return 0, errkind.New(errkind.KindConstraintViolation, "duplicate external id within transaction")
	}
	internalID := t.e.ids.Reserve(1)
	t.seenExternal[externalID] = true
	t.pendingCreates = append(t.pendingCreates, pendingCreate{externalID, labelID, internalID})
	t.ops = append(t.ops, wal.CreateNode(externalID, labelID, internalID))
	// Stage the creation label as an overlay too: the idmap record is not
	// persisted until commit, so reads within this transaction must not
	// fall through to it.
	if labelID != ^uint32(0) {
		t.mt.SetLabels(internalID, []uint32{labelID})
	} else {
		t.mt.SetLabels(internalID, nil)
	}
	return internalID, nil
}

// CreateEdge stages a new (src, rel, dst) edge.
func (t *WriteTx) CreateEdge(src, rel, dst uint32) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	t.mt.AddEdge(src, rel, dst)
	t.ops = append(t.ops, wal.CreateEdge(src, rel, dst))
	return nil
}

// TombstoneNode stages id's deletion.
func (t *WriteTx) TombstoneNode(id uint32) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	t.mt.TombstoneNode(id)
	t.ops = append(t.ops, wal.TombstoneNode(id))
	return nil
}

// TombstoneEdge stages an edge's deletion.
func (t *WriteTx) TombstoneEdge(src, rel, dst uint32) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	t.mt.TombstoneEdge(src, rel, dst)
	t.ops = append(t.ops, wal.TombstoneEdge(src, rel, dst))
	return nil
}

// SetNodeProperty stages a node property write.
func (t *WriteTx) SetNodeProperty(id uint32, key string, v value.Value) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	enc, err := value.EncodeProperty(v)
	if err != nil {
		return err
	}
	if t.preSnap == nil {
		t.preSnap = t.e.Snapshot()
	}
	oldVal, hadOld, err := t.preSnap.NodeProperty(id, key)
	if err != nil {
		return err
	}
	t.indexTouches = append(t.indexTouches, indexTouch{nodeID: id, key: key, oldVal: oldVal, hadOld: hadOld})
	t.e.internPropKey(key)
	t.mt.SetNodeProperty(id, key, v)
	t.ops = append(t.ops, wal.SetNodeProperty(id, key, enc))
	return nil
}

// InternLabel/InternRelType let a write plan resolve a Cypher label or
// relationship-type name to its id without reaching past the transaction
// boundary into the Engine directly.
func (t *WriteTx) InternLabel(name string) (uint32, error)   { return t.e.InternLabel(name) }
func (t *WriteTx) InternRelType(name string) (uint32, error) { return t.e.InternRelType(name) }

// Snapshot returns a fresh read-only view reflecting every op staged (but
// not yet committed) in this transaction plus everything already
// published, by folding a throwaway run on top of the engine's published
// view. Write-plan nodes use this to resolve MERGE's match phase and to
// read back values just written earlier in the same statement/transaction
// before Commit has run.
func (t *WriteTx) Snapshot() *snapshot.Snapshot {
	snap := t.e.Snapshot()
	pending := t.mt.FreezeIntoRun()
	snap.Runs = append([]*memtable.L0Run{pending}, snap.Runs...)
	return snap
}

// AllocateExternalID reserves a fresh, never-reused external id for a
// Cypher-level CREATE that has no caller-supplied identity to attach. It is
// the idmap's next unreserved internal id: CreateNode reserves that id
// right away, advancing idmap.Len(), so successive calls within one
// transaction and across transactions return distinct values.
func (t *WriteTx) AllocateExternalID() uint64 {
	return uint64(t.e.ids.Len())
}

// RemoveNodeProperty stages a node property removal.
func (t *WriteTx) RemoveNodeProperty(id uint32, key string) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	t.mt.RemoveNodeProperty(id, key)
	t.ops = append(t.ops, wal.RemoveNodeProperty(id, key))
	return nil
}

// SetEdgeProperty stages an edge property write.
func (t *WriteTx) SetEdgeProperty(src, rel, dst uint32, key string, v value.Value) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	enc, err := value.EncodeProperty(v)
	if err != nil {
		return err
	}
	t.e.internPropKey(key)
	t.mt.SetEdgeProperty(src, rel, dst, key, v)
	t.ops = append(t.ops, wal.SetEdgeProperty(src, rel, dst, key, enc))
	return nil
}

// RemoveEdgeProperty stages an edge property removal.
func (t *WriteTx) RemoveEdgeProperty(src, rel, dst uint32, key string) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	t.mt.RemoveEdgeProperty(src, rel, dst, key)
	t.ops = append(t.ops, wal.RemoveEdgeProperty(src, rel, dst, key))
	return nil
}

// SetLabels stages a full-replacement label set for id (SET n:L / REMOVE
// n:L both resolve to the caller computing the new full set).
func (t *WriteTx) SetLabels(id uint32, labelIDs []uint32) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	items := make([]value.Value, len(labelIDs))
	for i, l := range labelIDs {
		items[i] = value.Int(int64(l))
	}
	enc, err := value.EncodeProperty(value.List(items))
	if err != nil {
		return err
	}
	t.mt.SetLabels(id, labelIDs)
	t.ops = append(t.ops, wal.SetNodeProperty(id, reservedLabelKey, enc))
	return nil
}

// Commit durably appends BeginTx/ops/CommitTx to the WAL (fsynced), applies
// IdMap creates, and publishes the frozen L0Run, releasing the write lock.
func (t *WriteTx) Commit() error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	defer t.finish()

	if len(t.ops) == 0 {
		return nil
	}
	if err := t.e.wal.AppendTx(t.txID, t.ops); err != nil {
		return err
	}
	for _, c := range t.pendingCreates {
		if err := t.e.ids.ApplyCreate(c.externalID, c.labelID, c.internalID); err != nil {
			return err
		}
	}

	run := t.mt.FreezeIntoRun()
	t.e.runsMu.Lock()
	newRuns := make([]*memtable.L0Run, 0, len(t.e.runs)+1)
	newRuns = append(newRuns, run)
	newRuns = append(newRuns, t.e.runs...)
	t.e.runs = newRuns
	t.e.runsMu.Unlock()

	if err := t.maintainIndexes(); err != nil {
		return err
	}

	t.e.stats.commits.Add(1)
	return nil
}

// maintainIndexes keeps every live secondary index in sync with this
// transaction's property writes, immediately rather than waiting for the
// next Compact. Label-set changes (SET/REMOVE n:L) are left to
// Compact's full reindex sweep (engine/compaction.go) as before; only
// plain property writes are maintained here, which is enough to make
// "SET property, then lookup_index" observe the new value as soon as the
// transaction that changed it commits.
func (t *WriteTx) maintainIndexes() error {
	if len(t.indexTouches) == 0 {
		return nil
	}
	post := t.e.Snapshot()
	for _, touch := range t.indexTouches {
		labels, err := post.NodeLabels(touch.nodeID)
		if err != nil {
			return err
		}
		newVal, hasNew, err := post.NodeProperty(touch.nodeID, touch.key)
		if err != nil {
			return err
		}
		for _, labelID := range labels {
			labelName, ok := t.e.LabelName(labelID)
			if !ok {
				continue
			}
			name := indexName(labelName, touch.key)
			entry, exists := t.e.catalog.Lookup(name)
			if !exists {
				continue
			}
			tree := t.e.indexTrees[name]
			if touch.hadOld {
				if err := tree.DeleteExactRebuild(index.EncodeKey(entry.ID, touch.oldVal, touch.nodeID), uint64(touch.nodeID)); err != nil {
					return err
				}
			}
			if hasNew {
				if err := tree.Insert(index.EncodeKey(entry.ID, newVal, touch.nodeID), uint64(touch.nodeID)); err != nil {
					return err
				}
			}
			if err := t.e.catalog.UpdateRoot(name, uint64(tree.Root())); err != nil {
				return err
			}
		}
	}
	return nil
}

// Abort discards every staged operation without writing to the WAL.
func (t *WriteTx) Abort() {
	t.finish()
}

func (t *WriteTx) finish() {
	if t.done {
		return
	}
	t.done = true
	t.e.mu.Unlock()
}
