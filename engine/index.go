package engine

import (
	"strings"

	"github.com/nervusdb/nervusdb/index"
)

// vectorTreeName is the reserved catalog entry backing the engine's own
// HNSW vector index; it can never collide with a user index name since
// those are always "Label.field" pairs (indexName below), which always
// contain a '.'.
const vectorTreeName = "__vectors__"

// indexName is the catalog key a label/property-key pair resolves to: the
// "label.field" form snapshot.Snapshot.LookupIndex expects. It is a plain, stable convention rather than a hash so
// CreateIndex and the planner's index lookup agree without
// sharing state.
func indexName(label, field string) string {
	return label + "." + field
}

// splitLabelField is indexName's inverse, used by compaction's reindex
// sweep to recover which label/field an entry covers.
func splitLabelField(name string) (label, field string, ok bool) {
	i := strings.IndexByte(name, '.')
	if i < 0 {
		return "", "", false
	}
	return name[:i], name[i+1:], true
}

// CreateIndex registers (idempotently) a secondary index over label:field,
// building it immediately from every currently-live node so it is usable
// before the next compaction.
func (e *Engine) CreateIndex(label, field string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	name := indexName(label, field)
	if _, exists := e.catalog.Lookup(name); exists {
		return nil
	}
	labelID, err := e.InternLabel(label)
	if err != nil {
		return err
	}

	tree, err := e.openOrCreateNamedTree(name)
	if err != nil {
		return err
	}
	e.indexTrees[name] = tree

	entry, _ := e.catalog.Lookup(name)
	// Backfill through a snapshot so values still living only in L0Run
	// overlays (not yet compacted into the property store) are indexed
	// too.
	snap := e.Snapshot()
	for _, id := range snap.Nodes() {
		has, err := snap.HasLabel(id, labelID)
		if err != nil {
			return err
		}
		if !has {
			continue
		}
		v, ok, err := snap.NodeProperty(id, field)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := tree.Insert(index.EncodeKey(entry.ID, v, id), uint64(id)); err != nil {
			return err
		}
	}
	return e.catalog.UpdateRoot(name, uint64(tree.Root()))
}

// IndexNames lists every user-created (non-vector) index currently
// registered in the catalog.
func (e *Engine) IndexNames() []string {
	var names []string
	for _, entry := range e.catalog.Snapshot().All() {
		if entry.Name == vectorTreeName {
			continue
		}
		names = append(names, entry.Name)
	}
	return names
}
