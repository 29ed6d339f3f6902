package engine

import "github.com/nervusdb/nervusdb/snapshot"

// Snapshot captures the engine's current read-only view: the
// published run list and segment list under runsMu, plus the already-
// immutable interner/catalog/property-store/vector handles. Readers never
// take the write lock, so a concurrent Commit or Compact can never block a
// snapshot in progress, nor can a snapshot ever observe a partially
// published run list (the slice swap in WriteTx.Commit/Compact happens
// entirely under runsMu).
func (e *Engine) Snapshot() *snapshot.Snapshot {
	e.runsMu.RLock()
	runs := e.runs
	segments := e.segments
	e.runsMu.RUnlock()

	scanners := make(map[string]func([]byte, func([]byte, uint64) bool) error, len(e.indexTrees))
	for name, tree := range e.indexTrees {
		if name == vectorTreeName {
			continue
		}
		scanners[name] = tree.ScanPrefix
	}

	return &snapshot.Snapshot{
		Runs:       runs,
		Segments:   segments,
		Labels:     e.labels.Snapshot(),
		RelTypes:   e.relTypes.Snapshot(),
		PropKeys:   e.propKeys.Snapshot(),
		IDs:        e.ids,
		Props:      e.props,
		Catalog:    e.catalog.Snapshot(),
		IndexTrees: snapshot.NewIndexTrees(scanners),
		Vector:     e.vector,
	}
}
