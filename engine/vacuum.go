package engine

import (
	"log"

	"github.com/nervusdb/nervusdb/blob"
)

// Vacuum reclaims orphan pages by marking every page reachable from the
// live roots (idmap, interner catalogs, index catalog and its trees, the
// property store with its blob chains, the segment blob chain) and
// rewriting the page file to carry only those. Runs under the
// write lock; readers holding snapshots are unaffected because snapshot
// state lives in memory, not in reclaimed pages.
func (e *Engine) Vacuum() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	marked := make(map[uint32]struct{})
	mark := func(id uint32) { marked[id] = struct{}{} }

	meta := e.pager.Meta()
	e.ids.MarkReachable(mark)
	if meta.LabelCatalogPage != 0 {
		mark(meta.LabelCatalogPage)
	}
	if meta.RelCatalogPage != 0 {
		mark(meta.RelCatalogPage)
	}
	if meta.IndexCatalogRoot != 0 {
		mark(uint32(meta.IndexCatalogRoot))
	}

	bs := blob.Open(e.pager)
	for name, tree := range e.indexTrees {
		var collect func(uint64)
		if name == vectorTreeName {
			// Vector and adjacency payloads are blob ids; the packed
			// meta record is not, so a failed chain walk is ignored
			// rather than failing the whole mark (over-marking keeps a
			// page alive one vacuum too long, never the reverse).
			collect = func(payload uint64) { _ = bs.MarkReachable(uint32(payload), mark) }
		}
		if err := tree.MarkReachablePages(mark, collect); err != nil {
			return err
		}
	}
	if err := e.props.MarkReachable(mark); err != nil {
		return err
	}
	if meta.StatsRoot != 0 {
		if err := bs.MarkReachable(uint32(meta.StatsRoot), mark); err != nil {
			return err
		}
	}

	if err := e.pager.Vacuum(marked); err != nil {
		return err
	}
	e.stats.vacuums.Add(1)
	log.Printf("nervusdb vacuum kept %d live pages", len(marked))
	return e.pager.Sync()
}
