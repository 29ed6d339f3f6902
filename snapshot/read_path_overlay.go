package snapshot

import (
	"github.com/nervusdb/nervusdb/memtable"
	"github.com/nervusdb/nervusdb/value"
)

// Overlay resolution: the newest-first walk over L0 runs that decides
// whether a property read is already answered in memory — by an overlay
// value, by a property tombstone, or by the whole entity being
// tombstoned — before the on-disk property store is ever consulted
// (read_path_property_store.go). Snapshot.NodeProperty and friends
// compose the two halves.

// overlayResult classifies what the run walk found for one key.
type overlayResult int

const (
	overlayMiss      overlayResult = iota // no run mentions the key; ask the store
	overlayHit                            // a run supplies the value
	overlayTombstone                      // a run hides the key (or the entity)
)

// overlayNodeProperty walks runs newest-first for (id, key).
func overlayNodeProperty(runs []*memtable.L0Run, id uint32, key string) (value.Value, overlayResult) {
	for _, run := range runs {
		if _, tomb := run.TombstonedNodes[id]; tomb {
			return value.Null, overlayTombstone
		}
		if tombs, ok := run.NodePropertyTombstones[id]; ok {
			if _, t := tombs[key]; t {
				return value.Null, overlayTombstone
			}
		}
		if props, ok := run.NodePropertyOverlay[id]; ok {
			if v, ok2 := props[key]; ok2 {
				return v, overlayHit
			}
		}
	}
	return value.Null, overlayMiss
}

// overlayEdgeProperty is overlayNodeProperty's edge-keyed counterpart.
func overlayEdgeProperty(runs []*memtable.L0Run, ek EdgeKey, key string) (value.Value, overlayResult) {
	for _, run := range runs {
		if _, tomb := run.TombstonedEdges[ek]; tomb {
			return value.Null, overlayTombstone
		}
		if tombs, ok := run.EdgePropertyTombstones[ek]; ok {
			if _, t := tombs[key]; t {
				return value.Null, overlayTombstone
			}
		}
		if props, ok := run.EdgePropertyOverlay[ek]; ok {
			if v, ok2 := props[key]; ok2 {
				return v, overlayHit
			}
		}
	}
	return value.Null, overlayMiss
}

// overlayNodeProperties merges every run's overlays and tombstones for id
// newest-first. It returns the overlay-resolved values, the set of keys
// already decided either way (so the store fallback knows what to skip),
// and whether the node itself is tombstoned (in which case it has no
// properties at all).
func overlayNodeProperties(runs []*memtable.L0Run, id uint32) (out map[string]value.Value, resolved map[string]struct{}, entityGone bool) {
	out = make(map[string]value.Value)
	resolved = make(map[string]struct{})
	for _, run := range runs {
		if _, tomb := run.TombstonedNodes[id]; tomb {
			return nil, nil, true
		}
		if tombs, ok := run.NodePropertyTombstones[id]; ok {
			for k := range tombs {
				resolved[k] = struct{}{}
			}
		}
		if props, ok := run.NodePropertyOverlay[id]; ok {
			for k, v := range props {
				if _, done := resolved[k]; !done {
					resolved[k] = struct{}{}
					out[k] = v
				}
			}
		}
	}
	return out, resolved, false
}

// overlayEdgeProperties is overlayNodeProperties' edge-keyed counterpart.
func overlayEdgeProperties(runs []*memtable.L0Run, ek EdgeKey) (out map[string]value.Value, resolved map[string]struct{}, entityGone bool) {
	out = make(map[string]value.Value)
	resolved = make(map[string]struct{})
	for _, run := range runs {
		if _, tomb := run.TombstonedEdges[ek]; tomb {
			return nil, nil, true
		}
		if tombs, ok := run.EdgePropertyTombstones[ek]; ok {
			for k := range tombs {
				resolved[k] = struct{}{}
			}
		}
		if props, ok := run.EdgePropertyOverlay[ek]; ok {
			for k, v := range props {
				if _, done := resolved[k]; !done {
					resolved[k] = struct{}{}
					out[k] = v
				}
			}
		}
	}
	return out, resolved, false
}
