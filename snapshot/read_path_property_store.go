package snapshot

import "github.com/nervusdb/nervusdb/value"

// Store fallback: the on-disk half of the property read path, consulted
// only for keys the overlay walk (read_path_overlay.go) left unresolved.

// storeNodeProperty reads (id, key) from the property store.
func (s *Snapshot) storeNodeProperty(id uint32, key string) (value.Value, bool, error) {
	return s.Props.GetNodeProperty(id, key)
}

// storeEdgeProperty reads (src, rel, dst, key) from the property store.
func (s *Snapshot) storeEdgeProperty(src, rel, dst uint32, key string) (value.Value, bool, error) {
	return s.Props.GetEdgeProperty(src, rel, dst, key)
}

// extendFromNodeStore folds every stored property of id that the overlay
// walk did not already resolve into out, skipping the reserved label-set
// key (not a user property).
func (s *Snapshot) extendFromNodeStore(id uint32, out map[string]value.Value, resolved map[string]struct{}) error {
	stored, err := s.Props.NodeProperties(id)
	if err != nil {
		return err
	}
	for k, v := range stored {
		if k == reservedLabelKey {
			continue
		}
		if _, done := resolved[k]; !done {
			out[k] = v
		}
	}
	return nil
}

// extendFromEdgeStore is extendFromNodeStore's edge-keyed counterpart.
func (s *Snapshot) extendFromEdgeStore(src, rel, dst uint32, out map[string]value.Value, resolved map[string]struct{}) error {
	stored, err := s.Props.EdgeProperties(src, rel, dst)
	if err != nil {
		return err
	}
	for k, v := range stored {
		if _, done := resolved[k]; !done {
			out[k] = v
		}
	}
	return nil
}
