package index

import (
	"encoding/binary"

	"github.com/nervusdb/nervusdb/value"
)

// EncodeKey builds a secondary B-tree key: index_id ‖ ordered_value ‖
// node_id, so a cursor
// positioned at EncodePrefix(id, v) enumerates every node id that holds v
// for that index in ascending node-id order.
func EncodeKey(indexID uint32, v value.Value, nodeID uint32) []byte {
	prefix := EncodePrefix(indexID, v)
	buf := make([]byte, len(prefix)+4)
	copy(buf, prefix)
	binary.BigEndian.PutUint32(buf[len(prefix):], nodeID)
	return buf
}

// EncodePrefix builds the index_id ‖ ordered_value prefix shared by every
// key for a given indexed value.
func EncodePrefix(indexID uint32, v value.Value) []byte {
	idBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(idBuf, indexID)
	return append(idBuf, value.OrderedKey(v)...)
}
