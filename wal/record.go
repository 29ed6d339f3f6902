// Package wal implements NervusDB's append-only write-ahead log: a stream
// of length-prefixed, CRC-checked, type-tagged records bracketing each
// transaction with BeginTx/CommitTx. Every durable mutation to
// the graph engine passes through here before it is ever applied in memory.
package wal

import (
	"encoding/binary"
)

// RecordType tags the body of a WAL record.
type RecordType byte

const (
	RecBeginTx RecordType = iota + 1
	RecCommitTx
	RecCreateNode
	RecCreateEdge
	RecTombstoneNode
	RecTombstoneEdge
	RecSetNodeProperty
	RecSetEdgeProperty
	RecRemoveNodeProperty
	RecRemoveEdgeProperty
	RecManifestSwitch
	RecCheckpoint
	RecPageWrite
	RecPageFree
)

// Record is a decoded WAL entry. Only the fields relevant to Type are
// populated; a flat struct stands in for a tagged union, carrying all
// fields and ignoring the unused ones per type.
type Record struct {
	Type RecordType

	TxID uint64

	ExternalID uint64
	LabelID    uint32
	InternalID uint32

	Src uint32
	Rel uint32
	Dst uint32

	Key   string
	Value []byte

	ManifestEpoch  uint64
	SegmentIDs     []uint64
	PropertiesRoot uint64
	StatsRoot      uint64

	PageID uint32
	Offset uint32
	Data   []byte
}

// BeginTx builds a BeginTx record.
func BeginTx(txid uint64) Record { return Record{Type: RecBeginTx, TxID: txid} }

// CommitTx builds a CommitTx record.
func CommitTx(txid uint64) Record { return Record{Type: RecCommitTx, TxID: txid} }

// CreateNode builds a CreateNode record.
func CreateNode(externalID uint64, labelID, internalID uint32) Record {
	return Record{Type: RecCreateNode, ExternalID: externalID, LabelID: labelID, InternalID: internalID}
}

// CreateEdge builds a CreateEdge record.
func CreateEdge(src, rel, dst uint32) Record {
	return Record{Type: RecCreateEdge, Src: src, Rel: rel, Dst: dst}
}

// TombstoneNode builds a TombstoneNode record.
func TombstoneNode(internalID uint32) Record {
	return Record{Type: RecTombstoneNode, InternalID: internalID}
}

// TombstoneEdge builds a TombstoneEdge record.
func TombstoneEdge(src, rel, dst uint32) Record {
	return Record{Type: RecTombstoneEdge, Src: src, Rel: rel, Dst: dst}
}

// SetNodeProperty builds a SetNodeProperty record.
func SetNodeProperty(internalID uint32, key string, encoded []byte) Record {
	return Record{Type: RecSetNodeProperty, InternalID: internalID, Key: key, Value: encoded}
}

// SetEdgeProperty builds a SetEdgeProperty record.
func SetEdgeProperty(src, rel, dst uint32, key string, encoded []byte) Record {
	return Record{Type: RecSetEdgeProperty, Src: src, Rel: rel, Dst: dst, Key: key, Value: encoded}
}

// RemoveNodeProperty builds a RemoveNodeProperty record.
func RemoveNodeProperty(internalID uint32, key string) Record {
	return Record{Type: RecRemoveNodeProperty, InternalID: internalID, Key: key}
}

// RemoveEdgeProperty builds a RemoveEdgeProperty record.
func RemoveEdgeProperty(src, rel, dst uint32, key string) Record {
	return Record{Type: RecRemoveEdgeProperty, Src: src, Rel: rel, Dst: dst, Key: key}
}

// ManifestSwitch builds a ManifestSwitch record.
func ManifestSwitch(epoch uint64, segmentIDs []uint64, propertiesRoot, statsRoot uint64) Record {
	return Record{Type: RecManifestSwitch, ManifestEpoch: epoch, SegmentIDs: segmentIDs, PropertiesRoot: propertiesRoot, StatsRoot: statsRoot}
}

// Checkpoint builds a Checkpoint marker record.
func Checkpoint() Record { return Record{Type: RecCheckpoint} }

// PageWrite builds a redo-variant PageWrite record (only emitted when redo
// logging is enabled on the pager).
func PageWrite(pageID, offset uint32, data []byte) Record {
	return Record{Type: RecPageWrite, PageID: pageID, Offset: offset, Data: data}
}

// PageFree builds a PageFree record.
func PageFree(pageID uint32) Record { return Record{Type: RecPageFree, PageID: pageID} }

// encodeBody serializes a Record's type-specific payload (without the
// length/CRC framing, which WAL.Append adds).
func encodeBody(r Record) []byte {
	switch r.Type {
	case RecBeginTx, RecCommitTx:
		buf := make([]byte, 1+8)
		buf[0] = byte(r.Type)
		binary.LittleEndian.PutUint64(buf[1:], r.TxID)
		return buf
	case RecCreateNode:
		buf := make([]byte, 1+8+4+4)
		buf[0] = byte(r.Type)
		binary.LittleEndian.PutUint64(buf[1:], r.ExternalID)
		binary.LittleEndian.PutUint32(buf[9:], r.LabelID)
		binary.LittleEndian.PutUint32(buf[13:], r.InternalID)
		return buf
	case RecCreateEdge, RecTombstoneEdge:
		buf := make([]byte, 1+4+4+4)
		buf[0] = byte(r.Type)
		binary.LittleEndian.PutUint32(buf[1:], r.Src)
		binary.LittleEndian.PutUint32(buf[5:], r.Rel)
		binary.LittleEndian.PutUint32(buf[9:], r.Dst)
		return buf
	case RecTombstoneNode:
		buf := make([]byte, 1+4)
		buf[0] = byte(r.Type)
		binary.LittleEndian.PutUint32(buf[1:], r.InternalID)
		return buf
	case RecSetNodeProperty:
		key := []byte(r.Key)
		buf := make([]byte, 1+4+2+len(key)+4+len(r.Value))
		buf[0] = byte(r.Type)
		binary.LittleEndian.PutUint32(buf[1:], r.InternalID)
		binary.LittleEndian.PutUint16(buf[5:], uint16(len(key)))
		off := 7
		copy(buf[off:], key)
		off += len(key)
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(r.Value)))
		off += 4
		copy(buf[off:], r.Value)
		return buf
	case RecSetEdgeProperty:
		key := []byte(r.Key)
		buf := make([]byte, 1+4+4+4+2+len(key)+4+len(r.Value))
		buf[0] = byte(r.Type)
		binary.LittleEndian.PutUint32(buf[1:], r.Src)
		binary.LittleEndian.PutUint32(buf[5:], r.Rel)
		binary.LittleEndian.PutUint32(buf[9:], r.Dst)
		binary.LittleEndian.PutUint16(buf[13:], uint16(len(key)))
		off := 15
		copy(buf[off:], key)
		off += len(key)
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(r.Value)))
		off += 4
		copy(buf[off:], r.Value)
		return buf
	case RecRemoveNodeProperty:
		key := []byte(r.Key)
		buf := make([]byte, 1+4+2+len(key))
		buf[0] = byte(r.Type)
		binary.LittleEndian.PutUint32(buf[1:], r.InternalID)
		binary.LittleEndian.PutUint16(buf[5:], uint16(len(key)))
		copy(buf[7:], key)
		return buf
	case RecRemoveEdgeProperty:
		key := []byte(r.Key)
		buf := make([]byte, 1+4+4+4+2+len(key))
		buf[0] = byte(r.Type)
		binary.LittleEndian.PutUint32(buf[1:], r.Src)
		binary.LittleEndian.PutUint32(buf[5:], r.Rel)
		binary.LittleEndian.PutUint32(buf[9:], r.Dst)
		binary.LittleEndian.PutUint16(buf[13:], uint16(len(key)))
		copy(buf[15:], key)
		return buf
	case RecManifestSwitch:
		buf := make([]byte, 1+8+4+8*len(r.SegmentIDs)+8+8)
		buf[0] = byte(r.Type)
		binary.LittleEndian.PutUint64(buf[1:], r.ManifestEpoch)
		binary.LittleEndian.PutUint32(buf[9:], uint32(len(r.SegmentIDs)))
		off := 13
		for _, id := range r.SegmentIDs {
			binary.LittleEndian.PutUint64(buf[off:], id)
			off += 8
		}
		binary.LittleEndian.PutUint64(buf[off:], r.PropertiesRoot)
		off += 8
		binary.LittleEndian.PutUint64(buf[off:], r.StatsRoot)
		return buf
	case RecCheckpoint:
		return []byte{byte(r.Type)}
	case RecPageWrite:
		buf := make([]byte, 1+4+4+4+len(r.Data))
		buf[0] = byte(r.Type)
		binary.LittleEndian.PutUint32(buf[1:], r.PageID)
		binary.LittleEndian.PutUint32(buf[5:], r.Offset)
		binary.LittleEndian.PutUint32(buf[9:], uint32(len(r.Data)))
		copy(buf[13:], r.Data)
		return buf
	case RecPageFree:
		buf := make([]byte, 1+4)
		buf[0] = byte(r.Type)
		binary.LittleEndian.PutUint32(buf[1:], r.PageID)
		return buf
	default:
		return []byte{byte(r.Type)}
	}
}
