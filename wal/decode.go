package wal

import (
	"encoding/binary"
	"fmt"

	"github.com/nervusdb/nervusdb/errkind"
)

func decodeBody(buf []byte) (Record, error) {
	if len(buf) == 0 {
		return Record{}, errkind.New(errkind.KindWalProtocol, "empty record body")
	}
	t := RecordType(buf[0])
	body := buf[1:]

	switch t {
	case RecBeginTx, RecCommitTx:
		if len(body) < 8 {
			return Record{}, shortBody(t)
		}
		return Record{Type: t, TxID: binary.LittleEndian.Uint64(body)}, nil

	case RecCreateNode:
		if len(body) < 16 {
			return Record{}, shortBody(t)
		}
		return Record{
			Type:       t,
			ExternalID: binary.LittleEndian.Uint64(body),
			LabelID:    binary.LittleEndian.Uint32(body[8:]),
			InternalID: binary.LittleEndian.Uint32(body[12:]),
		}, nil

	case RecCreateEdge, RecTombstoneEdge:
		if len(body) < 12 {
			return Record{}, shortBody(t)
		}
		return Record{
			Type: t,
			Src:  binary.LittleEndian.Uint32(body),
			Rel:  binary.LittleEndian.Uint32(body[4:]),
			Dst:  binary.LittleEndian.Uint32(body[8:]),
		}, nil

	case RecTombstoneNode:
		if len(body) < 4 {
			return Record{}, shortBody(t)
		}
		return Record{Type: t, InternalID: binary.LittleEndian.Uint32(body)}, nil

	case RecSetNodeProperty:
		if len(body) < 6 {
			return Record{}, shortBody(t)
		}
		nodeID := binary.LittleEndian.Uint32(body)
		keyLen := binary.LittleEndian.Uint16(body[4:])
		off := 6
		if len(body) < off+int(keyLen)+4 {
			return Record{}, shortBody(t)
		}
		key := string(body[off : off+int(keyLen)])
		off += int(keyLen)
		valLen := binary.LittleEndian.Uint32(body[off:])
		off += 4
		if len(body) < off+int(valLen) {
			return Record{}, shortBody(t)
		}
		val := append([]byte(nil), body[off:off+int(valLen)]...)
		return Record{Type: t, InternalID: nodeID, Key: key, Value: val}, nil

	case RecSetEdgeProperty:
		if len(body) < 14 {
			return Record{}, shortBody(t)
		}
		src := binary.LittleEndian.Uint32(body)
		rel := binary.LittleEndian.Uint32(body[4:])
		dst := binary.LittleEndian.Uint32(body[8:])
		keyLen := binary.LittleEndian.Uint16(body[12:])
		off := 14
		if len(body) < off+int(keyLen)+4 {
			return Record{}, shortBody(t)
		}
		key := string(body[off : off+int(keyLen)])
		off += int(keyLen)
		valLen := binary.LittleEndian.Uint32(body[off:])
		off += 4
		if len(body) < off+int(valLen) {
			return Record{}, shortBody(t)
		}
		val := append([]byte(nil), body[off:off+int(valLen)]...)
		return Record{Type: t, Src: src, Rel: rel, Dst: dst, Key: key, Value: val}, nil

	case RecRemoveNodeProperty:
		if len(body) < 6 {
			return Record{}, shortBody(t)
		}
		nodeID := binary.LittleEndian.Uint32(body)
		keyLen := binary.LittleEndian.Uint16(body[4:])
		if len(body) < 6+int(keyLen) {
			return Record{}, shortBody(t)
		}
		key := string(body[6 : 6+int(keyLen)])
		return Record{Type: t, InternalID: nodeID, Key: key}, nil

	case RecRemoveEdgeProperty:
		if len(body) < 14 {
			return Record{}, shortBody(t)
		}
		src := binary.LittleEndian.Uint32(body)
		rel := binary.LittleEndian.Uint32(body[4:])
		dst := binary.LittleEndian.Uint32(body[8:])
		keyLen := binary.LittleEndian.Uint16(body[12:])
		if len(body) < 14+int(keyLen) {
			return Record{}, shortBody(t)
		}
		key := string(body[14 : 14+int(keyLen)])
		return Record{Type: t, Src: src, Rel: rel, Dst: dst, Key: key}, nil

	case RecManifestSwitch:
		if len(body) < 12 {
			return Record{}, shortBody(t)
		}
		epoch := binary.LittleEndian.Uint64(body)
		count := binary.LittleEndian.Uint32(body[8:])
		off := 12
		if len(body) < off+int(count)*8+16 {
			return Record{}, shortBody(t)
		}
		ids := make([]uint64, count)
		for i := range ids {
			ids[i] = binary.LittleEndian.Uint64(body[off:])
			off += 8
		}
		propsRoot := binary.LittleEndian.Uint64(body[off:])
		off += 8
		statsRoot := binary.LittleEndian.Uint64(body[off:])
		return Record{Type: t, ManifestEpoch: epoch, SegmentIDs: ids, PropertiesRoot: propsRoot, StatsRoot: statsRoot}, nil

	case RecCheckpoint:
		return Record{Type: t}, nil

	case RecPageWrite:
		if len(body) < 12 {
			return Record{}, shortBody(t)
		}
		pageID := binary.LittleEndian.Uint32(body)
		offset := binary.LittleEndian.Uint32(body[4:])
		length := binary.LittleEndian.Uint32(body[8:])
		if len(body) < 12+int(length) {
			return Record{}, shortBody(t)
		}
		data := append([]byte(nil), body[12:12+int(length)]...)
		return Record{Type: t, PageID: pageID, Offset: offset, Data: data}, nil

	case RecPageFree:
		if len(body) < 4 {
			return Record{}, shortBody(t)
		}
		return Record{Type: t, PageID: binary.LittleEndian.Uint32(body)}, nil

	default:
		return Record{}, errkind.New(errkind.KindWalProtocol, fmt.Sprintf("unknown record type %d", t))
	}
}

func shortBody(t RecordType) error {
	return errkind.New(errkind.KindWalProtocol, fmt.Sprintf("truncated body for record type %d", t))
}
