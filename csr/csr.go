// Package csr implements NervusDB's compacted edge segments:
// an immutable compressed-sparse-row array produced by compaction, fusing
// L0 runs (and any prior segment) into a sorted, offset-indexed edge list
// that a snapshot binary-searches instead of walking per-transaction
// overlays. Segments never observe tombstones absorbed during the
// compaction that produced them.
package csr

import (
	"encoding/binary"
	"sort"

	"github.com/nervusdb/nervusdb/errkind"
)

// Edge is one CSR adjacency entry: the relationship type and destination
// (or, when walked from a by-dst angle, the source) internal id.
type Edge struct {
	Rel uint32
	Dst uint32
}

// Triple is a fully-qualified (src, rel, dst) edge, the unit compaction
// sorts and folds into a Segment.
type Triple struct {
	Src uint32
	Rel uint32
	Dst uint32
}

// Segment is one immutable CSR block: offsets[i] gives the
// start index into Edges for source (MinSrc+i); offsets[len-1] is the
// total edge count, the classic CSR sentinel.
type Segment struct {
	ID      uint64
	MinSrc  uint32
	MaxSrc  uint32
	Offsets []uint64
	Edges   []Edge
}

// Build sorts triples by (Src, Rel, Dst) and folds them into a new
// Segment. Compaction is responsible for excluding any tombstoned
// node/edge before calling Build.
func Build(id uint64, triples []Triple) *Segment {
	if len(triples) == 0 {
		return &Segment{ID: id, Offsets: []uint64{0}}
	}
	sorted := append([]Triple(nil), triples...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Src != sorted[j].Src {
			return sorted[i].Src < sorted[j].Src
		}
		if sorted[i].Rel != sorted[j].Rel {
			return sorted[i].Rel < sorted[j].Rel
		}
		return sorted[i].Dst < sorted[j].Dst
	})

	minSrc, maxSrc := sorted[0].Src, sorted[len(sorted)-1].Src
	width := int(maxSrc-minSrc) + 2
	offsets := make([]uint64, width)
	edges := make([]Edge, len(sorted))

	srcIdx := 0
	for i, t := range sorted {
		edges[i] = Edge{Rel: t.Rel, Dst: t.Dst}
		for srcIdx <= int(t.Src-minSrc) {
			offsets[srcIdx] = uint64(i)
			srcIdx++
		}
	}
	for srcIdx < width {
		offsets[srcIdx] = uint64(len(sorted))
		srcIdx++
	}

	return &Segment{ID: id, MinSrc: minSrc, MaxSrc: maxSrc, Offsets: offsets, Edges: edges}
}

// Neighbors returns the edges whose source is src, located by indexing
// the offsets array directly at src-MinSrc.
func (s *Segment) Neighbors(src uint32) []Edge {
	if len(s.Edges) == 0 || src < s.MinSrc || src > s.MaxSrc {
		return nil
	}
	i := int(src - s.MinSrc)
	if i+1 >= len(s.Offsets) {
		return nil
	}
	start, end := s.Offsets[i], s.Offsets[i+1]
	return s.Edges[start:end]
}

// IncomingNeighbors linearly scans the segment for edges whose destination
// is dst. Without a secondary by-dst index, this is the correctness-first fallback;
// a dedicated by-dst CSR mirror is a possible future optimization noted in
// DESIGN.md.
func (s *Segment) IncomingNeighbors(dst uint32) []Triple {
	var out []Triple
	for srcOff := 0; srcOff+1 < len(s.Offsets); srcOff++ {
		start, end := s.Offsets[srcOff], s.Offsets[srcOff+1]
		for _, e := range s.Edges[start:end] {
			if e.Dst == dst {
				out = append(out, Triple{Src: s.MinSrc + uint32(srcOff), Rel: e.Rel, Dst: e.Dst})
			}
		}
	}
	return out
}

// Encode serializes the segment into a flat byte buffer suitable for blob
// storage: id, min/max src, offsets, edges, all little-endian.
func (s *Segment) Encode() []byte {
	buf := make([]byte, 8+4+4+4+len(s.Offsets)*8+4+len(s.Edges)*8)
	off := 0
	binary.LittleEndian.PutUint64(buf[off:], s.ID)
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], s.MinSrc)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], s.MaxSrc)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(s.Offsets)))
	off += 4
	for _, o := range s.Offsets {
		binary.LittleEndian.PutUint64(buf[off:], o)
		off += 8
	}
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(s.Edges)))
	off += 4
	for _, e := range s.Edges {
		binary.LittleEndian.PutUint32(buf[off:], e.Rel)
		off += 4
		binary.LittleEndian.PutUint32(buf[off:], e.Dst)
		off += 4
	}
	return buf
}

// Decode is the inverse of Encode.
func Decode(buf []byte) (*Segment, error) {
	if len(buf) < 20 {
		return nil, errkind.New(errkind.KindStorageCorrupted, "csr segment truncated")
	}
	off := 0
	id := binary.LittleEndian.Uint64(buf[off:])
	off += 8
	minSrc := binary.LittleEndian.Uint32(buf[off:])
	off += 4
	maxSrc := binary.LittleEndian.Uint32(buf[off:])
	off += 4
	offCount := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	if len(buf) < off+offCount*8+4 {
		return nil, errkind.New(errkind.KindStorageCorrupted, "csr segment offsets truncated")
	}
	offsets := make([]uint64, offCount)
	for i := range offsets {
		offsets[i] = binary.LittleEndian.Uint64(buf[off:])
		off += 8
	}
	edgeCount := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	if len(buf) < off+edgeCount*8 {
		return nil, errkind.New(errkind.KindStorageCorrupted, "csr segment edges truncated")
	}
	edges := make([]Edge, edgeCount)
	for i := range edges {
		edges[i].Rel = binary.LittleEndian.Uint32(buf[off:])
		off += 4
		edges[i].Dst = binary.LittleEndian.Uint32(buf[off:])
		off += 4
	}
	return &Segment{ID: id, MinSrc: minSrc, MaxSrc: maxSrc, Offsets: offsets, Edges: edges}, nil
}
