package hnsw

import (
	"container/heap"
	"math"
	"math/rand"
)

// Metric selects the distance/similarity function exposed as "distance"
// by the index or
// negative distance so that higher values mean better").
type Metric int

const (
	MetricL2 Metric = iota
	MetricCosine
	MetricInnerProduct
)

// Config holds the tunable HNSW parameters. Of these, only EfSearch can be
// changed at runtime (via Tune), so callers can trade recall for latency.
type Config struct {
	M              int
	EfConstruction int
	EfSearch       int
	Metric         Metric
	MaxLevel       int // geometric-distribution truncation point
}

// DefaultConfig matches commonly used HNSW defaults.
func DefaultConfig() Config {
	return Config{M: 16, EfConstruction: 200, EfSearch: 64, Metric: MetricCosine, MaxLevel: 16}
}

// Stats carries informational counters that are not part of the required
// query surface but are cheap to keep.
type Stats struct {
	Recall float64
}

// Index is a hierarchical navigable small-world graph over vectors of a
// fixed dimension, built incrementally via Insert and queried via Search.
type Index struct {
	cfg   Config
	ml    float64
	dim   int
	rng   *rand.Rand
	vecs  VectorStorage
	graph GraphStorage
	Stats Stats
}

// New constructs an index. dim is the vector dimension every inserted
// item must match.
func New(cfg Config, dim int, vecs VectorStorage, graph GraphStorage) *Index {
	return &Index{
		cfg:   cfg,
		ml:    1.0 / math.Log(float64(maxInt(cfg.M, 2))),
		dim:   dim,
		rng:   rand.New(rand.NewSource(1)),
		vecs:  vecs,
		graph: graph,
	}
}

// Tune raises (or lowers) the index's ef_search for subsequent Search
// calls, trading recall against latency per query.
func (idx *Index) Tune(ef int) { idx.cfg.EfSearch = ef }

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// randomLevel draws a level from a truncated geometric distribution with
// scale ml = 1/ln(M).
func (idx *Index) randomLevel() int {
	level := 0
	for idx.rng.Float64() < math.Exp(-1.0/idx.ml) && level < idx.cfg.MaxLevel {
		level++
	}
	return level
}

// Similarity scores id's stored vector against query so that higher is
// better regardless of the configured metric.
func (idx *Index) Similarity(query []float32, id uint32) (float64, error) {
	vec, err := idx.vecs.GetVector(id)
	if err != nil {
		return 0, err
	}
	switch idx.cfg.Metric {
	case MetricCosine:
		return cosineSimilarity(query, vec), nil
	case MetricInnerProduct:
		return innerProduct(query, vec), nil
	default:
		return -l2(query, vec), nil
	}
}

func (idx *Index) distance(a, b []float32) float64 {
	switch idx.cfg.Metric {
	case MetricCosine:
		return 1 - cosineSimilarity(a, b)
	case MetricInnerProduct:
		return -innerProduct(a, b)
	default:
		return l2(a, b)
	}
}

func l2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

func innerProduct(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func cosineSimilarity(a, b []float32) float64 {
	dot := innerProduct(a, b)
	var na, nb float64
	for i := range a {
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// candidate is a (node, distance) pair used by both the min-heap (nearest
// unexplored) and max-heap (farthest kept) in search_layer.
type candidate struct {
	node uint32
	dist float64
}

type minHeap []candidate

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i].dist < h[j].dist }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

type maxHeap []candidate

func (h maxHeap) Len() int            { return len(h) }
func (h maxHeap) Less(i, j int) bool  { return h[i].dist > h[j].dist }
func (h maxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *maxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// searchLayer runs a greedy best-first search at layer starting from
// entryPoints, returning up to ef nearest neighbors to query.
func (idx *Index) searchLayer(query []float32, entryPoints []uint32, ef, layer int) ([]candidate, error) {
	visited := make(map[uint32]bool)
	var candidates minHeap
	var found maxHeap

	for _, ep := range entryPoints {
		vec, err := idx.vecs.GetVector(ep)
		if err != nil {
			return nil, err
		}
		d := idx.distance(query, vec)
		visited[ep] = true
		heap.Push(&candidates, candidate{ep, d})
		heap.Push(&found, candidate{ep, d})
	}

	for candidates.Len() > 0 {
		c := heap.Pop(&candidates).(candidate)
		if found.Len() >= ef && c.dist > found[0].dist {
			break
		}
		neighbors, err := idx.graph.GetNeighbors(layer, c.node)
		if err != nil {
			return nil, err
		}
		for _, n := range neighbors {
			if visited[n] {
				continue
			}
			visited[n] = true
			vec, err := idx.vecs.GetVector(n)
			if err != nil {
				return nil, err
			}
			d := idx.distance(query, vec)
			if found.Len() < ef || d < found[0].dist {
				heap.Push(&candidates, candidate{n, d})
				heap.Push(&found, candidate{n, d})
				if found.Len() > ef {
					heap.Pop(&found)
				}
			}
		}
	}

	out := make([]candidate, len(found))
	copy(out, found)
	sortCandidatesAscending(out)
	return out, nil
}

func sortCandidatesAscending(cs []candidate) {
	for i := 1; i < len(cs); i++ {
		for j := i; j > 0 && cs[j].dist < cs[j-1].dist; j-- {
			cs[j], cs[j-1] = cs[j-1], cs[j]
		}
	}
}

// Insert adds id/vec to the index using greedy-descend +
// search_layer + select-top-M-neighbors + bidirectional-link procedure.
func (idx *Index) Insert(id uint32, vec []float32) error {
	if err := idx.vecs.InsertVector(id, vec); err != nil {
		return err
	}

	entryPoint, maxLayer, hasMeta, err := idx.graph.GetMeta()
	if err != nil {
		return err
	}
	level := idx.randomLevel()

	if !hasMeta {
		for l := 0; l <= level; l++ {
			if err := idx.graph.SetNeighbors(l, id, nil); err != nil {
				return err
			}
		}
		return idx.graph.SetMeta(id, level)
	}

	cur := []uint32{entryPoint}
	for l := maxLayer; l > level; l-- {
		found, err := idx.searchLayer(vec, cur, 1, l)
		if err != nil {
			return err
		}
		if len(found) > 0 {
			cur = []uint32{found[0].node}
		}
	}

	for l := minInt(level, maxLayer); l >= 0; l-- {
		found, err := idx.searchLayer(vec, cur, idx.cfg.EfConstruction, l)
		if err != nil {
			return err
		}
		m := idx.cfg.M
		if len(found) < m {
			m = len(found)
		}
		neighbors := make([]uint32, 0, m)
		for i := 0; i < m; i++ {
			neighbors = append(neighbors, found[i].node)
		}
		if err := idx.graph.SetNeighbors(l, id, neighbors); err != nil {
			return err
		}
		for _, n := range neighbors {
			if err := idx.addBackLink(l, n, id, vec); err != nil {
				return err
			}
		}
		cur = neighbors
		if len(cur) == 0 {
			cur = []uint32{entryPoint}
		}
	}

	if level > maxLayer {
		for l := maxLayer + 1; l <= level; l++ {
			if _, err := idx.graph.GetNeighbors(l, id); err != nil {
				return err
			}
		}
		return idx.graph.SetMeta(id, level)
	}
	return idx.graph.SetMeta(entryPoint, maxLayer)
}

// addBackLink adds a bidirectional edge node->newID at layer, capping the
// back-link list at 2M entries and truncating to the M nearest when the
// cap is exceeded.
func (idx *Index) addBackLink(layer int, node, newID uint32, newVec []float32) error {
	neighbors, err := idx.graph.GetNeighbors(layer, node)
	if err != nil {
		return err
	}
	neighbors = append(neighbors, newID)
	if len(neighbors) <= 2*idx.cfg.M {
		return idx.graph.SetNeighbors(layer, node, neighbors)
	}

	nodeVec, err := idx.vecs.GetVector(node)
	if err != nil {
		return err
	}
	type nd struct {
		id   uint32
		dist float64
	}
	ranked := make([]nd, 0, len(neighbors))
	for _, n := range neighbors {
		var v []float32
		if n == newID {
			v = newVec
		} else {
			v, err = idx.vecs.GetVector(n)
			if err != nil {
				return err
			}
		}
		ranked = append(ranked, nd{n, idx.distance(nodeVec, v)})
	}
	for i := 1; i < len(ranked); i++ {
		for j := i; j > 0 && ranked[j].dist < ranked[j-1].dist; j-- {
			ranked[j], ranked[j-1] = ranked[j-1], ranked[j]
		}
	}
	kept := make([]uint32, idx.cfg.M)
	for i := 0; i < idx.cfg.M; i++ {
		kept[i] = ranked[i].id
	}
	return idx.graph.SetNeighbors(layer, node, kept)
}

// Result is one ranked hit from Search, in ascending-distance order.
type Result struct {
	ID       uint32
	Distance float64
}

// Search returns the approximate top-k nearest items to query: greedy-descend from the entry point to layer 1, then
// search_layer(ef_search) at layer 0.
func (idx *Index) Search(query []float32, k int) ([]Result, error) {
	entryPoint, maxLayer, hasMeta, err := idx.graph.GetMeta()
	if err != nil || !hasMeta {
		return nil, err
	}
	cur := []uint32{entryPoint}
	for l := maxLayer; l >= 1; l-- {
		found, err := idx.searchLayer(query, cur, 1, l)
		if err != nil {
			return nil, err
		}
		if len(found) > 0 {
			cur = []uint32{found[0].node}
		}
	}
	ef := idx.cfg.EfSearch
	if ef < k {
		ef = k
	}
	found, err := idx.searchLayer(query, cur, ef, 0)
	if err != nil {
		return nil, err
	}
	if len(found) > k {
		found = found[:k]
	}
	out := make([]Result, len(found))
	for i, c := range found {
		out[i] = Result{ID: c.node, Distance: c.dist}
	}
	return out, nil
}
