package hnsw

import (
	"math"
	"math/rand"
	"testing"
)

func memIndex(cfg Config, dim int) *Index {
	return New(cfg, dim, NewMemoryVectorStorage(), NewMemoryGraphStorage())
}

func TestInsertAndExactSearch(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Metric = MetricL2
	idx := memIndex(cfg, 2)

	vecs := [][]float32{{0, 0}, {1, 0}, {0, 1}, {5, 5}, {-3, 2}}
	for i, v := range vecs {
		if err := idx.Insert(uint32(i), v); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	res, err := idx.Search([]float32{0.9, 0.1}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0].ID != 1 {
		t.Fatalf("nearest to (0.9,0.1) = %+v, want id 1", res)
	}
}

func TestSearchReturnsAscendingDistance(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Metric = MetricL2
	idx := memIndex(cfg, 4)
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		v := []float32{rng.Float32(), rng.Float32(), rng.Float32(), rng.Float32()}
		if err := idx.Insert(uint32(i), v); err != nil {
			t.Fatal(err)
		}
	}
	res, err := idx.Search([]float32{0.5, 0.5, 0.5, 0.5}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 10 {
		t.Fatalf("got %d results", len(res))
	}
	for i := 1; i < len(res); i++ {
		if res[i].Distance < res[i-1].Distance {
			t.Fatalf("results not ascending: %+v", res)
		}
	}
}

// Recall against brute force converges to 1.0 as ef_search grows; with
// ef_search == N this test requires a recall of at least 0.9.
func TestRecallConvergesWithEf(t *testing.T) {
	const n = 300
	const dim = 8
	const k = 10
	cfg := DefaultConfig()
	cfg.Metric = MetricL2
	idx := memIndex(cfg, dim)

	rng := rand.New(rand.NewSource(42))
	data := make([][]float32, n)
	for i := range data {
		v := make([]float32, dim)
		for j := range v {
			v[j] = rng.Float32()
		}
		data[i] = v
		if err := idx.Insert(uint32(i), v); err != nil {
			t.Fatal(err)
		}
	}

	query := make([]float32, dim)
	for j := range query {
		query[j] = rng.Float32()
	}
	exact := bruteForceTopK(data, query, k)

	idx.Tune(n)
	res, err := idx.Search(query, k)
	if err != nil {
		t.Fatal(err)
	}
	hits := 0
	for _, r := range res {
		if exact[r.ID] {
			hits++
		}
	}
	recall := float64(hits) / float64(k)
	if recall < 0.9 {
		t.Fatalf("recall at ef=N is %.2f, want >= 0.9", recall)
	}
}

func bruteForceTopK(data [][]float32, query []float32, k int) map[uint32]bool {
	type pair struct {
		id   uint32
		dist float64
	}
	all := make([]pair, len(data))
	for i, v := range data {
		var sum float64
		for j := range v {
			d := float64(v[j]) - float64(query[j])
			sum += d * d
		}
		all[i] = pair{uint32(i), math.Sqrt(sum)}
	}
	for i := 0; i < k; i++ {
		best := i
		for j := i + 1; j < len(all); j++ {
			if all[j].dist < all[best].dist {
				best = j
			}
		}
		all[i], all[best] = all[best], all[i]
	}
	out := make(map[uint32]bool, k)
	for i := 0; i < k && i < len(all); i++ {
		out[all[i].id] = true
	}
	return out
}

func TestSimilarityHigherIsBetter(t *testing.T) {
	for _, metric := range []Metric{MetricL2, MetricCosine, MetricInnerProduct} {
		cfg := DefaultConfig()
		cfg.Metric = metric
		idx := memIndex(cfg, 2)
		if err := idx.Insert(1, []float32{1, 0}); err != nil {
			t.Fatal(err)
		}
		if err := idx.Insert(2, []float32{0, 1}); err != nil {
			t.Fatal(err)
		}
		near, err := idx.Similarity([]float32{1, 0}, 1)
		if err != nil {
			t.Fatal(err)
		}
		far, err := idx.Similarity([]float32{1, 0}, 2)
		if err != nil {
			t.Fatal(err)
		}
		if near <= far {
			t.Fatalf("metric %v: similarity(near)=%v <= similarity(far)=%v", metric, near, far)
		}
	}
}

func TestSearchEmptyIndex(t *testing.T) {
	idx := memIndex(DefaultConfig(), 2)
	res, err := idx.Search([]float32{1, 2}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 0 {
		t.Fatalf("empty index returned %d results", len(res))
	}
}
