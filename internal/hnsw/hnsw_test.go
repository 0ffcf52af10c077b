package hnsw

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/vexfs/vexfs"
	"github.com/vexfs/vexfs/internal/metric"
)

func bitsOf(vals []float32) []uint32 { return metric.FloatsToBits(vals) }

func randomVector(rng *rand.Rand, dims int) []float32 {
	v := make([]float32, dims)
	for i := range v {
		v[i] = rng.Float32()*200 - 100
	}
	return v
}

func buildIndex(t *testing.T, n, dims int) (*Index, map[vexfs.VectorID][]uint32) {
	t.Helper()
	rng := rand.New(rand.NewSource(42))
	idx := New(vexfs.MetricL2, metric.NewDispatcher(), DefaultParams(), 7)
	vecs := make(map[vexfs.VectorID][]uint32, n)
	for i := 0; i < n; i++ {
		id := vexfs.VectorID(i + 1)
		bits := bitsOf(randomVector(rng, dims))
		vecs[id] = bits
		if err := idx.Insert(id, bits); err != nil {
			t.Fatalf("Insert(%d): %v", id, err)
		}
	}
	return idx, vecs
}

func TestInsertAndSearchReturnsResults(t *testing.T) {
	idx, vecs := buildIndex(t, 50, 8)
	var query []uint32
	for _, v := range vecs {
		query = v
		break
	}
	results, err := idx.Search(query, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].Distance < results[i-1].Distance {
			t.Fatalf("results not sorted ascending: %v", results)
		}
	}
}

func TestReciprocalEdgeInvariant(t *testing.T) {
	idx, _ := buildIndex(t, 40, 6)
	if !idx.CheckReciprocal(1e-9) {
		t.Fatalf("expected every edge to have a reciprocal")
	}
}

func TestLayerMonotonicityInvariant(t *testing.T) {
	idx, _ := buildIndex(t, 40, 6)
	if !idx.CheckLayerMonotonicity() {
		t.Fatalf("expected every node to have a populated layer stack down to 0")
	}
}

func TestSearchWithEfSearchEqualsNReturnsExactNearest(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	dims := 4
	n := 30
	params := DefaultParams()
	params.EfSearch = n // ef_search = N over an N-vector index
	idx := New(vexfs.MetricL2, metric.NewDispatcher(), params, 3)

	vecs := make(map[vexfs.VectorID][]float32, n)
	for i := 0; i < n; i++ {
		id := vexfs.VectorID(i + 1)
		v := randomVector(rng, dims)
		vecs[id] = v
		if err := idx.Insert(id, bitsOf(v)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	query := randomVector(rng, dims)
	d := metric.NewDispatcher()
	type pair struct {
		id   vexfs.VectorID
		dist float64
	}
	var exact []pair
	for id, v := range vecs {
		dist, _ := d.Distance(vexfs.MetricL2, bitsOf(query), bitsOf(v))
		exact = append(exact, pair{id, dist})
	}
	sort.Slice(exact, func(i, j int) bool {
		if exact[i].dist != exact[j].dist {
			return exact[i].dist < exact[j].dist
		}
		return exact[i].id < exact[j].id
	})

	k := 5
	results, err := idx.Search(bitsOf(query), k)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != k {
		t.Fatalf("expected %d results, got %d", k, len(results))
	}
	for i := 0; i < k; i++ {
		if results[i].ID != exact[i].id {
			t.Fatalf("result %d: got id %d want %d (exact recall expected at ef_search=N)", i, results[i].ID, exact[i].id)
		}
	}
}

func TestDeleteRemovesReciprocalEdgesAndPromotesEntry(t *testing.T) {
	idx, _ := buildIndex(t, 20, 5)
	victim := vexfs.VectorID(1)
	idx.Delete(victim)

	if idx.Len() != 19 {
		t.Fatalf("expected 19 nodes after delete, got %d", idx.Len())
	}
	for id, n := range idx.nodes {
		for l, nbs := range n.layers {
			for _, nb := range nbs {
				if nb.id == victim {
					t.Fatalf("node %d layer %d still references deleted node %d", id, l, victim)
				}
			}
		}
	}
	if !idx.CheckReciprocal(1e-9) {
		t.Fatalf("reciprocal invariant broken after delete")
	}
	if !idx.entryOK || idx.entry == victim || idx.nodes[idx.entry] == nil {
		t.Fatalf("entry point not on a live node after delete: entry=%d ok=%v", idx.entry, idx.entryOK)
	}
}

func TestConcurrentInsertsPreserveInvariants(t *testing.T) {
	idx := New(vexfs.MetricL2, metric.NewDispatcher(), DefaultParams(), 11)
	done := make(chan error, 4)
	for w := 0; w < 4; w++ {
		go func(base int) {
			rng := rand.New(rand.NewSource(int64(base) + 1))
			var err error
			for i := 0; i < 10; i++ {
				id := vexfs.VectorID(base*10 + i + 1)
				v := randomVector(rng, 4)
				if e := idx.Insert(id, bitsOf(v)); e != nil {
					err = e
				}
			}
			done <- err
		}(w)
	}
	for i := 0; i < 4; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent insert: %v", err)
		}
	}
	if idx.Len() != 40 {
		t.Fatalf("expected 40 nodes, got %d", idx.Len())
	}
	if !idx.CheckReciprocal(1e-9) {
		t.Fatalf("reciprocal invariant broken after concurrent inserts")
	}
}
