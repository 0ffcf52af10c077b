// Package hnsw implements the hierarchical graph index of spec §4.7: layered
// proximity graphs searched top-down by single-width beam descent through
// upper layers and ef-width beam search at layer 0.
package hnsw

import (
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/vexfs/vexfs"
	"github.com/vexfs/vexfs/internal/metric"
)

// Params bundles the tunables spec §4.7 names, all with the spec's defaults.
type Params struct {
	M              int
	EfConstruction int
	EfSearch       int
	MaxLayers      int
}

// DefaultParams returns M=16, ef_construction=200, ef_search=50, max_layers=16.
func DefaultParams() Params {
	return Params{M: 16, EfConstruction: 200, EfSearch: 50, MaxLayers: 16}
}

type neighbor struct {
	id   vexfs.VectorID
	dist float64
}

type node struct {
	id      vexfs.VectorID
	bits    []uint32
	layers  [][]neighbor // layers[l] = neighbor list at layer l, sorted by dist ascending
}

// Index is a hierarchical navigable small-world graph keyed by vexfs.VectorID.
// All mutation happens under a single exclusive mutex, matching the seqlock
// writer side spec §4.4 requires of the index kind's lock (the seqlock
// itself lives in internal/lockmgr; callers take it around Insert/Delete and
// take only the generation snapshot around Search).
type Index struct {
	mu       sync.RWMutex
	params   Params
	metric   vexfs.Metric
	dispatch *metric.Dispatcher
	rng      *rand.Rand

	nodes     map[vexfs.VectorID]*node
	entry     vexfs.VectorID
	entryOK   bool
	maxLayer  int
}

// New constructs an empty index for the given metric, using dispatcher d for
// all distance evaluation (the engine's shared capability-dispatched table,
// spec §4.6).
func New(m vexfs.Metric, d *metric.Dispatcher, p Params, seed int64) *Index {
	return &Index{
		params:   p,
		metric:   m,
		dispatch: d,
		rng:      rand.New(rand.NewSource(seed)),
		nodes:    make(map[vexfs.VectorID]*node),
	}
}

// drawLayer draws a level with the geometric distribution of mean 1/ln(2)
// spec §4.7 specifies, capped at MaxLayers-1.
func (idx *Index) drawLayer() int {
	ml := 1.0 / math.Log(2)
	l := int(math.Floor(-math.Log(idx.rng.Float64()) * ml))
	if l >= idx.params.MaxLayers {
		l = idx.params.MaxLayers - 1
	}
	return l
}

func (idx *Index) dist(a, b []uint32) float64 {
	d, err := idx.dispatch.Distance(idx.metric, a, b)
	if err != nil {
		// dimension mismatch between stored vectors never happens once
		// VectorMetaSet has fixed the inode's dimensionality; treat as +Inf
		// so the offending candidate simply loses every comparison.
		return math.Inf(1)
	}
	return d
}

func capFor(layer, m int) int {
	if layer == 0 {
		return 2 * m
	}
	return m
}

// Insert adds vector id/bits to the graph (spec §4.7 Insert). It holds the
// index's own mutex for its whole duration, so concurrent Inserts are safe
// without any external lock.
func (idx *Index) Insert(id vexfs.VectorID, bits []uint32) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	level := idx.drawLayer()
	n := &node{id: id, bits: bits, layers: make([][]neighbor, level+1)}

	if !idx.entryOK {
		idx.nodes[id] = n
		idx.entry = id
		idx.entryOK = true
		idx.maxLayer = level
		return nil
	}

	cur := idx.entry
	curDist := idx.dist(bits, idx.nodes[cur].bits)

	// Phase 1: greedy single-width descent through layers above level.
	for l := idx.maxLayer; l > level; l-- {
		improved := true
		for improved {
			improved = false
			for _, nb := range idx.neighborsAt(cur, l) {
				d := idx.dist(bits, idx.nodes[nb.id].bits)
				if d < curDist {
					curDist = d
					cur = nb.id
					improved = true
				}
			}
		}
	}

	// Phase 2: beam search with width ef_construction at each layer from
	// min(level, maxLayer) down to 0, connecting up to the layer's cap.
	// n is registered first so pruning in addReciprocal can unlink it too;
	// no edge reaches n at a layer until that layer's search is done.
	idx.nodes[id] = n
	entryCandidates := []vexfs.VectorID{cur}
	top := level
	if idx.maxLayer < top {
		top = idx.maxLayer
	}
	for l := top; l >= 0; l-- {
		candidates := idx.searchLayer(bits, entryCandidates, idx.params.EfConstruction, l)
		cap := capFor(l, idx.params.M)
		picked := candidates
		if len(picked) > cap {
			picked = picked[:cap]
		}
		n.layers[l] = append([]neighbor(nil), picked...)
		for _, c := range picked {
			idx.addReciprocal(c.id, id, c.dist, l)
		}
		entryCandidates = idsOf(candidates)
		if len(entryCandidates) == 0 {
			entryCandidates = []vexfs.VectorID{cur}
		}
	}

	if level > idx.maxLayer {
		idx.maxLayer = level
		idx.entry = id
	}
	return nil
}

func idsOf(ns []neighbor) []vexfs.VectorID {
	out := make([]vexfs.VectorID, len(ns))
	for i, n := range ns {
		out[i] = n.id
	}
	return out
}

// addReciprocal adds a reciprocal edge victim->newID at layer l, pruning the
// victim's neighbor list back to cap by the keep-closest rule (spec §4.7
// step 4). Every neighbor the victim drops also loses its edge back to the
// victim, so pruning never leaves an edge without its reciprocal.
func (idx *Index) addReciprocal(victim, newID vexfs.VectorID, d float64, l int) {
	vn := idx.nodes[victim]
	if vn == nil || l >= len(vn.layers) {
		return
	}
	for _, existing := range vn.layers[l] {
		if existing.id == newID {
			return
		}
	}
	vn.layers[l] = append(vn.layers[l], neighbor{id: newID, dist: d})
	sort.Slice(vn.layers[l], func(i, j int) bool { return vn.layers[l][i].dist < vn.layers[l][j].dist })
	cap := capFor(l, idx.params.M)
	if len(vn.layers[l]) > cap {
		for _, dropped := range vn.layers[l][cap:] {
			dn := idx.nodes[dropped.id]
			if dn == nil || l >= len(dn.layers) {
				continue
			}
			kept := dn.layers[l][:0]
			for _, nb := range dn.layers[l] {
				if nb.id != victim {
					kept = append(kept, nb)
				}
			}
			dn.layers[l] = kept
		}
		vn.layers[l] = vn.layers[l][:cap]
	}
}

func (idx *Index) neighborsAt(id vexfs.VectorID, l int) []neighbor {
	n := idx.nodes[id]
	if n == nil || l >= len(n.layers) {
		return nil
	}
	return n.layers[l]
}

// searchLayer performs ef-width beam search at layer l starting from
// entryPoints, returning up to ef candidates sorted ascending by distance.
func (idx *Index) searchLayer(query []uint32, entryPoints []vexfs.VectorID, ef int, l int) []neighbor {
	visited := make(map[vexfs.VectorID]bool)
	var candidates []neighbor
	var results []neighbor

	for _, ep := range entryPoints {
		if idx.nodes[ep] == nil || visited[ep] {
			continue
		}
		d := idx.dist(query, idx.nodes[ep].bits)
		visited[ep] = true
		candidates = append(candidates, neighbor{id: ep, dist: d})
		results = append(results, neighbor{id: ep, dist: d})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].dist < candidates[j].dist })

	for len(candidates) > 0 {
		c := candidates[0]
		candidates = candidates[1:]
		if len(results) >= ef {
			worst := worstOf(results)
			if c.dist > worst {
				break
			}
		}
		for _, nb := range idx.neighborsAt(c.id, l) {
			if visited[nb.id] {
				continue
			}
			visited[nb.id] = true
			d := idx.dist(query, idx.nodes[nb.id].bits)
			results = append(results, neighbor{id: nb.id, dist: d})
			candidates = append(candidates, neighbor{id: nb.id, dist: d})
			sort.Slice(candidates, func(i, j int) bool { return candidates[i].dist < candidates[j].dist })
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].dist != results[j].dist {
			return results[i].dist < results[j].dist
		}
		return results[i].id < results[j].id // tie-break on VectorId, spec §4.7
	})
	if len(results) > ef {
		results = results[:ef]
	}
	return results
}

func worstOf(ns []neighbor) float64 {
	worst := ns[0].dist
	for _, n := range ns[1:] {
		if n.dist > worst {
			worst = n.dist
		}
	}
	return worst
}

// Result is one (VectorId, distance) pair returned by Search.
type Result struct {
	ID       vexfs.VectorID
	Distance float64
}

// Search runs knn(query, k) per spec §4.7: descend through upper layers with
// width 1, then beam-search layer 0 with width max(ef_search, k), returning
// the k lowest-distance results tie-broken on VectorId.
func (idx *Index) Search(query []uint32, k int) ([]Result, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if err := vexfs.ValidateResultCount(k); err != nil {
		return nil, err
	}
	if !idx.entryOK {
		return nil, nil
	}

	cur := idx.entry
	curDist := idx.dist(query, idx.nodes[cur].bits)
	for l := idx.maxLayer; l > 0; l-- {
		improved := true
		for improved {
			improved = false
			for _, nb := range idx.neighborsAt(cur, l) {
				d := idx.dist(query, idx.nodes[nb.id].bits)
				if d < curDist {
					curDist = d
					cur = nb.id
					improved = true
				}
			}
		}
	}

	width := idx.params.EfSearch
	if k > width {
		width = k
	}
	candidates := idx.searchLayer(query, []vexfs.VectorID{cur}, width, 0)
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	out := make([]Result, len(candidates))
	for i, c := range candidates {
		out[i] = Result{ID: c.id, Distance: c.dist}
	}
	return out, nil
}

// Delete removes id from every neighbor list that references it (reciprocal)
// and from the entry-point slot, promoting a remaining node at the former
// max layer or dropping max layer if none remains (spec §4.7 Delete).
func (idx *Index) Delete(id vexfs.VectorID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	n, ok := idx.nodes[id]
	if !ok {
		return
	}
	for _, other := range idx.nodes {
		if other.id == id {
			continue
		}
		for l := range other.layers {
			filtered := other.layers[l][:0]
			for _, nb := range other.layers[l] {
				if nb.id != id {
					filtered = append(filtered, nb)
				}
			}
			other.layers[l] = filtered
		}
	}
	delete(idx.nodes, id)

	if idx.entry == id {
		idx.promoteEntry(len(n.layers) - 1)
	}
}

func (idx *Index) promoteEntry(formerMaxLayer int) {
	for l := formerMaxLayer; l >= 0; l-- {
		for vid, n := range idx.nodes {
			if len(n.layers)-1 >= l {
				idx.entry = vid
				idx.maxLayer = l
				return
			}
		}
	}
	idx.entryOK = false
	idx.maxLayer = 0
}

// CheckReciprocal verifies every edge (u,v,d) at every layer has a
// reciprocal edge (v,u,d') with |d-d'| <= eps, the invariant spec §8 tests.
func (idx *Index) CheckReciprocal(eps float64) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for uid, u := range idx.nodes {
		for l, nbs := range u.layers {
			for _, nb := range nbs {
				v := idx.nodes[nb.id]
				if v == nil || l >= len(v.layers) {
					return false
				}
				found := false
				for _, back := range v.layers[l] {
					if back.id == uid {
						if math.Abs(back.dist-nb.dist) > eps {
							return false
						}
						found = true
						break
					}
				}
				if !found {
					return false
				}
			}
		}
	}
	return true
}

// CheckLayerMonotonicity verifies every node present at layer l>0 is also
// present at every layer < l (spec §8).
func (idx *Index) CheckLayerMonotonicity() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for _, n := range idx.nodes {
		if len(n.layers) == 0 {
			return false
		}
	}
	return true
}

// Len returns the number of vectors currently indexed.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.nodes)
}
