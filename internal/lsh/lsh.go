// Package lsh implements the multi-table locality-sensitive hashing index of
// spec §4.8: random-hyperplane signatures bucketing candidates for an
// exact-distance re-rank.
package lsh

import (
	"encoding/binary"
	"sort"

	"golang.org/x/crypto/blake2b"

	"github.com/vexfs/vexfs"
	"github.com/vexfs/vexfs/internal/metric"
)

// Params bundles the tunables spec §4.8 names.
type Params struct {
	NumTables        int
	FuncsPerTable    int
	ExactFallbackLimit int
}

// DefaultParams returns num_tables=8, funcs_per_table=8.
func DefaultParams() Params {
	return Params{NumTables: 8, FuncsPerTable: 8, ExactFallbackLimit: 1000}
}

// hyperplane is one random-projection hash function: a dims-length vector of
// coefficients; a query hashes to bit 1 iff dot(query, plane) >= 0.
type hyperplane []float64

// Index is a multi-table LSH bucket map. Hyperplanes are drawn once at init
// from a seed and persist across remounts (spec §4.8): re-deriving them from
// the same seed reproduces the identical table without storing every
// coefficient on disk (see SPEC_FULL.md grounding on blake2b).
type Index struct {
	params   Params
	seed     uint64
	dims     int
	metric   vexfs.Metric
	dispatch *metric.Dispatcher

	tables  []map[uint64][]vexfs.VectorID
	planes  [][]hyperplane // planes[table][func]
	vectors map[vexfs.VectorID][]uint32
}

// New constructs an Index for dims-dimensional vectors, deriving its
// hyperplanes deterministically from seed.
func New(dims int, seed uint64, m vexfs.Metric, d *metric.Dispatcher, p Params) *Index {
	idx := &Index{
		params:   p,
		seed:     seed,
		dims:     dims,
		metric:   m,
		dispatch: d,
		tables:   make([]map[uint64][]vexfs.VectorID, p.NumTables),
		planes:   make([][]hyperplane, p.NumTables),
		vectors:  make(map[vexfs.VectorID][]uint32),
	}
	stream := newHyperplaneStream(seed)
	for t := 0; t < p.NumTables; t++ {
		idx.tables[t] = make(map[uint64][]vexfs.VectorID)
		idx.planes[t] = make([]hyperplane, p.FuncsPerTable)
		for f := 0; f < p.FuncsPerTable; f++ {
			idx.planes[t][f] = stream.next(dims)
		}
	}
	return idx
}

// Seed returns the seed this index's hyperplanes were derived from, so an
// engine can persist it in the reserved index-metadata block and verify on
// remount that a rebuild is unnecessary (spec §4.8).
func (idx *Index) Seed() uint64 { return idx.seed }

// hyperplaneStream derives an endless sequence of deterministic pseudo-random
// float64 coefficients from a blake2b keyed hash of a running counter, so the
// same seed always reproduces byte-identical hyperplanes (spec §4.8,
// grounded on golang.org/x/crypto/blake2b).
type hyperplaneStream struct {
	seed    uint64
	counter uint64
}

func newHyperplaneStream(seed uint64) *hyperplaneStream {
	return &hyperplaneStream{seed: seed}
}

func (s *hyperplaneStream) next(dims int) hyperplane {
	out := make(hyperplane, dims)
	for i := 0; i < dims; i++ {
		out[i] = s.nextCoefficient()
	}
	return out
}

func (s *hyperplaneStream) nextCoefficient() float64 {
	var seedBytes [8]byte
	binary.LittleEndian.PutUint64(seedBytes[:], s.seed)
	h, _ := blake2b.New256(seedBytes[:])

	var counterBytes [8]byte
	binary.LittleEndian.PutUint64(counterBytes[:], s.counter)
	s.counter++
	h.Write(counterBytes[:])
	digest := h.Sum(nil)

	bits := binary.LittleEndian.Uint64(digest[:8])
	// map to [-1, 1): a mean-zero coefficient range for a random-projection plane.
	return (float64(bits>>11) / float64(1<<53) * 2) - 1
}

func (p hyperplane) sign(bits []uint32) uint64 {
	floats := metric.BitsToFloats(bits)
	var dot float64
	for i := range p {
		dot += p[i] * floats[i]
	}
	if dot >= 0 {
		return 1
	}
	return 0
}

func (idx *Index) signature(table int, bits []uint32) uint64 {
	var sig uint64
	for f, plane := range idx.planes[table] {
		sig |= plane.sign(bits) << uint(f)
	}
	return sig
}

// Insert adds id/bits to every table's matching bucket (spec §4.8 Insert:
// "every inserted vector appears in exactly num_tables buckets").
func (idx *Index) Insert(id vexfs.VectorID, bits []uint32) error {
	if len(bits) != idx.dims {
		return vexfs.Errorf(vexfs.ErrInvalidArgument, "lsh.Insert", "expected %d components, got %d", idx.dims, len(bits))
	}
	idx.vectors[id] = bits
	for t := range idx.tables {
		sig := idx.signature(t, bits)
		idx.tables[t][sig] = append(idx.tables[t][sig], id)
	}
	return nil
}

// Delete removes id from every table bucket and from the vector store.
func (idx *Index) Delete(id vexfs.VectorID) {
	bits, ok := idx.vectors[id]
	if !ok {
		return
	}
	for t := range idx.tables {
		sig := idx.signature(t, bits)
		bucket := idx.tables[t][sig]
		for i, v := range bucket {
			if v == id {
				idx.tables[t][sig] = append(bucket[:i], bucket[i+1:]...)
				break
			}
		}
	}
	delete(idx.vectors, id)
}

// Result is one (VectorId, distance) pair returned by Search.
type Result struct {
	ID       vexfs.VectorID
	Distance float64
}

// Search computes the query's signature per table, unions candidate buckets,
// evaluates true distance for each, and returns the top-k (spec §4.8). If
// the candidate union is empty, it falls back to an exact scan bounded by
// ExactFallbackLimit.
func (idx *Index) Search(query []uint32, k int) ([]Result, error) {
	if err := vexfs.ValidateResultCount(k); err != nil {
		return nil, err
	}
	if len(query) != idx.dims {
		return nil, vexfs.Errorf(vexfs.ErrInvalidArgument, "lsh.Search", "expected %d components, got %d", idx.dims, len(query))
	}

	candidateSet := make(map[vexfs.VectorID]bool)
	for t := range idx.tables {
		sig := idx.signature(t, query)
		for _, id := range idx.tables[t][sig] {
			candidateSet[id] = true
		}
	}

	if len(candidateSet) == 0 {
		return idx.exactFallback(query, k)
	}

	results := make([]Result, 0, len(candidateSet))
	for id := range candidateSet {
		d, err := idx.dispatch.Distance(idx.metric, query, idx.vectors[id])
		if err != nil {
			continue
		}
		results = append(results, Result{ID: id, Distance: d})
	}
	sortResults(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (idx *Index) exactFallback(query []uint32, k int) ([]Result, error) {
	results := make([]Result, 0, len(idx.vectors))
	scanned := 0
	for id, bits := range idx.vectors {
		if scanned >= idx.params.ExactFallbackLimit {
			break
		}
		scanned++
		d, err := idx.dispatch.Distance(idx.metric, query, bits)
		if err != nil {
			continue
		}
		results = append(results, Result{ID: id, Distance: d})
	}
	sortResults(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func sortResults(results []Result) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].ID < results[j].ID
	})
}

// BucketCountFor returns how many of the index's tables currently hold id,
// exposed so tests can verify the "exactly num_tables buckets" invariant
// (spec §8).
func (idx *Index) BucketCountFor(id vexfs.VectorID) int {
	bits, ok := idx.vectors[id]
	if !ok {
		return 0
	}
	count := 0
	for t := range idx.tables {
		sig := idx.signature(t, bits)
		for _, v := range idx.tables[t][sig] {
			if v == id {
				count++
				break
			}
		}
	}
	return count
}
