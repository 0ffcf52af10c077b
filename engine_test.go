package vexfs_test

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/vexfs/vexfs"
	"github.com/vexfs/vexfs/internal/block"
	"github.com/vexfs/vexfs/internal/journal"
)

func bitsOf(t *testing.T, vals []float32) []uint32 {
	t.Helper()
	out := make([]uint32, len(vals))
	for i, v := range vals {
		out[i] = math.Float32bits(v)
	}
	return out
}

func seedDataset(t *testing.T) (*vexfs.Engine, vexfs.InodeID) {
	t.Helper()
	e, err := vexfs.Format(vexfs.Config{BlockSize: 4096, JournalBlocks: 64}, 512)
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	const inode = vexfs.InodeID(1)
	if _, err := e.VectorMetaSet(vexfs.VectorMetaSetRequest{
		Inode:           inode,
		Dimensions:      4,
		ElementEncoding: vexfs.EncodingF32Bits,
	}); err != nil {
		t.Fatalf("VectorMetaSet: %v", err)
	}

	ids := []vexfs.VectorID{1, 2, 3, 4, 5}
	raw := [][]float32{
		{1, 2, 3, 4},
		{2, 3, 4, 5},
		{3, 4, 5, 6},
		{1.5, 2.5, 3.5, 4.5},
		{10, 11, 12, 13},
	}
	bits := make([][]uint32, len(raw))
	for i, v := range raw {
		bits[i] = bitsOf(t, v)
	}

	resp, err := e.BatchInsert(vexfs.BatchInsertRequest{
		Inode:      inode,
		VectorIDs:  ids,
		VectorBits: bits,
		Dimensions: 4,
	})
	if err != nil {
		t.Fatalf("BatchInsert: %v", err)
	}
	if resp.Inserted != len(ids) {
		t.Fatalf("inserted %d, want %d", resp.Inserted, len(ids))
	}
	return e, inode
}

func TestMountInsertSearchReturnsExactNearestInOrder(t *testing.T) {
	e, inode := seedDataset(t)
	query := bitsOf(t, []float32{1.1, 2.1, 3.1, 4.1})

	resp, err := e.KnnSearch(vexfs.KnnSearchRequest{Inode: inode, Query: query, K: 3, Metric: vexfs.MetricL2})
	if err != nil {
		t.Fatalf("KnnSearch: %v", err)
	}
	if len(resp.Results) != 3 {
		t.Fatalf("got %d results, want 3", len(resp.Results))
	}
	want := []vexfs.VectorID{1, 4, 2}
	for i, r := range resp.Results {
		if r.ID != want[i] {
			t.Fatalf("result %d: got id %d, want %d (full: %v)", i, r.ID, want[i], resp.Results)
		}
	}
}

func TestRangeSearchAgreesWithKnnSearch(t *testing.T) {
	e, inode := seedDataset(t)
	query := bitsOf(t, []float32{2, 3, 4, 5})

	knn, err := e.KnnSearch(vexfs.KnnSearchRequest{Inode: inode, Query: query, K: 5, Metric: vexfs.MetricL2})
	if err != nil {
		t.Fatalf("KnnSearch: %v", err)
	}
	rng, err := e.RangeSearch(vexfs.RangeSearchRequest{Inode: inode, Query: query, MaxDistance: 1000, Metric: vexfs.MetricL2, MaxResults: 10})
	if err != nil {
		t.Fatalf("RangeSearch: %v", err)
	}

	knnIDs := map[vexfs.VectorID]bool{}
	for _, r := range knn.Results {
		knnIDs[r.ID] = true
	}
	rangeIDs := map[vexfs.VectorID]bool{}
	for _, r := range rng.Results {
		rangeIDs[r.ID] = true
	}
	for id := range knnIDs {
		if !rangeIDs[id] {
			t.Fatalf("RangeSearch missing id %d present in KnnSearch", id)
		}
	}
}

func TestBuildIndexHNSWKnnSearchFindsNearest(t *testing.T) {
	e, inode := seedDataset(t)
	if _, err := e.BuildIndex(vexfs.BuildIndexRequest{Inode: inode, Kind: vexfs.IndexHNSW, Metric: vexfs.MetricL2}); err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}
	query := bitsOf(t, []float32{1.1, 2.1, 3.1, 4.1})
	resp, err := e.KnnSearch(vexfs.KnnSearchRequest{Inode: inode, Query: query, K: 1, Metric: vexfs.MetricL2})
	if err != nil {
		t.Fatalf("KnnSearch: %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].ID != 1 {
		t.Fatalf("got %v, want nearest id 1", resp.Results)
	}
}

func TestBatchInsertRejectsDuplicateWithoutOverwriteFlag(t *testing.T) {
	e, inode := seedDataset(t)
	_, err := e.BatchInsert(vexfs.BatchInsertRequest{
		Inode:      inode,
		VectorIDs:  []vexfs.VectorID{1},
		VectorBits: [][]uint32{bitsOf(t, []float32{9, 9, 9, 9})},
		Dimensions: 4,
	})
	if err == nil {
		t.Fatalf("expected Exists error on duplicate insert")
	}
	if kind, _ := vexfs.KindOf(err); kind != vexfs.ErrExists {
		t.Fatalf("expected ErrExists, got %v", kind)
	}
}

func TestFilteredSearchByIDRange(t *testing.T) {
	e, inode := seedDataset(t)
	query := bitsOf(t, []float32{2, 3, 4, 5})
	resp, err := e.FilteredSearch(vexfs.FilteredSearchRequest{
		Inode:  inode,
		Query:  query,
		K:      5,
		Metric: vexfs.MetricL2,
		Filters: []vexfs.Filter{
			{Field: vexfs.FilterFieldID, Op: vexfs.FilterLt, Value: vexfs.VectorID(4)},
		},
	})
	if err != nil {
		t.Fatalf("FilteredSearch: %v", err)
	}
	for _, r := range resp.Results {
		if r.ID >= 4 {
			t.Fatalf("got id %d, want < 4", r.ID)
		}
	}
}

func TestModelMetaSetGetRoundTrip(t *testing.T) {
	e, _ := seedDataset(t)
	meta := vexfs.ModelMeta{Name: "test-encoder", Kind: "transformer", Dimensions: 4}
	if err := e.ModelMetaSet(vexfs.ModelMetaSetRequest{Meta: meta}); err != nil {
		t.Fatalf("ModelMetaSet: %v", err)
	}
	resp, err := e.ModelMetaGet(vexfs.ModelMetaGetRequest{Name: "test-encoder"})
	if err != nil {
		t.Fatalf("ModelMetaGet: %v", err)
	}
	if resp.Meta.Kind != "transformer" || resp.Meta.Dimensions != 4 {
		t.Fatalf("got %+v", resp.Meta)
	}
}

func TestGetStatsResetStats(t *testing.T) {
	e, inode := seedDataset(t)
	query := bitsOf(t, []float32{1, 2, 3, 4})
	if _, err := e.KnnSearch(vexfs.KnnSearchRequest{Inode: inode, Query: query, K: 1, Metric: vexfs.MetricL2}); err != nil {
		t.Fatalf("KnnSearch: %v", err)
	}
	stats := e.GetStats(vexfs.GetStatsRequest{Scope: vexfs.StatsAll})
	if stats.IndexSearches == 0 {
		t.Fatalf("expected at least one recorded search")
	}
	e.ResetStats(vexfs.ResetStatsRequest{Scope: vexfs.StatsAll})
	stats = e.GetStats(vexfs.GetStatsRequest{Scope: vexfs.StatsAll})
	if stats.IndexSearches != 0 {
		t.Fatalf("expected reset counters, got %+v", stats)
	}
}

func TestVectorMetaSetGetRoundTrip(t *testing.T) {
	e, inode := seedDataset(t)
	got, err := e.VectorMetaGet(vexfs.VectorMetaGetRequest{Inode: inode})
	if err != nil {
		t.Fatalf("VectorMetaGet: %v", err)
	}
	want := vexfs.VectorMetaResponse{
		Dimensions:      4,
		ElementEncoding: vexfs.EncodingF32Bits,
		VectorCount:     5,
		Alignment:       got.Alignment,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("VectorMetaGet mismatch (-want +got):\n%s", diff)
	}
}

// TestMountReplaysCommittedTxAndDiscardsUncommitted covers spec §8 scenario
// 2: a transaction that never reaches Commit must not be visible after
// Mount, while a committed BatchInsert must survive a remount of the same
// bytes, bitmaps and all.
func TestMountReplaysCommittedTxAndDiscardsUncommitted(t *testing.T) {
	cfg := vexfs.Config{BlockSize: 4096, JournalBlocks: 64}
	dev := block.NewMemDevice(512 * 4096)

	e1, err := vexfs.FormatDevice(dev, cfg, 512)
	if err != nil {
		t.Fatalf("FormatDevice: %v", err)
	}
	const inode = vexfs.InodeID(1)
	if _, err := e1.VectorMetaSet(vexfs.VectorMetaSetRequest{
		Inode:           inode,
		Dimensions:      4,
		ElementEncoding: vexfs.EncodingF32Bits,
	}); err != nil {
		t.Fatalf("VectorMetaSet: %v", err)
	}
	if _, err := e1.BatchInsert(vexfs.BatchInsertRequest{
		Inode:      inode,
		VectorIDs:  []vexfs.VectorID{1, 2},
		VectorBits: [][]uint32{bitsOf(t, []float32{1, 2, 3, 4}), bitsOf(t, []float32{5, 6, 7, 8})},
		Dimensions: 4,
	}); err != nil {
		t.Fatalf("BatchInsert: %v", err)
	}
	baseline := e1.Superblock()

	// Simulate a crash before a transaction's commit block is durably
	// written: Begin/RecordBlock/Abort touches nothing in the store (journal
	// Commit is the only call that writes anything), so this is exactly the
	// state a real crash-before-commit would leave behind.
	store := block.NewStore(dev, cfg.BlockSize)
	stray := journal.NewManager(store, vexfs.BlockID(baseline.JournalStart), baseline.JournalLength)
	tx := stray.Begin()
	before, err := store.ReadBlock(2)
	if err != nil {
		t.Fatalf("ReadBlock: %v", err)
	}
	after := append([]byte(nil), before...)
	after[0] ^= 0xFF
	if err := tx.RecordBlock(2, before, after); err != nil {
		t.Fatalf("RecordBlock: %v", err)
	}
	tx.Abort()

	e2, err := vexfs.Mount(dev, cfg)
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	got := e2.Superblock()
	if got.FreeInodes != baseline.FreeInodes {
		t.Fatalf("FreeInodes after remount = %d, want %d (aborted tx must not apply)", got.FreeInodes, baseline.FreeInodes)
	}
	if got.FreeBlocks != baseline.FreeBlocks {
		t.Fatalf("FreeBlocks after remount = %d, want %d", got.FreeBlocks, baseline.FreeBlocks)
	}

	query := bitsOf(t, []float32{1.1, 2.1, 3.1, 4.1})
	resp, err := e2.KnnSearch(vexfs.KnnSearchRequest{Inode: inode, Query: query, K: 2, Metric: vexfs.MetricL2})
	if err != nil {
		t.Fatalf("KnnSearch after remount: %v", err)
	}
	if len(resp.Results) != 2 || resp.Results[0].ID != 1 {
		t.Fatalf("KnnSearch after remount = %v, want nearest id 1 first", resp.Results)
	}
}

func TestDispatchRoutesKnnSearchRequest(t *testing.T) {
	e, inode := seedDataset(t)
	query := bitsOf(t, []float32{1.1, 2.1, 3.1, 4.1})
	out, err := e.Dispatch(vexfs.KnnSearchRequest{Inode: inode, Query: query, K: 3, Metric: vexfs.MetricL2})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	resp, ok := out.(vexfs.KnnSearchResponse)
	if !ok {
		t.Fatalf("got %T, want vexfs.KnnSearchResponse", out)
	}
	if len(resp.Results) != 3 {
		t.Fatalf("got %d results, want 3", len(resp.Results))
	}
}
