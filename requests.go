package vexfs

import "time"

// InsertFlag names one bit of BatchInsert's flags bitset (spec §6; REDESIGN
// FLAGS c: "the implementer should pick one canonical definition and record
// it", recorded here).
type InsertFlag uint32

const (
	InsertSIMDAlign InsertFlag = 1 << iota
	InsertNUMAAware
	InsertValidate
	InsertOverwrite
	InsertAppend
)

// FilterField names a filterable field for FilteredSearch.
type FilterField uint8

const (
	FilterFieldID FilterField = iota
	FilterFieldTimestamp
	FilterFieldCategory
	FilterFieldScore
	FilterFieldRange
)

// FilterOp names a comparison operator for FilteredSearch.
type FilterOp uint8

const (
	FilterEq FilterOp = iota
	FilterNeq
	FilterLt
	FilterLte
	FilterGt
	FilterGte
	FilterInRange
)

// Filter is one AND-combined predicate in a FilteredSearch request.
type Filter struct {
	Field FilterField
	Op    FilterOp
	Value interface{}
}

// VectorMetaSetRequest validates and writes a vector descriptor into an
// inode (spec §6).
type VectorMetaSetRequest struct {
	Inode           InodeID
	Dimensions      int
	ElementEncoding ElementEncoding
	Layout          VectorLayout
	CompressionKind CompressionKind
	Alignment       int
	ModelTag        string
}

// VectorMetaGetRequest requests the descriptor currently stored on Inode.
type VectorMetaGetRequest struct {
	Inode InodeID
}

// VectorMetaResponse is VectorMetaGet's and VectorMetaSet's response.
type VectorMetaResponse struct {
	Dimensions      int
	ElementEncoding ElementEncoding
	VectorCount     uint64
	Layout          VectorLayout
	CompressionKind CompressionKind
	Alignment       int
	ModelTag        string
}

// BatchInsertRequest inserts vectors-bits keyed by vector-ids into Inode's
// storage and built indices (spec §6).
type BatchInsertRequest struct {
	Inode      InodeID
	VectorIDs  []VectorID
	VectorBits [][]uint32
	Dimensions int
	Flags      InsertFlag
}

// BatchInsertResponse reports how many vectors were actually committed;
// under OutOfSpace this is the partial-success count (spec §7).
type BatchInsertResponse struct {
	Inserted int
}

// KnnSearchRequest finds the k nearest vectors to Query under Metric.
type KnnSearchRequest struct {
	Inode  InodeID
	Query  []uint32
	K      int
	Metric Metric
}

// SearchResult is one (VectorId, distance) pair returned by any search request.
type SearchResult struct {
	ID       VectorID
	Distance float64
}

// SearchStats accompanies search responses with basic instrumentation
// (SPEC_FULL.md §6.1).
type SearchStats struct {
	CandidatesScanned int
	Elapsed           time.Duration
}

// KnnSearchResponse is KnnSearch's response.
type KnnSearchResponse struct {
	Results []SearchResult
	Stats   SearchStats
}

// RangeSearchRequest finds every vector within MaxDistance of Query.
type RangeSearchRequest struct {
	Inode       InodeID
	Query       []uint32
	MaxDistance float64
	Metric      Metric
	MaxResults  int
}

// RangeSearchResponse is RangeSearch's response.
type RangeSearchResponse struct {
	Results []SearchResult
	Stats   SearchStats
}

// FilteredSearchRequest returns k results satisfying the AND of Filters.
type FilteredSearchRequest struct {
	Inode   InodeID
	Query   []uint32
	K       int
	Metric  Metric
	Filters []Filter
}

// FilteredSearchResponse is FilteredSearch's response.
type FilteredSearchResponse struct {
	Results []SearchResult
}

// MultiVectorSearchRequest runs one KnnSearch per query.
type MultiVectorSearchRequest struct {
	Inode   InodeID
	Queries [][]uint32
	K       int
	Metric  Metric
}

// MultiVectorSearchResponse carries one result list per query, in order.
type MultiVectorSearchResponse struct {
	Results [][]SearchResult
}

// HybridSearchRequest scores candidates by a weighted combination of two metrics.
type HybridSearchRequest struct {
	Inode          InodeID
	Query          []uint32
	K              int
	PrimaryMetric  Metric
	SecondaryMetric Metric
	PrimaryWeight   float64
	SecondaryWeight float64
}

// HybridSearchResponse is HybridSearch's response.
type HybridSearchResponse struct {
	Results []SearchResult
}

// BuildIndexRequest builds or rebuilds the named index kind over Inode's
// current vector set.
type BuildIndexRequest struct {
	Inode  InodeID
	Kind   IndexKind
	Metric Metric
}

// BuildIndexResponse reports how long the build took.
type BuildIndexResponse struct {
	Elapsed time.Duration
}

// DropIndexRequest removes a built index.
type DropIndexRequest struct {
	Inode InodeID
	Kind  IndexKind
}

// OptimizeIndexRequest asks the engine to compact/rebuild an index in place.
type OptimizeIndexRequest struct {
	Inode InodeID
	Kind  IndexKind
}

// ModelMeta describes an embedding model producing the vectors an inode
// carries (spec §6, ModelMetaSet/Get; SPEC_FULL.md §6.1).
type ModelMeta struct {
	Kind          string
	Dimensions    int
	MaxSeqLength  int
	Version       string
	Name          string
	Description   string
}

// ModelMetaSetRequest associates ModelMeta with Name for later ModelMetaGet
// lookups (multi-encoder deployments, spec §6).
type ModelMetaSetRequest struct {
	Meta ModelMeta
}

// ModelMetaGetRequest looks up a previously set ModelMeta by name.
type ModelMetaGetRequest struct {
	Name string
}

// ModelMetaResponse is ModelMetaGet's response.
type ModelMetaResponse struct {
	Meta ModelMeta
}

// StatsScope narrows GetStats/ResetStats to one subsystem, or All.
type StatsScope uint8

const (
	StatsAll StatsScope = iota
	StatsLocking
	StatsIndex
)

// GetStatsRequest requests a counters snapshot for Scope.
type GetStatsRequest struct {
	Scope StatsScope
}

// ResetStatsRequest zeroes counters for Scope.
type ResetStatsRequest struct {
	Scope StatsScope
}

// StatsResponse is GetStats' response (SPEC_FULL.md §6.1): the lock
// manager's contention counters plus an engine-wide count of index searches
// and their total elapsed time. There is no per-index breakdown and no
// latency histogram.
type StatsResponse struct {
	LockBusy            int64
	LockDeadlockAverted  int64
	LockTimeout         int64
	IndexSearches       int64
	IndexSearchElapsed  time.Duration
}
