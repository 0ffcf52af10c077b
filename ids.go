package vexfs

// BlockID identifies a single on-disk block. 0 is reserved as "null".
type BlockID uint64

// InodeID identifies a single inode. 0 is reserved as "null".
type InodeID uint64

// VectorID identifies a vector payload. For single-vector files it equals
// the owning inode's InodeID; for batch-ingest files it is a tag drawn from
// a monotonically increasing counter independent of any inode.
type VectorID uint64

const (
	// NullBlock is the reserved "no block" sentinel.
	NullBlock BlockID = 0
	// NullInode is the reserved "no inode" sentinel.
	NullInode InodeID = 0

	// MinDimensions and MaxDimensions bound a vector's dimensionality (spec §6).
	MinDimensions = 1
	MaxDimensions = 65536

	// MaxBatchSize bounds BatchInsert vector counts (spec §6).
	MaxBatchSize = 10000

	// MaxResults bounds the number of results any search request may request (spec §6).
	MaxResults = 10000

	// MinBlockSize and MaxBlockSize bound the superblock's block-size field (spec §3).
	MinBlockSize = 4096
	MaxBlockSize = 65536

	// MinAlignment is the smallest permitted vector payload alignment (spec §3).
	MinAlignment = 16
	// DefaultAlignment is the cache-line/AVX-512-friendly default alignment (spec §3).
	DefaultAlignment = 64

	// MaxSymlinkDepth bounds symlink-following recursion during path resolution (spec §4.3).
	MaxSymlinkDepth = 8
)

// ElementEncoding names the wire/on-disk representation of a vector's scalar
// components (spec §3, inode vector descriptor).
type ElementEncoding uint8

const (
	EncodingF32Bits ElementEncoding = iota
	EncodingF16Bits
	EncodingI8
	EncodingBinary
)

// BytesPerElement returns the storage width of one vector component for enc,
// or 0 for EncodingBinary where width is expressed in bits, not bytes.
func BytesPerElement(enc ElementEncoding) int {
	switch enc {
	case EncodingF32Bits:
		return 4
	case EncodingF16Bits:
		return 2
	case EncodingI8:
		return 1
	case EncodingBinary:
		return 0
	default:
		return 0
	}
}

// VectorLayout names how a vector's components are arranged on disk.
type VectorLayout uint8

const (
	LayoutDense VectorLayout = iota
	LayoutSparse
	LayoutCompressed
)

// CompressionKind selects the codec used when VectorLayout is LayoutCompressed.
type CompressionKind uint8

const (
	CompressionNone CompressionKind = iota
	CompressionZstd
	CompressionLZ4
	CompressionXZ
)

// IndexKind names a buildable/droppable index (spec §6, BuildIndex/DropIndex).
type IndexKind uint8

const (
	IndexHNSW IndexKind = iota
	IndexLSH
	IndexIVF
	IndexPQ
	IndexFlat
)

// Metric names a distance function usable by KnnSearch/RangeSearch/HybridSearch.
type Metric uint8

const (
	MetricL2 Metric = iota
	MetricCosine
	MetricDot
	MetricL1
)

// ValidateDimensions enforces the [1, 65536] bound from spec §6.
func ValidateDimensions(dims int) error {
	if dims < MinDimensions || dims > MaxDimensions {
		return Errorf(ErrInvalidArgument, "ValidateDimensions", "dimensions %d out of range [%d, %d]", dims, MinDimensions, MaxDimensions)
	}
	return nil
}

// ValidateBatchSize enforces the <= 10000 bound from spec §6.
func ValidateBatchSize(n int) error {
	if n > MaxBatchSize {
		return Errorf(ErrInvalidArgument, "ValidateBatchSize", "batch size %d exceeds maximum %d", n, MaxBatchSize)
	}
	return nil
}

// ValidateResultCount enforces the <= 10000 bound from spec §6.
func ValidateResultCount(n int) error {
	if n > MaxResults {
		return Errorf(ErrInvalidArgument, "ValidateResultCount", "result count %d exceeds maximum %d", n, MaxResults)
	}
	return nil
}

// ValidateBlockSize enforces the power-of-two [4 KiB, 64 KiB] bound from spec §3.
func ValidateBlockSize(size int) error {
	if size < MinBlockSize || size > MaxBlockSize || size&(size-1) != 0 {
		return Errorf(ErrInvalidArgument, "ValidateBlockSize", "block size %d is not a power of two in [%d, %d]", size, MinBlockSize, MaxBlockSize)
	}
	return nil
}
