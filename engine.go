package vexfs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vexfs/vexfs/internal/block"
	"github.com/vexfs/vexfs/internal/hnsw"
	"github.com/vexfs/vexfs/internal/inode"
	"github.com/vexfs/vexfs/internal/journal"
	"github.com/vexfs/vexfs/internal/lockmgr"
	"github.com/vexfs/vexfs/internal/lsh"
	"github.com/vexfs/vexfs/internal/metric"
	"github.com/vexfs/vexfs/internal/ondisk"
	"github.com/vexfs/vexfs/internal/vector"
)

// collection is the in-memory state backing one vector-bearing inode: its
// descriptor fields, the flat vector set that always serves as the
// brute-force fallback (spec §9 Open Question a), and whatever ANN indices
// BuildIndex has constructed over it.
type collection struct {
	dims        int
	encoding    ElementEncoding
	layout      VectorLayout
	compression CompressionKind
	alignment   int
	modelTag    string

	vectors map[VectorID][]uint32

	hnswIdx    *hnsw.Index
	hnswMetric Metric
	lshIdx     *lsh.Index
	lshMetric  Metric
}

// Engine is the composite value spec §9 calls for: every registry (open
// inodes, active indices, lock manager) is a field of one struct, with no
// ambient singletons.
type Engine struct {
	cfg Config

	store    *block.Store
	alloc    *block.Allocator
	jrnl     *journal.Manager
	inodeMgr *inode.Manager
	locks    *lockmgr.Manager
	dispatch *metric.Dispatcher

	sbBlock BlockID
	sb      *ondisk.Superblock
	log     *logrus.Logger

	mu          sync.Mutex
	collections map[InodeID]*collection
	models      map[string]ModelMeta

	indexSearches      int64
	indexSearchElapsed time.Duration
}

// Format builds a brand-new filesystem image of totalBlocks blocks over a
// fresh in-memory device and returns a ready-to-use Engine (spec §8
// scenario 1: "Format a 1 MiB image with block-size 4096, journal 256
// blocks"). Callers that need to remount the same bytes later (spec §8
// scenario 2) should use FormatDevice with a device they keep a handle to.
func Format(cfg Config, totalBlocks uint64) (*Engine, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dev := block.NewMemDevice(int64(totalBlocks) * int64(cfg.BlockSize))
	return FormatDevice(dev, cfg, totalBlocks)
}

// FormatDevice formats dev as a brand-new filesystem image of totalBlocks
// blocks, the same layout Format builds, over a device the caller supplies
// (and can later hand to Mount to simulate a remount of the same bytes).
func FormatDevice(dev block.Device, cfg Config, totalBlocks uint64) (*Engine, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	const reservedHeader = 2 // superblock block + group descriptor table block
	const bitmapBlocks = 2   // block bitmap + inode bitmap, one block each
	const groupDescBlock = 1

	inodesPerBlock := uint64(cfg.BlockSize / ondisk.InodeSize)
	inodeCount := totalBlocks / 8
	if inodeCount < inodesPerBlock {
		inodeCount = inodesPerBlock
	}
	inodeTableBlocks := (inodeCount + inodesPerBlock - 1) / inodesPerBlock

	journalBlocks := uint64(cfg.JournalBlocks)
	overhead := reservedHeader + bitmapBlocks + inodeTableBlocks + journalBlocks
	if overhead >= totalBlocks {
		return nil, Errorf(ErrInvalidArgument, "Format", "image of %d blocks is too small for %d blocks of overhead", totalBlocks, overhead)
	}
	dataBlocks := totalBlocks - overhead

	store := block.NewStore(dev, cfg.BlockSize)

	blockBitmapBlock := uint64(reservedHeader)
	inodeBitmapBlock := blockBitmapBlock + 1
	inodeTableStart := inodeBitmapBlock + 1
	firstDataBlock := inodeTableStart + inodeTableBlocks
	journalStart := firstDataBlock + dataBlocks

	group := &block.Group{
		Number:        0,
		FirstBlock:    BlockID(firstDataBlock),
		BlocksInGroup: uint(dataBlocks),
		FirstInode:    1,
		InodesInGroup: uint(inodeCount),
		Descriptor: &ondisk.GroupDescriptor{
			BlockBitmapBlock: blockBitmapBlock,
			InodeBitmapBlock: inodeBitmapBlock,
			InodeTableStart:  inodeTableStart,
			FreeBlocksCount:  uint32(dataBlocks),
			FreeInodesCount:  uint32(inodeCount),
		},
		BlockBitmap: block.NewBitmap(uint(dataBlocks)),
		InodeBitmap: block.NewBitmap(uint(inodeCount)),
	}
	alloc := block.NewAllocator(store, []*block.Group{group})
	cache := inode.NewCache(store, BlockID(inodeTableStart), 1024)
	inodeMgr := inode.NewManager(cache, alloc, store)
	jrnl := journal.NewManager(store, BlockID(journalStart), journalBlocks)

	sb := &ondisk.Superblock{
		VersionMajor:  1,
		BlockSize:     uint32(cfg.BlockSize),
		TotalBlocks:   totalBlocks,
		FreeBlocks:    dataBlocks,
		TotalInodes:   inodeCount,
		FreeInodes:    inodeCount,
		JournalStart:  journalStart,
		JournalLength: journalBlocks,
		State:         ondisk.StateClean,
		ErrorPolicy:   ondisk.ErrorPolicyRemountReadOnly,
	}
	fsUUID := uuid.New()
	copy(sb.UUID[:], fsUUID[:])

	log := logrus.New()
	e := &Engine{
		cfg:         cfg,
		store:       store,
		alloc:       alloc,
		jrnl:        jrnl,
		inodeMgr:    inodeMgr,
		locks:       lockmgr.NewManager(0, cfg.NUMAAware),
		dispatch:    metric.NewDispatcher(),
		sbBlock:     0,
		sb:          sb,
		log:         log,
		collections: make(map[InodeID]*collection),
		models:      make(map[string]ModelMeta),
	}
	log.WithFields(logrus.Fields{
		"total_blocks": totalBlocks,
		"data_blocks":  dataBlocks,
		"block_size":   cfg.BlockSize,
		"journal":      journalBlocks,
	}).Info("vexfs: formatted filesystem image")

	// Seed the root directory inode (id 1), mirroring the test harness'
	// bootstrap: the allocator's first inode is reserved for the root.
	group.InodeBitmap.Set(0)
	group.Descriptor.FreeInodesCount--
	sb.FreeInodes--
	root := &ondisk.Inode{Mode: uint16(ondisk.TypeDirectory) | 0755, LinkCount: 1}
	cache.Put(1, root)

	tx := jrnl.Begin()
	gdBlock := make([]byte, cfg.BlockSize)
	copy(gdBlock, group.Descriptor.ToBytes())
	gdBefore, err := store.ReadBlock(BlockID(groupDescBlock))
	if err != nil {
		return nil, err
	}
	if err := tx.RecordBlock(BlockID(groupDescBlock), gdBefore, gdBlock); err != nil {
		return nil, err
	}
	if err := store.WriteBlock(BlockID(groupDescBlock), gdBlock); err != nil {
		return nil, err
	}
	if err := alloc.Flush(tx); err != nil {
		return nil, err
	}
	if err := cache.Sync(tx); err != nil {
		return nil, err
	}
	if err := jrnl.Commit(tx); err != nil {
		return nil, err
	}
	if err := e.writeSuperblock(); err != nil {
		return nil, err
	}
	return e, nil
}

// Mount reconstructs an Engine from an already-formatted device: it parses
// the superblock and group descriptor, reloads the block/inode bitmaps,
// replays any committed-but-not-yet-checkpointed journal transactions, and
// returns an Engine serving the replayed state (spec §4.2, §8 scenario 2).
// Vector collections are not eagerly rehydrated here; each inode's
// collection is lazily rebuilt from its on-disk vector payload the first
// time it is accessed (see collectionFor/loadCollection).
func Mount(dev block.Device, cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()
	if err := ValidateBlockSize(cfg.BlockSize); err != nil {
		return nil, err
	}
	store := block.NewStore(dev, cfg.BlockSize)

	sbRaw, err := store.ReadBlock(0)
	if err != nil {
		return nil, err
	}
	sb, err := ondisk.SuperblockFromBytes(sbRaw)
	if err != nil {
		return nil, Wrap(ErrCorruption, "Mount", err)
	}
	if int(sb.BlockSize) != cfg.BlockSize {
		return nil, Errorf(ErrInvalidArgument, "Mount", "image block size %d does not match configured block size %d", sb.BlockSize, cfg.BlockSize)
	}

	const groupDescBlock = 1
	gdRaw, err := store.ReadBlock(BlockID(groupDescBlock))
	if err != nil {
		return nil, err
	}
	gd, err := ondisk.GroupDescriptorFromBytes(gdRaw)
	if err != nil {
		return nil, Wrap(ErrCorruption, "Mount", err)
	}

	inodesPerBlock := uint64(cfg.BlockSize / ondisk.InodeSize)
	inodeTableBlocks := (sb.TotalInodes + inodesPerBlock - 1) / inodesPerBlock
	firstDataBlock := gd.InodeTableStart + inodeTableBlocks
	if sb.JournalStart < firstDataBlock {
		return nil, Errorf(ErrCorruption, "Mount", "journal start %d precedes first data block %d", sb.JournalStart, firstDataBlock)
	}
	blocksInGroup := sb.JournalStart - firstDataBlock

	blockBitmapRaw, err := store.ReadBlock(BlockID(gd.BlockBitmapBlock))
	if err != nil {
		return nil, err
	}
	blockBitmap, err := block.BitmapFromBytes(blockBitmapRaw)
	if err != nil {
		return nil, Wrap(ErrCorruption, "Mount", err)
	}
	inodeBitmapRaw, err := store.ReadBlock(BlockID(gd.InodeBitmapBlock))
	if err != nil {
		return nil, err
	}
	inodeBitmap, err := block.BitmapFromBytes(inodeBitmapRaw)
	if err != nil {
		return nil, Wrap(ErrCorruption, "Mount", err)
	}

	group := &block.Group{
		Number:        0,
		FirstBlock:    BlockID(firstDataBlock),
		BlocksInGroup: uint(blocksInGroup),
		FirstInode:    1,
		InodesInGroup: uint(sb.TotalInodes),
		Descriptor:    gd,
		BlockBitmap:   blockBitmap,
		InodeBitmap:   inodeBitmap,
	}
	alloc := block.NewAllocator(store, []*block.Group{group})

	if _, err := journal.Replay(store, BlockID(sb.JournalStart), sb.JournalLength); err != nil {
		return nil, Wrap(ErrCorruptJournal, "Mount", err)
	}

	cache := inode.NewCache(store, BlockID(gd.InodeTableStart), 1024)
	inodeMgr := inode.NewManager(cache, alloc, store)
	jrnl := journal.NewManager(store, BlockID(sb.JournalStart), sb.JournalLength)

	log := logrus.New()
	e := &Engine{
		cfg:         cfg,
		store:       store,
		alloc:       alloc,
		jrnl:        jrnl,
		inodeMgr:    inodeMgr,
		locks:       lockmgr.NewManager(0, cfg.NUMAAware),
		dispatch:    metric.NewDispatcher(),
		sbBlock:     0,
		sb:          sb,
		log:         log,
		collections: make(map[InodeID]*collection),
		models:      make(map[string]ModelMeta),
	}
	sb.LastMountNanos = time.Now().UnixNano()
	log.WithFields(logrus.Fields{
		"total_blocks": sb.TotalBlocks,
		"free_blocks":  sb.FreeBlocks,
		"free_inodes":  sb.FreeInodes,
		"journal":      sb.JournalLength,
	}).Info("vexfs: mounted filesystem image")
	return e, nil
}

// Superblock returns a snapshot of the engine's current superblock fields,
// primarily for introspection and tests that assert state survives a remount
// (spec §8 scenario 2).
func (e *Engine) Superblock() ondisk.Superblock {
	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.sb
}

func (e *Engine) writeSuperblock() error {
	e.sb.Touch()
	b, err := e.sb.ToBytes()
	if err != nil {
		e.sb.MarkError()
		e.log.WithError(err).Error("vexfs: superblock failed validation, marking fs state error")
		return Wrap(ErrCorruption, "writeSuperblock", err)
	}
	padded := make([]byte, e.store.BlockSize())
	copy(padded, b)
	if err := e.store.WriteBlock(e.sbBlock, padded); err != nil {
		e.sb.MarkError()
		e.log.WithError(err).Error("vexfs: superblock write failed, marking fs state error")
		return err
	}
	return nil
}

func (e *Engine) collectionFor(id InodeID) (*collection, error) {
	e.mu.Lock()
	if c, ok := e.collections[id]; ok {
		e.mu.Unlock()
		return c, nil
	}
	e.mu.Unlock()
	return e.loadCollection(id)
}

// loadCollection rehydrates a collection from its on-disk inode and vector
// payload when nothing has been cached for it yet in this process — the
// case right after Mount, before any request has touched the inode. Every
// sequential record up to DataOffset is replayed in order, so a vector
// written twice (overwrite) ends up with its last value, matching what
// BatchInsert would have left in memory before the crash (spec §4.2).
func (e *Engine) loadCollection(id InodeID) (*collection, error) {
	in, err := e.inodeMgr.Cache.Get(InodeID(id))
	if err != nil {
		return nil, err
	}
	if !in.HasVector() {
		return nil, Errorf(ErrNotFound, "collectionFor", "inode %d has no vector descriptor set", id)
	}

	c := &collection{
		dims:        int(in.Vector.Dimensions),
		encoding:    ElementEncoding(in.Vector.ElementEncoding),
		layout:      VectorLayout(in.Vector.Layout),
		compression: CompressionKind(in.Vector.CompressionKind),
		alignment:   int(in.Vector.Alignment),
		modelTag:    in.Vector.ModelTagString(),
		vectors:     make(map[VectorID][]uint32),
	}

	if in.Vector.DataOffset > 0 && c.dims > 0 {
		raw, err := e.readInodeBytes(in, 0, int(in.Vector.DataOffset))
		if err != nil {
			return nil, err
		}
		recSize := vector.RecordSize(c.dims)
		for off := 0; off+recSize <= len(raw); off += recSize {
			vid, bits, err := vector.DecodeRecord(raw[off:off+recSize], c.dims)
			if err != nil {
				return nil, Wrap(ErrCorruption, "collectionFor", err)
			}
			c.vectors[VectorID(vid)] = bits
		}
	}

	e.mu.Lock()
	if existing, ok := e.collections[id]; ok {
		e.mu.Unlock()
		return existing, nil
	}
	e.collections[id] = c
	e.mu.Unlock()
	return c, nil
}

// inodeDirectCapacity is the largest byte offset a vector-bearing inode's
// direct block pointers can address, mirroring the directory manager's
// direct-blocks-only precedent (internal/inode/directory.go): indirect
// block pointers are reserved on disk but not exercised by vector payload
// storage in this revision (documented limitation, see DESIGN.md).
func (e *Engine) inodeDirectCapacity() int {
	return ondisk.DirectBlockCount * e.store.BlockSize()
}

// appendInodeBytes writes data at offset within in's direct-block byte
// region, allocating new direct blocks as needed and recording every
// touched block in tx so it checkpoints with the rest of the transaction
// (spec §4.5's DataOffset append cursor).
func (e *Engine) appendInodeBytes(tx *journal.TxHandle, in *ondisk.Inode, offset uint64, data []byte) error {
	bs := e.store.BlockSize()
	capacity := e.inodeDirectCapacity()
	if int(offset)+len(data) > capacity {
		return Errorf(ErrOutOfSpace, "appendInodeBytes", "vector payload offset %d+%d exceeds direct-block capacity %d", offset, len(data), capacity)
	}
	pos := 0
	for pos < len(data) {
		blockIdx := int(offset+uint64(pos)) / bs
		blockOff := int(offset+uint64(pos)) % bs
		if in.Direct[blockIdx] == 0 {
			ids, err := e.alloc.Allocate(tx, 0, 1)
			if err != nil {
				return err
			}
			in.Direct[blockIdx] = uint64(ids[0])
		}
		target := BlockID(in.Direct[blockIdx])
		before, err := e.store.ReadBlock(target)
		if err != nil {
			return err
		}
		buf := append([]byte(nil), before...)
		n := copy(buf[blockOff:], data[pos:])
		if err := tx.RecordBlock(target, before, buf); err != nil {
			return err
		}
		if err := e.store.WriteBlock(target, buf); err != nil {
			return err
		}
		pos += n
	}
	return nil
}

// readInodeBytes reads length bytes starting at offset from in's
// direct-block byte region.
func (e *Engine) readInodeBytes(in *ondisk.Inode, offset uint64, length int) ([]byte, error) {
	bs := e.store.BlockSize()
	out := make([]byte, length)
	pos := 0
	for pos < length {
		blockIdx := int(offset+uint64(pos)) / bs
		blockOff := int(offset+uint64(pos)) % bs
		if blockIdx >= ondisk.DirectBlockCount || in.Direct[blockIdx] == 0 {
			return nil, Errorf(ErrCorruption, "readInodeBytes", "vector payload offset %d references unallocated block", offset+uint64(pos))
		}
		raw, err := e.store.ReadBlock(BlockID(in.Direct[blockIdx]))
		if err != nil {
			return nil, err
		}
		n := copy(out[pos:], raw[blockOff:])
		pos += n
	}
	return out, nil
}

// VectorMetaSet validates and installs a vector descriptor on an inode
// (spec §6).
func (e *Engine) VectorMetaSet(req VectorMetaSetRequest) (VectorMetaResponse, error) {
	if err := ValidateDimensions(req.Dimensions); err != nil {
		return VectorMetaResponse{}, err
	}
	alignment := req.Alignment
	if alignment == 0 {
		alignment = DefaultAlignment
	}
	if alignment < MinAlignment {
		return VectorMetaResponse{}, Errorf(ErrInvalidArgument, "VectorMetaSet", "alignment %d below minimum %d", alignment, MinAlignment)
	}

	sess := lockmgr.NewSession()
	unlock, err := e.locks.AcquireMetadata(sess, true)
	if err != nil {
		return VectorMetaResponse{}, err
	}
	defer unlock()

	in, err := e.inodeMgr.Cache.Get(InodeID(req.Inode))
	if err != nil {
		return VectorMetaResponse{}, err
	}
	in.Vector = ondisk.VectorDescriptor{
		Dimensions:      uint32(req.Dimensions),
		ElementEncoding: uint8(req.ElementEncoding),
		Layout:          uint8(req.Layout),
		CompressionKind: uint8(req.CompressionKind),
		Alignment:       uint16(alignment),
	}
	in.Vector.SetModelTag(req.ModelTag)
	e.inodeMgr.Cache.Put(InodeID(req.Inode), in)

	tx := e.jrnl.Begin()
	if err := e.inodeMgr.Cache.Sync(tx); err != nil {
		tx.Abort()
		return VectorMetaResponse{}, err
	}
	if err := e.jrnl.Commit(tx); err != nil {
		return VectorMetaResponse{}, err
	}

	e.mu.Lock()
	e.collections[req.Inode] = &collection{
		dims:        req.Dimensions,
		encoding:    req.ElementEncoding,
		layout:      req.Layout,
		compression: req.CompressionKind,
		alignment:   alignment,
		modelTag:    req.ModelTag,
		vectors:     make(map[VectorID][]uint32),
	}
	e.mu.Unlock()

	return e.vectorMetaResponse(req.Inode)
}

func (e *Engine) vectorMetaResponse(id InodeID) (VectorMetaResponse, error) {
	c, err := e.collectionFor(id)
	if err != nil {
		return VectorMetaResponse{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return VectorMetaResponse{
		Dimensions:      c.dims,
		ElementEncoding: c.encoding,
		VectorCount:     uint64(len(c.vectors)),
		Layout:          c.layout,
		CompressionKind: c.compression,
		Alignment:       c.alignment,
		ModelTag:        c.modelTag,
	}, nil
}

// VectorMetaGet returns the descriptor currently stored on an inode.
func (e *Engine) VectorMetaGet(req VectorMetaGetRequest) (VectorMetaResponse, error) {
	return e.vectorMetaResponse(req.Inode)
}

// BatchInsert validates and inserts vectors into an inode's storage and any
// indices already built over it, journaling the inode metadata update and
// the vector bytes themselves as one transaction (spec §6, §4.5: "journals
// the batch" — the after-images recorded here are what journal.Replay
// reapplies on an interrupted Mount).
func (e *Engine) BatchInsert(req BatchInsertRequest) (BatchInsertResponse, error) {
	if err := ValidateBatchSize(len(req.VectorBits)); err != nil {
		return BatchInsertResponse{}, err
	}
	if len(req.VectorIDs) != len(req.VectorBits) {
		return BatchInsertResponse{}, Errorf(ErrInvalidArgument, "BatchInsert", "id count %d does not match vector count %d", len(req.VectorIDs), len(req.VectorBits))
	}
	c, err := e.collectionFor(req.Inode)
	if err != nil {
		return BatchInsertResponse{}, err
	}
	in, err := e.inodeMgr.Cache.Get(InodeID(req.Inode))
	if err != nil {
		return BatchInsertResponse{}, err
	}

	tx := e.jrnl.Begin()
	sess := lockmgr.NewSession()
	inserted := 0
	for i, bits := range req.VectorBits {
		if len(bits) != c.dims {
			tx.Abort()
			return BatchInsertResponse{Inserted: inserted}, Errorf(ErrInvalidArgument, "BatchInsert", "vector %d has %d components, expected %d", req.VectorIDs[i], len(bits), c.dims)
		}
		if req.Flags&InsertValidate != 0 && metric.HasNaNOrInf(bits) {
			tx.Abort()
			return BatchInsertResponse{Inserted: inserted}, Errorf(ErrInvalidArgument, "BatchInsert", "vector %d contains NaN or Inf", req.VectorIDs[i])
		}
		id := req.VectorIDs[i]
		unlock, err := e.locks.WriteVector(context.Background(), sess, id)
		if err != nil {
			tx.Abort()
			return BatchInsertResponse{Inserted: inserted}, err
		}
		e.mu.Lock()
		if _, exists := c.vectors[id]; exists && req.Flags&InsertOverwrite == 0 {
			e.mu.Unlock()
			unlock()
			tx.Abort()
			return BatchInsertResponse{Inserted: inserted}, Errorf(ErrExists, "BatchInsert", "vector %d already exists", id)
		}

		record := vector.EncodeRecord(uint64(id), bits)
		if err := e.appendInodeBytes(tx, in, in.Vector.DataOffset, record); err != nil {
			e.mu.Unlock()
			unlock()
			tx.Abort()
			return BatchInsertResponse{Inserted: inserted}, err
		}
		in.Vector.DataOffset += uint64(len(record))

		c.vectors[id] = bits
		in.Vector.VectorCount = uint64(len(c.vectors))
		if c.hnswIdx != nil {
			_ = c.hnswIdx.Insert(id, bits)
		}
		if c.lshIdx != nil {
			_ = c.lshIdx.Insert(id, bits)
		}
		e.mu.Unlock()
		unlock()
		inserted++
	}

	e.inodeMgr.Cache.Put(InodeID(req.Inode), in)
	if err := e.alloc.Flush(tx); err != nil {
		tx.Abort()
		return BatchInsertResponse{Inserted: inserted}, err
	}
	if err := e.inodeMgr.Cache.Sync(tx); err != nil {
		tx.Abort()
		return BatchInsertResponse{Inserted: inserted}, err
	}
	if err := e.jrnl.Commit(tx); err != nil {
		return BatchInsertResponse{Inserted: inserted}, err
	}
	return BatchInsertResponse{Inserted: inserted}, nil
}

func (e *Engine) bruteForce(c *collection, query []uint32, m Metric) ([]SearchResult, error) {
	results := make([]SearchResult, 0, len(c.vectors))
	for id, bits := range c.vectors {
		d, err := e.dispatch.Distance(m, query, bits)
		if err != nil {
			return nil, err
		}
		results = append(results, SearchResult{ID: id, Distance: d})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].ID < results[j].ID
	})
	return results, nil
}

// KnnSearch runs knn(query, k) over an inode's best available index,
// falling back to an exact brute-force scan when no ANN index has been
// built (spec §6, §9 Open Question a).
func (e *Engine) KnnSearch(req KnnSearchRequest) (KnnSearchResponse, error) {
	if err := ValidateResultCount(req.K); err != nil {
		return KnnSearchResponse{}, err
	}
	start := time.Now()
	c, err := e.collectionFor(req.Inode)
	if err != nil {
		return KnnSearchResponse{}, err
	}

	e.mu.Lock()
	hnswIdx, hnswMetric := c.hnswIdx, c.hnswMetric
	lshIdx, lshMetric := c.lshIdx, c.lshMetric
	e.mu.Unlock()

	var results []SearchResult
	scanned := 0
	switch {
	case hnswIdx != nil && hnswMetric == req.Metric:
		res, err := hnswIdx.Search(req.Query, req.K)
		if err != nil {
			return KnnSearchResponse{}, err
		}
		for _, r := range res {
			results = append(results, SearchResult{ID: r.ID, Distance: r.Distance})
		}
		scanned = hnswIdx.Len()
	case lshIdx != nil && lshMetric == req.Metric:
		res, err := lshIdx.Search(req.Query, req.K)
		if err != nil {
			return KnnSearchResponse{}, err
		}
		for _, r := range res {
			results = append(results, SearchResult{ID: r.ID, Distance: r.Distance})
		}
		scanned = len(c.vectors)
	default:
		e.mu.Lock()
		all, err := e.bruteForce(c, req.Query, req.Metric)
		e.mu.Unlock()
		if err != nil {
			return KnnSearchResponse{}, err
		}
		results = all
		scanned = len(all)
	}
	if len(results) > req.K {
		results = results[:req.K]
	}

	e.recordIndexSearch(time.Since(start))
	return KnnSearchResponse{Results: results, Stats: SearchStats{CandidatesScanned: scanned, Elapsed: time.Since(start)}}, nil
}

// RangeSearch returns every vector within MaxDistance of Query. This always
// runs an exact brute-force scan: ANN indices return approximate top-k
// rather than a radius set, so a range query needs the exact path to honor
// its "all results within radius" contract (spec §4.8/§6).
func (e *Engine) RangeSearch(req RangeSearchRequest) (RangeSearchResponse, error) {
	if err := ValidateResultCount(req.MaxResults); err != nil {
		return RangeSearchResponse{}, err
	}
	start := time.Now()
	c, err := e.collectionFor(req.Inode)
	if err != nil {
		return RangeSearchResponse{}, err
	}
	e.mu.Lock()
	all, err := e.bruteForce(c, req.Query, req.Metric)
	e.mu.Unlock()
	if err != nil {
		return RangeSearchResponse{}, err
	}
	var results []SearchResult
	for _, r := range all {
		if r.Distance <= req.MaxDistance {
			results = append(results, r)
		}
	}
	if req.MaxResults > 0 && len(results) > req.MaxResults {
		results = results[:req.MaxResults]
	}
	e.recordIndexSearch(time.Since(start))
	return RangeSearchResponse{Results: results, Stats: SearchStats{CandidatesScanned: len(all), Elapsed: time.Since(start)}}, nil
}

func matchFilter(id VectorID, f Filter) bool {
	if f.Field != FilterFieldID {
		// Only the id field is tracked by this storage layer; every other
		// field requires metadata this implementation does not carry per
		// vector, so non-id filters pass through rather than reject the
		// whole request (documented limitation, see DESIGN.md).
		return true
	}
	val, ok := f.Value.(VectorID)
	if !ok {
		if iv, ok2 := f.Value.(int); ok2 {
			val = VectorID(iv)
		} else {
			return true
		}
	}
	switch f.Op {
	case FilterEq:
		return id == val
	case FilterNeq:
		return id != val
	case FilterLt:
		return id < val
	case FilterLte:
		return id <= val
	case FilterGt:
		return id > val
	case FilterGte:
		return id >= val
	default:
		return true
	}
}

// FilteredSearch returns k results satisfying the AND of every filter
// (spec §6).
func (e *Engine) FilteredSearch(req FilteredSearchRequest) (FilteredSearchResponse, error) {
	if err := ValidateResultCount(req.K); err != nil {
		return FilteredSearchResponse{}, err
	}
	c, err := e.collectionFor(req.Inode)
	if err != nil {
		return FilteredSearchResponse{}, err
	}
	e.mu.Lock()
	all, err := e.bruteForce(c, req.Query, req.Metric)
	e.mu.Unlock()
	if err != nil {
		return FilteredSearchResponse{}, err
	}
	var results []SearchResult
	for _, r := range all {
		ok := true
		for _, f := range req.Filters {
			if !matchFilter(r.ID, f) {
				ok = false
				break
			}
		}
		if ok {
			results = append(results, r)
			if len(results) >= req.K {
				break
			}
		}
	}
	return FilteredSearchResponse{Results: results}, nil
}

// MultiVectorSearch runs one KnnSearch per query concurrently, preserving
// query order in the response regardless of completion order.
func (e *Engine) MultiVectorSearch(req MultiVectorSearchRequest) (MultiVectorSearchResponse, error) {
	out := make([][]SearchResult, len(req.Queries))
	var g errgroup.Group
	for i, q := range req.Queries {
		i, q := i, q
		g.Go(func() error {
			resp, err := e.KnnSearch(KnnSearchRequest{Inode: req.Inode, Query: q, K: req.K, Metric: req.Metric})
			if err != nil {
				return err
			}
			out[i] = resp.Results
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return MultiVectorSearchResponse{}, err
	}
	return MultiVectorSearchResponse{Results: out}, nil
}

// HybridSearch scores every candidate by PrimaryWeight*primary +
// SecondaryWeight*secondary and returns the k lowest-scoring results.
func (e *Engine) HybridSearch(req HybridSearchRequest) (HybridSearchResponse, error) {
	if err := ValidateResultCount(req.K); err != nil {
		return HybridSearchResponse{}, err
	}
	c, err := e.collectionFor(req.Inode)
	if err != nil {
		return HybridSearchResponse{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	type scored struct {
		id    VectorID
		score float64
	}
	var all []scored
	for id, bits := range c.vectors {
		primary, err := e.dispatch.Distance(req.PrimaryMetric, req.Query, bits)
		if err != nil {
			return HybridSearchResponse{}, err
		}
		secondary, err := e.dispatch.Distance(req.SecondaryMetric, req.Query, bits)
		if err != nil {
			return HybridSearchResponse{}, err
		}
		score := req.PrimaryWeight*primary + req.SecondaryWeight*secondary
		all = append(all, scored{id, score})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score < all[j].score
		}
		return all[i].id < all[j].id
	})
	if len(all) > req.K {
		all = all[:req.K]
	}
	results := make([]SearchResult, len(all))
	for i, s := range all {
		results[i] = SearchResult{ID: s.id, Distance: s.score}
	}
	return HybridSearchResponse{Results: results}, nil
}

// BuildIndex builds or rebuilds the named index kind over an inode's
// current vector set (spec §6). IVF, PQ, and Flat are accepted as valid
// kinds but do not construct a distinct structure: IVF/PQ training is out
// of this engine's scope (spec Non-goals: "training of embedding models"
// adjacent concerns) and Flat is simply the always-available brute-force
// scan every KnnSearch falls back to (spec §9 Open Question a).
func (e *Engine) BuildIndex(req BuildIndexRequest) (BuildIndexResponse, error) {
	start := time.Now()
	c, err := e.collectionFor(req.Inode)
	if err != nil {
		return BuildIndexResponse{}, err
	}

	sess := lockmgr.NewSession()
	unlock, err := e.locks.AcquireIndexWrite(sess, req.Kind)
	if err != nil {
		return BuildIndexResponse{}, err
	}
	defer unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	switch req.Kind {
	case IndexHNSW:
		idx := hnsw.New(req.Metric, e.dispatch, hnsw.Params{M: e.cfg.HNSWM, EfConstruction: e.cfg.HNSWEfConstruct, EfSearch: e.cfg.HNSWEfSearch, MaxLayers: 16}, int64(req.Inode))
		for id, bits := range c.vectors {
			if err := idx.Insert(id, bits); err != nil {
				return BuildIndexResponse{}, err
			}
		}
		c.hnswIdx = idx
		c.hnswMetric = req.Metric
	case IndexLSH:
		idx := lsh.New(c.dims, uint64(req.Inode), req.Metric, e.dispatch, lsh.Params{NumTables: e.cfg.LSHNumTables, FuncsPerTable: e.cfg.LSHFuncsPerTable, ExactFallbackLimit: 1000})
		for id, bits := range c.vectors {
			if err := idx.Insert(id, bits); err != nil {
				return BuildIndexResponse{}, err
			}
		}
		c.lshIdx = idx
		c.lshMetric = req.Metric
	case IndexFlat, IndexIVF, IndexPQ:
		// no distinct structure; the flat vector map already serves these.
	default:
		return BuildIndexResponse{}, Errorf(ErrInvalidArgument, "BuildIndex", "unsupported index kind %d", req.Kind)
	}
	elapsed := time.Since(start)
	e.log.WithFields(logrus.Fields{
		"inode":   req.Inode,
		"kind":    req.Kind,
		"metric":  req.Metric,
		"vectors": len(c.vectors),
		"elapsed": elapsed,
	}).Info("vexfs: built index")
	return BuildIndexResponse{Elapsed: elapsed}, nil
}

// DropIndex removes a built index, leaving the flat vector set untouched.
func (e *Engine) DropIndex(req DropIndexRequest) error {
	c, err := e.collectionFor(req.Inode)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	switch req.Kind {
	case IndexHNSW:
		c.hnswIdx = nil
	case IndexLSH:
		c.lshIdx = nil
	}
	return nil
}

// OptimizeIndex rebuilds an index in place (for HNSW/LSH this re-derives it
// from scratch, which also compacts any delete-induced fragmentation).
func (e *Engine) OptimizeIndex(req OptimizeIndexRequest) error {
	switch req.Kind {
	case IndexHNSW, IndexLSH:
		_, err := e.BuildIndex(BuildIndexRequest{Inode: req.Inode, Kind: req.Kind, Metric: e.metricFor(req)})
		return err
	default:
		return nil
	}
}

func (e *Engine) metricFor(req OptimizeIndexRequest) Metric {
	c, err := e.collectionFor(req.Inode)
	if err != nil {
		return MetricL2
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if req.Kind == IndexHNSW && c.hnswIdx != nil {
		return c.hnswMetric
	}
	if req.Kind == IndexLSH && c.lshIdx != nil {
		return c.lshMetric
	}
	return MetricL2
}

// ModelMetaSet records model metadata for later lookup (spec §6).
func (e *Engine) ModelMetaSet(req ModelMetaSetRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.models[req.Meta.Name] = req.Meta
	return nil
}

// ModelMetaGet looks up previously set model metadata by name.
func (e *Engine) ModelMetaGet(req ModelMetaGetRequest) (ModelMetaResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	meta, ok := e.models[req.Name]
	if !ok {
		return ModelMetaResponse{}, Errorf(ErrNotFound, "ModelMetaGet", "no model metadata named %q", req.Name)
	}
	return ModelMetaResponse{Meta: meta}, nil
}

func (e *Engine) recordIndexSearch(elapsed time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.indexSearches++
	e.indexSearchElapsed += elapsed
}

// GetStats returns a counters snapshot (spec §6; SPEC_FULL.md §6.1).
func (e *Engine) GetStats(req GetStatsRequest) StatsResponse {
	lockStats := e.locks.Stats()
	e.mu.Lock()
	defer e.mu.Unlock()
	return StatsResponse{
		LockBusy:           lockStats.Busy,
		LockDeadlockAverted: lockStats.DeadlockAverted,
		LockTimeout:        lockStats.Timeout,
		IndexSearches:      e.indexSearches,
		IndexSearchElapsed: e.indexSearchElapsed,
	}
}

// ResetStats zeroes every counter GetStats reports.
func (e *Engine) ResetStats(req ResetStatsRequest) {
	e.locks.ResetStats()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.indexSearches = 0
	e.indexSearchElapsed = 0
}

// Dispatch is the single control-plane entry point spec §6 names: it
// accepts any of the tagged request types above and returns the matching
// response (or an error, without side effect on validation failure).
func (e *Engine) Dispatch(req interface{}) (interface{}, error) {
	switch r := req.(type) {
	case VectorMetaSetRequest:
		return e.VectorMetaSet(r)
	case VectorMetaGetRequest:
		return e.VectorMetaGet(r)
	case BatchInsertRequest:
		return e.BatchInsert(r)
	case KnnSearchRequest:
		return e.KnnSearch(r)
	case RangeSearchRequest:
		return e.RangeSearch(r)
	case FilteredSearchRequest:
		return e.FilteredSearch(r)
	case MultiVectorSearchRequest:
		return e.MultiVectorSearch(r)
	case HybridSearchRequest:
		return e.HybridSearch(r)
	case BuildIndexRequest:
		return e.BuildIndex(r)
	case DropIndexRequest:
		return nil, e.DropIndex(r)
	case OptimizeIndexRequest:
		return nil, e.OptimizeIndex(r)
	case ModelMetaSetRequest:
		return nil, e.ModelMetaSet(r)
	case ModelMetaGetRequest:
		return e.ModelMetaGet(r)
	case GetStatsRequest:
		return e.GetStats(r), nil
	case ResetStatsRequest:
		e.ResetStats(r)
		return nil, nil
	default:
		return nil, Errorf(ErrInvalidArgument, "Dispatch", "unrecognized request type %T", req)
	}
}
