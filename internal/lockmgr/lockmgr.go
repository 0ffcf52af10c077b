// Package lockmgr implements the locking substrate described in spec §4.4:
// per-vector RW locks, a per-index seqlock, a NUMA-aware lock cache, and a
// deadlock guard enforcing the canonical acquisition order
// global < index < vector < metadata.
package lockmgr

import (
	"context"
	"hash/fnv"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vexfs/vexfs"
)

// Level names a rung in the canonical lock-order ladder (spec §4.4).
type Level int

const (
	LevelGlobal Level = iota
	LevelIndex
	LevelVector
	LevelMetadata
)

// Session tracks one logical caller's (goroutine's) held lock levels so the
// deadlock guard can reject out-of-order composite acquisitions. Go has no
// portable thread-local storage, so callers thread a *Session explicitly
// through a single logical operation instead of it being inferred from the
// calling goroutine — the Go-idiomatic analogue of the spec's per-thread
// held set.
type Session struct {
	mu      sync.Mutex
	held    []Level
}

// NewSession starts a fresh lock-acquisition session for one logical operation.
func NewSession() *Session { return &Session{} }

func (s *Session) maxHeld() Level {
	s.mu.Lock()
	defer s.mu.Unlock()
	max := Level(-1)
	for _, l := range s.held {
		if l > max {
			max = l
		}
	}
	return max
}

func (s *Session) push(l Level) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, held := range s.held {
		if l < held {
			return vexfs.Errorf(vexfs.ErrDeadlockAverted, "Session.push", "attempted to acquire level %d after already holding level %d, violating canonical order global<index<vector<metadata", l, held)
		}
	}
	s.held = append(s.held, l)
	return nil
}

func (s *Session) pop(l Level) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.held) - 1; i >= 0; i-- {
		if s.held[i] == l {
			s.held = append(s.held[:i], s.held[i+1:]...)
			return
		}
	}
}

// vectorLock is a single per-vector reader/writer lock augmented with a
// lock-free try path for Busy detection (spec §4.4: try_read/try_write
// never block).
type vectorLock struct {
	mu    sync.RWMutex
	state int32 // 0 = free, 1 = write-held, >=2 = (readers+1)
}

const (
	stateFree       int32 = 0
	stateWriteHeld  int32 = 1
	stateReaderBase int32 = 2
)

func (v *vectorLock) tryWrite() bool {
	if !atomic.CompareAndSwapInt32(&v.state, stateFree, stateWriteHeld) {
		return false
	}
	v.mu.Lock()
	return true
}

func (v *vectorLock) unlockWrite() {
	v.mu.Unlock()
	atomic.StoreInt32(&v.state, stateFree)
}

func (v *vectorLock) tryRead() bool {
	for {
		cur := atomic.LoadInt32(&v.state)
		if cur == stateWriteHeld {
			return false
		}
		next := cur + 1
		if cur == stateFree {
			next = stateReaderBase
		}
		if atomic.CompareAndSwapInt32(&v.state, cur, next) {
			v.mu.RLock()
			return true
		}
	}
}

func (v *vectorLock) unlockRead() {
	v.mu.RUnlock()
	for {
		cur := atomic.LoadInt32(&v.state)
		next := cur - 1
		if next < stateReaderBase {
			next = stateFree
		}
		if atomic.CompareAndSwapInt32(&v.state, cur, next) {
			return
		}
	}
}

// shard is one NUMA-local partition of the vector lock cache.
type shard struct {
	mu    sync.Mutex
	locks map[vexfs.VectorID]*vectorLock
}

// SeqLock is a reader-validated, writer-exclusive lock keyed by index kind
// (spec §4.4: "readers take a snapshot generation, scan lock-free, and
// validate against the post-scan generation").
type SeqLock struct {
	gen   uint64
	write sync.Mutex
}

// Begin returns the current generation a reader should validate against
// after it finishes scanning.
func (s *SeqLock) Begin() uint64 { return atomic.LoadUint64(&s.gen) }

// Valid reports whether the generation captured by Begin is still current
// and even (no writer was, or is, in progress); false means the reader must
// retry its scan.
func (s *SeqLock) Valid(gen uint64) bool {
	return gen%2 == 0 && atomic.LoadUint64(&s.gen) == gen
}

// Lock begins an exclusive writer critical section.
func (s *SeqLock) Lock() {
	s.write.Lock()
	atomic.AddUint64(&s.gen, 1)
}

// Unlock ends the exclusive writer critical section.
func (s *SeqLock) Unlock() {
	atomic.AddUint64(&s.gen, 1)
	s.write.Unlock()
}

// Manager wires together the vector lock cache, the per-index seqlocks, and
// the global and metadata locks, NUMA-sharding the vector cache across
// node_count partitions (spec §4.4).
type Manager struct {
	global     sync.RWMutex
	metadata   sync.RWMutex
	nodeCount  int
	numaAware  bool
	shards     []*shard
	indexLocks map[vexfs.IndexKind]*SeqLock

	contentionThreshold int32
	busyCount           int64
	deadlockCount       int64
	timeoutCount        int64
}

// NewManager builds a lock manager. A nodeCount below 1 is replaced by
// runtime.NumCPU() (at least 1); when numaAware is false, all vectors land in shard 0 (uniform-system behavior,
// spec §5: "NUMA awareness affects only lock-object placement; logical
// semantics are identical on uniform systems").
func NewManager(nodeCount int, numaAware bool) *Manager {
	if nodeCount < 1 {
		nodeCount = runtime.NumCPU()
		if nodeCount < 1 {
			nodeCount = 1
		}
	}
	m := &Manager{
		nodeCount: nodeCount,
		numaAware: numaAware,
		shards:    make([]*shard, nodeCount),
		indexLocks: map[vexfs.IndexKind]*SeqLock{
			vexfs.IndexHNSW: {},
			vexfs.IndexLSH:  {},
		},
		contentionThreshold: 4,
	}
	for i := range m.shards {
		m.shards[i] = &shard{locks: make(map[vexfs.VectorID]*vectorLock)}
	}
	return m
}

func (m *Manager) shardFor(id vexfs.VectorID) *shard {
	if !m.numaAware {
		return m.shards[0]
	}
	h := fnv.New64a()
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(id >> (8 * i))
	}
	h.Write(b[:])
	idx := int(h.Sum64() % uint64(m.nodeCount))
	return m.shards[idx]
}

func (m *Manager) vectorLockFor(id vexfs.VectorID) *vectorLock {
	sh := m.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	vl, ok := sh.locks[id]
	if !ok {
		vl = &vectorLock{}
		sh.locks[id] = vl
	}
	return vl
}

// IndexSeqLock returns the seqlock for the given index kind, creating one
// lazily for index kinds beyond HNSW/LSH (IVF/PQ/Flat future-proofing).
func (m *Manager) IndexSeqLock(kind vexfs.IndexKind) *SeqLock {
	if l, ok := m.indexLocks[kind]; ok {
		return l
	}
	l := &SeqLock{}
	m.indexLocks[kind] = l
	return l
}

// TryWriteVector attempts a non-blocking exclusive acquisition of id's lock.
// Returns Busy if contended.
func (m *Manager) TryWriteVector(sess *Session, id vexfs.VectorID) (func(), error) {
	if err := sess.push(LevelVector); err != nil {
		atomic.AddInt64(&m.deadlockCount, 1)
		return nil, err
	}
	vl := m.vectorLockFor(id)
	if !vl.tryWrite() {
		sess.pop(LevelVector)
		atomic.AddInt64(&m.busyCount, 1)
		return nil, vexfs.Errorf(vexfs.ErrBusy, "TryWriteVector", "vector %d write-locked by another operation", id)
	}
	return func() { vl.unlockWrite(); sess.pop(LevelVector) }, nil
}

// TryReadVector attempts a non-blocking shared acquisition of id's lock.
func (m *Manager) TryReadVector(sess *Session, id vexfs.VectorID) (func(), error) {
	if err := sess.push(LevelVector); err != nil {
		atomic.AddInt64(&m.deadlockCount, 1)
		return nil, err
	}
	vl := m.vectorLockFor(id)
	if !vl.tryRead() {
		sess.pop(LevelVector)
		atomic.AddInt64(&m.busyCount, 1)
		return nil, vexfs.Errorf(vexfs.ErrBusy, "TryReadVector", "vector %d read-locked against a pending writer", id)
	}
	return func() { vl.unlockRead(); sess.pop(LevelVector) }, nil
}

// WriteVector blocks (honoring ctx's deadline) until it holds id exclusively.
// On timeout it returns Timeout without side effects (spec §4.4).
func (m *Manager) WriteVector(ctx context.Context, sess *Session, id vexfs.VectorID) (func(), error) {
	if err := sess.push(LevelVector); err != nil {
		atomic.AddInt64(&m.deadlockCount, 1)
		return nil, err
	}
	vl := m.vectorLockFor(id)
	done := make(chan struct{})
	go func() {
		vl.mu.Lock()
		close(done)
	}()
	select {
	case <-done:
		atomic.StoreInt32(&vl.state, stateWriteHeld)
		return func() { vl.unlockWrite(); sess.pop(LevelVector) }, nil
	case <-ctx.Done():
		atomic.AddInt64(&m.timeoutCount, 1)
		sess.pop(LevelVector)
		// the waiting goroutine may still win the mutex; release it when it does
		go func() { <-done; vl.mu.Unlock() }()
		return nil, vexfs.Errorf(vexfs.ErrTimeout, "WriteVector", "deadline expired waiting for vector %d", id)
	}
}

// Stats exposes the instrumentation GetStats surfaces for the locking
// substrate (SPEC_FULL.md §6.1).
type Stats struct {
	Busy           int64
	DeadlockAverted int64
	Timeout        int64
}

// Stats returns a snapshot of lock contention counters.
func (m *Manager) Stats() Stats {
	return Stats{
		Busy:           atomic.LoadInt64(&m.busyCount),
		DeadlockAverted: atomic.LoadInt64(&m.deadlockCount),
		Timeout:        atomic.LoadInt64(&m.timeoutCount),
	}
}

// ResetStats zeroes the contention counters.
func (m *Manager) ResetStats() {
	atomic.StoreInt64(&m.busyCount, 0)
	atomic.StoreInt64(&m.deadlockCount, 0)
	atomic.StoreInt64(&m.timeoutCount, 0)
}

// AcquireGlobal takes the global lock; it must be the first lock a session
// acquires (spec §4.4 canonical order).
func (m *Manager) AcquireGlobal(sess *Session, write bool) (func(), error) {
	if err := sess.push(LevelGlobal); err != nil {
		return nil, err
	}
	if write {
		m.global.Lock()
		return func() { m.global.Unlock(); sess.pop(LevelGlobal) }, nil
	}
	m.global.RLock()
	return func() { m.global.RUnlock(); sess.pop(LevelGlobal) }, nil
}

// AcquireMetadata takes the metadata lock; it must be the last lock a
// session acquires (spec §4.4 canonical order).
func (m *Manager) AcquireMetadata(sess *Session, write bool) (func(), error) {
	if err := sess.push(LevelMetadata); err != nil {
		return nil, err
	}
	if write {
		m.metadata.Lock()
		return func() { m.metadata.Unlock(); sess.pop(LevelMetadata) }, nil
	}
	m.metadata.RLock()
	return func() { m.metadata.RUnlock(); sess.pop(LevelMetadata) }, nil
}

// AcquireIndexWrite enforces the index level of the canonical order and
// takes the seqlock's writer mutex.
func (m *Manager) AcquireIndexWrite(sess *Session, kind vexfs.IndexKind) (func(), error) {
	if err := sess.push(LevelIndex); err != nil {
		return nil, err
	}
	sl := m.IndexSeqLock(kind)
	sl.Lock()
	return func() { sl.Unlock(); sess.pop(LevelIndex) }, nil
}

// deadlineFromTimeout builds a context with the given timeout, or a
// background context if timeout <= 0 (no deadline).
func deadlineFromTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.Background(), func() {}
	}
	return context.WithTimeout(context.Background(), timeout)
}
