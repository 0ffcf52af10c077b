// Package inode implements the inode cache and directory core of spec §4.3:
// an LRU-bounded inode cache with a dirty set flushed on sync, directory
// mutation operations, and path resolution with symlink-depth capping.
package inode

import (
	"container/list"
	"sync"

	"github.com/vexfs/vexfs"
	"github.com/vexfs/vexfs/internal/block"
	"github.com/vexfs/vexfs/internal/journal"
	"github.com/vexfs/vexfs/internal/ondisk"
)

// entry is one cached inode plus its LRU list element.
type entry struct {
	id    vexfs.InodeID
	inode *ondisk.Inode
	elem  *list.Element
}

// Cache maps InodeID to *ondisk.Inode with an LRU eviction bound and a
// dirty set flushed on Sync (spec §4.3). Clean entries may be evicted at
// capacity; dirty entries are pinned until Sync clears them.
type Cache struct {
	mu       sync.Mutex
	capacity int
	entries  map[vexfs.InodeID]*entry
	lru      *list.List // front = most recently used
	dirty    map[vexfs.InodeID]bool

	store *block.Store
	table vexfs.BlockID // start of the inode table
}

// NewCache constructs a bounded inode cache backed by store, reading and
// writing inode records from the inode table starting at tableStart.
func NewCache(store *block.Store, tableStart vexfs.BlockID, capacity int) *Cache {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Cache{
		capacity: capacity,
		entries:  make(map[vexfs.InodeID]*entry),
		lru:      list.New(),
		dirty:    make(map[vexfs.InodeID]bool),
		store:    store,
		table:    tableStart,
	}
}

func (c *Cache) inodesPerBlock() int { return c.store.BlockSize() / ondisk.InodeSize }

func (c *Cache) blockAndOffsetFor(id vexfs.InodeID) (vexfs.BlockID, int) {
	perBlock := c.inodesPerBlock()
	idx := uint64(id)
	return c.table + vexfs.BlockID(idx/uint64(perBlock)), int(idx % uint64(perBlock))
}

// Get returns the inode for id, loading it from disk on a cache miss.
func (c *Cache) Get(id vexfs.InodeID) (*ondisk.Inode, error) {
	c.mu.Lock()
	if e, ok := c.entries[id]; ok {
		c.lru.MoveToFront(e.elem)
		in := *e.inode
		c.mu.Unlock()
		return &in, nil
	}
	c.mu.Unlock()

	blockID, offset := c.blockAndOffsetFor(id)
	raw, err := c.store.ReadBlock(blockID)
	if err != nil {
		return nil, err
	}
	start := offset * ondisk.InodeSize
	in, err := ondisk.InodeFromBytes(raw[start : start+ondisk.InodeSize])
	if err != nil {
		return nil, vexfs.Wrap(vexfs.ErrCorruption, "Cache.Get", err)
	}
	c.insert(id, in, false)
	return in, nil
}

// Put installs in into the cache for id and marks it dirty, to be
// persisted on the next Sync (spec §4.3: "a dirty set flushed on sync").
func (c *Cache) Put(id vexfs.InodeID, in *ondisk.Inode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *in
	c.insertLocked(id, &cp, true)
}

func (c *Cache) insert(id vexfs.InodeID, in *ondisk.Inode, dirty bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insertLocked(id, in, dirty)
}

func (c *Cache) insertLocked(id vexfs.InodeID, in *ondisk.Inode, dirty bool) {
	if e, ok := c.entries[id]; ok {
		e.inode = in
		c.lru.MoveToFront(e.elem)
	} else {
		e := &entry{id: id, inode: in}
		e.elem = c.lru.PushFront(e)
		c.entries[id] = e
		c.evictIfNeeded()
	}
	if dirty {
		c.dirty[id] = true
	}
}

// evictIfNeeded drops the least-recently-used clean entry when over
// capacity; dirty entries are never evicted (they must survive until Sync).
func (c *Cache) evictIfNeeded() {
	for len(c.entries) > c.capacity {
		victim := c.lru.Back()
		for victim != nil && c.dirty[victim.Value.(*entry).id] {
			victim = victim.Prev()
		}
		if victim == nil {
			return // every cached entry is dirty; cannot evict further
		}
		e := victim.Value.(*entry)
		c.lru.Remove(victim)
		delete(c.entries, e.id)
	}
}

// Invalidate drops id from the cache without writing it back (used after
// an inode is freed by the allocator).
func (c *Cache) Invalidate(id vexfs.InodeID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[id]; ok {
		c.lru.Remove(e.elem)
		delete(c.entries, id)
	}
	delete(c.dirty, id)
}

// Sync flushes every dirty inode to its backing block through tx, journaling
// each write (spec §4.3), and clears the dirty set on success.
func (c *Cache) Sync(tx *journal.TxHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.dirty {
		e, ok := c.entries[id]
		if !ok {
			continue
		}
		blockID, offset := c.blockAndOffsetFor(id)
		raw, err := c.store.ReadBlock(blockID)
		if err != nil {
			return err
		}
		before := append([]byte(nil), raw...)
		start := offset * ondisk.InodeSize
		copy(raw[start:start+ondisk.InodeSize], e.inode.ToBytes())
		if err := tx.RecordBlock(blockID, before, raw); err != nil {
			return err
		}
		if err := c.store.WriteBlock(blockID, raw); err != nil {
			return err
		}
	}
	c.dirty = make(map[vexfs.InodeID]bool)
	return nil
}
