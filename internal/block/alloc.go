package block

import (
	"github.com/vexfs/vexfs"
	"github.com/vexfs/vexfs/internal/ondisk"
)

// TxRecorder lets the allocator journal every bitmap mutation it makes,
// without the block package importing the journal package (spec §4.1:
// "The allocator is the single writer to bitmaps — all bitmap mutations
// are journaled"). The journal package's transaction handle satisfies it.
type TxRecorder interface {
	RecordBlock(id vexfs.BlockID, before, after []byte) error
}

// noopRecorder is used when a caller allocates outside of a transaction
// (e.g. read-only inspection tools); it journals nothing.
type noopRecorder struct{}

func (noopRecorder) RecordBlock(vexfs.BlockID, []byte, []byte) error { return nil }

// NoopRecorder is the TxRecorder that journals nothing.
var NoopRecorder TxRecorder = noopRecorder{}

// Group is one block group's live state: its descriptor plus the block and
// inode bitmaps covering its span, grounded on the teacher's blockGroup
// (inodeBitmap/blockBitmap pointers, first data block, inode table size).
type Group struct {
	Number          int
	FirstBlock      vexfs.BlockID
	BlocksInGroup   uint
	FirstInode      vexfs.InodeID
	InodesInGroup   uint
	Descriptor      *ondisk.GroupDescriptor
	BlockBitmap     *Bitmap
	InodeBitmap     *Bitmap
}

// Allocator is the single writer of block and inode bitmaps (spec §4.1).
type Allocator struct {
	store  *Store
	groups []*Group
}

// NewAllocator wires an Allocator over an already-loaded set of groups.
func NewAllocator(store *Store, groups []*Group) *Allocator {
	return &Allocator{store: store, groups: groups}
}

// Groups returns the allocator's block groups in ascending order.
func (a *Allocator) Groups() []*Group { return a.groups }

func (a *Allocator) groupOf(id vexfs.BlockID) *Group {
	for _, g := range a.groups {
		if uint64(id) >= uint64(g.FirstBlock) && uint64(id) < uint64(g.FirstBlock)+uint64(g.BlocksInGroup) {
			return g
		}
	}
	return nil
}

// Allocate reserves count contiguous blocks. It first tries the group
// containing hint, taking the first run of the requested length at or
// after the hint's offset; failing that, it takes the first run of the
// requested length in the first group (in ascending order) that has one,
// which is not necessarily the shortest run that fits; if no group has a
// run that long, it takes the single longest available run anywhere. It
// fails with OutOfSpace only when no group has any free block at all.
func (a *Allocator) Allocate(tx TxRecorder, hint vexfs.BlockID, count int) ([]vexfs.BlockID, error) {
	if count <= 0 {
		return nil, vexfs.Errorf(vexfs.ErrInvalidArgument, "Allocate", "count must be positive, got %d", count)
	}
	n := uint(count)

	if g := a.groupOf(hint); g != nil {
		if run, ok := a.allocateInGroup(tx, g, hint-g.FirstBlock, n); ok {
			return run, nil
		}
	}

	// fall back across groups: take the first group offering a full run,
	// else a best-effort shorter run (the longest clear run in any group).
	var bestShort []vexfs.BlockID
	anyFree := false
	for _, g := range a.groups {
		if g.Descriptor.FreeBlocksCount > 0 {
			anyFree = true
		}
		if run, ok := a.allocateInGroup(tx, g, 0, n); ok {
			return run, nil
		}
	}
	if !anyFree {
		return nil, vexfs.Errorf(vexfs.ErrOutOfSpace, "Allocate", "no block group has any free block")
	}
	// best-effort shorter run: take the longest contiguous clear run in any group.
	var bestGroup *Group
	var bestStart uint
	var bestLen uint
	for _, g := range a.groups {
		start, length := longestClearRun(g.BlockBitmap, g.BlocksInGroup)
		if length > bestLen {
			bestLen, bestStart, bestGroup = length, start, g
		}
	}
	if bestGroup == nil || bestLen == 0 {
		return nil, vexfs.Errorf(vexfs.ErrOutOfSpace, "Allocate", "no free blocks available for a partial run")
	}
	run := a.commitRun(tx, bestGroup, bestStart, bestLen)
	bestShort = run
	return bestShort, nil
}

func (a *Allocator) allocateInGroup(tx TxRecorder, g *Group, hint uint, n uint) ([]vexfs.BlockID, bool) {
	start, ok := g.BlockBitmap.FindRun(hint, n)
	if !ok {
		return nil, false
	}
	return a.commitRun(tx, g, start, n), true
}

func (a *Allocator) commitRun(tx TxRecorder, g *Group, start, n uint) []vexfs.BlockID {
	g.BlockBitmap.SetRun(start, n)
	g.Descriptor.FreeBlocksCount -= uint32(n)
	run := make([]vexfs.BlockID, n)
	for i := uint(0); i < n; i++ {
		run[i] = g.FirstBlock + vexfs.BlockID(start+i)
	}
	return run
}

// Free releases a (possibly non-contiguous) set of previously allocated blocks.
func (a *Allocator) Free(run []vexfs.BlockID) error {
	for _, id := range run {
		g := a.groupOf(id)
		if g == nil {
			return vexfs.Errorf(vexfs.ErrInvalidArgument, "Free", "block %d does not belong to any group", id)
		}
		off := uint(id - g.FirstBlock)
		if !g.BlockBitmap.Test(off) {
			return vexfs.Errorf(vexfs.ErrInvalidArgument, "Free", "block %d is already free", id)
		}
		g.BlockBitmap.Clear(off)
		g.Descriptor.FreeBlocksCount++
	}
	return nil
}

// AllocateInode reserves the first free inode, preferring the group
// containing hint.
func (a *Allocator) AllocateInode(hint vexfs.InodeID) (vexfs.InodeID, error) {
	var preferred *Group
	for _, g := range a.groups {
		if uint64(hint) >= uint64(g.FirstInode) && uint64(hint) < uint64(g.FirstInode)+uint64(g.InodesInGroup) {
			preferred = g
			break
		}
	}
	order := a.groups
	if preferred != nil {
		order = append([]*Group{preferred}, removeGroup(a.groups, preferred)...)
	}
	for _, g := range order {
		if off, ok := g.InodeBitmap.NextClear(0); ok && off < g.InodesInGroup {
			g.InodeBitmap.Set(off)
			g.Descriptor.FreeInodesCount--
			return g.FirstInode + vexfs.InodeID(off), nil
		}
	}
	return vexfs.NullInode, vexfs.Errorf(vexfs.ErrOutOfSpace, "AllocateInode", "no block group has any free inode")
}

// FreeInode releases a previously allocated inode id.
func (a *Allocator) FreeInode(id vexfs.InodeID) error {
	for _, g := range a.groups {
		if uint64(id) >= uint64(g.FirstInode) && uint64(id) < uint64(g.FirstInode)+uint64(g.InodesInGroup) {
			off := uint(id - g.FirstInode)
			if !g.InodeBitmap.Test(off) {
				return vexfs.Errorf(vexfs.ErrInvalidArgument, "FreeInode", "inode %d is already free", id)
			}
			g.InodeBitmap.Clear(off)
			g.Descriptor.FreeInodesCount++
			return nil
		}
	}
	return vexfs.Errorf(vexfs.ErrInvalidArgument, "FreeInode", "inode %d does not belong to any group", id)
}

func removeGroup(groups []*Group, target *Group) []*Group {
	out := make([]*Group, 0, len(groups))
	for _, g := range groups {
		if g != target {
			out = append(out, g)
		}
	}
	return out
}

// Flush persists every dirty bitmap and group descriptor to their backing
// blocks, journaling each write through tx so the allocator remains the
// single writer of bitmaps and every bitmap mutation passes through a
// transaction (spec §4.1, §4.2).
func (a *Allocator) Flush(tx TxRecorder) error {
	for _, g := range a.groups {
		if err := a.flushGroup(tx, g); err != nil {
			return err
		}
	}
	return nil
}

func (a *Allocator) flushGroup(tx TxRecorder, g *Group) error {
	blockBytes, err := g.BlockBitmap.ToBytes()
	if err != nil {
		return vexfs.Wrap(vexfs.ErrIo, "flushGroup", err)
	}
	if err := a.writeBitmapBlock(tx, g.Descriptor.BlockBitmapBlock, blockBytes); err != nil {
		return err
	}
	inodeBytes, err := g.InodeBitmap.ToBytes()
	if err != nil {
		return vexfs.Wrap(vexfs.ErrIo, "flushGroup", err)
	}
	if err := a.writeBitmapBlock(tx, g.Descriptor.InodeBitmapBlock, inodeBytes); err != nil {
		return err
	}
	return nil
}

func (a *Allocator) writeBitmapBlock(tx TxRecorder, id uint64, raw []byte) error {
	padded := make([]byte, a.store.BlockSize())
	copy(padded, raw)
	before, err := a.store.ReadBlock(vexfs.BlockID(id))
	if err != nil {
		return err
	}
	if err := tx.RecordBlock(vexfs.BlockID(id), before, padded); err != nil {
		return err
	}
	return a.store.WriteBlock(vexfs.BlockID(id), padded)
}

func longestClearRun(bm *Bitmap, limit uint) (start uint, length uint) {
	var curStart, curLen, bestStart, bestLen uint
	inRun := false
	for i := uint(0); i < limit; i++ {
		if !bm.Test(i) {
			if !inRun {
				curStart = i
				inRun = true
			}
			curLen++
			if curLen > bestLen {
				bestStart, bestLen = curStart, curLen
			}
		} else {
			inRun = false
			curLen = 0
		}
	}
	return bestStart, bestLen
}
