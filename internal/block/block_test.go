package block

import (
	"testing"

	"github.com/vexfs/vexfs"
	"github.com/vexfs/vexfs/internal/ondisk"
)

func newTestAllocator(blocksPerGroup, groups uint) (*Allocator, *Store) {
	dev := NewMemDevice(int64(blocksPerGroup*groups) * 4096)
	store := NewStore(dev, 4096)
	var gs []*Group
	for i := uint(0); i < groups; i++ {
		gs = append(gs, &Group{
			Number:        int(i),
			FirstBlock:    vexfs.BlockID(i * blocksPerGroup),
			BlocksInGroup: blocksPerGroup,
			FirstInode:    vexfs.InodeID(i*blocksPerGroup) + 1,
			InodesInGroup: blocksPerGroup,
			Descriptor:    &ondisk.GroupDescriptor{FreeBlocksCount: uint32(blocksPerGroup), FreeInodesCount: uint32(blocksPerGroup)},
			BlockBitmap:   NewBitmap(blocksPerGroup),
			InodeBitmap:   NewBitmap(blocksPerGroup),
		})
	}
	return NewAllocator(store, gs), store
}

func TestAllocateContiguousRun(t *testing.T) {
	a, _ := newTestAllocator(64, 2)
	run, err := a.Allocate(NoopRecorder, 0, 5)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if len(run) != 5 {
		t.Fatalf("expected 5 blocks, got %d", len(run))
	}
	for i, id := range run {
		if id != vexfs.BlockID(i) {
			t.Fatalf("expected contiguous run starting at 0, got %v", run)
		}
	}
	if a.groups[0].Descriptor.FreeBlocksCount != 59 {
		t.Fatalf("expected 59 free blocks remaining, got %d", a.groups[0].Descriptor.FreeBlocksCount)
	}
}

func TestAllocateThenFreeRoundTrip(t *testing.T) {
	a, _ := newTestAllocator(64, 1)
	run, err := a.Allocate(NoopRecorder, 0, 10)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := a.Free(run); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if a.groups[0].Descriptor.FreeBlocksCount != 64 {
		t.Fatalf("expected all blocks free again, got %d", a.groups[0].Descriptor.FreeBlocksCount)
	}
}

func TestAllocateOutOfSpace(t *testing.T) {
	a, _ := newTestAllocator(4, 1)
	if _, err := a.Allocate(NoopRecorder, 0, 4); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if _, err := a.Allocate(NoopRecorder, 0, 1); err == nil {
		t.Fatalf("expected OutOfSpace")
	} else if kind, _ := vexfs.KindOf(err); kind != vexfs.ErrOutOfSpace {
		t.Fatalf("expected ErrOutOfSpace, got %v", kind)
	}
}

func TestAllocateFallsBackAcrossGroups(t *testing.T) {
	a, _ := newTestAllocator(4, 2)
	// exhaust group 0 entirely
	if _, err := a.Allocate(NoopRecorder, 0, 4); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	// hinting at group 0 should fall back to group 1
	run, err := a.Allocate(NoopRecorder, 0, 2)
	if err != nil {
		t.Fatalf("Allocate fallback: %v", err)
	}
	for _, id := range run {
		if id < 4 {
			t.Fatalf("expected fallback allocation from group 1, got block %d", id)
		}
	}
}

func TestAllocateInodeAndFree(t *testing.T) {
	a, _ := newTestAllocator(16, 1)
	id, err := a.AllocateInode(0)
	if err != nil {
		t.Fatalf("AllocateInode: %v", err)
	}
	if id != a.groups[0].FirstInode {
		t.Fatalf("expected first inode %d, got %d", a.groups[0].FirstInode, id)
	}
	if err := a.FreeInode(id); err != nil {
		t.Fatalf("FreeInode: %v", err)
	}
	if a.groups[0].Descriptor.FreeInodesCount != 16 {
		t.Fatalf("expected inode count restored, got %d", a.groups[0].Descriptor.FreeInodesCount)
	}
}

func TestFlushPersistsBitmaps(t *testing.T) {
	a, store := newTestAllocator(64, 1)
	a.groups[0].Descriptor.BlockBitmapBlock = 0
	a.groups[0].Descriptor.InodeBitmapBlock = 1
	if _, err := a.Allocate(NoopRecorder, 0, 3); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := a.Flush(NoopRecorder); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	raw, err := store.ReadBlock(0)
	if err != nil {
		t.Fatalf("ReadBlock: %v", err)
	}
	bm, err := BitmapFromBytes(raw)
	if err != nil {
		t.Fatalf("BitmapFromBytes: %v", err)
	}
	for i := uint(0); i < 3; i++ {
		if !bm.Test(i) {
			t.Fatalf("expected bit %d set after flush", i)
		}
	}
}
