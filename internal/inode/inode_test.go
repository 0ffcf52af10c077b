package inode

import (
	"testing"

	"github.com/vexfs/vexfs"
	"github.com/vexfs/vexfs/internal/block"
	"github.com/vexfs/vexfs/internal/journal"
	"github.com/vexfs/vexfs/internal/ondisk"
)

const testBlockSize = 4096

// harness wires a Store + Allocator + Cache + Manager over an in-memory
// device: blocks [0, inodeTableBlocks) hold the inode table, blocks
// [inodeTableBlocks, inodeTableBlocks+dataBlocks) are allocator-tracked
// data blocks, and a small journal region follows.
func harness(t *testing.T, dataBlocks uint) (*Manager, *journal.Manager) {
	t.Helper()
	const inodeTableBlocks = 4
	const journalBlocks = 32
	total := inodeTableBlocks + dataBlocks + journalBlocks

	dev := block.NewMemDevice(int64(total) * testBlockSize)
	store := block.NewStore(dev, testBlockSize)

	group := &block.Group{
		Number:        0,
		FirstBlock:    vexfs.BlockID(inodeTableBlocks),
		BlocksInGroup: dataBlocks,
		FirstInode:    1,
		InodesInGroup: dataBlocks,
		Descriptor:    &ondisk.GroupDescriptor{FreeBlocksCount: uint32(dataBlocks), FreeInodesCount: uint32(dataBlocks)},
		BlockBitmap:   block.NewBitmap(dataBlocks),
		InodeBitmap:   block.NewBitmap(dataBlocks),
	}
	alloc := block.NewAllocator(store, []*block.Group{group})
	cache := NewCache(store, 0, 128)
	mgr := NewManager(cache, alloc, store)

	jrnl := journal.NewManager(store, vexfs.BlockID(inodeTableBlocks+dataBlocks), journalBlocks)

	// seed the root directory inode at id 1 directly (bypassing AllocateInode,
	// which is reserved for non-root creations).
	group.InodeBitmap.Set(0)
	group.Descriptor.FreeInodesCount--
	root := &ondisk.Inode{Mode: uint16(ondisk.TypeDirectory) | 0755, LinkCount: 1}
	cache.Put(1, root)
	tx := jrnl.Begin()
	if err := cache.Sync(tx); err != nil {
		t.Fatalf("seed sync: %v", err)
	}
	if err := jrnl.Commit(tx); err != nil {
		t.Fatalf("seed commit: %v", err)
	}
	return mgr, jrnl
}

func commitAndSync(t *testing.T, mgr *Manager, jrnl *journal.Manager, tx *journal.TxHandle) {
	t.Helper()
	if err := mgr.Cache.Sync(tx); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := jrnl.Commit(tx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestCreateLookupRoundTrip(t *testing.T) {
	mgr, jrnl := harness(t, 64)
	tx := jrnl.Begin()
	id, err := mgr.Create(tx, 1, "hello.txt", 0644, ondisk.TypeRegular)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	commitAndSync(t, mgr, jrnl, tx)

	gotID, gotType, err := mgr.Lookup(1, "hello.txt")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if gotID != id || gotType != ondisk.TypeRegular {
		t.Fatalf("got (%d,%v) want (%d,%v)", gotID, gotType, id, ondisk.TypeRegular)
	}
}

func TestCreateDuplicateNameFailsWithExists(t *testing.T) {
	mgr, jrnl := harness(t, 64)
	tx := jrnl.Begin()
	if _, err := mgr.Create(tx, 1, "dup", 0644, ondisk.TypeRegular); err != nil {
		t.Fatalf("Create: %v", err)
	}
	commitAndSync(t, mgr, jrnl, tx)

	tx2 := jrnl.Begin()
	_, err := mgr.Create(tx2, 1, "dup", 0644, ondisk.TypeRegular)
	if err == nil {
		t.Fatalf("expected Exists error")
	}
	if kind, _ := vexfs.KindOf(err); kind != vexfs.ErrExists {
		t.Fatalf("expected ErrExists, got %v", kind)
	}
}

func TestReadDirLazyIteratorYieldsAllEntries(t *testing.T) {
	mgr, jrnl := harness(t, 64)
	tx := jrnl.Begin()
	names := []string{"a", "b", "c"}
	for _, n := range names {
		if _, err := mgr.Create(tx, 1, n, 0644, ondisk.TypeRegular); err != nil {
			t.Fatalf("Create(%s): %v", n, err)
		}
	}
	commitAndSync(t, mgr, jrnl, tx)

	next, err := mgr.ReadDir(1)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	seen := map[string]bool{}
	for {
		e, ok, err := next()
		if err != nil {
			t.Fatalf("iterator: %v", err)
		}
		if !ok {
			break
		}
		seen[e.Name] = true
	}
	for _, n := range names {
		if !seen[n] {
			t.Fatalf("expected to see entry %q, got %v", n, seen)
		}
	}
}

func TestUnlinkDecrementsAndFreesInode(t *testing.T) {
	mgr, jrnl := harness(t, 64)
	tx := jrnl.Begin()
	id, err := mgr.Create(tx, 1, "gone.txt", 0644, ondisk.TypeRegular)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	commitAndSync(t, mgr, jrnl, tx)

	tx2 := jrnl.Begin()
	if err := mgr.Unlink(tx2, 1, "gone.txt"); err != nil {
		t.Fatalf("Unlink: %v", err)
	}
	commitAndSync(t, mgr, jrnl, tx2)

	if _, _, err := mgr.Lookup(1, "gone.txt"); err == nil {
		t.Fatalf("expected NotFound after unlink")
	}
	if _, err := mgr.Alloc.AllocateInode(id); err != nil {
		t.Fatalf("expected freed inode %d to be reusable: %v", id, err)
	}
}

func TestUnlinkNonEmptyDirectoryFailsWithNotEmpty(t *testing.T) {
	mgr, jrnl := harness(t, 64)
	tx := jrnl.Begin()
	dirID, err := mgr.Create(tx, 1, "subdir", 0755, ondisk.TypeDirectory)
	if err != nil {
		t.Fatalf("Create dir: %v", err)
	}
	if _, err := mgr.Create(tx, dirID, "child", 0644, ondisk.TypeRegular); err != nil {
		t.Fatalf("Create child: %v", err)
	}
	commitAndSync(t, mgr, jrnl, tx)

	tx2 := jrnl.Begin()
	err = mgr.Unlink(tx2, 1, "subdir")
	if err == nil {
		t.Fatalf("expected NotEmpty error")
	}
	if kind, _ := vexfs.KindOf(err); kind != vexfs.ErrNotEmpty {
		t.Fatalf("expected ErrNotEmpty, got %v", kind)
	}
}

func TestRenameMovesEntryBetweenDirectories(t *testing.T) {
	mgr, jrnl := harness(t, 64)
	tx := jrnl.Begin()
	dirID, err := mgr.Create(tx, 1, "dstdir", 0755, ondisk.TypeDirectory)
	if err != nil {
		t.Fatalf("Create dstdir: %v", err)
	}
	fileID, err := mgr.Create(tx, 1, "movee.txt", 0644, ondisk.TypeRegular)
	if err != nil {
		t.Fatalf("Create movee: %v", err)
	}
	commitAndSync(t, mgr, jrnl, tx)

	tx2 := jrnl.Begin()
	if err := mgr.Rename(tx2, 1, "movee.txt", dirID, "renamed.txt"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	commitAndSync(t, mgr, jrnl, tx2)

	if _, _, err := mgr.Lookup(1, "movee.txt"); err == nil {
		t.Fatalf("expected source name to be gone")
	}
	gotID, _, err := mgr.Lookup(dirID, "renamed.txt")
	if err != nil {
		t.Fatalf("Lookup renamed: %v", err)
	}
	if gotID != fileID {
		t.Fatalf("got id %d want %d", gotID, fileID)
	}
}

func TestResolveFollowsSymlinkAndHonorsNoFollow(t *testing.T) {
	mgr, jrnl := harness(t, 64)
	tx := jrnl.Begin()
	targetID, err := mgr.Create(tx, 1, "target.txt", 0644, ondisk.TypeRegular)
	if err != nil {
		t.Fatalf("Create target: %v", err)
	}
	linkID, err := mgr.Create(tx, 1, "link", 0777, ondisk.TypeSymlink)
	if err != nil {
		t.Fatalf("Create symlink: %v", err)
	}
	linkIn, err := mgr.Cache.Get(linkID)
	if err != nil {
		t.Fatalf("Get link inode: %v", err)
	}
	run, err := mgr.Alloc.Allocate(tx, vexfs.NullBlock, 1)
	if err != nil {
		t.Fatalf("Allocate symlink block: %v", err)
	}
	target := []byte("target.txt")
	before, _ := mgr.Store.ReadBlock(run[0])
	buf := make([]byte, testBlockSize)
	copy(buf, target)
	tx.RecordBlock(run[0], before, buf)
	if err := mgr.Store.WriteBlock(run[0], buf); err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}
	linkIn.Direct[0] = uint64(run[0])
	linkIn.Size = uint64(len(target))
	mgr.Cache.Put(linkID, linkIn)
	commitAndSync(t, mgr, jrnl, tx)

	resolvedID, resolvedType, err := mgr.Resolve(1, "link", ResolveFlags{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolvedID != targetID || resolvedType != ondisk.TypeRegular {
		t.Fatalf("got (%d,%v) want (%d,%v)", resolvedID, resolvedType, targetID, ondisk.TypeRegular)
	}

	noFollowID, noFollowType, err := mgr.Resolve(1, "link", ResolveFlags{NoFollow: true})
	if err != nil {
		t.Fatalf("Resolve NoFollow: %v", err)
	}
	if noFollowID != linkID || noFollowType != ondisk.TypeSymlink {
		t.Fatalf("NoFollow: got (%d,%v) want (%d,%v)", noFollowID, noFollowType, linkID, ondisk.TypeSymlink)
	}
}
