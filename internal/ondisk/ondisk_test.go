package ondisk

import (
	"testing"

	"github.com/go-test/deep"
)

func TestSuperblockRoundTrip(t *testing.T) {
	sb := &Superblock{
		VersionMajor: 1, VersionMinor: 0, VersionPatch: 0,
		State:                    StateClean,
		BlockSize:                4096,
		TotalBlocks:              256,
		FreeBlocks:               200,
		TotalInodes:              64,
		FreeInodes:               60,
		JournalStart:             16,
		JournalLength:            8,
		VectorMetaReservedLength: 4,
		ErrorPolicy:              ErrorPolicyRemountReadOnly,
		Generation:               1,
	}
	copy(sb.UUID[:], []byte("0123456789abcdef"))

	b, err := sb.ToBytes()
	if err != nil {
		t.Fatalf("ToBytes: %v", err)
	}
	if len(b) != SuperblockSize {
		t.Fatalf("expected %d bytes, got %d", SuperblockSize, len(b))
	}

	got, err := SuperblockFromBytes(b)
	if err != nil {
		t.Fatalf("SuperblockFromBytes: %v", err)
	}
	if diff := deep.Equal(sb, got); diff != nil {
		t.Fatalf("round trip mismatch: %v", diff)
	}
}

func TestSuperblockBlockSizeBoundary(t *testing.T) {
	sb := &Superblock{BlockSize: 2048, TotalBlocks: 10}
	if _, err := sb.ToBytes(); err == nil {
		t.Fatalf("expected block size 2048 to fail validation")
	}
	for _, bs := range []uint32{4096, 65536} {
		sb := &Superblock{BlockSize: bs, TotalBlocks: 10}
		if _, err := sb.ToBytes(); err != nil {
			t.Fatalf("block size %d should succeed: %v", bs, err)
		}
	}
}

func TestSuperblockCorruptedChecksum(t *testing.T) {
	sb := &Superblock{BlockSize: 4096, TotalBlocks: 10}
	b, err := sb.ToBytes()
	if err != nil {
		t.Fatalf("ToBytes: %v", err)
	}
	b[0] ^= 0xFF // corrupt the magic/crc-covered region
	if _, err := SuperblockFromBytes(b); err == nil {
		t.Fatalf("expected checksum mismatch to be detected")
	}
}

func TestInodeRoundTrip(t *testing.T) {
	in := &Inode{
		Mode:       uint16(TypeRegular) | 0o644,
		UID:        1000,
		GID:        1000,
		Size:       4096,
		AtimeNanos: 1000,
		MtimeNanos: 2000,
		CtimeNanos: 3000,
		LinkCount:  1,
		Generation: 7,
	}
	in.Direct[0] = 42
	in.Vector = VectorDescriptor{
		Dimensions:      4,
		VectorCount:     1,
		ElementEncoding: 0,
		Layout:          0,
		Alignment:       64,
		DataOffset:      256,
	}
	in.Vector.SetModelTag("clip-vit-b32")

	b := in.ToBytes()
	if len(b) != InodeSize {
		t.Fatalf("expected %d bytes, got %d", InodeSize, len(b))
	}
	got, err := InodeFromBytes(b)
	if err != nil {
		t.Fatalf("InodeFromBytes: %v", err)
	}
	if !in.Equal(got) {
		t.Fatalf("round trip mismatch:\n got  %+v\n want %+v", got, in)
	}
	if got.Vector.ModelTagString() != "clip-vit-b32" {
		t.Fatalf("model tag mismatch: %q", got.Vector.ModelTagString())
	}
	if !got.HasVector() {
		t.Fatalf("expected HasVector true")
	}
}

func TestInodeNoVectorPayload(t *testing.T) {
	in := &Inode{Mode: uint16(TypeDirectory) | 0o755}
	b := in.ToBytes()
	got, err := InodeFromBytes(b)
	if err != nil {
		t.Fatalf("InodeFromBytes: %v", err)
	}
	if got.HasVector() {
		t.Fatalf("directory inode should not carry a vector payload")
	}
	if got.Type() != TypeDirectory {
		t.Fatalf("expected directory type, got %x", got.Type())
	}
}

func TestDirectoryEntryRoundTrip(t *testing.T) {
	entries := []*DirectoryEntry{
		{Inode: 2, FileType: DirTypeDirectory, Name: "."},
		{Inode: 2, FileType: DirTypeDirectory, Name: ".."},
		{Inode: 11, FileType: DirTypeRegular, Name: "vector.bin"},
	}
	blk, err := WriteDirectoryBlock(entries, 4096)
	if err != nil {
		t.Fatalf("WriteDirectoryBlock: %v", err)
	}
	got, err := ParseDirectoryBlock(blk)
	if err != nil {
		t.Fatalf("ParseDirectoryBlock: %v", err)
	}
	if len(got) != len(entries) {
		t.Fatalf("expected %d entries, got %d", len(entries), len(got))
	}
	for i, e := range entries {
		if got[i].Inode != e.Inode || got[i].Name != e.Name || got[i].FileType != e.FileType {
			t.Fatalf("entry %d mismatch: got %+v want %+v", i, got[i], e)
		}
	}
}

func TestGroupDescriptorRoundTrip(t *testing.T) {
	gd := &GroupDescriptor{
		BlockBitmapBlock: 3,
		InodeBitmapBlock: 4,
		InodeTableStart:  5,
		FreeBlocksCount:  100,
		FreeInodesCount:  50,
		UsedDirsCount:    2,
	}
	b := gd.ToBytes()
	got, err := GroupDescriptorFromBytes(b)
	if err != nil {
		t.Fatalf("GroupDescriptorFromBytes: %v", err)
	}
	if *got != *gd {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, gd)
	}
}
