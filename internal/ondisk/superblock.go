package ondisk

import (
	"encoding/binary"
	"fmt"
)

// FSState is the superblock's mount-state field (spec §3).
type FSState uint8

const (
	StateClean FSState = 0
	StateError FSState = 1
)

// ErrorPolicy controls what happens when the engine detects corruption.
type ErrorPolicy uint8

const (
	ErrorPolicyContinue       ErrorPolicy = 1
	ErrorPolicyRemountReadOnly ErrorPolicy = 2
	ErrorPolicyPanic          ErrorPolicy = 3
)

const (
	// Magic is the fixed 40-bit ASCII signature "VEXFS" (spec §3).
	Magic uint64 = 0x5645584653

	// SuperblockSize is the fixed on-disk size of the superblock (spec §3).
	SuperblockSize = 128

	superblockCrcOffset = 0x7C
)

// Superblock is the fixed 128-byte block-0 record described in spec §3.
type Superblock struct {
	VersionMajor, VersionMinor, VersionPatch uint8
	State                                    FSState
	BlockSize                                uint32
	TotalBlocks                              uint64
	FreeBlocks                               uint64
	TotalInodes                              uint64
	FreeInodes                               uint64
	JournalStart                             uint64
	JournalLength                            uint64
	VectorMetaReservedLength                 uint64
	FeatureCompat                            uint32
	FeatureIncompat                          uint32
	FeatureRoCompat                          uint32
	ErrorPolicy                              ErrorPolicy
	LastMountNanos                           int64
	Generation                               uint64
	UUID                                     [16]byte
}

// Validate enforces the superblock invariants named in spec §3.
func (s *Superblock) Validate() error {
	if s.FreeBlocks > s.TotalBlocks {
		return fmt.Errorf("free_blocks %d exceeds total_blocks %d", s.FreeBlocks, s.TotalBlocks)
	}
	if s.FreeInodes > s.TotalInodes {
		return fmt.Errorf("free_inodes %d exceeds total_inodes %d", s.FreeInodes, s.TotalInodes)
	}
	bs := int(s.BlockSize)
	if bs < 4096 || bs > 65536 || bs&(bs-1) != 0 {
		return fmt.Errorf("block size %d is not a power of two in [4096, 65536]", bs)
	}
	return nil
}

// SuperblockFromBytes parses and checksum-validates a 128-byte superblock.
func SuperblockFromBytes(b []byte) (*Superblock, error) {
	if len(b) < SuperblockSize {
		return nil, fmt.Errorf("superblock buffer of length %d is smaller than %d", len(b), SuperblockSize)
	}
	buf := make([]byte, SuperblockSize)
	copy(buf, b[:SuperblockSize])

	storedCrc := binary.LittleEndian.Uint32(buf[superblockCrcOffset : superblockCrcOffset+4])
	// zero out the checksum field before recomputing, matching the
	// teacher's inodeFromBytes pattern of scrubbing the checksum bytes first
	binary.LittleEndian.PutUint32(buf[superblockCrcOffset:superblockCrcOffset+4], 0)
	actualCrc := Checksum32(buf[:superblockCrcOffset])
	if actualCrc != storedCrc {
		return nil, fmt.Errorf("superblock checksum mismatch: on-disk %x vs calculated %x", storedCrc, actualCrc)
	}

	magic := binary.LittleEndian.Uint64(buf[0x00:0x08])
	if magic != Magic {
		return nil, fmt.Errorf("superblock magic mismatch: got %x, want %x", magic, Magic)
	}

	sb := &Superblock{
		VersionMajor:              buf[0x08],
		VersionMinor:              buf[0x09],
		VersionPatch:              buf[0x0A],
		State:                     FSState(buf[0x0B]),
		BlockSize:                 binary.LittleEndian.Uint32(buf[0x0C:0x10]),
		TotalBlocks:               binary.LittleEndian.Uint64(buf[0x10:0x18]),
		FreeBlocks:                binary.LittleEndian.Uint64(buf[0x18:0x20]),
		TotalInodes:               binary.LittleEndian.Uint64(buf[0x20:0x28]),
		FreeInodes:                binary.LittleEndian.Uint64(buf[0x28:0x30]),
		JournalStart:              binary.LittleEndian.Uint64(buf[0x30:0x38]),
		JournalLength:             binary.LittleEndian.Uint64(buf[0x38:0x40]),
		VectorMetaReservedLength:  binary.LittleEndian.Uint64(buf[0x40:0x48]),
		FeatureCompat:             binary.LittleEndian.Uint32(buf[0x48:0x4C]),
		FeatureIncompat:           binary.LittleEndian.Uint32(buf[0x4C:0x50]),
		FeatureRoCompat:           binary.LittleEndian.Uint32(buf[0x50:0x54]),
		ErrorPolicy:               ErrorPolicy(buf[0x54]),
		LastMountNanos:            int64(binary.LittleEndian.Uint64(buf[0x58:0x60])),
		Generation:                binary.LittleEndian.Uint64(buf[0x60:0x68]),
	}
	copy(sb.UUID[:], buf[0x68:0x78])

	if err := sb.Validate(); err != nil {
		return nil, err
	}
	return sb, nil
}

// ToBytes serializes sb to its 128-byte on-disk form, recomputing the crc32.
func (s *Superblock) ToBytes() ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	b := make([]byte, SuperblockSize)

	binary.LittleEndian.PutUint64(b[0x00:0x08], Magic)
	b[0x08] = s.VersionMajor
	b[0x09] = s.VersionMinor
	b[0x0A] = s.VersionPatch
	b[0x0B] = byte(s.State)
	binary.LittleEndian.PutUint32(b[0x0C:0x10], s.BlockSize)
	binary.LittleEndian.PutUint64(b[0x10:0x18], s.TotalBlocks)
	binary.LittleEndian.PutUint64(b[0x18:0x20], s.FreeBlocks)
	binary.LittleEndian.PutUint64(b[0x20:0x28], s.TotalInodes)
	binary.LittleEndian.PutUint64(b[0x28:0x30], s.FreeInodes)
	binary.LittleEndian.PutUint64(b[0x30:0x38], s.JournalStart)
	binary.LittleEndian.PutUint64(b[0x38:0x40], s.JournalLength)
	binary.LittleEndian.PutUint64(b[0x40:0x48], s.VectorMetaReservedLength)
	binary.LittleEndian.PutUint32(b[0x48:0x4C], s.FeatureCompat)
	binary.LittleEndian.PutUint32(b[0x4C:0x50], s.FeatureIncompat)
	binary.LittleEndian.PutUint32(b[0x50:0x54], s.FeatureRoCompat)
	b[0x54] = byte(s.ErrorPolicy)
	binary.LittleEndian.PutUint64(b[0x58:0x60], uint64(s.LastMountNanos))
	binary.LittleEndian.PutUint64(b[0x60:0x68], s.Generation)
	copy(b[0x68:0x78], s.UUID[:])

	crc := Checksum32(b[:superblockCrcOffset])
	binary.LittleEndian.PutUint32(b[superblockCrcOffset:superblockCrcOffset+4], crc)
	return b, nil
}

// Touch increments the generation counter. The engine calls it from
// writeSuperblock, which runs when the image is formatted; later mutations
// do not rewrite the superblock and leave Generation unchanged.
func (s *Superblock) Touch() {
	s.Generation++
}

// MarkError flips fs state to ERROR, called on unrecoverable write failure
// or detected corruption (spec §3, §7).
func (s *Superblock) MarkError() {
	s.State = StateError
}
