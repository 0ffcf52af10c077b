package ondisk

import (
	"encoding/binary"
	"fmt"
)

// FileType occupies the high bits of an inode's mode field.
type FileType uint16

const (
	TypeRegular FileType = 0x8000
	TypeDirectory FileType = 0x4000
	TypeSymlink FileType = 0xA000

	typeMask FileType = 0xF000
	permMask uint16   = 0x0FFF

	// InodeSize is the fixed on-disk size of one inode record (spec §3).
	InodeSize = 256
	// DirectBlockCount is the number of direct block pointers in an inode.
	DirectBlockCount = 12

	vectorDescriptorSize = 64
	vectorDescriptorOff  = InodeSize - vectorDescriptorSize // 0xC0
)

// Inode is the fixed 256-byte record described in spec §3: POSIX-ish
// metadata, a classic direct/single/double/triple indirect block tree
// (chosen over ext4 extents because the spec names indirect pointers
// explicitly), and a 64-byte vector descriptor tail.
type Inode struct {
	Mode       uint16 // FileType in high nibble, permission bits in low 12 bits
	UID        uint32
	GID        uint32
	Size       uint64
	AtimeNanos int64
	MtimeNanos int64
	CtimeNanos int64
	DtimeNanos int64
	LinkCount  uint32
	Generation uint32

	Direct         [DirectBlockCount]uint64
	SingleIndirect uint64
	DoubleIndirect uint64
	TripleIndirect uint64

	Vector VectorDescriptor
}

// Type returns the inode's file type (regular/directory/symlink).
func (i *Inode) Type() FileType { return FileType(i.Mode) & typeMask }

// Perm returns the inode's POSIX permission bits.
func (i *Inode) Perm() uint16 { return i.Mode & permMask }

// SetType replaces the file-type nibble of Mode, preserving permission bits.
func (i *Inode) SetType(t FileType) { i.Mode = uint16(t) | (i.Mode & permMask) }

// HasVector reports whether this inode carries a vector payload (spec §3:
// "An inode with dimensions == 0 carries no vector payload").
func (i *Inode) HasVector() bool { return i.Vector.Dimensions != 0 }

// InodeFromBytes parses a fixed 256-byte inode record.
func InodeFromBytes(b []byte) (*Inode, error) {
	if len(b) < InodeSize {
		return nil, fmt.Errorf("inode buffer of length %d is smaller than %d", len(b), InodeSize)
	}
	buf := b[:InodeSize]
	in := &Inode{
		Mode:       binary.LittleEndian.Uint16(buf[0x00:0x02]),
		UID:        binary.LittleEndian.Uint32(buf[0x04:0x08]),
		GID:        binary.LittleEndian.Uint32(buf[0x08:0x0C]),
		Size:       binary.LittleEndian.Uint64(buf[0x10:0x18]),
		AtimeNanos: int64(binary.LittleEndian.Uint64(buf[0x18:0x20])),
		MtimeNanos: int64(binary.LittleEndian.Uint64(buf[0x20:0x28])),
		CtimeNanos: int64(binary.LittleEndian.Uint64(buf[0x28:0x30])),
		DtimeNanos: int64(binary.LittleEndian.Uint64(buf[0x30:0x38])),
		LinkCount:  binary.LittleEndian.Uint32(buf[0x38:0x3C]),
		Generation: binary.LittleEndian.Uint32(buf[0x3C:0x40]),
	}
	for idx := 0; idx < DirectBlockCount; idx++ {
		off := 0x40 + idx*8
		in.Direct[idx] = binary.LittleEndian.Uint64(buf[off : off+8])
	}
	in.SingleIndirect = binary.LittleEndian.Uint64(buf[0xA0:0xA8])
	in.DoubleIndirect = binary.LittleEndian.Uint64(buf[0xA8:0xB0])
	in.TripleIndirect = binary.LittleEndian.Uint64(buf[0xB0:0xB8])

	vd, err := vectorDescriptorFromBytes(buf[vectorDescriptorOff : vectorDescriptorOff+vectorDescriptorSize])
	if err != nil {
		return nil, fmt.Errorf("vector descriptor: %w", err)
	}
	in.Vector = *vd

	return in, nil
}

// ToBytes serializes an inode to its fixed 256-byte on-disk form.
func (i *Inode) ToBytes() []byte {
	b := make([]byte, InodeSize)
	binary.LittleEndian.PutUint16(b[0x00:0x02], i.Mode)
	binary.LittleEndian.PutUint32(b[0x04:0x08], i.UID)
	binary.LittleEndian.PutUint32(b[0x08:0x0C], i.GID)
	binary.LittleEndian.PutUint64(b[0x10:0x18], i.Size)
	binary.LittleEndian.PutUint64(b[0x18:0x20], uint64(i.AtimeNanos))
	binary.LittleEndian.PutUint64(b[0x20:0x28], uint64(i.MtimeNanos))
	binary.LittleEndian.PutUint64(b[0x28:0x30], uint64(i.CtimeNanos))
	binary.LittleEndian.PutUint64(b[0x30:0x38], uint64(i.DtimeNanos))
	binary.LittleEndian.PutUint32(b[0x38:0x3C], i.LinkCount)
	binary.LittleEndian.PutUint32(b[0x3C:0x40], i.Generation)
	for idx := 0; idx < DirectBlockCount; idx++ {
		off := 0x40 + idx*8
		binary.LittleEndian.PutUint64(b[off:off+8], i.Direct[idx])
	}
	binary.LittleEndian.PutUint64(b[0xA0:0xA8], i.SingleIndirect)
	binary.LittleEndian.PutUint64(b[0xA8:0xB0], i.DoubleIndirect)
	binary.LittleEndian.PutUint64(b[0xB0:0xB8], i.TripleIndirect)

	copy(b[vectorDescriptorOff:vectorDescriptorOff+vectorDescriptorSize], i.Vector.toBytes())
	return b
}

func (i *Inode) equal(a *Inode) bool {
	if i == nil || a == nil {
		return i == a
	}
	return *i == *a
}

// Equal reports whether i and a decode to identical inode records.
func (i *Inode) Equal(a *Inode) bool { return i.equal(a) }
