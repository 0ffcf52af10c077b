package ondisk

import (
	"encoding/binary"
	"fmt"
)

// GroupDescriptorSize is the fixed on-disk size of one group descriptor.
const GroupDescriptorSize = 40

// GroupDescriptor is the per-block-group record described in spec §3.
type GroupDescriptor struct {
	BlockBitmapBlock  uint64
	InodeBitmapBlock  uint64
	InodeTableStart   uint64
	FreeBlocksCount   uint32
	FreeInodesCount   uint32
	UsedDirsCount     uint32
}

// GroupDescriptorFromBytes parses and checksum-validates a single descriptor.
func GroupDescriptorFromBytes(b []byte) (*GroupDescriptor, error) {
	if len(b) < GroupDescriptorSize {
		return nil, fmt.Errorf("group descriptor buffer of length %d is smaller than %d", len(b), GroupDescriptorSize)
	}
	buf := make([]byte, GroupDescriptorSize)
	copy(buf, b[:GroupDescriptorSize])

	storedCrc := binary.LittleEndian.Uint32(buf[0x24:0x28])
	binary.LittleEndian.PutUint32(buf[0x24:0x28], 0)
	actualCrc := Checksum32(buf[:0x24])
	if actualCrc != storedCrc {
		return nil, fmt.Errorf("group descriptor checksum mismatch: on-disk %x vs calculated %x", storedCrc, actualCrc)
	}

	gd := &GroupDescriptor{
		BlockBitmapBlock: binary.LittleEndian.Uint64(buf[0x00:0x08]),
		InodeBitmapBlock: binary.LittleEndian.Uint64(buf[0x08:0x10]),
		InodeTableStart:  binary.LittleEndian.Uint64(buf[0x10:0x18]),
		FreeBlocksCount:  binary.LittleEndian.Uint32(buf[0x18:0x1C]),
		FreeInodesCount:  binary.LittleEndian.Uint32(buf[0x1C:0x20]),
		UsedDirsCount:    binary.LittleEndian.Uint32(buf[0x20:0x24]),
	}
	return gd, nil
}

// ToBytes serializes gd, recomputing its trailing crc32.
func (gd *GroupDescriptor) ToBytes() []byte {
	b := make([]byte, GroupDescriptorSize)
	binary.LittleEndian.PutUint64(b[0x00:0x08], gd.BlockBitmapBlock)
	binary.LittleEndian.PutUint64(b[0x08:0x10], gd.InodeBitmapBlock)
	binary.LittleEndian.PutUint64(b[0x10:0x18], gd.InodeTableStart)
	binary.LittleEndian.PutUint32(b[0x18:0x1C], gd.FreeBlocksCount)
	binary.LittleEndian.PutUint32(b[0x1C:0x20], gd.FreeInodesCount)
	binary.LittleEndian.PutUint32(b[0x20:0x24], gd.UsedDirsCount)
	crc := Checksum32(b[:0x24])
	binary.LittleEndian.PutUint32(b[0x24:0x28], crc)
	return b
}
