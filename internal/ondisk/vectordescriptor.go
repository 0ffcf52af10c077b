package ondisk

import "encoding/binary"

const modelTagLen = 28

// VectorDescriptor is the 64-byte tail of every inode record (spec §3).
// Dimensions == 0 means the inode carries no vector payload.
type VectorDescriptor struct {
	Dimensions      uint32
	VectorCount     uint64
	ElementEncoding uint8
	Layout          uint8
	CompressionKind uint8
	Alignment       uint16
	DataOffset      uint64 // file-relative
	IndexOffset     uint64
	ModelTag        [modelTagLen]byte
}

// ModelTagString returns the NUL-trimmed model tag as a string.
func (v *VectorDescriptor) ModelTagString() string {
	n := 0
	for n < len(v.ModelTag) && v.ModelTag[n] != 0 {
		n++
	}
	return string(v.ModelTag[:n])
}

// SetModelTag copies s into the fixed-width model tag field, truncating if
// s is longer than the field.
func (v *VectorDescriptor) SetModelTag(s string) {
	var tag [modelTagLen]byte
	n := copy(tag[:], s)
	_ = n
	v.ModelTag = tag
}

func vectorDescriptorFromBytes(b []byte) (*VectorDescriptor, error) {
	v := &VectorDescriptor{
		Dimensions:      binary.LittleEndian.Uint32(b[0x00:0x04]),
		VectorCount:     binary.LittleEndian.Uint64(b[0x04:0x0C]),
		ElementEncoding: b[0x0C],
		Layout:          b[0x0D],
		CompressionKind: b[0x0E],
		Alignment:       binary.LittleEndian.Uint16(b[0x10:0x12]),
		DataOffset:      binary.LittleEndian.Uint64(b[0x14:0x1C]),
		IndexOffset:     binary.LittleEndian.Uint64(b[0x1C:0x24]),
	}
	copy(v.ModelTag[:], b[0x24:0x24+modelTagLen])
	return v, nil
}

func (v *VectorDescriptor) toBytes() []byte {
	b := make([]byte, vectorDescriptorSize)
	binary.LittleEndian.PutUint32(b[0x00:0x04], v.Dimensions)
	binary.LittleEndian.PutUint64(b[0x04:0x0C], v.VectorCount)
	b[0x0C] = v.ElementEncoding
	b[0x0D] = v.Layout
	b[0x0E] = v.CompressionKind
	binary.LittleEndian.PutUint16(b[0x10:0x12], v.Alignment)
	binary.LittleEndian.PutUint64(b[0x14:0x1C], v.DataOffset)
	binary.LittleEndian.PutUint64(b[0x1C:0x24], v.IndexOffset)
	copy(b[0x24:0x24+modelTagLen], v.ModelTag[:])
	return b
}
