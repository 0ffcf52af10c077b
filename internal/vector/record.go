package vector

import (
	"encoding/binary"

	"github.com/vexfs/vexfs"
)

// RecordSize returns the on-disk size of one sequential vector record: an
// 8-byte vector-id tag followed by dims 4-byte component bit patterns
// (spec §3, §4.5). Records are appended in insertion order to a
// vector-bearing inode's direct-block byte region; replaying them in order
// from offset 0 reproduces last-write-wins overwrite semantics without a
// separate on-disk id index.
func RecordSize(dims int) int { return 8 + dims*4 }

// EncodeRecord packs id and its component bit patterns into one record.
func EncodeRecord(id uint64, bits []uint32) []byte {
	b := make([]byte, RecordSize(len(bits)))
	binary.LittleEndian.PutUint64(b[0:8], id)
	for i, w := range bits {
		off := 8 + i*4
		binary.LittleEndian.PutUint32(b[off:off+4], w)
	}
	return b
}

// DecodeRecord reverses EncodeRecord.
func DecodeRecord(b []byte, dims int) (uint64, []uint32, error) {
	size := RecordSize(dims)
	if len(b) < size {
		return 0, nil, vexfs.Errorf(vexfs.ErrCorruption, "vector.DecodeRecord", "record buffer of length %d is smaller than %d", len(b), size)
	}
	id := binary.LittleEndian.Uint64(b[0:8])
	bits := make([]uint32, dims)
	for i := range bits {
		off := 8 + i*4
		bits[i] = binary.LittleEndian.Uint32(b[off : off+4])
	}
	return id, bits, nil
}
