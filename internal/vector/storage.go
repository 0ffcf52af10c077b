// Package vector implements the payload-carriage and quantization
// operations of spec §4.5: bit-exact IEEE-754 carriage with alignment
// padding, plus the scalar/binary/product quantizers of §4.6.
package vector

import (
	"encoding/binary"

	"github.com/vexfs/vexfs"
	"github.com/vexfs/vexfs/internal/metric"
)

// Buffer holds one vector's raw f32-bit-pattern components, padded to a
// caller-chosen byte alignment so a direct memory-mapped read (or a SIMD
// kernel that wants aligned loads) can address it without a copy.
type Buffer struct {
	Dims      int
	Alignment int
	raw       []byte
}

// NewBuffer allocates a zeroed Buffer sized for dims float32 components,
// rounded up to alignment bytes (spec §3: vector payload alignment, default
// 64, minimum 16).
func NewBuffer(dims, alignment int) (*Buffer, error) {
	if err := vexfs.ValidateDimensions(dims); err != nil {
		return nil, err
	}
	if alignment < vexfs.MinAlignment {
		alignment = vexfs.MinAlignment
	}
	size := dims * 4
	padded := ((size + alignment - 1) / alignment) * alignment
	return &Buffer{Dims: dims, Alignment: alignment, raw: make([]byte, padded)}, nil
}

// PutVector stores vals bit-exactly: no renormalization, no rounding beyond
// what the IEEE-754 encoding itself performs (spec §4.5, "put_vector stores
// floats... bit-exact, no silent renormalization"). NaN/Inf components are
// rejected unless allowNonFinite is set, matching the per-call opt-out spec
// §4.5 describes for contexts that explicitly want to carry sentinel values.
func (b *Buffer) PutVector(vals []float32, allowNonFinite bool) error {
	if len(vals) != b.Dims {
		return vexfs.Errorf(vexfs.ErrInvalidArgument, "PutVector", "expected %d components, got %d", b.Dims, len(vals))
	}
	bits := metric.FloatsToBits(vals)
	if !allowNonFinite && metric.HasNaNOrInf(bits) {
		return vexfs.Errorf(vexfs.ErrInvalidArgument, "PutVector", "vector contains NaN or Inf component")
	}
	for i, word := range bits {
		binary.LittleEndian.PutUint32(b.raw[i*4:], word)
	}
	return nil
}

// GetVector decodes the stored components back to float32, bit-exact with
// whatever PutVector wrote.
func (b *Buffer) GetVector() []float32 {
	bits := make([]uint32, b.Dims)
	for i := range bits {
		bits[i] = binary.LittleEndian.Uint32(b.raw[i*4:])
	}
	out := make([]float32, b.Dims)
	floats := metric.BitsToFloats(bits)
	for i, f := range floats {
		out[i] = float32(f)
	}
	return out
}

// Bits returns the raw f32 bit patterns without an intermediate float64
// round trip, for callers (metric kernels, index builders) that want the
// carried bit pattern directly.
func (b *Buffer) Bits() []uint32 {
	bits := make([]uint32, b.Dims)
	for i := range bits {
		bits[i] = binary.LittleEndian.Uint32(b.raw[i*4:])
	}
	return bits
}

// Raw exposes the padded backing array, e.g. for writing straight to a
// block-aligned disk buffer.
func (b *Buffer) Raw() []byte { return b.raw }

// BatchPut stores count vectors of dims components each into dst, a slice of
// fresh Buffers the caller preallocated, short-circuiting on the first
// invalid vector so a partially-applied batch never reaches disk (spec §4.5,
// BatchInsert "all-or-nothing" semantics carried at the storage layer).
func BatchPut(dst []*Buffer, vals [][]float32, allowNonFinite bool) error {
	if len(dst) != len(vals) {
		return vexfs.Errorf(vexfs.ErrInvalidArgument, "BatchPut", "buffer count %d does not match vector count %d", len(dst), len(vals))
	}
	if err := vexfs.ValidateBatchSize(len(vals)); err != nil {
		return err
	}
	for i, v := range vals {
		if err := dst[i].PutVector(v, allowNonFinite); err != nil {
			return vexfs.Wrap(vexfs.ErrInvalidArgument, "BatchPut", err)
		}
	}
	return nil
}
