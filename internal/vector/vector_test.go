package vector

import (
	"math"
	"testing"

	"github.com/vexfs/vexfs"
)

func TestBufferRoundTripBitExact(t *testing.T) {
	b, err := NewBuffer(4, vexfs.DefaultAlignment)
	if err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}
	vals := []float32{1.5, -2.25, 0, 3.14159}
	if err := b.PutVector(vals, false); err != nil {
		t.Fatalf("PutVector: %v", err)
	}
	got := b.GetVector()
	for i := range vals {
		if got[i] != vals[i] {
			t.Fatalf("component %d: got %v want %v", i, got[i], vals[i])
		}
	}
	if len(b.Raw())%vexfs.DefaultAlignment != 0 {
		t.Fatalf("buffer not aligned to %d bytes: got %d", vexfs.DefaultAlignment, len(b.Raw()))
	}
}

func TestPutVectorRejectsNaNByDefault(t *testing.T) {
	b, _ := NewBuffer(2, vexfs.MinAlignment)
	err := b.PutVector([]float32{float32(math.NaN()), 1}, false)
	if err == nil {
		t.Fatalf("expected NaN rejection")
	}
	if kind, _ := vexfs.KindOf(err); kind != vexfs.ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", kind)
	}
	if err := b.PutVector([]float32{float32(math.NaN()), 1}, true); err != nil {
		t.Fatalf("expected NaN to be allowed with allowNonFinite: %v", err)
	}
}

func TestBatchPutShortCircuitsOnFirstInvalidVector(t *testing.T) {
	dst := make([]*Buffer, 3)
	for i := range dst {
		b, _ := NewBuffer(2, vexfs.MinAlignment)
		dst[i] = b
	}
	vals := [][]float32{{1, 2}, {float32(math.Inf(1)), 0}, {3, 4}}
	err := BatchPut(dst, vals, false)
	if err == nil {
		t.Fatalf("expected batch failure on invalid second vector")
	}
}

func TestScalarQuantizeI8RoundTripWithinBound(t *testing.T) {
	vals := []float32{-10, -5, 0, 5, 10}
	q, scale, offset := ScalarQuantizeI8(vals)
	back := DequantizeI8(q, scale, offset)
	for i, v := range vals {
		if math.Abs(float64(back[i]-v)) > float64(scale)+1e-3 {
			t.Fatalf("component %d: dequantized %v too far from original %v (scale %v)", i, back[i], v, scale)
		}
	}
}

func TestScalarQuantizeI8ConstantVector(t *testing.T) {
	vals := []float32{7, 7, 7}
	q, scale, offset := ScalarQuantizeI8(vals)
	back := DequantizeI8(q, scale, offset)
	for _, v := range back {
		if v != 7 {
			t.Fatalf("expected constant vector to round-trip exactly, got %v", v)
		}
	}
}

func TestBinaryQuantizeAndHamming(t *testing.T) {
	a := BinaryQuantize([]float32{1, -1, 1, -1, 1, -1, 1, -1, 1})
	b := BinaryQuantize([]float32{1, -1, 1, -1, 1, -1, 1, -1, -1})
	d, err := HammingDistance(a, b)
	if err != nil {
		t.Fatalf("HammingDistance: %v", err)
	}
	if d != 1 {
		t.Fatalf("expected hamming distance 1, got %d", d)
	}
}

func TestPQCodebookEncodeDecode(t *testing.T) {
	cb := &PQCodebook{
		Dims:  4,
		NSub:  2,
		NBits: 1,
		Centroids: [][][]float32{
			{{0, 0}, {10, 10}},
			{{0, 0}, {10, 10}},
		},
	}
	codes, err := cb.Encode([]float32{1, 1, 9, 9})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if codes[0] != 0 || codes[1] != 1 {
		t.Fatalf("unexpected codes: %v", codes)
	}
	recon, err := cb.Decode(codes)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := []float32{0, 0, 10, 10}
	for i := range want {
		if recon[i] != want[i] {
			t.Fatalf("component %d: got %v want %v", i, recon[i], want[i])
		}
	}
}

func TestCompressDecompressRoundTripAllCodecs(t *testing.T) {
	raw := []byte("the quick brown fox jumps over the lazy dog, repeated for compressibility, repeated for compressibility")
	for _, kind := range []vexfs.CompressionKind{vexfs.CompressionNone, vexfs.CompressionZstd, vexfs.CompressionLZ4, vexfs.CompressionXZ} {
		compressed, err := Compress(kind, raw)
		if err != nil {
			t.Fatalf("Compress(%v): %v", kind, err)
		}
		back, err := Decompress(kind, compressed)
		if err != nil {
			t.Fatalf("Decompress(%v): %v", kind, err)
		}
		if string(back) != string(raw) {
			t.Fatalf("round trip mismatch for codec %v", kind)
		}
	}
}
