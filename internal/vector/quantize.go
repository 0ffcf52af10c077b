package vector

import (
	"math"

	"github.com/vexfs/vexfs"
)

// ScalarQuantizeI8 maps each component of vals linearly into [-127, 127]
// using the vector's own min/max extent, returning the quantized bytes plus
// the (scale, offset) needed to dequantize: original ≈ offset + i8*scale
// (spec §4.6, scalar_quantize_i8). Deterministic and side-effect free: the
// same input always yields the same output.
func ScalarQuantizeI8(vals []float32) (q []int8, scale, offset float32) {
	if len(vals) == 0 {
		return nil, 1, 0
	}
	min, max := vals[0], vals[0]
	for _, v := range vals[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	span := max - min
	if span == 0 {
		return make([]int8, len(vals)), 1, min
	}
	scale = span / 254.0
	offset = min + 127*scale
	q = make([]int8, len(vals))
	for i, v := range vals {
		centered := (v - offset) / scale
		if centered > 127 {
			centered = 127
		} else if centered < -127 {
			centered = -127
		}
		q[i] = int8(math.Round(float64(centered)))
	}
	return q, scale, offset
}

// DequantizeI8 reverses ScalarQuantizeI8.
func DequantizeI8(q []int8, scale, offset float32) []float32 {
	out := make([]float32, len(q))
	for i, v := range q {
		out[i] = offset + float32(v)*scale
	}
	return out
}

// BinaryQuantize sign-quantizes vals into a packed bitset: bit i set means
// vals[i] >= 0 (spec §4.6, binary_quantize). HammingDistance compares two
// such bitsets.
func BinaryQuantize(vals []float32) []byte {
	out := make([]byte, (len(vals)+7)/8)
	for i, v := range vals {
		if v >= 0 {
			out[i/8] |= 1 << uint(i%8)
		}
	}
	return out
}

// HammingDistance counts differing bits between two binary-quantized
// vectors of equal bit length.
func HammingDistance(a, b []byte) (int, error) {
	if len(a) != len(b) {
		return 0, vexfs.Errorf(vexfs.ErrInvalidArgument, "HammingDistance", "byte length mismatch: %d vs %d", len(a), len(b))
	}
	dist := 0
	for i := range a {
		x := a[i] ^ b[i]
		for x != 0 {
			dist += int(x & 1)
			x >>= 1
		}
	}
	return dist, nil
}

// PQCodebook holds the trained centroids for product quantization: dims is
// split into nsub subspaces, each with its own set of 2^nbits centroids
// (spec §4.6, product_quantize). Training is out of scope for the storage
// layer; callers supply an already-trained codebook. Nothing in this module
// persists codebooks.
type PQCodebook struct {
	Dims      int
	NSub      int
	NBits     int
	Centroids [][][]float32 // [subspace][code][subDim]
}

// SubDim returns the component count of one subspace.
func (c *PQCodebook) SubDim() int { return c.Dims / c.NSub }

// Encode assigns vals to the nearest centroid in each subspace, returning
// one code byte per subspace (nbits <= 8 in this implementation).
func (c *PQCodebook) Encode(vals []float32) ([]byte, error) {
	if len(vals) != c.Dims {
		return nil, vexfs.Errorf(vexfs.ErrInvalidArgument, "PQCodebook.Encode", "expected %d components, got %d", c.Dims, len(vals))
	}
	sub := c.SubDim()
	codes := make([]byte, c.NSub)
	for s := 0; s < c.NSub; s++ {
		seg := vals[s*sub : (s+1)*sub]
		best, bestDist := 0, math.MaxFloat64
		for code, centroid := range c.Centroids[s] {
			var dist float64
			for i := range seg {
				d := float64(seg[i] - centroid[i])
				dist += d * d
			}
			if dist < bestDist {
				bestDist = dist
				best = code
			}
		}
		codes[s] = byte(best)
	}
	return codes, nil
}

// Decode reconstructs an approximate vector from product-quantized codes.
func (c *PQCodebook) Decode(codes []byte) ([]float32, error) {
	if len(codes) != c.NSub {
		return nil, vexfs.Errorf(vexfs.ErrInvalidArgument, "PQCodebook.Decode", "expected %d codes, got %d", c.NSub, len(codes))
	}
	sub := c.SubDim()
	out := make([]float32, c.Dims)
	for s, code := range codes {
		copy(out[s*sub:(s+1)*sub], c.Centroids[s][code])
	}
	return out, nil
}
