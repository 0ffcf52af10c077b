package metric

import "github.com/vexfs/vexfs"

// surrogateScale is the fixed-point scale applied before truncating to i32
// (spec §4.6): "values are multiplied by 1000 and truncated to i32".
const surrogateScale = 1000

const (
	maxSurrogateMagnitude = uint64(1<<31 - 1) // int32 magnitude bound
	mantissaBits          = 23
	exponentBias          = 127
)

// ToSurrogate converts IEEE-754 f32 bit patterns into the integer-scaled
// surrogate used by contexts that must not touch the host FPU (spec §4.6).
// Every bit pattern is decoded by shift and mask alone; no intermediate
// float32/float64 value is ever constructed.
func ToSurrogate(bits []uint32) []int32 {
	out := make([]int32, len(bits))
	for i, b := range bits {
		out[i] = surrogateOf(b)
	}
	return out
}

// surrogateOf decodes one IEEE-754 bit pattern into its scaled-by-1000
// integer surrogate using only integer shifts, masks, and multiplies.
//
// value = (-1)^sign * mantissaWithImplicitBit * 2^e, so
// value*1000 = mantissaWithImplicitBit * 1000 * 2^e, computed as a single
// 64-bit integer multiply followed by a shift. Magnitudes that would not
// fit an int32 (including Inf/NaN's all-ones exponent) saturate to
// ±MaxInt32 by sign rather than wrapping.
func surrogateOf(b uint32) int32 {
	sign := b >> 31
	exp := (b >> 23) & 0xFF
	mantissa := b & (1<<mantissaBits - 1)

	var fullMantissa uint64
	var e int
	if exp == 0 {
		// subnormal: no implicit leading bit, fixed exponent -126-23.
		fullMantissa = uint64(mantissa)
		e = -(exponentBias - 1) - mantissaBits
	} else {
		fullMantissa = uint64(mantissa) | (1 << mantissaBits)
		e = int(exp) - exponentBias - mantissaBits
	}

	numerator := fullMantissa * surrogateScale

	var magnitude uint64
	switch {
	case e >= 0:
		if e > 29 { // numerator is <= ~2^34; beyond this any shift overflows uint64
			magnitude = maxSurrogateMagnitude + 1
		} else {
			magnitude = numerator << uint(e)
		}
	case -e >= 64:
		magnitude = 0
	default:
		magnitude = numerator >> uint(-e)
	}

	if magnitude > maxSurrogateMagnitude {
		magnitude = maxSurrogateMagnitude
	}
	if sign == 1 {
		return -int32(magnitude)
	}
	return int32(magnitude)
}

// SurrogateDistance evaluates metric m over pre-scaled integer surrogates,
// accumulating in u64 as spec §4.6 requires. Ordering is exact for L2/L1;
// for Cosine/Dot it is preserved only when input norms are bounded, which
// is this function's documented caller contract — callers needing exact
// float ordering for Cosine/Dot must route through the FPU-safe Dispatcher
// path instead (spec §4.6, §9).
func SurrogateDistance(m vexfs.Metric, a, b []int32) (uint64, error) {
	if len(a) != len(b) {
		return 0, vexfs.Errorf(vexfs.ErrInvalidArgument, "SurrogateDistance", "dimension mismatch: %d vs %d", len(a), len(b))
	}
	switch m {
	case vexfs.MetricL2:
		var acc uint64
		for i := range a {
			d := int64(a[i]) - int64(b[i])
			acc += uint64(d * d)
		}
		return acc, nil
	case vexfs.MetricL1:
		var acc uint64
		for i := range a {
			d := int64(a[i]) - int64(b[i])
			if d < 0 {
				d = -d
			}
			acc += uint64(d)
		}
		return acc, nil
	case vexfs.MetricDot:
		var acc int64
		for i := range a {
			acc += int64(a[i]) * int64(b[i])
		}
		// flip every bit but the sign: maps int64 onto uint64 in reverse
		// order, so a larger dot product gives a smaller distance, matching
		// the float path's negated dot
		return uint64(acc) ^ (1<<63 - 1), nil
	case vexfs.MetricCosine:
		var dot, normA, normB int64
		for i := range a {
			dot += int64(a[i]) * int64(b[i])
			normA += int64(a[i]) * int64(a[i])
			normB += int64(b[i]) * int64(b[i])
		}
		if normA == 0 || normB == 0 {
			return uint64(surrogateScale * surrogateScale), nil
		}
		// surrogate cosine similarity scaled by surrogateScale^2; converted
		// to a "distance" by subtracting from the max scaled similarity.
		scaled := dot * surrogateScale * surrogateScale / isqrtProduct(normA, normB)
		max := int64(surrogateScale) * surrogateScale
		if scaled > max {
			scaled = max
		}
		return uint64(max - scaled), nil
	default:
		return 0, vexfs.Errorf(vexfs.ErrInvalidArgument, "SurrogateDistance", "unsupported metric %d", m)
	}
}

// isqrtProduct returns an integer approximation of sqrt(a*b), a >= 0, b >= 0.
func isqrtProduct(a, b int64) int64 {
	if a <= 0 || b <= 0 {
		return 1
	}
	prod := uint64(a) * uint64(b)
	// start at a power of two no smaller than sqrt(prod) so the Newton
	// steps only decrease and x*x is never formed
	x := uint64(1)
	for p := prod; p > 0; p >>= 2 {
		x <<= 1
	}
	for y := (x + prod/x) / 2; y < x; y = (x + prod/x) / 2 {
		x = y
	}
	return int64(x)
}
