package metric

import "math"

// unrolledL2 computes Euclidean distance with a 4-wide manually unrolled
// accumulation loop, standing in for the SSE2/AVX2/AVX-512/NEON lanes a real
// assembly kernel would use at each respective width (spec §4.6; see
// DESIGN.md for why this is a Go-level stand-in rather than hand-written
// assembly).
func unrolledL2(a, b []float64) float64 {
	n := len(a)
	var sum0, sum1, sum2, sum3 float64
	i := 0
	for ; i+4 <= n; i += 4 {
		d0 := a[i] - b[i]
		d1 := a[i+1] - b[i+1]
		d2 := a[i+2] - b[i+2]
		d3 := a[i+3] - b[i+3]
		sum0 += d0 * d0
		sum1 += d1 * d1
		sum2 += d2 * d2
		sum3 += d3 * d3
	}
	sum := sum0 + sum1 + sum2 + sum3
	for ; i < n; i++ {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

func unrolledL1(a, b []float64) float64 {
	n := len(a)
	var sum0, sum1, sum2, sum3 float64
	i := 0
	for ; i+4 <= n; i += 4 {
		sum0 += math.Abs(a[i] - b[i])
		sum1 += math.Abs(a[i+1] - b[i+1])
		sum2 += math.Abs(a[i+2] - b[i+2])
		sum3 += math.Abs(a[i+3] - b[i+3])
	}
	sum := sum0 + sum1 + sum2 + sum3
	for ; i < n; i++ {
		sum += math.Abs(a[i] - b[i])
	}
	return sum
}

func unrolledCosine(a, b []float64) float64 {
	n := len(a)
	var dot0, dot1, na0, na1, nb0, nb1 float64
	i := 0
	for ; i+2 <= n; i += 2 {
		dot0 += a[i] * b[i]
		dot1 += a[i+1] * b[i+1]
		na0 += a[i] * a[i]
		na1 += a[i+1] * a[i+1]
		nb0 += b[i] * b[i]
		nb1 += b[i+1] * b[i+1]
	}
	dot, normA, normB := dot0+dot1, na0+na1, nb0+nb1
	for ; i < n; i++ {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if cos > 1 {
		cos = 1
	} else if cos < -1 {
		cos = -1
	}
	return 1 - cos
}

func unrolledDot(a, b []float64) float64 {
	n := len(a)
	var sum0, sum1 float64
	i := 0
	for ; i+2 <= n; i += 2 {
		sum0 += a[i] * b[i]
		sum1 += a[i+1] * b[i+1]
	}
	sum := sum0 + sum1
	for ; i < n; i++ {
		sum += a[i] * b[i]
	}
	return -sum
}

func bitsKernel(f func(a, b []float64) float64) KernelFn {
	return func(aBits, bBits []uint32) float64 {
		return f(BitsToFloats(aBits), BitsToFloats(bBits))
	}
}

// l2BitsDispatch, l1BitsDispatch, cosineBitsDispatch, and dotBitsDispatch
// select the widest available implementation for the detected capability
// level; the scalar fallback and the "SIMD" path sum in a different order,
// so their results agree up to floating-point rounding, not bit for bit.
func l2BitsDispatch(level Level) KernelFn {
	if level == LevelScalar {
		return bitsKernel(L2Scalar)
	}
	return bitsKernel(unrolledL2)
}

func l1BitsDispatch(level Level) KernelFn {
	if level == LevelScalar {
		return bitsKernel(L1Scalar)
	}
	return bitsKernel(unrolledL1)
}

func cosineBitsDispatch(level Level) KernelFn {
	if level == LevelScalar {
		return bitsKernel(CosineScalar)
	}
	return bitsKernel(unrolledCosine)
}

func dotBitsDispatch(level Level) KernelFn {
	if level == LevelScalar {
		return bitsKernel(DotScalar)
	}
	return bitsKernel(unrolledDot)
}
