package metric

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// L2Scalar computes Euclidean distance via gonum's Lp-norm helper
// (floats.Distance(a, b, 2)), grounded on the distr1-distri pack's use of
// gonum.org/v1/gonum for numeric work.
func L2Scalar(a, b []float64) float64 {
	return floats.Distance(a, b, 2)
}

// L1Scalar computes Manhattan distance via floats.Distance(a, b, 1).
func L1Scalar(a, b []float64) float64 {
	return floats.Distance(a, b, 1)
}

// CosineScalar computes cosine distance (1 - cosθ). gonum/floats has no
// cosine-distance helper, so this is hand-rolled (see DESIGN.md).
func CosineScalar(a, b []float64) float64 {
	var dot, normA, normB float64
	for i := range a {
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

// DotScalar computes the negated dot product so that, like the other
// metrics, smaller means more similar (spec §4.6).
func DotScalar(a, b []float64) float64 {
	var dot float64
	for i := range a {
		dot += a[i] * b[i]
	}
	return -dot
}
