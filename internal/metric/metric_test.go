package metric

import (
	"math"
	"testing"

	"github.com/vexfs/vexfs"
)

func bitsOf(vals ...float32) []uint32 { return FloatsToBits(vals) }

func TestL2DistanceMatchesScalarReference(t *testing.T) {
	d := NewDispatcher()
	a := bitsOf(1, 2, 3, 4)
	b := bitsOf(2, 3, 4, 5)
	got, err := d.Distance(vexfs.MetricL2, a, b)
	if err != nil {
		t.Fatalf("Distance: %v", err)
	}
	want := L2Scalar(BitsToFloats(a), BitsToFloats(b))
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestFloatBitsRoundTrip(t *testing.T) {
	for _, f := range []float32{0, 1, -1, 3.14159, -2.71828, 65535.5} {
		bits := FloatsToBits([]float32{f})
		back := BitsToFloats(bits)
		if float32(back[0]) != f {
			t.Fatalf("round trip mismatch: %v != %v", back[0], f)
		}
	}
}

func TestHasNaNOrInfDetectsBothForms(t *testing.T) {
	nan := math.Float32bits(float32(math.NaN()))
	inf := math.Float32bits(float32(math.Inf(1)))
	if !HasNaNOrInf([]uint32{nan}) {
		t.Fatalf("expected NaN to be detected")
	}
	if !HasNaNOrInf([]uint32{inf}) {
		t.Fatalf("expected +Inf to be detected")
	}
	if HasNaNOrInf(bitsOf(1, 2, 3)) {
		t.Fatalf("expected finite values to pass")
	}
}

func TestSurrogatePreservesL2Ordering(t *testing.T) {
	query := bitsOf(1, 2, 3, 4)
	near := bitsOf(1, 2, 3, 5)
	far := bitsOf(10, 20, 30, 40)

	qs := ToSurrogate(query)
	ns := ToSurrogate(near)
	fs := ToSurrogate(far)

	dNear, _ := SurrogateDistance(vexfs.MetricL2, qs, ns)
	dFar, _ := SurrogateDistance(vexfs.MetricL2, qs, fs)
	if dNear >= dFar {
		t.Fatalf("expected near surrogate distance %d < far %d", dNear, dFar)
	}

	d := NewDispatcher()
	floatNear, _ := d.Distance(vexfs.MetricL2, query, near)
	floatFar, _ := d.Distance(vexfs.MetricL2, query, far)
	if floatNear >= floatFar {
		t.Fatalf("sanity: float distances should agree on ordering too")
	}
}

func TestDimensionMismatchIsInvalidArgument(t *testing.T) {
	d := NewDispatcher()
	_, err := d.Distance(vexfs.MetricL2, bitsOf(1, 2), bitsOf(1, 2, 3))
	if err == nil {
		t.Fatalf("expected dimension mismatch error")
	}
	if kind, _ := vexfs.KindOf(err); kind != vexfs.ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", kind)
	}
}
