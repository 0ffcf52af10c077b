// Package metric implements the distance/normalization kernels of spec
// §4.6: a scalar reference path, a capability-dispatched "SIMD" path
// selected once at engine init, and an integer-surrogate path for contexts
// that must not touch the host FPU.
//
// Capability detection is grounded on golang.org/x/sys/cpu, the same
// dependency trustelem-go-diskfs and KarpelesLab-squashfs both carry via
// golang.org/x/sys; Go has no portable way to hand-write AVX-512/NEON
// assembly without per-arch .s files outside of this exercise's scope, so
// "SIMD-dispatched variant" here means a capability-selected, width-unrolled
// Go implementation rather than literal intrinsics (see DESIGN.md).
package metric

import (
	"math"
	"sync"

	"golang.org/x/sys/cpu"

	"github.com/vexfs/vexfs"
)

// Level names a detected SIMD capability tier: scalar, then the x86 tiers in
// increasing width, then NEON.
type Level int

const (
	LevelScalar Level = iota
	LevelSSE2
	LevelAVX2
	LevelAVX512
	LevelNEON
)

func (l Level) String() string {
	switch l {
	case LevelScalar:
		return "scalar"
	case LevelSSE2:
		return "sse2"
	case LevelAVX2:
		return "avx2"
	case LevelAVX512:
		return "avx512"
	case LevelNEON:
		return "neon"
	default:
		return "unknown"
	}
}

// DetectLevel probes the host CPU once and returns the widest capability
// tier available, caching nothing itself — callers cache via Dispatcher.
func DetectLevel() Level {
	if cpu.ARM64.HasASIMD {
		return LevelNEON
	}
	if cpu.X86.HasAVX512F {
		return LevelAVX512
	}
	if cpu.X86.HasAVX2 {
		return LevelAVX2
	}
	if cpu.X86.HasSSE2 {
		return LevelSSE2
	}
	return LevelScalar
}

// KernelFn computes the distance between two f32-bit-pattern buffers of
// equal length (spec §4.5: "the engine stores them as received and hands
// them to metric kernels as bit patterns").
type KernelFn func(aBits, bBits []uint32) float64

// Dispatcher caches the capability probe and the resulting kernel table,
// run once at engine init (spec §4.6: "Capability detection runs once at
// engine init and caches a dispatch table").
type Dispatcher struct {
	once  sync.Once
	level Level
	table map[vexfs.Metric]KernelFn
}

// NewDispatcher constructs a Dispatcher and runs the capability probe and
// table build once, so an engine that builds its Dispatcher at Format or
// Mount probes at init.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{}
	d.ensure()
	return d
}

func (d *Dispatcher) ensure() {
	d.once.Do(func() {
		d.level = DetectLevel()
		d.table = map[vexfs.Metric]KernelFn{
			vexfs.MetricL2:     l2BitsDispatch(d.level),
			vexfs.MetricL1:     l1BitsDispatch(d.level),
			vexfs.MetricCosine: cosineBitsDispatch(d.level),
			vexfs.MetricDot:    dotBitsDispatch(d.level),
		}
	})
}

// Level returns the detected capability tier.
func (d *Dispatcher) Level() Level {
	d.ensure()
	return d.level
}

// Distance evaluates metric m between two f32-bit-pattern buffers.
func (d *Dispatcher) Distance(m vexfs.Metric, aBits, bBits []uint32) (float64, error) {
	d.ensure()
	if len(aBits) != len(bBits) {
		return 0, vexfs.Errorf(vexfs.ErrInvalidArgument, "Dispatcher.Distance", "dimension mismatch: %d vs %d", len(aBits), len(bBits))
	}
	fn, ok := d.table[m]
	if !ok {
		return 0, vexfs.Errorf(vexfs.ErrInvalidArgument, "Dispatcher.Distance", "unsupported metric %d", m)
	}
	return fn(aBits, bBits), nil
}

// BitsToFloats decodes a slice of IEEE-754 little-endian bit patterns into
// float64s for use by the reference and dispatched kernels.
func BitsToFloats(bits []uint32) []float64 {
	out := make([]float64, len(bits))
	for i, b := range bits {
		out[i] = float64(math.Float32frombits(b))
	}
	return out
}

// FloatsToBits encodes float32 values into their IEEE-754 bit patterns.
func FloatsToBits(vals []float32) []uint32 {
	out := make([]uint32, len(vals))
	for i, v := range vals {
		out[i] = math.Float32bits(v)
	}
	return out
}

// HasNaNOrInf reports whether any f32 bit pattern encodes NaN or ±∞
// (exponent field all-ones, spec §4.5).
func HasNaNOrInf(bits []uint32) bool {
	for _, b := range bits {
		exponent := (b >> 23) & 0xFF
		if exponent == 0xFF {
			return true
		}
	}
	return false
}
