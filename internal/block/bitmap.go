package block

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"
)

// Bitmap tracks per-block-group free/used state for either blocks or inodes,
// grounded on the teacher's use of github.com/bits-and-blooms/bitset for the
// inode and block bitmaps (ext4.go's bitset.New/NextClear/MarshalBinary).
type Bitmap struct {
	bits *bitset.BitSet
}

// NewBitmap allocates a bitmap covering n bits, all initially clear (free).
func NewBitmap(n uint) *Bitmap {
	return &Bitmap{bits: bitset.New(n)}
}

// BitmapFromBytes reconstructs a bitmap from its on-disk byte form.
func BitmapFromBytes(b []byte) (*Bitmap, error) {
	bs := &bitset.BitSet{}
	if err := bs.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("unmarshal bitmap: %w", err)
	}
	return &Bitmap{bits: bs}, nil
}

// ToBytes serializes the bitmap to its on-disk byte form.
func (bm *Bitmap) ToBytes() ([]byte, error) {
	b, err := bm.bits.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal bitmap: %w", err)
	}
	return b, nil
}

// Test reports whether bit i is set (used).
func (bm *Bitmap) Test(i uint) bool { return bm.bits.Test(i) }

// Set marks bit i as used.
func (bm *Bitmap) Set(i uint) { bm.bits.Set(i) }

// Clear marks bit i as free.
func (bm *Bitmap) Clear(i uint) { bm.bits.Clear(i) }

// NextClear returns the first free bit at or after i, and ok=false if none exists.
func (bm *Bitmap) NextClear(i uint) (uint, bool) { return bm.bits.NextClear(i) }

// Len returns the number of bits the bitmap covers.
func (bm *Bitmap) Len() uint { return bm.bits.Len() }

// Count returns the number of set (used) bits.
func (bm *Bitmap) Count() uint { return bm.bits.Count() }

// FindRun finds the first run of length n of clear bits at or after hint,
// returning its starting bit and ok=true, or ok=false if no such run starts
// at or after hint (spec §4.1: allocation policy step (b)).
func (bm *Bitmap) FindRun(hint uint, n uint) (uint, bool) {
	if n == 0 {
		return hint, true
	}
	total := bm.bits.Len()
	start := hint
	for start+n <= total {
		run := uint(0)
		var failedAt uint
		ok := true
		for off := uint(0); off < n; off++ {
			if bm.bits.Test(start + off) {
				ok = false
				failedAt = start + off
				break
			}
			run++
		}
		if ok {
			return start, true
		}
		start = failedAt + 1
	}
	return 0, false
}

// SetRun marks [start, start+n) as used.
func (bm *Bitmap) SetRun(start, n uint) {
	for i := uint(0); i < n; i++ {
		bm.bits.Set(start + i)
	}
}

// ClearRun marks [start, start+n) as free.
func (bm *Bitmap) ClearRun(start, n uint) {
	for i := uint(0); i < n; i++ {
		bm.bits.Clear(start + i)
	}
}
