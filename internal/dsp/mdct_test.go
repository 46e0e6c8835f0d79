package dsp

import (
	"math"
	"math/rand"
	"testing"
)

func TestVorbisWindowComplementary(t *testing.T) {
	for _, n := range []int{ShortSize, LongSize} {
		w := vorbisWindow(n)
		for i := 0; i < n/2; i++ {
			sum := w[i]*w[i] + w[i+n/2]*w[i+n/2]
			if math.Abs(sum-1) > 1e-12 {
				t.Fatalf("n=%d: squared halves at %d sum to %v, want 1", n, i, sum)
			}
		}
	}
}

func TestTransitionWindowShapes(t *testing.T) {
	// Flat top where the start window has no overlap partner.
	for i := SlotSize; i < SlotSize+ShortOffset; i++ {
		if startWindow[i] != 1 {
			t.Fatalf("start window not flat at %d: %v", i, startWindow[i])
		}
	}
	// Zero tail mirroring the flat top.
	for i := SlotSize + ShortOffset + ShortSize/2; i < LongSize; i++ {
		if startWindow[i] != 0 {
			t.Fatalf("start window not zero at %d: %v", i, startWindow[i])
		}
	}
	for i := range stopWindow {
		if stopWindow[i] != startWindow[LongSize-1-i] {
			t.Fatalf("stop window is not the reversed start window at %d", i)
		}
	}
}

// synthesize runs the given slot kinds over sig (which must already
// include the leading priming zeros) through MDCT analysis and
// overlap-add synthesis, returning the reconstruction.
func synthesize(sig []float64, kinds []BlockKind) []float64 {
	out := make([]float64, len(sig)+2*LongSize)
	padded := make([]float64, len(sig)+2*LongSize)
	copy(padded, sig)
	for slot, kind := range kinds {
		base := slot * SlotSize
		win := Window(kind)
		size := kind.Size()
		for _, off := range BlockOffsets(kind) {
			block := padded[base+off : base+off+size]
			coeffs := Mdct(block, win)
			y := Imdct(coeffs, win)
			for i, v := range y {
				out[base+off+i] += v
			}
		}
	}
	return out[:len(sig)]
}

func TestMdctRoundTripLong(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	n := 6 * SlotSize
	sig := make([]float64, SlotSize+n)
	for i := SlotSize; i < len(sig); i++ {
		sig[i] = rng.Float64()*2 - 1
	}
	kinds := make([]BlockKind, 8)
	for i := range kinds {
		kinds[i] = KindLong
	}
	got := synthesize(sig, kinds)
	// Everything before the last slot's flush boundary is fully
	// overlapped and must reconstruct exactly.
	for i := SlotSize; i < 6*SlotSize; i++ {
		if math.Abs(got[i]-sig[i]) > 1e-9 {
			t.Fatalf("sample %d: got %v, want %v", i, got[i], sig[i])
		}
	}
}

func TestMdctRoundTripBlockSwitch(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	kinds := []BlockKind{KindLong, KindStart, KindShort, KindShort, KindStop, KindLong, KindLong, KindLong}
	n := len(kinds) * SlotSize
	sig := make([]float64, SlotSize+n)
	for i := SlotSize; i < len(sig); i++ {
		sig[i] = rng.Float64()*2 - 1
	}
	got := synthesize(sig, kinds)
	for i := SlotSize; i < 7*SlotSize; i++ {
		if math.Abs(got[i]-sig[i]) > 1e-9 {
			t.Fatalf("sample %d (slot %d): got %v, want %v", i, i/SlotSize, got[i], sig[i])
		}
	}
}

func TestBlockOffsets(t *testing.T) {
	offs := BlockOffsets(KindShort)
	if len(offs) != ShortPerSlot {
		t.Fatalf("expected %d short blocks per slot, got %d", ShortPerSlot, len(offs))
	}
	if offs[0] != ShortOffset {
		t.Errorf("first short offset: expected %d, got %d", ShortOffset, offs[0])
	}
	last := offs[len(offs)-1] + ShortSize
	if last >= LongSize {
		t.Errorf("short run exceeds the slot window span: %d", last)
	}
	for _, k := range []BlockKind{KindLong, KindStart, KindStop} {
		if o := BlockOffsets(k); len(o) != 1 || o[0] != 0 {
			t.Errorf("kind %v: expected a single block at the slot base, got %v", k, o)
		}
	}
}
