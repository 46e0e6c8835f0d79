// Package dsp implements the transform-path signal processing: MDCT and
// inverse MDCT with block switching windows, Bark-band partitioning and
// the masking model driving quantizer step sizes.
package dsp

import "math"

// BlockKind identifies the window shape of a transform block.
type BlockKind uint8

// Transform block kinds.
const (
	KindLong BlockKind = iota
	KindShort
	KindStart
	KindStop
)

// Transform geometry. Blocks are laid out on a fixed 1024-sample slot
// grid: a Long, Start or Stop block sits at the slot base, a transient
// slot holds eight Short blocks offset into the slot so every window
// half finds its overlap partner.
const (
	LongSize     = 2048
	ShortSize    = 256
	SlotSize     = LongSize / 2
	ShortPerSlot = SlotSize / (ShortSize / 2)
	// Offset of the first short block relative to its slot base.
	ShortOffset = (SlotSize - ShortSize/2) / 2
)

func (k BlockKind) String() string {
	switch k {
	case KindLong:
		return "long"
	case KindShort:
		return "short"
	case KindStart:
		return "start"
	case KindStop:
		return "stop"
	}
	return "unknown"
}

// Size returns the input length of a block of kind k.
func (k BlockKind) Size() int {
	if k == KindShort {
		return ShortSize
	}
	return LongSize
}

// NumCoeffs returns the MDCT coefficient count of a block of kind k.
func (k BlockKind) NumCoeffs() int {
	return k.Size() / 2
}

// BlockOffsets returns the offsets, relative to the slot base, of the
// blocks making up one slot of kind k.
func BlockOffsets(k BlockKind) []int {
	if k != KindShort {
		return []int{0}
	}
	offs := make([]int, ShortPerSlot)
	for j := range offs {
		offs[j] = ShortOffset + j*ShortSize/2
	}
	return offs
}

// vorbisWindow returns the n-point window sin(pi/2 * sin^2(pi(i+1/2)/n)).
// Squared halves of this window sum to one, which the overlap-add
// reconstruction relies on.
func vorbisWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		s := math.Sin(math.Pi * (float64(i) + 0.5) / float64(n))
		w[i] = math.Sin(math.Pi / 2 * s * s)
	}
	return w
}

var (
	longWindow  = vorbisWindow(LongSize)
	shortWindow = vorbisWindow(ShortSize)
	startWindow = makeStartWindow()
	stopWindow  = makeStopWindow()
)

// makeStartWindow builds the Long-to-Short transition window: a long
// rise, a flat top, a short fall, then zeros. The flat and zero regions
// mirror each other about the three-quarter point, so the aliasing
// introduced by the MDCT vanishes where the window has no overlap
// partner.
func makeStartWindow() []float64 {
	w := make([]float64, LongSize)
	copy(w, longWindow[:SlotSize])
	for i := SlotSize; i < SlotSize+ShortOffset; i++ {
		w[i] = 1
	}
	for i := 0; i < ShortSize/2; i++ {
		w[SlotSize+ShortOffset+i] = shortWindow[ShortSize/2+i]
	}
	return w
}

// makeStopWindow builds the Short-to-Long transition window as the time
// reverse of the start window.
func makeStopWindow() []float64 {
	w := make([]float64, LongSize)
	for i := range w {
		w[i] = startWindow[LongSize-1-i]
	}
	return w
}

// Window returns the analysis/synthesis window of a block of kind k.
func Window(k BlockKind) []float64 {
	switch k {
	case KindShort:
		return shortWindow
	case KindStart:
		return startWindow
	case KindStop:
		return stopWindow
	}
	return longWindow
}
