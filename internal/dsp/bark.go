package dsp

import (
	"math"
	"sync"
)

// NumBands is the number of critical bands the coefficient spectrum is
// partitioned into.
const NumBands = 25

// Bands holds the coefficient index edges of the critical bands for one
// combination of sample rate and coefficient count. Band b covers
// coefficient indices [Edge[b], Edge[b+1]).
type Bands struct {
	SampleRate int
	NumCoeffs  int
	Edge       [NumBands + 1]int
}

// bark converts a frequency in Hz to the Bark scale.
func bark(f float64) float64 {
	return 13*math.Atan(0.00076*f) + 3.5*math.Atan((f/7500)*(f/7500))
}

// CoeffFreq returns the center frequency in Hz of MDCT coefficient j for
// a block with m coefficients at the given sample rate.
func CoeffFreq(j, m, sampleRate int) float64 {
	return (float64(j) + 0.5) * float64(sampleRate) / float64(2*m)
}

var (
	bandsMu    sync.Mutex
	bandsCache = map[[2]int]*Bands{}
)

// BandsFor returns the Bark band partition of m coefficients at the
// given sample rate. The Bark range up to Nyquist is stretched over all
// bands at every rate; a band narrower than one coefficient (typically a
// low band of a short block) collapses to zero width.
func BandsFor(sampleRate, m int) *Bands {
	key := [2]int{sampleRate, m}
	bandsMu.Lock()
	defer bandsMu.Unlock()
	if b, ok := bandsCache[key]; ok {
		return b
	}
	b := &Bands{SampleRate: sampleRate, NumCoeffs: m}
	// The top band edge maps the Nyquist bark range onto 25 bands; low
	// sample rates spread their narrower bark span across all bands so
	// no band is starved.
	maxBark := bark(float64(sampleRate) / 2)
	scale := float64(NumBands) / maxBark
	j := 0
	for band := 0; band <= NumBands; band++ {
		for j < m && bark(CoeffFreq(j, m, sampleRate))*scale < float64(band) {
			j++
		}
		b.Edge[band] = j
	}
	b.Edge[0] = 0
	b.Edge[NumBands] = m
	bandsCache[key] = b
	return b
}

// BandOf returns the band index containing coefficient j.
func (b *Bands) BandOf(j int) int {
	for band := 0; band < NumBands; band++ {
		if j < b.Edge[band+1] {
			return band
		}
	}
	return NumBands - 1
}

// Width returns the coefficient count of band index band.
func (b *Bands) Width(band int) int {
	return b.Edge[band+1] - b.Edge[band]
}
