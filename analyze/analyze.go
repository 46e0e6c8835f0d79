// Package analyze derives display and loudness metadata from PCM:
// waveform peak envelopes, program loudness figures and a coarse
// spectral fingerprint. The codec never calls into this package; the
// results travel in the metadata record only.
package analyze

import (
	"math"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
	"gonum.org/v1/gonum/floats"

	"github.com/flo-audio/flo/meta"
)

// Waveform reduces interleaved PCM to a peak envelope with the given
// resolution, mixing channels by maximum magnitude.
func Waveform(pcm []float32, sampleRate, channels, peaksPerSecond int) *meta.WaveformData {
	if peaksPerSecond <= 0 {
		peaksPerSecond = 10
	}
	total := len(pcm) / channels
	span := sampleRate / peaksPerSecond
	if span < 1 {
		span = 1
	}
	npeaks := (total + span - 1) / span
	peaks := make([]float32, npeaks)
	for p := 0; p < npeaks; p++ {
		var peak float32
		lo := p * span
		hi := lo + span
		if hi > total {
			hi = total
		}
		for i := lo * channels; i < hi*channels; i++ {
			v := pcm[i]
			if v < 0 {
				v = -v
			}
			if v > peak {
				peak = v
			}
		}
		peaks[p] = peak
	}
	return &meta.WaveformData{
		Peaks:          peaks,
		PeaksPerSecond: uint32(peaksPerSecond),
		Channels:       uint8(channels),
	}
}

// Loudness measures the program loudness of interleaved PCM: the gated
// integrated level in LUFS, the loudness range in LU and the sample
// peak in dBTP. The measurement follows the BS.1770 gating structure on
// 400 ms blocks without the K-weighting pre-filter.
func Loudness(pcm []float32, sampleRate, channels int) (lufs, rangeLU, truePeakDBTP float64) {
	total := len(pcm) / channels
	block := 4 * sampleRate / 10
	hop := block / 4
	if block == 0 || total < block {
		block = total
		hop = total
	}
	if block == 0 {
		return -70, 0, -120
	}

	var levels []float64
	mix := make([]float64, total)
	var peak float64
	for i := 0; i < total; i++ {
		var sum float64
		for ch := 0; ch < channels; ch++ {
			v := float64(pcm[i*channels+ch])
			sum += v * v
			if a := math.Abs(v); a > peak {
				peak = a
			}
		}
		mix[i] = sum / float64(channels)
	}
	for start := 0; start+block <= total; start += hop {
		ms := floats.Sum(mix[start:start+block]) / float64(block)
		if ms > 0 {
			levels = append(levels, -0.691+10*math.Log10(ms))
		}
	}
	if len(levels) == 0 {
		return -70, 0, -120
	}

	// Absolute gate at -70 LUFS, then relative gate 10 LU under the
	// mean of the blocks that pass the absolute gate.
	gated := gate(levels, -70)
	if len(gated) == 0 {
		return -70, 0, dbfs(peak)
	}
	rel := meanEnergy(gated) - 10
	gated = gate(gated, rel)
	if len(gated) == 0 {
		return -70, 0, dbfs(peak)
	}
	lufs = meanEnergy(gated)

	// Loudness range from the 10th to 95th percentile of gated blocks.
	sorted := append([]float64(nil), gated...)
	sortFloats(sorted)
	lo := sorted[len(sorted)*10/100]
	hiIdx := len(sorted) * 95 / 100
	if hiIdx >= len(sorted) {
		hiIdx = len(sorted) - 1
	}
	hi := sorted[hiIdx]
	if hi > lo {
		rangeLU = hi - lo
	}
	return lufs, rangeLU, dbfs(peak)
}

func gate(levels []float64, threshold float64) []float64 {
	var out []float64
	for _, l := range levels {
		if l >= threshold {
			out = append(out, l)
		}
	}
	return out
}

// meanEnergy averages block levels in the energy domain.
func meanEnergy(levels []float64) float64 {
	var sum float64
	for _, l := range levels {
		sum += math.Pow(10, (l+0.691)/10)
	}
	return -0.691 + 10*math.Log10(sum/float64(len(levels)))
}

func dbfs(peak float64) float64 {
	if peak <= 0 {
		return -120
	}
	return 20 * math.Log10(peak)
}

func sortFloats(x []float64) {
	for i := 1; i < len(x); i++ {
		for j := i; j > 0 && x[j] < x[j-1]; j-- {
			x[j], x[j-1] = x[j-1], x[j]
		}
	}
}

// fingerprintBands is the number of log-spaced bands per analysis
// window in a spectrum fingerprint.
const fingerprintBands = 16

// SpectrumFingerprint condenses the signal into one byte per log-spaced
// band per analysis window: the band energy on a coarse dB scale.
func SpectrumFingerprint(pcm []float32, sampleRate, channels int) []byte {
	const fftSize = 2048
	total := len(pcm) / channels
	if total < fftSize {
		return nil
	}
	mono := make([]float64, total)
	for i := 0; i < total; i++ {
		var sum float64
		for ch := 0; ch < channels; ch++ {
			sum += float64(pcm[i*channels+ch])
		}
		mono[i] = sum / float64(channels)
	}

	win := window.Hann(fftSize)
	hop := sampleRate // one window per second
	var out []byte
	buf := make([]float64, fftSize)
	for start := 0; start+fftSize <= total; start += hop {
		for i := range buf {
			buf[i] = mono[start+i] * win[i]
		}
		spec := fft.FFTReal(buf)
		for band := 0; band < fingerprintBands; band++ {
			lo := bandEdge(band, fftSize/2)
			hi := bandEdge(band+1, fftSize/2)
			var e float64
			for i := lo; i < hi; i++ {
				e += real(spec[i])*real(spec[i]) + imag(spec[i])*imag(spec[i])
			}
			out = append(out, quantizeDB(e))
		}
	}
	return out
}

// bandEdge returns log-spaced bin edges over (0, max].
func bandEdge(band, max int) int {
	edge := int(math.Round(math.Pow(float64(max), float64(band)/fingerprintBands)))
	if edge < 1 {
		edge = 1
	}
	if edge > max {
		edge = max
	}
	return edge
}

// quantizeDB maps a band energy to one byte: 0.5 dB steps from -96 dB.
func quantizeDB(e float64) byte {
	if e <= 0 {
		return 0
	}
	db := 10*math.Log10(e) + 96
	v := int(math.Round(db * 2))
	if v < 0 {
		v = 0
	}
	if v > 255 {
		v = 255
	}
	return byte(v)
}
