package dsp

import (
	"math"

	"github.com/mjibson/go-dsp/fft"
)

// Masking model constants. Spreading is a two-slope function in dB per
// Bark: energy masks upward (toward higher bands) more strongly than
// downward.
const (
	spreadUpDB   = 10.0
	spreadDownDB = 25.0
	// Reference level assigned to a full-scale signal when evaluating
	// the absolute threshold of hearing.
	fullScaleDB = 96.0
)

// athDB returns the absolute threshold of hearing in dB SPL at frequency
// f Hz (Terhardt's approximation).
func athDB(f float64) float64 {
	khz := f / 1000
	if khz < 0.02 {
		khz = 0.02
	}
	return 3.64*math.Pow(khz, -0.8) -
		6.5*math.Exp(-0.6*(khz-3.3)*(khz-3.3)) +
		1e-3*math.Pow(khz, 4)
}

// Tonality estimates how tonal a block is from the spectral flatness of
// its windowed input, returning 0 (noise-like) through 1 (pure tone).
func Tonality(windowed []float64) float64 {
	spec := fft.FFTReal(windowed)
	n := len(spec) / 2
	if n < 2 {
		return 0
	}
	var logSum, sum float64
	for i := 1; i < n; i++ {
		p := real(spec[i])*real(spec[i]) + imag(spec[i])*imag(spec[i])
		if p < 1e-30 {
			p = 1e-30
		}
		logSum += math.Log(p)
		sum += p
	}
	geo := math.Exp(logSum / float64(n-1))
	arith := sum / float64(n-1)
	if arith <= 0 {
		return 0
	}
	sfmDB := 10 * math.Log10(geo/arith)
	t := sfmDB / -60
	if t > 1 {
		t = 1
	}
	if t < 0 {
		t = 0
	}
	return t
}

// Thresholds computes the per-band masking thresholds of a coefficient
// block: spread band energies offset by a tonality-dependent margin,
// floored by the absolute threshold of hearing.
func Thresholds(coeffs []float64, b *Bands, tonality float64) [NumBands]float64 {
	var energy [NumBands]float64
	for band := 0; band < NumBands; band++ {
		var e float64
		for j := b.Edge[band]; j < b.Edge[band+1]; j++ {
			e += coeffs[j] * coeffs[j]
		}
		energy[band] = e
	}

	var thresh [NumBands]float64
	for band := 0; band < NumBands; band++ {
		var masked float64
		for src := 0; src < NumBands; src++ {
			d := float64(band - src)
			var attDB float64
			if d >= 0 {
				attDB = spreadUpDB * d
			} else {
				attDB = spreadDownDB * -d
			}
			masked += energy[src] * math.Pow(10, -attDB/10)
		}
		// Tonal maskers mask less than noise maskers; the offset grows
		// with band index following Johnston's model.
		offsetDB := tonality*(14.5+float64(band)) + (1-tonality)*5.5
		t := masked * math.Pow(10, -offsetDB/10)

		mid := (b.Edge[band] + b.Edge[band+1]) / 2
		if mid >= b.NumCoeffs {
			mid = b.NumCoeffs - 1
		}
		f := CoeffFreq(mid, b.NumCoeffs, b.SampleRate)
		ath := math.Pow(10, (athDB(f)-fullScaleDB)/10) * float64(b.NumCoeffs)
		if t < ath {
			t = ath
		}
		thresh[band] = t
	}
	return thresh
}

// quantizerAnchors pins the quality-to-step-multiplier curve. The low
// end stays gentle so every preset still captures structure, while the
// top end drops fast enough for transparent coding of tonal material.
var quantizerAnchors = []struct{ q, mult float64 }{
	{0.00, 8},
	{0.10, 4},
	{0.30, 1.8},
	{0.55, 0.9},
	{0.75, 0.08},
	{0.95, 0.0038},
	{1.00, 0.002},
}

// GlobalQuantizer maps the quality knob in [0,1] to the global step
// multiplier; higher quality yields a smaller multiplier and therefore
// finer quantization. Between anchors the multiplier interpolates
// log-linearly.
func GlobalQuantizer(quality float64) float64 {
	if quality <= 0 {
		return quantizerAnchors[0].mult
	}
	if quality >= 1 {
		return quantizerAnchors[len(quantizerAnchors)-1].mult
	}
	for i := 1; i < len(quantizerAnchors); i++ {
		lo, hi := quantizerAnchors[i-1], quantizerAnchors[i]
		if quality <= hi.q {
			t := (quality - lo.q) / (hi.q - lo.q)
			return lo.mult * math.Pow(hi.mult/lo.mult, t)
		}
	}
	return quantizerAnchors[len(quantizerAnchors)-1].mult
}

// StepSizes converts masking thresholds to per-band quantizer steps.
func StepSizes(thresh [NumBands]float64, quality float64) [NumBands]float64 {
	q := GlobalQuantizer(quality)
	var steps [NumBands]float64
	for band, t := range thresh {
		s := math.Sqrt(t) * q
		if s < 1e-9 {
			s = 1e-9
		}
		steps[band] = s
	}
	return steps
}

// EncodeScale stores a quantizer step in the 8.8 fixed-point log domain
// used on the wire.
func EncodeScale(s float64) uint16 {
	x := math.Round(math.Log2(s)*256 + 32768)
	if x < 0 {
		x = 0
	}
	if x > 65535 {
		x = 65535
	}
	return uint16(x)
}

// DecodeScale is the inverse of EncodeScale.
func DecodeScale(u uint16) float64 {
	return math.Pow(2, (float64(u)-32768)/256)
}
