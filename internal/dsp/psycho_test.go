package dsp

import (
	"math"
	"testing"
)

func TestBandsPartition(t *testing.T) {
	for _, g := range []struct {
		rate, m int
	}{
		{rate: 44100, m: 1024},
		{rate: 44100, m: 128},
		{rate: 8000, m: 1024},
		{rate: 192000, m: 1024},
	} {
		b := BandsFor(g.rate, g.m)
		if b.Edge[0] != 0 || b.Edge[NumBands] != g.m {
			t.Fatalf("rate=%d m=%d: edges do not span the spectrum: %v", g.rate, g.m, b.Edge)
		}
		for band := 0; band < NumBands; band++ {
			if b.Edge[band] > b.Edge[band+1] {
				t.Fatalf("rate=%d m=%d: edges not monotonic at band %d", g.rate, g.m, band)
			}
		}
	}
}

func TestScaleRoundTrip(t *testing.T) {
	for _, s := range []float64{1e-6, 0.001, 0.5, 1, 2, 37.5, 4096} {
		u := EncodeScale(s)
		got := DecodeScale(u)
		// 8.8 log coding resolves steps to within 1/256 of an octave.
		if math.Abs(math.Log2(got/s)) > 1.0/256 {
			t.Errorf("scale %v: decoded %v outside log tolerance", s, got)
		}
	}
}

func TestTonalityRange(t *testing.T) {
	win := Window(KindLong)
	tone := make([]float64, LongSize)
	noise := make([]float64, LongSize)
	for i := range tone {
		tone[i] = win[i] * math.Sin(2*math.Pi*440*float64(i)/44100)
		noise[i] = win[i] * math.Sin(float64(i*i%977)) // decorrelated filler
	}
	tt := Tonality(tone)
	tn := Tonality(noise)
	if tt < 0 || tt > 1 || tn < 0 || tn > 1 {
		t.Fatalf("tonality out of range: tone=%v noise=%v", tt, tn)
	}
	if tt <= tn {
		t.Errorf("pure tone should rank more tonal than noise: tone=%v noise=%v", tt, tn)
	}
}

func TestStepSizesQualityMonotonic(t *testing.T) {
	b := BandsFor(44100, 1024)
	coeffs := make([]float64, 1024)
	for i := range coeffs {
		coeffs[i] = math.Sin(float64(i) / 7)
	}
	thresh := Thresholds(coeffs, b, 0.5)
	for band, v := range thresh {
		if v <= 0 {
			t.Fatalf("band %d: non-positive threshold %v", band, v)
		}
	}
	low := StepSizes(thresh, 0.10)
	high := StepSizes(thresh, 0.95)
	for band := range low {
		if high[band] >= low[band] {
			t.Errorf("band %d: higher quality must shrink the step (%v vs %v)", band, high[band], low[band])
		}
	}
}
