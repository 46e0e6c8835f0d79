package flo

import (
	"bytes"
	"math"
	"math/rand"
	"reflect"
	"testing"

	"github.com/pkg/errors"

	"github.com/flo-audio/flo/container"
	"github.com/flo-audio/flo/meta"
)

func sineWave(secs float64, freq float64, rate, channels int, amp float64) []float32 {
	n := int(secs * float64(rate))
	pcm := make([]float32, n*channels)
	for i := 0; i < n; i++ {
		v := float32(amp * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
		for ch := 0; ch < channels; ch++ {
			pcm[i*channels+ch] = v
		}
	}
	return pcm
}

// requantize maps a float sample through the integer domain of the
// declared bit depth, the identity the lossless path preserves.
func requantize(f float32, bitDepth int) float32 {
	scale := float64(int64(1) << (bitDepth - 1))
	v := math.Round(float64(f) * scale)
	if v > scale-1 {
		v = scale - 1
	}
	if v < -scale {
		v = -scale
	}
	return float32(v / scale)
}

func psnr(ref, got []float32) float64 {
	var noise float64
	for i := range ref {
		d := float64(ref[i] - got[i])
		noise += d * d
	}
	if noise == 0 {
		return math.Inf(1)
	}
	return 10 * math.Log10(float64(len(ref))/noise)
}

// Scenario: one second of digital silence must collapse to a single
// silence frame in a tiny file.
func TestEncodeSilence(t *testing.T) {
	pcm := make([]float32, 44100)
	p := AudioParams{SampleRate: 44100, Channels: 1, BitDepth: 16}
	b, err := EncodeLossless(pcm, p, 5, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(b) > 200 {
		t.Errorf("silence file is %d bytes, expected at most 200", len(b))
	}
	ok, err := Validate(b)
	if err != nil || !ok {
		t.Fatalf("validate: %v %v", ok, err)
	}
	f, err := container.Parse(b)
	if err != nil {
		t.Fatal(err)
	}
	if len(f.TOC) != 1 || f.Data[f.TOC[0].ByteOffset] != 0 {
		t.Error("expected a single silence frame")
	}
	res, err := Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalSamples != 44100 {
		t.Fatalf("decoded %d samples, want 44100", res.TotalSamples)
	}
	for i, v := range res.PCM {
		if v != 0 {
			t.Fatalf("sample %d: got %v, want 0", i, v)
		}
	}
}

// Scenario: a two-second sine must produce predictive frames and decode
// bit-exactly after requantization.
func TestLosslessSineRoundTrip(t *testing.T) {
	p := AudioParams{SampleRate: 44100, Channels: 1, BitDepth: 16}
	pcm := sineWave(2, 440, p.SampleRate, 1, 0.8)
	b, err := EncodeLossless(pcm, p, 5, nil)
	if err != nil {
		t.Fatal(err)
	}
	f, err := container.Parse(b)
	if err != nil {
		t.Fatal(err)
	}
	if len(f.TOC) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(f.TOC))
	}
	for i, e := range f.TOC {
		typ := f.Data[e.ByteOffset]
		if typ < 1 || typ > 12 {
			t.Errorf("frame %d: type %d is not a predictor order", i, typ)
		}
	}
	res, err := Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	for i := range pcm {
		if res.PCM[i] != requantize(pcm[i], 16) {
			t.Fatalf("sample %d: got %v, want %v", i, res.PCM[i], requantize(pcm[i], 16))
		}
	}
}

// Scenario: independent stereo sines survive losslessly in interleaved
// order.
func TestLosslessStereo(t *testing.T) {
	p := AudioParams{SampleRate: 48000, Channels: 2, BitDepth: 16}
	n := p.SampleRate
	pcm := make([]float32, n*2)
	for i := 0; i < n; i++ {
		pcm[i*2] = float32(0.8 * math.Sin(2*math.Pi*440*float64(i)/float64(p.SampleRate)))
		pcm[i*2+1] = float32(0.8 * math.Sin(2*math.Pi*554.37*float64(i)/float64(p.SampleRate)))
	}
	b, err := EncodeLossless(pcm, p, 5, nil)
	if err != nil {
		t.Fatal(err)
	}
	res, err := Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if res.Channels != 2 || res.TotalSamples != n {
		t.Fatalf("decoded %d samples x%d channels", res.TotalSamples, res.Channels)
	}
	for i := range pcm {
		if res.PCM[i] != requantize(pcm[i], 16) {
			t.Fatalf("sample %d: got %v, want %v", i, res.PCM[i], requantize(pcm[i], 16))
		}
	}

	// The lossy path handles the same input within perceptual bounds.
	lb, err := EncodeLossy(pcm, p, QualityHigh, nil)
	if err != nil {
		t.Fatal(err)
	}
	lres, err := Decode(lb)
	if err != nil {
		t.Fatal(err)
	}
	if len(lres.PCM) != len(pcm) {
		t.Fatalf("lossy decoded %d samples, want %d", len(lres.PCM), len(pcm))
	}
	if got := psnr(pcm, lres.PCM); got < 20 {
		t.Errorf("lossy stereo PSNR %.1f dB below bound", got)
	}
}

// Scenario: broadband noise at the High preset must compress well; with
// 16-bit sparse coefficients the size bound wins over fidelity, so the
// fidelity floor here is modest.
func TestLossyNoiseCompression(t *testing.T) {
	p := AudioParams{SampleRate: 44100, Channels: 1, BitDepth: 16}
	rng := rand.New(rand.NewSource(7))
	n := 3 * p.SampleRate
	pcm := make([]float32, n)
	for i := range pcm {
		pcm[i] = float32(rng.Float64() - 0.5)
	}
	b, err := EncodeLossy(pcm, p, QualityHigh, nil)
	if err != nil {
		t.Fatal(err)
	}
	raw := n * 2
	if len(b)*4 > raw {
		t.Errorf("compression ratio %.2f below 4", float64(raw)/float64(len(b)))
	}
	res, err := Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if got := psnr(pcm, res.PCM); got < 10 {
		t.Errorf("noise PSNR %.1f dB below floor", got)
	}
}

// Transparent quality must stay above 60 dB PSNR on a strong sine.
func TestLossyTransparentSine(t *testing.T) {
	p := AudioParams{SampleRate: 44100, Channels: 1, BitDepth: 16}
	pcm := sineWave(1, 440, p.SampleRate, 1, 0.5) // -6 dBFS
	b, err := EncodeLossy(pcm, p, QualityTransparent, nil)
	if err != nil {
		t.Fatal(err)
	}
	res, err := Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if got := psnr(pcm, res.PCM); got < 60 {
		t.Errorf("transparent PSNR %.1f dB below 60", got)
	}
}

// File size must grow strictly with the quality preset.
func TestLossyPresetSizeOrdering(t *testing.T) {
	p := AudioParams{SampleRate: 44100, Channels: 1, BitDepth: 16}
	rng := rand.New(rand.NewSource(11))
	pcm := make([]float32, 2*p.SampleRate)
	for i := range pcm {
		pcm[i] = float32(rng.Float64() - 0.5)
	}
	presets := []float64{QualityLow, QualityMedium, QualityHigh, QualityVeryHigh, QualityTransparent}
	var sizes []int
	for _, q := range presets {
		b, err := EncodeLossy(pcm, p, q, nil)
		if err != nil {
			t.Fatal(err)
		}
		sizes = append(sizes, len(b))
	}
	for i := 1; i < len(sizes); i++ {
		if sizes[i] <= sizes[i-1] {
			t.Errorf("size ordering violated at preset %d: %v", i, sizes)
		}
	}
}

// Scenario: metadata edits must leave DATA untouched byte for byte.
func TestUpdateMetadataLeavesAudioAlone(t *testing.T) {
	p := AudioParams{SampleRate: 44100, Channels: 1, BitDepth: 16}
	n := 5 * p.SampleRate
	pcm := make([]float32, n)
	for i := range pcm {
		// 20 Hz to 20 kHz sweep.
		f0, f1 := 20.0, 20000.0
		tt := float64(i) / float64(n)
		phase := 2 * math.Pi * float64(n) / float64(p.SampleRate) * (f0*tt + (f1-f0)*tt*tt/2)
		pcm[i] = float32(0.6 * math.Sin(phase))
	}
	orig, err := EncodeLossless(pcm, p, 5, nil)
	if err != nil {
		t.Fatal(err)
	}
	md := &meta.Metadata{Title: "Sweep", Artist: "Test", BPM: 120}
	updated, err := UpdateMetadata(orig, md)
	if err != nil {
		t.Fatal(err)
	}

	fo, err := container.Parse(orig)
	if err != nil {
		t.Fatal(err)
	}
	fu, err := container.Parse(updated)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(fo.Data, fu.Data) {
		t.Fatal("DATA changed across a metadata update")
	}
	if !reflect.DeepEqual(fo.TOC, fu.TOC) {
		t.Fatal("TOC changed across a metadata update")
	}
	ho, hu := fo.Header, fu.Header
	ho.MetaSize, hu.MetaSize = 0, 0
	if ho != hu {
		t.Errorf("header fields beyond meta_size changed: %+v vs %+v", fo.Header, fu.Header)
	}

	got, err := ReadMetadata(updated)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Sweep" || got.Artist != "Test" || got.BPM != 120 {
		t.Errorf("metadata mismatch: %+v", got)
	}

	do, err := Decode(orig)
	if err != nil {
		t.Fatal(err)
	}
	du, err := Decode(updated)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(do.PCM, du.PCM) {
		t.Error("audio decodes differently after a metadata update")
	}
}

func TestMetadataThroughEncode(t *testing.T) {
	p := AudioParams{SampleRate: 44100, Channels: 1, BitDepth: 16}
	pcm := sineWave(1, 440, p.SampleRate, 1, 0.4)
	md := &meta.Metadata{
		Title: "tagged",
		BPM:   90,
		Extra: map[string]interface{}{"session": int64(7)},
	}
	b, err := EncodeLossy(pcm, p, QualityMedium, md)
	if err != nil {
		t.Fatal(err)
	}
	has, err := HasMetadata(b)
	if err != nil || !has {
		t.Fatalf("has metadata: %v %v", has, err)
	}
	got, err := ReadMetadata(b)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != md.Title || got.BPM != md.BPM || !reflect.DeepEqual(got.Extra, md.Extra) {
		t.Errorf("metadata mismatch: %+v", got)
	}

	stripped, err := StripMetadata(b)
	if err != nil {
		t.Fatal(err)
	}
	has, err = HasMetadata(stripped)
	if err != nil || has {
		t.Fatalf("metadata survived strip: %v %v", has, err)
	}
	// Stripping is idempotent byte for byte.
	again, err := StripMetadata(stripped)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(stripped, again) {
		t.Error("strip_metadata is not idempotent")
	}
}

func TestValidateDetectsDataFlips(t *testing.T) {
	p := AudioParams{SampleRate: 44100, Channels: 1, BitDepth: 16}
	pcm := sineWave(1, 440, p.SampleRate, 1, 0.8)
	b, err := EncodeLossless(pcm, p, 5, nil)
	if err != nil {
		t.Fatal(err)
	}
	ok, err := Validate(b)
	if err != nil || !ok {
		t.Fatalf("fresh file fails validation: %v %v", ok, err)
	}
	f, err := container.Parse(b)
	if err != nil {
		t.Fatal(err)
	}
	dataStart := len(b) - len(f.Meta) - len(f.Extra) - len(f.Data)
	for _, off := range []int{0, len(f.Data) / 2, len(f.Data) - 1} {
		mangled := append([]byte(nil), b...)
		mangled[dataStart+off] ^= 0x01
		ok, err := Validate(mangled)
		if err != nil {
			t.Fatalf("offset %d: %v", off, err)
		}
		if ok {
			t.Errorf("flip at DATA offset %d not detected", off)
		}
	}
}

func TestHeaderAndTOCInvariants(t *testing.T) {
	p := AudioParams{SampleRate: 44100, Channels: 2, BitDepth: 16}
	pcm := sineWave(2.5, 330, p.SampleRate, 2, 0.7)
	b, err := EncodeLossless(pcm, p, 3, nil)
	if err != nil {
		t.Fatal(err)
	}
	f, err := container.Parse(b)
	if err != nil {
		t.Fatal(err)
	}
	h := f.Header
	total := uint64(len(container.Magic)) + container.HeaderSize + h.TOCSize + h.DataSize + h.ExtraSize + h.MetaSize
	if total != uint64(len(b)) {
		t.Errorf("file length invariant broken: %d declared, %d actual", total, len(b))
	}
	// TOC entries partition DATA exactly.
	var off uint64
	for i, e := range f.TOC {
		if uint64(e.FrameIndex) != uint64(i) {
			t.Errorf("entry %d: frame index %d", i, e.FrameIndex)
		}
		if e.ByteOffset != off {
			t.Errorf("entry %d: offset %d, want %d", i, e.ByteOffset, off)
		}
		if e.TimestampMS != uint32(i*1000) {
			t.Errorf("entry %d: timestamp %d", i, e.TimestampMS)
		}
		off += uint64(e.FrameSize)
	}
	if off != h.DataSize {
		t.Errorf("TOC covers %d of %d DATA bytes", off, h.DataSize)
	}
	if h.TotalFrames != uint64(len(f.TOC)) {
		t.Errorf("total_frames %d disagrees with %d TOC entries", h.TotalFrames, len(f.TOC))
	}
}

func TestInfo(t *testing.T) {
	p := AudioParams{SampleRate: 44100, Channels: 1, BitDepth: 16}
	pcm := sineWave(1.5, 440, p.SampleRate, 1, 0.8)
	b, err := EncodeLossy(pcm, p, QualityHigh, nil)
	if err != nil {
		t.Fatal(err)
	}
	info, err := Info(b)
	if err != nil {
		t.Fatal(err)
	}
	if info.SampleRate != 44100 || info.Channels != 1 || info.BitDepth != 16 {
		t.Errorf("info parameters: %+v", info)
	}
	if !info.IsLossy || info.LossyQuality != QualityHigh {
		t.Errorf("lossy summary: %+v", info)
	}
	if info.TotalSamples != len(pcm) {
		t.Errorf("total samples %d, want %d", info.TotalSamples, len(pcm))
	}
	if math.Abs(info.DurationSecs-1.5) > 1e-9 {
		t.Errorf("duration %v, want 1.5", info.DurationSecs)
	}
	if info.CompressionRatio <= 1 {
		t.Errorf("implausible compression ratio %v", info.CompressionRatio)
	}
}

func TestUnsupportedParameters(t *testing.T) {
	pcm := make([]float32, 8000)
	golden := []AudioParams{
		{SampleRate: 4000, Channels: 1, BitDepth: 16},
		{SampleRate: 400000, Channels: 1, BitDepth: 16},
		{SampleRate: 44100, Channels: 3, BitDepth: 16},
		{SampleRate: 44100, Channels: 0, BitDepth: 16},
		{SampleRate: 44100, Channels: 1, BitDepth: 12},
	}
	for _, p := range golden {
		if _, err := EncodeLossless(pcm, p, 5, nil); errors.Cause(err) != ErrUnsupportedParameter {
			t.Errorf("%+v: expected ErrUnsupportedParameter, got %v", p, err)
		}
	}
	// Ragged interleaving.
	p := AudioParams{SampleRate: 44100, Channels: 2, BitDepth: 16}
	if _, err := EncodeLossless(pcm[:7999], p, 5, nil); errors.Cause(err) != ErrUnsupportedParameter {
		t.Errorf("odd stereo length: got %v", err)
	}
}

func TestQualityForBitrate(t *testing.T) {
	golden := []struct {
		kbps, rate, channels int
		want                 float64
	}{
		{kbps: 128, rate: 44100, channels: 2, want: 0.1 + 0.85*128000/(44100.0*2*16)},
		{kbps: 1, rate: 192000, channels: 2, want: 0.1 + 0.85*1000/(192000.0*2*16)},
		{kbps: 10000, rate: 8000, channels: 1, want: 0.99},
	}
	for _, g := range golden {
		got := QualityForBitrate(g.kbps, g.rate, g.channels)
		if math.Abs(got-g.want) > 1e-12 {
			t.Errorf("QualityForBitrate(%d, %d, %d) = %v, want %v", g.kbps, g.rate, g.channels, got, g.want)
		}
	}

	p := AudioParams{SampleRate: 44100, Channels: 1, BitDepth: 16}
	pcm := sineWave(1, 440, p.SampleRate, 1, 0.5)
	b, err := EncodeWithBitrate(pcm, p, 96, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Decode(b); err != nil {
		t.Fatal(err)
	}
}
