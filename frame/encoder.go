package frame

import (
	"bytes"
	"math"

	"github.com/pkg/errors"

	"github.com/flo-audio/flo/internal/dsp"
)

// An Encoder turns an interleaved PCM buffer into frame records. The
// lossless path treats every frame independently; the transform path
// carries block scheduling state across frames, so frames must be
// encoded in index order.
type Encoder struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Lossy      bool
	Level      int     // lossless predictor order search depth, 0-9
	Quality    float64 // transform quality, 0-1

	pcm   []float32
	total int // samples per channel

	// Transform scheduling state.
	sig       [][]float64       // per-channel signal with leading priming
	kinds     [][]dsp.BlockKind // per-channel slot kinds
	slotsDone int
}

// NumFrames returns the number of one-second frames covering total
// samples per channel.
func NumFrames(total, sampleRate int) int {
	return (total + sampleRate - 1) / sampleRate
}

// NewLosslessEncoder prepares a predictive-path encoder. level 0-9
// bounds the predictor order search.
func NewLosslessEncoder(pcm []float32, sampleRate, channels, bitDepth, level int) *Encoder {
	if level < 0 {
		level = 0
	}
	if level > 9 {
		level = 9
	}
	return &Encoder{
		SampleRate: sampleRate,
		Channels:   channels,
		BitDepth:   bitDepth,
		Level:      level,
		pcm:        pcm,
		total:      len(pcm) / channels,
	}
}

// NewLossyEncoder prepares a transform-path encoder with the given
// quality in [0, 1].
func NewLossyEncoder(pcm []float32, sampleRate, channels, bitDepth int, quality float64) *Encoder {
	e := &Encoder{
		SampleRate: sampleRate,
		Channels:   channels,
		BitDepth:   bitDepth,
		Lossy:      true,
		Quality:    quality,
		pcm:        pcm,
		total:      len(pcm) / channels,
	}
	e.sig = make([][]float64, channels)
	e.kinds = make([][]dsp.BlockKind, channels)
	slots := (dsp.SlotSize + e.total + dsp.SlotSize - 1) / dsp.SlotSize
	for ch := 0; ch < channels; ch++ {
		sig := make([]float64, dsp.SlotSize+e.total)
		for i := 0; i < e.total; i++ {
			sig[dsp.SlotSize+i] = float64(pcm[i*channels+ch])
		}
		e.sig[ch] = sig
		e.kinds[ch] = scheduleBlocks(sig, slots)
	}
	return e
}

// transientEnergyFloor keeps near-silent wobble from forcing short
// blocks.
const (
	transientRatio       = 3.0
	transientEnergyFloor = 0.01
)

// scheduleBlocks decides the block kind of every slot from the
// short-term energy profile of the signal: a transient slot becomes a
// run of short blocks, its neighbors the matching start and stop
// transitions.
func scheduleBlocks(sig []float64, slots int) []dsp.BlockKind {
	flags := make([]bool, slots)
	sub := dsp.ShortSize
	for s := 1; s < slots; s++ {
		base := s * dsp.SlotSize
		prev := -1.0
		for j := 0; j < dsp.LongSize/sub; j++ {
			var e float64
			for i := base + j*sub; i < base+(j+1)*sub && i < len(sig); i++ {
				e += sig[i] * sig[i]
			}
			if prev >= 0 && e > transientRatio*prev && e > transientEnergyFloor {
				flags[s] = true
				break
			}
			prev = e
		}
	}
	// A lone long slot between two transient runs cannot be both a stop
	// and a start; extend the run across it.
	for s := 1; s < slots-1; s++ {
		if flags[s-1] && !flags[s] && flags[s+1] {
			flags[s] = true
		}
	}

	kinds := make([]dsp.BlockKind, slots)
	for s := range kinds {
		switch {
		case flags[s]:
			kinds[s] = dsp.KindShort
		case s+1 < slots && flags[s+1]:
			kinds[s] = dsp.KindStart
		case s > 0 && flags[s-1]:
			kinds[s] = dsp.KindStop
		default:
			kinds[s] = dsp.KindLong
		}
	}
	return kinds
}

// EncodeFrame encodes frame index f and returns its record bytes.
func (e *Encoder) EncodeFrame(f int) ([]byte, error) {
	start := f * e.SampleRate
	end := start + e.SampleRate
	if end > e.total {
		end = e.total
	}
	if start >= end {
		return nil, errors.Errorf("frame: no samples for frame %d", f)
	}
	ns := end - start

	if e.Lossy {
		return e.encodeTransformFrame(start, end)
	}

	// Silence short-circuits the predictor search.
	silent := true
	for i := start * e.Channels; i < end*e.Channels; i++ {
		if math.Abs(float64(e.pcm[i])) >= silenceThreshold {
			silent = false
			break
		}
	}
	if silent {
		return renderFrame(TypeSilence, uint32(ns), make([][]byte, e.Channels)), nil
	}

	chans := make([][]int32, e.Channels)
	for ch := range chans {
		samples := make([]int32, ns)
		for i := range samples {
			samples[i] = quantizeSample(e.pcm[(start+i)*e.Channels+ch], e.BitDepth)
		}
		chans[ch] = samples
	}

	maxOrder := 3 + e.Level
	cands := make([]*alpcCandidate, e.Channels)
	frameType := 1
	allRaw := true
	rawSize := (ns*e.BitDepth + 7) / 8
	for ch, samples := range chans {
		cands[ch] = analyzeChannel(samples, e.BitDepth, maxOrder)
		if n := len(cands[ch].coeffs); n > frameType {
			frameType = n
		}
		if cands[ch].cost < rawSize {
			allRaw = false
		}
	}
	if allRaw {
		payloads := make([][]byte, e.Channels)
		for ch, samples := range chans {
			payloads[ch] = encodeRawChannel(samples, e.BitDepth)
		}
		return renderFrame(TypeRaw, uint32(ns), payloads), nil
	}

	payloads := make([][]byte, e.Channels)
	for ch, cand := range cands {
		p, err := encodeALPCChannel(cand, e.BitDepth)
		if err != nil {
			return nil, err
		}
		payloads[ch] = p
	}
	return renderFrame(uint8(frameType), uint32(ns), payloads), nil
}

// encodeTransformFrame emits every slot the decoder needs to have this
// frame's samples fully synthesized, which may reach into the next
// frame's input.
func (e *Encoder) encodeTransformFrame(start, end int) ([]byte, error) {
	slotsNeeded := (dsp.SlotSize + end + dsp.SlotSize - 1) / dsp.SlotSize
	payloads := make([][]byte, e.Channels)
	for ch := 0; ch < e.Channels; ch++ {
		buf := new(bytes.Buffer)
		for slot := e.slotsDone; slot < slotsNeeded; slot++ {
			kind := e.kinds[ch][slot]
			bands := dsp.BandsFor(e.SampleRate, kind.NumCoeffs())
			for _, off := range dsp.BlockOffsets(kind) {
				encodeBlock(buf, e.sig[ch], slot*dsp.SlotSize+off, kind, bands, e.Quality)
			}
		}
		payloads[ch] = buf.Bytes()
	}
	e.slotsDone = slotsNeeded
	return renderFrame(TypeTransform, uint32(end-start), payloads), nil
}

// encodeRawChannel packs integer samples at the declared bit depth,
// little-endian.
func encodeRawChannel(samples []int32, bitDepth int) []byte {
	w := bitDepth / 8
	out := make([]byte, len(samples)*w)
	for i, s := range samples {
		u := uint32(s)
		for b := 0; b < w; b++ {
			out[i*w+b] = byte(u >> (8 * b))
		}
	}
	return out
}

// decodeRawChannel is the inverse of encodeRawChannel.
func decodeRawChannel(payload []byte, nsamples, bitDepth int) ([]int32, error) {
	w := bitDepth / 8
	if len(payload) != nsamples*w {
		return nil, errors.Wrapf(ErrChannelSizeMismatch, "raw payload %d bytes, want %d", len(payload), nsamples*w)
	}
	samples := make([]int32, nsamples)
	for i := range samples {
		var u uint32
		for b := 0; b < w; b++ {
			u |= uint32(payload[i*w+b]) << (8 * b)
		}
		samples[i] = int32(int64(binarySignExtend(u, bitDepth)))
	}
	return samples, nil
}

func binarySignExtend(u uint32, bitDepth int) int32 {
	shift := 32 - bitDepth
	return int32(u<<shift) >> shift
}
