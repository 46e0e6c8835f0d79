package frame

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"github.com/flo-audio/flo/internal/dsp"
)

// Transform channel payloads are a concatenation of block records; a
// transient slot always contributes eight consecutive short records.
//
// Block record format (pseudo code):
//
//	type BLOCK struct {
//	   block_kind    uint8      // 0: long, 1: short, 2: start, 3: stop.
//	   scale_factors [25]uint16 // quantizer steps, 8.8 log2 coded.
//	   coeff_len     uint32
//	   coeffs        [coeff_len]uint8 // sparse run-length stream.
//	}
//
// The coefficient stream is groups of a LEB128 zero-run count, a uint8
// nonzero count and that many little-endian int16 values; coefficients
// after the last group are zero.

// encodeRLE serializes quantized coefficients as a sparse run-length
// stream, dropping the trailing zero run.
func encodeRLE(q []int16) []byte {
	var out []byte
	i := 0
	for i < len(q) {
		run := 0
		for i+run < len(q) && q[i+run] == 0 {
			run++
		}
		if i+run == len(q) {
			break
		}
		out = binary.AppendUvarint(out, uint64(run))
		i += run
		count := 0
		for i+count < len(q) && q[i+count] != 0 && count < 255 {
			count++
		}
		out = append(out, uint8(count))
		for j := 0; j < count; j++ {
			out = binary.LittleEndian.AppendUint16(out, uint16(q[i+j]))
		}
		i += count
	}
	return out
}

// decodeRLE expands a sparse run-length stream into m coefficients.
func decodeRLE(b []byte, m int) ([]int16, error) {
	q := make([]int16, m)
	pos := 0
	for len(b) > 0 {
		run, n := binary.Uvarint(b)
		if n <= 0 {
			return nil, errors.Wrap(ErrTruncatedBitstream, "zero run")
		}
		b = b[n:]
		if run > uint64(m) {
			return nil, errors.Wrapf(ErrTransformOverflow, "zero run %d into %d", run, m)
		}
		pos += int(run)
		if pos > m {
			return nil, errors.Wrapf(ErrTransformOverflow, "%d coefficients into %d", pos, m)
		}
		if len(b) == 0 {
			return nil, errors.Wrap(ErrTruncatedBitstream, "nonzero count")
		}
		count := int(b[0])
		b = b[1:]
		if pos+count > m {
			return nil, errors.Wrapf(ErrTransformOverflow, "%d coefficients into %d", pos+count, m)
		}
		if len(b) < 2*count {
			return nil, errors.Wrap(ErrTruncatedBitstream, "coefficient values")
		}
		for j := 0; j < count; j++ {
			q[pos+j] = int16(binary.LittleEndian.Uint16(b[2*j:]))
		}
		b = b[2*count:]
		pos += count
	}
	return q, nil
}

// encodeBlock transforms one windowed block position of the channel
// signal and appends its record to buf.
func encodeBlock(buf *bytes.Buffer, sig []float64, pos int, kind dsp.BlockKind, bands *dsp.Bands, quality float64) {
	size := kind.Size()
	win := dsp.Window(kind)
	block := make([]float64, size)
	windowed := make([]float64, size)
	for i := 0; i < size; i++ {
		if p := pos + i; p >= 0 && p < len(sig) {
			block[i] = sig[p]
			windowed[i] = sig[p] * win[i]
		}
	}
	coeffs := dsp.Mdct(block, win)
	tonality := dsp.Tonality(windowed)
	steps := dsp.StepSizes(dsp.Thresholds(coeffs, bands, tonality), quality)

	m := kind.NumCoeffs()
	q := make([]int16, m)
	var scales [dsp.NumBands]uint16
	for band := 0; band < dsp.NumBands; band++ {
		lo, hi := bands.Edge[band], bands.Edge[band+1]
		code := dsp.EncodeScale(steps[band])
		for {
			step := dsp.DecodeScale(code)
			ok := true
			for j := lo; j < hi; j++ {
				v := math.Round(coeffs[j] / step)
				if v > math.MaxInt16 {
					v = math.MaxInt16
					ok = false
				} else if v < math.MinInt16 {
					v = math.MinInt16
					ok = false
				}
				q[j] = int16(v)
			}
			if ok || code > math.MaxUint16-256 {
				break
			}
			// Coarsen this band one octave until everything fits.
			code += 256
		}
		scales[band] = code
	}

	buf.WriteByte(uint8(kind))
	for _, s := range scales {
		var w [2]byte
		binary.LittleEndian.PutUint16(w[:], s)
		buf.Write(w[:])
	}
	rle := encodeRLE(q)
	var w [4]byte
	binary.LittleEndian.PutUint32(w[:], uint32(len(rle)))
	buf.Write(w[:])
	buf.Write(rle)
}

// transformDecoder holds the per-channel synthesis state that persists
// across frames: the overlap-add accumulator, the flushed-sample queue
// and the priming discard counter.
type transformDecoder struct {
	acc     []float64
	fifo    []float64
	discard int
	shorts  int // short blocks seen in the current slot
}

func newTransformDecoder() *transformDecoder {
	return &transformDecoder{
		acc:     make([]float64, 3*dsp.SlotSize),
		discard: dsp.SlotSize,
	}
}

// addBlock decodes one block record body into the accumulator and
// reports whether it completed a slot.
func (td *transformDecoder) addBlock(kind dsp.BlockKind, coeffs []float64) bool {
	win := dsp.Window(kind)
	off := 0
	done := true
	if kind == dsp.KindShort {
		off = dsp.ShortOffset + td.shorts*dsp.ShortSize/2
		td.shorts++
		if td.shorts < dsp.ShortPerSlot {
			done = false
		} else {
			td.shorts = 0
		}
	}
	y := dsp.Imdct(coeffs, win)
	for i, v := range y {
		td.acc[off+i] += v
	}
	return done
}

// flushSlot moves one slot of completed samples from the accumulator to
// the queue, minus any remaining priming discard.
func (td *transformDecoder) flushSlot() {
	out := td.acc[:dsp.SlotSize]
	skip := td.discard
	if skip > len(out) {
		skip = len(out)
	}
	td.fifo = append(td.fifo, out[skip:]...)
	td.discard -= skip
	copy(td.acc, td.acc[dsp.SlotSize:])
	tail := td.acc[len(td.acc)-dsp.SlotSize:]
	for i := range tail {
		tail[i] = 0
	}
}

// decodeTransformChannel parses one channel's block records, advancing
// the channel synthesis state, and pops nsamples reconstructed samples.
func decodeTransformChannel(td *transformDecoder, payload []byte, nsamples, sampleRate int) ([]float64, error) {
	for len(payload) > 0 {
		kind := dsp.BlockKind(payload[0])
		if kind > dsp.KindStop {
			return nil, errors.Wrapf(ErrUnknownFrameType, "block kind %d", kind)
		}
		if td.shorts != 0 && kind != dsp.KindShort {
			return nil, errors.Wrapf(ErrTruncatedBitstream, "short run interrupted by %v block", kind)
		}
		m := kind.NumCoeffs()
		need := 1 + 2*dsp.NumBands + 4
		if len(payload) < need {
			return nil, errors.Wrap(ErrTruncatedBitstream, "block record header")
		}
		var steps [dsp.NumBands]float64
		for band := 0; band < dsp.NumBands; band++ {
			steps[band] = dsp.DecodeScale(binary.LittleEndian.Uint16(payload[1+2*band:]))
		}
		coeffLen := binary.LittleEndian.Uint32(payload[1+2*dsp.NumBands:])
		payload = payload[need:]
		if uint32(len(payload)) < coeffLen {
			return nil, errors.Wrap(ErrTruncatedBitstream, "block coefficients")
		}
		q, err := decodeRLE(payload[:coeffLen], m)
		if err != nil {
			return nil, err
		}
		payload = payload[coeffLen:]

		bands := dsp.BandsFor(sampleRate, m)
		coeffs := make([]float64, m)
		for band := 0; band < dsp.NumBands; band++ {
			for j := bands.Edge[band]; j < bands.Edge[band+1]; j++ {
				coeffs[j] = float64(q[j]) * steps[band]
			}
		}
		if td.addBlock(kind, coeffs) {
			td.flushSlot()
		}
	}
	if td.shorts != 0 {
		return nil, errors.Wrap(ErrTruncatedBitstream, "incomplete short run")
	}
	if len(td.fifo) < nsamples {
		return nil, errors.Wrapf(ErrTruncatedBitstream, "synthesized %d of %d samples", len(td.fifo), nsamples)
	}
	out := make([]float64, nsamples)
	copy(out, td.fifo)
	td.fifo = td.fifo[:copy(td.fifo, td.fifo[nsamples:])]
	return out, nil
}
