package frame

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/icza/bitio"
	"github.com/pkg/errors"

	"github.com/flo-audio/flo/internal/bits"
	"github.com/flo-audio/flo/internal/lpc"
)

// Residual stream encodings.
//
// Predictive channel payload format (pseudo code):
//
//	type ALPC_CHANNEL struct {
//	   coeff_count       uint8
//	   coeffs            [coeff_count]int32
//	   shift_bits        uint8
//	   residual_encoding uint8  // 0: Rice, 1: Golomb, 2: raw.
//	   rice_parameter    uint8  // only if Rice.
//	   golomb_modulus    uint32 // only if Golomb.
//	   residuals         bitstream // zero-padded to a whole byte.
//	}
//
// The residual stream holds one value per sample: the first coeff_count
// entries are the warm-up samples stored literally, the rest are
// prediction errors. Rice and Golomb modes fold values through zig-zag
// first; raw mode stores them as bit_depth-wide two's complement.
const (
	residualRice   = 0
	residualGolomb = 1
	residualRaw    = 2
)

// alpcCandidate is one evaluated predictor choice for a channel.
type alpcCandidate struct {
	coeffs []int32
	shift  uint8
	stream []int64 // warm-up samples then residuals
	mode   uint8
	riceK  uint8
	golomb uint32
	cost   int // total payload bytes
}

// alpcResiduals computes the residual stream of samples under the given
// quantized predictor: warm-up samples pass through literally, the rest
// are the prediction errors.
func alpcResiduals(samples []int32, coeffs []int32, shift uint8) []int64 {
	k := len(coeffs)
	stream := make([]int64, len(samples))
	for i := 0; i < k && i < len(samples); i++ {
		stream[i] = int64(samples[i])
	}
	for i := k; i < len(samples); i++ {
		var pred int64
		for j, c := range coeffs {
			pred += int64(c) * int64(samples[i-1-j])
		}
		stream[i] = int64(samples[i]) - pred>>shift
	}
	return stream
}

// pickRiceParam selects the Rice parameter minimizing the encoded size
// of the zig-zag folded stream: the log2-of-mean estimate refined one
// step in each direction.
func pickRiceParam(zz []uint64) (k uint8, bitCount int) {
	var sum float64
	for _, u := range zz {
		sum += float64(u)
	}
	mean := sum / float64(len(zz))
	k0 := 0
	if mean >= 1 {
		k0 = int(math.Floor(math.Log2(mean)))
	}
	best := -1
	for cand := k0 - 1; cand <= k0+1; cand++ {
		if cand < 0 || cand > 30 {
			continue
		}
		total := 0
		for _, u := range zz {
			total += bits.RiceCost(uint8(cand), u)
		}
		if best < 0 || total < best {
			best = total
			k = uint8(cand)
		}
	}
	return k, best
}

// analyzeChannel evaluates predictor orders 1 through maxOrder for one
// channel and returns the cheapest candidate.
func analyzeChannel(samples []int32, bitDepth, maxOrder int) *alpcCandidate {
	x := make([]float64, len(samples))
	for i, s := range samples {
		x[i] = float64(s)
	}
	r := lpc.Autocorrelation(x, maxOrder)
	sets := lpc.LevinsonDurbin(r, maxOrder)
	if len(sets) == 0 {
		// Degenerate input (a silent channel alongside an active one):
		// fall back to a zero predictor so the samples travel as
		// entropy-coded residuals.
		sets = [][]float64{{0}}
	}

	var best *alpcCandidate
	for _, set := range sets {
		qc, shift := lpc.Quantize(set)
		stream := alpcResiduals(samples, qc, shift)
		cand := pickResidualMode(stream, qc, shift, bitDepth)
		if best == nil || cand.cost < best.cost {
			best = cand
		}
	}
	return best
}

// pickResidualMode chooses the cheapest residual encoding for a stream
// under a fixed predictor.
func pickResidualMode(stream []int64, coeffs []int32, shift uint8, bitDepth int) *alpcCandidate {
	overhead := 1 + 4*len(coeffs) + 1 + 1
	zz := make([]uint64, len(stream))
	var sum float64
	for i, v := range stream {
		zz[i] = bits.EncodeZigZag(v)
		sum += float64(zz[i])
	}
	mean := sum / float64(len(zz))

	riceK, riceBits := pickRiceParam(zz)
	cand := &alpcCandidate{
		coeffs: coeffs,
		shift:  shift,
		stream: stream,
		mode:   residualRice,
		riceK:  riceK,
		cost:   overhead + 1 + (riceBits+7)/8,
	}

	// A heavy-tailed stream can beat Rice with a mean-fit Golomb
	// modulus. Means beyond the modulus range only occur on streams
	// that will go raw anyway.
	if m := uint32(mean + 0.5); mean < float64(1<<31) && m > 1 {
		total := 0
		for _, u := range zz {
			total += bits.GolombCost(m, u)
		}
		if c := overhead + 4 + (total+7)/8; c < cand.cost {
			cand.mode = residualGolomb
			cand.golomb = m
			cand.cost = c
		}
	}

	// Raw storage wins when prediction fails outright, provided every
	// value still fits the declared bit depth.
	fits := true
	for _, v := range stream {
		if !bits.FitsSigned(v, uint8(bitDepth)) {
			fits = false
			break
		}
	}
	if fits {
		if c := overhead + (len(stream)*bitDepth+7)/8; c < cand.cost {
			cand.mode = residualRaw
			cand.cost = c
		}
	}
	return cand
}

// encodeALPCChannel serializes a channel candidate to its payload bytes.
func encodeALPCChannel(cand *alpcCandidate, bitDepth int) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.WriteByte(uint8(len(cand.coeffs)))
	for _, c := range cand.coeffs {
		var w [4]byte
		binary.LittleEndian.PutUint32(w[:], uint32(c))
		buf.Write(w[:])
	}
	buf.WriteByte(cand.shift)
	buf.WriteByte(cand.mode)
	switch cand.mode {
	case residualRice:
		buf.WriteByte(cand.riceK)
	case residualGolomb:
		var w [4]byte
		binary.LittleEndian.PutUint32(w[:], cand.golomb)
		buf.Write(w[:])
	}

	bw := bitio.NewWriter(buf)
	for _, v := range cand.stream {
		var err error
		switch cand.mode {
		case residualRice:
			err = bits.WriteRice(bw, cand.riceK, bits.EncodeZigZag(v))
		case residualGolomb:
			err = bits.WriteGolomb(bw, cand.golomb, bits.EncodeZigZag(v))
		case residualRaw:
			err = bits.WriteRaw(bw, uint8(bitDepth), v)
		}
		if err != nil {
			return nil, errors.WithStack(err)
		}
	}
	if err := bw.Close(); err != nil {
		return nil, errors.WithStack(err)
	}
	return buf.Bytes(), nil
}

// decodeALPCChannel reconstructs one channel of a predictive frame.
// order is the frame type tag, an upper bound on the stored coefficient
// count.
func decodeALPCChannel(payload []byte, order, nsamples, bitDepth int) ([]int32, error) {
	rd := bytes.NewReader(payload)
	coeffCount, err := rd.ReadByte()
	if err != nil {
		return nil, errors.Wrap(ErrTruncatedBitstream, "coeff count")
	}
	if int(coeffCount) > order || coeffCount > MaxOrder {
		return nil, errors.Wrapf(ErrPredictorUnstable, "coeff count %d exceeds order %d", coeffCount, order)
	}
	coeffs := make([]int32, coeffCount)
	for i := range coeffs {
		var w [4]byte
		if _, err := io.ReadFull(rd, w[:]); err != nil {
			return nil, errors.Wrap(ErrTruncatedBitstream, "coefficients")
		}
		coeffs[i] = int32(binary.LittleEndian.Uint32(w[:]))
	}
	shift, err := rd.ReadByte()
	if err != nil {
		return nil, errors.Wrap(ErrTruncatedBitstream, "shift")
	}
	if shift > 31 {
		return nil, errors.Wrapf(ErrPredictorUnstable, "shift %d", shift)
	}
	mode, err := rd.ReadByte()
	if err != nil {
		return nil, errors.Wrap(ErrTruncatedBitstream, "residual encoding")
	}
	var riceK uint8
	var golombM uint32
	switch mode {
	case residualRice:
		if riceK, err = rd.ReadByte(); err != nil {
			return nil, errors.Wrap(ErrTruncatedBitstream, "rice parameter")
		}
	case residualGolomb:
		var w [4]byte
		if _, err := io.ReadFull(rd, w[:]); err != nil {
			return nil, errors.Wrap(ErrTruncatedBitstream, "golomb modulus")
		}
		golombM = binary.LittleEndian.Uint32(w[:])
		if golombM == 0 {
			return nil, errors.Wrap(ErrTruncatedBitstream, "zero golomb modulus")
		}
	case residualRaw:
	default:
		return nil, errors.Wrapf(ErrTruncatedBitstream, "residual encoding %d", mode)
	}

	br := bitio.NewReader(rd)
	samples := make([]int32, nsamples)
	k := int(coeffCount)
	for i := 0; i < nsamples; i++ {
		var v int64
		switch mode {
		case residualRice:
			u, err := bits.ReadRice(br, riceK)
			if err != nil {
				return nil, errors.Wrapf(ErrTruncatedBitstream, "sample %d", i)
			}
			v = bits.DecodeZigZag(u)
		case residualGolomb:
			u, err := bits.ReadGolomb(br, golombM)
			if err != nil {
				return nil, errors.Wrapf(ErrTruncatedBitstream, "sample %d", i)
			}
			v = bits.DecodeZigZag(u)
		case residualRaw:
			v, err = bits.ReadRaw(br, uint8(bitDepth))
			if err != nil {
				return nil, errors.Wrapf(ErrTruncatedBitstream, "sample %d", i)
			}
		}
		if i < k {
			samples[i] = int32(v)
			continue
		}
		var pred int64
		for j, c := range coeffs {
			pred += int64(c) * int64(samples[i-1-j])
		}
		samples[i] = int32(v + pred>>shift)
	}
	return samples, nil
}
