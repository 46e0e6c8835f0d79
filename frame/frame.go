// Package frame implements the flo frame codec: encoding and decoding
// of one-second audio frames in their silence, predictive, transform and
// raw variants.
package frame

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// Frame type tags.
//
// Frame format (pseudo code):
//
//	type FRAME struct {
//	   frame_type    uint8  // 0, 1..12, 253, 254.
//	   frame_samples uint32 // samples per channel; sample_rate except
//	                        // possibly in the final frame.
//	   flags         uint8
//	   channels      []CHANNEL // one per channel.
//	}
//
//	type CHANNEL struct {
//	   channel_size uint32
//	   payload      [channel_size]uint8
//	}
const (
	// TypeSilence marks a frame whose channels are all below the
	// silence threshold; channel payloads are empty.
	TypeSilence = 0
	// Types 1 through MaxOrder carry predictive channel payloads; the
	// tag value is the largest predictor order used by any channel.
	MaxOrder = 12
	// TypeTransform carries transform-coded channel payloads.
	TypeTransform = 253
	// TypeRaw carries unencoded integer PCM channel payloads.
	TypeRaw = 254
)

// frameHeaderSize is the fixed frame header size in bytes.
const frameHeaderSize = 1 + 4 + 1

// Samples below this magnitude count as silence.
const silenceThreshold = 1.0 / (1 << 30)

// Frame-level failure kinds.
var (
	ErrUnknownFrameType    = errors.New("frame: unknown frame type")
	ErrChannelSizeMismatch = errors.New("frame: channel size mismatch")
	ErrTruncatedBitstream  = errors.New("frame: truncated bitstream")
	ErrPredictorUnstable   = errors.New("frame: unstable predictor")
	ErrTransformOverflow   = errors.New("frame: transform coefficient overflow")
)

// Header is the parsed fixed frame header.
type Header struct {
	Type    uint8
	Samples uint32
	Flags   uint8
}

// parseHeader splits a frame record into its header and per-channel
// payload slices.
func parseHeader(b []byte, channels int) (hdr Header, payloads [][]byte, err error) {
	if len(b) < frameHeaderSize {
		return hdr, nil, errors.Wrap(ErrTruncatedBitstream, "frame header")
	}
	hdr.Type = b[0]
	hdr.Samples = binary.LittleEndian.Uint32(b[1:5])
	hdr.Flags = b[5]
	rest := b[frameHeaderSize:]
	payloads = make([][]byte, channels)
	for ch := 0; ch < channels; ch++ {
		if len(rest) < 4 {
			return hdr, nil, errors.Wrapf(ErrTruncatedBitstream, "channel %d size", ch)
		}
		size := binary.LittleEndian.Uint32(rest[:4])
		rest = rest[4:]
		if uint32(len(rest)) < size {
			return hdr, nil, errors.Wrapf(ErrChannelSizeMismatch, "channel %d: declared %d, have %d", ch, size, len(rest))
		}
		payloads[ch] = rest[:size]
		rest = rest[size:]
	}
	if len(rest) != 0 {
		return hdr, nil, errors.Wrapf(ErrChannelSizeMismatch, "%d trailing bytes", len(rest))
	}
	return hdr, payloads, nil
}

// renderFrame assembles a frame record from its header fields and
// per-channel payloads.
func renderFrame(typ uint8, samples uint32, payloads [][]byte) []byte {
	n := frameHeaderSize
	for _, p := range payloads {
		n += 4 + len(p)
	}
	out := make([]byte, 0, n)
	out = append(out, typ)
	out = binary.LittleEndian.AppendUint32(out, samples)
	out = append(out, 0) // flags
	for _, p := range payloads {
		out = binary.LittleEndian.AppendUint32(out, uint32(len(p)))
		out = append(out, p...)
	}
	return out
}

// quantizeSample converts a float sample in [-1, 1] to the integer
// domain of the given bit depth, clipping out-of-range input.
func quantizeSample(f float32, bitDepth int) int32 {
	scale := float64(int64(1) << (bitDepth - 1))
	v := math.Round(float64(f) * scale)
	if v > scale-1 {
		v = scale - 1
	}
	if v < -scale {
		v = -scale
	}
	return int32(v)
}

// dequantizeSample converts an integer-domain sample back to float.
func dequantizeSample(v int32, bitDepth int) float32 {
	return float32(float64(v) / float64(int64(1)<<(bitDepth-1)))
}
