package frame

import (
	"github.com/pkg/errors"
)

// A Decoder turns frame records back into interleaved PCM. The
// transform path keeps per-channel overlap state across frames, so
// frames must be decoded in index order; the predictive path is
// stateless per frame.
type Decoder struct {
	SampleRate int
	Channels   int
	BitDepth   int

	tds []*transformDecoder
}

// NewDecoder prepares a frame decoder for the given audio parameters.
func NewDecoder(sampleRate, channels, bitDepth int) *Decoder {
	d := &Decoder{
		SampleRate: sampleRate,
		Channels:   channels,
		BitDepth:   bitDepth,
		tds:        make([]*transformDecoder, channels),
	}
	for ch := range d.tds {
		d.tds[ch] = newTransformDecoder()
	}
	return d
}

// DecodeFrame decodes one frame record and returns its interleaved PCM.
func (d *Decoder) DecodeFrame(b []byte) ([]float32, error) {
	hdr, payloads, err := parseHeader(b, d.Channels)
	if err != nil {
		return nil, err
	}
	if hdr.Samples == 0 || int(hdr.Samples) > d.SampleRate {
		return nil, errors.Wrapf(ErrTruncatedBitstream, "implausible frame sample count %d", hdr.Samples)
	}
	ns := int(hdr.Samples)
	out := make([]float32, ns*d.Channels)

	switch {
	case hdr.Type == TypeSilence:
		// Zero value output stands.

	case hdr.Type >= 1 && hdr.Type <= MaxOrder:
		for ch, payload := range payloads {
			samples, err := decodeALPCChannel(payload, int(hdr.Type), ns, d.BitDepth)
			if err != nil {
				return nil, errors.Wrapf(err, "channel %d", ch)
			}
			for i, s := range samples {
				out[i*d.Channels+ch] = dequantizeSample(s, d.BitDepth)
			}
		}

	case hdr.Type == TypeRaw:
		for ch, payload := range payloads {
			samples, err := decodeRawChannel(payload, ns, d.BitDepth)
			if err != nil {
				return nil, errors.Wrapf(err, "channel %d", ch)
			}
			for i, s := range samples {
				out[i*d.Channels+ch] = dequantizeSample(s, d.BitDepth)
			}
		}

	case hdr.Type == TypeTransform:
		for ch, payload := range payloads {
			samples, err := decodeTransformChannel(d.tds[ch], payload, ns, d.SampleRate)
			if err != nil {
				return nil, errors.Wrapf(err, "channel %d", ch)
			}
			for i, s := range samples {
				out[i*d.Channels+ch] = clampSample(s)
			}
		}

	default:
		return nil, errors.Wrapf(ErrUnknownFrameType, "type %d", hdr.Type)
	}
	return out, nil
}

func clampSample(v float64) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return float32(v)
}
