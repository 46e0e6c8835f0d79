package flo

import (
	"github.com/pkg/errors"

	"github.com/flo-audio/flo/container"
	"github.com/flo-audio/flo/frame"
	"github.com/flo-audio/flo/meta"
)

// Quality presets for the lossy encoder.
const (
	QualityLow         = 0.10
	QualityMedium      = 0.30
	QualityHigh        = 0.55
	QualityVeryHigh    = 0.75
	QualityTransparent = 0.95
)

// PresetQuality maps a preset level 0-4 to its quality value.
func PresetQuality(level int) float64 {
	switch {
	case level <= 0:
		return QualityLow
	case level == 1:
		return QualityMedium
	case level == 2:
		return QualityHigh
	case level == 3:
		return QualityVeryHigh
	default:
		return QualityTransparent
	}
}

// qualityLevel buckets a quality value back to the nearest preset level
// for the header flags.
func qualityLevel(quality float64) int {
	presets := []float64{QualityLow, QualityMedium, QualityHigh, QualityVeryHigh, QualityTransparent}
	best := 0
	for i, p := range presets {
		if abs(quality-p) < abs(quality-presets[best]) {
			best = i
		}
	}
	return best
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// QualityForBitrate translates a target bitrate in kbit/s to a lossy
// quality value for the given sample rate and channel count.
func QualityForBitrate(bitrateKbps, sampleRate, channels int) float64 {
	q := 0.1 + 0.85*float64(bitrateKbps)*1000/(float64(sampleRate)*float64(channels)*16)
	if q < 0.05 {
		q = 0.05
	}
	if q > 0.99 {
		q = 0.99
	}
	return q
}

// EncodeLossless encodes pcm with the predictive coder. level 0-9
// scales the predictor order search. md may be nil for no metadata.
func EncodeLossless(pcm []float32, p AudioParams, level int, md *meta.Metadata) ([]byte, error) {
	if level < 0 || level > 9 {
		return nil, errors.Wrapf(ErrUnsupportedParameter, "compression level %d", level)
	}
	if err := validateInput(pcm, p); err != nil {
		return nil, err
	}
	enc := frame.NewLosslessEncoder(pcm, p.SampleRate, p.Channels, p.BitDepth, level)
	return encodeFile(pcm, p, enc, false, level, 0, md)
}

// EncodeLossy encodes pcm with the transform coder at the given quality
// in [0, 1]. md may be nil for no metadata.
func EncodeLossy(pcm []float32, p AudioParams, quality float64, md *meta.Metadata) ([]byte, error) {
	if quality < 0 || quality > 1 {
		return nil, errors.Wrapf(ErrUnsupportedParameter, "quality %v", quality)
	}
	if err := validateInput(pcm, p); err != nil {
		return nil, err
	}
	enc := frame.NewLossyEncoder(pcm, p.SampleRate, p.Channels, p.BitDepth, quality)
	return encodeFile(pcm, p, enc, true, 0, quality, md)
}

// EncodeWithBitrate encodes pcm with the transform coder, deriving the
// quality from a target bitrate in kbit/s.
func EncodeWithBitrate(pcm []float32, p AudioParams, bitrateKbps int, md *meta.Metadata) ([]byte, error) {
	if bitrateKbps <= 0 {
		return nil, errors.Wrapf(ErrUnsupportedParameter, "bitrate %d kbps", bitrateKbps)
	}
	return EncodeLossy(pcm, p, QualityForBitrate(bitrateKbps, p.SampleRate, p.Channels), md)
}

// validateInput checks the audio parameters and buffer shape before an
// encoder is constructed.
func validateInput(pcm []float32, p AudioParams) error {
	if err := p.validate(); err != nil {
		return err
	}
	if len(pcm) == 0 {
		return errors.Wrap(ErrUnsupportedParameter, "empty PCM buffer")
	}
	if len(pcm)%p.Channels != 0 {
		return errors.Wrapf(ErrUnsupportedParameter, "PCM length %d not a multiple of %d channels", len(pcm), p.Channels)
	}
	return nil
}

// encodeFile runs the frame encoder over the whole buffer and assembles
// the container.
func encodeFile(pcm []float32, p AudioParams, enc *frame.Encoder, lossy bool, level int, quality float64, md *meta.Metadata) ([]byte, error) {
	total := len(pcm) / p.Channels
	nframes := frame.NumFrames(total, p.SampleRate)

	var data []byte
	toc := make([]container.TOCEntry, 0, nframes)
	for f := 0; f < nframes; f++ {
		rec, err := enc.EncodeFrame(f)
		if err != nil {
			return nil, err
		}
		toc = append(toc, container.TOCEntry{
			FrameIndex:  uint32(f),
			ByteOffset:  uint64(len(data)),
			FrameSize:   uint32(len(rec)),
			TimestampMS: uint32(uint64(f) * 1000),
		})
		data = append(data, rec...)
	}

	metaBytes, err := meta.Marshal(md)
	if err != nil {
		return nil, err
	}

	file := &container.File{
		Header: container.Header{
			VersionMajor:     container.VersionMajor,
			VersionMinor:     container.VersionMinor,
			SampleRate:       uint32(p.SampleRate),
			Channels:         uint8(p.Channels),
			BitDepth:         uint8(p.BitDepth),
			TotalFrames:      uint64(nframes),
			CompressionLevel: uint8(level),
		},
		TOC:  toc,
		Data: data,
		Meta: metaBytes,
	}
	if lossy {
		file.Header.Flags |= container.FlagLossy
		file.Header.SetQualityLevel(qualityLevel(quality))
	}
	return file.Render(), nil
}
