// Package flo implements the flo audio codec: a container and
// compressor for PCM audio with a lossless predictive path and a lossy
// perceptual transform path, seekable by a table of contents,
// integrity-checked by CRC-32 and carrying structured metadata separate
// from the audio payload.
package flo

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/flo-audio/flo/container"
)

// ErrUnsupportedParameter reports audio parameters outside the
// supported envelope.
var ErrUnsupportedParameter = errors.New("flo: unsupported parameter")

// Supported sample rate range in Hz.
const (
	MinSampleRate = 8000
	MaxSampleRate = 192000
)

// AudioParams describes a PCM buffer handed to the encoders.
type AudioParams struct {
	// SampleRate in Hz, 8000 through 192000.
	SampleRate int
	// Channels, 1 or 2. Stereo PCM is interleaved.
	Channels int
	// BitDepth is the declared integer sample width: 16, 24 or 32.
	BitDepth int
}

func (p AudioParams) validate() error {
	if p.SampleRate < MinSampleRate || p.SampleRate > MaxSampleRate {
		return errors.Wrapf(ErrUnsupportedParameter, "sample rate %d", p.SampleRate)
	}
	if p.Channels != 1 && p.Channels != 2 {
		return errors.Wrapf(ErrUnsupportedParameter, "%d channels", p.Channels)
	}
	if p.BitDepth != 16 && p.BitDepth != 24 && p.BitDepth != 32 {
		return errors.Wrapf(ErrUnsupportedParameter, "bit depth %d", p.BitDepth)
	}
	return nil
}

// DecodeResult is the output of a whole-file decode.
type DecodeResult struct {
	PCM          []float32
	SampleRate   int
	Channels     int
	TotalSamples int // per channel
}

// FileInfo summarizes a file without decoding its audio.
type FileInfo struct {
	SampleRate       int
	Channels         int
	BitDepth         int
	DurationSecs     float64
	TotalSamples     int
	IsLossy          bool
	LossyQuality     float64 // preset quality of the stored level; lossy only
	CompressionRatio float64 // raw PCM bytes over file bytes
}

// Decode parses and decodes a whole file. It shares the incremental
// frame decoder with the streaming surface, so batch and streaming
// output are identical by construction. The DATA checksum is not
// enforced; use Validate.
func Decode(b []byte) (*DecodeResult, error) {
	f, err := container.Parse(b)
	if err != nil {
		return nil, err
	}
	d := NewDecoder()
	defer d.Free()
	d.Feed(b)
	pcm, err := d.DecodeAvailable()
	if err != nil {
		return nil, err
	}
	if d.framesDone != f.Header.TotalFrames {
		return nil, errors.Wrapf(container.ErrTruncatedChunk, "decoded %d of %d frames", d.framesDone, f.Header.TotalFrames)
	}
	return &DecodeResult{
		PCM:          pcm,
		SampleRate:   int(f.Header.SampleRate),
		Channels:     int(f.Header.Channels),
		TotalSamples: len(pcm) / int(f.Header.Channels),
	}, nil
}

// Info reads the file summary from the header and table of contents.
// When total_frames disagrees with the table of contents, duration is
// reported from the table.
func Info(b []byte) (*FileInfo, error) {
	f, err := container.Parse(b)
	if err != nil {
		return nil, err
	}
	h := &f.Header
	info := &FileInfo{
		SampleRate: int(h.SampleRate),
		Channels:   int(h.Channels),
		BitDepth:   int(h.BitDepth),
		IsLossy:    h.IsLossy(),
	}
	if info.IsLossy {
		info.LossyQuality = PresetQuality(h.QualityLevel())
	}

	nframes := int(h.TotalFrames)
	if len(f.TOC) > 0 && len(f.TOC) != nframes {
		nframes = len(f.TOC)
	}
	lastSamples := int(h.SampleRate)
	if len(f.TOC) > 0 {
		last := f.TOC[len(f.TOC)-1]
		// frame_samples sits right after the frame type byte.
		if off := last.ByteOffset + 1; off+4 <= uint64(len(f.Data)) {
			lastSamples = int(binary.LittleEndian.Uint32(f.Data[off:]))
		}
	}
	if nframes > 0 {
		info.TotalSamples = (nframes-1)*int(h.SampleRate) + lastSamples
	}
	if h.SampleRate > 0 {
		info.DurationSecs = float64(info.TotalSamples) / float64(h.SampleRate)
	}
	raw := info.TotalSamples * info.Channels * info.BitDepth / 8
	if len(b) > 0 {
		info.CompressionRatio = float64(raw) / float64(len(b))
	}
	return info, nil
}

// Validate parses the container and checks the DATA chunk against the
// checksum recorded in the header.
func Validate(b []byte) (bool, error) {
	f, err := container.Parse(b)
	if err != nil {
		return false, err
	}
	return f.Validate(), nil
}
