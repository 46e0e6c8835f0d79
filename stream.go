package flo

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/flo-audio/flo/container"
	"github.com/flo-audio/flo/frame"
)

// A Decoder decodes a file incrementally as its bytes arrive. Feed
// appends input; NextFrame emits one frame of PCM as soon as that frame
// is fully buffered, never consuming a partial record. A Decoder is
// single-owner: one goroutine feeds and drains it, and Free releases it.
//
// The DATA checksum is not checked in streaming mode; it covers the
// whole chunk and cannot be verified until the end.
type Decoder struct {
	buf []byte
	pos int

	hdr        *container.Header
	tocSkipped bool
	fdec       *frame.Decoder
	dataLeft   uint64
	framesDone uint64
	freed      bool
}

// NewDecoder returns an empty streaming decoder.
func NewDecoder() *Decoder {
	return new(Decoder)
}

// Feed appends input bytes. It never blocks and never decodes.
func (d *Decoder) Feed(b []byte) {
	if d.freed {
		return
	}
	d.buf = append(d.buf, b...)
}

// Info returns the audio parameters once the file header has been
// parsed; ok is false before that.
func (d *Decoder) Info() (p AudioParams, ok bool) {
	if err := d.parseHeader(); err != nil || d.hdr == nil {
		return AudioParams{}, false
	}
	return AudioParams{
		SampleRate: int(d.hdr.SampleRate),
		Channels:   int(d.hdr.Channels),
		BitDepth:   int(d.hdr.BitDepth),
	}, true
}

// parseHeader attempts to parse the fixed header from the buffer. It
// returns nil both on success and when more bytes are needed.
func (d *Decoder) parseHeader() error {
	if d.hdr != nil {
		return nil
	}
	if len(d.buf) < len(container.Magic)+container.HeaderSize {
		return nil
	}
	hdr, err := container.ParseHeader(d.buf)
	if err != nil {
		return err
	}
	p := AudioParams{
		SampleRate: int(hdr.SampleRate),
		Channels:   int(hdr.Channels),
		BitDepth:   int(hdr.BitDepth),
	}
	if err := p.validate(); err != nil {
		return err
	}
	d.hdr = hdr
	d.pos = len(container.Magic) + container.HeaderSize
	d.dataLeft = hdr.DataSize
	d.fdec = frame.NewDecoder(p.SampleRate, p.Channels, p.BitDepth)
	return nil
}

// NextFrame returns the PCM of the next complete frame, or (nil, nil)
// when more input is needed or the stream is done. Corrupt input
// returns an error.
func (d *Decoder) NextFrame() ([]float32, error) {
	if d.freed {
		return nil, errors.New("flo: use of freed decoder")
	}
	if err := d.parseHeader(); err != nil {
		return nil, err
	}
	if d.hdr == nil {
		return nil, nil
	}
	// The table of contents is skipped whole; streaming playback never
	// seeks.
	if !d.tocSkipped {
		if uint64(len(d.buf)-d.pos) < d.hdr.TOCSize {
			return nil, nil
		}
		d.pos += int(d.hdr.TOCSize)
		d.tocSkipped = true
	}
	if d.framesDone >= d.hdr.TotalFrames || d.dataLeft == 0 {
		return nil, nil
	}

	rec, size, err := d.peekFrame()
	if err != nil || rec == nil {
		return nil, err
	}
	pcm, err := d.fdec.DecodeFrame(rec)
	if err != nil {
		return nil, err
	}
	d.pos += size
	d.dataLeft -= uint64(size)
	d.framesDone++
	return pcm, nil
}

// peekFrame measures the next frame record without consuming it,
// returning (nil, 0, nil) while it is still incomplete.
func (d *Decoder) peekFrame() ([]byte, int, error) {
	avail := d.buf[d.pos:]
	if uint64(len(avail)) > d.dataLeft {
		avail = avail[:d.dataLeft]
	}
	const hdrSize = 6
	if len(avail) < hdrSize {
		if uint64(hdrSize) > d.dataLeft {
			return nil, 0, errors.Wrap(frame.ErrTruncatedBitstream, "frame header exceeds DATA")
		}
		return nil, 0, nil
	}
	size := hdrSize
	for ch := 0; ch < int(d.hdr.Channels); ch++ {
		if len(avail) < size+4 {
			if uint64(size+4) > d.dataLeft {
				return nil, 0, errors.Wrap(frame.ErrTruncatedBitstream, "channel size exceeds DATA")
			}
			return nil, 0, nil
		}
		payload := binary.LittleEndian.Uint32(avail[size:])
		size += 4 + int(payload)
		if uint64(size) > d.dataLeft {
			return nil, 0, errors.Wrapf(frame.ErrChannelSizeMismatch, "frame spans past DATA end")
		}
	}
	if len(avail) < size {
		return nil, 0, nil
	}
	return avail[:size], size, nil
}

// DecodeAvailable drains every complete frame currently buffered and
// returns the concatenated PCM.
func (d *Decoder) DecodeAvailable() ([]float32, error) {
	var out []float32
	for {
		pcm, err := d.NextFrame()
		if err != nil {
			return nil, err
		}
		if pcm == nil {
			return out, nil
		}
		out = append(out, pcm...)
	}
}

// Reset discards all parsed state but keeps the input buffer, so the
// stream parses again from the top.
func (d *Decoder) Reset() {
	if d.freed {
		return
	}
	d.pos = 0
	d.hdr = nil
	d.tocSkipped = false
	d.fdec = nil
	d.dataLeft = 0
	d.framesDone = 0
}

// Free releases all state. The decoder must not be used afterwards.
func (d *Decoder) Free() {
	d.buf = nil
	d.hdr = nil
	d.fdec = nil
	d.freed = true
}
