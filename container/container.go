// Package container implements the flo file container: the fixed
// header, the frame table of contents and the DATA/EXTRA/META chunk
// layout. The reader parses a byte slice into the typed model, the
// writer serializes it back deterministically.
package container

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/pkg/errors"
)

// Magic is present at the beginning of each flo file.
const Magic = "FLO!"

// Container geometry in bytes.
const (
	// HeaderSize is the size of the fixed header excluding the magic.
	HeaderSize = 66
	// TOCEntrySize is the size of one table-of-contents entry.
	TOCEntrySize = 20
)

// Supported format version.
const (
	VersionMajor = 1
	VersionMinor = 1
)

// Header flag bits.
const (
	// FlagLossy marks a file whose frames use the transform coder.
	FlagLossy = 1 << 0
	// Quality level occupies bits 8-11.
	qualityShift = 8
	qualityMask  = 0xF
)

// Container failure kinds.
var (
	ErrBadMagic       = errors.New("container: bad magic")
	ErrSizeInconsist  = errors.New("container: chunk sizes inconsistent with file length")
	ErrTruncatedChunk = errors.New("container: truncated chunk")
	ErrCorruptTOC     = errors.New("container: corrupt table of contents")
)

// UnsupportedVersionError reports a file written by an incompatible
// format revision.
type UnsupportedVersionError struct {
	Major, Minor uint8
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("container: unsupported version %d.%d", e.Major, e.Minor)
}

// A Header is the fixed file header following the magic.
//
// Header format (pseudo code):
//
//	type HEADER struct {
//	   version_major     uint8
//	   version_minor     uint8
//	   flags             uint16 // bit 0: lossy; bits 8-11: quality level.
//	   sample_rate       uint32
//	   channels          uint8
//	   bit_depth         uint8
//	   total_frames      uint64
//	   compression_level uint8
//	   _                 [3]uint8 // reserved, must be zero.
//	   data_crc32        uint32   // CRC-32 (IEEE) of the DATA chunk.
//	   header_size       uint64   // always 66.
//	   toc_size          uint64
//	   data_size         uint64
//	   extra_size        uint64
//	   meta_size         uint64
//	}
//
// All integers are little-endian.
type Header struct {
	VersionMajor     uint8
	VersionMinor     uint8
	Flags            uint16
	SampleRate       uint32
	Channels         uint8
	BitDepth         uint8
	TotalFrames      uint64
	CompressionLevel uint8
	DataCRC32        uint32
	TOCSize          uint64
	DataSize         uint64
	ExtraSize        uint64
	MetaSize         uint64
}

// IsLossy reports whether the frames use the transform coder.
func (h *Header) IsLossy() bool {
	return h.Flags&FlagLossy != 0
}

// QualityLevel returns the stored quality preset level 0-4; meaningful
// only for lossy files.
func (h *Header) QualityLevel() int {
	return int(h.Flags >> qualityShift & qualityMask)
}

// SetQualityLevel stores a quality preset level 0-4 in the flags.
func (h *Header) SetQualityLevel(level int) {
	if level < 0 {
		level = 0
	}
	if level > 4 {
		level = 4
	}
	h.Flags = h.Flags&^uint16(qualityMask<<qualityShift) | uint16(level)<<qualityShift
}

// A TOCEntry locates one frame inside the DATA chunk.
//
// TOC entry format (pseudo code):
//
//	type TOC_ENTRY struct {
//	   frame_index  uint32
//	   byte_offset  uint64 // relative to the start of DATA.
//	   frame_size   uint32
//	   timestamp_ms uint32
//	}
type TOCEntry struct {
	FrameIndex  uint32
	ByteOffset  uint64
	FrameSize   uint32
	TimestampMS uint32
}

// A File is the parsed container model: header, table of contents and
// the raw chunk payloads. Data, Extra and Meta alias the input buffer
// passed to Parse.
type File struct {
	Header Header
	TOC    []TOCEntry
	Data   []byte
	Extra  []byte
	Meta   []byte
}

// ParseHeader parses the magic and fixed header at the start of b. It
// needs only the first 4+66 bytes and performs no whole-file size
// checks, which makes it usable on a growing stream buffer.
func ParseHeader(b []byte) (*Header, error) {
	if len(b) < len(Magic) {
		return nil, errors.Wrap(ErrTruncatedChunk, "short of magic")
	}
	if string(b[:len(Magic)]) != Magic {
		return nil, ErrBadMagic
	}
	if len(b) < len(Magic)+HeaderSize {
		return nil, errors.Wrap(ErrTruncatedChunk, "short of header")
	}

	h := new(Header)
	p := b[len(Magic):]
	h.VersionMajor = p[0]
	h.VersionMinor = p[1]
	if h.VersionMajor != VersionMajor || h.VersionMinor < 1 {
		return nil, &UnsupportedVersionError{Major: h.VersionMajor, Minor: h.VersionMinor}
	}
	h.Flags = binary.LittleEndian.Uint16(p[2:4])
	h.SampleRate = binary.LittleEndian.Uint32(p[4:8])
	h.Channels = p[8]
	h.BitDepth = p[9]
	h.TotalFrames = binary.LittleEndian.Uint64(p[10:18])
	h.CompressionLevel = p[18]
	// 3 reserved bytes at p[19:22].
	h.DataCRC32 = binary.LittleEndian.Uint32(p[22:26])
	headerSize := binary.LittleEndian.Uint64(p[26:34])
	h.TOCSize = binary.LittleEndian.Uint64(p[34:42])
	h.DataSize = binary.LittleEndian.Uint64(p[42:50])
	h.ExtraSize = binary.LittleEndian.Uint64(p[50:58])
	h.MetaSize = binary.LittleEndian.Uint64(p[58:66])
	if headerSize != HeaderSize {
		return nil, errors.Wrapf(ErrSizeInconsist, "header size %d", headerSize)
	}
	return h, nil
}

// Parse reads the container structure of b. The DATA checksum is not
// verified here; call Validate for that, so damaged files can still be
// inspected.
func Parse(b []byte) (*File, error) {
	h, err := ParseHeader(b)
	if err != nil {
		return nil, err
	}
	f := &File{Header: *h}
	p := b[len(Magic):]

	want := uint64(len(Magic)) + HeaderSize + h.TOCSize + h.DataSize + h.ExtraSize + h.MetaSize
	if want != uint64(len(b)) {
		return nil, errors.Wrapf(ErrSizeInconsist, "declared %d bytes, file has %d", want, len(b))
	}
	if h.TOCSize%TOCEntrySize != 0 {
		return nil, errors.Wrapf(ErrCorruptTOC, "size %d not a multiple of %d", h.TOCSize, TOCEntrySize)
	}

	rest := p[HeaderSize:]
	toc := rest[:h.TOCSize]
	f.Data = rest[h.TOCSize : h.TOCSize+h.DataSize]
	f.Extra = rest[h.TOCSize+h.DataSize : h.TOCSize+h.DataSize+h.ExtraSize]
	f.Meta = rest[h.TOCSize+h.DataSize+h.ExtraSize:]

	n := int(h.TOCSize / TOCEntrySize)
	f.TOC = make([]TOCEntry, n)
	for i := 0; i < n; i++ {
		e := toc[i*TOCEntrySize:]
		f.TOC[i] = TOCEntry{
			FrameIndex:  binary.LittleEndian.Uint32(e[0:4]),
			ByteOffset:  binary.LittleEndian.Uint64(e[4:12]),
			FrameSize:   binary.LittleEndian.Uint32(e[12:16]),
			TimestampMS: binary.LittleEndian.Uint32(e[16:20]),
		}
	}
	if err := checkTOC(f.TOC, h.DataSize); err != nil {
		return nil, err
	}
	return f, nil
}

// checkTOC verifies entry monotonicity and that no entry reaches past
// the end of DATA.
func checkTOC(toc []TOCEntry, dataSize uint64) error {
	for i, e := range toc {
		if i > 0 {
			prev := toc[i-1]
			if e.FrameIndex <= prev.FrameIndex || e.ByteOffset <= prev.ByteOffset {
				return errors.Wrapf(ErrCorruptTOC, "entry %d not ascending", i)
			}
		}
		if e.ByteOffset+uint64(e.FrameSize) > dataSize {
			return errors.Wrapf(ErrCorruptTOC, "entry %d exceeds DATA (%d+%d > %d)", i, e.ByteOffset, e.FrameSize, dataSize)
		}
	}
	return nil
}

// Render serializes the file model, recomputing the chunk sizes and the
// DATA checksum. Output is deterministic byte-for-byte for identical
// inputs.
func (f *File) Render() []byte {
	h := f.Header
	h.VersionMajor = VersionMajor
	if h.VersionMinor == 0 {
		h.VersionMinor = VersionMinor
	}
	h.TOCSize = uint64(len(f.TOC) * TOCEntrySize)
	h.DataSize = uint64(len(f.Data))
	h.ExtraSize = uint64(len(f.Extra))
	h.MetaSize = uint64(len(f.Meta))
	h.DataCRC32 = crc32.ChecksumIEEE(f.Data)

	out := make([]byte, 0, len(Magic)+HeaderSize+int(h.TOCSize)+len(f.Data)+len(f.Extra)+len(f.Meta))
	out = append(out, Magic...)

	var hdr [HeaderSize]byte
	hdr[0] = h.VersionMajor
	hdr[1] = h.VersionMinor
	binary.LittleEndian.PutUint16(hdr[2:4], h.Flags)
	binary.LittleEndian.PutUint32(hdr[4:8], h.SampleRate)
	hdr[8] = h.Channels
	hdr[9] = h.BitDepth
	binary.LittleEndian.PutUint64(hdr[10:18], h.TotalFrames)
	hdr[18] = h.CompressionLevel
	// hdr[19:22] reserved.
	binary.LittleEndian.PutUint32(hdr[22:26], h.DataCRC32)
	binary.LittleEndian.PutUint64(hdr[26:34], HeaderSize)
	binary.LittleEndian.PutUint64(hdr[34:42], h.TOCSize)
	binary.LittleEndian.PutUint64(hdr[42:50], h.DataSize)
	binary.LittleEndian.PutUint64(hdr[50:58], h.ExtraSize)
	binary.LittleEndian.PutUint64(hdr[58:66], h.MetaSize)
	out = append(out, hdr[:]...)

	var e [TOCEntrySize]byte
	for _, entry := range f.TOC {
		binary.LittleEndian.PutUint32(e[0:4], entry.FrameIndex)
		binary.LittleEndian.PutUint64(e[4:12], entry.ByteOffset)
		binary.LittleEndian.PutUint32(e[12:16], entry.FrameSize)
		binary.LittleEndian.PutUint32(e[16:20], entry.TimestampMS)
		out = append(out, e[:]...)
	}
	out = append(out, f.Data...)
	out = append(out, f.Extra...)
	out = append(out, f.Meta...)
	return out
}

// Validate reports whether the DATA chunk matches the checksum recorded
// in the header.
func (f *File) Validate() bool {
	return crc32.ChecksumIEEE(f.Data) == f.Header.DataCRC32
}
