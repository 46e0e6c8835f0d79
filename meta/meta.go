// Package meta implements the flo metadata record: a MessagePack map
// with a recognized key set covering ID3v2-equivalent tags plus
// flo-specific analysis extensions, where unknown keys survive round
// trips untouched.
package meta

import (
	"sort"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// Metadata failure kinds.
var (
	ErrParse     = errors.New("meta: malformed metadata")
	ErrSerialize = errors.New("meta: unserializable metadata")
)

// Metadata is the typed view of the metadata record. Zero-valued fields
// are absent from the wire map; keys outside the recognized set are kept
// verbatim in Extra so editing a typed subset never drops extensions.
type Metadata struct {
	Title       string
	Artist      string
	Album       string
	AlbumArtist string
	Composer    string
	Genre       string

	TrackNumber uint32
	TrackTotal  uint32
	DiscNumber  uint32
	DiscTotal   uint32

	BPM uint32
	Key string

	Date      string
	Copyright string

	Comments     []Comment
	Lyrics       string
	SyncedLyrics []SyncedLyrics
	Pictures     []Picture

	SectionMarkers []SectionMarker
	BPMMap         []BPMPoint
	KeyChanges     []KeyChange

	LoudnessProfile        []float32
	IntegratedLoudnessLUFS *float64
	LoudnessRangeLU        *float64
	TruePeakDBTP           *float64

	WaveformData        *WaveformData
	SpectrumFingerprint []byte

	CreatorNotes         string
	CollaborationCredits []string
	RemixChain           []string

	AnimatedCover *AnimatedCover
	CoverVariants []CoverVariant

	// Extra holds unrecognized keys exactly as decoded.
	Extra map[string]interface{}
}

// IsEmpty reports whether the record carries no keys at all.
func (m *Metadata) IsEmpty() bool {
	return len(m.fields()) == 0 && len(m.Extra) == 0
}

// field is one present recognized key and the value to serialize.
type field struct {
	key string
	val interface{}
}

// fields returns the present recognized keys in wire order.
func (m *Metadata) fields() []field {
	var fs []field
	str := func(key, v string) {
		if v != "" {
			fs = append(fs, field{key, v})
		}
	}
	num := func(key string, v uint32) {
		if v != 0 {
			fs = append(fs, field{key, v})
		}
	}
	str("title", m.Title)
	str("artist", m.Artist)
	str("album", m.Album)
	str("album_artist", m.AlbumArtist)
	str("composer", m.Composer)
	str("genre", m.Genre)
	num("track_number", m.TrackNumber)
	num("track_total", m.TrackTotal)
	num("disc_number", m.DiscNumber)
	num("disc_total", m.DiscTotal)
	num("bpm", m.BPM)
	str("key", m.Key)
	str("date", m.Date)
	str("copyright", m.Copyright)
	if len(m.Comments) > 0 {
		fs = append(fs, field{"comments", m.Comments})
	}
	str("lyrics", m.Lyrics)
	if len(m.SyncedLyrics) > 0 {
		fs = append(fs, field{"synced_lyrics", m.SyncedLyrics})
	}
	if len(m.Pictures) > 0 {
		fs = append(fs, field{"pictures", m.Pictures})
	}
	if len(m.SectionMarkers) > 0 {
		fs = append(fs, field{"section_markers", m.SectionMarkers})
	}
	if len(m.BPMMap) > 0 {
		fs = append(fs, field{"bpm_map", m.BPMMap})
	}
	if len(m.KeyChanges) > 0 {
		fs = append(fs, field{"key_changes", m.KeyChanges})
	}
	if len(m.LoudnessProfile) > 0 {
		fs = append(fs, field{"loudness_profile", m.LoudnessProfile})
	}
	if m.IntegratedLoudnessLUFS != nil {
		fs = append(fs, field{"integrated_loudness_lufs", *m.IntegratedLoudnessLUFS})
	}
	if m.LoudnessRangeLU != nil {
		fs = append(fs, field{"loudness_range_lu", *m.LoudnessRangeLU})
	}
	if m.TruePeakDBTP != nil {
		fs = append(fs, field{"true_peak_dbtp", *m.TruePeakDBTP})
	}
	if m.WaveformData != nil {
		fs = append(fs, field{"waveform_data", m.WaveformData})
	}
	if len(m.SpectrumFingerprint) > 0 {
		fs = append(fs, field{"spectrum_fingerprint", m.SpectrumFingerprint})
	}
	str("creator_notes", m.CreatorNotes)
	if len(m.CollaborationCredits) > 0 {
		fs = append(fs, field{"collaboration_credits", m.CollaborationCredits})
	}
	if len(m.RemixChain) > 0 {
		fs = append(fs, field{"remix_chain", m.RemixChain})
	}
	if m.AnimatedCover != nil {
		fs = append(fs, field{"animated_cover", m.AnimatedCover})
	}
	if len(m.CoverVariants) > 0 {
		fs = append(fs, field{"cover_variants", m.CoverVariants})
	}
	return fs
}

// EncodeMsgpack serializes the record as a single map: recognized keys
// in wire order, then unrecognized keys sorted for determinism.
func (m *Metadata) EncodeMsgpack(enc *msgpack.Encoder) error {
	fs := m.fields()
	if err := enc.EncodeMapLen(len(fs) + len(m.Extra)); err != nil {
		return err
	}
	for _, f := range fs {
		if err := enc.EncodeString(f.key); err != nil {
			return err
		}
		if err := enc.Encode(f.val); err != nil {
			return err
		}
	}
	extraKeys := make([]string, 0, len(m.Extra))
	for k := range m.Extra {
		extraKeys = append(extraKeys, k)
	}
	sort.Strings(extraKeys)
	for _, k := range extraKeys {
		if err := enc.EncodeString(k); err != nil {
			return err
		}
		if err := enc.Encode(m.Extra[k]); err != nil {
			return err
		}
	}
	return nil
}

// DecodeMsgpack parses the record map, routing recognized keys to the
// typed fields and everything else to Extra.
func (m *Metadata) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeMapLen()
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		key, err := dec.DecodeString()
		if err != nil {
			return err
		}
		switch key {
		case "title":
			err = dec.Decode(&m.Title)
		case "artist":
			err = dec.Decode(&m.Artist)
		case "album":
			err = dec.Decode(&m.Album)
		case "album_artist":
			err = dec.Decode(&m.AlbumArtist)
		case "composer":
			err = dec.Decode(&m.Composer)
		case "genre":
			err = dec.Decode(&m.Genre)
		case "track_number":
			err = dec.Decode(&m.TrackNumber)
		case "track_total":
			err = dec.Decode(&m.TrackTotal)
		case "disc_number":
			err = dec.Decode(&m.DiscNumber)
		case "disc_total":
			err = dec.Decode(&m.DiscTotal)
		case "bpm":
			err = dec.Decode(&m.BPM)
		case "key":
			err = dec.Decode(&m.Key)
		case "date":
			err = dec.Decode(&m.Date)
		case "copyright":
			err = dec.Decode(&m.Copyright)
		case "comments":
			err = dec.Decode(&m.Comments)
		case "lyrics":
			err = dec.Decode(&m.Lyrics)
		case "synced_lyrics":
			err = dec.Decode(&m.SyncedLyrics)
		case "pictures":
			err = dec.Decode(&m.Pictures)
		case "section_markers":
			err = dec.Decode(&m.SectionMarkers)
		case "bpm_map":
			err = dec.Decode(&m.BPMMap)
		case "key_changes":
			err = dec.Decode(&m.KeyChanges)
		case "loudness_profile":
			err = dec.Decode(&m.LoudnessProfile)
		case "integrated_loudness_lufs":
			m.IntegratedLoudnessLUFS = new(float64)
			err = dec.Decode(m.IntegratedLoudnessLUFS)
		case "loudness_range_lu":
			m.LoudnessRangeLU = new(float64)
			err = dec.Decode(m.LoudnessRangeLU)
		case "true_peak_dbtp":
			m.TruePeakDBTP = new(float64)
			err = dec.Decode(m.TruePeakDBTP)
		case "waveform_data":
			m.WaveformData = new(WaveformData)
			err = dec.Decode(m.WaveformData)
		case "spectrum_fingerprint":
			err = dec.Decode(&m.SpectrumFingerprint)
		case "creator_notes":
			err = dec.Decode(&m.CreatorNotes)
		case "collaboration_credits":
			err = dec.Decode(&m.CollaborationCredits)
		case "remix_chain":
			err = dec.Decode(&m.RemixChain)
		case "animated_cover":
			m.AnimatedCover = new(AnimatedCover)
			err = dec.Decode(m.AnimatedCover)
		case "cover_variants":
			err = dec.Decode(&m.CoverVariants)
		default:
			var v interface{}
			v, err = dec.DecodeInterface()
			if err == nil {
				if m.Extra == nil {
					m.Extra = make(map[string]interface{})
				}
				m.Extra[key] = v
			}
		}
		if err != nil {
			return errors.Wrapf(err, "key %q", key)
		}
	}
	return nil
}

// Marshal serializes a metadata record. A nil or empty record yields an
// empty byte slice, which stands for an absent META chunk.
func Marshal(m *Metadata) ([]byte, error) {
	if m == nil || m.IsEmpty() {
		return nil, nil
	}
	b, err := msgpack.Marshal(m)
	if err != nil {
		return nil, errors.Wrapf(ErrSerialize, "%v", err)
	}
	return b, nil
}

// Unmarshal parses a META chunk. Empty input yields an empty record.
func Unmarshal(b []byte) (*Metadata, error) {
	m := new(Metadata)
	if len(b) == 0 {
		return m, nil
	}
	if err := msgpack.Unmarshal(b, m); err != nil {
		return nil, errors.Wrapf(ErrParse, "%v", err)
	}
	return m, nil
}
