package meta

// PictureType specifies the role of an attached picture, following the
// ID3v2 APIC type list.
type PictureType uint8

// Picture types.
const (
	PictureOther PictureType = iota
	PictureFileIcon
	PictureOtherFileIcon
	PictureCoverFront
	PictureCoverBack
	PictureLeaflet
	PictureMedia
	PictureLeadArtist
	PictureArtist
	PictureConductor
	PictureBand
	PictureComposer
	PictureLyricist
	PictureRecordingLocation
	PictureDuringRecording
	PictureDuringPerformance
	PictureVideoCapture
	PictureBrightFish
	PictureIllustration
	PictureBandLogo
	PicturePublisherLogo
)

// A Picture is an attached image.
type Picture struct {
	MIME        string      `msgpack:"mime"`
	Type        PictureType `msgpack:"type"`
	Description string      `msgpack:"description,omitempty"`
	Data        []byte      `msgpack:"data"`
}

// CoverVariantKind identifies a pre-rendered cover size.
type CoverVariantKind uint8

// Cover variant kinds.
const (
	CoverThumbnail CoverVariantKind = iota
	CoverSmall
	CoverMedium
	CoverLarge
	CoverOriginal
)

// A CoverVariant is one pre-rendered size of the cover art.
type CoverVariant struct {
	Kind CoverVariantKind `msgpack:"kind"`
	MIME string           `msgpack:"mime"`
	Data []byte           `msgpack:"data"`
}

// An AnimatedCover is a short animated cover loop.
type AnimatedCover struct {
	MIME       string `msgpack:"mime"`
	FrameCount uint32 `msgpack:"frame_count,omitempty"`
	Data       []byte `msgpack:"data"`
}
