package flo

import (
	"github.com/flo-audio/flo/container"
	"github.com/flo-audio/flo/meta"
)

// ReadMetadata parses the META chunk of a file into a metadata record.
// A file without metadata yields an empty record.
func ReadMetadata(b []byte) (*meta.Metadata, error) {
	f, err := container.Parse(b)
	if err != nil {
		return nil, err
	}
	return meta.Unmarshal(f.Meta)
}

// HasMetadata reports whether the file carries a META chunk.
func HasMetadata(b []byte) (bool, error) {
	f, err := container.Parse(b)
	if err != nil {
		return false, err
	}
	return len(f.Meta) > 0, nil
}

// UpdateMetadata returns a new file with the META chunk replaced by md.
// Header, table of contents, DATA and EXTRA are copied unchanged; no
// audio codec runs.
func UpdateMetadata(b []byte, md *meta.Metadata) ([]byte, error) {
	f, err := container.Parse(b)
	if err != nil {
		return nil, err
	}
	metaBytes, err := meta.Marshal(md)
	if err != nil {
		return nil, err
	}
	f.Meta = metaBytes
	return f.Render(), nil
}

// StripMetadata returns a new file with the META chunk removed.
func StripMetadata(b []byte) ([]byte, error) {
	return UpdateMetadata(b, nil)
}
