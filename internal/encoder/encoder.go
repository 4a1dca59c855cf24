package encoder

import (
	"fmt"
	"image"
	"path/filepath"
	"strings"
)

// Encoder encodes an image into a container format.
type Encoder interface {
	Encode(img image.Image) ([]byte, error)
	Ext() string
}

// ErrUnsupportedFormat is returned by ForPath for unknown extensions.
type ErrUnsupportedFormat struct {
	Ext string
}

func (e ErrUnsupportedFormat) Error() string {
	return fmt.Sprintf("unsupported image format %q", e.Ext)
}

// ForPath picks an encoder from the file extension of path. quality only
// applies to JPEG.
func ForPath(path string, quality int) (Encoder, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".jpg", ".jpeg":
		return NewJPEGEncoder(quality), nil
	case ".png":
		return NewPNGEncoder(), nil
	case ".bmp":
		return NewBMPEncoder(), nil
	}
	return nil, ErrUnsupportedFormat{Ext: ext}
}
