package decoder

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
)

var _ Decoder = (*ImageDecoder)(nil)

// DecodeBase64 failures wrap one of these.
var (
	ErrInvalidBase64 = errors.New("base64 decode")
	ErrInvalidImage  = errors.New("image decode")
)

// ImageDecoder decodes JPEG, PNG or BMP bytes into *image.RGBA.
type ImageDecoder struct{}

func NewImageDecoder() *ImageDecoder {
	return &ImageDecoder{}
}

func (d *ImageDecoder) Decode(data []byte) (*image.RGBA, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	// Convert to RGBA if needed.
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba, nil
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba, nil
}

// DecodeBase64 decodes a standard base64 payload and then the image in it.
func (d *ImageDecoder) DecodeBase64(payload string) (*image.RGBA, []byte, error) {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidBase64, err)
	}
	img, err := d.Decode(data)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidImage, err)
	}
	return img, data, nil
}
