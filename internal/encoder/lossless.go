package encoder

import (
	"bytes"
	"image"
	"image/png"

	"golang.org/x/image/bmp"
)

// PNGEncoder encodes frames as PNG.
type PNGEncoder struct {
	enc png.Encoder
}

func NewPNGEncoder() *PNGEncoder {
	return &PNGEncoder{enc: png.Encoder{CompressionLevel: png.BestSpeed}}
}

func (e *PNGEncoder) Ext() string { return ".png" }

func (e *PNGEncoder) Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := e.enc.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BMPEncoder encodes frames as uncompressed BMP.
type BMPEncoder struct{}

func NewBMPEncoder() *BMPEncoder {
	return &BMPEncoder{}
}

func (e *BMPEncoder) Ext() string { return ".bmp" }

func (e *BMPEncoder) Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := bmp.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
