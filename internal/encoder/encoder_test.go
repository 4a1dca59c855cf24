package encoder

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junsooki/microscope/internal/decoder"
)

func testImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 32; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 8), G: uint8(y * 10), B: 128, A: 255})
		}
	}
	return img
}

func TestForPath(t *testing.T) {
	for path, ext := range map[string]string{
		"a.jpg":  ".jpg",
		"a.JPEG": ".jpg",
		"a.png":  ".png",
		"a.bmp":  ".bmp",
	} {
		enc, err := ForPath(path, 90)
		require.NoError(t, err, path)
		assert.Equal(t, ext, enc.Ext(), path)
	}

	_, err := ForPath("a.tiff", 90)
	var unsupported ErrUnsupportedFormat
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, ".tiff", unsupported.Ext)
}

func TestJPEGQualityClamped(t *testing.T) {
	assert.Equal(t, 1, NewJPEGEncoder(-5).Quality())
	assert.Equal(t, 100, NewJPEGEncoder(500).Quality())
}

func TestEncodeDecodeKeepsDimensions(t *testing.T) {
	dec := decoder.NewImageDecoder()
	for _, enc := range []Encoder{NewJPEGEncoder(95), NewPNGEncoder(), NewBMPEncoder()} {
		data, err := enc.Encode(testImage())
		require.NoError(t, err, enc.Ext())

		out, err := dec.Decode(data)
		require.NoError(t, err, enc.Ext())
		assert.Equal(t, 32, out.Bounds().Dx(), enc.Ext())
		assert.Equal(t, 24, out.Bounds().Dy(), enc.Ext())
	}
}
