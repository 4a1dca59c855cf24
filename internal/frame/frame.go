// Package frame holds decoded camera frames and the single-slot buffer the
// capture loop publishes into.
package frame

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"time"
)

// Layout describes the byte order of a pixel buffer.
type Layout int

const (
	LayoutBGR Layout = iota
	LayoutBGRA
	LayoutRGB
	LayoutRGBA
	LayoutGray
)

// Channels returns the bytes per pixel for the layout, or 0 if unknown.
func (l Layout) Channels() int {
	switch l {
	case LayoutBGR, LayoutRGB:
		return 3
	case LayoutBGRA, LayoutRGBA:
		return 4
	case LayoutGray:
		return 1
	}
	return 0
}

func (l Layout) String() string {
	switch l {
	case LayoutBGR:
		return "bgr"
	case LayoutBGRA:
		return "bgra"
	case LayoutRGB:
		return "rgb"
	case LayoutRGBA:
		return "rgba"
	case LayoutGray:
		return "gray"
	}
	return fmt.Sprintf("layout(%d)", int(l))
}

// ErrUnsupportedLayout is returned when a buffer cannot be converted to RGBA.
var ErrUnsupportedLayout = errors.New("unsupported pixel layout")

// Frame is one captured image. It is immutable: the pixel buffer is copied
// on construction and never handed out directly.
type Frame struct {
	pix       []byte
	Width     int
	Height    int
	Layout    Layout
	Timestamp time.Time
}

// New copies pix into a new Frame after checking it matches the dimensions.
func New(pix []byte, width, height int, layout Layout, ts time.Time) (*Frame, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", width, height)
	}
	ch := layout.Channels()
	if ch == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLayout, layout)
	}
	if want := width * height * ch; len(pix) != want {
		return nil, fmt.Errorf("pixel buffer is %d bytes, want %d for %dx%d %s", len(pix), want, width, height, layout)
	}
	buf := make([]byte, len(pix))
	copy(buf, pix)
	return &Frame{pix: buf, Width: width, Height: height, Layout: layout, Timestamp: ts}, nil
}

// FromImage converts any image into an RGBA frame.
func FromImage(img image.Image, ts time.Time) (*Frame, error) {
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != b.Dx()*4 || b.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}
	return New(rgba.Pix, b.Dx(), b.Dy(), LayoutRGBA, ts)
}

// Pix returns a copy of the pixel buffer.
func (f *Frame) Pix() []byte {
	out := make([]byte, len(f.pix))
	copy(out, f.pix)
	return out
}

// Size returns the frame dimensions formatted as WxH.
func (f *Frame) Size() string {
	return fmt.Sprintf("%dx%d", f.Width, f.Height)
}

// TimestampMillis returns the capture time in Unix milliseconds.
func (f *Frame) TimestampMillis() uint64 {
	return uint64(f.Timestamp.UnixMilli())
}

// RGBA converts the frame into a freshly allocated *image.RGBA.
func (f *Frame) RGBA() (*image.RGBA, error) {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	n := f.Width * f.Height
	dst := img.Pix
	src := f.pix

	switch f.Layout {
	case LayoutRGBA:
		copy(dst, src)
	case LayoutBGRA:
		for i := 0; i < n; i++ {
			dst[i*4+0] = src[i*4+2]
			dst[i*4+1] = src[i*4+1]
			dst[i*4+2] = src[i*4+0]
			dst[i*4+3] = src[i*4+3]
		}
	case LayoutBGR:
		for i := 0; i < n; i++ {
			dst[i*4+0] = src[i*3+2]
			dst[i*4+1] = src[i*3+1]
			dst[i*4+2] = src[i*3+0]
			dst[i*4+3] = 0xff
		}
	case LayoutRGB:
		for i := 0; i < n; i++ {
			dst[i*4+0] = src[i*3+0]
			dst[i*4+1] = src[i*3+1]
			dst[i*4+2] = src[i*3+2]
			dst[i*4+3] = 0xff
		}
	case LayoutGray:
		for i := 0; i < n; i++ {
			v := src[i]
			dst[i*4+0] = v
			dst[i*4+1] = v
			dst[i*4+2] = v
			dst[i*4+3] = 0xff
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLayout, f.Layout)
	}
	return img, nil
}
