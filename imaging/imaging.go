// Package imaging wraps the pixel decode, resample and encode primitives the
// scanner needs. The camera hands over frames either as packed RGB24 (gocam)
// or as an encoded still (PNG/JPEG from a low-lag photo session).
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
)

var (
	ErrNoFrame     = errors.New("no frame")
	ErrBadFrame    = errors.New("bad frame")
	ErrBadBounds   = errors.New("resample bounds outside image")
	ErrBadOutSize  = errors.New("bad out size")
	ErrUnsupported = errors.New("unsupported pixel format")
)

// PixelFormat describes how Frame.Data is laid out.
type PixelFormat int

const (
	FormatUnknown PixelFormat = iota
	FormatRGB24
	FormatPNG
	FormatJPEG
)

func (f PixelFormat) String() string {
	switch f {
	case FormatRGB24:
		return "rgb24"
	case FormatPNG:
		return "png"
	case FormatJPEG:
		return "jpeg"
	default:
		return "unknown"
	}
}

// Frame is one still image produced by the capture device.
type Frame struct {
	Width  int
	Height int
	Format PixelFormat
	Data   []byte
}

// Decoded is a frame turned into an addressable image.
type Decoded struct {
	Image  image.Image
	Width  int
	Height int
	Format PixelFormat
}

// Codec is the imaging collaborator used by the frame cropper.
type Codec interface {
	Decode(f *Frame) (*Decoded, error)
	Resample(img image.Image, bounds image.Rectangle, outW, outH int) (*image.RGBA, error)
	EncodePNG(img image.Image) ([]byte, error)
}

// Std implements Codec with the standard image decoders and x/image/draw scalers.
type Std struct {
	// Interpolator used when the output size differs from bounds. Defaults to ApproxBiLinear.
	Interpolator draw.Interpolator
}

// NewStd returns a Std codec using bilinear approximation.
func NewStd() *Std {
	return &Std{Interpolator: draw.ApproxBiLinear}
}

// Decode converts f into an image. RGB24 frames are repacked into RGBA, encoded
// frames go through image.Decode.
func (s *Std) Decode(f *Frame) (*Decoded, error) {
	if f == nil {
		return nil, ErrNoFrame
	}
	switch f.Format {
	case FormatRGB24:
		img, err := FromRGB24(f.Width, f.Height, f.Data)
		if err != nil {
			return nil, err
		}
		return &Decoded{Image: img, Width: f.Width, Height: f.Height, Format: f.Format}, nil
	case FormatPNG, FormatJPEG:
		img, _, err := image.Decode(bytes.NewReader(f.Data))
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.Format, err)
		}
		b := img.Bounds()
		return &Decoded{Image: img, Width: b.Dx(), Height: b.Dy(), Format: f.Format}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, f.Format)
	}
}

// Resample copies the bounds region of img (coordinates relative to img's
// origin) into a fresh outW x outH RGBA buffer.
func (s *Std) Resample(img image.Image, bounds image.Rectangle, outW, outH int) (*image.RGBA, error) {
	if img == nil {
		return nil, ErrNoFrame
	}
	if outW <= 0 || outH <= 0 {
		return nil, ErrBadOutSize
	}
	src := img.Bounds()
	sr := bounds.Add(src.Min)
	if bounds.Empty() || !sr.In(src) {
		return nil, fmt.Errorf("%w: %v not in %v", ErrBadBounds, bounds, src)
	}
	dst := image.NewRGBA(image.Rect(0, 0, outW, outH))
	if sr.Dx() == outW && sr.Dy() == outH {
		draw.Copy(dst, image.Point{}, img, sr, draw.Src, nil)
		return dst, nil
	}
	interp := s.Interpolator
	if interp == nil {
		interp = draw.ApproxBiLinear
	}
	interp.Scale(dst, dst.Bounds(), img, sr, draw.Src, nil)
	return dst, nil
}

// EncodePNG encodes img as PNG.
func (s *Std) EncodePNG(img image.Image) ([]byte, error) {
	if img == nil {
		return nil, ErrNoFrame
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MaxFrameSide bounds frame dimensions; larger values come from corrupt
// input, not a camera. The RGBA size stays within a 32-bit int.
const MaxFrameSide = 16384

// FromRGB24 repacks a packed RGB24 buffer into an opaque RGBA image.
func FromRGB24(width, height int, data []byte) (*image.RGBA, error) {
	if width <= 0 || height <= 0 || width > MaxFrameSide || height > MaxFrameSide || len(data) < width*height*3 {
		return nil, ErrBadFrame
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i, j := 0, 0; i < width*height*3; i, j = i+3, j+4 {
		img.Pix[j] = data[i]
		img.Pix[j+1] = data[i+1]
		img.Pix[j+2] = data[i+2]
		img.Pix[j+3] = 0xff
	}
	return img, nil
}
