package crop

import (
	"fmt"
	"image"

	"scanqr/imaging"
)

// Cropper cuts a Rect out of captured frames. Pixel work is delegated to an
// imaging.Codec; the cropper owns the bounds math only.
type Cropper struct {
	codec imaging.Codec
}

// NewCropper returns a Cropper backed by codec, or by imaging.NewStd when codec is nil.
func NewCropper(codec imaging.Codec) *Cropper {
	if codec == nil {
		codec = imaging.NewStd()
	}
	return &Cropper{codec: codec}
}

// Crop returns the region r of frame. A nil frame yields a nil buffer and no error.
// r is floored to whole pixels and shifted back inside the frame when rounding
// pushes it over an edge.
func (c *Cropper) Crop(frame *imaging.Frame, r Rect) (*image.RGBA, error) {
	if frame == nil {
		return nil, nil
	}
	decoded, err := c.codec.Decode(frame)
	if err != nil {
		return nil, err
	}
	px := r.Snap().Clamp(decoded.Width, decoded.Height)
	if px.Width <= 0 || px.Height <= 0 {
		return nil, fmt.Errorf("%w: empty crop %+v in %dx%d", ErrInvalidArgument, px, decoded.Width, decoded.Height)
	}
	bounds := image.Rect(px.X, px.Y, px.X+px.Width, px.Y+px.Height)
	return c.codec.Resample(decoded.Image, bounds, px.Width, px.Height)
}

// CropPNG crops like Crop and re-encodes the region as PNG.
func (c *Cropper) CropPNG(frame *imaging.Frame, r Rect) ([]byte, error) {
	buf, err := c.Crop(frame, r)
	if err != nil || buf == nil {
		return nil, err
	}
	return c.codec.EncodePNG(buf)
}
