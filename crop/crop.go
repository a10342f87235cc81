// Package crop maps the on-screen focus square onto source frame pixels and
// cuts that region out of captured frames.
package crop

import (
	"errors"
	"fmt"
	"math"
)

var ErrInvalidArgument = errors.New("invalid argument")

// Rect is a crop rectangle in source-image pixel coordinates.
type Rect struct {
	X, Y          float64
	Width, Height float64
}

// FocusRegion is the on-screen square guiding where the code should be placed.
type FocusRegion struct {
	SquareSize float64
}

// Viewport is the size of the preview surface in viewport pixels.
type Viewport struct {
	Width, Height float64
}

// FocusForViewport returns the focus square for a viewport: half of the
// shorter side.
func FocusForViewport(v Viewport) FocusRegion {
	return FocusRegion{SquareSize: math.Min(v.Width/2, v.Height/2)}
}

// Compute maps a focus square of focusSize viewport pixels onto a centered
// square in a frameW x frameH capture.
func Compute(frameW, frameH, viewportW, viewportH, focusSize float64) (Rect, error) {
	if frameW <= 0 || frameH <= 0 || viewportW <= 0 || viewportH <= 0 || focusSize <= 0 {
		return Rect{}, fmt.Errorf("%w: frame %vx%v viewport %vx%v focus %v",
			ErrInvalidArgument, frameW, frameH, viewportW, viewportH, focusSize)
	}
	scale := math.Min(frameW, frameH) / math.Min(viewportW, viewportH)
	side := focusSize * scale
	return Rect{
		X:      frameW/2 - side/2,
		Y:      frameH/2 - side/2,
		Width:  side,
		Height: side,
	}, nil
}

// Pixels is a Rect snapped to whole source pixels.
type Pixels struct {
	X, Y          int
	Width, Height int
}

// Snap floors every component of r.
func (r Rect) Snap() Pixels {
	return Pixels{
		X:      int(math.Floor(r.X)),
		Y:      int(math.Floor(r.Y)),
		Width:  int(math.Floor(r.Width)),
		Height: int(math.Floor(r.Height)),
	}
}

// Clamp shifts p so it lies inside a frameW x frameH frame. A side longer than
// the frame is shortened to the frame (both sides for a square, so it stays
// square); a negative origin is moved to zero.
func (p Pixels) Clamp(frameW, frameH int) Pixels {
	if p.Width == p.Height {
		side := min(max(p.Width, 0), frameW, frameH)
		p.Width, p.Height = side, side
	}
	p.Width = min(max(p.Width, 0), frameW)
	p.Height = min(max(p.Height, 0), frameH)
	if p.X+p.Width > frameW {
		p.X = frameW - p.Width
	}
	if p.Y+p.Height > frameH {
		p.Y = frameH - p.Height
	}
	p.X = max(p.X, 0)
	p.Y = max(p.Y, 0)
	return p
}

// Contains reports whether p lies fully inside a frameW x frameH frame.
func (p Pixels) Contains(frameW, frameH int) bool {
	return p.X >= 0 && p.Y >= 0 && p.Width >= 0 && p.Height >= 0 &&
		p.X+p.Width <= frameW && p.Y+p.Height <= frameH
}
