package device

import (
	"context"
	"math"

	"go.uber.org/zap"
)

const (
	DefaultMaxWidth        = 1920
	DefaultMaxHeight       = 1080
	DefaultAspectTolerance = 0.015
)

// aspectRatio is width/height rounded to two decimals, NaN for a zero height.
func aspectRatio(width, height int) float64 {
	if height == 0 {
		return math.NaN()
	}
	return math.Round(float64(width)/float64(height)*100) / 100
}

// SelectResolution picks the largest entry of list that fits in maxW x maxH
// and whose aspect ratio is within tolerance of maxW:maxH.
func SelectResolution(list []Resolution, maxW, maxH int, tolerance float64) (Resolution, bool) {
	target := aspectRatio(maxW, maxH)
	var (
		best  Resolution
		found bool
	)
	for _, r := range list {
		if r.Width <= 0 || r.Height <= 0 || r.Width > maxW || r.Height > maxH {
			continue
		}
		if math.Abs(aspectRatio(r.Width, r.Height)-target) >= tolerance {
			continue
		}
		if !found || r.Width*r.Height > best.Width*best.Height {
			best, found = r, true
		}
	}
	return best, found
}

// applyResolution chooses a photo resolution, falling back to the video
// stream's list, and applies it to h. The zero Resolution means the driver
// default is kept.
func (c *Camera) applyResolution(ctx context.Context, h Handle) Resolution {
	for _, kind := range []StreamKind{StreamPhoto, StreamVideo} {
		r, ok := SelectResolution(h.Resolutions(kind), c.opts.MaxWidth, c.opts.MaxHeight, c.opts.AspectTolerance)
		if !ok {
			continue
		}
		if err := h.SetResolution(ctx, kind, r); err != nil {
			c.log.Warn("set resolution failed", zap.Stringer("stream", kind), zap.Int("width", r.Width), zap.Int("height", r.Height), zap.Error(err))
			continue
		}
		return r
	}
	return Resolution{}
}
