// Package scanner runs the capture, crop and decode loop against a live camera.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"scanqr/crop"
	"scanqr/device"
	"scanqr/imaging"
	"scanqr/logs"
)

var (
	// ErrTransientCapture wraps a capture or crop failure of a single frame.
	ErrTransientCapture = errors.New("transient capture error")
	// ErrDecode wraps a decoder failure on a single frame.
	ErrDecode = errors.New("decode error")
	// ErrNoCode reports a replayed frame without a readable code.
	ErrNoCode = errors.New("no code found")
)

// Result is the decoded content of the first readable code.
type Result struct {
	Text       string
	Iterations int
	Elapsed    time.Duration
}

// Capturer is the part of device.Camera the loop drives.
type Capturer interface {
	CaptureFrame(ctx context.Context) (*imaging.Frame, error)
	FinishCapture(ctx context.Context) error
}

// Decoder reads a code out of a cropped region.
type Decoder interface {
	Decode(img image.Image) (text string, ok bool, err error)
}

// Recorder receives per-iteration measurements. metrics.Scan implements it.
type Recorder interface {
	Iteration()
	CaptureFailed()
	DecodeFailed()
	Decoded(d time.Duration, found bool)
}

// Dumper receives every frame together with the crop that was decoded.
type Dumper interface {
	Dump(frame *imaging.Frame, r crop.Rect) error
}

// Options configures a Loop.
type Options struct {
	// FPS caps the number of iterations per second; zero or less means no cap.
	FPS float64
	// Viewport reports the current preview surface size. The focus square is
	// derived from it on every iteration so resizes take effect immediately.
	Viewport func() crop.Viewport
	Recorder Recorder
	Dumper   Dumper
	Logger   *zap.Logger
}

// Loop repeatedly pulls frames from a Capturer until a code is decoded.
type Loop struct {
	capturer Capturer
	cropper  *crop.Cropper
	decoder  Decoder
	limiter  *rate.Limiter
	viewport func() crop.Viewport
	rec      Recorder
	dumper   Dumper
	log      *zap.Logger
}

// New returns a Loop; a nil cropper uses the standard imaging codec.
func New(c Capturer, cropper *crop.Cropper, dec Decoder, opts Options) *Loop {
	if cropper == nil {
		cropper = crop.NewCropper(nil)
	}
	limit := rate.Inf
	if opts.FPS > 0 {
		limit = rate.Limit(opts.FPS)
	}
	rec := opts.Recorder
	if rec == nil {
		rec = nopRecorder{}
	}
	viewport := opts.Viewport
	if viewport == nil {
		viewport = func() crop.Viewport { return crop.Viewport{} }
	}
	return &Loop{
		capturer: c,
		cropper:  cropper,
		decoder:  dec,
		limiter:  rate.NewLimiter(limit, 1),
		viewport: viewport,
		rec:      rec,
		dumper:   opts.Dumper,
		log:      logs.OrNop(opts.Logger).Named("scan"),
	}
}

// Run scans until a code is found, active reports false, or the camera stops
// capturing. active is polled once at the top of every iteration; a capture
// already in flight is allowed to complete. A nil Result with a nil error
// means the loop was stopped without a result.
func (l *Loop) Run(ctx context.Context, active func() bool) (*Result, error) {
	start := time.Now()
	for i := 1; ; i++ {
		if !active() {
			l.log.Debug("scan stopped", zap.Int("iterations", i-1))
			return nil, nil
		}
		if err := l.limiter.Wait(ctx); err != nil {
			return nil, ctx.Err()
		}
		l.rec.Iteration()

		text, found, err := l.step(ctx)
		switch {
		case errors.Is(err, device.ErrNotCapturing):
			l.log.Debug("camera stopped capturing", zap.Int("iterations", i))
			return nil, nil
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			l.log.Debug("frame skipped", zap.Int("iteration", i), zap.Error(err))
			continue
		case !found:
			continue
		}

		if err := l.capturer.FinishCapture(ctx); err != nil {
			l.log.Warn("finish capture", zap.Error(err))
		}
		res := &Result{Text: text, Iterations: i, Elapsed: time.Since(start)}
		l.log.Info("code decoded", zap.Int("iterations", i), zap.Duration("elapsed", res.Elapsed))
		return res, nil
	}
}

// step runs one capture, crop and decode pass.
func (l *Loop) step(ctx context.Context) (string, bool, error) {
	frame, err := l.capturer.CaptureFrame(ctx)
	switch {
	case errors.Is(err, device.ErrNotCapturing):
		return "", false, err
	case err != nil:
		l.rec.CaptureFailed()
		return "", false, fmt.Errorf("%w: %w", ErrTransientCapture, err)
	case frame == nil:
		return "", false, nil
	}
	return l.scan(frame)
}

// scan crops frame to the focus square and decodes it.
func (l *Loop) scan(frame *imaging.Frame) (string, bool, error) {
	v := l.viewport()
	if v.Width <= 0 || v.Height <= 0 {
		// No preview surface: the whole frame is the focus area.
		v = crop.Viewport{Width: float64(frame.Width), Height: float64(frame.Height)}
	}
	focus := crop.FocusForViewport(v)
	rect, err := crop.Compute(float64(frame.Width), float64(frame.Height), v.Width, v.Height, focus.SquareSize)
	if err != nil {
		l.rec.CaptureFailed()
		return "", false, fmt.Errorf("%w: %w", ErrTransientCapture, err)
	}
	buf, err := l.cropper.Crop(frame, rect)
	if err != nil {
		l.rec.CaptureFailed()
		return "", false, fmt.Errorf("%w: %w", ErrTransientCapture, err)
	}
	if l.dumper != nil {
		if err := l.dumper.Dump(frame, rect); err != nil {
			l.log.Debug("dump failed", zap.Error(err))
		}
	}

	began := time.Now()
	text, ok, err := l.decoder.Decode(buf)
	l.rec.Decoded(time.Since(began), ok && err == nil)
	if err != nil {
		l.rec.DecodeFailed()
		return "", false, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return text, ok, nil
}

// Replay runs a frame saved with raw dumps through the same crop and decode
// pass as a live capture. It returns ErrNoCode when the frame holds no code.
func (l *Loop) Replay(path string) (*Result, error) {
	start := time.Now()
	frame, err := LoadRawFrame(path)
	if err != nil {
		return nil, err
	}
	l.rec.Iteration()
	text, ok, err := l.scan(frame)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoCode
	}
	res := &Result{Text: text, Iterations: 1, Elapsed: time.Since(start)}
	l.log.Info("code decoded from replay", zap.String("frame", path), zap.Duration("elapsed", res.Elapsed))
	return res, nil
}

type nopRecorder struct{}

func (nopRecorder) Iteration()                  {}
func (nopRecorder) CaptureFailed()              {}
func (nopRecorder) DecodeFailed()               {}
func (nopRecorder) Decoded(time.Duration, bool) {}
