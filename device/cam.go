package device

import (
	"context"
	"fmt"
	"sync"

	gocam "github.com/svanichkin/gocam"
	"go.uber.org/zap"

	"scanqr/imaging"
	"scanqr/logs"
)

const gocamDeviceID = "default"

// GocamDriver exposes the system camera through gocam. gocam opens a single
// default device and negotiates the stream size itself, so the resolution
// lists it reports are empty.
type GocamDriver struct {
	log   *zap.Logger
	start func(ctx context.Context) (<-chan gocam.Frame, error)
}

// NewGocamDriver returns a driver for the system camera.
func NewGocamDriver(log *zap.Logger) *GocamDriver {
	return &GocamDriver{log: logs.OrNop(log).Named("gocam"), start: gocam.StartStream}
}

// FindAll reports the single default device.
func (d *GocamDriver) FindAll(ctx context.Context) ([]Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []Info{{ID: gocamDeviceID, Name: "system camera", Panel: PanelUnknown}}, nil
}

// Open starts the gocam stream. The stream outlives ctx and ends on Close.
func (d *GocamDriver) Open(ctx context.Context, id string) (Handle, error) {
	if id != gocamDeviceID {
		return nil, fmt.Errorf("%w: unknown device %q", ErrNoCameraAvailable, id)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	streamCtx, cancel := context.WithCancel(context.Background())
	src, err := d.start(streamCtx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("camera start: %w", err)
	}
	h := &gocamHandle{
		log:      d.log,
		cancel:   cancel,
		done:     make(chan struct{}),
		fresh:    make(chan struct{}),
		handlers: make(map[int]func(error)),
	}
	go h.pump(src)
	return h, nil
}

type gocamHandle struct {
	log    *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.Mutex
	latest     *gocam.Frame
	seq        uint64
	fresh      chan struct{}
	closing    bool
	previewing bool
	handlers   map[int]func(error)
	nextID     int
}

// pump keeps only the newest frame; a slow consumer never stalls the stream.
func (h *gocamHandle) pump(src <-chan gocam.Frame) {
	defer close(h.done)
	for f := range src {
		frame := f
		h.mu.Lock()
		h.latest = &frame
		h.seq++
		close(h.fresh)
		h.fresh = make(chan struct{})
		h.mu.Unlock()
	}

	h.mu.Lock()
	closing := h.closing
	handlers := make([]func(error), 0, len(h.handlers))
	for _, fn := range h.handlers {
		handlers = append(handlers, fn)
	}
	h.mu.Unlock()
	if closing {
		return
	}
	h.log.Warn("camera stream ended unexpectedly")
	for _, fn := range handlers {
		fn(ErrStreamLost)
	}
}

func (h *gocamHandle) Resolutions(StreamKind) []Resolution { return nil }

func (h *gocamHandle) SetResolution(context.Context, StreamKind, Resolution) error { return nil }

func (h *gocamHandle) PrepareLowLagCapture(_ context.Context, format imaging.PixelFormat, _ Resolution) (LowLagCapture, error) {
	switch format {
	case imaging.FormatRGB24, imaging.FormatPNG:
	default:
		return nil, fmt.Errorf("gocam capture: %w: %s", imaging.ErrUnsupported, format)
	}
	return &gocamCapture{h: h, format: format, codec: imaging.NewStd()}, nil
}

func (h *gocamHandle) StartPreview(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return ErrStreamLost
	}
	h.previewing = true
	return ctx.Err()
}

func (h *gocamHandle) StopPreview(context.Context) error {
	h.mu.Lock()
	h.previewing = false
	h.mu.Unlock()
	return nil
}

func (h *gocamHandle) OnFailed(fn func(error)) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.handlers[id] = fn
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		delete(h.handlers, id)
		h.mu.Unlock()
	}
}

func (h *gocamHandle) Close() error {
	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		return nil
	}
	h.closing = true
	h.mu.Unlock()
	h.cancel()
	return nil
}

// next waits for a frame newer than after.
func (h *gocamHandle) next(ctx context.Context, after uint64) (*gocam.Frame, uint64, error) {
	for {
		h.mu.Lock()
		if h.closing {
			h.mu.Unlock()
			return nil, after, ErrNotCapturing
		}
		if h.latest != nil && h.seq > after {
			f, seq := h.latest, h.seq
			h.mu.Unlock()
			return f, seq, nil
		}
		fresh := h.fresh
		h.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, after, ctx.Err()
		case <-h.done:
			return nil, after, ErrNotCapturing
		case <-fresh:
		}
	}
}

type gocamCapture struct {
	h      *gocamHandle
	format imaging.PixelFormat
	codec  *imaging.Std

	mu       sync.Mutex
	lastSeq  uint64
	finished bool
	inflight sync.WaitGroup
}

func (c *gocamCapture) Capture(ctx context.Context) (*imaging.Frame, error) {
	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		return nil, ErrNotCapturing
	}
	c.inflight.Add(1)
	after := c.lastSeq
	c.mu.Unlock()
	defer c.inflight.Done()

	f, seq, err := c.h.next(ctx, after)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.lastSeq = seq
	c.mu.Unlock()

	frame := &imaging.Frame{Width: f.Width, Height: f.Height, Format: imaging.FormatRGB24, Data: f.Data}
	if c.format == imaging.FormatPNG {
		img, err := imaging.FromRGB24(f.Width, f.Height, f.Data)
		if err != nil {
			return nil, err
		}
		encoded, err := c.codec.EncodePNG(img)
		if err != nil {
			return nil, err
		}
		frame.Format, frame.Data = imaging.FormatPNG, encoded
	}
	return frame, nil
}

func (c *gocamCapture) Finish(ctx context.Context) error {
	c.mu.Lock()
	c.finished = true
	c.mu.Unlock()
	waitGroup(ctx, &c.inflight)
	return ctx.Err()
}
