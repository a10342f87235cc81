package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"scanqr/imaging"
	"scanqr/logs"
)

// CameraFrame is the still frame type produced by the capture device.
type CameraFrame = imaging.Frame

// State is the lifecycle state of a Camera.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StatePreviewing
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StatePreviewing:
		return "previewing"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Options configures a Camera.
type Options struct {
	// DeviceID forces a specific device; empty prefers the back panel.
	DeviceID        string
	MaxWidth        int
	MaxHeight       int
	AspectTolerance float64
	CaptureFormat   imaging.PixelFormat
	// Timeout bounds initialization, preview start, each capture and teardown.
	Timeout time.Duration
	Display DisplayLock
	Logger  *zap.Logger
}

func (o *Options) setDefaults() {
	if o.MaxWidth <= 0 {
		o.MaxWidth = DefaultMaxWidth
	}
	if o.MaxHeight <= 0 {
		o.MaxHeight = DefaultMaxHeight
	}
	if o.AspectTolerance <= 0 {
		o.AspectTolerance = DefaultAspectTolerance
	}
	if o.CaptureFormat == imaging.FormatUnknown {
		o.CaptureFormat = imaging.FormatRGB24
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
}

// Session is the live camera resource. It exists only between a successful
// Initialize and the matching Teardown.
type Session struct {
	ID         string
	Device     Info
	Resolution Resolution

	handle     Handle
	capture    LowLagCapture
	unregister func()

	initialized bool
	previewing  bool
	displayHeld bool
	finished    bool
	captures    sync.WaitGroup
}

// SessionInfo is a read-only snapshot of the live session.
type SessionInfo struct {
	ID          string
	Device      Info
	Resolution  Resolution
	Initialized bool
	Previewing  bool
}

// Camera owns the physical camera: at most one Session exists at a time and
// all lifecycle flags are read and written through its methods.
type Camera struct {
	driver Driver
	opts   Options
	log    *zap.Logger

	mu        sync.Mutex
	state     State
	session   *Session
	onFailure func(error)
}

// NewCamera returns an uninitialized Camera backed by driver.
func NewCamera(driver Driver, opts Options) *Camera {
	opts.setDefaults()
	return &Camera{
		driver: driver,
		opts:   opts,
		log:    logs.OrNop(opts.Logger).Named("camera"),
	}
}

// SetFailureHandler sets the callback invoked when the driver reports a
// hardware failure. Without a handler the camera tears itself down.
func (c *Camera) SetFailureHandler(fn func(error)) {
	c.mu.Lock()
	c.onFailure = fn
	c.mu.Unlock()
}

// State returns the current lifecycle state.
func (c *Camera) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Initialized reports whether a capture session is open.
func (c *Camera) Initialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil && c.session.initialized
}

// Previewing reports whether the live preview is running.
func (c *Camera) Previewing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil && c.session.previewing
}

// Session returns a snapshot of the live session, or false when there is none.
func (c *Camera) Session() (SessionInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.session
	if s == nil {
		return SessionInfo{}, false
	}
	return SessionInfo{
		ID:          s.ID,
		Device:      s.Device,
		Resolution:  s.Resolution,
		Initialized: s.initialized,
		Previewing:  s.previewing,
	}, true
}

// Initialize selects a camera, opens it and prepares a low-lag capture
// session. Calling it on an initialized camera is a no-op.
func (c *Camera) Initialize(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.session != nil:
		c.mu.Unlock()
		return nil
	case c.state != StateUninitialized:
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: camera is %s", ErrDeviceInit, state)
	}
	c.state = StateInitializing
	c.mu.Unlock()

	s, err := c.open(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = StateUninitialized
		c.log.Warn("initialize failed", zap.Error(err))
		return err
	}
	c.session = s
	c.state = StateReady
	c.log.Info("camera initialized",
		zap.String("session", s.ID),
		zap.String("device", s.Device.ID),
		zap.Stringer("panel", s.Device.Panel),
		zap.Int("width", s.Resolution.Width),
		zap.Int("height", s.Resolution.Height))
	return nil
}

// open runs the driver calls on their own goroutine so a driver that ignores
// ctx cannot hold Initialize past the timeout. A session that opens after the
// deadline is closed again.
func (c *Camera) open(ctx context.Context) (*Session, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	type opened struct {
		s   *Session
		err error
	}
	done := make(chan opened, 1)
	go func() {
		s, err := c.openSession(ctx)
		done <- opened{s, err}
	}()

	select {
	case r := <-done:
		cancel()
		return r.s, r.err
	case <-ctx.Done():
		err := ctx.Err()
		cancel()
		go func() {
			if r := <-done; r.s != nil {
				c.log.Warn("camera opened after init gave up, closing", zap.String("session", r.s.ID))
				c.discard(r.s)
			}
		}()
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %w: %w", ErrDeviceInit, ErrTimeout, err)
		}
		return nil, classifyInit(err)
	}
}

func (c *Camera) discard(s *Session) {
	s.unregister()
	if err := s.handle.Close(); err != nil {
		c.log.Debug("close after failed init", zap.Error(err))
	}
}

func (c *Camera) openSession(ctx context.Context) (*Session, error) {
	devices, err := c.driver.FindAll(ctx)
	if err != nil {
		return nil, classifyInit(err)
	}
	info, ok := c.pickDevice(devices)
	if !ok {
		return nil, ErrNoCameraAvailable
	}

	h, err := c.driver.Open(ctx, info.ID)
	if err != nil {
		return nil, classifyInit(err)
	}
	s := &Session{ID: uuid.NewString(), Device: info, handle: h}
	s.unregister = h.OnFailed(func(err error) { c.failed(s, err) })

	s.Resolution = c.applyResolution(ctx, h)
	capture, err := h.PrepareLowLagCapture(ctx, c.opts.CaptureFormat, s.Resolution)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		c.discard(s)
		return nil, classifyInit(err)
	}
	s.capture = capture
	s.initialized = true
	return s, nil
}

func (c *Camera) pickDevice(devices []Info) (Info, bool) {
	if c.opts.DeviceID != "" {
		for _, d := range devices {
			if d.ID == c.opts.DeviceID {
				return d, true
			}
		}
		return Info{}, false
	}
	return FindCameraDeviceByPanel(devices, PanelBack)
}

// StartPreview keeps the display awake and starts the live preview.
func (c *Camera) StartPreview(ctx context.Context) error {
	c.mu.Lock()
	s := c.session
	switch {
	case s == nil || !s.initialized:
		c.mu.Unlock()
		return fmt.Errorf("%w: camera not initialized", ErrPreview)
	case s.previewing:
		c.mu.Unlock()
		return nil
	}
	if c.opts.Display != nil && !s.displayHeld {
		if err := c.opts.Display.RequestActive(); err != nil {
			c.log.Debug("display request failed", zap.Error(err))
		} else {
			s.displayHeld = true
		}
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	if err := s.handle.StartPreview(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w: %w", ErrPreview, ErrTimeout, err)
		}
		return fmt.Errorf("%w: %w", ErrPreview, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != s {
		return fmt.Errorf("%w: camera torn down during start", ErrPreview)
	}
	s.previewing = true
	c.state = StatePreviewing
	c.log.Debug("preview started", zap.String("session", s.ID))
	return nil
}

// CaptureFrame grabs one still frame from the low-lag session. It returns
// ErrNotCapturing when the session is gone or was torn down while the capture
// was in flight.
func (c *Camera) CaptureFrame(ctx context.Context) (*CameraFrame, error) {
	c.mu.Lock()
	s := c.session
	if s == nil || !s.previewing || s.finished || s.capture == nil {
		c.mu.Unlock()
		return nil, ErrNotCapturing
	}
	s.captures.Add(1)
	c.mu.Unlock()
	defer s.captures.Done()

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	frame, err := s.capture.Capture(ctx)

	c.mu.Lock()
	stale := c.session != s
	c.mu.Unlock()
	switch {
	case stale, errors.Is(err, ErrNotCapturing):
		return nil, ErrNotCapturing
	case errors.Is(err, context.DeadlineExceeded):
		return nil, fmt.Errorf("%w: %w", ErrTimeout, err)
	case err != nil:
		return nil, err
	}
	return frame, nil
}

// FinishCapture completes the low-lag session after a successful scan so the
// camera is left with no capture in flight.
func (c *Camera) FinishCapture(ctx context.Context) error {
	c.mu.Lock()
	s := c.session
	if s == nil || s.finished || s.capture == nil {
		c.mu.Unlock()
		return nil
	}
	s.finished = true
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	return s.capture.Finish(ctx)
}

// Teardown releases every camera resource: the low-lag session, the preview,
// the display request, the failure registration and the device itself. It is
// safe to call from any state and more than once.
func (c *Camera) Teardown(ctx context.Context) error {
	c.mu.Lock()
	s := c.session
	if s == nil {
		if c.state != StateInitializing {
			c.state = StateUninitialized
		}
		c.mu.Unlock()
		return nil
	}
	c.session = nil
	c.state = StateStopping
	finished := s.finished
	s.finished = true
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	var errs []error
	if s.capture != nil && !finished {
		if err := s.capture.Finish(ctx); err != nil {
			errs = append(errs, fmt.Errorf("finish capture: %w", err))
		}
	}
	waitGroup(ctx, &s.captures)
	if s.previewing {
		if err := s.handle.StopPreview(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop preview: %w", err))
		}
	}
	if s.displayHeld && c.opts.Display != nil {
		if err := c.opts.Display.RequestRelease(); err != nil {
			c.log.Debug("display release failed", zap.Error(err))
		}
	}
	if s.unregister != nil {
		s.unregister()
	}
	if err := s.handle.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close device: %w", err))
	}

	c.mu.Lock()
	s.initialized, s.previewing = false, false
	c.state = StateUninitialized
	c.mu.Unlock()

	err := errors.Join(errs...)
	if err != nil {
		c.log.Warn("teardown finished with errors", zap.String("session", s.ID), zap.Error(err))
	} else {
		c.log.Info("camera released", zap.String("session", s.ID))
	}
	return err
}

// failed handles an asynchronous hardware failure for session s.
func (c *Camera) failed(s *Session, err error) {
	c.mu.Lock()
	current := c.session == s
	handler := c.onFailure
	c.mu.Unlock()
	if !current {
		return
	}
	c.log.Warn("camera failed", zap.String("session", s.ID), zap.Error(err))
	if handler != nil {
		handler(err)
		return
	}
	go func() {
		_ = c.Teardown(context.Background())
	}()
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
