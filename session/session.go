// Package session wires the activity gate, the lifecycle coordinator, the
// camera and the scan loop into one scanning page.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"scanqr/activity"
	"scanqr/device"
	"scanqr/lifecycle"
	"scanqr/logs"
	"scanqr/scanner"
)

const (
	StatusStarting = "Starting camera..."
	StatusScanning = "Point the camera at a QR code"
	StatusStopping = "Stopping camera..."
	StatusStopped  = "Camera stopped"
)

// Camera is the capture device as driven by a session.
type Camera interface {
	Initialize(ctx context.Context) error
	StartPreview(ctx context.Context) error
	Teardown(ctx context.Context) error
	SetFailureHandler(fn func(error))
}

// Scanner runs the capture loop; *scanner.Loop implements it.
type Scanner interface {
	Run(ctx context.Context, active func() bool) (*scanner.Result, error)
}

// Presenter is the presentation boundary: a status line, dialogs for
// non-fatal failures and the final result.
type Presenter interface {
	SetStatusMessage(msg string)
	ShowMessage(msg string)
	ShowResult(text string)
}

// Metrics receives session level measurements. metrics.Metrics implements it.
type Metrics interface {
	CameraActive(active bool)
	CameraError(err error)
	ResultDelivered()
}

// Options configures a Session.
type Options struct {
	// Continuous re-arms the scan after each result instead of finishing.
	Continuous bool
	// ShutdownTimeout bounds the final teardown and each suspend acknowledgement.
	ShutdownTimeout time.Duration
	Metrics         Metrics
	Observer        lifecycle.Observer
	Logger          *zap.Logger
}

// Session is one scanning page: it owns the gate, the coordinator and the
// background scan loop.
type Session struct {
	camera    Camera
	scanner   Scanner
	presenter Presenter
	opts      Options
	log       *zap.Logger

	gate  *activity.Gate
	coord *lifecycle.Coordinator

	runCtx  context.Context
	found   chan scanner.Result
	results chan scanner.Result

	mu       sync.Mutex
	loopStop *atomic.Bool
	loopDone chan struct{}
}

// New returns a session for camera scanned by sc.
func New(camera Camera, sc Scanner, p Presenter, opts Options) *Session {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	return &Session{
		camera:    camera,
		scanner:   sc,
		presenter: p,
		opts:      opts,
		log:       logs.OrNop(opts.Logger).Named("session"),
		gate:      activity.NewGate(),
		found:     make(chan scanner.Result, 1),
		results:   make(chan scanner.Result, 16),
	}
}

// Gate exposes the activity gate so event sources can be attached directly.
func (s *Session) Gate() *activity.Gate { return s.gate }

// Results delivers every decoded result; it is closed when Run returns.
func (s *Session) Results() <-chan scanner.Result { return s.results }

// Run navigates to the scanning page and processes lifecycle events until a
// result is decoded (single-shot mode) or ctx is done. The camera is always
// released before Run returns.
func (s *Session) Run(ctx context.Context, events <-chan activity.Event) (*scanner.Result, error) {
	defer close(s.results)
	s.runCtx = ctx
	s.coord = lifecycle.New(ctx, s.gate.Active, transitions{s}, lifecycle.Options{
		Observer: s.opts.Observer,
		Logger:   s.opts.Logger,
	})
	unsubscribe := s.gate.Subscribe(func(st activity.State) {
		s.log.Debug("activity changed", zap.Bool("active", st.Active()),
			zap.Bool("page", st.PageActive), zap.Bool("suspending", st.Suspending), zap.Bool("visible", st.WindowVisible))
		s.coord.Notify()
	})
	defer unsubscribe()
	s.camera.SetFailureHandler(s.coord.Fail)
	defer s.camera.SetFailureHandler(nil)

	s.gate.Apply(activity.Event{Kind: activity.NavigatedTo})
	for {
		select {
		case <-ctx.Done():
			err := s.shutdown()
			return nil, errors.Join(ctx.Err(), err)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.handle(ev)
		case res := <-s.found:
			s.deliver(res)
			if !s.opts.Continuous {
				return &res, s.shutdown()
			}
			// Leave and re-enter the page so the camera restarts cleanly.
			s.gate.Apply(activity.Event{Kind: activity.NavigatedFrom})
			s.gate.Apply(activity.Event{Kind: activity.NavigatedTo})
		}
	}
}

func (s *Session) handle(ev activity.Event) {
	s.log.Debug("lifecycle event", zap.Stringer("kind", ev.Kind))
	s.gate.Apply(ev)
	if ev.Kind != activity.Suspending || ev.Ack == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if err := s.coord.WaitIdle(ctx); err != nil {
			s.log.Warn("suspend acknowledged before camera was released", zap.Error(err))
		}
		ev.Ack()
	}()
}

func (s *Session) deliver(res scanner.Result) {
	s.log.Info("scan result", zap.Int("length", len(res.Text)), zap.Int("iterations", res.Iterations))
	s.opts.Metrics.ResultDelivered()
	s.presenter.ShowResult(res.Text)
	select {
	case s.results <- res:
	default:
		s.log.Warn("result dropped, no reader")
	}
}

func (s *Session) shutdown() error {
	s.gate.Apply(activity.Event{Kind: activity.NavigatedFrom})
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := s.coord.WaitIdle(ctx); err != nil {
		return err
	}
	s.presenter.SetStatusMessage(StatusStopped)
	return nil
}

// startCamera brings the camera up and launches the scan loop. On failure the
// camera is torn down again and the message handed to the presenter.
func (s *Session) startCamera(ctx context.Context) error {
	s.presenter.SetStatusMessage(StatusStarting)
	if err := s.camera.Initialize(ctx); err != nil {
		return s.startFailed(ctx, err)
	}
	if err := s.camera.StartPreview(ctx); err != nil {
		return s.startFailed(ctx, err)
	}
	s.opts.Metrics.CameraActive(true)
	s.presenter.SetStatusMessage(StatusScanning)
	s.launchLoop()
	return nil
}

func (s *Session) startFailed(ctx context.Context, err error) error {
	s.opts.Metrics.CameraError(err)
	if terr := s.camera.Teardown(ctx); terr != nil {
		s.log.Debug("teardown after failed start", zap.Error(terr))
	}
	s.presenter.ShowMessage(device.Message(err))
	return err
}

func (s *Session) launchLoop() {
	stop := new(atomic.Bool)
	done := make(chan struct{})
	s.mu.Lock()
	s.loopStop, s.loopDone = stop, done
	s.mu.Unlock()

	go func() {
		defer close(done)
		res, err := s.scanner.Run(s.runCtx, func() bool {
			return !stop.Load() && s.gate.Active()
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.log.Warn("scan loop ended", zap.Error(err))
		}
		if res != nil {
			select {
			case s.found <- *res:
			default:
			}
		}
	}()
}

// cleanupCamera stops the scan loop and releases the camera.
func (s *Session) cleanupCamera(ctx context.Context) error {
	s.presenter.SetStatusMessage(StatusStopping)
	s.mu.Lock()
	stop, done := s.loopStop, s.loopDone
	s.loopStop, s.loopDone = nil, nil
	s.mu.Unlock()
	if stop != nil {
		stop.Store(true)
	}

	err := s.camera.Teardown(ctx)
	s.opts.Metrics.CameraActive(false)

	if done != nil {
		wait, cancel := context.WithTimeout(ctx, s.opts.ShutdownTimeout)
		defer cancel()
		select {
		case <-done:
		case <-wait.Done():
			s.log.Warn("scan loop still running after teardown")
		}
	}
	return err
}

// transitions adapts a Session to lifecycle.Transitions.
type transitions struct{ s *Session }

func (t transitions) Start(ctx context.Context) error   { return t.s.startCamera(ctx) }
func (t transitions) Cleanup(ctx context.Context) error { return t.s.cleanupCamera(ctx) }

type nopMetrics struct{}

func (nopMetrics) CameraActive(bool) {}
func (nopMetrics) CameraError(error) {}
func (nopMetrics) ResultDelivered()  {}
