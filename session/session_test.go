package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanqr/activity"
	"scanqr/device"
	"scanqr/scanner"
)

type fakeCamera struct {
	mu          sync.Mutex
	initErr     error
	previewErr  error
	inits       int
	previews    int
	teardowns   int
	initialized bool
	onFailure   func(error)
}

func (c *fakeCamera) Initialize(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inits++
	if c.initErr != nil {
		return c.initErr
	}
	c.initialized = true
	return nil
}

func (c *fakeCamera) StartPreview(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.previews++
	return c.previewErr
}

func (c *fakeCamera) Teardown(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardowns++
	c.initialized = false
	return nil
}

func (c *fakeCamera) SetFailureHandler(fn func(error)) {
	c.mu.Lock()
	c.onFailure = fn
	c.mu.Unlock()
}

func (c *fakeCamera) fail(err error) {
	c.mu.Lock()
	fn := c.onFailure
	c.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (c *fakeCamera) counts() (inits, teardowns int, initialized bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inits, c.teardowns, c.initialized
}

type fakeScanner struct {
	mu      sync.Mutex
	runs    int
	running bool
	texts   chan string
}

func newFakeScanner() *fakeScanner {
	return &fakeScanner{texts: make(chan string, 4)}
}

func (f *fakeScanner) Run(ctx context.Context, active func() bool) (*scanner.Result, error) {
	f.mu.Lock()
	f.runs++
	f.running = true
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.running = false
		f.mu.Unlock()
	}()
	for i := 1; ; i++ {
		if !active() {
			return nil, nil
		}
		select {
		case text := <-f.texts:
			return &scanner.Result{Text: text, Iterations: i}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func (f *fakeScanner) state() (runs int, running bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs, f.running
}

type fakePresenter struct {
	mu       sync.Mutex
	statuses []string
	messages []string
	results  []string
}

func (p *fakePresenter) SetStatusMessage(msg string) {
	p.mu.Lock()
	p.statuses = append(p.statuses, msg)
	p.mu.Unlock()
}

func (p *fakePresenter) ShowMessage(msg string) {
	p.mu.Lock()
	p.messages = append(p.messages, msg)
	p.mu.Unlock()
}

func (p *fakePresenter) ShowResult(text string) {
	p.mu.Lock()
	p.results = append(p.results, text)
	p.mu.Unlock()
}

func (p *fakePresenter) snapshot() (statuses, messages, results []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.statuses...), append([]string(nil), p.messages...), append([]string(nil), p.results...)
}

type runOutcome struct {
	res *scanner.Result
	err error
}

func start(t *testing.T, s *Session, ctx context.Context, events chan activity.Event) <-chan runOutcome {
	t.Helper()
	out := make(chan runOutcome, 1)
	go func() {
		res, err := s.Run(ctx, events)
		out <- runOutcome{res, err}
	}()
	return out
}

func wait(t *testing.T, out <-chan runOutcome) runOutcome {
	t.Helper()
	select {
	case o := <-out:
		return o
	case <-time.After(3 * time.Second):
		t.Fatal("session did not finish")
		return runOutcome{}
	}
}

func TestSingleShotResult(t *testing.T) {
	cam, sc, p := &fakeCamera{}, newFakeScanner(), &fakePresenter{}
	s := New(cam, sc, p, Options{})
	sc.texts <- "HELLO"

	o := wait(t, start(t, s, context.Background(), nil))
	require.NoError(t, o.err)
	require.NotNil(t, o.res)
	assert.Equal(t, "HELLO", o.res.Text)

	inits, teardowns, initialized := cam.counts()
	assert.Equal(t, 1, inits)
	assert.Equal(t, 1, teardowns)
	assert.False(t, initialized)

	statuses, messages, results := p.snapshot()
	assert.Equal(t, []string{"HELLO"}, results)
	assert.Empty(t, messages)
	assert.Equal(t, []string{StatusStarting, StatusScanning, StatusStopping, StatusStopped}, statuses)

	got, ok := <-s.Results()
	require.True(t, ok)
	assert.Equal(t, "HELLO", got.Text)
	_, ok = <-s.Results()
	assert.False(t, ok)
}

func TestPermissionDeniedNeverStartsLoop(t *testing.T) {
	cam := &fakeCamera{initErr: fmt.Errorf("%w: policy", device.ErrPermissionDenied)}
	sc, p := newFakeScanner(), &fakePresenter{}
	s := New(cam, sc, p, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	out := start(t, s, ctx, nil)

	require.Eventually(t, func() bool {
		_, messages, _ := p.snapshot()
		return len(messages) == 1
	}, 2*time.Second, 5*time.Millisecond)

	_, messages, _ := p.snapshot()
	assert.Equal(t, []string{"Denied access to the camera."}, messages)
	_, _, initialized := cam.counts()
	assert.False(t, initialized)
	runs, _ := sc.state()
	assert.Equal(t, 0, runs)

	cancel()
	o := wait(t, out)
	assert.ErrorIs(t, o.err, context.Canceled)
	assert.Nil(t, o.res)
	runs, _ = sc.state()
	assert.Equal(t, 0, runs)
}

func TestPreviewErrorIsReported(t *testing.T) {
	cam := &fakeCamera{previewErr: fmt.Errorf("%w: %w", device.ErrPreview, errors.New("sensor busy"))}
	p := &fakePresenter{}
	s := New(cam, newFakeScanner(), p, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	out := start(t, s, ctx, nil)

	require.Eventually(t, func() bool {
		_, messages, _ := p.snapshot()
		return len(messages) == 1
	}, 2*time.Second, 5*time.Millisecond)
	_, messages, _ := p.snapshot()
	assert.Equal(t, "Exception starting preview. sensor busy", messages[0])
	_, teardowns, _ := cam.counts()
	assert.GreaterOrEqual(t, teardowns, 1)

	cancel()
	wait(t, out)
}

func TestSuspendReleasesCameraBeforeAck(t *testing.T) {
	cam, sc := &fakeCamera{}, newFakeScanner()
	s := New(cam, sc, &fakePresenter{}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan activity.Event)
	out := start(t, s, ctx, events)

	require.Eventually(t, func() bool {
		_, running := sc.state()
		return running
	}, 2*time.Second, 5*time.Millisecond)

	acked := make(chan struct{})
	events <- activity.Event{Kind: activity.Suspending, Ack: func() {
		_, teardowns, initialized := cam.counts()
		assert.Equal(t, 1, teardowns)
		assert.False(t, initialized)
		close(acked)
	}}
	select {
	case <-acked:
	case <-time.After(2 * time.Second):
		t.Fatal("suspend not acknowledged")
	}
	_, running := sc.state()
	assert.False(t, running)

	events <- activity.Event{Kind: activity.Resuming}
	require.Eventually(t, func() bool {
		inits, _, initialized := cam.counts()
		return inits == 2 && initialized
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	o := wait(t, out)
	assert.ErrorIs(t, o.err, context.Canceled)
	_, _, initialized := cam.counts()
	assert.False(t, initialized)
}

func TestHiddenWindowStopsCamera(t *testing.T) {
	cam, sc := &fakeCamera{}, newFakeScanner()
	s := New(cam, sc, &fakePresenter{}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan activity.Event)
	out := start(t, s, ctx, events)

	require.Eventually(t, func() bool {
		_, _, initialized := cam.counts()
		return initialized
	}, 2*time.Second, 5*time.Millisecond)

	events <- activity.Event{Kind: activity.VisibilityChanged, Visible: false}
	require.Eventually(t, func() bool {
		_, teardowns, _ := cam.counts()
		return teardowns == 1
	}, 2*time.Second, 5*time.Millisecond)

	events <- activity.Event{Kind: activity.VisibilityChanged, Visible: true}
	sc.texts <- "BACK"
	o := wait(t, out)
	require.NoError(t, o.err)
	assert.Equal(t, "BACK", o.res.Text)
	inits, teardowns, _ := cam.counts()
	assert.Equal(t, 2, inits)
	assert.Equal(t, 2, teardowns)
}

func TestHardwareFailureTearsDown(t *testing.T) {
	cam, sc := &fakeCamera{}, newFakeScanner()
	s := New(cam, sc, &fakePresenter{}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	out := start(t, s, ctx, nil)

	require.Eventually(t, func() bool {
		_, running := sc.state()
		return running
	}, 2*time.Second, 5*time.Millisecond)

	cam.fail(device.ErrStreamLost)
	require.Eventually(t, func() bool {
		_, teardowns, _ := cam.counts()
		_, running := sc.state()
		return teardowns == 1 && !running
	}, 2*time.Second, 5*time.Millisecond)

	// No automatic restart until the next activation edge.
	time.Sleep(20 * time.Millisecond)
	inits, _, _ := cam.counts()
	assert.Equal(t, 1, inits)

	cancel()
	wait(t, out)
}

func TestContinuousRearmsAfterResult(t *testing.T) {
	cam, sc := &fakeCamera{}, newFakeScanner()
	s := New(cam, sc, &fakePresenter{}, Options{Continuous: true})
	ctx, cancel := context.WithCancel(context.Background())
	out := start(t, s, ctx, nil)

	sc.texts <- "one"
	first := <-s.Results()
	assert.Equal(t, "one", first.Text)

	sc.texts <- "two"
	second := <-s.Results()
	assert.Equal(t, "two", second.Text)

	cancel()
	o := wait(t, out)
	assert.ErrorIs(t, o.err, context.Canceled)

	inits, teardowns, initialized := cam.counts()
	assert.GreaterOrEqual(t, inits, 2)
	assert.Equal(t, inits, teardowns)
	assert.False(t, initialized)
}
