package lifecycle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanqr/activity"
)

// heldTransitions records calls and can hold a transition in flight until
// released, so tests control exactly when it completes.
type heldTransitions struct {
	mu       sync.Mutex
	calls    []string
	hold     bool
	release  chan struct{}
	entered  chan string
	startErr error

	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func newHeld() *heldTransitions {
	return &heldTransitions{release: make(chan struct{}, 16), entered: make(chan string, 16)}
}

func (h *heldTransitions) do(name string, err error) error {
	n := h.inflight.Add(1)
	defer h.inflight.Add(-1)
	for {
		m := h.maxInflight.Load()
		if n <= m || h.maxInflight.CompareAndSwap(m, n) {
			break
		}
	}
	h.mu.Lock()
	h.calls = append(h.calls, name)
	hold := h.hold
	h.mu.Unlock()
	h.entered <- name
	if hold {
		<-h.release
	}
	return err
}

func (h *heldTransitions) Start(context.Context) error   { return h.do("start", h.startErr) }
func (h *heldTransitions) Cleanup(context.Context) error { return h.do("cleanup", nil) }

func (h *heldTransitions) setHold(v bool) {
	h.mu.Lock()
	h.hold = v
	h.mu.Unlock()
}

func (h *heldTransitions) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

func waitEntered(t *testing.T, h *heldTransitions, want string) {
	t.Helper()
	select {
	case got := <-h.entered:
		require.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("transition %q not entered", want)
	}
}

func waitIdle(t *testing.T, c *Coordinator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.WaitIdle(ctx))
}

func newWired(t *testing.T) (*activity.Gate, *heldTransitions, *Coordinator) {
	t.Helper()
	gate := activity.NewGate()
	h := newHeld()
	c := New(context.Background(), gate.Active, h, Options{})
	t.Cleanup(gate.Subscribe(func(activity.State) { c.Notify() }))
	return gate, h, c
}

func TestStartAndCleanup(t *testing.T) {
	gate, h, c := newWired(t)

	gate.SetPageActive(true)
	waitEntered(t, h, "start")
	waitIdle(t, c)
	assert.True(t, c.Committed())

	gate.SetPageActive(false)
	waitEntered(t, h, "cleanup")
	waitIdle(t, c)
	assert.False(t, c.Committed())
	assert.Equal(t, []string{"start", "cleanup"}, h.Calls())
	assert.Equal(t, int64(2), c.Transitions())
}

func TestNotifyWithoutChangeIsNoOp(t *testing.T) {
	_, h, c := newWired(t)
	c.Notify()
	c.Notify()
	waitIdle(t, c)
	assert.Empty(t, h.Calls())
	assert.Equal(t, int64(0), c.Transitions())
}

func TestTogglesDuringTransitionCollapseToOne(t *testing.T) {
	gate, h, c := newWired(t)
	gate.SetPageActive(true)
	waitEntered(t, h, "start")
	waitIdle(t, c)

	h.setHold(true)
	gate.SetWindowVisible(false)
	waitEntered(t, h, "cleanup")

	for i := 0; i < 3; i++ {
		gate.SetWindowVisible(true)
		gate.SetWindowVisible(false)
	}
	gate.SetWindowVisible(true)

	h.setHold(false)
	h.release <- struct{}{}
	waitEntered(t, h, "start")
	waitIdle(t, c)

	assert.Equal(t, []string{"start", "cleanup", "start"}, h.Calls())
	assert.True(t, c.Committed())
	assert.Equal(t, int32(1), h.maxInflight.Load())
}

func TestTogglesEndingOnInFlightTargetAddNothing(t *testing.T) {
	gate, h, c := newWired(t)
	h.setHold(true)
	gate.SetPageActive(true)
	waitEntered(t, h, "start")

	gate.SetSuspending(true)
	gate.SetSuspending(false)
	gate.SetSuspending(true)
	gate.SetSuspending(false)

	h.setHold(false)
	h.release <- struct{}{}
	waitIdle(t, c)

	assert.Equal(t, []string{"start"}, h.Calls())
	assert.True(t, c.Committed())
}

func TestConcurrentNotificationsNeverOverlap(t *testing.T) {
	gate, h, c := newWired(t)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			gate.SetPageActive(i%2 == 0)
		}(i)
	}
	wg.Wait()
	gate.SetPageActive(true)

	// Drain entered markers so transitions never block on the buffer.
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-h.entered:
			case <-done:
				return
			}
		}
	}()
	assert.Eventually(t, func() bool {
		return c.WaitIdle(context.Background()) == nil && c.Committed()
	}, 2*time.Second, 5*time.Millisecond)
	close(done)

	assert.Equal(t, int32(1), h.maxInflight.Load())
	calls := h.Calls()
	require.NotEmpty(t, calls)
	assert.Equal(t, "start", calls[len(calls)-1])
	for i := 1; i < len(calls); i++ {
		assert.NotEqual(t, calls[i-1], calls[i], "redundant transition at %d", i)
	}
}

func TestFailedStartIsNotRetried(t *testing.T) {
	gate, h, c := newWired(t)
	h.startErr = errors.New("permission denied")

	gate.SetPageActive(true)
	waitEntered(t, h, "start")
	waitIdle(t, c)
	c.Notify()
	waitIdle(t, c)

	assert.Equal(t, []string{"start"}, h.Calls())

	gate.SetPageActive(false)
	waitEntered(t, h, "cleanup")
	gate.SetPageActive(true)
	waitEntered(t, h, "start")
	waitIdle(t, c)
	assert.Equal(t, []string{"start", "cleanup", "start"}, h.Calls())
}

func TestFailTearsDownWithoutChangingCommitted(t *testing.T) {
	gate, h, c := newWired(t)
	gate.SetPageActive(true)
	waitEntered(t, h, "start")
	waitIdle(t, c)

	c.Fail(errors.New("stream lost"))
	waitEntered(t, h, "cleanup")
	waitIdle(t, c)
	assert.True(t, c.Committed())
	assert.Equal(t, []string{"start", "cleanup"}, h.Calls())

	// The next activation edge brings the camera back.
	gate.SetWindowVisible(false)
	waitEntered(t, h, "cleanup")
	gate.SetWindowVisible(true)
	waitEntered(t, h, "start")
	waitIdle(t, c)
	assert.True(t, c.Committed())
}

func TestFailDuringTransitionRunsAfterIt(t *testing.T) {
	gate, h, c := newWired(t)
	h.setHold(true)
	gate.SetPageActive(true)
	waitEntered(t, h, "start")

	c.Fail(errors.New("device removed"))
	h.setHold(false)
	h.release <- struct{}{}
	waitEntered(t, h, "cleanup")
	waitIdle(t, c)

	assert.Equal(t, []string{"start", "cleanup"}, h.Calls())
	assert.Equal(t, int32(1), h.maxInflight.Load())
}

func TestWaitIdleHonorsContext(t *testing.T) {
	gate, h, c := newWired(t)
	h.setHold(true)
	gate.SetPageActive(true)
	waitEntered(t, h, "start")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.WaitIdle(ctx), context.DeadlineExceeded)

	h.release <- struct{}{}
	waitIdle(t, c)
}

type recordingObserver struct {
	mu    sync.Mutex
	kinds []string
	errs  int
}

func (o *recordingObserver) Transition(kind string, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.kinds = append(o.kinds, kind)
	if err != nil {
		o.errs++
	}
}

func TestObserverSeesEveryTransition(t *testing.T) {
	gate := activity.NewGate()
	h := newHeld()
	h.startErr = errors.New("busy")
	obs := &recordingObserver{}
	c := New(context.Background(), gate.Active, h, Options{Observer: obs})
	defer gate.Subscribe(func(activity.State) { c.Notify() })()

	gate.SetPageActive(true)
	waitEntered(t, h, "start")
	waitIdle(t, c)
	c.Fail(errors.New("gone"))
	waitEntered(t, h, "cleanup")
	waitIdle(t, c)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, []string{"start", "recover"}, obs.kinds)
	assert.Equal(t, 1, obs.errs)
}
