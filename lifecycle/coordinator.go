// Package lifecycle serializes camera start and teardown transitions so the
// camera converges on the latest activity state.
package lifecycle

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"scanqr/logs"
)

// Transitions performs the camera work. Each call runs to completion; it is
// never entered while another call is in progress.
type Transitions interface {
	Start(ctx context.Context) error
	Cleanup(ctx context.Context) error
}

// Observer is told about every finished transition. metrics.Lifecycle implements it.
type Observer interface {
	Transition(kind string, d time.Duration, err error)
}

type action int

const (
	actNone action = iota
	actStart
	actCleanup
	// actRecover tears the camera down after a hardware failure without
	// changing the committed activity.
	actRecover
)

func (a action) String() string {
	switch a {
	case actStart:
		return "start"
	case actCleanup:
		return "cleanup"
	case actRecover:
		return "recover"
	default:
		return "none"
	}
}

// Options configures a Coordinator.
type Options struct {
	Observer Observer
	Logger   *zap.Logger
}

// Coordinator runs at most one transition at a time. A notification that
// arrives while a transition is running is not queued as such: when the
// running transition completes, the desired state is read again and a single
// follow-up transition is issued if it still differs from the committed one.
type Coordinator struct {
	ctx     context.Context
	desired func() bool
	t       Transitions
	obs     Observer
	log     *zap.Logger

	mu      sync.Mutex
	running bool
	idle    chan struct{}
	// applied is the activity committed by the last completed transition.
	applied bool
	failure error

	transitions atomic.Int64
}

// New returns a coordinator comparing desired against the committed state.
// Transitions run with a context detached from ctx's cancellation so a
// shutdown never interrupts one midway; ctx values are kept.
func New(ctx context.Context, desired func() bool, t Transitions, opts Options) *Coordinator {
	idle := make(chan struct{})
	close(idle)
	return &Coordinator{
		ctx:     context.WithoutCancel(ctx),
		desired: desired,
		t:       t,
		obs:     opts.Observer,
		log:     logs.OrNop(opts.Logger).Named("lifecycle"),
		idle:    idle,
	}
}

// Notify tells the coordinator the desired state may have changed. It never
// blocks on a transition.
func (c *Coordinator) Notify() {
	c.kick()
}

// Fail reports an unsolicited hardware failure. The camera is torn down as if
// activity had gone off; the committed activity is left as it was, so the
// camera is brought back only by the next activation edge.
func (c *Coordinator) Fail(err error) {
	c.mu.Lock()
	c.failure = err
	c.mu.Unlock()
	c.log.Warn("camera failure reported", zap.Error(err))
	c.kick()
}

func (c *Coordinator) kick() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	next := c.nextLocked()
	if next == actNone {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.idle = make(chan struct{})
	c.mu.Unlock()
	go c.run(next)
}

// nextLocked picks the transition needed to match the current desired state.
func (c *Coordinator) nextLocked() action {
	if c.failure != nil {
		return actRecover
	}
	want := c.desired()
	switch {
	case want == c.applied:
		return actNone
	case want:
		return actStart
	default:
		return actCleanup
	}
}

func (c *Coordinator) run(next action) {
	for {
		c.exec(next)

		c.mu.Lock()
		switch next {
		case actStart:
			c.applied = true
		case actCleanup:
			c.applied = false
		}
		next = c.nextLocked()
		if next == actNone {
			c.running = false
			close(c.idle)
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
	}
}

func (c *Coordinator) exec(a action) {
	began := time.Now()
	var err error
	switch a {
	case actStart:
		err = c.t.Start(c.ctx)
	case actCleanup:
		err = c.t.Cleanup(c.ctx)
	case actRecover:
		c.mu.Lock()
		c.failure = nil
		c.mu.Unlock()
		err = c.t.Cleanup(c.ctx)
	}
	n := c.transitions.Add(1)
	elapsed := time.Since(began)
	if err != nil {
		c.log.Warn("transition failed", zap.Stringer("action", a), zap.Int64("seq", n), zap.Duration("elapsed", elapsed), zap.Error(err))
	} else {
		c.log.Debug("transition done", zap.Stringer("action", a), zap.Int64("seq", n), zap.Duration("elapsed", elapsed))
	}
	if c.obs != nil {
		c.obs.Transition(a.String(), elapsed, err)
	}
}

// WaitIdle blocks until no transition is running or ctx is done.
func (c *Coordinator) WaitIdle(ctx context.Context) error {
	for {
		c.mu.Lock()
		if !c.running {
			c.mu.Unlock()
			return nil
		}
		idle := c.idle
		c.mu.Unlock()
		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Committed reports the activity applied by the last completed transition.
func (c *Coordinator) Committed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.applied
}

// Transitions returns the number of transitions executed so far.
func (c *Coordinator) Transitions() int64 {
	return c.transitions.Load()
}
