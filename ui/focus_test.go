package ui

import (
	"context"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanqr/activity"
)

func TestReadInputFocusReports(t *testing.T) {
	var got []activity.Event
	var quits int
	in := "abc\x1b[O\x1b[Ix\x1b[Zq"
	err := readInput(strings.NewReader(in), func(ev activity.Event) { got = append(got, ev) }, func() { quits++ })
	assert.ErrorIs(t, err, io.EOF)

	require.Len(t, got, 2)
	assert.Equal(t, activity.Event{Kind: activity.VisibilityChanged, Visible: false}, got[0])
	assert.Equal(t, activity.Event{Kind: activity.VisibilityChanged, Visible: true}, got[1])
	assert.Equal(t, 1, quits)
}

func TestReadInputLoneEscapeQuits(t *testing.T) {
	var quits int
	_ = readInput(strings.NewReader("\x1b"), func(activity.Event) {}, func() { quits++ })
	assert.Equal(t, 1, quits)
}

type testSignal string

func (s testSignal) Signal()        {}
func (s testSignal) String() string { return string(s) }

func TestRelaySignals(t *testing.T) {
	const suspend, resume = testSignal("tstp"), testSignal("cont")
	sigs := make(chan os.Signal, 2)
	events := make(chan activity.Event, 2)
	var order []string
	var stopped atomic.Int32
	hooks := SuspendHooks{
		BeforeStop:  func() { order = append(order, "pause") },
		AfterResume: func() { order = append(order, "resume") },
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		relaySignals(ctx, sigs, suspend, resume, events, hooks, func() error {
			stopped.Add(1)
			return nil
		})
	}()

	sigs <- suspend
	ev := <-events
	assert.Equal(t, activity.Suspending, ev.Kind)
	require.NotNil(t, ev.Ack)
	assert.Zero(t, stopped.Load(), "process is stopped only on Ack")
	ev.Ack()
	assert.Equal(t, int32(1), stopped.Load())

	sigs <- resume
	select {
	case ev = <-events:
		assert.Equal(t, activity.Resuming, ev.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("no resume event")
	}
	assert.Equal(t, []string{"pause", "resume"}, order)

	cancel()
	<-done
}
