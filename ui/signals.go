package ui

import (
	"context"
	"os"

	"scanqr/activity"
	"scanqr/logs"
)

// SuspendHooks run around a job-control stop, e.g. to leave and re-enter the
// alternate screen.
type SuspendHooks struct {
	BeforeStop  func()
	AfterResume func()
}

// relaySignals turns suspend and resume signals into lifecycle events. The
// process is only stopped from the Suspending event's Ack, after the camera
// has been released.
func relaySignals(ctx context.Context, sigs <-chan os.Signal, suspend, resume os.Signal,
	events chan<- activity.Event, hooks SuspendHooks, stopSelf func() error) {
	send := func(ev activity.Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			switch sig {
			case suspend:
				logs.LogV("[sig] suspend requested")
				ack := func() {
					if hooks.BeforeStop != nil {
						hooks.BeforeStop()
					}
					if err := stopSelf(); err != nil {
						logs.LogV("[sig] stop failed: %v", err)
					}
				}
				if !send(activity.Event{Kind: activity.Suspending, Ack: ack}) {
					return
				}
			case resume:
				logs.LogV("[sig] resumed")
				if hooks.AfterResume != nil {
					hooks.AfterResume()
				}
				if !send(activity.Event{Kind: activity.Resuming}) {
					return
				}
			}
		}
	}
}
