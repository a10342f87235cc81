//go:build unix

package ui

import (
	"context"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"

	"scanqr/activity"
)

// StartSuspendSignals maps Ctrl-Z (SIGTSTP) to a Suspending event whose Ack
// stops the process, and SIGCONT to Resuming.
func StartSuspendSignals(ctx context.Context, events chan<- activity.Event, hooks SuspendHooks) {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, unix.SIGTSTP, unix.SIGCONT)
	go func() {
		defer signal.Stop(sigs)
		relaySignals(ctx, sigs, unix.SIGTSTP, unix.SIGCONT, events, hooks, func() error {
			return unix.Kill(unix.Getpid(), unix.SIGSTOP)
		})
	}()
}
