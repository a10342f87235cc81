//go:build !unix

package ui

import (
	"context"

	"scanqr/activity"
)

// StartSuspendSignals is a no-op where there is no job control.
func StartSuspendSignals(context.Context, chan<- activity.Event, SuspendHooks) {}
