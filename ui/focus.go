package ui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"scanqr/activity"
	"scanqr/logs"
)

const (
	enableFocusReporting  = "\x1b[?1004h"
	disableFocusReporting = "\x1b[?1004l"
)

// StartFocusTracker puts stdin in raw mode and turns terminal focus reports
// (ESC [ I / ESC [ O) into VisibilityChanged events. Pressing q or Esc calls
// onQuit. Reporting and the tty mode are restored when ctx is done. Without a
// TTY it does nothing and the window counts as visible.
func StartFocusTracker(ctx context.Context, events chan<- activity.Event, onQuit func()) {
	stdinFD := int(os.Stdin.Fd())
	stdoutFD := int(os.Stdout.Fd())
	if !term.IsTerminal(stdinFD) || !term.IsTerminal(stdoutFD) {
		logs.LogV("[term] focus tracker disabled: stdio is not a TTY")
		return
	}

	restore, err := prepareTTYForInput(stdinFD)
	if err != nil {
		logs.LogV("[term] focus tracker disabled: %v", err)
		return
	}
	fmt.Fprint(os.Stdout, enableFocusReporting)

	go func() {
		<-ctx.Done()
		fmt.Fprint(os.Stdout, disableFocusReporting)
		if restore != nil {
			restore()
		}
	}()

	// The read blocks on stdin and exits with the process.
	go func() {
		err := readInput(os.Stdin, func(ev activity.Event) {
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		}, onQuit)
		if err != nil && !errors.Is(err, io.EOF) {
			logs.LogV("[term] focus tracker stopped: %v", err)
		}
	}()
}

func readInput(r io.Reader, emit func(activity.Event), onQuit func()) error {
	reader := bufio.NewReader(r)
	for {
		b, err := reader.ReadByte()
		if err != nil {
			return err
		}
		switch b {
		case 'q', 'Q':
			if onQuit != nil {
				onQuit()
			}
			continue
		case 0x1b: // ESC
		default:
			continue
		}
		if reader.Buffered() == 0 {
			// A lone Esc keypress; sequences arrive in one read.
			if onQuit != nil {
				onQuit()
			}
			continue
		}
		if visible, ok := parseFocusReport(reader); ok {
			logs.LogV("[term] focus %v", visible)
			emit(activity.Event{Kind: activity.VisibilityChanged, Visible: visible})
		}
	}
}

// parseFocusReport consumes "[I" or "[O" after an ESC.
func parseFocusReport(r *bufio.Reader) (visible bool, ok bool) {
	next, err := r.ReadByte()
	if err != nil || next != '[' {
		return false, false
	}
	next, err = r.ReadByte()
	if err != nil {
		return false, false
	}
	switch next {
	case 'I':
		return true, true
	case 'O':
		return false, true
	default:
		return false, false
	}
}
