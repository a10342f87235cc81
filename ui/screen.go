package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"scanqr/logs"
)

// Terminal cell aspect: one character cell is ~0.38 width of its height.
// We use it to compare "visual" width vs height.
const termCellWidthToHeight = 0.38
const termBorder = 1

// Screen is the terminal presentation boundary. On a TTY it draws the focus
// square with the status, dialog and result text on the alternate screen;
// otherwise it prints results as plain lines so output can be piped.
type Screen struct {
	out         io.Writer
	interactive bool
	size        func() (cols, rows int, err error)
	stats       func() string
	onResult    func(text string)

	mu      sync.Mutex
	started bool
	status  string
	message string
	result  string
}

// ScreenOptions configures a Screen.
type ScreenOptions struct {
	// Stats returns a short footer, e.g. frames scanned.
	Stats func() string
	// OnResult runs after a result is shown, e.g. to copy it to the clipboard.
	OnResult func(text string)
}

// NewScreen returns a screen on stdout.
func NewScreen(opts ScreenOptions) *Screen {
	fd := int(os.Stdout.Fd())
	return newScreen(os.Stdout, term.IsTerminal(fd), func() (int, int, error) { return term.GetSize(fd) }, opts)
}

func newScreen(out io.Writer, interactive bool, size func() (int, int, error), opts ScreenOptions) *Screen {
	return &Screen{
		out:         out,
		interactive: interactive,
		size:        size,
		stats:       opts.Stats,
		onResult:    opts.OnResult,
	}
}

// Interactive reports whether the screen draws on a terminal.
func (s *Screen) Interactive() bool { return s.interactive }

// Start switches to the alternate screen.
func (s *Screen) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.interactive || s.started {
		return
	}
	s.started = true
	enterAltScreen(s.out)
	s.drawLocked()
}

// Stop restores the primary screen. A shown result is printed there so it
// stays visible after exit.
func (s *Screen) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.started = false
	exitAltScreen(s.out)
	if s.result != "" {
		fmt.Fprintln(s.out, s.result)
	}
}

// Pause leaves the alternate screen without forgetting state, e.g. before
// the process is stopped from the shell.
func (s *Screen) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		exitAltScreen(s.out)
	}
}

// Resume re-enters the alternate screen after Pause.
func (s *Screen) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		enterAltScreen(s.out)
		s.drawLocked()
	}
}

// SetStatusMessage updates the status line; pass an empty string to clear it.
func (s *Screen) SetStatusMessage(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = strings.TrimSpace(msg)
	logs.LogV("[ui] status: %s", s.status)
	s.drawLocked()
}

// ShowMessage shows a dialog message for a non-fatal failure.
func (s *Screen) ShowMessage(msg string) {
	s.mu.Lock()
	s.message = strings.TrimSpace(msg)
	if !s.started {
		fmt.Fprintln(os.Stderr, "[scanqr] "+s.message)
	}
	s.drawLocked()
	s.mu.Unlock()
}

// ShowResult presents the decoded text.
func (s *Screen) ShowResult(text string) {
	s.mu.Lock()
	s.result = text
	s.message = ""
	if !s.started {
		fmt.Fprintln(s.out, text)
	}
	s.drawLocked()
	s.mu.Unlock()
	if s.onResult != nil {
		s.onResult(text)
	}
}

// Redraw repaints the screen, e.g. after a resize.
func (s *Screen) Redraw() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drawLocked()
}

func (s *Screen) drawLocked() {
	if !s.started {
		return
	}
	cols, rows, err := s.size()
	if err != nil || cols <= 0 || rows <= 0 {
		return
	}
	footer := ""
	if s.stats != nil {
		footer = s.stats()
	}
	frame := buildScreen(cols, rows, s.status, s.message, s.result, footer)
	beginSyncOutput(s.out)
	io.WriteString(s.out, frame)
	endSyncOutput(s.out)
}

// focusBox returns the focus square in cells: half of the shorter visual side,
// centered in the canvas.
func focusBox(cols, rows int) (top, left, width, height int) {
	canvasCols := cols - 2*termBorder
	canvasRows := rows - 2*termBorder
	if canvasCols <= 2 || canvasRows <= 2 {
		return 0, 0, 0, 0
	}
	visualW := float64(canvasCols) * termCellWidthToHeight
	side := min(visualW, float64(canvasRows)) / 2
	height = max(int(side), 2)
	width = max(int(side/termCellWidthToHeight), 2)
	top = termBorder + 1 + (canvasRows-height)/2
	left = termBorder + 1 + (canvasCols-width)/2
	return top, left, width, height
}

func buildScreen(cols, rows int, status, message, result, footer string) string {
	var out strings.Builder
	out.WriteString("\x1b[2J\x1b[H")

	top, left, width, height := focusBox(cols, rows)
	if width > 0 {
		horiz := strings.Repeat("─", width-2)
		out.WriteString(fmt.Sprintf("\x1b[%d;%dH┌%s┐", top, left, horiz))
		for r := 1; r < height-1; r++ {
			out.WriteString(fmt.Sprintf("\x1b[%d;%dH│\x1b[%d;%dH│", top+r, left, top+r, left+width-1))
		}
		out.WriteString(fmt.Sprintf("\x1b[%d;%dH└%s┘", top+height-1, left, horiz))
	}

	canvasCols := max(cols-2*termBorder, 1)
	writeCentered := func(row int, text string) {
		if text == "" || row < 1 || row > rows {
			return
		}
		line := truncateRunes(text, canvasCols)
		col := termBorder + 1 + max(0, (canvasCols-runeCount(line))/2)
		out.WriteString(fmt.Sprintf("\x1b[%d;%dH%s", row, col, line))
	}

	above := top - 1
	if width == 0 {
		above = rows / 2
	}
	writeCentered(above, status)
	below := top + height
	if width == 0 {
		below = rows/2 + 1
	}
	if message != "" {
		writeCentered(below, "\x1b[1m! "+message+"\x1b[0m")
		below++
	}
	if result != "" {
		for i, line := range strings.Split(result, "\n") {
			writeCentered(below+i, line)
		}
	}
	writeCentered(rows, footer)
	out.WriteString("\x1b[0m")
	return out.String()
}

func enterAltScreen(w io.Writer) {
	io.WriteString(w, "\x1b[?1049h\x1b[?25l\x1b[?7l\x1b[3J\x1b[H")
}

func exitAltScreen(w io.Writer) {
	io.WriteString(w, "\x1b[?7h\x1b[?25h\x1b[?1049l")
}

// beginSyncOutput enables synchronized output mode (OSC 2026) on terminals that support it.
func beginSyncOutput(w io.Writer) {
	if supportsSyncOutput {
		io.WriteString(w, "\x1b[?2026h")
	}
}

func endSyncOutput(w io.Writer) {
	if supportsSyncOutput {
		io.WriteString(w, "\x1b[?2026l")
	}
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	if limit == 1 {
		return string(runes[:1])
	}
	return string(runes[:limit-1]) + "…"
}

func runeCount(s string) int {
	return len([]rune(s))
}
