package ui

import (
	"context"
	"os"
	"sync"
	"time"

	"golang.org/x/term"

	"scanqr/crop"
	"scanqr/logs"
)

// TermSize describes the terminal dimensions in character cells.
type TermSize struct {
	Cols int
	Rows int
}

// Viewport converts a cell size to the visual units the crop geometry works
// in: one unit per cell height, so a cell is termCellWidthToHeight units wide.
func (ts TermSize) Viewport() crop.Viewport {
	return crop.Viewport{
		Width:  float64(ts.Cols) * termCellWidthToHeight,
		Height: float64(ts.Rows),
	}
}

// ViewportFeed tracks the terminal size and exposes it as the scanner's
// viewport. A fixed override bypasses the terminal entirely.
type ViewportFeed struct {
	size     func() (cols, rows int, err error)
	override *crop.Viewport
	onChange func(TermSize)

	mu      sync.RWMutex
	last    TermSize
	lastSet bool
}

// NewViewportFeed reads the size of stdout. Width and height, when both
// positive, fix the viewport regardless of the terminal.
func NewViewportFeed(width, height int, onChange func(TermSize)) *ViewportFeed {
	fd := int(os.Stdout.Fd())
	return newViewportFeed(func() (int, int, error) { return term.GetSize(fd) }, width, height, onChange)
}

func newViewportFeed(size func() (int, int, error), width, height int, onChange func(TermSize)) *ViewportFeed {
	f := &ViewportFeed{size: size, onChange: onChange}
	if width > 0 && height > 0 {
		f.override = &crop.Viewport{Width: float64(width), Height: float64(height)}
	}
	f.poll()
	return f
}

// Viewport returns the current viewport; the zero value when unknown.
func (f *ViewportFeed) Viewport() crop.Viewport {
	if f.override != nil {
		return *f.override
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.lastSet {
		return crop.Viewport{}
	}
	return f.last.Viewport()
}

// Size returns the last known terminal size.
func (f *ViewportFeed) Size() (TermSize, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.last, f.lastSet
}

// Run polls the terminal size until ctx is done, coalescing identical sizes.
func (f *ViewportFeed) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			f.poll()
		}
	}
}

func (f *ViewportFeed) poll() {
	cols, rows, err := f.size()
	if err != nil || cols <= 0 || rows <= 0 {
		return
	}
	ts := TermSize{Cols: cols, Rows: rows}

	f.mu.Lock()
	if f.lastSet && f.last == ts {
		f.mu.Unlock()
		return
	}
	f.last = ts
	f.lastSet = true
	f.mu.Unlock()

	logs.LogV("[term] size %dx%d cells", cols, rows)
	if f.onChange != nil {
		f.onChange(ts)
	}
}
