package device

import (
	"context"

	"scanqr/imaging"
)

// Panel is where a camera is mounted on the device enclosure.
type Panel int

const (
	PanelUnknown Panel = iota
	PanelFront
	PanelBack
	PanelExternal
)

func (p Panel) String() string {
	switch p {
	case PanelFront:
		return "front"
	case PanelBack:
		return "back"
	case PanelExternal:
		return "external"
	default:
		return "unknown"
	}
}

// Info describes an enumerated video capture device.
type Info struct {
	ID    string
	Name  string
	Panel Panel
}

// StreamKind selects which stream's resolution list is queried or set.
type StreamKind int

const (
	StreamPhoto StreamKind = iota
	StreamVideo
)

func (k StreamKind) String() string {
	if k == StreamVideo {
		return "video"
	}
	return "photo"
}

// Resolution is a stream size in pixels. The zero value means driver default.
type Resolution struct {
	Width  int
	Height int
}

// Driver enumerates and opens capture devices.
type Driver interface {
	FindAll(ctx context.Context) ([]Info, error)
	Open(ctx context.Context, id string) (Handle, error)
}

// Handle is one opened capture device.
type Handle interface {
	Resolutions(kind StreamKind) []Resolution
	SetResolution(ctx context.Context, kind StreamKind, r Resolution) error
	PrepareLowLagCapture(ctx context.Context, format imaging.PixelFormat, r Resolution) (LowLagCapture, error)
	StartPreview(ctx context.Context) error
	StopPreview(ctx context.Context) error
	// OnFailed registers fn for asynchronous hardware failures and returns
	// a function removing it.
	OnFailed(fn func(error)) (unregister func())
	Close() error
}

// LowLagCapture grabs still frames with minimal shutter delay.
type LowLagCapture interface {
	// Capture blocks until a frame is available. It returns ErrNotCapturing
	// once Finish has been called.
	Capture(ctx context.Context) (*imaging.Frame, error)
	// Finish waits for captures in flight and releases the capture session.
	Finish(ctx context.Context) error
}

// DisplayLock keeps the display awake while the preview runs.
type DisplayLock interface {
	RequestActive() error
	RequestRelease() error
}

// FindCameraDeviceByPanel returns the first device mounted on panel, any
// other device when none is, and false when the list is empty.
func FindCameraDeviceByPanel(devices []Info, panel Panel) (Info, bool) {
	for _, d := range devices {
		if d.Panel == panel {
			return d, true
		}
	}
	if len(devices) > 0 {
		return devices[0], true
	}
	return Info{}, false
}
