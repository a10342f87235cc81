package device

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
)

var (
	ErrNoCameraAvailable = errors.New("no camera available")
	ErrPermissionDenied  = errors.New("camera access denied")
	ErrDeviceInit        = errors.New("camera initialization failed")
	ErrPreview           = errors.New("camera preview failed")
	ErrTimeout           = errors.New("camera operation timed out")
	// ErrNotCapturing reports that no capture session is live, either because
	// the camera was torn down or the low-lag session was finished.
	ErrNotCapturing = errors.New("camera is not capturing")
	ErrStreamLost   = errors.New("camera stream lost")
)

// classifyInit maps a driver error raised while opening the camera onto the
// initialization taxonomy.
func classifyInit(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrNoCameraAvailable):
		return err
	case errors.Is(err, fs.ErrNotExist):
		// A missing device node means there is no camera to open.
		return fmt.Errorf("%w: %w", ErrNoCameraAvailable, err)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w: %w", ErrDeviceInit, ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %w", ErrDeviceInit, err)
	}
}

// Message renders err as the text shown to the user in a dialog.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoCameraAvailable):
		return "No camera device found."
	case errors.Is(err, ErrPermissionDenied):
		return "Denied access to the camera."
	case errors.Is(err, ErrTimeout):
		return "Camera did not respond in time. " + cause(err, ErrDeviceInit, ErrPreview, ErrTimeout)
	case errors.Is(err, ErrDeviceInit):
		return "Exception when init camera. " + cause(err, ErrDeviceInit)
	case errors.Is(err, ErrPreview):
		return "Exception starting preview. " + cause(err, ErrPreview)
	default:
		return err.Error()
	}
}

// cause strips the sentinel prefixes from err's text.
func cause(err error, sentinels ...error) string {
	msg := err.Error()
	for trimmed := true; trimmed; {
		trimmed = false
		for _, s := range sentinels {
			if rest, ok := strings.CutPrefix(msg, s.Error()+": "); ok {
				msg, trimmed = rest, true
			}
		}
	}
	return msg
}
