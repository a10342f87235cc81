package device

import (
	"context"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gocam "github.com/svanichkin/gocam"
	"go.uber.org/zap"
)

func TestGocamMissingDeviceReportsNoCamera(t *testing.T) {
	drv := &GocamDriver{log: zap.NewNop(), start: func(context.Context) (<-chan gocam.Frame, error) {
		return nil, fmt.Errorf("gocam: cannot open /dev/video0: %w", syscall.ENOENT)
	}}
	cam := NewCamera(drv, Options{Timeout: time.Second})

	err := cam.Initialize(context.Background())
	require.ErrorIs(t, err, ErrNoCameraAvailable)
	assert.Equal(t, "No camera device found.", Message(err))
	assert.Equal(t, StateUninitialized, cam.State())
}

func TestGocamStuckStartTimesOut(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	drv := &GocamDriver{log: zap.NewNop(), start: func(context.Context) (<-chan gocam.Frame, error) {
		<-release
		return nil, fmt.Errorf("gocam: released")
	}}
	cam := NewCamera(drv, Options{Timeout: 100 * time.Millisecond})

	errCh := make(chan error, 1)
	go func() { errCh <- cam.Initialize(context.Background()) }()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrTimeout)
		assert.Contains(t, Message(err), "Camera did not respond in time.")
	case <-time.After(2 * time.Second):
		t.Fatalf("Initialize still blocked; state=%s", cam.State())
	}
	assert.Equal(t, StateUninitialized, cam.State())
}
