package device

import (
	"os/exec"
	"runtime"
	"sync"

	"go.uber.org/zap"

	"scanqr/logs"
)

// SystemDisplay keeps the display awake by holding an inhibitor helper
// process (caffeinate on macOS, systemd-inhibit on Linux) for as long as the
// request is active. On platforms without a helper the requests are no-ops.
type SystemDisplay struct {
	log      *zap.Logger
	lookPath func(string) (string, error)
	command  func(name string, args ...string) *exec.Cmd

	mu  sync.Mutex
	cmd *exec.Cmd
}

// NewSystemDisplay returns a display lock for the current platform.
func NewSystemDisplay(log *zap.Logger) *SystemDisplay {
	return &SystemDisplay{
		log:      logs.OrNop(log).Named("display"),
		lookPath: exec.LookPath,
		command:  exec.Command,
	}
}

func inhibitCommand(goos string) (string, []string, bool) {
	switch goos {
	case "darwin":
		return "caffeinate", []string{"-d"}, true
	case "linux", "freebsd":
		return "systemd-inhibit", []string{
			"--what=idle", "--who=scanqr", "--why=camera preview", "--mode=block",
			"sleep", "infinity",
		}, true
	default:
		return "", nil, false
	}
}

// RequestActive starts the inhibitor if it is not already running.
func (d *SystemDisplay) RequestActive() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cmd != nil {
		return nil
	}
	name, args, ok := inhibitCommand(runtime.GOOS)
	if !ok {
		return nil
	}
	if _, err := d.lookPath(name); err != nil {
		d.log.Debug("no display inhibitor", zap.String("helper", name), zap.Error(err))
		return nil
	}
	cmd := d.command(name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	d.cmd = cmd
	d.log.Debug("display kept awake", zap.String("helper", name))
	return nil
}

// RequestRelease stops the inhibitor so the display may sleep again.
func (d *SystemDisplay) RequestRelease() error {
	d.mu.Lock()
	cmd := d.cmd
	d.cmd = nil
	d.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil {
		return err
	}
	_ = cmd.Wait()
	return nil
}
