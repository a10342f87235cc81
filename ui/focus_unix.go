//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

package ui

import "golang.org/x/sys/unix"

// prepareTTYForInput disables line buffering and echo so focus reports and
// single keys reach stdin immediately. Signals (Ctrl-C, Ctrl-Z) still work.
func prepareTTYForInput(fd int) (func(), error) {
	orig, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
	if err != nil {
		return nil, err
	}
	newState := *orig
	newState.Lflag &^= unix.ICANON | unix.ECHO
	newState.Iflag &^= unix.ICRNL | unix.INLCR | unix.IXON
	newState.Cc[unix.VMIN] = 1
	newState.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(fd, ioctlSetTermios, &newState); err != nil {
		return nil, err
	}
	return func() {
		_ = unix.IoctlSetTermios(fd, ioctlSetTermios, orig)
	}, nil
}
