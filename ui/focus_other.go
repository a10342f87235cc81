//go:build !windows && !linux && !darwin && !dragonfly && !freebsd && !netbsd && !openbsd

package ui

import "errors"

func prepareTTYForInput(int) (func(), error) {
	return nil, errors.New("raw tty input not supported on this platform")
}
