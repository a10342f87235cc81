//go:build windows

package ui

import (
	"os"

	"golang.org/x/sys/windows"
)

const utf8CodePage = 65001

// Windows consoles ignore the synchronized output sequence.
const supportsSyncOutput = false

func init() {
	enableVirtualTerminalProcessing()
	// Code page 65001 renders the focus square borders without "chcp 65001".
	_ = windows.SetConsoleOutputCP(utf8CodePage)
	_ = windows.SetConsoleCP(utf8CodePage)
}

// enableVirtualTerminalProcessing lets stdout and stderr interpret ANSI
// escapes in Windows Terminal, PowerShell and legacy hosts that support it.
func enableVirtualTerminalProcessing() {
	for _, h := range []windows.Handle{
		windows.Handle(os.Stdout.Fd()),
		windows.Handle(os.Stderr.Fd()),
	} {
		if h == windows.InvalidHandle {
			continue
		}
		var mode uint32
		if err := windows.GetConsoleMode(h, &mode); err != nil {
			continue
		}
		mode |= windows.ENABLE_PROCESSED_OUTPUT | windows.ENABLE_VIRTUAL_TERMINAL_PROCESSING
		mode &^= windows.DISABLE_NEWLINE_AUTO_RETURN
		_ = windows.SetConsoleMode(h, mode)
	}
}
