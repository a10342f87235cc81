package ui

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"golang.org/x/term"
)

const osc52MaxClipboardBytes = 4096

var errNoClipboardHelper = errors.New("no clipboard helper found")

// Clipboard copies scan results. It asks the terminal via OSC 52 and also
// tries the platform helper, since either may be unavailable (ssh, tmux, no X).
type Clipboard struct {
	out   io.Writer
	tty   bool
	goos  string
	run   func(ctx context.Context, text, name string, args ...string) error
	limit time.Duration
}

// NewClipboard returns a clipboard writing OSC 52 to stdout.
func NewClipboard() *Clipboard {
	return &Clipboard{
		out:   os.Stdout,
		tty:   term.IsTerminal(int(os.Stdout.Fd())),
		goos:  runtime.GOOS,
		run:   runClipboardCommand,
		limit: 2 * time.Second,
	}
}

// Copy places text on the clipboard. The error reports the platform helper
// outcome only; OSC 52 gives no acknowledgement.
func (c *Clipboard) Copy(text string) error {
	if text == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.limit)
	defer cancel()
	err := c.copyViaPlatform(ctx, text)
	c.copyViaOSC52(text)
	return err
}

func (c *Clipboard) copyViaOSC52(text string) bool {
	if !c.tty {
		return false
	}
	payload := []byte(text)
	if len(payload) > osc52MaxClipboardBytes {
		payload = payload[:osc52MaxClipboardBytes]
	}
	encoded := base64.StdEncoding.EncodeToString(payload)

	beginSyncOutput(c.out)
	fmt.Fprintf(c.out, "\x1b]52;c;%s\x07", encoded)
	endSyncOutput(c.out)
	return true
}

func (c *Clipboard) copyViaPlatform(ctx context.Context, text string) error {
	switch c.goos {
	case "darwin":
		return c.run(ctx, text, "pbcopy")
	case "windows":
		return c.run(ctx, text, "cmd", "/c", "clip")
	default:
		commands := [][]string{
			{"wl-copy"},
			{"xclip", "-selection", "clipboard"},
			{"xsel", "--clipboard", "--input"},
			{"termux-clipboard-set"},
		}
		for _, cmd := range commands {
			if err := c.run(ctx, text, cmd[0], cmd[1:]...); err == nil {
				return nil
			}
		}
		return errNoClipboardHelper
	}
}

func runClipboardCommand(ctx context.Context, text, name string, args ...string) error {
	if _, err := exec.LookPath(name); err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = strings.NewReader(text)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	return cmd.Run()
}
