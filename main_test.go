package main

import (
	"os"
	"path/filepath"
	"runtime/debug"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanqr/conf"
	"scanqr/crop"
	"scanqr/imaging"
	"scanqr/metrics"
	"scanqr/scanner"
)

func TestStatsLine(t *testing.T) {
	assert.Equal(t, "frames 0", statsLine(metrics.Snapshot{}))
	line := statsLine(metrics.Snapshot{Iterations: 42, Results: 1, LastDecode: 3400 * time.Microsecond})
	assert.Equal(t, "frames 42 · results 1 · decode 3ms", line)
}

func TestInitLogSink(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	w, closeFn, path, err := initLogSink(filepath.Join(dir, "config.json"))
	require.NoError(t, err)
	defer closeFn()
	assert.Equal(t, filepath.Join(dir, "scanqr.log"), path)

	_, err = w.Write([]byte("line\n"))
	require.NoError(t, err)
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "line\n", string(b))
}

func TestVCSVersion(t *testing.T) {
	bi := &debug.BuildInfo{Settings: []debug.BuildSetting{
		{Key: "vcs.revision", Value: "0123456789abcdef"},
		{Key: "vcs.modified", Value: "true"},
		{Key: "vcs.time", Value: "2024-05-01T10:20:30Z"},
	}}
	assert.Equal(t, "v0.0.0-20240501102030-0123456789ab+dirty", vcsVersion(bi))
	assert.Empty(t, vcsVersion(&debug.BuildInfo{}))
}

func TestReplayReportsMissingCode(t *testing.T) {
	dir := t.TempDir()
	dumper, err := scanner.NewFileDumper(dir, nil)
	require.NoError(t, err)
	require.NoError(t, dumper.EnableRawFrames())
	frame := &imaging.Frame{Width: 64, Height: 64, Format: imaging.FormatRGB24, Data: make([]byte, 64*64*3)}
	require.NoError(t, dumper.Dump(frame, crop.Rect{X: 16, Y: 16, Width: 32, Height: 32}))
	files, err := filepath.Glob(filepath.Join(dir, "frame-*.raw.zst"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	m := metrics.New(nil)
	err = replay(&conf.AppOptions{ReplayPath: files[0]}, m, nil)
	assert.ErrorIs(t, err, scanner.ErrNoCode)
	assert.Equal(t, int64(1), m.Snapshot().Iterations)

	err = replay(&conf.AppOptions{ReplayPath: filepath.Join(dir, "missing.raw.zst")}, m, nil)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
