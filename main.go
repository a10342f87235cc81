package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"scanqr/activity"
	"scanqr/conf"
	"scanqr/crop"
	"scanqr/decoder"
	"scanqr/device"
	"scanqr/logs"
	"scanqr/metrics"
	"scanqr/scanner"
	"scanqr/session"
	"scanqr/ui"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "[scanqr] %v\n", err)
		os.Exit(1)
	}
}

func run() (err error) {
	opts, err := conf.ParseCLI()
	if err != nil {
		return err
	}
	if opts.ShowVersion {
		printVersion()
		return nil
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	screenOpts := ui.ScreenOptions{Stats: func() string { return statsLine(m.Snapshot()) }}
	if opts.Copy {
		clip := ui.NewClipboard()
		screenOpts.OnResult = func(text string) {
			if err := clip.Copy(text); err != nil {
				logs.LogV("[ui] clipboard: %v", err)
			}
		}
	}
	screen := ui.NewScreen(screenOpts)

	logWriter, closeLog, logPath, logErr := initLogSink(opts.ConfigPath)
	if closeLog != nil {
		defer closeLog()
	}
	if logErr == nil {
		fmt.Fprintf(os.Stderr, "[scanqr] logs: %s\n", logPath)
	} else {
		fmt.Fprintf(os.Stderr, "[scanqr] log file disabled (%v)\n", logErr)
	}
	// Stderr would scribble over the alternate screen.
	logOutput := io.Writer(os.Stderr)
	switch {
	case screen.Interactive() && logWriter != nil:
		logOutput = logWriter
	case screen.Interactive():
		logOutput = io.Discard
	case logWriter != nil:
		logOutput = io.MultiWriter(os.Stderr, logWriter)
	}
	log := logs.New(logs.Config{Verbose: opts.Verbose, Development: opts.Development}, logOutput)
	defer log.Sync()
	logs.SetDefault(log)
	device.RouteCameraLogs()
	log.Info("starting", zap.String("version", appVersion()), zap.String("config", opts.ConfigPath))

	if opts.ReplayPath != "" {
		return replay(opts, m, log)
	}

	appCtx, appCancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer appCancel()
	ctx, quit := context.WithCancel(appCtx)
	defer quit()

	feed := ui.NewViewportFeed(opts.ViewportWidth, opts.ViewportHeight, func(ui.TermSize) { screen.Redraw() })

	camera := device.NewCamera(device.NewGocamDriver(log), device.Options{
		DeviceID:        opts.DeviceID,
		MaxWidth:        opts.MaxWidth,
		MaxHeight:       opts.MaxHeight,
		AspectTolerance: opts.AspectTolerance,
		Timeout:         opts.Timeout,
		Display:         device.NewSystemDisplay(log),
		Logger:          log,
	})

	cropper := crop.NewCropper(nil)
	scanOpts := scanner.Options{
		FPS:      opts.FPS,
		Viewport: feed.Viewport,
		Recorder: m,
		Logger:   log,
	}
	if opts.DumpDir != "" {
		dumper, err := scanner.NewFileDumper(opts.DumpDir, cropper)
		if err != nil {
			return fmt.Errorf("dump dir: %w", err)
		}
		if opts.DumpRaw {
			if err := dumper.EnableRawFrames(); err != nil {
				return fmt.Errorf("raw frame dumps: %w", err)
			}
		}
		scanOpts.Dumper = dumper
	}
	loop := scanner.New(camera, cropper, decoder.NewQR(decoder.DefaultOptions()), scanOpts)

	sess := session.New(camera, loop, screen, session.Options{
		Continuous:      opts.Continuous,
		ShutdownTimeout: opts.Timeout,
		Metrics:         m,
		Observer:        m,
		Logger:          log,
	})

	screen.Start()
	defer screen.Stop()

	events := make(chan activity.Event, 8)
	ui.StartFocusTracker(ctx, events, quit)
	ui.StartSuspendSignals(ctx, events, ui.SuspendHooks{
		BeforeStop:  screen.Pause,
		AfterResume: screen.Resume,
	})

	g, gctx := errgroup.WithContext(ctx)
	if opts.MetricsAddr != "" {
		g.Go(func() error {
			return metrics.Serve(gctx, opts.MetricsAddr, reg, log)
		})
	}
	g.Go(func() error {
		return feed.Run(gctx, 250*time.Millisecond)
	})
	g.Go(func() error {
		for res := range sess.Results() {
			logs.LogV("[scan] result after %d frames", res.Iterations)
		}
		return nil
	})
	g.Go(func() error {
		// The other members stop once the session is done.
		defer quit()
		res, err := sess.Run(gctx, events)
		if res != nil {
			log.Info("scan finished", zap.Int("iterations", res.Iterations), zap.Duration("elapsed", res.Elapsed))
		}
		if errors.Is(err, context.Canceled) {
			if err.Error() != context.Canceled.Error() {
				log.Warn("shutdown incomplete", zap.Error(err))
			}
			return nil
		}
		return err
	})
	return g.Wait()
}

// replay decodes a frame saved with -dump-raw, using the same crop and
// decoder settings as a live scan.
func replay(opts *conf.AppOptions, m *metrics.Metrics, log *zap.Logger) error {
	var viewport func() crop.Viewport
	if opts.ViewportWidth > 0 && opts.ViewportHeight > 0 {
		v := crop.Viewport{Width: float64(opts.ViewportWidth), Height: float64(opts.ViewportHeight)}
		viewport = func() crop.Viewport { return v }
	}
	loop := scanner.New(nil, crop.NewCropper(nil), decoder.NewQR(decoder.DefaultOptions()), scanner.Options{
		Viewport: viewport,
		Recorder: m,
		Logger:   log,
	})
	res, err := loop.Replay(opts.ReplayPath)
	if err != nil {
		return fmt.Errorf("replay %s: %w", opts.ReplayPath, err)
	}
	fmt.Println(res.Text)
	return nil
}

func statsLine(s metrics.Snapshot) string {
	parts := []string{fmt.Sprintf("frames %d", s.Iterations)}
	if s.Results > 0 {
		parts = append(parts, fmt.Sprintf("results %d", s.Results))
	}
	if s.LastDecode > 0 {
		parts = append(parts, "decode "+s.LastDecode.Round(time.Millisecond).String())
	}
	if !s.Started.IsZero() {
		parts = append(parts, "up "+time.Since(s.Started).Round(time.Second).String())
	}
	return strings.Join(parts, " · ")
}

func initLogSink(configPath string) (io.Writer, func() error, string, error) {
	dir := filepath.Dir(configPath)
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, "", err
	}
	logPath := filepath.Join(dir, "scanqr.log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, logPath, err
	}
	closeFn := func() error {
		return f.Close()
	}
	return f, closeFn, logPath, nil
}

func appVersion() string {
	v := strings.TrimSpace(version)
	if v == "" {
		v = "dev"
	}
	if bi, ok := debug.ReadBuildInfo(); ok && v == "dev" {
		if ver := strings.TrimSpace(bi.Main.Version); ver != "" && ver != "(devel)" {
			return ver
		}
		if derived := vcsVersion(bi); derived != "" {
			return derived
		}
	}
	return v
}

func vcsVersion(bi *debug.BuildInfo) string {
	revision := buildInfoSetting(bi, "vcs.revision")
	if revision == "" {
		return ""
	}
	short := revision
	if len(short) > 12 {
		short = short[:12]
	}
	dirty := ""
	if buildInfoSetting(bi, "vcs.modified") == "true" {
		dirty = "+dirty"
	}
	if ts := buildInfoSetting(bi, "vcs.time"); ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			return fmt.Sprintf("v0.0.0-%s-%s%s", t.UTC().Format("20060102150405"), short, dirty)
		}
	}
	return short + dirty
}

func buildInfoSetting(bi *debug.BuildInfo, key string) string {
	for _, setting := range bi.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printVersion() {
	fmt.Printf("scanqr %s\n", appVersion())
}
