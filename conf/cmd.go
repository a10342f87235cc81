package conf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var Verbose bool

// AppOptions aggregates all CLI flags and configuration options required by the application.
type AppOptions struct {
	Verbose     bool
	Development bool
	ConfigPath  string

	DeviceID        string
	MaxWidth        int
	MaxHeight       int
	AspectTolerance float64
	FPS             float64
	Timeout         time.Duration

	Continuous  bool
	Copy        bool
	DumpDir     string
	DumpRaw     bool
	MetricsAddr string
	// Viewport overrides the terminal size used to place the focus square.
	ViewportWidth  int
	ViewportHeight int

	// ReplayPath decodes a saved raw frame instead of opening the camera.
	ReplayPath string

	ShowVersion bool
}

// Defaults returns the options used when nothing else is configured.
func Defaults() AppOptions {
	return AppOptions{
		MaxWidth:        1920,
		MaxHeight:       1080,
		AspectTolerance: 0.015,
		FPS:             10,
		Timeout:         10 * time.Second,
	}
}

// flagValues holds what was given on the command line; nil means unset.
type flagValues struct {
	verbose     *bool
	development *bool
	config      *string
	device      *string
	width       *int
	height      *int
	tolerance   *float64
	fps         *float64
	timeout     *time.Duration
	continuous  *bool
	copy        *bool
	dump        *string
	dumpRaw     *bool
	metrics     *string
	viewport    *string
	replay      *string
	version     bool
}

// ParseCLI parses os.Args and layers defaults, the config file, the
// environment and the flags, in increasing precedence.
func ParseCLI() (*AppOptions, error) {
	return Parse(os.Args[1:])
}

// Parse is ParseCLI over an explicit argument list.
func Parse(args []string) (*AppOptions, error) {
	rawArgs := compactArgs(args)
	flagTokens, consumed := collectDashPrefixedArgs(rawArgs)
	var fv flagValues
	if err := applyFlagTokens(flagTokens, &fv); err != nil {
		return nil, err
	}
	if extra := remainingArgs(rawArgs, consumed); len(extra) > 0 {
		return nil, fmt.Errorf("unexpected positional arguments: %v", extra)
	}

	opts := Defaults()
	if fv.version {
		opts.ShowVersion = true
		return &opts, nil
	}

	env, err := loadEnv()
	if err != nil {
		return nil, err
	}
	configArg := ""
	if env.Config != nil {
		configArg = *env.Config
	}
	if fv.config != nil {
		configArg = *fv.config
	}
	explicit := configArg != ""
	resolvedCfg, err := resolveConfigPathRaw(configArg)
	if err != nil {
		return nil, fmt.Errorf("config path error: %w", err)
	}
	opts.ConfigPath = resolvedCfg

	fc, err := LoadFile(resolvedCfg)
	switch {
	case errors.Is(err, os.ErrNotExist) && !explicit:
	case err != nil:
		return nil, err
	default:
		if err := fc.apply(&opts); err != nil {
			return nil, fmt.Errorf("config %s: %w", resolvedCfg, err)
		}
	}
	if err := env.apply(&opts); err != nil {
		return nil, err
	}
	if err := fv.apply(&opts); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	Verbose = opts.Verbose
	return &opts, nil
}

// Validate rejects values no component can work with.
func (opts *AppOptions) Validate() error {
	var errs []error
	if opts.MaxWidth <= 0 || opts.MaxHeight <= 0 {
		errs = append(errs, fmt.Errorf("resolution ceiling %dx%d must be positive", opts.MaxWidth, opts.MaxHeight))
	}
	if opts.AspectTolerance <= 0 || opts.AspectTolerance >= 1 {
		errs = append(errs, fmt.Errorf("aspect tolerance %v out of range (0,1)", opts.AspectTolerance))
	}
	if opts.FPS <= 0 {
		errs = append(errs, fmt.Errorf("fps %v must be positive", opts.FPS))
	}
	if opts.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout %v must be positive", opts.Timeout))
	}
	if opts.DumpRaw && opts.DumpDir == "" {
		errs = append(errs, errors.New("raw frame dumps need a dump directory"))
	}
	if opts.ViewportWidth < 0 || opts.ViewportHeight < 0 {
		errs = append(errs, fmt.Errorf("viewport %dx%d must not be negative", opts.ViewportWidth, opts.ViewportHeight))
	}
	return errors.Join(errs...)
}

func (fv *flagValues) apply(opts *AppOptions) error {
	setIf(&opts.Verbose, fv.verbose)
	setIf(&opts.Development, fv.development)
	setIf(&opts.DeviceID, fv.device)
	setIf(&opts.MaxWidth, fv.width)
	setIf(&opts.MaxHeight, fv.height)
	setIf(&opts.AspectTolerance, fv.tolerance)
	setIf(&opts.FPS, fv.fps)
	setIf(&opts.Timeout, fv.timeout)
	setIf(&opts.Continuous, fv.continuous)
	setIf(&opts.Copy, fv.copy)
	setIf(&opts.DumpDir, fv.dump)
	setIf(&opts.DumpRaw, fv.dumpRaw)
	setIf(&opts.MetricsAddr, fv.metrics)
	setIf(&opts.ReplayPath, fv.replay)
	if fv.viewport != nil {
		w, h, err := ParseViewport(*fv.viewport)
		if err != nil {
			return err
		}
		opts.ViewportWidth, opts.ViewportHeight = w, h
	}
	return nil
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// ParseViewport parses "WxH" (for example "400x800").
func ParseViewport(raw string) (int, int, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return 0, 0, nil
	}
	ws, hs, ok := strings.Cut(s, "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid viewport %q, want WxH", raw)
	}
	w, err := strconv.Atoi(strings.TrimSpace(ws))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid viewport width %q", ws)
	}
	h, err := strconv.Atoi(strings.TrimSpace(hs))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid viewport height %q", hs)
	}
	if w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("viewport %dx%d must be positive", w, h)
	}
	return w, h, nil
}

// resolveConfigPathRaw normalizes the config file path, expanding "~" and
// converting it to an absolute path. When cfg is empty it defaults to
// $XDG_CONFIG_HOME/scanqr/config.json or ~/.config/scanqr/config.json. A bare
// name without an extension (e.g. "office") is a profile inside the default
// config directory ("office.json").
func resolveConfigPathRaw(cfg string) (string, error) {
	raw := strings.TrimSpace(cfg)

	switch {
	case raw == "":
		if dir, err := defaultConfigDir(); err == nil {
			raw = filepath.Join(dir, "config.json")
		} else {
			raw = "config.json"
		}
	case filepath.Base(raw) == raw && filepath.Ext(raw) == "":
		if dir, err := defaultConfigDir(); err == nil {
			raw = filepath.Join(dir, raw+".json")
		} else {
			raw = raw + ".json"
		}
	}
	return resolvePathAllowingHome(raw)
}

func defaultConfigDir() (string, error) {
	d, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(d, "scanqr"), nil
}

func resolvePathAllowingHome(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		h, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(h, path[2:])
		}
	}
	return filepath.Abs(path)
}

func compactArgs(args []string) []string {
	if len(args) == 0 {
		return args
	}
	out := make([]string, 0, len(args))
	for _, raw := range args {
		if trimmed := strings.TrimSpace(raw); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func collectDashPrefixedArgs(args []string) ([]string, map[int]struct{}) {
	consumed := make(map[int]struct{})
	if len(args) == 0 {
		return nil, consumed
	}
	flags := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		token := args[i]
		if token == "--" {
			consumed[i] = struct{}{}
			break
		}
		if !strings.HasPrefix(token, "-") || token == "-" {
			continue
		}
		consumed[i] = struct{}{}
		keyToken := token
		if idx := strings.Index(token, "="); idx != -1 {
			keyToken = token[:idx]
		}
		key := normalizeFlagKey(keyToken)
		combined := token
		if !strings.Contains(token, "=") && flagRequiresValue(key) && i+1 < len(args) {
			next := args[i+1]
			if next != "--" && !strings.HasPrefix(next, "-") {
				consumed[i+1] = struct{}{}
				combined = fmt.Sprintf("%s=%s", token, next)
				i++
			}
		}
		flags = append(flags, combined)
	}
	return flags, consumed
}

func remainingArgs(args []string, consumed map[int]struct{}) []string {
	if len(args) == 0 {
		return nil
	}
	extra := make([]string, 0, len(args))
	for idx, token := range args {
		if _, ok := consumed[idx]; ok {
			continue
		}
		trimmed := strings.TrimSpace(token)
		if trimmed == "" {
			continue
		}
		extra = append(extra, trimmed)
	}
	return extra
}

func applyFlagTokens(tokens []string, fv *flagValues) error {
	for _, token := range tokens {
		key, value, hasValue := splitFlagToken(token)
		if flagRequiresValue(key) && (!hasValue || value == "") {
			return fmt.Errorf("-%s requires a value", key)
		}
		switch key {
		case "v", "verbose":
			b, err := boolFlag(key, value, hasValue)
			if err != nil {
				return err
			}
			fv.verbose = &b
		case "dev":
			b, err := boolFlag(key, value, hasValue)
			if err != nil {
				return err
			}
			fv.development = &b
		case "continuous":
			b, err := boolFlag(key, value, hasValue)
			if err != nil {
				return err
			}
			fv.continuous = &b
		case "copy":
			b, err := boolFlag(key, value, hasValue)
			if err != nil {
				return err
			}
			fv.copy = &b
		case "dump-raw":
			b, err := boolFlag(key, value, hasValue)
			if err != nil {
				return err
			}
			fv.dumpRaw = &b
		case "version":
			fv.version = true
		case "config":
			if fv.config != nil && *fv.config != value {
				return fmt.Errorf("-config specified multiple times")
			}
			fv.config = &value
		case "device":
			fv.device = &value
		case "dump":
			fv.dump = &value
		case "metrics":
			fv.metrics = &value
		case "viewport":
			fv.viewport = &value
		case "replay":
			fv.replay = &value
		case "width", "height":
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("invalid -%s %q", key, value)
			}
			if key == "width" {
				fv.width = &n
			} else {
				fv.height = &n
			}
		case "tolerance", "fps":
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return fmt.Errorf("invalid -%s %q", key, value)
			}
			if key == "fps" {
				fv.fps = &f
			} else {
				fv.tolerance = &f
			}
		case "timeout":
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid -timeout %q", value)
			}
			fv.timeout = &d
		default:
			return fmt.Errorf("unknown flag %q", token)
		}
	}
	return nil
}

func boolFlag(key, value string, hasValue bool) (bool, error) {
	if !hasValue || value == "" {
		return true, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid value for -%s: %q", key, value)
	}
	return parsed, nil
}

func splitFlagToken(token string) (string, string, bool) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return "", "", false
	}
	parts := strings.SplitN(trimmed, "=", 2)
	key := normalizeFlagKey(parts[0])
	if len(parts) == 1 {
		return key, "", false
	}
	return key, parts[1], true
}

func normalizeFlagKey(raw string) string {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimLeft(trimmed, "-")
	return strings.ToLower(trimmed)
}

func flagRequiresValue(key string) bool {
	switch key {
	case "config", "device", "width", "height", "tolerance", "fps", "timeout", "dump", "metrics", "viewport", "replay":
		return true
	default:
		return false
	}
}
