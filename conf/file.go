package conf

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment override, e.g. SCANQR_FPS.
const EnvPrefix = "SCANQR"

// FileConfig is the on-disk configuration. Absent keys leave the defaults alone.
type FileConfig struct {
	Verbose     *bool    `json:"verbose" yaml:"verbose"`
	Development *bool    `json:"log_dev" yaml:"log_dev"`
	Device      *string  `json:"device" yaml:"device"`
	Width       *int     `json:"width" yaml:"width"`
	Height      *int     `json:"height" yaml:"height"`
	Tolerance   *float64 `json:"tolerance" yaml:"tolerance"`
	FPS         *float64 `json:"fps" yaml:"fps"`
	Timeout     string   `json:"timeout" yaml:"timeout"`
	Continuous  *bool    `json:"continuous" yaml:"continuous"`
	Copy        *bool    `json:"copy" yaml:"copy"`
	Dump        *string  `json:"dump" yaml:"dump"`
	DumpRaw     *bool    `json:"dump_raw" yaml:"dump_raw"`
	Metrics     *string  `json:"metrics" yaml:"metrics"`
	Viewport    string   `json:"viewport" yaml:"viewport"`
}

// LoadFile reads a JSON config, or YAML when the extension is .yaml or .yml.
func LoadFile(path string) (*FileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fc FileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &fc); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &fc); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return &fc, nil
}

func (fc *FileConfig) apply(opts *AppOptions) error {
	setIf(&opts.Verbose, fc.Verbose)
	setIf(&opts.Development, fc.Development)
	setIf(&opts.DeviceID, fc.Device)
	setIf(&opts.MaxWidth, fc.Width)
	setIf(&opts.MaxHeight, fc.Height)
	setIf(&opts.AspectTolerance, fc.Tolerance)
	setIf(&opts.FPS, fc.FPS)
	setIf(&opts.Continuous, fc.Continuous)
	setIf(&opts.Copy, fc.Copy)
	setIf(&opts.DumpDir, fc.Dump)
	setIf(&opts.DumpRaw, fc.DumpRaw)
	setIf(&opts.MetricsAddr, fc.Metrics)
	if fc.Timeout != "" {
		d, err := time.ParseDuration(fc.Timeout)
		if err != nil {
			return fmt.Errorf("invalid timeout %q", fc.Timeout)
		}
		opts.Timeout = d
	}
	if fc.Viewport != "" {
		w, h, err := ParseViewport(fc.Viewport)
		if err != nil {
			return err
		}
		opts.ViewportWidth, opts.ViewportHeight = w, h
	}
	return nil
}

// envConfig holds SCANQR_* overrides; unset variables stay nil.
type envConfig struct {
	Config      *string        `envconfig:"CONFIG"`
	Verbose     *bool          `envconfig:"VERBOSE"`
	Development *bool          `envconfig:"LOG_DEV"`
	Device      *string        `envconfig:"DEVICE"`
	Width       *int           `envconfig:"WIDTH"`
	Height      *int           `envconfig:"HEIGHT"`
	Tolerance   *float64       `envconfig:"TOLERANCE"`
	FPS         *float64       `envconfig:"FPS"`
	Timeout     *time.Duration `envconfig:"TIMEOUT"`
	Continuous  *bool          `envconfig:"CONTINUOUS"`
	Copy        *bool          `envconfig:"COPY"`
	Dump        *string        `envconfig:"DUMP"`
	DumpRaw     *bool          `envconfig:"DUMP_RAW"`
	Metrics     *string        `envconfig:"METRICS"`
	Viewport    *string        `envconfig:"VIEWPORT"`
}

func loadEnv() (*envConfig, error) {
	var env envConfig
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}
	return &env, nil
}

func (env *envConfig) apply(opts *AppOptions) error {
	setIf(&opts.Verbose, env.Verbose)
	setIf(&opts.Development, env.Development)
	setIf(&opts.DeviceID, env.Device)
	setIf(&opts.MaxWidth, env.Width)
	setIf(&opts.MaxHeight, env.Height)
	setIf(&opts.AspectTolerance, env.Tolerance)
	setIf(&opts.FPS, env.FPS)
	setIf(&opts.Timeout, env.Timeout)
	setIf(&opts.Continuous, env.Continuous)
	setIf(&opts.Copy, env.Copy)
	setIf(&opts.DumpDir, env.Dump)
	setIf(&opts.DumpRaw, env.DumpRaw)
	setIf(&opts.MetricsAddr, env.Metrics)
	if env.Viewport != nil {
		w, h, err := ParseViewport(*env.Viewport)
		if err != nil {
			return err
		}
		opts.ViewportWidth, opts.ViewportHeight = w, h
	}
	return nil
}
