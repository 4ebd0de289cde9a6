// Package config loads the datamosh run configuration from an optional YAML
// file and environment overrides. Every field has a default, so a run needs
// no file at all.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	yaml "github.com/goccy/go-yaml"

	"github.com/JaylenLuc/datamoshing/internal/mosh"
)

// Defaults.
const (
	DefaultOutput    = "data_moshed.mp4"
	DefaultRawOutput = "output.h264"
	DefaultFrameRate = 30
	DefaultLogLevel  = "info"

	DefaultCodec            = "libx264"
	DefaultKeyframeInterval = 100000
	DefaultCRF              = 35
	DefaultPreset           = "ultrafast"
)

// Config is the full run configuration: strategy, file names, encoder and
// metrics settings.
type Config struct {
	Mode             mosh.Mode `yaml:"mode"`
	TransitionPeriod int64     `yaml:"transition_period"`
	CorruptionFrames int       `yaml:"corruption_frames"`

	Output    string `yaml:"output"`
	RawOutput string `yaml:"raw_output"`
	FrameRate int    `yaml:"frame_rate"`
	LogLevel  string `yaml:"log_level"`

	Encoder Encoder `yaml:"encoder"`
	Metrics Metrics `yaml:"metrics"`
}

// Encoder holds the settings handed to the video encoder. The defaults keep
// the encoder from inserting keyframes or B-frames of its own.
type Encoder struct {
	Codec                string `yaml:"codec"`
	SceneChangeDetection bool   `yaml:"scene_change_detection"`
	KeyframeInterval     int    `yaml:"keyframe_interval"`
	BFrames              int    `yaml:"b_frames"`
	CRF                  int    `yaml:"crf"`
	Preset               string `yaml:"preset"`
}

// Metrics configures where run counters are exposed. Empty fields disable
// the HTTP endpoint or the textfile.
type Metrics struct {
	Addr     string `yaml:"addr"`
	Textfile string `yaml:"textfile"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	mc := mosh.DefaultConfig()
	return &Config{
		Mode:             mc.Mode,
		TransitionPeriod: mc.TransitionPeriod,
		CorruptionFrames: mc.CorruptionFrames,
		Output:           DefaultOutput,
		RawOutput:        DefaultRawOutput,
		FrameRate:        DefaultFrameRate,
		LogLevel:         DefaultLogLevel,
		Encoder: Encoder{
			Codec:            DefaultCodec,
			KeyframeInterval: DefaultKeyframeInterval,
			CRF:              DefaultCRF,
			Preset:           DefaultPreset,
		},
	}
}

// Parse reads filename on top of the defaults and validates the result.
func Parse(filename string) (*Config, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("could not open %s: %w", filename, err)
	}
	defer f.Close()

	cfg := Default()
	if err := yaml.NewDecoder(f, yaml.DisallowUnknownField()).Decode(cfg); err != nil {
		return nil, fmt.Errorf("could not parse %s: %w", filename, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load returns the defaults when filename is empty and Parse(filename)
// otherwise, then applies environment overrides from getenv.
func Load(filename string, getenv func(string) string) (*Config, error) {
	cfg := Default()
	if filename != "" {
		var err error
		if cfg, err = Parse(filename); err != nil {
			return nil, err
		}
	}
	if getenv != nil {
		cfg.ApplyEnv(getenv)
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overrides fields from DEBUG, DATAMOSH_OUTPUT,
// DATAMOSH_METRICS_ADDR and DATAMOSH_METRICS_TEXTFILE.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv("DEBUG") != "" {
		c.LogLevel = "debug"
	}
	c.Output = envOr(getenv, "DATAMOSH_OUTPUT", c.Output)
	c.Metrics.Addr = envOr(getenv, "DATAMOSH_METRICS_ADDR", c.Metrics.Addr)
	c.Metrics.Textfile = envOr(getenv, "DATAMOSH_METRICS_TEXTFILE", c.Metrics.Textfile)
}

func envOr(getenv func(string) string, key, fallback string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return fallback
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	if err := c.MoshConfig().Validate(); err != nil {
		return err
	}
	if c.Output == "" {
		return errors.New("output must not be empty")
	}
	if c.FrameRate <= 0 {
		return fmt.Errorf("frame_rate must be positive, got %d", c.FrameRate)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	if err := c.Encoder.Validate(); err != nil {
		return fmt.Errorf("encoder is invalid: %w", err)
	}
	return nil
}

// Validate checks the encoder settings.
func (e *Encoder) Validate() error {
	if e.Codec == "" {
		return errors.New("codec must not be empty")
	}
	if e.KeyframeInterval <= 0 {
		return fmt.Errorf("keyframe_interval must be positive, got %d", e.KeyframeInterval)
	}
	if e.BFrames < 0 {
		return fmt.Errorf("b_frames must not be negative, got %d", e.BFrames)
	}
	if e.CRF < 0 || e.CRF > 51 {
		return fmt.Errorf("crf must be within 0..51, got %d", e.CRF)
	}
	return nil
}

// MoshConfig returns the strategy part of the configuration.
func (c *Config) MoshConfig() mosh.Config {
	return mosh.Config{
		Mode:             c.Mode,
		TransitionPeriod: c.TransitionPeriod,
		CorruptionFrames: c.CorruptionFrames,
	}
}

// Level returns the configured log level. Invalid levels have already been
// rejected by Validate; Level falls back to info for them.
func (c *Config) Level() slog.Level {
	l, err := parseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return l
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log_level %q is invalid: %w", s, err)
	}
	return l, nil
}

func (c *Config) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Strategy: %s", c.Mode)
	if c.Mode == mosh.PredictedDuplication {
		fmt.Fprintf(&b, " (period %d, %d corrupted frames)", c.TransitionPeriod, c.CorruptionFrames)
	}
	fmt.Fprintf(&b, "\nOutput: %s (raw %s, %d fps)\n", c.Output, c.RawOutput, c.FrameRate)
	fmt.Fprintf(&b, "Encoder: %s preset=%s crf=%d gop=%d bframes=%d scenecut=%t\n",
		c.Encoder.Codec, c.Encoder.Preset, c.Encoder.CRF,
		c.Encoder.KeyframeInterval, c.Encoder.BFrames, c.Encoder.SceneChangeDetection)
	if c.Metrics.Addr != "" {
		fmt.Fprintf(&b, "Metrics: http://%s/metrics\n", c.Metrics.Addr)
	}
	if c.Metrics.Textfile != "" {
		fmt.Fprintf(&b, "Metrics textfile: %s\n", c.Metrics.Textfile)
	}
	return b.String()
}
