// Package config holds the ledwatch daemon configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"ledwatch/internal/alignment"
	"ledwatch/internal/led"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration file.
type Config struct {
	Device   int           `yaml:"device"`   // Camera index
	Board    string        `yaml:"board"`    // Path to the board descriptor
	Interval time.Duration `yaml:"interval"` // Delay between detection cycles

	Capture     Capture     `yaml:"capture"`
	Orientation Orientation `yaml:"orientation"`
	Classifier  led.Config  `yaml:"classifier"`
	Log         Log         `yaml:"log"`
}

// Capture configures the frame source.
type Capture struct {
	MaxReadFailures int           `yaml:"max_read_failures"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
}

// Orientation configures board localization and when it is redone.
type Orientation struct {
	alignment.Config `yaml:",inline"`

	// StaleAfterFrames forces re-estimation after this many frames. Zero
	// disables the frame budget.
	StaleAfterFrames int `yaml:"stale_after_frames"`
	// MaxFailures is the number of consecutive failed estimates after which
	// detection is reported as degraded.
	MaxFailures int `yaml:"max_failures"`
}

// Log configures the root logger.
type Log struct {
	Level  string `yaml:"level"`  // debug, info, warn or error
	Format string `yaml:"format"` // text or json
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Device:   0,
		Interval: 50 * time.Millisecond,
		Capture: Capture{
			MaxReadFailures: 50,
			RetryDelay:      20 * time.Millisecond,
		},
		Orientation: Orientation{
			Config:      alignment.DefaultConfig(),
			MaxFailures: 20,
		},
		Classifier: led.DefaultConfig(),
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML file on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges. It does not touch the filesystem.
func (c Config) Validate() error {
	var errs []error
	if c.Device < 0 {
		errs = append(errs, fmt.Errorf("device must be >= 0, got %d", c.Device))
	}
	if c.Board == "" {
		errs = append(errs, errors.New("board descriptor path is required"))
	}
	if c.Interval <= 0 {
		errs = append(errs, fmt.Errorf("interval must be positive, got %v", c.Interval))
	}
	if c.Capture.MaxReadFailures <= 0 {
		errs = append(errs, fmt.Errorf("capture.max_read_failures must be positive, got %d", c.Capture.MaxReadFailures))
	}
	if r := c.Orientation.RatioTest; r <= 0 || r >= 1 {
		errs = append(errs, fmt.Errorf("orientation.ratio_test must be in (0, 1), got %v", r))
	}
	if c.Orientation.MinMatches < 4 {
		errs = append(errs, fmt.Errorf("orientation.min_matches must be >= 4, got %d", c.Orientation.MinMatches))
	}
	if c.Orientation.ReprojThreshold <= 0 {
		errs = append(errs, fmt.Errorf("orientation.reproj_threshold must be positive, got %v", c.Orientation.ReprojThreshold))
	}
	if c.Orientation.Iterations <= 0 {
		errs = append(errs, fmt.Errorf("orientation.iterations must be positive, got %d", c.Orientation.Iterations))
	}
	if c.Orientation.StaleAfter < 0 || c.Orientation.StaleAfterFrames < 0 {
		errs = append(errs, errors.New("orientation staleness limits must not be negative"))
	}
	if c.Orientation.MaxFailures <= 0 {
		errs = append(errs, fmt.Errorf("orientation.max_failures must be positive, got %d", c.Orientation.MaxFailures))
	}
	if c.Classifier.HistorySize <= 0 {
		errs = append(errs, fmt.Errorf("classifier.history_size must be positive, got %d", c.Classifier.HistorySize))
	}
	if c.Classifier.Tolerance < 0 {
		errs = append(errs, fmt.Errorf("classifier.tolerance must not be negative, got %d", c.Classifier.Tolerance))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// SlogLevel parses Level.
func (l Log) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level: %w", err)
	}
	return lvl, nil
}

// NewLogger builds the root logger described by l.
func (l Log) NewLogger(w io.Writer) (*slog.Logger, error) {
	lvl, err := l.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
