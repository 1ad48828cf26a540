// Package main provides the entry point for the ledwatch daemon, which watches
// a board through a camera and reports LED state changes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"ledwatch/internal/alignment"
	"ledwatch/internal/board"
	"ledwatch/internal/capture"
	"ledwatch/internal/config"
	"ledwatch/internal/detector"
	"ledwatch/internal/version"

	"github.com/google/uuid"
)

func main() {
	configPath := flag.String("config", "", "YAML config file")
	boardPath := flag.String("board", "", "Board descriptor (overrides config)")
	device := flag.Int("device", -1, "Camera index (overrides config)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(2)
		}
	}
	if *boardPath != "" {
		cfg.Board = *boardPath
	}
	if *device >= 0 {
		cfg.Device = *device
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration:\n%v\n", err)
		os.Exit(2)
	}

	logger, err := cfg.Log.NewLogger(os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}
	logger = logger.With("session", uuid.NewString())
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("ledwatch failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("starting",
		"version", version.Version,
		"commit", version.GitCommit,
		"built", version.BuildTime)

	b, err := board.Load(cfg.Board)
	if err != nil {
		return fmt.Errorf("load board: %w", err)
	}
	defer b.Close()
	logger.Info("board loaded",
		"name", b.Name,
		"leds", len(b.Leds),
		"width", b.Image.Cols(),
		"height", b.Image.Rows())

	src, err := capture.Open(cfg.Device, capture.Options{
		MaxReadFailures: cfg.Capture.MaxReadFailures,
		RetryDelay:      cfg.Capture.RetryDelay,
		Logger:          logger.With("component", "capture"),
	})
	if err != nil {
		return err
	}
	defer src.Close()
	if err := src.Start(ctx); err != nil {
		return err
	}

	est := alignment.NewEstimator(cfg.Orientation.Config,
		alignment.WithLogger(logger.With("component", "alignment")))
	defer est.Close()

	det := detector.New(b, src, est, detector.Config{
		Interval:               cfg.Interval,
		StaleAfterFrames:       cfg.Orientation.StaleAfterFrames,
		MaxOrientationFailures: cfg.Orientation.MaxFailures,
		Classifier:             cfg.Classifier,
	}, detector.WithLogger(logger.With("component", "detector")))

	err = det.Run(ctx)

	st := src.Stats()
	logger.Info("capture statistics",
		"captured", st.Captured,
		"dropped", st.Dropped,
		"reads", st.Reads)

	if errors.Is(err, capture.ErrClosed) && ctx.Err() != nil {
		return nil
	}
	return err
}
