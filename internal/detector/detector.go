// Package detector runs the LED detection loop: it pulls the latest camera
// frame, keeps the board orientation current, crops every LED and feeds the
// per-LED classifiers into the state table.
package detector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"ledwatch/internal/alignment"
	"ledwatch/internal/board"
	"ledwatch/internal/capture"
	"ledwatch/internal/led"
	"ledwatch/internal/roi"
	"ledwatch/internal/statetable"

	"gocv.io/x/gocv"
)

// State is the loop state.
type State int32

const (
	Idle             State = iota // Not running yet
	OrientationStale              // No usable orientation; estimating on the next frame
	Detecting                     // Classifying LEDs under a valid orientation
	Stopped                       // Run has returned
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case OrientationStale:
		return "orientation-stale"
	case Detecting:
		return "detecting"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// FrameSource delivers the most recent camera frame. *capture.Source
// satisfies it. Any error it returns stops the loop.
type FrameSource interface {
	Read() (capture.Frame, error)
}

// Estimator locates the reference image in a live frame. *alignment.Estimator
// satisfies it.
type Estimator interface {
	Estimate(reference, live gocv.Mat) (*alignment.Orientation, error)
}

// Cycle is the outcome of one successful detection cycle, handed to the
// debug hook. Frame and the region Mats are only valid during the call.
type Cycle struct {
	Frame       gocv.Mat
	Seq         uint64
	Orientation *alignment.Orientation
	Regions     []roi.Region
	Entries     []statetable.Entry
}

// DebugHook observes every completed cycle.
type DebugHook func(Cycle)

// Config configures the loop.
type Config struct {
	Interval               time.Duration // Delay between cycles
	StaleAfterFrames       int           // Re-estimate after this many frames; zero disables
	MaxOrientationFailures int           // Consecutive failures before reporting degraded
	Classifier             led.Config
}

// DefaultConfig returns the loop defaults.
func DefaultConfig() Config {
	return Config{
		Interval:               50 * time.Millisecond,
		MaxOrientationFailures: 20,
		Classifier:             led.DefaultConfig(),
	}
}

// Option customizes a Detector.
type Option func(*Detector)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Detector) { d.log = l }
}

// WithReporter sets the event reporter. The default logs events.
func WithReporter(r Reporter) Option {
	return func(d *Detector) { d.reporter = r }
}

// WithDebugHook installs a hook called after every completed cycle.
func WithDebugHook(h DebugHook) Option {
	return func(d *Detector) { d.hook = h }
}

// WithClock sets the clock used when a frame carries no capture time.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// Detector owns the per-LED classifiers and the state table. Run and Step
// must be called from a single goroutine; State and Snapshot may be called
// from any goroutine.
type Detector struct {
	board    *board.Board
	src      FrameSource
	est      Estimator
	cfg      Config
	log      *slog.Logger
	reporter Reporter
	hook     DebugHook
	now      func() time.Time

	state       atomic.Int32
	orientation *alignment.Orientation
	frames      int // frames processed under the current orientation
	failures    int // consecutive orientation failures
	degraded    bool

	classifiers []*led.Classifier

	mu    sync.Mutex // guards table
	table *statetable.Table
}

// New creates a detector for b. The board, source and estimator remain
// owned by the caller.
func New(b *board.Board, src FrameSource, est Estimator, cfg Config, opts ...Option) *Detector {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.MaxOrientationFailures <= 0 {
		cfg.MaxOrientationFailures = def.MaxOrientationFailures
	}

	d := &Detector{
		board: b,
		src:   src,
		est:   est,
		cfg:   cfg,
		log:   slog.Default(),
		now:   time.Now,
		table: statetable.New(b.IDs()),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.reporter == nil {
		d.reporter = LogReporter{Logger: d.log}
	}

	d.classifiers = make([]*led.Classifier, len(b.Leds))
	for i, l := range b.Leds {
		d.classifiers[i] = led.NewClassifier(l.ID, cfg.Classifier, d.log)
	}
	d.setState(Idle)
	return d
}

// State returns the current loop state.
func (d *Detector) State() State {
	return State(d.state.Load())
}

func (d *Detector) setState(s State) {
	if old := State(d.state.Swap(int32(s))); old != s {
		d.log.Debug("detector state", "from", old, "to", s)
	}
}

// Table returns the state table. It must only be used from the goroutine
// driving the detector; other goroutines use Snapshot.
func (d *Detector) Table() *statetable.Table {
	return d.table
}

// Snapshot returns a consistent copy of the state table.
func (d *Detector) Snapshot() []statetable.Entry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.table.Snapshot()
}

// Run executes a cycle every Interval until ctx is cancelled or the frame
// source fails. Cancellation is observed between cycles only; it returns nil.
func (d *Detector) Run(ctx context.Context) error {
	defer d.setState(Stopped)

	d.log.Info("detector started",
		"board", d.board.Name,
		"leds", len(d.board.Leds),
		"interval", d.cfg.Interval)

	timer := time.NewTimer(d.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.Info("detector stopped")
			return nil
		case <-timer.C:
		}
		if ctx.Err() != nil {
			d.log.Info("detector stopped")
			return nil
		}

		if err := d.Step(); err != nil {
			d.log.Error("detector stopped", "error", err)
			return err
		}
		timer.Reset(d.cfg.Interval)
	}
}

// Step runs one detection cycle. Vision failures are absorbed and retried on
// the next cycle; only a frame source error is returned.
func (d *Detector) Step() error {
	frame, err := d.src.Read()
	if err != nil {
		return fmt.Errorf("read frame: %w", err)
	}
	defer frame.Mat.Close()

	if d.orientationExpired() {
		d.setState(OrientationStale)
		o, err := d.est.Estimate(d.board.Image, frame.Mat)
		if err != nil {
			d.orientationFailed(err)
			return nil
		}
		d.orientation = o
		d.frames = 0
		d.log.Debug("orientation estimated",
			"inliers", o.Inliers,
			"reproj_error", o.ReprojectionError)
	}

	regions, err := roi.Extract(frame.Mat, d.board.Leds, d.orientation)
	if err != nil {
		d.orientation = nil
		d.orientationFailed(err)
		return nil
	}
	defer roi.CloseAll(regions)

	d.frames++
	d.orientationSucceeded()
	d.setState(Detecting)

	at := frame.CapturedAt
	if at.IsZero() {
		at = d.now()
	}
	for _, tr := range d.classify(regions, at) {
		d.reporter.Transition(tr)
	}

	if d.hook != nil {
		d.hook(Cycle{
			Frame:       frame.Mat,
			Seq:         frame.Seq,
			Orientation: d.orientation,
			Regions:     regions,
			Entries:     d.Snapshot(),
		})
	}
	return nil
}

// classify runs every LED classifier on its region, records resolved states
// and returns the resulting transitions. A LED whose region cannot be
// classified keeps its previous state.
func (d *Detector) classify(regions []roi.Region, at time.Time) []statetable.Transition {
	d.mu.Lock()
	defer d.mu.Unlock()

	var transitions []statetable.Transition

	for i, r := range regions {
		st, ok, err := d.classifiers[i].State(r.Mat, d.board.Leds[i].Colors, at)
		if err != nil {
			if errors.Is(err, led.ErrEmptyRegion) {
				d.log.Debug("skipping led with empty region", "led", r.LedID, "bounds", r.Bounds)
			} else {
				d.log.Warn("led classification failed", "led", r.LedID, "error", err)
			}
			continue
		}
		if !ok {
			continue
		}
		if tr, changed := d.table.Update(i, st); changed {
			transitions = append(transitions, tr)
		}
	}
	return transitions
}

// orientationExpired reports whether the orientation must be re-estimated
// before the next frame can be used.
func (d *Detector) orientationExpired() bool {
	if d.orientation == nil || d.orientation.Outdated() {
		return true
	}
	return d.cfg.StaleAfterFrames > 0 && d.frames >= d.cfg.StaleAfterFrames
}

func (d *Detector) orientationFailed(err error) {
	d.setState(OrientationStale)
	d.failures++
	d.log.Debug("orientation unusable", "failures", d.failures, "error", err)

	if d.failures >= d.cfg.MaxOrientationFailures && !d.degraded {
		d.degraded = true
		d.reporter.Degraded(d.failures, err)
	}
}

func (d *Detector) orientationSucceeded() {
	d.failures = 0
	if d.degraded {
		d.degraded = false
		d.reporter.Recovered()
	}
}
