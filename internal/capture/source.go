// Package capture reads frames from a camera without letting them queue up.
//
// A background goroutine drains the device as fast as it delivers frames and
// keeps only the most recent one in a single slot. Readers always get that
// latest frame; older frames are overwritten, never buffered.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

var (
	// ErrSourceUnavailable means the device could not be opened or stopped
	// delivering frames.
	ErrSourceUnavailable = errors.New("frame source unavailable")
	// ErrNotStarted means Read was called before Start.
	ErrNotStarted = errors.New("frame source not started")
	// ErrClosed means Read was called after Close.
	ErrClosed = errors.New("frame source closed")
)

// Device is a frame producer. *gocv.VideoCapture satisfies it.
type Device interface {
	Read(m *gocv.Mat) bool
	Close() error
}

// Frame is one captured image. The caller owns Mat and must close it.
type Frame struct {
	Mat        gocv.Mat
	Seq        uint64    // 1 for the first captured frame
	CapturedAt time.Time // When the capture goroutine received it
}

// Stats are capture counters.
type Stats struct {
	Captured uint64 // Frames received from the device
	Dropped  uint64 // Frames overwritten before anyone read them
	Reads    uint64 // Successful Read calls
}

// Options configures a Source.
type Options struct {
	// MaxReadFailures is the number of consecutive failed device reads
	// after which the source is considered unavailable.
	MaxReadFailures int
	// RetryDelay is the pause after a failed device read.
	RetryDelay time.Duration
	Logger     *slog.Logger
	Clock      func() time.Time
}

// DefaultOptions returns the capture defaults.
func DefaultOptions() Options {
	return Options{
		MaxReadFailures: 50,
		RetryDelay:      20 * time.Millisecond,
	}
}

// Source owns a device and the latest frame read from it.
type Source struct {
	dev  Device
	opts Options
	log  *slog.Logger

	mu         sync.Mutex
	cond       *sync.Cond
	latest     gocv.Mat
	seq        uint64
	capturedAt time.Time
	lastRead   uint64
	started    bool
	closed     bool
	err        error
	stats      Stats

	cancel context.CancelFunc
	done   chan struct{}
}

// Open opens camera deviceID and asks the driver to buffer a single frame.
func Open(deviceID int, opts Options) (*Source, error) {
	vc, err := gocv.OpenVideoCapture(deviceID)
	if err != nil {
		return nil, fmt.Errorf("%w: device %d: %v", ErrSourceUnavailable, deviceID, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("%w: device %d did not open", ErrSourceUnavailable, deviceID)
	}
	vc.Set(gocv.VideoCaptureBufferSize, 1)
	return New(vc, opts), nil
}

// New wraps an already opened device.
func New(dev Device, opts Options) *Source {
	def := DefaultOptions()
	if opts.MaxReadFailures <= 0 {
		opts.MaxReadFailures = def.MaxReadFailures
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = def.RetryDelay
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	s := &Source{
		dev:    dev,
		opts:   opts,
		log:    opts.Logger,
		latest: gocv.NewMat(),
		done:   make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Start launches the capture goroutine. It runs until ctx is cancelled,
// Close is called, or the device fails permanently.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.started {
		return nil
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	go s.captureLoop(ctx)
	return nil
}

// captureLoop reads into a scratch Mat and swaps it with the latest slot, so
// a reader never sees a partially written frame.
func (s *Source) captureLoop(ctx context.Context) {
	defer close(s.done)

	scratch := gocv.NewMat()
	defer scratch.Close()

	failures := 0
	for {
		if ctx.Err() != nil {
			s.finish(nil)
			return
		}

		if !s.dev.Read(&scratch) || scratch.Empty() {
			if ctx.Err() != nil {
				s.finish(nil)
				return
			}
			failures++
			if failures >= s.opts.MaxReadFailures {
				s.log.Error("capture device stopped delivering frames", "failures", failures)
				s.finish(fmt.Errorf("%w: %d consecutive read failures", ErrSourceUnavailable, failures))
				return
			}
			select {
			case <-ctx.Done():
			case <-time.After(s.opts.RetryDelay):
			}
			continue
		}
		failures = 0

		now := s.opts.Clock()
		s.mu.Lock()
		if s.seq > s.lastRead {
			s.stats.Dropped++
		}
		s.latest, scratch = scratch, s.latest
		s.seq++
		s.capturedAt = now
		s.stats.Captured++
		s.cond.Broadcast()
		s.mu.Unlock()
	}
}

// finish records the terminal error and wakes any waiting readers.
func (s *Source) finish(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	if s.err == nil {
		s.err = ErrClosed
	}
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Read returns a copy of the most recent frame. It blocks only until the
// first frame has been captured.
func (s *Source) Read() (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Frame{}, ErrClosed
	}
	if !s.started {
		return Frame{}, ErrNotStarted
	}
	for s.seq == 0 && s.err == nil && !s.closed {
		s.cond.Wait()
	}
	if s.closed {
		return Frame{}, ErrClosed
	}
	if s.err != nil {
		return Frame{}, s.err
	}

	s.lastRead = s.seq
	s.stats.Reads++
	return Frame{
		Mat:        s.latest.Clone(),
		Seq:        s.seq,
		CapturedAt: s.capturedAt,
	}, nil
}

// Seq returns the sequence number of the latest captured frame.
func (s *Source) Seq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Stats returns a copy of the capture counters.
func (s *Source) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Close stops the capture goroutine and releases the device.
func (s *Source) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	cancel := s.cancel
	s.cond.Broadcast()
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	// The device must not be closed while the goroutine is reading from it.
	if started {
		<-s.done
	}
	err := s.dev.Close()

	s.mu.Lock()
	s.latest.Close()
	s.mu.Unlock()
	return err
}
