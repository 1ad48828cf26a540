package detector

import (
	"context"
	"fmt"
	"image"
	"testing"
	"time"

	"ledwatch/internal/alignment"
	"ledwatch/internal/board"
	"ledwatch/internal/capture"
	"ledwatch/internal/led"
	"ledwatch/internal/roi"
	"ledwatch/internal/statetable"
	"ledwatch/internal/testutil"
	"ledwatch/pkg/geometry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

var (
	led0Rect = image.Rect(10, 10, 18, 18)
	led1Rect = image.Rect(40, 20, 48, 28)
)

type bgr struct{ b, g, r uint8 }

var (
	dark  = bgr{20, 20, 20}
	white = bgr{255, 255, 255}
	green = bgr{0, 255, 0}
)

// testFrame paints the two LEDs on a flat 64x48 background.
func testFrame(l0, l1 bgr) gocv.Mat {
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(30, 30, 30, 0), 48, 64, gocv.MatTypeCV8UC3)
	testutil.Fill(&m, led0Rect, l0.b, l0.g, l0.r)
	testutil.Fill(&m, led1Rect, l1.b, l1.g, l1.r)
	return m
}

func testBoard(t *testing.T) *board.Board {
	t.Helper()
	b, err := board.New("test", testFrame(dark, dark), []board.LedSpec{
		{ID: 0, Bounds: geometry.RectFromImage(led0Rect)},
		{ID: 1, Bounds: geometry.RectFromImage(led1Rect), Colors: []led.Color{led.ColorGreen, led.ColorRed}},
	})
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

// fakeSource returns its frames in order and then keeps repeating the last.
type fakeSource struct {
	frames []gocv.Mat
	n      int
	err    error
	start  time.Time
}

func newFakeSource(t *testing.T, frames ...gocv.Mat) *fakeSource {
	t.Cleanup(func() {
		for _, f := range frames {
			f.Close()
		}
	})
	return &fakeSource{frames: frames, start: time.Unix(1000, 0)}
}

func (s *fakeSource) Read() (capture.Frame, error) {
	if s.err != nil {
		return capture.Frame{}, s.err
	}
	i := s.n
	if i >= len(s.frames) {
		i = len(s.frames) - 1
	}
	s.n++
	return capture.Frame{
		Mat:        s.frames[i].Clone(),
		Seq:        uint64(s.n),
		CapturedAt: s.start.Add(time.Duration(s.n) * 100 * time.Millisecond),
	}, nil
}

// fakeEstimator fails its first fail calls and then returns h.
type fakeEstimator struct {
	h          geometry.Homography
	fail       int
	err        error
	staleAfter time.Duration
	clock      func() time.Time
	calls      int
}

func (e *fakeEstimator) Estimate(reference, live gocv.Mat) (*alignment.Orientation, error) {
	e.calls++
	if e.calls <= e.fail {
		return nil, e.err
	}
	created := time.Unix(0, 0)
	if e.clock != nil {
		created = e.clock()
	}
	return alignment.NewOrientation(e.h, created, e.staleAfter, e.clock), nil
}

type recordingReporter struct {
	transitions []statetable.Transition
	degraded    []int
	lastErr     error
	recovered   int
}

func (r *recordingReporter) Transition(tr statetable.Transition) {
	r.transitions = append(r.transitions, tr)
}

func (r *recordingReporter) Degraded(failures int, err error) {
	r.degraded = append(r.degraded, failures)
	r.lastErr = err
}

func (r *recordingReporter) Recovered() { r.recovered++ }

func identity() *fakeEstimator {
	return &fakeEstimator{h: geometry.IdentityHomography()}
}

func TestStepClassifiesLeds(t *testing.T) {
	src := newFakeSource(t,
		testFrame(dark, dark),
		testFrame(white, green),
		testFrame(dark, dark),
	)
	rep := &recordingReporter{}
	d := New(testBoard(t), src, identity(), DefaultConfig(), WithReporter(rep))
	assert.Equal(t, Idle, d.State())

	require.NoError(t, d.Step())
	assert.Equal(t, Detecting, d.State())
	for _, e := range d.Snapshot() {
		_, ok := e.State()
		assert.False(t, ok, "first frame only sets the baseline")
	}

	require.NoError(t, d.Step())
	s0, ok := d.Table().Entry(0).State()
	require.True(t, ok)
	assert.Equal(t, led.PowerOn, s0.Power)
	s1, ok := d.Table().Entry(1).State()
	require.True(t, ok)
	assert.Equal(t, led.PowerOn, s1.Power)
	assert.Equal(t, led.ColorGreen, s1.Color)
	assert.Empty(t, rep.transitions)

	require.NoError(t, d.Step())
	require.Len(t, rep.transitions, 2)
	for _, tr := range rep.transitions {
		assert.Equal(t, led.PowerOn, tr.Old.Power)
		assert.Equal(t, led.PowerOff, tr.New.Power)
		assert.Equal(t, led.ColorNone, tr.New.Color)
	}
	assert.Equal(t, src.start.Add(300*time.Millisecond), rep.transitions[0].New.Timestamp)
}

func TestOrientationFailuresReportDegradedOnce(t *testing.T) {
	est := identity()
	est.fail = 5
	est.err = fmt.Errorf("%w: 2 good matches, need 10", alignment.ErrInsufficientMatches)

	rep := &recordingReporter{}
	cfg := DefaultConfig()
	cfg.MaxOrientationFailures = 3
	d := New(testBoard(t), newFakeSource(t, testFrame(dark, dark)), est, cfg, WithReporter(rep))

	for i := 0; i < 5; i++ {
		require.NoError(t, d.Step(), "vision failures are not fatal")
	}
	assert.Equal(t, OrientationStale, d.State())
	assert.Equal(t, []int{3}, rep.degraded)
	assert.ErrorIs(t, rep.lastErr, alignment.ErrInsufficientMatches)
	assert.Zero(t, rep.recovered)

	require.NoError(t, d.Step())
	assert.Equal(t, Detecting, d.State())
	assert.Equal(t, 1, rep.recovered)
	assert.Equal(t, 6, est.calls)

	require.NoError(t, d.Step())
	assert.Equal(t, 1, rep.recovered)
	assert.Equal(t, 6, est.calls, "a valid orientation is reused")
}

func TestLedOutOfFrameDiscardsOrientation(t *testing.T) {
	est := &fakeEstimator{h: geometry.Homography{1, 0, 30, 0, 1, 0, 0, 0, 1}}
	rep := &recordingReporter{}
	cfg := DefaultConfig()
	cfg.MaxOrientationFailures = 2
	d := New(testBoard(t), newFakeSource(t, testFrame(dark, dark)), est, cfg, WithReporter(rep))

	require.NoError(t, d.Step())
	assert.Equal(t, OrientationStale, d.State())
	assert.Empty(t, rep.degraded)

	require.NoError(t, d.Step())
	assert.Equal(t, 2, est.calls, "orientation is re-estimated after an out-of-frame LED")
	assert.Equal(t, []int{2}, rep.degraded)
	assert.ErrorIs(t, rep.lastErr, roi.ErrLedOutOfFrame)
}

func TestFrameBudgetForcesReestimate(t *testing.T) {
	est := identity()
	cfg := DefaultConfig()
	cfg.StaleAfterFrames = 2
	d := New(testBoard(t), newFakeSource(t, testFrame(dark, dark)), est, cfg)

	for i := 0; i < 5; i++ {
		require.NoError(t, d.Step())
	}
	assert.Equal(t, 3, est.calls)
}

func TestOutdatedOrientationIsReestimated(t *testing.T) {
	now := time.Unix(100, 0)
	est := identity()
	est.staleAfter = time.Second
	est.clock = func() time.Time { return now }
	d := New(testBoard(t), newFakeSource(t, testFrame(dark, dark)), est, DefaultConfig())

	require.NoError(t, d.Step())
	require.NoError(t, d.Step())
	assert.Equal(t, 1, est.calls)

	now = now.Add(2 * time.Second)
	require.NoError(t, d.Step())
	assert.Equal(t, 2, est.calls)
}

func TestEmptyRegionSkipsLed(t *testing.T) {
	d := New(testBoard(t), newFakeSource(t, testFrame(dark, dark)), identity(), DefaultConfig())

	empty := gocv.NewMat()
	defer empty.Close()
	darkROI := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(20, 20, 20, 0), 8, 8, gocv.MatTypeCV8UC3)
	defer darkROI.Close()
	litROI := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 255, 255, 0), 8, 8, gocv.MatTypeCV8UC3)
	defer litROI.Close()

	at := time.Unix(5, 0)
	d.classify([]roi.Region{{LedID: 0, Mat: empty}, {LedID: 1, Mat: darkROI}}, at)
	d.classify([]roi.Region{{LedID: 0, Mat: empty}, {LedID: 1, Mat: litROI}}, at.Add(time.Second))

	_, ok := d.Table().Entry(0).State()
	assert.False(t, ok)
	s1, ok := d.Table().Entry(1).State()
	require.True(t, ok)
	assert.Equal(t, led.PowerOn, s1.Power)
}

func TestRunStopsOnSourceError(t *testing.T) {
	src := newFakeSource(t, testFrame(dark, dark))
	src.err = fmt.Errorf("%w: 50 consecutive read failures", capture.ErrSourceUnavailable)

	cfg := DefaultConfig()
	cfg.Interval = time.Millisecond
	d := New(testBoard(t), src, identity(), cfg)

	err := d.Run(context.Background())
	assert.ErrorIs(t, err, capture.ErrSourceUnavailable)
	assert.Equal(t, Stopped, d.State())
}

func TestRunReturnsNilOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cycles := 0
	cfg := DefaultConfig()
	cfg.Interval = time.Millisecond
	d := New(testBoard(t), newFakeSource(t, testFrame(dark, dark)), identity(), cfg,
		WithDebugHook(func(c Cycle) {
			cycles++
			assert.Len(t, c.Regions, 2)
			assert.Len(t, c.Entries, 2)
			if cycles == 3 {
				cancel()
			}
		}))

	require.NoError(t, d.Run(ctx))
	assert.Equal(t, 3, cycles, "cancellation is only observed between cycles")
	assert.Equal(t, Stopped, d.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "orientation-stale", OrientationStale.String())
	assert.Equal(t, "State(9)", State(9).String())
}

// TestEndToEndIdentity runs the real estimator against a frame identical to
// the reference and checks that a lit LED is detected.
func TestEndToEndIdentity(t *testing.T) {
	leds := []image.Rectangle{image.Rect(60, 50, 72, 62), image.Rect(200, 150, 212, 162)}

	ref := testutil.SyntheticBoard(7, 320, 240, 10)
	for _, r := range leds {
		testutil.Fill(&ref, r, 20, 20, 20)
	}
	b, err := board.New("synthetic", ref, []board.LedSpec{
		{ID: 0, Bounds: geometry.RectFromImage(leds[0])},
		{ID: 1, Bounds: geometry.RectFromImage(leds[1])},
	})
	require.NoError(t, err)
	defer b.Close()

	lit := ref.Clone()
	testutil.Fill(&lit, leds[0], 255, 255, 255)
	src := newFakeSource(t, ref.Clone(), lit)

	acfg := alignment.DefaultConfig()
	acfg.StaleAfter = 0
	est := alignment.NewEstimator(acfg)
	defer est.Close()

	var bounds [][]image.Rectangle
	d := New(b, src, est, DefaultConfig(), WithDebugHook(func(c Cycle) {
		var got []image.Rectangle
		for _, r := range c.Regions {
			got = append(got, r.Bounds)
		}
		bounds = append(bounds, got)
	}))

	require.NoError(t, d.Step())
	require.NoError(t, d.Step())

	require.Len(t, bounds, 2)
	assert.Equal(t, leds, bounds[0])

	s0, ok := d.Table().Entry(0).State()
	require.True(t, ok)
	assert.Equal(t, led.PowerOn, s0.Power)
	_, ok = d.Table().Entry(1).State()
	assert.False(t, ok, "an unchanged LED stays unresolved")
}

func TestDefaultReporterLogs(t *testing.T) {
	d := New(testBoard(t), newFakeSource(t, testFrame(dark, dark)), identity(), Config{})
	assert.IsType(t, LogReporter{}, d.reporter)
	assert.Equal(t, DefaultConfig().Interval, d.cfg.Interval)
	require.NoError(t, d.Step())
}
