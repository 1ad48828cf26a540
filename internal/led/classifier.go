package led

import (
	"fmt"
	"image"
	"log/slog"
	"time"

	"ledwatch/pkg/colorutil"

	"gocv.io/x/gocv"
)

// Config tunes the brightness hysteresis.
type Config struct {
	// HistorySize bounds the number of "on" brightness samples kept.
	HistorySize int `yaml:"history_size"`
	// Tolerance is the brightness band, in gray levels, treated as noise.
	Tolerance int `yaml:"tolerance"`
}

// DefaultConfig returns the classifier defaults.
func DefaultConfig() Config {
	return Config{
		HistorySize: 20,
		Tolerance:   10,
	}
}

// Classifier tracks one LED across frames. Its histories belong to that LED
// alone and persist between calls; it is not safe for concurrent use.
type Classifier struct {
	id  int
	cfg Config
	log *slog.Logger

	// brightness hysteresis
	baseline    int
	hasBaseline bool
	onValues    []int
	onNext      int

	// last emitted power
	power    Power
	resolved bool

	// hue histograms of the last on and off observations
	onHist  []float64
	offHist []float64
	color   Color
}

// NewClassifier creates a classifier for the LED with the given id.
func NewClassifier(id int, cfg Config, logger *slog.Logger) *Classifier {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultConfig().HistorySize
	}
	if cfg.Tolerance < 0 {
		cfg.Tolerance = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		id:       id,
		cfg:      cfg,
		log:      logger.With("led", id),
		onValues: make([]int, 0, cfg.HistorySize),
	}
}

// ID returns the LED id this classifier was created for.
func (c *Classifier) ID() int {
	return c.id
}

// State classifies roi (a BGR crop of the LED) captured at time at. The
// boolean result is false while the LED state is still unresolved, in which
// case no state is produced. expected restricts color classification to the
// listed labels when non-empty.
func (c *Classifier) State(roi gocv.Mat, expected []Color, at time.Time) (LedState, bool, error) {
	if roi.Empty() || roi.Rows() == 0 || roi.Cols() == 0 {
		return LedState{}, false, ErrEmptyRegion
	}

	avg, err := Brightness(roi)
	if err != nil {
		return LedState{}, false, err
	}

	power, ok := c.decide(avg)
	changed := ok && (!c.resolved || power != c.power)

	if changed || !c.resolved {
		hist, err := HueHistogram(roi)
		if err != nil {
			return LedState{}, false, err
		}
		c.updateColor(ok, power, hist, expected)
	}

	if !ok {
		return LedState{}, false, nil
	}

	if changed {
		c.log.Debug("power changed", "power", power, "brightness", avg, "color", c.color)
	}
	c.power = power
	c.resolved = true

	state := LedState{Power: power, Timestamp: at}
	if power == PowerOn {
		state.Color = c.color
	}
	return state, true, nil
}

// decide applies the brightness hysteresis to one histogram average.
func (c *Classifier) decide(avg int) (Power, bool) {
	tol := c.cfg.Tolerance

	if len(c.onValues) == 0 {
		if !c.hasBaseline || abs(avg-c.baseline) <= tol {
			c.baseline = avg
			c.hasBaseline = true
			return PowerOff, false
		}
		if avg > c.baseline {
			c.record(avg)
			return PowerOn, true
		}
		// The baseline was the lit level; remember it for later decisions.
		c.record(c.baseline)
		return PowerOff, true
	}

	if avg >= c.onMean()-tol && avg <= 255 {
		c.record(avg)
		return PowerOn, true
	}
	return PowerOff, true
}

// record appends a brightness sample to the bounded on-history.
func (c *Classifier) record(v int) {
	if len(c.onValues) < c.cfg.HistorySize {
		c.onValues = append(c.onValues, v)
		return
	}
	c.onValues[c.onNext] = v
	c.onNext = (c.onNext + 1) % c.cfg.HistorySize
}

func (c *Classifier) onMean() int {
	sum := 0
	for _, v := range c.onValues {
		sum += v
	}
	return sum / len(c.onValues)
}

// updateColor maintains the on/off hue histograms. Subtracting the off
// histogram from the on histogram leaves the hue the LED itself emits.
func (c *Classifier) updateColor(resolved bool, power Power, hist []float64, expected []Color) {
	if !resolved {
		c.onHist = hist
		c.offHist = append([]float64(nil), hist...)
		return
	}
	if power == PowerOff {
		c.offHist = hist
		return
	}
	if c.offHist != nil {
		hist = SubtractHistogram(hist, c.offHist)
	}
	c.onHist = hist
	c.color = ClassifyHue(hist, expected)
}

// SubtractHistogram returns on - off per bin, clamped at zero.
func SubtractHistogram(on, off []float64) []float64 {
	out := make([]float64, len(on))
	for i := range on {
		v := on[i]
		if i < len(off) {
			v -= off[i]
		}
		if v > 0 {
			out[i] = v
		}
	}
	return out
}

// Brightness returns the weighted average of the grayscale histogram of a
// lightly blurred copy of roi.
func Brightness(roi gocv.Mat) (int, error) {
	if roi.Empty() {
		return 0, ErrEmptyRegion
	}

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(roi, &blurred, image.Pt(3, 3), 0, 0, gocv.BorderDefault)

	gray := blurred
	if blurred.Channels() != 1 {
		gray = gocv.NewMat()
		defer gray.Close()
		gocv.CvtColor(blurred, &gray, gocv.ColorBGRToGray)
	}

	hist, err := histogram(gray, 0, 256)
	if err != nil {
		return 0, err
	}
	return HistogramAverage(hist), nil
}

// HistogramAverage returns the integer weighted mean bin of hist.
func HistogramAverage(hist []float64) int {
	var sum, weighted float64
	for i, v := range hist {
		sum += v
		weighted += float64(i) * v
	}
	if sum == 0 {
		return 0
	}
	return int(weighted / sum)
}

// HueHistogram returns a 180-bin histogram of the OpenCV hue channel of roi.
func HueHistogram(roi gocv.Mat) ([]float64, error) {
	if roi.Empty() {
		return nil, ErrEmptyRegion
	}
	if roi.Channels() != 3 {
		return nil, fmt.Errorf("hue histogram needs a 3-channel image, got %d", roi.Channels())
	}

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(roi, &hsv, gocv.ColorBGRToHSV)

	return histogram(hsv, 0, colorutil.HueRange)
}

// histogram computes a single-channel histogram with one bin per value in
// [0, bins).
func histogram(src gocv.Mat, channel, bins int) ([]float64, error) {
	mask := gocv.NewMat()
	defer mask.Close()
	hist := gocv.NewMat()
	defer hist.Close()

	gocv.CalcHist([]gocv.Mat{src}, []int{channel}, mask, &hist, []int{bins}, []float64{0, float64(bins)}, false)
	if hist.Rows() != bins {
		return nil, fmt.Errorf("histogram has %d bins, want %d", hist.Rows(), bins)
	}

	out := make([]float64, bins)
	for i := range out {
		out[i] = float64(hist.GetFloatAt(i, 0))
	}
	return out, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
