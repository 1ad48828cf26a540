package alignment

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"ledwatch/pkg/geometry"

	"gocv.io/x/gocv"
)

var (
	// ErrInsufficientMatches means too few unambiguous keypoint matches
	// were found between the reference and the frame.
	ErrInsufficientMatches = errors.New("insufficient keypoint matches")
	// ErrHomographyEstimationFailed means no consistent transform explains
	// the matches.
	ErrHomographyEstimationFailed = errors.New("homography estimation failed")
)

// minHomographyPairs is the number of pairs that determine a homography.
const minHomographyPairs = 4

// Config configures orientation estimation.
type Config struct {
	RatioTest       float64       `yaml:"ratio_test"`       // Lowe ratio; a match is kept when best < ratio * second best
	MinMatches      int           `yaml:"min_matches"`      // Minimum good matches before fitting
	ReprojThreshold float64       `yaml:"reproj_threshold"` // RANSAC inlier threshold in pixels
	Iterations      int           `yaml:"iterations"`       // RANSAC iterations
	StaleAfter      time.Duration `yaml:"stale_after"`      // Orientation lifetime, zero = never stale
	Seed            int64         `yaml:"seed"`             // RANSAC sampling seed
}

// DefaultConfig returns default estimation parameters.
func DefaultConfig() Config {
	return Config{
		RatioTest:       0.75,
		MinMatches:      10,
		ReprojThreshold: 5.0,
		Iterations:      2000,
		StaleAfter:      10 * time.Second,
		Seed:            1,
	}
}

// Estimator computes Orientations. It owns native OpenCV resources and must
// be closed. It is not safe for concurrent use.
type Estimator struct {
	cfg     Config
	sift    gocv.SIFT
	matcher gocv.BFMatcher
	rng     *rand.Rand
	now     func() time.Time
	log     *slog.Logger
}

// Option customizes an Estimator.
type Option func(*Estimator)

// WithClock sets the clock used for timestamps and staleness.
func WithClock(now func() time.Time) Option {
	return func(e *Estimator) { e.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Estimator) { e.log = l }
}

// NewEstimator creates an estimator using SIFT features and a brute-force
// L2 matcher.
func NewEstimator(cfg Config, opts ...Option) *Estimator {
	if cfg.MinMatches < minHomographyPairs {
		cfg.MinMatches = minHomographyPairs
	}
	if cfg.RatioTest <= 0 || cfg.RatioTest >= 1 {
		cfg.RatioTest = DefaultConfig().RatioTest
	}
	e := &Estimator{
		cfg:     cfg,
		sift:    gocv.NewSIFT(),
		matcher: gocv.NewBFMatcher(),
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		now:     time.Now,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Close releases the native detector and matcher.
func (e *Estimator) Close() error {
	err1 := e.sift.Close()
	err2 := e.matcher.Close()
	return errors.Join(err1, err2)
}

// Estimate locates reference inside live and returns the orientation that
// maps reference coordinates to live coordinates.
func (e *Estimator) Estimate(reference, live gocv.Mat) (*Orientation, error) {
	if reference.Empty() || live.Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrInsufficientMatches)
	}

	refPts, livePts, err := e.matchKeypoints(reference, live)
	if err != nil {
		return nil, err
	}

	params := RansacParams{Iterations: e.cfg.Iterations, Threshold: e.cfg.ReprojThreshold}
	h, inliers, err := ComputeHomographyRANSAC(refPts, livePts, params, e.rng)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHomographyEstimationFailed, err)
	}

	// A board outline folded by the transform means the fit is nonsense.
	outline, ok := h.ProjectRect(geometry.NewRect(0, 0, float64(reference.Cols()), float64(reference.Rows())))
	if !ok || !geometry.IsConvex(outline[:]) {
		return nil, fmt.Errorf("%w: reference outline is not convex under the transform", ErrHomographyEstimationFailed)
	}

	inSrc := make([]geometry.Point2D, len(inliers))
	inDst := make([]geometry.Point2D, len(inliers))
	for i, idx := range inliers {
		inSrc[i] = refPts[idx]
		inDst[i] = livePts[idx]
	}

	o := NewOrientation(h, e.now(), e.cfg.StaleAfter, e.now)
	o.Matches = len(refPts)
	o.Inliers = len(inliers)
	o.ReprojectionError = CalculateReprojectionError(inSrc, inDst, h)

	e.log.Debug("orientation estimated",
		"matches", o.Matches,
		"inliers", o.Inliers,
		"reproj_error", o.ReprojectionError)
	return o, nil
}

// matchKeypoints returns the reference and live positions of keypoint pairs
// that pass the ratio test.
func (e *Estimator) matchKeypoints(reference, live gocv.Mat) ([]geometry.Point2D, []geometry.Point2D, error) {
	refKps, refDesc := e.detect(reference)
	defer refDesc.Close()
	liveKps, liveDesc := e.detect(live)
	defer liveDesc.Close()

	if refDesc.Empty() || liveDesc.Empty() || len(liveKps) < 2 {
		return nil, nil, fmt.Errorf("%w: %d reference and %d live keypoints",
			ErrInsufficientMatches, len(refKps), len(liveKps))
	}

	knn := e.matcher.KnnMatch(refDesc, liveDesc, 2)

	var refPts, livePts []geometry.Point2D
	for _, m := range knn {
		if len(m) < 2 {
			continue
		}
		best, second := m[0], m[1]
		if best.Distance >= e.cfg.RatioTest*second.Distance {
			continue
		}
		rk := refKps[best.QueryIdx]
		lk := liveKps[best.TrainIdx]
		refPts = append(refPts, geometry.NewPoint2D(rk.X, rk.Y))
		livePts = append(livePts, geometry.NewPoint2D(lk.X, lk.Y))
	}

	e.log.Debug("keypoints matched",
		"reference_keypoints", len(refKps),
		"live_keypoints", len(liveKps),
		"good_matches", len(refPts))

	if len(refPts) < e.cfg.MinMatches {
		return nil, nil, fmt.Errorf("%w: %d good matches, need %d",
			ErrInsufficientMatches, len(refPts), e.cfg.MinMatches)
	}
	return refPts, livePts, nil
}

// detect finds SIFT keypoints and descriptors on the grayscale image.
func (e *Estimator) detect(img gocv.Mat) ([]gocv.KeyPoint, gocv.Mat) {
	gray := img
	if img.Channels() != 1 {
		gray = gocv.NewMat()
		defer gray.Close()
		gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
	}

	mask := gocv.NewMat()
	defer mask.Close()
	return e.sift.DetectAndCompute(gray, mask)
}
