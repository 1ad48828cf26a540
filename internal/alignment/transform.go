package alignment

import (
	"fmt"
	"math"
	"math/rand"

	"ledwatch/pkg/geometry"

	"gonum.org/v1/gonum/mat"
)

// RansacParams configures robust homography estimation.
type RansacParams struct {
	Iterations int     // Number of random 4-point samples to try
	Threshold  float64 // Maximum reprojection error (pixels) for an inlier
}

// DefaultRansacParams returns the defaults used by the estimator.
func DefaultRansacParams() RansacParams {
	return RansacParams{
		Iterations: 2000,
		Threshold:  5.0,
	}
}

// ComputeHomographyRANSAC estimates the homography mapping srcPoints onto
// dstPoints while rejecting mismatched pairs. It returns the transform refit
// on all inliers together with the inlier indices.
func ComputeHomographyRANSAC(srcPoints, dstPoints []geometry.Point2D, params RansacParams, rng *rand.Rand) (geometry.Homography, []int, error) {
	if len(srcPoints) != len(dstPoints) {
		return geometry.Homography{}, nil, fmt.Errorf("point count mismatch: %d vs %d", len(srcPoints), len(dstPoints))
	}
	if len(srcPoints) < 4 {
		return geometry.Homography{}, nil, fmt.Errorf("need at least 4 points, got %d", len(srcPoints))
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	iterations := params.Iterations
	if iterations <= 0 {
		iterations = 1
	}

	n := len(srcPoints)
	bestInliers := []int{}
	var bestTransform geometry.Homography

	sample := make([]geometry.Point2D, 4)
	target := make([]geometry.Point2D, 4)

	for iter := 0; iter < iterations; iter++ {
		indices := rng.Perm(n)[:4]
		for i, idx := range indices {
			sample[i] = srcPoints[idx]
			target[i] = dstPoints[idx]
		}
		if degenerateSample(sample) || degenerateSample(target) {
			continue
		}

		transform, err := ComputeHomographyDLT(sample, target)
		if err != nil {
			continue
		}

		inliers := collectInliers(srcPoints, dstPoints, transform, params.Threshold)
		if len(inliers) > len(bestInliers) {
			bestInliers = inliers
			bestTransform = transform
			if len(inliers) == n {
				break
			}
		}
	}

	if len(bestInliers) < 4 {
		return geometry.Homography{}, nil, fmt.Errorf("RANSAC failed to find enough inliers (%d)", len(bestInliers))
	}

	inlierSrc := make([]geometry.Point2D, len(bestInliers))
	inlierDst := make([]geometry.Point2D, len(bestInliers))
	for i, idx := range bestInliers {
		inlierSrc[i] = srcPoints[idx]
		inlierDst[i] = dstPoints[idx]
	}

	refit, err := ComputeHomographyDLT(inlierSrc, inlierDst)
	if err != nil {
		return bestTransform, bestInliers, nil
	}
	refitInliers := collectInliers(srcPoints, dstPoints, refit, params.Threshold)
	if len(refitInliers) < len(bestInliers) {
		return bestTransform, bestInliers, nil
	}
	return refit, refitInliers, nil
}

// ComputeHomographyDLT solves for the homography with the normalised direct
// linear transform. With more than four pairs the result is the algebraic
// least-squares fit.
func ComputeHomographyDLT(src, dst []geometry.Point2D) (geometry.Homography, error) {
	n := len(src)
	if n != len(dst) || n < 4 {
		return geometry.Homography{}, fmt.Errorf("need at least 4 point pairs")
	}

	srcT, srcN, ok := normalizePoints(src)
	if !ok {
		return geometry.Homography{}, fmt.Errorf("degenerate source points")
	}
	dstT, dstN, ok := normalizePoints(dst)
	if !ok {
		return geometry.Homography{}, fmt.Errorf("degenerate destination points")
	}

	// Each pair contributes two rows of A·h = 0.
	A := mat.NewDense(2*n, 9, nil)
	for i := 0; i < n; i++ {
		x, y := srcN[i].X, srcN[i].Y
		u, v := dstN[i].X, dstN[i].Y

		A.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		A.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}

	var svd mat.SVD
	if !svd.Factorize(A, mat.SVDFull) {
		return geometry.Homography{}, fmt.Errorf("SVD factorization failed")
	}
	var V mat.Dense
	svd.VTo(&V)

	// Right singular vector of the smallest singular value.
	var hn geometry.Homography
	for i := 0; i < 9; i++ {
		hn[i] = V.At(i, 8)
	}

	dstInv, ok := dstT.Inverse()
	if !ok {
		return geometry.Homography{}, fmt.Errorf("singular normalisation")
	}
	h := dstInv.Compose(hn).Compose(srcT)
	if math.Abs(h[8]) < 1e-12 {
		return geometry.Homography{}, fmt.Errorf("homography maps origin to infinity")
	}
	h = h.Normalize()
	if !h.IsFinite() || math.Abs(h.Determinant()) < 1e-12 {
		return geometry.Homography{}, fmt.Errorf("singular homography")
	}
	return h, nil
}

// normalizePoints translates the centroid to the origin and scales the mean
// distance to sqrt(2). It returns the similarity used and the mapped points.
func normalizePoints(points []geometry.Point2D) (geometry.Homography, []geometry.Point2D, bool) {
	var cx, cy float64
	for _, p := range points {
		cx += p.X
		cy += p.Y
	}
	n := float64(len(points))
	cx /= n
	cy /= n

	var meanDist float64
	for _, p := range points {
		meanDist += math.Hypot(p.X-cx, p.Y-cy)
	}
	meanDist /= n
	if meanDist < 1e-9 {
		return geometry.Homography{}, nil, false
	}

	s := math.Sqrt2 / meanDist
	T := geometry.Homography{
		s, 0, -s * cx,
		0, s, -s * cy,
		0, 0, 1,
	}
	out := make([]geometry.Point2D, len(points))
	for i, p := range points {
		out[i] = geometry.Point2D{X: s * (p.X - cx), Y: s * (p.Y - cy)}
	}
	return T, out, true
}

// degenerateSample reports whether any three of the four sample points are
// (nearly) collinear.
func degenerateSample(pts []geometry.Point2D) bool {
	for i := 0; i < 4; i++ {
		tri := make([]geometry.Point2D, 0, 3)
		for j := 0; j < 4; j++ {
			if j != i {
				tri = append(tri, pts[j])
			}
		}
		if math.Abs(geometry.PolygonArea(tri)) < 1.0 {
			return true
		}
	}
	return false
}

func collectInliers(src, dst []geometry.Point2D, h geometry.Homography, threshold float64) []int {
	var inliers []int
	for i := range src {
		p, ok := h.Apply(src[i])
		if !ok {
			continue
		}
		if p.Distance(dst[i]) < threshold {
			inliers = append(inliers, i)
		}
	}
	return inliers
}

// CalculateReprojectionError returns the mean distance between the projected
// source points and their destinations.
func CalculateReprojectionError(srcPoints, dstPoints []geometry.Point2D, h geometry.Homography) float64 {
	if len(srcPoints) != len(dstPoints) || len(srcPoints) == 0 {
		return math.Inf(1)
	}

	var totalError float64
	for i := range srcPoints {
		p, ok := h.Apply(srcPoints[i])
		if !ok {
			return math.Inf(1)
		}
		totalError += p.Distance(dstPoints[i])
	}

	return totalError / float64(len(srcPoints))
}
