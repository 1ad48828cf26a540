// Package alignment locates the reference board inside a live camera frame.
//
// The board is found by matching SIFT keypoints between the reference image
// and the frame and fitting a homography to the matched pairs with RANSAC.
// The result is an Orientation: an immutable reference-to-frame transform
// that expires after a configurable time so it can be re-estimated.
package alignment

import (
	"time"

	"ledwatch/pkg/geometry"
)

// Orientation maps reference-image coordinates to live-frame coordinates.
// It is valid only for the camera pose it was computed under and is never
// modified after creation.
type Orientation struct {
	Transform geometry.Homography
	CreatedAt time.Time

	Matches           int     // Ratio-test survivors fed to RANSAC
	Inliers           int     // Pairs consistent with Transform
	ReprojectionError float64 // Mean inlier error in pixels

	staleAfter time.Duration
	now        func() time.Time
}

// NewOrientation wraps an already known transform. A staleAfter of zero
// means the orientation never expires. A nil clock uses time.Now.
func NewOrientation(h geometry.Homography, createdAt time.Time, staleAfter time.Duration, clock func() time.Time) *Orientation {
	if clock == nil {
		clock = time.Now
	}
	return &Orientation{
		Transform:  h,
		CreatedAt:  createdAt,
		staleAfter: staleAfter,
		now:        clock,
	}
}

// Age returns the time elapsed since the orientation was estimated.
func (o *Orientation) Age() time.Duration {
	return o.now().Sub(o.CreatedAt)
}

// Outdated reports whether the staleness window has elapsed.
func (o *Orientation) Outdated() bool {
	if o.staleAfter <= 0 {
		return false
	}
	return o.Age() > o.staleAfter
}

// Project maps a reference-image rectangle to its four corners in the live
// frame.
func (o *Orientation) Project(r geometry.Rect) ([4]geometry.Point2D, bool) {
	return o.Transform.ProjectRect(r)
}

// Inverse returns the live-to-reference transform.
func (o *Orientation) Inverse() (geometry.Homography, bool) {
	return o.Transform.Inverse()
}
