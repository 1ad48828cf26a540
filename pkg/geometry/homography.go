package geometry

import "math"

// Homography is a 3x3 projective transform stored in row-major order.
//
//	[h0 h1 h2]
//	[h3 h4 h5]
//	[h6 h7 h8]
type Homography [9]float64

// IdentityHomography returns the identity transform.
func IdentityHomography() Homography {
	return Homography{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

// Apply maps a point through the transform. The second return value is false
// when the point maps to infinity.
func (h Homography) Apply(p Point2D) (Point2D, bool) {
	w := h[6]*p.X + h[7]*p.Y + h[8]
	if math.Abs(w) < 1e-12 {
		return Point2D{}, false
	}
	return Point2D{
		X: (h[0]*p.X + h[1]*p.Y + h[2]) / w,
		Y: (h[3]*p.X + h[4]*p.Y + h[5]) / w,
	}, true
}

// Determinant returns the determinant of the matrix.
func (h Homography) Determinant() float64 {
	return h[0]*(h[4]*h[8]-h[5]*h[7]) -
		h[1]*(h[3]*h[8]-h[5]*h[6]) +
		h[2]*(h[3]*h[7]-h[4]*h[6])
}

// Normalize scales the matrix so that h8 == 1. Matrices with h8 == 0 are
// returned unchanged.
func (h Homography) Normalize() Homography {
	if math.Abs(h[8]) < 1e-12 {
		return h
	}
	s := 1 / h[8]
	for i := range h {
		h[i] *= s
	}
	return h
}

// Inverse returns the inverse transform, if it exists.
func (h Homography) Inverse() (Homography, bool) {
	det := h.Determinant()
	if math.Abs(det) < 1e-12 {
		return Homography{}, false
	}
	inv := 1 / det
	out := Homography{
		(h[4]*h[8] - h[5]*h[7]) * inv,
		(h[2]*h[7] - h[1]*h[8]) * inv,
		(h[1]*h[5] - h[2]*h[4]) * inv,
		(h[5]*h[6] - h[3]*h[8]) * inv,
		(h[0]*h[8] - h[2]*h[6]) * inv,
		(h[2]*h[3] - h[0]*h[5]) * inv,
		(h[3]*h[7] - h[4]*h[6]) * inv,
		(h[1]*h[6] - h[0]*h[7]) * inv,
		(h[0]*h[4] - h[1]*h[3]) * inv,
	}
	return out.Normalize(), true
}

// Compose returns h applied after other (h * other).
func (h Homography) Compose(other Homography) Homography {
	var out Homography
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[r*3+c] = h[r*3]*other[c] + h[r*3+1]*other[3+c] + h[r*3+2]*other[6+c]
		}
	}
	return out
}

// ProjectRect maps the four corners of r. The second return value is false
// if any corner maps to infinity.
func (h Homography) ProjectRect(r Rect) ([4]Point2D, bool) {
	var out [4]Point2D
	for i, c := range r.Corners() {
		p, ok := h.Apply(c)
		if !ok {
			return out, false
		}
		out[i] = p
	}
	return out, true
}

// IsFinite reports whether every element is a finite number.
func (h Homography) IsFinite() bool {
	for _, v := range h {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
