// Package testutil builds synthetic images for tests that need a textured
// board for keypoint matching.
package testutil

import (
	"image"
	"image/color"
	"math/rand"

	"gocv.io/x/gocv"
)

// SyntheticBoard draws a deterministic pattern of filled rectangles and
// circles on a dark background. Shapes stay margin pixels away from the
// border. The caller owns the returned Mat.
func SyntheticBoard(seed int64, width, height, margin int) gocv.Mat {
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(30, 30, 30, 0), height, width, gocv.MatTypeCV8UC3)
	rng := rand.New(rand.NewSource(seed))

	randColor := func() color.RGBA {
		return color.RGBA{
			R: uint8(60 + rng.Intn(196)),
			G: uint8(60 + rng.Intn(196)),
			B: uint8(60 + rng.Intn(196)),
		}
	}

	for i := 0; i < 40; i++ {
		w := 8 + rng.Intn(30)
		h := 8 + rng.Intn(30)
		x := margin + rng.Intn(width-2*margin-w)
		y := margin + rng.Intn(height-2*margin-h)
		gocv.Rectangle(&img, image.Rect(x, y, x+w, y+h), randColor(), -1)
	}
	for i := 0; i < 25; i++ {
		r := 4 + rng.Intn(12)
		x := margin + r + rng.Intn(width-2*margin-2*r)
		y := margin + r + rng.Intn(height-2*margin-2*r)
		gocv.Circle(&img, image.Pt(x, y), r, randColor(), -1)
	}
	return img
}

// Fill paints rect with a solid BGR color.
func Fill(img *gocv.Mat, rect image.Rectangle, b, g, r uint8) {
	gocv.Rectangle(img, rect, color.RGBA{R: r, G: g, B: b}, -1)
}
