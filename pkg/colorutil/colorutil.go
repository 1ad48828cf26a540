// Package colorutil provides color conversions in the OpenCV HSV convention
// (H 0-180, S 0-255, V 0-255) used by the LED classifier.
package colorutil

import (
	"fmt"
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
)

// HueRange is the number of distinct hue values in OpenCV's 8-bit HSV space.
const HueRange = 180

// HSV converts c to OpenCV-convention HSV. Fully transparent colors convert
// as black.
func HSV(c color.Color) (h, s, v float64) {
	cf, ok := colorful.MakeColor(c)
	if !ok {
		return 0, 0, 0
	}
	hh, ss, vv := cf.Hsv()
	return hh / 2, ss * 255, vv * 255
}

// FromHSV converts OpenCV-convention HSV back to an opaque RGBA color.
func FromHSV(h, s, v float64) color.RGBA {
	r, g, b := colorful.Hsv(h*2, s/255, v/255).Clamped().RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

// HexHue parses a "#rrggbb" string and returns its OpenCV hue.
func HexHue(hex string) (float64, error) {
	c, err := colorful.Hex(hex)
	if err != nil {
		return 0, fmt.Errorf("invalid hex color %q: %w", hex, err)
	}
	h, _, _ := c.Hsv()
	return h / 2, nil
}
