package led

import (
	"fmt"
	"strings"

	"ledwatch/pkg/colorutil"
)

// Color is the label of an LED's emitted color.
type Color string

// Known color labels. ColorNone means the color is not known.
const (
	ColorNone   Color = ""
	ColorRed    Color = "red"
	ColorYellow Color = "yellow"
	ColorGreen  Color = "green"
	ColorBlue   Color = "blue"
	ColorCyan   Color = "cyan"
	ColorPurple Color = "purple"
)

// HueBand is a half-open range [Lo, Hi) of OpenCV hue values assigned to a
// color label. A band with Lo > Hi wraps around hue 0.
type HueBand struct {
	Color Color
	Lo    int
	Hi    int
}

// HueBands partitions the OpenCV hue circle (0-179) into color labels.
var HueBands = []HueBand{
	{Color: ColorRed, Lo: 166, Hi: 16},
	{Color: ColorYellow, Lo: 16, Hi: 46},
	{Color: ColorGreen, Lo: 46, Hi: 76},
	{Color: ColorBlue, Lo: 76, Hi: 106},
	{Color: ColorCyan, Lo: 106, Hi: 136},
	{Color: ColorPurple, Lo: 136, Hi: 166},
}

// Contains reports whether hue h falls inside the band.
func (b HueBand) Contains(h int) bool {
	h = ((h % colorutil.HueRange) + colorutil.HueRange) % colorutil.HueRange
	if b.Lo <= b.Hi {
		return h >= b.Lo && h < b.Hi
	}
	return h >= b.Lo || h < b.Hi
}

// Mass sums the histogram bins covered by the band.
func (b HueBand) Mass(hist []float64) float64 {
	var sum float64
	for h, v := range hist {
		if h >= colorutil.HueRange {
			break
		}
		if b.Contains(h) {
			sum += v
		}
	}
	return sum
}

// ClassifyHue returns the label of the band holding the most histogram mass.
// When allowed is non-empty only those labels compete. A histogram without
// mass in any competing band yields ColorNone.
func ClassifyHue(hist []float64, allowed []Color) Color {
	best := ColorNone
	bestMass := 0.0
	for _, band := range HueBands {
		if len(allowed) > 0 && !containsColor(allowed, band.Color) {
			continue
		}
		if m := band.Mass(hist); m > bestMass {
			best, bestMass = band.Color, m
		}
	}
	return best
}

// BandFor returns the label of the band containing hue h.
func BandFor(h int) Color {
	for _, band := range HueBands {
		if band.Contains(h) {
			return band.Color
		}
	}
	return ColorNone
}

// ParseColor accepts a color label ("green") or a hex color ("#00ff00"),
// which is mapped onto the band containing its hue.
func ParseColor(s string) (Color, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if strings.HasPrefix(s, "#") {
		h, err := colorutil.HexHue(s)
		if err != nil {
			return ColorNone, err
		}
		return BandFor(int(h)), nil
	}
	for _, band := range HueBands {
		if Color(s) == band.Color {
			return band.Color, nil
		}
	}
	return ColorNone, fmt.Errorf("unknown color %q", s)
}

func containsColor(colors []Color, c Color) bool {
	for _, x := range colors {
		if x == c {
			return true
		}
	}
	return false
}
