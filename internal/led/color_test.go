package led

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedBandWrapsAroundZero(t *testing.T) {
	red := HueBands[0]
	require.Equal(t, ColorRed, red.Color)

	for _, h := range []int{166, 170, 179, 0, 8, 15, 180, -1} {
		assert.True(t, red.Contains(h), "hue %d", h)
	}
	for _, h := range []int{16, 90, 165} {
		assert.False(t, red.Contains(h), "hue %d", h)
	}
}

func TestBandsCoverEveryHueOnce(t *testing.T) {
	for h := 0; h < 180; h++ {
		n := 0
		for _, b := range HueBands {
			if b.Contains(h) {
				n++
			}
		}
		assert.Equal(t, 1, n, "hue %d", h)
	}
}

func TestClassifyHue(t *testing.T) {
	tests := []struct {
		name    string
		lo, hi  int
		allowed []Color
		want    Color
	}{
		{"purple", 136, 166, nil, ColorPurple},
		{"red low side", 0, 16, nil, ColorRed},
		{"red high side", 166, 180, nil, ColorRed},
		{"yellow", 16, 46, nil, ColorYellow},
		{"green", 46, 76, nil, ColorGreen},
		{"blue", 76, 106, nil, ColorBlue},
		{"cyan", 106, 136, nil, ColorCyan},
		{"restricted to absent band", 46, 76, []Color{ColorRed}, ColorNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hist := make([]float64, 180)
			for h := tt.lo; h < tt.hi; h++ {
				hist[h] = 3
			}
			assert.Equal(t, tt.want, ClassifyHue(hist, tt.allowed))
		})
	}
}

func TestClassifyHueRestrictedPicksBestAllowed(t *testing.T) {
	hist := make([]float64, 180)
	hist[60] = 100 // green
	hist[150] = 10 // purple
	assert.Equal(t, ColorGreen, ClassifyHue(hist, nil))
	assert.Equal(t, ColorPurple, ClassifyHue(hist, []Color{ColorPurple, ColorRed}))
}

func TestClassifyHueEmptyHistogram(t *testing.T) {
	assert.Equal(t, ColorNone, ClassifyHue(make([]float64, 180), nil))
}

func TestParseColor(t *testing.T) {
	tests := map[string]Color{
		"green":   ColorGreen,
		" Red ":   ColorRed,
		"#ff0000": ColorRed,
		"#00ff00": ColorGreen,
		"#ff00ff": ColorPurple,
		"#ffff00": ColorYellow,
	}
	for in, want := range tests {
		got, err := ParseColor(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseColor("octarine")
	assert.Error(t, err)
	_, err = ParseColor("#zz")
	assert.Error(t, err)
}
