package board

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"ledwatch/internal/led"
	"ledwatch/pkg/geometry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

const descriptorYAML = `
name: test-board
image: board.png
crop: {x: 10, y: 5, width: 80, height: 60}
leds:
  - id: 7
    bounds: {x: 20, y: 15, width: 6, height: 8}
    colors: [red, "#00ff00"]
  - bounds: {x: 40, y: 25, width: 6, height: 8}
`

func TestParseDescriptorResolvesLeds(t *testing.T) {
	d, err := ParseDescriptor([]byte(descriptorYAML))
	require.NoError(t, err)
	assert.Equal(t, "test-board", d.Name)

	specs, err := d.LedSpecs()
	require.NoError(t, err)
	require.Len(t, specs, 2)

	assert.Equal(t, 7, specs[0].ID)
	assert.Equal(t, geometry.NewRect(10, 10, 6, 8), specs[0].Bounds)
	assert.Equal(t, []led.Color{led.ColorRed, led.ColorGreen}, specs[0].Colors)

	assert.Equal(t, 1, specs[1].ID, "missing id falls back to list position")
	assert.Empty(t, specs[1].Colors)
}

func TestParseDescriptorErrors(t *testing.T) {
	_, err := ParseDescriptor([]byte("name: x\n"))
	assert.Error(t, err)

	d, err := ParseDescriptor([]byte("image: a.png\nleds:\n  - colors: [octarine]\n"))
	require.NoError(t, err)
	_, err = d.LedSpecs()
	assert.Error(t, err)
}

func TestNewValidatesLayout(t *testing.T) {
	img := gocv.NewMatWithSize(50, 60, gocv.MatTypeCV8UC3)
	defer img.Close()

	_, err := New("ok", img, []LedSpec{{ID: 1, Bounds: geometry.NewRect(0, 0, 60, 50)}})
	assert.NoError(t, err)

	_, err = New("dup", img, []LedSpec{
		{ID: 1, Bounds: geometry.NewRect(0, 0, 5, 5)},
		{ID: 1, Bounds: geometry.NewRect(10, 0, 5, 5)},
	})
	assert.Error(t, err)

	_, err = New("outside", img, []LedSpec{{ID: 1, Bounds: geometry.NewRect(58, 0, 5, 5)}})
	assert.Error(t, err)

	_, err = New("empty bounds", img, []LedSpec{{ID: 1, Bounds: geometry.NewRect(1, 1, 0, 5)}})
	assert.Error(t, err)

	empty := gocv.NewMat()
	defer empty.Close()
	_, err = New("no image", empty, nil)
	assert.Error(t, err)
}

func TestLoadCropsReferenceImage(t *testing.T) {
	dir := t.TempDir()

	src := image.NewRGBA(image.Rect(0, 0, 100, 70))
	src.Set(10, 5, color.RGBA{R: 200, G: 100, B: 50, A: 255})
	f, err := os.Create(filepath.Join(dir, "board.png"))
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, src))
	require.NoError(t, f.Close())

	path := filepath.Join(dir, "board.yaml")
	require.NoError(t, os.WriteFile(path, []byte(descriptorYAML), 0o644))

	b, err := Load(path)
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, "test-board", b.Name)
	assert.Equal(t, 80, b.Image.Cols())
	assert.Equal(t, 60, b.Image.Rows())
	assert.Equal(t, []int{7, 1}, b.IDs())

	// The crop origin pixel is now at (0, 0), stored BGR.
	assert.Equal(t, uint8(50), b.Image.GetUCharAt(0, 0))
	assert.Equal(t, uint8(100), b.Image.GetUCharAt(0, 1))
	assert.Equal(t, uint8(200), b.Image.GetUCharAt(0, 2))
}

func TestLoadMissingImage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "board.yaml")
	require.NoError(t, os.WriteFile(path, []byte("image: nope.png\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
