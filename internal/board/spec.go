// Package board provides the reference model of a board under observation:
// its reference image and the LEDs placed on it.
package board

import (
	"fmt"

	"ledwatch/internal/led"
	"ledwatch/pkg/geometry"

	"gocv.io/x/gocv"
)

// LedSpec describes one LED in reference-image coordinates.
type LedSpec struct {
	ID     int           // Assigned by the board model, stable for the process lifetime
	Bounds geometry.Rect // Bounding box in the reference image (pixels)
	Colors []led.Color   // Colors the LED can show; empty means any
}

// Board is the read-only reference model consumed by the detector.
type Board struct {
	Name  string
	Image gocv.Mat // BGR reference image
	Leds  []LedSpec
}

// New validates the LED layout against the reference image and returns a
// board that takes ownership of img.
func New(name string, img gocv.Mat, leds []LedSpec) (*Board, error) {
	b := &Board{Name: name, Image: img, Leds: leds}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// Validate checks that every LED has a unique id and lies inside the
// reference image.
func (b *Board) Validate() error {
	if b.Image.Empty() {
		return fmt.Errorf("board %q has no reference image", b.Name)
	}
	bounds := geometry.NewRect(0, 0, float64(b.Image.Cols()), float64(b.Image.Rows()))

	seen := make(map[int]bool, len(b.Leds))
	for i, l := range b.Leds {
		if seen[l.ID] {
			return fmt.Errorf("led %d: duplicate id %d", i, l.ID)
		}
		seen[l.ID] = true

		if l.Bounds.Empty() {
			return fmt.Errorf("led %d: empty bounds", l.ID)
		}
		if l.Bounds.X < bounds.X || l.Bounds.Y < bounds.Y ||
			l.Bounds.X+l.Bounds.Width > bounds.Width ||
			l.Bounds.Y+l.Bounds.Height > bounds.Height {
			return fmt.Errorf("led %d: bounds %+v outside reference image %vx%v",
				l.ID, l.Bounds, bounds.Width, bounds.Height)
		}
	}
	return nil
}

// IDs returns the LED ids in board order.
func (b *Board) IDs() []int {
	ids := make([]int, len(b.Leds))
	for i, l := range b.Leds {
		ids[i] = l.ID
	}
	return ids
}

// Close releases the reference image.
func (b *Board) Close() error {
	return b.Image.Close()
}
