// Package roi maps LED reference geometry into a live frame and crops the
// corresponding pixel regions.
package roi

import (
	"errors"
	"fmt"
	"image"

	"ledwatch/internal/alignment"
	"ledwatch/internal/board"
	"ledwatch/pkg/geometry"

	"gocv.io/x/gocv"
)

// ErrLedOutOfFrame means a projected LED region is not entirely inside the
// frame. It usually indicates a bad orientation or a moved camera.
var ErrLedOutOfFrame = errors.New("LED region outside frame")

// Region is the crop of one LED in a live frame. Mat shares memory with the
// frame it was cut from and must be closed before the frame is.
type Region struct {
	LedID  int
	Bounds image.Rectangle
	Mat    gocv.Mat
}

// Locate projects each LED's reference bounds through o and returns the
// pixel-aligned bounding boxes in frame coordinates, in LED order.
func Locate(frameSize image.Point, leds []board.LedSpec, o *alignment.Orientation) ([]image.Rectangle, error) {
	frame := image.Rectangle{Max: frameSize}
	out := make([]image.Rectangle, 0, len(leds))

	for _, l := range leds {
		corners, ok := o.Project(l.Bounds)
		if !ok {
			return nil, fmt.Errorf("%w: led %d projects to infinity", ErrLedOutOfFrame, l.ID)
		}
		r := geometry.BoundingBox(corners[:]).Round()
		if r.Empty() {
			return nil, fmt.Errorf("%w: led %d projects to an empty region %v", ErrLedOutOfFrame, l.ID, r)
		}
		if !r.In(frame) {
			return nil, fmt.Errorf("%w: led %d at %v, frame %v", ErrLedOutOfFrame, l.ID, r, frame)
		}
		out = append(out, r)
	}
	return out, nil
}

// Extract crops one region per LED from frame, in the order of leds. Regions
// that fall partly or fully outside the frame are rejected rather than
// clamped. On error no regions are returned.
func Extract(frame gocv.Mat, leds []board.LedSpec, o *alignment.Orientation) ([]Region, error) {
	rects, err := Locate(image.Pt(frame.Cols(), frame.Rows()), leds, o)
	if err != nil {
		return nil, err
	}

	regions := make([]Region, len(rects))
	for i, r := range rects {
		regions[i] = Region{
			LedID:  leds[i].ID,
			Bounds: r,
			Mat:    frame.Region(r),
		}
	}

	if len(regions) != len(leds) {
		panic(fmt.Sprintf("roi: extracted %d regions for %d LEDs", len(regions), len(leds)))
	}
	return regions, nil
}

// CloseAll releases every region.
func CloseAll(regions []Region) {
	for i := range regions {
		regions[i].Mat.Close()
	}
}
