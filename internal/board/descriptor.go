package board

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	"ledwatch/internal/led"
	"ledwatch/pkg/geometry"

	"gopkg.in/yaml.v3"
)

// Descriptor is the on-disk form of a board:
//
//	name: raspberry-pi
//	image: pi.png
//	crop: {x: 900, y: 560, width: 200, height: 180}
//	leds:
//	  - id: 0
//	    bounds: {x: 980, y: 620, width: 30, height: 40}
//	    colors: [red]
//	  - bounds: {x: 980, y: 660, width: 30, height: 40}
//	    colors: ["#00ff00"]
//
// LED bounds are given in full-image coordinates; when crop is set the
// reference image is cut to it and the bounds are shifted accordingly. LEDs
// without an id get their position in the list.
type Descriptor struct {
	Name  string          `yaml:"name"`
	Image string          `yaml:"image"`
	Crop  *geometry.Rect  `yaml:"crop,omitempty"`
	Leds  []LedDescriptor `yaml:"leds"`
}

// LedDescriptor is the on-disk form of one LED.
type LedDescriptor struct {
	ID     *int          `yaml:"id,omitempty"`
	Bounds geometry.Rect `yaml:"bounds"`
	Colors []string      `yaml:"colors,omitempty"`
}

// ParseDescriptor decodes a YAML board descriptor.
func ParseDescriptor(data []byte) (*Descriptor, error) {
	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("invalid board descriptor: %w", err)
	}
	if d.Image == "" {
		return nil, fmt.Errorf("board descriptor has no image")
	}
	return &d, nil
}

// LedSpecs resolves ids, colors and the crop offset.
func (d *Descriptor) LedSpecs() ([]LedSpec, error) {
	var dx, dy float64
	if d.Crop != nil {
		dx, dy = d.Crop.X, d.Crop.Y
	}

	specs := make([]LedSpec, len(d.Leds))
	for i, l := range d.Leds {
		id := i
		if l.ID != nil {
			id = *l.ID
		}
		colors := make([]led.Color, 0, len(l.Colors))
		for _, s := range l.Colors {
			c, err := led.ParseColor(s)
			if err != nil {
				return nil, fmt.Errorf("led %d: %w", id, err)
			}
			colors = append(colors, c)
		}
		bounds := l.Bounds
		bounds.X -= dx
		bounds.Y -= dy
		specs[i] = LedSpec{ID: id, Bounds: bounds, Colors: colors}
	}
	return specs, nil
}

// Load reads a board descriptor and its reference image. A relative image
// path is resolved against the descriptor's directory.
func Load(path string) (*Board, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read board descriptor: %w", err)
	}
	d, err := ParseDescriptor(data)
	if err != nil {
		return nil, err
	}
	specs, err := d.LedSpecs()
	if err != nil {
		return nil, err
	}

	imgPath := d.Image
	if !filepath.IsAbs(imgPath) {
		imgPath = filepath.Join(filepath.Dir(path), imgPath)
	}
	img, err := LoadImage(imgPath)
	if err != nil {
		return nil, err
	}

	if d.Crop != nil {
		r := d.Crop.Round()
		if !r.In(image.Rect(0, 0, img.Cols(), img.Rows())) || r.Empty() {
			img.Close()
			return nil, fmt.Errorf("crop %v outside image %dx%d", r, img.Cols(), img.Rows())
		}
		region := img.Region(r)
		cropped := region.Clone()
		region.Close()
		img.Close()
		img = cropped
	}

	name := d.Name
	if name == "" {
		name = filepath.Base(path)
	}
	b, err := New(name, img, specs)
	if err != nil {
		img.Close()
		return nil, err
	}
	return b, nil
}
