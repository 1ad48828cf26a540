// Command orienttest locates a board in a still image and prints the
// estimated orientation and the LED regions it maps to.
package main

import (
	"errors"
	"flag"
	"fmt"
	"image/color"
	"math"
	"os"

	"ledwatch/internal/alignment"
	"ledwatch/internal/board"
	"ledwatch/internal/led"
	"ledwatch/internal/roi"
	"ledwatch/pkg/geometry"

	"gocv.io/x/gocv"
)

func main() {
	boardPath := flag.String("b", "", "Path to board descriptor (YAML)")
	imagePath := flag.String("i", "", "Path to still image of the board (TIFF, PNG, BMP or JPEG)")
	outPath := flag.String("o", "", "Write the image with LED regions outlined to this path")
	ratio := flag.Float64("ratio", alignment.DefaultConfig().RatioTest, "Lowe ratio test threshold")
	flag.Parse()

	if *boardPath == "" || *imagePath == "" {
		fmt.Println("Usage: orienttest -b <board.yaml> -i <image> [-o <out.png>] [-ratio 0.75]")
		os.Exit(1)
	}

	b, err := board.Load(*boardPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load board: %v\n", err)
		os.Exit(1)
	}
	defer b.Close()

	live, err := board.LoadImage(*imagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load image: %v\n", err)
		os.Exit(1)
	}
	defer live.Close()

	fmt.Printf("=== Board %q: %d LEDs, reference %dx%d ===\n",
		b.Name, len(b.Leds), b.Image.Cols(), b.Image.Rows())
	fmt.Printf("Image: %dx%d\n", live.Cols(), live.Rows())

	cfg := alignment.DefaultConfig()
	cfg.RatioTest = *ratio
	est := alignment.NewEstimator(cfg)
	defer est.Close()

	fmt.Printf("\n=== Orientation ===\n")
	o, err := est.Estimate(b.Image, live)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Estimation failed: %v\n", err)
		os.Exit(1)
	}
	printOrientation(o)

	fmt.Printf("\n=== LED regions ===\n")
	regions, err := roi.Extract(live, b.Leds, o)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Region extraction failed: %v\n", err)
		if !errors.Is(err, roi.ErrLedOutOfFrame) {
			os.Exit(1)
		}
		printProjections(b, o)
		os.Exit(1)
	}
	defer roi.CloseAll(regions)

	for _, r := range regions {
		brightness, err := led.Brightness(r.Mat)
		if err != nil {
			fmt.Printf("  LED %3d  %v  brightness: %v\n", r.LedID, r.Bounds, err)
			continue
		}
		fmt.Printf("  LED %3d  %v  brightness=%3d\n", r.LedID, r.Bounds, brightness)
	}

	if *outPath != "" {
		for _, r := range regions {
			gocv.Rectangle(&live, r.Bounds, color.RGBA{G: 255, A: 255}, 1)
		}
		if !gocv.IMWrite(*outPath, live) {
			fmt.Fprintf(os.Stderr, "Failed to write %s\n", *outPath)
			os.Exit(1)
		}
		fmt.Printf("\nWrote %s\n", *outPath)
	}
}

func printOrientation(o *alignment.Orientation) {
	h := o.Transform
	fmt.Printf("Matches: %d, inliers: %d\n", o.Matches, o.Inliers)
	fmt.Printf("Reprojection error: %.2f px\n", o.ReprojectionError)
	fmt.Printf("Homography:\n")
	for r := 0; r < 3; r++ {
		fmt.Printf("  [%12.6f %12.6f %12.6f]\n", h[r*3], h[r*3+1], h[r*3+2])
	}
	// Only meaningful when the perspective terms are small.
	angle := math.Atan2(h[3], h[0]) * 180 / math.Pi
	scale := math.Sqrt(h[0]*h[0] + h[3]*h[3])
	fmt.Printf("Approx. rotation: %.2f°, scale: %.4f, translation: (%.1f, %.1f)\n",
		angle, scale, h[2], h[5])

	if inv, ok := o.Inverse(); ok {
		p, _ := h.Apply(geometry.NewPoint2D(0, 0))
		back, _ := inv.Apply(p)
		fmt.Printf("Round trip of origin: (%.3f, %.3f)\n", back.X, back.Y)
	}
}

// printProjections shows where every LED lands, including the ones outside
// the frame.
func printProjections(b *board.Board, o *alignment.Orientation) {
	for _, l := range b.Leds {
		corners, ok := o.Project(l.Bounds)
		if !ok {
			fmt.Printf("  LED %3d  at infinity\n", l.ID)
			continue
		}
		fmt.Printf("  LED %3d  %v\n", l.ID, geometry.BoundingBox(corners[:]).Round())
	}
}
