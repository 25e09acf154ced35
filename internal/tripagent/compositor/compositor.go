// Package compositor stamps captured frames with a round map inset and a
// timestamp/coordinate caption.
package compositor

import (
	"fmt"
	"image"
	"image/color"
	"time"

	"gocv.io/x/gocv"

	"github.com/capsule-io/timelapse-trip/internal/tripagent/location"
)

const labelLayout = "2006-01-02 15:04:05"

// Label formats the caption of a frame taken at t at position p.
func Label(t time.Time, p location.Point) string {
	return fmt.Sprintf("%s, lat: %.5f, lon: %.5f", t.Format(labelLayout), p.Lat, p.Lon)
}

type Compositor struct {
	// Fraction is the map diameter relative to the shorter frame side.
	Fraction float64
	// Margin between the map and the frame edges, in pixels.
	Margin int

	FontScale float64
	Thickness int
}

func New() *Compositor {
	return &Compositor{
		Fraction:  0.3,
		Margin:    20,
		FontScale: 1.0,
		Thickness: 2,
	}
}

var (
	textColor    = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	outlineColor = color.RGBA{A: 255}
	maskColor    = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// Compose draws tile (if not empty) through a circular mask in the
// bottom-right corner of frame, then writes label in the top-left corner.
// frame is modified in place and keeps its dimensions. A tile whose type
// differs from the frame's is left out.
func (c *Compositor) Compose(frame *gocv.Mat, tile gocv.Mat, label string) {
	if !tile.Empty() {
		c.inset(frame, tile)
	}
	if label != "" {
		c.stamp(frame, label)
	}
}

func (c *Compositor) inset(frame *gocv.Mat, tile gocv.Mat) {
	d := int(c.Fraction * float64(min(frame.Cols(), frame.Rows())))
	x0 := frame.Cols() - c.Margin - d
	y0 := frame.Rows() - c.Margin - d
	if d <= 0 || x0 < 0 || y0 < 0 {
		return
	}

	scaled := gocv.NewMat()
	defer scaled.Close()
	gocv.Resize(tile, &scaled, image.Pt(d, d), 0, 0, gocv.InterpolationArea)
	if scaled.Type() != frame.Type() {
		return
	}

	mask := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), d, d, gocv.MatTypeCV8UC1)
	defer mask.Close()
	gocv.Circle(&mask, image.Pt(d/2, d/2), d/2, maskColor, -1)

	region := frame.Region(image.Rect(x0, y0, x0+d, y0+d))
	defer region.Close()
	scaled.CopyToWithMask(&region, mask)
}

func (c *Compositor) stamp(frame *gocv.Mat, label string) {
	size := gocv.GetTextSize(label, gocv.FontHersheySimplex, c.FontScale, c.Thickness)
	org := image.Pt(c.Margin, c.Margin+size.Y)

	gocv.PutText(frame, label, org, gocv.FontHersheySimplex, c.FontScale, outlineColor, c.Thickness+3)
	gocv.PutText(frame, label, org, gocv.FontHersheySimplex, c.FontScale, textColor, c.Thickness)
}
