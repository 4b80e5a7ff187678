// Package spread joins two page rasters side by side into one image.
package spread

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// Background fills blank pads and any canvas area left uncovered.
var Background color.Color = color.White

// Geometry is the placement of two pages on a spread canvas.
type Geometry struct {
	// Height is the canvas height, the taller of the two pages.
	Height int
	// LeftWidth and RightWidth are the page widths after scaling to Height.
	LeftWidth  int
	RightWidth int
}

// Width returns the canvas width.
func (geometry Geometry) Width() int { return geometry.LeftWidth + geometry.RightWidth }

// LeftRect is where the left page is drawn.
func (geometry Geometry) LeftRect() image.Rectangle {
	return image.Rect(0, 0, geometry.LeftWidth, geometry.Height)
}

// RightRect is where the right page is drawn, directly after the left one.
func (geometry Geometry) RightRect() image.Rectangle {
	return image.Rect(geometry.LeftWidth, 0, geometry.Width(), geometry.Height)
}

// Layout scales both pages to the taller height, each keeping its own aspect
// ratio. Widths always go through w*H/h with integer division, equal heights
// included.
func Layout(left, right image.Rectangle) Geometry {
	height := max(left.Dy(), right.Dy())

	return Geometry{
		Height:     height,
		LeftWidth:  scaledWidth(left, height),
		RightWidth: scaledWidth(right, height),
	}
}

func scaledWidth(bounds image.Rectangle, height int) int {
	if bounds.Dy() == 0 {
		return 0
	}

	return bounds.Dx() * height / bounds.Dy()
}

// Blank returns a solid background canvas of the given size.
func Blank(width, height int, background color.Color) *image.NRGBA {
	return imaging.New(width, height, background)
}

// Compose draws left and right onto a new canvas, top-aligned with no gap.
func Compose(left, right image.Image, background color.Color) *image.NRGBA {
	geometry := Layout(left.Bounds(), right.Bounds())

	canvas := imaging.New(geometry.Width(), geometry.Height, background)
	canvas = imaging.Paste(canvas, fit(left, geometry.LeftRect()), geometry.LeftRect().Min)
	canvas = imaging.Paste(canvas, fit(right, geometry.RightRect()), geometry.RightRect().Min)

	return canvas
}

// fit resamples img to rect's size, or returns it untouched when it already fits.
func fit(img image.Image, rect image.Rectangle) image.Image {
	if img.Bounds().Dx() == rect.Dx() && img.Bounds().Dy() == rect.Dy() {
		return img
	}

	if rect.Dx() == 0 || rect.Dy() == 0 {
		return image.NewNRGBA(image.Rectangle{})
	}

	return imaging.Resize(img, rect.Dx(), rect.Dy(), imaging.Lanczos)
}
