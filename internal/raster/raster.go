// Package raster renders PDF pages to in-memory images.
package raster

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/disintegration/imaging"
)

var (
	// ErrUnknownBackend is returned when no rasterizer exists for a backend name.
	ErrUnknownBackend = errors.New("unknown rasterizer backend")
	// ErrPageOutOfRange is returned when a page index is outside the document.
	ErrPageOutOfRange = errors.New("page index out of range")
	// ErrEmptyPage is returned when a page is too small to yield a single pixel.
	ErrEmptyPage = errors.New("page rasterizes to an empty image")
)

// pointsPerInch is the PDF user-space unit density.
const pointsPerInch = 72

// Backend names a rasterizer implementation.
type Backend string

const (
	// BackendPDFium renders with PDFium compiled to WebAssembly. No CGo needed.
	BackendPDFium Backend = "pdfium"
	// BackendFitz renders with MuPDF.
	BackendFitz Backend = "fitz"
)

// TargetSize describes how every page of a run is rasterized.
type TargetSize struct {
	// Width is the horizontal DPI when CorrectFromDPI is set, otherwise the
	// output width in pixels.
	Width int
	// Height is the vertical DPI when CorrectFromDPI is set, otherwise the
	// output height in pixels.
	Height int
	// CorrectFromDPI scales the page's point size by Width/72 and Height/72.
	CorrectFromDPI bool
}

// DefaultTarget is applied to every page of every conversion run.
var DefaultTarget = TargetSize{Width: 500, Height: 500, CorrectFromDPI: true}

// Pixels returns the raster size for a page measuring widthPt x heightPt points.
func (target TargetSize) Pixels(widthPt, heightPt float64) (int, int) {
	if !target.CorrectFromDPI {
		return target.Width, target.Height
	}

	return int(widthPt) * target.Width / pointsPerInch,
		int(heightPt) * target.Height / pointsPerInch
}

// resampleTo returns img at exactly width x height, untouched when it already is.
func resampleTo(img image.Image, width, height int) image.Image {
	if img.Bounds().Dx() == width && img.Bounds().Dy() == height {
		return img
	}

	return imaging.Resize(img, width, height, imaging.Lanczos)
}

// Page is a rendered page raster. The owner must call Release exactly when the
// image is no longer needed; further calls are no-ops.
type Page struct {
	Image   image.Image
	release func()
	once    sync.Once
}

// NewPage wraps img with an optional release hook.
func NewPage(img image.Image, release func()) *Page {
	return &Page{Image: img, release: release}
}

// Release frees backend memory held by the page.
func (page *Page) Release() {
	page.once.Do(func() {
		if page.release != nil {
			page.release()
		}

		page.Image = nil
	})
}

// Document is an opened PDF.
type Document interface {
	// PageCount returns the number of pages in the document.
	PageCount() int
	// Render rasterizes the zero-based page index at target.
	Render(index int, target TargetSize) (*Page, error)
	// Close releases the document.
	Close() error
}

// Rasterizer opens PDF documents for rendering.
type Rasterizer interface {
	Open(path string) (Document, error)
	Close() error
}

// Open returns a rasterizer for backend. An empty backend selects PDFium.
func Open(backend Backend) (Rasterizer, error) {
	switch backend {
	case BackendPDFium, "":
		return newPDFiumRasterizer()
	case BackendFitz:
		return newFitzRasterizer(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

func checkIndex(index, pageCount int) error {
	if index < 0 || index >= pageCount {
		return fmt.Errorf("%w: %d of %d", ErrPageOutOfRange, index, pageCount)
	}

	return nil
}
