package raster

import (
	"fmt"
	"sync"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

var disablePDFCPUConfig sync.Once

// fitzRasterizer renders with MuPDF. Documents are independent, so there is
// nothing to hold between runs.
type fitzRasterizer struct{}

func newFitzRasterizer() *fitzRasterizer {
	disablePDFCPUConfig.Do(api.DisableConfigDir)

	return &fitzRasterizer{}
}

func (rasterizer *fitzRasterizer) Open(path string) (Document, error) {
	doc, openErr := fitz.New(path)
	if openErr != nil {
		return nil, fmt.Errorf("unable to open PDF document %s: %w", path, openErr)
	}

	// MuPDF snaps page boxes to whole points; pdfcpu keeps the fractions.
	// Files pdfcpu cannot read fall back to MuPDF's bounds.
	dims, dimsErr := api.PageDimsFile(path)
	if dimsErr != nil || len(dims) != doc.NumPage() {
		dims = nil
	}

	return &fitzDocument{doc: doc, pageCount: doc.NumPage(), dims: dims}, nil
}

func (rasterizer *fitzRasterizer) Close() error { return nil }

type fitzDocument struct {
	doc       *fitz.Document
	pageCount int
	dims      []types.Dim
}

func (document *fitzDocument) PageCount() int { return document.pageCount }

// Render draws the page at the DPI that covers the requested size on both
// axes, then resamples to the exact size when MuPDF's rounding differs.
func (document *fitzDocument) Render(index int, target TargetSize) (*Page, error) {
	rangeErr := checkIndex(index, document.pageCount)
	if rangeErr != nil {
		return nil, rangeErr
	}

	widthPt, heightPt, sizeErr := document.pageSize(index)
	if sizeErr != nil {
		return nil, fmt.Errorf("unable to get size of page %d: %w", index, sizeErr)
	}

	width, height := target.Pixels(widthPt, heightPt)
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf(
			"%w: page %d measures %.2fx%.2f points", ErrEmptyPage, index, widthPt, heightPt,
		)
	}

	img, renderErr := document.doc.ImageDPI(index, renderDPI(widthPt, heightPt, width, height))
	if renderErr != nil {
		return nil, fmt.Errorf("unable to render page %d: %w", index, renderErr)
	}

	return NewPage(resampleTo(img, width, height), nil), nil
}

// pageSize returns the page size in points.
func (document *fitzDocument) pageSize(index int) (float64, float64, error) {
	if document.dims != nil {
		return document.dims[index].Width, document.dims[index].Height, nil
	}

	bound, boundErr := document.doc.Bound(index)
	if boundErr != nil {
		return 0, 0, boundErr
	}

	return float64(bound.Dx()), float64(bound.Dy()), nil
}

func (document *fitzDocument) Close() error {
	closeErr := document.doc.Close()
	if closeErr != nil {
		return fmt.Errorf("failed to close PDF document: %w", closeErr)
	}

	return nil
}

// renderDPI returns the smallest DPI at which a page of widthPt x heightPt
// points reaches width x height pixels.
func renderDPI(widthPt, heightPt float64, width, height int) float64 {
	if widthPt <= 0 || heightPt <= 0 {
		return pointsPerInch
	}

	dpiX := float64(width) * pointsPerInch / widthPt
	dpiY := float64(height) * pointsPerInch / heightPt

	return max(dpiX, dpiY)
}
