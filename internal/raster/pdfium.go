package raster

import (
	"fmt"
	"os"
	"time"

	"github.com/klippa-app/go-pdfium"
	"github.com/klippa-app/go-pdfium/references"
	"github.com/klippa-app/go-pdfium/requests"
	"github.com/klippa-app/go-pdfium/webassembly"
)

const instanceTimeout = 30 * time.Second

// pdfiumRasterizer renders through a single PDFium WebAssembly instance.
// Runs are sequential, so one instance is enough.
type pdfiumRasterizer struct {
	pool     pdfium.Pool
	instance pdfium.Pdfium
}

func newPDFiumRasterizer() (*pdfiumRasterizer, error) {
	pool, initErr := webassembly.Init(webassembly.Config{
		MinIdle:  1,
		MaxIdle:  1,
		MaxTotal: 1,
	})
	if initErr != nil {
		return nil, fmt.Errorf("failed to initialize PDFium WebAssembly: %w", initErr)
	}

	instance, instanceErr := pool.GetInstance(instanceTimeout)
	if instanceErr != nil {
		_ = pool.Close()

		return nil, fmt.Errorf("failed to get PDFium instance: %w", instanceErr)
	}

	return &pdfiumRasterizer{pool: pool, instance: instance}, nil
}

// Open loads the whole file into memory and hands it to PDFium.
func (rasterizer *pdfiumRasterizer) Open(path string) (Document, error) {
	pdfBytes, readErr := os.ReadFile(path)
	if readErr != nil {
		return nil, fmt.Errorf("unable to read PDF file %s: %w", path, readErr)
	}

	opened, openErr := rasterizer.instance.OpenDocument(&requests.OpenDocument{
		File: &pdfBytes,
	})
	if openErr != nil {
		return nil, fmt.Errorf("unable to open PDF document %s: %w", path, openErr)
	}

	pageCount, countErr := rasterizer.instance.FPDF_GetPageCount(
		&requests.FPDF_GetPageCount{Document: opened.Document},
	)
	if countErr != nil {
		_, _ = rasterizer.instance.FPDF_CloseDocument(
			&requests.FPDF_CloseDocument{Document: opened.Document},
		)

		return nil, fmt.Errorf("unable to get page count of %s: %w", path, countErr)
	}

	return &pdfiumDocument{
		instance:  rasterizer.instance,
		handle:    opened.Document,
		pageCount: pageCount.PageCount,
	}, nil
}

func (rasterizer *pdfiumRasterizer) Close() error {
	if rasterizer.instance != nil {
		_ = rasterizer.instance.Close()
		rasterizer.instance = nil
	}

	if rasterizer.pool != nil {
		poolErr := rasterizer.pool.Close()
		rasterizer.pool = nil

		if poolErr != nil {
			return fmt.Errorf("failed to close PDFium pool: %w", poolErr)
		}
	}

	return nil
}

type pdfiumDocument struct {
	instance  pdfium.Pdfium
	handle    references.FPDF_DOCUMENT
	pageCount int
}

func (document *pdfiumDocument) PageCount() int { return document.pageCount }

// Render sizes the page from its point dimensions. PDFium fits the render into
// a box keeping the aspect ratio, so a render off the exact size is resampled
// and its WebAssembly buffer freed right away. Otherwise the buffer stays alive
// until the page is released.
func (document *pdfiumDocument) Render(index int, target TargetSize) (*Page, error) {
	rangeErr := checkIndex(index, document.pageCount)
	if rangeErr != nil {
		return nil, rangeErr
	}

	size, sizeErr := document.instance.FPDF_GetPageSizeByIndex(
		&requests.FPDF_GetPageSizeByIndex{Document: document.handle, Index: index},
	)
	if sizeErr != nil {
		return nil, fmt.Errorf("unable to get size of page %d: %w", index, sizeErr)
	}

	width, height := target.Pixels(size.Width, size.Height)
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf(
			"%w: page %d measures %.2fx%.2f points", ErrEmptyPage, index, size.Width, size.Height,
		)
	}

	boxWidth, boxHeight := renderBox(size.Width, size.Height, width, height)

	rendered, renderErr := document.instance.RenderPageInPixels(
		&requests.RenderPageInPixels{
			Page: requests.Page{
				ByIndex: &requests.PageByIndex{
					Document: document.handle,
					Index:    index,
				},
			},
			Width:  boxWidth,
			Height: boxHeight,
		},
	)
	if renderErr != nil {
		return nil, fmt.Errorf("unable to render page %d: %w", index, renderErr)
	}

	bounds := rendered.Result.Image.Bounds()
	if bounds.Dx() == width && bounds.Dy() == height {
		return NewPage(rendered.Result.Image, rendered.Cleanup), nil
	}

	defer rendered.Cleanup()

	return NewPage(resampleTo(rendered.Result.Image, width, height), nil), nil
}

// renderBox picks the one box side that makes PDFium render at the larger of
// the two axis scales; the other side follows the page's aspect ratio.
func renderBox(widthPt, heightPt float64, width, height int) (int, int) {
	if float64(width)/widthPt >= float64(height)/heightPt {
		return width, 0
	}

	return 0, height
}

func (document *pdfiumDocument) Close() error {
	_, closeErr := document.instance.FPDF_CloseDocument(
		&requests.FPDF_CloseDocument{Document: document.handle},
	)
	if closeErr != nil {
		return fmt.Errorf("failed to close PDF document: %w", closeErr)
	}

	return nil
}
