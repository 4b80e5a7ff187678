// Package convert turns a PDF into numbered JPEG files, one per page or one
// per two-page spread.
package convert

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"

	"github.com/book-expert/logger"
	"github.com/cheggaaa/pb/v3"

	"github.com/book-expert/pdf-to-image-service/internal/raster"
	"github.com/book-expert/pdf-to-image-service/internal/spread"
)

var (
	// ErrOpenDocument is returned when the PDF cannot be loaded. Nothing is written.
	ErrOpenDocument = errors.New("failed to open document")
	// ErrRenderPage is returned when a page fails to rasterize.
	ErrRenderPage = errors.New("failed to render page")
	// ErrSaveImage is returned when an output image cannot be written.
	ErrSaveImage = errors.New("failed to save image")
)

// Options holds the tunable parameters of a Converter.
type Options struct {
	// ProgressBarOutput is where the per-run progress bar is drawn.
	// Defaults to os.Stdout. Use io.Discard to hide it.
	ProgressBarOutput io.Writer
	// Background fills blank pads on odd-length documents. Defaults to white.
	Background color.Color
	// JPEGQuality is the encoder quality, 1 to 100. Defaults to 95.
	JPEGQuality int
}

const (
	defaultJPEGQuality = 95
	maxJPEGQuality     = 100
)

// applyDefaultOptions fills zero-value fields in Options with sensible defaults.
func applyDefaultOptions(opts *Options) {
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > maxJPEGQuality {
		opts.JPEGQuality = defaultJPEGQuality
	}

	if opts.Background == nil {
		opts.Background = spread.Background
	}

	if opts.ProgressBarOutput == nil {
		opts.ProgressBarOutput = os.Stdout
	}
}

// Result describes what a run produced.
type Result struct {
	// Files lists the written images in the order they were written.
	Files     []string
	Mode      Mode
	PageCount int
}

// Outcome is delivered once by Start when the run ends.
type Outcome struct {
	Err    error
	Result Result
}

// Converter runs conversions. Each run owns its document exclusively; do not
// start two runs on one Converter at the same time.
type Converter struct {
	rasterizer raster.Rasterizer
	log        *logger.Logger
	config     Options
}

// NewConverter creates a Converter that renders with rasterizer.
func NewConverter(opts *Options, rasterizer raster.Rasterizer, log *logger.Logger) *Converter {
	applyDefaultOptions(opts)

	return &Converter{
		config:     *opts,
		rasterizer: rasterizer,
		log:        log,
	}
}

// Start runs the conversion on its own goroutine. The returned channel yields
// exactly one Outcome and is then closed. The run cannot be cancelled.
func (converter *Converter) Start(inputPath, outputDir string, mode Mode) <-chan Outcome {
	done := make(chan Outcome, 1)

	go func() {
		defer close(done)

		result, runErr := converter.Run(inputPath, outputDir, mode)
		done <- Outcome{Result: result, Err: runErr}
	}()

	return done
}

// Run converts inputPath into images under outputDir. The directory is created
// if needed and never cleared. Images written before a failure stay on disk.
func (converter *Converter) Run(inputPath, outputDir string, mode Mode) (Result, error) {
	result := Result{Files: nil, Mode: mode, PageCount: 0}

	if !mode.valid() {
		return result, fmt.Errorf("%w: %s", ErrUnknownMode, mode)
	}

	mkdirErr := ensureOutputDirectory(outputDir)
	if mkdirErr != nil {
		return result, mkdirErr
	}

	doc, openErr := converter.rasterizer.Open(inputPath)
	if openErr != nil {
		return result, fmt.Errorf("%w %s: %w", ErrOpenDocument, inputPath, openErr)
	}
	defer converter.closeDocument(doc, inputPath)

	result.PageCount = doc.PageCount()
	converter.log.Info(
		"Converting %s (%d pages, %s mode) into %s",
		filepath.Base(inputPath),
		result.PageCount,
		mode,
		outputDir,
	)

	job := newConversionJob(converter, doc, outputDir, &result)

	runErr := job.run(mode)
	if runErr != nil {
		converter.log.Error(
			"Conversion of %s stopped after %d image(s): %v",
			filepath.Base(inputPath),
			len(result.Files),
			runErr,
		)

		return result, runErr
	}

	converter.log.Success(
		"Converted %s into %d image(s)",
		filepath.Base(inputPath),
		len(result.Files),
	)

	return result, nil
}

func (converter *Converter) closeDocument(doc raster.Document, inputPath string) {
	closeErr := doc.Close()
	if closeErr != nil {
		converter.log.Warn("Failed to close %s: %v", filepath.Base(inputPath), closeErr)
	}
}

// newProgressBar returns a bar sized for the number of images a run writes.
func (converter *Converter) newProgressBar(total int) *pb.ProgressBar {
	return pb.New(total).
		SetTemplateString(`{{ bar . " " "━" "━" " " " "}} {{percent .}} {{etime .}}`).
		SetWriter(converter.config.ProgressBarOutput).
		Start()
}
