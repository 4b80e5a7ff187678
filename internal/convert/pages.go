package convert

import (
	"fmt"
	"image"

	"github.com/cheggaaa/pb/v3"

	"github.com/book-expert/pdf-to-image-service/internal/raster"
	"github.com/book-expert/pdf-to-image-service/internal/spread"
)

// conversionJob carries the state of a single run over one opened document.
type conversionJob struct {
	parent    *Converter // A reference back to the converter for config and logging.
	doc       raster.Document
	result    *Result
	bar       *pb.ProgressBar
	outputDir string
}

func newConversionJob(
	parent *Converter,
	doc raster.Document,
	outputDir string,
	result *Result,
) *conversionJob {
	return &conversionJob{
		parent:    parent,
		doc:       doc,
		result:    result,
		bar:       nil,
		outputDir: outputDir,
	}
}

// run dispatches to the layout selected for this run.
func (job *conversionJob) run(mode Mode) error {
	job.bar = job.parent.newProgressBar(mode.outputCount(job.doc.PageCount()))
	defer job.bar.Finish()

	switch mode {
	case ModeSinglePage:
		return job.writeSinglePages()
	case ModePairedSpread:
		return job.writeSpreads()
	default:
		return fmt.Errorf("%w: %s", ErrUnknownMode, mode)
	}
}

// writeSinglePages writes pages 0..n-1 in order, one file each.
func (job *conversionJob) writeSinglePages() error {
	for index := range job.doc.PageCount() {
		pageErr := job.writeSinglePage(index)
		if pageErr != nil {
			return pageErr
		}

		job.bar.Increment()
	}

	return nil
}

func (job *conversionJob) writeSinglePage(index int) error {
	page, renderErr := job.render(index)
	if renderErr != nil {
		return renderErr
	}
	defer page.Release()

	return job.save(page.Image, singlePageName(index))
}

// writeSpreads walks the document two pages at a time.
func (job *conversionJob) writeSpreads() error {
	for index := 0; index < job.doc.PageCount(); index += 2 {
		spreadErr := job.writeSpread(index)
		if spreadErr != nil {
			return spreadErr
		}

		job.bar.Increment()
	}

	return nil
}

// writeSpread joins page index with its right-hand neighbour. A trailing odd
// page is paired with a blank canvas the size of the page itself.
func (job *conversionJob) writeSpread(index int) error {
	left, leftErr := job.render(index)
	if leftErr != nil {
		return leftErr
	}
	defer left.Release()

	var right image.Image

	if index+1 < job.doc.PageCount() {
		rightPage, rightErr := job.render(index + 1)
		if rightErr != nil {
			return rightErr
		}
		defer rightPage.Release()

		right = rightPage.Image
	} else {
		bounds := left.Image.Bounds()
		right = spread.Blank(bounds.Dx(), bounds.Dy(), job.parent.config.Background)

		job.parent.log.Info("Padding page %d with a blank page", index)
	}

	composite := spread.Compose(left.Image, right, job.parent.config.Background)

	return job.save(composite, spreadName(index))
}

func (job *conversionJob) render(index int) (*raster.Page, error) {
	page, renderErr := job.doc.Render(index, raster.DefaultTarget)
	if renderErr != nil {
		return nil, fmt.Errorf("%w %d: %w", ErrRenderPage, index, renderErr)
	}

	return page, nil
}

func (job *conversionJob) save(img image.Image, name string) error {
	path, saveErr := saveJPEG(img, job.outputDir, name, job.parent.config.JPEGQuality)
	if saveErr != nil {
		return saveErr
	}

	job.result.Files = append(job.result.Files, path)
	job.parent.log.Info("Wrote %s", name)

	return nil
}
