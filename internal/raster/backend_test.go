package raster_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/pdf-to-image-service/internal/raster"
)

// testdata/pages.pdf holds three pages with these point sizes. The second
// MediaBox starts at y=0.5, so its corners truncate differently from its size.
var samplePages = []struct {
	widthPt  float64
	heightPt float64
}{
	{widthPt: 612, heightPt: 792},
	{widthPt: 595.28, heightPt: 841.89},
	{widthPt: 300, heightPt: 200},
}

func openSample(t *testing.T, backend raster.Backend) raster.Document {
	t.Helper()

	rasterizer, err := raster.Open(backend)
	require.NoError(t, err)

	t.Cleanup(func() { assert.NoError(t, rasterizer.Close()) })

	document, err := rasterizer.Open(filepath.Join("testdata", "pages.pdf"))
	require.NoError(t, err)

	return document
}

func TestBackendsRenderExactSizes(t *testing.T) {
	t.Parallel()

	for _, backend := range []raster.Backend{raster.BackendPDFium, raster.BackendFitz} {
		t.Run(string(backend), func(t *testing.T) {
			t.Parallel()

			document := openSample(t, backend)
			require.Equal(t, len(samplePages), document.PageCount())

			targets := []raster.TargetSize{
				{Width: 100, Height: 100, CorrectFromDPI: true},
				{Width: 144, Height: 72, CorrectFromDPI: true},
				{Width: 500, Height: 500, CorrectFromDPI: false},
			}

			for index, sample := range samplePages {
				for _, target := range targets {
					page, err := document.Render(index, target)
					require.NoError(t, err)

					width, height := target.Pixels(sample.widthPt, sample.heightPt)
					assert.Equal(t, width, page.Image.Bounds().Dx(), "page %d %+v", index, target)
					assert.Equal(t, height, page.Image.Bounds().Dy(), "page %d %+v", index, target)

					page.Release()
				}
			}

			require.NoError(t, document.Close())
		})
	}
}

func TestBackendsRenderDefaultTarget(t *testing.T) {
	t.Parallel()

	// A4 at 500 DPI: int(595.28)*500/72 x int(841.89)*500/72.
	for _, backend := range []raster.Backend{raster.BackendPDFium, raster.BackendFitz} {
		t.Run(string(backend), func(t *testing.T) {
			t.Parallel()

			document := openSample(t, backend)

			page, err := document.Render(1, raster.DefaultTarget)
			require.NoError(t, err)

			defer page.Release()

			assert.Equal(t, 4131, page.Image.Bounds().Dx())
			assert.Equal(t, 5840, page.Image.Bounds().Dy())

			require.NoError(t, document.Close())
		})
	}
}

func TestBackendsRejectOutOfRangePages(t *testing.T) {
	t.Parallel()

	for _, backend := range []raster.Backend{raster.BackendPDFium, raster.BackendFitz} {
		t.Run(string(backend), func(t *testing.T) {
			t.Parallel()

			document := openSample(t, backend)

			defer func() { assert.NoError(t, document.Close()) }()

			for _, index := range []int{-1, len(samplePages)} {
				_, err := document.Render(index, raster.DefaultTarget)
				require.ErrorIs(t, err, raster.ErrPageOutOfRange)
			}
		})
	}
}
