package convert

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
)

const (
	// defaultDirMode is the default permissions for created directories.
	defaultDirMode = 0o750

	imageExtension = ".jpg"
	spreadPrefix   = "spread_"
)

// singlePageName names the image of page index, e.g. "0007.jpg".
func singlePageName(index int) string {
	return fmt.Sprintf("%04d%s", index, imageExtension)
}

// spreadName names the spread starting at page index, e.g. "spread_0006.jpg".
func spreadName(index int) string {
	return fmt.Sprintf("%s%04d%s", spreadPrefix, index, imageExtension)
}

// ensureOutputDirectory creates outputDir and its parents. Existing content is kept.
func ensureOutputDirectory(outputDir string) error {
	mkdirErr := os.MkdirAll(outputDir, defaultDirMode)
	if mkdirErr != nil {
		return fmt.Errorf(
			"failed to create output directory %s: %w",
			outputDir,
			mkdirErr,
		)
	}

	return nil
}

// saveJPEG encodes img into outputDir/name and returns the written path.
func saveJPEG(img image.Image, outputDir, name string, quality int) (string, error) {
	path := filepath.Join(outputDir, name)

	encodeErr := imaging.Save(img, path, imaging.JPEGQuality(quality))
	if encodeErr != nil {
		return "", fmt.Errorf("%w %s: %w", ErrSaveImage, path, encodeErr)
	}

	return path, nil
}
