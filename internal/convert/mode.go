package convert

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownMode is returned for a Mode outside the two supported layouts.
var ErrUnknownMode = errors.New("unknown conversion mode")

// Mode selects how pages are laid out in the output images.
type Mode int

const (
	// ModeSinglePage writes one image per page.
	ModeSinglePage Mode = iota
	// ModePairedSpread writes one image per pair of pages, side by side.
	ModePairedSpread
)

// ModeFromSpreads maps the on/off spreads toggle to a Mode.
func ModeFromSpreads(spreads bool) Mode {
	if spreads {
		return ModePairedSpread
	}

	return ModeSinglePage
}

// ParseMode accepts "single" or "spread" (case-insensitive). Empty means single.
func ParseMode(name string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "single":
		return ModeSinglePage, nil
	case "spread", "spreads":
		return ModePairedSpread, nil
	default:
		return ModeSinglePage, fmt.Errorf("%w: %q", ErrUnknownMode, name)
	}
}

func (mode Mode) String() string {
	switch mode {
	case ModeSinglePage:
		return "single"
	case ModePairedSpread:
		return "spread"
	default:
		return fmt.Sprintf("Mode(%d)", int(mode))
	}
}

func (mode Mode) valid() bool {
	return mode == ModeSinglePage || mode == ModePairedSpread
}

// outputCount is the number of images a document of pageCount pages yields.
func (mode Mode) outputCount(pageCount int) int {
	if mode == ModePairedSpread {
		return (pageCount + 1) / 2
	}

	return pageCount
}
