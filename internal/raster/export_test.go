package raster

// RenderDPIForTest exposes renderDPI for tests in external package.
func RenderDPIForTest(widthPt, heightPt float64, width, height int) float64 {
	return renderDPI(widthPt, heightPt, width, height)
}

// RenderBoxForTest exposes renderBox for tests in external package.
func RenderBoxForTest(widthPt, heightPt float64, width, height int) (int, int) {
	return renderBox(widthPt, heightPt, width, height)
}
