package convert

// Exported test-only accessors for unexported functions and fields.
// This file is compiled only during tests and does not affect the public API.

// SinglePageNameForTest exposes singlePageName for tests in external package.
func SinglePageNameForTest(index int) string { return singlePageName(index) }

// SpreadNameForTest exposes spreadName for tests in external package.
func SpreadNameForTest(index int) string { return spreadName(index) }

// OutputCountForTest exposes Mode.outputCount for tests in external package.
func OutputCountForTest(mode Mode, pageCount int) int { return mode.outputCount(pageCount) }

// ConfigForTest returns a copy of the converter configuration for assertions in tests.
func (converter *Converter) ConfigForTest() Options { return converter.config }
