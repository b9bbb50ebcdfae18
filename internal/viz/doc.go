// Package viz renders terminal charts for a dataset and derives the
// visual insights that go with them.
//
// Charts are drawn with ntcharts (braille time series, bar charts for
// categorical counts, sparklines for numeric shape) and saved as text
// artifacts. The renderer works from the raw dataset only, so it can run
// in parallel with the statistical pass.
package viz
