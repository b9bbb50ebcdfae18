// Package stats computes the numeric findings for an analysis run:
// per-column summaries, pairwise Pearson correlations, IQR outlier fences,
// and least-squares trends with moving averages over time series.
//
// The package is purely computational. The Analyzer turns the raw findings
// into ranked insights; rendering and persistence live elsewhere.
package stats
