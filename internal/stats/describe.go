package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/fyrsmithlabs/insightd/internal/dataset"
)

// ColumnSummary holds the descriptive statistics for one numeric column.
type ColumnSummary struct {
	Column string  `json:"column"`
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Median float64 `json:"median"`
}

// Describe summarizes every numeric column with at least one value.
// Columns are returned in schema order.
func Describe(ds *dataset.Dataset) []ColumnSummary {
	var summaries []ColumnSummary
	for _, name := range ds.NumericColumns() {
		values := ds.NumericValues(name)
		if len(values) == 0 {
			continue
		}

		sorted := append([]float64(nil), values...)
		sort.Float64s(sorted)

		s := ColumnSummary{
			Column: name,
			Count:  len(values),
			Mean:   stat.Mean(values, nil),
			Min:    floats.Min(sorted),
			Max:    floats.Max(sorted),
			Median: stat.Quantile(0.5, stat.Empirical, sorted, nil),
		}
		if len(values) > 1 {
			s.StdDev = stat.StdDev(values, nil)
		}
		if math.IsNaN(s.StdDev) {
			s.StdDev = 0
		}
		summaries = append(summaries, s)
	}
	return summaries
}
