package stats

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/fyrsmithlabs/insightd/internal/dataset"
)

// minPairedValues is the smallest aligned sample for which a correlation
// coefficient is worth reporting.
const minPairedValues = 3

// CorrelationPair is the Pearson correlation between two numeric columns,
// computed over rows where both values are present.
type CorrelationPair struct {
	A string  `json:"a"`
	B string  `json:"b"`
	R float64 `json:"r"`
	N int     `json:"n"`
}

// Strong reports whether the pair clears the given |r| threshold.
func (p CorrelationPair) Strong(threshold float64) bool {
	return math.Abs(p.R) >= threshold
}

// Correlations computes every pairwise correlation between numeric
// columns, ordered by schema position of the pair. Pairs with too few
// aligned rows or zero variance are skipped.
func Correlations(ds *dataset.Dataset) []CorrelationPair {
	cols := ds.NumericColumns()

	var pairs []CorrelationPair
	for i := 0; i < len(cols); i++ {
		for j := i + 1; j < len(cols); j++ {
			x, y := ds.PairedValues(cols[i], cols[j])
			if len(x) < minPairedValues {
				continue
			}

			r := stat.Correlation(x, y, nil)
			if math.IsNaN(r) {
				continue
			}
			pairs = append(pairs, CorrelationPair{
				A: cols[i],
				B: cols[j],
				R: r,
				N: len(x),
			})
		}
	}
	return pairs
}
