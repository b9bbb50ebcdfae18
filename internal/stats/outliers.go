package stats

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// minOutlierSample is the smallest sample with meaningful quartiles.
const minOutlierSample = 4

// OutlierReport describes the values of one column falling outside the
// IQR fences.
type OutlierReport struct {
	Column string  `json:"column"`
	Q1     float64 `json:"q1"`
	Q3     float64 `json:"q3"`
	IQR    float64 `json:"iqr"`
	Lower  float64 `json:"lower"`
	Upper  float64 `json:"upper"`
	Count  int     `json:"count"`
	Share  float64 `json:"share"`
}

// DetectOutliers fences values at Q1/Q3 +- factor*IQR and counts what
// falls outside. Samples below four values report no outliers.
func DetectOutliers(column string, values []float64, factor float64) OutlierReport {
	report := OutlierReport{Column: column}
	if len(values) < minOutlierSample {
		return report
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	report.Q1 = stat.Quantile(0.25, stat.Empirical, sorted, nil)
	report.Q3 = stat.Quantile(0.75, stat.Empirical, sorted, nil)
	report.IQR = report.Q3 - report.Q1
	report.Lower = report.Q1 - factor*report.IQR
	report.Upper = report.Q3 + factor*report.IQR

	for _, v := range values {
		if v < report.Lower || v > report.Upper {
			report.Count++
		}
	}
	report.Share = float64(report.Count) / float64(len(values))
	return report
}
