package stats

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Trend directions.
const (
	TrendUpward   = "upward"
	TrendDownward = "downward"
	TrendFlat     = "flat"
)

// minTrendSample is the smallest series worth fitting a line through.
const minTrendSample = 3

// flatRelativeChange is the predicted relative change below which a fit
// counts as flat.
const flatRelativeChange = 0.01

// TrendReport is a least-squares fit over one value column against time,
// with moving averages for smoothing.
type TrendReport struct {
	Column     string `json:"column"`
	DateColumn string `json:"date_column"`
	Direction  string `json:"direction"`

	// Slope is the fitted change per day.
	Slope    float64 `json:"slope"`
	RSquared float64 `json:"r_squared"`

	// GrowthPct is the percent change from the first to the last observed
	// value.
	GrowthPct float64 `json:"growth_pct"`

	ShortMA []float64 `json:"short_ma,omitempty"`
	LongMA  []float64 `json:"long_ma,omitempty"`
	N       int       `json:"n"`
}

// Trend fits values against observation time. The series must be sorted
// by time. It reports false when the series is too short or spans no
// time at all.
func Trend(dateColumn, column string, times []time.Time, values []float64, shortWindow, longWindow int) (TrendReport, bool) {
	if len(times) < minTrendSample || len(times) != len(values) {
		return TrendReport{}, false
	}

	days := make([]float64, len(times))
	for i, t := range times {
		days[i] = t.Sub(times[0]).Hours() / 24
	}
	span := days[len(days)-1]
	if span == 0 {
		return TrendReport{}, false
	}

	alpha, beta := stat.LinearRegression(days, values, nil, false)
	r2 := stat.RSquared(days, values, nil, alpha, beta)
	if math.IsNaN(r2) || r2 < 0 {
		r2 = 0
	}

	report := TrendReport{
		Column:     column,
		DateColumn: dateColumn,
		Slope:      beta,
		RSquared:   r2,
		Direction:  direction(beta, span, values),
		ShortMA:    MovingAverage(values, shortWindow),
		LongMA:     MovingAverage(values, longWindow),
		N:          len(values),
	}

	if first := values[0]; first != 0 {
		report.GrowthPct = (values[len(values)-1] - first) / math.Abs(first) * 100
	}
	return report, true
}

// direction classifies the fit by the change it predicts over the series
// relative to the series mean.
func direction(slope, spanDays float64, values []float64) string {
	delta := slope * spanDays
	mean := stat.Mean(values, nil)

	switch {
	case mean != 0 && math.Abs(delta/mean) < flatRelativeChange:
		return TrendFlat
	case mean == 0 && math.Abs(delta) < 1e-9:
		return TrendFlat
	case slope > 0:
		return TrendUpward
	default:
		return TrendDownward
	}
}

// MovingAverage returns the rolling mean with the given window. Series
// shorter than the window, or windows below two, yield nil.
func MovingAverage(values []float64, window int) []float64 {
	if window < 2 || len(values) < window {
		return nil
	}

	out := make([]float64, 0, len(values)-window+1)
	var sum float64
	for i, v := range values {
		sum += v
		if i >= window {
			sum -= values[i-window]
		}
		if i >= window-1 {
			out = append(out, sum/float64(window))
		}
	}
	return out
}
