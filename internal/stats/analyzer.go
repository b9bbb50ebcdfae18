package stats

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/insightd/internal/dataset"
	"github.com/fyrsmithlabs/insightd/internal/insight"
	"github.com/fyrsmithlabs/insightd/internal/logging"
)

// Options tune the statistical analyzer. Zero fields take the defaults.
type Options struct {
	// StrongCorrelation is the |r| threshold for reporting a pair.
	StrongCorrelation float64

	// OutlierIQRFactor scales the IQR fences.
	OutlierIQRFactor float64

	// OutlierShare is the outlying fraction above which a column is
	// reported.
	OutlierShare float64

	// ShortWindow and LongWindow are moving-average sizes in observations.
	ShortWindow int
	LongWindow  int
}

// DefaultOptions returns the standard thresholds.
func DefaultOptions() Options {
	return Options{
		StrongCorrelation: 0.7,
		OutlierIQRFactor:  1.5,
		OutlierShare:      0.05,
		ShortWindow:       7,
		LongWindow:        30,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.StrongCorrelation <= 0 {
		o.StrongCorrelation = def.StrongCorrelation
	}
	if o.OutlierIQRFactor <= 0 {
		o.OutlierIQRFactor = def.OutlierIQRFactor
	}
	if o.OutlierShare <= 0 {
		o.OutlierShare = def.OutlierShare
	}
	if o.ShortWindow < 2 {
		o.ShortWindow = def.ShortWindow
	}
	if o.LongWindow <= o.ShortWindow {
		o.LongWindow = def.LongWindow
	}
	if o.LongWindow <= o.ShortWindow {
		o.LongWindow = o.ShortWindow + 1
	}
	return o
}

// Result bundles the raw findings and the insights derived from them.
type Result struct {
	Summaries    []ColumnSummary   `json:"summaries,omitempty"`
	Correlations []CorrelationPair `json:"correlations,omitempty"`
	Outliers     []OutlierReport   `json:"outliers,omitempty"`
	Trends       []TrendReport     `json:"trends,omitempty"`
	Insights     []insight.Insight `json:"insights,omitempty"`
}

// Analyzer runs the numeric analysis pass over a dataset.
type Analyzer struct {
	opts   Options
	logger *logging.Logger
}

// NewAnalyzer creates an analyzer. A nil logger falls back to a no-op
// logger.
func NewAnalyzer(opts Options, logger *logging.Logger) *Analyzer {
	if logger == nil {
		logger = logging.FromContext(context.Background())
	}
	return &Analyzer{
		opts:   opts.withDefaults(),
		logger: logger.Named("stats"),
	}
}

// Analyze computes summaries, correlations, outliers, and trends, and
// derives insights from them. A dataset without numeric columns yields
// the dataset summary alone.
func (a *Analyzer) Analyze(ctx context.Context, ds *dataset.Dataset) (*Result, error) {
	if ds == nil {
		return nil, errors.New("nil dataset")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{
		Summaries:    Describe(ds),
		Correlations: Correlations(ds),
	}

	for _, col := range ds.NumericColumns() {
		values := ds.NumericValues(col)
		report := DetectOutliers(col, values, a.opts.OutlierIQRFactor)
		if report.Count > 0 {
			res.Outliers = append(res.Outliers, report)
		}
	}

	if dateCol := firstTemporal(ds); dateCol != "" {
		for _, col := range ds.NumericColumns() {
			times, values := ds.TimeSeries(dateCol, col)
			if report, ok := Trend(dateCol, col, times, values, a.opts.ShortWindow, a.opts.LongWindow); ok {
				res.Trends = append(res.Trends, report)
			}
		}
	}

	res.Insights = a.deriveInsights(ds, res)

	a.logger.Debug(ctx, "statistical analysis complete",
		zap.String("dataset", ds.Name()),
		zap.Int("correlations", len(res.Correlations)),
		zap.Int("outlier_columns", len(res.Outliers)),
		zap.Int("trends", len(res.Trends)),
		zap.Int("insights", len(res.Insights)))
	return res, nil
}

func (a *Analyzer) deriveInsights(ds *dataset.Dataset, res *Result) []insight.Insight {
	insights := []insight.Insight{summaryInsight(ds)}

	for _, pair := range res.Correlations {
		if !pair.Strong(a.opts.StrongCorrelation) {
			continue
		}
		sign := "positive"
		if pair.R < 0 {
			sign = "negative"
		}
		ins := insight.New(
			fmt.Sprintf("strong %s correlation between %s and %s (r=%.2f)", sign, pair.A, pair.B, pair.R),
			math.Abs(pair.R),
			insight.SourceStatistical,
			insight.CategoryCorrelation,
		)
		ins.PatternKey = correlationKey(pair.A, pair.B)
		insights = append(insights, ins)
	}

	for _, report := range res.Outliers {
		if report.Share <= a.opts.OutlierShare {
			continue
		}
		ins := insight.New(
			fmt.Sprintf("%s has %d outliers (%.1f%% of values) outside [%.2f, %.2f]",
				report.Column, report.Count, report.Share*100, report.Lower, report.Upper),
			outlierConfidence(report.Share),
			insight.SourceStatistical,
			insight.CategoryOutlier,
		)
		ins.PatternKey = "outlier:" + report.Column
		insights = append(insights, ins)
	}

	for _, report := range res.Trends {
		if report.Direction == TrendFlat {
			continue
		}
		article := "a"
		if report.Direction == TrendUpward {
			article = "an"
		}
		ins := insight.New(
			fmt.Sprintf("%s shows %s %s trend (r²=%.2f, %+.1f%% over the period)",
				report.Column, article, report.Direction, report.RSquared, report.GrowthPct),
			insight.ClampConfidence(report.RSquared),
			insight.SourceStatistical,
			insight.CategoryTrend,
		)
		ins.PatternKey = "trend:" + report.Column
		insights = append(insights, ins)
	}

	return insights
}

func summaryInsight(ds *dataset.Dataset) insight.Insight {
	return insight.New(
		fmt.Sprintf("%d rows across %d columns (%.1f%% complete)",
			ds.Rows(), len(ds.Schema().Columns), ds.Completeness()*100),
		1.0,
		insight.SourceStatistical,
		insight.CategorySummary,
	)
}

// outlierConfidence grows with the outlying share but stays below the
// certainty of a direct measurement.
func outlierConfidence(share float64) float64 {
	c := 0.6 + 2*share
	if c > 0.95 {
		c = 0.95
	}
	return c
}

// correlationKey builds the stable pattern key for a column pair,
// order-independent.
func correlationKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return "correlation:" + a + "~" + b
}

func firstTemporal(ds *dataset.Dataset) string {
	cols := ds.TemporalColumns()
	if len(cols) == 0 {
		return ""
	}
	return cols[0]
}
