package stats

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/insightd/internal/insight"
	"github.com/fyrsmithlabs/insightd/internal/logging"
)

func findByCategory(insights []insight.Insight, category string) []insight.Insight {
	var out []insight.Insight
	for _, ins := range insights {
		if ins.Category == category {
			out = append(out, ins)
		}
	}
	return out
}

func TestAnalyzeLinearSales(t *testing.T) {
	t.Parallel()

	ds := mustDataset(t, linearSalesCSV(10))
	analyzer := NewAnalyzer(Options{ShortWindow: 3, LongWindow: 5}, logging.NewTestLogger(t).Logger)

	res, err := analyzer.Analyze(context.Background(), ds)
	require.NoError(t, err)

	require.Len(t, res.Summaries, 2)
	require.Len(t, res.Correlations, 1)
	assert.Empty(t, res.Outliers)
	require.Len(t, res.Trends, 2)

	summaries := findByCategory(res.Insights, insight.CategorySummary)
	require.Len(t, summaries, 1)
	assert.Contains(t, summaries[0].Text, "10 rows across 3 columns")
	assert.InDelta(t, 1.0, summaries[0].Confidence, 1e-9)

	correlations := findByCategory(res.Insights, insight.CategoryCorrelation)
	require.Len(t, correlations, 1)
	assert.Contains(t, correlations[0].Text, "strong positive correlation between revenue and units")
	assert.Equal(t, "correlation:revenue~units", correlations[0].PatternKey)
	assert.InDelta(t, 1.0, correlations[0].Confidence, 1e-9)
	assert.Equal(t, insight.SourceStatistical, correlations[0].Source)

	trends := findByCategory(res.Insights, insight.CategoryTrend)
	require.Len(t, trends, 2)
	assert.Contains(t, trends[0].Text, "upward trend")
	assert.Equal(t, "trend:revenue", trends[0].PatternKey)
}

func TestAnalyzeReportsOutliers(t *testing.T) {
	t.Parallel()

	csv := "revenue\n10\n11\n12\n11\n10\n12\n11\n10\n11\n500\n"
	ds := mustDataset(t, csv)
	analyzer := NewAnalyzer(Options{}, logging.NewTestLogger(t).Logger)

	res, err := analyzer.Analyze(context.Background(), ds)
	require.NoError(t, err)

	require.Len(t, res.Outliers, 1)
	assert.Equal(t, 1, res.Outliers[0].Count)

	outliers := findByCategory(res.Insights, insight.CategoryOutlier)
	require.Len(t, outliers, 1)
	assert.Contains(t, outliers[0].Text, "revenue has 1 outliers (10.0% of values)")
	assert.Equal(t, "outlier:revenue", outliers[0].PatternKey)
	assert.GreaterOrEqual(t, outliers[0].Confidence, 0.6)
	assert.LessOrEqual(t, outliers[0].Confidence, 0.95)
}

func TestAnalyzeNoNumericColumns(t *testing.T) {
	t.Parallel()

	ds := mustDataset(t, "name,city\nana,lisbon\nbob,porto\n")
	analyzer := NewAnalyzer(Options{}, logging.NewTestLogger(t).Logger)

	res, err := analyzer.Analyze(context.Background(), ds)
	require.NoError(t, err)

	assert.Empty(t, res.Summaries)
	assert.Empty(t, res.Correlations)
	assert.Empty(t, res.Trends)
	require.Len(t, res.Insights, 1)
	assert.Equal(t, insight.CategorySummary, res.Insights[0].Category)
}

func TestAnalyzeWeakCorrelationNotReported(t *testing.T) {
	t.Parallel()

	// Noisy, weakly related columns.
	csv := "x,y\n1,9\n2,1\n3,8\n4,3\n5,7\n6,2\n7,9\n8,1\n"
	ds := mustDataset(t, csv)
	analyzer := NewAnalyzer(Options{}, logging.NewTestLogger(t).Logger)

	res, err := analyzer.Analyze(context.Background(), ds)
	require.NoError(t, err)

	require.Len(t, res.Correlations, 1)
	assert.Empty(t, findByCategory(res.Insights, insight.CategoryCorrelation))
}

func TestAnalyzeNilDataset(t *testing.T) {
	t.Parallel()

	analyzer := NewAnalyzer(Options{}, logging.NewTestLogger(t).Logger)
	_, err := analyzer.Analyze(context.Background(), nil)
	require.Error(t, err)
}

func TestAnalyzeCanceledContext(t *testing.T) {
	t.Parallel()

	ds := mustDataset(t, linearSalesCSV(5))
	analyzer := NewAnalyzer(Options{}, logging.NewTestLogger(t).Logger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := analyzer.Analyze(ctx, ds)
	require.ErrorIs(t, err, context.Canceled)
}

func TestOptionsWithDefaults(t *testing.T) {
	t.Parallel()

	opts := Options{}.withDefaults()
	assert.Equal(t, DefaultOptions(), opts)

	custom := Options{StrongCorrelation: 0.9, ShortWindow: 5, LongWindow: 10}.withDefaults()
	assert.InDelta(t, 0.9, custom.StrongCorrelation, 1e-9)
	assert.Equal(t, 5, custom.ShortWindow)
	assert.Equal(t, 10, custom.LongWindow)

	// A long window at or below the short window is pushed past it.
	crossed := Options{ShortWindow: 10, LongWindow: 4}.withDefaults()
	assert.Greater(t, crossed.LongWindow, crossed.ShortWindow)
}
