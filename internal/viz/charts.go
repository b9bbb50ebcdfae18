package viz

import (
	"fmt"
	"sort"

	"github.com/NimbleMarkets/ntcharts/barchart"
	"github.com/NimbleMarkets/ntcharts/linechart/timeserieslinechart"
	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/insightd/internal/dataset"
	"github.com/fyrsmithlabs/insightd/internal/insight"
)

// Chart styles.
var (
	lineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))

	barStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	sparkStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// renderTimeSeries draws one braille line chart per numeric column against
// the first temporal column, and notes each series' peak.
func (v *Visualizer) renderTimeSeries(ds *dataset.Dataset, out *Output) {
	temporal := ds.TemporalColumns()
	if len(temporal) == 0 {
		return
	}
	dateCol := temporal[0]

	for _, col := range ds.NumericColumns() {
		if countKind(out.Charts, KindTimeSeries) >= maxTimeSeriesCharts {
			break
		}
		times, values := ds.TimeSeries(dateCol, col)
		if len(values) < 2 {
			continue
		}

		chart := timeserieslinechart.New(v.opts.Width, v.opts.Height)
		for i := range values {
			chart.Push(timeserieslinechart.TimePoint{Time: times[i], Value: values[i]})
		}
		chart.DrawBraille()

		header := fmt.Sprintf("%s over %s (%d points)\n", col, dateCol, len(values))
		out.Charts = append(out.Charts, Chart{
			Kind:   KindTimeSeries,
			Column: col,
			View:   header + lineStyle.Render(chart.View()) + "\n",
		})

		peakIdx := 0
		for i, val := range values {
			if val > values[peakIdx] {
				peakIdx = i
			}
		}
		out.Insights = append(out.Insights, insight.New(
			fmt.Sprintf("%s peaks at %.2f on %s", col, values[peakIdx], times[peakIdx].Format("2006-01-02")),
			0.8,
			insight.SourceVisual,
			insight.CategoryChart,
		))
	}
}

// renderBars draws a value-count bar chart per categorical column and
// reports the leading value's share.
func (v *Visualizer) renderBars(ds *dataset.Dataset, out *Output) {
	for _, col := range ds.Schema().Columns {
		if col.Type != dataset.TypeCategorical && col.Type != dataset.TypeBoolean {
			continue
		}
		if countKind(out.Charts, KindBar) >= maxBarCharts {
			break
		}
		values, ok := ds.Categorical(col.Name)
		if !ok {
			continue
		}

		counts := valueCounts(values)
		if len(counts) == 0 || len(counts) > ds.Rows()/2+1 {
			// Near-unique columns (ids, names) chart as noise.
			continue
		}

		chart := barchart.New(v.opts.Width, v.opts.Height)
		for i, vc := range counts {
			if i >= maxBars {
				break
			}
			chart.Push(barchart.BarData{
				Label: vc.Value,
				Values: []barchart.BarValue{
					{Name: col.Name, Value: float64(vc.Count), Style: barStyle},
				},
			})
		}
		chart.Draw()

		header := fmt.Sprintf("%s value counts (%d distinct)\n", col.Name, len(counts))
		out.Charts = append(out.Charts, Chart{
			Kind:   KindBar,
			Column: col.Name,
			View:   header + chart.View() + "\n",
		})

		total := 0
		for _, vc := range counts {
			total += vc.Count
		}
		top := counts[0]
		share := float64(top.Count) / float64(total)
		ins := insight.New(
			fmt.Sprintf("%s has %d distinct values; %q accounts for %.1f%% of rows",
				col.Name, len(counts), top.Value, share*100),
			0.75,
			insight.SourceVisual,
			insight.CategoryDistribution,
		)
		if share > dominantShare {
			ins.PatternKey = "dominance:" + col.Name
		}
		out.Insights = append(out.Insights, ins)
	}
}

// renderSparklines draws a compact shape preview per numeric column.
func (v *Visualizer) renderSparklines(ds *dataset.Dataset, out *Output) {
	for _, col := range ds.NumericColumns() {
		if countKind(out.Charts, KindSparkline) >= maxSparklines {
			break
		}
		values := ds.NumericValues(col)
		if len(values) < 2 {
			continue
		}

		spark := sparkline.New(v.opts.Width, 3)
		for _, val := range values {
			spark.Push(val)
		}
		spark.Draw()

		out.Charts = append(out.Charts, Chart{
			Kind:   KindSparkline,
			Column: col,
			View:   fmt.Sprintf("%s (%d values)\n", col, len(values)) + sparkStyle.Render(spark.View()) + "\n",
		})
	}
}

type valueCount struct {
	Value string
	Count int
}

// valueCounts tallies non-empty values, most frequent first with ties
// broken alphabetically.
func valueCounts(values []string) []valueCount {
	tally := make(map[string]int)
	for _, v := range values {
		if v == "" {
			continue
		}
		tally[v]++
	}

	counts := make([]valueCount, 0, len(tally))
	for v, n := range tally {
		counts = append(counts, valueCount{Value: v, Count: n})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Value < counts[j].Value
	})
	return counts
}

func countKind(charts []Chart, kind string) int {
	n := 0
	for _, c := range charts {
		if c.Kind == kind {
			n++
		}
	}
	return n
}
