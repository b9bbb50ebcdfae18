package report

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/fyrsmithlabs/insightd/internal/insight"
)

var ansiEscapes = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// Markdown builds the report document.
func (g *Generator) Markdown(data Data) (string, error) {
	if data.Session == nil {
		return "", fmt.Errorf("report data has no session")
	}
	sess := data.Session

	var b strings.Builder
	fmt.Fprintf(&b, "# Analysis Report: %s\n\n", sess.Dataset)
	fmt.Fprintf(&b, "Session `%s`, generated %s.\n\n", sess.ID, time.Now().UTC().Format(time.RFC3339))

	b.WriteString("## Overview\n\n")
	fmt.Fprintf(&b, "- Rows: %d\n", sess.Rows)
	fmt.Fprintf(&b, "- Columns: %d\n", len(sess.Schema.Columns))
	if len(sess.ContextSessions) > 0 {
		fmt.Fprintf(&b, "- Informed by %d past session(s)\n", len(sess.ContextSessions))
	}
	b.WriteString("\n")

	if data.Narrative != "" {
		b.WriteString("## Summary\n\n")
		b.WriteString(strings.TrimSpace(data.Narrative))
		b.WriteString("\n\n")
	}

	writeInsights(&b, sess.Insights)
	g.writeStats(&b, data)
	writeCharts(&b, data)
	writeContexts(&b, data)

	return b.String(), nil
}

func writeInsights(b *strings.Builder, insights []insight.Insight) {
	if len(insights) == 0 {
		return
	}
	b.WriteString("## Key Insights\n\n")
	for _, ins := range insights {
		note := string(ins.Source)
		if ins.MemoryInfluenced {
			note += ", memory-informed"
		}
		fmt.Fprintf(b, "- %s _(confidence %.2f, %s)_\n", ins.Text, ins.Confidence, note)
	}
	b.WriteString("\n")
}

func (g *Generator) writeStats(b *strings.Builder, data Data) {
	res := data.Stats
	if res == nil {
		return
	}

	if len(res.Summaries) > 0 {
		b.WriteString("## Column Statistics\n\n")
		b.WriteString("| Column | Count | Mean | Std Dev | Min | Median | Max |\n")
		b.WriteString("|---|---|---|---|---|---|---|\n")
		for _, s := range res.Summaries {
			fmt.Fprintf(b, "| %s | %d | %.2f | %.2f | %.2f | %.2f | %.2f |\n",
				escapeCell(s.Column), s.Count, s.Mean, s.StdDev, s.Min, s.Median, s.Max)
		}
		b.WriteString("\n")
	}

	if len(res.Correlations) > 0 {
		b.WriteString("## Correlations\n\n")
		b.WriteString("| Pair | r | n |\n")
		b.WriteString("|---|---|---|\n")
		for _, p := range res.Correlations {
			fmt.Fprintf(b, "| %s / %s | %.3f | %d |\n", escapeCell(p.A), escapeCell(p.B), p.R, p.N)
		}
		b.WriteString("\n")
	}

	if len(res.Outliers) > 0 {
		b.WriteString("## Outliers\n\n")
		for _, o := range res.Outliers {
			fmt.Fprintf(b, "- `%s`: %d values (%.1f%%) outside [%.2f, %.2f] (IQR %.2f)\n",
				o.Column, o.Count, o.Share*100, o.Lower, o.Upper, o.IQR)
		}
		b.WriteString("\n")
	}

	if len(res.Trends) > 0 {
		b.WriteString("## Trends\n\n")
		for _, tr := range res.Trends {
			fmt.Fprintf(b, "- `%s` against `%s`: %s (slope %.3f/day, r²=%.2f, %+.1f%%)\n",
				tr.Column, tr.DateColumn, tr.Direction, tr.Slope, tr.RSquared, tr.GrowthPct)
		}
		b.WriteString("\n")
	}
}

func writeCharts(b *strings.Builder, data Data) {
	if len(data.Charts) == 0 {
		return
	}
	b.WriteString("## Charts\n\n")
	for _, chart := range data.Charts {
		fmt.Fprintf(b, "### %s: %s\n\n", chart.Kind, chart.Column)
		b.WriteString("```\n")
		b.WriteString(strings.TrimRight(ansiEscapes.ReplaceAllString(chart.View, ""), "\n"))
		b.WriteString("\n```\n\n")
	}
}

func writeContexts(b *strings.Builder, data Data) {
	if len(data.Contexts) == 0 {
		return
	}
	b.WriteString("## Context From Past Sessions\n\n")
	for _, ctx := range data.Contexts {
		fmt.Fprintf(b, "- `%s` (%s, similarity %.2f, %d insights)\n",
			ctx.SessionID, ctx.Dataset, ctx.Similarity, len(ctx.Insights))
	}
	b.WriteString("\n")
}

// escapeCell keeps column names from breaking table rows.
func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
