package capability

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/insightd/internal/config"
	"github.com/fyrsmithlabs/insightd/internal/dataset"
	"github.com/fyrsmithlabs/insightd/internal/insight"
	"github.com/fyrsmithlabs/insightd/internal/logging"
	"github.com/fyrsmithlabs/insightd/internal/memory"
	"github.com/fyrsmithlabs/insightd/internal/report"
	"github.com/fyrsmithlabs/insightd/internal/stats"
	"github.com/fyrsmithlabs/insightd/internal/viz"
)

// synthesizedConfidence is assigned to every synthesized insight. Kept
// below typical statistical confidences so derived narrative never outranks
// the findings it summarizes.
const synthesizedConfidence = 0.6

// LocalProvider implements every capability deterministically, without
// remote calls.
type LocalProvider struct {
	stats  *stats.Analyzer
	viz    *viz.Visualizer
	report *report.Generator
	strong float64
	logger *logging.Logger
}

// NewLocalProvider creates the deterministic provider. A nil logger falls
// back to a no-op logger.
func NewLocalProvider(cfg config.CapabilitiesConfig, logger *logging.Logger) *LocalProvider {
	if logger == nil {
		logger = logging.FromContext(context.Background())
	}
	logger = logger.Named("capability")

	statOpts := stats.Options{
		StrongCorrelation: cfg.Statistics.StrongCorrelation,
		OutlierIQRFactor:  cfg.Statistics.OutlierIQRFactor,
		OutlierShare:      cfg.Statistics.OutlierShare,
		ShortWindow:       cfg.Statistics.ShortWindow,
		LongWindow:        cfg.Statistics.LongWindow,
	}
	vizOpts := viz.Options{
		Width:  cfg.Visualization.Width,
		Height: cfg.Visualization.Height,
	}

	strong := cfg.Statistics.StrongCorrelation
	if strong <= 0 {
		strong = stats.DefaultOptions().StrongCorrelation
	}

	return &LocalProvider{
		stats:  stats.NewAnalyzer(statOpts, logger),
		viz:    viz.NewVisualizer(vizOpts, logger),
		report: report.NewGenerator(logger),
		strong: strong,
		logger: logger,
	}
}

// Ingest loads a dataset from disk. Failures come back as IngestionError.
func (p *LocalProvider) Ingest(ctx context.Context, source string) (*dataset.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ds, err := dataset.Load(source)
	if err != nil {
		return nil, err
	}
	p.logger.Debug(ctx, "dataset ingested",
		zap.String("dataset", ds.Name()),
		zap.Int("rows", ds.Rows()),
		zap.Int("columns", len(ds.Schema().Columns)),
	)
	return ds, nil
}

// AnalyzeStatistics runs the numeric analysis pass and flags insights whose
// pattern key recurs in the retrieved contexts.
func (p *LocalProvider) AnalyzeStatistics(ctx context.Context, ds *dataset.Dataset, contexts []memory.RetrievedContext) (*Analysis, error) {
	res, err := p.stats.Analyze(ctx, ds)
	if err != nil {
		return nil, toolErr(CapabilityStatistics, err)
	}
	if n := markInfluenced(res.Insights, contexts); n > 0 {
		p.logger.Debug(ctx, "insights matched prior patterns",
			zap.String("capability", CapabilityStatistics),
			zap.Int("influenced", n),
		)
	}
	return &Analysis{Stats: res, Insights: res.Insights}, nil
}

// Visualize renders charts under artifactsDir.
func (p *LocalProvider) Visualize(ctx context.Context, ds *dataset.Dataset, contexts []memory.RetrievedContext, artifactsDir string) (*Visuals, error) {
	out, err := p.viz.Render(ctx, ds, artifactsDir)
	if err != nil {
		return nil, toolErr(CapabilityVisualization, err)
	}
	if n := markInfluenced(out.Insights, contexts); n > 0 {
		p.logger.Debug(ctx, "insights matched prior patterns",
			zap.String("capability", CapabilityVisualization),
			zap.Int("influenced", n),
		)
	}
	return &Visuals{Charts: out.Charts, Insights: out.Insights}, nil
}

// SynthesizeReport writes the markdown and HTML report with a locally
// composed narrative.
func (p *LocalProvider) SynthesizeReport(ctx context.Context, req ReportRequest) (*Report, error) {
	if err := validateReportRequest(req); err != nil {
		return nil, toolErr(CapabilityReport, err)
	}
	return p.composeReport(ctx, req, p.localNarrative(req))
}

// composeReport assembles report data around the given narrative, writes
// both renderings, and attaches the synthesized insights.
func (p *LocalProvider) composeReport(ctx context.Context, req ReportRequest, narrative string) (*Report, error) {
	data := report.Data{
		Session:   req.Session,
		Narrative: narrative,
		Contexts:  req.Contexts,
	}
	if req.Analysis != nil {
		data.Stats = req.Analysis.Stats
	}
	if req.Visuals != nil {
		data.Charts = req.Visuals.Charts
	}

	mdPath, htmlPath, err := p.report.Write(ctx, data, req.ArtifactsDir)
	if err != nil {
		return nil, toolErr(CapabilityReport, err)
	}
	return &Report{
		MarkdownPath: mdPath,
		HTMLPath:     htmlPath,
		Narrative:    narrative,
		Insights:     p.synthesizedInsights(req),
	}, nil
}

func validateReportRequest(req ReportRequest) error {
	if req.Session == nil {
		return fmt.Errorf("report request has no session")
	}
	if req.Dataset == nil {
		return fmt.Errorf("report request has no dataset")
	}
	if req.ArtifactsDir == "" {
		return fmt.Errorf("report request has no artifacts dir")
	}
	return nil
}

// localNarrative composes the deterministic summary paragraph from whatever
// the analysis phase produced.
func (p *LocalProvider) localNarrative(req ReportRequest) string {
	sentences := []string{fmt.Sprintf("Automated analysis of %s covered %d rows across %d columns.",
		req.Dataset.Name(), req.Dataset.Rows(), len(req.Dataset.Schema().Columns))}

	if pair, ok := strongestCorrelation(req.Analysis, p.strong); ok {
		direction := "positively"
		if pair.R < 0 {
			direction = "negatively"
		}
		sentences = append(sentences, fmt.Sprintf("%s and %s are %s correlated (r=%.2f).", pair.A, pair.B, direction, pair.R))
	}
	if req.Analysis != nil && req.Analysis.Stats != nil {
		for _, tr := range req.Analysis.Stats.Trends {
			if tr.Direction == stats.TrendFlat {
				continue
			}
			sentences = append(sentences, fmt.Sprintf("%s trends %s over %s.", tr.Column, tr.Direction, tr.DateColumn))
			break
		}
		if n := len(req.Analysis.Stats.Outliers); n > 0 {
			sentences = append(sentences, fmt.Sprintf("Unusual values appear in %d column(s).", n))
		}
	}
	if req.Visuals != nil && len(req.Visuals.Charts) > 0 {
		sentences = append(sentences, fmt.Sprintf("%d chart(s) accompany the findings.", len(req.Visuals.Charts)))
	}
	if len(req.Contexts) > 0 {
		sentences = append(sentences, fmt.Sprintf("Results were compared against %d prior session(s) of similar shape.", len(req.Contexts)))
	}
	return strings.Join(sentences, " ")
}

// synthesizedInsights derives the report-level insights, one per report
// concern: coverage, the dominant relationship, and the memory appendix.
func (p *LocalProvider) synthesizedInsights(req ReportRequest) []insight.Insight {
	statN, visN := 0, 0
	if req.Analysis != nil {
		statN = len(req.Analysis.Insights)
	}
	if req.Visuals != nil {
		visN = len(req.Visuals.Insights)
	}

	out := []insight.Insight{insight.New(
		fmt.Sprintf("analysis of %s yielded %d statistical and %d visual findings", req.Dataset.Name(), statN, visN),
		synthesizedConfidence, insight.SourceSynthesized, insight.CategorySummary,
	)}

	if pair, ok := strongestCorrelation(req.Analysis, p.strong); ok {
		out = append(out, insight.New(
			fmt.Sprintf("the dominant relationship links %s and %s (r=%.2f)", pair.A, pair.B, pair.R),
			synthesizedConfidence, insight.SourceSynthesized, insight.CategoryCorrelation,
		))
	}
	if len(req.Contexts) > 0 {
		ins := insight.New(
			fmt.Sprintf("findings were cross-checked against %d prior session(s)", len(req.Contexts)),
			synthesizedConfidence, insight.SourceSynthesized, insight.CategorySummary,
		)
		ins.MemoryInfluenced = true
		out = append(out, ins)
	}
	return out
}

// strongestCorrelation picks the strong pair with the largest |r|.
func strongestCorrelation(a *Analysis, threshold float64) (stats.CorrelationPair, bool) {
	if a == nil || a.Stats == nil {
		return stats.CorrelationPair{}, false
	}
	var best stats.CorrelationPair
	found := false
	for _, pair := range a.Stats.Correlations {
		if !pair.Strong(threshold) {
			continue
		}
		if !found || math.Abs(pair.R) > math.Abs(best.R) {
			best = pair
			found = true
		}
	}
	return best, found
}

// markInfluenced flags insights whose pattern key already appears in the
// retrieved contexts. Returns how many were flagged.
func markInfluenced(insights []insight.Insight, contexts []memory.RetrievedContext) int {
	if len(contexts) == 0 {
		return 0
	}
	known := make(map[string]bool)
	for _, rc := range contexts {
		for _, ins := range rc.Insights {
			if ins.PatternKey != "" {
				known[ins.PatternKey] = true
			}
		}
	}
	if len(known) == 0 {
		return 0
	}

	n := 0
	for i := range insights {
		if insights[i].PatternKey != "" && known[insights[i].PatternKey] {
			insights[i].MemoryInfluenced = true
			n++
		}
	}
	return n
}

var _ Provider = (*LocalProvider)(nil)
