package capability

import (
	"context"

	"github.com/fyrsmithlabs/insightd/internal/dataset"
	"github.com/fyrsmithlabs/insightd/internal/insight"
	"github.com/fyrsmithlabs/insightd/internal/memory"
	"github.com/fyrsmithlabs/insightd/internal/session"
	"github.com/fyrsmithlabs/insightd/internal/stats"
	"github.com/fyrsmithlabs/insightd/internal/viz"
)

// Capability names, used in errors, phase records, and logs.
const (
	CapabilityIngest        = "ingest"
	CapabilityStatistics    = "statistics"
	CapabilityVisualization = "visualization"
	CapabilityReport        = "report"
)

// Provider is the closed capability surface. All four calls are synchronous
// request/response from the coordinator's view; retries and rate limiting
// are internal to the provider.
type Provider interface {
	// Ingest loads and types a dataset from a CSV or JSON file. Failures
	// are IngestionError and fatal to a run.
	Ingest(ctx context.Context, source string) (*dataset.Dataset, error)

	// AnalyzeStatistics computes descriptive statistics, correlations,
	// outliers, and trends. Insights matching a pattern seen in the
	// retrieved contexts are flagged memory-influenced.
	AnalyzeStatistics(ctx context.Context, ds *dataset.Dataset, contexts []memory.RetrievedContext) (*Analysis, error)

	// Visualize renders charts under artifactsDir and derives one insight
	// per chart.
	Visualize(ctx context.Context, ds *dataset.Dataset, contexts []memory.RetrievedContext, artifactsDir string) (*Visuals, error)

	// SynthesizeReport assembles the markdown and HTML report from the
	// outputs of the analysis phase and returns the synthesized insights.
	SynthesizeReport(ctx context.Context, req ReportRequest) (*Report, error)
}

// Analysis is the statistics capability result: the structured findings
// plus the insights derived from them.
type Analysis struct {
	Stats    *stats.Result
	Insights []insight.Insight
}

// Visuals is the visualization capability result.
type Visuals struct {
	Charts   []viz.Chart
	Insights []insight.Insight
}

// ReportRequest carries the inputs of the synthesis phase. Analysis and
// Visuals may be nil when the corresponding analysis branch failed; the
// report is assembled from whatever completed.
type ReportRequest struct {
	Session      *session.Session
	Dataset      *dataset.Dataset
	Analysis     *Analysis
	Visuals      *Visuals
	Contexts     []memory.RetrievedContext
	ArtifactsDir string
}

// Report is the synthesis capability result.
type Report struct {
	MarkdownPath string
	HTMLPath     string
	Narrative    string
	Insights     []insight.Insight
}
