package capability

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/insightd/internal/config"
	"github.com/fyrsmithlabs/insightd/internal/dataset"
	"github.com/fyrsmithlabs/insightd/internal/logging"
	"github.com/fyrsmithlabs/insightd/internal/memory"
)

// NewProvider builds the provider selected by configuration: the local
// provider alone, or wrapped with a model-backed narrative client. The
// context is only used while constructing backend clients.
func NewProvider(ctx context.Context, cfg config.CapabilitiesConfig, logger *logging.Logger) (Provider, error) {
	local := NewLocalProvider(cfg, logger)

	switch cfg.Synthesis.Provider {
	case "", config.SynthesisLocal:
		return local, nil
	case config.SynthesisAnthropic, config.SynthesisOpenAI, config.SynthesisGemini:
		client, err := newTextClient(ctx, cfg.Synthesis)
		if err != nil {
			return nil, fmt.Errorf("synthesis backend: %w", err)
		}
		return &LLMProvider{
			local:  local,
			client: client,
			logger: local.logger,
		}, nil
	default:
		return nil, fmt.Errorf("unknown synthesis provider %q", cfg.Synthesis.Provider)
	}
}

// LLMProvider runs the local capabilities but sources the report narrative
// from a model backend. A failing backend is advisory: the report falls
// back to the local narrative and the run continues.
type LLMProvider struct {
	local  *LocalProvider
	client textClient
	logger *logging.Logger
}

func (p *LLMProvider) Ingest(ctx context.Context, source string) (*dataset.Dataset, error) {
	return p.local.Ingest(ctx, source)
}

func (p *LLMProvider) AnalyzeStatistics(ctx context.Context, ds *dataset.Dataset, contexts []memory.RetrievedContext) (*Analysis, error) {
	return p.local.AnalyzeStatistics(ctx, ds, contexts)
}

func (p *LLMProvider) Visualize(ctx context.Context, ds *dataset.Dataset, contexts []memory.RetrievedContext, artifactsDir string) (*Visuals, error) {
	return p.local.Visualize(ctx, ds, contexts, artifactsDir)
}

// SynthesizeReport asks the backend for the narrative, falling back to the
// local one when the call fails or returns nothing usable.
func (p *LLMProvider) SynthesizeReport(ctx context.Context, req ReportRequest) (*Report, error) {
	if err := validateReportRequest(req); err != nil {
		return nil, toolErr(CapabilityReport, err)
	}

	narrative, err := p.client.Generate(ctx, buildNarrativePrompt(req))
	if err != nil {
		if ctx.Err() != nil {
			return nil, toolErr(CapabilityReport, ctx.Err())
		}
		p.logger.Warn(ctx, "model narrative failed, using local synthesis",
			zap.String("backend", p.client.Name()),
			zap.Error(err),
		)
		narrative = ""
	}

	narrative = strings.TrimSpace(narrative)
	if narrative == "" {
		narrative = p.local.localNarrative(req)
	}
	return p.local.composeReport(ctx, req, narrative)
}

var _ Provider = (*LLMProvider)(nil)
