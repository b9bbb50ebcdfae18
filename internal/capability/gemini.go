package capability

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/fyrsmithlabs/insightd/internal/config"
)

// geminiClient generates narratives through the Gemini API. Transport-level
// retries are left to the SDK; the provider degrades to the local narrative
// on failure.
type geminiClient struct {
	client  *genai.Client
	model   string
	limiter *rate.Limiter
}

func newGeminiClient(ctx context.Context, cfg config.SynthesisConfig) (*geminiClient, error) {
	if !cfg.APIKey.IsSet() {
		return nil, fmt.Errorf("gemini API key required")
	}

	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey.Value(),
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}

	return &geminiClient{
		client:  gc,
		model:   model,
		limiter: newLimiter(cfg),
	}, nil
}

func (g *geminiClient) Name() string { return config.SynthesisGemini }

// Generate sends the prompt to the Gemini API and concatenates the text
// parts of the first candidate.
func (g *geminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	contents := []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{{Text: prompt}},
	}}

	temp := float32(0.3)
	genCfg := &genai.GenerateContentConfig{
		MaxOutputTokens: defaultMaxTokens,
		Temperature:     &temp,
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: narrativePrompt}},
		},
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, genCfg)
	if err != nil {
		return "", fmt.Errorf("gemini: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("gemini: empty response")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		text.WriteString(part.Text)
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("gemini: no text in response")
	}
	return text.String(), nil
}

var _ textClient = (*geminiClient)(nil)
