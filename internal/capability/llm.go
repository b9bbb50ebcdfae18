package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/insightd/internal/config"
)

// Default backend settings, used when the synthesis configuration leaves
// them unset.
const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultAnthropicModel   = "claude-3-5-haiku-20241022"
	defaultOpenAIBaseURL    = "https://api.openai.com"
	defaultOpenAIModel      = "gpt-4o-mini"
	defaultGeminiModel      = "gemini-2.0-flash"

	defaultMaxTokens         = 1024
	defaultTimeout           = 30 * time.Second
	defaultBaseBackoff       = 1 * time.Second
	defaultRequestsPerMinute = 60
	defaultBurst             = 5
)

// narrativePrompt instructs the backend to write the report summary.
const narrativePrompt = `You are a data analyst writing the summary paragraph of an automated analysis report.

Write one plain-text paragraph of three to five sentences covering the dataset and the findings listed by the user. Be factual and specific: name the columns involved and quote the numbers given. Never invent findings that are not listed. No markdown, no headings, no bullet points.`

// textClient generates the report narrative from a prompt.
type textClient interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Name() string
}

// buildNarrativePrompt lists the dataset shape and the findings for the
// backend to summarize.
func buildNarrativePrompt(req ReportRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Dataset: %s (%d rows)\n", req.Dataset.Name(), req.Dataset.Rows())

	b.WriteString("Columns:\n")
	for _, col := range req.Dataset.Schema().Columns {
		fmt.Fprintf(&b, "- %s (%s)\n", col.Name, col.Type)
	}

	b.WriteString("\nFindings:\n")
	found := false
	if req.Analysis != nil {
		for _, ins := range req.Analysis.Insights {
			fmt.Fprintf(&b, "- [confidence %.2f] %s\n", ins.Confidence, ins.Text)
			found = true
		}
	}
	if req.Visuals != nil {
		for _, ins := range req.Visuals.Insights {
			fmt.Fprintf(&b, "- [confidence %.2f] %s\n", ins.Confidence, ins.Text)
			found = true
		}
	}
	if !found {
		b.WriteString("- none\n")
	}

	if len(req.Contexts) > 0 {
		fmt.Fprintf(&b, "\nPrior sessions consulted: %d\n", len(req.Contexts))
	}
	return b.String()
}

// newTextClient builds the backend selected by the synthesis configuration.
// The context is only used to construct the gemini SDK client.
func newTextClient(ctx context.Context, cfg config.SynthesisConfig) (textClient, error) {
	switch cfg.Provider {
	case config.SynthesisAnthropic:
		return newAnthropicClient(cfg)
	case config.SynthesisOpenAI:
		return newOpenAIClient(cfg)
	case config.SynthesisGemini:
		return newGeminiClient(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown synthesis provider: %s", cfg.Provider)
	}
}

func newLimiter(cfg config.SynthesisConfig) *rate.Limiter {
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = defaultRequestsPerMinute
	}
	return rate.NewLimiter(rate.Limit(float64(rpm)/60.0), defaultBurst)
}

func clientTimeout(cfg config.SynthesisConfig) time.Duration {
	if d := cfg.Timeout.Duration(); d > 0 {
		return d
	}
	return defaultTimeout
}

// anthropicClient generates narratives through the Anthropic Messages API.
type anthropicClient struct {
	model       string
	apiKey      string `json:"-"` // Never serialize API keys
	baseURL     string
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxRetries  int
	baseBackoff time.Duration
}

func newAnthropicClient(cfg config.SynthesisConfig) (*anthropicClient, error) {
	if !cfg.APIKey.IsSet() {
		return nil, fmt.Errorf("anthropic API key required")
	}

	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}

	return &anthropicClient{
		model:       model,
		apiKey:      cfg.APIKey.Value(),
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: clientTimeout(cfg)},
		limiter:     newLimiter(cfg),
		maxRetries:  cfg.MaxRetries,
		baseBackoff: defaultBaseBackoff,
	}, nil
}

func (c *anthropicClient) Name() string { return config.SynthesisAnthropic }

// Generate sends the prompt to the Messages API, retrying transient
// failures with exponential backoff.
func (c *anthropicClient) Generate(ctx context.Context, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	req := anthropicRequest{
		Model:       c.model,
		MaxTokens:   defaultMaxTokens,
		Temperature: 0.3,
		System:      narrativePrompt,
		Messages: []anthropicMessage{
			{Role: "user", Content: prompt},
		},
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.baseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		text, err := c.doRequest(ctx, req)
		if err == nil {
			return text, nil
		}

		lastErr = err
		if !isRetryable(err) {
			return "", err
		}
	}

	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *anthropicClient) doRequest(ctx context.Context, req anthropicRequest) (string, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/messages", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", c.apiKey)
	httpReq.Header.Set("Anthropic-Version", "2023-06-01")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", &retryableError{err: fmt.Errorf("API request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &retryableError{err: fmt.Errorf("rate limited (429)")}
	}
	if resp.StatusCode >= 500 {
		return "", &retryableError{err: fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))}
	}
	if resp.StatusCode != http.StatusOK {
		var errResp anthropicError
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
			return "", fmt.Errorf("API error (%d): %s", resp.StatusCode, errResp.Error.Message)
		}
		return "", fmt.Errorf("API error (%d): %s", resp.StatusCode, string(body))
	}

	var msgResp anthropicResponse
	if err := json.Unmarshal(body, &msgResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(msgResp.Content) == 0 {
		return "", fmt.Errorf("empty response from API")
	}
	return msgResp.Content[0].Text, nil
}

// anthropicRequest is the Messages API request body.
type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	Temperature float64            `json:"temperature"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
}

type anthropicError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// openAIClient generates narratives through the Chat Completions API.
type openAIClient struct {
	model       string
	apiKey      string `json:"-"` // Never serialize API keys
	baseURL     string
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxRetries  int
	baseBackoff time.Duration
}

func newOpenAIClient(cfg config.SynthesisConfig) (*openAIClient, error) {
	if !cfg.APIKey.IsSet() {
		return nil, fmt.Errorf("openai API key required")
	}

	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}

	return &openAIClient{
		model:       model,
		apiKey:      cfg.APIKey.Value(),
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: clientTimeout(cfg)},
		limiter:     newLimiter(cfg),
		maxRetries:  cfg.MaxRetries,
		baseBackoff: defaultBaseBackoff,
	}, nil
}

func (c *openAIClient) Name() string { return config.SynthesisOpenAI }

// Generate sends the prompt to the Chat Completions API, retrying transient
// failures with exponential backoff.
func (c *openAIClient) Generate(ctx context.Context, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	req := openAIRequest{
		Model:       c.model,
		MaxTokens:   defaultMaxTokens,
		Temperature: 0.3,
		Messages: []openAIMessage{
			{Role: "system", Content: narrativePrompt},
			{Role: "user", Content: prompt},
		},
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.baseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		text, err := c.doRequest(ctx, req)
		if err == nil {
			return text, nil
		}

		lastErr = err
		if !isRetryable(err) {
			return "", err
		}
	}

	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *openAIClient) doRequest(ctx context.Context, req openAIRequest) (string, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", &retryableError{err: fmt.Errorf("API request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &retryableError{err: fmt.Errorf("rate limited (429)")}
	}
	if resp.StatusCode >= 500 {
		return "", &retryableError{err: fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))}
	}
	if resp.StatusCode != http.StatusOK {
		var errResp openAIError
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
			return "", fmt.Errorf("API error (%d): %s", resp.StatusCode, errResp.Error.Message)
		}
		return "", fmt.Errorf("API error (%d): %s", resp.StatusCode, string(body))
	}

	var chatResp openAIResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("empty response from API")
	}
	return chatResp.Choices[0].Message.Content, nil
}

// openAIRequest is the Chat Completions request body.
type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

type openAIError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// retryableError wraps an error the caller may retry.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }

func (e *retryableError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

var (
	_ textClient = (*anthropicClient)(nil)
	_ textClient = (*openAIClient)(nil)
)
