package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"
)

const providerGemini = "gemini"

// Gemini answers prompts through the Gemini API.
type Gemini struct {
	client *genai.Client
	config *Config
	logger *slog.Logger
}

// NewGemini creates a Gemini provider. BaseURL, when set, overrides the
// API endpoint.
func NewGemini(ctx context.Context, opts ...Option) (*Gemini, error) {
	cfg := DefaultConfig()
	cfg.BaseURL = ""
	cfg.Model = "gemini-2.0-flash"
	cfg.Apply(opts...)

	if cfg.APIKey == "" {
		return nil, WrapError(providerGemini, ErrNoAPIKey)
	}

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, WrapError(providerGemini, err)
	}

	return &Gemini{
		client: client,
		config: cfg,
		logger: cfg.Logger.With("component", "completion.gemini"),
	}, nil
}

func (g *Gemini) Name() string { return providerGemini }

// Complete generates text for req.Prompt.
func (g *Gemini) Complete(ctx context.Context, req *Request) (*Response, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, WrapError(providerGemini, ErrEmptyPrompt)
	}
	start := time.Now()

	model := req.Model
	if model == "" {
		model = g.config.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = g.config.MaxTokens
	}

	gc := &genai.GenerateContentConfig{MaxOutputTokens: int32(maxTokens)}
	if g.config.Temperature > 0 {
		gc.Temperature = genai.Ptr(float32(g.config.Temperature))
	}

	if g.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.config.Timeout)
		defer cancel()
	}

	resp, err := g.client.Models.GenerateContent(ctx, model, genai.Text(req.Prompt), gc)
	if err != nil {
		return nil, g.wrap(err)
	}

	text := resp.Text()
	if text == "" {
		return nil, WrapError(providerGemini, fmt.Errorf("no response content"))
	}

	out := &Response{
		Text:      text,
		Model:     model,
		Provider:  providerGemini,
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if len(resp.Candidates) > 0 {
		out.FinishReason = string(resp.Candidates[0].FinishReason)
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return out, nil
}

// wrap converts SDK errors to APIError so callers classify them the same
// way as the HTTP client's.
func (g *Gemini) wrap(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{StatusCode: apiErr.Code, Message: apiErr.Message, Code: apiErr.Status, Provider: providerGemini}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return &APIError{StatusCode: apiErrPtr.Code, Message: apiErrPtr.Message, Code: apiErrPtr.Status, Provider: providerGemini}
	}
	return WrapError(providerGemini, err)
}

var _ Provider = (*Gemini)(nil)
