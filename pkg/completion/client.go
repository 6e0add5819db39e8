package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/teslashibe/go-nao/internal/httpc"
)

const providerOpenAI = "openai"

// Client calls an OpenAI-compatible legacy completions endpoint
// (POST {base}/completions).
type Client struct {
	baseURL string
	apiKey  string
	config  *Config
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a completions client. An API key is required.
func NewClient(opts ...Option) (*Client, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if cfg.APIKey == "" {
		return nil, WrapError(providerOpenAI, ErrNoAPIKey)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = httpc.NewClient(cfg.Timeout)
	}

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		config:  cfg,
		http:    hc,
		logger:  cfg.Logger.With("component", "completion.client"),
	}, nil
}

func (c *Client) Name() string { return providerOpenAI }

// Complete generates a completion for req.Prompt.
func (c *Client) Complete(ctx context.Context, req *Request) (*Response, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, WrapError(providerOpenAI, ErrEmptyPrompt)
	}
	start := time.Now()

	model := req.Model
	if model == "" {
		model = c.config.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.config.MaxTokens
	}

	body := completionRequest{
		Model:     model,
		Prompt:    req.Prompt,
		MaxTokens: maxTokens,
	}
	if c.config.Temperature > 0 {
		body.Temperature = &c.config.Temperature
	}

	var result completionResponse
	if err := c.send(ctx, "/completions", body, &result); err != nil {
		return nil, err
	}
	if len(result.Choices) == 0 {
		return nil, WrapError(providerOpenAI, fmt.Errorf("no choices returned"))
	}

	choice := result.Choices[0]
	c.logger.Debug("completion", "model", result.Model, "finish", choice.FinishReason,
		"tokens", result.Usage.TotalTokens, "latency", time.Since(start))
	return &Response{
		Text:         choice.Text,
		Model:        result.Model,
		Provider:     providerOpenAI,
		FinishReason: choice.FinishReason,
		Usage:        result.Usage,
		LatencyMs:    time.Since(start).Milliseconds(),
	}, nil
}

// send posts body to path and decodes a 200 response into out.
// Transport errors, 429 and 5xx are retried with linear backoff.
func (c *Client) send(ctx context.Context, path string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return WrapError(providerOpenAI, fmt.Errorf("encode request: %w", err))
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.config.RetryDelay * time.Duration(attempt)):
			}
		}

		retry, err := c.attempt(ctx, path, data, out)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
		if !retry {
			return err
		}
		c.logger.Warn("completion attempt failed", "attempt", attempt+1, "error", err)
	}
	return lastErr
}

// attempt performs one request. It reports whether a failure may be retried.
func (c *Client) attempt(ctx context.Context, path string, data []byte, out any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return false, WrapError(providerOpenAI, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return true, WrapError(providerOpenAI, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiErr := decodeError(resp)
		return apiErr.IsRetryable(), apiErr
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, WrapError(providerOpenAI, fmt.Errorf("decode response: %w", err))
	}
	return false, nil
}

// decodeError turns a non-200 response into an *APIError, using the
// {"error": {...}} body when present.
func decodeError(resp *http.Response) *APIError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var body struct {
		Error struct {
			Message string `json:"message"`
			Code    any    `json:"code"`
		} `json:"error"`
	}
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw)), Provider: providerOpenAI}
	if json.Unmarshal(raw, &body) == nil && body.Error.Message != "" {
		apiErr.Message = body.Error.Message
		if body.Error.Code != nil {
			apiErr.Code = fmt.Sprint(body.Error.Code)
		}
	}
	return apiErr
}

type completionRequest struct {
	Model       string   `json:"model"`
	Prompt      string   `json:"prompt"`
	MaxTokens   int      `json:"max_tokens"`
	Temperature *float64 `json:"temperature,omitempty"`
}

type completionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Text         string `json:"text"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

var _ Provider = (*Client)(nil)
