package completion

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/teslashibe/go-nao/internal/log"
)

// Config holds provider configuration.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string

	MaxTokens   int
	Temperature float64

	Timeout time.Duration

	MaxRetries int
	RetryDelay time.Duration

	// HTTPClient overrides the shared client built from Timeout.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// Option is a functional option for configuring providers.
type Option func(*Config)

// WithBaseURL sets the API base URL, e.g. "https://api.openai.com/v1".
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithModel sets the default model.
func WithModel(model string) Option {
	return func(c *Config) { c.Model = model }
}

// WithMaxTokens sets the default max tokens.
func WithMaxTokens(n int) Option {
	return func(c *Config) { c.MaxTokens = n }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *Config) { c.Temperature = t }
}

// WithTimeout sets the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithRetry configures retry behavior.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(c *Config) {
		c.MaxRetries = maxRetries
		c.RetryDelay = delay
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Config) { c.HTTPClient = hc }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns defaults for the OpenAI completions endpoint.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:     "https://api.openai.com/v1",
		Model:       "gpt-3.5-turbo-instruct",
		MaxTokens:   85,
		Temperature: 0.7,
		Timeout:     30 * time.Second,
		MaxRetries:  2,
		RetryDelay:  250 * time.Millisecond,
		Logger:      log.L(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}
