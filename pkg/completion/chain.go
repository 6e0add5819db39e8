package completion

import (
	"context"
	"log/slog"
	"strings"

	"github.com/teslashibe/go-nao/internal/log"
)

// Chain tries multiple providers in order until one succeeds.
type Chain struct {
	providers []Provider
	logger    *slog.Logger
}

// NewChain creates a provider chain. At least one provider is required.
func NewChain(providers ...Provider) (*Chain, error) {
	if len(providers) == 0 {
		return nil, ErrProviderUnavailable
	}
	return &Chain{
		providers: providers,
		logger:    log.For("completion.chain"),
	}, nil
}

// Name lists the chained providers, e.g. "openai>gemini".
func (c *Chain) Name() string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return strings.Join(names, ">")
}

// Complete tries each provider until one succeeds.
func (c *Chain) Complete(ctx context.Context, req *Request) (*Response, error) {
	var errs []error

	for i, p := range c.providers {
		resp, err := p.Complete(ctx, req)
		if err == nil {
			if i > 0 {
				c.logger.Info("fallback provider succeeded", "provider", p.Name())
			}
			return resp, nil
		}

		errs = append(errs, err)
		c.logger.Warn("provider failed, trying next", "provider", p.Name(), "error", err)

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, &ChainError{Errors: errs}
}

// Providers returns the list of providers in the chain.
func (c *Chain) Providers() []Provider {
	return c.providers
}

var _ Provider = (*Chain)(nil)
