package llms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/memkeep/memkeep/pkg/config"
)

// Chain tries a list of backends in order. Within a call, each model of
// each backend is tried exactly once; the first non-empty completion wins.
type Chain struct {
	providers []Provider
}

// NewChain builds the provider list from the configured backend order.
func NewChain(backends []config.LLMBackend) (*Chain, error) {
	var providers []Provider

	for _, b := range backends {
		if len(b.Models) == 0 {
			return nil, fmt.Errorf("backend %q has no models configured", b.Name)
		}
		for _, model := range b.Models {
			p, err := NewOpenAIProvider(OpenAIConfig{
				BaseURL: b.BaseURL,
				APIKey:  b.APIKey,
				Model:   model,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to create provider for backend %q model %q: %w", b.Name, model, err)
			}
			providers = append(providers, p)
		}
	}

	if len(providers) == 0 {
		return nil, fmt.Errorf("no LLM backends configured")
	}

	return &Chain{providers: providers}, nil
}

// NewChainFromProviders wraps an explicit provider list, ordered by priority.
func NewChainFromProviders(providers ...Provider) *Chain {
	return &Chain{providers: providers}
}

// Chat tries each provider once and returns the first successful completion.
// If every provider fails the error wraps ErrAllBackendsFailed.
func (c *Chain) Chat(ctx context.Context, messages []ChatMessage) (string, error) {
	var errs []error

	for _, p := range c.providers {
		out, err := p.Chat(ctx, messages)
		if err == nil {
			return out, nil
		}
		slog.Warn("LLM backend failed, trying next", "model", p.ModelName(), "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", p.ModelName(), err))

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}

	return "", fmt.Errorf("%w: %w", ErrAllBackendsFailed, errors.Join(errs...))
}

// ModelName returns the primary model of the chain.
func (c *Chain) ModelName() string {
	return c.providers[0].ModelName()
}

// Close closes every provider in the chain.
func (c *Chain) Close() error {
	var errs []error
	for _, p := range c.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Provider = (*Chain)(nil)

// ChatWithRetry wraps Chat in an exponential backoff loop of at most
// maxTries attempts. Context cancellation stops the retries immediately.
func ChatWithRetry(ctx context.Context, p Provider, messages []ChatMessage, maxTries int) (string, error) {
	if maxTries <= 0 {
		maxTries = 1
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 500 * time.Millisecond

	return backoff.Retry(ctx, func() (string, error) {
		out, err := p.Chat(ctx, messages)
		if err != nil && ctx.Err() != nil {
			return "", backoff.Permanent(err)
		}
		return out, err
	}, backoff.WithBackOff(expo), backoff.WithMaxTries(uint(maxTries)))
}
