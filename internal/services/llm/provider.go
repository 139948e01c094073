// Package llm provides provider-agnostic text generation over the Anthropic
// and Gemini APIs. The provider is selected by model-string prefix, so
// switching providers is a config change, not a code change.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/common"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/interfaces"
)

// ProviderType identifies an AI provider.
type ProviderType string

const (
	ProviderClaude ProviderType = "claude"
	ProviderGemini ProviderType = "gemini"
)

// DetectProvider determines the provider from a model string. Explicit
// "claude/" or "gemini/" prefixes win; otherwise the bare model-name prefix
// decides. Unknown models default to Claude.
func DetectProvider(model string) ProviderType {
	model = strings.ToLower(strings.TrimSpace(model))
	switch {
	case strings.HasPrefix(model, "claude/"), strings.HasPrefix(model, "anthropic/"):
		return ProviderClaude
	case strings.HasPrefix(model, "gemini/"), strings.HasPrefix(model, "google/"):
		return ProviderGemini
	case strings.HasPrefix(model, "claude-"):
		return ProviderClaude
	case strings.HasPrefix(model, "gemini-"):
		return ProviderGemini
	}
	return ProviderClaude
}

// stripProviderPrefix removes an explicit "provider/" prefix so the bare
// model name reaches the API.
func stripProviderPrefix(model string) string {
	for _, prefix := range []string{"claude/", "anthropic/", "gemini/", "google/"} {
		if strings.HasPrefix(strings.ToLower(model), prefix) {
			return model[len(prefix):]
		}
	}
	return model
}

// NewProviderFromConfig builds the configured provider, wrapped in a
// process-wide rate limiter. The six research agents run concurrently; the
// limiter spaces their round-trips so one batch cannot trip provider quotas.
func NewProviderFromConfig(ctx context.Context, config *common.LLMConfig, secretCache interfaces.SecretSource, logger arbor.ILogger) (interfaces.LLMProvider, error) {
	var (
		provider interfaces.LLMProvider
		err      error
	)
	switch DetectProvider(config.Model) {
	case ProviderGemini:
		provider, err = NewGeminiProvider(ctx, config, secretCache, logger)
	default:
		provider, err = NewClaudeProvider(ctx, config, secretCache, logger)
	}
	if err != nil {
		return nil, err
	}

	interval := 1 * time.Second
	if config.RateLimit != "" {
		parsed, err := time.ParseDuration(config.RateLimit)
		if err != nil {
			return nil, fmt.Errorf("invalid llm rate_limit %q: %w", config.RateLimit, err)
		}
		interval = parsed
	}
	if interval <= 0 {
		return provider, nil
	}
	return &rateLimitedProvider{
		inner:   provider,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}, nil
}

// rateLimitedProvider spaces calls through the wrapped provider. Wait honors
// context cancellation, so a canceled research run never blocks on the
// limiter.
type rateLimitedProvider struct {
	inner   interfaces.LLMProvider
	limiter *rate.Limiter
}

func (p *rateLimitedProvider) GenerateText(ctx context.Context, req *interfaces.GenerateRequest) (*interfaces.GenerateResult, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return p.inner.GenerateText(ctx, req)
}

func (p *rateLimitedProvider) ProviderName() string { return p.inner.ProviderName() }

func (p *rateLimitedProvider) Close() error { return p.inner.Close() }

func parseTimeoutOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
