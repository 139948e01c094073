package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"

	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/common"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/interfaces"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/services/secrets"
)

// ClaudeProvider generates text through the Anthropic API.
type ClaudeProvider struct {
	client      anthropic.Client
	model       string
	maxTokens   int
	temperature float32
	timeout     time.Duration
	logger      arbor.ILogger
}

// NewClaudeProvider resolves the API key and initializes the client.
func NewClaudeProvider(ctx context.Context, config *common.LLMConfig, secretCache interfaces.SecretSource, logger arbor.ILogger) (*ClaudeProvider, error) {
	apiKey, err := secretCache.Get(ctx, secrets.NameLLMAPIKey)
	if err != nil {
		return nil, fmt.Errorf("Anthropic API key is required: %w", err)
	}

	model := stripProviderPrefix(config.Model)
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	maxTokens := config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	provider := &ClaudeProvider{
		client:      anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:       model,
		maxTokens:   maxTokens,
		temperature: config.Temperature,
		timeout:     parseTimeoutOr(config.Timeout, 5*time.Minute),
		logger:      logger,
	}

	logger.Debug().
		Str("model", model).
		Int("max_tokens", maxTokens).
		Msg("Claude provider initialized")
	return provider, nil
}

// GenerateText runs one completion. The request context flows into the SDK
// call, so cancellation aborts the in-flight HTTP request.
func (p *ClaudeProvider) GenerateText(ctx context.Context, req *interfaces.GenerateRequest) (*interfaces.GenerateResult, error) {
	if req.Prompt == "" {
		return nil, fmt.Errorf("prompt cannot be empty")
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	model := p.model
	if req.Model != "" {
		model = stripProviderPrefix(req.Model)
	}
	maxTokens := p.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	temperature := p.temperature
	if req.Temperature > 0 {
		temperature = req.Temperature
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if temperature > 0 {
		params.Temperature = anthropic.Float(float64(temperature))
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	startTime := time.Now()
	resp, err := p.client.Messages.New(timeoutCtx, params)
	if err != nil {
		return nil, fmt.Errorf("Claude API call failed: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("no text in Claude response")
	}

	p.logger.Debug().
		Str("model", model).
		Int("response_length", text.Len()).
		Dur("duration", time.Since(startTime)).
		Msg("Claude generation completed")

	return &interfaces.GenerateResult{
		Text:     text.String(),
		Model:    model,
		Provider: string(ProviderClaude),
	}, nil
}

// ProviderName identifies the provider in logs and run metadata.
func (p *ClaudeProvider) ProviderName() string { return string(ProviderClaude) }

// Close releases nothing; the SDK client holds no persistent resources.
func (p *ClaudeProvider) Close() error { return nil }
