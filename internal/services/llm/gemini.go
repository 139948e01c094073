package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"google.golang.org/genai"

	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/common"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/interfaces"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/services/secrets"
)

// GeminiProvider generates text through the Google Gemini API.
type GeminiProvider struct {
	client      *genai.Client
	model       string
	maxTokens   int
	temperature float32
	timeout     time.Duration
	logger      arbor.ILogger
}

// NewGeminiProvider resolves the API key and initializes the client.
func NewGeminiProvider(ctx context.Context, config *common.LLMConfig, secretCache interfaces.SecretSource, logger arbor.ILogger) (*GeminiProvider, error) {
	apiKey, err := secretCache.Get(ctx, secrets.NameLLMAPIKey)
	if err != nil {
		return nil, fmt.Errorf("Gemini API key is required: %w", err)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := stripProviderPrefix(config.Model)
	if model == "" {
		model = "gemini-2.5-flash"
	}
	maxTokens := config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	provider := &GeminiProvider{
		client:      client,
		model:       model,
		maxTokens:   maxTokens,
		temperature: config.Temperature,
		timeout:     parseTimeoutOr(config.Timeout, 5*time.Minute),
		logger:      logger,
	}

	logger.Debug().
		Str("model", model).
		Int("max_tokens", maxTokens).
		Msg("Gemini provider initialized")
	return provider, nil
}

// GenerateText runs one completion with cancellation flowing into the SDK
// call.
func (p *GeminiProvider) GenerateText(ctx context.Context, req *interfaces.GenerateRequest) (*interfaces.GenerateResult, error) {
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

	genConfig := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(temperature),
		MaxOutputTokens: int32(maxTokens),
	}
	if req.System != "" {
		genConfig.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	contents := []*genai.Content{
		genai.NewContentFromText(req.Prompt, genai.RoleUser),
	}

	startTime := time.Now()
	resp, err := p.client.Models.GenerateContent(timeoutCtx, model, contents, genConfig)
	if err != nil {
		return nil, fmt.Errorf("Gemini API call failed: %w", err)
	}

	var text strings.Builder
	if resp != nil {
		for _, candidate := range resp.Candidates {
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					text.WriteString(part.Text)
				}
			}
			if text.Len() > 0 {
				break
			}
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("no text in Gemini response")
	}

	p.logger.Debug().
		Str("model", model).
		Int("response_length", text.Len()).
		Dur("duration", time.Since(startTime)).
		Msg("Gemini generation completed")

	return &interfaces.GenerateResult{
		Text:     text.String(),
		Model:    model,
		Provider: string(ProviderGemini),
	}, nil
}

// ProviderName identifies the provider in logs and run metadata.
func (p *GeminiProvider) ProviderName() string { return string(ProviderGemini) }

// Close releases the client reference; the genai client needs no explicit
// shutdown.
func (p *GeminiProvider) Close() error {
	p.client = nil
	return nil
}
