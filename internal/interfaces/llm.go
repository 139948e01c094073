package interfaces

import "context"

// GenerateRequest is a provider-agnostic text generation request.
type GenerateRequest struct {
	System      string  // System instruction
	Prompt      string  // User prompt
	Model       string  // Optional override of the configured model
	MaxTokens   int     // 0 uses the provider default
	Temperature float32 // 0 uses the provider default
}

// GenerateResult is a provider-agnostic generation response.
type GenerateResult struct {
	Text     string
	Model    string
	Provider string
}

// LLMProvider generates text. Implementations must honor context
// cancellation by aborting the in-flight HTTP call; the research batch relies
// on that for prompt cancellation.
type LLMProvider interface {
	GenerateText(ctx context.Context, req *GenerateRequest) (*GenerateResult, error)
	ProviderName() string
	Close() error
}
