// Package llm is the gateway between the pipeline and upstream language
// models: tier resolution, prompt dispatch, usage accounting, and quota
// enforcement with silent local fallback.
package llm

import "context"

// GenerateOptions carries per-call parameters to a provider.
type GenerateOptions struct {
	Model     string
	MaxTokens int
	// ExecutionContext labels the call for provider-side attribution,
	// formatted "operation:analyst_slug:fork_type".
	ExecutionContext string
}

// Response is a provider's reply.
type Response struct {
	Content      string
	Model        string
	Provider     string
	InputTokens  int64
	OutputTokens int64
}

// Provider is the single capability abstracting concrete LLM backends.
type Provider interface {
	// Name returns the registry name of the provider.
	Name() string
	// IsLocal reports whether calls to this provider are free of external
	// spend (excluded from usage accounting, exempt from the limiter).
	IsLocal() bool
	GenerateResponse(ctx context.Context, systemPrompt, userPrompt string, opts GenerateOptions) (*Response, error)
}
