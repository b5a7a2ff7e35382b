package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/foresight-labs/foresight/pkg/config"
	"github.com/foresight-labs/foresight/pkg/models"
	"github.com/foresight-labs/foresight/pkg/resilience"
	"github.com/foresight-labs/foresight/pkg/store"
)

// LocalProviderName is the registry name of the no-spend fallback provider.
const LocalProviderName = "local"

// GenerateRequest is one prompt dispatch through the gateway.
type GenerateRequest struct {
	Tier         config.Tier
	Target       *models.Target
	Analyst      *models.Analyst
	UniverseID   string
	SystemPrompt string
	UserPrompt   string

	// Attribution fields, combined into the usage label
	// "operation:analyst_slug:fork_type".
	Operation   string
	AnalystSlug string
	ForkType    models.ForkType
}

// Label returns the usage attribution label for the request.
func (r *GenerateRequest) Label() string {
	return fmt.Sprintf("%s:%s:%s", r.Operation, r.AnalystSlug, r.ForkType)
}

// Gateway resolves tiers, enforces the usage limiter, dispatches prompts
// through the resilience layer, and records usage. When the limiter denies a
// hosted provider the gateway silently swaps to the local provider; callers
// downstream are unaffected.
type Gateway struct {
	providers map[string]Provider
	resolver  *TierResolver
	limiter   *UsageLimiter
	usage     store.UsageRepository
	executor  *resilience.Executor
	now       func() time.Time
}

// NewGateway wires the gateway. The providers map must contain every
// provider named by the tier map plus the local fallback.
func NewGateway(providers map[string]Provider, resolver *TierResolver, limiter *UsageLimiter, usage store.UsageRepository, executor *resilience.Executor) *Gateway {
	if len(providers) == 0 {
		panic("NewGateway: providers must not be empty")
	}
	if resolver == nil {
		panic("NewGateway: resolver must not be nil")
	}
	if limiter == nil {
		panic("NewGateway: limiter must not be nil")
	}
	if usage == nil {
		panic("NewGateway: usage must not be nil")
	}
	if executor == nil {
		panic("NewGateway: executor must not be nil")
	}
	return &Gateway{
		providers: providers,
		resolver:  resolver,
		limiter:   limiter,
		usage:     usage,
		executor:  executor,
		now:       time.Now,
	}
}

// Resolver exposes tier resolution for snapshot metadata.
func (g *Gateway) Resolver() *TierResolver { return g.resolver }

// Generate dispatches one prompt. Returns the provider response; transport
// failures bubble up through the resilience layer with the last underlying
// error unchanged.
func (g *Gateway) Generate(ctx context.Context, req GenerateRequest) (*Response, error) {
	pair := g.resolver.Resolve(req.Tier, req.Target, req.Analyst)
	provider, ok := g.providers[pair.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", config.ErrProviderNotFound, pair.Provider)
	}
	model := pair.Model

	estimated := EstimateTokens(req.SystemPrompt, req.UserPrompt)
	decision := g.limiter.CanUseTokens(ctx, req.UniverseID, estimated, provider)
	if !decision.Allowed {
		local, ok := g.providers[LocalProviderName]
		if !ok {
			// No local provider wired; surface the quota denial as-is.
			return nil, resilience.Permanent(fmt.Errorf("usage limit reached and no local fallback: %s", decision.Reason))
		}
		slog.Info("Usage limit reached, falling back to local provider",
			"universe_id", req.UniverseID,
			"denied_provider", provider.Name(),
			"reason", decision.Reason)
		provider = local
		model = g.limiter.LocalFallbackModel()
	}

	service := "llm:" + provider.Name()
	resp, err := resilience.Do(ctx, g.executor, service, req.Operation, nil, func(ctx context.Context) (*Response, error) {
		return provider.GenerateResponse(ctx, req.SystemPrompt, req.UserPrompt, GenerateOptions{
			Model:            model,
			ExecutionContext: req.Label(),
		})
	})
	if err != nil {
		return nil, err
	}

	g.recordUsage(ctx, req, resp, estimated)
	return resp, nil
}

// recordUsage writes the accounting row. Local-provider calls are excluded;
// accounting failures are logged, never surfaced.
func (g *Gateway) recordUsage(ctx context.Context, req GenerateRequest, resp *Response, estimatedInput int64) {
	provider, ok := g.providers[resp.Provider]
	if ok && provider.IsLocal() {
		return
	}

	input := resp.InputTokens
	output := resp.OutputTokens
	if input == 0 {
		input = estimatedInput
	}
	if output == 0 {
		output = EstimateOutputTokens(input)
	}

	rec := store.UsageRecord{
		UniverseID:   req.UniverseID,
		Label:        req.Label(),
		Provider:     resp.Provider,
		Model:        resp.Model,
		InputTokens:  input,
		OutputTokens: output,
		RecordedAt:   g.now().UTC(),
	}
	if err := g.usage.Record(ctx, rec); err != nil {
		slog.Warn("Failed to record LLM usage",
			"universe_id", req.UniverseID,
			"label", rec.Label,
			"error", err)
	}
}
