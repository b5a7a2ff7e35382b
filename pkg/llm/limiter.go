package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/foresight-labs/foresight/pkg/config"
	"github.com/foresight-labs/foresight/pkg/store"
)

// LimitDecision is the limiter's answer for one prospective call.
type LimitDecision struct {
	Allowed bool
	Reason  string
}

// UsageLimiter throttles LLM spend per universe against a daily token
// budget. Local providers are always allowed and never accounted.
type UsageLimiter struct {
	cfg   *config.UsageLimitConfig
	usage store.UsageRepository
	now   func() time.Time
}

// NewUsageLimiter creates a limiter over the usage repository.
func NewUsageLimiter(cfg *config.UsageLimitConfig, usage store.UsageRepository) *UsageLimiter {
	if cfg == nil {
		cfg = config.DefaultUsageLimitConfig()
	}
	if usage == nil {
		panic("NewUsageLimiter: usage must not be nil")
	}
	return &UsageLimiter{cfg: cfg, usage: usage, now: time.Now}
}

// CanUseTokens decides whether a universe may spend the estimated tokens on
// the named provider. A repository failure fails open: a broken accounting
// store must not stall the pipeline.
func (l *UsageLimiter) CanUseTokens(ctx context.Context, universeID string, estimatedTokens int64, provider Provider) LimitDecision {
	if provider.IsLocal() {
		return LimitDecision{Allowed: true}
	}
	if l.cfg.DailyTokenBudget <= 0 {
		return LimitDecision{Allowed: true}
	}

	used, err := l.usage.TokensSince(ctx, universeID, startOfUTCDay(l.now()))
	if err != nil {
		slog.Warn("Usage lookup failed, allowing call", "universe_id", universeID, "error", err)
		return LimitDecision{Allowed: true}
	}

	// Budget the estimated input plus the assumed output.
	projected := used + estimatedTokens + EstimateOutputTokens(estimatedTokens)
	if projected > l.cfg.DailyTokenBudget {
		return LimitDecision{
			Allowed: false,
			Reason: fmt.Sprintf("daily token budget exceeded: used %d of %d, requested %d",
				used, l.cfg.DailyTokenBudget, estimatedTokens),
		}
	}
	return LimitDecision{Allowed: true}
}

// LocalFallbackModel returns the model identifier to use on the local
// provider when the limiter denies a hosted call.
func (l *UsageLimiter) LocalFallbackModel() string {
	return l.cfg.LocalFallbackModel
}

func startOfUTCDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
