package models

import (
	"strings"
	"time"
)

// TestSymbolPrefix marks test targets. Signals derived from test articles
// route only to targets whose symbol carries this prefix; the production
// pipeline never consumes test-marked rows.
const TestSymbolPrefix = "T_"

// Target is a predictable entity (ticker, symbol) within a universe.
type Target struct {
	ID         string     `json:"id"`
	UniverseID string     `json:"universe_id"`
	Symbol     string     `json:"symbol"`
	Name       string     `json:"name"`
	TargetType string     `json:"target_type"` // "stock", "crypto", ...
	IsActive   bool       `json:"is_active"`
	LLMConfig  *LLMConfig `json:"llm_config,omitempty"` // per-target tier override
	CreatedAt  time.Time  `json:"created_at"`
}

// IsTest reports whether the target is a test mirror.
func (t *Target) IsTest() bool {
	return strings.HasPrefix(t.Symbol, TestSymbolPrefix)
}

// IsCrypto reports whether the target's symbol looks like a crypto pair.
// Crypto position quantities round to 1e-8; stocks round to whole shares.
func (t *Target) IsCrypto() bool {
	s := strings.ToUpper(t.Symbol)
	for _, suffix := range []string{"USD", "USDT", "BTC", "ETH"} {
		if strings.HasSuffix(s, suffix) {
			return true
		}
	}
	return strings.ContainsAny(s, "-/")
}

// LLMConfig overrides the (provider, model) pair for a tier scope.
// Resolution precedence: target → universe → agent → built-in default.
type LLMConfig struct {
	Provider string `json:"provider" yaml:"provider"`
	Model    string `json:"model" yaml:"model"`
}

// TargetSnapshot is the latest observed market state for a target.
// Used to enrich Tier 3 prompts and to price positions.
type TargetSnapshot struct {
	TargetID     string    `json:"target_id"`
	Open         float64   `json:"open"`
	High         float64   `json:"high"`
	Low          float64   `json:"low"`
	Close        float64   `json:"close"`
	Volume       float64   `json:"volume"`
	Change24hPct float64   `json:"change_24h_pct"`
	PricedAt     time.Time `json:"priced_at"`
}
