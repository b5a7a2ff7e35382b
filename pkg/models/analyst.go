package models

import "time"

// ForkType selects which context version is used for prompt construction and
// whether learnings are applied.
type ForkType string

const (
	ForkUser       ForkType = "user"
	ForkAI         ForkType = "ai"
	ForkArbitrator ForkType = "arbitrator"
)

// IsValid checks if the fork type is valid
func (f ForkType) IsValid() bool {
	return f == ForkUser || f == ForkAI || f == ForkArbitrator
}

// AllForkTypes is the three-way fork run order.
var AllForkTypes = []ForkType{ForkUser, ForkAI, ForkArbitrator}

// PerformanceStatus gates how an analyst participates in ai/arbitrator forks.
type PerformanceStatus string

const (
	PerformanceActive    PerformanceStatus = "active"
	PerformanceProbation PerformanceStatus = "probation"
	PerformanceSuspended PerformanceStatus = "suspended"
)

// Analyst is a named role (e.g. "technical-analyst") with a perspective
// prompt, weight, and LLM tier.
type Analyst struct {
	ID                string            `json:"id"`
	Slug              string            `json:"slug"`
	Name              string            `json:"name"`
	Perspective       string            `json:"perspective"`
	Weight            float64           `json:"weight"`
	Tier              string            `json:"tier"`
	IsActive          bool              `json:"is_active"`
	PerformanceStatus PerformanceStatus `json:"performance_status"`
	// MotivationFactor scales effective weight for ai/arbitrator forks while
	// the analyst is on probation.
	MotivationFactor float64 `json:"motivation_factor"`
	// LLMConfig is the optional agent-level (provider, model) override,
	// consulted after target and universe overrides.
	LLMConfig *LLMConfig `json:"llm_config,omitempty"`
}

// EffectiveWeight returns the analyst's voting weight for a fork. Probation
// reduces weight on the ai/arbitrator forks; suspension is handled by the
// caller (paper-only mode, excluded from aggregation).
func (a *Analyst) EffectiveWeight(fork ForkType) float64 {
	w := a.Weight
	if w <= 0 {
		w = 1.0
	}
	if fork == ForkUser {
		return w
	}
	if a.PerformanceStatus == PerformanceProbation && a.MotivationFactor > 0 {
		return w * a.MotivationFactor
	}
	return w
}

// AnalystContextVersion holds fork-scoped prompt parameters. Exactly one
// version per (analyst, fork_type) is current at any time.
type AnalystContextVersion struct {
	ID               string            `json:"id"`
	AnalystID        string            `json:"analyst_id"`
	ForkType         ForkType          `json:"fork_type"`
	Perspective      string            `json:"perspective"`
	TierInstructions map[string]string `json:"tier_instructions,omitempty"` // tier → text
	DefaultWeight    float64           `json:"default_weight"`
	VersionNumber    int               `json:"version_number"`
	IsCurrent        bool              `json:"is_current"`
	AgentJournal     string            `json:"agent_journal,omitempty"`
	ChangedBy        string            `json:"changed_by"`
	CreatedAt        time.Time         `json:"created_at"`
}

// Learning is a distilled lesson applied to user/arbitrator fork prompts.
type Learning struct {
	ID          string    `json:"id"`
	AnalystSlug string    `json:"analyst_slug"`
	TargetID    string    `json:"target_id,omitempty"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
}
