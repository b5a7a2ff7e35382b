// Package ensemble runs the analyst ensemble: prompt construction per
// (analyst, fork), LLM dispatch through the gateway, response parsing, and
// weighted aggregation into a single directional view.
package ensemble

import (
	"github.com/foresight-labs/foresight/pkg/models"
)

// Input is the material an ensemble run scores.
type Input struct {
	TargetID string
	Content  string
	Metadata map[string]any
	// Direction is an optional prior (e.g. the signal direction from a
	// keyword pass) surfaced to the analysts.
	Direction models.SignalDirection
}

// Assessment is one analyst × fork judgment.
type Assessment struct {
	Analyst          string                 `json:"analyst"`
	Tier             string                 `json:"tier"`
	Direction        models.SignalDirection `json:"direction"`
	Confidence       float64                `json:"confidence"`
	Reasoning        string                 `json:"reasoning"`
	KeyFactors       []string               `json:"key_factors,omitempty"`
	Risks            []string               `json:"risks,omitempty"`
	LearningsApplied []string               `json:"learnings_applied,omitempty"`
	ForkType         models.ForkType        `json:"fork_type"`
	ContextVersionID string                 `json:"context_version_id,omitempty"`
	// IsPaperOnly marks suspended analysts' assessments: recorded for
	// evaluation but excluded from aggregation.
	IsPaperOnly     bool    `json:"is_paper_only"`
	EffectiveWeight float64 `json:"effective_weight"`
	Provider        string  `json:"provider,omitempty"`
	Model           string  `json:"model,omitempty"`
}

// Aggregated is the combined ensemble view.
type Aggregated struct {
	Direction         models.SignalDirection `json:"direction"`
	Confidence        float64                `json:"confidence"`
	ConsensusStrength float64                `json:"consensus_strength"`
	Reasoning         string                 `json:"reasoning"`
}

// Result is one fork's full ensemble output.
type Result struct {
	Assessments []Assessment `json:"assessments"`
	Aggregated  Aggregated   `json:"aggregated"`
}

// ForkAgreement reports cross-fork direction agreement, each value the
// fraction of analysts present in both sides whose normalized directions
// match.
type ForkAgreement struct {
	UserVsAI             float64 `json:"userVsAiAgreement"`
	ArbitratorAgreesUser float64 `json:"arbitratorAgreesWithUser"`
	ArbitratorAgreesAI   float64 `json:"arbitratorAgreesWithAi"`
}

// ThreeWayResult is the output of a three-way fork run.
type ThreeWayResult struct {
	Forks     map[models.ForkType]*Result `json:"forks"`
	Agreement ForkAgreement               `json:"agreement"`
}

// ForkResult returns the result for a fork, or nil.
func (r *ThreeWayResult) ForkResult(fork models.ForkType) *Result {
	if r == nil {
		return nil
	}
	return r.Forks[fork]
}

// AssessmentFor returns the given analyst's non-paper assessment in a fork.
func (r *Result) AssessmentFor(analystSlug string) *Assessment {
	if r == nil {
		return nil
	}
	for i := range r.Assessments {
		if r.Assessments[i].Analyst == analystSlug && !r.Assessments[i].IsPaperOnly {
			return &r.Assessments[i]
		}
	}
	return nil
}
