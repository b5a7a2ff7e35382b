package analyst

import (
	"fmt"
	"strings"

	"github.com/foresight-labs/foresight/pkg/models"
)

// SynthesizeArbitratorContext builds the arbitrator fork's context from the
// user- and ai-maintained versions. Deterministic, no LLM involved:
//
//   - perspective concatenates both sides under section markers;
//   - tier instructions concatenate per tier, either side may be absent;
//   - default_weight and version_number take the max of the two;
//   - agent_journal carries over from the ai side.
//
// If only one side exists it is returned unchanged; if neither, nil.
func SynthesizeArbitratorContext(user, ai *models.AnalystContextVersion) *models.AnalystContextVersion {
	if user == nil && ai == nil {
		return nil
	}
	if user == nil {
		return ai
	}
	if ai == nil {
		return user
	}

	synth := &models.AnalystContextVersion{
		AnalystID: user.AnalystID,
		ForkType:  models.ForkArbitrator,
		Perspective: fmt.Sprintf("## User-Maintained Context\n%s\n\n## AI-Maintained Context\n%s",
			user.Perspective, ai.Perspective),
		DefaultWeight: maxFloat(user.DefaultWeight, ai.DefaultWeight),
		VersionNumber: maxInt(user.VersionNumber, ai.VersionNumber),
		AgentJournal:  ai.AgentJournal,
		ChangedBy:     "system",
		IsCurrent:     true,
	}

	tiers := make(map[string]bool)
	for t := range user.TierInstructions {
		tiers[t] = true
	}
	for t := range ai.TierInstructions {
		tiers[t] = true
	}
	if len(tiers) > 0 {
		synth.TierInstructions = make(map[string]string, len(tiers))
		for t := range tiers {
			synth.TierInstructions[t] = mergeTierInstructions(user.TierInstructions[t], ai.TierInstructions[t])
		}
	}
	return synth
}

func mergeTierInstructions(userText, aiText string) string {
	var sections []string
	if userText != "" {
		sections = append(sections, "## User Instructions\n"+userText)
	}
	if aiText != "" {
		sections = append(sections, "## AI Instructions\n"+aiText)
	}
	return strings.Join(sections, "\n\n")
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
