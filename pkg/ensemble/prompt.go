package ensemble

import (
	"fmt"
	"sort"
	"strings"

	"github.com/foresight-labs/foresight/pkg/config"
	"github.com/foresight-labs/foresight/pkg/models"
)

const responseFormatInstructions = `Respond with a single JSON object and nothing else:
{
  "direction": "bullish" | "bearish" | "neutral",
  "confidence": <number between 0.0 and 1.0>,
  "reasoning": "<concise explanation>",
  "key_factors": ["<factor>", ...],
  "risks": ["<risk>", ...]
}`

// BuildSystemPrompt assembles the analyst's system prompt from its context
// version (or base perspective when no version exists), the tier-specific
// instructions, and any applicable learnings. Pure function.
func BuildSystemPrompt(a *models.Analyst, version *models.AnalystContextVersion, tier config.Tier, learnings []*models.Learning) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("You are %s, a financial analyst.\n\n", a.Name))

	perspective := a.Perspective
	if version != nil && version.Perspective != "" {
		perspective = version.Perspective
	}
	if perspective != "" {
		b.WriteString(perspective)
		b.WriteString("\n\n")
	}

	if version != nil {
		if instructions := version.TierInstructions[string(tier)]; instructions != "" {
			b.WriteString(instructions)
			b.WriteString("\n\n")
		}
	}

	if len(learnings) > 0 {
		b.WriteString("Lessons from past predictions:\n")
		for _, l := range learnings {
			b.WriteString("- ")
			b.WriteString(l.Content)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString(responseFormatInstructions)
	return b.String()
}

// BuildUserPrompt assembles the material to score for a target. Metadata keys
// are emitted sorted so identical inputs produce identical prompts.
func BuildUserPrompt(target *models.Target, input Input) string {
	var b strings.Builder

	if target != nil {
		b.WriteString(fmt.Sprintf("Target: %s (%s)\n", target.Name, target.Symbol))
	}
	if input.Direction != "" && input.Direction != models.SignalNeutral {
		b.WriteString(fmt.Sprintf("Preliminary signal direction: %s\n", input.Direction))
	}
	if len(input.Metadata) > 0 {
		keys := make([]string, 0, len(input.Metadata))
		for k := range input.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteString(fmt.Sprintf("%s: %v\n", k, input.Metadata[k]))
		}
	}
	b.WriteString("\n")
	b.WriteString(input.Content)
	return b.String()
}
