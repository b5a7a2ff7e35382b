package llm

// EstimateTokens approximates the input token count of a prompt pair:
// ceil((len(system)+len(user))/4). Close enough for budget gating; providers
// report exact counts after the fact.
func EstimateTokens(systemPrompt, userPrompt string) int64 {
	chars := int64(len(systemPrompt) + len(userPrompt))
	return (chars + 3) / 4
}

// EstimateOutputTokens is the accounting assumption for output size when a
// provider does not report usage: 50% of input.
func EstimateOutputTokens(inputTokens int64) int64 {
	return inputTokens / 2
}
