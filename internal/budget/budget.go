// Package budget estimates the token size of prompts sent to the answer
// generator. Backends use different tokenizers, so the estimate is a
// character heuristic: 1 token ≈ 4 characters of English prose.
package budget

import (
	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	charsPerToken = 4

	// DefaultMaxPromptTokens is the input budget checked before generation.
	// It fits 8k-context models (Llama 3 8B, GPT-3.5) with room for the
	// output.
	DefaultMaxPromptTokens = 6000

	// messageOverhead is the per-message framing cost in most chat APIs.
	messageOverhead = 4
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for msgs,
// summing role and content for each message.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += messageOverhead
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// Check returns the estimated size of msgs and whether it fits maxTokens.
// A non-positive maxTokens selects DefaultMaxPromptTokens.
func Check(msgs []*schema.Message, maxTokens int) (int, bool) {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxPromptTokens
	}
	n := EstimateMessages(msgs)
	return n, n <= maxTokens
}
