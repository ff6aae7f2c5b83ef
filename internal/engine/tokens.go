package engine

import (
	"math"
	"strings"
)

const (
	tokensPerWord  = 1.3
	tokensPerPunct = 0.5
	punctuation    = ".,!?;:'\"()[]{}"
)

// EstimateTokens approximates the number of LLM tokens in text. It is a
// heuristic: every whitespace-separated word counts as 1.3 tokens and every
// punctuation character as half a token. The result is deterministic and
// never negative.
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))

	punct := 0
	for _, r := range text {
		if strings.ContainsRune(punctuation, r) {
			punct++
		}
	}

	return int(math.Ceil(float64(words)*tokensPerWord + float64(punct)*tokensPerPunct))
}
