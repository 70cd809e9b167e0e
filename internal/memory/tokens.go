package memory

import (
	"strings"
	"unicode"
)

// TokenCounter estimates how many completion-API tokens a text costs.
// Implementations must be cheap; the store calls this on every append and
// promotion.
type TokenCounter interface {
	CountTokens(text string) int
}

// HeuristicCounter approximates tokenization by counting word and
// punctuation units, weighting CJK characters separately. Not
// billing-accurate; good enough for tier budgeting.
type HeuristicCounter struct{}

func NewHeuristicCounter() *HeuristicCounter {
	return &HeuristicCounter{}
}

func (c *HeuristicCounter) CountTokens(text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}

	tokens := 0
	inWord := false
	cjk := 0
	for _, r := range text {
		switch {
		case r >= 0x4E00 && r <= 0x9FFF:
			cjk++
			inWord = false
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if !inWord {
				tokens++
				inWord = true
			}
		case unicode.IsSpace(r):
			inWord = false
		default:
			// punctuation counts as its own unit
			tokens++
			inWord = false
		}
	}

	estimate := tokens + (cjk*3+1)/2
	if estimate < 1 {
		return 1
	}
	return estimate
}
