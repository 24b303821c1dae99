package types

import "math"

// Tokenizer defines the interface for token counting.
//
// The exact implementation lives in the compress package (tiktoken-backed,
// with this estimator as its fallback); the interface sits here so that any
// layer can count tokens without importing the compressor.
type Tokenizer interface {
	// CountTokens counts tokens in a text string.
	CountTokens(text string) int
}

// EstimateTokenizer provides a character-based token estimation calibrated
// for typical English prose (~4 chars/token) with CJK awareness (~1.5
// chars/token). It is an estimate, not a guarantee.
type EstimateTokenizer struct {
	charsPerToken float64
}

// NewEstimateTokenizer creates a new EstimateTokenizer.
func NewEstimateTokenizer() *EstimateTokenizer {
	return &EstimateTokenizer{charsPerToken: 4.0}
}

// CountTokens counts tokens in text. Never returns less than 1 for
// non-empty text so that budget math cannot admit "free" memories.
func (t *EstimateTokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	var cjkCount, otherCount int
	for _, r := range text {
		if r >= 0x4E00 && r <= 0x9FA5 {
			cjkCount++
		} else {
			otherCount++
		}
	}
	// Round up: undercounting would let the budget check admit more text
	// than it should.
	tokens := int(math.Ceil(float64(cjkCount)/1.5 + float64(otherCount)/t.charsPerToken))
	if tokens < 1 {
		return 1
	}
	return tokens
}
