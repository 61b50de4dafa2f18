package model

import (
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Fallback per-token cost rates (USD) by provider, used when the
// provider does not report usage. Deliberately coarse: accounting here
// is best-effort.
var fallbackRates = map[string]float64{
	"openai":    0.000002,
	"anthropic": 0.000003,
	"ollama":    0,
}

const defaultFallbackRate = 0.000002

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// CountTokens estimates the token count of text using the cl100k_base
// encoding. Falls back to a character-based estimate when the encoding
// is unavailable (e.g. no cached BPE data).
func CountTokens(text string) int {
	encOnce.Do(func() {
		var err error
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			slog.Warn("Failed to load tiktoken encoding, using character estimate", "error", err)
		}
	})

	if enc == nil {
		return (len(text) + 3) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

// EstimateCost derives a best-effort cost for a run. When the provider
// reported usage, its total is used; otherwise tokensSeen (the tokens
// counted from the streamed text) times the provider's fallback rate.
func EstimateCost(provider string, usage Usage, tokensSeen int) float64 {
	rate, ok := fallbackRates[provider]
	if !ok {
		rate = defaultFallbackRate
	}

	tokens := usage.TotalTokens
	if tokens == 0 {
		tokens = tokensSeen
	}
	return float64(tokens) * rate
}
