package pipeline

import (
	"math"
	"time"

	"github.com/meetscribe/meetscribe/internal/history"
	"github.com/meetscribe/meetscribe/pkg/provider/llm"
)

// transcriptionPerMinute is the per-minute price of whisper-1
// transcription in USD. Billed linearly on audio duration.
const transcriptionPerMinute = 0.006

// modelPricing holds per-1K-token prices in USD.
type modelPricing struct {
	promptPerK     float64
	completionPerK float64
}

// completionPricing maps chat model names to their token prices. Models
// not listed fall back to defaultCompletionPricing.
var completionPricing = map[string]modelPricing{
	"gpt-4o-mini":   {promptPerK: 0.00015, completionPerK: 0.0006},
	"gpt-4o":        {promptPerK: 0.005, completionPerK: 0.015},
	"gpt-4-turbo":   {promptPerK: 0.01, completionPerK: 0.03},
	"gpt-3.5-turbo": {promptPerK: 0.0005, completionPerK: 0.0015},
}

var defaultCompletionPricing = modelPricing{promptPerK: 0.001, completionPerK: 0.002}

// estimateCost computes the estimated API spend of one recording from the
// transcribed audio duration and the aggregated completion token usage.
func estimateCost(audio time.Duration, model string, usage llm.Usage) history.Cost {
	pricing, ok := completionPricing[model]
	if !ok {
		pricing = defaultCompletionPricing
	}

	transcription := audio.Minutes() * transcriptionPerMinute
	completion := float64(usage.PromptTokens)/1000*pricing.promptPerK +
		float64(usage.CompletionTokens)/1000*pricing.completionPerK

	return history.Cost{
		TranscriptionUSD: roundUSD(transcription),
		CompletionUSD:    roundUSD(completion),
		TotalUSD:         roundUSD(transcription + completion),
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
	}
}

// roundUSD rounds to a tenth of a cent, enough resolution for per-token
// prices without accumulating float noise in stored records.
func roundUSD(v float64) float64 {
	return math.Round(v*10000) / 10000
}
