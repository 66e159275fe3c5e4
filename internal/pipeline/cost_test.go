package pipeline

import (
	"testing"
	"time"

	"github.com/meetscribe/meetscribe/pkg/provider/llm"
)

func TestEstimateCostLinearInDuration(t *testing.T) {
	t.Parallel()

	oneMin := estimateCost(time.Minute, "gpt-4o-mini", llm.Usage{})
	twoMin := estimateCost(2*time.Minute, "gpt-4o-mini", llm.Usage{})

	if oneMin.TranscriptionUSD != 0.006 {
		t.Errorf("1 min transcription = %v, want 0.006", oneMin.TranscriptionUSD)
	}
	if twoMin.TranscriptionUSD != 2*oneMin.TranscriptionUSD {
		t.Errorf("2 min transcription = %v, want %v", twoMin.TranscriptionUSD, 2*oneMin.TranscriptionUSD)
	}
}

func TestEstimateCostKnownModel(t *testing.T) {
	t.Parallel()

	usage := llm.Usage{PromptTokens: 2000, CompletionTokens: 1000}
	cost := estimateCost(0, "gpt-4o", usage)

	// 2K prompt tokens at $0.005/1K plus 1K completion tokens at $0.015/1K.
	if want := 0.025; cost.CompletionUSD != want {
		t.Errorf("completion cost = %v, want %v", cost.CompletionUSD, want)
	}
	if cost.TotalUSD != cost.CompletionUSD {
		t.Errorf("total = %v, want %v with no audio", cost.TotalUSD, cost.CompletionUSD)
	}
	if cost.PromptTokens != 2000 || cost.CompletionTokens != 1000 {
		t.Errorf("token counts = %d/%d, want 2000/1000", cost.PromptTokens, cost.CompletionTokens)
	}
}

func TestEstimateCostUnknownModelFallsBack(t *testing.T) {
	t.Parallel()

	usage := llm.Usage{PromptTokens: 1000, CompletionTokens: 1000}
	cost := estimateCost(0, "some-local-model", usage)

	// Default pricing: $0.001/1K prompt, $0.002/1K completion.
	if want := 0.003; cost.CompletionUSD != want {
		t.Errorf("completion cost = %v, want %v", cost.CompletionUSD, want)
	}
}

func TestEstimateCostTotalsAddUp(t *testing.T) {
	t.Parallel()

	cost := estimateCost(10*time.Minute, "gpt-3.5-turbo", llm.Usage{PromptTokens: 4000, CompletionTokens: 2000})
	if want := cost.TranscriptionUSD + cost.CompletionUSD; cost.TotalUSD != want {
		t.Errorf("total = %v, want %v", cost.TotalUSD, want)
	}
}
