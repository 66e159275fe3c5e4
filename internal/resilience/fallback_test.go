package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/meetscribe/meetscribe/pkg/provider/llm"
	llmmock "github.com/meetscribe/meetscribe/pkg/provider/llm/mock"
	"github.com/meetscribe/meetscribe/pkg/provider/stt"
	sttmock "github.com/meetscribe/meetscribe/pkg/provider/stt/mock"
)

func TestSTTFallbackUsesPrimary(t *testing.T) {
	t.Parallel()

	primary := &sttmock.Provider{Result: &stt.Result{Text: "from primary"}}
	secondary := &sttmock.Provider{Result: &stt.Result{Text: "from secondary"}}

	f := NewSTTFallback(primary, "openai", BreakerConfig{})
	f.Add("whisperlocal", secondary)

	result, err := f.Transcribe(context.Background(), []byte{1, 2}, stt.Options{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if result.Text != "from primary" {
		t.Errorf("text = %q", result.Text)
	}
	if secondary.CallCount() != 0 {
		t.Error("secondary called while primary healthy")
	}
}

func TestSTTFallbackRoutesAroundFailure(t *testing.T) {
	t.Parallel()

	primary := &sttmock.Provider{Err: errors.New("rate limited")}
	secondary := &sttmock.Provider{Result: &stt.Result{Text: "from secondary"}}

	f := NewSTTFallback(primary, "openai", BreakerConfig{})
	f.Add("whisperlocal", secondary)

	result, err := f.Transcribe(context.Background(), []byte{1, 2}, stt.Options{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if result.Text != "from secondary" {
		t.Errorf("text = %q", result.Text)
	}
	if primary.CallCount() != 1 {
		t.Errorf("primary called %d times, want 1", primary.CallCount())
	}
}

func TestSTTFallbackAllFailed(t *testing.T) {
	t.Parallel()

	primary := &sttmock.Provider{Err: errors.New("down")}
	f := NewSTTFallback(primary, "openai", BreakerConfig{})

	_, err := f.Transcribe(context.Background(), []byte{1}, stt.Options{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestSTTFallbackSkipsOpenBreaker(t *testing.T) {
	t.Parallel()

	primary := &sttmock.Provider{Err: errors.New("down")}
	secondary := &sttmock.Provider{Result: &stt.Result{Text: "ok"}}

	f := NewSTTFallback(primary, "openai", BreakerConfig{Threshold: 2, Cooldown: time.Hour})
	f.Add("whisperlocal", secondary)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := f.Transcribe(ctx, []byte{1}, stt.Options{}); err != nil {
			t.Fatalf("Transcribe %d: %v", i, err)
		}
	}

	// The primary's breaker opened after two failures; the third call must
	// not have touched it.
	if got := primary.CallCount(); got != 2 {
		t.Errorf("primary called %d times, want 2", got)
	}
	if got := secondary.CallCount(); got != 3 {
		t.Errorf("secondary called %d times, want 3", got)
	}
}

func TestLLMFallbackRoutesAroundFailure(t *testing.T) {
	t.Parallel()

	primary := &llmmock.Provider{Script: []llmmock.Reply{{Err: errors.New("overloaded")}}}
	secondary := &llmmock.Provider{Script: []llmmock.Reply{
		{Response: &llm.Response{Content: "summary"}},
	}}

	f := NewLLMFallback(primary, "openai", BreakerConfig{})
	f.Add("ollama", secondary)

	resp, err := f.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: "user", Content: "summarise"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "summary" {
		t.Errorf("content = %q", resp.Content)
	}
	if primary.CallCount() != 1 || secondary.CallCount() != 1 {
		t.Errorf("calls = %d/%d, want 1/1", primary.CallCount(), secondary.CallCount())
	}
}
