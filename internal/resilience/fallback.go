package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/meetscribe/meetscribe/pkg/provider/llm"
	"github.com/meetscribe/meetscribe/pkg/provider/stt"
)

// ErrAllFailed is returned when every provider in a group fails or has an
// open breaker.
var ErrAllFailed = errors.New("resilience: all providers failed")

// Compile-time assertions that the fallback wrappers implement the
// provider interfaces they guard.
var (
	_ stt.Provider = (*STTFallback)(nil)
	_ llm.Provider = (*LLMFallback)(nil)
)

// entry pairs one provider with its dedicated breaker.
type entry[T any] struct {
	name     string
	provider T
	breaker  *Breaker
}

// group tries providers in registration order, skipping open breakers.
type group[T any] struct {
	entries []entry[T]
	breaker BreakerConfig
}

func newGroup[T any](primary T, primaryName string, breaker BreakerConfig) *group[T] {
	g := &group[T]{breaker: breaker}
	g.add(primaryName, primary)
	return g
}

func (g *group[T]) add(name string, provider T) {
	cfg := g.breaker
	cfg.Name = name
	g.entries = append(g.entries, entry[T]{
		name:     name,
		provider: provider,
		breaker:  NewBreaker(cfg),
	})
}

// do tries fn against each entry until one succeeds.
func do[T, R any](g *group[T], fn func(T) (R, error)) (R, string, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range g.entries {
		e := &g.entries[i]
		var result R
		err := e.breaker.Do(func() error {
			var innerErr error
			result, innerErr = fn(e.provider)
			return innerErr
		})
		if err == nil {
			return result, e.name, nil
		}
		lastErr = err
		if errors.Is(err, ErrBreakerOpen) {
			slog.Debug("skipping provider, breaker open", "provider", e.name)
		} else {
			slog.Warn("provider failed, trying next", "provider", e.name, "error", err)
		}
	}
	return zero, "", fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}

// STTFallback is a [stt.Provider] that transcribes with the primary and
// falls back to secondaries when it fails or its breaker is open.
type STTFallback struct {
	group *group[stt.Provider]
}

// NewSTTFallback wraps primary. Add secondaries with [STTFallback.Add].
func NewSTTFallback(primary stt.Provider, primaryName string, breaker BreakerConfig) *STTFallback {
	return &STTFallback{group: newGroup(primary, primaryName, breaker)}
}

// Add appends a fallback provider tried after the ones already present.
func (f *STTFallback) Add(name string, provider stt.Provider) {
	f.group.add(name, provider)
}

// Transcribe implements stt.Provider.
func (f *STTFallback) Transcribe(ctx context.Context, audio []byte, opts stt.Options) (*stt.Result, error) {
	result, _, err := do(f.group, func(p stt.Provider) (*stt.Result, error) {
		return p.Transcribe(ctx, audio, opts)
	})
	return result, err
}

// LLMFallback is a [llm.Provider] that completes with the primary and
// falls back to secondaries when it fails or its breaker is open.
type LLMFallback struct {
	group *group[llm.Provider]
}

// NewLLMFallback wraps primary. Add secondaries with [LLMFallback.Add].
func NewLLMFallback(primary llm.Provider, primaryName string, breaker BreakerConfig) *LLMFallback {
	return &LLMFallback{group: newGroup(primary, primaryName, breaker)}
}

// Add appends a fallback provider tried after the ones already present.
func (f *LLMFallback) Add(name string, provider llm.Provider) {
	f.group.add(name, provider)
}

// Complete implements llm.Provider.
func (f *LLMFallback) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	resp, _, err := do(f.group, func(p llm.Provider) (*llm.Response, error) {
		return p.Complete(ctx, req)
	})
	return resp, err
}
