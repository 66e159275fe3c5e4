// Package resilience keeps recordings flowing when a processing provider
// degrades. A [Breaker] stops hammering an API that keeps failing, and
// the fallback wrappers ([STTFallback], [LLMFallback]) route around an
// unhealthy primary provider so a meeting still gets transcribed.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by [Breaker.Do] while the breaker is open
// and the cooldown has not elapsed.
var ErrBreakerOpen = errors.New("resilience: breaker is open")

// BreakerState is the operating mode of a [Breaker].
type BreakerState int

const (
	// BreakerClosed forwards all calls.
	BreakerClosed BreakerState = iota

	// BreakerOpen rejects calls until the cooldown elapses.
	BreakerOpen

	// BreakerProbing lets a limited number of calls through to decide
	// whether the provider has recovered.
	BreakerProbing
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerProbing:
		return "probing"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero fields get defaults.
type BreakerConfig struct {
	// Name labels the breaker in log messages, usually the provider name.
	Name string

	// Threshold is how many consecutive failures open the breaker.
	// Default: 5.
	Threshold int

	// Cooldown is how long the breaker stays open before probing.
	// Default: 30s.
	Cooldown time.Duration

	// Probes is how many successful probe calls close the breaker again.
	// Default: 3.
	Probes int
}

// Breaker is a three-state circuit breaker around one provider.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	probes    int

	mu          sync.Mutex
	state       BreakerState
	failures    int
	lastFailure time.Time
	probeCalls  int
	probeFails  int
}

// NewBreaker creates a Breaker from cfg.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 3
	}
	return &Breaker{
		name:      cfg.Name,
		threshold: cfg.Threshold,
		cooldown:  cfg.Cooldown,
		probes:    cfg.Probes,
	}
}

// Do runs fn unless the breaker is open. While probing, only the probe
// budget's worth of calls pass through.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case BreakerOpen:
		if time.Since(b.lastFailure) < b.cooldown {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
		b.state = BreakerProbing
		b.probeCalls = 0
		b.probeFails = 0
		slog.Info("breaker probing", "name", b.name)
	case BreakerProbing:
		if b.probeCalls >= b.probes {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
	}
	probing := b.state == BreakerProbing
	if probing {
		b.probeCalls++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailure(probing)
	} else {
		b.onSuccess(probing)
	}
	return err
}

// onFailure updates failure accounting. Caller holds b.mu.
func (b *Breaker) onFailure(probing bool) {
	b.lastFailure = time.Now()

	if probing {
		// One failed probe re-opens immediately.
		b.probeFails++
		b.state = BreakerOpen
		b.failures = b.threshold
		slog.Warn("breaker re-opened", "name", b.name)
		return
	}

	b.failures++
	if b.failures >= b.threshold {
		b.state = BreakerOpen
		slog.Warn("breaker opened", "name", b.name, "failures", b.failures)
	}
}

// onSuccess updates success accounting. Caller holds b.mu.
func (b *Breaker) onSuccess(probing bool) {
	if !probing {
		b.failures = 0
		return
	}
	if b.probeCalls-b.probeFails >= b.probes {
		b.state = BreakerClosed
		b.failures = 0
		b.probeCalls = 0
		b.probeFails = 0
		slog.Info("breaker closed", "name", b.name)
	}
}

// State reports the breaker's mode. An open breaker whose cooldown has
// elapsed reports BreakerProbing; the transition happens on the next Do.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && time.Since(b.lastFailure) >= b.cooldown {
		return BreakerProbing
	}
	return b.state
}

// Reset forces the breaker closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.probeCalls = 0
	b.probeFails = 0
}
