package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{Name: "stt", Threshold: 3, Cooldown: time.Hour})
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		if err := b.Do(func() error { return boom }); !errors.Is(err, boom) {
			t.Fatalf("call %d err = %v", i, err)
		}
	}
	if got := b.State(); got != BreakerOpen {
		t.Fatalf("state = %v, want open", got)
	}

	calls := 0
	err := b.Do(func() error { calls++; return nil })
	if !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("err = %v, want ErrBreakerOpen", err)
	}
	if calls != 0 {
		t.Error("fn ran while breaker open")
	}
}

func TestBreakerSuccessResetsFailures(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{Threshold: 2})
	boom := errors.New("boom")

	b.Do(func() error { return boom })
	b.Do(func() error { return nil })
	b.Do(func() error { return boom })

	if got := b.State(); got != BreakerClosed {
		t.Fatalf("state = %v, want closed after interleaved success", got)
	}
}

func TestBreakerClosesAfterProbes(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{Threshold: 1, Cooldown: time.Millisecond, Probes: 2})
	boom := errors.New("boom")

	b.Do(func() error { return boom })
	if got := b.State(); got != BreakerOpen {
		t.Fatalf("state = %v, want open", got)
	}

	time.Sleep(5 * time.Millisecond)
	if got := b.State(); got != BreakerProbing {
		t.Fatalf("state = %v, want probing after cooldown", got)
	}

	for i := 0; i < 2; i++ {
		if err := b.Do(func() error { return nil }); err != nil {
			t.Fatalf("probe %d err = %v", i, err)
		}
	}
	if got := b.State(); got != BreakerClosed {
		t.Fatalf("state = %v, want closed after probes", got)
	}
}

func TestBreakerReopensOnFailedProbe(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{Threshold: 1, Cooldown: time.Millisecond, Probes: 2})
	boom := errors.New("boom")

	b.Do(func() error { return boom })
	time.Sleep(5 * time.Millisecond)

	if err := b.Do(func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("probe err = %v", err)
	}
	if err := b.Do(func() error { return nil }); !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("err after failed probe = %v, want ErrBreakerOpen", err)
	}
}

func TestBreakerReset(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{Threshold: 1, Cooldown: time.Hour})
	b.Do(func() error { return errors.New("boom") })
	if got := b.State(); got != BreakerOpen {
		t.Fatalf("state = %v, want open", got)
	}

	b.Reset()
	if got := b.State(); got != BreakerClosed {
		t.Fatalf("state after Reset = %v, want closed", got)
	}
	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("Do after Reset: %v", err)
	}
}
