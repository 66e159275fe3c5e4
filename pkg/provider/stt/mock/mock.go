// Package mock provides a call-recording stt.Provider test double.
package mock

import (
	"context"
	"sync"

	"github.com/meetscribe/meetscribe/pkg/provider/stt"
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Call records one Transcribe invocation.
type Call struct {
	AudioLen int
	Opts     stt.Options
}

// Provider is a scripted stt.Provider. Set Result or Err before use;
// Calls records every invocation.
type Provider struct {
	mu     sync.Mutex
	Result *stt.Result
	Err    error
	Calls  []Call
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(_ context.Context, audio []byte, opts stt.Options) (*stt.Result, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, Call{AudioLen: len(audio), Opts: opts})
	p.mu.Unlock()

	if p.Err != nil {
		return nil, p.Err
	}
	if p.Result == nil {
		return &stt.Result{}, nil
	}
	return p.Result, nil
}

// CallCount returns the number of recorded invocations.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
