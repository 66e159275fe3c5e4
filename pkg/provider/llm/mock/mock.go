// Package mock provides a call-recording llm.Provider test double.
package mock

import (
	"context"
	"sync"

	"github.com/meetscribe/meetscribe/pkg/provider/llm"
)

// Compile-time assertion that Provider implements llm.Provider.
var _ llm.Provider = (*Provider)(nil)

// Provider is a scripted llm.Provider. Responses are consumed in order;
// when the script runs out the last entry repeats. A nil Respond function
// with an empty script returns an empty response.
type Provider struct {
	mu    sync.Mutex
	Calls []llm.Request

	// Script is the ordered list of responses/errors to return.
	Script []Reply

	// Respond, when non-nil, overrides Script and computes the reply from
	// the request.
	Respond func(req llm.Request) (*llm.Response, error)
}

// Reply is one scripted response.
type Reply struct {
	Response *llm.Response
	Err      error
}

// Complete implements llm.Provider.
func (p *Provider) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, req)
	n := len(p.Calls)
	p.mu.Unlock()

	if p.Respond != nil {
		return p.Respond(req)
	}
	if len(p.Script) == 0 {
		return &llm.Response{}, nil
	}
	idx := n - 1
	if idx >= len(p.Script) {
		idx = len(p.Script) - 1
	}
	r := p.Script[idx]
	if r.Err != nil {
		return nil, r.Err
	}
	if r.Response == nil {
		return &llm.Response{}, nil
	}
	return r.Response, nil
}

// CallCount returns the number of recorded invocations.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
