// Package mock provides a scriptable browser.Platform test double.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/meetscribe/meetscribe/pkg/browser"
)

// Compile-time assertion that Platform implements browser.Platform.
var _ browser.Platform = (*Platform)(nil)

// Platform is an in-memory browser.Platform. Tabs, DOM matches and window
// behaviour are set up by the test; all mutating calls are recorded.
type Platform struct {
	mu sync.Mutex

	tabs    []browser.Tab
	dom     map[string]bool // tabID + "\x00" + selector -> present
	events  chan browser.TabEvent
	closed  bool
	nextWin int

	// TabsErr, when set, is returned by Tabs.
	TabsErr error

	// QueryErr, when set, is returned by QueryDOM.
	QueryErr error

	// OpenErr, when set, is returned by OpenWindow.
	OpenErr error

	OpenedURLs    []string
	FocusedWins   []browser.WindowID
	ClosedWins    []browser.WindowID
	SentMessages  []SentMessage
	OpenWindowIDs []browser.WindowID
}

// SentMessage records one SendToTab call.
type SentMessage struct {
	Tab     browser.TabID
	Message any
}

// New creates an empty mock platform.
func New() *Platform {
	return &Platform{
		dom:    make(map[string]bool),
		events: make(chan browser.TabEvent, 64),
	}
}

// SetTabs replaces the tab snapshot returned by Tabs.
func (p *Platform) SetTabs(tabs ...browser.Tab) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tabs = append([]browser.Tab(nil), tabs...)
}

// SetDOM marks selector as present (or absent) in tab.
func (p *Platform) SetDOM(tab browser.TabID, selector string, present bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dom[domKey(tab, selector)] = present
}

// Emit pushes a tab event to the Events channel.
func (p *Platform) Emit(ev browser.TabEvent) {
	p.events <- ev
}

// Tabs implements browser.Platform.
func (p *Platform) Tabs(context.Context) ([]browser.Tab, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.TabsErr != nil {
		return nil, p.TabsErr
	}
	return append([]browser.Tab(nil), p.tabs...), nil
}

// Events implements browser.Platform.
func (p *Platform) Events() <-chan browser.TabEvent { return p.events }

// QueryDOM implements browser.Platform.
func (p *Platform) QueryDOM(_ context.Context, tab browser.TabID, selector string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.QueryErr != nil {
		return false, p.QueryErr
	}
	return p.dom[domKey(tab, selector)], nil
}

// SendToTab implements browser.Platform.
func (p *Platform) SendToTab(_ context.Context, tab browser.TabID, message any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SentMessages = append(p.SentMessages, SentMessage{Tab: tab, Message: message})
	return nil
}

// OpenWindow implements browser.Platform.
func (p *Platform) OpenWindow(_ context.Context, url string) (browser.WindowID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.OpenErr != nil {
		return "", p.OpenErr
	}
	p.nextWin++
	id := browser.WindowID(fmt.Sprintf("win-%d", p.nextWin))
	p.OpenedURLs = append(p.OpenedURLs, url)
	p.OpenWindowIDs = append(p.OpenWindowIDs, id)
	return id, nil
}

// FocusWindow implements browser.Platform.
func (p *Platform) FocusWindow(_ context.Context, id browser.WindowID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.FocusedWins = append(p.FocusedWins, id)
	return nil
}

// CloseWindow implements browser.Platform.
func (p *Platform) CloseWindow(_ context.Context, id browser.WindowID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ClosedWins = append(p.ClosedWins, id)
	return nil
}

// Close implements browser.Platform.
func (p *Platform) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.events)
	}
	return nil
}

func domKey(tab browser.TabID, selector string) string {
	return string(tab) + "\x00" + selector
}
