// Package cdp implements browser.Platform over the Chrome DevTools protocol.
//
// The daemon attaches to a browser started with --remote-debugging-port,
// discovers page targets through the browser-level websocket endpoint and
// evaluates small Runtime expressions inside pages for DOM probing and
// messaging.
package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/meetscribe/meetscribe/pkg/browser"
)

// Compile-time assertion that Platform implements browser.Platform.
var _ browser.Platform = (*Platform)(nil)

const (
	defaultDialTimeout = 10 * time.Second
	defaultCallTimeout = 15 * time.Second
	eventBuffer        = 64
)

// Platform talks to one browser instance over its DevTools websocket.
type Platform struct {
	httpURL string
	conn    *websocket.Conn
	events  chan browser.TabEvent

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan rpcResult
	tabs    map[browser.TabID]browser.Tab
	closed  bool

	cancel context.CancelFunc
	done   chan struct{}
}

type rpcRequest struct {
	ID        int64           `json:"id"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
}

type rpcMessage struct {
	ID        int64           `json:"id,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Error     *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResult struct {
	result json.RawMessage
	err    error
}

// targetInfo mirrors the DevTools Target.TargetInfo structure.
type targetInfo struct {
	TargetID string `json:"targetId"`
	Type     string `json:"type"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	Attached bool   `json:"attached"`
}

// Option is a functional option for Platform.
type Option func(*Platform)

// New connects to the browser's DevTools endpoint, e.g.
// "http://127.0.0.1:9222", and starts target discovery.
func New(ctx context.Context, devtoolsURL string, opts ...Option) (*Platform, error) {
	if devtoolsURL == "" {
		return nil, fmt.Errorf("cdp: devtoolsURL must not be empty")
	}

	p := &Platform{
		httpURL: strings.TrimRight(devtoolsURL, "/"),
		events:  make(chan browser.TabEvent, eventBuffer),
		pending: make(map[int64]chan rpcResult),
		tabs:    make(map[browser.TabID]browser.Tab),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}

	wsURL, err := p.browserWebSocketURL(ctx)
	if err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("cdp: dial %s: %w", wsURL, err)
	}
	conn.SetReadLimit(16 << 20)
	p.conn = conn

	loopCtx, loopCancel := context.WithCancel(context.Background())
	p.cancel = loopCancel
	go p.readLoop(loopCtx)

	if _, err := p.call(ctx, "", "Target.setDiscoverTargets", map[string]any{"discover": true}); err != nil {
		p.Close()
		return nil, fmt.Errorf("cdp: enable target discovery: %w", err)
	}
	return p, nil
}

// browserWebSocketURL resolves the browser-level websocket endpoint via the
// /json/version HTTP API.
func (p *Platform) browserWebSocketURL(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.httpURL+"/json/version", nil)
	if err != nil {
		return "", fmt.Errorf("cdp: create version request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("cdp: query %s/json/version: %w", p.httpURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("cdp: version endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var version struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&version); err != nil {
		return "", fmt.Errorf("cdp: decode version response: %w", err)
	}
	if version.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("cdp: version response has no webSocketDebuggerUrl")
	}
	return version.WebSocketDebuggerURL, nil
}

// readLoop consumes all websocket traffic and routes responses to their
// callers and events to the event channel.
func (p *Platform) readLoop(ctx context.Context) {
	defer close(p.done)
	for {
		var msg rpcMessage
		if err := wsjson.Read(ctx, p.conn, &msg); err != nil {
			p.failPending(err)
			p.mu.Lock()
			if !p.closed {
				p.closed = true
				close(p.events)
			}
			p.mu.Unlock()
			return
		}

		if msg.ID != 0 {
			p.mu.Lock()
			ch, ok := p.pending[msg.ID]
			delete(p.pending, msg.ID)
			p.mu.Unlock()
			if ok {
				if msg.Error != nil {
					ch <- rpcResult{err: fmt.Errorf("cdp: %s (code %d)", msg.Error.Message, msg.Error.Code)}
				} else {
					ch <- rpcResult{result: msg.Result}
				}
			}
			continue
		}

		p.handleEvent(msg.Method, msg.Params)
	}
}

// failPending unblocks all in-flight calls with err.
func (p *Platform) failPending(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, ch := range p.pending {
		ch <- rpcResult{err: err}
		delete(p.pending, id)
	}
}

// handleEvent translates Target.* discovery events into tab events.
func (p *Platform) handleEvent(method string, params json.RawMessage) {
	switch method {
	case "Target.targetCreated", "Target.targetInfoChanged":
		var ev struct {
			TargetInfo targetInfo `json:"targetInfo"`
		}
		if err := json.Unmarshal(params, &ev); err != nil || ev.TargetInfo.Type != "page" {
			return
		}
		tab := tabFromTarget(ev.TargetInfo)
		p.mu.Lock()
		p.tabs[tab.ID] = tab
		closed := p.closed
		p.mu.Unlock()
		if !closed {
			p.emit(browser.TabEvent{Type: browser.TabUpdated, Tab: tab})
		}
	case "Target.targetDestroyed":
		var ev struct {
			TargetID string `json:"targetId"`
		}
		if err := json.Unmarshal(params, &ev); err != nil {
			return
		}
		id := browser.TabID(ev.TargetID)
		p.mu.Lock()
		tab, known := p.tabs[id]
		delete(p.tabs, id)
		closed := p.closed
		p.mu.Unlock()
		if known && !closed {
			p.emit(browser.TabEvent{Type: browser.TabRemoved, Tab: tab})
		}
	}
}

// emit delivers ev without blocking; the watcher re-polls tabs anyway, so
// dropping under backpressure is acceptable.
func (p *Platform) emit(ev browser.TabEvent) {
	select {
	case p.events <- ev:
	default:
	}
}

// call performs one DevTools method invocation and waits for its response.
func (p *Platform) call(ctx context.Context, sessionID, method string, params any) (json.RawMessage, error) {
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("cdp: marshal %s params: %w", method, err)
		}
		raw = b
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("cdp: connection closed")
	}
	p.nextID++
	id := p.nextID
	ch := make(chan rpcResult, 1)
	p.pending[id] = ch
	p.mu.Unlock()

	req := rpcRequest{ID: id, Method: method, Params: raw, SessionID: sessionID}
	callCtx, cancel := context.WithTimeout(ctx, defaultCallTimeout)
	defer cancel()

	if err := wsjson.Write(callCtx, p.conn, req); err != nil {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
		return nil, fmt.Errorf("cdp: write %s: %w", method, err)
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("cdp: %s: %w", method, res.err)
		}
		return res.result, nil
	case <-callCtx.Done():
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
		return nil, fmt.Errorf("cdp: %s: %w", method, callCtx.Err())
	}
}

// Tabs implements browser.Platform.
func (p *Platform) Tabs(ctx context.Context) ([]browser.Tab, error) {
	res, err := p.call(ctx, "", "Target.getTargets", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		TargetInfos []targetInfo `json:"targetInfos"`
	}
	if err := json.Unmarshal(res, &out); err != nil {
		return nil, fmt.Errorf("cdp: decode targets: %w", err)
	}

	tabs := make([]browser.Tab, 0, len(out.TargetInfos))
	p.mu.Lock()
	p.tabs = make(map[browser.TabID]browser.Tab, len(out.TargetInfos))
	for _, ti := range out.TargetInfos {
		if ti.Type != "page" {
			continue
		}
		tab := tabFromTarget(ti)
		p.tabs[tab.ID] = tab
		tabs = append(tabs, tab)
	}
	p.mu.Unlock()
	return tabs, nil
}

// Events implements browser.Platform.
func (p *Platform) Events() <-chan browser.TabEvent { return p.events }

// QueryDOM implements browser.Platform. It attaches a flat session to the
// page, evaluates a querySelector probe and detaches again.
func (p *Platform) QueryDOM(ctx context.Context, tab browser.TabID, selector string) (bool, error) {
	expr := fmt.Sprintf("document.querySelector(%s) !== null", jsString(selector))
	res, err := p.evaluate(ctx, tab, expr)
	if err != nil {
		return false, err
	}
	found, ok := res.(bool)
	if !ok {
		return false, fmt.Errorf("cdp: unexpected probe result %T", res)
	}
	return found, nil
}

// SendToTab implements browser.Platform. The message arrives in the page as
// a window message event, the same channel pages already listen on for
// recorder control.
func (p *Platform) SendToTab(ctx context.Context, tab browser.TabID, message any) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("cdp: marshal tab message: %w", err)
	}
	expr := fmt.Sprintf("window.postMessage(JSON.parse(%s), '*')", jsString(string(payload)))
	_, err = p.evaluate(ctx, tab, expr)
	return err
}

// evaluate runs a Runtime expression inside the tab and returns its value.
func (p *Platform) evaluate(ctx context.Context, tab browser.TabID, expression string) (any, error) {
	sessionID, err := p.attach(ctx, tab)
	if err != nil {
		return nil, err
	}
	defer p.detach(ctx, sessionID)

	res, err := p.call(ctx, sessionID, "Runtime.evaluate", map[string]any{
		"expression":    expression,
		"returnByValue": true,
	})
	if err != nil {
		return nil, err
	}

	var out struct {
		Result struct {
			Value any `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text string `json:"text"`
		} `json:"exceptionDetails"`
	}
	if err := json.Unmarshal(res, &out); err != nil {
		return nil, fmt.Errorf("cdp: decode evaluate result: %w", err)
	}
	if out.ExceptionDetails != nil {
		return nil, fmt.Errorf("cdp: evaluate threw: %s", out.ExceptionDetails.Text)
	}
	return out.Result.Value, nil
}

func (p *Platform) attach(ctx context.Context, tab browser.TabID) (string, error) {
	res, err := p.call(ctx, "", "Target.attachToTarget", map[string]any{
		"targetId": string(tab),
		"flatten":  true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "No target with given id") {
			return "", browser.ErrTabNotFound
		}
		return "", err
	}
	var out struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(res, &out); err != nil {
		return "", fmt.Errorf("cdp: decode attach result: %w", err)
	}
	return out.SessionID, nil
}

func (p *Platform) detach(ctx context.Context, sessionID string) {
	// Best effort, the session dies with the connection anyway.
	_, _ = p.call(ctx, "", "Target.detachFromTarget", map[string]any{"sessionId": sessionID})
}

// OpenWindow implements browser.Platform.
func (p *Platform) OpenWindow(ctx context.Context, url string) (browser.WindowID, error) {
	res, err := p.call(ctx, "", "Target.createTarget", map[string]any{
		"url":       url,
		"newWindow": true,
	})
	if err != nil {
		return "", err
	}
	var out struct {
		TargetID string `json:"targetId"`
	}
	if err := json.Unmarshal(res, &out); err != nil {
		return "", fmt.Errorf("cdp: decode createTarget result: %w", err)
	}
	return browser.WindowID(out.TargetID), nil
}

// FocusWindow implements browser.Platform.
func (p *Platform) FocusWindow(ctx context.Context, id browser.WindowID) error {
	_, err := p.call(ctx, "", "Target.activateTarget", map[string]any{"targetId": string(id)})
	return err
}

// CloseWindow implements browser.Platform.
func (p *Platform) CloseWindow(ctx context.Context, id browser.WindowID) error {
	_, err := p.call(ctx, "", "Target.closeTarget", map[string]any{"targetId": string(id)})
	if err != nil && strings.Contains(err.Error(), "No target with given id") {
		return nil
	}
	return err
}

// Close implements browser.Platform.
func (p *Platform) Close() error {
	p.cancel()
	// The read loop may have closed the connection already; the close
	// error is not actionable at this point.
	_ = p.conn.Close(websocket.StatusNormalClosure, "shutting down")
	<-p.done
	return nil
}

// tabFromTarget converts a page target into a Tab snapshot.
func tabFromTarget(ti targetInfo) browser.Tab {
	return browser.Tab{
		ID:    browser.TabID(ti.TargetID),
		URL:   ti.URL,
		Title: ti.Title,
	}
}

// jsString encodes s as a JavaScript string literal. Go's quoted string
// syntax is a subset of JavaScript's, so strconv.Quote is sufficient.
func jsString(s string) string {
	return strconv.Quote(s)
}
