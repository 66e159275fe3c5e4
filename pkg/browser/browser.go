// Package browser abstracts the browser the daemon is attached to.
//
// A Platform exposes the tab list, tab lifecycle events, window control
// for the recorder surface, and page-level primitives (DOM probing, tab
// messaging). The production implementation speaks the Chrome DevTools
// protocol (see the cdp subpackage); tests use the mock subpackage.
package browser

import (
	"context"
	"errors"
)

// ErrTabNotFound is returned when an operation targets a tab that no
// longer exists.
var ErrTabNotFound = errors.New("browser: tab not found")

// TabID identifies a tab (a DevTools page target).
type TabID string

// WindowID identifies a window opened through the platform.
type WindowID string

// Tab is a snapshot of one browser tab.
type Tab struct {
	ID     TabID
	URL    string
	Title  string
	Active bool
}

// TabEventType classifies a tab lifecycle event.
type TabEventType string

const (
	// TabUpdated fires when a tab's URL or title changes.
	TabUpdated TabEventType = "updated"

	// TabActivated fires when a tab gains focus.
	TabActivated TabEventType = "activated"

	// TabRemoved fires when a tab closes.
	TabRemoved TabEventType = "removed"
)

// TabEvent is one tab lifecycle notification.
type TabEvent struct {
	Type TabEventType
	Tab  Tab
}

// Platform is the abstraction over the attached browser.
//
// Implementations must be safe for concurrent use. The Events channel is
// closed when the platform shuts down; slow consumers may miss events
// (delivery is best-effort, the poll loop re-reads Tabs anyway).
type Platform interface {
	// Tabs returns a snapshot of all open tabs.
	Tabs(ctx context.Context) ([]Tab, error)

	// Events returns the tab lifecycle event stream.
	Events() <-chan TabEvent

	// QueryDOM reports whether any element matching the CSS selector
	// exists in the tab's document.
	QueryDOM(ctx context.Context, tab TabID, selector string) (bool, error)

	// SendToTab delivers a JSON-encodable message to the page in tab.
	SendToTab(ctx context.Context, tab TabID, message any) error

	// OpenWindow opens url in a new window and returns its ID.
	OpenWindow(ctx context.Context, url string) (WindowID, error)

	// FocusWindow brings the window to the foreground.
	FocusWindow(ctx context.Context, id WindowID) error

	// CloseWindow closes the window. Closing an already-closed window is
	// not an error.
	CloseWindow(ctx context.Context, id WindowID) error

	// Close detaches from the browser and closes the Events channel.
	Close() error
}
