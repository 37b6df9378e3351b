// Package webdriver speaks the W3C WebDriver protocol to a Selenium Grid
// hub. It exposes only the session surface the command executor needs.
package webdriver

import (
	"context"
	"time"
)

// Driver is one live browser session. Implementations must be safe for
// use from a single goroutine at a time; callers serialize access by
// holding the session lock.
type Driver interface {
	// ID returns the remote session id.
	ID() string
	// Navigate loads url in the browser.
	Navigate(ctx context.Context, url string) error
	// CurrentURL returns the browser's current location. It doubles as a
	// cheap liveness probe.
	CurrentURL(ctx context.Context) (string, error)
	// PageSource returns the serialized DOM of the current page.
	PageSource(ctx context.Context) (string, error)
	// FindElement locates one element. using must be a W3C strategy
	// ("css selector", "xpath", "link text", "partial link text",
	// "tag name").
	FindElement(ctx context.Context, using, value string) (Element, error)
	// ExecuteScript runs script synchronously in the page and returns its
	// JSON-decoded result.
	ExecuteScript(ctx context.Context, script string, args []any) (any, error)
	// SetWindowRect resizes the browser window.
	SetWindowRect(ctx context.Context, width, height int) error
	// SetImplicitWait sets the session's element location timeout.
	SetImplicitWait(ctx context.Context, d time.Duration) error
	// MoveTo moves the pointer over el.
	MoveTo(ctx context.Context, el Element) error
	// Close ends the remote session.
	Close(ctx context.Context) error
}

// Element is a located DOM element within a session.
type Element interface {
	Click(ctx context.Context) error
	Clear(ctx context.Context) error
	SendKeys(ctx context.Context, text string) error
	Text(ctx context.Context) (string, error)
}

// GridStatus reports hub readiness and how many browser slots it offers.
type GridStatus struct {
	Ready    bool
	Capacity int
}
