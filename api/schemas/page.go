package schemas

import (
	"context"
	"time"
)

// -- Page Capability Interfaces --

// The workflow components depend only on these interfaces. A page is owned by
// the caller and handed to each operation; components never retain it.

// NavigateOptions tunes Goto. A navigation completes on the load event; a
// zero Timeout uses the driver default.
type NavigateOptions struct {
	Timeout time.Duration
}

// ClickOptions tunes a click. Force skips the actionability checks and clicks
// the element even if it is partially obscured.
type ClickOptions struct {
	Force bool
}

// Named keys understood by Keyboard.Press/Down/Up.
const (
	KeyTab       = "Tab"
	KeyEnter     = "Enter"
	KeyArrowDown = "ArrowDown"
	KeyBackspace = "Backspace"
	KeyControl   = "Control"
	KeyA         = "a"
)

// Page is a single browser page.
type Page interface {
	Goto(ctx context.Context, url string, opts NavigateOptions) error
	Reload(ctx context.Context) error
	URL(ctx context.Context) (string, error)
	// WaitForSelector blocks until the selector matches a visible element.
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error
	// WaitForURL blocks until the current location satisfies match.
	WaitForURL(ctx context.Context, match func(url string) bool, timeout time.Duration) error
	Fill(ctx context.Context, selector, text string) error
	Click(ctx context.Context, selector string, opts ClickOptions) error
	Focus(ctx context.Context, selector string) error
	// SelectOption picks the <option> whose visible label equals label.
	SelectOption(ctx context.Context, selector, label string) error
	Keyboard() Keyboard
	// Screenshot captures the first element matching selector as PNG.
	Screenshot(ctx context.Context, selector string) ([]byte, error)
	Locator(selector string) Locator
	// Content returns the outer HTML of the first element matching selector.
	Content(ctx context.Context, selector string) (string, error)
	Cookies(ctx context.Context) ([]Cookie, error)
	SetCookies(ctx context.Context, cookies []Cookie) error
	// Sleep waits for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}

// Keyboard sends key events to whatever element has focus.
type Keyboard interface {
	// Type sends text one character at a time with delay between characters.
	Type(ctx context.Context, text string, delay time.Duration) error
	Press(ctx context.Context, key string) error
	Down(ctx context.Context, key string) error
	Up(ctx context.Context, key string) error
}

// Locator is a lazily evaluated element query. Refinements return new
// locators and nothing touches the page until a terminal method is called.
type Locator interface {
	// WithText keeps matches whose rendered text contains text.
	WithText(text string) Locator
	Nth(i int) Locator
	Last() Locator
	Count(ctx context.Context) (int, error)
	IsVisible(ctx context.Context) (bool, error)
	WaitVisible(ctx context.Context, timeout time.Duration) error
	GetAttribute(ctx context.Context, name string) (string, error)
	Text(ctx context.Context) (string, error)
	Click(ctx context.Context, opts ClickOptions) error
}
