// File: internal/mocks/page.go
package mocks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xkilldash9x/tms-executor/api/schemas"
)

// ErrFakeTimeout is returned by the fake page whenever a wait would block.
var ErrFakeTimeout = errors.New("fake page: wait timed out")

// Action kinds recorded by FakePage.
const (
	ActGoto       = "goto"
	ActReload     = "reload"
	ActFill       = "fill"
	ActClick      = "click"
	ActFocus      = "focus"
	ActSelect     = "select"
	ActType       = "type"
	ActPress      = "press"
	ActDown       = "down"
	ActUp         = "up"
	ActScreenshot = "screenshot"
	ActSetCookies = "set_cookies"
)

// Action is a single recorded interaction with the fake page.
type Action struct {
	Kind   string
	Target string
	Value  string
	Delay  time.Duration
}

// FakeElement is one element matched by a selector.
type FakeElement struct {
	Text    string
	Hidden  bool
	Attrs   map[string]string
	Options []string
	Value   string
}

// FakePage is a scriptable in-memory schemas.Page. Waits never block: they
// either succeed immediately or return ErrFakeTimeout.
type FakePage struct {
	mu sync.Mutex

	url       string
	elements  map[string][]*FakeElement
	html      map[string]string
	redirects map[string]string
	failures  map[string]error
	cookies   []schemas.Cookie

	actions []Action
	slept   time.Duration

	// Screenshot is returned for any selector that has elements.
	ScreenshotData []byte

	// OnAction runs after each recorded action, outside the page lock.
	OnAction func(p *FakePage, a Action)
}

// NewFakePage returns an empty page at about:blank.
func NewFakePage() *FakePage {
	return &FakePage{
		url:            "about:blank",
		elements:       make(map[string][]*FakeElement),
		html:           make(map[string]string),
		redirects:      make(map[string]string),
		failures:       make(map[string]error),
		ScreenshotData: []byte{0x89, 'P', 'N', 'G'},
	}
}

// -- Scripting --

// SetURL moves the page to url without recording an action.
func (p *FakePage) SetURL(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
}

// Redirect makes Goto(from) land on to.
func (p *FakePage) Redirect(from, to string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.redirects[from] = to
}

// AddElement appends an element to selector's matches and returns it for
// later mutation.
func (p *FakePage) AddElement(selector string, el FakeElement) *FakeElement {
	p.mu.Lock()
	defer p.mu.Unlock()
	e := el
	if e.Attrs == nil {
		e.Attrs = make(map[string]string)
	}
	p.elements[selector] = append(p.elements[selector], &e)
	return &e
}

// RemoveElements clears every match for selector.
func (p *FakePage) RemoveElements(selector string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.elements, selector)
}

// SetAttr updates an attribute on an element under the page lock.
func (p *FakePage) SetAttr(el *FakeElement, name, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el.Attrs[name] = value
}

// SetHTML sets what Content returns for selector.
func (p *FakePage) SetHTML(selector, html string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.html[selector] = html
}

// Fail makes the given action kind fail. With a target the failure only
// applies to that selector, URL or key.
func (p *FakePage) Fail(kind, target string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[failureKey(kind, target)] = err
}

func failureKey(kind, target string) string {
	if target == "" {
		return kind
	}
	return kind + "|" + target
}

// -- Inspection --

// Actions returns a copy of the recorded actions, optionally filtered by kind.
func (p *FakePage) Actions(kinds ...string) []Action {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(kinds) == 0 {
		return append([]Action(nil), p.actions...)
	}
	var out []Action
	for _, a := range p.actions {
		for _, k := range kinds {
			if a.Kind == k {
				out = append(out, a)
				break
			}
		}
	}
	return out
}

// Keystrokes counts every keyboard action.
func (p *FakePage) Keystrokes() int {
	return len(p.Actions(ActType, ActPress, ActDown, ActUp))
}

// Slept is the total time handed to Sleep.
func (p *FakePage) Slept() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.slept
}

// CurrentCookies returns the cookie jar.
func (p *FakePage) CurrentCookies() []schemas.Cookie {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]schemas.Cookie(nil), p.cookies...)
}

// SetCookieJar seeds the cookie jar without recording an action.
func (p *FakePage) SetCookieJar(cookies []schemas.Cookie) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cookies = append([]schemas.Cookie(nil), cookies...)
}

// -- internals --

// record appends a and returns the scripted failure for it, if any.
func (p *FakePage) record(a Action) error {
	p.mu.Lock()
	p.actions = append(p.actions, a)
	err := p.failureLocked(a.Kind, a.Target)
	hook := p.OnAction
	p.mu.Unlock()

	if err == nil && hook != nil {
		hook(p, a)
	}
	return err
}

func (p *FakePage) failureLocked(kind, target string) error {
	if err, ok := p.failures[failureKey(kind, target)]; ok {
		return err
	}
	if err, ok := p.failures[kind]; ok {
		return err
	}
	return nil
}

func (p *FakePage) first(selector string) (*FakeElement, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	els := p.elements[selector]
	if len(els) == 0 {
		return nil, false
	}
	return els[0], true
}

func (p *FakePage) matches(q fakeQuery) []*FakeElement {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*FakeElement
	for _, el := range p.elements[q.selector] {
		if q.text != nil && !strings.Contains(el.Text, *q.text) {
			continue
		}
		out = append(out, el)
	}
	switch {
	case q.last:
		if len(out) == 0 {
			return nil
		}
		return out[len(out)-1:]
	case q.nth >= 0:
		if q.nth >= len(out) {
			return nil
		}
		return out[q.nth : q.nth+1]
	}
	return out
}

// -- schemas.Page --

func (p *FakePage) Goto(ctx context.Context, url string, opts schemas.NavigateOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.record(Action{Kind: ActGoto, Target: url}); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if to, ok := p.redirects[url]; ok {
		url = to
	}
	p.url = url
	return nil
}

func (p *FakePage) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.record(Action{Kind: ActReload})
}

func (p *FakePage) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *FakePage) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, el := range p.matches(fakeQuery{selector: selector, nth: -1}) {
		if !el.Hidden {
			return nil
		}
	}
	return fmt.Errorf("waiting for %q: %w", selector, ErrFakeTimeout)
}

func (p *FakePage) WaitForURL(ctx context.Context, match func(url string) bool, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	current, _ := p.URL(ctx)
	if match(current) {
		return nil
	}
	return fmt.Errorf("waiting for url (at %s): %w", current, ErrFakeTimeout)
}

func (p *FakePage) Fill(ctx context.Context, selector, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	el, ok := p.first(selector)
	if !ok {
		return fmt.Errorf("fill: no element matches %q", selector)
	}
	if err := p.record(Action{Kind: ActFill, Target: selector, Value: text}); err != nil {
		return err
	}
	p.mu.Lock()
	el.Value = text
	p.mu.Unlock()
	return nil
}

func (p *FakePage) Click(ctx context.Context, selector string, opts schemas.ClickOptions) error {
	return p.Locator(selector).Click(ctx, opts)
}

func (p *FakePage) Focus(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := p.first(selector); !ok {
		return fmt.Errorf("focus: no element matches %q", selector)
	}
	return p.record(Action{Kind: ActFocus, Target: selector})
}

func (p *FakePage) SelectOption(ctx context.Context, selector, label string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	el, ok := p.first(selector)
	if !ok {
		return fmt.Errorf("select: no element matches %q", selector)
	}
	if len(el.Options) > 0 {
		found := false
		for _, o := range el.Options {
			if o == label {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("select: no option %q in %q", label, selector)
		}
	}
	if err := p.record(Action{Kind: ActSelect, Target: selector, Value: label}); err != nil {
		return err
	}
	p.mu.Lock()
	el.Value = label
	p.mu.Unlock()
	return nil
}

func (p *FakePage) Keyboard() schemas.Keyboard {
	return &fakeKeyboard{page: p}
}

func (p *FakePage) Screenshot(ctx context.Context, selector string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, ok := p.first(selector); !ok {
		return nil, fmt.Errorf("screenshot: no element matches %q", selector)
	}
	if err := p.record(Action{Kind: ActScreenshot, Target: selector}); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.ScreenshotData...), nil
}

func (p *FakePage) Locator(selector string) schemas.Locator {
	return &fakeLocator{page: p, query: fakeQuery{selector: selector, nth: -1}}
}

func (p *FakePage) Content(ctx context.Context, selector string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	html, ok := p.html[selector]
	if !ok {
		return "", fmt.Errorf("content: no element matches %q", selector)
	}
	return html, nil
}

func (p *FakePage) Cookies(ctx context.Context) ([]schemas.Cookie, error) {
	return p.CurrentCookies(), nil
}

func (p *FakePage) SetCookies(ctx context.Context, cookies []schemas.Cookie) error {
	if err := p.record(Action{Kind: ActSetCookies, Value: fmt.Sprint(len(cookies))}); err != nil {
		return err
	}
	p.SetCookieJar(cookies)
	return nil
}

func (p *FakePage) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.slept += d
	return nil
}

// -- Keyboard --

type fakeKeyboard struct {
	page *FakePage
}

func (k *fakeKeyboard) Type(ctx context.Context, text string, delay time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return k.page.record(Action{Kind: ActType, Value: text, Delay: delay})
}

func (k *fakeKeyboard) Press(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return k.page.record(Action{Kind: ActPress, Target: key})
}

func (k *fakeKeyboard) Down(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return k.page.record(Action{Kind: ActDown, Target: key})
}

func (k *fakeKeyboard) Up(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return k.page.record(Action{Kind: ActUp, Target: key})
}

// -- Locator --

type fakeQuery struct {
	selector string
	text     *string
	nth      int
	last     bool
}

type fakeLocator struct {
	page  *FakePage
	query fakeQuery
}

func (l *fakeLocator) with(mutate func(q *fakeQuery)) schemas.Locator {
	q := l.query
	mutate(&q)
	return &fakeLocator{page: l.page, query: q}
}

func (l *fakeLocator) WithText(text string) schemas.Locator {
	return l.with(func(q *fakeQuery) { q.text = &text })
}

func (l *fakeLocator) Nth(i int) schemas.Locator {
	return l.with(func(q *fakeQuery) { q.nth, q.last = i, false })
}

func (l *fakeLocator) Last() schemas.Locator {
	return l.with(func(q *fakeQuery) { q.last, q.nth = true, -1 })
}

func (l *fakeLocator) label() string {
	if l.query.text != nil {
		return *l.query.text
	}
	return ""
}

func (l *fakeLocator) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return len(l.page.matches(l.query)), nil
}

func (l *fakeLocator) IsVisible(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	els := l.page.matches(l.query)
	if len(els) == 0 {
		return false, nil
	}
	return !els[0].Hidden, nil
}

func (l *fakeLocator) WaitVisible(ctx context.Context, timeout time.Duration) error {
	visible, err := l.IsVisible(ctx)
	if err != nil {
		return err
	}
	if !visible {
		return fmt.Errorf("waiting for %q to be visible: %w", l.query.selector, ErrFakeTimeout)
	}
	return nil
}

func (l *fakeLocator) GetAttribute(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	els := l.page.matches(l.query)
	if len(els) == 0 {
		return "", fmt.Errorf("attribute %s: no element matches %q", name, l.query.selector)
	}
	l.page.mu.Lock()
	defer l.page.mu.Unlock()
	return els[0].Attrs[name], nil
}

func (l *fakeLocator) Text(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	els := l.page.matches(l.query)
	if len(els) == 0 {
		return "", fmt.Errorf("text: no element matches %q", l.query.selector)
	}
	return els[0].Text, nil
}

func (l *fakeLocator) Click(ctx context.Context, opts schemas.ClickOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	els := l.page.matches(l.query)
	if len(els) == 0 {
		return fmt.Errorf("click: no element matches %q", l.query.selector)
	}
	if els[0].Hidden && !opts.Force {
		return fmt.Errorf("click: %q is not visible", l.query.selector)
	}
	target := l.query.selector
	if l.query.nth >= 0 {
		target = fmt.Sprintf("%s >> nth=%d", target, l.query.nth)
	}
	return l.page.record(Action{Kind: ActClick, Target: target, Value: l.label()})
}
