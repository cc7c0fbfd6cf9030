// internal/browser/page.go
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tms-executor/api/schemas"
)

const (
	defaultActionTimeout = 10 * time.Second
	defaultNavTimeout    = 60 * time.Second
	urlPollInterval      = 200 * time.Millisecond
)

// Page drives a single chromedp tab. Every primitive runs under its own
// deadline combined with the tab context.
type Page struct {
	ctx           context.Context // tab context; carries the chromedp target
	logger        *zap.Logger
	actionTimeout time.Duration
	navTimeout    time.Duration
	keyboard      *keyboard
}

var _ schemas.Page = (*Page)(nil)

func newPage(tabCtx context.Context, logger *zap.Logger, actionTimeout, navTimeout time.Duration) *Page {
	if actionTimeout <= 0 {
		actionTimeout = defaultActionTimeout
	}
	if navTimeout <= 0 {
		navTimeout = defaultNavTimeout
	}
	p := &Page{
		ctx:           tabCtx,
		logger:        logger,
		actionTimeout: actionTimeout,
		navTimeout:    navTimeout,
	}
	p.keyboard = &keyboard{page: p}
	return p
}

// run executes actions under ctx's cancellation, the tab context and timeout.
func (p *Page) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := TabScope(p.ctx, ctx, timeout)
	defer cancel()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && timedOut(runCtx) {
		return fmt.Errorf("timed out after %v: %w", timeout, context.DeadlineExceeded)
	}
	return err
}

// evaluate runs a resolver script and decodes its enveloped result into out.
func (p *Page) evaluate(ctx context.Context, script string, out interface{}) error {
	var res scriptResult
	err := p.run(ctx, p.actionTimeout,
		chromedp.Evaluate(script, &res, func(ep *runtime.EvaluateParams) *runtime.EvaluateParams {
			return ep.WithReturnByValue(true).WithAwaitPromise(true).WithSilent(true)
		}),
	)
	if err != nil {
		return err
	}
	if out == nil || len(res.V) == 0 {
		return nil
	}
	if err := json.Unmarshal(res.V, out); err != nil {
		return fmt.Errorf("decoding script result %s: %w", string(res.V), err)
	}
	return nil
}

// Goto navigates and waits for the load event.
func (p *Page) Goto(ctx context.Context, url string, opts schemas.NavigateOptions) error {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = p.navTimeout
	}
	p.logger.Debug("Navigating", zap.String("url", url))

	if err := p.run(ctx, timeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

func (p *Page) Reload(ctx context.Context) error {
	if err := p.run(ctx, p.navTimeout, chromedp.Reload()); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	return nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	var u string
	if err := p.run(ctx, p.actionTimeout, chromedp.Location(&u)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return u, nil
}

func (p *Page) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	if err := p.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("wait for %q: %w", selector, err)
	}
	return nil
}

// WaitForURL polls the location until match is satisfied. Navigation in
// progress can make a single read fail; those errors are retried until the
// deadline.
func (p *Page) WaitForURL(ctx context.Context, match func(string) bool, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(urlPollInterval)
	defer ticker.Stop()

	var last string
	for {
		if u, err := p.URL(waitCtx); err == nil {
			last = u
			if match(u) {
				return nil
			}
		}
		select {
		case <-waitCtx.Done():
			if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("url condition not met after %v (last %q): %w", timeout, last, context.DeadlineExceeded)
			}
			return waitCtx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Page) Fill(ctx context.Context, selector, text string) error {
	var ok bool
	if err := p.evaluate(ctx, resolverScript(locatorQuery{Selector: selector, Op: opFill, Value: text}), &ok); err != nil {
		return fmt.Errorf("fill %q: %w", selector, err)
	}
	if !ok {
		return fmt.Errorf("fill %q: no matching element", selector)
	}
	return nil
}

func (p *Page) Click(ctx context.Context, selector string, opts schemas.ClickOptions) error {
	return p.Locator(selector).Click(ctx, opts)
}

func (p *Page) Focus(ctx context.Context, selector string) error {
	if err := p.run(ctx, p.actionTimeout, chromedp.Focus(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("focus %q: %w", selector, err)
	}
	return nil
}

func (p *Page) SelectOption(ctx context.Context, selector, label string) error {
	var ok bool
	q := locatorQuery{Selector: selector, Op: opSelect, Value: label}
	if err := p.evaluate(ctx, resolverScript(q), &ok); err != nil {
		return fmt.Errorf("select %q in %q: %w", label, selector, err)
	}
	if !ok {
		return fmt.Errorf("select %q in %q: no such option", label, selector)
	}
	return nil
}

func (p *Page) Keyboard() schemas.Keyboard { return p.keyboard }

func (p *Page) Screenshot(ctx context.Context, selector string) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, p.actionTimeout, chromedp.Screenshot(selector, &buf, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return nil, fmt.Errorf("screenshot %q: %w", selector, err)
	}
	return buf, nil
}

// FullScreenshot captures the whole page, used for run artifacts.
func (p *Page) FullScreenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, p.actionTimeout, chromedp.FullScreenshot(&buf, 80)); err != nil {
		return nil, fmt.Errorf("full screenshot: %w", err)
	}
	return buf, nil
}

func (p *Page) Locator(selector string) schemas.Locator {
	return &locator{page: p, query: locatorQuery{Selector: selector}}
}

func (p *Page) Content(ctx context.Context, selector string) (string, error) {
	var html *string
	if err := p.evaluate(ctx, resolverScript(locatorQuery{Selector: selector, Op: opHTML}), &html); err != nil {
		return "", fmt.Errorf("content of %q: %w", selector, err)
	}
	if html == nil {
		return "", fmt.Errorf("content of %q: no matching element", selector)
	}
	return *html, nil
}

func (p *Page) Cookies(ctx context.Context) ([]schemas.Cookie, error) {
	var raw []*network.Cookie
	err := p.run(ctx, p.actionTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		raw, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}

	cookies := make([]schemas.Cookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, schemas.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			Session:  c.Session,
			SameSite: schemas.CookieSameSite(c.SameSite),
		})
	}
	return cookies, nil
}

func (p *Page) SetCookies(ctx context.Context, cookies []schemas.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		cp := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: network.CookieSameSite(c.SameSite),
		}
		if !c.Session && c.Expires > 0 {
			exp := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
			cp.Expires = &exp
		}
		params = append(params, cp)
	}

	err := p.run(ctx, p.actionTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		return network.SetCookies(params).Do(ctx)
	}))
	if err != nil {
		return fmt.Errorf("set cookies: %w", err)
	}
	return nil
}

// Sleep waits for d without touching the browser.
func (p *Page) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return p.ctx.Err()
	case <-t.C:
		return nil
	}
}
