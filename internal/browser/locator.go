// internal/browser/locator.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/tms-executor/api/schemas"
)

// locator is resolved in the page on every terminal call, so it never holds
// a stale node reference.
type locator struct {
	page  *Page
	query locatorQuery
}

var _ schemas.Locator = (*locator)(nil)

func (l *locator) with(fn func(q *locatorQuery)) *locator {
	q := l.query
	fn(&q)
	return &locator{page: l.page, query: q}
}

func (l *locator) WithText(text string) schemas.Locator {
	return l.with(func(q *locatorQuery) { q.Text = &text })
}

func (l *locator) Nth(i int) schemas.Locator {
	return l.with(func(q *locatorQuery) { q.Pick, q.Index = "nth", i })
}

func (l *locator) Last() schemas.Locator {
	return l.with(func(q *locatorQuery) { q.Pick = "last" })
}

func (l *locator) String() string {
	s := l.query.Selector
	if l.query.Text != nil {
		s += fmt.Sprintf(" :has-text(%q)", *l.query.Text)
	}
	switch l.query.Pick {
	case "last":
		s += " >> last"
	case "nth":
		s += fmt.Sprintf(" >> nth=%d", l.query.Index)
	}
	return s
}

func (l *locator) do(ctx context.Context, op string, out interface{}) error {
	q := l.query
	q.Op = op
	return l.page.evaluate(ctx, resolverScript(q), out)
}

func (l *locator) Count(ctx context.Context) (int, error) {
	var n int
	if err := l.do(ctx, opCount, &n); err != nil {
		return 0, fmt.Errorf("count %s: %w", l, err)
	}
	return n, nil
}

func (l *locator) IsVisible(ctx context.Context) (bool, error) {
	var v bool
	if err := l.do(ctx, opVisible, &v); err != nil {
		return false, fmt.Errorf("visibility of %s: %w", l, err)
	}
	return v, nil
}

// WaitVisible polls until the element is visible or timeout passes.
func (l *locator) WaitVisible(ctx context.Context, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(urlPollInterval)
	defer ticker.Stop()
	for {
		if ok, err := l.IsVisible(waitCtx); err == nil && ok {
			return nil
		}
		select {
		case <-waitCtx.Done():
			if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%s not visible after %v: %w", l, timeout, context.DeadlineExceeded)
			}
			return waitCtx.Err()
		case <-ticker.C:
		}
	}
}

func (l *locator) GetAttribute(ctx context.Context, name string) (string, error) {
	var v *string
	q := l.query
	q.Op, q.Name = opAttr, name
	if err := l.page.evaluate(ctx, resolverScript(q), &v); err != nil {
		return "", fmt.Errorf("attribute %s of %s: %w", name, l, err)
	}
	if v == nil {
		return "", nil
	}
	return *v, nil
}

func (l *locator) Text(ctx context.Context) (string, error) {
	var v *string
	if err := l.do(ctx, opText, &v); err != nil {
		return "", fmt.Errorf("text of %s: %w", l, err)
	}
	if v == nil {
		return "", fmt.Errorf("text of %s: no matching element", l)
	}
	return *v, nil
}

// Click scrolls the element into view and clicks its centre with a real
// mouse event. A forced click on an element without a usable box falls back
// to a DOM click.
func (l *locator) Click(ctx context.Context, opts schemas.ClickOptions) error {
	var box *elementBox
	if err := l.do(ctx, opBox, &box); err != nil {
		return fmt.Errorf("click %s: %w", l, err)
	}
	if box == nil {
		return fmt.Errorf("click %s: no matching element", l)
	}
	if !box.Visible {
		if !opts.Force {
			return fmt.Errorf("click %s: element not visible", l)
		}
		var ok bool
		if err := l.do(ctx, opClick, &ok); err != nil {
			return fmt.Errorf("forced click %s: %w", l, err)
		}
		return nil
	}

	if err := l.page.run(ctx, l.page.actionTimeout, chromedp.MouseClickXY(box.X, box.Y)); err != nil {
		return fmt.Errorf("click %s: %w", l, err)
	}
	return nil
}
