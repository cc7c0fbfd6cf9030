// internal/orderform/driver.go
package orderform

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tms-executor/api/schemas"
	"github.com/xkilldash9x/tms-executor/internal/config"
)

// MaxToggleAttempts bounds the action toggle convergence loop.
const MaxToggleAttempts = 3

// ErrToggleNotConverged means the wanted action segment was still inactive
// after MaxToggleAttempts clicks. Submitting then would place the opposite
// side, so Fill stops.
var ErrToggleNotConverged = errors.New("action toggle did not converge")

// Order entry selectors. The form exposes almost no stable hooks, so only the
// instrument select and the toggle are addressed directly; every other field
// is reached by moving focus with Tab.
const (
	instrumentSelector    = ".form-inst"
	toggleSelector        = "app-three-state-toggle"
	toggleSegmentSelector = "app-three-state-toggle .xtoggler-btn-wrapper"
	activeClass           = "is-active"
	submitSelector        = `button[type="submit"]`
	orderEntryMarker      = "memberclientorderentry"
)

// Field names used in FieldError.
const (
	FieldAction     = "action"
	FieldInstrument = "instrument"
	FieldSymbol     = "symbol"
	FieldQuantity   = "quantity"
	FieldPrice      = "price"
	FieldSubmit     = "submit"
)

// Timing holds the settle intervals and keystroke delays of the sequence.
type Timing struct {
	ReadyTimeout     time.Duration
	ReadySettle      time.Duration
	ToggleWait       time.Duration
	ToggleSettle     time.Duration
	InstrumentSettle time.Duration
	SymbolKeyDelay   time.Duration
	SuggestionWait   time.Duration
	PriceFetchSettle time.Duration
	QuantityKeyDelay time.Duration
	PriceKeyDelay    time.Duration
	PriceSettle      time.Duration
	SubmitSettle     time.Duration
}

// DefaultTiming matches how the terminal behaves on a normal connection.
func DefaultTiming() Timing {
	return Timing{
		ReadyTimeout:     20 * time.Second,
		ReadySettle:      time.Second,
		ToggleWait:       20 * time.Second,
		ToggleSettle:     time.Second,
		InstrumentSettle: 500 * time.Millisecond,
		SymbolKeyDelay:   100 * time.Millisecond,
		SuggestionWait:   time.Second,
		PriceFetchSettle: time.Second,
		QuantityKeyDelay: 50 * time.Millisecond,
		PriceKeyDelay:    50 * time.Millisecond,
		PriceSettle:      500 * time.Millisecond,
		SubmitSettle:     time.Second,
	}
}

// timingFromConfig overlays configured values on the defaults. Keystroke
// delays can be tuned but never switched off: the quantity and price inputs
// run masking listeners that drop characters typed without a pause.
func timingFromConfig(cfg config.OrderFormConfig) Timing {
	t := DefaultTiming()
	overlay := func(dst *time.Duration, v time.Duration) {
		if v > 0 {
			*dst = v
		}
	}
	overlay(&t.ReadyTimeout, cfg.ReadyTimeout)
	overlay(&t.SymbolKeyDelay, cfg.SymbolKeyDelay)
	overlay(&t.QuantityKeyDelay, cfg.QuantityKeyDelay)
	overlay(&t.PriceKeyDelay, cfg.PriceKeyDelay)
	overlay(&t.SuggestionWait, cfg.SuggestionWait)
	overlay(&t.ToggleSettle, cfg.ToggleSettle)
	return t
}

// FillReport describes what Fill did to the form.
type FillReport struct {
	Navigated       bool     `json:"navigated"`
	ToggleIndex     int      `json:"toggle_index"`
	ToggleClicks    int      `json:"toggle_clicks"`
	ToggleConverged bool     `json:"toggle_converged"`
	Steps           []string `json:"steps"`
}

// SubmitReport describes how the form was submitted. Warning carries
// schemas.ErrSubmissionAmbiguous when the Enter key fallback was used.
type SubmitReport struct {
	UsedButton bool  `json:"used_button"`
	Warning    error `json:"-"`
}

// Driver sequences the order entry form.
type Driver struct {
	orderEntryURL string
	navTimeout    time.Duration
	timing        Timing
	logger        *zap.Logger
}

// NewDriver creates a driver for the configured terminal.
func NewDriver(cfg *config.Config, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{
		orderEntryURL: cfg.TMS.OrderEntryURL(),
		navTimeout:    cfg.Browser.NavigationTimeout,
		timing:        timingFromConfig(cfg.OrderForm),
		logger:        logger.Named("order_form"),
	}
}

// Fill opens the order entry page if needed and fills every field in fixed
// order. It stops at the first failing step and never submits.
func (d *Driver) Fill(ctx context.Context, page schemas.Page, order schemas.TradeOrder) (FillReport, error) {
	report := FillReport{ToggleIndex: order.Action.ToggleIndex()}
	if err := order.Validate(); err != nil {
		return report, err
	}

	navigated, err := d.prepare(ctx, page)
	report.Navigated = navigated
	if err != nil {
		return report, err
	}

	steps := []struct {
		field string
		run   func() error
	}{
		{FieldAction, func() error { return d.setAction(ctx, page, order.Action, &report) }},
		{FieldInstrument, func() error { return d.selectInstrument(ctx, page, order.Instrument) }},
		{FieldSymbol, func() error { return d.enterSymbol(ctx, page, order.Symbol) }},
		{FieldQuantity, func() error { return d.enterQuantity(ctx, page, order.Quantity) }},
		{FieldPrice, func() error { return d.enterPrice(ctx, page, order.Price) }},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return report, fmt.Errorf("order form %s step: %w", step.field, ctxErr)
			}
			d.logger.Error("Order form step failed.", zap.String("field", step.field), zap.Error(err))
			return report, schemas.NewFieldError(step.field, err)
		}
		report.Steps = append(report.Steps, step.field)
	}

	d.logger.Info("Order form filled.",
		zap.String("action", string(order.Action)),
		zap.String("symbol", order.Symbol),
		zap.String("quantity", order.Quantity),
		zap.String("price", order.Price),
	)
	return report, nil
}

// prepare makes sure the order entry form is on screen.
func (d *Driver) prepare(ctx context.Context, page schemas.Page) (bool, error) {
	navigated := false
	current, err := page.URL(ctx)
	if err != nil || !strings.Contains(current, orderEntryMarker) {
		d.logger.Info("Navigating to order entry.", zap.String("url", d.orderEntryURL))
		if err := page.Goto(ctx, d.orderEntryURL, schemas.NavigateOptions{Timeout: d.navTimeout}); err != nil {
			return false, fmt.Errorf("%w: %w", schemas.ErrFormNotReady, err)
		}
		navigated = true
	}

	if err := page.WaitForSelector(ctx, instrumentSelector, d.timing.ReadyTimeout); err != nil {
		return navigated, fmt.Errorf("%w: %w", schemas.ErrFormNotReady, err)
	}
	if err := page.Sleep(ctx, d.timing.ReadySettle); err != nil {
		return navigated, err
	}
	return navigated, nil
}

// setAction converges the three-state toggle on the wanted segment. A segment
// that is already active is never clicked, so a second click cannot flip it
// back.
func (d *Driver) setAction(ctx context.Context, page schemas.Page, action schemas.Action, report *FillReport) error {
	toggle := page.Locator(toggleSelector)
	if err := toggle.WaitVisible(ctx, d.timing.ToggleWait); err != nil {
		d.logger.Warn("Action toggle did not become visible.", zap.Error(err))
	}
	if n, err := toggle.Count(ctx); err != nil || n == 0 {
		return errors.New("action toggle not found")
	}

	segments := page.Locator(toggleSegmentSelector)
	n, err := segments.Count(ctx)
	if err != nil {
		return err
	}
	if n < 3 {
		return fmt.Errorf("action toggle has %d segments, want 3", n)
	}

	target := segments.Nth(action.ToggleIndex())
	for attempt := 1; attempt <= MaxToggleAttempts; attempt++ {
		active, err := isActive(ctx, target)
		if err != nil {
			return err
		}
		if active {
			report.ToggleConverged = true
			d.logger.Info("Action set.", zap.String("action", string(action)), zap.Int("clicks", report.ToggleClicks))
			return nil
		}

		d.logger.Debug("Clicking action toggle.", zap.Int("index", action.ToggleIndex()), zap.Int("attempt", attempt))
		if err := target.Click(ctx, schemas.ClickOptions{Force: true}); err != nil {
			return err
		}
		report.ToggleClicks++
		if err := page.Sleep(ctx, d.timing.ToggleSettle); err != nil {
			return err
		}
	}

	// Read once more so the report reflects the final state.
	if active, err := isActive(ctx, target); err == nil && active {
		report.ToggleConverged = true
		return nil
	}
	d.logger.Warn("Action toggle did not converge.",
		zap.String("action", string(action)),
		zap.Int("clicks", report.ToggleClicks),
	)
	return fmt.Errorf("%w after %d clicks", ErrToggleNotConverged, report.ToggleClicks)
}

func isActive(ctx context.Context, segment schemas.Locator) (bool, error) {
	class, err := segment.GetAttribute(ctx, "class")
	if err != nil {
		return false, err
	}
	return strings.Contains(class, activeClass), nil
}

func (d *Driver) selectInstrument(ctx context.Context, page schemas.Page, instrument string) error {
	if err := page.SelectOption(ctx, instrumentSelector, instrument); err != nil {
		return err
	}
	return page.Sleep(ctx, d.timing.InstrumentSettle)
}

// enterSymbol drives the autocomplete from the keyboard and accepts the
// first suggestion.
func (d *Driver) enterSymbol(ctx context.Context, page schemas.Page, symbol string) error {
	kb := page.Keyboard()
	if err := page.Focus(ctx, instrumentSelector); err != nil {
		return err
	}
	if err := kb.Press(ctx, schemas.KeyTab); err != nil {
		return err
	}
	if err := kb.Type(ctx, symbol, d.timing.SymbolKeyDelay); err != nil {
		return err
	}
	if err := page.Sleep(ctx, d.timing.SuggestionWait); err != nil {
		return err
	}
	if err := kb.Press(ctx, schemas.KeyArrowDown); err != nil {
		return err
	}
	if err := kb.Press(ctx, schemas.KeyEnter); err != nil {
		return err
	}
	return page.Sleep(ctx, d.timing.PriceFetchSettle)
}

func (d *Driver) enterQuantity(ctx context.Context, page schemas.Page, quantity string) error {
	kb := page.Keyboard()
	if err := kb.Press(ctx, schemas.KeyTab); err != nil {
		return err
	}
	return kb.Type(ctx, quantity, d.timing.QuantityKeyDelay)
}

// enterPrice replaces the pre-filled reference price.
func (d *Driver) enterPrice(ctx context.Context, page schemas.Page, price string) error {
	kb := page.Keyboard()
	keys := []func() error{
		func() error { return kb.Press(ctx, schemas.KeyTab) },
		func() error { return kb.Down(ctx, schemas.KeyControl) },
		func() error { return kb.Press(ctx, schemas.KeyA) },
		func() error { return kb.Up(ctx, schemas.KeyControl) },
		func() error { return kb.Press(ctx, schemas.KeyBackspace) },
		func() error { return kb.Type(ctx, price, d.timing.PriceKeyDelay) },
	}
	for _, key := range keys {
		if err := key(); err != nil {
			return err
		}
	}
	return page.Sleep(ctx, d.timing.PriceSettle)
}

// Submit clicks the form's submit button, falling back to Enter when the
// button cannot be found.
func (d *Driver) Submit(ctx context.Context, page schemas.Page) (SubmitReport, error) {
	var report SubmitReport

	btn := page.Locator(submitSelector).Nth(0)
	count, err := btn.Count(ctx)
	if err == nil && count > 0 {
		if err := btn.Click(ctx, schemas.ClickOptions{}); err != nil {
			return report, schemas.NewFieldError(FieldSubmit, err)
		}
		report.UsedButton = true
		d.logger.Info("Order submitted.")
	} else {
		d.logger.Warn("Submit button not found, pressing Enter.", zap.Error(err))
		if err := page.Keyboard().Press(ctx, schemas.KeyEnter); err != nil {
			return report, schemas.NewFieldError(FieldSubmit, err)
		}
		report.Warning = schemas.ErrSubmissionAmbiguous
	}

	if err := page.Sleep(ctx, d.timing.SubmitSettle); err != nil {
		return report, err
	}
	return report, nil
}
