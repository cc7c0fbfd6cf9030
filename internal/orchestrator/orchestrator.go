// internal/orchestrator/orchestrator.go
// Runs the order workflow end to end on a single browser page. Components are
// built once from the immutable configuration; the page is handed to each
// phase in turn and never shared.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tms-executor/api/schemas"
	"github.com/xkilldash9x/tms-executor/internal/config"
	"github.com/xkilldash9x/tms-executor/internal/confirm"
	"github.com/xkilldash9x/tms-executor/internal/dashboard"
	"github.com/xkilldash9x/tms-executor/internal/login"
	"github.com/xkilldash9x/tms-executor/internal/orderbook"
	"github.com/xkilldash9x/tms-executor/internal/orderform"
	"github.com/xkilldash9x/tms-executor/internal/sessionstore"
	"github.com/xkilldash9x/tms-executor/internal/toast"
)

// PageOpener returns the page the workflow runs on.
type PageOpener func(ctx context.Context) (schemas.Page, error)

// fullScreenshotter is implemented by the real browser page.
type fullScreenshotter interface {
	FullScreenshot(ctx context.Context) ([]byte, error)
}

// Orchestrator sequences login, order entry, confirmation and verification.
type Orchestrator struct {
	cfg      *config.Config
	logger   *zap.Logger
	openPage PageOpener
	login    *login.Machine
	form     *orderform.Driver
	confirm  *confirm.Resolver
	now      func() time.Time
}

// New wires the workflow components. store may be nil to disable session reuse.
func New(
	cfg *config.Config,
	logger *zap.Logger,
	openPage PageOpener,
	solver login.CaptchaSolver,
	store sessionstore.Store,
) (*Orchestrator, error) {
	if cfg == nil || logger == nil || openPage == nil || solver == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	return &Orchestrator{
		cfg:      cfg,
		logger:   logger.Named("orchestrator"),
		openPage: openPage,
		login:    login.NewMachine(cfg, solver, store, logger),
		form:     orderform.NewDriver(cfg, logger),
		confirm:  confirm.NewResolver(logger),
		now:      time.Now,
	}, nil
}

// PlaceOrder logs in and places order. The returned Result is always
// non-nil; the error is set when the run stopped before confirmation.
func (o *Orchestrator) PlaceOrder(ctx context.Context, order schemas.TradeOrder) (*Result, error) {
	res := newResult(order.Action.Upper(), o.now())
	res.Order = &order
	log := o.logger.With(zap.String("run_id", res.RunID.String()))
	defer o.finish(res)

	if err := order.Validate(); err != nil {
		res.fail(StatusFailed, err)
		return res, err
	}

	log.Info("Placing order",
		zap.String("action", string(order.Action)),
		zap.String("instrument", order.Instrument),
		zap.String("symbol", order.Symbol),
		zap.String("quantity", order.Quantity),
		zap.String("price", order.Price),
	)

	page, err := o.authenticate(ctx, res)
	if err != nil {
		return res, err
	}

	fill, err := o.form.Fill(ctx, page, order)
	res.ToggleClicks = fill.ToggleClicks
	res.ActionSet = fill.ToggleConverged
	if err != nil {
		res.fail(StatusFormFailed, err)
		o.captureFailure(ctx, page, res)
		return res, err
	}

	submit, err := o.form.Submit(ctx, page)
	if err != nil {
		res.fail(StatusFailed, err)
		o.captureFailure(ctx, page, res)
		return res, err
	}
	res.note(submit.Warning)

	resolution, err := o.confirm.Resolve(ctx, page, order.Action)
	switch {
	case errors.Is(err, schemas.ErrConfirmationNotFound):
		res.fail(StatusUnconfirmed, err)
	case err != nil:
		res.fail(StatusFailed, err)
		o.captureFailure(ctx, page, res)
		return res, err
	default:
		res.Confirmation = resolution.Candidate.Label
	}

	notifications := toast.Capture(ctx, page, o.logger)
	res.Toasts = &notifications
	if notifications.Kind == toast.KindError && res.Status == StatusSuccess {
		res.fail(StatusFailed, fmt.Errorf("terminal rejected the order: %v", notifications.Messages))
	}
	if !res.OK() {
		o.captureFailure(ctx, page, res)
	}

	if o.cfg.Output.VerifyOrders {
		o.verify(ctx, page, res)
	}

	log.Info("Order workflow finished", zap.String("status", string(res.Status)))
	return res, nil
}

// CheckOrders logs in and reads today's order book.
func (o *Orchestrator) CheckOrders(ctx context.Context) (*Result, error) {
	res := newResult(ActionCheckOrders, o.now())
	defer o.finish(res)

	page, err := o.authenticate(ctx, res)
	if err != nil {
		return res, err
	}

	orders, err := orderbook.Extract(ctx, page, o.cfg.TMS.OrderBookURL(), o.logger)
	if err != nil {
		res.fail(StatusFailed, err)
		return res, err
	}
	res.Orders = orders
	return res, nil
}

// Dashboard logs in and reads the account summary from the client dashboard.
func (o *Orchestrator) Dashboard(ctx context.Context) (*Result, error) {
	res := newResult(ActionDashboard, o.now())
	defer o.finish(res)

	page, err := o.authenticate(ctx, res)
	if err != nil {
		return res, err
	}

	summary, err := dashboard.Extract(ctx, page, o.cfg.TMS.DashboardURL(), o.logger)
	if err != nil {
		res.fail(StatusFailed, err)
		return res, err
	}
	res.Dashboard = summary
	return res, nil
}

func (o *Orchestrator) authenticate(ctx context.Context, res *Result) (schemas.Page, error) {
	page, err := o.openPage(ctx)
	if err != nil {
		err = fmt.Errorf("opening browser page: %w", err)
		res.fail(StatusFailed, err)
		return nil, err
	}

	outcome, err := o.login.Run(ctx, page)
	res.LoginAttempts = outcome.Attempts
	res.FastPath = outcome.FastPath
	if err != nil {
		res.fail(StatusLoginFailed, err)
		o.captureFailure(ctx, page, res)
		return nil, err
	}
	return page, nil
}

// verify reads the order book after placing an order. Failures are noted but
// do not change the status.
func (o *Orchestrator) verify(ctx context.Context, page schemas.Page, res *Result) {
	orders, err := orderbook.Extract(ctx, page, o.cfg.TMS.OrderBookURL(), o.logger)
	if err != nil {
		o.logger.Warn("Order book verification failed.", zap.Error(err))
		res.note(fmt.Errorf("verification: %w", err))
		return
	}
	res.Orders = orders
}

// captureFailure saves a full-page screenshot next to the report when
// enabled. Best effort.
func (o *Orchestrator) captureFailure(ctx context.Context, page schemas.Page, res *Result) {
	if !o.cfg.Output.Screenshots {
		return
	}
	shooter, ok := page.(fullScreenshotter)
	if !ok {
		return
	}
	data, err := shooter.FullScreenshot(ctx)
	if err != nil {
		o.logger.Warn("Could not capture failure screenshot.", zap.Error(err))
		return
	}
	dir := o.cfg.Output.Dir
	if dir == "" {
		dir = "."
	}
	path := filepath.Join(dir, fmt.Sprintf("tms-failure-%s.png", res.RunID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		o.logger.Warn("Could not create output directory.", zap.Error(err))
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		o.logger.Warn("Could not write failure screenshot.", zap.Error(err))
		return
	}
	res.Screenshot = path
}

func (o *Orchestrator) finish(res *Result) {
	res.FinishedAt = o.now()
}
