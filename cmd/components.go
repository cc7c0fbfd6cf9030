// File: cmd/components.go
package cmd

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tms-executor/api/schemas"
	"github.com/xkilldash9x/tms-executor/internal/browser"
	"github.com/xkilldash9x/tms-executor/internal/captcha"
	"github.com/xkilldash9x/tms-executor/internal/config"
	"github.com/xkilldash9x/tms-executor/internal/orchestrator"
	"github.com/xkilldash9x/tms-executor/internal/sessionstore"
)

const shutdownTimeout = 15 * time.Second

// workflow is the part of the orchestrator the commands drive.
type workflow interface {
	PlaceOrder(ctx context.Context, order schemas.TradeOrder) (*orchestrator.Result, error)
	CheckOrders(ctx context.Context) (*orchestrator.Result, error)
	Dashboard(ctx context.Context) (*orchestrator.Result, error)
}

// workflowProvider builds a workflow and the function that releases what it
// holds. Tests swap in a provider that never launches Chrome.
type workflowProvider interface {
	Create(ctx context.Context, cfg *config.Config, logger *zap.Logger) (workflow, func(context.Context) error, error)
}

type defaultWorkflowProvider struct{}

// components holds initialized services.
type components struct {
	Browser      *browser.Manager
	Orchestrator *orchestrator.Orchestrator
	closeStore   func()
}

// Shutdown closes the browser and the session store, reporting every failure.
func (c *components) Shutdown(ctx context.Context) error {
	var errs error
	if c.Browser != nil {
		errs = multierr.Append(errs, c.Browser.Shutdown(ctx))
	}
	if c.closeStore != nil {
		c.closeStore()
	}
	return errs
}

func (defaultWorkflowProvider) Create(ctx context.Context, cfg *config.Config, logger *zap.Logger) (workflow, func(context.Context) error, error) {
	c, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		if c != nil {
			_ = c.Shutdown(ctx)
		}
		return nil, nil, err
	}
	return c.Orchestrator, c.Shutdown, nil
}

// initializeComponents handles dependency injection.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*components, error) {
	c := &components{}

	// 1. Session store
	store, closeStore, err := sessionstore.Open(ctx, cfg.Session, logger)
	if err != nil {
		return c, fmt.Errorf("failed to open session store: %w", err)
	}
	c.closeStore = closeStore

	// 2. CAPTCHA recognizer
	recognizer, err := captcha.NewRecognizer(ctx, cfg.Captcha, logger)
	if err != nil {
		return c, fmt.Errorf("failed to initialize captcha recognizer: %w", err)
	}
	solver := captcha.NewSolver(recognizer, logger)

	// 3. Browser manager. Chrome starts on the first page request.
	c.Browser = browser.NewManager(cfg.Browser, logger)
	openPage := func(ctx context.Context) (schemas.Page, error) {
		page, err := c.Browser.Page(ctx)
		if err != nil {
			return nil, err
		}
		return page, nil
	}

	// 4. Orchestrator
	orch, err := orchestrator.New(cfg, logger, openPage, solver, store)
	if err != nil {
		return c, fmt.Errorf("failed to create orchestrator: %w", err)
	}
	c.Orchestrator = orch
	return c, nil
}

// shutdown releases the workflow on a fresh context so cleanup still runs
// after the command context was cancelled.
func shutdown(release func(context.Context) error, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := release(ctx); err != nil {
		logger.Warn("Error during shutdown", zap.Error(err))
	}
}
