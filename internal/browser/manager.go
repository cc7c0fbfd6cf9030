// internal/browser/manager.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/chromedp"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tms-executor/internal/browser/stealth"
	"github.com/xkilldash9x/tms-executor/internal/config"
)

// Manager owns the Chrome process and the single tab the workflow runs on.
type Manager struct {
	cfg     config.BrowserConfig
	persona stealth.Persona
	logger  *zap.Logger

	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc

	// Initialization state management
	initOnce sync.Once
	initErr  error
	page     *Page
}

// NewManager creates a browser manager. Chrome is not launched until the
// first call to Page.
func NewManager(cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	persona := stealth.DefaultPersona
	if cfg.UserAgent != "" {
		persona.UserAgent = cfg.UserAgent
	}
	if cfg.WindowWidth > 0 && cfg.WindowHeight > 0 {
		persona.Width, persona.Height = cfg.WindowWidth, cfg.WindowHeight
	}
	return &Manager{
		cfg:     cfg,
		persona: persona,
		logger:  logger.Named("browser_manager"),
	}
}

// allocatorFlags lists the Chrome switches derived from cfg. Kept separate
// from the allocator options so it can be inspected.
func allocatorFlags(cfg config.BrowserConfig, persona stealth.Persona) map[string]interface{} {
	flags := map[string]interface{}{
		"headless":                               cfg.Headless,
		"hide-scrollbars":                        cfg.Headless,
		"mute-audio":                             true,
		"disable-blink-features":                 "AutomationControlled",
		"disable-dev-shm-usage":                  true,
		"disable-background-networking":          true,
		"disable-renderer-backgrounding":         true,
		"disable-backgrounding-occluded-windows": true,
		"disable-popup-blocking":                 true,
		"no-first-run":                           true,
		"no-default-browser-check":               true,
		"password-store":                         "basic",
		"use-mock-keychain":                      true,
		"disable-features":                       "Translate",
	}
	if persona.UserAgent != "" {
		flags["user-agent"] = persona.UserAgent
	}
	if persona.Width > 0 && persona.Height > 0 {
		flags["window-size"] = fmt.Sprintf("%d,%d", persona.Width, persona.Height)
	}
	return flags
}

// AllocatorOptions builds the ExecAllocator options for cfg.
func AllocatorOptions(cfg config.BrowserConfig, persona stealth.Persona) []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
	}
	for name, value := range allocatorFlags(cfg, persona) {
		opts = append(opts, chromedp.Flag(name, value))
	}
	for _, arg := range cfg.Args {
		name, value := splitArg(arg)
		opts = append(opts, chromedp.Flag(name, value))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}

// splitArg turns "--name=value" or "--name" into a flag name and value.
func splitArg(arg string) (string, interface{}) {
	name, value, ok := strings.Cut(strings.TrimLeft(arg, "-"), "=")
	if !ok {
		return name, true
	}
	return name, value
}

// initialize launches Chrome, opens the tab and applies the persona.
func (m *Manager) initialize(ctx context.Context) error {
	m.initOnce.Do(func() {
		m.logger.Info("Launching browser", zap.Bool("headless", m.cfg.Headless))

		// Chrome must outlive the caller's operational deadline.
		m.allocCtx, m.allocCancel = chromedp.NewExecAllocator(context.WithoutCancel(ctx), AllocatorOptions(m.cfg, m.persona)...)
		m.tabCtx, m.tabCancel = chromedp.NewContext(m.allocCtx,
			chromedp.WithLogf(m.logger.Sugar().Debugf),
			chromedp.WithErrorf(m.logger.Sugar().Debugf),
		)

		// The first Run allocates the browser and ties its lifetime to the
		// context it is given, so it runs on the tab context itself.
		if err := chromedp.Run(m.tabCtx); err != nil {
			m.tabCancel()
			m.allocCancel()
			m.initErr = fmt.Errorf("failed to start browser: %w", err)
			return
		}

		if m.cfg.Stealth {
			startCtx, cancel := TabScope(m.tabCtx, ctx, 0)
			defer cancel()
			if err := chromedp.Run(startCtx, stealth.Apply(m.persona, m.logger)); err != nil {
				m.tabCancel()
				m.allocCancel()
				m.initErr = fmt.Errorf("failed to apply stealth persona: %w", err)
				return
			}
		}

		m.page = newPage(m.tabCtx, m.logger.Named("page"), m.cfg.ActionTimeout, m.cfg.NavigationTimeout)
		m.logger.Info("Browser ready")
	})
	return m.initErr
}

// Page returns the workflow tab, launching Chrome on first use.
func (m *Manager) Page(ctx context.Context) (*Page, error) {
	if err := m.initialize(ctx); err != nil {
		return nil, err
	}
	return m.page, nil
}

// Shutdown closes the tab and the browser process.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.tabCtx == nil {
		return nil
	}
	m.logger.Info("Shutting down browser")

	var errs error
	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(m.tabCtx) }()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			errs = multierr.Append(errs, fmt.Errorf("closing tab: %w", err))
		}
	case <-ctx.Done():
		errs = multierr.Append(errs, fmt.Errorf("closing tab: %w", ctx.Err()))
	}

	m.tabCancel()
	m.allocCancel()
	return errs
}
