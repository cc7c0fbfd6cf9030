// internal/login/machine.go
package login

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tms-executor/api/schemas"
	"github.com/xkilldash9x/tms-executor/internal/config"
	"github.com/xkilldash9x/tms-executor/internal/sessionstore"
)

// MaxCaptchaAttempts bounds the CAPTCHA loop when the configuration does not
// say otherwise.
const MaxCaptchaAttempts = 3

// Login page selectors.
const (
	usernameSelector     = `input[placeholder="Client Code/ User Name"]`
	passwordSelector     = `input[id="password-field"]`
	captchaInputSelector = `input[id="captchaEnter"]`
)

// Timing budgets.
const (
	fastPathWait = 3 * time.Second
	submitWait   = 15 * time.Second
	reloadSettle = 2 * time.Second
)

// CaptchaSolver reads the CAPTCHA currently shown on a page. The returned
// attempt's Number is assigned by the machine.
type CaptchaSolver interface {
	Solve(ctx context.Context, page schemas.Page) schemas.CaptchaAttempt
}

// Outcome summarises one run of the state machine.
type Outcome struct {
	State    State
	Attempts int
	// FastPath is true when a restored session skipped the login form.
	FastPath        bool
	CredentialFills int
	SessionSaved    bool
	CaptchaAttempts []schemas.CaptchaAttempt
}

// Machine drives the login page until the browser lands somewhere
// authenticated or the attempt budget runs out.
type Machine struct {
	baseURL     string
	marker      string
	creds       schemas.Credentials
	navTimeout  time.Duration
	maxAttempts int
	solver      CaptchaSolver
	store       sessionstore.Store
	logger      *zap.Logger
}

// NewMachine builds a machine from the immutable run configuration. A nil
// store disables session persistence.
func NewMachine(cfg *config.Config, solver CaptchaSolver, store sessionstore.Store, logger *zap.Logger) *Machine {
	if store == nil {
		store = sessionstore.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	attempts := cfg.Captcha.MaxAttempts
	if attempts <= 0 {
		attempts = MaxCaptchaAttempts
	}
	marker := cfg.TMS.AuthenticatedMarker
	if marker == "" {
		marker = "dashboard"
	}
	return &Machine{
		baseURL:     cfg.TMS.BaseURL,
		marker:      marker,
		creds:       cfg.TMS.Credentials,
		navTimeout:  cfg.Browser.NavigationTimeout,
		maxAttempts: attempts,
		solver:      solver,
		store:       store,
		logger:      logger.Named("login"),
	}
}

// IsAuthenticated reports whether url is past the login page.
func (m *Machine) IsAuthenticated(url string) bool {
	return strings.Contains(url, m.marker)
}

// run carries the mutable state of one Run call.
type run struct {
	page    schemas.Page
	outcome Outcome
	attempt int
	lastErr error
}

// Run executes the state machine on page. On failure the returned error
// wraps schemas.ErrLoginFailed or schemas.ErrMissingCredentials.
func (m *Machine) Run(ctx context.Context, page schemas.Page) (Outcome, error) {
	if err := m.creds.Validate(); err != nil {
		m.logger.Error("Refusing to log in without credentials.")
		return Outcome{State: StateFailed}, err
	}

	r := &run{page: page}
	state := StateStart
	for {
		m.logger.Debug("Login state", zap.Stringer("state", state), zap.Int("attempt", r.attempt))
		r.outcome.State = state

		switch state {
		case StateStart:
			state = m.start(ctx, r)
		case StateCheckAlreadyAuthenticated:
			state = m.checkAuthenticated(ctx, r)
		case StateCredentialEntry:
			state = m.enterCredentials(ctx, r)
		case StateCaptchaLoop:
			state = m.captchaAttempt(ctx, r)
		case StateReload:
			state = m.reload(ctx, r)
		case StateAuthenticated:
			r.outcome.Attempts = r.attempt
			m.logger.Info("Login successful.",
				zap.Int("captcha_attempts", r.attempt),
				zap.Bool("fast_path", r.outcome.FastPath),
			)
			return r.outcome, nil
		case StateFailed:
			r.outcome.Attempts = r.attempt
			err := fmt.Errorf("%w after %d attempts", schemas.ErrLoginFailed, r.attempt)
			if r.lastErr != nil {
				err = fmt.Errorf("%w after %d attempts: %w", schemas.ErrLoginFailed, r.attempt, r.lastErr)
			}
			m.logger.Error("Login failed.", zap.Error(err))
			return r.outcome, err
		default:
			return r.outcome, fmt.Errorf("login: unknown state %v", state)
		}
	}
}

func (m *Machine) start(ctx context.Context, r *run) State {
	if saved, ok := m.store.Load(ctx); ok {
		if err := r.page.SetCookies(ctx, saved.Cookies); err != nil {
			m.logger.Warn("Could not restore saved session.", zap.Error(err))
		} else {
			m.logger.Info("Restored saved session.", zap.Int("cookies", len(saved.Cookies)))
		}
	}

	if err := r.page.Goto(ctx, m.baseURL, schemas.NavigateOptions{Timeout: m.navTimeout}); err != nil {
		r.lastErr = fmt.Errorf("navigating to %s: %w", m.baseURL, err)
		return StateFailed
	}
	return StateCheckAlreadyAuthenticated
}

func (m *Machine) checkAuthenticated(ctx context.Context, r *run) State {
	if err := r.page.WaitForURL(ctx, m.IsAuthenticated, fastPathWait); err == nil {
		m.logger.Info("Already logged in.")
		r.outcome.FastPath = true
		return StateAuthenticated
	}
	if ctx.Err() != nil {
		r.lastErr = ctx.Err()
		return StateFailed
	}
	return StateCredentialEntry
}

// enterCredentials fills the login form when it is present. The fill runs
// even after a failed fast-path check; a missing form is not an error.
func (m *Machine) enterCredentials(ctx context.Context, r *run) State {
	count, err := r.page.Locator(usernameSelector).Count(ctx)
	if err != nil || count == 0 {
		m.logger.Debug("Login form not present, going straight to CAPTCHA.", zap.Error(err))
		return StateCaptchaLoop
	}

	if err := r.page.Fill(ctx, usernameSelector, m.creds.Username); err != nil {
		m.logger.Warn("Failed to fill username.", zap.Error(err))
		return StateCaptchaLoop
	}
	if err := r.page.Fill(ctx, passwordSelector, m.creds.Password); err != nil {
		m.logger.Warn("Failed to fill password.", zap.Error(err))
		return StateCaptchaLoop
	}
	r.outcome.CredentialFills++
	return StateCaptchaLoop
}

func (m *Machine) captchaAttempt(ctx context.Context, r *run) State {
	if r.attempt >= m.maxAttempts {
		return StateFailed
	}
	r.attempt++

	var attempt schemas.CaptchaAttempt
	if m.solver != nil {
		attempt = m.solver.Solve(ctx, r.page)
	}
	attempt.Number = r.attempt
	r.outcome.CaptchaAttempts = append(r.outcome.CaptchaAttempts, attempt)
	text := attempt.Text

	if !attempt.Solved {
		r.lastErr = schemas.ErrCaptchaUnsolvable
		m.logger.Warn("CAPTCHA not solved, reloading.", zap.Int("attempt", r.attempt))
		return StateReload
	}

	m.logger.Info("Submitting CAPTCHA.", zap.Int("attempt", r.attempt), zap.String("captcha", text))
	if err := m.submit(ctx, r.page, text); err != nil {
		r.lastErr = err
		if ctx.Err() != nil {
			return StateFailed
		}
		m.logger.Warn("Login attempt failed, retrying.", zap.Int("attempt", r.attempt), zap.Error(err))
		return StateReload
	}

	m.saveSession(ctx, r)
	return StateAuthenticated
}

// submit enters the CAPTCHA and presses Enter, which is the form's default
// action, then waits for the authenticated location.
func (m *Machine) submit(ctx context.Context, page schemas.Page, text string) error {
	if err := page.Fill(ctx, captchaInputSelector, text); err != nil {
		return fmt.Errorf("filling captcha: %w", err)
	}
	if err := page.Keyboard().Press(ctx, schemas.KeyEnter); err != nil {
		return fmt.Errorf("submitting login form: %w", err)
	}
	if err := page.WaitForURL(ctx, m.IsAuthenticated, submitWait); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", schemas.ErrLoginTimeout, err)
	}
	return nil
}

// reload fetches a fresh CAPTCHA image. The credential form is filled again
// because a reload clears it.
func (m *Machine) reload(ctx context.Context, r *run) State {
	if err := r.page.Reload(ctx); err != nil {
		m.logger.Warn("Reload failed.", zap.Error(err))
	}
	if err := r.page.Sleep(ctx, reloadSettle); err != nil {
		r.lastErr = err
		return StateFailed
	}
	if r.attempt >= m.maxAttempts {
		return StateFailed
	}
	return StateCredentialEntry
}

func (m *Machine) saveSession(ctx context.Context, r *run) {
	cookies, err := r.page.Cookies(ctx)
	if err != nil {
		m.logger.Warn("Could not read session cookies.", zap.Error(err))
		return
	}
	state := schemas.SessionState{Cookies: cookies, SavedAt: time.Now().UTC()}
	if err := m.store.Save(ctx, state); err != nil {
		m.logger.Warn("Could not persist session.", zap.Error(err))
		return
	}
	r.outcome.SessionSaved = true
}
