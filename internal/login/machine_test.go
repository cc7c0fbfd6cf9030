package login

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/tms-executor/api/schemas"
	"github.com/xkilldash9x/tms-executor/internal/config"
	"github.com/xkilldash9x/tms-executor/internal/mocks"
)

const (
	testBaseURL      = "https://tms.example"
	testDashboardURL = "https://tms.example/tms/client/dashboard"
)

func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.TMS.BaseURL = testBaseURL
	cfg.TMS.Credentials = schemas.Credentials{Username: "client01", Password: "s3cret"}
	return cfg
}

// loginPage renders the login form. Pressing Enter lands on the dashboard
// once acceptOnAttempt Enter presses have happened (0 never accepts).
func loginPage(acceptOnAttempt int) *mocks.FakePage {
	page := mocks.NewFakePage()
	page.AddElement(usernameSelector, mocks.FakeElement{})
	page.AddElement(passwordSelector, mocks.FakeElement{})
	page.AddElement(captchaInputSelector, mocks.FakeElement{})
	page.AddElement("img.captcha-image-dimension", mocks.FakeElement{})
	page.SetCookieJar([]schemas.Cookie{{Name: "JSESSIONID", Value: "fresh", Domain: "tms.example", Path: "/"}})

	enters := 0
	page.OnAction = func(p *mocks.FakePage, a mocks.Action) {
		if a.Kind == mocks.ActPress && a.Target == schemas.KeyEnter {
			enters++
			if acceptOnAttempt > 0 && enters >= acceptOnAttempt {
				p.SetURL(testDashboardURL)
			}
		}
	}
	return page
}

func absentStore() *mocks.MockSessionStore {
	store := new(mocks.MockSessionStore)
	store.On("Load", mock.Anything).Return(schemas.SessionState{}, false)
	return store
}

func TestRunUnsolvableCaptchaFailsAfterThreeCycles(t *testing.T) {
	solver := new(mocks.MockCaptchaSolver)
	solver.On("Solve", mock.Anything, mock.Anything).Return(schemas.CaptchaAttempt{})
	store := absentStore()
	page := loginPage(1)

	m := NewMachine(testConfig(), solver, store, zap.NewNop())
	outcome, err := m.Run(context.Background(), page)

	require.Error(t, err)
	assert.ErrorIs(t, err, schemas.ErrLoginFailed)
	assert.ErrorIs(t, err, schemas.ErrCaptchaUnsolvable)
	assert.Equal(t, StateFailed, outcome.State)
	assert.Equal(t, 3, outcome.Attempts)
	require.Len(t, outcome.CaptchaAttempts, 3)
	for i, a := range outcome.CaptchaAttempts {
		assert.Equal(t, i+1, a.Number)
		assert.False(t, a.Solved)
	}

	solver.AssertNumberOfCalls(t, "Solve", 3)
	assert.Len(t, page.Actions(mocks.ActReload), 3)
	assert.Empty(t, page.Actions(mocks.ActPress), "empty text is never submitted")
	for _, f := range page.Actions(mocks.ActFill) {
		assert.NotEqual(t, captchaInputSelector, f.Target)
	}
	store.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestRunRestoredSessionTakesFastPath(t *testing.T) {
	saved := schemas.SessionState{Cookies: []schemas.Cookie{{Name: "JSESSIONID", Value: "old"}}}
	store := new(mocks.MockSessionStore)
	store.On("Load", mock.Anything).Return(saved, true)
	solver := new(mocks.MockCaptchaSolver)

	page := loginPage(0)
	page.Redirect(testBaseURL, testDashboardURL)

	outcome, err := NewMachine(testConfig(), solver, store, zap.NewNop()).Run(context.Background(), page)
	require.NoError(t, err)

	assert.Equal(t, StateAuthenticated, outcome.State)
	assert.True(t, outcome.FastPath)
	assert.Zero(t, outcome.Attempts)
	assert.Zero(t, outcome.CredentialFills)
	assert.Empty(t, page.Actions(mocks.ActFill))
	solver.AssertNotCalled(t, "Solve", mock.Anything, mock.Anything)

	require.Len(t, page.Actions(mocks.ActSetCookies), 1)
	assert.Equal(t, saved.Cookies, page.CurrentCookies())
}

func TestRunStaleSessionFallsBackToFullLogin(t *testing.T) {
	stale := schemas.SessionState{Cookies: []schemas.Cookie{{Name: "JSESSIONID", Value: "expired"}}}
	fresh := []schemas.Cookie{{Name: "JSESSIONID", Value: "fresh", Domain: "tms.example", Path: "/"}}

	store := new(mocks.MockSessionStore)
	store.On("Load", mock.Anything).Return(stale, true)
	store.On("Save", mock.Anything, mock.MatchedBy(func(s schemas.SessionState) bool {
		return len(s.Cookies) == 1 && s.Cookies[0].Value == "fresh"
	})).Return(nil).Once()
	solver := new(mocks.MockCaptchaSolver)
	solver.On("Solve", mock.Anything, mock.Anything).Return(schemas.CaptchaAttempt{Text: "ab12", Solved: true}).Once()

	// The restored cookies are rejected: the base URL stays on the login
	// page, and only a real submission issues a new session cookie.
	page := loginPage(1)
	accept := page.OnAction
	page.OnAction = func(p *mocks.FakePage, a mocks.Action) {
		accept(p, a)
		if a.Kind == mocks.ActPress && a.Target == schemas.KeyEnter {
			p.SetCookieJar(fresh)
		}
	}

	outcome, err := NewMachine(testConfig(), solver, store, zap.NewNop()).Run(context.Background(), page)
	require.NoError(t, err)

	assert.Equal(t, StateAuthenticated, outcome.State)
	assert.False(t, outcome.FastPath)
	assert.Equal(t, 1, outcome.Attempts)
	assert.Equal(t, 1, outcome.CredentialFills)
	assert.True(t, outcome.SessionSaved)

	kinds := make([]string, 0, 6)
	for _, a := range page.Actions(mocks.ActSetCookies, mocks.ActGoto, mocks.ActFill, mocks.ActPress) {
		kinds = append(kinds, a.Kind)
	}
	assert.Equal(t, []string{
		mocks.ActSetCookies, mocks.ActGoto,
		mocks.ActFill, mocks.ActFill, mocks.ActFill,
		mocks.ActPress,
	}, kinds, "cookies are applied before navigation and the full form follows")
	assert.Empty(t, page.Actions(mocks.ActReload))

	solver.AssertNumberOfCalls(t, "Solve", 1)
	store.AssertExpectations(t)
}

func TestRunFirstAttemptSucceeds(t *testing.T) {
	solver := new(mocks.MockCaptchaSolver)
	solver.On("Solve", mock.Anything, mock.Anything).Return(schemas.CaptchaAttempt{Text: "ab12", Solved: true, Image: []byte("png")}).Once()
	store := absentStore()
	store.On("Save", mock.Anything, mock.MatchedBy(func(s schemas.SessionState) bool {
		return len(s.Cookies) == 1 && s.Cookies[0].Value == "fresh" && !s.SavedAt.IsZero()
	})).Return(nil).Once()

	page := loginPage(1)
	outcome, err := NewMachine(testConfig(), solver, store, zap.NewNop()).Run(context.Background(), page)
	require.NoError(t, err)

	assert.Equal(t, StateAuthenticated, outcome.State)
	assert.Equal(t, 1, outcome.Attempts)
	assert.False(t, outcome.FastPath)
	assert.True(t, outcome.SessionSaved)
	assert.Equal(t, 1, outcome.CredentialFills)
	require.Len(t, outcome.CaptchaAttempts, 1)
	assert.Equal(t, schemas.CaptchaAttempt{Number: 1, Text: "ab12", Solved: true, Image: []byte("png")}, outcome.CaptchaAttempts[0])

	fills := page.Actions(mocks.ActFill)
	require.Len(t, fills, 3)
	assert.Equal(t, mocks.Action{Kind: mocks.ActFill, Target: usernameSelector, Value: "client01"}, fills[0])
	assert.Equal(t, mocks.Action{Kind: mocks.ActFill, Target: passwordSelector, Value: "s3cret"}, fills[1])
	assert.Equal(t, mocks.Action{Kind: mocks.ActFill, Target: captchaInputSelector, Value: "ab12"}, fills[2])
	assert.Empty(t, page.Actions(mocks.ActReload))
	store.AssertExpectations(t)
}

func TestRunRetriesAfterTimeout(t *testing.T) {
	solver := new(mocks.MockCaptchaSolver)
	solver.On("Solve", mock.Anything, mock.Anything).Return(schemas.CaptchaAttempt{Text: "wrong1", Solved: true}).Once()
	solver.On("Solve", mock.Anything, mock.Anything).Return(schemas.CaptchaAttempt{Text: "right2", Solved: true}).Once()
	store := absentStore()
	store.On("Save", mock.Anything, mock.Anything).Return(nil)

	core, logs := observer.New(zap.WarnLevel)
	page := loginPage(2)
	outcome, err := NewMachine(testConfig(), solver, store, zap.New(core)).Run(context.Background(), page)
	require.NoError(t, err)

	assert.Equal(t, 2, outcome.Attempts)
	assert.Len(t, page.Actions(mocks.ActReload), 1)
	assert.Equal(t, 2, outcome.CredentialFills, "reload clears the form, so it is filled again")

	failures := logs.FilterMessage("Login attempt failed, retrying.").All()
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0].ContextMap()["error"], schemas.ErrLoginTimeout.Error())
}

func TestRunSaveFailureDoesNotAbortLogin(t *testing.T) {
	solver := new(mocks.MockCaptchaSolver)
	solver.On("Solve", mock.Anything, mock.Anything).Return(schemas.CaptchaAttempt{Text: "ab12", Solved: true})
	store := absentStore()
	store.On("Save", mock.Anything, mock.Anything).Return(errors.New("read-only filesystem"))

	outcome, err := NewMachine(testConfig(), solver, store, zap.NewNop()).Run(context.Background(), loginPage(1))
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, outcome.State)
	assert.False(t, outcome.SessionSaved)
}

func TestRunMissingCredentialsFailsClosed(t *testing.T) {
	cfg := testConfig()
	cfg.TMS.Credentials.Password = "  "
	page := loginPage(1)
	solver := new(mocks.MockCaptchaSolver)

	outcome, err := NewMachine(cfg, solver, nil, zap.NewNop()).Run(context.Background(), page)
	assert.ErrorIs(t, err, schemas.ErrMissingCredentials)
	assert.Equal(t, StateFailed, outcome.State)
	assert.Empty(t, page.Actions(), "page must not be touched")
}

func TestRunWithoutLoginFormSkipsFill(t *testing.T) {
	solver := new(mocks.MockCaptchaSolver)
	solver.On("Solve", mock.Anything, mock.Anything).Return(schemas.CaptchaAttempt{Text: "ab12", Solved: true})

	page := loginPage(1)
	page.RemoveElements(usernameSelector)

	outcome, err := NewMachine(testConfig(), solver, nil, zap.NewNop()).Run(context.Background(), page)
	require.NoError(t, err)
	assert.Zero(t, outcome.CredentialFills)
	fills := page.Actions(mocks.ActFill)
	require.Len(t, fills, 1)
	assert.Equal(t, captchaInputSelector, fills[0].Target)
}

func TestRunNavigationFailure(t *testing.T) {
	page := loginPage(1)
	page.Fail(mocks.ActGoto, "", errors.New("net::ERR_NAME_NOT_RESOLVED"))
	solver := new(mocks.MockCaptchaSolver)

	outcome, err := NewMachine(testConfig(), solver, absentStore(), zap.NewNop()).Run(context.Background(), page)
	assert.ErrorIs(t, err, schemas.ErrLoginFailed)
	assert.ErrorContains(t, err, "ERR_NAME_NOT_RESOLVED")
	assert.Zero(t, outcome.Attempts)
	solver.AssertNotCalled(t, "Solve", mock.Anything, mock.Anything)
}

func TestRunCancelledDuringReload(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	solver := new(mocks.MockCaptchaSolver)
	solver.On("Solve", mock.Anything, mock.Anything).Return(schemas.CaptchaAttempt{}).Run(func(mock.Arguments) { cancel() })

	_, err := NewMachine(testConfig(), solver, absentStore(), zap.NewNop()).Run(ctx, loginPage(1))
	assert.ErrorIs(t, err, schemas.ErrLoginFailed)
	assert.ErrorIs(t, err, context.Canceled)
	solver.AssertNumberOfCalls(t, "Solve", 1)
}

func TestIsAuthenticatedUsesMarker(t *testing.T) {
	cfg := testConfig()
	cfg.TMS.AuthenticatedMarker = "/home"
	m := NewMachine(cfg, nil, nil, nil)
	assert.True(t, m.IsAuthenticated("https://tms.example/tms/home"))
	assert.False(t, m.IsAuthenticated("https://tms.example/tms/dashboard"))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "CaptchaLoop", StateCaptchaLoop.String())
	assert.Equal(t, "Authenticated", StateAuthenticated.String())
	assert.Equal(t, "Unknown", State(42).String())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateReload.Terminal())
}
