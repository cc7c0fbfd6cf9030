// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/tms-executor/api/schemas"
)

// -- Recognizer Mock --

// MockRecognizer mocks the captcha.Recognizer interface.
type MockRecognizer struct {
	mock.Mock
}

// Recognize provides a mock function for vision model calls.
func (m *MockRecognizer) Recognize(ctx context.Context, image []byte, instruction string) (string, error) {
	args := m.Called(ctx, image, instruction)
	return args.String(0), args.Error(1)
}

// -- Session Store Mock --

// MockSessionStore mocks the sessionstore.Store interface.
type MockSessionStore struct {
	mock.Mock
}

func (m *MockSessionStore) Load(ctx context.Context) (schemas.SessionState, bool) {
	args := m.Called(ctx)
	state, _ := args.Get(0).(schemas.SessionState)
	return state, args.Bool(1)
}

func (m *MockSessionStore) Save(ctx context.Context, state schemas.SessionState) error {
	args := m.Called(ctx, state)
	return args.Error(0)
}

// -- Captcha Solver Mock --

// MockCaptchaSolver mocks the login.CaptchaSolver interface.
type MockCaptchaSolver struct {
	mock.Mock
}

// Solve returns the configured attempt.
func (m *MockCaptchaSolver) Solve(ctx context.Context, page schemas.Page) schemas.CaptchaAttempt {
	args := m.Called(ctx, page)
	return args.Get(0).(schemas.CaptchaAttempt)
}
