package schemas

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every workflow phase. Callers match with errors.Is.
var (
	// ErrMissingCredentials is returned before any page interaction when the
	// username or password is blank.
	ErrMissingCredentials = errors.New("credentials missing")
	// ErrCaptchaUnsolvable marks an attempt where the solver produced no text.
	ErrCaptchaUnsolvable = errors.New("captcha could not be solved")
	// ErrLoginTimeout marks an attempt where the authenticated location never appeared.
	ErrLoginTimeout = errors.New("timed out waiting for authenticated location")
	// ErrLoginFailed is terminal: the CAPTCHA attempt budget is exhausted.
	ErrLoginFailed = errors.New("login failed")
	// ErrFormNotReady means the order entry form never rendered.
	ErrFormNotReady = errors.New("order form not ready")
	// ErrFormElementMissing means a specific form step could not be performed.
	ErrFormElementMissing = errors.New("order form element missing")
	// ErrSubmissionAmbiguous is reported when no submit button was found and
	// the Enter-key fallback was used.
	ErrSubmissionAmbiguous = errors.New("submission ambiguous: fell back to enter key")
	// ErrConfirmationNotFound means no confirmation candidate was visible.
	ErrConfirmationNotFound = errors.New("confirmation control not found")
)

// FieldError names the order form step that failed.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", ErrFormElementMissing, e.Field)
	}
	return fmt.Sprintf("%s: %s: %v", ErrFormElementMissing, e.Field, e.Err)
}

// Unwrap exposes both the category and the underlying cause.
func (e *FieldError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrFormElementMissing}
	}
	return []error{ErrFormElementMissing, e.Err}
}

// NewFieldError is a small convenience used by the form driver.
func NewFieldError(field string, err error) error {
	return &FieldError{Field: field, Err: err}
}
