// internal/login/state.go
package login

// State is a node of the login state machine.
type State int

const (
	StateStart State = iota
	StateCheckAlreadyAuthenticated
	StateCredentialEntry
	StateCaptchaLoop
	// StateReload refreshes the page between CAPTCHA attempts.
	StateReload
	StateAuthenticated
	StateFailed
)

var stateNames = [...]string{
	StateStart:                     "Start",
	StateCheckAlreadyAuthenticated: "CheckAlreadyAuthenticated",
	StateCredentialEntry:           "CredentialEntry",
	StateCaptchaLoop:               "CaptchaLoop",
	StateReload:                    "Reload",
	StateAuthenticated:             "Authenticated",
	StateFailed:                    "Failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}

// Terminal reports whether the machine stops in s.
func (s State) Terminal() bool {
	return s == StateAuthenticated || s == StateFailed
}
