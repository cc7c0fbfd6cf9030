package schemas

import "time"

// CookieSameSite mirrors the DevTools SameSite enum; empty means unset.
type CookieSameSite string

const (
	CookieSameSiteStrict CookieSameSite = "Strict"
	CookieSameSiteLax    CookieSameSite = "Lax"
	CookieSameSiteNone   CookieSameSite = "None"
)

// Cookie represents a browser cookie as reported by the DevTools protocol.
type Cookie struct {
	Name     string         `json:"name"`
	Value    string         `json:"value"`
	Domain   string         `json:"domain"`
	Path     string         `json:"path"`
	Expires  float64        `json:"expires"`
	HTTPOnly bool           `json:"httpOnly"`
	Secure   bool           `json:"secure"`
	Session  bool           `json:"session"`
	SameSite CookieSameSite `json:"sameSite,omitempty"`
}

// SessionState is the serialized authenticated browser context. The rest of
// the system treats it as opaque: it is captured after a successful login and
// replayed into a fresh page on the next run.
type SessionState struct {
	Cookies []Cookie  `json:"cookies"`
	SavedAt time.Time `json:"saved_at"`
}

// Empty reports whether the state carries nothing worth restoring.
func (s SessionState) Empty() bool {
	return len(s.Cookies) == 0
}
