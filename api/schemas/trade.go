// File: api/schemas/trade.go
package schemas

import (
	"fmt"
	"strings"
)

// Action is the side of an order.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// ParseAction accepts "buy"/"sell" in any case.
func ParseAction(s string) (Action, error) {
	switch Action(strings.ToUpper(strings.TrimSpace(s))) {
	case ActionBuy:
		return ActionBuy, nil
	case ActionSell:
		return ActionSell, nil
	default:
		return "", fmt.Errorf("unknown action %q: expected buy or sell", s)
	}
}

// Upper returns the all-caps label, e.g. "BUY".
func (a Action) Upper() string { return strings.ToUpper(string(a)) }

// Title returns the capitalized label, e.g. "Buy".
func (a Action) Title() string {
	s := strings.ToLower(string(a))
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// ToggleIndex maps the action onto the three-state toggle segments
// (Sell, neutral, Buy).
func (a Action) ToggleIndex() int {
	if a == ActionBuy {
		return 2
	}
	return 0
}

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	return a == ActionBuy || a == ActionSell
}

// TradeOrder is the desired order, supplied by the caller. Quantity and price
// are kept as strings because they are typed verbatim into the order form.
type TradeOrder struct {
	Action     Action `json:"action"`
	Instrument string `json:"instrument"`
	Symbol     string `json:"symbol"`
	Quantity   string `json:"quantity"`
	Price      string `json:"price"`
}

// Validate checks presence only. Range and tick rules belong to the terminal.
func (o TradeOrder) Validate() error {
	if !o.Action.Valid() {
		return fmt.Errorf("order: invalid action %q", o.Action)
	}
	fields := []struct{ name, value string }{
		{"instrument", o.Instrument},
		{"symbol", o.Symbol},
		{"quantity", o.Quantity},
		{"price", o.Price},
	}
	var missing []string
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("order: missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Credentials are loaded once at startup and never mutated.
type Credentials struct {
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
}

// Validate fails closed when either half is blank.
func (c Credentials) Validate() error {
	if strings.TrimSpace(c.Username) == "" || strings.TrimSpace(c.Password) == "" {
		return ErrMissingCredentials
	}
	return nil
}

// CaptchaAttempt records one pass through the CAPTCHA loop. It lives only
// as long as the attempt and is never persisted.
type CaptchaAttempt struct {
	Number int    `json:"number"`
	Text   string `json:"text,omitempty"`
	Solved bool   `json:"solved"`
	Image  []byte `json:"-"`
}

// ConfirmationCandidate is a label that may appear on the confirmation
// control. Lower Priority wins.
type ConfirmationCandidate struct {
	Label    string `json:"label"`
	Priority int    `json:"priority"`
}
