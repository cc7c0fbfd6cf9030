package schemas

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAction(t *testing.T) {
	for _, in := range []string{"buy", "BUY", " Buy "} {
		a, err := ParseAction(in)
		require.NoError(t, err, in)
		assert.Equal(t, ActionBuy, a)
	}
	a, err := ParseAction("sell")
	require.NoError(t, err)
	assert.Equal(t, ActionSell, a)

	_, err = ParseAction("hold")
	assert.Error(t, err)
}

func TestActionLabels(t *testing.T) {
	assert.Equal(t, "BUY", ActionBuy.Upper())
	assert.Equal(t, "Buy", ActionBuy.Title())
	assert.Equal(t, "SELL", ActionSell.Upper())
	assert.Equal(t, "Sell", ActionSell.Title())

	// Segments are Sell, neutral, Buy.
	assert.Equal(t, 2, ActionBuy.ToggleIndex())
	assert.Equal(t, 0, ActionSell.ToggleIndex())
}

func TestTradeOrderValidate(t *testing.T) {
	valid := TradeOrder{Action: ActionBuy, Instrument: "MF", Symbol: "NICFC", Quantity: "100", Price: "8.8"}
	assert.NoError(t, valid.Validate())

	t.Run("missing fields are listed in form order", func(t *testing.T) {
		o := valid
		o.Symbol = ""
		o.Price = " "
		err := o.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "symbol, price")
	})

	t.Run("invalid action", func(t *testing.T) {
		o := valid
		o.Action = "HOLD"
		assert.Error(t, o.Validate())
	})
}

func TestCredentialsValidate(t *testing.T) {
	assert.NoError(t, Credentials{Username: "u", Password: "p"}.Validate())
	assert.ErrorIs(t, Credentials{Username: "u"}.Validate(), ErrMissingCredentials)
	assert.ErrorIs(t, Credentials{Password: "p"}.Validate(), ErrMissingCredentials)
	assert.ErrorIs(t, Credentials{Username: "  ", Password: "p"}.Validate(), ErrMissingCredentials)
}

func TestFieldError(t *testing.T) {
	cause := errors.New("no such node")
	err := fmt.Errorf("fill: %w", NewFieldError("symbol", cause))

	assert.ErrorIs(t, err, ErrFormElementMissing)
	assert.ErrorIs(t, err, cause)

	var fe *FieldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "symbol", fe.Field)
	assert.Contains(t, err.Error(), "symbol")
}

func TestSessionStateEmpty(t *testing.T) {
	assert.True(t, SessionState{}.Empty())
	assert.False(t, SessionState{Cookies: []Cookie{{Name: "sid", Value: "x"}}}.Empty())
}
