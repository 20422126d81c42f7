package exchanges

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfinch/wolfinch/internal/order"
)

func TestNormalizeStatus(t *testing.T) {
	cases := map[string]order.Status{
		"new":         order.StatusOpen,
		"NEW":         order.StatusOpen,
		"accepted":    order.StatusOpen,
		"confirmed":   order.StatusOpen,
		"unconfirmed": order.StatusOpen,
		"queued":      order.StatusOpen,
		"open":        order.StatusOpen,
		"FILLED":      order.StatusFilled,
		"executed":    order.StatusFilled,
		"complete":    order.StatusFilled,
		"canceled":    order.StatusCanceled,
		"EXPIRED":     order.StatusCanceled,
		"rejected":    order.StatusRejected,
		"failed":      order.StatusRejected,
	}
	for raw, want := range cases {
		got, err := NormalizeStatus(raw)
		require.NoError(t, err, "status %q", raw)
		assert.Equal(t, want, got, "status %q", raw)
	}
}

func TestNormalizeStatusUnknownIsHardError(t *testing.T) {
	_, err := NormalizeStatus("pending_settlement")
	assert.ErrorIs(t, err, order.ErrUnknownStatus)
}

func TestVenueQuantity(t *testing.T) {
	p := ProductInfo{ID: "BANKNIFTY-FUT", Venue: "paper", LotSize: 25}
	assert.True(t, VenueQuantity(p, 2).Equal(decimal.NewFromInt(50)))
	assert.Equal(t, int64(2), LotsFromQuantity(p, decimal.NewFromInt(50)))

	// Missing lot size defaults to 1.
	bare := ProductInfo{ID: "X", Venue: "paper"}
	assert.True(t, VenueQuantity(bare, 3).Equal(decimal.NewFromInt(3)))
}

func TestProductKey(t *testing.T) {
	p := ProductInfo{ID: "NIFTY-FUT", Venue: "paper"}
	assert.Equal(t, "paper:NIFTY-FUT", p.Key())
}
