package order

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestOrderPartialThenFullFill(t *testing.T) {
	now := time.Unix(1700000000, 0)
	o := New("o-1", "paper:NIFTY-FUT", SideBuy, TypeLimit, d(10), d(100), now)

	require.NoError(t, o.Transition(StatusOpen, d(4), d(100), decimal.Zero, now.Add(time.Second)))
	assert.Equal(t, StatusOpen, o.Status)
	assert.True(t, o.FilledSize.Equal(d(4)))
	assert.True(t, o.RemainingSize.Equal(d(6)))

	require.NoError(t, o.Transition(StatusFilled, d(6), d(100), decimal.Zero, now.Add(2*time.Second)))
	assert.Equal(t, StatusFilled, o.Status)
	assert.True(t, o.FilledSize.Equal(d(10)))
	assert.True(t, o.RemainingSize.IsZero())

	// Terminal: any further transition is a hard error.
	err := o.Transition(StatusCanceled, decimal.Zero, decimal.Zero, decimal.Zero, now.Add(3*time.Second))
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, StatusFilled, te.From)
}

func TestOrderSizeInvariantHolds(t *testing.T) {
	now := time.Unix(1700000000, 0)
	o := New("o-2", "x", SideSell, TypeMarket, d(7), d(50), now)

	deltas := []int64{2, 1, 3, 1}
	for i, delta := range deltas {
		status := StatusOpen
		if i == len(deltas)-1 {
			status = StatusFilled
		}
		require.NoError(t, o.Transition(status, d(delta), d(50), decimal.Zero, now))
		assert.True(t, o.FilledSize.Add(o.RemainingSize).Equal(o.RequestSize),
			"filled+remaining must equal requested after every transition")
	}
}

func TestOrderOverfillRejected(t *testing.T) {
	now := time.Unix(1700000000, 0)
	o := New("o-3", "x", SideBuy, TypeLimit, d(5), d(10), now)

	err := o.Transition(StatusOpen, d(6), d(10), decimal.Zero, now)
	var te *TransitionError
	require.ErrorAs(t, err, &te)
}

func TestOrderFilledRequiresZeroRemaining(t *testing.T) {
	now := time.Unix(1700000000, 0)
	o := New("o-4", "x", SideBuy, TypeLimit, d(5), d(10), now)

	err := o.Transition(StatusFilled, d(3), d(10), decimal.Zero, now)
	var te *TransitionError
	require.ErrorAs(t, err, &te)
}

func TestOrderCancelKeepsRemaining(t *testing.T) {
	now := time.Unix(1700000000, 0)
	o := New("o-5", "x", SideBuy, TypeLimit, d(5), d(10), now)

	require.NoError(t, o.Transition(StatusOpen, d(2), d(10), decimal.Zero, now))
	require.NoError(t, o.Transition(StatusCanceled, decimal.Zero, decimal.Zero, decimal.Zero, now))
	assert.True(t, o.RemainingSize.Equal(d(3)))
	assert.Equal(t, StatusCanceled, o.Status)
}

func TestApplyFillWeightedAverage(t *testing.T) {
	now := time.Unix(1700000000, 0)

	p := ApplyFill(Position{Instrument: "x"}, Fill{Side: SideBuy, Lots: 2, Price: d(100), Time: now})
	assert.Equal(t, int64(2), p.Lots)
	assert.True(t, p.AvgEntryPrice.Equal(d(100)))

	p = ApplyFill(p, Fill{Side: SideBuy, Lots: 1, Price: d(130), Time: now})
	assert.Equal(t, int64(3), p.Lots)
	assert.True(t, p.AvgEntryPrice.Equal(d(110)), "weighted avg (2*100+1*130)/3 = 110, got %s", p.AvgEntryPrice)

	p = ApplyFill(p, Fill{Side: SideSell, Lots: 3, Price: d(140), Time: now})
	assert.Equal(t, int64(0), p.Lots)
	assert.True(t, p.RealizedPnL.Equal(d(90)), "realized (140-110)*3 = 90, got %s", p.RealizedPnL)
}

func TestApplyFillShortSide(t *testing.T) {
	now := time.Unix(1700000000, 0)

	p := ApplyFill(Position{Instrument: "x"}, Fill{Side: SideSell, Lots: 2, Price: d(200), Time: now})
	assert.Equal(t, int64(-2), p.Lots)

	// Cover at a lower price: profit.
	p = ApplyFill(p, Fill{Side: SideBuy, Lots: 2, Price: d(180), Time: now})
	assert.Equal(t, int64(0), p.Lots)
	assert.True(t, p.RealizedPnL.Equal(d(40)), "got %s", p.RealizedPnL)
}

func TestPositionMark(t *testing.T) {
	p := Position{Instrument: "x", Lots: 3, AvgEntryPrice: d(110)}
	p.Mark(d(120))
	assert.True(t, p.UnrealizedPnL.Equal(d(30)))

	short := Position{Instrument: "x", Lots: -2, AvgEntryPrice: d(100)}
	short.Mark(d(110))
	assert.True(t, short.UnrealizedPnL.Equal(d(-20)))
}
