package analytics

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func outcome(pnl int64) TradeOutcome {
	return TradeOutcome{
		Instrument: "paper:X",
		PnL:        decimal.NewFromInt(pnl),
		Duration:   5 * time.Minute,
		ClosedAt:   time.Now(),
	}
}

func TestEmptySummary(t *testing.T) {
	s := NewTracker().Summary()
	assert.Zero(t, s.Trades)
	assert.Zero(t, s.WinRate)
}

func TestWinRateAndTotals(t *testing.T) {
	tr := NewTracker()
	tr.Record(outcome(100))
	tr.Record(outcome(-50))
	tr.Record(outcome(30))
	tr.Record(outcome(-20))

	s := tr.Summary()
	assert.Equal(t, 4, s.Trades)
	assert.Equal(t, 2, s.Wins)
	assert.Equal(t, 2, s.Losses)
	assert.InDelta(t, 0.5, s.WinRate, 1e-9)
	assert.InDelta(t, 60, s.TotalPnL, 1e-9)
	assert.InDelta(t, 15, s.AvgPnL, 1e-9)
}

func TestMaxDrawdown(t *testing.T) {
	tr := NewTracker()
	tr.Record(outcome(100)) // peak 100
	tr.Record(outcome(-80)) // trough 20, dd 80
	tr.Record(outcome(50))  // 70, dd stays 80
	tr.Record(outcome(-10)) // 60

	s := tr.Summary()
	assert.InDelta(t, 80, s.MaxDrawdown, 1e-9)
}

func TestSharpeSign(t *testing.T) {
	tr := NewTracker()
	tr.Record(outcome(10))
	tr.Record(outcome(20))
	tr.Record(outcome(15))
	assert.Greater(t, tr.Summary().Sharpe, 0.0)

	losing := NewTracker()
	losing.Record(outcome(-10))
	losing.Record(outcome(-20))
	losing.Record(outcome(-15))
	assert.Less(t, losing.Summary().Sharpe, 0.0)
}
