// Package analytics tracks per-trade performance over the session:
// win rate, a simple per-trade sharpe, max drawdown of cumulative
// realized P&L. It feeds the performance gauges and the periodic
// snapshot events.
package analytics

import (
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wolfinch/wolfinch/internal/telemetry"
)

// TradeOutcome is one closed trade.
type TradeOutcome struct {
	Instrument string
	PnL        decimal.Decimal
	Duration   time.Duration
	ClosedAt   time.Time
}

// Summary is the aggregate view.
type Summary struct {
	Trades      int     `json:"trades"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	WinRate     float64 `json:"win_rate"`
	TotalPnL    float64 `json:"total_pnl"`
	AvgPnL      float64 `json:"avg_pnl"`
	Sharpe      float64 `json:"sharpe_ratio"`
	MaxDrawdown float64 `json:"max_drawdown"`
}

// Tracker accumulates closed trades.
type Tracker struct {
	mu       sync.Mutex
	outcomes []TradeOutcome

	cumulative float64
	peak       float64
	drawdown   float64
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Record adds a closed trade and refreshes the derived gauges.
func (t *Tracker) Record(outcome TradeOutcome) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.outcomes = append(t.outcomes, outcome)

	pnl, _ := outcome.PnL.Float64()
	t.cumulative += pnl
	if t.cumulative > t.peak {
		t.peak = t.cumulative
	}
	if dd := t.peak - t.cumulative; dd > t.drawdown {
		t.drawdown = dd
	}

	s := t.summaryLocked()
	telemetry.SetWinRate(s.WinRate)
	telemetry.SetSharpeRatio(s.Sharpe)
	telemetry.SetMaxDrawdown(s.MaxDrawdown)
}

// Summary returns the aggregate statistics.
func (t *Tracker) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.summaryLocked()
}

func (t *Tracker) summaryLocked() Summary {
	s := Summary{Trades: len(t.outcomes), MaxDrawdown: t.drawdown}
	if s.Trades == 0 {
		return s
	}

	var sum, sumSq float64
	for _, o := range t.outcomes {
		pnl, _ := o.PnL.Float64()
		sum += pnl
		sumSq += pnl * pnl
		if pnl > 0 {
			s.Wins++
		} else if pnl < 0 {
			s.Losses++
		}
	}

	n := float64(s.Trades)
	s.TotalPnL = sum
	s.AvgPnL = sum / n
	s.WinRate = float64(s.Wins) / n

	variance := sumSq/n - s.AvgPnL*s.AvgPnL
	if variance > 0 {
		s.Sharpe = s.AvgPnL / math.Sqrt(variance)
	}
	return s
}
