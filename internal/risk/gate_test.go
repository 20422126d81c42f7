package risk

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfinch/wolfinch/internal/order"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func newTestGate(t *testing.T, limits Limits) *Gate {
	t.Helper()
	g, err := NewGate(limits, filepath.Join(t.TempDir(), "risk_state.json"))
	require.NoError(t, err)
	return g
}

func TestAdmitAllowsWithinLimits(t *testing.T) {
	g := newTestGate(t, Limits{
		MaxDailyLoss:    d(100),
		StartingCapital: d(10000),
	})

	ok, reason := g.Admit("X", order.SideBuy, 1, d(50))
	assert.True(t, ok)
	assert.Equal(t, "OK", reason)
}

func TestDailyLossLatch(t *testing.T) {
	g := newTestGate(t, Limits{
		MaxDailyLoss:    d(100),
		StartingCapital: d(10000),
	})

	g.RecordTrade("X", order.SideSell, 1, d(200), d(-60), "")
	ok, _ := g.Admit("X", order.SideBuy, 1, d(200))
	assert.True(t, ok, "loss of 60 is under the 100 limit")

	g.RecordTrade("X", order.SideSell, 1, d(200), d(-50), "")
	assert.True(t, g.DailyPnL().Realized.Equal(d(-110)))

	// The breach latches on the next admit.
	ok, reason := g.Admit("Y", order.SideBuy, 1, d(50))
	assert.False(t, ok)
	assert.Contains(t, reason, "Daily loss limit reached")

	// Latched: every subsequent admit is denied with the stored reason.
	ok, reason = g.Admit("Z", order.SideSell, 1, d(50))
	assert.False(t, ok)
	assert.Contains(t, reason, "Trading blocked")

	// Idempotent: repeating the same admit returns the same answer.
	ok2, reason2 := g.Admit("Z", order.SideSell, 1, d(50))
	assert.Equal(t, ok, ok2)
	assert.Equal(t, reason, reason2)
}

func TestDailyLossPercentLatch(t *testing.T) {
	g := newTestGate(t, Limits{
		MaxDailyLossPercent: decimal.NewFromFloat(1.0),
		StartingCapital:     d(10000),
	})

	g.RecordTrade("X", order.SideSell, 1, d(100), d(-100), "")
	ok, reason := g.Admit("X", order.SideBuy, 1, d(100))
	assert.False(t, ok)
	assert.Contains(t, reason, "Daily loss % limit reached")
	assert.True(t, g.Snapshot().Blocked)
}

func TestPositionSizeDeniedWithoutLatch(t *testing.T) {
	g := newTestGate(t, Limits{
		MaxPositionSize: 5,
		StartingCapital: d(10000),
	})

	ok, reason := g.Admit("X", order.SideBuy, 6, d(100))
	assert.False(t, ok)
	assert.Contains(t, reason, "exceeds max")
	assert.False(t, g.Snapshot().Blocked, "size denial must not latch the block")

	ok, _ = g.Admit("X", order.SideBuy, 5, d(100))
	assert.True(t, ok)
}

func TestOpenPositionCap(t *testing.T) {
	g := newTestGate(t, Limits{
		MaxOpenPositions: 2,
		StartingCapital:  d(10000),
	})

	g.RecordTrade("A", order.SideBuy, 1, d(100), decimal.Zero, "")
	g.RecordTrade("B", order.SideBuy, 1, d(100), decimal.Zero, "")

	// New instrument is capped.
	ok, reason := g.Admit("C", order.SideBuy, 1, d(100))
	assert.False(t, ok)
	assert.Contains(t, reason, "Max open positions")

	// Adding to an existing position is allowed.
	ok, _ = g.Admit("A", order.SideBuy, 1, d(100))
	assert.True(t, ok)

	// Sells are never capped.
	ok, _ = g.Admit("C", order.SideSell, 1, d(100))
	assert.True(t, ok)

	assert.LessOrEqual(t, len(g.Snapshot().OpenPositions), 2)
}

func TestPositionRoundTrip(t *testing.T) {
	g := newTestGate(t, Limits{StartingCapital: d(10000)})

	g.RecordTrade("X", order.SideBuy, 2, d(100), decimal.Zero, "")
	pos, ok := g.Position("X")
	require.True(t, ok)
	assert.Equal(t, int64(2), pos.Lots)
	assert.True(t, pos.AvgEntryPrice.Equal(d(100)))

	g.RecordTrade("X", order.SideBuy, 1, d(130), decimal.Zero, "")
	pos, _ = g.Position("X")
	assert.Equal(t, int64(3), pos.Lots)
	assert.True(t, pos.AvgEntryPrice.Equal(d(110)), "weighted avg, got %s", pos.AvgEntryPrice)

	g.RecordTrade("X", order.SideSell, 3, d(140), d(90), "")
	_, ok = g.Position("X")
	assert.False(t, ok, "position must be removed when lots reach 0")
	assert.True(t, g.DailyPnL().Realized.Equal(d(90)))
}

func TestPartialReduceKeepsEntryAndAccumulatesRealized(t *testing.T) {
	g := newTestGate(t, Limits{StartingCapital: d(10000)})

	g.RecordTrade("X", order.SideBuy, 2, d(100), decimal.Zero, "")
	g.RecordTrade("X", order.SideSell, 1, d(120), d(20), "")

	pos, ok := g.Position("X")
	require.True(t, ok, "partial reduce keeps the position open")
	assert.Equal(t, int64(1), pos.Lots)
	assert.True(t, pos.AvgEntryPrice.Equal(d(100)), "entry only moves on the increasing side")
	assert.True(t, pos.RealizedPnL.Equal(d(20)), "position carries its cumulative realized pnl")
}

func TestSellWithoutPositionIsNoop(t *testing.T) {
	g := newTestGate(t, Limits{StartingCapital: d(10000)})

	g.RecordTrade("X", order.SideSell, 3, d(100), decimal.Zero, "")

	_, ok := g.Position("X")
	assert.False(t, ok, "a sell with nothing held must not create an entry")
	assert.Len(t, g.Trades(), 1, "the trade still lands in the daily ledger")
}

func TestUpdateMark(t *testing.T) {
	g := newTestGate(t, Limits{StartingCapital: d(10000)})

	g.RecordTrade("X", order.SideBuy, 2, d(100), decimal.Zero, "")
	g.UpdateMark("X", d(110))

	pos, _ := g.Position("X")
	assert.True(t, pos.UnrealizedPnL.Equal(d(20)))

	pnl := g.DailyPnL()
	assert.True(t, pnl.Total.Equal(d(20)))
	assert.True(t, pnl.Unrealized.Equal(d(20)))
}

func TestForceUnblock(t *testing.T) {
	g := newTestGate(t, Limits{MaxDailyLoss: d(50), StartingCapital: d(10000)})

	g.RecordTrade("X", order.SideSell, 1, d(100), d(-60), "")
	ok, _ := g.Admit("X", order.SideBuy, 1, d(100))
	require.False(t, ok)
	require.True(t, g.Snapshot().Blocked)

	g.ForceUnblock()
	assert.False(t, g.Snapshot().Blocked)

	// The loss still stands, so the next admit re-latches.
	ok, _ = g.Admit("X", order.SideBuy, 1, d(100))
	assert.False(t, ok)
}

func TestForceCloseAll(t *testing.T) {
	g := newTestGate(t, Limits{StartingCapital: d(10000)})
	g.RecordTrade("A", order.SideBuy, 1, d(100), decimal.Zero, "")
	g.RecordTrade("B", order.SideBuy, 1, d(100), decimal.Zero, "")

	instruments := g.ForceCloseAll()
	assert.ElementsMatch(t, []string{"A", "B"}, instruments)
}

func TestStateSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "risk_state.json")
	limits := Limits{MaxDailyLoss: d(100), StartingCapital: d(10000)}

	g1, err := NewGate(limits, path)
	require.NoError(t, err)
	g1.RecordTrade("X", order.SideBuy, 2, d(100), decimal.Zero, "")
	g1.RecordTrade("Y", order.SideSell, 1, d(50), d(-110), "")
	_, _ = g1.Admit("Z", order.SideBuy, 1, d(10)) // latches

	g2, err := NewGate(limits, path)
	require.NoError(t, err)

	stats := g2.Snapshot()
	assert.True(t, stats.Blocked, "block latch must survive restart")
	assert.True(t, stats.DailyPnL.Realized.Equal(d(-110)))
	pos, ok := g2.Position("X")
	require.True(t, ok, "open positions must survive restart")
	assert.Equal(t, int64(2), pos.Lots)

	ok2, reason := g2.Admit("Z", order.SideBuy, 1, d(10))
	assert.False(t, ok2)
	assert.Contains(t, reason, "Trading blocked")
}

func TestDateRolloverResetsCounters(t *testing.T) {
	g := newTestGate(t, Limits{MaxDailyLoss: d(100), StartingCapital: d(10000)})

	day1 := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	g.SetClock(func() time.Time { return day1 })

	g.RecordTrade("X", order.SideBuy, 2, d(100), decimal.Zero, "")
	g.RecordTrade("X", order.SideSell, 2, d(40), d(-120), "")
	ok, _ := g.Admit("Y", order.SideBuy, 1, d(10))
	require.False(t, ok)

	// Next day: counters and latch reset, positions retained.
	g.SetClock(func() time.Time { return day1.Add(24 * time.Hour) })

	ok, reason := g.Admit("Y", order.SideBuy, 1, d(10))
	assert.True(t, ok, "rollover must clear the latch, got %q", reason)

	stats := g.Snapshot()
	assert.True(t, stats.DailyPnL.Realized.IsZero())
	assert.Zero(t, stats.DailyTrades)
}

func TestSnapshotUtilization(t *testing.T) {
	g := newTestGate(t, Limits{
		MaxDailyLoss:     d(200),
		MaxOpenPositions: 4,
		StartingCapital:  d(10000),
	})

	g.RecordTrade("A", order.SideBuy, 1, d(100), decimal.Zero, "")
	g.RecordTrade("B", order.SideSell, 1, d(50), d(-50), "")

	stats := g.Snapshot()
	assert.InDelta(t, 25.0, stats.Utilization.LossLimitUsedPct, 0.01)
	assert.Equal(t, 1, stats.Utilization.PositionSlotsUsed)
	assert.Equal(t, 3, stats.Utilization.PositionSlotsAvailable)
}
