// Package risk implements the pre-trade admission gate: daily loss
// limits, position size and open-position caps, and the block latch,
// with crash-safe persistence of the whole state.
package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wolfinch/wolfinch/internal/logger"
	"github.com/wolfinch/wolfinch/internal/order"
	"github.com/wolfinch/wolfinch/internal/telemetry"
)

// Limits holds the configured risk limits. A zero limit disables the
// corresponding check.
type Limits struct {
	MaxDailyLoss        decimal.Decimal
	MaxDailyLossPercent decimal.Decimal
	MaxPositionSize     int64
	MaxOpenPositions    int
	StartingCapital     decimal.Decimal
}

// TradeRecord is one executed trade in today's ledger.
type TradeRecord struct {
	TradeID    string          `json:"trade_id"`
	Timestamp  time.Time       `json:"timestamp"`
	Instrument string          `json:"instrument"`
	Side       order.Side      `json:"side"`
	Lots       int64           `json:"lots"`
	Price      decimal.Decimal `json:"price"`
	PnL        decimal.Decimal `json:"pnl"`
}

// PnL breaks daily P&L into realized and unrealized parts.
type PnL struct {
	Realized   decimal.Decimal `json:"realized"`
	Unrealized decimal.Decimal `json:"unrealized"`
	Total      decimal.Decimal `json:"total"`
}

// Stats is a read-only snapshot of the gate.
type Stats struct {
	Date          string                    `json:"date"`
	DailyPnL      PnL                       `json:"daily_pnl"`
	OpenPositions map[string]order.Position `json:"open_positions"`
	DailyTrades   int                       `json:"daily_trades"`
	Blocked       bool                      `json:"blocked"`
	BlockReason   string                    `json:"block_reason,omitempty"`
	Limits        Limits                    `json:"limits"`
	Utilization   Utilization               `json:"utilization"`
}

// Utilization reports how much of each limit is consumed.
type Utilization struct {
	LossLimitUsedPct       float64 `json:"loss_limit_used_pct"`
	PositionSlotsUsed      int     `json:"position_slots_used"`
	PositionSlotsAvailable int     `json:"position_slots_available"`
}

// Gate is the stateful admission controller. All mutating calls are
// serialized; callers never read the fields directly.
type Gate struct {
	mu     sync.Mutex
	limits Limits
	store  *stateStore
	log    *logger.Logger
	now    func() time.Time

	tradingDate   string
	dailyPnL      decimal.Decimal
	openPositions map[string]order.Position
	dailyTrades   []TradeRecord
	blocked       bool
	blockReason   string
}

// NewGate creates a gate, loading any persisted state from statePath.
// A stored trading date older than today resets the daily counters
// before any operation; open positions survive.
func NewGate(limits Limits, statePath string) (*Gate, error) {
	g := &Gate{
		limits:        limits,
		store:         newStateStore(statePath),
		log:           logger.Component("risk-gate"),
		now:           time.Now,
		openPositions: make(map[string]order.Position),
	}
	g.tradingDate = g.today()

	state, err := g.store.load()
	if err != nil {
		return nil, fmt.Errorf("risk gate: load state: %w", err)
	}
	if state != nil {
		if state.Date != g.tradingDate {
			g.log.Info("new trading day, resetting daily counters", "stored_date", state.Date)
			g.openPositions = state.OpenPositions
			g.persistLocked()
		} else {
			g.dailyPnL = state.DailyPnL
			g.openPositions = state.OpenPositions
			g.dailyTrades = state.DailyTrades
			g.blocked = state.Blocked
			g.blockReason = state.BlockReason
		}
	}
	if g.openPositions == nil {
		g.openPositions = make(map[string]order.Position)
	}

	g.log.Info("risk gate initialized",
		"max_daily_loss", limits.MaxDailyLoss,
		"max_open_positions", limits.MaxOpenPositions,
		"open_positions", len(g.openPositions),
		"blocked", g.blocked)
	return g, nil
}

// SetClock overrides the time source. Test hook.
func (g *Gate) SetClock(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
}

func (g *Gate) today() string {
	return g.now().Format("2006-01-02")
}

// Admit evaluates whether an order for the given lots may be placed.
// The checks run in a fixed order; loss-limit breaches latch the block.
func (g *Gate) Admit(instrument string, side order.Side, lots int64, price decimal.Decimal) (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if today := g.today(); today != g.tradingDate {
		g.resetDailyLocked(today)
	}

	if g.blocked {
		return false, fmt.Sprintf("Trading blocked: %s", g.blockReason)
	}

	total := g.dailyPnLTotalLocked()

	if g.limits.MaxDailyLoss.IsPositive() && total.Abs().GreaterThanOrEqual(g.limits.MaxDailyLoss) {
		g.blocked = true
		g.blockReason = fmt.Sprintf("Daily loss limit reached: %s", total.Abs().StringFixed(2))
		g.persistLocked()
		g.log.Error("daily loss limit breached", "daily_pnl", total, "limit", g.limits.MaxDailyLoss)
		return false, g.blockReason
	}

	if g.limits.MaxDailyLossPercent.IsPositive() && g.limits.StartingCapital.IsPositive() {
		lossPct := total.Abs().Div(g.limits.StartingCapital).Mul(decimal.NewFromInt(100))
		if lossPct.GreaterThanOrEqual(g.limits.MaxDailyLossPercent) {
			g.blocked = true
			g.blockReason = fmt.Sprintf("Daily loss %% limit reached: %s%%", lossPct.StringFixed(2))
			g.persistLocked()
			g.log.Error("daily loss percent breached", "loss_pct", lossPct)
			return false, g.blockReason
		}
	}

	if g.limits.MaxPositionSize > 0 && lots > g.limits.MaxPositionSize {
		reason := fmt.Sprintf("Position size %d exceeds max %d lots", lots, g.limits.MaxPositionSize)
		g.log.Warn("position size denied", "instrument", instrument, "lots", lots)
		return false, reason
	}

	if side == order.SideBuy && g.limits.MaxOpenPositions > 0 {
		if _, exists := g.openPositions[instrument]; !exists {
			if len(g.openPositions) >= g.limits.MaxOpenPositions {
				reason := fmt.Sprintf("Max open positions %d reached", g.limits.MaxOpenPositions)
				g.log.Warn("open-position cap denied", "instrument", instrument)
				return false, reason
			}
		}
	}

	return true, "OK"
}

// RecordTrade appends the trade to today's ledger, accumulates realized
// P&L, and mutates the open-position set.
func (g *Gate) RecordTrade(instrument string, side order.Side, lots int64, price decimal.Decimal, realizedPnL decimal.Decimal, tradeID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if today := g.today(); today != g.tradingDate {
		g.resetDailyLocked(today)
	}

	if tradeID == "" {
		tradeID = uuid.NewString()
	}
	now := g.now()

	g.dailyTrades = append(g.dailyTrades, TradeRecord{
		TradeID:    tradeID,
		Timestamp:  now,
		Instrument: instrument,
		Side:       side,
		Lots:       lots,
		Price:      price,
		PnL:        realizedPnL,
	})

	if !realizedPnL.IsZero() {
		g.dailyPnL = g.dailyPnL.Add(realizedPnL)
		g.log.Info("trade pnl recorded", "pnl", realizedPnL, "daily_pnl", g.dailyPnL)
	}

	pos, exists := g.openPositions[instrument]
	if !exists {
		if side == order.SideSell {
			// Nothing held; the gate tracks long exposure only.
			telemetry.SetPositionsOpen(len(g.openPositions))
			g.persistLocked()
			return
		}
		pos = order.Position{Instrument: instrument}
	}

	pos = order.ApplyFill(pos, order.Fill{Side: side, Lots: lots, Price: price, Time: now})
	switch {
	case pos.Lots <= 0:
		delete(g.openPositions, instrument)
		g.log.Info("position closed", "instrument", instrument, "realized_pnl", realizedPnL)
	case side == order.SideBuy && !exists:
		g.openPositions[instrument] = pos
		g.log.Info("position opened", "instrument", instrument, "lots", lots, "price", price)
	case side == order.SideBuy:
		g.openPositions[instrument] = pos
		g.log.Info("position increased", "instrument", instrument, "lots", pos.Lots, "avg_entry", pos.AvgEntryPrice)
	default:
		g.openPositions[instrument] = pos
		g.log.Info("position reduced", "instrument", instrument, "remaining_lots", pos.Lots)
	}

	telemetry.SetPositionsOpen(len(g.openPositions))
	g.persistLocked()
}

// UpdateMark refreshes the mark price and unrealized P&L of the open
// position for the instrument, if any.
func (g *Gate) UpdateMark(instrument string, price decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()

	pos, exists := g.openPositions[instrument]
	if !exists {
		return
	}
	pos.Mark(price)
	g.openPositions[instrument] = pos
	g.persistLocked()
}

// DailyPnL returns today's realized, unrealized and total P&L.
func (g *Gate) DailyPnL() PnL {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pnlLocked()
}

// Position returns the open position for an instrument, if any.
func (g *Gate) Position(instrument string) (order.Position, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	pos, ok := g.openPositions[instrument]
	return pos, ok
}

// Trades returns a copy of today's trade ledger.
func (g *Gate) Trades() []TradeRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]TradeRecord, len(g.dailyTrades))
	copy(out, g.dailyTrades)
	return out
}

// Snapshot returns the full read-only view including utilization.
func (g *Gate) Snapshot() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	pnl := g.pnlLocked()
	positions := make(map[string]order.Position, len(g.openPositions))
	for k, v := range g.openPositions {
		positions[k] = v
	}

	util := Utilization{
		PositionSlotsUsed:      len(g.openPositions),
		PositionSlotsAvailable: g.limits.MaxOpenPositions - len(g.openPositions),
	}
	if g.limits.MaxDailyLoss.IsPositive() {
		used, _ := pnl.Total.Abs().Div(g.limits.MaxDailyLoss).Mul(decimal.NewFromInt(100)).Float64()
		util.LossLimitUsedPct = used
	}

	return Stats{
		Date:          g.tradingDate,
		DailyPnL:      pnl,
		OpenPositions: positions,
		DailyTrades:   len(g.dailyTrades),
		Blocked:       g.blocked,
		BlockReason:   g.blockReason,
		Limits:        g.limits,
		Utilization:   util,
	}
}

// ForceUnblock clears the block latch. Manual override.
func (g *Gate) ForceUnblock() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.log.Warn("manually resetting trading block", "previous_reason", g.blockReason)
	g.blocked = false
	g.blockReason = ""
	g.persistLocked()
}

// ForceCloseAll returns the instruments with open positions so the
// caller can flatten them. Manual override.
func (g *Gate) ForceCloseAll() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.log.Error("close all positions requested")
	out := make([]string, 0, len(g.openPositions))
	for instrument := range g.openPositions {
		out = append(out, instrument)
	}
	return out
}

func (g *Gate) pnlLocked() PnL {
	unrealized := decimal.Zero
	for _, pos := range g.openPositions {
		unrealized = unrealized.Add(pos.UnrealizedPnL)
	}
	return PnL{
		Realized:   g.dailyPnL,
		Unrealized: unrealized,
		Total:      g.dailyPnL.Add(unrealized),
	}
}

func (g *Gate) dailyPnLTotalLocked() decimal.Decimal {
	return g.pnlLocked().Total
}

func (g *Gate) resetDailyLocked(today string) {
	g.log.Info("resetting daily counters for new trading day", "date", today)
	g.dailyPnL = decimal.Zero
	g.dailyTrades = nil
	g.blocked = false
	g.blockReason = ""
	g.tradingDate = today
	g.persistLocked()
}

func (g *Gate) persistLocked() {
	state := &persistedState{
		Date:          g.tradingDate,
		DailyPnL:      g.dailyPnL,
		OpenPositions: g.openPositions,
		DailyTrades:   g.dailyTrades,
		Blocked:       g.blocked,
		BlockReason:   g.blockReason,
		SavedAt:       g.now(),
	}
	if err := g.store.save(state); err != nil {
		g.log.WithError(err).Error("failed to persist risk state")
	}
}
