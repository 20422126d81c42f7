package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position tracks exposure for one instrument. Lots is signed: positive
// long, negative short. A position exists while Lots != 0.
type Position struct {
	Instrument    string
	Lots          int64
	AvgEntryPrice decimal.Decimal
	CurrentPrice  decimal.Decimal
	UnrealizedPnL decimal.Decimal
	EntryTime     time.Time
	RealizedPnL   decimal.Decimal // cumulative over the position's lifetime
}

// Fill is the position-relevant slice of an execution.
type Fill struct {
	Side  Side
	Lots  int64
	Price decimal.Decimal
	Fees  decimal.Decimal
	Time  time.Time
}

// ApplyFill returns the position after the fill. The weighted-average
// entry moves only on the increasing-exposure side; the reducing side
// realizes P&L against the average entry. A fill through zero flips the
// position, re-basing the entry at the fill price for the overshoot.
func ApplyFill(p Position, f Fill) Position {
	delta := f.Lots
	if f.Side == SideSell {
		delta = -delta
	}

	if p.Lots == 0 {
		p.Lots = delta
		p.AvgEntryPrice = f.Price
		p.CurrentPrice = f.Price
		p.EntryTime = f.Time
		return p
	}

	sameDirection := (p.Lots > 0) == (delta > 0)
	if sameDirection {
		oldAbs := decimal.NewFromInt(abs(p.Lots))
		addAbs := decimal.NewFromInt(abs(delta))
		total := oldAbs.Add(addAbs)
		p.AvgEntryPrice = p.AvgEntryPrice.Mul(oldAbs).Add(f.Price.Mul(addAbs)).Div(total)
		p.Lots += delta
		p.CurrentPrice = f.Price
		return p
	}

	// Reducing side: realize P&L on the closed lots.
	closed := min64(abs(delta), abs(p.Lots))
	direction := decimal.NewFromInt(1)
	if p.Lots < 0 {
		direction = decimal.NewFromInt(-1)
	}
	pnl := f.Price.Sub(p.AvgEntryPrice).Mul(decimal.NewFromInt(closed)).Mul(direction)
	p.RealizedPnL = p.RealizedPnL.Add(pnl).Sub(f.Fees)

	p.Lots += delta
	p.CurrentPrice = f.Price
	if p.Lots == 0 {
		p.UnrealizedPnL = decimal.Zero
		return p
	}
	if (p.Lots > 0) != (direction.IsPositive()) {
		// Flipped through zero: overshoot opens a fresh position.
		p.AvgEntryPrice = f.Price
		p.EntryTime = f.Time
		p.UnrealizedPnL = decimal.Zero
	}
	return p
}

// Mark refreshes the mark price and unrealized P&L.
func (p *Position) Mark(price decimal.Decimal) {
	p.CurrentPrice = price
	p.UnrealizedPnL = price.Sub(p.AvgEntryPrice).Mul(decimal.NewFromInt(p.Lots))
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
