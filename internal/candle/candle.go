// Package candle implements the two-tier OHLC store: a bounded
// per-instrument hot ring in front of an authoritative time-series
// backend. The package has no dependency on adapters or the supervisor
// so it can be instantiated standalone over a fixed series.
package candle

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Common errors
var (
	ErrInvalidCandle      = errors.New("invalid candle")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// Candle represents one finalized OHLC interval. Time is epoch seconds
// aligned to the interval boundary and is the primary key per instrument.
type Candle struct {
	Time   int64           `json:"time"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

// Validate checks the OHLC ordering invariant and non-negative volume.
func (c Candle) Validate() error {
	if c.Time <= 0 {
		return fmt.Errorf("%w: non-positive time %d", ErrInvalidCandle, c.Time)
	}
	minOC := decimal.Min(c.Open, c.Close)
	maxOC := decimal.Max(c.Open, c.Close)
	if c.Low.GreaterThan(minOC) || maxOC.GreaterThan(c.High) {
		return fmt.Errorf("%w: ohlc ordering violated at t=%d", ErrInvalidCandle, c.Time)
	}
	if c.Volume.IsNegative() {
		return fmt.Errorf("%w: negative volume at t=%d", ErrInvalidCandle, c.Time)
	}
	return nil
}

// Series is an ordered sequence of candles, non-decreasing in time with
// duplicate times collapsed.
type Series []Candle

// Closes returns the close prices as float64 for indicator math.
func (s Series) Closes() []float64 {
	out := make([]float64, len(s))
	for i, c := range s {
		out[i], _ = c.Close.Float64()
	}
	return out
}

// Highs returns the high prices as float64.
func (s Series) Highs() []float64 {
	out := make([]float64, len(s))
	for i, c := range s {
		out[i], _ = c.High.Float64()
	}
	return out
}

// Lows returns the low prices as float64.
func (s Series) Lows() []float64 {
	out := make([]float64, len(s))
	for i, c := range s {
		out[i], _ = c.Low.Float64()
	}
	return out
}

// Volumes returns the volumes as float64.
func (s Series) Volumes() []float64 {
	out := make([]float64, len(s))
	for i, c := range s {
		out[i], _ = c.Volume.Float64()
	}
	return out
}

// Last returns the most recent candle and true, or false on an empty series.
func (s Series) Last() (Candle, bool) {
	if len(s) == 0 {
		return Candle{}, false
	}
	return s[len(s)-1], true
}
