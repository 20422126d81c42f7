// Package strategy hosts the trading strategies: uniform interface,
// per-instrument instantiation, warmup gating and signal generation on
// each newly closed candle.
package strategy

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/wolfinch/wolfinch/internal/candle"
	"github.com/wolfinch/wolfinch/internal/indicator"
)

// Signal is a signed conviction in [-3, 3]: negative sells, positive
// buys, zero holds. TrailingStop is set when the strategy maintains
// one.
type Signal struct {
	Strength     int
	Price        decimal.Decimal
	TrailingStop decimal.Decimal
	Reason       string
}

// Hold is the neutral signal.
func Hold(reason string) Signal { return Signal{Reason: reason} }

// Param describes one tunable parameter with its range. The ranges
// feed the external optimizer.
type Param struct {
	Name    string
	Default float64
	Min     float64
	Max     float64
	IsInt   bool
}

// Subscription names one indicator instance a strategy needs.
type Subscription struct {
	Name   string
	Params indicator.Params
}

// Strategy is the uniform contract the host drives. Stateful
// strategies keep explicit struct state (entry price, high-water mark,
// trailing stop) across GenerateSignal calls.
type Strategy interface {
	Name() string
	Warmup() int
	Params() []Param
	Indicators() []Subscription
	GenerateSignal(series candle.Series) Signal
}

// Factory builds a strategy instance bound to one instrument.
type Factory func(instrument string, engine *indicator.Engine, params map[string]float64) Strategy

// Registry maps strategy names to factories. New strategies register
// in their init.
var Registry = map[string]Factory{}

// New instantiates a registered strategy for an instrument.
func New(name, instrument string, engine *indicator.Engine, params map[string]float64) (Strategy, error) {
	factory, ok := Registry[name]
	if !ok {
		return nil, fmt.Errorf("strategy: unknown strategy %q, registered: %v", name, Names())
	}
	return factory(instrument, engine, params), nil
}

// Names returns the registered strategy names, sorted.
func Names() []string {
	out := make([]string, 0, len(Registry))
	for name := range Registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// param reads a parameter with a default.
func param(params map[string]float64, name string, fallback float64) float64 {
	if v, ok := params[name]; ok {
		return v
	}
	return fallback
}

// clampStrength bounds a raw conviction to [-3, 3].
func clampStrength(v int) int {
	if v > 3 {
		return 3
	}
	if v < -3 {
		return -3
	}
	return v
}
