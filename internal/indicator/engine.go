// Package indicator computes technical indicators over candle series.
// Indicators are addressed by name through a registry; the math is
// delegated to go-talib. All indicators are pure over the window except
// supertrend, which keeps per-instrument band state inside the engine.
package indicator

import (
	"fmt"
	"sync"

	talib "github.com/markcheno/go-talib"

	"github.com/wolfinch/wolfinch/internal/candle"
	"github.com/wolfinch/wolfinch/internal/telemetry"
)

// Params are the named parameters of one indicator instance
// (period, deviation, fast, slow, ...).
type Params map[string]float64

// Period returns the "period" parameter with a fallback.
func (p Params) Period(fallback int) int {
	if v, ok := p["period"]; ok && v > 0 {
		return int(v)
	}
	return fallback
}

func (p Params) get(key string, fallback float64) float64 {
	if v, ok := p[key]; ok {
		return v
	}
	return fallback
}

// Kind tags the shape of an indicator value.
type Kind int

const (
	KindScalar Kind = iota
	KindBand
	KindMACD
	KindStoch
	KindSupertrend
)

// Value is a tagged indicator result. Exactly the fields implied by
// Kind are meaningful.
type Value struct {
	Kind   Kind
	Scalar float64

	// Band: bollinger
	Upper  float64
	Middle float64
	Lower  float64

	// MACD
	MACD      float64
	Signal    float64
	Histogram float64

	// Stoch
	K float64
	D float64

	// Supertrend
	Direction int // +1 bullish, -1 bearish
}

// computeFunc evaluates one indicator over the series at offset history
// from the latest candle. ok=false means the window is too short.
type computeFunc func(e *Engine, instrument string, s candle.Series, p Params, history int) (Value, bool)

// registry maps indicator names to their compute functions.
var registry = map[string]computeFunc{
	"sma":        computeSMA,
	"ema":        computeEMA,
	"rsi":        computeRSI,
	"macd":       computeMACD,
	"stochastic": computeStoch,
	"atr":        computeATR,
	"bollinger":  computeBollinger,
	"adx":        computeADX,
	"volume_sma": computeVolumeSMA,
	"vwap":       computeVWAP,
	"supertrend": computeSupertrendEntry,
}

// Known reports whether an indicator name is registered.
func Known(name string) bool {
	_, ok := registry[name]
	return ok
}

// Engine evaluates indicators. Safe for concurrent use; supertrend
// state is keyed by instrument and only ever touched by that
// instrument's market worker.
type Engine struct {
	mu         sync.Mutex
	supertrend map[string]*supertrendState
}

// NewEngine creates an indicator engine.
func NewEngine() *Engine {
	return &Engine{supertrend: make(map[string]*supertrendState)}
}

// Compute returns the indicator value at offset history from the latest
// candle, or ok=false when the series is shorter than the indicator's
// required window.
func (e *Engine) Compute(instrument string, s candle.Series, name string, p Params, history int) (Value, bool) {
	fn, ok := registry[name]
	if !ok || history < 0 {
		return Value{}, false
	}
	v, ok := fn(e, instrument, s, p, history)
	if ok {
		telemetry.RecordIndicator(name)
	}
	return v, ok
}

// Reset clears per-instrument indicator state. Markets call this before
// replaying history.
func (e *Engine) Reset(instrument string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.supertrend, instrument)
}

// at returns series[len-1-history] of a talib output, skipping leading
// zeros produced during the warmup prefix.
func at(values []float64, history, warmup int) (float64, bool) {
	idx := len(values) - 1 - history
	if idx < warmup || idx < 0 {
		return 0, false
	}
	return values[idx], true
}

func computeSMA(_ *Engine, _ string, s candle.Series, p Params, history int) (Value, bool) {
	period := p.Period(20)
	if len(s) < period+history {
		return Value{}, false
	}
	out := talib.Sma(s.Closes(), period)
	v, ok := at(out, history, period-1)
	return Value{Kind: KindScalar, Scalar: v}, ok
}

func computeEMA(_ *Engine, _ string, s candle.Series, p Params, history int) (Value, bool) {
	period := p.Period(20)
	if len(s) < period+history {
		return Value{}, false
	}
	out := talib.Ema(s.Closes(), period)
	v, ok := at(out, history, period-1)
	return Value{Kind: KindScalar, Scalar: v}, ok
}

func computeRSI(_ *Engine, _ string, s candle.Series, p Params, history int) (Value, bool) {
	period := p.Period(14)
	if len(s) < period+1+history {
		return Value{}, false
	}
	out := talib.Rsi(s.Closes(), period)
	v, ok := at(out, history, period)
	return Value{Kind: KindScalar, Scalar: v}, ok
}

func computeMACD(_ *Engine, _ string, s candle.Series, p Params, history int) (Value, bool) {
	fast := int(p.get("fast", 12))
	slow := int(p.get("slow", 26))
	signal := int(p.get("signal", 9))
	if len(s) < slow+signal+history {
		return Value{}, false
	}
	macd, sig, hist := talib.Macd(s.Closes(), fast, slow, signal)
	m, ok1 := at(macd, history, slow+signal-2)
	sg, ok2 := at(sig, history, slow+signal-2)
	h, ok3 := at(hist, history, slow+signal-2)
	if !ok1 || !ok2 || !ok3 {
		return Value{}, false
	}
	return Value{Kind: KindMACD, MACD: m, Signal: sg, Histogram: h}, true
}

func computeStoch(_ *Engine, _ string, s candle.Series, p Params, history int) (Value, bool) {
	kPeriod := int(p.get("k_period", 14))
	dPeriod := int(p.get("d_period", 3))
	slow := int(p.get("slowing", 3))
	if len(s) < kPeriod+dPeriod+slow+history {
		return Value{}, false
	}
	k, dd := talib.Stoch(s.Highs(), s.Lows(), s.Closes(), kPeriod, slow, talib.SMA, dPeriod, talib.SMA)
	warm := kPeriod + dPeriod + slow - 3
	kv, ok1 := at(k, history, warm)
	dv, ok2 := at(dd, history, warm)
	if !ok1 || !ok2 {
		return Value{}, false
	}
	return Value{Kind: KindStoch, K: kv, D: dv}, true
}

func computeATR(_ *Engine, _ string, s candle.Series, p Params, history int) (Value, bool) {
	period := p.Period(14)
	if len(s) < period+1+history {
		return Value{}, false
	}
	out := talib.Atr(s.Highs(), s.Lows(), s.Closes(), period)
	v, ok := at(out, history, period)
	return Value{Kind: KindScalar, Scalar: v}, ok
}

func computeBollinger(_ *Engine, _ string, s candle.Series, p Params, history int) (Value, bool) {
	period := p.Period(20)
	dev := p.get("deviation", 2)
	if len(s) < period+history {
		return Value{}, false
	}
	upper, middle, lower := talib.BBands(s.Closes(), period, dev, dev, talib.SMA)
	u, ok1 := at(upper, history, period-1)
	m, ok2 := at(middle, history, period-1)
	l, ok3 := at(lower, history, period-1)
	if !ok1 || !ok2 || !ok3 {
		return Value{}, false
	}
	return Value{Kind: KindBand, Upper: u, Middle: m, Lower: l}, true
}

func computeADX(_ *Engine, _ string, s candle.Series, p Params, history int) (Value, bool) {
	period := p.Period(14)
	if len(s) < 2*period+history {
		return Value{}, false
	}
	out := talib.Adx(s.Highs(), s.Lows(), s.Closes(), period)
	v, ok := at(out, history, 2*period-1)
	return Value{Kind: KindScalar, Scalar: v}, ok
}

func computeVolumeSMA(_ *Engine, _ string, s candle.Series, p Params, history int) (Value, bool) {
	period := p.Period(20)
	if len(s) < period+history {
		return Value{}, false
	}
	out := talib.Sma(s.Volumes(), period)
	v, ok := at(out, history, period-1)
	return Value{Kind: KindScalar, Scalar: v}, ok
}

// computeVWAP is the session VWAP over the window: Σ(typical·vol)/Σvol.
func computeVWAP(_ *Engine, _ string, s candle.Series, p Params, history int) (Value, bool) {
	period := p.Period(len(s))
	end := len(s) - history
	if end <= 0 || end < period {
		return Value{}, false
	}
	start := end - period
	var pv, vol float64
	for _, c := range s[start:end] {
		h, _ := c.High.Float64()
		l, _ := c.Low.Float64()
		cl, _ := c.Close.Float64()
		v, _ := c.Volume.Float64()
		typical := (h + l + cl) / 3
		pv += typical * v
		vol += v
	}
	if vol == 0 {
		return Value{}, false
	}
	return Value{Kind: KindScalar, Scalar: pv / vol}, true
}

// RequiredWindow returns the minimum series length for the indicator to
// produce a value at history 0.
func RequiredWindow(name string, p Params) (int, error) {
	switch name {
	case "sma", "ema", "bollinger", "volume_sma":
		return p.Period(20), nil
	case "rsi", "atr":
		return p.Period(14) + 1, nil
	case "macd":
		return int(p.get("slow", 26)) + int(p.get("signal", 9)), nil
	case "stochastic":
		return int(p.get("k_period", 14)) + int(p.get("d_period", 3)) + int(p.get("slowing", 3)), nil
	case "adx":
		return 2 * p.Period(14), nil
	case "vwap":
		return p.Period(1), nil
	case "supertrend":
		return int(p.get("atr_period", 10)) + 1, nil
	}
	return 0, fmt.Errorf("indicator: unknown name %q", name)
}
