package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/wolfinch/wolfinch/internal/candle"
	"github.com/wolfinch/wolfinch/internal/indicator"
)

func init() {
	Registry["supertrend_adx"] = func(instrument string, engine *indicator.Engine, params map[string]float64) Strategy {
		return newSupertrendADX(instrument, engine, params)
	}
}

// supertrendADX enters with the supertrend direction when ADX confirms
// a strong trend, and exits on a direction flip or an ATR trailing
// stop below the high-water mark. Entry price, high-water mark and
// trailing stop are explicit state carried across calls.
type supertrendADX struct {
	instrument string
	engine     *indicator.Engine

	atrPeriod    float64
	multiplier   float64
	adxPeriod    float64
	adxThreshold float64
	trailingMult float64

	inPosition bool
	entryPrice decimal.Decimal
	highWater  decimal.Decimal
	trailingSL decimal.Decimal
}

func newSupertrendADX(instrument string, engine *indicator.Engine, params map[string]float64) *supertrendADX {
	return &supertrendADX{
		instrument:   instrument,
		engine:       engine,
		atrPeriod:    param(params, "atr_period", 10),
		multiplier:   param(params, "atr_multiplier", 3),
		adxPeriod:    param(params, "adx_period", 14),
		adxThreshold: param(params, "adx_threshold", 25),
		trailingMult: param(params, "trailing_atr_multiplier", 2),
	}
}

func (s *supertrendADX) Name() string { return "supertrend_adx" }

func (s *supertrendADX) Warmup() int {
	atr := int(s.atrPeriod) + 1
	adx := 2 * int(s.adxPeriod)
	if adx > atr {
		return adx
	}
	return atr
}

func (s *supertrendADX) Params() []Param {
	return []Param{
		{Name: "atr_period", Default: 10, Min: 7, Max: 20, IsInt: true},
		{Name: "atr_multiplier", Default: 3, Min: 1.5, Max: 5},
		{Name: "adx_period", Default: 14, Min: 10, Max: 30, IsInt: true},
		{Name: "adx_threshold", Default: 25, Min: 20, Max: 40, IsInt: true},
		{Name: "trailing_atr_multiplier", Default: 2, Min: 1, Max: 4},
	}
}

func (s *supertrendADX) Indicators() []Subscription {
	return []Subscription{
		{Name: "supertrend", Params: indicator.Params{"atr_period": s.atrPeriod, "multiplier": s.multiplier}},
		{Name: "adx", Params: indicator.Params{"period": s.adxPeriod}},
		{Name: "atr", Params: indicator.Params{"period": s.atrPeriod}},
	}
}

func (s *supertrendADX) GenerateSignal(series candle.Series) Signal {
	st, ok1 := s.engine.Compute(s.instrument, series, "supertrend",
		indicator.Params{"atr_period": s.atrPeriod, "multiplier": s.multiplier}, 0)
	adx, ok2 := s.engine.Compute(s.instrument, series, "adx", indicator.Params{"period": s.adxPeriod}, 0)
	atr, ok3 := s.engine.Compute(s.instrument, series, "atr", indicator.Params{"period": s.atrPeriod}, 0)
	if !ok1 || !ok2 || !ok3 {
		return Hold("indicators not ready")
	}

	last, _ := series.Last()
	closePx := last.Close

	if s.inPosition {
		if closePx.GreaterThan(s.highWater) {
			s.highWater = closePx
		}
		s.trailingSL = s.highWater.Sub(decimal.NewFromFloat(s.trailingMult * atr.Scalar))

		if closePx.LessThan(s.trailingSL) {
			reason := fmt.Sprintf("trailing stop hit at %s (high %s)", s.trailingSL.StringFixed(2), s.highWater.StringFixed(2))
			sl := s.trailingSL
			s.reset()
			return Signal{Strength: -3, TrailingStop: sl, Reason: reason}
		}
		if st.Direction < 0 {
			s.reset()
			return Signal{Strength: -2, Reason: "supertrend flipped bearish"}
		}
		return Signal{TrailingStop: s.trailingSL, Reason: "holding, trailing stop active"}
	}

	if st.Direction > 0 && adx.Scalar >= s.adxThreshold && closePx.GreaterThan(decimal.NewFromFloat(st.Scalar)) {
		strength := 2
		if adx.Scalar >= s.adxThreshold+10 {
			strength = 3
		}
		s.inPosition = true
		s.entryPrice = closePx
		s.highWater = closePx
		s.trailingSL = closePx.Sub(decimal.NewFromFloat(s.trailingMult * atr.Scalar))
		return Signal{
			Strength:     strength,
			TrailingStop: s.trailingSL,
			Reason:       fmt.Sprintf("supertrend bullish, adx %.1f", adx.Scalar),
		}
	}

	return Hold("no entry conditions")
}

func (s *supertrendADX) reset() {
	s.inPosition = false
	s.entryPrice = decimal.Zero
	s.highWater = decimal.Zero
	s.trailingSL = decimal.Zero
}
