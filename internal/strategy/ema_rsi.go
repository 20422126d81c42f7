package strategy

import (
	"fmt"

	"github.com/wolfinch/wolfinch/internal/candle"
	"github.com/wolfinch/wolfinch/internal/indicator"
)

func init() {
	Registry["ema_rsi"] = func(instrument string, engine *indicator.Engine, params map[string]float64) Strategy {
		return newEMARSI(instrument, engine, params)
	}
}

// emaRSI trades EMA crossovers filtered by RSI: a bullish cross with
// RSI out of overbought buys, a bearish cross with RSI out of oversold
// sells. Conviction rises when RSI confirms from the extreme.
type emaRSI struct {
	instrument string
	engine     *indicator.Engine

	shortPeriod float64
	longPeriod  float64
	rsiPeriod   float64
	oversold    float64
	overbought  float64
}

func newEMARSI(instrument string, engine *indicator.Engine, params map[string]float64) *emaRSI {
	return &emaRSI{
		instrument:  instrument,
		engine:      engine,
		shortPeriod: param(params, "short_period", 9),
		longPeriod:  param(params, "long_period", 21),
		rsiPeriod:   param(params, "rsi_period", 14),
		oversold:    param(params, "rsi_oversold", 30),
		overbought:  param(params, "rsi_overbought", 70),
	}
}

func (s *emaRSI) Name() string { return "ema_rsi" }

func (s *emaRSI) Warmup() int {
	return int(s.longPeriod + s.rsiPeriod)
}

func (s *emaRSI) Params() []Param {
	return []Param{
		{Name: "short_period", Default: 9, Min: 3, Max: 20, IsInt: true},
		{Name: "long_period", Default: 21, Min: 10, Max: 60, IsInt: true},
		{Name: "rsi_period", Default: 14, Min: 7, Max: 30, IsInt: true},
		{Name: "rsi_oversold", Default: 30, Min: 10, Max: 45},
		{Name: "rsi_overbought", Default: 70, Min: 55, Max: 90},
	}
}

func (s *emaRSI) Indicators() []Subscription {
	return []Subscription{
		{Name: "ema", Params: indicator.Params{"period": s.shortPeriod}},
		{Name: "ema", Params: indicator.Params{"period": s.longPeriod}},
		{Name: "rsi", Params: indicator.Params{"period": s.rsiPeriod}},
	}
}

func (s *emaRSI) GenerateSignal(series candle.Series) Signal {
	shortNow, ok1 := s.engine.Compute(s.instrument, series, "ema", indicator.Params{"period": s.shortPeriod}, 0)
	longNow, ok2 := s.engine.Compute(s.instrument, series, "ema", indicator.Params{"period": s.longPeriod}, 0)
	shortPrev, ok3 := s.engine.Compute(s.instrument, series, "ema", indicator.Params{"period": s.shortPeriod}, 1)
	longPrev, ok4 := s.engine.Compute(s.instrument, series, "ema", indicator.Params{"period": s.longPeriod}, 1)
	rsi, ok5 := s.engine.Compute(s.instrument, series, "rsi", indicator.Params{"period": s.rsiPeriod}, 0)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		return Hold("indicators not ready")
	}

	crossedUp := shortPrev.Scalar <= longPrev.Scalar && shortNow.Scalar > longNow.Scalar
	crossedDown := shortPrev.Scalar >= longPrev.Scalar && shortNow.Scalar < longNow.Scalar

	if crossedUp && rsi.Scalar < s.overbought {
		strength := 1
		if rsi.Scalar < s.oversold {
			strength = 2
		}
		return Signal{
			Strength: strength,
			Reason:   fmt.Sprintf("ema cross up, rsi %.1f", rsi.Scalar),
		}
	}

	if crossedDown && rsi.Scalar > s.oversold {
		strength := -1
		if rsi.Scalar > s.overbought {
			strength = -2
		}
		return Signal{
			Strength: strength,
			Reason:   fmt.Sprintf("ema cross down, rsi %.1f", rsi.Scalar),
		}
	}

	return Hold("no crossover")
}
