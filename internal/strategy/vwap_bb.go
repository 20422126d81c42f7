package strategy

import (
	"fmt"

	"github.com/wolfinch/wolfinch/internal/candle"
	"github.com/wolfinch/wolfinch/internal/indicator"
)

func init() {
	Registry["vwap_bb"] = func(instrument string, engine *indicator.Engine, params map[string]float64) Strategy {
		return newVWAPBB(instrument, engine, params)
	}
}

// vwapBB is a mean-reversion strategy: price stretched below both the
// lower Bollinger band and VWAP buys the reversion; stretched above
// both sells it.
type vwapBB struct {
	instrument string
	engine     *indicator.Engine

	bbPeriod   float64
	deviation  float64
	vwapPeriod float64
}

func newVWAPBB(instrument string, engine *indicator.Engine, params map[string]float64) *vwapBB {
	return &vwapBB{
		instrument: instrument,
		engine:     engine,
		bbPeriod:   param(params, "bb_period", 20),
		deviation:  param(params, "bb_deviation", 2),
		vwapPeriod: param(params, "vwap_period", 20),
	}
}

func (s *vwapBB) Name() string { return "vwap_bb" }

func (s *vwapBB) Warmup() int {
	return int(s.bbPeriod)
}

func (s *vwapBB) Params() []Param {
	return []Param{
		{Name: "bb_period", Default: 20, Min: 10, Max: 50, IsInt: true},
		{Name: "bb_deviation", Default: 2, Min: 1, Max: 3},
		{Name: "vwap_period", Default: 20, Min: 10, Max: 50, IsInt: true},
	}
}

func (s *vwapBB) Indicators() []Subscription {
	return []Subscription{
		{Name: "bollinger", Params: indicator.Params{"period": s.bbPeriod, "deviation": s.deviation}},
		{Name: "vwap", Params: indicator.Params{"period": s.vwapPeriod}},
	}
}

func (s *vwapBB) GenerateSignal(series candle.Series) Signal {
	bb, ok1 := s.engine.Compute(s.instrument, series, "bollinger",
		indicator.Params{"period": s.bbPeriod, "deviation": s.deviation}, 0)
	vwap, ok2 := s.engine.Compute(s.instrument, series, "vwap", indicator.Params{"period": s.vwapPeriod}, 0)
	if !ok1 || !ok2 {
		return Hold("indicators not ready")
	}

	last, _ := series.Last()
	closePx, _ := last.Close.Float64()

	if closePx < bb.Lower && closePx < vwap.Scalar {
		strength := 1
		// Deep stretch below the band scales conviction.
		if closePx < bb.Lower-(bb.Middle-bb.Lower)*0.25 {
			strength = 2
		}
		return Signal{
			Strength: strength,
			Price:    last.Close,
			Reason:   fmt.Sprintf("close %.2f under lower band %.2f and vwap %.2f", closePx, bb.Lower, vwap.Scalar),
		}
	}

	if closePx > bb.Upper && closePx > vwap.Scalar {
		strength := -1
		if closePx > bb.Upper+(bb.Upper-bb.Middle)*0.25 {
			strength = -2
		}
		return Signal{
			Strength: strength,
			Price:    last.Close,
			Reason:   fmt.Sprintf("close %.2f over upper band %.2f and vwap %.2f", closePx, bb.Upper, vwap.Scalar),
		}
	}

	return Hold("inside bands")
}
