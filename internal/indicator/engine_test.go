package indicator

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfinch/wolfinch/internal/candle"
)

// flatSeries builds n candles with the same close price.
func flatSeries(n int, price float64) candle.Series {
	s := make(candle.Series, n)
	for i := range s {
		p := decimal.NewFromFloat(price)
		s[i] = candle.Candle{
			Time:   1700000000 + int64(i)*60,
			Open:   p,
			High:   p.Add(decimal.NewFromInt(1)),
			Low:    p.Sub(decimal.NewFromInt(1)),
			Close:  p,
			Volume: decimal.NewFromInt(100),
		}
	}
	return s
}

// trendSeries builds n candles with close increasing by step.
func trendSeries(n int, start, step float64) candle.Series {
	s := make(candle.Series, n)
	for i := range s {
		price := start + float64(i)*step
		p := decimal.NewFromFloat(price)
		s[i] = candle.Candle{
			Time:   1700000000 + int64(i)*60,
			Open:   p.Sub(decimal.NewFromFloat(step / 2)),
			High:   p.Add(decimal.NewFromInt(1)),
			Low:    p.Sub(decimal.NewFromInt(1)),
			Close:  p,
			Volume: decimal.NewFromInt(100),
		}
	}
	return s
}

func TestComputeInsufficientWindow(t *testing.T) {
	e := NewEngine()
	short := flatSeries(5, 100)

	for _, name := range []string{"sma", "ema", "rsi", "macd", "bollinger", "atr", "adx", "stochastic", "supertrend"} {
		_, ok := e.Compute("x", short, name, Params{"period": 20}, 0)
		assert.False(t, ok, "%s over 5 candles must not produce a value", name)
	}
}

func TestComputeUnknownIndicator(t *testing.T) {
	e := NewEngine()
	_, ok := e.Compute("x", flatSeries(50, 100), "nope", nil, 0)
	assert.False(t, ok)
	assert.False(t, Known("nope"))
	assert.True(t, Known("ema"))
}

func TestSMAFlat(t *testing.T) {
	e := NewEngine()
	v, ok := e.Compute("x", flatSeries(30, 100), "sma", Params{"period": 10}, 0)
	require.True(t, ok)
	assert.Equal(t, KindScalar, v.Kind)
	assert.InDelta(t, 100, v.Scalar, 1e-9)
}

func TestSMAHistoryOffset(t *testing.T) {
	e := NewEngine()
	s := trendSeries(30, 100, 1)

	latest, ok := e.Compute("x", s, "sma", Params{"period": 5}, 0)
	require.True(t, ok)
	prior, ok := e.Compute("x", s, "sma", Params{"period": 5}, 1)
	require.True(t, ok)
	assert.InDelta(t, 1.0, latest.Scalar-prior.Scalar, 1e-9, "sma of a +1/candle trend advances by 1")
}

func TestRSITrendingUp(t *testing.T) {
	e := NewEngine()
	v, ok := e.Compute("x", trendSeries(40, 100, 1), "rsi", Params{"period": 14}, 0)
	require.True(t, ok)
	assert.Greater(t, v.Scalar, 90.0, "monotonic gains drive RSI toward 100")
	assert.LessOrEqual(t, v.Scalar, 100.0)
}

func TestBollingerBandsOrdering(t *testing.T) {
	e := NewEngine()
	v, ok := e.Compute("x", trendSeries(40, 100, 0.5), "bollinger", Params{"period": 20, "deviation": 2}, 0)
	require.True(t, ok)
	assert.Equal(t, KindBand, v.Kind)
	assert.Greater(t, v.Upper, v.Middle)
	assert.Greater(t, v.Middle, v.Lower)
}

func TestMACDRecord(t *testing.T) {
	e := NewEngine()
	v, ok := e.Compute("x", trendSeries(80, 100, 1), "macd", nil, 0)
	require.True(t, ok)
	assert.Equal(t, KindMACD, v.Kind)
	assert.InDelta(t, v.MACD-v.Signal, v.Histogram, 1e-9)
	assert.Greater(t, v.MACD, 0.0, "uptrend has positive macd")
}

func TestStochRange(t *testing.T) {
	e := NewEngine()
	v, ok := e.Compute("x", trendSeries(60, 100, 1), "stochastic", nil, 0)
	require.True(t, ok)
	assert.Equal(t, KindStoch, v.Kind)
	assert.GreaterOrEqual(t, v.K, 0.0)
	assert.LessOrEqual(t, v.K, 100.0)
	assert.GreaterOrEqual(t, v.D, 0.0)
	assert.LessOrEqual(t, v.D, 100.0)
}

func TestVWAPFlat(t *testing.T) {
	e := NewEngine()
	v, ok := e.Compute("x", flatSeries(10, 300), "vwap", nil, 0)
	require.True(t, ok)
	assert.InDelta(t, 300, v.Scalar, 1e-9)
}

func TestADXValue(t *testing.T) {
	e := NewEngine()
	v, ok := e.Compute("x", trendSeries(80, 100, 2), "adx", Params{"period": 14}, 0)
	require.True(t, ok)
	assert.False(t, math.IsNaN(v.Scalar))
	assert.Greater(t, v.Scalar, 20.0, "steady trend produces a strong ADX")
}

func TestSupertrendDirectionFollowsTrend(t *testing.T) {
	e := NewEngine()

	up := trendSeries(60, 100, 2)
	var v Value
	var ok bool
	// Feed the series candle by candle the way a market worker does.
	for i := 15; i <= len(up); i++ {
		v, ok = e.Compute("x", up[:i], "supertrend", Params{"atr_period": 10, "multiplier": 3}, 0)
		require.True(t, ok)
	}
	assert.Equal(t, 1, v.Direction, "rising closes keep supertrend bullish")
	assert.Less(t, v.Scalar, 100.0+2*60, "bullish supertrend sits below price")

	// A fresh instrument trending down flips bearish.
	down := trendSeries(60, 300, -2)
	for i := 15; i <= len(down); i++ {
		v, ok = e.Compute("y", down[:i], "supertrend", Params{"atr_period": 10, "multiplier": 3}, 0)
		require.True(t, ok)
	}
	assert.Equal(t, -1, v.Direction, "falling closes flip supertrend bearish")
}

func TestSupertrendStatePerInstrument(t *testing.T) {
	e := NewEngine()
	up := trendSeries(40, 100, 2)
	down := trendSeries(40, 300, -2)

	for i := 15; i <= 40; i++ {
		_, _ = e.Compute("up", up[:i], "supertrend", nil, 0)
		_, _ = e.Compute("down", down[:i], "supertrend", nil, 0)
	}

	vu, ok := e.Compute("up", up, "supertrend", nil, 0)
	require.True(t, ok)
	vd, ok := e.Compute("down", down, "supertrend", nil, 0)
	require.True(t, ok)
	assert.NotEqual(t, vu.Direction, vd.Direction, "instrument states must not bleed into each other")

	// Reset clears the state so a replay reseeds.
	e.Reset("up")
	_, ok = e.Compute("up", up[:15], "supertrend", nil, 0)
	assert.True(t, ok)
}

func TestSupertrendRepeatedCallSameCandle(t *testing.T) {
	e := NewEngine()
	s := trendSeries(30, 100, 1)

	v1, ok := e.Compute("x", s, "supertrend", nil, 0)
	require.True(t, ok)
	v2, ok := e.Compute("x", s, "supertrend", nil, 0)
	require.True(t, ok)
	assert.Equal(t, v1, v2, "same candle twice returns the cached band state")
}

func TestRequiredWindow(t *testing.T) {
	w, err := RequiredWindow("ema", Params{"period": 50})
	require.NoError(t, err)
	assert.Equal(t, 50, w)

	w, err = RequiredWindow("macd", nil)
	require.NoError(t, err)
	assert.Equal(t, 35, w)

	_, err = RequiredWindow("bogus", nil)
	assert.Error(t, err)
}
