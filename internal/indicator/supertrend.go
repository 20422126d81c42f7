package indicator

import (
	talib "github.com/markcheno/go-talib"

	"github.com/wolfinch/wolfinch/internal/candle"
)

// supertrendState is the rolling band state kept per instrument. The
// direction flip rule depends on the previous final bands, so the
// engine carries them across invocations instead of recomputing the
// recursion on every call.
type supertrendState struct {
	lastTime   int64
	finalUpper float64
	finalLower float64
	direction  int // +1 bullish, -1 bearish
	value      float64
	seeded     bool
}

func computeSupertrendEntry(e *Engine, instrument string, s candle.Series, p Params, history int) (Value, bool) {
	if history != 0 {
		// Band state is only maintained for the live edge.
		return Value{}, false
	}
	atrPeriod := int(p.get("atr_period", 10))
	multiplier := p.get("multiplier", 3)
	if len(s) < atrPeriod+1 {
		return Value{}, false
	}

	e.mu.Lock()
	st, ok := e.supertrend[instrument]
	if !ok {
		st = &supertrendState{}
		e.supertrend[instrument] = st
	}
	e.mu.Unlock()

	last := s[len(s)-1]
	if st.seeded && last.Time <= st.lastTime {
		return Value{Kind: KindSupertrend, Scalar: st.value, Direction: st.direction}, true
	}

	atrs := talib.Atr(s.Highs(), s.Lows(), s.Closes(), atrPeriod)
	atr := atrs[len(atrs)-1]
	if atr == 0 {
		return Value{}, false
	}

	h, _ := last.High.Float64()
	l, _ := last.Low.Float64()
	cl, _ := last.Close.Float64()
	mid := (h + l) / 2
	basicUpper := mid + multiplier*atr
	basicLower := mid - multiplier*atr

	var prevClose float64
	if len(s) >= 2 {
		prevClose, _ = s[len(s)-2].Close.Float64()
	}

	if !st.seeded {
		st.finalUpper = basicUpper
		st.finalLower = basicLower
		st.direction = 1
		if cl < basicLower {
			st.direction = -1
		}
	} else {
		// Final bands ratchet: the upper band only moves down while
		// price stays below it, the lower band only moves up.
		if basicUpper < st.finalUpper || prevClose > st.finalUpper {
			st.finalUpper = basicUpper
		}
		if basicLower > st.finalLower || prevClose < st.finalLower {
			st.finalLower = basicLower
		}

		switch st.direction {
		case 1:
			if cl < st.finalLower {
				st.direction = -1
			}
		case -1:
			if cl > st.finalUpper {
				st.direction = 1
			}
		}
	}

	if st.direction == 1 {
		st.value = st.finalLower
	} else {
		st.value = st.finalUpper
	}
	st.lastTime = last.Time
	st.seeded = true

	return Value{Kind: KindSupertrend, Scalar: st.value, Direction: st.direction}, true
}
