package strategy

import (
	"fmt"
	"sync"

	"github.com/wolfinch/wolfinch/internal/candle"
	"github.com/wolfinch/wolfinch/internal/indicator"
	"github.com/wolfinch/wolfinch/internal/logger"
)

// Host instantiates one strategy value per instrument and evaluates it
// on each newly closed candle. The host treats strategy state as
// opaque. It is constructible over a fixed series with no adapter or
// supervisor, which is the contract the optimizer depends on.
type Host struct {
	engine *indicator.Engine
	log    *logger.Logger

	mu       sync.RWMutex
	bindings map[string]Strategy // instrument -> strategy instance
}

// NewHost creates a host over the given indicator engine.
func NewHost(engine *indicator.Engine) *Host {
	return &Host{
		engine:   engine,
		log:      logger.Component("strategy-host"),
		bindings: make(map[string]Strategy),
	}
}

// Bind instantiates the named strategy for an instrument. Unknown
// indicator subscriptions are rejected up front.
func (h *Host) Bind(instrument, name string, params map[string]float64) error {
	s, err := New(name, instrument, h.engine, params)
	if err != nil {
		return err
	}
	for _, sub := range s.Indicators() {
		if !indicator.Known(sub.Name) {
			return fmt.Errorf("strategy %q subscribes unknown indicator %q", name, sub.Name)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.bindings[instrument] = s
	h.log.Info("strategy bound", "strategy", name, "instrument", instrument, "warmup", s.Warmup())
	return nil
}

// Strategy returns the bound strategy for an instrument.
func (h *Host) Strategy(instrument string) (Strategy, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.bindings[instrument]
	return s, ok
}

// Evaluate runs the bound strategy over the series. invoked is false
// while no strategy is bound or the series has not cleared warmup.
func (h *Host) Evaluate(instrument string, series candle.Series) (Signal, bool) {
	h.mu.RLock()
	s, ok := h.bindings[instrument]
	h.mu.RUnlock()
	if !ok {
		return Signal{}, false
	}
	if len(series) <= s.Warmup() {
		return Signal{}, false
	}

	sig := s.GenerateSignal(series)
	sig.Strength = clampStrength(sig.Strength)
	if last, ok := series.Last(); ok && sig.Price.IsZero() {
		sig.Price = last.Close
	}
	return sig, true
}
