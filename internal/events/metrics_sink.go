package events

import (
	"context"

	"github.com/wolfinch/wolfinch/internal/telemetry"
)

// MetricsSink folds events into the Prometheus gauges that are derived
// from the event stream rather than set at source: performance
// snapshots and per-trade observations.
type MetricsSink struct{}

// NewMetricsSink creates the exporter-facing sink.
func NewMetricsSink() *MetricsSink { return &MetricsSink{} }

// Name implements Sink.
func (s *MetricsSink) Name() string { return "metrics" }

// Publish implements Sink.
func (s *MetricsSink) Publish(_ context.Context, e Event) error {
	switch e.Type {
	case TypePerformanceSnapshot:
		setGauge(e, "win_rate", telemetry.SetWinRate)
		setGauge(e, "sharpe_ratio", telemetry.SetSharpeRatio)
		setGauge(e, "max_drawdown", telemetry.SetMaxDrawdown)
		setGauge(e, "realized_pnl", telemetry.SetRealizedPnL)
		setGauge(e, "unrealized_pnl", telemetry.SetUnrealizedPnL)
	case TypePositionClosed:
		if pnl, ok := numField(e, "realized_pnl"); ok {
			telemetry.ObserveTradePnL(pnl)
		}
		if dur, ok := numField(e, "duration_seconds"); ok {
			telemetry.ObserveTradeDuration(dur)
		}
	}
	return nil
}

// Close implements Sink.
func (s *MetricsSink) Close() error { return nil }

func setGauge(e Event, field string, set func(float64)) {
	if v, ok := numField(e, field); ok {
		set(v)
	}
}

func numField(e Event, field string) (float64, bool) {
	switch v := e.Fields[field].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
