package market

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/wolfinch/wolfinch/internal/events"
	"github.com/wolfinch/wolfinch/internal/exchanges"
	"github.com/wolfinch/wolfinch/internal/indicator"
	"github.com/wolfinch/wolfinch/internal/order"
	"github.com/wolfinch/wolfinch/internal/risk"
	"github.com/wolfinch/wolfinch/internal/strategy"

	"github.com/wolfinch/wolfinch/internal/candle"
)

func f64(d decimal.Decimal) float64 {
	v, _ := d.Float64()
	return v
}

func (m *Market) publishCandle(c candle.Candle) {
	e := events.New(events.FamilyCandle, "candle", m.Key(), time.Unix(c.Time, 0)).
		WithTag("venue", m.product.Venue).
		WithTag("product", m.product.ID).
		WithField("open", f64(c.Open)).
		WithField("high", f64(c.High)).
		WithField("low", f64(c.Low)).
		WithField("close", f64(c.Close)).
		WithField("volume", f64(c.Volume)).
		OnTopic(events.TopicMarketData, m.Key())
	m.fanout.Publish(e)
}

// publishIndicators emits the subscribed indicator values for the
// latest candle.
func (m *Market) publishIndicators(series candle.Series) {
	s, ok := m.host.Strategy(m.Key())
	if !ok {
		return
	}
	last, ok := series.Last()
	if !ok {
		return
	}
	for _, sub := range s.Indicators() {
		v, ok := m.engine.Compute(m.Key(), series, sub.Name, sub.Params, 0)
		if !ok {
			continue
		}
		e := events.New(events.FamilyIndicator, sub.Name, m.Key(), time.Unix(last.Time, 0)).
			WithTag("venue", m.product.Venue).
			WithTag("product", m.product.ID).
			WithTag("indicator", sub.Name).
			OnTopic(events.TopicIndicatorsCalculated, m.Key())
		switch v.Kind {
		case indicator.KindScalar, indicator.KindSupertrend:
			e = e.WithField("value", v.Scalar)
			if v.Kind == indicator.KindSupertrend {
				e = e.WithField("direction", int64(v.Direction))
			}
		case indicator.KindBand:
			e = e.WithField("upper", v.Upper).WithField("middle", v.Middle).WithField("lower", v.Lower)
		case indicator.KindMACD:
			e = e.WithField("macd", v.MACD).WithField("signal", v.Signal).WithField("histogram", v.Histogram)
		case indicator.KindStoch:
			e = e.WithField("k", v.K).WithField("d", v.D)
		}
		m.fanout.Publish(e)
	}
}

func (m *Market) publishState(state State) {
	m.fanout.Publish(events.New(events.FamilySystem, "market_state", m.Key(), time.Now()).
		WithTag("venue", m.product.Venue).
		WithTag("product", m.product.ID).
		WithField("state", state.String()).
		OnTopic(events.TopicMarketUpdated, m.Key()))
}

func (m *Market) publishSignal(sig strategy.Signal) {
	e := events.New(events.FamilySignal, "signal", m.Key(), time.Now()).
		WithTag("venue", m.product.Venue).
		WithTag("product", m.product.ID).
		WithField("strength", int64(sig.Strength)).
		WithField("price", f64(sig.Price)).
		WithField("reason", sig.Reason).
		OnTopic(events.TopicStrategySignals, m.Key())
	if !sig.TrailingStop.IsZero() {
		e = e.WithField("trailing_stop", f64(sig.TrailingStop))
	}
	m.fanout.Publish(e)
}

func (m *Market) publishRiskBreach(side order.Side, lots int64, price decimal.Decimal, reason string) {
	now := time.Now()
	m.fanout.Publish(events.New(events.FamilyTrade, events.TypeRiskEvent, m.Key(), now).
		WithTag("venue", m.product.Venue).
		WithTag("product", m.product.ID).
		WithTag("side", string(side)).
		WithField("lots", lots).
		WithField("price", f64(price)).
		WithField("reason", reason).
		OnTopic(events.TopicRisksBreached, m.Key()))

	m.fanout.Publish(events.New(events.FamilySystem, "risk_denied", m.Key(), now).
		WithTag("component", "risk-gate").
		WithTag("severity", "warning").
		WithField("reason", reason).
		OnTopic(events.TopicSystemAlerts, m.Key()))
}

func (m *Market) publishOrderSubmitted(o *order.Order) {
	m.fanout.Publish(events.New(events.FamilyTrade, events.TypeOrderPlaced, m.Key(), o.CreateTime).
		WithTag("venue", m.product.Venue).
		WithTag("product", m.product.ID).
		WithTag("order_id", o.ID).
		WithTag("side", string(o.Side)).
		WithTag("type", string(o.Type)).
		WithField("lots", o.RequestSize.IntPart()).
		WithField("price", f64(o.Price)).
		OnTopic(events.TopicOrdersSubmitted, o.ID))
}

func (m *Market) publishOrderExecuted(o *order.Order, report *exchanges.ExecutionReport) {
	m.fanout.Publish(events.New(events.FamilyTrade, events.TypeOrderFilled, m.Key(), report.Time).
		WithTag("venue", m.product.Venue).
		WithTag("product", m.product.ID).
		WithTag("order_id", o.ID).
		WithTag("side", string(o.Side)).
		WithField("lots", o.FilledSize.IntPart()).
		WithField("price", f64(report.Price)).
		WithField("fees", f64(o.Fees)).
		OnTopic(events.TopicOrdersExecuted, o.ID))
}

func (m *Market) publishOrderCanceled(o *order.Order) {
	m.fanout.Publish(events.New(events.FamilyTrade, events.TypeOrderCanceled, m.Key(), o.UpdateTime).
		WithTag("venue", m.product.Venue).
		WithTag("product", m.product.ID).
		WithTag("order_id", o.ID).
		WithField("filled_lots", o.FilledSize.IntPart()).
		WithField("remaining_lots", o.RemainingSize.IntPart()).
		OnTopic(events.TopicOrdersModified, o.ID))
}

func (m *Market) publishOrderRejected(orderID string, side order.Side, lots int64, price decimal.Decimal, reason string) {
	key := orderID
	if key == "" {
		key = m.Key()
	}
	m.fanout.Publish(events.New(events.FamilyTrade, events.TypeOrderRejected, m.Key(), time.Now()).
		WithTag("venue", m.product.Venue).
		WithTag("product", m.product.ID).
		WithTag("order_id", orderID).
		WithTag("side", string(side)).
		WithField("lots", lots).
		WithField("price", f64(price)).
		WithField("reason", reason).
		OnTopic(events.TopicOrdersRejected, key))
}

func (m *Market) publishPositionUpdated(pos order.Position, subtype string) {
	m.fanout.Publish(events.New(events.FamilyTrade, subtype, m.Key(), time.Now()).
		WithTag("venue", m.product.Venue).
		WithTag("product", m.product.ID).
		WithField("lots", pos.Lots).
		WithField("avg_entry_price", f64(pos.AvgEntryPrice)).
		WithField("current_price", f64(pos.CurrentPrice)).
		WithField("unrealized_pnl", f64(pos.UnrealizedPnL)).
		OnTopic(events.TopicPositionsUpdated, m.Key()))
}

func (m *Market) publishPositionClosed(held order.Position, realized decimal.Decimal, report *exchanges.ExecutionReport, durationSeconds float64) {
	m.fanout.Publish(events.New(events.FamilyTrade, events.TypePositionClosed, m.Key(), report.Time).
		WithTag("venue", m.product.Venue).
		WithTag("product", m.product.ID).
		WithField("lots", held.Lots).
		WithField("entry_price", f64(held.AvgEntryPrice)).
		WithField("exit_price", f64(report.Price)).
		WithField("realized_pnl", f64(realized)).
		WithField("duration_seconds", durationSeconds).
		OnTopic(events.TopicTradesCompleted, keyOr(report.OrderID, m.Key())))

	m.fanout.Publish(events.New(events.FamilyTrade, events.TypePositionClosed, m.Key(), report.Time).
		WithTag("venue", m.product.Venue).
		WithTag("product", m.product.ID).
		WithField("lots", int64(0)).
		WithField("realized_pnl", f64(realized)).
		OnTopic(events.TopicPositionsUpdated, m.Key()))
}

// PublishPerformance emits a performance snapshot for this market's
// account view.
func (m *Market) PublishPerformance(stats risk.Stats, winRate, sharpe, maxDrawdown float64) {
	m.fanout.Publish(events.New(events.FamilyTrade, events.TypePerformanceSnapshot, m.Key(), time.Now()).
		WithField("realized_pnl", f64(stats.DailyPnL.Realized)).
		WithField("unrealized_pnl", f64(stats.DailyPnL.Unrealized)).
		WithField("win_rate", winRate).
		WithField("sharpe_ratio", sharpe).
		WithField("max_drawdown", maxDrawdown).
		OnTopic(events.TopicPerformanceSnapshots, m.Key()))
}

func keyOr(orderID, fallback string) string {
	if orderID != "" {
		return orderID
	}
	return fallback
}
