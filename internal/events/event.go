// Package events implements the event fan-out: trading events are
// published, best-effort and in fixed sink order, into the time-series
// store, the message bus, the relational audit log, and the metrics
// exporter. Failure in any sink never blocks the hot path.
package events

import (
	"time"
)

// Family is the event measurement family.
type Family string

const (
	FamilyCandle    Family = "candle"
	FamilyIndicator Family = "indicator"
	FamilyTrade     Family = "trade_event"
	FamilySignal    Family = "strategy_signal"
	FamilySystem    Family = "system_event"
)

// Trade event subtypes.
const (
	TypeOrderPlaced         = "order_placed"
	TypeOrderFilled         = "order_filled"
	TypeOrderCanceled       = "order_canceled"
	TypeOrderRejected       = "order_rejected"
	TypePositionOpened      = "position_opened"
	TypePositionUpdated     = "position_updated"
	TypePositionClosed      = "position_closed"
	TypeRiskEvent           = "risk_event"
	TypePerformanceSnapshot = "performance_snapshot"
)

// Message bus topics. Fixed names; events are keyed by the natural
// identifier (order id, instrument, trade id).
const (
	TopicOrdersSubmitted      = "wolfinch.orders.submitted"
	TopicOrdersExecuted       = "wolfinch.orders.executed"
	TopicOrdersRejected       = "wolfinch.orders.rejected"
	TopicOrdersModified       = "wolfinch.orders.modified"
	TopicTradesCompleted      = "wolfinch.trades.completed"
	TopicPositionsUpdated     = "wolfinch.positions.updated"
	TopicRisksBreached        = "wolfinch.risks.breached"
	TopicSystemAlerts         = "wolfinch.system.alerts"
	TopicMarketData           = "wolfinch.market.data"
	TopicMarketUpdated        = "wolfinch.market.updated"
	TopicAccountUpdated       = "wolfinch.account.updated"
	TopicIndicatorsCalculated = "wolfinch.indicators.calculated"
	TopicStrategySignals      = "wolfinch.strategy.signals"
	TopicPerformanceSnapshots = "wolfinch.performance.snapshots"
	TopicErrors               = "wolfinch.errors"
)

// Event is one immutable trading event. Tags are low-cardinality
// identifiers; Fields carry numeric values and the occasional string.
type Event struct {
	Family     Family
	Type       string
	Instrument string
	Timestamp  time.Time
	Tags       map[string]string
	Fields     map[string]any

	// Topic and Key route the event on the message bus. An empty
	// Topic skips the bus.
	Topic string
	Key   string
}

// New creates an event with initialized maps.
func New(family Family, typ, instrument string, ts time.Time) Event {
	return Event{
		Family:     family,
		Type:       typ,
		Instrument: instrument,
		Timestamp:  ts,
		Tags:       make(map[string]string),
		Fields:     make(map[string]any),
	}
}

// WithTag adds a tag.
func (e Event) WithTag(k, v string) Event {
	e.Tags[k] = v
	return e
}

// WithField adds a field.
func (e Event) WithField(k string, v any) Event {
	e.Fields[k] = v
	return e
}

// OnTopic routes the event to a bus topic with the given key.
func (e Event) OnTopic(topic, key string) Event {
	e.Topic = topic
	e.Key = key
	return e
}
