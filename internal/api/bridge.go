package api

import (
	"context"

	"github.com/wolfinch/wolfinch/internal/events"
)

// EventBridge adapts the event fan-out to the websocket push channels:
// it is registered as one more sink and maps event topics onto the
// channels the dashboard listens to.
type EventBridge struct {
	hub *Hub
}

// NewEventBridge creates the bridge sink over a hub.
func NewEventBridge(hub *Hub) *EventBridge {
	return &EventBridge{hub: hub}
}

// Name implements events.Sink.
func (b *EventBridge) Name() string { return "websocket" }

// Publish implements events.Sink.
func (b *EventBridge) Publish(_ context.Context, e events.Event) error {
	channel := ""
	switch e.Topic {
	case events.TopicMarketData, events.TopicMarketUpdated:
		channel = ChannelCandleUpdate
	case events.TopicPositionsUpdated:
		channel = ChannelPositionUpdate
	case events.TopicPerformanceSnapshots:
		channel = ChannelPnLUpdate
	case events.TopicOrdersExecuted, events.TopicTradesCompleted:
		channel = ChannelTradeUpdate
	}
	if channel == "" {
		return nil
	}

	data := map[string]any{
		"type":       e.Type,
		"instrument": e.Instrument,
	}
	for k, v := range e.Fields {
		data[k] = v
	}
	b.hub.Broadcast(channel, data)
	return nil
}

// Close implements events.Sink.
func (b *EventBridge) Close() error {
	b.hub.Close()
	return nil
}
