package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/wolfinch/wolfinch/internal/config"
	"github.com/wolfinch/wolfinch/internal/telemetry"
)

// KafkaSink publishes events onto topic-partitioned streams. Writes
// are synchronous with all-replica acknowledgment and at most one
// in-flight message per key, which preserves per-key ordering; retries
// are bounded.
type KafkaSink struct {
	writer *kafka.Writer
}

// NewKafkaSink creates the message-bus sink.
func NewKafkaSink(cfg config.KafkaSink) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			MaxAttempts:            3,
			BatchTimeout:           10 * time.Millisecond,
			AllowAutoTopicCreation: true,
		},
	}
}

// envelope is the wire format: {event_type, timestamp ISO-8601, data}.
type envelope struct {
	EventType string         `json:"event_type"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Name implements Sink.
func (s *KafkaSink) Name() string { return "kafka" }

// Publish implements Sink. Events without a topic are skipped.
func (s *KafkaSink) Publish(ctx context.Context, e Event) error {
	if e.Topic == "" {
		return nil
	}

	data := make(map[string]any, len(e.Fields)+len(e.Tags)+1)
	for k, v := range e.Tags {
		data[k] = v
	}
	for k, v := range e.Fields {
		data[k] = v
	}
	if e.Instrument != "" {
		data["instrument"] = e.Instrument
	}

	payload, err := json.Marshal(envelope{
		EventType: e.Type,
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("kafka sink: marshal: %w", err)
	}

	err = s.writer.WriteMessages(ctx, kafka.Message{
		Topic: e.Topic,
		Key:   []byte(e.Key),
		Value: payload,
	})
	if err != nil {
		telemetry.RecordKafkaError(e.Topic)
		return fmt.Errorf("kafka sink: %s: %w", e.Topic, err)
	}
	telemetry.RecordKafkaSent(e.Topic)
	return nil
}

// Close implements Sink.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
