package events

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/wolfinch/wolfinch/internal/config"
	"github.com/wolfinch/wolfinch/internal/telemetry"
)

// InfluxSink writes events as tagged points. The measurement name is
// the event family; string-valued fields are stored with a _str suffix
// so numeric schemas stay stable.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

// NewInfluxSink connects the time-series sink.
func NewInfluxSink(cfg config.InfluxDB) (*InfluxSink, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}, nil
}

// Name implements Sink.
func (s *InfluxSink) Name() string { return "influxdb" }

// Publish implements Sink.
func (s *InfluxSink) Publish(ctx context.Context, e Event) error {
	tags := make(map[string]string, len(e.Tags)+2)
	for k, v := range e.Tags {
		tags[k] = v
	}
	if e.Instrument != "" {
		tags["instrument"] = e.Instrument
	}
	if e.Type != "" {
		tags["event_type"] = e.Type
	}

	fields := make(map[string]interface{}, len(e.Fields))
	for k, v := range e.Fields {
		switch val := v.(type) {
		case string:
			fields[k+"_str"] = val
		default:
			fields[k] = val
		}
	}
	if len(fields) == 0 {
		fields["count"] = int64(1)
	}

	point := influxdb2.NewPoint(string(e.Family), tags, fields, e.Timestamp)
	if err := s.writeAPI.WritePoint(ctx, point); err != nil {
		telemetry.RecordInfluxError()
		return fmt.Errorf("influx sink: %w", err)
	}
	telemetry.RecordInfluxWrite()
	return nil
}

// Close implements Sink.
func (s *InfluxSink) Close() error {
	s.client.Close()
	return nil
}
