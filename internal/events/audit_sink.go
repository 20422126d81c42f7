package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const auditSchema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id          BIGSERIAL PRIMARY KEY,
	family      TEXT        NOT NULL,
	event_type  TEXT        NOT NULL,
	instrument  TEXT,
	occurred_at TIMESTAMPTZ NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	payload     JSONB       NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_events_occurred_idx ON audit_events (occurred_at);
CREATE INDEX IF NOT EXISTS audit_events_type_idx ON audit_events (event_type);`

// AuditSink writes one relational row per event with a JSON blob for
// the heterogeneous metadata. Intended for compliance replay: an
// auditor can reconstruct every decision from this table alone.
type AuditSink struct {
	pool *pgxpool.Pool
}

// NewAuditSink connects the pool and ensures the schema exists.
func NewAuditSink(ctx context.Context, dsn string) (*AuditSink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("audit sink: connect: %w", err)
	}
	if _, err := pool.Exec(ctx, auditSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit sink: schema: %w", err)
	}
	return &AuditSink{pool: pool}, nil
}

// Name implements Sink.
func (s *AuditSink) Name() string { return "audit" }

// Publish implements Sink.
func (s *AuditSink) Publish(ctx context.Context, e Event) error {
	payload := map[string]any{
		"tags":   e.Tags,
		"fields": e.Fields,
	}
	if e.Topic != "" {
		payload["topic"] = e.Topic
		payload["key"] = e.Key
	}
	blob, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("audit sink: marshal: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO audit_events (family, event_type, instrument, occurred_at, payload)
		 VALUES ($1, $2, $3, $4, $5)`,
		string(e.Family), e.Type, e.Instrument, e.Timestamp, blob)
	if err != nil {
		return fmt.Errorf("audit sink: insert: %w", err)
	}
	return nil
}

// Close implements Sink.
func (s *AuditSink) Close() error {
	s.pool.Close()
	return nil
}
