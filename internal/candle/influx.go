package candle

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/shopspring/decimal"

	"github.com/wolfinch/wolfinch/internal/config"
	"github.com/wolfinch/wolfinch/internal/telemetry"
)

const candleMeasurement = "candle"

// InfluxBackend stores candle series in InfluxDB. The measurement is
// "candle" with tags venue and product; writes to the same timestamp and
// tag set are natural upserts.
type InfluxBackend struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	queryAPI api.QueryAPI
	bucket   string
	org      string
}

// NewInfluxBackend connects to InfluxDB and verifies reachability.
func NewInfluxBackend(cfg config.InfluxDB) (*InfluxBackend, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Health(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("influx backend: health check: %w", err)
	}

	return &InfluxBackend{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		queryAPI: client.QueryAPI(cfg.Org),
		bucket:   cfg.Bucket,
		org:      cfg.Org,
	}, nil
}

func splitKey(instrument string) (venue, product string) {
	if i := strings.IndexByte(instrument, ':'); i >= 0 {
		return instrument[:i], instrument[i+1:]
	}
	return "", instrument
}

func (b *InfluxBackend) point(instrument string, c Candle) *write.Point {
	venue, product := splitKey(instrument)
	o, _ := c.Open.Float64()
	h, _ := c.High.Float64()
	l, _ := c.Low.Float64()
	cl, _ := c.Close.Float64()
	v, _ := c.Volume.Float64()
	return influxdb2.NewPoint(candleMeasurement,
		map[string]string{"venue": venue, "product": product},
		map[string]interface{}{
			"open":   o,
			"high":   h,
			"low":    l,
			"close":  cl,
			"volume": v,
		},
		time.Unix(c.Time, 0).UTC())
}

func (b *InfluxBackend) WriteCandle(ctx context.Context, instrument string, c Candle) error {
	if err := b.writeAPI.WritePoint(ctx, b.point(instrument, c)); err != nil {
		telemetry.RecordInfluxError()
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	telemetry.RecordInfluxWrite()
	return nil
}

func (b *InfluxBackend) WriteCandles(ctx context.Context, instrument string, cs []Candle) error {
	if len(cs) == 0 {
		return nil
	}
	points := make([]*write.Point, len(cs))
	for i, c := range cs {
		points[i] = b.point(instrument, c)
	}
	if err := b.writeAPI.WritePoint(ctx, points...); err != nil {
		telemetry.RecordInfluxError()
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	telemetry.RecordInfluxWrite()
	return nil
}

func (b *InfluxBackend) QueryAll(ctx context.Context, instrument string, limit int) (Series, error) {
	s, err := b.query(ctx, instrument, 0, 0)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(s) > limit {
		s = s[len(s)-limit:]
	}
	return s, nil
}

func (b *InfluxBackend) QuerySince(ctx context.Context, instrument string, since int64) (Series, error) {
	return b.query(ctx, instrument, since, 0)
}

func (b *InfluxBackend) QueryRange(ctx context.Context, instrument string, start, end int64) (Series, error) {
	// Flux range stop is exclusive; the store contract is inclusive.
	return b.query(ctx, instrument, start, end+1)
}

func (b *InfluxBackend) QueryRecent(ctx context.Context, instrument string, n int) (Series, error) {
	s, err := b.query(ctx, instrument, 0, 0)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(s) > n {
		s = s[len(s)-n:]
	}
	return s, nil
}

func (b *InfluxBackend) query(ctx context.Context, instrument string, start, stop int64) (Series, error) {
	venue, product := splitKey(instrument)

	rangeClause := "|> range(start: 0)"
	if stop > 0 {
		rangeClause = fmt.Sprintf("|> range(start: %d, stop: %d)", start, stop)
	} else if start > 0 {
		rangeClause = fmt.Sprintf("|> range(start: %d)", start)
	}

	flux := fmt.Sprintf(`from(bucket: %q)
    %s
    |> filter(fn: (r) => r["_measurement"] == %q)
    |> filter(fn: (r) => r["venue"] == %q)
    |> filter(fn: (r) => r["product"] == %q)
    |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
    |> sort(columns: ["_time"])`,
		b.bucket, rangeClause, candleMeasurement, venue, product)

	result, err := b.queryAPI.Query(ctx, flux)
	if err != nil {
		telemetry.RecordInfluxError()
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	byTime := make(map[int64]Candle)
	for result.Next() {
		rec := result.Record()
		c := Candle{Time: rec.Time().Unix()}
		c.Open = fieldDecimal(rec.ValueByKey("open"))
		c.High = fieldDecimal(rec.ValueByKey("high"))
		c.Low = fieldDecimal(rec.ValueByKey("low"))
		c.Close = fieldDecimal(rec.ValueByKey("close"))
		c.Volume = fieldDecimal(rec.ValueByKey("volume"))
		byTime[c.Time] = c
	}
	if result.Err() != nil {
		telemetry.RecordInfluxError()
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, result.Err())
	}

	out := make(Series, 0, len(byTime))
	for _, c := range byTime {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out, nil
}

func fieldDecimal(v interface{}) decimal.Decimal {
	f, ok := v.(float64)
	if !ok {
		return decimal.Zero
	}
	return decimal.NewFromFloat(f)
}

func (b *InfluxBackend) Ping(ctx context.Context) error {
	if _, err := b.client.Health(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

func (b *InfluxBackend) Close() error {
	b.client.Close()
	return nil
}
