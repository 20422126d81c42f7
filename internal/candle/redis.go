package candle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfinch/wolfinch/internal/config"
	"github.com/wolfinch/wolfinch/internal/logger"
)

// RedisCache mirrors the hot candle ring into Redis so a restarted
// process can warm its cache without hitting the cold backend. Entries
// live in a sorted set scored by candle time, which keeps the
// upsert-by-time contract: a rewrite for an existing time replaces the
// prior member.
type RedisCache struct {
	client *redis.Client
	max    int
	log    *logger.Logger
}

// NewRedisCache connects to Redis and verifies reachability.
func NewRedisCache(cfg config.Redis, maxCandles int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr(),
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis cache: ping: %w", err)
	}

	return &RedisCache{
		client: client,
		max:    maxCandles,
		log:    logger.Component("redis-cache"),
	}, nil
}

func cacheKey(instrument string) string {
	return "wolfinch:candles:" + instrument
}

// Put upserts candles into the mirror and trims to the ring bound.
// Failures are logged and swallowed: the mirror is advisory.
func (r *RedisCache) Put(ctx context.Context, instrument string, cs []Candle) {
	if len(cs) == 0 {
		return
	}
	key := cacheKey(instrument)
	pipe := r.client.Pipeline()
	for _, c := range cs {
		payload, err := json.Marshal(c)
		if err != nil {
			continue
		}
		score := float64(c.Time)
		pipe.ZRemRangeByScore(ctx, key, fmt.Sprintf("%d", c.Time), fmt.Sprintf("%d", c.Time))
		pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: payload})
	}
	pipe.ZRemRangeByRank(ctx, key, 0, int64(-r.max-1))
	if _, err := pipe.Exec(ctx); err != nil {
		r.log.WithError(err).Warn("mirror write failed", "instrument", instrument)
	}
}

// Recent returns up to n candles from the mirror, ascending.
func (r *RedisCache) Recent(ctx context.Context, instrument string, n int) Series {
	raw, err := r.client.ZRange(ctx, cacheKey(instrument), int64(-n), -1).Result()
	if err != nil {
		r.log.WithError(err).Warn("mirror read failed", "instrument", instrument)
		return nil
	}
	out := make(Series, 0, len(raw))
	for _, item := range raw {
		var c Candle
		if err := json.Unmarshal([]byte(item), &c); err != nil {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Close releases the Redis connection.
func (r *RedisCache) Close() error {
	return r.client.Close()
}
