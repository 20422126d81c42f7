package candle

import (
	"context"
	"sort"
	"sync"

	"github.com/wolfinch/wolfinch/internal/logger"
)

const (
	// DefaultCacheSize bounds the per-instrument hot ring.
	DefaultCacheSize = 1000
	// maxQueryLimit bounds GetAll reads against the cold backend.
	maxQueryLimit = 10000
)

// Store is the two-tier candle store: a bounded per-instrument hot ring
// in front of the authoritative Backend, with an optional Redis mirror.
// Reads are monotonically consistent per instrument; writes are upserts
// keyed by (instrument, time).
type Store struct {
	backend Backend
	mirror  *RedisCache
	size    int
	log     *logger.Logger

	mu    sync.RWMutex
	rings map[string]*ring
}

// NewStore creates a store over the given backend. mirror may be nil.
func NewStore(backend Backend, mirror *RedisCache, cacheSize int) *Store {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	return &Store{
		backend: backend,
		mirror:  mirror,
		size:    cacheSize,
		log:     logger.Component("candle-store"),
		rings:   make(map[string]*ring),
	}
}

// Save upserts one candle, write-through to both tiers. The hot ring is
// always updated so reads can degrade to it; a backend failure is
// returned as ErrStorageUnavailable for the caller to retry the flush.
func (s *Store) Save(ctx context.Context, instrument string, c Candle) error {
	if err := c.Validate(); err != nil {
		return err
	}
	s.ring(instrument).put(c)
	if s.mirror != nil {
		s.mirror.Put(ctx, instrument, []Candle{c})
	}
	if err := s.backend.WriteCandle(ctx, instrument, c); err != nil {
		s.log.WithError(err).Warn("backend write dropped", "instrument", instrument, "time", c.Time)
		return err
	}
	return nil
}

// SaveBatch upserts candles in a single backend round-trip; the ring is
// updated with the tail.
func (s *Store) SaveBatch(ctx context.Context, instrument string, cs []Candle) error {
	if len(cs) == 0 {
		return nil
	}
	valid := make([]Candle, 0, len(cs))
	for _, c := range cs {
		if err := c.Validate(); err != nil {
			s.log.WithError(err).Warn("candle dropped from batch", "instrument", instrument)
			continue
		}
		valid = append(valid, c)
	}
	if len(valid) == 0 {
		return nil
	}

	r := s.ring(instrument)
	for _, c := range valid {
		r.put(c)
	}
	if s.mirror != nil {
		s.mirror.Put(ctx, instrument, valid)
	}
	if err := s.backend.WriteCandles(ctx, instrument, valid); err != nil {
		s.log.WithError(err).Warn("backend batch write dropped", "instrument", instrument, "count", len(valid))
		return err
	}
	return nil
}

// GetAll returns the full series, cache-first. On a cache miss the cold
// backend is queried (bounded) and the ring repopulated with the tail.
func (s *Store) GetAll(ctx context.Context, instrument string) (Series, error) {
	if cached := s.ring(instrument).snapshot(); len(cached) > 0 {
		return cached, nil
	}
	series, err := s.backend.QueryAll(ctx, instrument, maxQueryLimit)
	if err != nil {
		return Series{}, err
	}
	s.repopulate(instrument, series)
	return series, nil
}

// GetSince returns candles with time ≥ t, ascending, from the backend.
func (s *Store) GetSince(ctx context.Context, instrument string, t int64) (Series, error) {
	series, err := s.backend.QuerySince(ctx, instrument, t)
	if err != nil {
		return Series{}, err
	}
	return series, nil
}

// GetRange returns candles with t0 ≤ time ≤ t1, ascending.
func (s *Store) GetRange(ctx context.Context, instrument string, t0, t1 int64) (Series, error) {
	series, err := s.backend.QueryRange(ctx, instrument, t0, t1)
	if err != nil {
		return Series{}, err
	}
	return series, nil
}

// GetRecent returns the latest n candles, cache-first.
func (s *Store) GetRecent(ctx context.Context, instrument string, n int) (Series, error) {
	cached := s.ring(instrument).snapshot()
	if len(cached) >= n {
		return cached[len(cached)-n:], nil
	}
	if s.mirror != nil {
		if mirrored := s.mirror.Recent(ctx, instrument, n); len(mirrored) >= n {
			s.repopulate(instrument, mirrored)
			return mirrored[len(mirrored)-n:], nil
		}
	}
	series, err := s.backend.QueryRecent(ctx, instrument, n)
	if err != nil {
		// Backend down: degrade to whatever the ring holds.
		if len(cached) > 0 {
			return cached, nil
		}
		return Series{}, err
	}
	s.repopulate(instrument, series)
	return series, nil
}

// Instruments returns the instrument keys with hot data.
func (s *Store) Instruments() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.rings))
	for k := range s.rings {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Close releases the backend and mirror.
func (s *Store) Close() error {
	if s.mirror != nil {
		_ = s.mirror.Close()
	}
	return s.backend.Close()
}

func (s *Store) ring(instrument string) *ring {
	s.mu.RLock()
	r, ok := s.rings[instrument]
	s.mu.RUnlock()
	if ok {
		return r
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok = s.rings[instrument]; ok {
		return r
	}
	r = newRing(s.size)
	s.rings[instrument] = r
	return r
}

func (s *Store) repopulate(instrument string, series Series) {
	r := s.ring(instrument)
	tail := series
	if len(tail) > s.size {
		tail = tail[len(tail)-s.size:]
	}
	for _, c := range tail {
		r.put(c)
	}
}

// ring is a bounded, time-ordered candle buffer with upsert-by-time.
type ring struct {
	mu   sync.RWMutex
	max  int
	data Series
}

func newRing(max int) *ring {
	return &ring{max: max, data: make(Series, 0, max)}
}

func (r *ring) put(c Candle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.data)
	// Fast path: appending in order.
	if n == 0 || c.Time > r.data[n-1].Time {
		r.data = append(r.data, c)
	} else {
		i := sort.Search(n, func(i int) bool { return r.data[i].Time >= c.Time })
		if i < n && r.data[i].Time == c.Time {
			r.data[i] = c
		} else {
			r.data = append(r.data, Candle{})
			copy(r.data[i+1:], r.data[i:])
			r.data[i] = c
		}
	}
	if len(r.data) > r.max {
		r.data = r.data[len(r.data)-r.max:]
	}
}

func (r *ring) snapshot() Series {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(Series, len(r.data))
	copy(out, r.data)
	return out
}
