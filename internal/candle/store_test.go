package candle

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkCandle(t int64, o, h, l, c, v float64) Candle {
	return Candle{
		Time:   t,
		Open:   decimal.NewFromFloat(o),
		High:   decimal.NewFromFloat(h),
		Low:    decimal.NewFromFloat(l),
		Close:  decimal.NewFromFloat(c),
		Volume: decimal.NewFromFloat(v),
	}
}

func TestCandleValidate(t *testing.T) {
	assert.NoError(t, mkCandle(1700000000, 100, 101, 99, 100, 10).Validate())

	bad := mkCandle(1700000000, 100, 99, 99, 100, 10) // high below open
	assert.ErrorIs(t, bad.Validate(), ErrInvalidCandle)

	neg := mkCandle(1700000000, 100, 101, 99, 100, -1)
	assert.ErrorIs(t, neg.Validate(), ErrInvalidCandle)

	zero := mkCandle(0, 100, 101, 99, 100, 1)
	assert.ErrorIs(t, zero.Validate(), ErrInvalidCandle)
}

func TestStoreUpsertByTime(t *testing.T) {
	store := NewStore(NewMemoryBackend(), nil, 100)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "paper:NIFTY-FUT", mkCandle(1700000000, 100, 101, 99, 100, 10)))
	require.NoError(t, store.Save(ctx, "paper:NIFTY-FUT", mkCandle(1700000000, 100, 102, 99, 101, 15)))

	series, err := store.GetRecent(ctx, "paper:NIFTY-FUT", 1)
	require.NoError(t, err)
	require.Len(t, series, 1)
	assert.Equal(t, int64(1700000000), series[0].Time)
	assert.True(t, series[0].High.Equal(decimal.NewFromInt(102)))
	assert.True(t, series[0].Close.Equal(decimal.NewFromInt(101)))
	assert.True(t, series[0].Volume.Equal(decimal.NewFromInt(15)))
}

func TestStoreSeriesOrderedNoDuplicates(t *testing.T) {
	store := NewStore(NewMemoryBackend(), nil, 100)
	ctx := context.Background()

	// Out-of-order and duplicate writes.
	times := []int64{1700000120, 1700000060, 1700000180, 1700000060}
	for _, ts := range times {
		require.NoError(t, store.Save(ctx, "x", mkCandle(ts, 10, 11, 9, 10, 1)))
	}

	series, err := store.GetAll(ctx, "x")
	require.NoError(t, err)
	require.Len(t, series, 3)
	for i := 1; i < len(series); i++ {
		assert.Greater(t, series[i].Time, series[i-1].Time)
	}
}

func TestStoreRingBound(t *testing.T) {
	store := NewStore(NewMemoryBackend(), nil, 5)
	ctx := context.Background()

	for i := int64(0); i < 20; i++ {
		require.NoError(t, store.Save(ctx, "x", mkCandle(1700000000+i*60, 10, 11, 9, 10, 1)))
	}

	recent, err := store.GetRecent(ctx, "x", 5)
	require.NoError(t, err)
	require.Len(t, recent, 5)
	assert.Equal(t, int64(1700000000+19*60), recent[4].Time)

	// Backend still holds the full series.
	all, err := store.GetSince(ctx, "x", 0)
	require.NoError(t, err)
	assert.Len(t, all, 20)
}

func TestStoreRangeInclusive(t *testing.T) {
	store := NewStore(NewMemoryBackend(), nil, 100)
	ctx := context.Background()
	for i := int64(0); i < 10; i++ {
		require.NoError(t, store.Save(ctx, "x", mkCandle(1000+i*60, 10, 11, 9, 10, 1)))
	}

	series, err := store.GetRange(ctx, "x", 1060, 1180)
	require.NoError(t, err)
	require.Len(t, series, 3)
	assert.Equal(t, int64(1060), series[0].Time)
	assert.Equal(t, int64(1180), series[2].Time)
}

// failingBackend simulates an unavailable cold store.
type failingBackend struct{}

func (failingBackend) WriteCandle(context.Context, string, Candle) error {
	return ErrStorageUnavailable
}
func (failingBackend) WriteCandles(context.Context, string, []Candle) error {
	return ErrStorageUnavailable
}
func (failingBackend) QueryAll(context.Context, string, int) (Series, error) {
	return nil, ErrStorageUnavailable
}
func (failingBackend) QuerySince(context.Context, string, int64) (Series, error) {
	return nil, ErrStorageUnavailable
}
func (failingBackend) QueryRange(context.Context, string, int64, int64) (Series, error) {
	return nil, ErrStorageUnavailable
}
func (failingBackend) QueryRecent(context.Context, string, int) (Series, error) {
	return nil, ErrStorageUnavailable
}
func (failingBackend) Ping(context.Context) error { return ErrStorageUnavailable }
func (failingBackend) Close() error               { return nil }

func TestStoreDegradesToHotCache(t *testing.T) {
	store := NewStore(failingBackend{}, nil, 100)
	ctx := context.Background()

	for i := int64(0); i < 100; i++ {
		err := store.Save(ctx, "x", mkCandle(1700000000+i*60, 10, 11, 9, 10, 1))
		assert.ErrorIs(t, err, ErrStorageUnavailable)
	}

	// Reads that need the backend surface the condition with an empty series.
	series, err := store.GetSince(ctx, "x", 0)
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.Empty(t, series)

	// Cache-first reads still serve the hot ring.
	recent, err := store.GetRecent(ctx, "x", 10)
	require.NoError(t, err)
	assert.Len(t, recent, 10)
}

func TestStoreBatchSkipsInvalid(t *testing.T) {
	store := NewStore(NewMemoryBackend(), nil, 100)
	ctx := context.Background()

	batch := []Candle{
		mkCandle(1000, 10, 11, 9, 10, 1),
		mkCandle(1060, 10, 9, 9, 10, 1), // high < open, dropped
		mkCandle(1120, 10, 11, 9, 10, 1),
	}
	require.NoError(t, store.SaveBatch(ctx, "x", batch))

	series, err := store.GetAll(ctx, "x")
	require.NoError(t, err)
	assert.Len(t, series, 2)
}
