package supervisor

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfinch/wolfinch/internal/config"
	"github.com/wolfinch/wolfinch/internal/order"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Environment:    "test",
		CandleInterval: 60,
		ShutdownPolicy: "leave",
		DrainSeconds:   1,
		Exchanges: []config.Exchange{
			{
				Name:           "paper",
				CandleInterval: 60,
				Strategy:       "ema_rsi",
				Products: []map[string]config.Product{
					{"NIFTY": {ID: "NIFTY-FUT", AssetType: "index_future", QuoteType: "INR", LotSize: 25}},
					{"BANKNIFTY": {ID: "BANKNIFTY-FUT", AssetType: "index_future", QuoteType: "INR", LotSize: 15}},
				},
				Credentials: &config.Credentials{RandomSeed: 7, FeedCadence: 3600},
			},
		},
		Risk: config.Risk{
			MaxDailyLoss:     1000,
			MaxPositionSize:  5,
			MaxOpenPositions: 3,
			StartingCapital:  100000,
			StateFile:        filepath.Join(t.TempDir(), "risk.json"),
		},
		API: config.API{
			Addr:           "127.0.0.1:0",
			AdminSecretEnv: "WOLFINCH_ADMIN_SECRET",
		},
		ResolvedCache: &config.CacheDB{},
	}
	return cfg
}

func TestInitMaterializesMarkets(t *testing.T) {
	s := New(testConfig(t), Options{Simulate: true})
	require.NoError(t, s.Init(context.Background()))

	summaries := s.MarketSummaries()
	require.Len(t, summaries, 2)
	assert.Equal(t, "paper:BANKNIFTY-FUT", summaries[0].Key)
	assert.Equal(t, "paper:NIFTY-FUT", summaries[1].Key)
	for _, m := range summaries {
		assert.Equal(t, "init", m.State)
	}
}

func TestInitFailsWithUnknownExchange(t *testing.T) {
	cfg := testConfig(t)
	cfg.Exchanges[0].Name = "nyse"
	s := New(cfg, Options{})
	err := s.Init(context.Background())
	assert.Error(t, err)
}

func TestInitFailsWithUnknownStrategy(t *testing.T) {
	cfg := testConfig(t)
	cfg.Exchanges[0].Strategy = "does_not_exist"
	s := New(cfg, Options{Simulate: true})
	err := s.Init(context.Background())
	assert.ErrorContains(t, err, "unknown strategy")
}

func TestProviderSurfaces(t *testing.T) {
	s := New(testConfig(t), Options{Simulate: true})
	require.NoError(t, s.Init(context.Background()))

	stats := s.RiskStats()
	assert.False(t, stats.Blocked)
	assert.Empty(t, s.OpenOrders())
	assert.Empty(t, s.DailyTrades())
	assert.NotEmpty(t, s.SinkHealth(), "metrics and websocket sinks always registered")

	_, err := s.MarketCandles("paper:NIFTY-FUT", 10)
	assert.NoError(t, err)

	_, err = s.MarketCandles("nope", 10)
	assert.Error(t, err)
}

func TestUnblockDelegatesToGate(t *testing.T) {
	s := New(testConfig(t), Options{Simulate: true})
	require.NoError(t, s.Init(context.Background()))

	// Latch via a losing trade and a denied admit, then clear.
	s.gate.RecordTrade("paper:NIFTY-FUT", order.SideSell, 1, decimal.NewFromInt(100), decimal.NewFromInt(-2000), "")
	ok, _ := s.gate.Admit("paper:NIFTY-FUT", order.SideBuy, 1, decimal.NewFromInt(100))
	require.False(t, ok)
	require.True(t, s.RiskStats().Blocked)

	s.Unblock()
	assert.False(t, s.RiskStats().Blocked)
}
