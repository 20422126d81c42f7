package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const rootYAML = `
environment: production
log_level: debug
candle_interval: 60
shutdown_policy: cancel
cache_db:
  config: cache.yml
risk:
  max_daily_loss: 5000
  max_daily_loss_percent: 2.5
  max_position_size: 10
  max_open_positions: 3
  starting_capital: 200000
sinks:
  kafka:
    brokers: ["localhost:9093"]
    enabled: true
  audit:
    dsn: "postgres://wolfinch@localhost/wolfinch"
    enabled: true
backfill:
  enabled: true
  period: 7
exchanges:
  - name: paper
    config: paper.yml
    strategy: supertrend_adx
    products:
      - NIFTY:
          id: NIFTY-FUT
          asset_type: index_future
          quote_type: INR
          lot_size: 25
      - BANKNIFTY:
          id: BANKNIFTY-FUT
          asset_type: index_future
          quote_type: INR
`

const cacheYAML = `
influxdb:
  url: http://localhost:8086
  token: secret
  org: wolfinch
  bucket: trading
  enabled: true
redis:
  host: localhost
  port: 6379
  db: 0
  enabled: true
`

const paperYAML = `
feed_cadence_seconds: 60
commission_bps: 2
random_seed: 42
`

func TestLoadHierarchy(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "cache.yml", cacheYAML)
	writeFile(t, dir, "paper.yml", paperYAML)
	root := writeFile(t, dir, "wolfinch.yml", rootYAML)

	cfg, err := Load(root)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, 60, cfg.CandleInterval)
	assert.Equal(t, "cancel", cfg.ShutdownPolicy)

	require.NotNil(t, cfg.ResolvedCache)
	assert.True(t, cfg.ResolvedCache.InfluxDB.Enabled)
	assert.Equal(t, "trading", cfg.ResolvedCache.InfluxDB.Bucket)
	assert.Equal(t, "localhost:6379", cfg.ResolvedCache.Redis.Addr())

	assert.InDelta(t, 5000, cfg.Risk.MaxDailyLoss, 1e-9)
	assert.Equal(t, 3, cfg.Risk.MaxOpenPositions)

	require.Len(t, cfg.Exchanges, 1)
	ex := cfg.Exchanges[0]
	assert.Equal(t, "paper", ex.Name)
	assert.Equal(t, "supertrend_adx", ex.Strategy)
	require.NotNil(t, ex.Credentials)
	assert.Equal(t, 60, ex.Credentials.FeedCadence)
	assert.InDelta(t, 2, ex.Credentials.CommissionBps, 1e-9)

	require.Len(t, ex.Products, 2)
	nifty := ex.Products[0]["NIFTY"]
	assert.Equal(t, "NIFTY-FUT", nifty.ID)
	assert.Equal(t, 25, nifty.LotSizeOrDefault())

	bank := ex.Products[1]["BANKNIFTY"]
	assert.Equal(t, 1, bank.LotSizeOrDefault(), "missing lot_size defaults to 1")

	assert.True(t, cfg.Sinks.Kafka.Enabled)
	assert.Equal(t, []string{"localhost:9093"}, cfg.Sinks.Kafka.Brokers)
	assert.True(t, cfg.Backfill.Enabled)
	assert.Equal(t, 7, cfg.Backfill.Period)
}

func TestLoadMissingFileFatal(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

func TestValidateNoExchanges(t *testing.T) {
	dir := t.TempDir()
	root := writeFile(t, dir, "root.yml", "candle_interval: 60\nexchanges: []\n")
	_, err := Load(root)
	assert.ErrorContains(t, err, "no exchanges")
}

func TestValidateBadShutdownPolicy(t *testing.T) {
	dir := t.TempDir()
	root := writeFile(t, dir, "root.yml", `
shutdown_policy: explode
exchanges:
  - name: paper
    products:
      - X: {id: X-1}
`)
	_, err := Load(root)
	assert.ErrorContains(t, err, "shutdown_policy")
}

func TestValidateProductWithoutID(t *testing.T) {
	dir := t.TempDir()
	root := writeFile(t, dir, "root.yml", `
exchanges:
  - name: paper
    products:
      - X: {asset_type: equity}
`)
	_, err := Load(root)
	assert.ErrorContains(t, err, "no id")
}

func TestValidateDuplicateExchange(t *testing.T) {
	dir := t.TempDir()
	root := writeFile(t, dir, "root.yml", `
exchanges:
  - name: paper
    products: [{X: {id: X-1}}]
  - name: paper
    products: [{Y: {id: Y-1}}]
`)
	_, err := Load(root)
	assert.ErrorContains(t, err, "duplicate exchange")
}

func TestValidateNegativeRisk(t *testing.T) {
	dir := t.TempDir()
	root := writeFile(t, dir, "root.yml", `
risk:
  max_daily_loss: -5
  starting_capital: 1000
exchanges:
  - name: paper
    products: [{X: {id: X-1}}]
`)
	_, err := Load(root)
	assert.ErrorContains(t, err, "non-negative")
}

func TestExchangeInheritsCandleInterval(t *testing.T) {
	dir := t.TempDir()
	root := writeFile(t, dir, "root.yml", `
candle_interval: 300
exchanges:
  - name: paper
    products: [{X: {id: X-1}}]
`)
	cfg, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, 300, cfg.Exchanges[0].CandleInterval)
}
