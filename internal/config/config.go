// Package config loads the layered YAML configuration: a root file that
// names subordinate files for exchange credentials and cache databases,
// plus inline sections for risk limits, sinks, and the operator API.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	Environment    string         `yaml:"environment"`
	LogLevel       string         `yaml:"log_level"`
	LogFormat      string         `yaml:"log_format"`
	CandleInterval int        `yaml:"candle_interval"`       // seconds, default for all markets
	ShutdownPolicy string     `yaml:"shutdown_policy"`       // leave | cancel | close
	DrainSeconds   int        `yaml:"drain_timeout_seconds"` // queue drain bound on shutdown
	Exchanges      []Exchange `yaml:"exchanges"`
	CacheDB        CacheDBRef `yaml:"cache_db"`
	Risk           Risk       `yaml:"risk"`
	Sinks          Sinks      `yaml:"sinks"`
	API            API        `yaml:"api"`
	Backfill       Backfill   `yaml:"backfill"`
	ResolvedCache  *CacheDB   `yaml:"-"`
}

// DrainTimeout returns the shutdown drain bound.
func (c *Config) DrainTimeout() time.Duration {
	return time.Duration(c.DrainSeconds) * time.Second
}

// Exchange describes one configured venue.
type Exchange struct {
	Name           string               `yaml:"name"`
	ConfigFile     string               `yaml:"config"`
	CandleInterval int                  `yaml:"candle_interval"`
	Products       []map[string]Product `yaml:"products"`
	Backfill       Backfill             `yaml:"backfill"`
	Strategy       string               `yaml:"strategy"`
	StrategyParams map[string]float64   `yaml:"strategy_params"`
	Credentials    *Credentials         `yaml:"-"`
}

// Product describes a tradeable instrument on an exchange.
type Product struct {
	ID          string `yaml:"id"`
	AssetType   string `yaml:"asset_type"`
	QuoteType   string `yaml:"quote_type"`
	LotSize     int    `yaml:"lot_size"`
	ProductType string `yaml:"product_type"`
}

// Credentials holds per-exchange secrets and adapter tuning, loaded from
// the subordinate file named by Exchange.ConfigFile.
type Credentials struct {
	APIKey        string  `yaml:"api_key"`
	APISecret     string  `yaml:"api_secret"`
	Testnet       bool    `yaml:"testnet"`
	FeedCadence   int     `yaml:"feed_cadence_seconds"` // paper feed interval
	CommissionBps float64 `yaml:"commission_bps"`
	CSVDir        string  `yaml:"csv_dir"` // paper: per-product CSV candles
	RandomSeed    int64   `yaml:"random_seed"`
	RandomCandles int     `yaml:"random_candles"`
}

// CacheDBRef names the subordinate cache-db file.
type CacheDBRef struct {
	ConfigFile string `yaml:"config"`
}

// CacheDB holds the time-series and hot-cache backends.
type CacheDB struct {
	InfluxDB InfluxDB `yaml:"influxdb"`
	Redis    Redis    `yaml:"redis"`
}

// InfluxDB holds the cold time-series backend settings.
type InfluxDB struct {
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`
	Enabled bool   `yaml:"enabled"`
}

// Redis holds the optional hot-cache mirror settings.
type Redis struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	DB      int    `yaml:"db"`
	Enabled bool   `yaml:"enabled"`
}

// Risk holds the risk gate limits.
type Risk struct {
	MaxDailyLoss        float64 `yaml:"max_daily_loss"`
	MaxDailyLossPercent float64 `yaml:"max_daily_loss_percent"`
	MaxPositionSize     int     `yaml:"max_position_size"`
	MaxOpenPositions    int     `yaml:"max_open_positions"`
	StartingCapital     float64 `yaml:"starting_capital"`
	StateFile           string  `yaml:"state_file"`
}

// Sinks holds the event sink endpoints.
type Sinks struct {
	Kafka KafkaSink `yaml:"kafka"`
	Audit AuditSink `yaml:"audit"`
}

// KafkaSink holds message bus settings.
type KafkaSink struct {
	Brokers []string `yaml:"brokers"`
	Enabled bool     `yaml:"enabled"`
}

// AuditSink holds the relational audit writer settings.
type AuditSink struct {
	DSN     string `yaml:"dsn"`
	Enabled bool   `yaml:"enabled"`
}

// API holds the operator HTTP surface settings.
type API struct {
	Addr           string `yaml:"addr"`
	TelemetryAddr  string `yaml:"telemetry_addr"`
	AdminSecretEnv string `yaml:"admin_secret_env"` // env var holding the JWT signing secret
}

// Backfill controls historical candle loading.
type Backfill struct {
	Enabled bool `yaml:"enabled"`
	Period  int  `yaml:"period"` // days
}

// Load reads the root config file, resolves subordinate files relative to
// it, and validates the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	base := filepath.Dir(path)

	if cfg.CacheDB.ConfigFile != "" {
		cache, err := loadCacheDB(resolve(base, cfg.CacheDB.ConfigFile))
		if err != nil {
			return nil, err
		}
		cfg.ResolvedCache = cache
	} else {
		cfg.ResolvedCache = &CacheDB{}
	}

	for i := range cfg.Exchanges {
		ex := &cfg.Exchanges[i]
		if ex.ConfigFile == "" {
			ex.Credentials = &Credentials{}
			continue
		}
		creds, err := loadCredentials(resolve(base, ex.ConfigFile))
		if err != nil {
			return nil, err
		}
		ex.Credentials = creds
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Environment:    "development",
		LogLevel:       "info",
		LogFormat:      "json",
		CandleInterval: 60,
		ShutdownPolicy: "leave",
		DrainSeconds:   10,
		Risk: Risk{
			StartingCapital: 100000,
			StateFile:       "data/risk_state.json",
		},
		API: API{
			Addr:           getEnv("WOLFINCH_API_ADDR", ":8080"),
			TelemetryAddr:  getEnv("WOLFINCH_TELEMETRY_ADDR", ":9100"),
			AdminSecretEnv: "WOLFINCH_ADMIN_SECRET",
		},
	}
}

func loadCacheDB(path string) (*CacheDB, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read cache-db %s: %w", path, err)
	}
	var cache CacheDB
	if err := yaml.Unmarshal(raw, &cache); err != nil {
		return nil, fmt.Errorf("config: parse cache-db %s: %w", path, err)
	}
	return &cache, nil
}

func loadCredentials(path string) (*Credentials, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read exchange config %s: %w", path, err)
	}
	var creds Credentials
	if err := yaml.Unmarshal(raw, &creds); err != nil {
		return nil, fmt.Errorf("config: parse exchange config %s: %w", path, err)
	}
	// Secrets may be provided through the environment instead of on disk.
	if creds.APIKey == "" {
		creds.APIKey = os.Getenv("WOLFINCH_API_KEY")
	}
	if creds.APISecret == "" {
		creds.APISecret = os.Getenv("WOLFINCH_API_SECRET")
	}
	return &creds, nil
}

func (c *Config) validate() error {
	if len(c.Exchanges) == 0 {
		return fmt.Errorf("config: no exchanges configured")
	}
	if c.CandleInterval <= 0 {
		return fmt.Errorf("config: candle_interval must be positive, got %d", c.CandleInterval)
	}
	switch c.ShutdownPolicy {
	case "leave", "cancel", "close":
	default:
		return fmt.Errorf("config: unknown shutdown_policy %q", c.ShutdownPolicy)
	}

	seen := make(map[string]bool)
	for i := range c.Exchanges {
		ex := &c.Exchanges[i]
		if ex.Name == "" {
			return fmt.Errorf("config: exchange %d has no name", i)
		}
		if seen[ex.Name] {
			return fmt.Errorf("config: duplicate exchange %q", ex.Name)
		}
		seen[ex.Name] = true
		if ex.CandleInterval == 0 {
			ex.CandleInterval = c.CandleInterval
		}
		if len(ex.Products) == 0 {
			return fmt.Errorf("config: exchange %q has no products", ex.Name)
		}
		for _, entry := range ex.Products {
			for symbol, p := range entry {
				if p.ID == "" {
					return fmt.Errorf("config: product %q on %q has no id", symbol, ex.Name)
				}
				if p.LotSize < 0 {
					return fmt.Errorf("config: product %q on %q has negative lot_size %d", symbol, ex.Name, p.LotSize)
				}
			}
		}
	}

	if c.Risk.MaxDailyLoss < 0 || c.Risk.MaxDailyLossPercent < 0 ||
		c.Risk.MaxPositionSize < 0 || c.Risk.MaxOpenPositions < 0 {
		return fmt.Errorf("config: risk limits must be non-negative")
	}
	if c.Risk.StartingCapital <= 0 {
		return fmt.Errorf("config: risk starting_capital must be positive")
	}
	return nil
}

// LotSizeOrDefault returns the product lot size, defaulting to 1.
func (p Product) LotSizeOrDefault() int {
	if p.LotSize < 1 {
		return 1
	}
	return p.LotSize
}

// Addr returns host:port for the Redis hot cache.
func (r Redis) Addr() string {
	return r.Host + ":" + strconv.Itoa(r.Port)
}

func resolve(base, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
