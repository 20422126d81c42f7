// Package supervisor owns the process lifecycle: it wires the candle
// store, event sinks, risk gate, adapters and markets from
// configuration, runs them, aggregates heartbeats, and drives the
// bounded shutdown.
package supervisor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wolfinch/wolfinch/internal/analytics"
	"github.com/wolfinch/wolfinch/internal/api"
	"github.com/wolfinch/wolfinch/internal/candle"
	"github.com/wolfinch/wolfinch/internal/config"
	"github.com/wolfinch/wolfinch/internal/events"
	"github.com/wolfinch/wolfinch/internal/exchanges"
	"github.com/wolfinch/wolfinch/internal/exchanges/binance"
	"github.com/wolfinch/wolfinch/internal/exchanges/paper"
	"github.com/wolfinch/wolfinch/internal/indicator"
	"github.com/wolfinch/wolfinch/internal/logger"
	"github.com/wolfinch/wolfinch/internal/market"
	"github.com/wolfinch/wolfinch/internal/order"
	"github.com/wolfinch/wolfinch/internal/risk"
	"github.com/wolfinch/wolfinch/internal/strategy"
	"github.com/wolfinch/wolfinch/internal/telemetry"
)

const (
	defaultStrategy  = "ema_rsi"
	snapshotInterval = time.Minute
)

// Options are the CLI-level switches.
type Options struct {
	Primary  string // venue whose balances seed market state
	Simulate bool   // force every venue onto the paper adapter
}

// Supervisor is the top-level component.
type Supervisor struct {
	cfg  *config.Config
	opts Options
	log  *logger.Logger

	store    *candle.Store
	fanout   *events.Fanout
	gate     *risk.Gate
	engine   *indicator.Engine
	host     *strategy.Host
	tracker  *analytics.Tracker
	hub      *api.Hub
	server   *api.Server
	adapters map[string]exchanges.Exchange

	mu        sync.RWMutex
	markets   map[string]*market.Market
	backfills map[string]config.Backfill // market key -> resolved backfill
}

// New creates an uninitialized supervisor.
func New(cfg *config.Config, opts Options) *Supervisor {
	return &Supervisor{
		cfg:      cfg,
		opts:     opts,
		log:      logger.Component("supervisor"),
		engine:   indicator.NewEngine(),
		tracker:  analytics.NewTracker(),
		adapters:  make(map[string]exchanges.Exchange),
		markets:   make(map[string]*market.Market),
		backfills: make(map[string]config.Backfill),
	}
}

// Init builds every collaborator: store, sinks, gate, adapters,
// markets. Configuration errors are fatal; a missing cold backend is
// not — the store degrades and the condition is surfaced.
func (s *Supervisor) Init(ctx context.Context) error {
	if err := s.initStore(); err != nil {
		return err
	}
	if err := s.initSinks(ctx); err != nil {
		return err
	}

	gate, err := risk.NewGate(riskLimits(s.cfg.Risk), s.cfg.Risk.StateFile)
	if err != nil {
		return err
	}
	s.gate = gate
	s.host = strategy.NewHost(s.engine)

	if err := s.initAdapters(ctx); err != nil {
		return err
	}
	if err := s.initMarkets(); err != nil {
		return err
	}

	s.server = api.NewServer(api.Config{
		Addr:           s.cfg.API.Addr,
		AdminSecretEnv: s.cfg.API.AdminSecretEnv,
	}, s, s.hub)

	s.log.Info("supervisor initialized",
		"markets", len(s.markets),
		"adapters", len(s.adapters),
		"simulate", s.opts.Simulate)
	return nil
}

func (s *Supervisor) initStore() error {
	cache := s.cfg.ResolvedCache

	var backend candle.Backend
	if cache != nil && cache.InfluxDB.Enabled {
		influx, err := candle.NewInfluxBackend(cache.InfluxDB)
		if err != nil {
			// Degrade explicitly: hot-cache only, loudly.
			s.log.WithError(err).Error("cold candle backend unavailable, degrading to hot cache")
			telemetry.RecordInfluxError()
			backend = candle.NewMemoryBackend()
		} else {
			backend = influx
		}
	} else {
		backend = candle.NewMemoryBackend()
		s.log.Warn("no cold candle backend configured, using in-memory store")
	}

	var mirror *candle.RedisCache
	if cache != nil && cache.Redis.Enabled {
		m, err := candle.NewRedisCache(cache.Redis, candle.DefaultCacheSize)
		if err != nil {
			s.log.WithError(err).Warn("redis mirror unavailable, continuing without it")
		} else {
			mirror = m
		}
	}

	s.store = candle.NewStore(backend, mirror, candle.DefaultCacheSize)
	return nil
}

func (s *Supervisor) initSinks(ctx context.Context) error {
	s.hub = api.NewHub()

	// Fixed publication order: time-series, bus, audit, metrics, push.
	var sinks []events.Sink
	if cache := s.cfg.ResolvedCache; cache != nil && cache.InfluxDB.Enabled {
		influx, err := events.NewInfluxSink(cache.InfluxDB)
		if err != nil {
			s.log.WithError(err).Warn("time-series sink disabled")
		} else {
			sinks = append(sinks, influx)
		}
	}
	if s.cfg.Sinks.Kafka.Enabled {
		sinks = append(sinks, events.NewKafkaSink(s.cfg.Sinks.Kafka))
	}
	if s.cfg.Sinks.Audit.Enabled {
		audit, err := events.NewAuditSink(ctx, s.cfg.Sinks.Audit.DSN)
		if err != nil {
			s.log.WithError(err).Warn("audit sink disabled")
		} else {
			sinks = append(sinks, audit)
		}
	}
	sinks = append(sinks, events.NewMetricsSink(), api.NewEventBridge(s.hub))

	s.fanout = events.NewFanout(events.DefaultQueueSize, sinks...)
	return nil
}

func (s *Supervisor) initAdapters(ctx context.Context) error {
	for _, ex := range s.cfg.Exchanges {
		var adapter exchanges.Exchange
		switch {
		case s.opts.Simulate || ex.Name == paper.Name:
			adapter = paper.New(ex)
		case ex.Name == binance.Name:
			adapter = binance.New(ex)
		default:
			return fmt.Errorf("supervisor: unknown exchange %q", ex.Name)
		}

		primary := ex.Name == s.opts.Primary || (s.opts.Primary == "" && len(s.adapters) == 0)
		if err := adapter.Init(ctx, primary); err != nil {
			// Auth failures are fatal for that adapter only.
			s.log.WithError(err).Error("adapter init failed, skipping venue", "venue", ex.Name)
			s.publishAlert("adapter_init_failed", ex.Name, err.Error())
			continue
		}
		s.adapters[ex.Name] = adapter

		if primary {
			s.seedBalances(ctx, adapter)
		}
	}
	if len(s.adapters) == 0 {
		return fmt.Errorf("supervisor: no adapter initialized")
	}
	return nil
}

func (s *Supervisor) seedBalances(ctx context.Context, adapter exchanges.Exchange) {
	balances, err := adapter.Accounts(ctx)
	if err != nil {
		s.log.WithError(err).Warn("primary balances unavailable", "venue", adapter.Name())
		return
	}
	for asset, b := range balances {
		total, _ := b.Total.Float64()
		available, _ := b.Available.Float64()
		telemetry.SetAccountBalance(asset, total)
		s.fanout.Publish(events.New(events.FamilySystem, "account_balance", "", time.Now()).
			WithTag("venue", adapter.Name()).
			WithTag("asset", asset).
			WithField("total", total).
			WithField("available", available).
			OnTopic(events.TopicAccountUpdated, asset))
	}
}

func (s *Supervisor) initMarkets() error {
	for _, ex := range s.cfg.Exchanges {
		adapter, ok := s.adapters[ex.Name]
		if !ok {
			continue
		}

		strategyName := ex.Strategy
		if strategyName == "" {
			strategyName = defaultStrategy
		}

		for _, p := range adapter.Products() {
			if err := s.host.Bind(p.Key(), strategyName, ex.StrategyParams); err != nil {
				return err
			}

			m := market.New(p, adapter, s.store, s.engine, s.host, s.gate, s.fanout, market.Config{
				MaxPositionLots: int64(s.cfg.Risk.MaxPositionSize),
				ShutdownPolicy:  market.Policy(s.cfg.ShutdownPolicy),
				DrainTimeout:    s.cfg.DrainTimeout(),
			})
			key := p.Key()
			m.SetFailStop(func(err error) { s.failStop(key, err) })
			m.SetTracker(s.tracker)
			s.markets[key] = m

			bf := s.cfg.Backfill
			if ex.Backfill.Enabled {
				bf = ex.Backfill
			}
			s.backfills[key] = bf
		}
	}
	if len(s.markets) == 0 {
		return fmt.Errorf("supervisor: no markets materialized")
	}
	return nil
}

// Run starts everything and blocks until the context is canceled,
// then shuts down bounded.
func (s *Supervisor) Run(ctx context.Context) error {
	s.fanout.Start(ctx)

	for key, m := range s.markets {
		if bf, ok := s.backfills[key]; ok && bf.Enabled {
			if err := m.Backfill(ctx, bf.Period); err != nil {
				s.log.WithError(err).Warn("backfill failed", "market", key)
			}
		}
		if err := m.Exchange().MarketInit(m.Product(), m.Enqueue); err != nil {
			return err
		}
		if err := m.Start(ctx); err != nil {
			return err
		}
	}

	go func() {
		if err := s.server.Start(); err != nil {
			s.log.WithError(err).Error("api server stopped")
		}
	}()

	go s.heartbeat(ctx)

	s.publishAlert("startup", "supervisor", "trading engine started")
	<-ctx.Done()
	return s.shutdown()
}

// heartbeat publishes periodic performance snapshots and refreshes the
// aggregate gauges.
func (s *Supervisor) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := s.gate.Snapshot()
			summary := s.tracker.Summary()

			realized, _ := stats.DailyPnL.Realized.Float64()
			unrealized, _ := stats.DailyPnL.Unrealized.Float64()
			telemetry.SetRealizedPnL(realized)
			telemetry.SetUnrealizedPnL(unrealized)
			telemetry.SetPositionsOpen(len(stats.OpenPositions))

			s.fanout.Publish(events.New(events.FamilyTrade, events.TypePerformanceSnapshot, "", time.Now()).
				WithField("realized_pnl", realized).
				WithField("unrealized_pnl", unrealized).
				WithField("win_rate", summary.WinRate).
				WithField("sharpe_ratio", summary.Sharpe).
				WithField("max_drawdown", summary.MaxDrawdown).
				WithField("open_positions", int64(len(stats.OpenPositions))).
				OnTopic(events.TopicPerformanceSnapshots, "account"))
		}
	}
}

func (s *Supervisor) shutdown() error {
	s.log.Info("shutdown requested, draining markets")
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DrainTimeout()+5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	s.mu.RLock()
	for _, m := range s.markets {
		wg.Add(1)
		go func(m *market.Market) {
			defer wg.Done()
			_ = m.Close(ctx)
		}(m)
	}
	s.mu.RUnlock()
	wg.Wait()

	for name, adapter := range s.adapters {
		if err := adapter.Close(); err != nil {
			s.log.WithError(err).Warn("adapter close failed", "venue", name)
		}
	}

	if err := s.server.Shutdown(ctx); err != nil {
		s.log.WithError(err).Warn("api shutdown failed")
	}

	s.publishAlert("shutdown", "supervisor", "trading engine stopped")
	s.fanout.Close()
	if err := s.store.Close(); err != nil {
		s.log.WithError(err).Warn("store close failed")
	}
	s.log.Info("shutdown complete")
	return nil
}

// failStop stops the offending market only; the rest continue.
func (s *Supervisor) failStop(key string, cause error) {
	s.log.WithError(cause).Error("fail-stopping market", "market", key)
	s.publishAlert("market_failstop", key, cause.Error())
	s.fanout.Publish(events.New(events.FamilySystem, "state_machine_violation", key, time.Now()).
		WithTag("component", "market").
		WithTag("severity", "critical").
		WithField("error", cause.Error()).
		OnTopic(events.TopicErrors, key))

	s.mu.RLock()
	m, ok := s.markets[key]
	s.mu.RUnlock()
	if !ok {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = m.Close(ctx)
	}()
}

func (s *Supervisor) publishAlert(kind, component, message string) {
	if s.fanout == nil {
		return
	}
	s.fanout.Publish(events.New(events.FamilySystem, kind, "", time.Now()).
		WithTag("component", component).
		WithTag("severity", "info").
		WithField("message", message).
		OnTopic(events.TopicSystemAlerts, component))
}

func riskLimits(cfg config.Risk) risk.Limits {
	return risk.Limits{
		MaxDailyLoss:        decimal.NewFromFloat(cfg.MaxDailyLoss),
		MaxDailyLossPercent: decimal.NewFromFloat(cfg.MaxDailyLossPercent),
		MaxPositionSize:     int64(cfg.MaxPositionSize),
		MaxOpenPositions:    cfg.MaxOpenPositions,
		StartingCapital:     decimal.NewFromFloat(cfg.StartingCapital),
	}
}

// --- api.Provider ---

// MarketSummaries implements api.Provider.
func (s *Supervisor) MarketSummaries() []api.MarketSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]api.MarketSummary, 0, len(s.markets))
	for key, m := range s.markets {
		mark, _ := m.Mark().Float64()
		out = append(out, api.MarketSummary{
			Key:     key,
			Venue:   m.Product().Venue,
			Product: m.Product().ID,
			State:   m.State().String(),
			Mark:    mark,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// MarketCandles implements api.Provider.
func (s *Supervisor) MarketCandles(key string, limit int) (candle.Series, error) {
	s.mu.RLock()
	_, ok := s.markets[key]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown market %q", key)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.store.GetRecent(ctx, key, limit)
}

// OpenOrders implements api.Provider.
func (s *Supervisor) OpenOrders() []order.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []order.Order
	for _, m := range s.markets {
		out = append(out, m.OpenOrders()...)
	}
	return out
}

// RiskStats implements api.Provider.
func (s *Supervisor) RiskStats() risk.Stats { return s.gate.Snapshot() }

// DailyTrades implements api.Provider.
func (s *Supervisor) DailyTrades() []risk.TradeRecord { return s.gate.Trades() }

// Unblock implements api.Provider.
func (s *Supervisor) Unblock() { s.gate.ForceUnblock() }

// SinkHealth implements api.Provider.
func (s *Supervisor) SinkHealth() []events.SinkHealth { return s.fanout.Health() }
