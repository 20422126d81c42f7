// Package market implements the per-instrument orchestrator: it
// consumes the adapter feed, builds and persists candles, drives
// indicators and the strategy, runs risk admission, and tracks the
// order lifecycle. All mutations of a market's state happen on its own
// worker; the adapter feed only enqueues.
package market

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wolfinch/wolfinch/internal/analytics"
	"github.com/wolfinch/wolfinch/internal/candle"
	"github.com/wolfinch/wolfinch/internal/events"
	"github.com/wolfinch/wolfinch/internal/exchanges"
	"github.com/wolfinch/wolfinch/internal/indicator"
	"github.com/wolfinch/wolfinch/internal/logger"
	"github.com/wolfinch/wolfinch/internal/order"
	"github.com/wolfinch/wolfinch/internal/risk"
	"github.com/wolfinch/wolfinch/internal/strategy"
	"github.com/wolfinch/wolfinch/internal/telemetry"
)

// State is the market lifecycle state.
type State int32

const (
	StateInit State = iota
	StateRunning
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

const (
	// DefaultQueueSize bounds the feed message queue.
	DefaultQueueSize = 10000
	adapterTimeout   = 10 * time.Second
	reconcileDelay   = 5 * time.Second
)

// Policy is the shutdown disposition for open orders.
type Policy string

const (
	PolicyLeave  Policy = "leave"
	PolicyCancel Policy = "cancel"
	PolicyClose  Policy = "close"
)

// Config tunes one market.
type Config struct {
	QueueSize       int
	MaxPositionLots int64 // conviction clip; 0 means uncapped
	ShutdownPolicy  Policy
	DrainTimeout    time.Duration
}

// Market is the per-instrument engine. Exactly one worker consumes the
// queue.
type Market struct {
	product  exchanges.ProductInfo
	exchange exchanges.Exchange
	store    *candle.Store
	engine   *indicator.Engine
	host     *strategy.Host
	gate     *risk.Gate
	fanout   *events.Fanout
	cfg      Config
	log      *logger.Logger

	queue chan exchanges.FeedMessage
	state atomic.Int32
	done  chan struct{}
	wg    sync.WaitGroup

	// failStop is invoked on state-machine violations; the supervisor
	// fail-stops this market only.
	failStop func(error)

	// tracker accumulates closed-trade outcomes for the performance
	// snapshots; nil when no tracker is attached.
	tracker *analytics.Tracker

	// Worker-owned state; no locks needed beyond the snapshot mutex.
	mu           sync.RWMutex
	mark         decimal.Decimal
	partial      *candle.Candle
	lastClosed   int64
	openOrders   map[string]*order.Order
	pendingFlush []candle.Candle
}

// New creates a market in state init.
func New(product exchanges.ProductInfo, exchange exchanges.Exchange, store *candle.Store,
	engine *indicator.Engine, host *strategy.Host, gate *risk.Gate, fanout *events.Fanout,
	cfg Config) *Market {

	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 10 * time.Second
	}
	if cfg.ShutdownPolicy == "" {
		cfg.ShutdownPolicy = PolicyLeave
	}

	m := &Market{
		product:    product,
		exchange:   exchange,
		store:      store,
		engine:     engine,
		host:       host,
		gate:       gate,
		fanout:     fanout,
		cfg:        cfg,
		log:        logger.Market(product.Key()),
		queue:      make(chan exchanges.FeedMessage, cfg.QueueSize),
		done:       make(chan struct{}),
		openOrders: make(map[string]*order.Order),
		failStop:   func(error) {},
	}
	m.state.Store(int32(StateInit))
	return m
}

// Key returns the instrument key.
func (m *Market) Key() string { return m.product.Key() }

// Product returns the instrument description.
func (m *Market) Product() exchanges.ProductInfo { return m.product }

// Exchange returns the adapter serving this market.
func (m *Market) Exchange() exchanges.Exchange { return m.exchange }

// State returns the lifecycle state.
func (m *Market) State() State { return State(m.state.Load()) }

// SetFailStop installs the supervisor's fail-stop hook.
func (m *Market) SetFailStop(fn func(error)) {
	if fn != nil {
		m.failStop = fn
	}
}

// SetTracker attaches the performance tracker fed on every closed
// trade.
func (m *Market) SetTracker(t *analytics.Tracker) {
	m.tracker = t
}

// Enqueue delivers one feed message. It never blocks: a full queue
// refuses the message and the adapter drops it.
func (m *Market) Enqueue(msg exchanges.FeedMessage) bool {
	if m.State() != StateRunning && m.State() != StateInit {
		return false
	}
	select {
	case m.queue <- msg:
		return true
	default:
		telemetry.RecordFeedDrop(m.product.Venue, m.product.ID)
		return false
	}
}

// Backfill loads historical candles through the adapter and persists
// them, then resets per-instrument indicator state so the live replay
// re-seeds cleanly.
func (m *Market) Backfill(ctx context.Context, days int) error {
	if days <= 0 {
		return nil
	}
	end := time.Now()
	start := end.AddDate(0, 0, -days)

	rates, err := m.exchange.HistoricRates(ctx, m.product, start, end)
	if err != nil {
		return fmt.Errorf("market %s: backfill: %w", m.Key(), err)
	}
	if len(rates) == 0 {
		return nil
	}
	if err := m.store.SaveBatch(ctx, m.Key(), rates); err != nil {
		m.log.WithError(err).Warn("backfill persisted to cache only")
	}
	m.mu.Lock()
	m.lastClosed = rates[len(rates)-1].Time
	m.mu.Unlock()
	m.engine.Reset(m.Key())
	m.log.Info("backfill loaded", "candles", len(rates), "from", start.Unix(), "to", end.Unix())
	return nil
}

// Start launches the worker.
func (m *Market) Start(ctx context.Context) error {
	if !m.state.CompareAndSwap(int32(StateInit), int32(StateRunning)) {
		return fmt.Errorf("market %s: already started", m.Key())
	}
	m.wg.Add(1)
	go m.run(ctx)
	m.publishState(StateRunning)
	m.log.Info("market started", "queue_size", m.cfg.QueueSize)
	return nil
}

func (m *Market) run(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			// Drain what is already queued, bounded by the deadline.
			deadline := time.After(m.cfg.DrainTimeout)
			for {
				select {
				case msg := <-m.queue:
					m.dispatch(ctx, msg)
				case <-deadline:
					return
				default:
					return
				}
			}
		case msg := <-m.queue:
			m.dispatch(ctx, msg)
		}
	}
}

func (m *Market) dispatch(ctx context.Context, msg exchanges.FeedMessage) {
	switch msg.Type {
	case exchanges.MsgTrade:
		m.onTrade(msg)
	case exchanges.MsgKline:
		m.onKline(ctx, msg)
	case exchanges.MsgExecutionReport:
		m.onExecutionReport(msg)
	default:
		// Other message families are ignored.
	}
}

// onTrade updates the mark price and the in-memory partial candle.
func (m *Market) onTrade(msg exchanges.FeedMessage) {
	if msg.Price.IsZero() {
		return
	}

	m.mu.Lock()
	m.mark = msg.Price
	interval := int64(m.product.CandleInterval)
	if interval <= 0 {
		interval = 60
	}
	bucket := msg.Time.Unix() / interval * interval
	if m.partial == nil || m.partial.Time != bucket {
		m.partial = &candle.Candle{
			Time:  bucket,
			Open:  msg.Price,
			High:  msg.Price,
			Low:   msg.Price,
			Close: msg.Price,
		}
	} else {
		if msg.Price.GreaterThan(m.partial.High) {
			m.partial.High = msg.Price
		}
		if msg.Price.LessThan(m.partial.Low) {
			m.partial.Low = msg.Price
		}
		m.partial.Close = msg.Price
	}
	m.partial.Volume = m.partial.Volume.Add(msg.Size)
	m.mu.Unlock()

	m.gate.UpdateMark(m.Key(), msg.Price)
	price, _ := msg.Price.Float64()
	telemetry.SetMarketPrice(m.product.Venue, m.product.ID, price)
}

// onKline finalizes a closed candle and runs the pipeline: persist,
// indicators, strategy, admission. Unclosed klines only refresh the
// partial candle and never enter the store.
func (m *Market) onKline(ctx context.Context, msg exchanges.FeedMessage) {
	if !msg.Closed {
		m.mu.Lock()
		c := msg.Candle
		m.partial = &c
		if !msg.Candle.Close.IsZero() {
			m.mark = msg.Candle.Close
		}
		m.mu.Unlock()
		return
	}

	final := msg.Candle
	if final.Close.IsZero() {
		// Kline without payload: fall back to the tick-synthesized candle.
		m.mu.RLock()
		if m.partial != nil {
			final = *m.partial
		}
		m.mu.RUnlock()
	}

	if err := final.Validate(); err != nil {
		telemetry.RecordCandleDropped(m.product.Venue, m.product.ID)
		m.log.WithError(err).Warn("invalid candle dropped", "time", final.Time)
		return
	}

	m.mu.Lock()
	if final.Time >= m.lastClosed {
		m.lastClosed = final.Time
		m.partial = nil
		m.mark = final.Close
	}
	m.mu.Unlock()

	// Persist, keeping the candle for a later flush when the backend
	// is unavailable.
	if err := m.store.Save(ctx, m.Key(), final); err != nil {
		m.mu.Lock()
		firstFailure := len(m.pendingFlush) == 0
		m.pendingFlush = append(m.pendingFlush, final)
		m.mu.Unlock()
		if firstFailure {
			m.fanout.Publish(events.New(events.FamilySystem, "storage_unavailable", m.Key(), time.Now()).
				WithTag("component", "candle-store").
				WithTag("severity", "warning").
				WithField("error", err.Error()).
				OnTopic(events.TopicSystemAlerts, m.Key()))
		}
	} else {
		m.flushPending(ctx)
	}

	telemetry.RecordCandleProcessed(m.product.Venue, m.product.ID)
	vol, _ := final.Volume.Float64()
	telemetry.SetMarketVolume(m.product.Venue, m.product.ID, vol)
	m.gate.UpdateMark(m.Key(), final.Close)
	m.publishCandle(final)

	series, err := m.store.GetRecent(ctx, m.Key(), candle.DefaultCacheSize)
	if err != nil && len(series) == 0 {
		m.log.WithError(err).Warn("no series available, skipping strategy cycle")
		return
	}

	m.publishIndicators(series)

	sig, invoked := m.host.Evaluate(m.Key(), series)
	if !invoked {
		return
	}
	if sig.Strength != 0 {
		m.publishSignal(sig)
		m.admitAndPlace(ctx, sig)
	}
}

// flushPending retries candles whose backend write was dropped.
func (m *Market) flushPending(ctx context.Context) {
	m.mu.Lock()
	pending := m.pendingFlush
	m.pendingFlush = nil
	m.mu.Unlock()
	if len(pending) == 0 {
		return
	}
	if err := m.store.SaveBatch(ctx, m.Key(), pending); err != nil {
		m.mu.Lock()
		m.pendingFlush = pending
		m.mu.Unlock()
	} else {
		m.log.Info("flushed pending candles", "count", len(pending))
	}
}

// admitAndPlace translates a signal into lots, runs the risk gate and
// places the order.
func (m *Market) admitAndPlace(ctx context.Context, sig strategy.Signal) {
	side := order.SideBuy
	strength := sig.Strength
	if strength < 0 {
		side = order.SideSell
		strength = -strength
	}
	lots := int64(strength)
	if m.cfg.MaxPositionLots > 0 && lots > m.cfg.MaxPositionLots {
		lots = m.cfg.MaxPositionLots
	}

	// Sells are bounded by the open position; nothing to exit means
	// nothing to do.
	if side == order.SideSell {
		pos, ok := m.gate.Position(m.Key())
		if !ok || pos.Lots <= 0 {
			return
		}
		if lots > pos.Lots {
			lots = pos.Lots
		}
	}

	ok, reason := m.gate.Admit(m.Key(), side, lots, sig.Price)
	if !ok {
		m.log.Warn("admission denied", "side", side, "lots", lots, "reason", reason)
		telemetry.RecordOrderRejected(m.product.Venue, m.product.ID, "risk")
		m.publishRiskBreach(side, lots, sig.Price, reason)
		return
	}

	req := exchanges.TradeRequest{
		Product: m.product,
		Side:    side,
		Type:    order.TypeMarket,
		Lots:    lots,
		Price:   sig.Price,
	}

	callCtx, cancel := context.WithTimeout(ctx, adapterTimeout)
	defer cancel()

	var placed *order.Order
	var err error
	if side == order.SideBuy {
		placed, err = m.exchange.Buy(callCtx, req)
	} else {
		placed, err = m.exchange.Sell(callCtx, req)
	}

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			// Outcome unknown: the order may have reached the venue.
			m.log.WithError(err).Warn("order timed out, scheduling reconciliation")
			m.scheduleReconcile(ctx)
			return
		}
		telemetry.RecordOrderRejected(m.product.Venue, m.product.ID, "adapter")
		m.publishOrderRejected("", side, lots, sig.Price, err.Error())
		return
	}
	if placed == nil {
		telemetry.RecordOrderRejected(m.product.Venue, m.product.ID, "venue")
		m.publishOrderRejected("", side, lots, sig.Price, "venue refused order")
		return
	}

	m.mu.Lock()
	m.openOrders[placed.ID] = placed
	m.mu.Unlock()

	telemetry.RecordOrder(m.product.Venue, m.product.ID, string(side), string(placed.Type), string(placed.Status))
	m.publishOrderSubmitted(placed)
	m.log.Info("order submitted", "order_id", placed.ID, "side", side, "lots", lots)
}

// onExecutionReport applies a venue status change to the tracked order
// through the state machine and notifies the risk gate on fills.
func (m *Market) onExecutionReport(msg exchanges.FeedMessage) {
	report := msg.Report
	if report == nil {
		return
	}

	m.mu.Lock()
	o, tracked := m.openOrders[report.OrderID]
	if !tracked {
		m.mu.Unlock()
		m.log.Debug("execution report for untracked order", "order_id", report.OrderID)
		return
	}
	prevFilled := o.FilledSize
	transitionErr := o.Transition(report.Status, report.FillDelta, report.Price, report.Fees, report.Time)
	m.mu.Unlock()

	if err := transitionErr; err != nil {
		var te *order.TransitionError
		if errors.As(err, &te) {
			m.log.WithError(err).Error("order state machine violation")
			m.failStop(err)
			return
		}
		m.log.WithError(err).Error("transition failed")
		return
	}

	fillLots := o.FilledSize.Sub(prevFilled).IntPart()
	if fillLots > 0 {
		m.applyFill(o, fillLots, report)
	}

	switch o.Status {
	case order.StatusFilled:
		telemetry.RecordOrderFilled(m.product.Venue, m.product.ID)
		m.publishOrderExecuted(o, report)
	case order.StatusCanceled:
		m.publishOrderCanceled(o)
	case order.StatusRejected:
		telemetry.RecordOrderRejected(m.product.Venue, m.product.ID, "venue")
		m.publishOrderRejected(o.ID, o.Side, o.RequestSize.IntPart(), o.Price, "venue rejected")
	}

	if o.Status.IsTerminal() {
		m.mu.Lock()
		delete(m.openOrders, o.ID)
		m.mu.Unlock()
	}
}

// scheduleReconcile re-queries tracked open orders after a timeout and
// feeds any progress back through the normal execution-report path.
func (m *Market) scheduleReconcile(ctx context.Context) {
	ids := make([]string, 0)
	m.mu.RLock()
	for id := range m.openOrders {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconcileDelay):
		}
		for _, id := range ids {
			got, err := m.exchange.GetOrder(ctx, m.product, id)
			if err != nil || got == nil {
				continue
			}
			m.mu.RLock()
			tracked, ok := m.openOrders[id]
			m.mu.RUnlock()
			if !ok {
				continue
			}
			delta := got.FilledSize.Sub(tracked.FilledSize)
			if delta.IsNegative() {
				delta = decimal.Zero
			}
			m.Enqueue(exchanges.FeedMessage{
				Type:    exchanges.MsgExecutionReport,
				Product: m.product.ID,
				Report: &exchanges.ExecutionReport{
					OrderID:   id,
					Status:    got.Status,
					FillDelta: delta,
					Price:     got.Price,
					Time:      got.UpdateTime,
				},
				Time: got.UpdateTime,
			})
		}
	}()
}

// applyFill updates the risk gate's position and publishes the
// position/trade events.
func (m *Market) applyFill(o *order.Order, fillLots int64, report *exchanges.ExecutionReport) {
	instrument := m.Key()

	realized := decimal.Zero
	var held order.Position
	var hadPosition bool
	if o.Side == order.SideSell {
		if pos, ok := m.gate.Position(instrument); ok && pos.Lots > 0 {
			hadPosition = true
			held = pos
			closing := fillLots
			if closing > pos.Lots {
				closing = pos.Lots
			}
			realized = report.Price.Sub(pos.AvgEntryPrice).
				Mul(decimal.NewFromInt(closing)).
				Sub(report.Fees)
		}
	}

	m.gate.RecordTrade(instrument, o.Side, fillLots, report.Price, realized, o.ID)

	pos, stillOpen := m.gate.Position(instrument)
	switch {
	case o.Side == order.SideBuy && stillOpen:
		m.publishPositionUpdated(pos, events.TypePositionOpened)
	case o.Side == order.SideSell && hadPosition && !stillOpen:
		duration := report.Time.Sub(held.EntryTime)
		rp, _ := realized.Float64()
		telemetry.ObserveTradePnL(rp)
		if duration > 0 {
			telemetry.ObserveTradeDuration(duration.Seconds())
		}
		if m.tracker != nil {
			m.tracker.Record(analytics.TradeOutcome{
				Instrument: instrument,
				PnL:        realized,
				Duration:   duration,
				ClosedAt:   report.Time,
			})
		}
		m.publishPositionClosed(held, realized, report, duration.Seconds())
	case stillOpen:
		m.publishPositionUpdated(pos, events.TypePositionUpdated)
	}

	pnl := m.gate.DailyPnL()
	realizedTotal, _ := pnl.Realized.Float64()
	unrealizedTotal, _ := pnl.Unrealized.Float64()
	telemetry.SetRealizedPnL(realizedTotal)
	telemetry.SetUnrealizedPnL(unrealizedTotal)
}

// Mark returns the latest observed trade price.
func (m *Market) Mark() decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mark
}

// OpenOrders returns a snapshot of tracked open orders.
func (m *Market) OpenOrders() []order.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]order.Order, 0, len(m.openOrders))
	for _, o := range m.openOrders {
		out = append(out, *o)
	}
	return out
}

// Close drains the queue with a deadline, flushes pending candles, and
// disposes open orders per the shutdown policy.
func (m *Market) Close(ctx context.Context) error {
	if !m.state.CompareAndSwap(int32(StateRunning), int32(StateDraining)) {
		if !m.state.CompareAndSwap(int32(StateInit), int32(StateDraining)) {
			return nil
		}
	}
	m.log.Info("market draining")

	close(m.done)
	m.wg.Wait()

	m.flushPending(ctx)

	switch m.cfg.ShutdownPolicy {
	case PolicyCancel:
		if _, err := m.exchange.CancelAll(ctx, m.product); err != nil {
			m.log.WithError(err).Warn("cancel-all failed during shutdown")
		}
	case PolicyClose:
		if _, err := m.exchange.CancelAll(ctx, m.product); err != nil {
			m.log.WithError(err).Warn("cancel-all failed during shutdown")
		}
		if pos, ok := m.gate.Position(m.Key()); ok && pos.Lots > 0 {
			req := exchanges.TradeRequest{
				Product: m.product,
				Side:    order.SideSell,
				Type:    order.TypeMarket,
				Lots:    pos.Lots,
			}
			if _, err := m.exchange.Sell(ctx, req); err != nil {
				m.log.WithError(err).Warn("position close failed during shutdown")
			}
		}
	}

	m.state.Store(int32(StateClosed))
	m.publishState(StateClosed)
	m.log.Info("market closed")
	return nil
}
