// Package binance implements the Binance connector on go-binance:
// paginated kline backfill adjusted for the server-time offset,
// websocket kline/trade streams, the user-data stream for execution
// reports, and market/limit order placement.
package binance

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wolfinch/wolfinch/internal/candle"
	"github.com/wolfinch/wolfinch/internal/circuitbreaker"
	"github.com/wolfinch/wolfinch/internal/config"
	"github.com/wolfinch/wolfinch/internal/exchanges"
	"github.com/wolfinch/wolfinch/internal/logger"
	"github.com/wolfinch/wolfinch/internal/order"
	"github.com/wolfinch/wolfinch/internal/ratelimit"
	"github.com/wolfinch/wolfinch/internal/telemetry"
)

const Name = "binance"

const (
	klinePageLimit = 1000
	// offsetTolerance below which the server-time offset is treated as 0.
	offsetTolerance = 5 * time.Second
	orderTimeout    = 10 * time.Second
)

// Adapter is the Binance connector.
type Adapter struct {
	client   *binance.Client
	products []exchanges.ProductInfo
	log      *logger.Logger
	breaker  *circuitbreaker.Breaker
	pacer    *ratelimit.Pacer

	timeOffset time.Duration

	mu        sync.Mutex
	enqueues  map[string]exchanges.FeedEnqueue // product id -> queue
	bySymbol  map[string]exchanges.ProductInfo
	stops     []chan struct{}
	listenKey string
	closed    bool
}

// New creates the adapter from the configured exchange entry.
func New(ex config.Exchange) *Adapter {
	creds := config.Credentials{}
	if ex.Credentials != nil {
		creds = *ex.Credentials
	}
	binance.UseTestnet = creds.Testnet

	var products []exchanges.ProductInfo
	for _, entry := range ex.Products {
		for symbol, p := range entry {
			products = append(products, exchanges.ProductInfo{
				ID:             p.ID,
				Symbol:         symbol,
				DisplayName:    symbol,
				AssetType:      p.AssetType,
				QuoteType:      p.QuoteType,
				LotSize:        int64(p.LotSizeOrDefault()),
				Venue:          Name,
				CandleInterval: ex.CandleInterval,
			})
		}
	}

	return &Adapter{
		client:   binance.NewClient(creds.APIKey, creds.APISecret),
		products: products,
		log:      logger.Exchange(Name),
		breaker:  circuitbreaker.New(Name, circuitbreaker.DefaultConfig()),
		pacer:    ratelimit.NewPacer(10, 20, 1000, time.Minute),
		enqueues: make(map[string]exchanges.FeedEnqueue),
		bySymbol: make(map[string]exchanges.ProductInfo),
	}
}

// Name returns the venue name.
func (a *Adapter) Name() string { return Name }

// Init verifies credentials, computes the server-time offset and opens
// the user-data stream.
func (a *Adapter) Init(ctx context.Context, primary bool) error {
	serverTime, err := a.client.NewServerTimeService().Do(ctx)
	if err != nil {
		return fmt.Errorf("%w: server time: %v", exchanges.ErrTransient, err)
	}
	offset := time.UnixMilli(serverTime).Sub(time.Now())
	if offset.Abs() >= offsetTolerance {
		a.timeOffset = offset
		a.log.Warn("server-time offset applied", "offset", offset)
	}

	if _, err := a.client.NewGetAccountService().Do(ctx); err != nil {
		return fmt.Errorf("%w: account: %v", exchanges.ErrAuthFailure, err)
	}

	for _, p := range a.products {
		a.bySymbol[p.ID] = p
	}

	if err := a.startUserStream(ctx); err != nil {
		return err
	}

	a.log.Info("binance adapter initialized", "products", len(a.products), "primary", primary)
	return nil
}

// Products returns the configured instruments.
func (a *Adapter) Products() []exchanges.ProductInfo {
	out := make([]exchanges.ProductInfo, len(a.products))
	copy(out, a.products)
	return out
}

// Accounts returns balances keyed by asset.
func (a *Adapter) Accounts(ctx context.Context) (map[string]exchanges.BalanceInfo, error) {
	started := time.Now()
	account, err := a.client.NewGetAccountService().Do(ctx)
	telemetry.RecordAPIRequest(Name, "account", time.Since(started).Seconds())
	if err != nil {
		telemetry.RecordAPIError(Name, "account")
		return nil, fmt.Errorf("%w: %v", exchanges.ErrTransient, err)
	}

	out := make(map[string]exchanges.BalanceInfo)
	for _, b := range account.Balances {
		free, _ := decimal.NewFromString(b.Free)
		locked, _ := decimal.NewFromString(b.Locked)
		if free.IsZero() && locked.IsZero() {
			continue
		}
		out[b.Asset] = exchanges.BalanceInfo{
			Asset:     b.Asset,
			Available: free,
			Hold:      locked,
			Total:     free.Add(locked),
		}
	}
	return out, nil
}

// MarketInit subscribes the kline and trade streams for one product.
func (a *Adapter) MarketInit(product exchanges.ProductInfo, enqueue exchanges.FeedEnqueue) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return exchanges.ErrNotConnected
	}
	a.enqueues[product.ID] = enqueue
	a.mu.Unlock()

	interval := intervalString(product.CandleInterval)

	klineHandler := func(event *binance.WsKlineEvent) {
		k := event.Kline
		c := candle.Candle{
			Time:   k.StartTime / 1000,
			Open:   mustDecimal(k.Open),
			High:   mustDecimal(k.High),
			Low:    mustDecimal(k.Low),
			Close:  mustDecimal(k.Close),
			Volume: mustDecimal(k.Volume),
		}
		if !enqueue(exchanges.FeedMessage{
			Type:    exchanges.MsgKline,
			Product: product.ID,
			Candle:  c,
			Closed:  k.IsFinal,
			Time:    time.UnixMilli(event.Time),
		}) {
			telemetry.RecordFeedDrop(Name, product.ID)
		}
	}
	errHandler := func(err error) {
		a.log.WithError(err).Warn("websocket stream error", "product", product.ID)
		telemetry.RecordAPIError(Name, "ws")
	}

	doneC, stopC, err := binance.WsKlineServe(product.ID, interval, klineHandler, errHandler)
	if err != nil {
		return fmt.Errorf("%w: kline stream: %v", exchanges.ErrTransient, err)
	}
	a.track(stopC, doneC)

	tradeHandler := func(event *binance.WsAggTradeEvent) {
		if !enqueue(exchanges.FeedMessage{
			Type:    exchanges.MsgTrade,
			Product: product.ID,
			Price:   mustDecimal(event.Price),
			Size:    mustDecimal(event.Quantity),
			Time:    time.UnixMilli(event.TradeTime),
		}) {
			telemetry.RecordFeedDrop(Name, product.ID)
		}
	}
	doneT, stopT, err := binance.WsAggTradeServe(product.ID, tradeHandler, errHandler)
	if err != nil {
		return fmt.Errorf("%w: trade stream: %v", exchanges.ErrTransient, err)
	}
	a.track(stopT, doneT)
	return nil
}

// startUserStream opens the user-data stream that carries execution
// reports and routes them onto the owning market's queue.
func (a *Adapter) startUserStream(ctx context.Context) error {
	listenKey, err := a.client.NewStartUserStreamService().Do(ctx)
	if err != nil {
		return fmt.Errorf("%w: user stream: %v", exchanges.ErrAuthFailure, err)
	}
	a.listenKey = listenKey

	handler := func(event *binance.WsUserDataEvent) {
		if event.Event != binance.UserDataEventTypeExecutionReport {
			return
		}
		a.routeExecutionReport(event.OrderUpdate)
	}
	errHandler := func(err error) {
		a.log.WithError(err).Warn("user stream error")
		telemetry.RecordAPIError(Name, "user-stream")
	}

	doneC, stopC, err := binance.WsUserDataServe(listenKey, handler, errHandler)
	if err != nil {
		return fmt.Errorf("%w: user stream serve: %v", exchanges.ErrTransient, err)
	}
	a.track(stopC, doneC)

	// Keepalive: Binance expires listen keys after 60 minutes.
	go a.keepAlive(ctx, listenKey)
	return nil
}

func (a *Adapter) keepAlive(ctx context.Context, listenKey string) {
	ticker := time.NewTicker(30 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.mu.Lock()
			closed := a.closed
			a.mu.Unlock()
			if closed {
				return
			}
			if err := a.client.NewKeepaliveUserStreamService().ListenKey(listenKey).Do(ctx); err != nil {
				a.log.WithError(err).Warn("listen key keepalive failed")
			}
		}
	}
}

func (a *Adapter) routeExecutionReport(u binance.WsOrderUpdate) {
	status, err := exchanges.NormalizeStatus(string(u.Status))
	if err != nil {
		a.log.WithError(err).Error("unmappable order status", "order_id", u.ClientOrderId)
		return
	}
	product, ok := a.bySymbol[u.Symbol]
	if !ok {
		return
	}

	fillDelta := decimal.Zero
	if latest, err := decimal.NewFromString(u.LatestVolume); err == nil {
		fillDelta = exchanges.LotsFromDecimalQuantity(product, latest)
	}
	price := mustDecimal(u.Price)
	if lp, err := decimal.NewFromString(u.LatestPrice); err == nil && !lp.IsZero() {
		price = lp
	}
	fees := decimal.Zero
	if fc, err := decimal.NewFromString(u.FeeCost); err == nil {
		fees = fc
	}

	report := &exchanges.ExecutionReport{
		OrderID:   u.ClientOrderId,
		Status:    status,
		FillDelta: fillDelta,
		Price:     price,
		Fees:      fees,
		Time:      time.UnixMilli(u.TransactionTime),
	}

	a.mu.Lock()
	enqueue, ok := a.enqueues[product.ID]
	a.mu.Unlock()
	if !ok {
		return
	}
	if !enqueue(exchanges.FeedMessage{
		Type:    exchanges.MsgExecutionReport,
		Product: product.ID,
		Report:  report,
		Time:    report.Time,
	}) {
		telemetry.RecordFeedDrop(Name, product.ID)
	}
}

// HistoricRates backfills klines page by page, paced by the adapter's
// limiter and adjusted for the server-time offset.
func (a *Adapter) HistoricRates(ctx context.Context, product exchanges.ProductInfo, start, end time.Time) ([]candle.Candle, error) {
	interval := intervalString(product.CandleInterval)
	start = start.Add(a.timeOffset)
	end = end.Add(a.timeOffset)

	seen := make(map[int64]bool)
	var out []candle.Candle
	cursor := start

	for cursor.Before(end) {
		if err := a.pacer.Wait(ctx); err != nil {
			return nil, err
		}

		var page []*binance.Kline
		started := time.Now()
		err := a.breaker.Execute(ctx, func() error {
			var kerr error
			page, kerr = a.client.NewKlinesService().
				Symbol(product.ID).
				Interval(interval).
				StartTime(cursor.UnixMilli()).
				EndTime(end.UnixMilli()).
				Limit(klinePageLimit).
				Do(ctx)
			return kerr
		})
		telemetry.RecordAPIRequest(Name, "klines", time.Since(started).Seconds())
		if err != nil {
			telemetry.RecordAPIError(Name, "klines")
			return nil, fmt.Errorf("%w: klines: %v", exchanges.ErrTransient, err)
		}
		if len(page) == 0 {
			break
		}

		for _, k := range page {
			ts := k.OpenTime / 1000
			if seen[ts] {
				continue
			}
			seen[ts] = true
			out = append(out, candle.Candle{
				Time:   ts,
				Open:   mustDecimal(k.Open),
				High:   mustDecimal(k.High),
				Low:    mustDecimal(k.Low),
				Close:  mustDecimal(k.Close),
				Volume: mustDecimal(k.Volume),
			})
		}

		last := page[len(page)-1]
		next := time.UnixMilli(last.CloseTime + 1)
		if !next.After(cursor) {
			break
		}
		cursor = next
		if len(page) < klinePageLimit {
			break
		}
	}
	a.log.Info("backfill complete", "product", product.ID, "candles", len(out))
	return out, nil
}

// Buy places a buy order.
func (a *Adapter) Buy(ctx context.Context, req exchanges.TradeRequest) (*order.Order, error) {
	return a.place(ctx, req, binance.SideTypeBuy, order.SideBuy)
}

// Sell places a sell order.
func (a *Adapter) Sell(ctx context.Context, req exchanges.TradeRequest) (*order.Order, error) {
	return a.place(ctx, req, binance.SideTypeSell, order.SideSell)
}

func (a *Adapter) place(ctx context.Context, req exchanges.TradeRequest, venueSide binance.SideType, side order.Side) (*order.Order, error) {
	if req.Lots <= 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, orderTimeout)
	defer cancel()

	if err := a.pacer.Wait(ctx); err != nil {
		return nil, err
	}

	clientID := uuid.NewString()
	qty := exchanges.VenueQuantity(req.Product, req.Lots)

	svc := a.client.NewCreateOrderService().
		Symbol(req.Product.ID).
		Side(venueSide).
		NewClientOrderID(clientID).
		Quantity(qty.String())

	switch req.Type {
	case order.TypeLimit:
		svc = svc.Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Price(req.Price.String())
	default:
		svc = svc.Type(binance.OrderTypeMarket)
	}

	var resp *binance.CreateOrderResponse
	started := time.Now()
	err := a.breaker.Execute(ctx, func() error {
		var oerr error
		resp, oerr = svc.Do(ctx)
		return oerr
	})
	telemetry.RecordAPIRequest(Name, "order", time.Since(started).Seconds())
	if err != nil {
		telemetry.RecordAPIError(Name, "order")
		a.log.WithError(err).Error("order placement failed", "product", req.Product.ID, "side", side)
		return nil, fmt.Errorf("%w: place order: %v", exchanges.ErrTransient, err)
	}

	return a.normalizeCreate(req, resp, clientID, side)
}

func (a *Adapter) normalizeCreate(req exchanges.TradeRequest, resp *binance.CreateOrderResponse, clientID string, side order.Side) (*order.Order, error) {
	status, err := exchanges.NormalizeStatus(string(resp.Status))
	if err != nil {
		return nil, err
	}

	now := time.UnixMilli(resp.TransactTime)
	size := decimal.NewFromInt(req.Lots)
	o := order.New(clientID, req.Product.Key(), side, req.Type, size, req.Price, now)

	executed := mustDecimal(resp.ExecutedQuantity)
	filledLots := exchanges.LotsFromDecimalQuantity(req.Product, executed)
	if status == order.StatusFilled || (status == order.StatusOpen && filledLots.IsPositive()) {
		if err := o.Transition(status, filledLots, avgFillPrice(resp), decimal.Zero, now); err != nil {
			return nil, err
		}
	} else if status == order.StatusRejected || status == order.StatusCanceled {
		if err := o.Transition(status, decimal.Zero, decimal.Zero, decimal.Zero, now); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func avgFillPrice(resp *binance.CreateOrderResponse) decimal.Decimal {
	executed := mustDecimal(resp.ExecutedQuantity)
	quote := mustDecimal(resp.CummulativeQuoteQuantity)
	if executed.IsZero() || quote.IsZero() {
		return mustDecimal(resp.Price)
	}
	return quote.Div(executed)
}

// GetOrder reconciles an order by its client order id.
func (a *Adapter) GetOrder(ctx context.Context, product exchanges.ProductInfo, id string) (*order.Order, error) {
	if err := a.pacer.Wait(ctx); err != nil {
		return nil, err
	}
	started := time.Now()
	resp, err := a.client.NewGetOrderService().
		Symbol(product.ID).
		OrigClientOrderID(id).
		Do(ctx)
	telemetry.RecordAPIRequest(Name, "get-order", time.Since(started).Seconds())
	if err != nil {
		telemetry.RecordAPIError(Name, "get-order")
		return nil, fmt.Errorf("%w: get order: %v", exchanges.ErrTransient, err)
	}

	status, err := exchanges.NormalizeStatus(string(resp.Status))
	if err != nil {
		return nil, err
	}

	origQty := mustDecimal(resp.OrigQuantity)
	executed := mustDecimal(resp.ExecutedQuantity)
	requestLots := exchanges.LotsFromDecimalQuantity(product, origQty)
	filledLots := exchanges.LotsFromDecimalQuantity(product, executed)

	o := &order.Order{
		ID:            id,
		Instrument:    product.Key(),
		Side:          order.Side(normalizeSide(resp.Side)),
		Type:          order.TypeMarket,
		Status:        status,
		RequestSize:   requestLots,
		FilledSize:    filledLots,
		RemainingSize: requestLots.Sub(filledLots),
		Price:         mustDecimal(resp.Price),
		CreateTime:    time.UnixMilli(resp.Time),
		UpdateTime:    time.UnixMilli(resp.UpdateTime),
	}
	if resp.Type == binance.OrderTypeLimit {
		o.Type = order.TypeLimit
	}
	return o, nil
}

// CancelOrder cancels by client order id.
func (a *Adapter) CancelOrder(ctx context.Context, product exchanges.ProductInfo, id string) (bool, error) {
	if err := a.pacer.Wait(ctx); err != nil {
		return false, err
	}
	_, err := a.client.NewCancelOrderService().
		Symbol(product.ID).
		OrigClientOrderID(id).
		Do(ctx)
	if err != nil {
		telemetry.RecordAPIError(Name, "cancel-order")
		return false, fmt.Errorf("%w: cancel: %v", exchanges.ErrTransient, err)
	}
	return true, nil
}

// CancelAll cancels every open order on the product.
func (a *Adapter) CancelAll(ctx context.Context, product exchanges.ProductInfo) (bool, error) {
	if err := a.pacer.Wait(ctx); err != nil {
		return false, err
	}
	err := a.client.NewCancelOpenOrdersService().Symbol(product.ID).Do(ctx)
	if err != nil {
		telemetry.RecordAPIError(Name, "cancel-all")
		return false, fmt.Errorf("%w: cancel all: %v", exchanges.ErrTransient, err)
	}
	return true, nil
}

// Close stops all streams and invalidates the listen key.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	for _, stop := range a.stops {
		close(stop)
	}
	a.stops = nil
	if a.listenKey != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.client.NewCloseUserStreamService().ListenKey(a.listenKey).Do(ctx)
	}
	return nil
}

func (a *Adapter) track(stop chan struct{}, done chan struct{}) {
	a.mu.Lock()
	a.stops = append(a.stops, stop)
	a.mu.Unlock()
	go func() { <-done }()
}

// intervalString maps interval seconds onto a Binance kline interval.
func intervalString(seconds int) string {
	switch {
	case seconds <= 0:
		return "1m"
	case seconds < 60:
		return strconv.Itoa(seconds) + "s"
	case seconds < 3600:
		return strconv.Itoa(seconds/60) + "m"
	case seconds < 86400:
		return strconv.Itoa(seconds/3600) + "h"
	default:
		return strconv.Itoa(seconds/86400) + "d"
	}
}

func normalizeSide(side binance.SideType) string {
	if side == binance.SideTypeSell {
		return string(order.SideSell)
	}
	return string(order.SideBuy)
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
