// Package paper implements the simulated exchange: it synthesizes
// candles from a CSV file or a seeded random walk, emits closed klines
// at a configured cadence, and fills every order instantly at the
// current mark with a fixed commission.
package paper

import (
	"context"
	"encoding/csv"
	"fmt"
	"hash/fnv"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wolfinch/wolfinch/internal/candle"
	"github.com/wolfinch/wolfinch/internal/config"
	"github.com/wolfinch/wolfinch/internal/exchanges"
	"github.com/wolfinch/wolfinch/internal/logger"
	"github.com/wolfinch/wolfinch/internal/order"
	"github.com/wolfinch/wolfinch/internal/telemetry"
)

const Name = "paper"

const defaultRandomCandles = 5000

// Adapter is the paper trading venue.
type Adapter struct {
	products []exchanges.ProductInfo
	creds    config.Credentials
	log      *logger.Logger

	mu       sync.Mutex
	enqueues map[string]exchanges.FeedEnqueue
	marks    map[string]decimal.Decimal
	walks    map[string]*walker
	orders   map[string]*order.Order
	feeds    map[string]context.CancelFunc
	closed   bool
}

// New creates a paper adapter for the configured exchange entry.
func New(ex config.Exchange) *Adapter {
	creds := config.Credentials{}
	if ex.Credentials != nil {
		creds = *ex.Credentials
	}
	if creds.FeedCadence <= 0 {
		creds.FeedCadence = ex.CandleInterval
	}
	if creds.RandomCandles <= 0 {
		creds.RandomCandles = defaultRandomCandles
	}

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
		products: products,
		creds:    creds,
		log:      logger.Exchange(Name),
		enqueues: make(map[string]exchanges.FeedEnqueue),
		marks:    make(map[string]decimal.Decimal),
		walks:    make(map[string]*walker),
		orders:   make(map[string]*order.Order),
		feeds:    make(map[string]context.CancelFunc),
	}
}

// Name returns the venue name.
func (a *Adapter) Name() string { return Name }

// Init seeds the per-product walkers.
func (a *Adapter) Init(_ context.Context, primary bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range a.products {
		w, err := a.newWalker(p)
		if err != nil {
			return err
		}
		a.walks[p.ID] = w
		a.marks[p.ID] = w.price
	}
	a.log.Info("paper adapter initialized", "products", len(a.products), "primary", primary)
	return nil
}

// Products returns the configured instruments.
func (a *Adapter) Products() []exchanges.ProductInfo {
	out := make([]exchanges.ProductInfo, len(a.products))
	copy(out, a.products)
	return out
}

// Accounts returns the simulated balances.
func (a *Adapter) Accounts(context.Context) (map[string]exchanges.BalanceInfo, error) {
	funds := decimal.NewFromInt(1000000)
	return map[string]exchanges.BalanceInfo{
		"CASH": {Asset: "CASH", Available: funds, Total: funds},
	}, nil
}

// MarketInit registers the feed callback and starts the candle loop.
func (a *Adapter) MarketInit(product exchanges.ProductInfo, enqueue exchanges.FeedEnqueue) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return exchanges.ErrNotConnected
	}
	if _, ok := a.walks[product.ID]; !ok {
		return fmt.Errorf("paper: unknown product %q", product.ID)
	}
	a.enqueues[product.ID] = enqueue

	ctx, cancel := context.WithCancel(context.Background())
	a.feeds[product.ID] = cancel
	go a.feedLoop(ctx, product, enqueue)
	return nil
}

// feedLoop emits one closed kline per cadence tick, preceded by a
// trade tick at the candle close.
func (a *Adapter) feedLoop(ctx context.Context, product exchanges.ProductInfo, enqueue exchanges.FeedEnqueue) {
	cadence := time.Duration(a.creds.FeedCadence) * time.Second
	if cadence <= 0 {
		cadence = time.Minute
	}
	ticker := time.NewTicker(cadence)
	defer ticker.Stop()

	emitted := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.mu.Lock()
			w := a.walks[product.ID]
			c, more := w.next()
			a.marks[product.ID] = c.Close
			a.mu.Unlock()
			if !more {
				a.log.Info("paper feed exhausted", "product", product.ID, "candles", emitted)
				return
			}

			if !enqueue(exchanges.FeedMessage{
				Type:    exchanges.MsgTrade,
				Product: product.ID,
				Price:   c.Close,
				Size:    c.Volume,
				Time:    time.Unix(c.Time, 0),
			}) {
				telemetry.RecordFeedDrop(Name, product.ID)
			}
			if !enqueue(exchanges.FeedMessage{
				Type:    exchanges.MsgKline,
				Product: product.ID,
				Candle:  c,
				Closed:  true,
				Time:    time.Unix(c.Time, 0),
			}) {
				telemetry.RecordFeedDrop(Name, product.ID)
			}
			emitted++
		}
	}
}

// HistoricRates replays the walk for the requested range.
func (a *Adapter) HistoricRates(_ context.Context, product exchanges.ProductInfo, start, end time.Time) ([]candle.Candle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.walks[product.ID]; !ok {
		return nil, fmt.Errorf("paper: unknown product %q", product.ID)
	}
	interval := int64(product.CandleInterval)
	if interval <= 0 {
		interval = 60
	}

	// A fresh walker with the same seed replays the identical series.
	replay, err := a.newWalker(product)
	if err != nil {
		return nil, err
	}
	replay.start = start.Unix() / interval * interval

	var out []candle.Candle
	for {
		c, more := replay.next()
		if !more || c.Time > end.Unix() {
			break
		}
		if c.Time >= start.Unix() {
			out = append(out, c)
		}
	}
	return out, nil
}

// Buy places a simulated buy; it fills instantly at the mark.
func (a *Adapter) Buy(ctx context.Context, req exchanges.TradeRequest) (*order.Order, error) {
	return a.place(ctx, req, order.SideBuy)
}

// Sell places a simulated sell; it fills instantly at the mark.
func (a *Adapter) Sell(ctx context.Context, req exchanges.TradeRequest) (*order.Order, error) {
	return a.place(ctx, req, order.SideSell)
}

func (a *Adapter) place(_ context.Context, req exchanges.TradeRequest, side order.Side) (*order.Order, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, exchanges.ErrNotConnected
	}

	mark, ok := a.marks[req.Product.ID]
	if !ok || mark.IsZero() {
		return nil, fmt.Errorf("paper: no mark price for %q", req.Product.ID)
	}
	if req.Lots <= 0 {
		return nil, nil
	}

	price := mark

	now := time.Now()
	id := uuid.NewString()
	size := decimal.NewFromInt(req.Lots)
	o := order.New(id, req.Product.Key(), side, req.Type, size, price, now)

	notional := price.Mul(exchanges.VenueQuantity(req.Product, req.Lots))
	fees := notional.Mul(decimal.NewFromFloat(a.creds.CommissionBps)).Div(decimal.NewFromInt(10000))

	a.orders[id] = o

	// Instant fill, delivered through the feed path like a live venue.
	if enqueue, ok := a.enqueues[req.Product.ID]; ok {
		report := &exchanges.ExecutionReport{
			OrderID:   id,
			Status:    order.StatusFilled,
			FillDelta: size,
			Price:     price,
			Fees:      fees,
			Time:      now,
		}
		if !enqueue(exchanges.FeedMessage{
			Type:    exchanges.MsgExecutionReport,
			Product: req.Product.ID,
			Report:  report,
			Time:    now,
		}) {
			telemetry.RecordFeedDrop(Name, req.Product.ID)
		}
	}

	a.log.Info("paper order placed", "order_id", id, "side", side, "lots", req.Lots, "price", price)
	return o, nil
}

// GetOrder returns the adapter's record of the order, reflecting the
// instant fill.
func (a *Adapter) GetOrder(_ context.Context, _ exchanges.ProductInfo, id string) (*order.Order, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	o, ok := a.orders[id]
	if !ok {
		return nil, exchanges.ErrOrderNotFound
	}
	cp := *o
	if cp.Status == order.StatusOpen {
		// Paper orders fill immediately.
		cp.FilledSize = cp.RequestSize
		cp.RemainingSize = decimal.Zero
		cp.Status = order.StatusFilled
	}
	return &cp, nil
}

// CancelOrder reports success; paper orders are already terminal.
func (a *Adapter) CancelOrder(context.Context, exchanges.ProductInfo, string) (bool, error) {
	return true, nil
}

// CancelAll reports success.
func (a *Adapter) CancelAll(context.Context, exchanges.ProductInfo) (bool, error) {
	return true, nil
}

// Close stops all feed loops.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	for _, cancel := range a.feeds {
		cancel()
	}
	a.feeds = make(map[string]context.CancelFunc)
	return nil
}

// Mark returns the current simulated mark price. Test and diagnostics
// hook.
func (a *Adapter) Mark(productID string) decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.marks[productID]
}

// walker produces the synthetic candle series: either a CSV replay or
// a bounded random walk.
type walker struct {
	rng      *rand.Rand
	price    decimal.Decimal
	start    int64
	interval int64
	count    int
	limit    int
	csv      []candle.Candle
	csvIdx   int
}

func (a *Adapter) newWalker(p exchanges.ProductInfo) (*walker, error) {
	interval := int64(p.CandleInterval)
	if interval <= 0 {
		interval = 60
	}
	start := time.Now().Add(-time.Duration(a.creds.RandomCandles) * time.Duration(interval) * time.Second).Unix()
	start = start / interval * interval

	if a.creds.CSVDir != "" {
		path := filepath.Join(a.creds.CSVDir, p.ID+".csv")
		if rows, err := loadCSV(path); err == nil {
			return &walker{csv: rows, price: rows[0].Open, interval: interval, limit: len(rows)}, nil
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("paper: load csv %s: %w", path, err)
		}
	}

	seed := a.creds.RandomSeed
	if seed == 0 {
		seed = 42
	}
	h := fnv.New64a()
	h.Write([]byte(p.ID))
	rng := rand.New(rand.NewSource(seed ^ int64(h.Sum64())))

	// Start price is characteristic to the instrument.
	base := 100 + rng.Float64()*900

	return &walker{
		rng:      rng,
		price:    decimal.NewFromFloat(base).Round(2),
		start:    start,
		interval: interval,
		limit:    a.creds.RandomCandles,
	}, nil
}

// next returns the next candle and whether the walk continues.
func (w *walker) next() (candle.Candle, bool) {
	if w.csv != nil {
		if w.csvIdx >= len(w.csv) {
			return candle.Candle{}, false
		}
		c := w.csv[w.csvIdx]
		w.csvIdx++
		w.price = c.Close
		return c, true
	}

	if w.count >= w.limit {
		return candle.Candle{}, false
	}

	open, _ := w.price.Float64()
	volatility := 0.001 + w.rng.Float64()*0.014
	direction := 1.0
	if w.rng.Intn(2) == 0 {
		direction = -1.0
	}
	closePx := open * (1 + direction*volatility)
	high := maxf(open, closePx) * (1 + 0.0005 + w.rng.Float64()*volatility*1.5)
	low := minf(open, closePx) * (1 - 0.0005 - w.rng.Float64()*volatility*1.2)
	volume := 1000 + w.rng.Float64()*4000

	c := candle.Candle{
		Time:   w.start + int64(w.count)*w.interval,
		Open:   decimal.NewFromFloat(open).Round(2),
		High:   decimal.NewFromFloat(high).Round(2),
		Low:    decimal.NewFromFloat(low).Round(2),
		Close:  decimal.NewFromFloat(closePx).Round(2),
		Volume: decimal.NewFromFloat(volume).Round(0),
	}
	w.price = c.Close
	w.count++
	return c, true
}

func loadCSV(path string) ([]candle.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}
	var out []candle.Candle
	for i, row := range rows {
		if len(row) < 6 {
			continue
		}
		ts, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			if i == 0 {
				continue // header
			}
			return nil, fmt.Errorf("row %d: bad time %q", i, row[0])
		}
		c := candle.Candle{Time: ts}
		for j, dst := range []*decimal.Decimal{&c.Open, &c.High, &c.Low, &c.Close, &c.Volume} {
			v, err := decimal.NewFromString(row[j+1])
			if err != nil {
				return nil, fmt.Errorf("row %d col %d: %w", i, j+1, err)
			}
			*dst = v
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("csv %s: no candles", path)
	}
	return out, nil
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
