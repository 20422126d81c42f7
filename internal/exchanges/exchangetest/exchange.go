// Package exchangetest provides a scripted in-memory exchange for
// package tests: it records requests and lets tests inject feed
// messages and execution reports by hand.
package exchangetest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wolfinch/wolfinch/internal/candle"
	"github.com/wolfinch/wolfinch/internal/exchanges"
	"github.com/wolfinch/wolfinch/internal/order"
)

// Fake is a scripted exchange.
type Fake struct {
	VenueName string
	ProductsV []exchanges.ProductInfo

	// RefuseOrders makes Buy/Sell return (nil, nil).
	RefuseOrders bool
	// FailOrders makes Buy/Sell return an error.
	FailOrders error

	mu       sync.Mutex
	enqueues map[string]exchanges.FeedEnqueue
	placed   []exchanges.TradeRequest
	orders   map[string]*order.Order
	created  []*order.Order // insertion order
	History  []candle.Candle
}

// New creates a fake venue with the given products.
func New(products ...exchanges.ProductInfo) *Fake {
	return &Fake{
		VenueName: "fake",
		ProductsV: products,
		enqueues:  make(map[string]exchanges.FeedEnqueue),
		orders:    make(map[string]*order.Order),
	}
}

func (f *Fake) Name() string { return f.VenueName }

func (f *Fake) Init(context.Context, bool) error { return nil }

func (f *Fake) Products() []exchanges.ProductInfo { return f.ProductsV }

func (f *Fake) Accounts(context.Context) (map[string]exchanges.BalanceInfo, error) {
	bal := decimal.NewFromInt(100000)
	return map[string]exchanges.BalanceInfo{
		"CASH": {Asset: "CASH", Available: bal, Total: bal},
	}, nil
}

func (f *Fake) MarketInit(product exchanges.ProductInfo, enqueue exchanges.FeedEnqueue) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueues[product.ID] = enqueue
	return nil
}

func (f *Fake) HistoricRates(_ context.Context, _ exchanges.ProductInfo, start, end time.Time) ([]candle.Candle, error) {
	var out []candle.Candle
	for _, c := range f.History {
		if c.Time >= start.Unix() && c.Time <= end.Unix() {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *Fake) Buy(ctx context.Context, req exchanges.TradeRequest) (*order.Order, error) {
	return f.place(ctx, req, order.SideBuy)
}

func (f *Fake) Sell(ctx context.Context, req exchanges.TradeRequest) (*order.Order, error) {
	return f.place(ctx, req, order.SideSell)
}

func (f *Fake) place(_ context.Context, req exchanges.TradeRequest, side order.Side) (*order.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailOrders != nil {
		return nil, f.FailOrders
	}
	if f.RefuseOrders {
		return nil, nil
	}
	f.placed = append(f.placed, req)
	o := order.New(uuid.NewString(), req.Product.Key(), side, req.Type,
		decimal.NewFromInt(req.Lots), req.Price, time.Now())
	f.orders[o.ID] = o
	f.created = append(f.created, o)
	return o, nil
}

func (f *Fake) GetOrder(_ context.Context, _ exchanges.ProductInfo, id string) (*order.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, exchanges.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *Fake) CancelOrder(context.Context, exchanges.ProductInfo, string) (bool, error) {
	return true, nil
}

func (f *Fake) CancelAll(context.Context, exchanges.ProductInfo) (bool, error) {
	return true, nil
}

func (f *Fake) Close() error { return nil }

// Placed returns the trade requests seen so far.
func (f *Fake) Placed() []exchanges.TradeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]exchanges.TradeRequest, len(f.placed))
	copy(out, f.placed)
	return out
}

// LastOrder returns the most recently placed order.
func (f *Fake) LastOrder() *order.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.created) == 0 {
		return nil
	}
	return f.created[len(f.created)-1]
}

// Feed pushes a message into the registered market queue.
func (f *Fake) Feed(productID string, msg exchanges.FeedMessage) bool {
	f.mu.Lock()
	enqueue, ok := f.enqueues[productID]
	f.mu.Unlock()
	if !ok {
		return false
	}
	return enqueue(msg)
}
