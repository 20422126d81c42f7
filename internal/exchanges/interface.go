// Package exchanges defines the uniform contract every brokerage
// connector satisfies: product enumeration, feed ingestion, historical
// backfill, order operations, and normalization of native payloads into
// the canonical order model. The core speaks in lots; adapters convert
// to venue-native quantity at the edge.
package exchanges

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wolfinch/wolfinch/internal/candle"
	"github.com/wolfinch/wolfinch/internal/order"
)

// Common errors
var (
	ErrNotConnected  = errors.New("exchange not connected")
	ErrOrderNotFound = errors.New("order not found")
	ErrAuthFailure   = errors.New("authentication failure")
	ErrTransient     = errors.New("transient exchange error")
)

// ProductInfo describes one tradeable instrument on a venue.
type ProductInfo struct {
	ID             string
	Symbol         string
	DisplayName    string
	AssetType      string
	QuoteType      string
	LotSize        int64
	Venue          string
	CandleInterval int // seconds
}

// Key returns the unique instrument key (venue, product).
func (p ProductInfo) Key() string {
	return p.Venue + ":" + p.ID
}

// BalanceInfo describes holdings of one currency or asset.
type BalanceInfo struct {
	Asset     string
	Available decimal.Decimal
	Hold      decimal.Decimal
	Total     decimal.Decimal
}

// MsgType is the feed message family.
type MsgType string

const (
	MsgTrade           MsgType = "trade"
	MsgKline           MsgType = "kline"
	MsgExecutionReport MsgType = "executionReport"
)

// ExecutionReport is an order status change from the venue, already
// normalized.
type ExecutionReport struct {
	OrderID   string
	Status    order.Status
	FillDelta decimal.Decimal // lots filled since the last report
	Price     decimal.Decimal
	Fees      decimal.Decimal
	Time      time.Time
}

// FeedMessage is one raw feed event for a market queue. Exactly the
// fields implied by Type are meaningful.
type FeedMessage struct {
	Type    MsgType
	Product string // product id on the venue

	// trade
	Price decimal.Decimal
	Size  decimal.Decimal

	// kline
	Candle candle.Candle
	Closed bool

	// executionReport
	Report *ExecutionReport

	Time time.Time
}

// FeedEnqueue delivers a feed message into a market's queue. It returns
// false when the queue is full; the adapter drops the message and
// counts it. Enqueue never blocks.
type FeedEnqueue func(FeedMessage) bool

// TradeRequest asks an adapter to place an order. Lots are core units;
// the adapter multiplies by the product's lot size.
type TradeRequest struct {
	Product ProductInfo
	Side    order.Side
	Type    order.Type
	Lots    int64
	Price   decimal.Decimal // limit price, zero for market
	Funds   decimal.Decimal
}

// Exchange is the uniform broker interface.
type Exchange interface {
	// Name returns the venue name.
	Name() string

	// Init loads credentials, enumerates products and prepares feeds.
	// primary marks the adapter whose balances seed market state.
	Init(ctx context.Context, primary bool) error

	// Products returns the instruments enabled on this venue.
	Products() []ProductInfo

	// Accounts returns balances keyed by currency or asset.
	Accounts(ctx context.Context) (map[string]BalanceInfo, error)

	// MarketInit registers the feed callback for one product and
	// starts delivering messages to it.
	MarketInit(product ProductInfo, enqueue FeedEnqueue) error

	// HistoricRates backfills candles for [start, end], paginated and
	// paced by the adapter, adjusted for its server-time offset.
	HistoricRates(ctx context.Context, product ProductInfo, start, end time.Time) ([]candle.Candle, error)

	// Buy and Sell place orders. A nil order with nil error means the
	// venue refused the order without a transport failure.
	Buy(ctx context.Context, req TradeRequest) (*order.Order, error)
	Sell(ctx context.Context, req TradeRequest) (*order.Order, error)

	// GetOrder reconciles an order's current state.
	GetOrder(ctx context.Context, product ProductInfo, id string) (*order.Order, error)

	// CancelOrder cancels one order; CancelAll cancels every open
	// order on the product.
	CancelOrder(ctx context.Context, product ProductInfo, id string) (bool, error)
	CancelAll(ctx context.Context, product ProductInfo) (bool, error)

	// Close shuts down feeds and authenticated sessions.
	Close() error
}

// OrderModifier is the optional price/size amendment extension.
type OrderModifier interface {
	ModifyOrder(ctx context.Context, product ProductInfo, id string, newPrice decimal.Decimal, newLots int64) error
}

// statusTable collapses heterogeneous venue statuses onto the canonical
// lifecycle. Unknown statuses are a hard error.
var statusTable = map[string]order.Status{
	"new":              order.StatusOpen,
	"accepted":         order.StatusOpen,
	"confirmed":        order.StatusOpen,
	"unconfirmed":      order.StatusOpen,
	"queued":           order.StatusOpen,
	"open":             order.StatusOpen,
	"partially_filled": order.StatusOpen,
	"filled":           order.StatusFilled,
	"executed":         order.StatusFilled,
	"complete":         order.StatusFilled,
	"canceled":         order.StatusCanceled,
	"expired":          order.StatusCanceled,
	"rejected":         order.StatusRejected,
	"failed":           order.StatusRejected,
}

// NormalizeStatus maps a venue-native status string onto the canonical
// order status.
func NormalizeStatus(raw string) (order.Status, error) {
	if s, ok := statusTable[normalizeKey(raw)]; ok {
		return s, nil
	}
	return "", fmt.Errorf("%w: %q", order.ErrUnknownStatus, raw)
}

func normalizeKey(raw string) string {
	out := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		ch := raw[i]
		if ch >= 'A' && ch <= 'Z' {
			ch += 'a' - 'A'
		}
		out = append(out, ch)
	}
	return string(out)
}

// VenueQuantity converts lots to venue-native quantity.
func VenueQuantity(p ProductInfo, lots int64) decimal.Decimal {
	lotSize := p.LotSize
	if lotSize < 1 {
		lotSize = 1
	}
	return decimal.NewFromInt(lots * lotSize)
}

// LotsFromQuantity converts a venue-native quantity back to whole lots,
// rounding down.
func LotsFromQuantity(p ProductInfo, qty decimal.Decimal) int64 {
	return LotsFromDecimalQuantity(p, qty).IntPart()
}

// LotsFromDecimalQuantity converts a venue-native quantity to lots,
// keeping fractional fills exact.
func LotsFromDecimalQuantity(p ProductInfo, qty decimal.Decimal) decimal.Decimal {
	lotSize := p.LotSize
	if lotSize < 1 {
		lotSize = 1
	}
	return qty.Div(decimal.NewFromInt(lotSize))
}
