// Package order implements the canonical order and position records and
// the order lifecycle state machine shared by every adapter and market.
package order

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side represents buy or sell.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Type represents the order type.
type Type string

const (
	TypeMarket Type = "market"
	TypeLimit  Type = "limit"
)

// Status represents the lifecycle state of an order.
type Status string

const (
	StatusOpen     Status = "open"
	StatusFilled   Status = "filled"
	StatusCanceled Status = "canceled"
	StatusRejected Status = "rejected"
)

// IsTerminal reports whether the status permits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusFilled || s == StatusCanceled || s == StatusRejected
}

// TransitionError reports an illegal state-machine transition. It is a
// bug-class error: the supervisor fail-stops the offending market.
type TransitionError struct {
	OrderID string
	From    Status
	To      Status
	Detail  string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("order %s: illegal transition %s -> %s: %s", e.OrderID, e.From, e.To, e.Detail)
}

// ErrUnknownStatus is returned when an adapter payload carries a status
// outside the normalization table.
var ErrUnknownStatus = errors.New("unknown order status")

// Order is the canonical order record. Sizes are in lots. The invariant
// FilledSize + RemainingSize = RequestSize holds at every observable
// state.
type Order struct {
	ID            string
	Instrument    string
	Side          Side
	Type          Type
	Status        Status
	RequestSize   decimal.Decimal
	FilledSize    decimal.Decimal
	RemainingSize decimal.Decimal
	Price         decimal.Decimal
	Funds         decimal.Decimal
	Fees          decimal.Decimal
	CreateTime    time.Time
	UpdateTime    time.Time
}

// New creates an open order for the requested size.
func New(id, instrument string, side Side, typ Type, size, price decimal.Decimal, now time.Time) *Order {
	return &Order{
		ID:            id,
		Instrument:    instrument,
		Side:          side,
		Type:          typ,
		Status:        StatusOpen,
		RequestSize:   size,
		RemainingSize: size,
		Price:         price,
		CreateTime:    now,
		UpdateTime:    now,
	}
}

// Transition applies a status change with an optional fill delta, price
// and fees, enforcing the legal transitions:
//
//	open -> open     partial fill
//	open -> filled   full fill, remaining must reach 0
//	open -> canceled
//	open -> rejected
//
// Terminal states accept nothing further.
func (o *Order) Transition(newStatus Status, fillDelta, price, fees decimal.Decimal, now time.Time) error {
	if o.Status.IsTerminal() {
		return &TransitionError{OrderID: o.ID, From: o.Status, To: newStatus, Detail: "order is terminal"}
	}

	switch newStatus {
	case StatusOpen, StatusFilled:
		if fillDelta.IsNegative() {
			return &TransitionError{OrderID: o.ID, From: o.Status, To: newStatus, Detail: "negative fill delta"}
		}
		if fillDelta.GreaterThan(o.RemainingSize) {
			return &TransitionError{OrderID: o.ID, From: o.Status, To: newStatus,
				Detail: fmt.Sprintf("fill delta %s exceeds remaining %s", fillDelta, o.RemainingSize)}
		}
		o.FilledSize = o.FilledSize.Add(fillDelta)
		o.RemainingSize = o.RemainingSize.Sub(fillDelta)
		if newStatus == StatusFilled && !o.RemainingSize.IsZero() {
			return &TransitionError{OrderID: o.ID, From: o.Status, To: newStatus,
				Detail: fmt.Sprintf("filled with remaining %s", o.RemainingSize)}
		}
		if !price.IsZero() {
			o.Price = price
		}
	case StatusCanceled, StatusRejected:
		// Remaining size stays; no fill applied.
	default:
		return &TransitionError{OrderID: o.ID, From: o.Status, To: newStatus, Detail: "unknown target status"}
	}

	o.Fees = o.Fees.Add(fees)
	o.Status = newStatus
	o.UpdateTime = now
	return nil
}
