package core

import (
	"encoding/json"
	"fmt"
)

// Side represents buy or sell side of the order
type Side int

// Order sides
const (
	Sell Side = iota
	Buy
)

// String returns side as string
func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Opposite returns the other side of the book
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// ParseSide converts a wire string into a Side
func ParseSide(s string) (Side, error) {
	switch s {
	case "BUY":
		return Buy, nil
	case "SELL":
		return Sell, nil
	default:
		return 0, fmt.Errorf("unknown side %q", s)
	}
}

// OrderStatus represents the lifecycle state of an order
type OrderStatus int

// Order lifecycle states
const (
	StatusOpen OrderStatus = iota
	StatusPartiallyFilled
	StatusFilled
	StatusCanceled
)

// String returns status as string
func (st OrderStatus) String() string {
	switch st {
	case StatusOpen:
		return "OPEN"
	case StatusPartiallyFilled:
		return "PARTIALLY_FILLED"
	case StatusFilled:
		return "FILLED"
	case StatusCanceled:
		return "CANCELED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether the status admits no further transitions.
func (st OrderStatus) IsTerminal() bool {
	return st == StatusFilled || st == StatusCanceled
}

// Order stores information about a limit order resting in or passing
// through the book. Identity (id, side, price) is immutable after
// construction; only the remaining quantity and status change, and the
// remaining quantity never increases.
type Order struct {
	id        string
	side      Side
	price     int64
	remaining int64
	status    OrderStatus
}

// NewOrder creates a new limit order. Price and quantity are integers in
// ticks and lots respectively and must both be positive.
func NewOrder(orderID string, side Side, price, quantity int64) (*Order, error) {
	if orderID == "" {
		return nil, ErrEmptyOrderID
	}

	if price <= 0 {
		return nil, ErrInvalidPrice
	}

	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	return &Order{
		id:        orderID,
		side:      side,
		price:     price,
		remaining: quantity,
		status:    StatusOpen,
	}, nil
}

// ID returns the order identifier
func (o *Order) ID() string {
	return o.id
}

// Side returns the side of the order
func (o *Order) Side() Side {
	return o.side
}

// Price returns the limit price in ticks
func (o *Order) Price() int64 {
	return o.price
}

// Remaining returns the unfilled quantity in lots
func (o *Order) Remaining() int64 {
	return o.remaining
}

// Status returns the current lifecycle status
func (o *Order) Status() OrderStatus {
	return o.status
}

// Fill reduces the remaining quantity by qty and advances the status.
// A fill that would drive the remainder negative, or a fill against a
// terminal order, is an invariant violation and is reported as an error
// rather than applied.
func (o *Order) Fill(qty int64) error {
	if o.status.IsTerminal() {
		return fmt.Errorf("fill on terminal order %s (%s): %w", o.id, o.status, ErrInvalidQuantity)
	}

	if qty <= 0 || qty > o.remaining {
		return fmt.Errorf("fill %d against remaining %d on %s: %w", qty, o.remaining, o.id, ErrInvalidQuantity)
	}

	o.remaining -= qty
	if o.remaining == 0 {
		o.status = StatusFilled
	} else {
		o.status = StatusPartiallyFilled
	}

	return nil
}

// Cancel marks the order canceled and zeroes the remaining quantity.
// It returns true only when the order was still cancelable, i.e. its
// prior status was OPEN or PARTIALLY_FILLED. Canceling an already
// canceled order is a no-op, as is canceling a filled one.
func (o *Order) Cancel() bool {
	if o.status.IsTerminal() {
		return false
	}

	o.status = StatusCanceled
	o.remaining = 0
	return true
}

// MarshalJSON implements custom JSON marshaling for Order
func (o *Order) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID        string `json:"id"`
		Side      string `json:"side"`
		Price     int64  `json:"price"`
		Remaining int64  `json:"remaining_qty"`
		Status    string `json:"status"`
	}{
		ID:        o.id,
		Side:      o.side.String(),
		Price:     o.price,
		Remaining: o.remaining,
		Status:    o.status.String(),
	})
}

// String implements Stringer interface
func (o *Order) String() string {
	j, _ := o.MarshalJSON()
	return string(j)
}
