package core

import (
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"
)

// OrderSide represents the direction of an order (buy or sell).
type OrderSide int

// Order side constants define the direction of a trade.
const (
	// SideBuy indicates an order to purchase an asset.
	SideBuy OrderSide = iota
	// SideSell indicates an order to sell an asset.
	SideSell
)

// String returns the string representation of the order side ("BUY" or "SELL").
func (s OrderSide) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	}
	return "UNKNOWN"
}

// MarshalJSON implements json.Marshaler for OrderSide.
func (s OrderSide) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler for OrderSide.
// It accepts both uppercase and lowercase formats.
func (s *OrderSide) UnmarshalJSON(data []byte) error {
	side, err := ParseOrderSide(strings.Trim(string(data), `"`))
	if err != nil {
		return err
	}
	*s = side
	return nil
}

// ParseOrderSide converts "buy"/"sell" in any case into an OrderSide.
func ParseOrderSide(s string) (OrderSide, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return SideBuy, nil
	case "SELL":
		return SideSell, nil
	}
	return 0, &ParseError{Field: "side", Value: s}
}

// OrderType represents the type of order to place on an exchange.
type OrderType int

// Order type constants define how an order is executed.
const (
	// TypeMarket executes immediately at the best available price.
	TypeMarket OrderType = iota
	// TypeLimit executes at a specified price or better.
	TypeLimit
)

// String returns the string representation of the order type.
func (t OrderType) String() string {
	switch t {
	case TypeMarket:
		return "MARKET"
	case TypeLimit:
		return "LIMIT"
	}
	return "UNKNOWN"
}

// MarshalJSON implements json.Marshaler for OrderType.
func (t OrderType) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler for OrderType.
func (t *OrderType) UnmarshalJSON(data []byte) error {
	typ, err := ParseOrderType(strings.Trim(string(data), `"`))
	if err != nil {
		return err
	}
	*t = typ
	return nil
}

// ParseOrderType converts "market"/"limit" in any case into an OrderType.
func ParseOrderType(s string) (OrderType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "MARKET":
		return TypeMarket, nil
	case "LIMIT":
		return TypeLimit, nil
	}
	return 0, &ParseError{Field: "type", Value: s}
}

// OrderStatus represents the current state of an order.
type OrderStatus int

// Order status constants define the lifecycle state of an order.
const (
	// StatusPending indicates the order was accepted and has no fills yet.
	StatusPending OrderStatus = iota
	// StatusPartial indicates the order has been partially filled.
	StatusPartial
	// StatusFilled indicates the order has been completely filled.
	StatusFilled
	// StatusCanceled indicates the order has been canceled.
	StatusCanceled
	// StatusRejected indicates the order was rejected by the exchange.
	StatusRejected
)

// String returns the string representation of the order status.
func (s OrderStatus) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusPartial:
		return "PARTIAL"
	case StatusFilled:
		return "FILLED"
	case StatusCanceled:
		return "CANCELED"
	case StatusRejected:
		return "REJECTED"
	}
	return "UNKNOWN"
}

// IsTerminal returns true if the order is in a terminal state (no further changes possible).
func (s OrderStatus) IsTerminal() bool {
	return s == StatusFilled || s == StatusCanceled || s == StatusRejected
}

// MarshalJSON implements json.Marshaler for OrderStatus.
func (s OrderStatus) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Ticker represents the best bid/ask and last trade price for a pair.
type Ticker struct {
	Pair      Pair        `json:"pair"`
	Bid       apd.Decimal `json:"bid"`
	Ask       apd.Decimal `json:"ask"`
	Last      apd.Decimal `json:"last"`
	Timestamp time.Time   `json:"timestamp"`
}

// OrderResult is the gateway's view of an order on an exchange.
// It is created on submit and only moves forward through status polls until it
// reaches a terminal status, after which it never changes.
type OrderResult struct {
	// ExchangeOrderID is the exchange-assigned order identifier.
	ExchangeOrderID string `json:"exchange_order_id"`
	// ClientOrderID is the caller-assigned idempotency key.
	ClientOrderID string `json:"client_order_id"`
	// Pair is the canonical trading pair.
	Pair Pair `json:"pair"`
	// Side indicates whether this is a buy or sell order.
	Side OrderSide `json:"side"`
	// Type defines how the order executes.
	Type OrderType `json:"type"`
	// Status is the current lifecycle state of the order.
	Status OrderStatus `json:"status"`
	// Price is the limit price. Zero for market orders.
	Price apd.Decimal `json:"price"`
	// Quantity is the total order quantity.
	Quantity apd.Decimal `json:"quantity"`
	// FilledQuantity is the amount that has been executed.
	FilledQuantity apd.Decimal `json:"filled_quantity"`
	// AveragePrice is the volume weighted execution price, zero when nothing filled.
	AveragePrice apd.Decimal `json:"average_price"`
	// UpdatedAt is when the order was last observed to change.
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the result so callers cannot alias stored state.
func (r *OrderResult) Clone() *OrderResult {
	if r == nil {
		return nil
	}
	c := *r
	c.Price.Set(&r.Price)
	c.Quantity.Set(&r.Quantity)
	c.FilledQuantity.Set(&r.FilledQuantity)
	c.AveragePrice.Set(&r.AveragePrice)
	return &c
}

// TradeEvent is a single public trade observed on a stream.
type TradeEvent struct {
	Pair      Pair        `json:"pair"`
	TradeID   string      `json:"trade_id"`
	Side      OrderSide   `json:"side"`
	Price     apd.Decimal `json:"price"`
	Quantity  apd.Decimal `json:"quantity"`
	Timestamp time.Time   `json:"timestamp"`
}

// ParseError reports a value that could not be converted into a canonical type.
type ParseError struct {
	Field string
	Value string
}

func (e *ParseError) Error() string {
	return "invalid " + e.Field + ": " + `"` + e.Value + `"`
}
