package exchange

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/cockroachdb/apd/v3"
	"github.com/go-playground/validator/v10"

	"exgate/pkg/core"
)

// Client defines the unified capability set every supported exchange provides.
// Implementations are safe for concurrent use.
type Client interface {
	Name() string

	// FetchTicker returns the current best bid/ask and last price. Read-only.
	FetchTicker(ctx context.Context, pair core.Pair) (*core.Ticker, error)

	// PlaceOrder submits an order. Calls repeating a ClientOrderID return the
	// original order instead of creating a second one. The returned copy carries
	// the latest status and fills the client has seen for it, so it may differ
	// from what the first call returned.
	//
	// When a submission fails without a definite answer (timeout, 5xx) the
	// client order id stays reserved. The next call looks the order up by client
	// id before sending it again; exchanges without that lookup fail with
	// ErrCodeOutcomeUnknown until the dedup TTL releases the id.
	PlaceOrder(ctx context.Context, req *OrderRequest) (*core.OrderResult, error)
	// CancelOrder cancels an open order. Cancelling a filled, canceled or rejected
	// order fails with ErrorKindOrderAlreadyTerminal and returns the unchanged result.
	CancelOrder(ctx context.Context, req *CancelRequest) (*core.OrderResult, error)
	// GetOrder polls the exchange for the current state of an order.
	GetOrder(ctx context.Context, q *OrderQuery) (*core.OrderResult, error)

	// StreamTrades yields public trades until ctx ends or the consumer stops.
	// Reconnection is handled internally; trades published during a gap are lost.
	StreamTrades(ctx context.Context, pair core.Pair) iter.Seq2[*core.TradeEvent, error]

	SupportedPairs() []core.Pair
	Close() error
}

// Transport executes requests and opens streams for one exchange.
type Transport interface {
	Send(ctx context.Context, req *core.Request) (*core.Response, error)
	OpenStream(ctx context.Context, spec core.StreamSpec) iter.Seq2[[]byte, error]
	Close() error
}

var validate = validator.New()

// OrderRequest contains the parameters required to place a new order on an exchange.
type OrderRequest struct {
	Pair     core.Pair
	Side     core.OrderSide `validate:"oneof=0 1"`
	Type     core.OrderType `validate:"oneof=0 1"`
	Quantity apd.Decimal
	// Price is required for limit orders and ignored for market orders.
	Price apd.Decimal
	// ClientOrderID is the idempotency key.
	ClientOrderID string `validate:"required,max=36,printascii"`
}

// Validate checks the request before anything is sent.
func (r *OrderRequest) Validate() error {
	if r.Pair.IsZero() {
		return errors.New("pair is required")
	}
	if err := validate.Struct(r); err != nil {
		return err
	}
	if strings.ContainsRune(r.ClientOrderID, ' ') {
		return fmt.Errorf("ClientOrderID must not contain spaces, got %q", r.ClientOrderID)
	}
	if r.Quantity.Sign() <= 0 {
		return fmt.Errorf("quantity must be positive, got %s", r.Quantity.String())
	}
	if r.Price.Sign() < 0 {
		return fmt.Errorf("price must be positive, got %s", r.Price.String())
	}
	if r.Type == core.TypeLimit && r.Price.Sign() == 0 {
		return errors.New("limit orders require a price")
	}
	return nil
}

// CancelRequest contains the parameters required to cancel an existing order.
// Pair may be left empty when the order was placed through the same client.
type CancelRequest struct {
	Pair    core.Pair
	OrderID string `validate:"required"`
}

func (r *CancelRequest) Validate() error {
	return validate.Struct(r)
}

// OrderQuery identifies an order by exchange id or client order id.
type OrderQuery struct {
	Pair          core.Pair
	OrderID       string `validate:"required_without=ClientOrderID"`
	ClientOrderID string `validate:"required_without=OrderID"`
}

func (q *OrderQuery) Validate() error {
	return validate.Struct(q)
}
