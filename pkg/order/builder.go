// Package order builds validated order requests and follows orders until they
// reach a terminal status.
package order

import (
	"fmt"

	"github.com/cockroachdb/apd/v3"
	"github.com/google/uuid"

	"exgate/pkg/core"
	"exgate/pkg/exchange"
)

// Builder provides a fluent interface for constructing order requests.
// The first error is kept and reported by Build.
//
// Example:
//
//	req, err := order.NewBuilder("BTC/USDT").
//	    Buy().
//	    Limit().
//	    Price("50000").
//	    Quantity("0.001").
//	    Build()
type Builder struct {
	req *exchange.OrderRequest
	err error
}

// NewBuilder creates a builder for pair, given in any form ParsePair accepts.
func NewBuilder(pair string) *Builder {
	b := &Builder{req: &exchange.OrderRequest{}}
	p, err := core.ParsePair(pair)
	if err != nil {
		b.err = fmt.Errorf("parse pair: %w", err)
		return b
	}
	b.req.Pair = p
	return b
}

// ForPair creates a builder for an already parsed pair.
func ForPair(pair core.Pair) *Builder {
	return &Builder{req: &exchange.OrderRequest{Pair: pair}}
}

// Side sets the order side.
func (b *Builder) Side(side core.OrderSide) *Builder {
	if b.err != nil {
		return b
	}
	b.req.Side = side
	return b
}

func (b *Builder) Buy() *Builder {
	return b.Side(core.SideBuy)
}

func (b *Builder) Sell() *Builder {
	return b.Side(core.SideSell)
}

// Type sets the order type.
func (b *Builder) Type(orderType core.OrderType) *Builder {
	if b.err != nil {
		return b
	}
	b.req.Type = orderType
	return b
}

func (b *Builder) Market() *Builder {
	return b.Type(core.TypeMarket)
}

func (b *Builder) Limit() *Builder {
	return b.Type(core.TypeLimit)
}

// Price sets the limit price from its decimal string.
func (b *Builder) Price(price string) *Builder {
	if b.err != nil {
		return b
	}
	if _, _, err := b.req.Price.SetString(price); err != nil {
		b.err = fmt.Errorf("parse price: %w", err)
	}
	return b
}

// PriceDecimal sets the limit price.
func (b *Builder) PriceDecimal(price *apd.Decimal) *Builder {
	if b.err != nil {
		return b
	}
	b.req.Price.Set(price)
	return b
}

// Quantity sets the base quantity from its decimal string.
func (b *Builder) Quantity(qty string) *Builder {
	if b.err != nil {
		return b
	}
	if _, _, err := b.req.Quantity.SetString(qty); err != nil {
		b.err = fmt.Errorf("parse quantity: %w", err)
	}
	return b
}

// QuantityDecimal sets the base quantity.
func (b *Builder) QuantityDecimal(qty *apd.Decimal) *Builder {
	if b.err != nil {
		return b
	}
	b.req.Quantity.Set(qty)
	return b
}

// ClientOrderID sets the idempotency key. Build generates one when unset.
func (b *Builder) ClientOrderID(id string) *Builder {
	if b.err != nil {
		return b
	}
	b.req.ClientOrderID = id
	return b
}

// Build validates and returns the request. Reusing the built request, or its
// client order id, makes a resubmission idempotent.
func (b *Builder) Build() (*exchange.OrderRequest, error) {
	if b.err != nil {
		return nil, b.err
	}
	req := *b.req
	req.Price.Set(&b.req.Price)
	req.Quantity.Set(&b.req.Quantity)
	if req.ClientOrderID == "" {
		req.ClientOrderID = NewClientOrderID()
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

// NewClientOrderID returns a random 36 character idempotency key.
func NewClientOrderID() string {
	return uuid.NewString()
}
