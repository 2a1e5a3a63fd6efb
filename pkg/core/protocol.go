package core

import (
	"context"
	"time"
)

// RateLimitConfig defines rate limiting parameters for an exchange protocol.
type RateLimitConfig struct {
	// RequestsPerSecond is the maximum general requests per second.
	RequestsPerSecond int `json:"requests_per_second"`
	// OrdersPerSecond is the maximum order placement requests per second.
	OrdersPerSecond int `json:"orders_per_second"`
	// Burst allows temporary exceeding of rate limits.
	Burst int `json:"burst"`
}

// Capabilities describes exchange behavior the shared client logic adapts to.
type Capabilities struct {
	// NativeIdempotency is set when the exchange rejects a second order with the same client id.
	NativeIdempotency bool
	// CancelRequiresPair is set when cancel and lookup calls must name the pair.
	CancelRequiresPair bool
	// LookupByClientID is set when orders can be queried by client order id.
	LookupByClientID bool
}

// SendFunc executes a request through the exchange's transport.
type SendFunc func(ctx context.Context, req *Request) (*Response, error)

// StreamEndpoint is everything needed to open one websocket connection.
type StreamEndpoint struct {
	URL string
	// Subscribe frames are written in order right after the handshake.
	Subscribe [][]byte
	// PingInterval, when positive, overrides the configured keepalive interval.
	PingInterval time.Duration
	// PingMessage builds an application-level ping. Nil means protocol ping frames.
	PingMessage func() []byte
}

// StreamSpec describes a logical stream. Resolve is called for every connection
// attempt so short-lived tokens are fetched again after a disconnect.
type StreamSpec struct {
	Channel string
	Resolve func(ctx context.Context) (*StreamEndpoint, error)
}

// Protocol defines the interface for exchange-specific protocol implementations.
// Each exchange implements it to handle request building, response parsing,
// authentication, error decoding and stream framing. Protocols do no I/O of their own.
type Protocol interface {
	// Name returns the exchange identifier (e.g., "binance", "kraken").
	Name() string

	// BaseURL returns the API base URL for the given environment.
	// Sandbox mode returns the test environment URL when available.
	BaseURL(sandbox bool) string

	// Symbols returns the pair table the protocol was built with.
	Symbols() *SymbolTable

	// BuildRequest constructs a request for the specified operation.
	// The params map contains operation-specific parameters keyed by the Param constants.
	BuildRequest(op Operation, params Params) (*Request, error)

	// ParseResponse deserializes a successful response into canonical types.
	ParseResponse(op Operation, resp *Response) (any, error)

	// SignRequest adds authentication to req in place. It is called once per attempt,
	// so timestamps and nonces are always fresh.
	SignRequest(req *Request, creds Credentials, now time.Time) error

	// DecodeError returns the typed error carried by resp, or nil when resp is a success.
	// Some exchanges report failures inside 200 responses.
	DecodeError(resp *Response) *ExchangeError

	// TradeStream resolves the websocket endpoint for public trades on pair.
	// send is used by exchanges that hand out connection tokens over REST.
	TradeStream(ctx context.Context, pair Pair, send SendFunc) (*StreamEndpoint, error)

	// ParseTradeEvents decodes one websocket message. Control frames yield no events and no error.
	ParseTradeEvents(data []byte) ([]TradeEvent, error)

	// Capabilities reports behavior the client adapts to.
	Capabilities() Capabilities

	// RateLimits returns the rate limiting configuration for this exchange.
	RateLimits() RateLimitConfig
}
