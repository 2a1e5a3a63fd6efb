package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"exgate/pkg/core"
	"exgate/pkg/exchange"
)

// Name is the registry identifier of the exchange.
const Name = "binance"

const (
	ProductionURL       = "https://api.binance.com"
	SandboxURL          = "https://testnet.binance.vision"
	ProductionStreamURL = "wss://stream.binance.com:9443"
	SandboxStreamURL    = "wss://stream.testnet.binance.vision"

	recvWindow = "5000"
)

var errorTable = core.NewErrorTable(Name,
	core.ErrorRule{Code: "-1003", Kind: core.ErrorKindRateLimitExceeded},
	core.ErrorRule{Code: "-1015", Kind: core.ErrorKindRateLimitExceeded},
	core.ErrorRule{Code: "-1001", Kind: core.ErrorKindTransientNetwork},
	core.ErrorRule{Code: "-1007", Kind: core.ErrorKindTransientNetwork},
	core.ErrorRule{Code: "-1008", Kind: core.ErrorKindTransientNetwork},
	core.ErrorRule{Code: "-1021", Kind: core.ErrorKindTransientNetwork},
	core.ErrorRule{Code: "-1121", Kind: core.ErrorKindUnknownPair},
	core.ErrorRule{Code: "-2010", Contains: "duplicate", Kind: core.ErrorKindDuplicateOrder},
	core.ErrorRule{Code: "-2011", Contains: "unknown order", Kind: core.ErrorKindOrderNotFound},
	core.ErrorRule{Code: "-2013", Kind: core.ErrorKindOrderNotFound},
	core.ErrorRule{Code: "-2026", Kind: core.ErrorKindOrderNotFound},
	core.ErrorRule{Code: "-1022", Kind: core.ErrorKindFatalExchange},
	core.ErrorRule{Code: "-2014", Kind: core.ErrorKindFatalExchange},
	core.ErrorRule{Code: "-2015", Kind: core.ErrorKindFatalExchange},
	core.ErrorRule{Code: "-1013", Kind: core.ErrorKindFatalExchange},
	core.ErrorRule{Code: "-2010", Kind: core.ErrorKindFatalExchange},
	core.ErrorRule{Code: "-2011", Kind: core.ErrorKindFatalExchange},
)

// Protocol implements the core.Protocol interface for Binance spot.
// It provides request building, response parsing, and authentication for the Binance API.
type Protocol struct {
	symbols    *core.SymbolTable
	normalizer *Normalizer
	streamURL  string
}

// NewProtocol creates a Binance protocol for the pairs and endpoints in config.
func NewProtocol(config *core.Config) *Protocol {
	pairs := config.Pairs
	if len(pairs) == 0 {
		pairs = core.DefaultPairs()
	}
	symbols := core.NewSymbolTable(Name, pairs, formatSymbol)

	streamURL := config.StreamURL
	if streamURL == "" {
		streamURL = ProductionStreamURL
		if config.Sandbox {
			streamURL = SandboxStreamURL
		}
	}

	return &Protocol{
		symbols:    symbols,
		normalizer: NewNormalizer(symbols),
		streamURL:  strings.TrimSuffix(streamURL, "/"),
	}
}

// Name returns the protocol identifier "binance".
func (p *Protocol) Name() string {
	return Name
}

// BaseURL returns the base URL for the Binance API.
// If sandbox is true, returns the testnet URL; otherwise returns the production URL.
func (p *Protocol) BaseURL(sandbox bool) string {
	if sandbox {
		return SandboxURL
	}
	return ProductionURL
}

func (p *Protocol) Symbols() *core.SymbolTable {
	return p.symbols
}

// Capabilities reports that Binance rejects a reused newClientOrderId and can
// look orders up by it, but needs the symbol for every order call.
func (p *Protocol) Capabilities() core.Capabilities {
	return core.Capabilities{
		NativeIdempotency:  true,
		CancelRequiresPair: true,
		LookupByClientID:   true,
	}
}

// RateLimits returns the rate limit configuration for Binance API.
func (p *Protocol) RateLimits() core.RateLimitConfig {
	return core.RateLimitConfig{
		RequestsPerSecond: 20,
		OrdersPerSecond:   10,
		Burst:             50,
	}
}

// BuildRequest constructs the Binance request for op.
func (p *Protocol) BuildRequest(op core.Operation, params core.Params) (*core.Request, error) {
	switch op {
	case core.OpGetTicker:
		return p.buildGetTickerRequest(params)
	case core.OpPlaceOrder:
		return p.buildPlaceOrderRequest(params)
	case core.OpCancelOrder:
		return p.buildCancelOrderRequest(params)
	case core.OpGetOrder:
		return p.buildGetOrderRequest(params)
	default:
		return nil, core.Errorf(Name, core.ErrorKindFatalExchange, "unsupported operation: %s", op).
			WithCode(core.ErrCodeUnsupported)
	}
}

// ParseResponse parses a successful response and normalizes it to canonical types.
func (p *Protocol) ParseResponse(op core.Operation, resp *core.Response) (any, error) {
	switch op {
	case core.OpGetTicker:
		var data binanceTicker
		if err := sonic.Unmarshal(resp.Body, &data); err != nil {
			return nil, fmt.Errorf("unmarshal ticker: %w", err)
		}
		return p.normalizer.NormalizeTicker(&data)

	case core.OpPlaceOrder, core.OpGetOrder, core.OpCancelOrder:
		var data binanceOrder
		if err := sonic.Unmarshal(resp.Body, &data); err != nil {
			return nil, fmt.Errorf("unmarshal order: %w", err)
		}
		return p.normalizer.NormalizeOrder(&data)
	}
	return nil, fmt.Errorf("unsupported operation: %s", op)
}

// SignRequest signs the query string with HMAC-SHA256.
// It adds timestamp, recvWindow, and signature parameters to the request.
func (p *Protocol) SignRequest(req *core.Request, creds core.Credentials, now time.Time) error {
	if creds.SecretKey == "" {
		return fmt.Errorf("secret key is required for signing")
	}

	query := req.Query
	if query == nil {
		query = make(map[string][]string)
	}
	query.Set("timestamp", strconv.FormatInt(now.UnixMilli(), 10))
	query.Set("recvWindow", recvWindow)

	payload := query.Encode()
	req.RawQuery = payload + "&signature=" + signHMAC(payload, creds.SecretKey)
	req.SetHeader("X-MBX-APIKEY", creds.APIKey)
	return nil
}

// DecodeError maps a Binance {"code","msg"} body to a typed error.
func (p *Protocol) DecodeError(resp *core.Response) *core.ExchangeError {
	if resp.IsSuccess() {
		return nil
	}
	var apiErr binanceAPIError
	if err := sonic.Unmarshal(resp.Body, &apiErr); err != nil || apiErr.Code == 0 {
		return nil
	}
	return errorTable.Error(resp.StatusCode, strconv.Itoa(apiErr.Code), apiErr.Msg, resp.Body)
}

// TradeStream returns the raw trade stream for pair. Binance needs no token or
// subscribe frame, and answers protocol pings itself.
func (p *Protocol) TradeStream(_ context.Context, pair core.Pair, _ core.SendFunc) (*core.StreamEndpoint, error) {
	native, err := p.symbols.ToNative(pair)
	if err != nil {
		return nil, err
	}
	return &core.StreamEndpoint{
		URL: p.streamURL + "/ws/" + strings.ToLower(native) + "@trade",
	}, nil
}

// ParseTradeEvents decodes one stream message. Subscription acks carry no event type and are skipped.
func (p *Protocol) ParseTradeEvents(data []byte) ([]core.TradeEvent, error) {
	var msg binanceTrade
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal trade: %w", err)
	}
	if msg.Event != "trade" {
		return nil, nil
	}
	event, err := p.normalizer.NormalizeTrade(&msg)
	if err != nil {
		return nil, err
	}
	return []core.TradeEvent{event}, nil
}

func (p *Protocol) buildGetTickerRequest(params core.Params) (*core.Request, error) {
	symbol, err := p.symbols.ToNative(params.Pair())
	if err != nil {
		return nil, err
	}

	req := core.NewRequest(http.MethodGet, "/api/v3/ticker/24hr")
	req.SetQuery("symbol", symbol)
	req.SetWeight(2)
	return req, nil
}

func (p *Protocol) buildPlaceOrderRequest(params core.Params) (*core.Request, error) {
	order, ok := params[core.ParamOrder].(*exchange.OrderRequest)
	if !ok {
		return nil, fmt.Errorf("missing required parameter: %s", core.ParamOrder)
	}
	symbol, err := p.symbols.ToNative(order.Pair)
	if err != nil {
		return nil, err
	}

	req := core.NewRequest(http.MethodPost, "/api/v3/order")
	req.SetQuery("symbol", symbol)
	req.SetQuery("side", formatSide(order.Side))
	req.SetQuery("type", order.Type.String())
	req.SetQuery("quantity", order.Quantity.Text('f'))
	req.SetQuery("newClientOrderId", order.ClientOrderID)
	req.SetQuery("newOrderRespType", "RESULT")
	if order.Type == core.TypeLimit {
		req.SetQuery("price", order.Price.Text('f'))
		req.SetQuery("timeInForce", "GTC")
	}
	// newClientOrderId makes a resent order fail as a duplicate, so it may be retried.
	req.SetRequireAuth(true).
		SetIdempotent(true).
		SetBucket(core.BucketOrders)
	return req, nil
}

func (p *Protocol) buildCancelOrderRequest(params core.Params) (*core.Request, error) {
	symbol, err := p.symbols.ToNative(params.Pair())
	if err != nil {
		return nil, err
	}
	orderID, err := params.RequiredString(core.ParamOrderID)
	if err != nil {
		return nil, err
	}

	req := core.NewRequest(http.MethodDelete, "/api/v3/order")
	req.SetQuery("symbol", symbol)
	req.SetQuery("orderId", orderID)
	req.SetRequireAuth(true).
		SetIdempotent(true).
		SetBucket(core.BucketOrders)
	return req, nil
}

func (p *Protocol) buildGetOrderRequest(params core.Params) (*core.Request, error) {
	symbol, err := p.symbols.ToNative(params.Pair())
	if err != nil {
		return nil, err
	}

	req := core.NewRequest(http.MethodGet, "/api/v3/order")
	req.SetQuery("symbol", symbol)
	req.SetRequireAuth(true)
	req.SetWeight(4)

	if orderID := params.Str(core.ParamOrderID); orderID != "" {
		req.SetQuery("orderId", orderID)
	} else if clientOrderID := params.Str(core.ParamClientOrderID); clientOrderID != "" {
		req.SetQuery("origClientOrderId", clientOrderID)
	} else {
		return nil, fmt.Errorf("missing required parameter: %s or %s", core.ParamOrderID, core.ParamClientOrderID)
	}
	return req, nil
}

func formatSymbol(p core.Pair) string {
	return p.Base + p.Quote
}

func signHMAC(message, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}
