package kucoin

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"

	"exgate/pkg/core"
	"exgate/pkg/exchange"
)

// Name is the registry identifier of the exchange.
const Name = "kucoin"

const (
	ProductionURL = "https://api.kucoin.com"
	SandboxURL    = "https://openapi-sandbox.kucoin.com"
)

var errorTable = core.NewErrorTable(Name,
	core.ErrorRule{Code: "429000", Kind: core.ErrorKindRateLimitExceeded},
	core.ErrorRule{Code: "500000", Kind: core.ErrorKindTransientNetwork},
	core.ErrorRule{Code: "503000", Kind: core.ErrorKindTransientNetwork},
	core.ErrorRule{Code: "400002", Kind: core.ErrorKindTransientNetwork},
	core.ErrorRule{Code: "400001", Kind: core.ErrorKindFatalExchange},
	core.ErrorRule{Code: "400003", Kind: core.ErrorKindFatalExchange},
	core.ErrorRule{Code: "400004", Kind: core.ErrorKindFatalExchange},
	core.ErrorRule{Code: "400005", Kind: core.ErrorKindFatalExchange},
	core.ErrorRule{Code: "400006", Kind: core.ErrorKindFatalExchange},
	core.ErrorRule{Code: "400007", Kind: core.ErrorKindFatalExchange},
	core.ErrorRule{Code: "900001", Kind: core.ErrorKindUnknownPair},
	core.ErrorRule{Code: "200004", Kind: core.ErrorKindFatalExchange},
	core.ErrorRule{Code: "400100", Contains: "clientOid", Kind: core.ErrorKindDuplicateOrder},
	core.ErrorRule{Code: "400100", Contains: "not exist", Kind: core.ErrorKindOrderNotFound},
	core.ErrorRule{Code: "400100", Contains: "not_exist", Kind: core.ErrorKindOrderNotFound},
	core.ErrorRule{Code: "400100", Kind: core.ErrorKindFatalExchange},
)

// Protocol implements the core.Protocol interface for KuCoin spot.
type Protocol struct {
	symbols    *core.SymbolTable
	normalizer *Normalizer
	streamURL  string
	requestID  atomic.Int64
}

// NewProtocol creates a KuCoin protocol for the pairs in config. A configured
// StreamURL replaces the endpoint KuCoin hands out with the token.
func NewProtocol(config *core.Config) *Protocol {
	pairs := config.Pairs
	if len(pairs) == 0 {
		pairs = core.DefaultPairs()
	}
	symbols := core.NewSymbolTable(Name, pairs, formatSymbol)
	return &Protocol{
		symbols:    symbols,
		normalizer: NewNormalizer(symbols),
		streamURL:  config.StreamURL,
	}
}

func (p *Protocol) Name() string {
	return Name
}

func (p *Protocol) BaseURL(sandbox bool) string {
	if sandbox {
		return SandboxURL
	}
	return ProductionURL
}

func (p *Protocol) Symbols() *core.SymbolTable {
	return p.symbols
}

// Capabilities reports that KuCoin deduplicates clientOid, can look orders up
// by it, and cancels by order id alone.
func (p *Protocol) Capabilities() core.Capabilities {
	return core.Capabilities{
		NativeIdempotency:  true,
		CancelRequiresPair: false,
		LookupByClientID:   true,
	}
}

func (p *Protocol) RateLimits() core.RateLimitConfig {
	return core.RateLimitConfig{
		RequestsPerSecond: 30,
		OrdersPerSecond:   15,
		Burst:             30,
	}
}

func (p *Protocol) BuildRequest(op core.Operation, params core.Params) (*core.Request, error) {
	switch op {
	case core.OpGetTicker:
		symbol, err := p.symbols.ToNative(params.Pair())
		if err != nil {
			return nil, err
		}
		return core.NewRequest(http.MethodGet, "/api/v1/market/orderbook/level1").
			SetQuery("symbol", symbol), nil

	case core.OpPlaceOrder:
		return p.buildPlaceOrderRequest(params)

	case core.OpCancelOrder:
		orderID, err := params.RequiredString(core.ParamOrderID)
		if err != nil {
			return nil, err
		}
		return core.NewRequest(http.MethodDelete, "/api/v1/orders/"+url.PathEscape(orderID)).
			SetRequireAuth(true).
			SetIdempotent(true).
			SetBucket(core.BucketOrders), nil

	case core.OpGetOrder:
		path := ""
		if orderID := params.Str(core.ParamOrderID); orderID != "" {
			path = "/api/v1/orders/" + url.PathEscape(orderID)
		} else if clientOrderID := params.Str(core.ParamClientOrderID); clientOrderID != "" {
			path = "/api/v1/order/client-order/" + url.PathEscape(clientOrderID)
		} else {
			return nil, fmt.Errorf("missing required parameter: %s or %s", core.ParamOrderID, core.ParamClientOrderID)
		}
		return core.NewRequest(http.MethodGet, path).SetRequireAuth(true), nil

	case core.OpStreamToken:
		return core.NewRequest(http.MethodPost, "/api/v1/bullet-public").SetIdempotent(true), nil
	}
	return nil, core.Errorf(Name, core.ErrorKindFatalExchange, "unsupported operation: %s", op).
		WithCode(core.ErrCodeUnsupported)
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

	payload := kucoinOrderRequest{
		ClientOid: order.ClientOrderID,
		Side:      strings.ToLower(order.Side.String()),
		Symbol:    symbol,
		Type:      strings.ToLower(order.Type.String()),
		Size:      order.Quantity.Text('f'),
	}
	if order.Type == core.TypeLimit {
		payload.Price = order.Price.Text('f')
	}
	// The body is signed, so it is encoded once here and sent verbatim.
	body, err := sonic.MarshalString(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal order: %w", err)
	}

	return core.NewRequest(http.MethodPost, "/api/v1/orders").
		SetBody(body).
		SetRequireAuth(true).
		SetIdempotent(true).
		SetBucket(core.BucketOrders), nil
}

func (p *Protocol) ParseResponse(op core.Operation, resp *core.Response) (any, error) {
	switch op {
	case core.OpGetTicker:
		data, err := decodeData[kucoinTicker](resp.Body)
		if err != nil {
			return nil, err
		}
		return p.normalizer.NormalizeTicker(data), nil

	case core.OpPlaceOrder:
		data, err := decodeData[kucoinPlaced](resp.Body)
		if err != nil {
			return nil, err
		}
		return &core.OrderResult{ExchangeOrderID: data.OrderID, Status: core.StatusPending}, nil

	case core.OpCancelOrder:
		data, err := decodeData[kucoinCanceled](resp.Body)
		if err != nil {
			return nil, err
		}
		if len(data.CancelledOrderIDs) == 0 {
			return nil, core.Errorf(Name, core.ErrorKindOrderNotFound, "no order was canceled").
				WithCode(core.ErrCodeNotFound).
				WithRaw(resp.Body)
		}
		return &core.OrderResult{ExchangeOrderID: data.CancelledOrderIDs[0], Status: core.StatusCanceled}, nil

	case core.OpGetOrder:
		data, err := decodeData[kucoinOrder](resp.Body)
		if err != nil {
			return nil, err
		}
		return p.normalizer.NormalizeOrder(data)
	}
	return nil, fmt.Errorf("unsupported operation: %s", op)
}

func decodeData[T any](body []byte) (*T, error) {
	var env envelope[T]
	if err := sonic.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &env.Data, nil
}

// SignRequest adds the KC-API headers. The signature covers timestamp, method,
// path with query, and body. The passphrase is itself signed (key version 2).
func (p *Protocol) SignRequest(req *core.Request, creds core.Credentials, now time.Time) error {
	if creds.SecretKey == "" || creds.Passphrase == "" {
		return fmt.Errorf("secret key and passphrase are required for signing")
	}

	ts := strconv.FormatInt(now.UnixMilli(), 10)
	body, _ := req.Body.(string)
	prehash := ts + req.Method + req.URI() + body

	req.SetHeader("KC-API-KEY", creds.APIKey)
	req.SetHeader("KC-API-SIGN", signHMAC(prehash, creds.SecretKey))
	req.SetHeader("KC-API-TIMESTAMP", ts)
	req.SetHeader("KC-API-PASSPHRASE", signHMAC(creds.Passphrase, creds.SecretKey))
	req.SetHeader("KC-API-KEY-VERSION", "2")
	req.SetHeader("Content-Type", "application/json")
	return nil
}

// DecodeError reads the envelope code. KuCoin reports some failures with status 200.
func (p *Protocol) DecodeError(resp *core.Response) *core.ExchangeError {
	var env envelope[struct{}]
	if err := sonic.Unmarshal(resp.Body, &env); err != nil || env.Code == "" || env.Code == codeSuccess {
		return nil
	}
	return errorTable.Error(resp.StatusCode, env.Code, env.Msg, resp.Body)
}

// TradeStream fetches a public bullet token and builds the /market/match subscription.
func (p *Protocol) TradeStream(ctx context.Context, pair core.Pair, send core.SendFunc) (*core.StreamEndpoint, error) {
	symbol, err := p.symbols.ToNative(pair)
	if err != nil {
		return nil, err
	}
	req, err := p.BuildRequest(core.OpStreamToken, nil)
	if err != nil {
		return nil, err
	}
	resp, err := send(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("fetch stream token: %w", err)
	}
	bullet, err := decodeData[kucoinBullet](resp.Body)
	if err != nil {
		return nil, core.Errorf(Name, core.ErrorKindTransientNetwork, "decode stream token: %v", err).
			WithCode(core.ErrCodeDecode).
			WithCause(err)
	}
	if bullet.Token == "" || len(bullet.InstanceServers) == 0 {
		return nil, core.Errorf(Name, core.ErrorKindTransientNetwork, "stream token response has no server").
			WithCode(core.ErrCodeDecode).
			WithRaw(resp.Body)
	}

	server := bullet.InstanceServers[0]
	endpoint := server.Endpoint
	if p.streamURL != "" {
		endpoint = p.streamURL
	}
	connectID := p.nextID()

	subscribe, err := sonic.Marshal(map[string]any{
		"id":             connectID,
		"type":           "subscribe",
		"topic":          "/market/match:" + symbol,
		"privateChannel": false,
		"response":       true,
	})
	if err != nil {
		return nil, err
	}

	return &core.StreamEndpoint{
		URL:          endpoint + "?token=" + url.QueryEscape(bullet.Token) + "&connectId=" + connectID,
		Subscribe:    [][]byte{subscribe},
		PingInterval: time.Duration(server.PingInterval) * time.Millisecond,
		PingMessage: func() []byte {
			return []byte(`{"id":"` + p.nextID() + `","type":"ping"}`)
		},
	}, nil
}

// ParseTradeEvents decodes one stream message. Welcome, ack and pong frames yield nothing.
func (p *Protocol) ParseTradeEvents(data []byte) ([]core.TradeEvent, error) {
	var msg kucoinStreamMessage
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal stream message: %w", err)
	}
	switch msg.Type {
	case "message":
	case "error":
		return nil, fmt.Errorf("stream error: %s", string(data))
	default:
		return nil, nil
	}
	if !strings.HasPrefix(msg.Topic, "/market/match:") {
		return nil, nil
	}
	event, err := p.normalizer.NormalizeMatch(&msg.Data)
	if err != nil {
		return nil, err
	}
	return []core.TradeEvent{event}, nil
}

func (p *Protocol) nextID() string {
	return strconv.FormatInt(p.requestID.Add(1), 10)
}

func signHMAC(message, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
