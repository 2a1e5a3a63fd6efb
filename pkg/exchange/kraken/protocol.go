package kraken

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"

	"exgate/pkg/core"
	"exgate/pkg/exchange"
)

// Name is the registry identifier of the exchange.
const Name = "kraken"

// Kraken has no public spot sandbox; sandbox mode uses the production endpoints.
const (
	ProductionURL       = "https://api.kraken.com"
	ProductionStreamURL = "wss://ws.kraken.com/v2"
)

var errorTable = core.NewErrorTable(Name,
	core.ErrorRule{Contains: "EAPI:Rate limit exceeded", Kind: core.ErrorKindRateLimitExceeded},
	core.ErrorRule{Contains: "EOrder:Rate limit exceeded", Kind: core.ErrorKindRateLimitExceeded},
	core.ErrorRule{Contains: "EGeneral:Temporary lockout", Kind: core.ErrorKindRateLimitExceeded},
	core.ErrorRule{Contains: "EService:Unavailable", Kind: core.ErrorKindTransientNetwork},
	core.ErrorRule{Contains: "EService:Busy", Kind: core.ErrorKindTransientNetwork},
	core.ErrorRule{Contains: "EService:Deadline elapsed", Kind: core.ErrorKindTransientNetwork},
	core.ErrorRule{Contains: "EAPI:Invalid nonce", Kind: core.ErrorKindTransientNetwork},
	core.ErrorRule{Contains: "EQuery:Unknown asset pair", Kind: core.ErrorKindUnknownPair},
	core.ErrorRule{Contains: "EOrder:Unknown order", Kind: core.ErrorKindOrderNotFound},
	core.ErrorRule{Contains: "EOrder:Invalid order", Kind: core.ErrorKindOrderNotFound},
	core.ErrorRule{Contains: "EAPI:Invalid key", Kind: core.ErrorKindFatalExchange},
	core.ErrorRule{Contains: "EAPI:Invalid signature", Kind: core.ErrorKindFatalExchange},
	core.ErrorRule{Contains: "EGeneral:Permission denied", Kind: core.ErrorKindFatalExchange},
	core.ErrorRule{Contains: "EGeneral:Invalid arguments", Kind: core.ErrorKindFatalExchange},
	core.ErrorRule{Contains: "EOrder:Insufficient funds", Kind: core.ErrorKindFatalExchange},
	core.ErrorRule{Contains: "EOrder:Order minimum not met", Kind: core.ErrorKindFatalExchange},
)

// Assets Kraken renames on REST.
var assetNames = map[string]string{
	"BTC":  "XBT",
	"DOGE": "XDG",
}

// Assets that carry an X or Z prefix in Kraken's legacy pair names.
var (
	legacyCrypto = map[string]bool{"XBT": true, "ETH": true, "LTC": true, "XRP": true, "XLM": true,
		"ETC": true, "XMR": true, "ZEC": true, "XDG": true, "MLN": true, "REP": true}
	legacyFiat = map[string]bool{"USD": true, "EUR": true, "GBP": true, "JPY": true, "CAD": true}
)

// Protocol implements the core.Protocol interface for Kraken spot.
type Protocol struct {
	symbols    *core.SymbolTable
	normalizer *Normalizer
	streamURL  string
	requestID  atomic.Int64

	nonceMu   sync.Mutex
	lastNonce int64
}

// NewProtocol creates a Kraken protocol for the pairs and endpoints in config.
func NewProtocol(config *core.Config) *Protocol {
	pairs := config.Pairs
	if len(pairs) == 0 {
		pairs = core.DefaultPairs()
	}
	symbols := core.NewSymbolTable(Name, pairs, formatSymbol)
	for _, p := range pairs {
		symbols.Alias(p.String(), p)
		if legacy := legacySymbol(p); legacy != "" {
			symbols.Alias(legacy, p)
		}
	}

	streamURL := config.StreamURL
	if streamURL == "" {
		streamURL = ProductionStreamURL
	}

	return &Protocol{
		symbols:    symbols,
		normalizer: NewNormalizer(symbols),
		streamURL:  streamURL,
	}
}

func (p *Protocol) Name() string {
	return Name
}

func (p *Protocol) BaseURL(bool) string {
	return ProductionURL
}

func (p *Protocol) Symbols() *core.SymbolTable {
	return p.symbols
}

// Capabilities reports that Kraken does not reject a repeated cl_ord_id on
// its own, but QueryOrders finds an order by it. Cancels take the txid.
func (p *Protocol) Capabilities() core.Capabilities {
	return core.Capabilities{LookupByClientID: true}
}

func (p *Protocol) RateLimits() core.RateLimitConfig {
	return core.RateLimitConfig{
		RequestsPerSecond: 10,
		OrdersPerSecond:   5,
		Burst:             15,
	}
}

func (p *Protocol) BuildRequest(op core.Operation, params core.Params) (*core.Request, error) {
	switch op {
	case core.OpGetTicker:
		symbol, err := p.symbols.ToNative(params.Pair())
		if err != nil {
			return nil, err
		}
		return core.NewRequest(http.MethodGet, "/0/public/Ticker").SetQuery("pair", symbol), nil

	case core.OpPlaceOrder:
		return p.buildAddOrderRequest(params)

	case core.OpCancelOrder:
		txid, err := params.RequiredString(core.ParamOrderID)
		if err != nil {
			return nil, err
		}
		return core.NewRequest(http.MethodPost, "/0/private/CancelOrder").
			SetForm("txid", txid).
			SetRequireAuth(true).
			SetIdempotent(true).
			SetBucket(core.BucketOrders), nil

	case core.OpGetOrder:
		req := core.NewRequest(http.MethodPost, "/0/private/QueryOrders").
			SetRequireAuth(true).
			SetIdempotent(true)
		if txid := params.Str(core.ParamOrderID); txid != "" {
			return req.SetForm("txid", txid), nil
		}
		cid, err := params.RequiredString(core.ParamClientOrderID)
		if err != nil {
			return nil, err
		}
		return req.SetForm("cl_ord_id", cid), nil
	}
	return nil, core.Errorf(Name, core.ErrorKindFatalExchange, "unsupported operation: %s", op).
		WithCode(core.ErrCodeUnsupported)
}

func (p *Protocol) buildAddOrderRequest(params core.Params) (*core.Request, error) {
	order, ok := params[core.ParamOrder].(*exchange.OrderRequest)
	if !ok {
		return nil, fmt.Errorf("missing required parameter: %s", core.ParamOrder)
	}
	symbol, err := p.symbols.ToNative(order.Pair)
	if err != nil {
		return nil, err
	}

	req := core.NewRequest(http.MethodPost, "/0/private/AddOrder").
		SetForm("pair", symbol).
		SetForm("type", strings.ToLower(order.Side.String())).
		SetForm("ordertype", strings.ToLower(order.Type.String())).
		SetForm("volume", order.Quantity.Text('f')).
		SetForm("cl_ord_id", order.ClientOrderID).
		SetRequireAuth(true).
		SetIdempotent(false).
		SetBucket(core.BucketOrders)
	if order.Type == core.TypeLimit {
		req.SetForm("price", order.Price.Text('f'))
	}
	return req, nil
}

func (p *Protocol) ParseResponse(op core.Operation, resp *core.Response) (any, error) {
	switch op {
	case core.OpGetTicker:
		result, err := decodeResult[map[string]krakenTicker](resp.Body)
		if err != nil {
			return nil, err
		}
		for key, ticker := range result {
			return p.normalizer.NormalizeTicker(key, &ticker)
		}
		return nil, fmt.Errorf("ticker response has no entries")

	case core.OpPlaceOrder:
		result, err := decodeResult[krakenAddOrder](resp.Body)
		if err != nil {
			return nil, err
		}
		if len(result.TxID) == 0 {
			return nil, fmt.Errorf("order response has no txid")
		}
		return &core.OrderResult{ExchangeOrderID: result.TxID[0], Status: core.StatusPending}, nil

	case core.OpCancelOrder:
		result, err := decodeResult[krakenCancel](resp.Body)
		if err != nil {
			return nil, err
		}
		if result.Count == 0 {
			return nil, core.Errorf(Name, core.ErrorKindOrderNotFound, "no order was canceled").
				WithCode(core.ErrCodeNotFound).
				WithRaw(resp.Body)
		}
		return &core.OrderResult{Status: core.StatusCanceled}, nil

	case core.OpGetOrder:
		result, err := decodeResult[map[string]krakenOrder](resp.Body)
		if err != nil {
			return nil, err
		}
		for txid, order := range result {
			return p.normalizer.NormalizeOrder(txid, &order)
		}
		return nil, core.Errorf(Name, core.ErrorKindOrderNotFound, "order not found").
			WithCode(core.ErrCodeNotFound).
			WithRaw(resp.Body)
	}
	return nil, fmt.Errorf("unsupported operation: %s", op)
}

func decodeResult[T any](body []byte) (T, error) {
	var resp krakenResponse[T]
	if err := sonic.Unmarshal(body, &resp); err != nil {
		return resp.Result, fmt.Errorf("unmarshal response: %w", err)
	}
	return resp.Result, nil
}

// SignRequest adds a fresh nonce to the form and signs path + SHA256(nonce + form)
// with the base64-decoded secret.
func (p *Protocol) SignRequest(req *core.Request, creds core.Credentials, now time.Time) error {
	if creds.SecretKey == "" {
		return fmt.Errorf("secret key is required for signing")
	}
	secret, err := base64.StdEncoding.DecodeString(creds.SecretKey)
	if err != nil {
		return fmt.Errorf("decode secret key: %w", err)
	}

	nonce := strconv.FormatInt(p.nextNonce(now), 10)
	req.SetForm("nonce", nonce)

	sum := sha256.Sum256([]byte(nonce + req.Form.Encode()))
	mac := hmac.New(sha512.New, secret)
	mac.Write([]byte(req.Path))
	mac.Write(sum[:])

	req.SetHeader("API-Key", creds.APIKey)
	req.SetHeader("API-Sign", base64.StdEncoding.EncodeToString(mac.Sum(nil)))
	return nil
}

// nextNonce returns a strictly increasing millisecond nonce.
func (p *Protocol) nextNonce(now time.Time) int64 {
	p.nonceMu.Lock()
	defer p.nonceMu.Unlock()
	nonce := max(now.UnixMilli(), p.lastNonce+1)
	p.lastNonce = nonce
	return nonce
}

// DecodeError reads the error array. Kraken reports most failures with status 200.
func (p *Protocol) DecodeError(resp *core.Response) *core.ExchangeError {
	var body krakenResponse[struct{}]
	if err := sonic.Unmarshal(resp.Body, &body); err != nil || len(body.Error) == 0 {
		return nil
	}
	return errorTable.Error(resp.StatusCode, body.Error[0], strings.Join(body.Error, "; "), resp.Body)
}

// TradeStream subscribes to the v2 trade channel. Kraken expects application pings.
func (p *Protocol) TradeStream(_ context.Context, pair core.Pair, _ core.SendFunc) (*core.StreamEndpoint, error) {
	if !p.symbols.Contains(pair) {
		return nil, core.UnknownPairError(Name, pair.String())
	}
	subscribe, err := sonic.Marshal(map[string]any{
		"method": "subscribe",
		"params": map[string]any{
			"channel":  "trade",
			"symbol":   []string{pair.String()},
			"snapshot": false,
		},
		"req_id": p.requestID.Add(1),
	})
	if err != nil {
		return nil, err
	}
	return &core.StreamEndpoint{
		URL:       p.streamURL,
		Subscribe: [][]byte{subscribe},
		PingMessage: func() []byte {
			return []byte(`{"method":"ping","req_id":` + strconv.FormatInt(p.requestID.Add(1), 10) + `}`)
		},
	}, nil
}

// ParseTradeEvents decodes one v2 message. Heartbeats, status and acks yield nothing.
func (p *Protocol) ParseTradeEvents(data []byte) ([]core.TradeEvent, error) {
	var msg krakenStreamMessage
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal stream message: %w", err)
	}
	if msg.Success != nil && !*msg.Success {
		return nil, fmt.Errorf("%s failed: %s", msg.Method, msg.Error)
	}
	if msg.Channel != "trade" || (msg.Type != "update" && msg.Type != "snapshot") {
		return nil, nil
	}
	events := make([]core.TradeEvent, 0, len(msg.Data))
	for i := range msg.Data {
		event, err := p.normalizer.NormalizeTrade(&msg.Data[i])
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

func formatSymbol(p core.Pair) string {
	return asset(p.Base) + asset(p.Quote)
}

// legacySymbol returns Kraken's prefixed pair name, e.g. XXBTZUSD, or "".
func legacySymbol(p core.Pair) string {
	base, quote := asset(p.Base), asset(p.Quote)
	switch {
	case legacyCrypto[base] && legacyFiat[quote]:
		return "X" + base + "Z" + quote
	case legacyCrypto[base] && legacyCrypto[quote]:
		return "X" + base + "X" + quote
	}
	return ""
}

func asset(code string) string {
	if name, ok := assetNames[code]; ok {
		return name
	}
	return code
}
