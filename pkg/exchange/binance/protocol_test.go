package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"testing"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exgate/pkg/core"
	"exgate/pkg/exchange"
)

var btcUSDT = core.MustParsePair("BTC/USDT")

func newTestProtocol() *Protocol {
	return NewProtocol(core.DefaultConfig(Name))
}

func TestProtocol_Symbols(t *testing.T) {
	p := newTestProtocol()

	native, err := p.Symbols().ToNative(btcUSDT)
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", native)

	pair, err := p.Symbols().ToCanonical("ethbtc")
	require.NoError(t, err)
	assert.Equal(t, core.MustParsePair("ETH/BTC"), pair)

	_, err = p.Symbols().ToNative(core.MustParsePair("DOGE/EUR"))
	assert.True(t, core.IsKind(err, core.ErrorKindUnknownPair))
}

func TestProtocol_BuildTickerRequest(t *testing.T) {
	req, err := newTestProtocol().BuildRequest(core.OpGetTicker, core.Params{core.ParamPair: btcUSDT})
	require.NoError(t, err)

	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "/api/v3/ticker/24hr", req.Path)
	assert.Equal(t, "BTCUSDT", req.Query.Get("symbol"))
	assert.False(t, req.RequireAuth)
	assert.True(t, req.Idempotent)
}

func TestProtocol_BuildPlaceOrderRequest(t *testing.T) {
	order := &exchange.OrderRequest{
		Pair:          btcUSDT,
		Side:          core.SideSell,
		Type:          core.TypeLimit,
		ClientOrderID: "my-order-1",
	}
	order.Quantity.Set(apd.New(5, -1))
	order.Price.Set(apd.New(4200050, -2))

	req, err := newTestProtocol().BuildRequest(core.OpPlaceOrder, core.Params{core.ParamOrder: order})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/api/v3/order", req.Path)
	assert.Equal(t, "SELL", req.Query.Get("side"))
	assert.Equal(t, "LIMIT", req.Query.Get("type"))
	assert.Equal(t, "0.5", req.Query.Get("quantity"))
	assert.Equal(t, "42000.50", req.Query.Get("price"))
	assert.Equal(t, "GTC", req.Query.Get("timeInForce"))
	assert.Equal(t, "my-order-1", req.Query.Get("newClientOrderId"))
	assert.True(t, req.RequireAuth)
	assert.True(t, req.Idempotent)
	assert.Equal(t, core.BucketOrders, req.Bucket)

	order.Type = core.TypeMarket
	req, err = newTestProtocol().BuildRequest(core.OpPlaceOrder, core.Params{core.ParamOrder: order})
	require.NoError(t, err)
	assert.Empty(t, req.Query.Get("price"))
	assert.Empty(t, req.Query.Get("timeInForce"))
}

func TestProtocol_BuildGetOrderRequest(t *testing.T) {
	p := newTestProtocol()

	req, err := p.BuildRequest(core.OpGetOrder, core.Params{core.ParamPair: btcUSDT, core.ParamClientOrderID: "cid"})
	require.NoError(t, err)
	assert.Equal(t, "cid", req.Query.Get("origClientOrderId"))
	assert.Empty(t, req.Query.Get("orderId"))

	_, err = p.BuildRequest(core.OpGetOrder, core.Params{core.ParamPair: btcUSDT})
	assert.Error(t, err)

	_, err = p.BuildRequest(core.OpStreamToken, nil)
	assert.True(t, core.IsErrorCode(err, core.ErrCodeUnsupported))
}

func TestSignHMAC(t *testing.T) {
	// Example from the Binance API documentation.
	secret := "NhqPtmdSJYdKjVHjA7PZj4Mge3R5YNiP1e3UZjInClVN65XAbvqqM6A7H5fATj0j"
	query := "symbol=LTCBTC&side=BUY&type=LIMIT&timeInForce=GTC&quantity=1&price=0.1&recvWindow=5000&timestamp=1499827319559"
	assert.Equal(t, "c8db56825ae71d6d79447849e617115f4a920fa2acdcab2b053c4b2838bd6b71", signHMAC(query, secret))
}

func TestProtocol_SignRequest(t *testing.T) {
	req := core.NewRequest(http.MethodGet, "/api/v3/order").SetQuery("symbol", "BTCUSDT").SetQuery("orderId", "7")
	creds := core.NewCredentials("key", "secret", "")
	now := time.UnixMilli(1700000000000)

	require.NoError(t, newTestProtocol().SignRequest(req, creds, now))

	payload := "orderId=7&recvWindow=5000&symbol=BTCUSDT&timestamp=1700000000000"
	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte(payload))
	assert.Equal(t, payload+"&signature="+hex.EncodeToString(mac.Sum(nil)), req.RawQuery)
	assert.Equal(t, "key", req.Headers["X-MBX-APIKEY"])
	assert.Equal(t, "/api/v3/order?"+req.RawQuery, req.URI())

	assert.Error(t, newTestProtocol().SignRequest(req, core.Credentials{APIKey: "key"}, now))
}

func TestProtocol_DecodeError(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   core.ErrorKind
		code   string
	}{
		{"rate_limit", 429, `{"code":-1003,"msg":"Too many requests"}`, core.ErrorKindRateLimitExceeded, "-1003"},
		{"duplicate", 400, `{"code":-2010,"msg":"Duplicate order sent."}`, core.ErrorKindDuplicateOrder, "-2010"},
		{"insufficient_balance", 400, `{"code":-2010,"msg":"Account has insufficient balance for requested action."}`, core.ErrorKindFatalExchange, "-2010"},
		{"unknown_order", 400, `{"code":-2011,"msg":"Unknown order sent."}`, core.ErrorKindOrderNotFound, "-2011"},
		{"order_does_not_exist", 400, `{"code":-2013,"msg":"Order does not exist."}`, core.ErrorKindOrderNotFound, "-2013"},
		{"invalid_symbol", 400, `{"code":-1121,"msg":"Invalid symbol."}`, core.ErrorKindUnknownPair, "-1121"},
		{"bad_api_key", 401, `{"code":-2015,"msg":"Invalid API-key, IP, or permissions for action."}`, core.ErrorKindFatalExchange, "-2015"},
		{"timestamp_drift", 400, `{"code":-1021,"msg":"Timestamp for this request is outside of the recvWindow."}`, core.ErrorKindTransientNetwork, "-1021"},
		{"unmapped_on_server_error", 503, `{"code":-1099,"msg":"busy"}`, core.ErrorKindTransientNetwork, "-1099"},
		{"unmapped", 400, `{"code":-1100,"msg":"Illegal characters found in parameter."}`, core.ErrorKindUnknown, "-1100"},
	}

	p := newTestProtocol()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exErr := p.DecodeError(&core.Response{StatusCode: tt.status, Body: []byte(tt.body)})
			require.NotNil(t, exErr)
			assert.Equal(t, tt.kind, exErr.Kind)
			assert.Equal(t, tt.code, exErr.Code)
			assert.Equal(t, Name, exErr.Exchange)
			assert.Equal(t, tt.body, exErr.Raw)
		})
	}

	assert.Nil(t, p.DecodeError(&core.Response{StatusCode: 200, Body: []byte(`{}`)}))
	assert.Nil(t, p.DecodeError(&core.Response{StatusCode: 502, Body: []byte(`<html>bad gateway</html>`)}))
}

func TestProtocol_ParseTicker(t *testing.T) {
	body := `{"symbol":"BTCUSDT","lastPrice":"42000.10","bidPrice":"42000.00","askPrice":"42000.20","closeTime":1700000000000}`

	result, err := newTestProtocol().ParseResponse(core.OpGetTicker, &core.Response{StatusCode: 200, Body: []byte(body)})
	require.NoError(t, err)

	ticker := result.(*core.Ticker)
	assert.Equal(t, btcUSDT, ticker.Pair)
	assert.Equal(t, "42000.00", ticker.Bid.String())
	assert.Equal(t, "42000.20", ticker.Ask.String())
	assert.Equal(t, "42000.10", ticker.Last.String())
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), ticker.Timestamp)
}

func TestProtocol_ParseOrder(t *testing.T) {
	body := `{"symbol":"BTCUSDT","orderId":12345,"clientOrderId":"abc","price":"0.00","origQty":"2.00000000",
		"executedQty":"1.00000000","cummulativeQuoteQty":"42000.50","status":"PARTIALLY_FILLED","type":"MARKET",
		"side":"BUY","updateTime":1700000000000}`

	result, err := newTestProtocol().ParseResponse(core.OpGetOrder, &core.Response{StatusCode: 200, Body: []byte(body)})
	require.NoError(t, err)

	order := result.(*core.OrderResult)
	assert.Equal(t, "12345", order.ExchangeOrderID)
	assert.Equal(t, "abc", order.ClientOrderID)
	assert.Equal(t, btcUSDT, order.Pair)
	assert.Equal(t, core.StatusPartial, order.Status)
	assert.Equal(t, core.TypeMarket, order.Type)
	assert.Equal(t, "42000.5", order.AveragePrice.String())

	cancel := `{"symbol":"BTCUSDT","orderId":12345,"origClientOrderId":"abc","clientOrderId":"cancel-1","status":"CANCELED"}`
	result, err = newTestProtocol().ParseResponse(core.OpCancelOrder, &core.Response{StatusCode: 200, Body: []byte(cancel)})
	require.NoError(t, err)
	assert.Equal(t, "abc", result.(*core.OrderResult).ClientOrderID)
	assert.Equal(t, core.StatusCanceled, result.(*core.OrderResult).Status)
}

func TestParseOrderStatus(t *testing.T) {
	tests := map[string]core.OrderStatus{
		"NEW":              core.StatusPending,
		"PENDING_CANCEL":   core.StatusPending,
		"PARTIALLY_FILLED": core.StatusPartial,
		"FILLED":           core.StatusFilled,
		"CANCELED":         core.StatusCanceled,
		"EXPIRED":          core.StatusCanceled,
		"REJECTED":         core.StatusRejected,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseOrderStatus(in), in)
	}
}

func TestProtocol_TradeStream(t *testing.T) {
	endpoint, err := newTestProtocol().TradeStream(context.Background(), btcUSDT, nil)
	require.NoError(t, err)
	assert.Equal(t, ProductionStreamURL+"/ws/btcusdt@trade", endpoint.URL)
	assert.Empty(t, endpoint.Subscribe)

	sandbox := NewProtocol(core.DefaultConfig(Name).WithSandbox(true))
	endpoint, err = sandbox.TradeStream(context.Background(), btcUSDT, nil)
	require.NoError(t, err)
	assert.Equal(t, SandboxStreamURL+"/ws/btcusdt@trade", endpoint.URL)
}

func TestProtocol_ParseTradeEvents(t *testing.T) {
	p := newTestProtocol()

	events, err := p.ParseTradeEvents([]byte(`{"e":"trade","E":1700000000001,"s":"BTCUSDT","t":99,"p":"42000.01","q":"0.003","T":1700000000000,"m":true}`))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "99", events[0].TradeID)
	assert.Equal(t, btcUSDT, events[0].Pair)
	assert.Equal(t, core.SideSell, events[0].Side)
	assert.Equal(t, "42000.01", events[0].Price.String())
	assert.Equal(t, "0.003", events[0].Quantity.String())

	events, err = p.ParseTradeEvents([]byte(`{"result":null,"id":1}`))
	assert.NoError(t, err)
	assert.Empty(t, events)

	_, err = p.ParseTradeEvents([]byte(`not json`))
	assert.Error(t, err)
}
