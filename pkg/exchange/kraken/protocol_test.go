package kraken

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/apd/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exgate/pkg/core"
	"exgate/pkg/exchange"
)

var (
	btcUSDT = core.MustParsePair("BTC/USDT")
	btcUSD  = core.MustParsePair("BTC/USD")
	ethBTC  = core.MustParsePair("ETH/BTC")
)

func newTestProtocol() *Protocol {
	return NewProtocol(core.DefaultConfig(Name).WithPairs(btcUSD, btcUSDT, ethBTC, core.MustParsePair("DOGE/USD")))
}

func TestProtocol_Symbols(t *testing.T) {
	p := newTestProtocol()

	tests := []struct {
		pair   core.Pair
		native string
	}{
		{btcUSD, "XBTUSD"},
		{btcUSDT, "XBTUSDT"},
		{ethBTC, "ETHXBT"},
		{core.MustParsePair("DOGE/USD"), "XDGUSD"},
	}
	for _, tt := range tests {
		t.Run(tt.pair.String(), func(t *testing.T) {
			native, err := p.Symbols().ToNative(tt.pair)
			require.NoError(t, err)
			assert.Equal(t, tt.native, native)

			pair, err := p.Symbols().ToCanonical(tt.native)
			require.NoError(t, err)
			assert.Equal(t, tt.pair, pair)

			pair, err = p.Symbols().ToCanonical(tt.pair.String())
			require.NoError(t, err)
			assert.Equal(t, tt.pair, pair)
		})
	}

	for native, want := range map[string]core.Pair{"XXBTZUSD": btcUSD, "XETHXXBT": ethBTC, "XXDGZUSD": core.MustParsePair("DOGE/USD")} {
		pair, err := p.Symbols().ToCanonical(native)
		require.NoError(t, err, native)
		assert.Equal(t, want, pair)
	}

	_, err := p.Symbols().ToNative(core.MustParsePair("SOL/EUR"))
	assert.True(t, core.IsKind(err, core.ErrorKindUnknownPair))
}

func TestProtocol_BuildRequests(t *testing.T) {
	p := newTestProtocol()

	ticker, err := p.BuildRequest(core.OpGetTicker, core.Params{core.ParamPair: btcUSD})
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, ticker.Method)
	assert.Equal(t, "/0/public/Ticker", ticker.Path)
	assert.Equal(t, "XBTUSD", ticker.Query.Get("pair"))
	assert.False(t, ticker.RequireAuth)

	order := &exchange.OrderRequest{Pair: btcUSD, Side: core.SideBuy, Type: core.TypeLimit, ClientOrderID: "cid"}
	order.Quantity.Set(apd.New(125, -2))
	order.Price.Set(apd.New(37500, 0))

	add, err := p.BuildRequest(core.OpPlaceOrder, core.Params{core.ParamOrder: order})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, add.Method)
	assert.Equal(t, "/0/private/AddOrder", add.Path)
	assert.Equal(t, "cl_ord_id=cid&ordertype=limit&pair=XBTUSD&price=37500&type=buy&volume=1.25", add.Form.Encode())
	assert.True(t, add.RequireAuth)
	assert.False(t, add.Idempotent)
	assert.Equal(t, core.BucketOrders, add.Bucket)

	order.Type = core.TypeMarket
	add, err = p.BuildRequest(core.OpPlaceOrder, core.Params{core.ParamOrder: order})
	require.NoError(t, err)
	assert.False(t, add.Form.Has("price"))

	cancel, err := p.BuildRequest(core.OpCancelOrder, core.Params{core.ParamOrderID: "OABC"})
	require.NoError(t, err)
	assert.Equal(t, "/0/private/CancelOrder", cancel.Path)
	assert.Equal(t, "OABC", cancel.Form.Get("txid"))
	assert.True(t, cancel.Idempotent)

	query, err := p.BuildRequest(core.OpGetOrder, core.Params{core.ParamOrderID: "OABC"})
	require.NoError(t, err)
	assert.Equal(t, "/0/private/QueryOrders", query.Path)
	assert.Equal(t, "txid=OABC", query.Form.Encode())
	assert.True(t, query.Idempotent)

	byClientID, err := p.BuildRequest(core.OpGetOrder, core.Params{core.ParamClientOrderID: "cid"})
	require.NoError(t, err)
	assert.Equal(t, "cl_ord_id=cid", byClientID.Form.Encode())
	assert.True(t, p.Capabilities().LookupByClientID)

	_, err = p.BuildRequest(core.OpGetOrder, core.Params{})
	assert.Error(t, err)

	_, err = p.BuildRequest(core.OpStreamToken, nil)
	assert.True(t, core.IsErrorCode(err, core.ErrCodeUnsupported))
}

func TestProtocol_SignRequest(t *testing.T) {
	// Reference vector from Kraken's REST authentication guide.
	req := core.NewRequest(http.MethodPost, "/0/private/AddOrder").
		SetForm("ordertype", "limit").
		SetForm("pair", "XBTUSD").
		SetForm("price", "37500").
		SetForm("type", "buy").
		SetForm("volume", "1.25")
	creds := core.NewCredentials("key",
		"kQH5HW/8p1uGOVjbgWA7FunAmGO8lsSUXNsu3eow76sz84Q18fWxnyRzBHCd3pd5nE9qa99HAZtuZuj6F1huXg==", "")

	err := newTestProtocol().SignRequest(req, creds, time.UnixMilli(1616492376594))
	require.NoError(t, err)

	assert.Equal(t, "1616492376594", req.Form.Get("nonce"))
	assert.Equal(t, "key", req.Headers["API-Key"])
	assert.Equal(t, "4/dpxb3iT4tp/ZCVEwSnEsLxx0bqyhLpdfOpc6fn7OR8+UClSV5n9E6aSS8MPtnRfp32bAb0nmbRn6H8ndwLUQ==", req.Headers["API-Sign"])
}

func TestProtocol_SignRequestNonceIncreases(t *testing.T) {
	p := newTestProtocol()
	creds := core.NewCredentials("key", "c2VjcmV0", "")
	now := time.UnixMilli(1700000000000)

	var nonces []string
	for range 3 {
		req := core.NewRequest(http.MethodPost, "/0/private/QueryOrders").SetForm("txid", "OABC")
		require.NoError(t, p.SignRequest(req, creds, now))
		nonces = append(nonces, req.Form.Get("nonce"))
	}
	assert.Equal(t, []string{"1700000000000", "1700000000001", "1700000000002"}, nonces)

	err := p.SignRequest(core.NewRequest(http.MethodPost, "/0/private/AddOrder"), core.NewCredentials("key", "not base64!", ""), now)
	assert.Error(t, err)
}

func TestProtocol_DecodeError(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		kind  core.ErrorKind
		isNil bool
	}{
		{name: "success", body: `{"error":[],"result":{}}`, isNil: true},
		{name: "not_json", body: `<html>`, isNil: true},
		{name: "rate_limit", body: `{"error":["EAPI:Rate limit exceeded"]}`, kind: core.ErrorKindRateLimitExceeded},
		{name: "lockout", body: `{"error":["EGeneral:Temporary lockout"]}`, kind: core.ErrorKindRateLimitExceeded},
		{name: "busy", body: `{"error":["EService:Busy"]}`, kind: core.ErrorKindTransientNetwork},
		{name: "unavailable", body: `{"error":["EService:Unavailable"]}`, kind: core.ErrorKindTransientNetwork},
		{name: "invalid_key", body: `{"error":["EAPI:Invalid key"]}`, kind: core.ErrorKindFatalExchange},
		{name: "unknown_pair", body: `{"error":["EQuery:Unknown asset pair"]}`, kind: core.ErrorKindUnknownPair},
		{name: "unknown_order", body: `{"error":["EOrder:Unknown order"]}`, kind: core.ErrorKindOrderNotFound},
		{name: "invalid_argument", body: `{"error":["EGeneral:Invalid arguments:volume"]}`, kind: core.ErrorKindFatalExchange},
		{name: "funds", body: `{"error":["EOrder:Insufficient funds"]}`, kind: core.ErrorKindFatalExchange},
		{name: "unmapped", body: `{"error":["EFuture:Something new"]}`, kind: core.ErrorKindUnknown},
	}

	p := newTestProtocol()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.DecodeError(&core.Response{StatusCode: http.StatusOK, Body: []byte(tt.body)})
			if tt.isNil {
				assert.Nil(t, err)
				return
			}
			require.NotNil(t, err)
			assert.Equal(t, tt.kind, err.Kind)
			assert.Equal(t, Name, err.Exchange)
		})
	}
}

func TestProtocol_ParseTicker(t *testing.T) {
	body := `{"error":[],"result":{"XXBTZUSD":{"a":["42000.20000","1","1.000"],"b":["42000.00000","2","2.000"],` +
		`"c":["42000.10000","0.01000000"],"v":["1","2"]}}}`

	result, err := newTestProtocol().ParseResponse(core.OpGetTicker, &core.Response{StatusCode: 200, Body: []byte(body)})
	require.NoError(t, err)

	ticker := result.(*core.Ticker)
	assert.Equal(t, btcUSD, ticker.Pair)
	assert.Equal(t, "42000.00000", ticker.Bid.String())
	assert.Equal(t, "42000.20000", ticker.Ask.String())
	assert.Equal(t, "42000.10000", ticker.Last.String())

	_, err = newTestProtocol().ParseResponse(core.OpGetTicker, &core.Response{StatusCode: 200, Body: []byte(`{"error":[],"result":{"XXBTZUSD":{"a":[]}}}`)})
	assert.Error(t, err)
}

func TestProtocol_ParseOrder(t *testing.T) {
	tests := []struct {
		status  string
		volExec string
		cost    string
		want    core.OrderStatus
		average string
	}{
		{"pending", "0", "0", core.StatusPending, "0"},
		{"open", "0", "0", core.StatusPending, "0"},
		{"open", "0.5", "18750", core.StatusPartial, "37500"},
		{"closed", "1.25", "46875", core.StatusFilled, "37500"},
		{"canceled", "0.5", "18750", core.StatusCanceled, "37500"},
		{"expired", "0", "0", core.StatusCanceled, "0"},
		{"suspended", "0", "0", core.StatusPending, "0"},
	}

	p := newTestProtocol()
	for _, tt := range tests {
		t.Run(tt.status+"_"+tt.volExec, func(t *testing.T) {
			body := `{"error":[],"result":{"OQCLML-BW3P3-BUCMWZ":{"cl_ord_id":"cid-7","status":"` + tt.status + `","opentm":1616666559.8974,"closetm":0,` +
				`"descr":{"pair":"XBTUSD","type":"buy","ordertype":"limit","price":"37500.0"},` +
				`"vol":"1.25000000","vol_exec":"` + tt.volExec + `","cost":"` + tt.cost + `"}}}`

			result, err := p.ParseResponse(core.OpGetOrder, &core.Response{StatusCode: 200, Body: []byte(body)})
			require.NoError(t, err)

			order := result.(*core.OrderResult)
			assert.Equal(t, tt.want, order.Status)
			assert.Equal(t, "OQCLML-BW3P3-BUCMWZ", order.ExchangeOrderID)
			assert.Equal(t, "cid-7", order.ClientOrderID)
			assert.Equal(t, btcUSD, order.Pair)
			assert.Equal(t, core.TypeLimit, order.Type)
			assert.Equal(t, "37500.0", order.Price.String())
			assert.Equal(t, "1.25000000", order.Quantity.String())
			assert.Equal(t, tt.average, order.AveragePrice.String())
			assert.Equal(t, time.Date(2021, 3, 25, 10, 2, 39, 897400000, time.UTC), order.UpdatedAt)
		})
	}

	_, err := p.ParseResponse(core.OpGetOrder, &core.Response{StatusCode: 200, Body: []byte(`{"error":[],"result":{}}`)})
	assert.True(t, core.IsKind(err, core.ErrorKindOrderNotFound))
}

func TestProtocol_ParsePlaceAndCancel(t *testing.T) {
	p := newTestProtocol()

	placed, err := p.ParseResponse(core.OpPlaceOrder, &core.Response{StatusCode: 200,
		Body: []byte(`{"error":[],"result":{"descr":{"order":"buy 1.25 XBTUSD @ limit 37500.0"},"txid":["OUF4EM-FRGI2-MQMWZD"]}}`)})
	require.NoError(t, err)
	assert.Equal(t, "OUF4EM-FRGI2-MQMWZD", placed.(*core.OrderResult).ExchangeOrderID)

	_, err = p.ParseResponse(core.OpPlaceOrder, &core.Response{StatusCode: 200, Body: []byte(`{"error":[],"result":{"txid":[]}}`)})
	assert.Error(t, err)

	canceled, err := p.ParseResponse(core.OpCancelOrder, &core.Response{StatusCode: 200, Body: []byte(`{"error":[],"result":{"count":1}}`)})
	require.NoError(t, err)
	assert.Equal(t, core.StatusCanceled, canceled.(*core.OrderResult).Status)

	_, err = p.ParseResponse(core.OpCancelOrder, &core.Response{StatusCode: 200, Body: []byte(`{"error":[],"result":{"count":0}}`)})
	assert.True(t, core.IsKind(err, core.ErrorKindOrderNotFound))
}

func TestProtocol_TradeStream(t *testing.T) {
	p := newTestProtocol()

	endpoint, err := p.TradeStream(context.Background(), btcUSD, nil)
	require.NoError(t, err)
	assert.Equal(t, ProductionStreamURL, endpoint.URL)
	require.Len(t, endpoint.Subscribe, 1)

	var sub struct {
		Method string `json:"method"`
		Params struct {
			Channel  string   `json:"channel"`
			Symbol   []string `json:"symbol"`
			Snapshot bool     `json:"snapshot"`
		} `json:"params"`
	}
	require.NoError(t, sonic.Unmarshal(endpoint.Subscribe[0], &sub))
	assert.Equal(t, "subscribe", sub.Method)
	assert.Equal(t, "trade", sub.Params.Channel)
	assert.Equal(t, []string{"BTC/USD"}, sub.Params.Symbol)
	assert.False(t, sub.Params.Snapshot)

	assert.Contains(t, string(endpoint.PingMessage()), `"method":"ping"`)

	_, err = p.TradeStream(context.Background(), core.MustParsePair("SOL/EUR"), nil)
	assert.True(t, core.IsKind(err, core.ErrorKindUnknownPair))
}

func TestProtocol_ParseTradeEvents(t *testing.T) {
	p := newTestProtocol()

	for _, control := range []string{
		`{"channel":"heartbeat"}`,
		`{"channel":"status","type":"update","data":[{"api_version":"v2","system":"online"}]}`,
		`{"method":"subscribe","result":{"channel":"trade","symbol":"BTC/USD"},"success":true,"req_id":1}`,
		`{"method":"pong","req_id":2}`,
	} {
		events, err := p.ParseTradeEvents([]byte(control))
		require.NoError(t, err, control)
		assert.Empty(t, events, control)
	}

	events, err := p.ParseTradeEvents([]byte(`{"channel":"trade","type":"update","data":[` +
		`{"symbol":"BTC/USD","side":"sell","price":42000.5,"qty":0.00125,"ord_type":"market","trade_id":4665906,"timestamp":"2023-09-25T07:49:37.708706Z"},` +
		`{"symbol":"BTC/USD","side":"buy","price":42001,"qty":1,"ord_type":"limit","trade_id":4665907,"timestamp":"2023-09-25T07:49:38Z"}]}`))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, btcUSD, events[0].Pair)
	assert.Equal(t, core.SideSell, events[0].Side)
	assert.Equal(t, "42000.5", events[0].Price.String())
	assert.Equal(t, "0.00125", events[0].Quantity.String())
	assert.Equal(t, "4665906", events[0].TradeID)
	assert.Equal(t, time.Date(2023, 9, 25, 7, 49, 37, 708706000, time.UTC), events[0].Timestamp)
	assert.Equal(t, core.SideBuy, events[1].Side)

	_, err = p.ParseTradeEvents([]byte(`{"method":"subscribe","success":false,"error":"Currency pair not supported"}`))
	assert.Error(t, err)

	_, err = p.ParseTradeEvents([]byte(`{"channel":"trade","type":"update","data":[{"symbol":"FOO/BAR","price":1,"qty":1,"timestamp":"2023-09-25T07:49:38Z"}]}`))
	assert.True(t, core.IsKind(err, core.ErrorKindUnknownPair))
}
