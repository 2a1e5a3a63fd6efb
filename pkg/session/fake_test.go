package session

import (
	"context"
	"errors"
	"iter"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/apd/v3"

	"exgate/pkg/core"
)

var (
	btcUSDT = core.NewPair("BTC", "USDT")
	ethUSDT = core.NewPair("ETH", "USDT")
)

type wireOrder struct {
	ID       string `json:"id"`
	ClientID string `json:"cid,omitempty"`
	Status   string `json:"status"`
	Filled   string `json:"filled,omitempty"`
	Quantity string `json:"qty,omitempty"`
}

type wireTrade struct {
	ID    string `json:"id"`
	Pair  string `json:"pair,omitempty"`
	Price string `json:"price"`
	Qty   string `json:"qty"`
}

type fakeProtocol struct {
	symbols *core.SymbolTable
	caps    core.Capabilities

	mu     sync.Mutex
	params map[core.Operation]core.Params
}

func newFakeProtocol(caps core.Capabilities) *fakeProtocol {
	return &fakeProtocol{
		symbols: core.NewSymbolTable("fake", []core.Pair{btcUSDT, ethUSDT}, func(p core.Pair) string {
			return p.Base + p.Quote
		}),
		caps:   caps,
		params: make(map[core.Operation]core.Params),
	}
}

func (p *fakeProtocol) Name() string { return "fake" }
func (p *fakeProtocol) BaseURL(bool) string { return "http://fake.local" }
func (p *fakeProtocol) Symbols() *core.SymbolTable { return p.symbols }
func (p *fakeProtocol) Capabilities() core.Capabilities { return p.caps }
func (p *fakeProtocol) RateLimits() core.RateLimitConfig {
	return core.RateLimitConfig{RequestsPerSecond: 100}
}

func (p *fakeProtocol) BuildRequest(op core.Operation, params core.Params) (*core.Request, error) {
	p.mu.Lock()
	p.params[op] = params
	p.mu.Unlock()

	method := http.MethodGet
	switch op {
	case core.OpPlaceOrder:
		method = http.MethodPost
	case core.OpCancelOrder:
		method = http.MethodDelete
	}
	return core.NewRequest(method, "/"+op.String()), nil
}

func (p *fakeProtocol) lastParams(op core.Operation) core.Params {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.params[op]
}

func (p *fakeProtocol) ParseResponse(op core.Operation, resp *core.Response) (any, error) {
	switch op {
	case core.OpGetTicker:
		var w struct{ Bid, Ask, Last string }
		if err := sonic.Unmarshal(resp.Body, &w); err != nil {
			return nil, err
		}
		t := &core.Ticker{}
		for dst, src := range map[*apd.Decimal]string{&t.Bid: w.Bid, &t.Ask: w.Ask, &t.Last: w.Last} {
			if _, _, err := dst.SetString(src); err != nil {
				return nil, err
			}
		}
		return t, nil
	case core.OpPlaceOrder, core.OpCancelOrder, core.OpGetOrder:
		var w wireOrder
		if err := sonic.Unmarshal(resp.Body, &w); err != nil {
			return nil, err
		}
		r := &core.OrderResult{ExchangeOrderID: w.ID, ClientOrderID: w.ClientID}
		switch w.Status {
		case "FILLED":
			r.Status = core.StatusFilled
		case "PARTIAL":
			r.Status = core.StatusPartial
		case "CANCELED":
			r.Status = core.StatusCanceled
		}
		if w.Filled != "" {
			_, _, _ = r.FilledQuantity.SetString(w.Filled)
		}
		if w.Quantity != "" {
			_, _, _ = r.Quantity.SetString(w.Quantity)
		}
		return r, nil
	}
	return nil, errors.New("unsupported")
}

func (p *fakeProtocol) SignRequest(*core.Request, core.Credentials, time.Time) error { return nil }
func (p *fakeProtocol) DecodeError(*core.Response) *core.ExchangeError { return nil }

func (p *fakeProtocol) TradeStream(ctx context.Context, pair core.Pair, send core.SendFunc) (*core.StreamEndpoint, error) {
	return &core.StreamEndpoint{URL: "ws://fake.local/" + pair.Base}, nil
}

func (p *fakeProtocol) ParseTradeEvents(data []byte) ([]core.TradeEvent, error) {
	if string(data) == "pong" {
		return nil, nil
	}
	var w wireTrade
	if err := sonic.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	event := core.TradeEvent{TradeID: w.ID}
	if w.Pair != "" {
		pair, err := core.ParsePair(w.Pair)
		if err != nil {
			return nil, err
		}
		event.Pair = pair
	}
	if _, _, err := event.Price.SetString(w.Price); err != nil {
		return nil, err
	}
	if _, _, err := event.Quantity.SetString(w.Qty); err != nil {
		return nil, err
	}
	return []core.TradeEvent{event}, nil
}

type fakeTransport struct {
	mu       sync.Mutex
	handler  func(req *core.Request) (*core.Response, error)
	requests []*core.Request
	messages []string
	resolved []string
	closed   bool
}

func (t *fakeTransport) Send(ctx context.Context, req *core.Request) (*core.Response, error) {
	t.mu.Lock()
	t.requests = append(t.requests, req)
	handler := t.handler
	t.mu.Unlock()
	if handler == nil {
		return nil, errors.New("no handler")
	}
	return handler(req)
}

func (t *fakeTransport) OpenStream(ctx context.Context, spec core.StreamSpec) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		endpoint, err := spec.Resolve(ctx)
		if err != nil {
			yield(nil, err)
			return
		}
		t.mu.Lock()
		t.resolved = append(t.resolved, endpoint.URL)
		t.mu.Unlock()
		for _, msg := range t.messages {
			if !yield([]byte(msg), nil) {
				return
			}
		}
	}
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) count(op core.Operation) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, req := range t.requests {
		if strings.TrimPrefix(req.Path, "/") == op.String() {
			n++
		}
	}
	return n
}

func jsonResponse(v any) *core.Response {
	body, _ := sonic.Marshal(v)
	return &core.Response{StatusCode: http.StatusOK, Body: body}
}

// orderRoutes answers each operation with its handler; missing operations fail the call.
func orderRoutes(routes map[core.Operation]func(*core.Request) (*core.Response, error)) func(*core.Request) (*core.Response, error) {
	return func(req *core.Request) (*core.Response, error) {
		for op, h := range routes {
			if req.Path == "/"+op.String() {
				return h(req)
			}
		}
		return nil, errors.New("unexpected request " + req.Path)
	}
}
