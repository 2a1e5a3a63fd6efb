package kraken

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"

	"exgate/pkg/core"
)

type krakenResponse[T any] struct {
	Error  []string `json:"error"`
	Result T        `json:"result"`
}

// krakenTicker holds the a, b and c arrays of a Ticker entry: price first.
type krakenTicker struct {
	Ask  []string `json:"a"`
	Bid  []string `json:"b"`
	Last []string `json:"c"`
}

type krakenAddOrder struct {
	Descr struct {
		Order string `json:"order"`
	} `json:"descr"`
	TxID []string `json:"txid"`
}

type krakenCancel struct {
	Count   int  `json:"count"`
	Pending bool `json:"pending"`
}

type krakenOrder struct {
	ClOrdID   string  `json:"cl_ord_id"`
	Status    string  `json:"status"`
	OpenTime  float64 `json:"opentm"`
	CloseTime float64 `json:"closetm"`
	Descr     struct {
		Pair      string `json:"pair"`
		Type      string `json:"type"`
		OrderType string `json:"ordertype"`
		Price     string `json:"price"`
	} `json:"descr"`
	Vol     apd.Decimal `json:"vol"`
	VolExec apd.Decimal `json:"vol_exec"`
	Cost    apd.Decimal `json:"cost"`
	Reason  string      `json:"reason"`
}

type krakenStreamMessage struct {
	Channel string        `json:"channel"`
	Type    string        `json:"type"`
	Method  string        `json:"method"`
	Success *bool         `json:"success"`
	Error   string        `json:"error"`
	Data    []krakenTrade `json:"data"`
}

// krakenTrade is a v2 trade entry. Price and qty arrive as JSON numbers.
type krakenTrade struct {
	Symbol    string      `json:"symbol"`
	Side      string      `json:"side"`
	Price     json.Number `json:"price"`
	Qty       json.Number `json:"qty"`
	OrdType   string      `json:"ord_type"`
	TradeID   json.Number `json:"trade_id"`
	Timestamp string      `json:"timestamp"`
}

// Normalizer converts Kraken payloads to canonical core types.
type Normalizer struct {
	symbols *core.SymbolTable
}

func NewNormalizer(symbols *core.SymbolTable) *Normalizer {
	return &Normalizer{symbols: symbols}
}

// NormalizeTicker converts one Ticker entry. Kraken keys the result by pair
// name, sometimes in its legacy spelling, so key is resolved through aliases.
func (n *Normalizer) NormalizeTicker(key string, data *krakenTicker) (*core.Ticker, error) {
	t := &core.Ticker{}
	if pair, err := n.symbols.ToCanonical(key); err == nil {
		t.Pair = pair
	}
	fields := []struct {
		name string
		src  []string
		dst  *apd.Decimal
	}{
		{"a", data.Ask, &t.Ask},
		{"b", data.Bid, &t.Bid},
		{"c", data.Last, &t.Last},
	}
	for _, f := range fields {
		if len(f.src) == 0 {
			return nil, &core.ParseError{Field: f.name, Value: ""}
		}
		if err := setDecimal(f.dst, f.name, f.src[0]); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// NormalizeOrder converts a QueryOrders entry. cost/vol_exec is the average price.
func (n *Normalizer) NormalizeOrder(txid string, data *krakenOrder) (*core.OrderResult, error) {
	order := &core.OrderResult{
		ExchangeOrderID: txid,
		ClientOrderID:   data.ClOrdID,
		Side:            parseSide(data.Descr.Type),
		Type:            parseType(data.Descr.OrderType),
		Status:          parseStatus(data.Status, &data.VolExec),
	}
	if pair, err := n.symbols.ToCanonical(data.Descr.Pair); err == nil {
		order.Pair = pair
	}
	if order.Type == core.TypeLimit && data.Descr.Price != "" {
		if err := setDecimal(&order.Price, "price", data.Descr.Price); err != nil {
			return nil, err
		}
	}
	order.Quantity.Set(&data.Vol)
	order.FilledQuantity.Set(&data.VolExec)
	if err := core.AveragePrice(&order.AveragePrice, &data.Cost, &data.VolExec); err != nil {
		return nil, err
	}
	switch {
	case data.CloseTime > 0:
		order.UpdatedAt = unixSeconds(data.CloseTime)
	case data.OpenTime > 0:
		order.UpdatedAt = unixSeconds(data.OpenTime)
	}
	return order, nil
}

// NormalizeTrade converts a v2 trade entry.
func (n *Normalizer) NormalizeTrade(data *krakenTrade) (core.TradeEvent, error) {
	pair, err := n.symbols.ToCanonical(data.Symbol)
	if err != nil {
		return core.TradeEvent{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, data.Timestamp)
	if err != nil {
		return core.TradeEvent{}, &core.ParseError{Field: "timestamp", Value: data.Timestamp}
	}
	event := core.TradeEvent{
		Pair:      pair,
		TradeID:   data.TradeID.String(),
		Side:      parseSide(data.Side),
		Timestamp: ts.UTC(),
	}
	if err := setDecimal(&event.Price, "price", data.Price.String()); err != nil {
		return core.TradeEvent{}, err
	}
	if err := setDecimal(&event.Quantity, "qty", data.Qty.String()); err != nil {
		return core.TradeEvent{}, err
	}
	return event, nil
}

func setDecimal(dst *apd.Decimal, field, value string) error {
	if _, _, err := dst.SetString(value); err != nil {
		return &core.ParseError{Field: field, Value: value}
	}
	return nil
}

func unixSeconds(f float64) time.Time {
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(math.Round(frac*1e6))*1e3).UTC()
}

// parseStatus maps Kraken order states. An open order with executed volume is
// partial. States Kraken may add later read as pending so a live order is never
// taken for a finished one.
func parseStatus(s string, volExec *apd.Decimal) core.OrderStatus {
	switch strings.ToLower(s) {
	case "open", "pending":
		if volExec.Sign() > 0 {
			return core.StatusPartial
		}
		return core.StatusPending
	case "closed":
		return core.StatusFilled
	case "canceled", "expired":
		return core.StatusCanceled
	}
	return core.StatusPending
}

func parseSide(s string) core.OrderSide {
	if strings.EqualFold(s, "sell") {
		return core.SideSell
	}
	return core.SideBuy
}

func parseType(s string) core.OrderType {
	if strings.EqualFold(s, "market") {
		return core.TypeMarket
	}
	return core.TypeLimit
}
