package kucoin

import (
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"

	"exgate/pkg/core"
)

const codeSuccess = "200000"

// envelope is the common KuCoin response wrapper.
type envelope[T any] struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data T      `json:"data"`
}

type kucoinTicker struct {
	Time    int64       `json:"time"`
	Price   apd.Decimal `json:"price"`
	BestBid apd.Decimal `json:"bestBid"`
	BestAsk apd.Decimal `json:"bestAsk"`
}

type kucoinPlaced struct {
	OrderID string `json:"orderId"`
}

type kucoinCanceled struct {
	CancelledOrderIDs []string `json:"cancelledOrderIds"`
}

type kucoinOrder struct {
	ID          string      `json:"id"`
	Symbol      string      `json:"symbol"`
	Type        string      `json:"type"`
	Side        string      `json:"side"`
	Price       apd.Decimal `json:"price"`
	Size        apd.Decimal `json:"size"`
	DealFunds   apd.Decimal `json:"dealFunds"`
	DealSize    apd.Decimal `json:"dealSize"`
	IsActive    bool        `json:"isActive"`
	CancelExist bool        `json:"cancelExist"`
	ClientOid   string      `json:"clientOid"`
	CreatedAt   int64       `json:"createdAt"`
}

type kucoinOrderRequest struct {
	ClientOid string `json:"clientOid"`
	Side      string `json:"side"`
	Symbol    string `json:"symbol"`
	Type      string `json:"type"`
	Price     string `json:"price,omitempty"`
	Size      string `json:"size"`
}

type kucoinBullet struct {
	Token           string `json:"token"`
	InstanceServers []struct {
		Endpoint     string `json:"endpoint"`
		Protocol     string `json:"protocol"`
		PingInterval int64  `json:"pingInterval"`
	} `json:"instanceServers"`
}

type kucoinStreamMessage struct {
	Type    string      `json:"type"`
	Topic   string      `json:"topic"`
	Subject string      `json:"subject"`
	Data    kucoinMatch `json:"data"`
}

type kucoinMatch struct {
	Symbol  string      `json:"symbol"`
	Side    string      `json:"side"`
	Price   apd.Decimal `json:"price"`
	Size    apd.Decimal `json:"size"`
	TradeID string      `json:"tradeId"`
	Time    string      `json:"time"`
}

// Normalizer converts KuCoin payloads to canonical core types.
type Normalizer struct {
	symbols *core.SymbolTable
}

func NewNormalizer(symbols *core.SymbolTable) *Normalizer {
	return &Normalizer{symbols: symbols}
}

// NormalizeTicker converts level-1 book data. The payload carries no symbol.
func (n *Normalizer) NormalizeTicker(data *kucoinTicker) *core.Ticker {
	t := &core.Ticker{}
	t.Bid.Set(&data.BestBid)
	t.Ask.Set(&data.BestAsk)
	t.Last.Set(&data.Price)
	if data.Time > 0 {
		t.Timestamp = time.UnixMilli(data.Time).UTC()
	}
	return t
}

// NormalizeOrder derives the status from KuCoin's isActive and cancelExist flags.
// A partially filled order that was canceled is reported as canceled.
func (n *Normalizer) NormalizeOrder(data *kucoinOrder) (*core.OrderResult, error) {
	pair, err := n.symbols.ToCanonical(data.Symbol)
	if err != nil {
		return nil, err
	}
	order := &core.OrderResult{
		ExchangeOrderID: data.ID,
		ClientOrderID:   data.ClientOid,
		Pair:            pair,
		Side:            parseSide(data.Side),
		Type:            parseType(data.Type),
	}
	switch {
	case data.IsActive && data.DealSize.Sign() > 0:
		order.Status = core.StatusPartial
	case data.IsActive:
		order.Status = core.StatusPending
	case data.CancelExist:
		order.Status = core.StatusCanceled
	default:
		order.Status = core.StatusFilled
	}
	order.Price.Set(&data.Price)
	order.Quantity.Set(&data.Size)
	order.FilledQuantity.Set(&data.DealSize)
	if err := core.AveragePrice(&order.AveragePrice, &data.DealFunds, &data.DealSize); err != nil {
		return nil, err
	}
	if data.CreatedAt > 0 {
		order.UpdatedAt = time.UnixMilli(data.CreatedAt).UTC()
	}
	return order, nil
}

// NormalizeMatch converts a /market/match event. Time is in nanoseconds.
func (n *Normalizer) NormalizeMatch(data *kucoinMatch) (core.TradeEvent, error) {
	pair, err := n.symbols.ToCanonical(data.Symbol)
	if err != nil {
		return core.TradeEvent{}, err
	}
	ns, err := strconv.ParseInt(data.Time, 10, 64)
	if err != nil {
		return core.TradeEvent{}, &core.ParseError{Field: "time", Value: data.Time}
	}
	event := core.TradeEvent{
		Pair:      pair,
		TradeID:   data.TradeID,
		Side:      parseSide(data.Side),
		Timestamp: time.Unix(0, ns).UTC(),
	}
	event.Price.Set(&data.Price)
	event.Quantity.Set(&data.Size)
	return event, nil
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

func formatSymbol(p core.Pair) string {
	return p.Base + "-" + p.Quote
}
