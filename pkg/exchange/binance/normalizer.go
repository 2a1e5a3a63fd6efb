package binance

import (
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"

	"exgate/pkg/core"
)

// binanceTicker represents the raw 24hr ticker response from Binance API.
type binanceTicker struct {
	Symbol    string      `json:"symbol"`
	LastPrice apd.Decimal `json:"lastPrice"`
	BidPrice  apd.Decimal `json:"bidPrice"`
	AskPrice  apd.Decimal `json:"askPrice"`
	CloseTime int64       `json:"closeTime"`
}

// binanceOrder represents the raw order response from Binance API.
type binanceOrder struct {
	Symbol              string      `json:"symbol"`
	OrderID             int64       `json:"orderId"`
	ClientOrderID       string      `json:"clientOrderId"`
	OrigClientOrderID   string      `json:"origClientOrderId"`
	Price               apd.Decimal `json:"price"`
	OrigQty             apd.Decimal `json:"origQty"`
	ExecutedQty         apd.Decimal `json:"executedQty"`
	CummulativeQuoteQty apd.Decimal `json:"cummulativeQuoteQty"`
	Status              string      `json:"status"`
	Type                string      `json:"type"`
	Side                string      `json:"side"`
	TransactTime        int64       `json:"transactTime"`
	UpdateTime          int64       `json:"updateTime"`
}

// binanceTrade represents a trade event from the raw trade stream.
type binanceTrade struct {
	Event        string      `json:"e"`
	EventTime    int64       `json:"E"`
	Symbol       string      `json:"s"`
	TradeID      int64       `json:"t"`
	Price        apd.Decimal `json:"p"`
	Quantity     apd.Decimal `json:"q"`
	TradeTime    int64       `json:"T"`
	IsBuyerMaker bool        `json:"m"`
}

type binanceAPIError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Normalizer converts Binance-specific data structures to canonical core types.
type Normalizer struct {
	symbols *core.SymbolTable
}

// NewNormalizer creates a normalizer resolving symbols through symbols.
func NewNormalizer(symbols *core.SymbolTable) *Normalizer {
	return &Normalizer{symbols: symbols}
}

// NormalizeTicker converts a Binance ticker response to a canonical Ticker.
func (n *Normalizer) NormalizeTicker(data *binanceTicker) (*core.Ticker, error) {
	pair, err := n.symbols.ToCanonical(data.Symbol)
	if err != nil {
		return nil, err
	}
	t := &core.Ticker{Pair: pair}
	t.Bid.Set(&data.BidPrice)
	t.Ask.Set(&data.AskPrice)
	t.Last.Set(&data.LastPrice)
	if data.CloseTime > 0 {
		t.Timestamp = time.UnixMilli(data.CloseTime).UTC()
	}
	return t, nil
}

// NormalizeOrder converts a Binance order response to a canonical OrderResult.
// Cancel responses carry the original client id in origClientOrderId.
func (n *Normalizer) NormalizeOrder(data *binanceOrder) (*core.OrderResult, error) {
	order := &core.OrderResult{
		ExchangeOrderID: formatOrderID(data.OrderID),
		ClientOrderID:   data.ClientOrderID,
		Side:            parseOrderSide(data.Side),
		Type:            parseOrderType(data.Type),
		Status:          parseOrderStatus(data.Status),
	}
	if data.OrigClientOrderID != "" {
		order.ClientOrderID = data.OrigClientOrderID
	}
	if data.Symbol != "" {
		pair, err := n.symbols.ToCanonical(data.Symbol)
		if err != nil {
			return nil, err
		}
		order.Pair = pair
	}
	order.Price.Set(&data.Price)
	order.Quantity.Set(&data.OrigQty)
	order.FilledQuantity.Set(&data.ExecutedQty)
	if err := core.AveragePrice(&order.AveragePrice, &data.CummulativeQuoteQty, &data.ExecutedQty); err != nil {
		return nil, err
	}

	switch {
	case data.UpdateTime > 0:
		order.UpdatedAt = time.UnixMilli(data.UpdateTime).UTC()
	case data.TransactTime > 0:
		order.UpdatedAt = time.UnixMilli(data.TransactTime).UTC()
	}
	return order, nil
}

// NormalizeTrade converts a stream trade into a canonical TradeEvent.
// The taker side is the opposite of the maker: a buyer-maker trade was a sell.
func (n *Normalizer) NormalizeTrade(data *binanceTrade) (core.TradeEvent, error) {
	pair, err := n.symbols.ToCanonical(data.Symbol)
	if err != nil {
		return core.TradeEvent{}, err
	}
	event := core.TradeEvent{
		Pair:      pair,
		TradeID:   formatOrderID(data.TradeID),
		Side:      core.SideBuy,
		Timestamp: time.UnixMilli(data.TradeTime).UTC(),
	}
	if data.IsBuyerMaker {
		event.Side = core.SideSell
	}
	event.Price.Set(&data.Price)
	event.Quantity.Set(&data.Quantity)
	return event, nil
}

func parseOrderSide(s string) core.OrderSide {
	if strings.ToUpper(s) == "SELL" {
		return core.SideSell
	}
	return core.SideBuy
}

func parseOrderType(s string) core.OrderType {
	if strings.ToUpper(s) == "MARKET" {
		return core.TypeMarket
	}
	return core.TypeLimit
}

func parseOrderStatus(s string) core.OrderStatus {
	switch strings.ToUpper(s) {
	case "PARTIALLY_FILLED":
		return core.StatusPartial
	case "FILLED":
		return core.StatusFilled
	case "CANCELED", "EXPIRED", "EXPIRED_IN_MATCH":
		return core.StatusCanceled
	case "REJECTED":
		return core.StatusRejected
	default:
		return core.StatusPending
	}
}

// formatSide renders a canonical side for order requests.
func formatSide(s core.OrderSide) string {
	if s == core.SideSell {
		return "SELL"
	}
	return "BUY"
}

func formatOrderID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}
