package core

import (
	"encoding/json"
	"testing"

	"github.com/cockroachdb/apd/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderSide_String(t *testing.T) {
	tests := []struct {
		name string
		side OrderSide
		want string
	}{
		{"buy", SideBuy, "BUY"},
		{"sell", SideSell, "SELL"},
		{"out_of_range", OrderSide(9), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.side.String())
		})
	}
}

func TestParseOrderSide(t *testing.T) {
	side, err := ParseOrderSide("sell")
	require.NoError(t, err)
	assert.Equal(t, SideSell, side)

	side, err = ParseOrderSide(" Buy ")
	require.NoError(t, err)
	assert.Equal(t, SideBuy, side)

	_, err = ParseOrderSide("hold")
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "side", parseErr.Field)
}

func TestOrderType_String(t *testing.T) {
	tests := []struct {
		name      string
		orderType OrderType
		want      string
	}{
		{"market", TypeMarket, "MARKET"},
		{"limit", TypeLimit, "LIMIT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.orderType.String())
		})
	}
}

func TestOrderType_UnmarshalJSON(t *testing.T) {
	var typ OrderType
	require.NoError(t, json.Unmarshal([]byte(`"limit"`), &typ))
	assert.Equal(t, TypeLimit, typ)

	assert.Error(t, json.Unmarshal([]byte(`"stop"`), &typ))
}

func TestOrderStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		name     string
		status   OrderStatus
		text     string
		terminal bool
	}{
		{"pending", StatusPending, "PENDING", false},
		{"partial", StatusPartial, "PARTIAL", false},
		{"filled", StatusFilled, "FILLED", true},
		{"canceled", StatusCanceled, "CANCELED", true},
		{"rejected", StatusRejected, "REJECTED", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.text, tt.status.String())
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
		})
	}
}

func TestOrderResult_Clone(t *testing.T) {
	orig := &OrderResult{
		ExchangeOrderID: "1",
		Pair:            MustParsePair("BTC/USDT"),
		Status:          StatusPartial,
	}
	orig.FilledQuantity.SetString("0.5")

	clone := orig.Clone()
	clone.Status = StatusFilled
	clone.FilledQuantity.Set(apd.New(15, -1))

	assert.Equal(t, StatusPartial, orig.Status)
	assert.Equal(t, "0.5", orig.FilledQuantity.String())
	assert.Equal(t, "1.5", clone.FilledQuantity.String())
	assert.Nil(t, (*OrderResult)(nil).Clone())
}
