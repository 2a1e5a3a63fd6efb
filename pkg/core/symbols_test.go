package core

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func concat(p Pair) string { return p.Base + p.Quote }

func TestSymbolTable_RoundTrip(t *testing.T) {
	pairs := []Pair{MustParsePair("BTC/USDT"), MustParsePair("ETH/BTC")}
	table := NewSymbolTable("binance", pairs, concat)

	for _, p := range pairs {
		native, err := table.ToNative(p)
		require.NoError(t, err)

		back, err := table.ToCanonical(native)
		require.NoError(t, err)
		assert.Equal(t, p, back)
	}

	got, err := table.ToCanonical("btcusdt")
	require.NoError(t, err)
	assert.Equal(t, pairs[0], got)
	assert.Equal(t, pairs, table.Pairs())
}

func TestSymbolTable_UnknownPair(t *testing.T) {
	table := NewSymbolTable("binance", []Pair{MustParsePair("BTC/USDT")}, concat)

	_, err := table.ToNative(MustParsePair("DOGE/USDT"))
	assert.True(t, IsKind(err, ErrorKindUnknownPair))

	_, err = table.ToCanonical("DOGEUSDT")
	assert.True(t, IsKind(err, ErrorKindUnknownPair))
	assert.False(t, table.Contains(MustParsePair("DOGE/USDT")))
}

func TestSymbolTable_Alias(t *testing.T) {
	btcusd := MustParsePair("BTC/USD")
	table := NewSymbolTable("kraken", []Pair{btcusd}, func(p Pair) string { return "XBT" + p.Quote }).
		Alias("XXBTZUSD", btcusd).
		Alias("DOGEUSD", MustParsePair("DOGE/USD"))

	native, err := table.ToNative(btcusd)
	require.NoError(t, err)
	assert.Equal(t, "XBTUSD", native)

	got, err := table.ToCanonical("XXBTZUSD")
	require.NoError(t, err)
	assert.Equal(t, btcusd, got)

	_, err = table.ToCanonical("DOGEUSD")
	assert.Error(t, err, "aliases for unconfigured pairs are ignored")
}

func TestErrorTable_Map(t *testing.T) {
	table := NewErrorTable("binance",
		ErrorRule{Code: "-2010", Contains: "duplicate", Kind: ErrorKindDuplicateOrder},
		ErrorRule{Code: "-2011", Kind: ErrorKindOrderNotFound},
		ErrorRule{Contains: "does not exist", Kind: ErrorKindOrderNotFound},
	)

	tests := []struct {
		name    string
		code    string
		message string
		want    ErrorKind
	}{
		{"code_and_message", "-2010", "Duplicate order sent.", ErrorKindDuplicateOrder},
		{"code_without_message_match", "-2010", "Account has insufficient balance", ErrorKindUnknown},
		{"code_only", "-2011", "Unknown order sent.", ErrorKindOrderNotFound},
		{"message_only", "", "Order does not exist", ErrorKindOrderNotFound},
		{"unmapped", "-9999", "something new", ErrorKindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, table.Map(tt.code, tt.message))
		})
	}
}

func TestErrorTable_Error(t *testing.T) {
	table := NewErrorTable("kucoin", ErrorRule{Code: "400100", Kind: ErrorKindFatalExchange})

	t.Run("unmapped_keeps_raw_code", func(t *testing.T) {
		err := table.Error(http.StatusBadRequest, "123456", "odd", []byte(`{"code":"123456"}`))
		assert.Equal(t, ErrorKindUnknown, err.Kind)
		assert.Equal(t, "123456", err.Code)
		assert.Equal(t, `{"code":"123456"}`, err.Raw)
	})

	t.Run("unmapped_server_error_is_transient", func(t *testing.T) {
		err := table.Error(http.StatusServiceUnavailable, "123456", "busy", nil)
		assert.Equal(t, ErrorKindTransientNetwork, err.Kind)
	})

	t.Run("unmapped_unauthorized_is_fatal", func(t *testing.T) {
		err := table.Error(http.StatusUnauthorized, "123456", "nope", nil)
		assert.Equal(t, ErrorKindFatalExchange, err.Kind)
	})

	t.Run("mapped", func(t *testing.T) {
		err := table.Error(http.StatusOK, "400100", "bad param", nil)
		assert.Equal(t, ErrorKindFatalExchange, err.Kind)
		assert.Equal(t, "kucoin", err.Exchange)
	})
}
