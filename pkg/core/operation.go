package core

// Operation represents a type of action that can be performed on an exchange.
type Operation int

// Operation constants define all supported exchange operations.
const (
	// OpGetTicker retrieves current market ticker data for a pair.
	OpGetTicker Operation = iota
	// OpPlaceOrder submits a new order to the exchange.
	OpPlaceOrder
	// OpCancelOrder cancels an existing order.
	OpCancelOrder
	// OpGetOrder retrieves details of a specific order.
	OpGetOrder
	// OpStreamToken obtains the endpoint and token for a market-data stream.
	OpStreamToken
)

// String returns the string representation of the operation.
func (o Operation) String() string {
	switch o {
	case OpGetTicker:
		return "GET_TICKER"
	case OpPlaceOrder:
		return "PLACE_ORDER"
	case OpCancelOrder:
		return "CANCEL_ORDER"
	case OpGetOrder:
		return "GET_ORDER"
	case OpStreamToken:
		return "STREAM_TOKEN"
	}
	return "UNKNOWN"
}

// Parameter keys understood by every protocol's BuildRequest.
const (
	ParamPair          = "pair"
	ParamOrder         = "order"
	ParamOrderID       = "order_id"
	ParamClientOrderID = "client_order_id"
)
