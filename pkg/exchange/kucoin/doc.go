// Package kucoin implements the KuCoin spot exchange adapter.
//
// KuCoin wraps every REST payload in a {"code","msg","data"} envelope, reports
// failures inside 200 responses, and hands out short-lived websocket tokens over
// REST. The token is fetched again for every stream connection.
package kucoin
