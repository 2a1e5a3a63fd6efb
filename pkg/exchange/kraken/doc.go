// Package kraken implements the Kraken spot exchange adapter.
//
// Kraken reports every REST failure in an "error" array, usually with status 200,
// signs private calls with HMAC-SHA512 over a nonce-bearing form body, and spells
// Bitcoin as XBT on REST while the v2 websocket uses BTC/USD style symbols.
// Kraken accepts a cl_ord_id on AddOrder but does not reject a repeated one, so
// idempotent placement relies on the session's cache, and an order whose AddOrder
// outcome is unknown is found again through QueryOrders by cl_ord_id.
package kraken
