// Package binance implements the Binance spot exchange adapter.
//
// The package includes:
//   - Protocol: REST request building, HMAC-SHA256 query signing, error decoding
//     and the public trade stream endpoint
//   - Normalizer: conversion between Binance payloads and canonical types
//   - Exchange: the exchange.Client built on the shared session logic
//
// Example usage:
//
//	client, err := binance.New(core.DefaultConfig(binance.Name).
//		WithCredentials(core.NewCredentials(key, secret, "")))
//	ticker, err := client.FetchTicker(ctx, core.MustParsePair("BTC/USDT"))
package binance
