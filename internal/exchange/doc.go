// Package exchange provides REST connectivity to crypto exchanges.
//
// Each configured exchange is wrapped behind the Exchange interface:
//   - FetchTicker: last price and 24h change
//   - FetchOHLCV: recent candles for a timeframe
//   - FetchOrderBook: aggregated top-of-book levels
//
// Adapters are built from configuration into an explicit Registry.
// Symbols are unified as BASE/QUOTE and converted per exchange.
package exchange
