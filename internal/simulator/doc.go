// Package simulator generates synthetic market data for keys that have
// no live feed.
//
// Every symbol has one shared random walk so ticker, kline, order book and
// signal channels for the same symbol agree on price. The walk advances on
// a fixed tick clock regardless of how many channels read it. Kline
// generators keep their own cursor into the walk's history, so each candle
// folds every step even when other channels advance the walk in between.
//
// Generated data:
//   - Ticker: last price and change since the walk started
//   - Kline: candles whose open is the previous close and whose high/low
//     bound every price seen in the candle
//   - Order book: bids and asks straddling the mid with a fixed spread,
//     quantities decaying geometrically from the top
//   - Signal: fast/slow SMA crossovers on the walk
//   - Order status: new, partially_filled, filled lifecycles
package simulator
