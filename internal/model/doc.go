// Package model defines the hub's shared data types.
//
// Types:
//   - ChannelKey identifies one logical real-time stream (ticker, kline, orderbook, order_status, signal)
//   - Event is the tagged union of everything an upstream feed can emit
//   - Envelope is the wire shape delivered to dashboard clients
package model
