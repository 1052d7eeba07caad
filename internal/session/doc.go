// Package session implements one downstream client connection.
//
// A Session owns its transport, its outbound queue and, through the hub,
// its subscriptions. It moves Open -> Closing -> Closed exactly once:
//   - Open: requests are handled and the queue is drained to the transport
//   - Closing: entered on transport error, logout, slow consumer or
//     shutdown; draining stops
//   - Closed: every subscription is removed and the queue is discarded
//
// The outbound queue is bounded. Market data (ticker, kline, orderbook and
// stale markers) is coalesced or dropped under pressure; order status and
// signals are never dropped, and a queue that stays saturated past the
// grace period closes the session as a slow consumer.
package session
