// Package hub is the market-data distribution core: the subscription
// registry and the fan-out router.
//
// The registry maps each (connection, channel key) subscription to a
// shared channel state. A channel state exists exactly while at least one
// subscription references it and owns the only upstream stream for its
// key. Subscribe, Unsubscribe and Disconnect serialize per key, never on
// a global lock held across feed start or stop.
//
// The router runs one pump goroutine per channel state. Each event is
// recorded as the channel's latest value, handed to every subscriber
// without blocking, and then passed to taps (cache, history writer).
package hub
