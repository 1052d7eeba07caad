// Package feed implements the upstream adapters that produce events for
// one channel key.
//
// A Source starts a Stream for a key; the Stream owns one producer
// goroutine and closes its Events channel when the producer exits.
//
// Sources:
//   - PollSource: periodic REST polling through an exchange.Exchange
//   - StreamSource: exchange WebSocket streams with reconnect
//   - PushSource: in-process broker fed by Publish
//
// Poll and stream sources emit model.StaleEvent markers when no data
// arrived within the staleness window, and again when data resumes.
// Selector picks the source for a key from configuration.
package feed
