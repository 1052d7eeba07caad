// Package cache mirrors the newest event of every live channel into Redis.
//
// The cache is a hub tap: Observe never blocks and drops events when the
// write buffer is full. A single writer goroutine stores each event as
//
//	<prefix>:latest:<channel>   envelope JSON with a TTL
//	<prefix>:ticks:<channel>    sorted set of ticker prices scored by ts
//
// so that the REST API can answer "latest value" queries for channels that
// no client is currently subscribed to.
package cache
