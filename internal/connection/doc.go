// Package connection implements the upstream WebSocket client used by
// streaming feed adapters.
//
// The client:
//   - Dials one exchange stream URL (gorilla/websocket)
//   - Answers server pings and sends keepalive pings
//   - Treats any inbound frame as liveness and reports ErrIdle or read
//     errors on Errors()
//   - Leaves reconnection policy to the caller
package connection
