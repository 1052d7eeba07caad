// Package server exposes the hub to browsers and collaborators over HTTP.
//
// Routes:
//   - GET  /ws                  websocket sessions (subscribe/unsubscribe/logout/ping)
//   - GET  /api/health          liveness, version and dependency status
//   - GET  /api/hub/stats       per-channel refcounts and feed kinds
//   - GET  /api/exchanges       configured exchanges
//   - GET  /api/latest          newest event of a channel (hub, then cache)
//   - POST /api/signals         strategy engine signal push
//   - POST /api/orders/status   order status push
//
// Every websocket connection is a session.Session registered with the hub
// under a random UUID. Shutdown closes live sessions with a going-away frame.
package server
