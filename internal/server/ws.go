package server

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rickgao/cryptodash/internal/session"
)

// handleWebSocket upgrades the request and serves one session until it
// closes.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already written the error response.
		s.logger.Debug("websocket upgrade failed", "remote", c.ClientIP(), "error", err)
		return
	}

	id := uuid.NewString()
	transport := session.NewWebSocketTransport(conn, s.sessionCfg)
	sess := session.New(id, transport, s.deps.Hub, s.sessionCfg, s.logger)

	if !s.track(sess) {
		sess.Close(session.ErrServerShutdown)
		return
	}
	defer s.untrack(sess)

	s.logger.Info("client connected", "conn_id", id, "remote", c.ClientIP())

	err = sess.Run()
	stats := sess.QueueStats()
	attrs := []any{
		"conn_id", id,
		"enqueued", stats.Enqueued,
		"coalesced", stats.Coalesced,
		"dropped", stats.Dropped,
	}
	switch {
	case err == nil, errors.Is(err, session.ErrLogout), errors.Is(err, session.ErrServerShutdown):
		s.logger.Info("client disconnected", append(attrs, "reason", err)...)
	default:
		s.logger.Warn("client disconnected", append(attrs, "reason", err)...)
	}
}
