package session

import (
	"time"

	"github.com/gorilla/websocket"
)

// Transport is the byte-level connection to one client.
type Transport interface {
	// ReadMessage blocks until the next client message.
	ReadMessage() ([]byte, error)

	// WriteMessage writes one text frame. Not safe for concurrent use.
	WriteMessage(data []byte) error

	// WritePing sends a keepalive.
	WritePing() error

	// Close sends a close frame with code and reason, then closes the
	// connection. Safe to call concurrently with the other methods.
	Close(code int, reason string) error
}

// wsTransport adapts a gorilla websocket connection.
type wsTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	pongWait     time.Duration
}

// NewWebSocketTransport wraps conn. Reads fail once no pong has arrived
// within pongWait.
func NewWebSocketTransport(conn *websocket.Conn, cfg Config) Transport {
	cfg = cfg.withDefaults()
	t := &wsTransport{
		conn:         conn,
		writeTimeout: cfg.WriteTimeout,
		pongWait:     cfg.PongWait,
	}

	if cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	conn.SetReadDeadline(time.Now().Add(t.pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(t.pongWait))
		return nil
	})

	return t
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	if err == nil {
		t.conn.SetReadDeadline(time.Now().Add(t.pongWait))
	}
	return data, err
}

func (t *wsTransport) WriteMessage(data []byte) error {
	t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) WritePing() error {
	t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	return t.conn.WriteMessage(websocket.PingMessage, nil)
}

func (t *wsTransport) Close(code int, reason string) error {
	t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(time.Second),
	)
	return t.conn.Close()
}
