package connection

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Client is one upstream WebSocket stream.
type Client interface {
	Connect(ctx context.Context) error
	Close() error

	// Send writes a text frame, e.g. a SUBSCRIBE request.
	Send(data []byte) error

	// Frames delivers inbound data frames stamped with their arrival time.
	// Frames are dropped when the buffer is full.
	Frames() <-chan Frame

	// Errors carries at most one terminal error per connection: a read
	// failure or ErrIdle. Errors after Close are not reported.
	Errors() <-chan error

	IsConnected() bool
}

type client struct {
	cfg    ClientConfig
	logger *slog.Logger

	frames chan Frame
	errors chan error
	done   chan struct{}

	writeMu sync.Mutex // gorilla allows one concurrent writer

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	closed    bool

	lastFrame atomic.Int64 // unix nanos of the last inbound frame of any kind
}

// NewClient creates an unconnected client. Zero config fields take their
// defaults.
func NewClient(cfg ClientConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &client{
		cfg:    cfg,
		logger: logger.With("url", cfg.URL),
		frames: make(chan Frame, cfg.BufferSize),
		errors: make(chan error, 1),
		done:   make(chan struct{}),
	}
}

func (c *client) Connect(ctx context.Context) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return ErrAlreadyClosed
	}

	header := http.Header{"Accept": []string{"application/json"}}
	for k, vs := range c.cfg.Header {
		header[k] = append(header[k], vs...)
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrAlreadyClosed
	}
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	c.touch()
	conn.SetPingHandler(func(data string) error {
		c.touch()
		return c.writeControl(conn, websocket.PongMessage, []byte(data))
	})
	conn.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	go c.readLoop(conn)
	go c.keepalive(conn)

	c.logger.Debug("upstream stream connected")
	return nil
}

func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	conn := c.conn
	c.mu.Unlock()

	close(c.done)
	if conn == nil {
		return nil
	}
	c.writeControl(conn, websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return conn.Close()
}

func (c *client) Send(data []byte) error {
	c.mu.RLock()
	conn, ok := c.conn, c.connected
	c.mu.RUnlock()
	if !ok {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *client) Frames() <-chan Frame { return c.frames }
func (c *client) Errors() <-chan error { return c.errors }

func (c *client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *client) touch() { c.lastFrame.Store(time.Now().UnixNano()) }

func (c *client) idleFor() time.Duration {
	return time.Since(time.Unix(0, c.lastFrame.Load()))
}

func (c *client) writeControl(conn *websocket.Conn, kind int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteControl(kind, data, time.Now().Add(c.cfg.WriteTimeout))
}

func (c *client) readLoop(conn *websocket.Conn) {
	defer func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}
		c.touch()

		select {
		case c.frames <- Frame{Data: data, ReceivedAt: time.Now()}:
		case <-c.done:
			return
		default:
			c.logger.Warn("frame buffer full, dropping frame", "bytes", len(data))
		}
	}
}

// keepalive pings the server and tears the connection down once nothing
// has arrived for IdleTimeout. Data frames count as activity, so busy
// streams never depend on pong replies.
func (c *client) keepalive(conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}

		if idle := c.idleFor(); idle > c.cfg.IdleTimeout {
			c.logger.Warn("upstream stream idle", "idle", idle, "timeout", c.cfg.IdleTimeout)
			c.fail(ErrIdle)
			conn.Close()
			return
		}
		if err := c.writeControl(conn, websocket.PingMessage, nil); err != nil {
			c.logger.Debug("ping failed", "error", err)
		}
	}
}

// fail reports err once, unless Close already ran.
func (c *client) fail(err error) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.errors <- err:
	default:
	}
}
