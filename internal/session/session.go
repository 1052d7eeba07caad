package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/cryptodash/internal/hub"
	"github.com/rickgao/cryptodash/internal/model"
)

// Errors
var (
	ErrSlowConsumer   = errors.New("slow consumer")
	ErrSessionClosed  = errors.New("session closed")
	ErrLogout         = errors.New("logout")
	ErrServerShutdown = errors.New("server shutdown")
	ErrBadRequest     = errors.New("bad request")
)

// State is the session lifecycle stage.
type State int32

const (
	StateOpen State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Registry is the subscription registry a session reports to.
type Registry interface {
	Subscribe(sub hub.Subscriber, key model.ChannelKey) (model.ChannelKey, error)
	Unsubscribe(connID string, key model.ChannelKey) model.ChannelKey
	Disconnect(connID string)
}

// Config holds per-session delivery settings.
type Config struct {
	QueueSize         int
	SlowConsumerGrace time.Duration
	WriteTimeout      time.Duration
	PongWait          time.Duration
	MaxMessageSize    int64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize:         256,
		SlowConsumerGrace: 5 * time.Second,
		WriteTimeout:      5 * time.Second,
		PongWait:          60 * time.Second,
		MaxMessageSize:    64 * 1024,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.QueueSize <= 0 {
		c.QueueSize = defaults.QueueSize
	}
	if c.SlowConsumerGrace <= 0 {
		c.SlowConsumerGrace = defaults.SlowConsumerGrace
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaults.WriteTimeout
	}
	if c.PongWait <= 0 {
		c.PongWait = defaults.PongWait
	}
	return c
}

// pingPeriod must be shorter than pongWait.
func (c Config) pingPeriod() time.Duration {
	return c.PongWait * 9 / 10
}

// Session is one client connection.
type Session struct {
	id        string
	transport Transport
	registry  Registry
	cfg       Config
	logger    *slog.Logger
	createdAt time.Time

	queue   *Queue
	control chan Ack

	// mu serializes subscribe/unsubscribe against close.
	mu       sync.Mutex
	state    atomic.Int32
	evicting atomic.Bool

	closing   chan struct{}
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
}

// New creates an open session. Run must be called to start I/O.
func New(id string, transport Transport, registry Registry, cfg Config, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	return &Session{
		id:        id,
		transport: transport,
		registry:  registry,
		cfg:       cfg,
		logger:    logger.With("conn_id", id),
		createdAt: time.Now(),
		queue:     NewQueue(cfg.QueueSize),
		control:   make(chan Ack, 16),
		closing:   make(chan struct{}),
	}
}

// ID returns the connection id.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle stage.
func (s *Session) State() State { return State(s.state.Load()) }

// Err returns the reason the session closed, nil for a normal close.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}

// QueueStats returns the outbound queue counters.
func (s *Session) QueueStats() QueueStats { return s.queue.Stats() }

// Deliver enqueues ev without blocking. A queue saturated past the grace
// period closes the session.
func (s *Session) Deliver(ev model.Event) {
	if s.State() != StateOpen {
		return
	}
	if sat := s.queue.Push(ev); sat > s.cfg.SlowConsumerGrace && s.evicting.CompareAndSwap(false, true) {
		// Deliver runs under hub locks; close elsewhere.
		go s.Close(ErrSlowConsumer)
	}
}

// Subscribe registers key for this session.
func (s *Session) Subscribe(key model.ChannelKey) (model.ChannelKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() != StateOpen {
		return key, ErrSessionClosed
	}
	return s.registry.Subscribe(s, key)
}

// Unsubscribe removes key for this session.
func (s *Session) Unsubscribe(key model.ChannelKey) (model.ChannelKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() != StateOpen {
		return key, ErrSessionClosed
	}
	return s.registry.Unsubscribe(s.id, key), nil
}

// Run serves the session until the transport fails or the session is
// closed. It returns the close reason.
func (s *Session) Run() error {
	s.logger.Debug("session opened")

	s.wg.Add(1)
	go s.writeLoop()

	err := s.readLoop()
	s.Close(err)
	s.wg.Wait()

	reason := s.Err()
	s.logger.Debug("session closed", "reason", reason)
	return reason
}

// Close moves the session to Closing, then Closed. The first reason wins;
// nil means a normal client close.
func (s *Session) Close(reason error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state.Store(int32(StateClosing))
		s.closeErr = reason
		s.mu.Unlock()

		close(s.closing)

		code, text := closeCode(reason)
		s.transport.Close(code, text)

		if errors.Is(reason, ErrSlowConsumer) {
			s.logger.Warn("closing slow consumer",
				"queued", s.queue.Len(),
				"dropped", s.queue.Stats().Dropped,
			)
		}

		s.registry.Disconnect(s.id)
		s.queue.Discard()
		s.state.Store(int32(StateClosed))
	})
}

func closeCode(reason error) (int, string) {
	switch {
	case reason == nil:
		return websocket.CloseNormalClosure, ""
	case errors.Is(reason, ErrSlowConsumer):
		return websocket.ClosePolicyViolation, ErrSlowConsumer.Error()
	case errors.Is(reason, ErrLogout):
		return websocket.CloseNormalClosure, ErrLogout.Error()
	case errors.Is(reason, ErrServerShutdown):
		return websocket.CloseGoingAway, ErrServerShutdown.Error()
	}
	return websocket.CloseInternalServerErr, "transport error"
}

// readLoop handles client requests. It returns nil when the client went
// away normally.
func (s *Session) readLoop() error {
	for {
		data, err := s.transport.ReadMessage()
		if err != nil {
			select {
			case <-s.closing:
				return nil
			default:
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.logger.Debug("read failed", "error", err)
			}
			return nil
		}

		if err := s.handle(data); err != nil {
			return err
		}
	}
}

// handle processes one request. It returns a non-nil error only when the
// session should close.
func (s *Session) handle(data []byte) error {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return s.reply(Ack{Type: AckError, Error: fmt.Sprintf("%v: %v", ErrBadRequest, err)})
	}

	switch req.Action {
	case ActionSubscribe:
		key, err := s.Subscribe(req.Key())
		if err != nil {
			return s.reply(Ack{Type: AckError, Channel: key.String(), ID: req.ID, Error: err.Error()})
		}
		return s.reply(Ack{Type: AckSubscribed, Channel: key.String(), ID: req.ID})

	case ActionUnsubscribe:
		key, err := s.Unsubscribe(req.Key())
		if err != nil {
			return s.reply(Ack{Type: AckError, Channel: key.String(), ID: req.ID, Error: err.Error()})
		}
		return s.reply(Ack{Type: AckUnsubscribed, Channel: key.String(), ID: req.ID})

	case ActionPing:
		return s.reply(Ack{Type: AckPong, ID: req.ID})

	case ActionLogout:
		s.reply(Ack{Type: AckBye, ID: req.ID})
		s.flushControl()
		return ErrLogout
	}

	return s.reply(Ack{Type: AckError, ID: req.ID, Error: fmt.Sprintf("%v: unknown action %q", ErrBadRequest, req.Action)})
}

// reply queues an ack for the writer. It blocks while the control buffer
// is full, pushing back on a client that sends faster than it reads.
func (s *Session) reply(ack Ack) error {
	ack.Ts = time.Now().UnixMilli()
	select {
	case s.control <- ack:
		return nil
	case <-s.closing:
		return ErrSessionClosed
	}
}

// flushControl gives the writer a moment to send pending acks.
func (s *Session) flushControl() {
	deadline := time.Now().Add(s.cfg.WriteTimeout)
	for len(s.control) > 0 && time.Now().Before(deadline) {
		select {
		case <-s.closing:
			return
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// writeLoop drains acks and events to the transport and sends keepalives.
func (s *Session) writeLoop() {
	defer s.wg.Done()

	ping := time.NewTicker(s.cfg.pingPeriod())
	defer ping.Stop()

	for {
		select {
		case <-s.closing:
			return

		case ack := <-s.control:
			if err := s.write(ack); err != nil {
				s.Close(err)
				return
			}

		case <-s.queue.Notify():
			if err := s.drain(); err != nil {
				s.Close(err)
				return
			}

		case <-ping.C:
			if err := s.transport.WritePing(); err != nil {
				s.Close(fmt.Errorf("ping: %w", err))
				return
			}
		}
	}
}

// drain writes queued events until the queue is empty or the session
// leaves Open. Pending acks are written first.
func (s *Session) drain() error {
	for {
		if s.State() != StateOpen {
			return nil
		}
		select {
		case ack := <-s.control:
			if err := s.write(ack); err != nil {
				return err
			}
			continue
		default:
		}

		ev, ok := s.queue.Pop()
		if !ok {
			return nil
		}
		if err := s.write(model.NewEnvelope(ev)); err != nil {
			return err
		}
	}
}

func (s *Session) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("failed to encode frame", "error", err)
		return nil
	}
	if err := s.transport.WriteMessage(data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}
