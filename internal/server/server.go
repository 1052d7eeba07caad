package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/rickgao/cryptodash/internal/config"
	"github.com/rickgao/cryptodash/internal/exchange"
	"github.com/rickgao/cryptodash/internal/hub"
	"github.com/rickgao/cryptodash/internal/model"
	"github.com/rickgao/cryptodash/internal/session"
)

const shutdownTimeout = 10 * time.Second

// Registry is the hub as seen by the HTTP layer.
type Registry interface {
	session.Registry
	Stats() hub.Stats
	Latest(key model.ChannelKey) (model.Event, bool)
}

// Publisher accepts events from push collaborators.
type Publisher interface {
	Publish(ctx context.Context, ev model.Event) int
}

// LatestCache is the optional latest-value store.
type LatestCache interface {
	Get(ctx context.Context, key model.ChannelKey) (json.RawMessage, error)
	Ping(ctx context.Context) error
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators served over HTTP. Hub and Exchanges are
// required; the rest may be nil.
type Deps struct {
	Hub       Registry
	Exchanges *exchange.Registry
	Push      Publisher
	Cache     LatestCache
	DB        Pinger
}

// Server is the HTTP and websocket front end.
type Server struct {
	cfg        config.ServerConfig
	sessionCfg session.Config
	deps       Deps
	logger     *slog.Logger

	engine   *gin.Engine
	upgrader websocket.Upgrader
	started  time.Time

	mu       sync.Mutex
	sessions map[string]*session.Session
	closed   bool
	wg       sync.WaitGroup
}

// New creates a server and registers its routes.
func New(cfg config.ServerConfig, sessionCfg session.Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Mode == gin.DebugMode {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:        cfg,
		sessionCfg: sessionCfg,
		deps:       deps,
		logger:     logger.With("component", "server"),
		engine:     gin.New(),
		started:    time.Now(),
		sessions:   make(map[string]*session.Session),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}

	s.engine.Use(gin.Recovery(), requestLogger(s.logger), cors(cfg.AllowedOrigins))
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.engine.Group("/api")
	api.GET("/health", s.getHealth)
	api.GET("/hub/stats", s.getStats)
	api.GET("/exchanges", s.getExchanges)
	api.GET("/latest", s.getLatest)
	api.POST("/signals", s.postSignal)
	api.POST("/orders/status", s.postOrderStatus)

	s.engine.GET("/ws", s.handleWebSocket)
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Hijacked websocket connections are not tracked by http.Server.
	s.Shutdown(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Shutdown closes every live session and waits for them to finish.
func (s *Server) Shutdown(ctx context.Context) {
	s.mu.Lock()
	s.closed = true
	live := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		live = append(live, sess)
	}
	s.mu.Unlock()

	s.logger.Info("closing sessions", "count", len(live))
	for _, sess := range live {
		sess.Close(session.ErrServerShutdown)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("session shutdown timed out")
	}
}

// Sessions returns the number of live websocket sessions.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) track(sess *session.Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.sessions[sess.ID()] = sess
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(sess *session.Session) {
	s.mu.Lock()
	delete(s.sessions, sess.ID())
	s.mu.Unlock()
	s.wg.Done()
}

// checkOrigin allows every origin when none are configured.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || originAllowed(s.cfg.AllowedOrigins, origin)
}

func originAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}
