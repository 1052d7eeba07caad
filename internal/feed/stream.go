package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rickgao/cryptodash/internal/connection"
	"github.com/rickgao/cryptodash/internal/exchange"
	"github.com/rickgao/cryptodash/internal/model"
)

// StreamConfig configures WebSocket stream sources.
type StreamConfig struct {
	StalenessWindow time.Duration
	BaseDelay       time.Duration // Reconnect backoff base
	MaxDelay        time.Duration // Reconnect backoff cap
	OrderBookDepth  int
	BufferSize      int
}

// DefaultStreamConfig returns sensible defaults.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		StalenessWindow: 10 * time.Second,
		BaseDelay:       time.Second,
		MaxDelay:        30 * time.Second,
		OrderBookDepth:  20,
		BufferSize:      256,
	}
}

// ClientFactory creates upstream WebSocket clients.
type ClientFactory func(cfg connection.ClientConfig, logger *slog.Logger) connection.Client

// StreamSource produces events from exchange WebSocket streams.
type StreamSource struct {
	registry  *exchange.Registry
	cfg       StreamConfig
	newClient ClientFactory
	logger    *slog.Logger
}

// NewStreamSource creates a stream source over the configured exchanges.
func NewStreamSource(registry *exchange.Registry, cfg StreamConfig, logger *slog.Logger) *StreamSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamSource{
		registry:  registry,
		cfg:       cfg,
		newClient: connection.NewClient,
		logger:    logger,
	}
}

// WithClientFactory overrides how upstream clients are created.
func (s *StreamSource) WithClientFactory(f ClientFactory) *StreamSource {
	s.newClient = f
	return s
}

// Start connects to the stream for key in the background. Dial failures
// are retried with backoff; Start itself only fails on unroutable keys.
func (s *StreamSource) Start(ctx context.Context, key model.ChannelKey) (Stream, error) {
	exCfg, ok := s.registry.Config(key.Exchange)
	if !ok {
		return nil, fmt.Errorf("%w: exchange %q not configured", model.ErrInvalidChannel, key.Exchange)
	}
	if exCfg.Driver != "binance" {
		return nil, fmt.Errorf("%w: driver %q has no stream support", model.ErrInvalidChannel, exCfg.Driver)
	}

	base := exCfg.WSURL
	if base == "" {
		base = exchange.DefaultBinanceStreamURL
	}
	url, err := BinanceStreamURL(base, key, s.cfg.OrderBookDepth)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if exCfg.APIKey != "" {
		header.Set("X-MBX-APIKEY", exCfg.APIKey)
	}

	st := &keyStreamer{
		src:    s,
		key:    key,
		client: connection.ClientConfig{URL: url, Header: header},
		logger: s.logger.With("channel", key.String()),
	}
	return NewStream(ctx, s.cfg.BufferSize, st.run), nil
}

// keyStreamer holds the connection loop of one key.
type keyStreamer struct {
	src    *StreamSource
	key    model.ChannelKey
	client connection.ClientConfig
	logger *slog.Logger
}

func (k *keyStreamer) run(ctx context.Context, emit EmitFunc) {
	tracker := newStaleTracker(k.key, k.src.cfg.StalenessWindow)
	bo := Backoff{Base: k.src.cfg.BaseDelay, Max: k.src.cfg.MaxDelay}

	for {
		client := k.src.newClient(k.client, k.logger)

		if err := client.Connect(ctx); err != nil {
			client.Close()
			if ctx.Err() != nil {
				return
			}
			wait := bo.Next()
			k.logger.Warn("stream connect failed", "error", err, "retry_in", wait)
			if !waitStale(ctx, wait, tracker, fmt.Sprintf("%v: %v", ErrUpstreamUnavailable, err), emit) {
				return
			}
			continue
		}

		k.logger.Info("stream connected")
		bo.Reset()

		err := k.consume(ctx, client, tracker, emit)
		client.Close()
		if ctx.Err() != nil || err == nil {
			return
		}

		wait := bo.Next()
		k.logger.Warn("stream disconnected", "error", err, "retry_in", wait)
		if !waitStale(ctx, wait, tracker, fmt.Sprintf("%v: %v", ErrUpstreamUnavailable, err), emit) {
			return
		}
	}
}

// consume reads from one connected client until it fails or ctx ends.
// It returns nil only when the stream should stop.
func (k *keyStreamer) consume(ctx context.Context, client connection.Client, tracker *staleTracker, emit EmitFunc) error {
	var tick <-chan time.Time
	if tracker.window > 0 {
		t := time.NewTicker(checkInterval(tracker.window))
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case msg := <-client.Frames():
			if !k.handle(msg, tracker, emit) {
				return nil
			}

		case err := <-client.Errors():
			// Deliver what was read before the failure.
		drain:
			for {
				select {
				case msg := <-client.Frames():
					if !k.handle(msg, tracker, emit) {
						return nil
					}
				default:
					break drain
				}
			}
			if err == nil {
				err = errors.New("connection closed")
			}
			return err

		case <-tick:
			if ev, ok := tracker.check("no stream data"); ok && !emit(ev) {
				return nil
			}
		}
	}
}

// handle decodes and emits one message. It returns false when the stream
// is stopping.
func (k *keyStreamer) handle(msg connection.Frame, tracker *staleTracker, emit EmitFunc) bool {
	ev, ok, err := decodeBinance(k.key, msg.Data, msg.ReceivedAt, k.src.cfg.OrderBookDepth)
	if err != nil {
		k.logger.Debug("skipping message", "error", err)
		return true
	}
	if !ok {
		return true
	}
	if rec, stale := tracker.observe(); stale && !emit(rec) {
		return false
	}
	return emit(ev)
}
