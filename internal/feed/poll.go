package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/rickgao/cryptodash/internal/exchange"
	"github.com/rickgao/cryptodash/internal/model"
)

// PollConfig configures REST polling.
type PollConfig struct {
	Interval        time.Duration // Target period between polls
	StalenessWindow time.Duration
	BaseDelay       time.Duration // Retry backoff base
	MaxDelay        time.Duration // Retry backoff cap
	OrderBookDepth  int
	BufferSize      int
}

// DefaultPollConfig returns sensible defaults.
func DefaultPollConfig() PollConfig {
	return PollConfig{
		Interval:        2 * time.Second,
		StalenessWindow: 10 * time.Second,
		BaseDelay:       time.Second,
		MaxDelay:        30 * time.Second,
		OrderBookDepth:  20,
		BufferSize:      64,
	}
}

// PollSource produces events by polling exchange REST endpoints.
type PollSource struct {
	registry *exchange.Registry
	cfg      PollConfig
	logger   *slog.Logger
}

// NewPollSource creates a poll source over the configured exchanges.
func NewPollSource(registry *exchange.Registry, cfg PollConfig, logger *slog.Logger) *PollSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &PollSource{registry: registry, cfg: cfg, logger: logger}
}

// Start begins polling for key.
func (p *PollSource) Start(ctx context.Context, key model.ChannelKey) (Stream, error) {
	if !key.Type.MarketData() {
		return nil, fmt.Errorf("%w: %s is not polled", model.ErrInvalidChannel, key.Type)
	}
	ex, ok := p.registry.Get(key.Exchange)
	if !ok {
		return nil, fmt.Errorf("%w: exchange %q not configured", model.ErrInvalidChannel, key.Exchange)
	}
	exCfg, _ := p.registry.Config(key.Exchange)

	// Minimum inter-request interval per key.
	burst := exCfg.Burst
	if burst < 1 {
		burst = 1
	}
	limit := rate.Inf
	if exCfg.RateLimit > 0 {
		limit = rate.Limit(exCfg.RateLimit)
	}
	limiter := rate.NewLimiter(limit, burst)

	poller := &keyPoller{
		cfg:     p.cfg,
		key:     key,
		ex:      ex,
		limiter: limiter,
		logger:  p.logger.With("channel", key.String()),
	}
	return NewStream(ctx, p.cfg.BufferSize, poller.run), nil
}

// keyPoller holds the polling state of one key.
type keyPoller struct {
	cfg     PollConfig
	key     model.ChannelKey
	ex      exchange.Exchange
	limiter *rate.Limiter
	logger  *slog.Logger

	lastClosed int64 // OpenTime of the last emitted closed candle
}

func (k *keyPoller) run(ctx context.Context, emit EmitFunc) {
	tracker := newStaleTracker(k.key, k.cfg.StalenessWindow)
	bo := Backoff{Base: k.cfg.BaseDelay, Max: k.cfg.MaxDelay}

	k.logger.Debug("poller started")
	defer k.logger.Debug("poller stopped")

	for {
		if err := k.limiter.Wait(ctx); err != nil {
			return
		}

		events, err := k.fetch(ctx)
		delay := k.cfg.Interval
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			k.logger.Warn("poll failed", "error", err)
			if d := bo.Next(); d > delay {
				delay = d
			}
			if !waitStale(ctx, delay, tracker, err.Error(), emit) {
				return
			}
			continue
		}

		bo.Reset()
		if rec, ok := tracker.observe(); ok && !emit(rec) {
			return
		}
		for _, ev := range events {
			if !emit(ev) {
				return
			}
		}

		if !waitStale(ctx, delay, tracker, "no data", emit) {
			return
		}
	}
}

// fetch performs one poll and converts the result into events.
func (k *keyPoller) fetch(ctx context.Context) ([]model.Event, error) {
	switch k.key.Type {
	case model.ChannelTicker:
		t, err := k.ex.FetchTicker(ctx, k.key.Symbol)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		}
		return []model.Event{model.TickerEvent{
			Channel:       k.key,
			Symbol:        k.key.Symbol,
			Price:         t.Last,
			Change:        t.Change,
			ChangePercent: t.ChangePercent,
			Volume:        t.Volume,
			Ts:            t.Timestamp,
		}}, nil

	case model.ChannelKline:
		candles, err := k.ex.FetchOHLCV(ctx, k.key.Symbol, k.key.Timeframe, 2)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		}
		return k.klineEvents(candles, time.Now().UnixMilli()), nil

	case model.ChannelOrderBook:
		book, err := k.ex.FetchOrderBook(ctx, k.key.Symbol, k.cfg.OrderBookDepth)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		}
		return []model.Event{model.OrderBookEvent{
			Channel: k.key,
			Symbol:  k.key.Symbol,
			Bids:    book.Bids,
			Asks:    book.Asks,
			Ts:      book.Timestamp,
		}}, nil
	}

	return nil, fmt.Errorf("%w: %s", model.ErrInvalidChannel, k.key.Type)
}

// klineEvents emits the previous candle once as closed, then the
// in-progress candle.
func (k *keyPoller) klineEvents(candles []model.OHLCV, now int64) []model.Event {
	if len(candles) == 0 {
		return nil
	}
	var events []model.Event
	if len(candles) >= 2 {
		prev := candles[len(candles)-2]
		if prev.OpenTime > k.lastClosed {
			if k.lastClosed != 0 {
				events = append(events, model.KlineEvent{
					Channel:   k.key,
					Symbol:    k.key.Symbol,
					Timeframe: k.key.Timeframe,
					OHLCV:     prev,
					Closed:    true,
					Ts:        now,
				})
			}
			k.lastClosed = prev.OpenTime
		}
	}
	events = append(events, model.KlineEvent{
		Channel:   k.key,
		Symbol:    k.key.Symbol,
		Timeframe: k.key.Timeframe,
		OHLCV:     candles[len(candles)-1],
		Ts:        now,
	})
	return events
}
