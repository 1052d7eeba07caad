package simulator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/cryptodash/internal/feed"
	"github.com/rickgao/cryptodash/internal/model"
)

// DefaultSymbol is used by channels whose key carries no symbol.
const DefaultSymbol = "BTC/USDT"

// Config configures the generator.
type Config struct {
	TickInterval  time.Duration
	Volatility    float64 // Max relative move per tick
	Spread        float64 // Relative bid/ask spread
	Depth         int     // Book levels per side
	DepthDecay    float64 // Per-level quantity decay
	Seed          int64   // 0 = time-based
	InitialPrices map[string]float64
	BufferSize    int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval: time.Second,
		Volatility:   0.005,
		Spread:       0.0002,
		Depth:        20,
		DepthDecay:   0.85,
		BufferSize:   64,
	}
}

// Simulator is a feed.Source that never fails to start.
type Simulator struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	markets map[string]*market
}

// New creates a simulator.
func New(cfg Config, logger *slog.Logger) *Simulator {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaults.TickInterval
	}
	if cfg.Volatility <= 0 {
		cfg.Volatility = defaults.Volatility
	}
	if cfg.Spread <= 0 {
		cfg.Spread = defaults.Spread
	}
	if cfg.Depth <= 0 {
		cfg.Depth = defaults.Depth
	}
	if cfg.DepthDecay <= 0 {
		cfg.DepthDecay = defaults.DepthDecay
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaults.BufferSize
	}
	return &Simulator{
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		markets: make(map[string]*market),
	}
}

// Start generates events for key until the stream is stopped.
func (s *Simulator) Start(ctx context.Context, key model.ChannelKey) (feed.Stream, error) {
	symbol := key.Symbol
	if symbol == "" {
		symbol = DefaultSymbol
	}
	m := s.market(symbol)
	gen := s.generator(key, m)

	s.logger.Debug("simulating channel", "channel", key.String())

	return feed.NewStream(ctx, s.cfg.BufferSize, func(ctx context.Context, emit feed.EmitFunc) {
		ticker := time.NewTicker(s.cfg.TickInterval)
		defer ticker.Stop()

		for {
			for _, ev := range gen(s.now()) {
				if !emit(ev) {
					return
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}), nil
}

// market returns the shared walk for symbol, creating it on first use.
func (s *Simulator) market(symbol string) *market {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m, ok := s.markets[symbol]; ok {
		return m
	}

	price, ok := s.cfg.InitialPrices[symbol]
	if !ok {
		price, ok = defaultPrices[symbol]
	}
	if !ok {
		price = 100
	}
	m := newMarket(symbol, price, s.cfg.Volatility, s.cfg.Seed, s.cfg.TickInterval, s.now())
	s.markets[symbol] = m
	return m
}

// generator returns the per-tick event function for key.
func (s *Simulator) generator(key model.ChannelKey, m *market) func(now time.Time) []model.Event {
	switch key.Type {
	case model.ChannelTicker:
		return func(now time.Time) []model.Event {
			m.advance(now)
			price, open := m.snapshot()
			change := roundPrice(price - open)
			pct := 0.0
			if open > 0 {
				pct = roundPrice(change / open * 100)
			}
			return []model.Event{model.TickerEvent{
				Channel:       key,
				Symbol:        m.symbol,
				Price:         price,
				Change:        change,
				ChangePercent: pct,
				Volume:        m.volume(),
				Ts:            now.UnixMilli(),
			}}
		}

	case model.ChannelKline:
		builder := newCandleBuilder(key.Timeframe)
		cursor := m.cursor()
		return func(now time.Time) []model.Event {
			ts := now.UnixMilli()
			var events []model.Event
			var cur model.OHLCV
			var path []float64
			path, cursor = m.pathSince(cursor, now)
			for _, p := range path {
				var closed *model.OHLCV
				closed, cur = builder.update(ts, p)
				if closed != nil {
					events = append(events, s.kline(key, m.symbol, *closed, true, ts))
				}
			}
			return append(events, s.kline(key, m.symbol, cur, false, ts))
		}

	case model.ChannelOrderBook:
		return func(now time.Time) []model.Event {
			m.advance(now)
			price, _ := m.snapshot()
			bids, asks := buildBook(price, s.cfg.Spread, s.cfg.Depth, s.cfg.DepthDecay)
			return []model.Event{model.OrderBookEvent{
				Channel: key,
				Symbol:  m.symbol,
				Bids:    bids,
				Asks:    asks,
				Ts:      now.UnixMilli(),
			}}
		}

	case model.ChannelSignal:
		cross := &crossover{}
		return func(now time.Time) []model.Event {
			m.advance(now)
			sig, strength, ok := cross.update(m.recent(slowWindow))
			if !ok {
				return nil
			}
			price, _ := m.snapshot()
			return []model.Event{model.SignalEvent{
				Channel:    key,
				StrategyID: key.StrategyID,
				Symbol:     m.symbol,
				Signal:     sig,
				Strength:   strength,
				Price:      price,
				Ts:         now.UnixMilli(),
			}}
		}

	case model.ChannelOrderStatus:
		orders := &orderLifecycle{userID: key.UserID, exchange: key.Exchange, symbol: m.symbol}
		return func(now time.Time) []model.Event {
			m.advance(now)
			price, _ := m.snapshot()
			ev := orders.next(price, now.UnixMilli())
			ev.Channel = key
			return []model.Event{ev}
		}
	}

	return func(time.Time) []model.Event { return nil }
}

func (s *Simulator) kline(key model.ChannelKey, symbol string, c model.OHLCV, closed bool, ts int64) model.KlineEvent {
	return model.KlineEvent{
		Channel:   key,
		Symbol:    symbol,
		Timeframe: key.Timeframe,
		OHLCV:     c,
		Closed:    closed,
		Ts:        ts,
	}
}
