package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rickgao/cryptodash/internal/model"
)

// ErrNotFound is returned when no value is cached for a channel.
var ErrNotFound = errors.New("no cached value")

// Config holds cache settings.
type Config struct {
	Prefix     string
	TTL        time.Duration
	TickWindow time.Duration // Ticker history retained in the sorted set
	BufferSize int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Prefix:     "cryptodash",
		TTL:        2 * time.Minute,
		TickWindow: 2 * time.Minute,
		BufferSize: 1024,
	}
}

// Stats holds cache write counters.
type Stats struct {
	Written int64
	Dropped int64
	Errors  int64
}

// Latest is a Redis-backed latest-value cache.
type Latest struct {
	client *redis.Client
	cfg    Config
	logger *slog.Logger

	events chan model.Event

	written atomic.Int64
	dropped atomic.Int64
	errors  atomic.Int64
}

// New creates a cache over client. Run must be called to start writing.
func New(client *redis.Client, cfg Config, logger *slog.Logger) *Latest {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultConfig()
	if cfg.Prefix == "" {
		cfg.Prefix = defaults.Prefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaults.TTL
	}
	if cfg.TickWindow <= 0 {
		cfg.TickWindow = defaults.TickWindow
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaults.BufferSize
	}

	return &Latest{
		client: client,
		cfg:    cfg,
		logger: logger.With("component", "cache"),
		events: make(chan model.Event, cfg.BufferSize),
	}
}

// Observe queues ev for writing. It drops ev when the buffer is full.
func (c *Latest) Observe(ev model.Event) {
	if _, ok := ev.(model.StaleEvent); ok {
		return
	}
	select {
	case c.events <- ev:
	default:
		c.dropped.Add(1)
	}
}

// Run writes queued events until ctx is cancelled.
func (c *Latest) Run(ctx context.Context) error {
	c.logger.Info("cache writer started", "prefix", c.cfg.Prefix, "ttl", c.cfg.TTL)
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("cache writer stopped",
				"written", c.written.Load(),
				"dropped", c.dropped.Load(),
			)
			return nil
		case ev := <-c.events:
			if err := c.store(ctx, ev); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.errors.Add(1)
				c.logger.Warn("cache write failed", "channel", ev.Key().String(), "error", err)
				continue
			}
			c.written.Add(1)
		}
	}
}

func (c *Latest) store(ctx context.Context, ev model.Event) error {
	key := ev.Key()
	data, err := json.Marshal(model.NewEnvelope(ev))
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, c.latestKey(key), data, c.cfg.TTL)

	if t, ok := ev.(model.TickerEvent); ok {
		ticks := c.ticksKey(key)
		pipe.ZAdd(ctx, ticks, redis.Z{
			Score:  float64(t.Ts),
			Member: strconv.FormatInt(t.Ts, 10) + ":" + strconv.FormatFloat(t.Price, 'f', -1, 64),
		})
		cutoff := t.Ts - c.cfg.TickWindow.Milliseconds()
		pipe.ZRemRangeByScore(ctx, ticks, "-inf", "("+strconv.FormatInt(cutoff, 10))
		pipe.Expire(ctx, ticks, c.cfg.TTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("exec: %w", err)
	}
	return nil
}

// Get returns the cached envelope JSON for key.
func (c *Latest) Get(ctx context.Context, key model.ChannelKey) (json.RawMessage, error) {
	data, err := c.client.Get(ctx, c.latestKey(key.Normalize())).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return data, nil
}

// Tick is one cached ticker price.
type Tick struct {
	Ts    int64   `json:"ts"`
	Price float64 `json:"price"`
}

// Ticks returns the cached ticker prices for key since from, oldest first.
func (c *Latest) Ticks(ctx context.Context, key model.ChannelKey, from time.Time) ([]Tick, error) {
	members, err := c.client.ZRangeByScore(ctx, c.ticksKey(key.Normalize()), &redis.ZRangeBy{
		Min: strconv.FormatInt(from.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("ticks %s: %w", key, err)
	}

	ticks := make([]Tick, 0, len(members))
	for _, m := range members {
		tick, err := parseTick(m)
		if err != nil {
			c.logger.Debug("skipping malformed tick", "member", m, "error", err)
			continue
		}
		ticks = append(ticks, tick)
	}
	return ticks, nil
}

func parseTick(member string) (Tick, error) {
	for i := 0; i < len(member); i++ {
		if member[i] != ':' {
			continue
		}
		ts, err := strconv.ParseInt(member[:i], 10, 64)
		if err != nil {
			return Tick{}, err
		}
		price, err := strconv.ParseFloat(member[i+1:], 64)
		if err != nil {
			return Tick{}, err
		}
		return Tick{Ts: ts, Price: price}, nil
	}
	return Tick{}, fmt.Errorf("missing separator")
}

// Ping checks the Redis connection.
func (c *Latest) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Stats returns write counters.
func (c *Latest) Stats() Stats {
	return Stats{
		Written: c.written.Load(),
		Dropped: c.dropped.Load(),
		Errors:  c.errors.Load(),
	}
}

func (c *Latest) latestKey(key model.ChannelKey) string {
	return c.cfg.Prefix + ":latest:" + key.String()
}

func (c *Latest) ticksKey(key model.ChannelKey) string {
	return c.cfg.Prefix + ":ticks:" + key.String()
}
