package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/cryptodash/internal/cache"
	"github.com/rickgao/cryptodash/internal/config"
	"github.com/rickgao/cryptodash/internal/database"
	"github.com/rickgao/cryptodash/internal/exchange"
	"github.com/rickgao/cryptodash/internal/feed"
	"github.com/rickgao/cryptodash/internal/hub"
	"github.com/rickgao/cryptodash/internal/server"
	"github.com/rickgao/cryptodash/internal/session"
	"github.com/rickgao/cryptodash/internal/simulator"
	"github.com/rickgao/cryptodash/internal/version"
	"github.com/rickgao/cryptodash/internal/writer"
)

func main() {
	configPath := flag.String("config", "configs/dashhub.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("starting dashhub",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"instance_id", cfg.Instance.ID,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("dashhub failed", "error", err)
		os.Exit(1)
	}
	logger.Info("dashhub stopped")
}

// newLogger builds the slog handler selected by config.
func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func run(cfg *config.HubConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Exchange adapters
	registry, err := exchange.NewRegistryFromConfig(cfg.Exchanges, cfg.Feeds.RequestTimeout, logger)
	if err != nil {
		return fmt.Errorf("build exchanges: %w", err)
	}

	// Upstream sources
	poll := feed.NewPollSource(registry, feed.PollConfig{
		Interval:        cfg.Feeds.PollInterval,
		StalenessWindow: cfg.Feeds.StalenessWindow,
		BaseDelay:       cfg.Feeds.ReconnectBaseDelay,
		MaxDelay:        cfg.Feeds.ReconnectMaxDelay,
		OrderBookDepth:  cfg.Feeds.OrderBookDepth,
		BufferSize:      cfg.Feeds.BufferSize,
	}, logger)
	stream := feed.NewStreamSource(registry, feed.StreamConfig{
		StalenessWindow: cfg.Feeds.StalenessWindow,
		BaseDelay:       cfg.Feeds.ReconnectBaseDelay,
		MaxDelay:        cfg.Feeds.ReconnectMaxDelay,
		OrderBookDepth:  cfg.Feeds.OrderBookDepth,
		BufferSize:      cfg.Feeds.BufferSize,
	}, logger)
	push := feed.NewPushSource(cfg.Push.BufferSize, logger)
	sim := simulator.New(simulator.Config{
		TickInterval:  cfg.Simulator.TickInterval,
		Volatility:    cfg.Simulator.Volatility,
		Spread:        cfg.Simulator.Spread,
		Depth:         cfg.Simulator.Depth,
		DepthDecay:    cfg.Simulator.DepthDecay,
		Seed:          cfg.Simulator.Seed,
		InitialPrices: cfg.Simulator.InitialPrices,
		BufferSize:    cfg.Feeds.BufferSize,
	}, logger)

	selector := feed.NewSelector(feed.SelectorConfig{
		ForceSimulator: cfg.Simulator.Force,
		PushSignals:    cfg.Push.Signals,
		PushOrders:     cfg.Push.Orders,
	}, registry, poll, stream, push, sim)

	h := hub.New(selector, logger)
	defer h.Close()

	deps := server.Deps{Hub: h, Exchanges: registry}
	if cfg.Push.Signals || cfg.Push.Orders {
		deps.Push = push
	}

	g, gctx := errgroup.WithContext(ctx)

	// Latest-value cache
	if cfg.Cache.Enabled() {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Addr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		})
		defer client.Close()

		latest := cache.New(client, cache.Config{
			Prefix: cfg.Cache.Prefix,
			TTL:    cfg.Cache.TTL,
		}, logger)
		if err := latest.Ping(ctx); err != nil {
			logger.Warn("redis unreachable, cache writes will retry", "addr", cfg.Cache.Addr, "error", err)
		}
		h.AddTap(latest)
		deps.Cache = latest
		g.Go(func() error { return latest.Run(gctx) })
	}

	// OHLCV history
	var pool *pgxpool.Pool
	if cfg.Database.Postgres.Enabled() {
		logger.Info("connecting to database",
			"host", cfg.Database.Postgres.Host,
			"port", cfg.Database.Postgres.Port,
			"database", cfg.Database.Postgres.Name,
		)
		pool, err = database.Open(ctx, cfg.Database.Postgres)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()
		deps.DB = pool

		kw := writer.NewKlineWriter(writer.Config{
			BatchSize:     cfg.Writer.BatchSize,
			FlushInterval: cfg.Writer.FlushInterval,
			BufferSize:    cfg.Writer.BufferSize,
		}, pool, logger)
		if err := kw.Start(gctx); err != nil {
			return fmt.Errorf("start kline writer: %w", err)
		}
		h.AddTap(kw)
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			kw.Stop(stopCtx)
		}()
	}

	srv := server.New(cfg.Server, session.Config{
		QueueSize:         cfg.Hub.QueueSize,
		SlowConsumerGrace: cfg.Hub.SlowConsumerGrace,
		WriteTimeout:      cfg.Hub.WriteTimeout,
		PongWait:          cfg.Hub.PongWait,
		MaxMessageSize:    cfg.Hub.MaxMessageSize,
	}, deps, logger)

	g.Go(func() error { return srv.Run(gctx) })

	logger.Info("dashhub running",
		"addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		"exchanges", registry.IDs(),
		"simulator_forced", cfg.Simulator.Force,
		"cache", cfg.Cache.Enabled(),
		"database", cfg.Database.Postgres.Enabled(),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
