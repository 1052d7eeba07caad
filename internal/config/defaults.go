package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultHost               = "0.0.0.0"
	DefaultPort               = 8000
	DefaultServerMode         = "release"
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "text"
	DefaultQueueSize          = 256
	DefaultSlowConsumerGrace  = 5 * time.Second
	DefaultWriteTimeout       = 5 * time.Second
	DefaultPongWait           = 60 * time.Second
	DefaultMaxMessageSize     = 64 * 1024
	DefaultStalenessWindow    = 10 * time.Second
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 30 * time.Second
	DefaultPollInterval       = 2 * time.Second
	DefaultRequestTimeout     = 10 * time.Second
	DefaultOrderBookDepth     = 20
	DefaultFeedBufferSize     = 1024
	DefaultTickInterval       = 1 * time.Second
	DefaultVolatility         = 0.005
	DefaultSpread             = 0.0002
	DefaultDepth              = 20
	DefaultDepthDecay         = 0.85
	DefaultExchangeMode       = "poll"
	DefaultRateLimit          = 5.0
	DefaultBurst              = 1
	DefaultPushBufferSize     = 1024
	DefaultCacheTTL           = 10 * time.Minute
	DefaultCachePrefix        = "dash"
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 10
	DefaultMinConns           = 2
	DefaultBatchSize          = 500
	DefaultFlushInterval      = 1 * time.Second
	DefaultWriterBufferSize   = 10000
)

// ApplyDefaults fills zero-valued optional fields.
func (c *HubConfig) ApplyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = "dashhub"
	}

	// Server defaults
	if c.Server.Host == "" {
		c.Server.Host = DefaultHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.Mode == "" {
		c.Server.Mode = DefaultServerMode
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}

	// Fan-out defaults
	if c.Hub.QueueSize == 0 {
		c.Hub.QueueSize = DefaultQueueSize
	}
	if c.Hub.SlowConsumerGrace == 0 {
		c.Hub.SlowConsumerGrace = DefaultSlowConsumerGrace
	}
	if c.Hub.WriteTimeout == 0 {
		c.Hub.WriteTimeout = DefaultWriteTimeout
	}
	if c.Hub.PongWait == 0 {
		c.Hub.PongWait = DefaultPongWait
	}
	if c.Hub.MaxMessageSize == 0 {
		c.Hub.MaxMessageSize = DefaultMaxMessageSize
	}

	// Feed defaults
	if c.Feeds.StalenessWindow == 0 {
		c.Feeds.StalenessWindow = DefaultStalenessWindow
	}
	if c.Feeds.ReconnectBaseDelay == 0 {
		c.Feeds.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Feeds.ReconnectMaxDelay == 0 {
		c.Feeds.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Feeds.PollInterval == 0 {
		c.Feeds.PollInterval = DefaultPollInterval
	}
	if c.Feeds.RequestTimeout == 0 {
		c.Feeds.RequestTimeout = DefaultRequestTimeout
	}
	if c.Feeds.OrderBookDepth == 0 {
		c.Feeds.OrderBookDepth = DefaultOrderBookDepth
	}
	if c.Feeds.BufferSize == 0 {
		c.Feeds.BufferSize = DefaultFeedBufferSize
	}

	// Simulator defaults
	if c.Simulator.TickInterval == 0 {
		c.Simulator.TickInterval = DefaultTickInterval
	}
	if c.Simulator.Volatility == 0 {
		c.Simulator.Volatility = DefaultVolatility
	}
	if c.Simulator.Spread == 0 {
		c.Simulator.Spread = DefaultSpread
	}
	if c.Simulator.Depth == 0 {
		c.Simulator.Depth = DefaultDepth
	}
	if c.Simulator.DepthDecay == 0 {
		c.Simulator.DepthDecay = DefaultDepthDecay
	}

	// Exchange defaults
	for i := range c.Exchanges {
		applyExchangeDefaults(&c.Exchanges[i])
	}

	// Push defaults
	if c.Push.BufferSize == 0 {
		c.Push.BufferSize = DefaultPushBufferSize
	}

	// Cache defaults
	if c.Cache.TTL == 0 {
		c.Cache.TTL = DefaultCacheTTL
	}
	if c.Cache.Prefix == "" {
		c.Cache.Prefix = DefaultCachePrefix
	}

	// Database defaults
	applyDBDefaults(&c.Database.Postgres)

	// Writer defaults
	if c.Writer.BatchSize == 0 {
		c.Writer.BatchSize = DefaultBatchSize
	}
	if c.Writer.FlushInterval == 0 {
		c.Writer.FlushInterval = DefaultFlushInterval
	}
	if c.Writer.BufferSize == 0 {
		c.Writer.BufferSize = DefaultWriterBufferSize
	}
}

func applyExchangeDefaults(e *ExchangeConfig) {
	if e.Driver == "" {
		e.Driver = e.ID
	}
	if e.Mode == "" {
		e.Mode = DefaultExchangeMode
	}
	if e.RateLimit == 0 {
		e.RateLimit = DefaultRateLimit
	}
	if e.Burst == 0 {
		e.Burst = DefaultBurst
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
