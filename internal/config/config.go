package config

import "time"

// HubConfig is the root configuration for a dashboard hub instance.
type HubConfig struct {
	Instance  InstanceConfig   `yaml:"instance"`
	Server    ServerConfig     `yaml:"server"`
	Log       LogConfig        `yaml:"log"`
	Hub       FanoutConfig     `yaml:"hub"`
	Feeds     FeedsConfig      `yaml:"feeds"`
	Simulator SimulatorConfig  `yaml:"simulator"`
	Exchanges []ExchangeConfig `yaml:"exchanges"`
	Push      PushConfig       `yaml:"push"`
	Cache     CacheConfig      `yaml:"cache"`
	Database  DatabaseConfig   `yaml:"database"`
	Writer    WriterConfig     `yaml:"writer"`
}

// InstanceConfig identifies this hub.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// ServerConfig holds HTTP/WebSocket listener settings.
type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"` // Empty = allow all
	Mode           string   `yaml:"mode"`            // gin mode: "release" or "debug"
}

// LogConfig holds slog handler settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// FanoutConfig holds per-connection delivery settings.
type FanoutConfig struct {
	QueueSize         int           `yaml:"queue_size"`
	SlowConsumerGrace time.Duration `yaml:"slow_consumer_grace"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	PongWait          time.Duration `yaml:"pong_wait"`
	MaxMessageSize    int64         `yaml:"max_message_size"`
}

// FeedsConfig holds upstream adapter settings shared by all exchanges.
type FeedsConfig struct {
	StalenessWindow    time.Duration `yaml:"staleness_window"`
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	OrderBookDepth     int           `yaml:"orderbook_depth"`
	BufferSize         int           `yaml:"buffer_size"`
}

// SimulatorConfig holds synthetic market generator settings.
type SimulatorConfig struct {
	Force         bool               `yaml:"force"` // Simulate every key regardless of credentials
	TickInterval  time.Duration      `yaml:"tick_interval"`
	Volatility    float64            `yaml:"volatility"` // Max relative move per tick (0.005 = ±0.5%)
	Spread        float64            `yaml:"spread"`     // Relative bid/ask spread
	Depth         int                `yaml:"depth"`      // Levels per side
	DepthDecay    float64            `yaml:"depth_decay"`
	Seed          int64              `yaml:"seed"` // 0 = time-based
	InitialPrices map[string]float64 `yaml:"initial_prices"`
}

// ExchangeConfig configures one exchange connectivity adapter.
type ExchangeConfig struct {
	ID         string  `yaml:"id"`     // Identifier used in channel keys, e.g. "binance"
	Driver     string  `yaml:"driver"` // "binance" or "coinbase"
	APIKey     string  `yaml:"api_key"`
	APISecret  string  `yaml:"api_secret"`
	PublicData bool    `yaml:"public_data"` // Use live public endpoints without credentials
	Mode       string  `yaml:"mode"`        // "poll" or "stream"
	RestURL    string  `yaml:"rest_url"`
	WSURL      string  `yaml:"ws_url"`
	RateLimit  float64 `yaml:"rate_limit"` // Requests per second per key
	Burst      int     `yaml:"burst"`
}

// HasCredentials reports whether the exchange may be used for live data.
func (e ExchangeConfig) HasCredentials() bool {
	return e.APIKey != "" || e.PublicData
}

// PushConfig enables in-process push sources for asynchronous collaborators.
type PushConfig struct {
	Signals    bool `yaml:"signals"`     // Strategy engine publishes signals
	Orders     bool `yaml:"orders"`      // Order service publishes order status
	BufferSize int  `yaml:"buffer_size"` // Per-key buffered events
}

// CacheConfig holds the Redis latest-value cache settings.
type CacheConfig struct {
	Addr     string        `yaml:"addr"` // Empty disables the cache
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
	Prefix   string        `yaml:"prefix"`
}

// Enabled reports whether a Redis address is configured.
func (c CacheConfig) Enabled() bool {
	return c.Addr != ""
}

// DatabaseConfig holds the PostgreSQL connection for OHLCV history.
type DatabaseConfig struct {
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"` // Empty disables persistence
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// Enabled reports whether a database host is configured.
func (db DBConfig) Enabled() bool {
	return db.Host != ""
}

// WriterConfig holds OHLCV batch writer settings.
type WriterConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}
