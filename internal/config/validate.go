package config

import (
	"errors"
	"fmt"
)

// Known exchange drivers and feed modes.
var (
	knownDrivers = map[string]bool{"binance": true, "coinbase": true}
	knownModes   = map[string]bool{"poll": true, "stream": true}
	knownLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
)

// Validate checks that all required fields are set and values are valid.
func (c *HubConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if !knownLevels[c.Log.Level] {
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}

	if c.Hub.QueueSize < 1 {
		return errors.New("hub.queue_size must be >= 1")
	}
	if c.Hub.SlowConsumerGrace <= 0 {
		return errors.New("hub.slow_consumer_grace must be > 0")
	}

	if c.Feeds.StalenessWindow <= 0 {
		return errors.New("feeds.staleness_window must be > 0")
	}
	if c.Feeds.ReconnectMaxDelay < c.Feeds.ReconnectBaseDelay {
		return fmt.Errorf("feeds.reconnect_max_delay (%s) cannot be less than reconnect_base_delay (%s)",
			c.Feeds.ReconnectMaxDelay, c.Feeds.ReconnectBaseDelay)
	}

	if c.Simulator.Volatility <= 0 || c.Simulator.Volatility >= 1 {
		return fmt.Errorf("simulator.volatility must be in (0, 1), got %g", c.Simulator.Volatility)
	}
	if c.Simulator.DepthDecay <= 0 || c.Simulator.DepthDecay > 1 {
		return fmt.Errorf("simulator.depth_decay must be in (0, 1], got %g", c.Simulator.DepthDecay)
	}
	if c.Simulator.Depth < 1 {
		return errors.New("simulator.depth must be >= 1")
	}

	seen := make(map[string]bool, len(c.Exchanges))
	for i, e := range c.Exchanges {
		if err := e.validate(fmt.Sprintf("exchanges[%d]", i)); err != nil {
			return err
		}
		if seen[e.ID] {
			return fmt.Errorf("exchanges[%d].id %q is duplicated", i, e.ID)
		}
		seen[e.ID] = true
	}

	if c.Database.Postgres.Enabled() {
		if err := c.Database.Postgres.validate("database.postgres"); err != nil {
			return err
		}
		if c.Writer.BatchSize < 1 {
			return errors.New("writer.batch_size must be >= 1")
		}
		if c.Writer.BufferSize < 1 {
			return errors.New("writer.buffer_size must be >= 1")
		}
	}

	return nil
}

func (e *ExchangeConfig) validate(prefix string) error {
	if e.ID == "" {
		return fmt.Errorf("%s.id is required", prefix)
	}
	if !knownDrivers[e.Driver] {
		return fmt.Errorf("%s.driver %q is not supported", prefix, e.Driver)
	}
	if !knownModes[e.Mode] {
		return fmt.Errorf("%s.mode %q must be poll or stream", prefix, e.Mode)
	}
	if e.RateLimit <= 0 {
		return fmt.Errorf("%s.rate_limit must be > 0", prefix)
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
