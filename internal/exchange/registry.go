package exchange

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rickgao/cryptodash/internal/config"
)

// Registry holds the exchange adapters built from configuration.
type Registry struct {
	mu        sync.RWMutex
	exchanges map[string]Exchange
	configs   map[string]config.ExchangeConfig
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		exchanges: make(map[string]Exchange),
		configs:   make(map[string]config.ExchangeConfig),
	}
}

// NewRegistryFromConfig builds one adapter per configured exchange.
func NewRegistryFromConfig(cfgs []config.ExchangeConfig, requestTimeout time.Duration, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	r := NewRegistry()
	httpClient := &http.Client{Timeout: requestTimeout}

	for _, cfg := range cfgs {
		var ex Exchange
		switch cfg.Driver {
		case "binance":
			ex = NewBinance(cfg, httpClient)
		case "coinbase":
			ex = NewCoinbase(cfg, httpClient, logger)
		default:
			return nil, fmt.Errorf("exchange %s: driver %q: %w", cfg.ID, cfg.Driver, ErrUnknownExchange)
		}
		r.Register(cfg, ex)

		logger.Info("exchange configured",
			"id", cfg.ID,
			"driver", cfg.Driver,
			"mode", cfg.Mode,
			"live", cfg.HasCredentials(),
		)
	}

	return r, nil
}

// Register adds or replaces an adapter.
func (r *Registry) Register(cfg config.ExchangeConfig, ex Exchange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exchanges[cfg.ID] = ex
	r.configs[cfg.ID] = cfg
}

// Get returns the adapter for id.
func (r *Registry) Get(id string) (Exchange, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ex, ok := r.exchanges[id]
	return ex, ok
}

// Config returns the configuration for id.
func (r *Registry) Config(id string) (config.ExchangeConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[id]
	return cfg, ok
}

// Has reports whether id is configured.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.configs[id]
	return ok
}

// IDs returns the configured exchange ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.configs))
	for id := range r.configs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Configs returns all exchange configurations, sorted by id.
func (r *Registry) Configs() []config.ExchangeConfig {
	ids := r.IDs()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]config.ExchangeConfig, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.configs[id])
	}
	return out
}
