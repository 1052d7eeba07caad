package feed

import (
	"fmt"

	"github.com/rickgao/cryptodash/internal/exchange"
	"github.com/rickgao/cryptodash/internal/model"
)

// Kind names the adapter family serving a key.
type Kind string

const (
	KindPoll      Kind = "poll"
	KindStream    Kind = "stream"
	KindPush      Kind = "push"
	KindSimulator Kind = "simulator"
)

// SelectorConfig holds the configuration inputs of source selection.
type SelectorConfig struct {
	ForceSimulator bool // Simulate every key
	PushSignals    bool // Signals come from PushSource
	PushOrders     bool // Order status comes from PushSource
}

// Selector maps a channel key to the Source that serves it. The result
// depends only on configuration, never on runtime state.
type Selector struct {
	cfg       SelectorConfig
	registry  *exchange.Registry
	poll      Source
	stream    Source
	push      Source
	simulator Source
}

// NewSelector creates a selector. Any live source may be nil when the
// corresponding mode is unused.
func NewSelector(cfg SelectorConfig, registry *exchange.Registry, poll, stream, push, simulator Source) *Selector {
	return &Selector{
		cfg:       cfg,
		registry:  registry,
		poll:      poll,
		stream:    stream,
		push:      push,
		simulator: simulator,
	}
}

// Select returns the source for key and its kind. Keys referencing an
// exchange that is not configured are rejected with ErrInvalidChannel.
func (s *Selector) Select(key model.ChannelKey) (Source, Kind, error) {
	switch key.Type {
	case model.ChannelSignal:
		if s.cfg.PushSignals && s.push != nil {
			return s.push, KindPush, nil
		}
		return s.simulator, KindSimulator, nil

	case model.ChannelOrderStatus:
		if key.Exchange != "" && !s.registry.Has(key.Exchange) {
			return nil, "", fmt.Errorf("%w: exchange %q not configured", model.ErrInvalidChannel, key.Exchange)
		}
		if s.cfg.PushOrders && s.push != nil {
			return s.push, KindPush, nil
		}
		return s.simulator, KindSimulator, nil
	}

	exCfg, ok := s.registry.Config(key.Exchange)
	if !ok {
		return nil, "", fmt.Errorf("%w: exchange %q not configured", model.ErrInvalidChannel, key.Exchange)
	}

	if s.cfg.ForceSimulator || !exCfg.HasCredentials() {
		return s.simulator, KindSimulator, nil
	}
	if exCfg.Mode == "stream" && exCfg.Driver == "binance" && s.stream != nil {
		return s.stream, KindStream, nil
	}
	if s.poll != nil {
		return s.poll, KindPoll, nil
	}
	return s.simulator, KindSimulator, nil
}
