package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/cryptodash/internal/feed"
	"github.com/rickgao/cryptodash/internal/model"
)

// ErrRegistryInvariant reports an internal inconsistency. The affected key
// is torn down and may be recreated by the next subscribe.
var ErrRegistryInvariant = errors.New("registry invariant violated")

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("hub closed")

// Subscriber is one downstream connection.
type Subscriber interface {
	// ID returns the unique connection id.
	ID() string

	// Deliver hands ev to the connection's outbound queue. It must not block
	// and must not call back into the hub.
	Deliver(ev model.Event)
}

// Selector chooses the upstream source for a key.
type Selector interface {
	Select(key model.ChannelKey) (feed.Source, feed.Kind, error)
}

// Tap observes every dispatched event. Observe must not block.
type Tap interface {
	Observe(ev model.Event)
}

// Subscription links a connection to a channel key.
type Subscription struct {
	ConnID    string
	Key       model.ChannelKey
	CreatedAt time.Time
}

// channelState is the shared state of one subscribed key.
type channelState struct {
	key       model.ChannelKey
	kind      feed.Kind
	stream    feed.Stream
	createdAt time.Time
	pumpDone  chan struct{}
	stopping  atomic.Bool
	delivered atomic.Int64

	mu          sync.Mutex
	subscribers map[string]Subscriber
	lastEvent   model.Event
	staleMarker *model.StaleEvent
}

// Hub is the subscription registry and fan-out router.
type Hub struct {
	selector Selector
	logger   *slog.Logger

	// Upstream streams live for the hub's lifetime, not a request's.
	ctx    context.Context
	cancel context.CancelFunc

	locks *keyLock

	mu       sync.RWMutex
	channels map[model.ChannelKey]*channelState
	conns    map[string]map[model.ChannelKey]Subscription
	taps     []Tap
	closed   bool

	feedsStarted atomic.Int64
	feedsStopped atomic.Int64
	violations   atomic.Int64
}

// New creates a hub that starts upstream streams through selector.
func New(selector Selector, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		selector: selector,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		locks:    newKeyLock(),
		channels: make(map[model.ChannelKey]*channelState),
		conns:    make(map[string]map[model.ChannelKey]Subscription),
	}
}

// AddTap registers an observer of every dispatched event.
func (h *Hub) AddTap(t Tap) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.taps = append(h.taps, t)
}

// Subscribe adds a subscription for sub to key and returns the normalized
// key. The first subscription for a key starts its upstream; repeating a
// subscription is a no-op. Malformed keys and unknown exchanges fail with
// model.ErrInvalidChannel and change nothing.
func (h *Hub) Subscribe(sub Subscriber, key model.ChannelKey) (model.ChannelKey, error) {
	key = key.Normalize()
	if err := key.Validate(); err != nil {
		return key, err
	}

	h.locks.Lock(key)
	defer h.locks.Unlock(key)

	h.mu.RLock()
	closed := h.closed
	_, exists := h.conns[sub.ID()][key]
	state := h.channels[key]
	h.mu.RUnlock()

	if closed {
		return key, ErrClosed
	}
	if exists {
		return key, nil
	}

	if state == nil {
		var err error
		state, err = h.startChannel(key)
		if err != nil {
			return key, err
		}
	}

	// Snapshot-on-join happens under the state lock, so it is ordered
	// before any event the pump dispatches afterwards.
	state.mu.Lock()
	state.subscribers[sub.ID()] = sub
	if state.lastEvent != nil {
		sub.Deliver(state.lastEvent)
	}
	if state.staleMarker != nil {
		sub.Deliver(*state.staleMarker)
	}
	state.mu.Unlock()

	h.mu.Lock()
	keys, ok := h.conns[sub.ID()]
	if !ok {
		keys = make(map[model.ChannelKey]Subscription)
		h.conns[sub.ID()] = keys
	}
	keys[key] = Subscription{ConnID: sub.ID(), Key: key, CreatedAt: time.Now()}
	h.mu.Unlock()

	return key, nil
}

// startChannel creates the state for key and starts its upstream and pump.
// The caller holds the key lock.
func (h *Hub) startChannel(key model.ChannelKey) (*channelState, error) {
	source, kind, err := h.selector.Select(key)
	if err != nil {
		return nil, err
	}

	stream, err := source.Start(h.ctx, key)
	if err != nil {
		return nil, fmt.Errorf("start %s feed for %s: %w", kind, key, err)
	}

	state := &channelState{
		key:         key,
		kind:        kind,
		stream:      stream,
		createdAt:   time.Now(),
		pumpDone:    make(chan struct{}),
		subscribers: make(map[string]Subscriber),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		stream.Stop()
		return nil, ErrClosed
	}
	h.channels[key] = state
	h.mu.Unlock()

	h.feedsStarted.Add(1)
	go h.pump(state)

	h.logger.Info("channel started", "channel", key.String(), "source", kind)
	return state, nil
}

// Unsubscribe removes the subscription of connID to key. When it was the
// last one, the upstream is stopped before Unsubscribe returns.
func (h *Hub) Unsubscribe(connID string, key model.ChannelKey) model.ChannelKey {
	key = key.Normalize()

	h.locks.Lock(key)
	defer h.locks.Unlock(key)

	h.unsubscribeLocked(connID, key)
	return key
}

// Disconnect removes every subscription of connID.
func (h *Hub) Disconnect(connID string) {
	h.mu.RLock()
	keys := make([]model.ChannelKey, 0, len(h.conns[connID]))
	for key := range h.conns[connID] {
		keys = append(keys, key)
	}
	h.mu.RUnlock()

	for _, key := range keys {
		h.locks.Lock(key)
		h.unsubscribeLocked(connID, key)
		h.locks.Unlock(key)
	}

	h.mu.Lock()
	if len(h.conns[connID]) == 0 {
		delete(h.conns, connID)
	}
	h.mu.Unlock()
}

// unsubscribeLocked removes one subscription. The caller holds the key lock.
func (h *Hub) unsubscribeLocked(connID string, key model.ChannelKey) {
	h.mu.Lock()
	keys := h.conns[connID]
	if _, ok := keys[key]; !ok {
		h.mu.Unlock()
		return
	}
	delete(keys, key)
	if len(keys) == 0 {
		delete(h.conns, connID)
	}
	state := h.channels[key]
	h.mu.Unlock()

	if state == nil {
		h.violation(key, "subscription without channel state")
		return
	}

	state.mu.Lock()
	delete(state.subscribers, connID)
	remaining := len(state.subscribers)
	state.mu.Unlock()

	if remaining == 0 {
		h.stopChannel(state)
	}
}

// stopChannel removes state and blocks until its upstream and pump have
// exited. The caller holds the key lock.
func (h *Hub) stopChannel(state *channelState) {
	h.mu.Lock()
	if h.channels[state.key] == state {
		delete(h.channels, state.key)
	}
	h.mu.Unlock()

	state.stopping.Store(true)
	state.stream.Stop()
	<-state.pumpDone

	h.feedsStopped.Add(1)
	h.logger.Info("channel stopped",
		"channel", state.key.String(),
		"delivered", state.delivered.Load(),
	)
}

// evict tears down state and drops every subscription to its key.
// Subscribers receive a stale marker so clients can resubscribe.
func (h *Hub) evict(state *channelState, reason string) {
	key := state.key

	h.locks.Lock(key)
	defer h.locks.Unlock(key)

	h.mu.Lock()
	if h.channels[key] != state {
		h.mu.Unlock()
		return
	}
	for connID, keys := range h.conns {
		if _, ok := keys[key]; ok {
			delete(keys, key)
			if len(keys) == 0 {
				delete(h.conns, connID)
			}
		}
	}
	h.mu.Unlock()

	state.mu.Lock()
	subs := make([]Subscriber, 0, len(state.subscribers))
	for _, s := range state.subscribers {
		subs = append(subs, s)
	}
	state.subscribers = make(map[string]Subscriber)
	state.mu.Unlock()

	h.stopChannel(state)

	marker := model.StaleEvent{Channel: key, Stale: true, Reason: reason, Ts: time.Now().UnixMilli()}
	for _, s := range subs {
		s.Deliver(marker)
	}
}

// violation logs an invariant breach.
func (h *Hub) violation(key model.ChannelKey, detail string) {
	h.violations.Add(1)
	h.logger.Error("registry invariant violated",
		"channel", key.String(),
		"detail", detail,
		"error", ErrRegistryInvariant,
	)
}

// Subscriptions returns the keys connID is subscribed to.
func (h *Hub) Subscriptions(connID string) []Subscription {
	h.mu.RLock()
	defer h.mu.RUnlock()
	subs := make([]Subscription, 0, len(h.conns[connID]))
	for _, s := range h.conns[connID] {
		subs = append(subs, s)
	}
	return subs
}

// Latest returns the last data event dispatched for key, if its channel is live.
func (h *Hub) Latest(key model.ChannelKey) (model.Event, bool) {
	key = key.Normalize()
	h.mu.RLock()
	state := h.channels[key]
	h.mu.RUnlock()
	if state == nil {
		return nil, false
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.lastEvent, state.lastEvent != nil
}

// Close stops every upstream. Later subscribes fail with ErrClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	states := make([]*channelState, 0, len(h.channels))
	for _, s := range h.channels {
		states = append(states, s)
	}
	h.mu.Unlock()

	for _, s := range states {
		h.locks.Lock(s.key)
		h.mu.RLock()
		live := h.channels[s.key] == s
		h.mu.RUnlock()
		if live {
			h.stopChannel(s)
		}
		h.locks.Unlock(s.key)
	}

	h.cancel()

	h.mu.Lock()
	h.conns = make(map[string]map[model.ChannelKey]Subscription)
	h.mu.Unlock()
}
