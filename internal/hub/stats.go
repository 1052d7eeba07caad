package hub

import (
	"sort"
	"time"

	"github.com/rickgao/cryptodash/internal/feed"
	"github.com/rickgao/cryptodash/internal/model"
)

// ChannelStats describes one live channel.
type ChannelStats struct {
	Channel     string            `json:"channel"`
	Type        model.ChannelType `json:"channelType"`
	Source      feed.Kind         `json:"source"`
	RefCount    int               `json:"refCount"`
	Delivered   int64             `json:"delivered"`
	Stale       bool              `json:"stale"`
	LastEventAt int64             `json:"lastEventAt,omitempty"`
	Since       time.Time         `json:"since"`
}

// Stats is a point-in-time view of the registry.
type Stats struct {
	Connections  int            `json:"connections"`
	Channels     int            `json:"channels"`
	FeedsStarted int64          `json:"feedsStarted"`
	FeedsStopped int64          `json:"feedsStopped"`
	Violations   int64          `json:"violations"`
	Detail       []ChannelStats `json:"detail"`
}

// Stats returns registry counters and per-channel detail sorted by channel.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	states := make([]*channelState, 0, len(h.channels))
	for _, s := range h.channels {
		states = append(states, s)
	}
	conns := len(h.conns)
	h.mu.RUnlock()

	detail := make([]ChannelStats, 0, len(states))
	for _, s := range states {
		s.mu.Lock()
		cs := ChannelStats{
			Channel:   s.key.String(),
			Type:      s.key.Type,
			Source:    s.kind,
			RefCount:  len(s.subscribers),
			Delivered: s.delivered.Load(),
			Stale:     s.staleMarker != nil,
			Since:     s.createdAt,
		}
		if s.lastEvent != nil {
			cs.LastEventAt = s.lastEvent.Timestamp()
		}
		s.mu.Unlock()
		detail = append(detail, cs)
	}
	sort.Slice(detail, func(i, j int) bool { return detail[i].Channel < detail[j].Channel })

	return Stats{
		Connections:  conns,
		Channels:     len(detail),
		FeedsStarted: h.feedsStarted.Load(),
		FeedsStopped: h.feedsStopped.Load(),
		Violations:   h.violations.Load(),
		Detail:       detail,
	}
}

// RefCount returns the number of subscriptions to key.
func (h *Hub) RefCount(key model.ChannelKey) int {
	key = key.Normalize()
	h.mu.RLock()
	state := h.channels[key]
	h.mu.RUnlock()
	if state == nil {
		return 0
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return len(state.subscribers)
}
