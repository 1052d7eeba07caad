package hub

import (
	"fmt"

	"github.com/rickgao/cryptodash/internal/model"
)

// pump drains one channel's stream and dispatches each event. It exits
// when the stream's event channel closes.
func (h *Hub) pump(state *channelState) {
	defer close(state.pumpDone)

	for ev := range state.stream.Events() {
		if ev.Key() != state.key {
			h.violation(state.key, fmt.Sprintf("event routed under %s", ev.Key()))
			// evict takes the key lock and waits for this pump; run it apart.
			go h.evict(state, "channel reset")
			h.drain(state)
			return
		}
		if state.stopping.Load() {
			continue
		}
		h.dispatch(state, ev)
	}

	if !state.stopping.Load() {
		h.violation(state.key, "upstream ended without stop")
		go h.evict(state, "upstream ended")
	}
}

// drain discards remaining events until the stream closes.
func (h *Hub) drain(state *channelState) {
	for range state.stream.Events() {
	}
}

// dispatch records ev as the channel's latest value and hands it to every
// subscriber and tap without blocking.
func (h *Hub) dispatch(state *channelState, ev model.Event) {
	state.mu.Lock()
	if stale, ok := ev.(model.StaleEvent); ok {
		if stale.Stale {
			state.staleMarker = &stale
		} else {
			state.staleMarker = nil
		}
	} else {
		state.lastEvent = ev
	}
	// Deliver never blocks, so delivering under the state lock is cheap and
	// guarantees no event reaches a subscriber after its Unsubscribe returns.
	for _, s := range state.subscribers {
		s.Deliver(ev)
	}
	state.mu.Unlock()
	state.delivered.Add(1)

	h.mu.RLock()
	taps := h.taps
	h.mu.RUnlock()
	for _, t := range taps {
		t.Observe(ev)
	}
}
