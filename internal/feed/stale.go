package feed

import (
	"time"

	"github.com/rickgao/cryptodash/internal/model"
)

// staleTracker emits stale and recovered markers for one key.
type staleTracker struct {
	key    model.ChannelKey
	window time.Duration
	now    func() time.Time

	lastData time.Time
	started  time.Time
	stale    bool
}

func newStaleTracker(key model.ChannelKey, window time.Duration) *staleTracker {
	now := time.Now()
	return &staleTracker{key: key, window: window, now: time.Now, started: now}
}

// observe records real data. It returns a recovery marker if the key was stale.
func (s *staleTracker) observe() (model.StaleEvent, bool) {
	s.lastData = s.now()
	if !s.stale {
		return model.StaleEvent{}, false
	}
	s.stale = false
	return model.StaleEvent{
		Channel:    s.key,
		Stale:      false,
		LastDataAt: s.lastData.UnixMilli(),
		Ts:         s.lastData.UnixMilli(),
	}, true
}

// check returns a stale marker when the window has elapsed without data.
// It fires once per stale period.
func (s *staleTracker) check(reason string) (model.StaleEvent, bool) {
	if s.stale || s.window <= 0 {
		return model.StaleEvent{}, false
	}
	ref := s.lastData
	if ref.IsZero() {
		ref = s.started
	}
	now := s.now()
	if now.Sub(ref) < s.window {
		return model.StaleEvent{}, false
	}
	s.stale = true
	ev := model.StaleEvent{
		Channel: s.key,
		Stale:   true,
		Reason:  reason,
		Ts:      now.UnixMilli(),
	}
	if !s.lastData.IsZero() {
		ev.LastDataAt = s.lastData.UnixMilli()
	}
	return ev, true
}
