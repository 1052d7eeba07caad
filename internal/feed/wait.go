package feed

import (
	"context"
	"time"
)

// waitStale sleeps for d while emitting a stale marker if the window
// elapses meanwhile. It returns false when ctx is done or emit fails.
func waitStale(ctx context.Context, d time.Duration, tracker *staleTracker, reason string, emit EmitFunc) bool {
	if ev, ok := tracker.check(reason); ok && !emit(ev) {
		return false
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	var tick <-chan time.Time
	if tracker.window > 0 {
		t := time.NewTicker(checkInterval(tracker.window))
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		case <-tick:
			if ev, ok := tracker.check(reason); ok && !emit(ev) {
				return false
			}
		}
	}
}

// checkInterval is how often staleness is evaluated for a window.
func checkInterval(window time.Duration) time.Duration {
	d := window / 4
	if d < 10*time.Millisecond {
		d = 10 * time.Millisecond
	}
	return d
}
