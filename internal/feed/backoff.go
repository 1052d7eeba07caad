package feed

import (
	"math/rand/v2"
	"time"
)

// Backoff computes reconnect delays: exponential growth from Base capped
// at Max, with full jitter.
type Backoff struct {
	Base time.Duration
	Max  time.Duration

	attempt int
}

// Next returns the delay before the next attempt and advances the counter.
func (b *Backoff) Next() time.Duration {
	ceiling := b.ceiling()
	b.attempt++
	if ceiling <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(ceiling) + 1))
}

// Reset restarts the sequence after a successful attempt.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// ceiling is min(Max, Base * 2^attempt).
func (b *Backoff) ceiling() time.Duration {
	d := b.Base
	for i := 0; i < b.attempt; i++ {
		d *= 2
		if d >= b.Max || d <= 0 {
			return b.Max
		}
	}
	if d > b.Max {
		return b.Max
	}
	return d
}

// sleep waits d or until done is closed. It returns false if done closed.
func sleep(done <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-done:
		return false
	case <-t.C:
		return true
	}
}
