package session

import (
	"reflect"
	"sync"
	"time"

	"github.com/rickgao/cryptodash/internal/model"
)

// QueueStats counts queue outcomes.
type QueueStats struct {
	Enqueued  int64 `json:"enqueued"`
	Coalesced int64 `json:"coalesced"`
	Dropped   int64 `json:"dropped"`
}

// Queue is a bounded outbound event queue with per-type overflow policy.
type Queue struct {
	capacity int
	now      func() time.Time

	mu        sync.Mutex
	items     []model.Event
	fullSince time.Time // zero unless priority events overflow capacity
	stats     QueueStats

	notify chan struct{}
}

// NewQueue creates a queue holding capacity events before overflow
// handling applies.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		capacity: capacity,
		now:      time.Now,
		items:    make([]model.Event, 0, capacity),
		notify:   make(chan struct{}, 1),
	}
}

// Push enqueues ev. When the queue is full:
//   - priority events are appended past capacity
//   - lossy events replace queued events of the same key and variant
//   - otherwise the oldest lossy event of the same channel type is dropped
//   - otherwise ev itself is dropped
//
// Push returns how long priority events have continuously held the queue
// past capacity. Lossy overflow never starts that clock.
func (q *Queue) Push(ev model.Event) time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) < q.capacity || model.IsPriority(ev) {
		q.append(ev)
		return q.saturation()
	}

	if q.coalesce(ev) {
		q.append(ev)
		return q.saturation()
	}

	if q.dropOldestOfType(ev.Key().Type) {
		q.append(ev)
		return q.saturation()
	}

	q.stats.Dropped++
	return q.saturation()
}

func (q *Queue) append(ev model.Event) {
	q.items = append(q.items, ev)
	q.stats.Enqueued++
	q.track()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// coalesce removes every queued lossy event with ev's key and variant.
func (q *Queue) coalesce(ev model.Event) bool {
	key := ev.Key()
	typ := reflect.TypeOf(ev)

	kept := q.items[:0]
	removed := 0
	for _, e := range q.items {
		if !model.IsPriority(e) && e.Key() == key && reflect.TypeOf(e) == typ {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	clear(q.items[len(kept):])
	q.items = kept
	q.stats.Coalesced += int64(removed)
	return removed > 0
}

// dropOldestOfType removes the oldest lossy event of channel type t.
func (q *Queue) dropOldestOfType(t model.ChannelType) bool {
	for i, e := range q.items {
		if !model.IsPriority(e) && e.Key().Type == t {
			q.items = append(q.items[:i], q.items[i+1:]...)
			q.stats.Dropped++
			return true
		}
	}
	return false
}

// track starts the saturation clock when the queue grows past capacity and
// clears it once the queue is back within capacity. Only priority events can
// grow the queue past capacity.
func (q *Queue) track() {
	switch {
	case len(q.items) <= q.capacity:
		q.fullSince = time.Time{}
	case q.fullSince.IsZero():
		q.fullSince = q.now()
	}
}

func (q *Queue) saturation() time.Duration {
	if q.fullSince.IsZero() {
		return 0
	}
	return q.now().Sub(q.fullSince)
}

// Pop removes and returns the oldest event.
func (q *Queue) Pop() (model.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	ev := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	q.track()
	return ev, true
}

// Notify returns a channel signalled after events are appended.
func (q *Queue) Notify() <-chan struct{} {
	return q.notify
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot returns the queued events, oldest first.
func (q *Queue) Snapshot() []model.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]model.Event, len(q.items))
	copy(out, q.items)
	return out
}

// Stats returns the queue counters.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// Discard drops every queued event.
func (q *Queue) Discard() {
	q.mu.Lock()
	defer q.mu.Unlock()
	clear(q.items)
	q.items = q.items[:0]
	q.fullSince = time.Time{}
}
