package hub

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rickgao/cryptodash/internal/feed"
	"github.com/rickgao/cryptodash/internal/model"
)

// -----------------------------------------------------------------------------
// Fakes
// -----------------------------------------------------------------------------

type fakeStream struct {
	feed.Stream
	inbox    chan model.Event
	src      *fakeSource
	stopOnce sync.Once
}

func (f *fakeStream) Stop() {
	f.Stream.Stop()
	f.stopOnce.Do(func() { f.src.active.Add(-1) })
}

type fakeSource struct {
	starts    atomic.Int64
	active    atomic.Int64
	maxActive atomic.Int64

	mu      sync.Mutex
	streams map[model.ChannelKey]*fakeStream
	perKey  map[model.ChannelKey]int
	maxKey  int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		streams: make(map[model.ChannelKey]*fakeStream),
		perKey:  make(map[model.ChannelKey]int),
	}
}

func (f *fakeSource) Start(ctx context.Context, key model.ChannelKey) (feed.Stream, error) {
	f.starts.Add(1)
	n := f.active.Add(1)
	for {
		m := f.maxActive.Load()
		if n <= m || f.maxActive.CompareAndSwap(m, n) {
			break
		}
	}

	fs := &fakeStream{inbox: make(chan model.Event, 256), src: f}
	fs.Stream = feed.NewStream(ctx, 256, func(ctx context.Context, emit feed.EmitFunc) {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-fs.inbox:
				if !emit(ev) {
					return
				}
			}
		}
	})

	f.mu.Lock()
	f.streams[key] = fs
	f.perKey[key]++
	if f.perKey[key] > f.maxKey {
		f.maxKey = f.perKey[key]
	}
	f.mu.Unlock()

	return &keyTrackingStream{fakeStream: fs, key: key}, nil
}

// keyTrackingStream maintains the per-key live count for a fake stream.
type keyTrackingStream struct {
	*fakeStream
	key  model.ChannelKey
	once sync.Once
}

func (k *keyTrackingStream) Stop() {
	k.fakeStream.Stop()
	k.once.Do(func() {
		k.src.mu.Lock()
		k.src.perKey[k.key]--
		k.src.mu.Unlock()
	})
}

func (f *fakeSource) emit(t *testing.T, key model.ChannelKey, ev model.Event) {
	t.Helper()
	f.mu.Lock()
	fs := f.streams[key]
	f.mu.Unlock()
	if fs == nil {
		t.Fatalf("no stream for %s", key)
	}
	fs.inbox <- ev
}

type fakeSelector struct {
	src *fakeSource
}

func (s *fakeSelector) Select(key model.ChannelKey) (feed.Source, feed.Kind, error) {
	if key.Exchange == "unknown" {
		return nil, "", fmt.Errorf("%w: exchange not configured", model.ErrInvalidChannel)
	}
	return s.src, feed.KindSimulator, nil
}

type fakeSubscriber struct {
	id string

	mu     sync.Mutex
	events []model.Event
}

func (f *fakeSubscriber) ID() string { return f.id }

func (f *fakeSubscriber) Deliver(ev model.Event) {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
}

func (f *fakeSubscriber) received() []model.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Event, len(f.events))
	copy(out, f.events)
	return out
}

// lateSubscriber counts deliveries that arrive after gone is set.
type lateSubscriber struct {
	fakeSubscriber
	gone atomic.Bool
	late atomic.Int64
}

func (l *lateSubscriber) Deliver(ev model.Event) {
	if l.gone.Load() {
		l.late.Add(1)
	}
	l.fakeSubscriber.Deliver(ev)
}

// gatedSource blocks Start until release is closed.
type gatedSource struct {
	*fakeSource
	entered chan struct{}
	release chan struct{}
}

func (g *gatedSource) Start(ctx context.Context, key model.ChannelKey) (feed.Stream, error) {
	close(g.entered)
	<-g.release
	return g.fakeSource.Start(ctx, key)
}

type staticSelector struct {
	src feed.Source
}

func (s staticSelector) Select(model.ChannelKey) (feed.Source, feed.Kind, error) {
	return s.src, feed.KindSimulator, nil
}

type countingTap struct {
	n atomic.Int64
}

func (c *countingTap) Observe(ev model.Event) { c.n.Add(1) }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func btcTicker() model.ChannelKey {
	return model.ChannelKey{Type: model.ChannelTicker, Exchange: "binance", Symbol: "BTC/USDT"}
}

func tick(key model.ChannelKey, price float64) model.TickerEvent {
	return model.TickerEvent{Channel: key, Symbol: key.Symbol, Price: price, Ts: int64(price)}
}

func newTestHub() (*Hub, *fakeSource) {
	src := newFakeSource()
	return New(&fakeSelector{src: src}, nil), src
}

// -----------------------------------------------------------------------------
// Registry
// -----------------------------------------------------------------------------

func TestSubscribe_SharesOneFeedPerKey(t *testing.T) {
	h, src := newTestHub()
	defer h.Close()

	a := &fakeSubscriber{id: "a"}
	b := &fakeSubscriber{id: "b"}

	if _, err := h.Subscribe(a, btcTicker()); err != nil {
		t.Fatalf("Subscribe a failed: %v", err)
	}
	if _, err := h.Subscribe(b, btcTicker()); err != nil {
		t.Fatalf("Subscribe b failed: %v", err)
	}

	if got := src.starts.Load(); got != 1 {
		t.Errorf("starts = %d, want 1", got)
	}
	if got := h.RefCount(btcTicker()); got != 2 {
		t.Errorf("RefCount = %d, want 2", got)
	}
}

func TestSubscribe_NormalizesKey(t *testing.T) {
	h, src := newTestHub()
	defer h.Close()

	raw := model.ChannelKey{Type: model.ChannelTicker, Exchange: "Binance", Symbol: "btc/usdt", Timeframe: "1m"}
	key, err := h.Subscribe(&fakeSubscriber{id: "a"}, raw)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if key != btcTicker() {
		t.Errorf("key = %v, want %v", key, btcTicker())
	}

	h.Subscribe(&fakeSubscriber{id: "b"}, btcTicker())
	if got := src.starts.Load(); got != 1 {
		t.Errorf("starts = %d, want 1", got)
	}
}

func TestSubscribe_Idempotent(t *testing.T) {
	h, src := newTestHub()
	defer h.Close()

	a := &fakeSubscriber{id: "a"}
	h.Subscribe(a, btcTicker())
	h.Subscribe(a, btcTicker())

	if got := h.RefCount(btcTicker()); got != 1 {
		t.Errorf("RefCount = %d, want 1", got)
	}
	if got := src.starts.Load(); got != 1 {
		t.Errorf("starts = %d, want 1", got)
	}
	if got := len(h.Subscriptions("a")); got != 1 {
		t.Errorf("subscriptions = %d, want 1", got)
	}
}

func TestSubscribe_InvalidChannel(t *testing.T) {
	h, src := newTestHub()
	defer h.Close()

	tests := []struct {
		name string
		key  model.ChannelKey
	}{
		{"unknown type", model.ChannelKey{Type: "trades", Exchange: "binance", Symbol: "BTC/USDT"}},
		{"bad symbol", model.ChannelKey{Type: model.ChannelTicker, Exchange: "binance", Symbol: "BTCUSDT"}},
		{"bad timeframe", model.ChannelKey{Type: model.ChannelKline, Exchange: "binance", Symbol: "BTC/USDT", Timeframe: "7m"}},
		{"unknown exchange", model.ChannelKey{Type: model.ChannelTicker, Exchange: "unknown", Symbol: "BTC/USDT"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Subscribe(&fakeSubscriber{id: "a"}, tt.key)
			if !errors.Is(err, model.ErrInvalidChannel) {
				t.Errorf("expected ErrInvalidChannel, got %v", err)
			}
		})
	}

	if got := src.starts.Load(); got != 0 {
		t.Errorf("starts = %d, want 0", got)
	}
	stats := h.Stats()
	if stats.Channels != 0 || stats.Connections != 0 {
		t.Errorf("stats = %+v, want empty registry", stats)
	}
}

func TestUnsubscribe_LastStopsFeedAndRestarts(t *testing.T) {
	h, src := newTestHub()
	defer h.Close()

	a := &fakeSubscriber{id: "a"}
	b := &fakeSubscriber{id: "b"}
	h.Subscribe(a, btcTicker())
	h.Subscribe(b, btcTicker())

	h.Unsubscribe("a", btcTicker())
	if got := src.active.Load(); got != 1 {
		t.Errorf("active after first unsubscribe = %d, want 1", got)
	}

	h.Unsubscribe("b", btcTicker())
	if got := src.active.Load(); got != 0 {
		t.Errorf("active after last unsubscribe = %d, want 0", got)
	}
	if got := h.Stats().Channels; got != 0 {
		t.Errorf("channels = %d, want 0", got)
	}

	h.Subscribe(a, btcTicker())
	if got := src.starts.Load(); got != 2 {
		t.Errorf("starts = %d, want 2", got)
	}
	if got := src.active.Load(); got != 1 {
		t.Errorf("active = %d, want 1", got)
	}
}

func TestUnsubscribe_UnknownIsNoop(t *testing.T) {
	h, src := newTestHub()
	defer h.Close()

	h.Subscribe(&fakeSubscriber{id: "a"}, btcTicker())
	h.Unsubscribe("b", btcTicker())

	if got := h.RefCount(btcTicker()); got != 1 {
		t.Errorf("RefCount = %d, want 1", got)
	}
	if got := src.active.Load(); got != 1 {
		t.Errorf("active = %d, want 1", got)
	}
}

func TestDisconnect_RemovesAllSubscriptions(t *testing.T) {
	h, src := newTestHub()
	defer h.Close()

	eth := model.ChannelKey{Type: model.ChannelTicker, Exchange: "binance", Symbol: "ETH/USDT"}
	orders := model.ChannelKey{Type: model.ChannelOrderStatus, UserID: "u1"}

	a := &fakeSubscriber{id: "a"}
	b := &fakeSubscriber{id: "b"}
	for _, k := range []model.ChannelKey{btcTicker(), eth, orders} {
		if _, err := h.Subscribe(a, k); err != nil {
			t.Fatalf("Subscribe %s failed: %v", k, err)
		}
	}
	h.Subscribe(b, btcTicker())

	h.Disconnect("a")

	if got := len(h.Subscriptions("a")); got != 0 {
		t.Errorf("subscriptions of a = %d, want 0", got)
	}
	if got := h.Stats().Channels; got != 1 {
		t.Errorf("channels = %d, want 1", got)
	}
	if got := src.active.Load(); got != 1 {
		t.Errorf("active = %d, want 1", got)
	}
	if got := h.RefCount(btcTicker()); got != 1 {
		t.Errorf("RefCount = %d, want 1", got)
	}

	src.emit(t, btcTicker(), tick(btcTicker(), 1))
	waitFor(t, "delivery to b", func() bool { return len(b.received()) == 1 })
	if got := len(a.received()); got != 0 {
		t.Errorf("a received %d events after disconnect, want 0", got)
	}
}

// -----------------------------------------------------------------------------
// Router
// -----------------------------------------------------------------------------

func TestRouter_TwoConnectionTicker(t *testing.T) {
	h, src := newTestHub()
	defer h.Close()

	a := &fakeSubscriber{id: "a"}
	b := &fakeSubscriber{id: "b"}
	h.Subscribe(a, btcTicker())
	h.Subscribe(b, btcTicker())

	for i := 1; i <= 3; i++ {
		src.emit(t, btcTicker(), tick(btcTicker(), float64(i)))
	}
	waitFor(t, "three events each", func() bool {
		return len(a.received()) == 3 && len(b.received()) == 3
	})

	h.Unsubscribe("a", btcTicker())
	src.emit(t, btcTicker(), tick(btcTicker(), 4))
	waitFor(t, "fourth event to b", func() bool { return len(b.received()) == 4 })

	if got := len(a.received()); got != 3 {
		t.Errorf("a received %d, want 3", got)
	}
	for i, ev := range b.received() {
		if p := ev.(model.TickerEvent).Price; p != float64(i+1) {
			t.Errorf("b event %d price = %v, want %v", i, p, i+1)
		}
	}
}

func TestRouter_PerKeyOrder(t *testing.T) {
	h, src := newTestHub()
	defer h.Close()

	a := &fakeSubscriber{id: "a"}
	h.Subscribe(a, btcTicker())

	const n = 200
	go func() {
		for i := 1; i <= n; i++ {
			src.emit(t, btcTicker(), tick(btcTicker(), float64(i)))
		}
	}()
	waitFor(t, "all events", func() bool { return len(a.received()) == n })

	last := 0.0
	for _, ev := range a.received() {
		p := ev.(model.TickerEvent).Price
		if p <= last {
			t.Fatalf("out of order: %v after %v", p, last)
		}
		last = p
	}
}

func TestRouter_NoDeliveryAfterUnsubscribe(t *testing.T) {
	h, src := newTestHub()
	defer h.Close()

	key := btcTicker()
	a := &lateSubscriber{fakeSubscriber: fakeSubscriber{id: "a"}}
	b := &fakeSubscriber{id: "b"}
	h.Subscribe(a, key)
	h.Subscribe(b, key)

	src.mu.Lock()
	fs := src.streams[key]
	src.mu.Unlock()

	const total = 200
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 1; i <= total; i++ {
			fs.inbox <- tick(key, float64(i))
		}
	}()

	waitFor(t, "first delivery", func() bool { return len(a.received()) > 0 })
	h.Unsubscribe("a", key)
	a.gone.Store(true)

	<-done
	waitFor(t, "remaining subscriber to drain", func() bool { return len(b.received()) == total })
	if n := a.late.Load(); n != 0 {
		t.Errorf("deliveries after Unsubscribe = %d, want 0", n)
	}
}

func TestRouter_SnapshotOnJoin(t *testing.T) {
	h, src := newTestHub()
	defer h.Close()

	a := &fakeSubscriber{id: "a"}
	h.Subscribe(a, btcTicker())
	src.emit(t, btcTicker(), tick(btcTicker(), 1))
	waitFor(t, "first event", func() bool { return len(a.received()) == 1 })

	b := &fakeSubscriber{id: "b"}
	h.Subscribe(b, btcTicker())
	got := b.received()
	if len(got) != 1 || got[0].(model.TickerEvent).Price != 1 {
		t.Fatalf("late joiner received %v, want snapshot with price 1", got)
	}

	src.emit(t, btcTicker(), tick(btcTicker(), 2))
	waitFor(t, "second event", func() bool { return len(b.received()) == 2 })
	if p := b.received()[1].(model.TickerEvent).Price; p != 2 {
		t.Errorf("second event price = %v, want 2", p)
	}

	latest, ok := h.Latest(btcTicker())
	if !ok || latest.(model.TickerEvent).Price != 2 {
		t.Errorf("Latest = %v, %v, want price 2", latest, ok)
	}
}

func TestRouter_StaleMarkerKeepsLastData(t *testing.T) {
	h, src := newTestHub()
	defer h.Close()

	a := &fakeSubscriber{id: "a"}
	h.Subscribe(a, btcTicker())
	src.emit(t, btcTicker(), tick(btcTicker(), 1))
	src.emit(t, btcTicker(), model.StaleEvent{Channel: btcTicker(), Stale: true})
	waitFor(t, "stale marker", func() bool { return len(a.received()) == 2 })

	b := &fakeSubscriber{id: "b"}
	h.Subscribe(b, btcTicker())
	got := b.received()
	if len(got) != 2 {
		t.Fatalf("late joiner received %d events, want 2", len(got))
	}
	if _, ok := got[0].(model.TickerEvent); !ok {
		t.Errorf("first snapshot = %T, want TickerEvent", got[0])
	}
	if s, ok := got[1].(model.StaleEvent); !ok || !s.Stale {
		t.Errorf("second snapshot = %#v, want stale marker", got[1])
	}

	stats := h.Stats()
	if len(stats.Detail) != 1 || !stats.Detail[0].Stale {
		t.Errorf("stats = %+v, want one stale channel", stats)
	}
}

func TestRouter_Taps(t *testing.T) {
	h, src := newTestHub()
	defer h.Close()

	tap := &countingTap{}
	h.AddTap(tap)

	h.Subscribe(&fakeSubscriber{id: "a"}, btcTicker())
	src.emit(t, btcTicker(), tick(btcTicker(), 1))
	src.emit(t, btcTicker(), tick(btcTicker(), 2))

	waitFor(t, "tap", func() bool { return tap.n.Load() == 2 })
}

func TestRouter_InvariantViolationTearsDownKey(t *testing.T) {
	h, src := newTestHub()
	defer h.Close()

	a := &fakeSubscriber{id: "a"}
	h.Subscribe(a, btcTicker())

	wrong := model.ChannelKey{Type: model.ChannelTicker, Exchange: "binance", Symbol: "ETH/USDT"}
	src.emit(t, btcTicker(), tick(wrong, 1))

	// The marker is delivered after the upstream has stopped.
	waitFor(t, "reset marker", func() bool { return len(a.received()) == 1 })

	if got := h.Stats().Channels; got != 0 {
		t.Errorf("channels = %d, want 0", got)
	}
	if got := h.Stats().Violations; got != 1 {
		t.Errorf("violations = %d, want 1", got)
	}
	if got := src.active.Load(); got != 0 {
		t.Errorf("active = %d, want 0", got)
	}
	if got := len(h.Subscriptions("a")); got != 0 {
		t.Errorf("subscriptions = %d, want 0", got)
	}
	if s, ok := a.received()[0].(model.StaleEvent); !ok || !s.Stale {
		t.Errorf("received %#v, want stale marker", a.received()[0])
	}

	if _, err := h.Subscribe(a, btcTicker()); err != nil {
		t.Fatalf("resubscribe failed: %v", err)
	}
	if got := src.starts.Load(); got != 2 {
		t.Errorf("starts = %d, want 2", got)
	}
}

// -----------------------------------------------------------------------------
// Concurrency
// -----------------------------------------------------------------------------

func TestConcurrentSubscribeUnsubscribe_AtMostOneUpstreamPerKey(t *testing.T) {
	h, src := newTestHub()
	defer h.Close()

	keys := []model.ChannelKey{
		btcTicker(),
		{Type: model.ChannelTicker, Exchange: "binance", Symbol: "ETH/USDT"},
	}

	var wg sync.WaitGroup
	for c := 0; c < 16; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			sub := &fakeSubscriber{id: fmt.Sprintf("conn-%d", c)}
			rng := rand.New(rand.NewPCG(uint64(c), 1))
			for i := 0; i < 200; i++ {
				key := keys[rng.IntN(len(keys))]
				if rng.IntN(2) == 0 {
					h.Subscribe(sub, key)
				} else {
					h.Unsubscribe(sub.id, key)
				}
			}
			h.Disconnect(sub.id)
		}(c)
	}
	wg.Wait()

	src.mu.Lock()
	maxKey := src.maxKey
	src.mu.Unlock()
	if maxKey > 1 {
		t.Errorf("max concurrent upstreams per key = %d, want <= 1", maxKey)
	}
	if got := src.maxActive.Load(); got > int64(len(keys)) {
		t.Errorf("max active upstreams = %d, want <= %d", got, len(keys))
	}
	if got := src.active.Load(); got != 0 {
		t.Errorf("active after all disconnects = %d, want 0", got)
	}
	stats := h.Stats()
	if stats.Channels != 0 || stats.Connections != 0 {
		t.Errorf("stats = %+v, want empty registry", stats)
	}
	if stats.FeedsStarted != stats.FeedsStopped {
		t.Errorf("started %d != stopped %d", stats.FeedsStarted, stats.FeedsStopped)
	}
	if got := h.locks.size(); got != 0 {
		t.Errorf("key locks = %d, want 0", got)
	}
}

func TestClose_StopsFeeds(t *testing.T) {
	h, src := newTestHub()

	h.Subscribe(&fakeSubscriber{id: "a"}, btcTicker())
	h.Close()

	if got := src.active.Load(); got != 0 {
		t.Errorf("active after Close = %d, want 0", got)
	}
	if _, err := h.Subscribe(&fakeSubscriber{id: "b"}, btcTicker()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestClose_RacingSubscribeStartsNothing(t *testing.T) {
	src := &gatedSource{
		fakeSource: newFakeSource(),
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	h := New(staticSelector{src: src}, nil)

	errc := make(chan error, 1)
	go func() {
		_, err := h.Subscribe(&fakeSubscriber{id: "a"}, btcTicker())
		errc <- err
	}()

	<-src.entered
	h.Close()
	close(src.release)

	if err := <-errc; !errors.Is(err, ErrClosed) {
		t.Errorf("Subscribe = %v, want ErrClosed", err)
	}
	if got := src.active.Load(); got != 0 {
		t.Errorf("active = %d, want 0", got)
	}
	if got := h.RefCount(btcTicker()); got != 0 {
		t.Errorf("RefCount = %d, want 0", got)
	}
	if got := h.violations.Load(); got != 0 {
		t.Errorf("violations = %d, want 0", got)
	}
}
