package simulator

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rickgao/cryptodash/internal/model"
)

func TestWalk_StepBounded(t *testing.T) {
	w := newWalk(100, 0.005, 42)
	prev := w.price
	for i := 0; i < 1000; i++ {
		p := w.step()
		if p <= 0 {
			t.Fatalf("step %d: price = %v, want > 0", i, p)
		}
		// rounding to 4 places can add at most 0.00005
		if move := math.Abs(p-prev) / prev; move > 0.005+1e-6 {
			t.Fatalf("step %d: relative move %v exceeds volatility", i, move)
		}
		prev = p
	}
}

func TestRoundPrice(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{65000.12345, 65000.12},
		{3.1415926, 3.1416},
		{0.123456789, 0.12345679},
	}
	for _, tt := range tests {
		if got := roundPrice(tt.in); got != tt.want {
			t.Errorf("roundPrice(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestCandleBuilder_HighLowBoundPath(t *testing.T) {
	w := newWalk(100, 0.005, 7)
	b := newCandleBuilder("1m")

	var closed []model.OHLCV
	var pathHigh, pathLow float64
	start := int64(1_700_000_000_000)

	for i := 0; i < 600; i++ {
		ts := start + int64(i)*1000
		p := w.step()
		c, cur := b.update(ts, p)
		if c != nil {
			closed = append(closed, *c)
			pathHigh, pathLow = cur.Open, cur.Open
		}
		if i == 0 {
			pathHigh, pathLow = p, p
		}
		pathHigh = math.Max(pathHigh, p)
		pathLow = math.Min(pathLow, p)

		if cur.High != pathHigh || cur.Low != pathLow {
			t.Fatalf("tick %d: high/low = %v/%v, want path %v/%v", i, cur.High, cur.Low, pathHigh, pathLow)
		}
	}

	if len(closed) < 9 {
		t.Fatalf("closed candles = %d, want >= 9", len(closed))
	}

	for i, c := range closed {
		if c.High < math.Max(c.Open, c.Close) {
			t.Errorf("candle %d: high %v < max(open %v, close %v)", i, c.High, c.Open, c.Close)
		}
		if c.Low > math.Min(c.Open, c.Close) {
			t.Errorf("candle %d: low %v > min(open %v, close %v)", i, c.Low, c.Open, c.Close)
		}
		if c.OpenTime%60000 != 0 {
			t.Errorf("candle %d: OpenTime %d not aligned to 1m", i, c.OpenTime)
		}
		if i > 0 {
			if c.Open != closed[i-1].Close {
				t.Errorf("candle %d: open %v != previous close %v", i, c.Open, closed[i-1].Close)
			}
			if c.OpenTime != closed[i-1].OpenTime+60000 {
				t.Errorf("candle %d: OpenTime %d not contiguous", i, c.OpenTime)
			}
		}
	}
}

func TestBuildBook(t *testing.T) {
	mid := 50000.0
	bids, asks := buildBook(mid, 0.0002, 10, 0.85)

	if len(bids) != 10 || len(asks) != 10 {
		t.Fatalf("levels = %d/%d, want 10/10", len(bids), len(asks))
	}
	if bids[0].Price >= mid || asks[0].Price <= mid {
		t.Errorf("best bid/ask %v/%v do not straddle mid %v", bids[0].Price, asks[0].Price, mid)
	}
	if spread := asks[0].Price - bids[0].Price; math.Abs(spread-mid*0.0002) > 0.02 {
		t.Errorf("spread = %v, want %v", spread, mid*0.0002)
	}

	for i := 1; i < len(bids); i++ {
		if bids[i].Price >= bids[i-1].Price {
			t.Errorf("bids not descending at %d", i)
		}
		if asks[i].Price <= asks[i-1].Price {
			t.Errorf("asks not ascending at %d", i)
		}
		if bids[i].Quantity >= bids[i-1].Quantity {
			t.Errorf("bid quantity not decaying at %d", i)
		}
	}
}

func TestCrossover(t *testing.T) {
	var prices []float64
	for p := 100.0; p > 80; p-- {
		prices = append(prices, p)
	}

	c := &crossover{}
	if _, _, ok := c.update(prices[:10]); ok {
		t.Error("expected no signal before slow window fills")
	}
	if _, _, ok := c.update(prices); ok {
		t.Error("expected no signal on first evaluation")
	}

	prices = append(prices, 200)
	sig, strength, ok := c.update(prices)
	if !ok || sig != model.SignalBuy {
		t.Fatalf("update = %q, %v, want buy", sig, ok)
	}
	if strength <= 0 || strength > 1 {
		t.Errorf("strength = %v, want in (0, 1]", strength)
	}

	if _, _, ok := c.update(prices); ok {
		t.Error("expected no repeat signal without a new cross")
	}

	prices = append(prices, 1)
	if sig, _, ok := c.update(prices); !ok || sig != model.SignalSell {
		t.Errorf("update = %q, %v, want sell", sig, ok)
	}
}

func TestOrderLifecycle(t *testing.T) {
	o := &orderLifecycle{userID: "u1", symbol: "BTC/USDT"}

	want := []string{model.OrderNew, model.OrderPartiallyFilled, model.OrderFilled, model.OrderNew}
	var ids []string
	for i, status := range want {
		ev := o.next(100, int64(i))
		if ev.Status != status {
			t.Errorf("step %d: Status = %s, want %s", i, ev.Status, status)
		}
		if ev.UserID != "u1" {
			t.Errorf("step %d: UserID = %s, want u1", i, ev.UserID)
		}
		ids = append(ids, ev.OrderID)
	}

	if ids[0] != ids[2] {
		t.Error("one order should keep its id through the lifecycle")
	}
	if ids[3] == ids[0] {
		t.Error("next order should have a new id")
	}
}

func TestSimulator_SharedMarket(t *testing.T) {
	s := New(Config{Seed: 1}, nil)
	if s.market("BTC/USDT") != s.market("BTC/USDT") {
		t.Error("expected one market per symbol")
	}
	if s.market("ETH/USDT") == s.market("BTC/USDT") {
		t.Error("expected distinct markets per symbol")
	}

	s = New(Config{Seed: 1, InitialPrices: map[string]float64{"DOGE/USDT": 0.15}}, nil)
	if price, _ := s.market("DOGE/USDT").snapshot(); price != 0.15 {
		t.Errorf("initial price = %v, want 0.15", price)
	}
}

func TestSimulator_KlineGenerator(t *testing.T) {
	s := New(Config{Seed: 3, TickInterval: time.Second}, nil)
	start := time.Unix(1_700_000_080, 0) // 20s before a minute boundary
	s.now = func() time.Time { return start }

	key := model.ChannelKey{Type: model.ChannelKline, Exchange: "binance", Symbol: "BTC/USDT", Timeframe: "1m"}
	gen := s.generator(key, s.market(key.Symbol))

	first := gen(start)
	if len(first) != 1 {
		t.Fatalf("first tick: %d events, want 1", len(first))
	}

	var closedCount int
	for i := 1; i <= 30; i++ {
		for _, ev := range gen(start.Add(time.Duration(i) * time.Second)) {
			k := ev.(model.KlineEvent)
			if k.Key() != key {
				t.Errorf("Key = %v, want %v", k.Key(), key)
			}
			if k.Closed {
				closedCount++
			}
		}
	}
	if closedCount != 1 {
		t.Errorf("closed candles = %d, want 1", closedCount)
	}
}

func TestSimulator_KlineBoundsSharedWalk(t *testing.T) {
	s := New(Config{Seed: 5, TickInterval: time.Second}, nil)
	start := time.Unix(1_699_999_200, 0) // top of an hour
	s.now = func() time.Time { return start }

	m := s.market("BTC/USDT")
	tick := s.generator(model.ChannelKey{Type: model.ChannelTicker, Exchange: "binance", Symbol: "BTC/USDT"}, m)
	klineKey := model.ChannelKey{Type: model.ChannelKline, Exchange: "binance", Symbol: "BTC/USDT", Timeframe: "1h"}
	candle := s.generator(klineKey, m)

	var prices []float64
	var last model.OHLCV
	for i := 1; i <= 600; i++ {
		now := start.Add(time.Duration(i) * time.Second)
		for _, ev := range tick(now) {
			prices = append(prices, ev.(model.TickerEvent).Price)
		}
		if i%2 != 0 {
			continue
		}
		evs := candle(now)
		last = evs[len(evs)-1].(model.KlineEvent).OHLCV
	}

	for _, p := range prices {
		if p > last.High || p < last.Low {
			t.Fatalf("ticker price %v outside candle [%v, %v]", p, last.Low, last.High)
		}
	}
	if last.High < max(last.Open, last.Close) || last.Low > min(last.Open, last.Close) {
		t.Errorf("candle %+v does not bound open/close", last)
	}
}

func TestSimulator_StartAllChannelTypes(t *testing.T) {
	s := New(Config{Seed: 9, TickInterval: 5 * time.Millisecond}, nil)

	keys := []model.ChannelKey{
		{Type: model.ChannelTicker, Exchange: "binance", Symbol: "BTC/USDT"},
		{Type: model.ChannelKline, Exchange: "binance", Symbol: "BTC/USDT", Timeframe: "1m"},
		{Type: model.ChannelOrderBook, Exchange: "binance", Symbol: "BTC/USDT"},
		{Type: model.ChannelOrderStatus, UserID: "u1"},
	}

	for _, key := range keys {
		t.Run(string(key.Type), func(t *testing.T) {
			stream, err := s.Start(context.Background(), key)
			if err != nil {
				t.Fatalf("Start failed: %v", err)
			}

			select {
			case ev := <-stream.Events():
				if ev.Key() != key {
					t.Errorf("Key = %v, want %v", ev.Key(), key)
				}
			case <-time.After(time.Second):
				t.Fatal("timeout waiting for event")
			}

			stream.Stop()
			for range stream.Events() {
			}
		})
	}
}
