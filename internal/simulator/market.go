package simulator

import (
	"hash/fnv"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// maxCatchUp bounds the steps taken in one advance after a long idle period.
const maxCatchUp = 1000

// defaultPrices seeds common symbols with realistic levels.
var defaultPrices = map[string]float64{
	"BTC/USDT": 65000,
	"BTC/USD":  65000,
	"ETH/USDT": 3500,
	"ETH/USD":  3500,
	"SOL/USDT": 150,
	"BNB/USDT": 580,
	"XRP/USDT": 0.6,
}

// walk is a multiplicative random walk bounded per step by volatility.
type walk struct {
	price      float64
	volatility float64
	rng        *rand.Rand
}

func newWalk(price, volatility float64, seed uint64) *walk {
	return &walk{
		price:      price,
		volatility: volatility,
		rng:        rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// step moves the price by at most ±volatility and returns the new price.
func (w *walk) step() float64 {
	move := w.volatility * (2*w.rng.Float64() - 1)
	next := roundPrice(w.price * (1 + move))
	if next > 0 {
		w.price = next
	}
	return w.price
}

// roundPrice rounds to a precision that suits the price magnitude.
func roundPrice(p float64) float64 {
	places := int32(8)
	switch {
	case p >= 1000:
		places = 2
	case p >= 1:
		places = 4
	}
	return decimal.NewFromFloat(p).Round(places).InexactFloat64()
}

// market is the shared price path of one symbol.
type market struct {
	mu       sync.Mutex
	symbol   string
	walk     *walk
	interval time.Duration
	started  time.Time
	steps    int64
	open     float64 // price when the walk started
	seq      int64   // sequence number of the newest price in history
	history  []float64
	histCap  int
}

func newMarket(symbol string, price, volatility float64, seed int64, interval time.Duration, now time.Time) *market {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	s := h.Sum64()
	if seed != 0 {
		s ^= uint64(seed)
	} else {
		s ^= uint64(now.UnixNano())
	}
	price = roundPrice(price)
	return &market{
		symbol:   symbol,
		walk:     newWalk(price, volatility, s),
		interval: interval,
		started:  now,
		open:     price,
		history:  []float64{price},
		histCap:  2 * maxCatchUp,
	}
}

// advance steps the walk up to now.
func (m *market) advance(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stepTo(now)
}

// pathSince advances the walk to now and returns every price produced after
// cursor, oldest first, along with the new cursor. When nothing was produced
// the path holds only the current price. A cursor older than the retained
// history resumes at the oldest retained price.
func (m *market) pathSince(cursor int64, now time.Time) ([]float64, int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stepTo(now)

	first := m.seq - int64(len(m.history)) + 1
	from := max(cursor+1, first)
	if from > m.seq {
		return []float64{m.walk.price}, m.seq
	}
	path := make([]float64, m.seq-from+1)
	copy(path, m.history[from-first:])
	return path, m.seq
}

// cursor returns the sequence number of the current price.
func (m *market) cursor() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seq
}

// stepTo takes every step due by now. Callers hold m.mu.
func (m *market) stepTo(now time.Time) {
	target := int64(now.Sub(m.started) / m.interval)
	n := target - m.steps
	if n > maxCatchUp {
		m.steps = target - maxCatchUp
		n = maxCatchUp
	}

	for i := int64(0); i < n; i++ {
		m.history = append(m.history, m.walk.step())
		m.steps++
		m.seq++
	}
	if over := len(m.history) - m.histCap; over > 0 {
		m.history = append(m.history[:0], m.history[over:]...)
	}
}

// snapshot returns the current price and the start price.
func (m *market) snapshot() (price, open float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.walk.price, m.open
}

// recent returns up to n most recent prices, oldest first.
func (m *market) recent(n int) []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > len(m.history) {
		n = len(m.history)
	}
	out := make([]float64, n)
	copy(out, m.history[len(m.history)-n:])
	return out
}

// volume is a synthetic rolling volume proportional to elapsed steps.
func (m *market) volume() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return roundPrice(tickVolume(m.walk.price) * float64(m.steps+1))
}
