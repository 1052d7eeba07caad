package simulator

import (
	"math"

	"github.com/rickgao/cryptodash/internal/model"
)

// SMA crossover windows.
const (
	fastWindow = 5
	slowWindow = 20
)

// crossover tracks the sign of fast SMA minus slow SMA.
type crossover struct {
	lastSign int
}

// update evaluates the latest prices and returns a buy on an upward cross
// and a sell on a downward cross.
func (c *crossover) update(prices []float64) (signal string, strength float64, ok bool) {
	if len(prices) < slowWindow {
		return "", 0, false
	}
	fast := sma(prices[len(prices)-fastWindow:])
	slow := sma(prices[len(prices)-slowWindow:])

	sign := 0
	switch {
	case fast > slow:
		sign = 1
	case fast < slow:
		sign = -1
	}

	prev := c.lastSign
	c.lastSign = sign
	if prev == 0 || sign == 0 || sign == prev {
		return "", 0, false
	}

	strength = math.Min(1, math.Abs(fast-slow)/slow*100)
	if sign > 0 {
		return model.SignalBuy, strength, true
	}
	return model.SignalSell, strength, true
}

func sma(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
