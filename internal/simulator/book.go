package simulator

import (
	"math"

	"github.com/rickgao/cryptodash/internal/model"
)

// buildBook returns depth levels per side around mid. The best bid and ask
// are spread/2 away from mid; further levels step by the same half-spread.
// Quantity is largest at the top and decays by decay per level.
func buildBook(mid, spread float64, depth int, decay float64) (bids, asks []model.PriceLevel) {
	half := mid * spread / 2
	if half <= 0 {
		half = mid * 1e-6
	}
	top := topQuantity(mid)

	bids = make([]model.PriceLevel, 0, depth)
	asks = make([]model.PriceLevel, 0, depth)
	for i := 0; i < depth; i++ {
		offset := half * float64(1+i)
		qty := roundPrice(top * math.Pow(decay, float64(i)))
		bids = append(bids, model.PriceLevel{Price: roundPrice(mid - offset), Quantity: qty})
		asks = append(asks, model.PriceLevel{Price: roundPrice(mid + offset), Quantity: qty})
	}
	return bids, asks
}

// topQuantity sizes the best level at roughly 50k quote.
func topQuantity(mid float64) float64 {
	if mid <= 0 {
		return 0
	}
	return 50000 / mid
}
