package exchange

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rickgao/cryptodash/internal/model"
)

// BinanceSymbol converts "BTC/USDT" to "BTCUSDT".
func BinanceSymbol(symbol string) string {
	base, quote := model.SplitSymbol(symbol)
	return strings.ToUpper(base + quote)
}

// CoinbaseProduct converts "BTC/USD" to "BTC-USD".
func CoinbaseProduct(symbol string) string {
	base, quote := model.SplitSymbol(symbol)
	return strings.ToUpper(base + "-" + quote)
}

// BinanceStreamName converts "BTC/USDT" to the lower-case stream prefix "btcusdt".
func BinanceStreamName(symbol string) string {
	return strings.ToLower(BinanceSymbol(symbol))
}

// ParseFloat parses an exchange decimal string. Empty or malformed input
// yields zero.
func ParseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}

// ParseLevels converts [price, quantity] string pairs into price levels,
// keeping at most depth entries. Depth <= 0 keeps all.
func ParseLevels(pairs [][2]string, depth int) []model.PriceLevel {
	n := len(pairs)
	if depth > 0 && depth < n {
		n = depth
	}
	levels := make([]model.PriceLevel, 0, n)
	for _, p := range pairs[:n] {
		levels = append(levels, model.PriceLevel{
			Price:    ParseFloat(p[0]),
			Quantity: ParseFloat(p[1]),
		})
	}
	return levels
}
