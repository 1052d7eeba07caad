package simulator

import "github.com/rickgao/cryptodash/internal/model"

// candleBuilder aggregates a price path into candles of one timeframe.
type candleBuilder struct {
	periodMs int64
	cur      *model.OHLCV
}

func newCandleBuilder(timeframe string) *candleBuilder {
	return &candleBuilder{periodMs: model.Timeframes[timeframe] * 1000}
}

// update folds price at tsMs into the current candle. When tsMs falls into
// a new period the previous candle is returned as closed and the new one
// opens at its close.
func (b *candleBuilder) update(tsMs int64, price float64) (closed *model.OHLCV, current model.OHLCV) {
	openTime := tsMs - tsMs%b.periodMs

	if b.cur == nil {
		b.cur = &model.OHLCV{OpenTime: openTime, Open: price, High: price, Low: price, Close: price}
	} else if openTime > b.cur.OpenTime {
		done := *b.cur
		closed = &done
		prev := done.Close
		b.cur = &model.OHLCV{
			OpenTime: openTime,
			Open:     prev,
			High:     max(prev, price),
			Low:      min(prev, price),
			Close:    price,
		}
	} else {
		b.cur.High = max(b.cur.High, price)
		b.cur.Low = min(b.cur.Low, price)
		b.cur.Close = price
	}

	b.cur.Volume += tickVolume(price)
	return closed, *b.cur
}

// tickVolume is a synthetic traded base volume per tick, roughly constant
// in quote terms.
func tickVolume(price float64) float64 {
	if price <= 0 {
		return 0
	}
	return roundPrice(1000 / price)
}
