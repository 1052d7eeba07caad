package exchange

import (
	"context"
	"errors"

	"github.com/rickgao/cryptodash/internal/model"
)

// Errors
var (
	ErrUnknownExchange      = errors.New("unknown exchange")
	ErrUnsupportedTimeframe = errors.New("unsupported timeframe")
	ErrEmptyResponse        = errors.New("empty response")
)

// Ticker is a 24h rolling ticker.
type Ticker struct {
	Symbol        string
	Last          float64
	Change        float64
	ChangePercent float64
	Volume        float64
	Timestamp     int64 // ms since epoch
}

// OrderBook is a depth snapshot. Bids descending, asks ascending.
type OrderBook struct {
	Symbol    string
	Bids      []model.PriceLevel
	Asks      []model.PriceLevel
	Timestamp int64
}

// Exchange fetches public market data for unified symbols.
type Exchange interface {
	// ID returns the configured exchange identifier.
	ID() string

	// FetchTicker returns the current ticker for symbol.
	FetchTicker(ctx context.Context, symbol string) (Ticker, error)

	// FetchOHLCV returns up to limit candles, oldest first.
	FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]model.OHLCV, error)

	// FetchOrderBook returns up to depth levels per side.
	FetchOrderBook(ctx context.Context, symbol string, depth int) (OrderBook, error)
}
