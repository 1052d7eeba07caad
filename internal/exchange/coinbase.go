package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/rickgao/cryptodash/internal/config"
	"github.com/rickgao/cryptodash/internal/model"
)

// DefaultCoinbaseURL is the public Coinbase Exchange REST endpoint.
const DefaultCoinbaseURL = "https://api.exchange.coinbase.com"

// coinbaseGranularity maps timeframes to candle granularity in seconds.
// Coinbase has no 4h granularity.
var coinbaseGranularity = map[string]int{
	"1m":  60,
	"5m":  300,
	"15m": 900,
	"1h":  3600,
	"1d":  86400,
}

// Coinbase fetches public market data from Coinbase Exchange.
type Coinbase struct {
	id   string
	rest *restClient
}

// NewCoinbase creates a Coinbase adapter.
func NewCoinbase(cfg config.ExchangeConfig, httpClient *http.Client, logger *slog.Logger) *Coinbase {
	baseURL := cfg.RestURL
	if baseURL == "" {
		baseURL = DefaultCoinbaseURL
	}
	return &Coinbase{
		id:   cfg.ID,
		rest: newRESTClient(cfg.ID, baseURL, httpClient, logger),
	}
}

// ID returns the exchange identifier.
func (c *Coinbase) ID() string { return c.id }

type coinbaseStats struct {
	Open   string `json:"open"`
	High   string `json:"high"`
	Low    string `json:"low"`
	Last   string `json:"last"`
	Volume string `json:"volume"`
}

// FetchTicker returns the 24h stats for symbol.
func (c *Coinbase) FetchTicker(ctx context.Context, symbol string) (Ticker, error) {
	var stats coinbaseStats
	if err := c.rest.get(ctx, "/products/"+CoinbaseProduct(symbol)+"/stats", nil, &stats); err != nil {
		return Ticker{}, fmt.Errorf("fetch ticker %s: %w", symbol, err)
	}
	return stats.toTicker(symbol, time.Now().UnixMilli()), nil
}

func (s coinbaseStats) toTicker(symbol string, ts int64) Ticker {
	last := ParseFloat(s.Last)
	open := ParseFloat(s.Open)
	t := Ticker{
		Symbol:    symbol,
		Last:      last,
		Volume:    ParseFloat(s.Volume),
		Timestamp: ts,
	}
	if open > 0 {
		t.Change = last - open
		t.ChangePercent = t.Change / open * 100
	}
	return t
}

// FetchOHLCV returns up to limit candles, oldest first.
func (c *Coinbase) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]model.OHLCV, error) {
	gran, ok := coinbaseGranularity[timeframe]
	if !ok {
		return nil, fmt.Errorf("coinbase %s: %w", timeframe, ErrUnsupportedTimeframe)
	}

	query := url.Values{}
	query.Set("granularity", strconv.Itoa(gran))

	var rows [][]json.Number
	if err := c.rest.get(ctx, "/products/"+CoinbaseProduct(symbol)+"/candles", query, &rows); err != nil {
		return nil, fmt.Errorf("fetch ohlcv %s: %w", symbol, err)
	}
	return coinbaseCandles(rows, limit), nil
}

// coinbaseCandles converts [time, low, high, open, close, volume] rows,
// returned newest first, into candles oldest first.
func coinbaseCandles(rows [][]json.Number, limit int) []model.OHLCV {
	candles := make([]model.OHLCV, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		sec, _ := row[0].Int64()
		candles = append(candles, model.OHLCV{
			OpenTime: sec * 1000,
			Low:      ParseFloat(row[1].String()),
			High:     ParseFloat(row[2].String()),
			Open:     ParseFloat(row[3].String()),
			Close:    ParseFloat(row[4].String()),
			Volume:   ParseFloat(row[5].String()),
		})
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].OpenTime < candles[j].OpenTime })
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles
}

type coinbaseBook struct {
	Bids [][]json.RawMessage `json:"bids"`
	Asks [][]json.RawMessage `json:"asks"`
}

// FetchOrderBook returns the level-2 book for symbol.
func (c *Coinbase) FetchOrderBook(ctx context.Context, symbol string, depth int) (OrderBook, error) {
	query := url.Values{}
	query.Set("level", "2")

	var book coinbaseBook
	if err := c.rest.get(ctx, "/products/"+CoinbaseProduct(symbol)+"/book", query, &book); err != nil {
		return OrderBook{}, fmt.Errorf("fetch orderbook %s: %w", symbol, err)
	}

	return OrderBook{
		Symbol:    symbol,
		Bids:      ParseLevels(coinbasePairs(book.Bids), depth),
		Asks:      ParseLevels(coinbasePairs(book.Asks), depth),
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// coinbasePairs extracts [price, size] from ["price", "size", num_orders] rows.
func coinbasePairs(rows [][]json.RawMessage) [][2]string {
	pairs := make([][2]string, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		var price, size string
		if json.Unmarshal(row[0], &price) != nil || json.Unmarshal(row[1], &size) != nil {
			continue
		}
		pairs = append(pairs, [2]string{price, size})
	}
	return pairs
}
