package exchange

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/adshao/go-binance/v2"

	"github.com/rickgao/cryptodash/internal/config"
	"github.com/rickgao/cryptodash/internal/model"
)

// DefaultBinanceStreamURL is the public Binance spot stream endpoint.
const DefaultBinanceStreamURL = "wss://stream.binance.com:9443/ws"

// binanceDepthLimits are the depth values the REST API accepts.
var binanceDepthLimits = []int{5, 10, 20, 50, 100, 500, 1000, 5000}

// Binance fetches market data through the go-binance client.
type Binance struct {
	id     string
	client *binance.Client
}

// NewBinance creates a Binance adapter. Credentials are optional for
// public market data.
func NewBinance(cfg config.ExchangeConfig, httpClient *http.Client) *Binance {
	client := binance.NewClient(cfg.APIKey, cfg.APISecret)
	if cfg.RestURL != "" {
		client.BaseURL = cfg.RestURL
	}
	if httpClient != nil {
		client.HTTPClient = httpClient
	}
	return &Binance{id: cfg.ID, client: client}
}

// ID returns the exchange identifier.
func (b *Binance) ID() string { return b.id }

// FetchTicker returns the 24h price change statistics for symbol.
func (b *Binance) FetchTicker(ctx context.Context, symbol string) (Ticker, error) {
	stats, err := b.client.NewListPriceChangeStatsService().
		Symbol(BinanceSymbol(symbol)).
		Do(ctx)
	if err != nil {
		return Ticker{}, fmt.Errorf("fetch ticker %s: %w", symbol, err)
	}
	if len(stats) == 0 || stats[0] == nil {
		return Ticker{}, fmt.Errorf("fetch ticker %s: %w", symbol, ErrEmptyResponse)
	}
	return binanceTicker(symbol, stats[0]), nil
}

func binanceTicker(symbol string, s *binance.PriceChangeStats) Ticker {
	ts := s.CloseTime
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	return Ticker{
		Symbol:        symbol,
		Last:          ParseFloat(s.LastPrice),
		Change:        ParseFloat(s.PriceChange),
		ChangePercent: ParseFloat(s.PriceChangePercent),
		Volume:        ParseFloat(s.Volume),
		Timestamp:     ts,
	}
}

// FetchOHLCV returns up to limit candles, oldest first.
func (b *Binance) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]model.OHLCV, error) {
	if _, ok := model.Timeframes[timeframe]; !ok {
		return nil, fmt.Errorf("binance %s: %w", timeframe, ErrUnsupportedTimeframe)
	}

	svc := b.client.NewKlinesService().
		Symbol(BinanceSymbol(symbol)).
		Interval(timeframe)
	if limit > 0 {
		svc = svc.Limit(limit)
	}

	klines, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch ohlcv %s: %w", symbol, err)
	}
	return binanceCandles(klines), nil
}

func binanceCandles(klines []*binance.Kline) []model.OHLCV {
	candles := make([]model.OHLCV, 0, len(klines))
	for _, k := range klines {
		if k == nil {
			continue
		}
		candles = append(candles, model.OHLCV{
			OpenTime: k.OpenTime,
			Open:     ParseFloat(k.Open),
			High:     ParseFloat(k.High),
			Low:      ParseFloat(k.Low),
			Close:    ParseFloat(k.Close),
			Volume:   ParseFloat(k.Volume),
		})
	}
	return candles
}

// FetchOrderBook returns up to depth levels per side.
func (b *Binance) FetchOrderBook(ctx context.Context, symbol string, depth int) (OrderBook, error) {
	res, err := b.client.NewDepthService().
		Symbol(BinanceSymbol(symbol)).
		Limit(binanceDepthLimit(depth)).
		Do(ctx)
	if err != nil {
		return OrderBook{}, fmt.Errorf("fetch orderbook %s: %w", symbol, err)
	}

	bids := make([][2]string, 0, len(res.Bids))
	for _, l := range res.Bids {
		bids = append(bids, [2]string{l.Price, l.Quantity})
	}
	asks := make([][2]string, 0, len(res.Asks))
	for _, l := range res.Asks {
		asks = append(asks, [2]string{l.Price, l.Quantity})
	}

	return OrderBook{
		Symbol:    symbol,
		Bids:      ParseLevels(bids, depth),
		Asks:      ParseLevels(asks, depth),
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// binanceDepthLimit rounds depth up to the nearest accepted limit.
func binanceDepthLimit(depth int) int {
	for _, l := range binanceDepthLimits {
		if depth <= l {
			return l
		}
	}
	return binanceDepthLimits[len(binanceDepthLimits)-1]
}
