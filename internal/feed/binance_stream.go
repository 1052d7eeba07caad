package feed

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rickgao/cryptodash/internal/exchange"
	"github.com/rickgao/cryptodash/internal/model"
)

// BinanceStreamURL returns the raw stream URL for key under base,
// e.g. wss://stream.binance.com:9443/ws/btcusdt@kline_1m.
func BinanceStreamURL(base string, key model.ChannelKey, depth int) (string, error) {
	name := exchange.BinanceStreamName(key.Symbol)
	var stream string
	switch key.Type {
	case model.ChannelTicker:
		stream = name + "@ticker"
	case model.ChannelKline:
		stream = name + "@kline_" + key.Timeframe
	case model.ChannelOrderBook:
		stream = fmt.Sprintf("%s@depth%d@100ms", name, binanceStreamDepth(depth))
	default:
		return "", fmt.Errorf("%w: %s has no binance stream", model.ErrInvalidChannel, key.Type)
	}
	return strings.TrimRight(base, "/") + "/" + stream, nil
}

// binanceStreamDepth rounds to a partial-depth level the stream accepts.
func binanceStreamDepth(depth int) int {
	switch {
	case depth <= 5:
		return 5
	case depth <= 10:
		return 10
	default:
		return 20
	}
}

type binanceTickerMsg struct {
	EventType     string `json:"e"`
	EventTime     int64  `json:"E"`
	Symbol        string `json:"s"`
	PriceChange   string `json:"p"`
	ChangePercent string `json:"P"`
	LastPrice     string `json:"c"`
	Volume        string `json:"v"`
}

type binanceKlineMsg struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Kline     struct {
		OpenTime int64  `json:"t"`
		Interval string `json:"i"`
		Open     string `json:"o"`
		Close    string `json:"c"`
		High     string `json:"h"`
		Low      string `json:"l"`
		Volume   string `json:"v"`
		Closed   bool   `json:"x"`
	} `json:"k"`
}

type binanceDepthMsg struct {
	LastUpdateID int64       `json:"lastUpdateId"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

// decodeBinance converts one raw stream message for key into an event.
// Messages that carry no data for key (subscription acks) return ok=false.
func decodeBinance(key model.ChannelKey, data []byte, receivedAt time.Time, depth int) (model.Event, bool, error) {
	switch key.Type {
	case model.ChannelTicker:
		var msg binanceTickerMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, false, fmt.Errorf("decode ticker: %w", err)
		}
		if msg.EventType != "24hrTicker" {
			return nil, false, nil
		}
		return model.TickerEvent{
			Channel:       key,
			Symbol:        key.Symbol,
			Price:         exchange.ParseFloat(msg.LastPrice),
			Change:        exchange.ParseFloat(msg.PriceChange),
			ChangePercent: exchange.ParseFloat(msg.ChangePercent),
			Volume:        exchange.ParseFloat(msg.Volume),
			Ts:            eventTime(msg.EventTime, receivedAt),
		}, true, nil

	case model.ChannelKline:
		var msg binanceKlineMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, false, fmt.Errorf("decode kline: %w", err)
		}
		if msg.EventType != "kline" {
			return nil, false, nil
		}
		k := msg.Kline
		return model.KlineEvent{
			Channel:   key,
			Symbol:    key.Symbol,
			Timeframe: key.Timeframe,
			OHLCV: model.OHLCV{
				OpenTime: k.OpenTime,
				Open:     exchange.ParseFloat(k.Open),
				High:     exchange.ParseFloat(k.High),
				Low:      exchange.ParseFloat(k.Low),
				Close:    exchange.ParseFloat(k.Close),
				Volume:   exchange.ParseFloat(k.Volume),
			},
			Closed: k.Closed,
			Ts:     eventTime(msg.EventTime, receivedAt),
		}, true, nil

	case model.ChannelOrderBook:
		var msg binanceDepthMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, false, fmt.Errorf("decode depth: %w", err)
		}
		if msg.LastUpdateID == 0 && len(msg.Bids) == 0 && len(msg.Asks) == 0 {
			return nil, false, nil
		}
		return model.OrderBookEvent{
			Channel: key,
			Symbol:  key.Symbol,
			Bids:    exchange.ParseLevels(msg.Bids, depth),
			Asks:    exchange.ParseLevels(msg.Asks, depth),
			Ts:      receivedAt.UnixMilli(),
		}, true, nil
	}

	return nil, false, fmt.Errorf("%w: %s", model.ErrInvalidChannel, key.Type)
}

func eventTime(ms int64, receivedAt time.Time) int64 {
	if ms > 0 {
		return ms
	}
	return receivedAt.UnixMilli()
}
