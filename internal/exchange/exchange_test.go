package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2"

	"github.com/rickgao/cryptodash/internal/config"
	"github.com/rickgao/cryptodash/internal/model"
)

func TestSymbolConversion(t *testing.T) {
	tests := []struct {
		symbol   string
		binance  string
		coinbase string
		stream   string
	}{
		{"BTC/USDT", "BTCUSDT", "BTC-USDT", "btcusdt"},
		{"ETH/USD", "ETHUSD", "ETH-USD", "ethusd"},
		{"sol/usdc", "SOLUSDC", "SOL-USDC", "solusdc"},
	}

	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			if got := BinanceSymbol(tt.symbol); got != tt.binance {
				t.Errorf("BinanceSymbol = %s, want %s", got, tt.binance)
			}
			if got := CoinbaseProduct(tt.symbol); got != tt.coinbase {
				t.Errorf("CoinbaseProduct = %s, want %s", got, tt.coinbase)
			}
			if got := BinanceStreamName(tt.symbol); got != tt.stream {
				t.Errorf("BinanceStreamName = %s, want %s", got, tt.stream)
			}
		})
	}
}

func TestParseFloat(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"", 0},
		{"abc", 0},
		{"42", 42},
		{"64123.45000000", 64123.45},
		{"-1.5", -1.5},
	}

	for _, tt := range tests {
		if got := ParseFloat(tt.in); got != tt.want {
			t.Errorf("ParseFloat(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseLevels(t *testing.T) {
	pairs := [][2]string{{"100.5", "1"}, {"100.4", "2"}, {"100.3", "3"}}

	levels := ParseLevels(pairs, 2)
	if len(levels) != 2 {
		t.Fatalf("len = %d, want 2", len(levels))
	}
	if levels[0].Price != 100.5 || levels[0].Quantity != 1 {
		t.Errorf("levels[0] = %+v, want {100.5 1}", levels[0])
	}

	if got := len(ParseLevels(pairs, 0)); got != 3 {
		t.Errorf("len with depth 0 = %d, want 3", got)
	}
}

func TestBinanceConversions(t *testing.T) {
	ticker := binanceTicker("BTC/USDT", &binance.PriceChangeStats{
		LastPrice:          "65000.10",
		PriceChange:        "-500.00",
		PriceChangePercent: "-0.763",
		Volume:             "1234.5",
		CloseTime:          1700000000000,
	})
	if ticker.Last != 65000.10 {
		t.Errorf("Last = %v, want 65000.10", ticker.Last)
	}
	if ticker.Change != -500 {
		t.Errorf("Change = %v, want -500", ticker.Change)
	}
	if ticker.Timestamp != 1700000000000 {
		t.Errorf("Timestamp = %d, want 1700000000000", ticker.Timestamp)
	}

	candles := binanceCandles([]*binance.Kline{
		{OpenTime: 1000, Open: "1", High: "3", Low: "0.5", Close: "2", Volume: "10"},
		nil,
	})
	if len(candles) != 1 {
		t.Fatalf("len(candles) = %d, want 1", len(candles))
	}
	want := model.OHLCV{OpenTime: 1000, Open: 1, High: 3, Low: 0.5, Close: 2, Volume: 10}
	if candles[0] != want {
		t.Errorf("candle = %+v, want %+v", candles[0], want)
	}
}

func TestBinanceDepthLimit(t *testing.T) {
	tests := []struct {
		depth int
		want  int
	}{
		{1, 5},
		{5, 5},
		{20, 20},
		{21, 50},
		{10000, 5000},
	}
	for _, tt := range tests {
		if got := binanceDepthLimit(tt.depth); got != tt.want {
			t.Errorf("binanceDepthLimit(%d) = %d, want %d", tt.depth, got, tt.want)
		}
	}
}

func TestCoinbase_FetchTicker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/products/BTC-USD/stats" {
			t.Errorf("path = %s, want /products/BTC-USD/stats", r.URL.Path)
		}
		w.Write([]byte(`{"open":"100","high":"120","low":"90","last":"110","volume":"5.5"}`))
	}))
	defer server.Close()

	cb := NewCoinbase(config.ExchangeConfig{ID: "coinbase", RestURL: server.URL}, nil, nil)

	ticker, err := cb.FetchTicker(context.Background(), "BTC/USD")
	if err != nil {
		t.Fatalf("FetchTicker failed: %v", err)
	}
	if ticker.Last != 110 {
		t.Errorf("Last = %v, want 110", ticker.Last)
	}
	if ticker.Change != 10 {
		t.Errorf("Change = %v, want 10", ticker.Change)
	}
	if ticker.ChangePercent != 10 {
		t.Errorf("ChangePercent = %v, want 10", ticker.ChangePercent)
	}
}

func TestCoinbase_FetchOHLCV(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("granularity"); got != "60" {
			t.Errorf("granularity = %s, want 60", got)
		}
		// newest first
		w.Write([]byte(`[[120, 9, 12, 10, 11, 1.5], [60, 8, 11, 9, 10, 2.5], [0, 7, 10, 8, 9, 3]]`))
	}))
	defer server.Close()

	cb := NewCoinbase(config.ExchangeConfig{ID: "coinbase", RestURL: server.URL}, nil, nil)

	candles, err := cb.FetchOHLCV(context.Background(), "BTC/USD", "1m", 2)
	if err != nil {
		t.Fatalf("FetchOHLCV failed: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("len = %d, want 2", len(candles))
	}
	if candles[0].OpenTime != 60000 || candles[1].OpenTime != 120000 {
		t.Errorf("open times = %d, %d, want 60000, 120000", candles[0].OpenTime, candles[1].OpenTime)
	}
	want := model.OHLCV{OpenTime: 120000, Open: 10, High: 12, Low: 9, Close: 11, Volume: 1.5}
	if candles[1] != want {
		t.Errorf("candle = %+v, want %+v", candles[1], want)
	}
}

func TestCoinbase_UnsupportedTimeframe(t *testing.T) {
	cb := NewCoinbase(config.ExchangeConfig{ID: "coinbase", RestURL: "http://unused"}, nil, nil)

	_, err := cb.FetchOHLCV(context.Background(), "BTC/USD", "4h", 10)
	if !errors.Is(err, ErrUnsupportedTimeframe) {
		t.Errorf("expected ErrUnsupportedTimeframe, got %v", err)
	}
}

func TestCoinbase_FetchOrderBook(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"bids": [][]any{{"100.0", "1.0", 3}, {"99.5", "2.0", 1}},
			"asks": [][]any{{"100.5", "0.5", 2}},
		})
	}))
	defer server.Close()

	cb := NewCoinbase(config.ExchangeConfig{ID: "coinbase", RestURL: server.URL}, nil, nil)

	book, err := cb.FetchOrderBook(context.Background(), "BTC/USD", 1)
	if err != nil {
		t.Fatalf("FetchOrderBook failed: %v", err)
	}
	if len(book.Bids) != 1 || book.Bids[0].Price != 100 {
		t.Errorf("Bids = %+v, want one level at 100", book.Bids)
	}
	if len(book.Asks) != 1 || book.Asks[0].Quantity != 0.5 {
		t.Errorf("Asks = %+v, want one level with 0.5", book.Asks)
	}
}

func TestRESTClient_RetryOn5xx(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	c := newRESTClient("test", server.URL, nil, nil)
	c.retryBackoff = 10 * time.Millisecond

	var out struct{ OK bool }
	if err := c.get(context.Background(), "/x", nil, &out); err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !out.OK {
		t.Error("expected OK = true")
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

func TestRESTClient_NoRetryOn4xx(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := newRESTClient("test", server.URL, nil, nil)
	c.retryBackoff = 10 * time.Millisecond

	err := c.get(context.Background(), "/x", nil, &struct{}{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want 404", apiErr.StatusCode)
	}
	if apiErr.IsRetryable() {
		t.Error("404 should not be retryable")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestNewRegistryFromConfig(t *testing.T) {
	cfgs := []config.ExchangeConfig{
		{ID: "binance", Driver: "binance", PublicData: true, Mode: "stream"},
		{ID: "cb", Driver: "coinbase", Mode: "poll"},
	}

	reg, err := NewRegistryFromConfig(cfgs, time.Second, nil)
	if err != nil {
		t.Fatalf("NewRegistryFromConfig failed: %v", err)
	}

	ids := reg.IDs()
	if len(ids) != 2 || ids[0] != "binance" || ids[1] != "cb" {
		t.Errorf("IDs = %v, want [binance cb]", ids)
	}

	ex, ok := reg.Get("cb")
	if !ok {
		t.Fatal("expected cb exchange")
	}
	if _, isCoinbase := ex.(*Coinbase); !isCoinbase {
		t.Errorf("cb adapter = %T, want *Coinbase", ex)
	}

	cfg, _ := reg.Config("binance")
	if !cfg.HasCredentials() {
		t.Error("binance should be live with public_data")
	}

	if reg.Has("kraken") {
		t.Error("kraken should not be registered")
	}
}

func TestNewRegistryFromConfig_UnknownDriver(t *testing.T) {
	_, err := NewRegistryFromConfig([]config.ExchangeConfig{{ID: "x", Driver: "kraken"}}, time.Second, nil)
	if !errors.Is(err, ErrUnknownExchange) {
		t.Errorf("expected ErrUnknownExchange, got %v", err)
	}
}
