package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidChannel is returned for malformed or unsupported channel keys.
var ErrInvalidChannel = errors.New("invalid channel")

// ChannelType identifies one of the independent channel families.
type ChannelType string

const (
	ChannelTicker      ChannelType = "ticker"
	ChannelKline       ChannelType = "kline"
	ChannelOrderBook   ChannelType = "orderbook"
	ChannelOrderStatus ChannelType = "order_status"
	ChannelSignal      ChannelType = "signal"
)

// ChannelTypes lists every known channel type.
var ChannelTypes = []ChannelType{
	ChannelTicker,
	ChannelKline,
	ChannelOrderBook,
	ChannelOrderStatus,
	ChannelSignal,
}

// Valid reports whether t is a known channel type.
func (t ChannelType) Valid() bool {
	switch t {
	case ChannelTicker, ChannelKline, ChannelOrderBook, ChannelOrderStatus, ChannelSignal:
		return true
	}
	return false
}

// Priority reports whether events of this type must never be dropped
// under backpressure.
func (t ChannelType) Priority() bool {
	return t == ChannelOrderStatus || t == ChannelSignal
}

// MarketData reports whether the type is sourced from an exchange feed.
func (t ChannelType) MarketData() bool {
	return t == ChannelTicker || t == ChannelKline || t == ChannelOrderBook
}

// Timeframes supported by kline channels.
var Timeframes = map[string]int64{
	"1m":  60,
	"5m":  5 * 60,
	"15m": 15 * 60,
	"1h":  60 * 60,
	"4h":  4 * 60 * 60,
	"1d":  24 * 60 * 60,
}

// ChannelKey identifies one logical data stream. It is comparable and is
// used directly as a map key; equality is structural.
type ChannelKey struct {
	Type       ChannelType
	Exchange   string
	Symbol     string
	Timeframe  string
	StrategyID string
	UserID     string
}

// String renders the key as a stable, colon-separated identifier.
// Unused fields are omitted, e.g. "ticker:binance:BTC/USDT".
func (k ChannelKey) String() string {
	parts := []string{string(k.Type)}
	for _, p := range []string{k.Exchange, k.Symbol, k.Timeframe, k.StrategyID, k.UserID} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ":")
}

// Normalize returns a copy with canonical casing: exchange ids lower-case,
// symbols upper-case. Fields the channel type does not use are cleared.
func (k ChannelKey) Normalize() ChannelKey {
	n := ChannelKey{
		Type:       ChannelType(strings.ToLower(strings.TrimSpace(string(k.Type)))),
		Exchange:   strings.ToLower(strings.TrimSpace(k.Exchange)),
		Symbol:     strings.ToUpper(strings.TrimSpace(k.Symbol)),
		Timeframe:  strings.TrimSpace(k.Timeframe),
		StrategyID: strings.TrimSpace(k.StrategyID),
		UserID:     strings.TrimSpace(k.UserID),
	}

	switch n.Type {
	case ChannelTicker, ChannelOrderBook:
		n.Timeframe, n.StrategyID, n.UserID = "", "", ""
	case ChannelKline:
		n.StrategyID, n.UserID = "", ""
	case ChannelOrderStatus:
		n.Symbol, n.Timeframe, n.StrategyID = "", "", ""
	case ChannelSignal:
		n.Exchange, n.Timeframe, n.UserID = "", "", ""
	}
	return n
}

// Validate checks that the key carries the fields its type requires.
// It does not check whether an exchange is configured; the registry does.
func (k ChannelKey) Validate() error {
	if !k.Type.Valid() {
		return fmt.Errorf("%w: unknown channel type %q", ErrInvalidChannel, k.Type)
	}

	switch k.Type {
	case ChannelTicker, ChannelOrderBook, ChannelKline:
		if k.Exchange == "" {
			return fmt.Errorf("%w: %s requires exchange", ErrInvalidChannel, k.Type)
		}
		if err := validateSymbol(k.Symbol); err != nil {
			return err
		}
		if k.Type == ChannelKline {
			if _, ok := Timeframes[k.Timeframe]; !ok {
				return fmt.Errorf("%w: unsupported timeframe %q", ErrInvalidChannel, k.Timeframe)
			}
		}
	case ChannelOrderStatus:
		if k.UserID == "" {
			return fmt.Errorf("%w: order_status requires userId", ErrInvalidChannel)
		}
	case ChannelSignal:
		if k.StrategyID == "" {
			return fmt.Errorf("%w: signal requires strategyId", ErrInvalidChannel)
		}
		if k.Symbol != "" {
			if err := validateSymbol(k.Symbol); err != nil {
				return err
			}
		}
	}
	return nil
}

// validateSymbol accepts unified symbols of the form BASE/QUOTE.
func validateSymbol(symbol string) error {
	base, quote, ok := strings.Cut(symbol, "/")
	if !ok || base == "" || quote == "" || strings.Contains(quote, "/") {
		return fmt.Errorf("%w: symbol %q must be BASE/QUOTE", ErrInvalidChannel, symbol)
	}
	return nil
}

// SplitSymbol returns the base and quote assets of a unified symbol.
func SplitSymbol(symbol string) (base, quote string) {
	base, quote, _ = strings.Cut(symbol, "/")
	return base, quote
}
