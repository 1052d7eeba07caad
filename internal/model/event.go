package model

// -----------------------------------------------------------------------------
// Event Union
// -----------------------------------------------------------------------------

// Event is anything an upstream feed emits. The set of implementations is
// closed; switch on the concrete type to handle each variant.
type Event interface {
	// Key returns the routing key of the stream that produced the event.
	Key() ChannelKey

	// Timestamp returns the event time in milliseconds since epoch.
	Timestamp() int64

	isEvent()
}

// TickerEvent is a last-price update for a symbol.
type TickerEvent struct {
	Channel       ChannelKey `json:"-"`
	Symbol        string     `json:"symbol"`
	Price         float64    `json:"price"`
	Change        float64    `json:"change"`
	ChangePercent float64    `json:"changePercent"`
	Volume        float64    `json:"volume"`
	Ts            int64      `json:"ts"`
}

// OHLCV is one candle.
type OHLCV struct {
	OpenTime int64   `json:"openTime"` // ms since epoch
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
}

// KlineEvent is an update of the current (or a just-closed) candle.
type KlineEvent struct {
	Channel   ChannelKey `json:"-"`
	Symbol    string     `json:"symbol"`
	Timeframe string     `json:"timeframe"`
	OHLCV     OHLCV      `json:"ohlcv"`
	Closed    bool       `json:"closed"`
	Ts        int64      `json:"ts"`
}

// PriceLevel is one aggregated order-book level.
type PriceLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// OrderBookEvent is a top-of-book snapshot. Bids are sorted descending,
// asks ascending.
type OrderBookEvent struct {
	Channel ChannelKey   `json:"-"`
	Symbol  string       `json:"symbol"`
	Bids    []PriceLevel `json:"bids"`
	Asks    []PriceLevel `json:"asks"`
	Ts      int64        `json:"ts"`
}

// Order statuses reported on order_status channels.
const (
	OrderNew             = "new"
	OrderPartiallyFilled = "partially_filled"
	OrderFilled          = "filled"
	OrderCanceled        = "canceled"
	OrderRejected        = "rejected"
)

// OrderStatusEvent reports a change in a user's order.
type OrderStatusEvent struct {
	Channel   ChannelKey `json:"-"`
	OrderID   string     `json:"orderId"`
	UserID    string     `json:"userId"`
	Exchange  string     `json:"exchange,omitempty"`
	Symbol    string     `json:"symbol,omitempty"`
	Side      string     `json:"side,omitempty"`
	Status    string     `json:"status"`
	Price     float64    `json:"price,omitempty"`
	Quantity  float64    `json:"quantity,omitempty"`
	FilledQty float64    `json:"filledQty"`
	AvgPrice  float64    `json:"avgPrice,omitempty"`
	Ts        int64      `json:"ts"`
}

// Strategy signal directions.
const (
	SignalBuy  = "buy"
	SignalSell = "sell"
	SignalHold = "hold"
)

// SignalEvent is a strategy engine output.
type SignalEvent struct {
	Channel    ChannelKey `json:"-"`
	StrategyID string     `json:"strategyId"`
	Symbol     string     `json:"symbol"`
	Signal     string     `json:"signal"`
	Strength   float64    `json:"strength"`
	Price      float64    `json:"price"`
	Ts         int64      `json:"ts"`
}

// StaleEvent marks a feed that has not produced real data within its
// staleness window (Stale=true), or that has recovered (Stale=false).
type StaleEvent struct {
	Channel    ChannelKey `json:"-"`
	Stale      bool       `json:"stale"`
	LastDataAt int64      `json:"lastDataAt,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	Ts         int64      `json:"ts"`
}

func (e TickerEvent) Key() ChannelKey      { return e.Channel }
func (e KlineEvent) Key() ChannelKey       { return e.Channel }
func (e OrderBookEvent) Key() ChannelKey   { return e.Channel }
func (e OrderStatusEvent) Key() ChannelKey { return e.Channel }
func (e SignalEvent) Key() ChannelKey      { return e.Channel }
func (e StaleEvent) Key() ChannelKey       { return e.Channel }

func (e TickerEvent) Timestamp() int64      { return e.Ts }
func (e KlineEvent) Timestamp() int64       { return e.Ts }
func (e OrderBookEvent) Timestamp() int64   { return e.Ts }
func (e OrderStatusEvent) Timestamp() int64 { return e.Ts }
func (e SignalEvent) Timestamp() int64      { return e.Ts }
func (e StaleEvent) Timestamp() int64       { return e.Ts }

func (TickerEvent) isEvent()      {}
func (KlineEvent) isEvent()       {}
func (OrderBookEvent) isEvent()   {}
func (OrderStatusEvent) isEvent() {}
func (SignalEvent) isEvent()      {}
func (StaleEvent) isEvent()       {}

// IsPriority reports whether ev must survive backpressure.
func IsPriority(ev Event) bool {
	switch ev.(type) {
	case OrderStatusEvent, SignalEvent:
		return true
	}
	return false
}

// -----------------------------------------------------------------------------
// Wire Types
// -----------------------------------------------------------------------------

// Envelope types.
const (
	EnvelopeEvent = "event"
	EnvelopeStale = "stale"
)

// Envelope is the JSON frame delivered to clients for every event.
type Envelope struct {
	Type        string      `json:"type"`
	ChannelType ChannelType `json:"channelType"`
	Channel     string      `json:"channel"`
	Payload     Event       `json:"payload"`
	Ts          int64       `json:"ts"`
}

// NewEnvelope wraps an event for delivery.
func NewEnvelope(ev Event) Envelope {
	key := ev.Key()
	typ := EnvelopeEvent
	if _, ok := ev.(StaleEvent); ok {
		typ = EnvelopeStale
	}
	return Envelope{
		Type:        typ,
		ChannelType: key.Type,
		Channel:     key.String(),
		Payload:     ev,
		Ts:          ev.Timestamp(),
	}
}
