package session

import (
	"github.com/rickgao/cryptodash/internal/model"
)

// Client actions.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionLogout      = "logout"
	ActionPing        = "ping"
)

// Ack types.
const (
	AckSubscribed   = "subscribed"
	AckUnsubscribed = "unsubscribed"
	AckError        = "error"
	AckPong         = "pong"
	AckBye          = "bye"
)

// Request is a client control message.
type Request struct {
	Action      string            `json:"action"`
	ChannelType model.ChannelType `json:"channelType,omitempty"`
	Exchange    string            `json:"exchange,omitempty"`
	Symbol      string            `json:"symbol,omitempty"`
	Timeframe   string            `json:"timeframe,omitempty"`
	StrategyID  string            `json:"strategyId,omitempty"`
	UserID      string            `json:"userId,omitempty"`
	ID          string            `json:"id,omitempty"` // Echoed in the ack
}

// Key returns the channel key the request refers to.
func (r Request) Key() model.ChannelKey {
	return model.ChannelKey{
		Type:       r.ChannelType,
		Exchange:   r.Exchange,
		Symbol:     r.Symbol,
		Timeframe:  r.Timeframe,
		StrategyID: r.StrategyID,
		UserID:     r.UserID,
	}
}

// Ack is the server's reply to a Request.
type Ack struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	ID      string `json:"id,omitempty"`
	Error   string `json:"error,omitempty"`
	Ts      int64  `json:"ts"`
}
