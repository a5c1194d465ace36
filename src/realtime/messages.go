package realtime

import (
	"fmt"
	"time"

	"tradecopier/src/model"
)

// Server-to-client event types.
const (
	EventTradeUpdate         = "trade:update"
	EventCopyOperationUpdate = "copy-operation:update"
	EventAccountUpdate       = "account:update"
	EventSystemEvent         = "system:event"
	EventSystemAlert         = "system:alert"
	EventSubscribed          = "subscribed"
	EventUnsubscribed        = "unsubscribed"
	EventError               = "error"
	EventPong                = "pong"
)

// Client-to-server control event types.
const (
	EventSubscribeAccount  = "subscribe:account"
	EventSubscribeCopyRule = "subscribe:copy-rule"
	EventUnsubscribe       = "unsubscribe"
	EventPing              = "ping"
)

// Channel kinds addressable in subscribe/unsubscribe requests.
const (
	ChannelAccount  = "account"
	ChannelCopyRule = "copy-rule"
)

func userChannel(id uint) string     { return fmt.Sprintf("user:%d", id) }
func accountChannel(id uint) string  { return fmt.Sprintf("account:%d", id) }
func copyRuleChannel(id uint) string { return fmt.Sprintf("copy-rule:%d", id) }

// Envelope is the wire shape of every server-to-client message.
type Envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// TradeUpdate carries a trade mutation. Type is "insert" or "update".
type TradeUpdate struct {
	Type  string       `json:"type"`
	Trade *model.Trade `json:"trade"`
}

type CopyOperationUpdate struct {
	Type      string               `json:"type"`
	Operation *model.CopyOperation `json:"operation"`
}

type AccountUpdate struct {
	Type    string         `json:"type"`
	Account *model.Account `json:"account"`
}

type SystemEventPayload struct {
	Event *model.SystemEvent `json:"event"`
}

type Alert struct {
	Message   string    `json:"message"`
	Severity  string    `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
}

// Ack confirms a subscribe or unsubscribe request.
type Ack struct {
	Channel string `json:"channel"`
	ID      uint   `json:"id"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type Pong struct {
	Timestamp int64 `json:"timestamp"`
}

// controlMessage is the shape of every client-to-server request.
type controlMessage struct {
	Event   string `json:"event"`
	ID      uint   `json:"id,omitempty"`
	Channel string `json:"channel,omitempty"`
}
