package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"tradecopier/src/auth"
	"tradecopier/src/model"
	"tradecopier/src/repository"
)

// Hub fans data-store mutations out to authorized websocket clients. Every
// client joins its own user channel at connect time; account and copy-rule
// channels are joined only through ownership-checked subscribe requests,
// because channel names are guessable.
//
// The hub implements the notifier interfaces of the copy engine and the
// placement resolver.
type Hub struct {
	logger *logrus.Entry
	config Config

	accounts *repository.AccountRepository
	rules    *repository.CopyRuleRepository

	upgrader websocket.Upgrader

	// Send channels are closed only under the exclusive lock, at the same
	// moment the client leaves the registry. Every enqueue therefore happens
	// under the read lock against a client still present in clients, so a
	// publish can never race a disconnect onto a closed channel.
	mu       sync.RWMutex
	closed   bool
	clients  map[*Client]struct{}
	channels map[string]map[*Client]struct{}
}

func NewHub(
	logger *logrus.Entry,
	accounts *repository.AccountRepository,
	rules *repository.CopyRuleRepository,
	config Config,
) *Hub {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Hub{
		logger:   logger,
		config:   config,
		accounts: accounts,
		rules:    rules,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:  make(map[*Client]struct{}),
		channels: make(map[string]map[*Client]struct{}),
	}
}

// Run blocks until the context is cancelled, then disconnects every client
// and refuses further registrations.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.channels = make(map[string]map[*Client]struct{})
}

// HandleConnect authenticates the session token, upgrades the connection and
// auto-joins the client to its user channel.
func (h *Hub) HandleConnect(w http.ResponseWriter, r *http.Request) {
	tokenString := auth.TokenFromRequest(r)
	if tokenString == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	claims, err := auth.ParseToken(tokenString)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("websocket upgrade failed")
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		userID: claims.UserID,
		send:   make(chan []byte, h.config.SendBuffer),
	}

	h.mu.Lock()
	if h.closed {
		// Shutdown won the race with the upgrade.
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[client] = struct{}{}
	h.joinLocked(client, userChannel(client.userID))
	h.mu.Unlock()

	h.logger.WithField("user_id", client.userID).Debug("websocket client connected")

	go client.writePump()
	go client.readPump()
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)

	for name, members := range h.channels {
		delete(members, client)
		if len(members) == 0 {
			delete(h.channels, name)
		}
	}
}

func (h *Hub) joinLocked(client *Client, channel string) {
	members, ok := h.channels[channel]
	if !ok {
		members = make(map[*Client]struct{})
		h.channels[channel] = members
	}
	members[client] = struct{}{}
}

func (h *Hub) join(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.joinLocked(client, channel)
}

// leave removes channel membership only; the connection stays up.
func (h *Hub) leave(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.channels[channel]
	if !ok {
		return
	}
	delete(members, client)
	if len(members) == 0 {
		delete(h.channels, channel)
	}
}

func (h *Hub) handleControl(client *Client, msg controlMessage) {
	switch msg.Event {
	case EventSubscribeAccount:
		h.subscribeAccount(client, msg.ID)
	case EventSubscribeCopyRule:
		h.subscribeCopyRule(client, msg.ID)
	case EventUnsubscribe:
		h.unsubscribe(client, msg)
	case EventPing:
		h.sendTo(client, Envelope{Event: EventPong, Data: Pong{Timestamp: time.Now().UnixMilli()}})
	default:
		h.sendError(client, "unknown event "+msg.Event)
	}
}

// subscribeAccount re-verifies ownership against the store on every call.
func (h *Hub) subscribeAccount(client *Client, accountID uint) {
	ctx, cancel := context.WithTimeout(context.Background(), h.config.LookupTimeout)
	defer cancel()

	account, err := h.accounts.FindByIDForUser(ctx, accountID, client.userID)
	if err != nil {
		h.sendError(client, "subscription failed")
		return
	}
	if account == nil {
		h.sendError(client, "account not found")
		return
	}

	h.join(client, accountChannel(accountID))
	h.sendTo(client, Envelope{Event: EventSubscribed, Data: Ack{Channel: ChannelAccount, ID: accountID}})
}

func (h *Hub) subscribeCopyRule(client *Client, ruleID uint) {
	ctx, cancel := context.WithTimeout(context.Background(), h.config.LookupTimeout)
	defer cancel()

	rule, err := h.rules.FindByIDForUser(ctx, ruleID, client.userID)
	if err != nil {
		h.sendError(client, "subscription failed")
		return
	}
	if rule == nil {
		h.sendError(client, "copy rule not found")
		return
	}

	h.join(client, copyRuleChannel(ruleID))
	h.sendTo(client, Envelope{Event: EventSubscribed, Data: Ack{Channel: ChannelCopyRule, ID: ruleID}})
}

func (h *Hub) unsubscribe(client *Client, msg controlMessage) {
	var channel string
	switch msg.Channel {
	case ChannelAccount:
		channel = accountChannel(msg.ID)
	case ChannelCopyRule:
		channel = copyRuleChannel(msg.ID)
	default:
		h.sendError(client, "unknown channel kind "+msg.Channel)
		return
	}

	h.leave(client, channel)
	h.sendTo(client, Envelope{Event: EventUnsubscribed, Data: Ack{Channel: msg.Channel, ID: msg.ID}})
}

// publish delivers one envelope to the union of the given channels' members.
// A client subscribed to several of them receives the message once.
func (h *Hub) publish(channels []string, envelope Envelope) {
	payload, err := json.Marshal(envelope)
	if err != nil {
		h.logger.WithError(err).WithField("event", envelope.Event).Error("failed to marshal fan-out message")
		return
	}

	// Enqueue under the read lock; see the lock comment on Hub.
	h.mu.RLock()
	defer h.mu.RUnlock()

	recipients := make(map[*Client]struct{})
	for _, channel := range channels {
		for client := range h.channels[channel] {
			recipients[client] = struct{}{}
		}
	}

	for client := range recipients {
		if !client.enqueue(payload) {
			h.logger.WithFields(logrus.Fields{
				"user_id": client.userID,
				"event":   envelope.Event,
			}).Warn("dropping message for slow websocket consumer")
		}
	}
}

// broadcast delivers one envelope to every connected client.
func (h *Hub) broadcast(envelope Envelope) {
	payload, err := json.Marshal(envelope)
	if err != nil {
		h.logger.WithError(err).WithField("event", envelope.Event).Error("failed to marshal broadcast message")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if !client.enqueue(payload) {
			h.logger.WithField("user_id", client.userID).Warn("dropping broadcast for slow websocket consumer")
		}
	}
}

func (h *Hub) sendTo(client *Client, envelope Envelope) {
	payload, err := json.Marshal(envelope)
	if err != nil {
		h.logger.WithError(err).Error("failed to marshal reply")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	// The client may have unregistered since the caller looked it up; its
	// send channel is closed in that case.
	if _, ok := h.clients[client]; !ok {
		return
	}
	client.enqueue(payload)
}

func (h *Hub) sendError(client *Client, message string) {
	h.sendTo(client, Envelope{Event: EventError, Data: ErrorPayload{Message: message}})
}

// TradeChanged publishes a trade mutation to the account channel and the
// owning user's channel.
func (h *Hub) TradeChanged(changeType string, trade *model.Trade) {
	channels := []string{accountChannel(trade.AccountID)}
	if userID, ok := h.accountOwner(trade.AccountID); ok {
		channels = append(channels, userChannel(userID))
	}
	h.publish(channels, Envelope{Event: EventTradeUpdate, Data: TradeUpdate{Type: changeType, Trade: trade}})
}

// CopyOperationChanged publishes a ledger mutation to the copy-rule channel
// and the rule owner's user channel.
func (h *Hub) CopyOperationChanged(changeType string, op *model.CopyOperation) {
	channels := []string{copyRuleChannel(op.CopyRuleID)}
	if userID, ok := h.ruleOwner(op.CopyRuleID); ok {
		channels = append(channels, userChannel(userID))
	}
	h.publish(channels, Envelope{Event: EventCopyOperationUpdate, Data: CopyOperationUpdate{Type: changeType, Operation: op}})
}

// AccountChanged publishes an account mutation to the account channel and
// the owner's user channel.
func (h *Hub) AccountChanged(account *model.Account) {
	channels := []string{accountChannel(account.ID), userChannel(account.UserID)}
	h.publish(channels, Envelope{Event: EventAccountUpdate, Data: AccountUpdate{Type: "update", Account: account}})
}

// SystemEventLogged publishes account-scoped events to the account and owner
// channels; events with no account broadcast to every client.
func (h *Hub) SystemEventLogged(event *model.SystemEvent) {
	envelope := Envelope{Event: EventSystemEvent, Data: SystemEventPayload{Event: event}}

	if event.AccountID == nil {
		h.broadcast(envelope)
		return
	}

	channels := []string{accountChannel(*event.AccountID)}
	if userID, ok := h.accountOwner(*event.AccountID); ok {
		channels = append(channels, userChannel(userID))
	}
	h.publish(channels, envelope)
}

// BroadcastAlert pushes an operator alert to every connected client.
func (h *Hub) BroadcastAlert(message, severity string) {
	h.broadcast(Envelope{Event: EventSystemAlert, Data: Alert{
		Message:   message,
		Severity:  severity,
		Timestamp: time.Now().UTC(),
	}})
}

func (h *Hub) accountOwner(accountID uint) (uint, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), h.config.LookupTimeout)
	defer cancel()

	account, err := h.accounts.FindByID(ctx, accountID)
	if err != nil || account == nil {
		return 0, false
	}
	return account.UserID, true
}

func (h *Hub) ruleOwner(ruleID uint) (uint, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), h.config.LookupTimeout)
	defer cancel()

	rule, err := h.rules.FindByID(ctx, ruleID)
	if err != nil || rule == nil {
		return 0, false
	}
	return rule.UserID, true
}
