package main

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/example/campus-marketplace/pkg/otelhelper"
)

// Hub is the connection manager: it owns the presence, typing and room
// registries, routes inbound client events, and performs every broadcast.
// Registry state is process-wide and lives exactly as long as the
// connections that populate it.
type Hub struct {
	mu    sync.RWMutex
	conns map[*Client]bool

	presence *presenceRegistry
	typing   *typingRegistry
	rooms    *roomRegistry

	store  MessageStore
	mirror *EventMirror // nil disables mirroring

	sentCounter    metric.Int64Counter
	failedCounter  metric.Int64Counter
	eventCounter   metric.Int64Counter
	sendDuration   metric.Float64Histogram
	droppedCounter metric.Int64Counter
}

func newHub(store MessageStore, mirror *EventMirror) *Hub {
	h := &Hub{
		conns:    make(map[*Client]bool),
		presence: newPresenceRegistry(),
		typing:   newTypingRegistry(),
		rooms:    newRoomRegistry(),
		store:    store,
		mirror:   mirror,
	}

	meter := otel.Meter("chat-server")
	h.sentCounter, _ = meter.Int64Counter("chat_messages_sent_total",
		metric.WithDescription("Total messages persisted and fanned out"))
	h.failedCounter, _ = meter.Int64Counter("chat_send_failures_total",
		metric.WithDescription("Total message sends rejected or failed"))
	h.eventCounter, _ = meter.Int64Counter("chat_client_events_total",
		metric.WithDescription("Total inbound client events by type"))
	h.sendDuration, _ = otelhelper.NewDurationHistogram(meter, "chat_send_duration_seconds",
		"Duration of message-send handling including persistence")
	h.droppedCounter, _ = meter.Int64Counter("chat_events_dropped_total",
		metric.WithDescription("Outbound events dropped because a client send buffer was full"))

	connGauge, _ := meter.Int64ObservableGauge("chat_connections",
		metric.WithDescription("Live WebSocket connections"))
	onlineGauge, _ := meter.Int64ObservableGauge("chat_online_users",
		metric.WithDescription("Users with a presence entry"))
	roomGauge, _ := meter.Int64ObservableGauge("chat_active_rooms",
		metric.WithDescription("Conversation rooms with at least one viewer"))
	_, _ = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(connGauge, int64(h.connCount()))
		o.ObserveInt64(onlineGauge, int64(h.presence.onlineCount()))
		o.ObserveInt64(roomGauge, int64(h.rooms.roomCount()))
		return nil
	}, connGauge, onlineGauge, roomGauge)

	return h
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c] = true
}

func (h *Hub) connCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// handleEvent routes one inbound client event. Invalid or unknown events are
// logged and dropped; nothing a client sends can take the process down.
func (h *Hub) handleEvent(ctx context.Context, c *Client, evt ClientEvent) {
	h.eventCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("type", evt.Type)))

	switch evt.Type {
	case evtAnnounceOnline:
		if evt.UserId == "" {
			slog.Warn("Ignoring announce-online without userId")
			return
		}
		h.announceOnline(c, evt.UserId)
	case evtRoomJoin:
		if evt.ConversationId == "" {
			return
		}
		h.joinRoom(ctx, c, evt.ConversationId)
	case evtRoomLeave:
		if evt.ConversationId == "" {
			return
		}
		h.leaveRoom(c, evt.ConversationId)
	case evtMessageSend:
		h.sendMessage(ctx, c, evt)
	case evtTypingStart:
		if evt.ConversationId == "" || evt.UserId == "" {
			return
		}
		h.startTyping(c, evt.ConversationId, evt.UserId)
	case evtTypingStop:
		if evt.ConversationId == "" || evt.UserId == "" {
			return
		}
		h.stopTyping(c, evt.ConversationId, evt.UserId)
	case evtMarkRead:
		if evt.ConversationId == "" || evt.UserId == "" {
			return
		}
		h.markRead(ctx, c, evt.ConversationId, evt.UserId)
	default:
		slog.Debug("Unknown client event", "type", evt.Type)
	}
}

// announceOnline binds the user identity to the connection and registers it
// as the user's live connection, superseding any earlier one. The earlier
// connection is not evicted; it just stops owning the presence entry.
func (h *Hub) announceOnline(c *Client, userId string) {
	c.bind(userId)
	h.presence.set(userId, c)
	h.broadcastAll(newPresenceChanged(userId, "online"))
	slog.Info("User online", "user", userId)
}

// announceOffline clears the presence entry if c still owns it and, if so,
// broadcasts presence-offline.
func (h *Hub) announceOffline(c *Client) {
	userId := c.identity()
	if userId == "" {
		return
	}
	if h.presence.clear(userId, c) {
		h.broadcastAll(newPresenceChanged(userId, "offline"))
		slog.Info("User offline", "user", userId)
	}
}

// joinRoom adds the connection to the conversation's room. Opening a
// conversation implies having seen its messages, so every message not
// authored by the joining user is marked read and a read-receipt goes to the
// other room members — but only when something was actually unread.
func (h *Hub) joinRoom(ctx context.Context, c *Client, conversationId string) {
	if !h.rooms.join(conversationId, c) {
		return
	}
	userId := c.identity()
	if userId == "" {
		return
	}
	updated, err := h.store.MarkRead(ctx, conversationId, userId)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to mark conversation read on join", "conversation", conversationId, "user", userId, "error", err)
		return
	}
	if updated > 0 {
		h.broadcastRoomExcept(conversationId, c, newReadReceipt(conversationId, userId))
	}
	slog.Debug("Connection joined room", "conversation", conversationId, "user", userId, "marked_read", updated)
}

// leaveRoom removes the connection from the room and implicitly stops its
// user's typing indicator there.
func (h *Hub) leaveRoom(c *Client, conversationId string) {
	if !h.rooms.leave(conversationId, c) {
		return
	}
	if userId := c.identity(); userId != "" {
		h.stopTyping(c, conversationId, userId)
	}
}

// markRead handles an explicit mark-read request from a client already
// viewing the conversation.
func (h *Hub) markRead(ctx context.Context, c *Client, conversationId, readerId string) {
	updated, err := h.store.MarkRead(ctx, conversationId, readerId)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to mark conversation read", "conversation", conversationId, "user", readerId, "error", err)
		return
	}
	if updated > 0 {
		h.broadcastRoomExcept(conversationId, c, newReadReceipt(conversationId, readerId))
	}
}

// startTyping records the typing entry and notifies the other room members.
// A redundant start is absorbed without re-broadcasting.
func (h *Hub) startTyping(c *Client, conversationId, userId string) {
	if !h.typing.start(conversationId, userId) {
		return
	}
	h.broadcastRoomExcept(conversationId, c, newTypingChanged(conversationId, userId, true))
}

// stopTyping clears the typing entry and notifies the other room members.
// Redundant stops are no-ops.
func (h *Hub) stopTyping(c *Client, conversationId, userId string) {
	if !h.typing.stop(conversationId, userId) {
		return
	}
	h.broadcastRoomExcept(conversationId, c, newTypingChanged(conversationId, userId, false))
}

// sendMessage validates, persists and fans out one message. Failures of any
// kind surface as a message-send-failed event to the sender connection only;
// there is no automatic retry.
func (h *Hub) sendMessage(ctx context.Context, c *Client, evt ClientEvent) {
	start := time.Now()

	if evt.ConversationId == "" || evt.SenderId == "" || evt.Body == "" {
		h.failedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "validation")))
		c.enqueue(newSendFailed("conversationId, senderId and body are required"))
		return
	}
	kind := evt.Kind
	if kind == "" {
		kind = "text"
	}

	msg, err := h.store.CreateMessage(ctx, evt.ConversationId, evt.SenderId, evt.Body, kind)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to persist message", "conversation", evt.ConversationId, "sender", evt.SenderId, "error", err)
		h.failedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "persistence")))
		c.enqueue(newSendFailed("message could not be delivered"))
		return
	}

	participants, err := h.store.Participants(ctx, evt.ConversationId)
	if err != nil {
		if errors.Is(err, ErrConversationNotFound) {
			h.failedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "not_found")))
			c.enqueue(newSendFailed("conversation not found"))
			return
		}
		slog.ErrorContext(ctx, "Failed to resolve participants", "conversation", evt.ConversationId, "error", err)
		h.failedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "persistence")))
		c.enqueue(newSendFailed("message could not be delivered"))
		return
	}
	counterpart := participants.BuyerId
	if counterpart == evt.SenderId {
		counterpart = participants.SellerId
	}

	// Room membership is re-fetched here, after persistence: the broadcast
	// reaches whoever is in the room now, including the sender's own echo.
	h.broadcastRoom(evt.ConversationId, newMessageReceived(msg))

	// Out-of-band notice for an online counterpart not viewing the room.
	// An offline counterpart gets nothing live; the mirror below is the
	// plug-in point for the notification pipeline.
	if peer, ok := h.presence.lookup(counterpart); ok && !h.rooms.contains(evt.ConversationId, peer) {
		senderName := evt.SenderId
		if info, err := h.store.SenderInfo(ctx, evt.SenderId); err == nil && info.Name != "" {
			senderName = info.Name
		} else if err != nil {
			slog.WarnContext(ctx, "Failed to load sender display info", "sender", evt.SenderId, "error", err)
		}
		peer.enqueue(newMessageNotification(msg.ConversationId, msg.SenderId, senderName, msg.Body, msg.SentAt))
	}

	if h.mirror != nil {
		h.mirror.PublishMessage(ctx, msg)
		if !h.roomHasUser(evt.ConversationId, counterpart) {
			h.mirror.PublishNotification(ctx, counterpart, msg)
		}
	}

	// Sending a message is an implicit typing stop.
	h.stopTyping(c, evt.ConversationId, evt.SenderId)

	h.sentCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	h.sendDuration.Record(ctx, time.Since(start).Seconds())
}

// roomHasUser reports whether any room member connection is bound to userId.
func (h *Hub) roomHasUser(conversationId, userId string) bool {
	for _, member := range h.rooms.members(conversationId) {
		if member.identity() == userId {
			return true
		}
	}
	return false
}

// disconnect runs the Terminated-state cleanup, in order: presence teardown
// (with offline broadcast if this connection still owns the entry), typing
// teardown per conversation, then room membership discard.
func (h *Hub) disconnect(c *Client) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()

	h.announceOffline(c)

	if userId := c.identity(); userId != "" {
		for _, conversationId := range h.typing.conversationsFor(userId) {
			h.stopTyping(c, conversationId, userId)
		}
	}

	h.rooms.removeAll(c)
}

// broadcastAll delivers an event to every live connection, fire-and-forget.
func (h *Hub) broadcastAll(evt any) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.conns))
	for c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	for _, c := range targets {
		c.enqueue(evt)
	}
}

// broadcastRoom delivers an event to every connection in the room.
func (h *Hub) broadcastRoom(conversationId string, evt any) {
	for _, c := range h.rooms.members(conversationId) {
		c.enqueue(evt)
	}
}

// broadcastRoomExcept delivers an event to every room member except origin.
func (h *Hub) broadcastRoomExcept(conversationId string, origin *Client, evt any) {
	for _, c := range h.rooms.members(conversationId) {
		if c != origin {
			c.enqueue(evt)
		}
	}
}
