package main

// Inbound event types.
const (
	evtAnnounceOnline = "announce-online"
	evtRoomJoin       = "room-join"
	evtRoomLeave      = "room-leave"
	evtMessageSend    = "message-send"
	evtTypingStart    = "typing-start"
	evtTypingStop     = "typing-stop"
	evtMarkRead       = "mark-read"
)

// Outbound event types.
const (
	evtPresenceChanged        = "presence-changed"
	evtMessageReceived        = "message-received"
	evtMessageSendFailed      = "message-send-failed"
	evtTypingChanged          = "typing-changed"
	evtReadReceipt            = "read-receipt"
	evtNewMessageNotification = "new-message-notification"
)

// ClientEvent is the envelope for everything a client sends over the socket.
// Fields beyond Type are populated depending on the event.
type ClientEvent struct {
	Type           string `json:"type"`
	UserId         string `json:"userId,omitempty"`
	ConversationId string `json:"conversationId,omitempty"`
	SenderId       string `json:"senderId,omitempty"`
	Body           string `json:"body,omitempty"`
	Kind           string `json:"kind,omitempty"`
}

// Message is the persisted chat message record, as broadcast to room members.
type Message struct {
	Id             int64  `json:"id"`
	ConversationId string `json:"conversationId"`
	SenderId       string `json:"senderId"`
	Body           string `json:"body"`
	Kind           string `json:"kind"`
	SentAt         int64  `json:"sentAt"` // unix millis
	Read           bool   `json:"read"`
}

// PresenceChangedEvent is broadcast to every connection when a user goes
// online or offline.
type PresenceChangedEvent struct {
	Type   string `json:"type"`
	UserId string `json:"userId"`
	Status string `json:"status"` // "online" or "offline"
}

func newPresenceChanged(userId, status string) PresenceChangedEvent {
	return PresenceChangedEvent{Type: evtPresenceChanged, UserId: userId, Status: status}
}

// MessageReceivedEvent delivers a persisted message to room members. The
// sender receives its own echo as the delivery confirmation.
type MessageReceivedEvent struct {
	Type    string  `json:"type"`
	Message Message `json:"message"`
}

func newMessageReceived(msg Message) MessageReceivedEvent {
	return MessageReceivedEvent{Type: evtMessageReceived, Message: msg}
}

// SendFailedEvent reports a rejected or failed message-send to the sender
// connection only.
type SendFailedEvent struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

func newSendFailed(reason string) SendFailedEvent {
	return SendFailedEvent{Type: evtMessageSendFailed, Reason: reason}
}

// TypingChangedEvent tells other room members that a user started or
// stopped composing.
type TypingChangedEvent struct {
	Type           string `json:"type"`
	ConversationId string `json:"conversationId"`
	UserId         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

func newTypingChanged(conversationId, userId string, isTyping bool) TypingChangedEvent {
	return TypingChangedEvent{Type: evtTypingChanged, ConversationId: conversationId, UserId: userId, IsTyping: isTyping}
}

// ReadReceiptEvent announces that a participant has read the conversation's
// pending messages.
type ReadReceiptEvent struct {
	Type           string `json:"type"`
	ConversationId string `json:"conversationId"`
	ReaderId       string `json:"readerId"`
}

func newReadReceipt(conversationId, readerId string) ReadReceiptEvent {
	return ReadReceiptEvent{Type: evtReadReceipt, ConversationId: conversationId, ReaderId: readerId}
}

// NewMessageNotificationEvent is the out-of-band notice delivered to an
// online counterpart who is not currently viewing the conversation. It
// drives a badge or toast outside the open chat view.
type NewMessageNotificationEvent struct {
	Type           string `json:"type"`
	ConversationId string `json:"conversationId"`
	SenderId       string `json:"senderId"`
	SenderName     string `json:"senderName"`
	Body           string `json:"body"`
	SentAt         int64  `json:"sentAt"`
}

func newMessageNotification(conversationId, senderId, senderName, body string, sentAt int64) NewMessageNotificationEvent {
	return NewMessageNotificationEvent{
		Type:           evtNewMessageNotification,
		ConversationId: conversationId,
		SenderId:       senderId,
		SenderName:     senderName,
		Body:           body,
		SentAt:         sentAt,
	}
}
