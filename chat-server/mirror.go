package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/example/campus-marketplace/pkg/otelhelper"
)

// EventMirror publishes chat events to NATS subjects so other processes —
// the notify-worker, a moderation tail, a future second chat-server — can
// follow the live stream without access to the in-memory registries. The
// registries stay authoritative for in-process fan-out.
//
// Subjects:
//
//	chat.message.{conversationId}  every persisted message
//	notify.message.{userId}        message whose counterpart was not in the room
type EventMirror struct {
	nc             *nats.Conn
	publishCounter metric.Int64Counter
}

func newEventMirror(nc *nats.Conn) *EventMirror {
	meter := otel.Meter("chat-server")
	publishCounter, _ := meter.Int64Counter("chat_mirror_published_total",
		metric.WithDescription("Total events mirrored to NATS"))
	return &EventMirror{nc: nc, publishCounter: publishCounter}
}

// PublishMessage mirrors a persisted message to chat.message.{conversationId}.
func (m *EventMirror) PublishMessage(ctx context.Context, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.WarnContext(ctx, "Failed to marshal mirrored message", "error", err)
		return
	}
	subject := "chat.message." + msg.ConversationId
	if err := otelhelper.TracedPublish(ctx, m.nc, subject, data); err != nil {
		slog.WarnContext(ctx, "Failed to mirror message", "subject", subject, "error", err)
		return
	}
	m.publishCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "message")))
}

// PublishNotification records that userId should be notified about msg. The
// notify-worker turns these into in-app notification rows; an eventual push
// gateway would subscribe here too.
func (m *EventMirror) PublishNotification(ctx context.Context, userId string, msg Message) {
	// Subject tokens are dot-separated; a user id containing a dot would
	// corrupt the subject hierarchy.
	if strings.Contains(userId, ".") {
		slog.WarnContext(ctx, "Skipping notification for user id with dot", "user", userId)
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		slog.WarnContext(ctx, "Failed to marshal notification", "error", err)
		return
	}
	subject := "notify.message." + userId
	if err := otelhelper.TracedPublish(ctx, m.nc, subject, data); err != nil {
		slog.WarnContext(ctx, "Failed to publish notification", "subject", subject, "error", err)
		return
	}
	m.publishCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "notification")))
}
