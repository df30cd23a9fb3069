package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/transformhub/be-tm-approvals/internal/service"
)

// NotificationPublisher publishes approval workflow events to NATS for the
// notification service.
//
// Subject convention: notifications.tm.approval.<event_type>
// Event types: submitted, stage_approved, stage_skipped, approved, rejected.
//
// All publish operations are non-fatal: errors are logged but never
// propagated, so notification failures never interrupt approval operations.
type NotificationPublisher struct {
	conn *nats.Conn
	log  zerolog.Logger
}

// NewNotificationPublisher creates a publisher backed by the given NATS
// connection. A nil connection yields a publisher that drops every event.
func NewNotificationPublisher(conn *nats.Conn, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{conn: conn, log: log}
}

// Publish sends one approval event. Fire-and-forget.
func (p *NotificationPublisher) Publish(ctx context.Context, event service.ApprovalEvent) {
	if p.conn == nil {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", event.Type).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.tm.approval.%s", event.Type)
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("instance_id", event.InstanceID).
			Msg("notification: failed to publish event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("instance_id", event.InstanceID).
		Msg("notification: event published")
}
