package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/pesio-ai/be-crm-workflows/internal/common/logger"
)

// Conn is the part of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

var _ Conn = (*nats.Conn)(nil)

// NotificationPublisher publishes CRM workflow events to NATS for the
// notification service.
//
// Subject convention: notifications.crm.<event_type>
//
// Publishing is non-fatal: errors are logged and never returned, so a NATS
// outage never blocks an approval or a booking.
type NotificationPublisher struct {
	conn Conn
	log  *logger.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string                 `json:"event_type"`
	ActorID      string                 `json:"actor_id"`
	Recipients   []string               `json:"recipients"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   string                 `json:"resource_id"`
	IsActionable bool                   `json:"is_actionable,omitempty"`
	Severity     string                 `json:"severity,omitempty"`
	Category     string                 `json:"category,omitempty"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher. A nil conn makes every
// publish a no-op.
func NewNotificationPublisher(conn Conn, log *logger.Logger) *NotificationPublisher {
	return &NotificationPublisher{conn: conn, log: log}
}

// Connect dials NATS with reconnects enabled and the given client name.
func Connect(url, name string, log *logger.Logger) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
}

// PublishCRMEvent publishes a workflow event. Events without recipients are
// dropped.
func (p *NotificationPublisher) PublishCRMEvent(ctx context.Context, eventType, resourceType, resourceID, actorID string, recipients []string, payload map[string]interface{}) {
	if p.conn == nil || len(recipients) == 0 {
		return
	}
	if ctx.Err() != nil {
		return
	}

	event := &NotificationEvent{
		EventType:    eventType,
		ActorID:      actorID,
		Recipients:   recipients,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		IsActionable: actionable(eventType),
		Severity:     "info",
		Category:     "crm_workflow",
		Payload:      payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.crm.%s", eventType)
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("resource_id", resourceID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("resource_id", resourceID).
		Int("recipients", len(recipients)).
		Msg("notification: event published")
}

// actionable marks events whose recipients are expected to act next.
func actionable(eventType string) bool {
	switch eventType {
	case "insurance_submitted", "insurance_approved", "lead_submitted", "lead_approved", "bid_placed":
		return true
	}
	return false
}
