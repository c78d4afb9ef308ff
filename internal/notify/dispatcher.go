// Package notify implements the notification dispatcher and its channel
// senders (Slack webhook, SMTP email, websocket fan-out via the signal bus).
// The dispatcher performs delivery only; retry policy and alert lifecycle
// stay with the services that call it.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tradewatch/sentinel/internal/domain"
)

// Sender is the interface each notification channel implements.
type Sender interface {
	// Send delivers a rendered notification to the recipient. An empty
	// recipient means the sender's configured default destination.
	Send(ctx context.Context, title, message, recipient string) error
	// Channel returns the channel this sender serves.
	Channel() domain.NotificationChannel
}

// Dispatcher implements domain.Dispatcher over a set of channel senders.
type Dispatcher struct {
	senders map[domain.NotificationChannel]Sender
	logger  *slog.Logger
}

// NewDispatcher creates a Dispatcher from the given senders. Later senders
// for the same channel win.
func NewDispatcher(senders []Sender, logger *slog.Logger) *Dispatcher {
	byChannel := make(map[domain.NotificationChannel]Sender, len(senders))
	for _, s := range senders {
		byChannel[s.Channel()] = s
	}
	return &Dispatcher{
		senders: byChannel,
		logger:  logger.With(slog.String("component", "dispatcher")),
	}
}

// Send delivers the alert on the given channel and returns the resulting
// notification record. Delivery failure is recorded on the notification, not
// returned as an error; the retry loop owns what happens next.
func (d *Dispatcher) Send(ctx context.Context, alert domain.RiskAlert, channel domain.NotificationChannel, recipient string) domain.Notification {
	n := domain.Notification{
		ID:        uuid.NewString(),
		AlertID:   alert.ID,
		Channel:   channel,
		Recipient: recipient,
		Status:    domain.DeliveryPending,
		CreatedAt: time.Now().UTC(),
	}
	d.deliver(ctx, &n, alert)
	return n
}

// Retry re-attempts delivery of a previously failed notification. The caller
// increments the retry count; Retry only flips the delivery status.
func (d *Dispatcher) Retry(ctx context.Context, n domain.Notification, alert domain.RiskAlert) domain.Notification {
	d.deliver(ctx, &n, alert)
	return n
}

// deliver routes to the channel sender and stamps the outcome.
func (d *Dispatcher) deliver(ctx context.Context, n *domain.Notification, alert domain.RiskAlert) {
	sender, ok := d.senders[n.Channel]
	if !ok {
		n.Status = domain.DeliveryFailed
		n.LastError = fmt.Sprintf("no sender configured for channel %q", n.Channel)
		return
	}

	title := fmt.Sprintf("[%s] %s", severityTag(alert.Severity), alert.Title)
	if err := sender.Send(ctx, title, renderMessage(alert), n.Recipient); err != nil {
		n.Status = domain.DeliveryFailed
		n.LastError = err.Error()
		d.logger.WarnContext(ctx, "notification delivery failed",
			slog.String("notification_id", n.ID),
			slog.String("channel", string(n.Channel)),
			slog.String("error", err.Error()),
		)
		return
	}

	now := time.Now().UTC()
	n.Status = domain.DeliverySent
	n.SentAt = &now
	n.LastError = ""
	d.logger.DebugContext(ctx, "notification sent",
		slog.String("notification_id", n.ID),
		slog.String("channel", string(n.Channel)),
	)
}

func severityTag(sev domain.AlertSeverity) string {
	switch sev {
	case domain.SeverityCritical:
		return "CRITICAL"
	case domain.SeverityHigh:
		return "HIGH"
	case domain.SeverityMedium:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// renderMessage builds the plain-text notification body.
func renderMessage(alert domain.RiskAlert) string {
	msg := alert.Description
	if alert.UserID != "" {
		msg += fmt.Sprintf("\nUser: %s", alert.UserID)
	}
	msg += fmt.Sprintf("\nObserved: %.4f (threshold %.4f)", alert.ObservedValue, alert.ThresholdValue)
	msg += fmt.Sprintf("\nAlert: %s", alert.ID)
	return msg
}

// Compile-time interface check.
var _ domain.Dispatcher = (*Dispatcher)(nil)
