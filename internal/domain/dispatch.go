package domain

import "context"

// Dispatcher performs actual channel delivery for notifications. Transport
// (SMTP, Slack webhook, websocket fan-out) lives entirely behind this
// interface. Send and Retry return the notification with its delivery status
// and error detail filled in; they do not return an error for a failed
// delivery, since delivery failure is normal retryable state.
type Dispatcher interface {
	Send(ctx context.Context, alert RiskAlert, channel NotificationChannel, recipient string) Notification
	Retry(ctx context.Context, n Notification, alert RiskAlert) Notification
}
