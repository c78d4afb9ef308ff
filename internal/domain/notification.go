package domain

import "time"

// NotificationChannel identifies a delivery channel.
type NotificationChannel string

const (
	ChannelWebSocket NotificationChannel = "websocket"
	ChannelEmail     NotificationChannel = "email"
	ChannelSlack     NotificationChannel = "slack"
)

// DeliveryStatus tracks the delivery state of a single notification.
type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
)

// Notification records one delivery attempt chain for an alert on a specific
// channel and recipient. Many notifications may reference one alert. Delivery
// outcome never feeds back into the owning alert's status.
type Notification struct {
	ID          string              `json:"id"`
	AlertID     string              `json:"alert_id"`
	Channel     NotificationChannel `json:"channel"`
	Recipient   string              `json:"recipient,omitempty"`
	Status      DeliveryStatus      `json:"status"`
	RetryCount  int                 `json:"retry_count"`
	NextRetryAt *time.Time          `json:"next_retry_at,omitempty"`
	LastError   string              `json:"last_error,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	SentAt      *time.Time          `json:"sent_at,omitempty"`
}

// ChannelsForSeverity returns the initial notification channel set for a new
// alert of the given severity.
func ChannelsForSeverity(sev AlertSeverity) []NotificationChannel {
	switch sev {
	case SeverityCritical:
		return []NotificationChannel{ChannelWebSocket, ChannelEmail, ChannelSlack}
	case SeverityHigh:
		return []NotificationChannel{ChannelWebSocket, ChannelEmail}
	default:
		return []NotificationChannel{ChannelWebSocket}
	}
}
