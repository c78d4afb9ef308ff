package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tradewatch/sentinel/internal/domain"
)

// WebSocketSender delivers notifications by publishing them on the signal
// bus; the websocket hub fans them out to connected dashboard clients.
type WebSocketSender struct {
	bus domain.SignalBus
}

// NewWebSocketSender creates a WebSocketSender publishing to the given bus.
func NewWebSocketSender(bus domain.SignalBus) *WebSocketSender {
	return &WebSocketSender{bus: bus}
}

// Send publishes the rendered notification on the "alerts:push" channel. The
// recipient is carried in the payload; clients filter on it.
func (w *WebSocketSender) Send(ctx context.Context, title, message, recipient string) error {
	payload, err := json.Marshal(map[string]string{
		"type":      "alert_notification",
		"title":     title,
		"message":   message,
		"recipient": recipient,
	})
	if err != nil {
		return fmt.Errorf("websocket: marshal payload: %w", err)
	}
	if err := w.bus.Publish(ctx, "alerts:push", payload); err != nil {
		return fmt.Errorf("websocket: publish: %w", err)
	}
	return nil
}

// Channel returns the channel identifier.
func (w *WebSocketSender) Channel() domain.NotificationChannel {
	return domain.ChannelWebSocket
}
