package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/tradewatch/sentinel/internal/domain"
	"github.com/tradewatch/sentinel/internal/metrics"
)

// NotificationConfig holds tunables for the notification retry loop.
type NotificationConfig struct {
	// MaxAttempts is the delivery attempt ceiling. RetryCount increments on
	// every failed delivery; once it reaches MaxAttempts the notification
	// stays terminally Failed.
	MaxAttempts int
	// RetryBackoff is the base delay before the first retry; each further
	// retry doubles it.
	RetryBackoff time.Duration
}

// NotificationService tracks the delivery status of dispatched notifications
// and retries failures with exponential backoff. Delivery outcome never
// affects the owning alert's status.
type NotificationService struct {
	dispatcher domain.Dispatcher
	bus        domain.SignalBus
	store      domain.NotificationStore // optional write-behind history
	cfg        NotificationConfig
	logger     *slog.Logger

	mu            sync.Mutex
	notifications map[string]*domain.Notification
}

// NewNotificationService creates a NotificationService. store may be nil.
func NewNotificationService(dispatcher domain.Dispatcher, bus domain.SignalBus, store domain.NotificationStore, cfg NotificationConfig, logger *slog.Logger) *NotificationService {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 30 * time.Second
	}
	return &NotificationService{
		dispatcher:    dispatcher,
		bus:           bus,
		store:         store,
		cfg:           cfg,
		logger:        logger.With(slog.String("component", "notifications")),
		notifications: make(map[string]*domain.Notification),
	}
}

// Dispatch delivers the alert on each (channel, recipient) pair and records
// the resulting notifications. Failed deliveries are scheduled for retry.
func (s *NotificationService) Dispatch(ctx context.Context, alert domain.RiskAlert, targets map[domain.NotificationChannel][]string) []domain.Notification {
	var out []domain.Notification
	for channel, recipients := range targets {
		for _, recipient := range recipients {
			n := s.dispatcher.Send(ctx, alert, channel, recipient)
			s.record(ctx, &n)
			out = append(out, n)
		}
	}
	return out
}

// record stores the notification, schedules a retry when it failed, and
// publishes the change event.
func (s *NotificationService) record(ctx context.Context, n *domain.Notification) {
	if n.Status == domain.DeliveryFailed {
		n.RetryCount++
		s.scheduleRetry(n)
		metrics.NotificationsFailed.WithLabelValues(string(n.Channel)).Inc()
	} else {
		metrics.NotificationsSent.WithLabelValues(string(n.Channel)).Inc()
	}

	s.mu.Lock()
	cp := *n
	s.notifications[n.ID] = &cp
	s.mu.Unlock()

	s.publish(ctx, *n)
	if s.store != nil {
		if err := s.store.Insert(ctx, *n); err != nil {
			s.logger.WarnContext(ctx, "notification history insert failed",
				slog.String("notification_id", n.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// scheduleRetry sets the next retry time using exponential backoff, or clears
// it once the attempt ceiling is reached.
func (s *NotificationService) scheduleRetry(n *domain.Notification) {
	if n.RetryCount >= s.cfg.MaxAttempts {
		n.NextRetryAt = nil
		return
	}
	delay := s.cfg.RetryBackoff << uint(n.RetryCount-1)
	next := time.Now().UTC().Add(delay)
	n.NextRetryAt = &next
}

// RetryDue re-attempts every failed notification whose retry time has
// elapsed, honoring the attempt ceiling. It returns the number of retried
// notifications. alertLookup resolves the owning alert for the dispatcher;
// notifications whose alert is gone are dropped from tracking.
func (s *NotificationService) RetryDue(ctx context.Context, now time.Time, alertLookup func(id string) (domain.RiskAlert, bool)) int {
	s.mu.Lock()
	var due []domain.Notification
	for _, n := range s.notifications {
		if n.Status == domain.DeliveryFailed && n.NextRetryAt != nil && !n.NextRetryAt.After(now) {
			due = append(due, *n)
		}
	}
	s.mu.Unlock()

	retried := 0
	for _, n := range due {
		alert, ok := alertLookup(n.AlertID)
		if !ok {
			s.mu.Lock()
			delete(s.notifications, n.ID)
			s.mu.Unlock()
			continue
		}

		updated := s.dispatcher.Retry(ctx, n, alert)
		if updated.Status == domain.DeliveryFailed {
			updated.RetryCount++
			s.scheduleRetry(&updated)
			metrics.NotificationsFailed.WithLabelValues(string(updated.Channel)).Inc()
		} else {
			updated.NextRetryAt = nil
			metrics.NotificationsSent.WithLabelValues(string(updated.Channel)).Inc()
		}
		metrics.NotificationRetries.Inc()
		retried++

		s.mu.Lock()
		cp := updated
		s.notifications[updated.ID] = &cp
		s.mu.Unlock()

		s.publish(ctx, updated)
		if s.store != nil {
			if err := s.store.Update(ctx, updated); err != nil {
				s.logger.WarnContext(ctx, "notification history update failed",
					slog.String("notification_id", updated.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	return retried
}

// publish emits a notification change event on the signal bus.
func (s *NotificationService) publish(ctx context.Context, n domain.Notification) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"event":       "notification_update",
		"id":          n.ID,
		"alert_id":    n.AlertID,
		"channel":     string(n.Channel),
		"recipient":   n.Recipient,
		"status":      string(n.Status),
		"retry_count": n.RetryCount,
	})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, "notifications", payload); err != nil {
		s.logger.DebugContext(ctx, "notification event publish failed",
			slog.String("error", err.Error()),
		)
	}
}

// CleanupResolved drops tracked notifications owned by the given alerts.
// Without this, sent and terminally failed notifications would accumulate for
// the life of the process; persisted history is untouched.
func (s *NotificationService) CleanupResolved(alertIDs []string) int {
	if len(alertIDs) == 0 {
		return 0
	}
	owned := make(map[string]struct{}, len(alertIDs))
	for _, id := range alertIDs {
		owned[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	dropped := 0
	for id, n := range s.notifications {
		if _, ok := owned[n.AlertID]; ok {
			delete(s.notifications, id)
			dropped++
		}
	}
	return dropped
}

// Totals returns the current notification count and how many of them are in
// Failed status, computed on demand from tracked state.
func (s *NotificationService) Totals() (total, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.notifications {
		total++
		if n.Status == domain.DeliveryFailed {
			failed++
		}
	}
	return total, failed
}

// ListByAlert returns tracked notifications owned by the given alert.
func (s *NotificationService) ListByAlert(alertID string) []domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Notification
	for _, n := range s.notifications {
		if n.AlertID == alertID {
			out = append(out, *n)
		}
	}
	return out
}
