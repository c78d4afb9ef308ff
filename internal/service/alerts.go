package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tradewatch/sentinel/internal/domain"
	"github.com/tradewatch/sentinel/internal/metrics"
)

// alertPhrasing is the fixed title/description phrasing for one category.
// Descriptions are parameterized by observed and threshold values.
type alertPhrasing struct {
	title      string
	descFormat string // args: observed, threshold
}

// phrasings is the category phrasing table used for new alerts.
var phrasings = map[domain.AlertCategory]alertPhrasing{
	domain.CategoryRiskThreshold:     {"Risk threshold breached", "Risk metric reached %.4f, threshold %.4f"},
	domain.CategoryPositionLimit:     {"Position limit exceeded", "Total exposure $%.2f exceeds limit $%.2f"},
	domain.CategoryLiquidityRisk:     {"Liquidity risk detected", "Liquidity ratio %.4f breached threshold %.4f"},
	domain.CategoryPriceImpact:       {"High price impact", "Estimated price impact %.4f above threshold %.4f"},
	domain.CategoryGasPrice:          {"Elevated gas price", "Gas price %.1f gwei above threshold %.1f gwei"},
	domain.CategorySlippageExceeded:  {"Slippage exceeded", "Observed slippage %.4f above threshold %.4f"},
	domain.CategoryFailedTransaction: {"Transaction failures", "%.0f failed transactions, threshold %.0f"},
	domain.CategorySystemHealth:      {"System health degraded", "Health check failures %.0f, threshold %.0f"},
}

// alertRecord wraps a RiskAlert with its own mutex so transitions on
// different alerts never block each other. The table lock guards map access
// only; when both are needed the order is always table then record, and
// neither is held across I/O or a call into another engine.
type alertRecord struct {
	mu    sync.Mutex
	alert domain.RiskAlert
}

// AlertStatistics is an on-demand aggregate over current alert and
// notification state. It is always computed by iteration, never from
// separately maintained counters.
type AlertStatistics struct {
	TotalAlerts         int                          `json:"total_alerts"`
	ByStatus            map[domain.AlertStatus]int   `json:"by_status"`
	BySeverity          map[domain.AlertSeverity]int `json:"by_severity"`
	TotalNotifications  int                          `json:"total_notifications"`
	FailedNotifications int                          `json:"failed_notifications"`
}

// AlertService is the alert lifecycle manager. It evaluates metric values
// against thresholds, creates and deduplicates alerts, drives their state
// machine, and hands new alerts to the escalation engine and the
// notification service.
type AlertService struct {
	thresholds *ThresholdService
	escalation *EscalationService
	notes      *NotificationService
	bus        domain.SignalBus
	store      domain.AlertStore // optional write-behind history
	recipients map[domain.NotificationChannel][]string
	logger     *slog.Logger

	mu      sync.RWMutex
	alerts  map[string]*alertRecord
	byDedup map[string]string // dedup key -> open alert id
}

// NewAlertService creates an AlertService. store may be nil. recipients maps
// each channel to the recipients of initial (level 0) notifications.
func NewAlertService(
	thresholds *ThresholdService,
	escalation *EscalationService,
	notes *NotificationService,
	bus domain.SignalBus,
	store domain.AlertStore,
	recipients map[domain.NotificationChannel][]string,
	logger *slog.Logger,
) *AlertService {
	return &AlertService{
		thresholds: thresholds,
		escalation: escalation,
		notes:      notes,
		bus:        bus,
		store:      store,
		recipients: recipients,
		logger:     logger.With(slog.String("component", "alerts")),
		alerts:     make(map[string]*alertRecord),
		byDedup:    make(map[string]string),
	}
}

// CheckAndCreateAlert evaluates currentValue against the thresholds for
// category, walking severities Critical through Low. For the first breaching
// severity it creates an Active alert, registers it for escalation, and
// dispatches initial notifications on the severity's channel set. When an
// Active or Escalated alert already exists for the same (category, user) key
// no new alert is created; that suppression is silent and intentional, not an
// error. It returns nil when nothing breached or the alert was deduplicated.
func (s *AlertService) CheckAndCreateAlert(ctx context.Context, category domain.AlertCategory, currentValue float64, userID string, metadata map[string]string) (*domain.RiskAlert, error) {
	severity, threshold, breached := s.thresholds.ResolveSeverity(category, currentValue, userID)
	if !breached {
		return nil, nil
	}

	phrasing, ok := phrasings[category]
	if !ok {
		return nil, fmt.Errorf("alerts: create: unknown category %q: %w", category, domain.ErrValidation)
	}

	alert := domain.RiskAlert{
		ID:             uuid.NewString(),
		Category:       category,
		Severity:       severity,
		Title:          phrasing.title,
		Description:    fmt.Sprintf(phrasing.descFormat, currentValue, threshold),
		ThresholdValue: threshold,
		ObservedValue:  currentValue,
		Status:         domain.StatusActive,
		UserID:         userID,
		Metadata:       metadata,
		CreatedAt:      time.Now().UTC(),
	}

	dedupKey := alert.DedupKey()
	s.mu.Lock()
	if openID, exists := s.byDedup[dedupKey]; exists {
		if rec := s.alerts[openID]; rec != nil {
			rec.mu.Lock()
			open := rec.alert.IsOpen()
			rec.mu.Unlock()
			if open {
				s.mu.Unlock()
				metrics.AlertsSuppressed.Inc()
				s.logger.DebugContext(ctx, "duplicate alert suppressed",
					slog.String("category", string(category)),
					slog.String("user_id", userID),
					slog.String("existing_id", openID),
				)
				return nil, nil
			}
		}
	}
	s.alerts[alert.ID] = &alertRecord{alert: alert}
	s.byDedup[dedupKey] = alert.ID
	s.mu.Unlock()

	metrics.AlertsCreated.WithLabelValues(string(category), string(severity)).Inc()
	s.logger.InfoContext(ctx, "alert created",
		slog.String("alert_id", alert.ID),
		slog.String("category", string(category)),
		slog.String("severity", string(severity)),
		slog.String("user_id", userID),
		slog.Float64("observed", currentValue),
		slog.Float64("threshold", threshold),
	)

	s.escalation.Start(alert)
	s.notes.Dispatch(ctx, alert, s.targetsFor(domain.ChannelsForSeverity(severity)))
	s.publish(ctx, alert, "alert_created")
	s.persist(ctx, alert, true)

	return &alert, nil
}

// targetsFor maps a channel set to the configured level-0 recipients.
// Channels without configured recipients get a single empty recipient, which
// senders treat as their default destination.
func (s *AlertService) targetsFor(channels []domain.NotificationChannel) map[domain.NotificationChannel][]string {
	targets := make(map[domain.NotificationChannel][]string, len(channels))
	for _, ch := range channels {
		if rs := s.recipients[ch]; len(rs) > 0 {
			targets[ch] = rs
		} else {
			targets[ch] = []string{""}
		}
	}
	return targets
}

// AcknowledgeAlert transitions an Active or Escalated alert to Acknowledged,
// stamps the acknowledger and time, and cancels pending escalation. It is a
// no-op when the alert is absent or already Resolved.
func (s *AlertService) AcknowledgeAlert(ctx context.Context, id, acknowledger string) {
	rec := s.record(id)
	if rec == nil {
		return
	}

	rec.mu.Lock()
	if !rec.alert.IsOpen() {
		rec.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	rec.alert.Status = domain.StatusAcknowledged
	rec.alert.AcknowledgedAt = &now
	rec.alert.AcknowledgedBy = acknowledger
	alert := rec.alert
	rec.mu.Unlock()

	s.escalation.Stop(id)
	s.logger.InfoContext(ctx, "alert acknowledged",
		slog.String("alert_id", id),
		slog.String("by", acknowledger),
	)
	s.publish(ctx, alert, "alert_acknowledged")
	s.persist(ctx, alert, false)
}

// ResolveAlert transitions any non-terminal alert to Resolved (terminal),
// stamps the resolution time, and cancels escalation. Resolving an absent or
// already-Resolved alert is a no-op.
func (s *AlertService) ResolveAlert(ctx context.Context, id string) {
	rec := s.record(id)
	if rec == nil {
		return
	}

	rec.mu.Lock()
	if rec.alert.IsTerminal() {
		rec.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	rec.alert.Status = domain.StatusResolved
	rec.alert.ResolvedAt = &now
	alert := rec.alert
	rec.mu.Unlock()

	s.mu.Lock()
	if s.byDedup[alert.DedupKey()] == id {
		delete(s.byDedup, alert.DedupKey())
	}
	s.mu.Unlock()

	s.escalation.Stop(id)
	s.logger.InfoContext(ctx, "alert resolved", slog.String("alert_id", id))
	s.publish(ctx, alert, "alert_resolved")
	s.persist(ctx, alert, false)
}

// EscalateDue advances every tracked alert whose escalation time has passed
// and is still non-terminal: the alert moves to Escalated, the widened
// channel/recipient set is dispatched, and the next escalation is scheduled
// with geometric backoff. It returns the number of escalated alerts.
func (s *AlertService) EscalateDue(ctx context.Context, now time.Time) int {
	escalated := 0
	for _, id := range s.escalation.Due(now) {
		rec := s.record(id)
		if rec == nil {
			s.escalation.Stop(id)
			continue
		}

		rec.mu.Lock()
		open := rec.alert.IsOpen()
		rec.mu.Unlock()
		if !open {
			s.escalation.Stop(id)
			continue
		}

		level, added, ok := s.escalation.Advance(id, now)
		if !ok {
			continue
		}

		// Re-check under the record lock: an acknowledge racing the poll
		// wins, and the advanced state was already dropped by its Stop.
		rec.mu.Lock()
		if !rec.alert.IsOpen() {
			rec.mu.Unlock()
			continue
		}
		rec.alert.Status = domain.StatusEscalated
		alert := rec.alert
		rec.mu.Unlock()

		metrics.Escalations.Inc()
		s.logger.WarnContext(ctx, "alert escalated",
			slog.String("alert_id", id),
			slog.String("severity", string(alert.Severity)),
			slog.Int("level", level),
		)

		targets := make(map[domain.NotificationChannel][]string)
		for _, ch := range added.Channels {
			if len(added.Recipients) > 0 {
				targets[ch] = added.Recipients
			} else {
				targets[ch] = []string{""}
			}
		}
		s.notes.Dispatch(ctx, alert, targets)
		s.publish(ctx, alert, "alert_escalated")
		s.persist(ctx, alert, false)
		escalated++
	}
	return escalated
}

// record returns the live record for id, or nil.
func (s *AlertService) record(id string) *alertRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.alerts[id]
}

// GetAlert returns a copy of the alert with the given id.
func (s *AlertService) GetAlert(id string) (domain.RiskAlert, bool) {
	rec := s.record(id)
	if rec == nil {
		return domain.RiskAlert{}, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.alert, true
}

// snapshotAll copies every alert matching the filter, sorted newest first.
func (s *AlertService) snapshotAll(match func(domain.RiskAlert) bool) []domain.RiskAlert {
	s.mu.RLock()
	recs := make([]*alertRecord, 0, len(s.alerts))
	for _, rec := range s.alerts {
		recs = append(recs, rec)
	}
	s.mu.RUnlock()

	var out []domain.RiskAlert
	for _, rec := range recs {
		rec.mu.Lock()
		a := rec.alert
		rec.mu.Unlock()
		if match(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// GetActiveAlerts returns all non-terminal alerts, newest first.
func (s *AlertService) GetActiveAlerts() []domain.RiskAlert {
	return s.snapshotAll(func(a domain.RiskAlert) bool { return !a.IsTerminal() })
}

// GetAlertsByUser returns all alerts for a user, newest first.
func (s *AlertService) GetAlertsByUser(userID string) []domain.RiskAlert {
	return s.snapshotAll(func(a domain.RiskAlert) bool { return a.UserID == userID })
}

// GetAlertsByCategory returns all alerts in a category, newest first.
func (s *AlertService) GetAlertsByCategory(category domain.AlertCategory) []domain.RiskAlert {
	return s.snapshotAll(func(a domain.RiskAlert) bool { return a.Category == category })
}

// GetAlertStatistics computes counts by status and severity plus notification
// totals from current state.
func (s *AlertService) GetAlertStatistics() AlertStatistics {
	stats := AlertStatistics{
		ByStatus:   make(map[domain.AlertStatus]int),
		BySeverity: make(map[domain.AlertSeverity]int),
	}
	for _, a := range s.snapshotAll(func(domain.RiskAlert) bool { return true }) {
		stats.TotalAlerts++
		stats.ByStatus[a.Status]++
		stats.BySeverity[a.Severity]++
	}
	stats.TotalNotifications, stats.FailedNotifications = s.notes.Totals()
	return stats
}

// PruneResolved drops resolved alerts older than the cutoff from the
// in-memory table and clears their escalation and notification state. It
// returns the pruned ids; persisted history is untouched. Acknowledged
// alerts are retained until resolved so operators see them on dashboards;
// resolving them is part of the operational contract.
func (s *AlertService) PruneResolved(cutoff time.Time) []string {
	s.mu.Lock()
	var pruned []string
	for id, rec := range s.alerts {
		rec.mu.Lock()
		if rec.alert.IsTerminal() && rec.alert.ResolvedAt != nil && rec.alert.ResolvedAt.Before(cutoff) {
			pruned = append(pruned, id)
			delete(s.alerts, id)
		}
		rec.mu.Unlock()
	}
	s.mu.Unlock()

	s.escalation.CleanupResolved(pruned)
	s.notes.CleanupResolved(pruned)
	return pruned
}

// publish emits an alert change event on the signal bus. Fan-out is
// best-effort; a publish failure is logged and dropped.
func (s *AlertService) publish(ctx context.Context, alert domain.RiskAlert, event string) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"event":     event,
		"id":        alert.ID,
		"category":  string(alert.Category),
		"severity":  string(alert.Severity),
		"status":    string(alert.Status),
		"user_id":   alert.UserID,
		"title":     alert.Title,
		"observed":  alert.ObservedValue,
		"threshold": alert.ThresholdValue,
	})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, "alerts", payload); err != nil {
		s.logger.DebugContext(ctx, "alert event publish failed",
			slog.String("error", err.Error()),
		)
	}
}

// persist records the alert in the write-behind history store.
func (s *AlertService) persist(ctx context.Context, alert domain.RiskAlert, isNew bool) {
	if s.store == nil {
		return
	}
	var err error
	if isNew {
		err = s.store.Insert(ctx, alert)
	} else {
		err = s.store.Update(ctx, alert)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "alert history write failed",
			slog.String("alert_id", alert.ID),
			slog.String("error", err.Error()),
		)
	}
}
