package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tradewatch/sentinel/internal/domain"
)

// scriptedDispatcher fails the first failuresRemaining deliveries, then
// succeeds. With failuresRemaining < 0 every delivery fails.
type scriptedDispatcher struct {
	mu                sync.Mutex
	failuresRemaining int
	sends             int
}

func (d *scriptedDispatcher) attempt() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sends++
	if d.failuresRemaining < 0 {
		return false
	}
	if d.failuresRemaining > 0 {
		d.failuresRemaining--
		return false
	}
	return true
}

func (d *scriptedDispatcher) Send(ctx context.Context, alert domain.RiskAlert, channel domain.NotificationChannel, recipient string) domain.Notification {
	n := domain.Notification{
		ID:        "n-" + alert.ID + "-" + string(channel) + "-" + recipient,
		AlertID:   alert.ID,
		Channel:   channel,
		Recipient: recipient,
		CreatedAt: time.Now().UTC(),
	}
	d.stamp(&n)
	return n
}

func (d *scriptedDispatcher) Retry(ctx context.Context, n domain.Notification, alert domain.RiskAlert) domain.Notification {
	d.stamp(&n)
	return n
}

func (d *scriptedDispatcher) stamp(n *domain.Notification) {
	if d.attempt() {
		now := time.Now().UTC()
		n.Status = domain.DeliverySent
		n.SentAt = &now
		n.LastError = ""
		return
	}
	n.Status = domain.DeliveryFailed
	n.LastError = "delivery refused"
}

type alertFixture struct {
	alerts     *AlertService
	notes      *NotificationService
	escalation *EscalationService
	dispatcher *scriptedDispatcher
}

func newAlertFixture(t *testing.T, escCfg EscalationConfig, noteCfg NotificationConfig) *alertFixture {
	t.Helper()
	logger := testLogger()
	disp := &scriptedDispatcher{}
	thresholds := NewThresholdService(DefaultThresholds(), logger)
	escalation := NewEscalationService(escCfg, logger)
	notes := NewNotificationService(disp, nil, nil, noteCfg, logger)
	alerts := NewAlertService(thresholds, escalation, notes, nil, nil, nil, logger)
	return &alertFixture{alerts: alerts, notes: notes, escalation: escalation, dispatcher: disp}
}

func TestCheckAndCreateAlertBelowThreshold(t *testing.T) {
	fx := newAlertFixture(t, EscalationConfig{}, NotificationConfig{})

	alert, err := fx.alerts.CheckAndCreateAlert(context.Background(), domain.CategoryPositionLimit, 10_000, "alice", nil)
	if err != nil {
		t.Fatalf("CheckAndCreateAlert: %v", err)
	}
	if alert != nil {
		t.Fatalf("alert = %+v, want nil", alert)
	}
	if got := len(fx.alerts.GetActiveAlerts()); got != 0 {
		t.Errorf("active alerts = %d, want 0", got)
	}
}

func TestCheckAndCreateAlertBreaching(t *testing.T) {
	fx := newAlertFixture(t, EscalationConfig{}, NotificationConfig{})
	ctx := context.Background()

	alert, err := fx.alerts.CheckAndCreateAlert(ctx, domain.CategoryPositionLimit, 300_000, "alice",
		map[string]string{"exposure_usd": "300000"})
	if err != nil {
		t.Fatalf("CheckAndCreateAlert: %v", err)
	}
	if alert == nil {
		t.Fatal("alert = nil, want created alert")
	}
	if alert.Severity != domain.SeverityHigh {
		t.Errorf("severity = %s, want high", alert.Severity)
	}
	if alert.Status != domain.StatusActive {
		t.Errorf("status = %s, want active", alert.Status)
	}
	if alert.ThresholdValue != 250_000 || alert.ObservedValue != 300_000 {
		t.Errorf("values = (%v, %v), want (250000, 300000)", alert.ThresholdValue, alert.ObservedValue)
	}

	// High severity dispatches on websocket and email.
	notes := fx.notes.ListByAlert(alert.ID)
	if len(notes) != 2 {
		t.Errorf("notifications = %d, want 2", len(notes))
	}
	if _, tracked := fx.escalation.Level(alert.ID); !tracked {
		t.Error("alert not tracked for escalation")
	}
}

func TestDedupSuppressesSecondAlert(t *testing.T) {
	fx := newAlertFixture(t, EscalationConfig{}, NotificationConfig{})
	ctx := context.Background()

	first, err := fx.alerts.CheckAndCreateAlert(ctx, domain.CategoryPositionLimit, 300_000, "alice", nil)
	if err != nil || first == nil {
		t.Fatalf("first alert = (%v, %v), want created", first, err)
	}

	second, err := fx.alerts.CheckAndCreateAlert(ctx, domain.CategoryPositionLimit, 400_000, "alice", nil)
	if err != nil {
		t.Fatalf("second CheckAndCreateAlert: %v", err)
	}
	if second != nil {
		t.Errorf("second alert = %+v, want suppressed nil", second)
	}

	// Different user is a different dedup key.
	other, err := fx.alerts.CheckAndCreateAlert(ctx, domain.CategoryPositionLimit, 300_000, "bob", nil)
	if err != nil || other == nil {
		t.Fatalf("other-user alert = (%v, %v), want created", other, err)
	}

	if got := len(fx.alerts.GetActiveAlerts()); got != 2 {
		t.Errorf("active alerts = %d, want 2", got)
	}
}

func TestResolveReopensDedupKey(t *testing.T) {
	fx := newAlertFixture(t, EscalationConfig{}, NotificationConfig{})
	ctx := context.Background()

	first, _ := fx.alerts.CheckAndCreateAlert(ctx, domain.CategoryPositionLimit, 300_000, "alice", nil)
	fx.alerts.ResolveAlert(ctx, first.ID)

	second, err := fx.alerts.CheckAndCreateAlert(ctx, domain.CategoryPositionLimit, 300_000, "alice", nil)
	if err != nil || second == nil {
		t.Fatalf("post-resolve alert = (%v, %v), want created", second, err)
	}
	if second.ID == first.ID {
		t.Error("expected a new alert id after resolve")
	}
}

func TestAcknowledgeAndResolveLifecycle(t *testing.T) {
	fx := newAlertFixture(t, EscalationConfig{}, NotificationConfig{})
	ctx := context.Background()

	alert, _ := fx.alerts.CheckAndCreateAlert(ctx, domain.CategoryPositionLimit, 300_000, "alice", nil)

	fx.alerts.AcknowledgeAlert(ctx, alert.ID, "ops@example.com")
	got, ok := fx.alerts.GetAlert(alert.ID)
	if !ok {
		t.Fatal("alert disappeared")
	}
	if got.Status != domain.StatusAcknowledged || got.AcknowledgedBy != "ops@example.com" || got.AcknowledgedAt == nil {
		t.Errorf("after ack: status=%s by=%q at=%v", got.Status, got.AcknowledgedBy, got.AcknowledgedAt)
	}
	if _, tracked := fx.escalation.Level(alert.ID); tracked {
		t.Error("escalation still tracked after acknowledge")
	}

	// Acknowledging again is a no-op.
	fx.alerts.AcknowledgeAlert(ctx, alert.ID, "someone-else")
	got, _ = fx.alerts.GetAlert(alert.ID)
	if got.AcknowledgedBy != "ops@example.com" {
		t.Errorf("second ack overwrote acknowledger: %q", got.AcknowledgedBy)
	}

	fx.alerts.ResolveAlert(ctx, alert.ID)
	got, _ = fx.alerts.GetAlert(alert.ID)
	if got.Status != domain.StatusResolved || got.ResolvedAt == nil {
		t.Errorf("after resolve: status=%s at=%v", got.Status, got.ResolvedAt)
	}

	// Resolve is terminal; further transitions are no-ops.
	fx.alerts.AcknowledgeAlert(ctx, alert.ID, "late")
	got, _ = fx.alerts.GetAlert(alert.ID)
	if got.Status != domain.StatusResolved {
		t.Errorf("status after post-resolve ack = %s, want resolved", got.Status)
	}
}

func TestEscalateDue(t *testing.T) {
	fx := newAlertFixture(t, EscalationConfig{
		InitialDelays: map[domain.AlertSeverity]time.Duration{
			domain.SeverityHigh: time.Millisecond,
		},
		BackoffFactor: 2,
	}, NotificationConfig{})
	ctx := context.Background()

	alert, _ := fx.alerts.CheckAndCreateAlert(ctx, domain.CategoryPositionLimit, 300_000, "alice", nil)
	before := len(fx.notes.ListByAlert(alert.ID))

	escalated := fx.alerts.EscalateDue(ctx, time.Now().UTC().Add(time.Second))
	if escalated != 1 {
		t.Fatalf("escalated = %d, want 1", escalated)
	}

	got, _ := fx.alerts.GetAlert(alert.ID)
	if got.Status != domain.StatusEscalated {
		t.Errorf("status = %s, want escalated", got.Status)
	}
	if level, _ := fx.escalation.Level(alert.ID); level != 1 {
		t.Errorf("level = %d, want 1", level)
	}
	if after := len(fx.notes.ListByAlert(alert.ID)); after <= before {
		t.Errorf("escalation dispatched no widened notifications: %d -> %d", before, after)
	}

	// Not due again until the backed-off delay elapses.
	if n := fx.alerts.EscalateDue(ctx, time.Now().UTC().Add(time.Millisecond)); n != 0 {
		t.Errorf("immediate re-escalation = %d, want 0", n)
	}
}

func TestEscalateDueSkipsAcknowledged(t *testing.T) {
	fx := newAlertFixture(t, EscalationConfig{
		InitialDelays: map[domain.AlertSeverity]time.Duration{
			domain.SeverityHigh: time.Millisecond,
		},
	}, NotificationConfig{})
	ctx := context.Background()

	alert, _ := fx.alerts.CheckAndCreateAlert(ctx, domain.CategoryPositionLimit, 300_000, "alice", nil)
	fx.alerts.AcknowledgeAlert(ctx, alert.ID, "ops")

	if n := fx.alerts.EscalateDue(ctx, time.Now().UTC().Add(time.Hour)); n != 0 {
		t.Fatalf("escalated = %d after acknowledge, want 0", n)
	}
}

func TestAlertStatistics(t *testing.T) {
	fx := newAlertFixture(t, EscalationConfig{}, NotificationConfig{})
	ctx := context.Background()

	a1, _ := fx.alerts.CheckAndCreateAlert(ctx, domain.CategoryPositionLimit, 300_000, "alice", nil)
	a2, _ := fx.alerts.CheckAndCreateAlert(ctx, domain.CategoryGasPrice, 120, "", nil)
	fx.alerts.ResolveAlert(ctx, a2.ID)

	stats := fx.alerts.GetAlertStatistics()
	if stats.TotalAlerts != 2 {
		t.Errorf("TotalAlerts = %d, want 2", stats.TotalAlerts)
	}
	if stats.ByStatus[domain.StatusActive] != 1 || stats.ByStatus[domain.StatusResolved] != 1 {
		t.Errorf("ByStatus = %v", stats.ByStatus)
	}
	if stats.BySeverity[domain.SeverityHigh] != 1 {
		t.Errorf("BySeverity = %v", stats.BySeverity)
	}
	if stats.TotalNotifications == 0 {
		t.Error("TotalNotifications = 0, want > 0")
	}
	_ = a1
}

func TestPruneResolved(t *testing.T) {
	fx := newAlertFixture(t, EscalationConfig{}, NotificationConfig{})
	ctx := context.Background()

	open, _ := fx.alerts.CheckAndCreateAlert(ctx, domain.CategoryPositionLimit, 300_000, "alice", nil)
	acked, _ := fx.alerts.CheckAndCreateAlert(ctx, domain.CategoryPositionLimit, 300_000, "bob", nil)
	fx.alerts.AcknowledgeAlert(ctx, acked.ID, "ops")
	done, _ := fx.alerts.CheckAndCreateAlert(ctx, domain.CategoryGasPrice, 120, "", nil)
	fx.alerts.ResolveAlert(ctx, done.ID)

	pruned := fx.alerts.PruneResolved(time.Now().UTC().Add(time.Minute))
	if len(pruned) != 1 || pruned[0] != done.ID {
		t.Fatalf("pruned = %v, want [%s]", pruned, done.ID)
	}
	if _, ok := fx.alerts.GetAlert(done.ID); ok {
		t.Error("pruned alert still retrievable")
	}
	if _, ok := fx.alerts.GetAlert(open.ID); !ok {
		t.Error("open alert was pruned")
	}
	// Acknowledged alerts stay visible until an operator resolves them.
	if _, ok := fx.alerts.GetAlert(acked.ID); !ok {
		t.Error("acknowledged alert was pruned")
	}
}

func TestPruneResolvedDropsNotifications(t *testing.T) {
	fx := newAlertFixture(t, EscalationConfig{}, NotificationConfig{})
	ctx := context.Background()

	open, _ := fx.alerts.CheckAndCreateAlert(ctx, domain.CategoryPositionLimit, 300_000, "alice", nil)
	done, _ := fx.alerts.CheckAndCreateAlert(ctx, domain.CategoryPositionLimit, 300_000, "bob", nil)
	fx.alerts.ResolveAlert(ctx, done.ID)

	openBefore := len(fx.notes.ListByAlert(open.ID))
	if openBefore == 0 || len(fx.notes.ListByAlert(done.ID)) == 0 {
		t.Fatal("expected notifications dispatched for both alerts")
	}

	fx.alerts.PruneResolved(time.Now().UTC().Add(time.Minute))

	// Pruning an alert drops its tracked notifications with it; otherwise
	// a long-running monitor retains one entry per delivery forever.
	if got := fx.notes.ListByAlert(done.ID); len(got) != 0 {
		t.Errorf("pruned alert still owns %d tracked notifications", len(got))
	}
	if got := fx.notes.ListByAlert(open.ID); len(got) != openBefore {
		t.Errorf("open alert notifications = %d, want %d", len(got), openBefore)
	}

	total, _ := fx.notes.Totals()
	if total != openBefore {
		t.Errorf("Totals = %d, want %d", total, openBefore)
	}
}
