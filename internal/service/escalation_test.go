package service

import (
	"testing"
	"time"

	"github.com/tradewatch/sentinel/internal/domain"
)

func TestEscalationDueAfterInitialDelay(t *testing.T) {
	e := NewEscalationService(EscalationConfig{
		InitialDelays: map[domain.AlertSeverity]time.Duration{
			domain.SeverityCritical: time.Minute,
		},
		BackoffFactor: 2,
	}, testLogger())

	e.Start(domain.RiskAlert{ID: "a1", Severity: domain.SeverityCritical})

	if due := e.Due(time.Now().UTC()); len(due) != 0 {
		t.Errorf("due immediately = %v, want none", due)
	}
	if due := e.Due(time.Now().UTC().Add(2 * time.Minute)); len(due) != 1 || due[0] != "a1" {
		t.Errorf("due after delay = %v, want [a1]", due)
	}
}

func TestEscalationAdvanceBacksOffGeometrically(t *testing.T) {
	e := NewEscalationService(EscalationConfig{
		InitialDelays: map[domain.AlertSeverity]time.Duration{
			domain.SeverityHigh: time.Minute,
		},
		BackoffFactor: 2,
	}, testLogger())

	e.Start(domain.RiskAlert{ID: "a1", Severity: domain.SeverityHigh})
	now := time.Now().UTC().Add(time.Minute)

	level, _, ok := e.Advance("a1", now)
	if !ok || level != 1 {
		t.Fatalf("Advance = (%d, %v), want (1, true)", level, ok)
	}
	// Doubled delay: due at now+2m, not at now+90s.
	if due := e.Due(now.Add(90 * time.Second)); len(due) != 0 {
		t.Errorf("due before backoff elapsed = %v, want none", due)
	}
	if due := e.Due(now.Add(3 * time.Minute)); len(due) != 1 {
		t.Errorf("due after backoff = %v, want [a1]", due)
	}

	level, _, ok = e.Advance("a1", now.Add(3*time.Minute))
	if !ok || level != 2 {
		t.Errorf("second Advance = (%d, %v), want (2, true)", level, ok)
	}
}

func TestEscalationMaxLevelCaps(t *testing.T) {
	e := NewEscalationService(EscalationConfig{
		InitialDelays: map[domain.AlertSeverity]time.Duration{
			domain.SeverityHigh: time.Millisecond,
		},
		BackoffFactor: 2,
		MaxLevel:      1,
	}, testLogger())

	e.Start(domain.RiskAlert{ID: "a1", Severity: domain.SeverityHigh})
	now := time.Now().UTC().Add(time.Second)

	if _, _, ok := e.Advance("a1", now); !ok {
		t.Fatal("first Advance should succeed")
	}
	if _, _, ok := e.Advance("a1", now.Add(time.Hour)); ok {
		t.Error("Advance past MaxLevel should fail")
	}
	// Capped alerts stay tracked for cleanup but never come due.
	if e.Tracked() != 1 {
		t.Errorf("Tracked = %d, want 1", e.Tracked())
	}
	if due := e.Due(now.Add(24 * time.Hour)); len(due) != 0 {
		t.Errorf("capped alert due = %v, want none", due)
	}
}

func TestEscalationStopAndCleanup(t *testing.T) {
	e := NewEscalationService(EscalationConfig{}, testLogger())

	e.Start(domain.RiskAlert{ID: "a1", Severity: domain.SeverityLow})
	e.Start(domain.RiskAlert{ID: "a2", Severity: domain.SeverityLow})

	e.Stop("a1")
	if _, ok := e.Level("a1"); ok {
		t.Error("a1 still tracked after Stop")
	}

	e.CleanupResolved([]string{"a2", "missing"})
	if e.Tracked() != 0 {
		t.Errorf("Tracked = %d after cleanup, want 0", e.Tracked())
	}
}

func TestEscalationLevelScheduleReusesLastEntry(t *testing.T) {
	e := NewEscalationService(EscalationConfig{
		InitialDelays: map[domain.AlertSeverity]time.Duration{
			domain.SeverityHigh: time.Millisecond,
		},
		BackoffFactor: 2,
		Levels: []EscalationLevel{
			{Channels: []domain.NotificationChannel{domain.ChannelEmail}},
			{Channels: []domain.NotificationChannel{domain.ChannelEmail, domain.ChannelSlack}, Recipients: []string{"oncall@example.com"}},
		},
	}, testLogger())

	e.Start(domain.RiskAlert{ID: "a1", Severity: domain.SeverityHigh})
	now := time.Now().UTC().Add(time.Second)

	_, added, _ := e.Advance("a1", now)
	if len(added.Channels) != 1 || added.Channels[0] != domain.ChannelEmail {
		t.Errorf("level 1 channels = %v, want [email]", added.Channels)
	}

	_, added, _ = e.Advance("a1", now.Add(time.Hour))
	if len(added.Channels) != 2 || len(added.Recipients) != 1 {
		t.Errorf("level 2 = %+v, want widened entry", added)
	}

	// Deeper levels reuse the final schedule entry.
	_, added, _ = e.Advance("a1", now.Add(48*time.Hour))
	if len(added.Channels) != 2 {
		t.Errorf("level 3 channels = %v, want last entry reused", added.Channels)
	}
}
