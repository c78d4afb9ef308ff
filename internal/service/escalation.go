package service

import (
	"log/slog"
	"sync"
	"time"

	"github.com/tradewatch/sentinel/internal/domain"
)

// EscalationLevel describes the channels and recipients added when an alert
// reaches a given escalation level. Level 0 is the initial dispatch; the
// first entry of EscalationConfig.Levels applies at level 1, and the last
// entry repeats for every level beyond it.
type EscalationLevel struct {
	Channels   []domain.NotificationChannel
	Recipients []string
}

// EscalationConfig holds tunables for the escalation engine.
type EscalationConfig struct {
	// InitialDelays is the per-severity delay before the first escalation.
	// Higher severities should use shorter delays.
	InitialDelays map[domain.AlertSeverity]time.Duration
	// BackoffFactor multiplies the delay between successive escalations.
	BackoffFactor float64
	// MaxLevel caps escalation; 0 means unbounded, escalating until the
	// alert is acknowledged or resolved.
	MaxLevel int
	// Levels is the recipient/channel widening schedule.
	Levels []EscalationLevel
}

// escalationState tracks one non-terminal alert awaiting escalation.
type escalationState struct {
	alertID  string
	severity domain.AlertSeverity
	level    int
	nextAt   time.Time
	delay    time.Duration
}

// EscalationService is the time-driven engine that widens notification scope
// for unacknowledged alerts. It only tracks timing state; the alert lifecycle
// manager owns status transitions and dispatch.
type EscalationService struct {
	cfg    EscalationConfig
	logger *slog.Logger

	mu     sync.Mutex
	states map[string]*escalationState
}

// NewEscalationService creates an EscalationService.
func NewEscalationService(cfg EscalationConfig, logger *slog.Logger) *EscalationService {
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = 2
	}
	if len(cfg.InitialDelays) == 0 {
		cfg.InitialDelays = map[domain.AlertSeverity]time.Duration{
			domain.SeverityCritical: 5 * time.Minute,
			domain.SeverityHigh:     15 * time.Minute,
			domain.SeverityMedium:   30 * time.Minute,
			domain.SeverityLow:      time.Hour,
		}
	}
	return &EscalationService{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "escalation")),
		states: make(map[string]*escalationState),
	}
}

// Start begins tracking a newly created alert at level 0 with the
// per-severity initial delay.
func (e *EscalationService) Start(alert domain.RiskAlert) {
	delay, ok := e.cfg.InitialDelays[alert.Severity]
	if !ok {
		delay = 30 * time.Minute
	}

	e.mu.Lock()
	e.states[alert.ID] = &escalationState{
		alertID:  alert.ID,
		severity: alert.Severity,
		nextAt:   time.Now().UTC().Add(delay),
		delay:    delay,
	}
	e.mu.Unlock()

	e.logger.Debug("escalation tracking started",
		slog.String("alert_id", alert.ID),
		slog.Duration("initial_delay", delay),
	)
}

// Due returns the ids of tracked alerts whose next escalation time has
// passed.
func (e *EscalationService) Due(now time.Time) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var ids []string
	for id, st := range e.states {
		if !st.nextAt.After(now) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Advance moves a tracked alert to its next escalation level and returns the
// new level together with the channels and recipients added at that level.
// The next escalation time is recomputed with geometric backoff. ok is false
// when the alert is untracked or the configured level cap is reached; a
// capped alert stays tracked but never becomes due again.
func (e *EscalationService) Advance(alertID string, now time.Time) (level int, added EscalationLevel, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, found := e.states[alertID]
	if !found {
		return 0, EscalationLevel{}, false
	}
	if e.cfg.MaxLevel > 0 && st.level >= e.cfg.MaxLevel {
		// Capped: keep tracking for cleanup but never come due again.
		st.nextAt = now.Add(100 * 365 * 24 * time.Hour)
		return 0, EscalationLevel{}, false
	}

	st.level++
	st.delay = time.Duration(float64(st.delay) * e.cfg.BackoffFactor)
	st.nextAt = now.Add(st.delay)

	return st.level, e.levelFor(st.level), true
}

// levelFor returns the widening schedule entry for a level, reusing the last
// configured entry for deeper levels.
func (e *EscalationService) levelFor(level int) EscalationLevel {
	if len(e.cfg.Levels) == 0 {
		return EscalationLevel{
			Channels: []domain.NotificationChannel{domain.ChannelEmail, domain.ChannelSlack},
		}
	}
	idx := level - 1
	if idx >= len(e.cfg.Levels) {
		idx = len(e.cfg.Levels) - 1
	}
	return e.cfg.Levels[idx]
}

// Level returns the current escalation level of a tracked alert.
func (e *EscalationService) Level(alertID string) (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[alertID]
	if !ok {
		return 0, false
	}
	return st.level, true
}

// Stop drops tracking state for an alert. Called on acknowledge and resolve.
func (e *EscalationService) Stop(alertID string) {
	e.mu.Lock()
	delete(e.states, alertID)
	e.mu.Unlock()
}

// CleanupResolved batch-drops tracking state for alerts known resolved,
// bounding memory growth when Stop calls were missed.
func (e *EscalationService) CleanupResolved(alertIDs []string) {
	e.mu.Lock()
	for _, id := range alertIDs {
		delete(e.states, id)
	}
	e.mu.Unlock()
}

// Tracked returns the number of alerts currently tracked.
func (e *EscalationService) Tracked() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.states)
}
