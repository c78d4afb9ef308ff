package service

import (
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/tradewatch/sentinel/internal/domain"
)

// thresholdKey identifies one threshold band.
type thresholdKey struct {
	Category domain.AlertCategory
	Severity domain.AlertSeverity
}

// ThresholdService is the read-mostly global and per-user threshold table. A
// value breaches a band when it reaches or exceeds the threshold. A per-user
// override, when present, replaces the global default for that band.
type ThresholdService struct {
	mu     sync.RWMutex
	global map[thresholdKey]float64
	user   map[string]map[thresholdKey]float64
	logger *slog.Logger
}

// NewThresholdService creates a ThresholdService seeded with the given global
// defaults. Keys absent from defaults simply never trigger.
func NewThresholdService(defaults map[domain.AlertCategory]map[domain.AlertSeverity]float64, logger *slog.Logger) *ThresholdService {
	global := make(map[thresholdKey]float64)
	for cat, bands := range defaults {
		for sev, v := range bands {
			global[thresholdKey{cat, sev}] = v
		}
	}
	return &ThresholdService{
		global: global,
		user:   make(map[string]map[thresholdKey]float64),
		logger: logger.With(slog.String("component", "thresholds")),
	}
}

// DefaultThresholds returns the built-in global threshold table.
func DefaultThresholds() map[domain.AlertCategory]map[domain.AlertSeverity]float64 {
	return map[domain.AlertCategory]map[domain.AlertSeverity]float64{
		domain.CategoryRiskThreshold: {
			domain.SeverityLow:      0.01,
			domain.SeverityMedium:   0.02,
			domain.SeverityHigh:     0.05,
			domain.SeverityCritical: 0.10,
		},
		domain.CategoryPositionLimit: {
			domain.SeverityLow:      50_000,
			domain.SeverityMedium:   100_000,
			domain.SeverityHigh:     250_000,
			domain.SeverityCritical: 500_000,
		},
		domain.CategoryLiquidityRisk: {
			domain.SeverityMedium:   0.25,
			domain.SeverityHigh:     0.50,
			domain.SeverityCritical: 0.75,
		},
		domain.CategoryPriceImpact: {
			domain.SeverityMedium:   0.01,
			domain.SeverityHigh:     0.03,
			domain.SeverityCritical: 0.05,
		},
		domain.CategoryGasPrice: {
			domain.SeverityMedium:   100,
			domain.SeverityHigh:     200,
			domain.SeverityCritical: 500,
		},
		domain.CategorySlippageExceeded: {
			domain.SeverityMedium:   0.01,
			domain.SeverityHigh:     0.02,
			domain.SeverityCritical: 0.05,
		},
		domain.CategoryFailedTransaction: {
			domain.SeverityLow:      1,
			domain.SeverityMedium:   3,
			domain.SeverityHigh:     5,
			domain.SeverityCritical: 10,
		},
		domain.CategorySystemHealth: {
			domain.SeverityHigh:     1,
			domain.SeverityCritical: 3,
		},
	}
}

// lookup returns the effective threshold for the band, preferring a per-user
// override. Callers hold at least a read lock.
func (t *ThresholdService) lookup(key thresholdKey, userID string) (float64, bool) {
	if userID != "" {
		if overrides, ok := t.user[userID]; ok {
			if v, ok := overrides[key]; ok {
				return v, true
			}
		}
	}
	v, ok := t.global[key]
	return v, ok
}

// GetThreshold returns the effective threshold for (category, severity) and
// the given user. It returns domain.ErrNotFound when no band is configured.
func (t *ThresholdService) GetThreshold(category domain.AlertCategory, severity domain.AlertSeverity, userID string) (float64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	v, ok := t.lookup(thresholdKey{category, severity}, userID)
	if !ok {
		return 0, fmt.Errorf("thresholds: get %s/%s: %w", category, severity, domain.ErrNotFound)
	}
	return v, nil
}

// ShouldTrigger reports whether value breaches the effective threshold for
// (category, severity) and the given user.
func (t *ThresholdService) ShouldTrigger(category domain.AlertCategory, severity domain.AlertSeverity, value float64, userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	v, ok := t.lookup(thresholdKey{category, severity}, userID)
	return ok && value >= v
}

// ResolveSeverity walks severities Critical through Low and returns the first
// breaching band together with its threshold. ok is false when no band
// breaches.
func (t *ThresholdService) ResolveSeverity(category domain.AlertCategory, value float64, userID string) (sev domain.AlertSeverity, threshold float64, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, s := range domain.SeveritiesDesc {
		v, found := t.lookup(thresholdKey{category, s}, userID)
		if found && value >= v {
			return s, v, true
		}
	}
	return "", 0, false
}

// validateThreshold rejects semantically invalid threshold values.
func validateThreshold(v float64) error {
	if v < 0 {
		return fmt.Errorf("%w: threshold must not be negative, got %v", domain.ErrValidation, v)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: threshold must be finite, got %v", domain.ErrValidation, v)
	}
	return nil
}

// UpdateGlobalThreshold sets the global default for (category, severity).
// Invalid values are rejected atomically with no partial write.
func (t *ThresholdService) UpdateGlobalThreshold(category domain.AlertCategory, severity domain.AlertSeverity, value float64) error {
	if err := validateThreshold(value); err != nil {
		return fmt.Errorf("thresholds: update global %s/%s: %w", category, severity, err)
	}

	t.mu.Lock()
	t.global[thresholdKey{category, severity}] = value
	t.mu.Unlock()

	t.logger.Info("global threshold updated",
		slog.String("category", string(category)),
		slog.String("severity", string(severity)),
		slog.Float64("value", value),
	)
	return nil
}

// SetUserThreshold sets a per-user override for (category, severity).
func (t *ThresholdService) SetUserThreshold(userID string, category domain.AlertCategory, severity domain.AlertSeverity, value float64) error {
	if userID == "" {
		return fmt.Errorf("thresholds: set user override: %w: empty user id", domain.ErrValidation)
	}
	if err := validateThreshold(value); err != nil {
		return fmt.Errorf("thresholds: set user override %s/%s: %w", category, severity, err)
	}

	t.mu.Lock()
	overrides := t.user[userID]
	if overrides == nil {
		overrides = make(map[thresholdKey]float64)
		t.user[userID] = overrides
	}
	overrides[thresholdKey{category, severity}] = value
	t.mu.Unlock()

	t.logger.Info("user threshold override set",
		slog.String("user_id", userID),
		slog.String("category", string(category)),
		slog.String("severity", string(severity)),
		slog.Float64("value", value),
	)
	return nil
}
