package domain

import "time"

// AlertCategory classifies the risk condition that raised an alert.
type AlertCategory string

const (
	CategoryRiskThreshold     AlertCategory = "risk_threshold"
	CategoryPositionLimit     AlertCategory = "position_limit"
	CategoryLiquidityRisk     AlertCategory = "liquidity_risk"
	CategoryPriceImpact       AlertCategory = "price_impact"
	CategoryGasPrice          AlertCategory = "gas_price"
	CategorySlippageExceeded  AlertCategory = "slippage_exceeded"
	CategoryFailedTransaction AlertCategory = "failed_transaction"
	CategorySystemHealth      AlertCategory = "system_health"
)

// AlertSeverity is the severity band of an alert.
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

// SeveritiesDesc lists severities from most to least severe. Threshold
// resolution walks this order and reports the first breaching band.
var SeveritiesDesc = []AlertSeverity{
	SeverityCritical,
	SeverityHigh,
	SeverityMedium,
	SeverityLow,
}

// AlertStatus tracks an alert through its lifecycle.
type AlertStatus string

const (
	StatusActive       AlertStatus = "active"
	StatusAcknowledged AlertStatus = "acknowledged"
	StatusResolved     AlertStatus = "resolved"
	StatusEscalated    AlertStatus = "escalated"
	StatusSuppressed   AlertStatus = "suppressed"
)

// RiskAlert is a single risk alert. At most one alert in Active or Escalated
// status may exist per (category, user) pair; that pair is the dedup key.
// UserID is empty for platform-wide alerts.
type RiskAlert struct {
	ID             string            `json:"id"`
	Category       AlertCategory     `json:"category"`
	Severity       AlertSeverity     `json:"severity"`
	Title          string            `json:"title"`
	Description    string            `json:"description"`
	ThresholdValue float64           `json:"threshold_value"`
	ObservedValue  float64           `json:"observed_value"`
	Status         AlertStatus       `json:"status"`
	UserID         string            `json:"user_id,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	AcknowledgedAt *time.Time        `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string            `json:"acknowledged_by,omitempty"`
	ResolvedAt     *time.Time        `json:"resolved_at,omitempty"`
}

// DedupKey returns the (category, user) key used to suppress duplicate
// concurrently-open alerts.
func (a RiskAlert) DedupKey() string {
	return string(a.Category) + "|" + a.UserID
}

// IsTerminal reports whether the alert has reached its final state.
func (a RiskAlert) IsTerminal() bool {
	return a.Status == StatusResolved
}

// IsOpen reports whether the alert still counts toward deduplication,
// i.e. it is Active or Escalated.
func (a RiskAlert) IsOpen() bool {
	return a.Status == StatusActive || a.Status == StatusEscalated
}
