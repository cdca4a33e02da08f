package domain

import (
	"time"
)

// AnomalyType enumerates the detector's anomaly categories. Only CPR spikes
// are produced today; the type is kept open for volume-drop and
// delivery-stall detectors.
type AnomalyType string

const (
	AnomalyCPRSpike AnomalyType = "cpr_spike"
)

// AnomalyStatus enumerates the operator-driven lifecycle of an anomaly.
type AnomalyStatus string

const (
	AnomalyNew           AnomalyStatus = "new"
	AnomalyAcknowledged  AnomalyStatus = "acknowledged"
	AnomalyResolved      AnomalyStatus = "resolved"
	AnomalyFalsePositive AnomalyStatus = "false_positive"
)

// IsTerminal returns true if the status permits no further transitions.
func (s AnomalyStatus) IsTerminal() bool {
	return s == AnomalyResolved || s == AnomalyFalsePositive
}

// DeviationDirection classifies a metric's movement inside a causal trace.
type DeviationDirection string

const (
	DirectionBad     DeviationDirection = "bad"
	DirectionGood    DeviationDirection = "good"
	DirectionNeutral DeviationDirection = "neutral"
)

// MetricDeviation is one tracked metric's movement vs baseline within a
// single week of the causal trace.
type MetricDeviation struct {
	Metric      string             `json:"metric"`
	Value       float64            `json:"value"`
	Baseline    *float64           `json:"baseline"`
	DeltaPct    *float64           `json:"delta_pct"`
	Significant bool               `json:"significant"`
	Direction   DeviationDirection `json:"direction"`
}

// WeekDeviation is the full per-week snapshot inside a causal trace.
type WeekDeviation struct {
	WeekStart  time.Time         `json:"week_start"`
	WeekOffset int               `json:"week_offset"` // 0 = anomaly week, -1, -2
	Metrics    []MetricDeviation `json:"metrics"`
}

// CausalTrace is the multi-week deviation context attached to an anomaly:
// the anomaly week plus the two preceding weeks.
type CausalTrace struct {
	Weeks []WeekDeviation `json:"weeks"`
}

// Anomaly is one detected cost-per-result deviation, keyed by
// (ad, week, family, type). The detector upserts by that natural key;
// status transitions are operator-driven.
type Anomaly struct {
	ID           string       `json:"id" db:"id"`
	AccountID    string       `json:"account_id" db:"account_id"`
	AdID         string       `json:"ad_id" db:"ad_id"`
	WeekStart    time.Time    `json:"week_start" db:"week_start"`
	ResultFamily ResultFamily `json:"result_family" db:"result_family"`
	AnomalyType  AnomalyType  `json:"anomaly_type" db:"anomaly_type"`

	CurrentValue  float64 `json:"current_value" db:"current_value"`
	BaselineValue float64 `json:"baseline_value" db:"baseline_value"`
	DeltaPct      float64 `json:"delta_pct" db:"delta_pct"`
	Score         float64 `json:"score" db:"score"`      // 0..1
	Confidence    float64 `json:"confidence" db:"confidence"` // 0..1, scales with history

	Trace CausalTrace `json:"trace" db:"trace"`

	// Delivery-pause context for the anomaly week.
	PauseDaysCount int  `json:"pause_days_count" db:"pause_days_count"`
	HasDeliveryGap bool `json:"has_delivery_gap" db:"has_delivery_gap"`

	Status      AnomalyStatus `json:"status" db:"status"`
	StatusActor string        `json:"status_actor" db:"status_actor"`
	StatusNotes string        `json:"status_notes" db:"status_notes"`
	StatusAt    *time.Time    `json:"status_at" db:"status_at"`

	DetectedAt time.Time `json:"detected_at" db:"detected_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// CanTransitionTo reports whether the operator may move the anomaly from its
// current status to the target.
func (a *Anomaly) CanTransitionTo(target AnomalyStatus) bool {
	if a.Status.IsTerminal() {
		return false
	}
	switch a.Status {
	case AnomalyNew:
		return target == AnomalyAcknowledged || target == AnomalyResolved || target == AnomalyFalsePositive
	case AnomalyAcknowledged:
		return target == AnomalyResolved || target == AnomalyFalsePositive
	}
	return false
}
