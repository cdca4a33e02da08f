package domain

import (
	"time"
)

// RiskLevel buckets a burnout risk score into operator-facing severities.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RiskLevelForScore maps a 0..1 risk score into its bucket.
func RiskLevelForScore(score float64) RiskLevel {
	switch {
	case score < 0.3:
		return RiskLow
	case score < 0.5:
		return RiskMedium
	case score < 0.7:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// BurnoutDriver is one weighted contribution to a burnout risk score whose
// underlying trigger condition was actually met.
type BurnoutDriver struct {
	Metric       string  `json:"metric"`
	Value        float64 `json:"value"`
	Contribution float64 `json:"contribution"`
	Warning      string  `json:"warning"`
}

// BurnoutPrediction is the per-(ad, week) burnout risk assessment.
type BurnoutPrediction struct {
	ID        string    `json:"id" db:"id"`
	AccountID string    `json:"account_id" db:"account_id"`
	AdID      string    `json:"ad_id" db:"ad_id"`
	WeekStart time.Time `json:"week_start" db:"week_start"`

	RiskScore float64   `json:"risk_score" db:"risk_score"`
	RiskLevel RiskLevel `json:"risk_level" db:"risk_level"`

	// Top contributing drivers, sorted by absolute contribution, max 5.
	Drivers []BurnoutDriver `json:"drivers" db:"drivers"`

	// Predicted CPR change at the 1- and 2-week horizons, in percent.
	PredictedCPRChange1W float64 `json:"predicted_cpr_change_1w" db:"predicted_cpr_change_1w"`
	PredictedCPRChange2W float64 `json:"predicted_cpr_change_2w" db:"predicted_cpr_change_2w"`

	Confidence float64   `json:"confidence" db:"confidence"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
