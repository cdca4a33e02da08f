package domain

import (
	"time"
)

// ElasticityLevel records which pooling level produced an elasticity
// coefficient.
type ElasticityLevel string

const (
	ElasticityAd       ElasticityLevel = "ad"
	ElasticityAccount  ElasticityLevel = "account_family"
	ElasticityGlobal   ElasticityLevel = "global_family"
	ElasticityFallback ElasticityLevel = "fallback"
)

// ElasticityEstimate is the spend-to-CPR elasticity coefficient for an ad or
// family scope: the regression-through-origin slope of ln(cpr_ratio) on
// ln(spend_ratio) over qualifying spend-growth events.
type ElasticityEstimate struct {
	K          float64         `json:"k"`
	Level      ElasticityLevel `json:"level"`
	EventCount int             `json:"event_count"`
}

// ForecastEligibility is the advisory gate attached to every forecast. It
// never blocks computation; it flags forecasts built on too little history.
type ForecastEligibility struct {
	IsEligible bool   `json:"is_eligible"`
	Reason     string `json:"reason,omitempty"`
}

// ForecastPoint is a single projected (spend, cpr, results) triple with its
// confidence.
type ForecastPoint struct {
	WeeksAhead int     `json:"weeks_ahead"`
	Spend      float64 `json:"spend"`
	CPR        float64 `json:"cpr"`
	Results    float64 `json:"results"`
	Confidence float64 `json:"confidence"`
}

// ScalingForecast projects the next two weeks for one budget-scaling delta.
type ScalingForecast struct {
	ScalePct float64         `json:"scale_pct"` // 20, 50, 100
	Points   []ForecastPoint `json:"points"`
}

// ForecastResult is the full budget forecast for one (ad, result_family):
// a no-change baseline plus scaling projections, with the elasticity
// estimate and eligibility verdict used to build them.
type ForecastResult struct {
	AccountID    string       `json:"account_id"`
	AdID         string       `json:"ad_id"`
	ResultFamily ResultFamily `json:"result_family"`

	CurrentSpend float64 `json:"current_spend"`
	CurrentCPR   float64 `json:"current_cpr"`

	Baseline []ForecastPoint   `json:"baseline"`
	Scaling  []ScalingForecast `json:"scaling"`

	Elasticity  ElasticityEstimate  `json:"elasticity"`
	Eligibility ForecastEligibility `json:"eligibility"`

	GeneratedAt time.Time `json:"generated_at"`
}
