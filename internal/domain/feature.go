package domain

import (
	"time"
)

// FeatureRecord is the derived per-(ad, week) feature snapshot produced by
// the feature engine. Nil pointer fields mean "not computable for this
// week" (no baseline, missing metric) and are never treated as zero.
// Recomputation is idempotent; rows are safe to overwrite by (ad, week).
type FeatureRecord struct {
	ID           string       `json:"id" db:"id"`
	AccountID    string       `json:"account_id" db:"account_id"`
	AdID         string       `json:"ad_id" db:"ad_id"`
	WeekStart    time.Time    `json:"week_start" db:"week_start"`
	ResultFamily ResultFamily `json:"result_family" db:"result_family"`

	// Current-week snapshot.
	Spend       float64  `json:"spend" db:"spend"`
	Impressions int64    `json:"impressions" db:"impressions"`
	Frequency   float64  `json:"frequency" db:"frequency"`
	CTR         float64  `json:"ctr" db:"ctr"`
	LinkCTR     float64  `json:"link_ctr" db:"link_ctr"`
	CPC         float64  `json:"cpc" db:"cpc"`
	CPM         float64  `json:"cpm" db:"cpm"`
	ResultCount float64  `json:"result_count" db:"result_count"`
	CPR         *float64 `json:"cpr" db:"cpr"`

	// Trailing-window medians (positive values only, nil if none).
	BaselineCPR       *float64 `json:"baseline_cpr" db:"baseline_cpr"`
	BaselineFrequency *float64 `json:"baseline_frequency" db:"baseline_frequency"`
	BaselineCTR       *float64 `json:"baseline_ctr" db:"baseline_ctr"`
	BaselineLinkCTR   *float64 `json:"baseline_link_ctr" db:"baseline_link_ctr"`
	BaselineCPC       *float64 `json:"baseline_cpc" db:"baseline_cpc"`
	BaselineCPM       *float64 `json:"baseline_cpm" db:"baseline_cpm"`
	BaselineSpend     *float64 `json:"baseline_spend" db:"baseline_spend"`
	BaselineResults   *float64 `json:"baseline_results" db:"baseline_results"`

	// Percent deltas vs baseline; defined only when baseline > 0.
	CPRDelta       *float64 `json:"cpr_delta" db:"cpr_delta"`
	FrequencyDelta *float64 `json:"frequency_delta" db:"frequency_delta"`
	CTRDelta       *float64 `json:"ctr_delta" db:"ctr_delta"`
	LinkCTRDelta   *float64 `json:"link_ctr_delta" db:"link_ctr_delta"`
	CPCDelta       *float64 `json:"cpc_delta" db:"cpc_delta"`
	CPMDelta       *float64 `json:"cpm_delta" db:"cpm_delta"`
	SpendDelta     *float64 `json:"spend_delta" db:"spend_delta"`
	ResultsDelta   *float64 `json:"results_delta" db:"results_delta"`

	// Raw values one and two weeks back (not delta-derived).
	CPRLag1       *float64 `json:"cpr_lag1" db:"cpr_lag1"`
	CPRLag2       *float64 `json:"cpr_lag2" db:"cpr_lag2"`
	FrequencyLag1 *float64 `json:"frequency_lag1" db:"frequency_lag1"`
	CTRLag1       *float64 `json:"ctr_lag1" db:"ctr_lag1"`

	// OLS slopes over the 4 most recent weeks, oldest to newest.
	FrequencySlope *float64 `json:"frequency_slope" db:"frequency_slope"`
	CTRSlope       *float64 `json:"ctr_slope" db:"ctr_slope"`
	CPRSlope       *float64 `json:"cpr_slope" db:"cpr_slope"`

	// Single-step changes vs the previous week.
	ReachGrowth *float64 `json:"reach_growth" db:"reach_growth"`
	SpendChange *float64 `json:"spend_change" db:"spend_change"`

	// Ranking diagnostics, mirrored through the same baseline treatment.
	QualityRanking      *int     `json:"quality_ranking" db:"quality_ranking"`
	EngagementRanking   *int     `json:"engagement_ranking" db:"engagement_ranking"`
	ConversionRanking   *int     `json:"conversion_ranking" db:"conversion_ranking"`
	RelevanceHealth     *float64 `json:"relevance_health" db:"relevance_health"`
	RelevanceHealthDrop *float64 `json:"relevance_health_drop" db:"relevance_health_drop"`

	WeeksWithData int  `json:"weeks_with_data" db:"weeks_with_data"`
	MinResultsMet bool `json:"min_results_met" db:"min_results_met"`

	ComputedAt time.Time `json:"computed_at" db:"computed_at"`
}
