package domain

import (
	"time"
)

// ActionCount is one raw conversion action entry on a weekly metric row,
// as delivered by the ad-platform sync.
type ActionCount struct {
	ActionType string  `json:"action_type"`
	Value      float64 `json:"value"`
}

// ActionCost is the reported cost for one raw action type.
type ActionCost struct {
	ActionType string  `json:"action_type"`
	Value      float64 `json:"value"`
}

// RawWeeklyMetric is one week of delivery metrics for a single ad.
// Rows are written by the external sync collaborator and are immutable for
// a given (ad, week) key except for late-arriving corrections, which
// overwrite in place.
type RawWeeklyMetric struct {
	ID          string    `json:"id" db:"id"`
	AccountID   string    `json:"account_id" db:"account_id"`
	AdID        string    `json:"ad_id" db:"ad_id"`
	WeekStart   time.Time `json:"week_start" db:"week_start"`
	Spend       float64   `json:"spend" db:"spend"`
	Impressions int64     `json:"impressions" db:"impressions"`
	Reach       int64     `json:"reach" db:"reach"`
	Frequency   float64   `json:"frequency" db:"frequency"`
	CTR         float64   `json:"ctr" db:"ctr"`
	LinkCTR     float64   `json:"link_ctr" db:"link_ctr"`
	LinkClicks  int64     `json:"link_clicks" db:"link_clicks"`
	CPC         float64   `json:"cpc" db:"cpc"`
	CPM         float64   `json:"cpm" db:"cpm"`

	// Raw platform action lists, stored as JSON columns.
	Actions     []ActionCount `json:"actions" db:"actions"`
	ActionCosts []ActionCost  `json:"action_costs" db:"action_costs"`

	// Ranking diagnostics, normalized to signed integer scores where a
	// higher value is better and 0 means "average". Nil when the platform
	// did not report the diagnostic for the week.
	QualityRanking    *int `json:"quality_ranking" db:"quality_ranking"`
	EngagementRanking *int `json:"engagement_ranking" db:"engagement_ranking"`
	ConversionRanking *int `json:"conversion_ranking" db:"conversion_ranking"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// RawDailyMetric is a daily-granularity subset of RawWeeklyMetric, used
// only for delivery-pause detection inside an anomaly week.
type RawDailyMetric struct {
	ID          string    `json:"id" db:"id"`
	AccountID   string    `json:"account_id" db:"account_id"`
	AdID        string    `json:"ad_id" db:"ad_id"`
	Day         time.Time `json:"day" db:"day"`
	Spend       float64   `json:"spend" db:"spend"`
	Impressions int64     `json:"impressions" db:"impressions"`
}

// Ad is the reference row for a single ad, as synced from the platform.
type Ad struct {
	ID         string `json:"id" db:"id"`
	AccountID  string `json:"account_id" db:"account_id"`
	CampaignID string `json:"campaign_id" db:"campaign_id"`
	AdSetID    string `json:"ad_set_id" db:"ad_set_id"`
	Name       string `json:"name" db:"name"`
	Status     string `json:"status" db:"status"`
}

// AdSet carries the delivery-optimization intent used by the primary-family
// resolver.
type AdSet struct {
	ID               string `json:"id" db:"id"`
	AccountID        string `json:"account_id" db:"account_id"`
	CampaignID       string `json:"campaign_id" db:"campaign_id"`
	OptimizationGoal string `json:"optimization_goal" db:"optimization_goal"`
}
